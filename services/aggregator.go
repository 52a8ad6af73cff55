package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"study-aggregator/config"
	"study-aggregator/models"
	"study-aggregator/providers"
	"study-aggregator/storage"
)

// RunStats ist die Zusammenfassung eines Laufs, gespeichert als JSON in aggregation_runs.stats.
type RunStats struct {
	Links   LinkStats     `json:"links"`
	Studies []StudyStats  `json:"studies"`
	Objects []ObjectStats `json:"objects"`
}

// CanonicalStudy fasst alle Einträge einer kanonischen Studie zusammen.
type CanonicalStudy struct {
	StudyID   int              `json:"study_id"`
	Preferred models.StudyID   `json:"preferred"`
	Members   []models.StudyID `json:"members"`
}

// Aggregator orchestriert einen kompletten Lauf: Linkage, dann Studien- und Objektzuordnung je Quelle.
type Aggregator struct {
	Config   *config.Config
	DB       *gorm.DB
	Open     providers.Opener
	Uploader storage.ObjectUploader
	Metrics  *Metrics
	Logger   *zap.Logger

	Normalizer *IdentifierNormalizer

	exec    *storage.Executor
	links   *LinkService
	studies *StudyIdentityAssigner
	objects *ObjectIdentityAssigner
	mu      sync.Mutex
	running atomic.Bool
}

// NewAggregator erstellt den Aggregator. uploader darf nil sein; dann entfällt der Export.
func NewAggregator(cfg *config.Config, rules *config.Rules, db *gorm.DB, open providers.Opener, uploader storage.ObjectUploader, metrics *Metrics, logger *zap.Logger) (*Aggregator, error) {
	normalizer, err := NewIdentifierNormalizer(rules.IdentifierRules)
	if err != nil {
		return nil, err
	}
	exec := storage.NewExecutor(db, logger)
	return &Aggregator{
		Config:   cfg,
		DB:       db,
		Open:     open,
		Uploader: uploader,
		Metrics:  metrics,
		Logger:   logger,

		Normalizer: normalizer,
		exec:       exec,
		links:      NewLinkService(exec, normalizer, cfg, rules, metrics, logger),
		studies:    NewStudyIdentityAssigner(exec, cfg.LinkBatchSize, metrics, logger),
		objects:    NewObjectIdentityAssigner(exec, rules, cfg.LinkBatchSize, metrics, logger),
	}, nil
}

// Run führt einen Lauf aus und protokolliert ihn. Läuft bereits ein Lauf, kommt ErrRunInProgress zurück.
func (a *Aggregator) Run(ctx context.Context, trigger string) (*models.AggregationRun, error) {
	if !a.mu.TryLock() {
		return nil, ErrRunInProgress
	}
	defer a.mu.Unlock()
	return a.run(ctx, trigger)
}

// Start reserviert den Lauf synchron und führt ihn im Hintergrund aus; done wird danach aufgerufen.
// Läuft bereits ein Lauf, kommt sofort ErrRunInProgress zurück.
func (a *Aggregator) Start(ctx context.Context, trigger string, done func(*models.AggregationRun, error)) error {
	if !a.mu.TryLock() {
		return ErrRunInProgress
	}
	go func() {
		defer a.mu.Unlock()
		run, err := a.run(ctx, trigger)
		if done != nil {
			done(run, err)
		}
	}()
	return nil
}

func (a *Aggregator) run(ctx context.Context, trigger string) (*models.AggregationRun, error) {
	a.running.Store(true)
	defer a.running.Store(false)

	start := time.Now()
	run := &models.AggregationRun{Trigger: trigger, Status: models.RunRunning, StartedAt: start}
	if err := a.DB.WithContext(ctx).Create(run).Error; err != nil {
		return nil, fmt.Errorf("create run record: %w", err)
	}
	log := a.Logger.With(zap.Uint("run_id", run.ID), zap.String("trigger", trigger))
	log.Info("Aggregation gestartet")

	stats, runErr := a.execute(ctx, log)

	finished := time.Now()
	run.FinishedAt = &finished
	run.Status = models.RunSucceeded
	if runErr != nil {
		run.Status = models.RunFailed
		run.Error = runErr.Error()
	}
	if data, err := json.Marshal(stats); err == nil {
		run.Stats = data
	}
	if err := a.DB.WithContext(context.WithoutCancel(ctx)).Save(run).Error; err != nil {
		log.Error("Run record could not be saved", zap.Error(err))
	}
	a.Metrics.recordRun(run.Status, start)

	if runErr != nil {
		log.Error("Aggregation fehlgeschlagen", zap.Error(runErr), zap.Duration("duration", finished.Sub(start)))
		return run, runErr
	}
	if a.Uploader != nil {
		if err := a.export(ctx, run); err != nil {
			log.Warn("Export nach S3 fehlgeschlagen", zap.Error(err))
		}
	}
	log.Info("Aggregation abgeschlossen", zap.Duration("duration", finished.Sub(start)))
	return run, nil
}

// RunLinkage führt nur die Linkage-Stufe aus, ohne Lauf-Protokoll.
func (a *Aggregator) RunLinkage(ctx context.Context) (LinkStats, error) {
	if !a.mu.TryLock() {
		return LinkStats{}, ErrRunInProgress
	}
	defer a.mu.Unlock()
	a.running.Store(true)
	defer a.running.Store(false)

	sources, err := storage.LoadSources(ctx, a.DB)
	if err != nil {
		return LinkStats{}, err
	}
	return a.links.Run(ctx, sources, a.Open)
}

// Running meldet, ob gerade ein Lauf aktiv ist.
func (a *Aggregator) Running() bool { return a.running.Load() }

func (a *Aggregator) execute(ctx context.Context, log *zap.Logger) (RunStats, error) {
	var stats RunStats
	sources, err := storage.LoadSources(ctx, a.DB)
	if err != nil {
		return stats, err
	}
	if len(sources) == 0 {
		return stats, errors.New("no sources configured")
	}

	stats.Links, err = a.links.Run(ctx, sources, a.Open)
	if err != nil {
		return stats, fmt.Errorf("linkage: %w", err)
	}

	// Reihenfolge ist Voraussetzung: bevorzugte Quellen haben ihre IDs, bevor spätere Quellen verlinkt werden.
	for _, src := range sources {
		if !src.HasStudyTables {
			continue
		}
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		st, obj, err := a.assignSource(ctx, src)
		stats.Studies = append(stats.Studies, st)
		if src.HasObjectTables {
			stats.Objects = append(stats.Objects, obj)
		}
		if err != nil {
			return stats, err
		}
	}
	log.Info("Alle Quellen zugeordnet", zap.Int("sources", len(stats.Studies)))
	return stats, nil
}

func (a *Aggregator) assignSource(ctx context.Context, src models.Source) (StudyStats, ObjectStats, error) {
	p, err := a.Open(src)
	if err != nil {
		return StudyStats{SourceID: src.ID}, ObjectStats{SourceID: src.ID}, fmt.Errorf("open source %d: %w", src.ID, err)
	}
	defer p.Close()

	_, st, err := a.studies.Assign(ctx, p)
	if err != nil {
		return st, ObjectStats{SourceID: src.ID}, err
	}
	if !src.HasObjectTables {
		return st, ObjectStats{SourceID: src.ID}, nil
	}
	obj, err := a.objects.Assign(ctx, p)
	return st, obj, err
}

// export lädt Laufbericht und einen CSV-Schnappschuss von study_study_links hoch.
func (a *Aggregator) export(ctx context.Context, run *models.AggregationRun) error {
	prefix := fmt.Sprintf("runs/%d", run.ID)
	report, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return err
	}
	if _, err := storage.UploadFile(ctx, a.Uploader, a.Config, prefix+"/report.json", "application/json", report); err != nil {
		return fmt.Errorf("upload report: %w", err)
	}

	var links []models.StudyStudyLink
	if err := a.DB.WithContext(ctx).Order("id").Find(&links).Error; err != nil {
		return fmt.Errorf("load links: %w", err)
	}
	data, err := linksCSV(links)
	if err != nil {
		return err
	}
	link, err := storage.UploadFile(ctx, a.Uploader, a.Config, prefix+"/study_study_links.csv", "text/csv", data)
	if err != nil {
		return fmt.Errorf("upload links: %w", err)
	}
	a.Logger.Info("Laufbericht exportiert", zap.String("link", link), zap.Int("links", len(links)))
	return nil
}

func linksCSV(links []models.StudyStudyLink) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"source_id", "sd_sid", "preferred_source_id", "preferred_sd_sid", "study_id"}); err != nil {
		return nil, err
	}
	for _, l := range links {
		studyID := ""
		if l.StudyID != nil {
			studyID = strconv.Itoa(*l.StudyID)
		}
		rec := []string{strconv.Itoa(l.SourceID), l.SdSid, strconv.Itoa(l.PreferredSourceID), l.PreferredSdSid, studyID}
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// Runs liefert die letzten Läufe, neueste zuerst.
func (a *Aggregator) Runs(ctx context.Context, limit int) ([]models.AggregationRun, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []models.AggregationRun
	err := a.DB.WithContext(ctx).Order("id desc").Limit(limit).Find(&runs).Error
	return runs, err
}

// CanonicalStudy sucht die kanonische Studie zu (sourceID, sdSid) und alle ihre Einträge.
func (a *Aggregator) CanonicalStudy(ctx context.Context, sourceID int, sdSid string) (*CanonicalStudy, error) {
	var row models.StudyID
	if err := a.DB.WithContext(ctx).Where("source_id = ? AND sd_sid = ?", sourceID, sdSid).First(&row).Error; err != nil {
		return nil, err
	}
	if row.StudyID == nil {
		return nil, fmt.Errorf("%d:%s has no study id: %w", sourceID, sdSid, gorm.ErrRecordNotFound)
	}
	var members []models.StudyID
	err := a.DB.WithContext(ctx).
		Where("study_id = ?", *row.StudyID).
		Order("is_preferred desc, source_id asc, sd_sid asc").
		Find(&members).Error
	if err != nil {
		return nil, err
	}
	cs := &CanonicalStudy{StudyID: *row.StudyID, Members: members}
	for _, m := range members {
		if m.IsPreferred {
			cs.Preferred = m
			break
		}
	}
	return cs, nil
}

// LinkGroups liefert alle Gruppenbeziehungen, an denen (sourceID, sdSid) beteiligt ist.
func (a *Aggregator) LinkGroups(ctx context.Context, sourceID int, sdSid string) ([]models.LinkedStudyGroup, error) {
	var groups []models.LinkedStudyGroup
	err := a.DB.WithContext(ctx).
		Where("(source_id = ? AND sd_sid = ?) OR (target_source_id = ? AND target_sd_sid = ?)", sourceID, sdSid, sourceID, sdSid).
		Order("id").
		Find(&groups).Error
	return groups, err
}
