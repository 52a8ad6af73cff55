package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"study-aggregator/config"
	"study-aggregator/models"
	"study-aggregator/providers"
	"study-aggregator/storage"
)

// LinkStats fasst die Linkage-Stufe zusammen.
type LinkStats struct {
	Sources      int          `json:"sources"`
	Collected    int          `json:"collected"`
	Dropped      int          `json:"dropped_by_normalizer"`
	Invalid      int          `json:"invalid"`
	Unorientable int          `json:"unorientable"`
	Distinct     int          `json:"distinct"`
	Groups       GroupStats   `json:"groups"`
	Cascade      CascadeStats `json:"cascade"`
	Backfilled   int64        `json:"backfilled"`
}

// Linkage ist das aufgelöste Ergebnis: je Studie genau ein bevorzugtes Ziel plus Gruppenbeziehungen.
type Linkage struct {
	Links  []models.OrientedLink
	Groups []models.LinkedStudyGroup
}

// LinkService sammelt die Querverweise aller Quellen und schreibt study_study_links und linked_study_groups neu.
type LinkService struct {
	exec          *storage.Executor
	collector     *LinkCollector
	codes         config.RelationshipCodes
	maxIterations int
	batchSize     int
	metrics       *Metrics
	logger        *zap.Logger
}

// NewLinkService erstellt den LinkService.
func NewLinkService(exec *storage.Executor, normalizer *IdentifierNormalizer, cfg *config.Config, rules *config.Rules, metrics *Metrics, logger *zap.Logger) *LinkService {
	return &LinkService{
		exec:          exec,
		collector:     NewLinkCollector(normalizer, cfg.LinkedRegistryIDType, cfg.MinSourceID, cfg.MaxSourceID, logger),
		codes:         rules.Relationships,
		maxIterations: cfg.CascadeMaxIterations,
		batchSize:     cfg.LinkBatchSize,
		metrics:       metrics,
		logger:        logger,
	}
}

// Run führt die komplette Linkage-Stufe aus. sources muss nach Präferenz sortiert sein.
func (s *LinkService) Run(ctx context.Context, sources []models.Source, open providers.Opener) (LinkStats, error) {
	start := time.Now()
	defer s.metrics.observeStage("linkage", start)

	raws, known, stats, err := s.collect(ctx, sources, open)
	if err != nil {
		return stats, err
	}
	linkage, stats, err := s.Resolve(raws, known, sources, stats)
	if err != nil {
		return stats, err
	}
	backfilled, err := s.persist(ctx, linkage)
	if err != nil {
		return stats, err
	}
	stats.Backfilled = backfilled
	s.metrics.recordLinks(stats)

	s.logger.Info("Linkage abgeschlossen",
		zap.Int("collected", stats.Collected), zap.Int("invalid", stats.Invalid),
		zap.Int("study_links", len(linkage.Links)), zap.Int("group_rows", len(linkage.Groups)),
		zap.Duration("duration", time.Since(start)))
	return stats, nil
}

func (s *LinkService) collect(ctx context.Context, sources []models.Source, open providers.Opener) ([]models.RawLink, map[int]map[string]bool, LinkStats, error) {
	var stats LinkStats
	known := make(map[int]map[string]bool, len(sources))
	var raws []models.RawLink
	for _, src := range sources {
		if !src.HasStudyTables {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, nil, stats, err
		}
		log := s.logger.With(zap.String("source", src.Name), zap.Int("source_id", src.ID))

		links, ids, dropped, err := s.collectSource(ctx, src, open)
		if err != nil {
			return nil, nil, stats, err
		}
		known[src.ID] = ids
		raws = append(raws, links...)
		stats.Sources++
		stats.Dropped += dropped
		log.Info("Links gesammelt", zap.Int("studies", len(ids)), zap.Int("links", len(links)), zap.Int("dropped", dropped))
	}
	stats.Collected = len(raws)
	return raws, known, stats, nil
}

func (s *LinkService) collectSource(ctx context.Context, src models.Source, open providers.Opener) ([]models.RawLink, map[string]bool, int, error) {
	p, err := open(src)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("open source %d: %w", src.ID, err)
	}
	defer p.Close()

	studies, err := p.Studies(ctx)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("studies of source %d: %w", src.ID, err)
	}
	ids := make(map[string]bool, len(studies))
	for _, st := range studies {
		ids[st.SdSid] = true
	}
	links, dropped, err := s.collector.CollectLinks(ctx, p)
	if err != nil {
		return nil, nil, 0, err
	}
	return links, ids, dropped, nil
}

// Resolve validiert, richtet aus, extrahiert Gruppen und löst Ketten auf. Es wird nichts geschrieben.
func (s *LinkService) Resolve(raws []models.RawLink, known map[int]map[string]bool, sources []models.Source, stats LinkStats) (*Linkage, LinkStats, error) {
	valid, invalid := ValidateLinks(raws, known)
	stats.Invalid = len(invalid)
	for _, l := range invalid {
		s.logger.Debug("Link auf unbekannte Studie",
			zap.Int("source_1", l.Source1), zap.String("sd_sid_1", l.SdSid1),
			zap.Int("source_2", l.Source2), zap.String("sd_sid_2", l.SdSid2))
	}

	prefs := models.Preferences(sources)
	distinct, rejected := OrientLinks(valid, prefs, s.logger)
	stats.Unorientable = rejected
	stats.Distinct = len(distinct)

	unregistered := make(map[int]bool)
	for _, src := range sources {
		if src.UnregisteredGroups {
			unregistered[src.ID] = true
		}
	}
	grouped := NewGroupExtractor(s.codes, unregistered, s.logger).Extract(distinct)
	stats.Groups = grouped.Stats

	resolved, cascade, err := ResolveChains(grouped.Remaining,
		NewChainCompleter(prefs, s.logger), NewCascadeResolver(s.maxIterations, s.logger))
	stats.Cascade = cascade
	if err != nil {
		s.logger.Error("Kaskade nicht konvergiert", zap.Int("rounds", cascade.Rounds), zap.Error(err))
		return nil, stats, err
	}
	return &Linkage{Links: resolved, Groups: grouped.Groups}, stats, nil
}

// persist ersetzt beide Linktabellen in einer Transaktion und übernimmt bereits bekannte study_ids.
func (s *LinkService) persist(ctx context.Context, linkage *Linkage) (int64, error) {
	rows := make([]models.StudyStudyLink, 0, len(linkage.Links))
	for _, l := range linkage.Links {
		rows = append(rows, models.StudyStudyLink{
			SourceID: l.SourceID, SdSid: l.SdSid,
			PreferredSourceID: l.PreferredSourceID, PreferredSdSid: l.PreferredSdSid,
		})
	}
	groups := make([]models.LinkedStudyGroup, len(linkage.Groups))
	copy(groups, linkage.Groups)

	var backfilled int64
	err := s.exec.Transaction(ctx, func(tx *storage.Executor) error {
		if _, err := tx.Execute(ctx, "DELETE FROM study_study_links"); err != nil {
			return err
		}
		if _, err := tx.Execute(ctx, "DELETE FROM linked_study_groups"); err != nil {
			return err
		}
		if _, err := tx.BulkInsert(ctx, &rows, s.batchSize); err != nil {
			return err
		}
		if _, err := tx.BulkInsert(ctx, &groups, s.batchSize); err != nil {
			return err
		}
		n, err := backfillLinkStudyIDs(ctx, tx, int64(s.batchSize))
		backfilled = n
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("persist linkage: %w", err)
	}
	return backfilled, nil
}
