package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"study-aggregator/config"
	"study-aggregator/models"
	"study-aggregator/providers"
	"study-aggregator/storage"
)

const assignOwnObjectIDSQL = `UPDATE data_object_ids SET object_id = id WHERE object_id IS NULL AND source_id = ?`

// parentChunk begrenzt die Länge der IN-Listen beim Laden vorhandener Objekte.
const parentChunk = 500

// ObjectStats zählt die Objektzuordnungen einer Quelle.
type ObjectStats struct {
	SourceID        int `json:"source_id"`
	Buckets         int `json:"buckets"`
	Incoming        int `json:"incoming"`
	Existing        int `json:"existing"`
	TitleDuplicates int `json:"title_duplicates"`
	URLDuplicates   int `json:"url_duplicates"`
	Exempt          int `json:"exempt"`
	New             int `json:"new"`
	Unresolved      int `json:"unresolved"`
}

// ObjectIdentityAssigner vergibt kanonische Objekt-IDs und erkennt Duplikate unter derselben kanonischen Studie.
type ObjectIdentityAssigner struct {
	exec      *storage.Executor
	types     config.ObjectTypeCodes
	buckets   []config.YearBucket
	batchSize int
	metrics   *Metrics
	logger    *zap.Logger
}

// NewObjectIdentityAssigner erstellt einen Assigner.
func NewObjectIdentityAssigner(exec *storage.Executor, rules *config.Rules, batchSize int, metrics *Metrics, logger *zap.Logger) *ObjectIdentityAssigner {
	return &ObjectIdentityAssigner{
		exec:      exec,
		types:     rules.ObjectTypes,
		buckets:   rules.YearBuckets,
		batchSize: batchSize,
		metrics:   metrics,
		logger:    logger,
	}
}

// Assign verarbeitet die Objekte der Quelle Jahres-Bucket für Jahres-Bucket.
// Die Studien der Quelle müssen bereits zugeordnet sein.
func (a *ObjectIdentityAssigner) Assign(ctx context.Context, p providers.Provider) (ObjectStats, error) {
	start := time.Now()
	defer a.metrics.observeStage("object_identity", start)

	src := p.Source()
	log := a.logger.With(zap.String("source", src.Name), zap.Int("source_id", src.ID))
	stats := ObjectStats{SourceID: src.ID}

	var parents []models.StudyID
	if err := a.exec.DB().WithContext(ctx).Where("source_id = ?", src.ID).Find(&parents).Error; err != nil {
		return stats, fmt.Errorf("load parent studies of source %d: %w", src.ID, err)
	}
	parentBySid := make(map[string]models.StudyID, len(parents))
	for _, st := range parents {
		parentBySid[st.SdSid] = st
	}

	var known []string
	if err := a.exec.DB().WithContext(ctx).Model(&models.ObjectID{}).Where("source_id = ?", src.ID).Pluck("sd_oid", &known).Error; err != nil {
		return stats, fmt.Errorf("load object ids of source %d: %w", src.ID, err)
	}
	existing := make(map[string]bool, len(known))
	for _, oid := range known {
		existing[oid] = true
	}

	for _, bucket := range a.buckets {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		records, err := p.DataObjects(ctx, bucket)
		if err != nil {
			return stats, fmt.Errorf("objects of source %d bucket %s: %w", src.ID, bucket.Name, err)
		}
		stats.Buckets++
		if len(records) == 0 {
			continue
		}
		before := stats
		if err := a.assignBatch(ctx, src, records, parentBySid, existing, &stats); err != nil {
			return stats, fmt.Errorf("objects of source %d bucket %s: %w", src.ID, bucket.Name, err)
		}
		log.Debug("Bucket verarbeitet",
			zap.String("bucket", bucket.Name), zap.Int("objects", len(records)),
			zap.Int("new", stats.New-before.New),
			zap.Int("duplicates", stats.TitleDuplicates+stats.URLDuplicates-before.TitleDuplicates-before.URLDuplicates))
	}
	a.metrics.recordObjects(stats)

	log.Info("Objekte zugeordnet",
		zap.Int("incoming", stats.Incoming), zap.Int("existing", stats.Existing),
		zap.Int("title_duplicates", stats.TitleDuplicates), zap.Int("url_duplicates", stats.URLDuplicates),
		zap.Int("new", stats.New), zap.Int("unresolved", stats.Unresolved))
	return stats, nil
}

type titleKey struct {
	parent     int
	objectType int
	title      string
}

type urlKey struct {
	parent int
	url    string
}

func (a *ObjectIdentityAssigner) assignBatch(ctx context.Context, src models.Source, records []providers.ObjectRecord,
	parents map[string]models.StudyID, existing map[string]bool, stats *ObjectStats) error {

	sorted := make([]providers.ObjectRecord, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].SdOid < sorted[j].SdOid })

	var candidates []providers.ObjectRecord
	var rows []models.ObjectID
	var candidateParents []int
	seenParent := make(map[int]bool)
	for _, rec := range sorted {
		stats.Incoming++
		if existing[rec.SdOid] {
			stats.Existing++
			continue
		}
		parent, ok := parents[rec.SdSid]
		if !ok || parent.StudyID == nil {
			stats.Unresolved++
			a.logger.Warn("Objekt übersprungen",
				zap.Int("source_id", src.ID), zap.String("sd_oid", rec.SdOid),
				zap.Error(fmt.Errorf("%w: %s", ErrParentStudyUnresolved, rec.SdSid)))
			continue
		}
		if parent.IsPreferred || a.neverDeduplicate(src, rec.ObjectTypeID) {
			if !parent.IsPreferred {
				stats.Exempt++
			}
			rows = append(rows, newObjectRow(src, rec, parent))
			continue
		}
		candidates = append(candidates, rec)
		if !seenParent[*parent.StudyID] {
			seenParent[*parent.StudyID] = true
			candidateParents = append(candidateParents, *parent.StudyID)
		}
	}

	return a.exec.Transaction(ctx, func(tx *storage.Executor) error {
		byTitle, byURL, err := loadCanonicalObjects(ctx, tx, src.ID, candidateParents)
		if err != nil {
			return err
		}
		for _, rec := range candidates {
			parent := parents[rec.SdSid]
			row := newObjectRow(src, rec, parent)
			pid := *parent.StudyID
			title := normalizeTitle(rec.Title)
			if id, ok := byTitle[titleKey{parent: pid, objectType: rec.ObjectTypeID, title: title}]; ok && title != "" {
				markDuplicate(&row, id)
				stats.TitleDuplicates++
			} else if id, ok := byURL[urlKey{parent: pid, url: strings.ToLower(rec.InstanceURL)}]; ok && rec.InstanceURL != "" {
				markDuplicate(&row, id)
				stats.URLDuplicates++
			}
			rows = append(rows, row)
		}
		sort.Slice(rows, func(i, j int) bool { return rows[i].SdOid < rows[j].SdOid })

		if _, err := tx.BulkInsert(ctx, &rows, a.batchSize); err != nil {
			return err
		}
		fresh := 0
		for _, r := range rows {
			existing[r.SdOid] = true
			if r.ObjectID == nil {
				fresh++
			}
		}
		stats.New += fresh
		if fresh == 0 {
			return nil
		}
		lo, hi := idRange(rows, func(r models.ObjectID) uint { return r.ID })
		_, err = tx.ExecuteInBatches(ctx, assignOwnObjectIDSQL, "id", lo, hi, int64(a.batchSize), src.ID)
		return err
	})
}

// neverDeduplicate: Registereinträge und -ergebnisse sowie Landing Pages von IPD-Repositories bleiben je Quelle eigenständig.
func (a *ObjectIdentityAssigner) neverDeduplicate(src models.Source, objectType int) bool {
	for _, t := range a.types.NeverDeduplicate {
		if t == objectType {
			return true
		}
	}
	if src.IPDRepository {
		for _, t := range a.types.IPDNeverDeduplicate {
			if t == objectType {
				return true
			}
		}
	}
	return false
}

// loadCanonicalObjects indiziert die Objekte anderer Quellen unter den gegebenen kanonischen Studien.
// Bei mehreren Treffern gewinnt das zuerst angelegte Objekt.
func loadCanonicalObjects(ctx context.Context, tx *storage.Executor, sourceID int, parents []int) (map[titleKey]int, map[urlKey]int, error) {
	byTitle := make(map[titleKey]int)
	byURL := make(map[urlKey]int)
	for lo := 0; lo < len(parents); lo += parentChunk {
		hi := lo + parentChunk
		if hi > len(parents) {
			hi = len(parents)
		}
		var objs []models.ObjectID
		err := tx.DB().WithContext(ctx).
			Where("parent_study_id IN ? AND source_id <> ? AND object_id IS NOT NULL", parents[lo:hi], sourceID).
			Order("id asc").
			Find(&objs).Error
		if err != nil {
			return nil, nil, fmt.Errorf("load canonical objects: %w", err)
		}
		for _, o := range objs {
			pid := *o.ParentStudyID
			tk := titleKey{parent: pid, objectType: o.ObjectTypeID, title: normalizeTitle(o.Title)}
			if _, ok := byTitle[tk]; !ok && tk.title != "" {
				byTitle[tk] = *o.ObjectID
			}
			uk := urlKey{parent: pid, url: strings.ToLower(o.InstanceURL)}
			if _, ok := byURL[uk]; !ok && o.InstanceURL != "" {
				byURL[uk] = *o.ObjectID
			}
		}
	}
	return byTitle, byURL, nil
}

func newObjectRow(src models.Source, rec providers.ObjectRecord, parent models.StudyID) models.ObjectID {
	return models.ObjectID{
		SourceID:            src.ID,
		SdOid:               rec.SdOid,
		ParentSdSid:         rec.SdSid,
		ParentStudyID:       parent.StudyID,
		IsPreferredStudy:    parent.IsPreferred,
		ObjectTypeID:        rec.ObjectTypeID,
		Title:               rec.Title,
		InstanceURL:         rec.InstanceURL,
		IsPreferredObject:   true,
		IsValidLink:         true,
		MatchStatus:         models.MatchNew,
		DatetimeOfDataFetch: rec.DatetimeOfDataFetch,
	}
}

func markDuplicate(row *models.ObjectID, objectID int) {
	id := objectID
	row.ObjectID = &id
	row.IsPreferredObject = false
	row.IsValidLink = false
	row.MatchStatus = models.MatchLinked
}

// normalizeTitle faltet Groß-/Kleinschreibung und Unicode-Varianten und fasst Leerraum zusammen.
func normalizeTitle(s string) string {
	folded := cases.Fold().String(norm.NFKC.String(s))
	return strings.Join(strings.Fields(folded), " ")
}
