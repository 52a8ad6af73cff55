package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"study-aggregator/models"
	"study-aggregator/providers"
	"study-aggregator/storage"
)

const backfillLinksSQL = `UPDATE study_study_links
SET study_id = (SELECT s.study_id FROM study_ids s
    WHERE s.source_id = study_study_links.preferred_source_id
      AND s.sd_sid = study_study_links.preferred_sd_sid)
WHERE study_id IS NULL
  AND EXISTS (SELECT 1 FROM study_ids s
    WHERE s.source_id = study_study_links.preferred_source_id
      AND s.sd_sid = study_study_links.preferred_sd_sid
      AND s.study_id IS NOT NULL)`

const assignOwnStudyIDSQL = `UPDATE study_ids SET study_id = id WHERE study_id IS NULL AND source_id = ?`

// StudyStats zählt die Zuordnungen einer Quelle.
type StudyStats struct {
	SourceID   int   `json:"source_id"`
	Incoming   int   `json:"incoming"`
	Existing   int   `json:"existing"`
	Linked     int   `json:"linked"`
	New        int   `json:"new"`
	Pending    int   `json:"pending_links"`
	Backfilled int64 `json:"backfilled"`
}

// StudyAssignment ist die Entscheidung für eine eingehende Studie.
type StudyAssignment struct {
	SdSid       string             `json:"sd_sid"`
	StudyID     int                `json:"study_id"`
	IsPreferred bool               `json:"is_preferred"`
	Status      models.MatchStatus `json:"match_status"`
}

// StudyIdentityAssigner vergibt kanonische Studien-IDs für eine Quelle.
// Die Quellen müssen vom bevorzugtesten zur am wenigsten bevorzugten abgearbeitet werden.
type StudyIdentityAssigner struct {
	exec      *storage.Executor
	batchSize int
	metrics   *Metrics
	logger    *zap.Logger
}

// NewStudyIdentityAssigner erstellt einen Assigner.
func NewStudyIdentityAssigner(exec *storage.Executor, batchSize int, metrics *Metrics, logger *zap.Logger) *StudyIdentityAssigner {
	return &StudyIdentityAssigner{exec: exec, batchSize: batchSize, metrics: metrics, logger: logger}
}

// Assign ordnet alle Studien der Quelle zu und ergänzt fehlende study_ids in study_study_links.
func (a *StudyIdentityAssigner) Assign(ctx context.Context, p providers.Provider) ([]StudyAssignment, StudyStats, error) {
	start := time.Now()
	defer a.metrics.observeStage("study_identity", start)

	src := p.Source()
	log := a.logger.With(zap.String("source", src.Name), zap.Int("source_id", src.ID))
	stats := StudyStats{SourceID: src.ID}

	incoming, err := p.Studies(ctx)
	if err != nil {
		return nil, stats, fmt.Errorf("studies of source %d: %w", src.ID, err)
	}
	sorted := make([]models.StagedStudy, len(incoming))
	copy(sorted, incoming)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].SdSid < sorted[j].SdSid })
	stats.Incoming = len(sorted)

	var assignments []StudyAssignment
	err = a.exec.Transaction(ctx, func(tx *storage.Executor) error {
		var existing []models.StudyID
		if err := tx.DB().WithContext(ctx).Where("source_id = ?", src.ID).Find(&existing).Error; err != nil {
			return fmt.Errorf("load study ids: %w", err)
		}
		known := make(map[string]models.StudyID, len(existing))
		for _, row := range existing {
			known[row.SdSid] = row
		}

		var links []models.StudyStudyLink
		if err := tx.DB().WithContext(ctx).Where("source_id = ?", src.ID).Find(&links).Error; err != nil {
			return fmt.Errorf("load study links: %w", err)
		}
		linked := make(map[string]models.StudyStudyLink, len(links))
		for _, l := range links {
			linked[l.SdSid] = l
		}

		assignments = make([]StudyAssignment, len(sorted))
		var rows []models.StudyID
		var rowIndex []int
		for i, st := range sorted {
			assignments[i].SdSid = st.SdSid
			if row, ok := known[st.SdSid]; ok {
				stats.Existing++
				assignments[i].Status = models.MatchExisting
				assignments[i].IsPreferred = row.IsPreferred
				if row.StudyID != nil {
					assignments[i].StudyID = *row.StudyID
				}
				continue
			}

			row := models.StudyID{SourceID: src.ID, SdSid: st.SdSid, DatetimeOfDataFetch: st.DatetimeOfDataFetch}
			l, ok := linked[st.SdSid]
			switch {
			case ok && l.StudyID != nil:
				row.StudyID = l.StudyID
				row.MatchStatus = models.MatchLinked
				stats.Linked++
			default:
				if ok {
					stats.Pending++
					log.Warn("Bevorzugte Studie noch ohne ID, Studie wird neu angelegt",
						zap.String("sd_sid", st.SdSid),
						zap.Int("preferred_source_id", l.PreferredSourceID),
						zap.String("preferred_sd_sid", l.PreferredSdSid))
				}
				row.IsPreferred = true
				row.MatchStatus = models.MatchNew
				stats.New++
			}
			rows = append(rows, row)
			rowIndex = append(rowIndex, i)
		}

		if _, err := tx.BulkInsert(ctx, &rows, a.batchSize); err != nil {
			return err
		}
		if len(rows) > 0 {
			lo, hi := idRange(rows, func(r models.StudyID) uint { return r.ID })
			if _, err := tx.ExecuteInBatches(ctx, assignOwnStudyIDSQL, "id", lo, hi, int64(a.batchSize), src.ID); err != nil {
				return err
			}
		}
		for j, row := range rows {
			as := &assignments[rowIndex[j]]
			as.Status = row.MatchStatus
			as.IsPreferred = row.IsPreferred
			if row.StudyID != nil {
				as.StudyID = *row.StudyID
			} else {
				as.StudyID = int(row.ID)
			}
		}

		n, err := backfillLinkStudyIDs(ctx, tx, int64(a.batchSize))
		stats.Backfilled = n
		return err
	})
	if err != nil {
		return nil, stats, fmt.Errorf("assign studies of source %d: %w", src.ID, err)
	}
	a.metrics.recordStudies(stats)

	log.Info("Studien zugeordnet",
		zap.Int("incoming", stats.Incoming), zap.Int("existing", stats.Existing),
		zap.Int("linked", stats.Linked), zap.Int("new", stats.New),
		zap.Int("pending", stats.Pending), zap.Int64("backfilled", stats.Backfilled))
	return assignments, stats, nil
}

// backfillLinkStudyIDs übernimmt die study_id der bevorzugten Seite in study_study_links.
func backfillLinkStudyIDs(ctx context.Context, exec *storage.Executor, batchSize int64) (int64, error) {
	lo, err := exec.MinID(ctx, "study_study_links")
	if err != nil {
		return 0, err
	}
	hi, err := exec.MaxID(ctx, "study_study_links")
	if err != nil {
		return 0, err
	}
	if hi == 0 {
		return 0, nil
	}
	return exec.ExecuteInBatches(ctx, backfillLinksSQL, "id", lo, hi, batchSize)
}

// idRange liefert kleinste und größte Primärschlüssel frisch eingefügter Zeilen.
func idRange[T any](rows []T, id func(T) uint) (int64, int64) {
	lo, hi := int64(id(rows[0])), int64(id(rows[0]))
	for _, r := range rows[1:] {
		v := int64(id(r))
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}
