// Package staged liest die Staging-Tabellen einer Quell-Datenbank über GORM.
package staged

import (
	"context"
	"fmt"
	"time"

	"study-aggregator/config"
	"study-aggregator/models"
	"study-aggregator/providers"
	"study-aggregator/storage"

	"gorm.io/gorm"
)

// Provider implementiert providers.Provider für eine Staging-Datenbank.
type Provider struct {
	src    models.Source
	db     *gorm.DB
	closer func() error
}

// New erstellt einen Provider auf einer bereits geöffneten Verbindung.
func New(src models.Source, db *gorm.DB) *Provider {
	return &Provider{src: src, db: db}
}

// Opener öffnet für jede Quelle deren Staging-Datenbank.
func Opener(cfg *config.Config) providers.Opener {
	return func(src models.Source) (providers.Provider, error) {
		db, err := storage.OpenSource(cfg, src)
		if err != nil {
			return nil, err
		}
		p := New(src, db)
		p.closer = func() error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		}
		return p, nil
	}
}

func (p *Provider) Source() models.Source { return p.src }

func (p *Provider) Studies(ctx context.Context) ([]models.StagedStudy, error) {
	var studies []models.StagedStudy
	if err := p.db.WithContext(ctx).Order("sd_sid").Find(&studies).Error; err != nil {
		return nil, fmt.Errorf("read studies of source %d: %w", p.src.ID, err)
	}
	return studies, nil
}

func (p *Provider) LinkedIdentifiers(ctx context.Context, typeID, minSource, maxSource int) ([]models.StagedStudyIdentifier, error) {
	var ids []models.StagedStudyIdentifier
	err := p.db.WithContext(ctx).
		Where("identifier_type_id = ?", typeID).
		Where("source_id BETWEEN ? AND ?", minSource, maxSource).
		Where("source_id <> ?", p.src.ID).
		Where("identifier_value IS NOT NULL AND identifier_value <> ''").
		Order("sd_sid, id").
		Find(&ids).Error
	if err != nil {
		return nil, fmt.Errorf("read identifiers of source %d: %w", p.src.ID, err)
	}
	return ids, nil
}

type objectRow struct {
	SdOid               string
	SdSid               string
	ObjectTypeID        int
	DisplayTitle        string
	InstanceURL         *string
	PublicationYear     *int
	DatetimeOfDataFetch *time.Time
}

func (p *Provider) DataObjects(ctx context.Context, bucket config.YearBucket) ([]providers.ObjectRecord, error) {
	q := p.db.WithContext(ctx).
		Table("data_objects AS d").
		Select(`d.sd_oid, d.sd_sid, d.object_type_id, d.display_title, d.publication_year, d.datetime_of_data_fetch,
			(SELECT MIN(i.url) FROM object_instances i WHERE i.sd_oid = d.sd_oid) AS instance_url`)
	q = q.Where(bucketCondition(p.db, bucket))
	var rows []objectRow
	if err := q.Order("d.sd_oid").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("read data objects of source %d (%s): %w", p.src.ID, bucket.Name, err)
	}
	out := make([]providers.ObjectRecord, 0, len(rows))
	for _, r := range rows {
		rec := providers.ObjectRecord{
			SdOid:           r.SdOid,
			SdSid:           r.SdSid,
			ObjectTypeID:    r.ObjectTypeID,
			Title:           r.DisplayTitle,
			PublicationYear: r.PublicationYear,
		}
		if r.InstanceURL != nil {
			rec.InstanceURL = *r.InstanceURL
		}
		rec.DatetimeOfDataFetch = r.DatetimeOfDataFetch
		out = append(out, rec)
	}
	return out, nil
}

// bucketCondition bildet config.YearBucket.Contains als SQL-Bedingung ab.
func bucketCondition(db *gorm.DB, bucket config.YearBucket) *gorm.DB {
	if bucket.NullYear && bucket.From == nil && bucket.To == nil {
		return db.Where("d.publication_year IS NULL")
	}
	cond := db.Where("d.publication_year IS NOT NULL")
	if bucket.From != nil {
		cond = cond.Where("d.publication_year >= ?", *bucket.From)
	}
	if bucket.To != nil {
		cond = cond.Where("d.publication_year <= ?", *bucket.To)
	}
	if bucket.NullYear {
		return db.Where(cond).Or("d.publication_year IS NULL")
	}
	return cond
}

func (p *Provider) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer()
}
