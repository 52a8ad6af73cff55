package storage

import (
	"context"
	"fmt"

	"study-aggregator/config"
	"study-aggregator/models"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// OpenCore verbindet sich mit der Core-Datenbank.
func OpenCore(cfg *config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("connect core database: %w", err)
	}
	return db, nil
}

// OpenSource verbindet sich mit der Staging-Datenbank einer Quelle.
func OpenSource(cfg *config.Config, src models.Source) (*gorm.DB, error) {
	if src.DatabaseName == "" {
		return nil, fmt.Errorf("source %d has no database name", src.ID)
	}
	db, err := gorm.Open(postgres.Open(cfg.SourceDSN(src.DatabaseName)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("connect source database %s: %w", src.DatabaseName, err)
	}
	return db, nil
}

// Migrate legt die dauerhaften Core-Tabellen an.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Source{},
		&models.StudyStudyLink{},
		&models.LinkedStudyGroup{},
		&models.StudyID{},
		&models.ObjectID{},
		&models.AggregationRun{},
	)
}

// SeedSources schreibt die konfigurierten Quellen in die sources-Tabelle (Upsert).
func SeedSources(db *gorm.DB, rules *config.Rules, log *zap.Logger) error {
	sources := make([]models.Source, 0, len(rules.Sources))
	for _, s := range rules.Sources {
		sources = append(sources, models.Source{
			ID:                 s.ID,
			Name:               s.Name,
			PreferenceRating:   s.PreferenceRating,
			DatabaseName:       s.DatabaseName,
			HasStudyTables:     s.HasStudyTables,
			HasObjectTables:    s.HasObjectTables,
			IPDRepository:      s.IPDRepository,
			UnregisteredGroups: s.UnregisteredGroups,
		})
	}
	err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "preference_rating", "database_name", "has_study_tables",
			"has_object_tables", "ipd_repository", "unregistered_groups",
		}),
	}).Create(&sources).Error
	if err != nil {
		return fmt.Errorf("seed sources: %w", err)
	}
	log.Info("Sources seeded", zap.Int("count", len(sources)))
	return nil
}

// LoadSources liefert alle Quellen, bevorzugte zuerst.
func LoadSources(ctx context.Context, db *gorm.DB) ([]models.Source, error) {
	var sources []models.Source
	if err := db.WithContext(ctx).Order("preference_rating asc, id asc").Find(&sources).Error; err != nil {
		return nil, fmt.Errorf("load sources: %w", err)
	}
	return sources, nil
}
