// Package storagetest stellt In-Memory-Datenbanken für Tests bereit.
package storagetest

import (
	"testing"

	"study-aggregator/models"
	"study-aggregator/storage"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDB öffnet eine leere SQLite-In-Memory-Datenbank.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	// :memory: ist pro Verbindung; eine Verbindung hält alle Tabellen zusammen.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

// NewCoreDB öffnet eine Datenbank mit migrierten Core-Tabellen.
func NewCoreDB(t testing.TB) *gorm.DB {
	t.Helper()
	db := NewDB(t)
	if err := storage.Migrate(db); err != nil {
		t.Fatalf("migrate core: %v", err)
	}
	return db
}

// NewSourceDB öffnet eine Datenbank mit den Staging-Tabellen einer Quelle.
func NewSourceDB(t testing.TB) *gorm.DB {
	t.Helper()
	db := NewDB(t)
	err := db.AutoMigrate(
		&models.StagedStudy{},
		&models.StagedStudyIdentifier{},
		&models.StagedDataObject{},
		&models.StagedObjectInstance{},
	)
	if err != nil {
		t.Fatalf("migrate staging: %v", err)
	}
	return db
}
