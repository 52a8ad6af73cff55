package providers

import (
	"context"
	"time"

	"study-aggregator/config"
	"study-aggregator/models"
)

// ObjectRecord ist ein Datenobjekt einer Quelle inkl. erster Instanz-URL.
type ObjectRecord struct {
	SdOid               string
	SdSid               string
	ObjectTypeID        int
	Title               string
	InstanceURL         string
	PublicationYear     *int
	DatetimeOfDataFetch *time.Time
}

// Provider ist das Interface, über das jede Quelle ihre Staging-Daten liefert.
type Provider interface {
	// Source gibt die Stammdaten der Quelle zurück.
	Source() models.Source

	// Studies liefert alle Studien der Quelle, sortiert nach sd_sid.
	Studies(ctx context.Context) ([]models.StagedStudy, error)

	// LinkedIdentifiers liefert Sekundär-IDs vom Typ typeID, die auf eine andere Quelle im Bereich [minSource, maxSource] zeigen.
	LinkedIdentifiers(ctx context.Context, typeID, minSource, maxSource int) ([]models.StagedStudyIdentifier, error)

	// DataObjects liefert die Datenobjekte eines Jahres-Buckets, sortiert nach sd_oid.
	DataObjects(ctx context.Context, bucket config.YearBucket) ([]ObjectRecord, error)

	Close() error
}

// Opener öffnet den Provider einer Quelle.
type Opener func(src models.Source) (Provider, error)
