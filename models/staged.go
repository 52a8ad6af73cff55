package models

import "time"

// Die folgenden Typen bilden die Staging-Tabellen einer Quell-Datenbank ab (nur lesend).

// StagedStudy ist eine Studie in der Staging-Datenbank einer Quelle.
type StagedStudy struct {
	SdSid               string     `gorm:"column:sd_sid;primaryKey"`
	DisplayTitle        string     `gorm:"column:display_title"`
	DatetimeOfDataFetch *time.Time `gorm:"column:datetime_of_data_fetch"`
}

func (StagedStudy) TableName() string { return "studies" }

// StagedStudyIdentifier ist ein Sekundär-Identifier einer Studie.
// SourceID ist die Registry, zu der der Identifier gehört.
type StagedStudyIdentifier struct {
	ID               uint   `gorm:"primaryKey"`
	SdSid            string `gorm:"column:sd_sid;index"`
	IdentifierValue  string `gorm:"column:identifier_value"`
	IdentifierTypeID int    `gorm:"column:identifier_type_id"`
	SourceID         *int   `gorm:"column:source_id"`
}

func (StagedStudyIdentifier) TableName() string { return "study_identifiers" }

// StagedDataObject ist ein Datenobjekt einer Studie.
type StagedDataObject struct {
	SdOid               string     `gorm:"column:sd_oid;primaryKey"`
	SdSid               string     `gorm:"column:sd_sid;index"`
	ObjectTypeID        int        `gorm:"column:object_type_id"`
	DisplayTitle        string     `gorm:"column:display_title"`
	PublicationYear     *int       `gorm:"column:publication_year"`
	DatetimeOfDataFetch *time.Time `gorm:"column:datetime_of_data_fetch"`
}

func (StagedDataObject) TableName() string { return "data_objects" }

// StagedObjectInstance ist eine abrufbare Instanz (URL) eines Datenobjekts.
type StagedObjectInstance struct {
	ID    uint   `gorm:"primaryKey"`
	SdOid string `gorm:"column:sd_oid;index"`
	URL   string `gorm:"column:url"`
}

func (StagedObjectInstance) TableName() string { return "object_instances" }
