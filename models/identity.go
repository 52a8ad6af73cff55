package models

import "time"

// MatchStatus hält fest, wie eine kanonische Identität zustande kam.
type MatchStatus int

const (
	MatchUnmatched MatchStatus = 0
	// (source_id, sd_id) war bereits bekannt
	MatchExisting MatchStatus = 1
	// Studien: über study_study_links zugeordnet; Objekte: Duplikat nach Titel/URL
	MatchLinked MatchStatus = 2
	// neue Entität, kanonische ID = eigene Zeilen-ID
	MatchNew MatchStatus = 3
)

func (m MatchStatus) String() string {
	switch m {
	case MatchExisting:
		return "existing"
	case MatchLinked:
		return "linked"
	case MatchNew:
		return "new"
	default:
		return "unmatched"
	}
}

// StudyID ist der kanonische Identitätssatz einer Studie einer Quelle.
type StudyID struct {
	ID                  uint        `json:"id" gorm:"primaryKey"`
	StudyID             *int        `json:"study_id,omitempty" gorm:"index"`
	SourceID            int         `json:"source_id" gorm:"uniqueIndex:idx_study_ids_source_sid;not null"`
	SdSid               string      `json:"sd_sid" gorm:"uniqueIndex:idx_study_ids_source_sid;size:250;not null"`
	IsPreferred         bool        `json:"is_preferred"`
	MatchStatus         MatchStatus `json:"match_status" gorm:"index"`
	DatetimeOfDataFetch *time.Time  `json:"datetime_of_data_fetch,omitempty"`
}

// TableName gibt den expliziten Tabellennamen für GORM an.
func (StudyID) TableName() string { return "study_ids" }

// ObjectID ist der kanonische Identitätssatz eines Datenobjekts (Dokument, Datensatz, Publikation).
type ObjectID struct {
	ID                  uint        `json:"id" gorm:"primaryKey"`
	ObjectID            *int        `json:"object_id,omitempty" gorm:"index"`
	SourceID            int         `json:"source_id" gorm:"uniqueIndex:idx_object_ids_source_oid;not null"`
	SdOid               string      `json:"sd_oid" gorm:"uniqueIndex:idx_object_ids_source_oid;size:500;not null"`
	ParentSdSid         string      `json:"parent_sd_sid" gorm:"size:250"`
	ParentStudyID       *int        `json:"parent_study_id,omitempty" gorm:"index"`
	IsPreferredStudy    bool        `json:"is_preferred_study"`
	ObjectTypeID        int         `json:"object_type_id"`
	Title               string      `json:"title"`
	InstanceURL         string      `json:"instance_url"`
	IsPreferredObject   bool        `json:"is_preferred_object"`
	IsValidLink         bool        `json:"is_valid_link"`
	MatchStatus         MatchStatus `json:"match_status" gorm:"index"`
	DatetimeOfDataFetch *time.Time  `json:"datetime_of_data_fetch,omitempty"`
}

// TableName gibt den expliziten Tabellennamen für GORM an.
func (ObjectID) TableName() string { return "data_object_ids" }
