package models

import "fmt"

// StudyKey identifiziert eine Studie innerhalb ihrer Quelle.
type StudyKey struct {
	SourceID int
	SdSid    string
}

func (k StudyKey) String() string {
	return fmt.Sprintf("%d:%s", k.SourceID, k.SdSid)
}

// Less ordnet Schlüssel deterministisch (Quelle, dann sd_sid).
func (k StudyKey) Less(o StudyKey) bool {
	if k.SourceID != o.SourceID {
		return k.SourceID < o.SourceID
	}
	return k.SdSid < o.SdSid
}

// RawLink ist eine ungeprüfte Behauptung: sd_sid_1 in source_1 ist dieselbe Studie wie sd_sid_2 in source_2.
type RawLink struct {
	Source1 int    `json:"source_1"`
	SdSid1  string `json:"sd_sid_1"`
	SdSid2  string `json:"sd_sid_2"`
	Source2 int    `json:"source_2"`
}

// OrientedLink zeigt immer von der weniger bevorzugten auf die bevorzugte Seite.
type OrientedLink struct {
	SourceID          int    `json:"source_id"`
	SdSid             string `json:"sd_sid"`
	PreferredSourceID int    `json:"preferred_source_id"`
	PreferredSdSid    string `json:"preferred_sd_sid"`
}

// Key ist die nicht bevorzugte Seite.
func (l OrientedLink) Key() StudyKey {
	return StudyKey{SourceID: l.SourceID, SdSid: l.SdSid}
}

// Target ist die bevorzugte Seite.
func (l OrientedLink) Target() StudyKey {
	return StudyKey{SourceID: l.PreferredSourceID, SdSid: l.PreferredSdSid}
}

// Less ordnet Links deterministisch.
func (l OrientedLink) Less(o OrientedLink) bool {
	if l.Key() != o.Key() {
		return l.Key().Less(o.Key())
	}
	return l.Target().Less(o.Target())
}

// StudyStudyLink ist das dauerhafte Ergebnis der Kaskadenauflösung.
type StudyStudyLink struct {
	ID                uint   `json:"id" gorm:"primaryKey"`
	SourceID          int    `json:"source_id" gorm:"index:idx_ssl_study,unique;not null"`
	SdSid             string `json:"sd_sid" gorm:"index:idx_ssl_study,unique;size:250;not null"`
	PreferredSdSid    string `json:"preferred_sd_sid" gorm:"index:idx_ssl_preferred;size:250;not null"`
	PreferredSourceID int    `json:"preferred_source_id" gorm:"index:idx_ssl_preferred;not null"`
	StudyID           *int   `json:"study_id,omitempty" gorm:"index"`
}

// TableName gibt den expliziten Tabellennamen für GORM an.
func (StudyStudyLink) TableName() string { return "study_study_links" }

// LinkedStudyGroup hält eine Beziehung zwischen gruppierender Studie und Mitglied.
type LinkedStudyGroup struct {
	ID             uint   `json:"id" gorm:"primaryKey"`
	SourceID       int    `json:"source_id" gorm:"index:idx_lsg_study;not null"`
	SdSid          string `json:"sd_sid" gorm:"index:idx_lsg_study;size:250;not null"`
	RelationshipID int    `json:"relationship_id" gorm:"not null"`
	TargetSourceID int    `json:"target_source_id" gorm:"not null"`
	TargetSdSid    string `json:"target_sd_sid" gorm:"size:250;not null"`
}

// TableName gibt den expliziten Tabellennamen für GORM an.
func (LinkedStudyGroup) TableName() string { return "linked_study_groups" }
