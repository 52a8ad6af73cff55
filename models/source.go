package models

// Source repräsentiert eine Quell-Registry, deren Studien aggregiert werden.
type Source struct {
	ID               int    `json:"id" gorm:"primaryKey;autoIncrement:false"`
	Name             string `json:"name"`
	PreferenceRating int    `json:"preference_rating" gorm:"not null;index"`
	DatabaseName     string `json:"database_name"`
	HasStudyTables   bool   `json:"has_study_tables"`
	HasObjectTables  bool   `json:"has_object_tables"`

	// IPD-Repositories (z.B. BioLINCC) liefern eigene Landing Pages je Studie.
	IPDRepository bool `json:"ipd_repository" gorm:"column:ipd_repository"`
	// Gruppierende Einträge dieser Quelle sind keine eigenständig registrierten Studien.
	UnregisteredGroups bool `json:"unregistered_groups"`
}

// TableName gibt den expliziten Tabellennamen für GORM an.
func (Source) TableName() string {
	return "sources"
}

// Preferences baut die Map source_id -> preference_rating.
func Preferences(sources []Source) map[int]int {
	prefs := make(map[int]int, len(sources))
	for _, s := range sources {
		prefs[s.ID] = s.PreferenceRating
	}
	return prefs
}
