package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRules []byte

// SourceDef beschreibt eine Quell-Registry, wie sie in der sources-Tabelle angelegt wird.
type SourceDef struct {
	ID                 int    `yaml:"id"`
	Name               string `yaml:"name"`
	PreferenceRating   int    `yaml:"preference_rating"`
	DatabaseName       string `yaml:"database_name"`
	HasStudyTables     bool   `yaml:"has_study_tables"`
	HasObjectTables    bool   `yaml:"has_object_tables"`
	IPDRepository      bool   `yaml:"ipd_repository"`
	UnregisteredGroups bool   `yaml:"unregistered_groups"`
}

// Replacement ersetzt einen Teilstring der Großschreibung durch die kanonische Schreibweise.
type Replacement struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// IdentifierRule ist die deklarative Bereinigungsregel für die IDs einer Ziel-Registry.
type IdentifierRule struct {
	SourceID         int           `yaml:"source_id"`
	Prefix           string        `yaml:"prefix"`
	Width            int           `yaml:"width"`
	Pattern          string        `yaml:"pattern"`
	Strip            string        `yaml:"strip"`
	Split            string        `yaml:"split"`
	Noise            []string      `yaml:"noise"`
	Placeholders     []string      `yaml:"placeholders"`
	Restore          []Replacement `yaml:"restore"`
	LowerSuffixAfter string        `yaml:"lower_suffix_after"`
}

// RelationshipCodes sind die Beziehungstypen für gruppierte Studien.
type RelationshipCodes struct {
	UnregisteredGroupForward int `yaml:"unregistered_group_forward"`
	UnregisteredGroupReverse int `yaml:"unregistered_group_reverse"`
	RegisteredGroupForward   int `yaml:"registered_group_forward"`
	RegisteredGroupReverse   int `yaml:"registered_group_reverse"`
	Related                  int `yaml:"related"`
}

// ObjectTypeCodes legt fest, welche Objekttypen nie dedupliziert werden.
type ObjectTypeCodes struct {
	RegistryEntry       int   `yaml:"registry_entry"`
	RegistryResults     int   `yaml:"registry_results"`
	LandingPage         int   `yaml:"landing_page"`
	NeverDeduplicate    []int `yaml:"never_deduplicate"`
	IPDNeverDeduplicate []int `yaml:"ipd_never_deduplicate"`
}

// YearBucket grenzt Objekte nach Publikationsjahr ab (Grenzen inklusive).
type YearBucket struct {
	Name     string `yaml:"name"`
	From     *int   `yaml:"from"`
	To       *int   `yaml:"to"`
	NullYear bool   `yaml:"null_year"`
}

// Contains meldet, ob ein Jahr (nil = unbekannt) in den Bucket fällt.
func (b YearBucket) Contains(year *int) bool {
	if year == nil {
		return b.NullYear
	}
	if b.NullYear && b.From == nil && b.To == nil {
		return false
	}
	if b.From != nil && *year < *b.From {
		return false
	}
	if b.To != nil && *year > *b.To {
		return false
	}
	return true
}

// Rules bündelt alle deklarativen Tabellen des Linkage-Laufs.
type Rules struct {
	Sources         []SourceDef       `yaml:"sources"`
	IdentifierRules []IdentifierRule  `yaml:"identifier_rules"`
	Relationships   RelationshipCodes `yaml:"relationships"`
	ObjectTypes     ObjectTypeCodes   `yaml:"object_types"`
	YearBuckets     []YearBucket      `yaml:"year_buckets"`
}

// LoadRules liest die Regeln aus path; ohne Pfad werden die eingebetteten Standardregeln verwendet.
func LoadRules(path string) (*Rules, error) {
	data := defaultRules
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read rules file: %w", err)
		}
		data = b
	}
	return ParseRules(data)
}

// ParseRules dekodiert und validiert eine YAML-Regeldatei.
func ParseRules(data []byte) (*Rules, error) {
	var r Rules
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode rules: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Validate prüft die Regeln auf Widersprüche.
func (r *Rules) Validate() error {
	if len(r.Sources) == 0 {
		return errors.New("rules: no sources configured")
	}
	ids := make(map[int]bool, len(r.Sources))
	for _, s := range r.Sources {
		if s.ID <= 0 {
			return fmt.Errorf("rules: source %q has no id", s.Name)
		}
		if ids[s.ID] {
			return fmt.Errorf("rules: duplicate source id %d", s.ID)
		}
		ids[s.ID] = true
		if s.PreferenceRating <= 0 {
			return fmt.Errorf("rules: source %d needs a positive preference_rating", s.ID)
		}
	}
	seen := make(map[int]bool, len(r.IdentifierRules))
	for _, ir := range r.IdentifierRules {
		if !ids[ir.SourceID] {
			return fmt.Errorf("rules: identifier rule for unknown source %d", ir.SourceID)
		}
		if seen[ir.SourceID] {
			return fmt.Errorf("rules: duplicate identifier rule for source %d", ir.SourceID)
		}
		seen[ir.SourceID] = true
		if ir.Pattern == "" {
			return fmt.Errorf("rules: identifier rule for source %d has no pattern", ir.SourceID)
		}
		if _, err := regexp.Compile(ir.Pattern); err != nil {
			return fmt.Errorf("rules: pattern for source %d: %w", ir.SourceID, err)
		}
	}
	if r.Relationships.Related == 0 {
		return errors.New("rules: relationships.related must be set")
	}
	return nil
}

// SourcesByPreference liefert die Quellen vom bevorzugten zur am wenigsten bevorzugten.
func (r *Rules) SourcesByPreference() []SourceDef {
	out := make([]SourceDef, len(r.Sources))
	copy(out, r.Sources)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].PreferenceRating != out[j].PreferenceRating {
			return out[i].PreferenceRating < out[j].PreferenceRating
		}
		return out[i].ID < out[j].ID
	})
	return out
}
