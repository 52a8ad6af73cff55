package services

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"study-aggregator/config"

	"golang.org/x/text/unicode/norm"
)

// junkTokens sind Platzhalter, die nie eine echte Registry-ID sind.
var junkTokens = map[string]bool{
	"UNKNOWN":        true,
	"N/A":            true,
	"NA":             true,
	"NONE":           true,
	"NIL":            true,
	"NULL":           true,
	"PENDING":        true,
	"TBD":            true,
	"TBA":            true,
	"NOT APPLICABLE": true,
	"NOT AVAILABLE":  true,
	"NOT REGISTERED": true,
	"NO":             true,
	"0":              true,
}

const defaultSplit = ",;|"

// identifierStep ist ein Schritt der Bereinigungs-Pipeline. Ein Wert kann in mehrere
// aufgeteilt oder verworfen werden (leeres Ergebnis).
type identifierStep struct {
	name  string
	apply func(v string) []string
}

type identifierRule struct {
	cfg     config.IdentifierRule
	pattern *regexp.Regexp
	steps   []identifierStep
}

// IdentifierNormalizer bereinigt Sekundär-IDs anhand der Regel der Ziel-Registry.
// Normalize ist rein, deterministisch und idempotent.
type IdentifierNormalizer struct {
	rules   map[int]*identifierRule
	generic []identifierStep
}

// NewIdentifierNormalizer kompiliert die Regeltabelle.
func NewIdentifierNormalizer(rules []config.IdentifierRule) (*IdentifierNormalizer, error) {
	n := &IdentifierNormalizer{
		rules: make(map[int]*identifierRule, len(rules)),
		generic: []identifierStep{
			{name: "fold", apply: foldGeneric},
			{name: "junk", apply: rejectJunk},
		},
	}
	for _, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("identifier rule %d: %w", r.SourceID, err)
		}
		rule := &identifierRule{cfg: r, pattern: re}
		rule.steps = rule.buildSteps()
		n.rules[r.SourceID] = rule
	}
	return n, nil
}

// HasRule meldet, ob für die Quelle eine eigene Regel existiert.
func (n *IdentifierNormalizer) HasRule(sourceID int) bool {
	_, ok := n.rules[sourceID]
	return ok
}

// Normalize liefert die bereinigten IDs für einen Rohwert; leer heißt verworfen.
func (n *IdentifierNormalizer) Normalize(sourceID int, raw string) []string {
	steps := n.generic
	if rule, ok := n.rules[sourceID]; ok {
		steps = rule.steps
	}
	values := []string{raw}
	for _, step := range steps {
		var next []string
		for _, v := range values {
			next = append(next, step.apply(v)...)
		}
		values = next
		if len(values) == 0 {
			return nil
		}
	}
	return dedupeStrings(values)
}

func (r *identifierRule) buildSteps() []identifierStep {
	cfg := r.cfg
	split := cfg.Split
	if split == "" {
		split = defaultSplit
	}
	prefix := strings.ToUpper(cfg.Prefix)
	noise := make([]string, 0, len(cfg.Noise))
	for _, t := range cfg.Noise {
		noise = append(noise, strings.ToUpper(t))
	}
	placeholders := make(map[string]bool, len(cfg.Placeholders))
	for _, p := range cfg.Placeholders {
		placeholders[strings.ToUpper(p)] = true
	}

	return []identifierStep{
		{name: "fold", apply: foldUpper},
		{name: "junk", apply: rejectJunk},
		{name: "noise", apply: func(v string) []string {
			for _, t := range noise {
				v = strings.ReplaceAll(v, t, " ")
			}
			return nonEmpty(strings.TrimSpace(v))
		}},
		{name: "split", apply: func(v string) []string {
			v = strings.ReplaceAll(v, " AND ", string(split[0]))
			parts := strings.FieldsFunc(v, func(c rune) bool { return strings.ContainsRune(split, c) })
			var out []string
			for _, p := range parts {
				out = append(out, nonEmpty(strings.TrimSpace(p))...)
			}
			return out
		}},
		{name: "strip", apply: func(v string) []string {
			if cfg.Strip == "" {
				return nonEmpty(v)
			}
			return nonEmpty(strings.Map(func(c rune) rune {
				if strings.ContainsRune(cfg.Strip, c) {
					return -1
				}
				return c
			}, v))
		}},
		{name: "prefix", apply: func(v string) []string {
			if prefix == "" {
				return []string{v}
			}
			for strings.HasPrefix(v, prefix+prefix) {
				v = v[len(prefix):]
			}
			if isDigits(v) {
				v = prefix + v
			}
			return []string{v}
		}},
		{name: "width", apply: func(v string) []string {
			if prefix == "" || cfg.Width <= 0 || !strings.HasPrefix(v, prefix) {
				return []string{v}
			}
			rest := v[len(prefix):]
			if isDigits(rest) && len(rest) < cfg.Width {
				v = prefix + strings.Repeat("0", cfg.Width-len(rest)) + rest
			}
			return []string{v}
		}},
		{name: "extract", apply: r.extract},
		{name: "restore", apply: func(v string) []string {
			for _, rep := range cfg.Restore {
				v = strings.ReplaceAll(v, rep.From, rep.To)
			}
			if cfg.LowerSuffixAfter != "" {
				if i := strings.Index(v, cfg.LowerSuffixAfter); i >= 0 {
					cut := i + len(cfg.LowerSuffixAfter)
					v = v[:cut] + strings.ToLower(v[cut:])
				}
			}
			return []string{v}
		}},
		{name: "sanity", apply: func(v string) []string {
			if placeholders[strings.ToUpper(v)] {
				return nil
			}
			return nonEmpty(v)
		}},
	}
}

// extract sucht alle vollständigen IDs im Wert; eine Ziffernfolge darf nicht mitten
// in einer längeren Ziffernfolge beginnen oder enden.
func (r *identifierRule) extract(v string) []string {
	var out []string
	for _, loc := range r.pattern.FindAllStringIndex(v, -1) {
		start, end := loc[0], loc[1]
		if start == end {
			continue
		}
		if start > 0 && isDigit(v[start]) && isDigit(v[start-1]) {
			continue
		}
		if end < len(v) && isDigit(v[end-1]) && isDigit(v[end]) {
			continue
		}
		out = append(out, v[start:end])
	}
	return out
}

func foldGeneric(v string) []string {
	v = norm.NFKC.String(v)
	return nonEmpty(strings.Join(strings.Fields(v), " "))
}

func foldUpper(v string) []string {
	v = strings.ToUpper(norm.NFKC.String(v))
	return nonEmpty(strings.Join(strings.Fields(v), " "))
}

func rejectJunk(v string) []string {
	key := strings.ToUpper(strings.TrimFunc(v, func(c rune) bool {
		return unicode.IsSpace(c) || c == '.' || c == ':' || c == '-'
	}))
	if key == "" || junkTokens[key] {
		return nil
	}
	return []string{v}
}

func nonEmpty(v string) []string {
	if v == "" {
		return nil
	}
	return []string{v}
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isDigit(s[i]) {
			return false
		}
	}
	return true
}

func dedupeStrings(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := values[:0]
	for _, v := range values {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
