package services

import (
	"sort"

	"go.uber.org/zap"

	"study-aggregator/config"
	"study-aggregator/models"
)

// GroupStats zählt die Ergebnisse der Gruppen-Extraktion.
type GroupStats struct {
	LeftGroups        int `json:"left_groups"`
	RightGroups       int `json:"right_groups"`
	ComplexGroups     int `json:"complex_groups"`
	ConsumedLinks     int `json:"consumed_links"`
	SimpleRelations   int `json:"simple_relations"`
	ComplexComponents int `json:"complex_components"`
	RelatedRelations  int `json:"related_relations"`
}

// GroupResult ist das Ergebnis von Extract.
type GroupResult struct {
	Groups    []models.LinkedStudyGroup
	Remaining []models.OrientedLink
	Stats     GroupStats
}

// GroupExtractor trennt 1:n-Beziehungen (gruppierte Studien) von echten Äquivalenzen.
type GroupExtractor struct {
	codes        config.RelationshipCodes
	unregistered map[int]bool
	logger       *zap.Logger
}

// NewGroupExtractor erstellt einen Extractor; unregistered enthält die Quellen, deren
// gruppierende Einträge keine eigenständig registrierten Studien sind.
func NewGroupExtractor(codes config.RelationshipCodes, unregistered map[int]bool, logger *zap.Logger) *GroupExtractor {
	return &GroupExtractor{codes: codes, unregistered: unregistered, logger: logger}
}

type sideKey struct {
	study models.StudyKey
	other int
}

// studyGroup ist eine gruppierende Studie mit ihren Zeilen.
type studyGroup struct {
	grouping models.StudyKey
	left     bool
	rows     []models.OrientedLink
	complex  bool
}

func (g *studyGroup) member(l models.OrientedLink) models.StudyKey {
	if g.left {
		return l.Target()
	}
	return l.Key()
}

// Extract erwartet deduplizierte Links und liefert Gruppenbeziehungen sowie die verbleibenden Links.
func (e *GroupExtractor) Extract(links []models.OrientedLink) GroupResult {
	var stats GroupStats

	// Gruppierende Studien finden
	left := make(map[sideKey][]models.OrientedLink)
	right := make(map[sideKey][]models.OrientedLink)
	for _, l := range links {
		lk := sideKey{study: l.Key(), other: l.PreferredSourceID}
		left[lk] = append(left[lk], l)
		rk := sideKey{study: l.Target(), other: l.SourceID}
		right[rk] = append(right[rk], l)
	}
	var groups []*studyGroup
	leftMembers := make(map[models.StudyKey]bool)
	rightMembers := make(map[models.StudyKey]bool)
	for k, rows := range left {
		if len(rows) < 2 {
			continue
		}
		g := &studyGroup{grouping: k.study, left: true, rows: rows}
		groups = append(groups, g)
		for _, r := range rows {
			leftMembers[g.member(r)] = true
		}
		stats.LeftGroups++
	}
	for k, rows := range right {
		if len(rows) < 2 {
			continue
		}
		g := &studyGroup{grouping: k.study, left: false, rows: rows}
		groups = append(groups, g)
		for _, r := range rows {
			rightMembers[g.member(r)] = true
		}
		stats.RightGroups++
	}
	if len(groups) == 0 {
		return GroupResult{Remaining: links, Stats: stats}
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].grouping != groups[j].grouping {
			return groups[i].grouping.Less(groups[j].grouping)
		}
		return groups[i].left && !groups[j].left
	})

	// Komplexe Gruppen markieren
	for _, g := range groups {
		if g.left {
			g.complex = rightMembers[g.grouping]
		} else {
			g.complex = leftMembers[g.grouping]
		}
		if g.complex {
			stats.ComplexGroups++
		}
	}

	consumed := make(map[models.OrientedLink]bool)
	relations := make(map[models.LinkedStudyGroup]bool)
	uf := newUnionFind()
	complexRows := 0

	// Einfache Gruppen
	for _, g := range groups {
		for _, r := range g.rows {
			consumed[r] = true
		}
		if g.complex {
			for _, r := range g.rows {
				uf.union(r.Key(), r.Target())
				complexRows++
			}
			continue
		}
		forward, reverse := e.codes.RegisteredGroupForward, e.codes.RegisteredGroupReverse
		if e.unregistered[g.grouping.SourceID] {
			forward, reverse = e.codes.UnregisteredGroupForward, e.codes.UnregisteredGroupReverse
		}
		for _, r := range g.rows {
			m := g.member(r)
			relations[relation(g.grouping, forward, m)] = true
			relations[relation(m, reverse, g.grouping)] = true
		}
	}
	stats.SimpleRelations = len(relations)

	// Komplexe Gruppen: alle Paare einer Komponente
	if complexRows > 0 {
		for _, comp := range uf.components() {
			if len(comp) < 2 {
				continue
			}
			stats.ComplexComponents++
			for _, a := range comp {
				for _, b := range comp {
					if a != b {
						relations[relation(a, e.codes.Related, b)] = true
					}
				}
			}
		}
	}
	stats.RelatedRelations = len(relations) - stats.SimpleRelations

	result := GroupResult{Stats: stats}
	for _, l := range links {
		if !consumed[l] {
			result.Remaining = append(result.Remaining, l)
		}
	}
	result.Stats.ConsumedLinks = len(consumed)
	for rel := range relations {
		result.Groups = append(result.Groups, rel)
	}
	sortGroups(result.Groups)

	e.logger.Info("Gruppen extrahiert",
		zap.Int("left_groups", stats.LeftGroups), zap.Int("right_groups", stats.RightGroups),
		zap.Int("complex_groups", stats.ComplexGroups), zap.Int("consumed_links", result.Stats.ConsumedLinks),
		zap.Int("relations", len(result.Groups)))
	return result
}

func relation(from models.StudyKey, relationshipID int, to models.StudyKey) models.LinkedStudyGroup {
	return models.LinkedStudyGroup{
		SourceID: from.SourceID, SdSid: from.SdSid,
		RelationshipID: relationshipID,
		TargetSourceID: to.SourceID, TargetSdSid: to.SdSid,
	}
}

func sortGroups(groups []models.LinkedStudyGroup) {
	sort.Slice(groups, func(i, j int) bool {
		a, b := groups[i], groups[j]
		ak, bk := models.StudyKey{SourceID: a.SourceID, SdSid: a.SdSid}, models.StudyKey{SourceID: b.SourceID, SdSid: b.SdSid}
		if ak != bk {
			return ak.Less(bk)
		}
		if a.RelationshipID != b.RelationshipID {
			return a.RelationshipID < b.RelationshipID
		}
		at, bt := models.StudyKey{SourceID: a.TargetSourceID, SdSid: a.TargetSdSid}, models.StudyKey{SourceID: b.TargetSourceID, SdSid: b.TargetSdSid}
		return at.Less(bt)
	})
}
