package services

import (
	"sort"

	"study-aggregator/models"
)

// unionFind ist eine Disjoint-Set-Struktur über Studien-Schlüssel.
type unionFind struct {
	parent map[models.StudyKey]models.StudyKey
	rank   map[models.StudyKey]int
}

func newUnionFind() *unionFind {
	return &unionFind{
		parent: make(map[models.StudyKey]models.StudyKey),
		rank:   make(map[models.StudyKey]int),
	}
}

func (u *unionFind) add(k models.StudyKey) {
	if _, ok := u.parent[k]; !ok {
		u.parent[k] = k
	}
}

func (u *unionFind) find(k models.StudyKey) models.StudyKey {
	u.add(k)
	root := k
	for u.parent[root] != root {
		root = u.parent[root]
	}
	// Pfadkompression
	for k != root {
		next := u.parent[k]
		u.parent[k] = root
		k = next
	}
	return root
}

func (u *unionFind) union(a, b models.StudyKey) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	switch {
	case u.rank[ra] < u.rank[rb]:
		u.parent[ra] = rb
	case u.rank[ra] > u.rank[rb]:
		u.parent[rb] = ra
	default:
		u.parent[rb] = ra
		u.rank[ra]++
	}
}

// components liefert alle Komponenten mit sortierten Mitgliedern, geordnet nach ihrem kleinsten Mitglied.
func (u *unionFind) components() [][]models.StudyKey {
	byRoot := make(map[models.StudyKey][]models.StudyKey)
	for k := range u.parent {
		r := u.find(k)
		byRoot[r] = append(byRoot[r], k)
	}
	out := make([][]models.StudyKey, 0, len(byRoot))
	for _, members := range byRoot {
		sort.Slice(members, func(i, j int) bool { return members[i].Less(members[j]) })
		out = append(out, members)
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0].Less(out[j][0]) })
	return out
}
