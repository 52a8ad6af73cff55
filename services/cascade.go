package services

import (
	"fmt"

	"go.uber.org/zap"

	"study-aggregator/models"
)

// CascadeStats zählt Kettenvervollständigung und Teleskopierung.
type CascadeStats struct {
	Rounds      int `json:"rounds"`
	Iterations  int `json:"iterations"`
	Synthesized int `json:"synthesized"`
	Conflicts   int `json:"conflicts"`
	Resolved    int `json:"resolved"`
}

// ChainCompleter verbindet mehrere bevorzugte Ziele einer Studie mit dem bevorzugtesten davon.
type ChainCompleter struct {
	prefs  map[int]int
	logger *zap.Logger
}

// NewChainCompleter erstellt einen Completer für die gegebenen Ratings.
func NewChainCompleter(prefs map[int]int, logger *zap.Logger) *ChainCompleter {
	return &ChainCompleter{prefs: prefs, logger: logger}
}

// Complete liefert die ergänzten Links sowie die Zahl synthetisierter und verworfener Zeilen.
// Ein Ziel mit demselben Rating wie das kanonische Ziel lässt sich nicht ausrichten; die Zeile entfällt.
func (c *ChainCompleter) Complete(links []models.OrientedLink) ([]models.OrientedLink, int, int) {
	targets := make(map[models.StudyKey][]models.StudyKey)
	for _, l := range links {
		targets[l.Key()] = append(targets[l.Key()], l.Target())
	}

	drop := make(map[models.OrientedLink]bool)
	var synthesized []models.OrientedLink
	for key, ts := range targets {
		if len(ts) < 2 {
			continue
		}
		best := ts[0]
		for _, t := range ts[1:] {
			if c.before(t, best) {
				best = t
			}
		}
		for _, t := range ts {
			if t == best {
				continue
			}
			if c.prefs[t.SourceID] == c.prefs[best.SourceID] {
				drop[models.OrientedLink{SourceID: key.SourceID, SdSid: key.SdSid, PreferredSourceID: t.SourceID, PreferredSdSid: t.SdSid}] = true
				c.logger.Warn("Mehrdeutige Präferenz, Link verworfen",
					zap.String("study", key.String()), zap.String("target", t.String()), zap.String("kept", best.String()))
				continue
			}
			synthesized = append(synthesized, models.OrientedLink{
				SourceID: t.SourceID, SdSid: t.SdSid,
				PreferredSourceID: best.SourceID, PreferredSdSid: best.SdSid,
			})
		}
	}
	if len(synthesized) == 0 && len(drop) == 0 {
		return links, 0, 0
	}

	out := make([]models.OrientedLink, 0, len(links)+len(synthesized))
	for _, l := range links {
		if !drop[l] {
			out = append(out, l)
		}
	}
	out = append(out, synthesized...)
	before := len(out)
	out = DistinctLinks(out)
	added := len(synthesized) - (before - len(out))
	return out, added, len(drop)
}

func (c *ChainCompleter) before(a, b models.StudyKey) bool {
	ra, rb := c.prefs[a.SourceID], c.prefs[b.SourceID]
	if ra != rb {
		return ra < rb
	}
	return a.Less(b)
}

// CascadeResolver zieht Präferenzketten zusammen, bis jedes Ziel eine Wurzel ist.
type CascadeResolver struct {
	maxIterations int
	logger        *zap.Logger
}

// NewCascadeResolver erstellt einen Resolver mit Iterationsgrenze.
func NewCascadeResolver(maxIterations int, logger *zap.Logger) *CascadeResolver {
	if maxIterations <= 0 {
		maxIterations = 50
	}
	return &CascadeResolver{maxIterations: maxIterations, logger: logger}
}

// Resolve teleskopiert die Links bis zum Fixpunkt und dedupliziert danach.
// Hat ein Ziel mehrere ausgehende Links, wird die Zeile aufgefächert.
func (r *CascadeResolver) Resolve(links []models.OrientedLink) ([]models.OrientedLink, int, error) {
	current := DistinctLinks(links)
	for iteration := 1; ; iteration++ {
		if iteration > r.maxIterations {
			return nil, iteration - 1, fmt.Errorf("%w after %d iterations", ErrCascadeNotConverged, r.maxIterations)
		}
		outgoing := make(map[models.StudyKey][]models.StudyKey, len(current))
		for _, l := range current {
			outgoing[l.Key()] = append(outgoing[l.Key()], l.Target())
		}

		changed := 0
		next := make([]models.OrientedLink, 0, len(current))
		for _, l := range current {
			hops, ok := outgoing[l.Target()]
			if !ok {
				next = append(next, l)
				continue
			}
			changed++
			for _, h := range hops {
				next = append(next, models.OrientedLink{
					SourceID: l.SourceID, SdSid: l.SdSid,
					PreferredSourceID: h.SourceID, PreferredSdSid: h.SdSid,
				})
			}
		}
		if changed == 0 {
			return current, iteration, nil
		}
		r.logger.Debug("Kaskade", zap.Int("iteration", iteration), zap.Int("rewritten", changed))
		current = DistinctLinks(next)
	}
}

// ResolveChains wechselt Kettenvervollständigung und Kaskade ab, bis jede Studie genau ein Ziel hat.
func ResolveChains(links []models.OrientedLink, completer *ChainCompleter, resolver *CascadeResolver) ([]models.OrientedLink, CascadeStats, error) {
	var stats CascadeStats
	current := links
	for round := 1; ; round++ {
		if round > resolver.maxIterations {
			return nil, stats, fmt.Errorf("%w: chain completion still open after %d rounds", ErrCascadeNotConverged, resolver.maxIterations)
		}
		stats.Rounds = round
		completed, added, dropped := completer.Complete(current)
		stats.Synthesized += added
		stats.Conflicts += dropped

		resolved, iterations, err := resolver.Resolve(completed)
		stats.Iterations += iterations
		if err != nil {
			return nil, stats, err
		}
		current = resolved
		if singleTarget(current) {
			break
		}
	}
	stats.Resolved = len(current)
	return current, stats, nil
}

func singleTarget(links []models.OrientedLink) bool {
	seen := make(map[models.StudyKey]bool, len(links))
	for _, l := range links {
		if seen[l.Key()] {
			return false
		}
		seen[l.Key()] = true
	}
	return true
}
