package services

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"study-aggregator/models"
	"study-aggregator/providers"
)

// LinkCollector liest die Querverweise einer Quelle auf andere Registries.
type LinkCollector struct {
	normalizer *IdentifierNormalizer
	typeID     int
	minSource  int
	maxSource  int
	logger     *zap.Logger
}

// NewLinkCollector erstellt einen Collector für den Identifier-Typ typeID und den Quellbereich [minSource, maxSource].
func NewLinkCollector(n *IdentifierNormalizer, typeID, minSource, maxSource int, logger *zap.Logger) *LinkCollector {
	return &LinkCollector{normalizer: n, typeID: typeID, minSource: minSource, maxSource: maxSource, logger: logger}
}

// CollectLinks liefert die bereinigten RawLinks einer Quelle sowie die Zahl der vom Normalizer verworfenen Werte.
func (c *LinkCollector) CollectLinks(ctx context.Context, p providers.Provider) ([]models.RawLink, int, error) {
	src := p.Source()
	rows, err := p.LinkedIdentifiers(ctx, c.typeID, c.minSource, c.maxSource)
	if err != nil {
		return nil, 0, fmt.Errorf("linked identifiers of source %d: %w", src.ID, err)
	}

	seen := make(map[models.RawLink]bool, len(rows))
	var links []models.RawLink
	dropped := 0
	for _, row := range rows {
		if row.SourceID == nil || *row.SourceID == src.ID || *row.SourceID < c.minSource || *row.SourceID > c.maxSource {
			continue
		}
		target := *row.SourceID
		values := c.normalizer.Normalize(target, row.IdentifierValue)
		if len(values) == 0 {
			dropped++
			c.logger.Debug("Identifier verworfen",
				zap.Int("source_id", src.ID), zap.String("sd_sid", row.SdSid),
				zap.Int("target_source_id", target), zap.String("value", row.IdentifierValue))
			continue
		}
		for _, v := range values {
			l := models.RawLink{Source1: src.ID, SdSid1: row.SdSid, SdSid2: v, Source2: target}
			if seen[l] {
				continue
			}
			seen[l] = true
			links = append(links, l)
		}
	}
	sortRawLinks(links)
	return links, dropped, nil
}

// ValidateLinks trennt Links, deren beide Seiten bekannte Studien sind, von den übrigen.
func ValidateLinks(links []models.RawLink, known map[int]map[string]bool) (valid, invalid []models.RawLink) {
	for _, l := range links {
		if known[l.Source1][l.SdSid1] && known[l.Source2][l.SdSid2] {
			valid = append(valid, l)
		} else {
			invalid = append(invalid, l)
		}
	}
	return valid, invalid
}

// Orient richtet einen Link auf die bevorzugte Seite aus (niedrigeres Rating).
func Orient(raw models.RawLink, prefs map[int]int) (models.OrientedLink, error) {
	r1, ok1 := prefs[raw.Source1]
	r2, ok2 := prefs[raw.Source2]
	switch {
	case !ok1:
		return models.OrientedLink{}, fmt.Errorf("%w: %d", ErrUnknownSource, raw.Source1)
	case !ok2:
		return models.OrientedLink{}, fmt.Errorf("%w: %d", ErrUnknownSource, raw.Source2)
	case r1 == r2:
		return models.OrientedLink{}, fmt.Errorf("%w: sources %d and %d rated %d", ErrEqualPreference, raw.Source1, raw.Source2, r1)
	case r1 > r2:
		return models.OrientedLink{
			SourceID: raw.Source1, SdSid: raw.SdSid1,
			PreferredSourceID: raw.Source2, PreferredSdSid: raw.SdSid2,
		}, nil
	default:
		return models.OrientedLink{
			SourceID: raw.Source2, SdSid: raw.SdSid2,
			PreferredSourceID: raw.Source1, PreferredSdSid: raw.SdSid1,
		}, nil
	}
}

// OrientLinks richtet alle Links aus und liefert sie dedupliziert; nicht ausrichtbare Links werden geloggt und gezählt.
func OrientLinks(raws []models.RawLink, prefs map[int]int, logger *zap.Logger) ([]models.OrientedLink, int) {
	out := make([]models.OrientedLink, 0, len(raws))
	rejected := 0
	for _, raw := range raws {
		l, err := Orient(raw, prefs)
		if err != nil {
			rejected++
			logger.Warn("Link nicht ausrichtbar",
				zap.Int("source_1", raw.Source1), zap.String("sd_sid_1", raw.SdSid1),
				zap.Int("source_2", raw.Source2), zap.String("sd_sid_2", raw.SdSid2),
				zap.Error(err))
			continue
		}
		out = append(out, l)
	}
	return DistinctLinks(out), rejected
}

// DistinctLinks sortiert und entfernt doppelte Zeilen.
func DistinctLinks(links []models.OrientedLink) []models.OrientedLink {
	if len(links) == 0 {
		return nil
	}
	sorted := make([]models.OrientedLink, len(links))
	copy(sorted, links)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Less(sorted[j]) })
	out := sorted[:1]
	for _, l := range sorted[1:] {
		if l != out[len(out)-1] {
			out = append(out, l)
		}
	}
	return out
}

func sortRawLinks(links []models.RawLink) {
	sort.Slice(links, func(i, j int) bool {
		a, b := links[i], links[j]
		if a.Source1 != b.Source1 {
			return a.Source1 < b.Source1
		}
		if a.SdSid1 != b.SdSid1 {
			return a.SdSid1 < b.SdSid1
		}
		if a.Source2 != b.Source2 {
			return a.Source2 < b.Source2
		}
		return a.SdSid2 < b.SdSid2
	})
}
