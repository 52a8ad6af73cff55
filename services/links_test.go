package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"study-aggregator/models"
)

func TestOrientPrefersLowerRating(t *testing.T) {
	prefs := map[int]int{100: 1, 200: 5}
	want := oriented(200, "S1", 100, "T1")

	got, err := Orient(models.RawLink{Source1: 200, SdSid1: "S1", SdSid2: "T1", Source2: 100}, prefs)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	got, err = Orient(models.RawLink{Source1: 100, SdSid1: "T1", SdSid2: "S1", Source2: 200}, prefs)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestOrientRejectsAmbiguousLinks(t *testing.T) {
	prefs := map[int]int{100: 1, 200: 1}

	_, err := Orient(models.RawLink{Source1: 100, SdSid1: "a", SdSid2: "b", Source2: 200}, prefs)
	assert.True(t, errors.Is(err, ErrEqualPreference))

	_, err = Orient(models.RawLink{Source1: 100, SdSid1: "a", SdSid2: "b", Source2: 300}, prefs)
	assert.True(t, errors.Is(err, ErrUnknownSource))
}

func TestOrientLinksDeduplicatesBothDirections(t *testing.T) {
	prefs := map[int]int{100: 1, 200: 5, 300: 5}
	raws := []models.RawLink{
		{Source1: 200, SdSid1: "S1", SdSid2: "T1", Source2: 100},
		{Source1: 100, SdSid1: "T1", SdSid2: "S1", Source2: 200},
		{Source1: 200, SdSid1: "S2", SdSid2: "U1", Source2: 300},
	}

	links, rejected := OrientLinks(raws, prefs, zap.NewNop())
	assert.Equal(t, 1, rejected)
	assert.Equal(t, []models.OrientedLink{oriented(200, "S1", 100, "T1")}, links)
}

func TestOrientationInvariant(t *testing.T) {
	prefs := map[int]int{100: 1, 200: 2, 300: 3, 400: 4}
	var raws []models.RawLink
	for s1 := range prefs {
		for s2 := range prefs {
			if s1 != s2 {
				raws = append(raws, models.RawLink{Source1: s1, SdSid1: "x", SdSid2: "y", Source2: s2})
			}
		}
	}

	links, rejected := OrientLinks(raws, prefs, zap.NewNop())
	assert.Zero(t, rejected)
	for _, l := range links {
		assert.Less(t, prefs[l.PreferredSourceID], prefs[l.SourceID])
	}
}

func TestValidateLinksRejectsEitherSide(t *testing.T) {
	known := map[int]map[string]bool{
		100: {"T1": true},
		200: {"S1": true, "S2": true},
	}
	links := []models.RawLink{
		{Source1: 200, SdSid1: "S1", SdSid2: "T1", Source2: 100},
		{Source1: 200, SdSid1: "S2", SdSid2: "T9", Source2: 100},
		{Source1: 200, SdSid1: "S9", SdSid2: "T1", Source2: 100},
		{Source1: 200, SdSid1: "S1", SdSid2: "X1", Source2: 300},
	}

	valid, invalid := ValidateLinks(links, known)
	assert.Equal(t, links[:1], valid)
	assert.Len(t, invalid, 3)
}

func TestCollectLinksNormalizesAndDeduplicates(t *testing.T) {
	n := newTestNormalizer(t)
	own := 100126
	p := &fakeProvider{
		src: models.Source{ID: own, PreferenceRating: 2},
		identifiers: []models.StagedStudyIdentifier{
			linkedID("ISRCTN11223344", "nct 1234567", 100120),
			linkedID("ISRCTN11223344", "NCT01234567", 100120),
			linkedID("ISRCTN11223344", "N/A", 100120),
			linkedID("ISRCTN11223344", "ISRCTN11223344", own),
			linkedID("ISRCTN55667788", "2004-000123-45; NCT07654321", 100123),
		},
	}

	c := NewLinkCollector(n, 11, 100115, 101999, zap.NewNop())
	links, dropped, err := c.CollectLinks(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, 1, dropped)
	assert.Equal(t, []models.RawLink{
		{Source1: own, SdSid1: "ISRCTN11223344", SdSid2: "NCT01234567", Source2: 100120},
		{Source1: own, SdSid1: "ISRCTN55667788", SdSid2: "2004-000123-45", Source2: 100123},
	}, links)
}

// unfilteredProvider ignoriert den Quellbereich, wie es eine fehlerhafte Staging-Abfrage täte.
type unfilteredProvider struct {
	*fakeProvider
}

func (p unfilteredProvider) LinkedIdentifiers(context.Context, int, int, int) ([]models.StagedStudyIdentifier, error) {
	return p.identifiers, nil
}

func TestCollectLinksSkipsTargetsOutsideSourceRange(t *testing.T) {
	own := 100126
	p := unfilteredProvider{&fakeProvider{
		src: models.Source{ID: own, PreferenceRating: 2},
		identifiers: []models.StagedStudyIdentifier{
			linkedID("ISRCTN11223344", "NCT01234567", 100120),
			linkedID("ISRCTN11223344", "NCT07654321", 100000),
			linkedID("ISRCTN11223344", "NCT01111111", 102000),
		},
	}}

	c := NewLinkCollector(newTestNormalizer(t), 11, 100115, 101999, zap.NewNop())
	links, dropped, err := c.CollectLinks(context.Background(), p)
	require.NoError(t, err)

	assert.Zero(t, dropped)
	assert.Equal(t, []models.RawLink{
		{Source1: own, SdSid1: "ISRCTN11223344", SdSid2: "NCT01234567", Source2: 100120},
	}, links)
}
