package services

import (
	"context"

	"study-aggregator/config"
	"study-aggregator/models"
	"study-aggregator/providers"
)

// fakeProvider liefert Staging-Daten aus dem Speicher.
type fakeProvider struct {
	src         models.Source
	studies     []models.StagedStudy
	identifiers []models.StagedStudyIdentifier
	objects     []providers.ObjectRecord
	closed      bool
}

func (f *fakeProvider) Source() models.Source { return f.src }

func (f *fakeProvider) Studies(context.Context) ([]models.StagedStudy, error) {
	return f.studies, nil
}

func (f *fakeProvider) LinkedIdentifiers(_ context.Context, typeID, minSource, maxSource int) ([]models.StagedStudyIdentifier, error) {
	var out []models.StagedStudyIdentifier
	for _, id := range f.identifiers {
		if id.IdentifierTypeID != typeID || id.SourceID == nil {
			continue
		}
		if *id.SourceID < minSource || *id.SourceID > maxSource {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

func (f *fakeProvider) DataObjects(_ context.Context, bucket config.YearBucket) ([]providers.ObjectRecord, error) {
	var out []providers.ObjectRecord
	for _, o := range f.objects {
		if bucket.Contains(o.PublicationYear) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeProvider) Close() error {
	f.closed = true
	return nil
}

func studies(sids ...string) []models.StagedStudy {
	out := make([]models.StagedStudy, 0, len(sids))
	for _, s := range sids {
		out = append(out, models.StagedStudy{SdSid: s, DisplayTitle: "Study " + s})
	}
	return out
}

func linkedID(sdSid, value string, target int) models.StagedStudyIdentifier {
	return models.StagedStudyIdentifier{SdSid: sdSid, IdentifierValue: value, IdentifierTypeID: 11, SourceID: &target}
}

func oriented(src int, sid string, pref int, psid string) models.OrientedLink {
	return models.OrientedLink{SourceID: src, SdSid: sid, PreferredSourceID: pref, PreferredSdSid: psid}
}
