package services

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"study-aggregator/models"
	"study-aggregator/storage"
	"study-aggregator/storage/storagetest"
)

var (
	ctgSource    = models.Source{ID: 100120, Name: "ClinicalTrials.gov", PreferenceRating: 1, HasStudyTables: true, HasObjectTables: true}
	isrctnSource = models.Source{ID: 100126, Name: "ISRCTN", PreferenceRating: 2, HasStudyTables: true, HasObjectTables: true}
	yodaSource   = models.Source{ID: 101901, Name: "Yoda", PreferenceRating: 41, HasStudyTables: true, HasObjectTables: true, IPDRepository: true, UnregisteredGroups: true}
)

func seedLinks(t *testing.T, db *gorm.DB, links ...models.OrientedLink) {
	t.Helper()
	for _, l := range links {
		require.NoError(t, db.Create(&models.StudyStudyLink{
			SourceID: l.SourceID, SdSid: l.SdSid,
			PreferredSourceID: l.PreferredSourceID, PreferredSdSid: l.PreferredSdSid,
		}).Error)
	}
}

func statusBySid(assignments []StudyAssignment) map[string]models.MatchStatus {
	out := make(map[string]models.MatchStatus, len(assignments))
	for _, a := range assignments {
		out[a.SdSid] = a.Status
	}
	return out
}

func TestAssignStudiesNewLinkedExisting(t *testing.T) {
	ctx := context.Background()
	db := storagetest.NewCoreDB(t)
	exec := storage.NewExecutor(db, zap.NewNop())
	metrics := NewMetrics(prometheus.NewRegistry())
	assigner := NewStudyIdentityAssigner(exec, 2, metrics, zap.NewNop())

	seedLinks(t, db,
		oriented(isrctnSource.ID, "ISRCTN11223344", ctgSource.ID, "NCT01234567"),
		oriented(isrctnSource.ID, "ISRCTN99887766", ctgSource.ID, "NCT09999999"),
	)
	ctg := &fakeProvider{src: ctgSource, studies: studies("NCT07654321", "NCT01234567", "NCT05555555")}
	isrctn := &fakeProvider{src: isrctnSource, studies: studies("ISRCTN99887766", "ISRCTN11223344", "ISRCTN55667788")}

	first, stats, err := assigner.Assign(ctx, ctg)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.New)
	assert.Equal(t, int64(1), stats.Backfilled)
	require.Len(t, first, 3)
	assert.Equal(t, "NCT01234567", first[0].SdSid)
	for _, a := range first {
		assert.Equal(t, models.MatchNew, a.Status)
		assert.True(t, a.IsPreferred)
	}

	var ctgRow models.StudyID
	require.NoError(t, db.Where("source_id = ? AND sd_sid = ?", ctgSource.ID, "NCT01234567").First(&ctgRow).Error)
	require.NotNil(t, ctgRow.StudyID)
	assert.Equal(t, int(ctgRow.ID), *ctgRow.StudyID)

	second, stats, err := assigner.Assign(ctx, isrctn)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Linked)
	assert.Equal(t, 2, stats.New)
	assert.Equal(t, 1, stats.Pending)
	statuses := statusBySid(second)
	assert.Equal(t, models.MatchLinked, statuses["ISRCTN11223344"])
	assert.Equal(t, models.MatchNew, statuses["ISRCTN55667788"])
	assert.Equal(t, models.MatchNew, statuses["ISRCTN99887766"])
	for _, a := range second {
		if a.SdSid == "ISRCTN11223344" {
			assert.Equal(t, *ctgRow.StudyID, a.StudyID)
			assert.False(t, a.IsPreferred)
		}
	}

	again, stats, err := assigner.Assign(ctx, ctg)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Existing)
	assert.Zero(t, stats.New)
	for i, a := range again {
		assert.Equal(t, models.MatchExisting, a.Status)
		assert.Equal(t, first[i].StudyID, a.StudyID)
	}

	var missing int64
	require.NoError(t, db.Model(&models.StudyID{}).Where("study_id IS NULL").Count(&missing).Error)
	assert.Zero(t, missing)
	assert.Equal(t, 5.0, testutil.ToFloat64(metrics.StudyAssignments.WithLabelValues("new")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.StudyAssignments.WithLabelValues("linked")))
}

func TestAssignStudiesIsDeterministic(t *testing.T) {
	run := func(order ...string) []StudyAssignment {
		ctx := context.Background()
		db := storagetest.NewCoreDB(t)
		exec := storage.NewExecutor(db, zap.NewNop())
		assigner := NewStudyIdentityAssigner(exec, 10, nil, zap.NewNop())
		seedLinks(t, db, oriented(isrctnSource.ID, "ISRCTN11223344", ctgSource.ID, "NCT01234567"))

		_, _, err := assigner.Assign(ctx, &fakeProvider{src: ctgSource, studies: studies("NCT01234567", "NCT07654321")})
		require.NoError(t, err)
		out, _, err := assigner.Assign(ctx, &fakeProvider{src: isrctnSource, studies: studies(order...)})
		require.NoError(t, err)
		return out
	}

	a := run("ISRCTN11223344", "ISRCTN55667788", "ISRCTN22334455")
	b := run("ISRCTN55667788", "ISRCTN22334455", "ISRCTN11223344")
	assert.Equal(t, a, b)
}
