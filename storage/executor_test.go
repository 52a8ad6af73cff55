package storage_test

import (
	"context"
	"testing"

	"study-aggregator/config"
	"study-aggregator/models"
	"study-aggregator/storage"
	"study-aggregator/storage/storagetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newExecutor(t *testing.T) *storage.Executor {
	return storage.NewExecutor(storagetest.NewCoreDB(t), zap.NewNop())
}

func seedLinks(t *testing.T, exec *storage.Executor, n int) {
	rows := make([]models.StudyStudyLink, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, models.StudyStudyLink{
			SourceID:          200,
			SdSid:             string(rune('a'+i%26)) + string(rune('a'+i/26)),
			PreferredSourceID: 100,
			PreferredSdSid:    "T1",
		})
	}
	inserted, err := exec.BulkInsert(context.Background(), &rows, 7)
	require.NoError(t, err)
	require.EqualValues(t, n, inserted)
	for _, r := range rows {
		require.NotZero(t, r.ID, "primary keys are written back")
	}
}

func TestExecuteDistinguishesZeroRowsFromFailure(t *testing.T) {
	ctx := context.Background()
	exec := newExecutor(t)

	n, err := exec.Execute(ctx, "UPDATE study_ids SET match_status = 1 WHERE source_id = ?", 42)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = exec.Execute(ctx, "UPDATE no_such_table SET x = 1")
	assert.Error(t, err)
}

func TestExecuteInBatchesCoversWholeRange(t *testing.T) {
	ctx := context.Background()
	exec := newExecutor(t)
	seedLinks(t, exec, 25)

	minID, err := exec.MinID(ctx, "study_study_links")
	require.NoError(t, err)
	maxID, err := exec.MaxID(ctx, "study_study_links")
	require.NoError(t, err)

	total, err := exec.ExecuteInBatches(ctx,
		"UPDATE study_study_links SET study_id = 7 WHERE study_id IS NULL", "id", minID, maxID, 4)
	require.NoError(t, err)
	assert.EqualValues(t, 25, total)

	var missing int64
	require.NoError(t, exec.DB().Model(&models.StudyStudyLink{}).Where("study_id IS NULL").Count(&missing).Error)
	assert.Zero(t, missing)
}

func TestExecuteInBatchesRequiresWhere(t *testing.T) {
	exec := newExecutor(t)
	_, err := exec.ExecuteInBatches(context.Background(), "DELETE FROM study_ids", "id", 1, 10, 5)
	assert.Error(t, err)
}

func TestBulkInsertEmptySliceIsNoop(t *testing.T) {
	exec := newExecutor(t)
	var rows []models.StudyID
	n, err := exec.BulkInsert(context.Background(), &rows, 100)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCountOnEmptyTable(t *testing.T) {
	ctx := context.Background()
	exec := newExecutor(t)

	n, err := exec.Count(ctx, "study_ids")
	require.NoError(t, err)
	assert.Zero(t, n)
	maxID, err := exec.MaxID(ctx, "study_ids")
	require.NoError(t, err)
	assert.Zero(t, maxID)
}

func TestSeedSourcesIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := storagetest.NewCoreDB(t)
	rules, err := config.LoadRules("")
	require.NoError(t, err)

	require.NoError(t, storage.SeedSources(db, rules, zap.NewNop()))
	require.NoError(t, storage.SeedSources(db, rules, zap.NewNop()))

	sources, err := storage.LoadSources(ctx, db)
	require.NoError(t, err)
	assert.Len(t, sources, len(rules.Sources))
	assert.Equal(t, 100120, sources[0].ID)

	var yoda models.Source
	require.NoError(t, db.Where("ipd_repository = ?", true).Where("id = ?", 101901).First(&yoda).Error)
	assert.True(t, yoda.UnregisteredGroups)
}
