package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"study-aggregator/config"
	"study-aggregator/models"
	"study-aggregator/providers"
	"study-aggregator/storage"
	"study-aggregator/storage/storagetest"
)

type fakeUploader struct {
	mu      sync.Mutex
	objects map[string]string
}

func (u *fakeUploader) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.objects == nil {
		u.objects = make(map[string]string)
	}
	u.objects[*in.Key] = string(data)
	return &s3.PutObjectOutput{}, nil
}

func newTestAggregator(t *testing.T, uploader storage.ObjectUploader) (*Aggregator, *gorm.DB, *Metrics) {
	t.Helper()
	rules, err := config.LoadRules("")
	require.NoError(t, err)
	db := storagetest.NewCoreDB(t)

	sources, ps := linkageFixture()
	for i := range sources {
		require.NoError(t, db.Create(&sources[i]).Error)
	}
	ps[0].objects = []providers.ObjectRecord{
		object("CTG-1", "NCT01234567", 12, "Final Report", "", 2015),
	}
	ps[1].objects = []providers.ObjectRecord{
		object("ISR-1", "ISRCTN11223344", 12, "FINAL REPORT", "", 2015),
	}

	metrics := NewMetrics(prometheus.NewRegistry())
	cfg := testConfig()
	cfg.S3Bucket, cfg.S3URL = "reports", "https://s3.example"
	agg, err := NewAggregator(cfg, rules, db, openerFor(ps...), uploader, metrics, zap.NewNop())
	require.NoError(t, err)
	return agg, db, metrics
}

func TestAggregatorRunRecordsAndExports(t *testing.T) {
	ctx := context.Background()
	uploader := &fakeUploader{}
	agg, db, metrics := newTestAggregator(t, uploader)

	run, err := agg.Run(ctx, "test")
	require.NoError(t, err)
	assert.Equal(t, models.RunSucceeded, run.Status)
	require.NotNil(t, run.FinishedAt)

	var stored models.AggregationRun
	require.NoError(t, db.First(&stored, run.ID).Error)
	var stats RunStats
	require.NoError(t, json.Unmarshal(stored.Stats, &stats))
	assert.Equal(t, 5, stats.Links.Collected)
	require.Len(t, stats.Studies, 4)
	assert.Equal(t, ctgSource.ID, stats.Studies[0].SourceID)
	assert.Equal(t, 2, stats.Studies[0].New)
	require.Len(t, stats.Objects, 2)
	assert.Equal(t, 1, stats.Objects[1].TitleDuplicates)

	csv := uploader.objects["runs/1/study_study_links.csv"]
	assert.True(t, strings.HasPrefix(csv, "source_id,sd_sid,preferred_source_id,preferred_sd_sid,study_id\n"))
	assert.Contains(t, csv, "100126,ISRCTN11223344,100120,NCT01234567,1")
	assert.Contains(t, uploader.objects, "runs/1/report.json")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Runs.WithLabelValues(models.RunSucceeded)))

	cs, err := agg.CanonicalStudy(ctx, isrctnSource.ID, "ISRCTN11223344")
	require.NoError(t, err)
	assert.Equal(t, 1, cs.StudyID)
	assert.Equal(t, "NCT01234567", cs.Preferred.SdSid)
	assert.Len(t, cs.Members, 3)

	groups, err := agg.LinkGroups(ctx, ctgSource.ID, "NCT07654321")
	require.NoError(t, err)
	assert.Len(t, groups, 2)

	runs, err := agg.Runs(ctx, 5)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestAggregatorRejectsOverlappingRuns(t *testing.T) {
	agg, _, _ := newTestAggregator(t, nil)

	agg.mu.Lock()
	_, err := agg.Run(context.Background(), "test")
	agg.mu.Unlock()

	assert.ErrorIs(t, err, ErrRunInProgress)
}

func TestAggregatorCanonicalStudyNotFound(t *testing.T) {
	agg, _, _ := newTestAggregator(t, nil)

	_, err := agg.CanonicalStudy(context.Background(), ctgSource.ID, "NCT00000001")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestAggregatorStartRejectsSecondRun(t *testing.T) {
	agg, _, _ := newTestAggregator(t, nil)

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	agg.Open = func(models.Source) (providers.Provider, error) {
		once.Do(func() { close(entered) })
		<-release
		return nil, errors.New("offline")
	}

	finished := make(chan error, 1)
	require.NoError(t, agg.Start(context.Background(), "api", func(_ *models.AggregationRun, err error) {
		finished <- err
	}))
	<-entered

	assert.True(t, agg.Running())
	assert.ErrorIs(t, agg.Start(context.Background(), "api", nil), ErrRunInProgress)

	close(release)
	assert.ErrorContains(t, <-finished, "offline")
}
