package main

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeBucket struct {
	objects []types.Object
	prefix  string
	deleted []string
}

func (b *fakeBucket) PutObject(context.Context, *s3.PutObjectInput, ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	return &s3.PutObjectOutput{}, nil
}

func (b *fakeBucket) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	b.prefix = aws.ToString(in.Prefix)
	return &s3.ListObjectsV2Output{Contents: b.objects}, nil
}

func (b *fakeBucket) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	b.deleted = append(b.deleted, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestRotateBackupsKeepsNewest(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	bucket := &fakeBucket{}
	for i := 0; i < 5; i++ {
		bucket.objects = append(bucket.objects, types.Object{
			Key:          aws.String(backupKey("backups/", base.AddDate(0, 0, i))),
			LastModified: aws.Time(base.AddDate(0, 0, i)),
		})
	}

	err := rotateBackups(context.Background(), bucket, "b", BackupConfig{KeepBackups: 3, Prefix: "backups/"}, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, "backups/", bucket.prefix)
	assert.ElementsMatch(t, []string{
		"backups/backup-2026-01-01T00-00-00Z.sql.gz",
		"backups/backup-2026-01-02T00-00-00Z.sql.gz",
	}, bucket.deleted)
}

func TestRotateBackupsNothingToDo(t *testing.T) {
	bucket := &fakeBucket{objects: []types.Object{{Key: aws.String("backups/a"), LastModified: aws.Time(time.Now())}}}

	err := rotateBackups(context.Background(), bucket, "b", BackupConfig{KeepBackups: 4, Prefix: "backups/"}, zap.NewNop())
	require.NoError(t, err)
	assert.Empty(t, bucket.deleted)
}
