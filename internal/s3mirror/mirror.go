// Package s3mirror copies finished result archives into S3-compatible storage
// so completed tasks survive local disk cleanup. Mirroring is best effort and
// optional: a nil *Mirror disables it.
package s3mirror

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/pagelens/pagelens/internal/config"
)

// Mirror wraps the MinIO client used for archive uploads.
type Mirror struct {
	client *minio.Client
	bucket string
	region string
}

// New creates a Mirror from config. It returns (nil, nil) when no S3 endpoint
// is configured.
func New(cfg *config.Config) (*Mirror, error) {
	if cfg.S3Endpoint == "" {
		return nil, nil
	}
	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseSSL,
		Region: cfg.S3Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &Mirror{client: client, bucket: cfg.S3Bucket, region: cfg.S3Region}, nil
}

// EnsureBucket makes sure the archive bucket exists before use.
func (m *Mirror) EnsureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", m.bucket, err)
	}
	if !exists {
		if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{Region: m.region}); err != nil {
			return fmt.Errorf("make bucket %s: %w", m.bucket, err)
		}
	}
	return nil
}

// UploadArchive copies the archive file for a task and returns its object key.
func (m *Mirror) UploadArchive(ctx context.Context, taskID, archivePath string) (string, error) {
	objectKey := fmt.Sprintf("archives/%s/result.zip", taskID)
	opts := minio.PutObjectOptions{ContentType: "application/zip"}
	if _, err := m.client.FPutObject(ctx, m.bucket, objectKey, archivePath, opts); err != nil {
		return "", fmt.Errorf("upload archive: %w", err)
	}
	return objectKey, nil
}

// PresignArchiveURL returns a signed GET URL for a mirrored archive.
func (m *Mirror) PresignArchiveURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error) {
	u, err := m.client.PresignedGetObject(ctx, m.bucket, objectKey, expiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign archive: %w", err)
	}
	return u.String(), nil
}
