package archive

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOConfig configures the MinIO archiver.
type MinIOConfig struct {
	// Endpoint is "http://host:port" or "https://host:port".
	Endpoint        string
	Bucket          string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
}

// minioPutter is the part of *minio.Client the archiver uses.
type minioPutter interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64,
		opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// MinIOArchiver uploads manifests to a MinIO bucket.
type MinIOArchiver struct {
	client minioPutter
	bucket string
	prefix string
	logger *slog.Logger
}

// NewMinIOArchiver connects to the configured MinIO endpoint.
func NewMinIOArchiver(cfg MinIOConfig, logger *slog.Logger) (*MinIOArchiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("minio: bucket name is required")
	}

	endpoint := cfg.Endpoint
	secure := true
	switch {
	case strings.HasPrefix(endpoint, "http://"):
		secure = false
		endpoint = strings.TrimPrefix(endpoint, "http://")
	case strings.HasPrefix(endpoint, "https://"):
		endpoint = strings.TrimPrefix(endpoint, "https://")
	default:
		return nil, fmt.Errorf("minio: unsupported endpoint %q, want http:// or https://", cfg.Endpoint)
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, fmt.Errorf("minio: failed to create client: %w", err)
	}

	return newMinIOArchiver(client, cfg.Bucket, cfg.Prefix, logger), nil
}

func newMinIOArchiver(client minioPutter, bucket, prefix string, logger *slog.Logger) *MinIOArchiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &MinIOArchiver{
		client: client,
		bucket: bucket,
		prefix: prefix,
		logger: logger.With("component", "lifecycle.archive.minio"),
	}
}

// Name implements Archiver.
func (a *MinIOArchiver) Name() string { return "minio" }

// Archive implements Archiver.
func (a *MinIOArchiver) Archive(ctx context.Context, m Manifest) error {
	r, size, err := body(m)
	if err != nil {
		return err
	}

	key := m.Key(a.prefix)
	info, err := a.client.PutObject(ctx, a.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("minio: failed to upload %s: %w", key, err)
	}

	a.logger.Info("index manifest archived",
		"index", m.Index,
		"bucket", a.bucket,
		"key", key,
		"etag", info.ETag,
	)
	return nil
}
