package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"mercator-hq/ilm/pkg/lifecycle"
)

// Manifest describes an index at the moment it is deleted. Archivers store
// it so the deletion can be audited after the record is purged.
type Manifest struct {
	Stream     string                    `json:"stream"`
	Generation int64                     `json:"generation"`
	Index      string                    `json:"index"`
	CreatedAt  time.Time                 `json:"created_at"`
	RolledAt   *time.Time                `json:"rolled_at,omitempty"`
	SizeBytes  int64                     `json:"size_bytes"`
	Policy     lifecycle.RetentionPolicy `json:"policy"`
	ArchivedAt time.Time                 `json:"archived_at"`
}

// NewManifest builds the manifest for record under policy.
func NewManifest(policy lifecycle.RetentionPolicy, record lifecycle.IndexRecord, now time.Time) Manifest {
	return Manifest{
		Stream:     record.Stream,
		Generation: record.Generation,
		Index:      record.Name(),
		CreatedAt:  record.CreatedAt,
		RolledAt:   record.RolledAt,
		SizeBytes:  record.SizeBytes,
		Policy:     policy,
		ArchivedAt: now,
	}
}

// Key returns the object key of the manifest below prefix.
func (m Manifest) Key(prefix string) string {
	return path.Join(prefix, m.Stream, m.Index+".json")
}

func (m Manifest) encode() ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest for %s: %w", m.Index, err)
	}
	return data, nil
}

// Archiver stores index manifests before the index is deleted.
// Archiving the same manifest twice overwrites the earlier copy.
type Archiver interface {
	Archive(ctx context.Context, m Manifest) error
	Name() string
}

// FileArchiver writes manifests below a local directory.
type FileArchiver struct {
	dir    string
	logger *slog.Logger
}

// NewFileArchiver creates an archiver rooted at dir.
func NewFileArchiver(dir string, logger *slog.Logger) (*FileArchiver, error) {
	if dir == "" {
		return nil, fmt.Errorf("archive path cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FileArchiver{
		dir:    dir,
		logger: logger.With("component", "lifecycle.archive.file"),
	}, nil
}

// Name implements Archiver.
func (a *FileArchiver) Name() string { return "file" }

// Archive implements Archiver. The manifest is written to a temporary file
// and renamed into place.
func (a *FileArchiver) Archive(ctx context.Context, m Manifest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := m.encode()
	if err != nil {
		return err
	}

	target := filepath.Join(a.dir, filepath.FromSlash(m.Key("")))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}

	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write archive file: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to finalize archive file: %w", err)
	}

	a.logger.Info("index manifest archived", "index", m.Index, "path", target)
	return nil
}

// Config selects and configures an archiver.
type Config struct {
	// Type is "file", "minio" or "s3".
	Type  string
	File  FileConfig
	MinIO MinIOConfig
	S3    S3Config
}

// FileConfig configures the file archiver.
type FileConfig struct {
	Path string
}

// New creates the configured archiver.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (Archiver, error) {
	switch cfg.Type {
	case "", "file":
		a, err := NewFileArchiver(cfg.File.Path, logger)
		if err != nil {
			return nil, err
		}
		return a, nil
	case "minio":
		a, err := NewMinIOArchiver(cfg.MinIO, logger)
		if err != nil {
			return nil, err
		}
		return a, nil
	case "s3":
		a, err := NewS3Archiver(ctx, cfg.S3, logger)
		if err != nil {
			return nil, err
		}
		return a, nil
	default:
		return nil, fmt.Errorf("unknown archive type %q", cfg.Type)
	}
}

// body returns the encoded manifest as a reader with its length.
func body(m Manifest) (*bytes.Reader, int64, error) {
	data, err := m.encode()
	if err != nil {
		return nil, 0, err
	}
	return bytes.NewReader(data), int64(len(data)), nil
}
