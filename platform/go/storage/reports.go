package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
)

// GCSReportStore writes migration reports to a Cloud Storage bucket.
type GCSReportStore struct {
	client    *storage.Client
	bucket    string
	envPrefix string
	logger    *zap.Logger
}

func NewGCSReportStore(client *storage.Client, bucket, envPrefix string, logger *zap.Logger) *GCSReportStore {
	if client == nil {
		panic("storage client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GCSReportStore{client: client, bucket: bucket, envPrefix: envPrefix, logger: logger}
}

// Put uploads body under the environment prefix, replacing any previous object.
func (s *GCSReportStore) Put(ctx context.Context, key string, body []byte) error {
	loc, err := ResolveObjectLocation(s.envPrefix, s.bucket, key)
	if err != nil {
		return err
	}

	w := s.client.Bucket(loc.Bucket).Object(loc.FullPath).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(body); err != nil {
		_ = w.Close()
		return fmt.Errorf("write gs://%s/%s: %w", loc.Bucket, loc.FullPath, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close gs://%s/%s: %w", loc.Bucket, loc.FullPath, err)
	}

	s.logger.Debug("report archived", zap.String("bucket", loc.Bucket), zap.String("path", loc.FullPath))
	return nil
}

// Check verifies the bucket is reachable. Used by the readiness probe.
func (s *GCSReportStore) Check(ctx context.Context) error {
	if _, err := s.client.Bucket(s.bucket).Attrs(ctx); err != nil {
		return fmt.Errorf("bucket %s: %w", s.bucket, err)
	}
	return nil
}

// LocalReportStore writes reports below a directory. Used in development and tests.
type LocalReportStore struct {
	root      string
	envPrefix string
}

func NewLocalReportStore(root, envPrefix string) *LocalReportStore {
	return &LocalReportStore{root: root, envPrefix: envPrefix}
}

func (s *LocalReportStore) Put(_ context.Context, key string, body []byte) error {
	loc, err := ResolveObjectLocation(s.envPrefix, "local", key)
	if err != nil {
		return err
	}

	path := filepath.Join(s.root, filepath.FromSlash(loc.FullPath))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, body, 0o644)
}

func (s *LocalReportStore) Check(context.Context) error {
	info, err := os.Stat(s.root)
	if errors.Is(err, os.ErrNotExist) {
		return os.MkdirAll(s.root, 0o755)
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", s.root)
	}
	return nil
}
