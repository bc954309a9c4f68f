//go:build gcp

package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"

	"github.com/kirillkom/signflow/internal/core/domain"
)

type Config struct {
	Bucket string
	Prefix string
}

type Storage struct {
	client *storage.Client
	bucket string
	prefix string
}

// New uses application default credentials.
func New(ctx context.Context, cfg Config) (*Storage, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	return &Storage{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *Storage) Save(ctx context.Context, key string, data io.Reader) error {
	w := s.client.Bucket(s.bucket).Object(s.prefix + key).NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	if _, err := io.Copy(w, data); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs close %s: %w", key, err)
	}
	return nil
}

func (s *Storage) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := s.client.Bucket(s.bucket).Object(s.prefix + key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, domain.WrapError(domain.ErrNotFound, "gcs get", err)
		}
		return nil, fmt.Errorf("gcs get %s: %w", key, err)
	}
	return r, nil
}

func (s *Storage) Close() error {
	return s.client.Close()
}
