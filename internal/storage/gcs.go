// Package storage provides blob-store implementations backing both the
// session blob and uploaded artifacts.
package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"cloud.google.com/go/storage"

	"github.com/docketwatch/docketwatch/internal/docket"
)

// GCSConfig captures the parameters required to connect to GCS.
type GCSConfig struct {
	Bucket string
}

// GCSStore implements docket.BlobStore against a Google Cloud Storage
// bucket. Authentication uses Application Default Credentials.
type GCSStore struct {
	client *storage.Client
	bucket string
}

// NewGCS wraps an existing storage client. The bucket is probed once so a
// misconfigured deployment fails at startup rather than mid-run.
func NewGCS(ctx context.Context, client *storage.Client, cfg GCSConfig) (*GCSStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if _, err := client.Bucket(cfg.Bucket).Attrs(ctx); err != nil {
		return nil, fmt.Errorf("probe bucket %q: %w", cfg.Bucket, err)
	}
	return &GCSStore{client: client, bucket: cfg.Bucket}, nil
}

// PutObject uploads data under the given key, overwriting any previous
// object (last write wins).
func (s *GCSStore) PutObject(ctx context.Context, key, contentType string, data []byte) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("%w: object key is required", docket.ErrStorage)
	}
	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	if _, err := w.Write(data); err != nil {
		if closeErr := w.Close(); closeErr != nil {
			return fmt.Errorf("%w: write object %s: %w (close: %v)", docket.ErrStorage, key, err, closeErr)
		}
		return fmt.Errorf("%w: write object %s: %w", docket.ErrStorage, key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("%w: finalize object %s: %w", docket.ErrStorage, key, err)
	}
	return nil
}

// GetObject reads an object's full contents.
func (s *GCSStore) GetObject(ctx context.Context, key string) ([]byte, error) {
	r, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: open object %s: %w", docket.ErrStorage, key, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: read object %s: %w", docket.ErrStorage, key, err)
	}
	return data, nil
}

// SignedURL returns a V4-signed GET URL valid for the given TTL.
func (s *GCSStore) SignedURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	url, err := s.client.Bucket(s.bucket).SignedURL(key, &storage.SignedURLOptions{
		Method:  "GET",
		Scheme:  storage.SigningSchemeV4,
		Expires: time.Now().Add(ttl),
	})
	if err != nil {
		return "", fmt.Errorf("%w: sign url for %s: %w", docket.ErrStorage, key, err)
	}
	return url, nil
}
