package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/docketwatch/docketwatch/internal/docket"
)

// ArtifactStore uploads captured documents and hands back time-limited
// retrieval URLs the tracker can ingest.
type ArtifactStore struct {
	blobs docket.BlobStore
	ttl   time.Duration
}

// DefaultURLTTL matches the tracker's one-time ingestion window.
const DefaultURLTTL = 24 * time.Hour

// NewArtifactStore wraps a blob store with URL signing.
func NewArtifactStore(blobs docket.BlobStore, ttl time.Duration) *ArtifactStore {
	if ttl <= 0 {
		ttl = DefaultURLTTL
	}
	return &ArtifactStore{blobs: blobs, ttl: ttl}
}

// Upload stores the artifact at the given key and returns a retrievable
// URL. Keys are deterministic per docket, so re-running a job overwrites
// the previous object instead of accumulating copies.
func (s *ArtifactStore) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := s.blobs.PutObject(ctx, key, contentType, data); err != nil {
		return "", fmt.Errorf("upload artifact: %w", err)
	}
	url, err := s.blobs.SignedURL(ctx, key, s.ttl)
	if err != nil {
		return "", fmt.Errorf("sign artifact url: %w", err)
	}
	return url, nil
}
