package docket

import (
	"context"
	"time"
)

// Tracker is the external record-queue service holding Jobs and, separately,
// discovered CaseRecords.
type Tracker interface {
	// FetchQueue returns jobs with no artifact, status empty or Error, and
	// attempt_count below maxAttempts, capped at limit.
	FetchQueue(ctx context.Context, limit, maxAttempts int) ([]Job, error)
	// Patch applies a partial update to one job record. It is idempotent.
	Patch(ctx context.Context, jobID string, patch JobPatch) error
	// CreateRecords appends newly discovered case records, batching per the
	// tracker's limits, and returns the number created.
	CreateRecords(ctx context.Context, records []CaseRecord) (int, error)
}

// BlobStore reads and writes binary objects in durable storage.
type BlobStore interface {
	PutObject(ctx context.Context, key, contentType string, data []byte) error
	GetObject(ctx context.Context, key string) ([]byte, error)
	// SignedURL returns a time-limited retrievable GET URL for an object.
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Publisher pushes run completion events to downstream collaborators.
type Publisher interface {
	Publish(ctx context.Context, payload any) (string, error)
	Close() error
}
