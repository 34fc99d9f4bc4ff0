package domain

import (
	"context"
	"time"
)

// BlobRetention is how long an undeleted blob survives before the store expires it.
const BlobRetention = 24 * time.Hour

// BlobStore moves large payloads between submitter and worker so that queue
// messages stay small. Blobs are immutable once written.
type BlobStore interface {
	// Put stores data with its metadata and returns a new, never reused id.
	Put(ctx context.Context, data []byte, meta map[string]string) (string, error)

	// Get returns ErrNotFound for unknown or expired ids.
	Get(ctx context.Context, id string) ([]byte, error)

	// Delete is idempotent.
	Delete(ctx context.Context, id string) error
}
