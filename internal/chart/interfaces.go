package chart

import (
	"context"
	"time"
)

// BlobStore reads and writes whole objects by key.
type BlobStore interface {
	// Get returns ErrNotFound when key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	DownloadToLocal(ctx context.Context, key string, localPath string) error
}

// Fetcher retrieves a chart page.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Publisher pushes a new version of the materialized datasets.
type Publisher interface {
	PublishVersion(ctx context.Context, dir string, note string) error
}

// Ledger remembers which chart weeks have been merged.
type Ledger interface {
	Record(ctx context.Context, ingestion Ingestion) error
	Has(ctx context.Context, chartID string, date time.Time) (bool, error)
}

// Hasher computes digests of weekly snapshots.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
