// Package storage abstracts the object store uploaded files live in.
// Upload itself happens outside the pipeline; fern only ever reads.
package storage

import (
	"context"
	"io"
)

// ObjectStore is the contract the pipeline needs from file storage
type ObjectStore interface {
	// Fetch opens the object at the given storage key
	Fetch(ctx context.Context, key string) (io.ReadCloser, error)

	// ContentHash returns the SHA-256 hex digest of the object
	ContentHash(ctx context.Context, key string) (string, error)

	// Size returns the object size in bytes
	Size(ctx context.Context, key string) (int64, error)
}
