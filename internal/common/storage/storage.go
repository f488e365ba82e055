// Package storage abstracts test case blob storage. Tasks carry opaque blob
// keys; where the bytes physically live is a deployment concern.
package storage

import (
	"context"
	"io"
)

// BlobStore defines path-addressed read/write access to blobs.
// It is intentionally small so MinIO and plain-filesystem implementations
// stay interchangeable.
type BlobStore interface {
	// Get opens a reader for a blob. Caller must close the returned reader.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Put writes a blob under the given key, replacing any existing content.
	Put(ctx context.Context, key string, reader io.Reader, sizeBytes int64) error

	// Stat returns blob metadata without reading the content.
	Stat(ctx context.Context, key string) (BlobStat, error)
}

// BlobStat contains blob metadata used for validation.
type BlobStat struct {
	SizeBytes int64
	ETag      string
}
