package ingest

import (
	"context"
	"io"
	"time"
)

// Fetcher retrieves a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Store is the destination namespace for persisted images.
type Store interface {
	// Exists reports whether an object is stored under name.
	Exists(ctx context.Context, name string) (bool, error)
	// Open streams the object stored under name; ErrNotFound when absent.
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	// Put writes data under name atomically and returns its location.
	// Readers never observe a partially written object.
	Put(ctx context.Context, name string, contentType string, data []byte) (string, error)
}

// Hasher computes content digests for duplicate detection.
type Hasher interface {
	Hash(data []byte) (string, error)
	HashReader(r io.Reader) (string, error)
}

// Publisher pushes notifications about persisted images.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Processor runs one request through the fetch pipeline.
type Processor interface {
	Process(ctx context.Context, request FetchRequest) Outcome
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces batch IDs.
type IDGenerator interface {
	NewID() (string, error)
}
