package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned by GetStream when no object is stored under the
// requested key.
var ErrNotFound = errors.New("object not found")

// ObjectStore defines the capabilities the gateway needs from a remote
// object store. Every operation is addressed by an explicit key inside a
// single bucket that is fixed when the store is constructed, so
// implementations are safe to share between concurrent requests.
type ObjectStore interface {
	// HeadExists reports whether an object is stored under key. Transport or
	// permission failures are returned as errors; it is up to the caller to
	// decide how to treat them.
	HeadExists(ctx context.Context, key string) (bool, error)

	// PutStream stores the contents of body under key, reading it
	// incrementally. Only MemoryStore holds a whole payload in memory.
	PutStream(ctx context.Context, key string, body io.Reader, opts PutOptions) error

	// GetStream opens a read stream for the object stored under key. It
	// returns ErrNotFound if the key is absent. The caller must close the
	// returned object.
	GetStream(ctx context.Context, key string) (*Object, error)

	// List returns the keys of the objects in the bucket, in whatever order
	// a single listing call of the backend produces them.
	List(ctx context.Context) ([]string, error)
}

// PutOptions carries per-object attributes stored alongside the payload.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// Object is an open read stream for a stored object.
type Object struct {
	io.ReadCloser

	// ContentType is the type reported by the store, empty if unknown.
	ContentType string

	// Size is the payload length in bytes, or -1 if the store did not
	// report it.
	Size int64

	LastModified time.Time
}
