// Package objstore provides the thin, retryable object-store client that
// the rest of the engine is layered on.
//
// The concrete backends live in this package: s3 (aws-sdk-go-v2), file
// (local filesystem, for tests and small deployments), and memory (tests).
// Consumers depend on the Client interface rather than on a concrete type
// so that backends can be substituted.
//
// The client knows nothing about schemas. It exposes exactly five
// primitives (put, get, head, delete, list) and classifies failures on two
// axes: not-found vs transient vs permanent.
package objstore

import (
	"context"
	"time"

	"github.com/stratadb/strata/internal/types"
)

// Metadata is the user-metadata region of an object. Keys are treated
// case-insensitively by S3; callers must use lowercase keys.
type Metadata map[string]string

// Clone returns a copy of the metadata map.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Object is one stored object: key, user metadata, and body.
type Object struct {
	Key          string
	Metadata     Metadata
	Body         []byte
	ContentType  string
	ETag         string
	Size         int64
	LastModified time.Time
}

// ListEntry is one key in a listing, with the modification time the
// store reports for it.
type ListEntry struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// ListPage is one page of keys under a prefix.
type ListPage struct {
	Keys      []string
	Entries   []ListEntry
	NextToken string
	Truncated bool
}

// Client is the interface satisfied by all object-store backends.
// All methods retry transient failures internally with exponential
// backoff; errors returned to callers are already classified
// (types.ErrNotFound, types.ErrTransient, types.ErrPermanent).
type Client interface {
	// Put stores an object, overwriting any existing object at key.
	Put(ctx context.Context, key string, meta Metadata, body []byte, contentType string) error

	// Get returns the object at key, including its body.
	Get(ctx context.Context, key string) (*Object, error)

	// Head returns the object's metadata without fetching the body.
	Head(ctx context.Context, key string) (*Object, error)

	// Delete removes the object at key. Deleting a missing key is not an
	// error.
	Delete(ctx context.Context, key string) error

	// List returns up to limit keys under prefix, starting after the
	// continuation token from a previous page. limit <= 0 means the
	// backend default.
	List(ctx context.Context, prefix, token string, limit int) (*ListPage, error)

	// Close releases pooled connections.
	Close() error
}

// Options configures how a backend is opened.
type Options struct {
	// MaxInflight caps concurrent object-store requests through the
	// pooled HTTP transport. Zero means the backend default (64).
	MaxInflight int

	// KeepAlive is the HTTP keep-alive interval for pooled connections.
	KeepAlive time.Duration

	// RequestTimeout bounds a single attempt (not the whole retry loop).
	RequestTimeout time.Duration

	// RetryMaxElapsed bounds the total retry window for one operation.
	RetryMaxElapsed time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxInflight <= 0 {
		o.MaxInflight = 64
	}
	if o.KeepAlive <= 0 {
		o.KeepAlive = 30 * time.Second
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 30 * time.Second
	}
	if o.RetryMaxElapsed <= 0 {
		o.RetryMaxElapsed = 30 * time.Second
	}
	return o
}

// notFound wraps a key into a classified not-found error.
func notFound(key string) error {
	return types.NewError(types.ErrNotFound, "OBJ_NOT_FOUND", "object not found", "key", key)
}
