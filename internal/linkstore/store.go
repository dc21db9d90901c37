// Package linkstore is the key-value adapter the link service writes through.
//
// Keys are opaque strings (see Key). Values are serialized records the store
// never inspects. Every backend offers an atomic PutIfAbsent, so at most one
// writer wins for a given live key.
package linkstore

import (
	"context"
	"errors"
	"time"
)

// DefaultKeyPrefix namespaces link records inside a shared store.
const DefaultKeyPrefix = "link:"

var (
	// ErrNotFound means the key is absent or its entry has expired.
	ErrNotFound = errors.New("linkstore: key not found")
	// ErrExists means PutIfAbsent found a live entry under the key.
	ErrExists = errors.New("linkstore: key already exists")
)

// PutOptions controls expiry and the metadata stored beside a value.
type PutOptions struct {
	// ExpiresAt is the instant after which the entry is no longer served.
	// The zero value means the entry never expires.
	ExpiresAt time.Time
	// Metadata is stored independently of the value so that readers can
	// list or index entries without decoding them.
	Metadata map[string]string
}

// Store is the contract every backend satisfies.
// Errors are *errx.Error values wrapping ErrNotFound, ErrExists or the
// backend's own failure (kind Unavailable).
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	PutIfAbsent(ctx context.Context, key string, value []byte, opts PutOptions) error
	// Delete removes key. Deleting a missing key succeeds.
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}

// Expirer is implemented by backends that need expired entries removed
// explicitly rather than evicting them on their own.
type Expirer interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// Key builds the store key for a normalized slug.
func Key(prefix, slug string) string {
	return prefix + slug
}
