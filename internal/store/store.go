// Package store defines the message store abstraction backing the IMAP
// mailbox projection, plus its S3 and in-memory implementations.
package store

import (
	"context"
	"time"
)

// Object describes one stored raw message.
type Object struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Store is the read/write interface over the raw-message object space.
// Implementations must be safe for concurrent use by multiple sessions.
type Store interface {
	// List returns all objects whose key starts with prefix, in the
	// backend's listing order.
	List(ctx context.Context, prefix string) ([]Object, error)

	// Get returns the raw bytes of the object at key.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put writes a raw message at key, overwriting any existing object.
	Put(ctx context.Context, key string, body []byte) error
}
