// Package kvstore provides the persisted key/value storage the queue and the
// session store are built on. Every backend must survive process restart
// except MemoryStore, which exists for tests and ephemeral runs.
package kvstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Read when no value has been written for a key.
var ErrNotFound = errors.New("kvstore: key not found")

// Storage is a minimal string key/value store.
type Storage interface {
	// Read returns the value stored under key, or ErrNotFound.
	Read(ctx context.Context, key string) (string, error)

	// Write stores value under key, replacing any previous value.
	Write(ctx context.Context, key, value string) error
}
