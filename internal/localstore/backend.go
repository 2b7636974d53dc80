package localstore

import (
	"context"
	"errors"
)

var (
	// ErrQuotaExceeded is returned when the backend has no room for a write.
	// The local commit did not happen.
	ErrQuotaExceeded = errors.New("local storage quota exceeded")

	// ErrNotFound is returned when a record id is not present in a collection.
	ErrNotFound = errors.New("record not found")
)

// Backend is the persistent key/value medium underneath the Store. It holds
// one serialized blob per key and must allow full enumeration of its keys.
type Backend interface {
	// Get returns the value stored under key. ok is false when the key is absent.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys lists every key held by the backend.
	Keys(ctx context.Context) ([]string, error)

	// Close releases the underlying resources.
	Close() error
}
