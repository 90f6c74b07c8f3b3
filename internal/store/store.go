// Package store provides a small key/value byte store used to cache client
// state, most notably the public fields of the device identity. Two
// implementations exist: a file-backed store persisted as a single JSON
// document with atomic writes, and an in-memory store for tests and hosts
// that explicitly opt out of durability.
package store

import "errors"

// ErrNotFound is returned when a key is not present in the store.
var ErrNotFound = errors.New("store: key not found")

// KV is a minimal key/value byte store.
// Implementations must be safe for concurrent use.
type KV interface {
	// Get returns the value for key, or ErrNotFound.
	Get(key string) ([]byte, error)

	// Set stores value under key, replacing any previous value.
	Set(key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(key string) error
}
