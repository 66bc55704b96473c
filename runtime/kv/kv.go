// Package kv defines the key/value persistence port used by the agent state
// service. Values are opaque byte blobs; the state layer serializes whole
// agent states as JSON documents keyed by task id. Adapters live in the
// inmem, redis and mongo subpackages.
package kv

import (
	"context"
	"errors"
)

// ErrNotFound reports that a key has no value. Callers that treat absence as
// an empty state check for it with errors.Is.
var ErrNotFound = errors.New("kv: key not found")

// Store is the key/value persistence port.
type Store interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error
	// Delete removes the value stored under key. Deleting an absent key is
	// not an error.
	Delete(ctx context.Context, key string) error
	// BatchGet returns one value per key, in key order, with nil entries for
	// absent keys.
	BatchGet(ctx context.Context, keys []string) ([][]byte, error)
	// BatchSet stores every entry of values. No atomicity across keys.
	BatchSet(ctx context.Context, values map[string][]byte) error
	// BatchDelete removes every key. Absent keys are skipped.
	BatchDelete(ctx context.Context, keys []string) error
}
