package types

import (
	"context"
	"encoding/json"
)

// Store defines the durable key/value substrate shared by every
// namespaced cache and the sync queue. Reads are synchronous; mutual
// exclusion across consumers is achieved by key-prefix partitioning,
// not locking.
type Store interface {
	// Get returns the raw bytes for key, or ok=false if absent.
	Get(key string) (value []byte, ok bool, err error)
	// Set writes the raw bytes for key, replacing any existing value.
	Set(key string, value []byte) error
	// Delete removes key; deleting an absent key is not an error.
	Delete(key string) error
	// Keys returns every key beginning with prefix, unordered.
	Keys(prefix string) ([]string, error)
	// ForEachPrefix visits every key/value pair under prefix. Returning
	// an error from fn stops the scan and propagates the error.
	ForEachPrefix(prefix string, fn func(key string, value []byte) error) error
	// Close releases the underlying storage.
	Close() error
}

// RemoteFunc is the single contract the core consumes from the hosted
// backend: it performs one described operation and returns the raw
// result or fails. All failures are considered retryable by the sync
// queue up to an action's MaxRetries.
type RemoteFunc func(ctx context.Context, op RemoteOp) (json.RawMessage, error)

// ActionHandler executes one queued action against the remote service
// during a drain pass.
type ActionHandler func(ctx context.Context, action *SyncAction) error

// QualitySource exposes the observer's current connectivity snapshot to
// consumers such as the adaptive executor and the sync queue.
type QualitySource interface {
	State() NetworkQuality
}
