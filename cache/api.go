package cache

import (
	"context"
	"time"
)

// Cache is a bounded, in-memory key/value cache with Window-TinyLFU
// admission, optional TTL/TTI expiration and removal notifications.
// All methods are safe for concurrent use by multiple goroutines.
//
// Typical complexity is amortized O(1): a map operation under a shard
// lock plus a non-blocking event record. Ordering, weights and expiration
// are applied in batches by a maintenance cycle, so bookkeeping never
// blocks a caller.
type Cache[K comparable, V any] interface {
	// Get returns the value for k and a presence flag. A hit refreshes
	// the entry's recency and, if TTI is configured, its idle deadline.
	// An entry past its deadline is reported as a miss even before the
	// maintenance cycle has reaped it.
	Get(k K) (V, bool)

	// Add inserts k→v only if k is not resident (an expired, unreaped
	// entry counts as absent). Returns false if the key already exists;
	// no update is performed.
	Add(k K, v V) bool

	// Set inserts or updates k→v using the cache's TTL/TTI settings.
	// Overwriting reports the previous value to the removal listener
	// with CauseReplaced.
	Set(k K, v V)

	// SetWithTTL is Set with a per-entry TTL overriding Options.TTL.
	// A non-positive ttl disables the write-based deadline for this
	// entry (TTI, if configured, still applies).
	SetWithTTL(k K, v V, ttl time.Duration)

	// GetOrLoad returns the value for k, loading it via Options.Loader on
	// miss. Concurrent loads for the same key are coalesced: exactly one
	// loader call runs and every caller gets its result, or its error.
	// A failed load is not cached and a later call retries. If no Loader
	// was configured, returns ErrNoLoader.
	GetOrLoad(ctx context.Context, k K) (V, error)

	// Invalidate removes k if present and reports whether a live entry
	// was removed. Invalidating the same key again is a no-op and never
	// produces a second notification.
	Invalidate(k K) bool

	// InvalidateAll removes every entry, notifying the listener for each.
	InvalidateAll()

	// Len returns the number of resident entries across all shards.
	Len() int

	// WeightedSize returns the total weight of tracked entries as of the
	// last completed maintenance cycle.
	WeightedSize() int64

	// Stats returns a snapshot of the cache counters.
	Stats() Stats

	// RunPendingTasks runs one full maintenance cycle synchronously:
	// drains the event buffers, applies expiration and eviction, and
	// delivers queued removal notifications. Primarily for tests.
	RunPendingTasks()

	// Close stops the background sweep, runs a final maintenance cycle
	// and flushes notifications. Safe to call multiple times; operations
	// after Close are ignored.
	Close() error
}
