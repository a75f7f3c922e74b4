package cache

import (
	"context"
	"log/slog"
	"time"
)

// Clock provides time in UnixNano; useful for deterministic tests.
//
// The background sweep interval always runs on wall-clock time; the Clock
// only decides what "now" means for timestamps, TTL and TTI.
type Clock interface{ NowUnixNano() int64 }

// Options configures the cache behavior. Zero values are safe for the
// optional fields; sane defaults are applied in New():
//   - nil Metrics            => NoopMetrics
//   - nil Logger             => slog.Default()
//   - Shards <= 0            => auto (rounded up to power of two)
//   - MaintenanceInterval 0  => 1s (negative disables the background sweep)
//   - WindowFraction 0       => 0.01, ProtectedFraction 0 => 0.8
//
// MaxWeight is required. A misconfiguration (MaxWeight <= 0, a fraction
// outside (0,1)) is fatal: New panics.
type Options[K comparable, V any] struct {
	// MaxWeight bounds the total weight of resident entries. Without a
	// Weigher every entry weighs 1, so MaxWeight is the entry count limit.
	MaxWeight int64

	// InitialCapacity sizes the shard maps and the frequency sketch.
	// Useful when MaxWeight is a byte budget rather than an entry count.
	InitialCapacity int

	// Shards is the number of store stripes. 0 picks a power of two from
	// the CPU count.
	Shards int

	// TTL expires entries a fixed duration after their last write.
	// Non-positive disables it.
	TTL time.Duration

	// TTI expires entries after a period with no access (read or write).
	// Non-positive disables it.
	TTI time.Duration

	// Weigher assigns a capacity cost to an entry. Nil weighs every entry
	// at 1. Negative results are clamped to 0; zero-weight entries are
	// never evicted by size.
	Weigher func(k K, v V) int

	// OnRemoval is notified with an immutable (key, value, cause) snapshot
	// for every removed entry. Delivery is decoupled from the mutation
	// that produced it and happens outside all internal locks; a panic in
	// the callback is logged and swallowed.
	OnRemoval func(k K, v V, cause RemovalCause)

	// Loader fetches a value on cache miss. Used by GetOrLoad.
	Loader func(ctx context.Context, k K) (V, error)

	// Metrics receives Hit/Miss/Evict/Size/Load signals.
	Metrics Metrics

	// Clock overrides the time source (tests). Nil => time.Now().
	Clock Clock

	// Logger receives listener-panic reports. Nil => slog.Default().
	Logger *slog.Logger

	// MaintenanceInterval is the cadence of the background sweep that
	// bounds staleness when no caller performs maintenance. 0 => 1s,
	// negative => disabled (tests drive maintenance via RunPendingTasks).
	MaintenanceInterval time.Duration

	// WindowFraction is the share of MaxWeight reserved for the admission
	// window; ProtectedFraction is the share of the main region reserved
	// for the protected segment. Both must be in (0,1). The defaults
	// (0.01 and 0.8) follow common W-TinyLFU practice; they are exposed
	// because the best split is workload-dependent.
	WindowFraction    float64
	ProtectedFraction float64
}

const (
	defaultWindowFraction    = 0.01
	defaultProtectedFraction = 0.8
	defaultSweepInterval     = time.Second
)
