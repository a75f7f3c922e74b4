package cache

import "time"

// Metrics exposes cache-level observability hooks.
// A NoopMetrics implementation is provided and used by default.
type Metrics interface {
	Hit()
	Miss()
	// Evict is called once per destroyed entry, with its removal cause.
	// Replaced values are notifications, not evictions, and don't count.
	Evict(cause RemovalCause)
	// Size reports the resident entry count and total weight as of the
	// end of a maintenance cycle.
	Size(entries int, weight int64)
	LoadSuccess(d time.Duration)
	LoadFailure(d time.Duration)
}

// NoopMetrics is a drop-in Metrics implementation that does nothing.
// It is safe for concurrent use and intended as the default when
// no observability backend is configured.
type NoopMetrics struct{}

func (NoopMetrics) Hit()                        {}
func (NoopMetrics) Miss()                       {}
func (NoopMetrics) Evict(RemovalCause)          {}
func (NoopMetrics) Size(entries int, weight int64) {}
func (NoopMetrics) LoadSuccess(time.Duration)   {}
func (NoopMetrics) LoadFailure(time.Duration)   {}

// Ensure NoopMetrics implements the Metrics interface at compile time.
var _ Metrics = NoopMetrics{}
