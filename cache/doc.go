// Package cache provides a bounded, generic, in-memory cache with
// Window-TinyLFU admission and eviction, optional TTL/TTI expiration on a
// hierarchical timer wheel, removal notifications, singleflight loading,
// lightweight metrics hooks, and weight-based capacity.
//
// Design
//
//   - Concurrency: the store is split into shards, each a plain map behind
//     an RWMutex. The default shard count is chosen by a heuristic and is a
//     power of two. Shard locks are held only for the map operation itself.
//
//   - Decoupled bookkeeping: the data path records events instead of doing
//     ordering work. Reads go to small lossy striped buffers (full or
//     contended stripes drop the event); writes go to lossless striped
//     queues. A maintenance cycle, guarded by a single try-lock, drains the
//     buffers and replays them into the policy. Under contention a caller
//     never waits for another caller's bookkeeping.
//
//   - Admission/eviction: Window-TinyLFU. New entries enter a small recency
//     window; when it overflows, each candidate competes with the main
//     region's next LRU victim on estimated frequency (a count-min sketch
//     with periodic halving). The main region is a segmented LRU with
//     probation and protected segments.
//
//   - Expiration: TTL (time since last write) and TTI (time since last
//     access) run on a five-level hierarchical timer wheel advanced during
//     maintenance. An entry past its deadline is invisible to readers even
//     before the wheel reaps it.
//
//   - Notifications: Options.OnRemoval(k, v, cause) is called exactly once
//     per removed entry with one of CauseExplicit, CauseReplaced, CauseSize,
//     CauseExpired. Delivery happens outside all internal locks.
//
//   - GetOrLoad: coalesces concurrent loads for the same key using
//     singleflight. If Loader is nil, GetOrLoad returns ErrNoLoader.
//
//   - Metrics: Options.Metrics receives Hit/Miss/Evict/Size/Load signals.
//     By default NoopMetrics is used; plug a Prometheus adapter to export
//     metrics.
//
// Basic usage
//
//	// Create a cache bounded to 10k entries.
//	c := cache.New[string, []byte](cache.Options[string, []byte]{MaxWeight: 10_000})
//	defer c.Close()
//	c.Set("a", []byte("1"))
//	if v, ok := c.Get("a"); ok {
//	    _ = v // use value
//	}
//	c.Invalidate("a")
//
// With TTL
//
//	c := cache.New[string, string](cache.Options[string, string]{
//	    MaxWeight: 1024,
//	    TTL:       200 * time.Millisecond,
//	})
//	c.Set("tmp", "v")
//	time.Sleep(300 * time.Millisecond)
//	_, ok := c.Get("tmp") // ok == false (expired)
//
// With GetOrLoad (singleflight)
//
//	c := cache.New[string, string](cache.Options[string, string]{
//	    MaxWeight: 1024,
//	    Loader: func(ctx context.Context, k string) (string, error) {
//	        // e.g. fetch from DB
//	        return "v:" + k, nil
//	    },
//	})
//	v, err := c.GetOrLoad(context.Background(), "key")
//
// With weighted entries
//
//	c := cache.New[string, []byte](cache.Options[string, []byte]{
//	    MaxWeight: 64 << 20, // 64 MiB
//	    Weigher:   func(k string, v []byte) int { return len(v) },
//	})
//
// Exporting metrics (example Prometheus adapter)
//
//	m := prom.New(nil, "windcache", "demo", nil) // implements Metrics
//	c := cache.New[string, []byte](cache.Options[string, []byte]{
//	    MaxWeight: 10_000,
//	    Metrics:   m,
//	})
//
// Thread-safety & complexity
//
// All methods on Cache are safe for concurrent use. Typical operation cost
// is amortized O(1): one map access under a shard lock plus a non-blocking
// event record. Maintenance work is O(1) per drained event and per removed
// entry.
//
// See cache/options.go for all available Options fields.
package cache
