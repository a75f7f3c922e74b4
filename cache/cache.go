package cache

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dolthub/maphash"

	"github.com/IvanBrykalov/windcache/internal/expiry"
	"github.com/IvanBrykalov/windcache/internal/singleflight"
	"github.com/IvanBrykalov/windcache/internal/util"
)

// ErrNoLoader is returned by GetOrLoad when no Loader was configured in Options.
var ErrNoLoader = errors.New("cache: no Loader provided")

// cache wires the striped store, the event buffers, the W-TinyLFU policy,
// the timer wheel and the notification queue together. The data path
// (Get/Set/Invalidate) touches only a shard lock plus a lock-free-looking
// event record; all ordering and capacity work happens in maintenance.
type cache[K comparable, V any] struct {
	shards []*shard[K, V]
	hasher maphash.Hasher[K]

	readBuf  *readBuffer[K, V]
	writeBuf *writeBuffer[K, V]
	notifier *notifier[K, V]

	// evictionMu guards the policy, the wheel and the scratch slices.
	// It is taken with TryLock on the data path, so a caller that loses
	// the race simply leaves maintenance to whoever holds it.
	evictionMu   sync.Mutex
	policy       *tinyLFU[K, V]
	wheel        *expiry.Wheel[*entry[K, V]]
	readScratch  []*entry[K, V]
	writeScratch []writeEvent[K, V]

	weightedSize atomic.Int64

	hits      util.PaddedAtomicInt64
	misses    util.PaddedAtomicInt64
	evictions util.PaddedAtomicInt64

	opt      Options[K, V]
	ttl, tti int64 // ns; 0 = disabled
	closed   atomic.Bool

	cancel context.CancelFunc
	wg     sync.WaitGroup

	// singleflight group for coalescing concurrent loads in GetOrLoad.
	sf singleflight.Group[K, V]
}

// New constructs a cache with the provided Options. It panics on a fatal
// misconfiguration: MaxWeight <= 0 or a segment fraction outside (0,1).
func New[K comparable, V any](opt Options[K, V]) Cache[K, V] {
	if opt.MaxWeight <= 0 {
		panic("cache: MaxWeight must be > 0")
	}
	if opt.WindowFraction == 0 {
		opt.WindowFraction = defaultWindowFraction
	}
	if opt.ProtectedFraction == 0 {
		opt.ProtectedFraction = defaultProtectedFraction
	}
	if opt.WindowFraction <= 0 || opt.WindowFraction >= 1 {
		panic("cache: WindowFraction must be in (0,1)")
	}
	if opt.ProtectedFraction <= 0 || opt.ProtectedFraction >= 1 {
		panic("cache: ProtectedFraction must be in (0,1)")
	}
	if opt.Metrics == nil {
		opt.Metrics = NoopMetrics{}
	}
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	if opt.MaintenanceInterval == 0 {
		opt.MaintenanceInterval = defaultSweepInterval
	}

	sh := opt.Shards
	if sh <= 0 {
		sh = util.ReasonableShardCount()
	} else {
		sh = int(util.NextPow2(uint64(sh)))
	}
	perShardHint := 0
	if opt.InitialCapacity > 0 {
		perShardHint = (opt.InitialCapacity + sh - 1) / sh
	}

	// Sketch accuracy wants roughly one counter per resident entry.
	// Without a weigher MaxWeight is the entry count; with one, the
	// caller's InitialCapacity hint is the better estimate.
	sketchEntries := opt.MaxWeight
	if opt.Weigher != nil && opt.InitialCapacity > 0 {
		sketchEntries = int64(opt.InitialCapacity)
	}

	c := &cache[K, V]{
		shards:   make([]*shard[K, V], sh),
		hasher:   maphash.NewHasher[K](),
		notifier: newNotifier[K, V](opt.OnRemoval, opt.Logger),
		policy:   newTinyLFU[K, V](opt.MaxWeight, opt.WindowFraction, opt.ProtectedFraction, sketchEntries),
		opt:      opt,
	}
	for i := range c.shards {
		c.shards[i] = newShard[K, V](perShardHint)
	}
	if opt.TTL > 0 {
		c.ttl = int64(opt.TTL)
	}
	if opt.TTI > 0 {
		c.tti = int64(opt.TTI)
	}
	// The wheel is always built: SetWithTTL gives individual entries
	// deadlines even when no cache-wide TTL/TTI is configured. An empty
	// wheel costs a few dozen sentinel checks per maintenance cycle.
	c.wheel = expiry.New[*entry[K, V]](c.now())

	stripes := util.ReasonableShardCount()
	c.readBuf = newReadBuffer[K, V](stripes)
	c.writeBuf = newWriteBuffer[K, V](stripes)
	c.readScratch = make([]*entry[K, V], 0, readStripeCap)
	c.writeScratch = make([]writeEvent[K, V], 0, 64)

	if opt.MaintenanceInterval > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		c.cancel = cancel
		c.wg.Add(1)
		go c.sweepLoop(ctx)
	}
	return c
}

// ---- Cache[K,V] implementation ----

// Get returns the value for k and a presence flag.
func (c *cache[K, V]) Get(k K) (V, bool) {
	var zero V
	if c.closed.Load() {
		return zero, false
	}
	h := c.hasher.Hash(k)
	s := c.shardFor(h)
	now := c.now()

	s.mu.RLock()
	e, ok := s.m[k]
	if !ok || e.expiredAt(now) {
		// An expired entry is invisible; the wheel reaps it with cause
		// Expired on the next maintenance cycle.
		s.mu.RUnlock()
		c.misses.Add(1)
		c.opt.Metrics.Miss()
		return zero, false
	}
	v := e.val
	e.accessTime.Store(now)
	if c.tti > 0 {
		e.expireAt.Store(c.deadlineFor(e, now, e.writeTime.Load()))
	}
	s.mu.RUnlock()

	c.hits.Add(1)
	c.opt.Metrics.Hit()

	pressure := c.readBuf.record(h, e)
	if c.tti > 0 {
		// The idle-deadline reschedule must reach the wheel, so it rides
		// the lossless write queue rather than the droppable read buffer.
		c.writeBuf.push(h, writeEvent[K, V]{kind: eventTouch, e: e})
		pressure = true
	}
	if pressure {
		c.tryMaintenance()
	}
	return v, true
}

// Set inserts or updates k→v.
func (c *cache[K, V]) Set(k K, v V) { c.set(k, v, 0, false) }

// SetWithTTL inserts or updates k→v with a per-entry TTL (relative
// duration). A non-positive ttl disables the write deadline for this entry.
func (c *cache[K, V]) SetWithTTL(k K, v V, ttl time.Duration) { c.set(k, v, ttl, true) }

func (c *cache[K, V]) set(k K, v V, ttl time.Duration, override bool) {
	if c.closed.Load() {
		return
	}
	h := c.hasher.Hash(k)
	s := c.shardFor(h)
	now := c.now()
	w := c.weightOf(k, v)

	s.mu.Lock()
	if e, ok := s.m[k]; ok {
		// In-place update: the entry keeps its identity, so the policy's
		// positional handle stays valid and only a weight delta travels
		// through the write queue.
		old := e.val
		oldWeight := e.weight
		wasExpired := e.expiredAt(now)
		e.val = v
		e.weight = w
		if override {
			e.ttl = ttlOverrideNanos(ttl)
		} else {
			e.ttl = 0 // plain Set reverts to the cache-wide TTL
		}
		ver := e.version.Add(1)
		e.writeTime.Store(now)
		e.accessTime.Store(now)
		e.expireAt.Store(c.deadlineFor(e, now, now))
		// Pushed under the shard lock: per-key stripe order must match map
		// order, or a racing insert/update pair could drain the update
		// before the add and lose its weight delta.
		c.writeBuf.push(h, writeEvent[K, V]{kind: eventUpdate, e: e, weightDelta: w - oldWeight, version: ver})
		s.mu.Unlock()

		cause := CauseReplaced
		if wasExpired {
			// The old value was already invisible to readers; reaping it
			// here counts as an eviction, same as the wheel path.
			cause = CauseExpired
			c.opt.Metrics.Evict(CauseExpired)
			c.evictions.Add(1)
		}
		c.notifier.enqueue(k, old, cause)
		c.tryMaintenance()
		return
	}

	e := newEntry(k, h, v, w, now)
	if override {
		e.ttl = ttlOverrideNanos(ttl)
	}
	e.expireAt.Store(c.deadlineFor(e, now, now))
	s.m[k] = e
	c.writeBuf.push(h, writeEvent[K, V]{kind: eventAdd, e: e, weightDelta: w})
	s.mu.Unlock()

	c.tryMaintenance()
}

// Add inserts k→v only if absent. An expired entry that maintenance has
// not reaped yet counts as absent: the insert reaps it on the spot.
func (c *cache[K, V]) Add(k K, v V) bool {
	if c.closed.Load() {
		return false
	}
	h := c.hasher.Hash(k)
	s := c.shardFor(h)
	now := c.now()
	w := c.weightOf(k, v)

	var reaped *entry[K, V]
	s.mu.Lock()
	if e, ok := s.m[k]; ok {
		if !e.expiredAt(now) {
			s.mu.Unlock()
			return false
		}
		delete(s.m, k)
		if e.kill() {
			c.notifier.enqueue(k, e.val, CauseExpired)
			c.opt.Metrics.Evict(CauseExpired)
			c.evictions.Add(1)
		}
		reaped = e
	}
	e := newEntry(k, h, v, w, now)
	e.expireAt.Store(c.deadlineFor(e, now, now))
	s.m[k] = e
	if reaped != nil {
		c.writeBuf.push(h, writeEvent[K, V]{kind: eventDelete, e: reaped})
	}
	c.writeBuf.push(h, writeEvent[K, V]{kind: eventAdd, e: e, weightDelta: w})
	s.mu.Unlock()

	c.tryMaintenance()
	return true
}

// Invalidate removes k if present. The second call for the same key is a
// no-op: the kill flag makes destruction, and its notification, one-shot.
func (c *cache[K, V]) Invalidate(k K) bool {
	if c.closed.Load() {
		return false
	}
	h := c.hasher.Hash(k)
	s := c.shardFor(h)
	now := c.now()

	s.mu.Lock()
	e, ok := s.m[k]
	if !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.m, k)
	killed := e.kill()
	old := e.val
	visible := !e.expiredAt(now)
	c.writeBuf.push(h, writeEvent[K, V]{kind: eventDelete, e: e})
	s.mu.Unlock()

	if killed {
		cause := CauseExplicit
		if !visible {
			cause = CauseExpired
		}
		c.notifier.enqueue(k, old, cause)
		c.opt.Metrics.Evict(cause)
		c.evictions.Add(1)
	}
	c.tryMaintenance()
	return killed && visible
}

// InvalidateAll removes every entry, notifying the listener for each one
// that was still visible.
func (c *cache[K, V]) InvalidateAll() {
	if c.closed.Load() {
		return
	}
	now := c.now()
	for _, s := range c.shards {
		s.mu.Lock()
		for _, e := range s.m {
			if e.kill() {
				cause := CauseExplicit
				if e.expiredAt(now) {
					cause = CauseExpired
				}
				c.notifier.enqueue(e.key, e.val, cause)
				c.opt.Metrics.Evict(cause)
				c.evictions.Add(1)
			}
			c.writeBuf.push(e.hash, writeEvent[K, V]{kind: eventDelete, e: e})
		}
		s.m = make(map[K]*entry[K, V])
		s.mu.Unlock()
	}

	// Bulk removal deserves a deterministic cleanup: run the cycle now
	// instead of leaving a flood of delete events to chance.
	c.evictionMu.Lock()
	c.maintain()
	c.policy.reset()
	c.evictionMu.Unlock()
	c.notifier.flush()
}

// GetOrLoad returns the value for k; on miss it loads via Options.Loader,
// coalescing concurrent loads for the same key (singleflight).
func (c *cache[K, V]) GetOrLoad(ctx context.Context, k K) (V, error) {
	// fast path
	if v, ok := c.Get(k); ok {
		return v, nil
	}
	if c.opt.Loader == nil {
		var zero V
		return zero, ErrNoLoader
	}

	return c.sf.Do(ctx, k, func() (V, error) {
		// double-check after flight join
		if v, ok := c.Get(k); ok {
			return v, nil
		}
		start := time.Now()
		v, err := c.opt.Loader(ctx, k)
		if err != nil {
			c.opt.Metrics.LoadFailure(time.Since(start))
			return v, err
		}
		c.opt.Metrics.LoadSuccess(time.Since(start))
		c.Set(k, v)
		return v, nil
	})
}

// Len returns the total number of resident entries across all shards.
func (c *cache[K, V]) Len() int {
	total := 0
	for _, s := range c.shards {
		total += s.len()
	}
	return total
}

// WeightedSize returns the tracked weight as of the last maintenance cycle.
func (c *cache[K, V]) WeightedSize() int64 { return c.weightedSize.Load() }

// Close stops the background sweep, runs a final maintenance cycle and
// flushes pending notifications. Safe to call multiple times.
func (c *cache[K, V]) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if c.cancel != nil {
		c.cancel()
		c.wg.Wait()
	}
	c.RunPendingTasks()
	return nil
}

// ---- helpers ----

func (c *cache[K, V]) shardFor(hash uint64) *shard[K, V] {
	return c.shards[util.StripeIndex(hash, len(c.shards))]
}

func (c *cache[K, V]) now() int64 {
	if c.opt.Clock != nil {
		return c.opt.Clock.NowUnixNano()
	}
	return time.Now().UnixNano()
}

// weightOf computes the per-entry weight (clamped to [0, MaxInt32]).
func (c *cache[K, V]) weightOf(k K, v V) int32 {
	if c.opt.Weigher == nil {
		return 1
	}
	w := c.opt.Weigher(k, v)
	if w < 0 {
		w = 0
	}
	if w > math.MaxInt32 {
		w = math.MaxInt32
	}
	return int32(w)
}

// deadlineFor computes the entry's absolute expiration deadline: the
// sooner of write-time+TTL and access-time+TTI, 0 when neither applies.
// The caller must hold the entry's shard lock (e.ttl is lock-guarded).
func (c *cache[K, V]) deadlineFor(e *entry[K, V], accessTime, writeTime int64) int64 {
	ttl := c.ttl
	if e.ttl > 0 {
		ttl = e.ttl
	} else if e.ttl < 0 {
		ttl = 0
	}
	var d int64
	if ttl > 0 {
		d = writeTime + ttl
	}
	if c.tti > 0 {
		if idle := accessTime + c.tti; d == 0 || idle < d {
			d = idle
		}
	}
	return d
}

func ttlOverrideNanos(ttl time.Duration) int64 {
	if ttl <= 0 {
		return -1 // explicit "no write deadline" for this entry
	}
	return int64(ttl)
}
