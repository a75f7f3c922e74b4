package cache

import (
	"sync/atomic"

	"github.com/IvanBrykalov/windcache/internal/expiry"
)

// segment identifies which policy deque an entry currently belongs to.
// An entry is in exactly one segment at a time (or none, before the policy
// has seen its add event / after it has been untracked).
type segment uint8

const (
	segNone segment = iota
	segWindow
	segProbation
	segProtected
)

// entry is one cache slot, shared between the store (map lookup) and the
// policy (deque position and timer-wheel slot). The store owns the
// canonical reference; the policy holds a positional handle that it
// validates against the dead flag and version stamp before acting.
//
// Field ownership:
//   - key, hash: immutable after construction
//   - val, weight, ttl: guarded by the owning shard's lock
//   - accessTime, writeTime, expireAt, version, dead: atomics, touched
//     from both the data path and maintenance
//   - prev, next, seg, policyWeight, timer: maintenance-only, guarded by
//     the coordinator's mutex
type entry[K comparable, V any] struct {
	key  K
	hash uint64

	val    V
	weight int32
	ttl    int64 // per-entry TTL override in ns: 0 = cache default, <0 = none

	accessTime atomic.Int64 // UnixNano of the last read or write
	writeTime  atomic.Int64 // UnixNano of the last write
	expireAt   atomic.Int64 // absolute deadline in UnixNano, 0 = no expiration
	version    atomic.Uint32
	dead       atomic.Bool

	prev, next   *entry[K, V]
	seg          segment
	policyWeight int32
	timer        expiry.Timer[*entry[K, V]]
}

func newEntry[K comparable, V any](k K, hash uint64, v V, weight int32, now int64) *entry[K, V] {
	e := &entry[K, V]{key: k, hash: hash, val: v, weight: weight}
	e.timer.Value = e
	e.accessTime.Store(now)
	e.writeTime.Store(now)
	return e
}

// expiredAt reports whether the entry's deadline has passed.
func (e *entry[K, V]) expiredAt(now int64) bool {
	d := e.expireAt.Load()
	return d != 0 && now > d
}

// kill marks the entry destroyed. It succeeds for exactly one caller,
// which makes removal causes exclusive: whoever wins the CAS is the only
// side allowed to emit the entry's removal notification.
func (e *entry[K, V]) kill() bool {
	return e.dead.CompareAndSwap(false, true)
}
