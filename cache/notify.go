package cache

import (
	"log/slog"
	"sync"

	"github.com/gammazero/deque"
)

// RemovalCause explains why an entry left the cache. Causes are exclusive:
// a destroyed entry is reported exactly once, with exactly one cause.
type RemovalCause uint8

const (
	// CauseExplicit — removed by Invalidate or InvalidateAll.
	CauseExplicit RemovalCause = iota + 1
	// CauseReplaced — the value was overwritten by a new Set for the same key.
	CauseReplaced
	// CauseSize — evicted by the admission/eviction policy to respect MaxWeight.
	CauseSize
	// CauseExpired — the entry's TTL or TTI deadline passed.
	CauseExpired
)

func (c RemovalCause) String() string {
	switch c {
	case CauseExplicit:
		return "explicit"
	case CauseReplaced:
		return "replaced"
	case CauseSize:
		return "size"
	case CauseExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// removal is the immutable snapshot handed to the listener.
type removal[K comparable, V any] struct {
	key   K
	val   V
	cause RemovalCause
}

// notifier queues removal notifications during mutation/maintenance and
// delivers them outside every internal lock. A panicking listener is
// isolated per notification: the removal has already taken effect, so the
// panic is logged and swallowed, never propagated to the caller whose
// operation happened to run the maintenance cycle.
type notifier[K comparable, V any] struct {
	fn  func(K, V, RemovalCause)
	log *slog.Logger

	mu sync.Mutex
	q  *deque.Deque[removal[K, V]]

	// dispatchMu serializes delivery so the listener sees one callback at
	// a time even when several threads flush concurrently.
	dispatchMu sync.Mutex
}

func newNotifier[K comparable, V any](fn func(K, V, RemovalCause), log *slog.Logger) *notifier[K, V] {
	return &notifier[K, V]{fn: fn, log: log, q: deque.New[removal[K, V]]()}
}

// enqueue records a notification for later delivery. No-op without a listener.
func (n *notifier[K, V]) enqueue(k K, v V, cause RemovalCause) {
	if n.fn == nil {
		return
	}
	n.mu.Lock()
	n.q.PushBack(removal[K, V]{key: k, val: v, cause: cause})
	n.mu.Unlock()
}

// flush delivers everything queued so far. Must be called with no internal
// lock held.
//
// dispatchMu is taken with TryLock: a listener that writes back into the
// cache re-enters flush on its own goroutine, and blocking here would
// self-deadlock it. Losing the race is safe — the active flusher re-checks
// the queue every iteration, so anything enqueued meanwhile is still
// delivered.
func (n *notifier[K, V]) flush() {
	if n.fn == nil {
		return
	}
	if !n.dispatchMu.TryLock() {
		return
	}
	defer n.dispatchMu.Unlock()
	for {
		n.mu.Lock()
		if n.q.Len() == 0 {
			n.mu.Unlock()
			return
		}
		r := n.q.PopFront()
		n.mu.Unlock()
		n.deliver(r)
	}
}

func (n *notifier[K, V]) deliver(r removal[K, V]) {
	defer func() {
		if p := recover(); p != nil {
			n.log.Error("windcache: removal listener panicked",
				"cause", r.cause.String(), "panic", p)
		}
	}()
	n.fn(r.key, r.val, r.cause)
}
