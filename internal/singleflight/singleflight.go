// Package singleflight coalesces concurrent loads for the same key into a
// single computation.
package singleflight

import (
	"context"
	"sync"
)

// Group is a per-key in-flight registry. The first caller for a key becomes
// the leader and runs the computation; concurrent callers for the same key
// become followers and wait for the leader's result. Callers for different
// keys never wait on each other.
//
// Guarantees:
//   - Exactly one execution of fn per in-flight window for a key.
//   - All waiters observe the identical result or the identical error.
//   - The in-flight slot is cleared when the computation completes,
//     successfully or not, so a later caller may retry after a failure.
//   - A follower's ctx cancellation unblocks only that follower; the
//     leader's fn and the other waiters are unaffected. To cancel the
//     work itself, thread a ctx into fn.
type Group[K comparable, V any] struct {
	mu sync.Mutex
	m  map[K]*call[V]
}

type call[V any] struct {
	done chan struct{} // closed when val/err are published
	val  V
	err  error
}

// Do returns the result of running fn for key, coalescing with any
// in-flight call for the same key. Publishing (val, err) happens-before
// close(done), so followers reading after <-done observe the final values.
func (g *Group[K, V]) Do(ctx context.Context, key K, fn func() (V, error)) (V, error) {
	g.mu.Lock()
	if g.m == nil {
		g.m = make(map[K]*call[V])
	}
	if c, ok := g.m[key]; ok {
		// Follower: wait for the leader, respecting our own ctx.
		done := c.done
		g.mu.Unlock()

		select {
		case <-done:
			return c.val, c.err
		case <-ctx.Done():
			var zero V
			return zero, ctx.Err()
		}
	}

	// Leader for this key.
	c := &call[V]{done: make(chan struct{})}
	g.m[key] = c
	g.mu.Unlock()

	// Run fn outside the lock so unrelated keys proceed in parallel.
	c.val, c.err = fn()
	close(c.done)

	// Clear the slot regardless of outcome: a failed load must not pin
	// the key, or no caller could ever retry it.
	g.mu.Lock()
	delete(g.m, key)
	g.mu.Unlock()

	return c.val, c.err
}
