package cache

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// A panicking listener must not take down the caller whose operation
// happened to deliver notifications, and must not stop later deliveries.
func TestNotifier_ListenerPanicIsolated(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var delivered []string

	c := New[string, int](Options[string, int]{
		MaxWeight: 8,
		OnRemoval: func(k string, v int, cause RemovalCause) {
			mu.Lock()
			delivered = append(delivered, k)
			mu.Unlock()
			if k == "boom" {
				panic("listener bug")
			}
		},
		Logger:              slog.New(slog.NewTextHandler(io.Discard, nil)),
		MaintenanceInterval: -1,
	})
	t.Cleanup(func() { _ = c.Close() })

	c.Set("boom", 1)
	c.Set("ok", 2)
	c.RunPendingTasks()

	c.Invalidate("boom") // panics in the listener
	c.Invalidate("ok")   // must still be delivered
	c.RunPendingTasks()

	mu.Lock()
	defer mu.Unlock()
	if len(delivered) != 2 {
		t.Fatalf("want 2 deliveries, got %d (%v)", len(delivered), delivered)
	}
}

// A listener may write back into the cache from its callback. The write
// triggers a nested flush on the delivering goroutine, which must bail out
// instead of blocking on the dispatch lock it already holds.
func TestNotifier_ListenerWritesBack(t *testing.T) {
	t.Parallel()

	var c Cache[string, int]
	c = New[string, int](Options[string, int]{
		MaxWeight: 8,
		OnRemoval: func(k string, v int, cause RemovalCause) {
			if k == "trigger" {
				c.Set("side-effect", v+1)
			}
		},
		MaintenanceInterval: -1,
	})
	t.Cleanup(func() { _ = c.Close() })

	c.Set("trigger", 1)
	c.RunPendingTasks()

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Invalidate("trigger")
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Invalidate never returned while its listener wrote to the cache")
	}

	c.RunPendingTasks()
	if v, ok := c.Get("side-effect"); !ok || v != 2 {
		t.Fatalf("listener write must land, got %v ok=%v", v, ok)
	}
}

// Without a listener nothing is queued and nothing breaks.
func TestNotifier_NoListener(t *testing.T) {
	t.Parallel()

	c := New[string, int](Options[string, int]{MaxWeight: 2, MaintenanceInterval: -1})
	t.Cleanup(func() { _ = c.Close() })

	for i := 0; i < 100; i++ {
		c.Set("k", i)
	}
	c.Invalidate("k")
	c.RunPendingTasks()

	if got := c.Len(); got != 0 {
		t.Fatalf("Len = %d, want 0", got)
	}
}

// RemovalCause strings are stable; metric labels depend on them.
func TestRemovalCause_String(t *testing.T) {
	t.Parallel()

	want := map[RemovalCause]string{
		CauseExplicit:   "explicit",
		CauseReplaced:   "replaced",
		CauseSize:       "size",
		CauseExpired:    "expired",
		RemovalCause(0): "unknown",
	}
	for cause, s := range want {
		if got := cause.String(); got != s {
			t.Fatalf("cause %d: want %q, got %q", cause, s, got)
		}
	}
}
