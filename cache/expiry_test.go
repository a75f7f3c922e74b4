package cache

import (
	"fmt"
	"testing"
	"time"
)

// An entry past its TTL is reaped by the wheel with cause "expired",
// exactly once, and the store forgets it.
func TestCache_TTLExpiresOnce(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{}
	rec := &recorder[string, string]{}
	c := New[string, string](Options[string, string]{
		MaxWeight:           8,
		TTL:                 100 * time.Millisecond,
		Clock:               clk,
		OnRemoval:           rec.fn,
		MaintenanceInterval: -1,
	})
	t.Cleanup(func() { _ = c.Close() })

	c.Set("x", "v")
	c.RunPendingTasks()

	clk.add(200 * time.Millisecond)
	c.RunPendingTasks()
	c.RunPendingTasks() // a second cycle must not re-report

	if got := rec.count(); got != 1 {
		t.Fatalf("want exactly 1 notification, got %d", got)
	}
	if r := rec.removed[0]; r.cause != CauseExpired || r.k != "x" {
		t.Fatalf("want (x, expired), got (%s, %s)", r.k, r.cause)
	}
	if got := c.Len(); got != 0 {
		t.Fatalf("Len = %d, want 0 after expiry", got)
	}
}

// TTI: every access pushes the idle deadline out; the entry dies only
// after a quiet period.
func TestCache_TTIExtendsOnAccess(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{}
	rec := &recorder[string, string]{}
	c := New[string, string](Options[string, string]{
		MaxWeight:           8,
		TTI:                 100 * time.Millisecond,
		Clock:               clk,
		OnRemoval:           rec.fn,
		MaintenanceInterval: -1,
	})
	t.Cleanup(func() { _ = c.Close() })

	c.Set("x", "v")
	c.RunPendingTasks()

	// Keep touching it: each read resets the idle clock.
	for i := 0; i < 5; i++ {
		clk.add(50 * time.Millisecond)
		if _, ok := c.Get("x"); !ok {
			t.Fatalf("touch %d: entry must still be alive", i)
		}
		c.RunPendingTasks()
	}

	// Go quiet past the TTI.
	clk.add(200 * time.Millisecond)
	if _, ok := c.Get("x"); ok {
		t.Fatal("idle entry must read as a miss")
	}
	c.RunPendingTasks()

	if got := rec.count(); got != 1 {
		t.Fatalf("want exactly 1 notification, got %d", got)
	}
	if rec.removed[0].cause != CauseExpired {
		t.Fatalf("want expired, got %s", rec.removed[0].cause)
	}
}

// SetWithTTL works without any cache-wide TTL/TTI configured.
func TestCache_PerEntryTTLOnly(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{}
	rec := &recorder[string, string]{}
	c := New[string, string](Options[string, string]{
		MaxWeight:           8,
		Clock:               clk,
		OnRemoval:           rec.fn,
		MaintenanceInterval: -1,
	})
	t.Cleanup(func() { _ = c.Close() })

	c.SetWithTTL("tmp", "v", 50*time.Millisecond)
	c.Set("keep", "v")
	c.RunPendingTasks()

	clk.add(time.Hour)
	c.RunPendingTasks()

	if _, ok := c.Get("keep"); !ok {
		t.Fatal("entry without a deadline must survive")
	}
	if _, ok := c.Get("tmp"); ok {
		t.Fatal("per-entry TTL must have expired tmp")
	}
	if got := rec.count(); got != 1 {
		t.Fatalf("want 1 notification, got %d", got)
	}
	if r := rec.removed[0]; r.k != "tmp" || r.cause != CauseExpired {
		t.Fatalf("want (tmp, expired), got (%s, %s)", r.k, r.cause)
	}
}

// Overwriting an entry the wheel has not reaped yet destroys the stale
// value: the write path must count that as an eviction, the same as the
// wheel and insert-reap paths do.
func TestCache_SetOverExpiredCountsEviction(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{}
	rec := &recorder[string, string]{}
	c := New[string, string](Options[string, string]{
		MaxWeight:           8,
		TTL:                 100 * time.Millisecond,
		Clock:               clk,
		OnRemoval:           rec.fn,
		MaintenanceInterval: -1,
	})
	t.Cleanup(func() { _ = c.Close() })

	c.Set("x", "v1")
	c.RunPendingTasks()

	clk.add(200 * time.Millisecond)
	c.Set("x", "v2") // v1 is past its deadline but still resident

	if got := rec.count(); got != 1 {
		t.Fatalf("want 1 notification, got %d", got)
	}
	if r := rec.removed[0]; r.k != "x" || r.v != "v1" || r.cause != CauseExpired {
		t.Fatalf("want (x, v1, expired), got (%s, %s, %s)", r.k, r.v, r.cause)
	}
	if got := c.Stats().Evictions; got != 1 {
		t.Fatalf("Evictions = %d, want 1", got)
	}

	// The refreshed entry must survive the wheel pass, with no double count.
	c.RunPendingTasks()
	if v, ok := c.Get("x"); !ok || v != "v2" {
		t.Fatalf("overwritten entry must live, got %q ok=%v", v, ok)
	}
	if got, want := rec.count(), 1; got != want {
		t.Fatalf("notifications = %d, want %d after maintenance", got, want)
	}
	if got := c.Stats().Evictions; got != 1 {
		t.Fatalf("Evictions = %d, want 1 after maintenance", got)
	}
}

// A write refreshes the TTL deadline: the wheel must not reap the
// just-overwritten value.
func TestCache_WriteRefreshesTTL(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{}
	rec := &recorder[string, string]{}
	c := New[string, string](Options[string, string]{
		MaxWeight:           8,
		TTL:                 100 * time.Millisecond,
		Clock:               clk,
		OnRemoval:           rec.fn,
		MaintenanceInterval: -1,
	})
	t.Cleanup(func() { _ = c.Close() })

	c.Set("x", "v1")
	c.RunPendingTasks()

	clk.add(80 * time.Millisecond)
	c.Set("x", "v2") // new deadline at t=180ms
	c.RunPendingTasks()

	clk.add(80 * time.Millisecond) // t=160ms: past the first deadline, not the second
	c.RunPendingTasks()
	if v, ok := c.Get("x"); !ok || v != "v2" {
		t.Fatalf("refreshed entry must live, got %q ok=%v", v, ok)
	}

	clk.add(100 * time.Millisecond) // t=260ms
	c.RunPendingTasks()
	if _, ok := c.Get("x"); ok {
		t.Fatal("entry must expire at the refreshed deadline")
	}

	// One "replaced" for v1, one "expired" for v2, nothing else.
	if got := rec.count(); got != 2 {
		t.Fatalf("want 2 notifications, got %d", got)
	}
	if rec.removed[0].cause != CauseReplaced || rec.removed[0].v != "v1" {
		t.Fatalf("first: want (v1, replaced), got (%s, %s)", rec.removed[0].v, rec.removed[0].cause)
	}
	if rec.removed[1].cause != CauseExpired || rec.removed[1].v != "v2" {
		t.Fatalf("second: want (v2, expired), got (%s, %s)", rec.removed[1].v, rec.removed[1].cause)
	}
}

// Causes are exclusive: every inserted key is reported exactly once, as
// either a size eviction or an expiration, never both.
func TestCache_CauseExclusivity(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{}
	rec := &recorder[string, int]{}
	c := New[string, int](Options[string, int]{
		MaxWeight:           4,
		TTL:                 100 * time.Millisecond,
		Clock:               clk,
		OnRemoval:           rec.fn,
		MaintenanceInterval: -1,
	})
	t.Cleanup(func() { _ = c.Close() })

	const n = 8
	for i := 0; i < n; i++ {
		c.Set(fmt.Sprintf("k:%d", i), i)
	}
	c.RunPendingTasks() // size evictions down to MaxWeight

	clk.add(200 * time.Millisecond)
	c.RunPendingTasks() // survivors expire

	seen := map[string]RemovalCause{}
	rec.mu.Lock()
	for _, r := range rec.removed {
		if prev, dup := seen[r.k]; dup {
			t.Fatalf("key %q reported twice: %s then %s", r.k, prev, r.cause)
		}
		seen[r.k] = r.cause
	}
	rec.mu.Unlock()

	if len(seen) != n {
		t.Fatalf("want %d keys reported, got %d", n, len(seen))
	}
	for k, cause := range seen {
		if cause != CauseSize && cause != CauseExpired {
			t.Fatalf("key %q reported with cause %s", k, cause)
		}
	}
	if got := c.Len(); got != 0 {
		t.Fatalf("Len = %d, want 0 after everything expired", got)
	}
}
