package cache

import (
	"context"
	"math/rand"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// A mixed workload of concurrent Set/Get/SetWithTTL/Invalidate on random
// keys, with a listener attached. Should pass under `-race` without
// detector reports.
func TestRace_Basic(t *testing.T) {
	var notified atomic.Int64
	c := New[string, []byte](Options[string, []byte]{
		MaxWeight: 8_192,
		Shards:    32,
		OnRemoval: func(k string, v []byte, cause RemovalCause) {
			notified.Add(1)
		},
		MaintenanceInterval: 10 * time.Millisecond,
	})
	t.Cleanup(func() { _ = c.Close() })

	workers := 4 * runtime.GOMAXPROCS(0)
	keyspace := 50_000
	deadline := time.Now().Add(2 * time.Second)

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(id int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id)*9973))
			for time.Now().Before(deadline) {
				k := "k:" + strconv.Itoa(r.Intn(keyspace))
				switch r.Intn(100) {
				case 0, 1, 2, 3, 4: // ~5% — Invalidate
					c.Invalidate(k)
				case 5, 6, 7, 8, 9: // ~5% — SetWithTTL
					c.SetWithTTL(k, []byte("x"), time.Duration(10+r.Intn(20))*time.Millisecond)
				case 10, 11, 12, 13, 14, 15, 16, 17, 18, 19: // ~10% — Set
					c.Set(k, []byte("x"))
				default: // ~80% — Get
					c.Get(k)
				}
			}
		}(w)
	}
	wg.Wait()

	c.RunPendingTasks()
	if got := c.WeightedSize(); got > 8_192 {
		t.Fatalf("WeightedSize %d exceeds MaxWeight after settling", got)
	}
}

// Concurrent inserts, updates and invalidations of the same weighted keys
// must leave the policy's weight books equal to the resident weight once
// everything drains: per-key event order is fixed under the shard lock,
// so no update delta can outrun its insert.
func TestRace_WeightBooksBalance(t *testing.T) {
	c := New[int, string](Options[int, string]{
		MaxWeight:           1 << 30, // never evict; isolates the bookkeeping
		Weigher:             func(k int, v string) int { return len(v) },
		MaintenanceInterval: -1,
	})
	t.Cleanup(func() { _ = c.Close() })

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(int64(id)*7919 + 1))
			for i := 0; i < 20_000; i++ {
				k := r.Intn(64)
				switch r.Intn(10) {
				case 0:
					c.Invalidate(k)
				default:
					c.Set(k, strings.Repeat("x", 1+r.Intn(32)))
				}
			}
		}(w)
	}
	wg.Wait()

	c.RunPendingTasks()
	c.RunPendingTasks()

	impl := c.(*cache[int, string])
	var resident int64
	for _, s := range impl.shards {
		s.mu.RLock()
		for _, e := range s.m {
			resident += int64(e.weight)
		}
		s.mu.RUnlock()
	}
	if got := impl.policy.weightedSize(); got != resident {
		t.Fatalf("policy tracks weight %d but %d is resident", got, resident)
	}
	if got := c.WeightedSize(); got != resident {
		t.Fatalf("WeightedSize() = %d, want %d", got, resident)
	}
}

// One hundred goroutines call GetOrLoad on the same key concurrently.
// The Loader should run at most once (singleflight coalescing).
func TestRace_GetOrLoad(t *testing.T) {
	var calls int64

	c := New[string, string](Options[string, string]{
		MaxWeight: 1024,
		Loader: func(_ context.Context, k string) (string, error) {
			atomic.AddInt64(&calls, 1)
			time.Sleep(2 * time.Millisecond) // simulate I/O
			return "v:" + k, nil
		},
	})
	t.Cleanup(func() { _ = c.Close() })

	const goroutines = 100
	key := "same-key"

	start := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(goroutines)

	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			<-start
			v, err := c.GetOrLoad(context.Background(), key)
			if err != nil {
				t.Errorf("GetOrLoad error: %v", err)
				return
			}
			if v != "v:"+key {
				t.Errorf("unexpected value: %q", v)
			}
		}()
	}

	close(start)
	wg.Wait()

	if got := atomic.LoadInt64(&calls); got > 1 {
		t.Fatalf("loader should run at most once, got %d", got)
	}

	// Subsequent call should be a pure cache hit.
	if v, err := c.GetOrLoad(context.Background(), key); err != nil || v != "v:"+key {
		t.Fatalf("second GetOrLoad failed: v=%q err=%v", v, err)
	}
}

// Concurrent writers and the background sweep race on the same hot keys;
// afterwards the books must balance.
func TestRace_ChurnSettles(t *testing.T) {
	c := New[int, int](Options[int, int]{
		MaxWeight:           256,
		TTL:                 20 * time.Millisecond,
		MaintenanceInterval: 5 * time.Millisecond,
	})
	t.Cleanup(func() { _ = c.Close() })

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := 0; i < 5_000; i++ {
				k := (id*5_000 + i) % 512
				c.Set(k, i)
				if i%3 == 0 {
					c.Invalidate(k)
				}
			}
		}(w)
	}
	wg.Wait()

	time.Sleep(50 * time.Millisecond) // let the TTL pass
	c.RunPendingTasks()
	c.RunPendingTasks()

	if got := c.Len(); got != 0 {
		t.Fatalf("Len = %d, want 0 after churn expired", got)
	}
	if got := c.WeightedSize(); got != 0 {
		t.Fatalf("WeightedSize = %d, want 0 after churn expired", got)
	}
}
