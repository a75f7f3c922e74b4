package cache

import (
	"context"
	"time"

	"github.com/IvanBrykalov/windcache/internal/expiry"
)

// tryMaintenance runs a maintenance cycle if the coordinator lock is free.
// Callers on the data path never wait: if someone else holds the lock, the
// buffered events are their problem (or the background sweep's).
func (c *cache[K, V]) tryMaintenance() {
	if !c.evictionMu.TryLock() {
		return
	}
	c.maintain()
	c.evictionMu.Unlock()
	c.notifier.flush()
}

// RunPendingTasks runs one full maintenance cycle, blocking until the
// coordinator lock is available, then delivers queued notifications.
func (c *cache[K, V]) RunPendingTasks() {
	c.evictionMu.Lock()
	c.maintain()
	c.evictionMu.Unlock()
	c.notifier.flush()
}

// maintain is the single-threaded heart of the cache: drain write events,
// drain read events, advance the timer wheel, evict down to capacity and
// publish the new weight. Caller holds evictionMu.
func (c *cache[K, V]) maintain() {
	now := c.now()

	c.writeScratch = c.writeBuf.drain(c.writeScratch, c.applyWrite)
	c.readScratch = c.readBuf.drain(c.readScratch, func(e *entry[K, V]) {
		if !e.dead.Load() {
			c.policy.onRead(e)
		}
	})

	c.wheel.Advance(now, func(t *expiry.Timer[*entry[K, V]]) {
		c.expireEntry(t.Value, now)
	})

	c.policy.evict(c.evictEntry)

	w := c.policy.weightedSize()
	c.weightedSize.Store(w)
	c.opt.Metrics.Size(c.Len(), w)
}

// applyWrite replays one store mutation into the policy and the wheel.
func (c *cache[K, V]) applyWrite(ev writeEvent[K, V]) {
	e := ev.e
	switch ev.kind {
	case eventAdd:
		c.policy.onAdd(e, ev.weightDelta)
		if !e.dead.Load() {
			c.scheduleTimer(e)
		}
	case eventUpdate:
		// The weight delta always applies: deltas from a run of updates
		// telescope to the right total even when drained out of date.
		c.policy.onUpdate(e, ev.weightDelta)
		// The deadline does not telescope, so only the event matching the
		// entry's current version may touch the wheel.
		if !e.dead.Load() && ev.version == e.version.Load() {
			c.scheduleTimer(e)
		}
	case eventDelete:
		c.wheel.Remove(&e.timer)
		c.policy.onDelete(e)
	case eventTouch:
		if !e.dead.Load() {
			c.scheduleTimer(e)
		}
	}
}

// scheduleTimer (re)schedules the entry on the wheel for its current
// deadline, or removes it when no deadline applies. Caller holds evictionMu.
func (c *cache[K, V]) scheduleTimer(e *entry[K, V]) {
	d := e.expireAt.Load()
	if d == 0 {
		c.wheel.Remove(&e.timer)
		return
	}
	c.wheel.Schedule(&e.timer, d)
}

// expireEntry handles one fired timer. The deadline may have been pushed
// out by a write or a TTI touch after the timer was scheduled; a refreshed
// entry goes back on the wheel instead of dying.
func (c *cache[K, V]) expireEntry(e *entry[K, V], now int64) {
	if e.dead.Load() {
		// Already removed elsewhere; the matching delete event untracks it.
		return
	}
	d := e.expireAt.Load()
	if d == 0 {
		return
	}
	if d > now {
		c.wheel.Schedule(&e.timer, d)
		return
	}
	s := c.shardFor(e.hash)
	v, ok := s.removeExpired(e, now)
	if !ok {
		// Lost a race with a concurrent write or removal; whatever won
		// queued the events that settle the books.
		return
	}
	c.policy.onDelete(e)
	c.notifier.enqueue(e.key, v, CauseExpired)
	c.opt.Metrics.Evict(CauseExpired)
	c.evictions.Add(1)
}

// evictEntry removes a size victim chosen by the policy. The policy has
// already untracked it; here it leaves the store, the wheel and gains its
// notification.
func (c *cache[K, V]) evictEntry(e *entry[K, V]) {
	c.wheel.Remove(&e.timer)
	s := c.shardFor(e.hash)
	v, ok := s.removeIfCurrent(e)
	if !ok {
		return
	}
	c.notifier.enqueue(e.key, v, CauseSize)
	c.opt.Metrics.Evict(CauseSize)
	c.evictions.Add(1)
}

// sweepLoop bounds event staleness when the data path goes quiet: an idle
// cache still expires entries and delivers notifications on schedule.
func (c *cache[K, V]) sweepLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.opt.MaintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.RunPendingTasks()
		}
	}
}
