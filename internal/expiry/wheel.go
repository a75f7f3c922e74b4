// Package expiry implements a hierarchical timer wheel for tracking
// per-entry expiration deadlines.
//
// The wheel has several levels of 64 slots each; a level-0 slot covers
// ~1.05ms (2^20 ns) and every level up is 64x coarser. Scheduling,
// rescheduling and removal are O(1); advancing cascades timers from
// coarse levels down as their deadline approaches.
//
// The wheel holds time as int64 UnixNano and never reads a clock itself:
// the caller feeds it "now", which keeps it deterministic under an
// injected clock. It is not safe for concurrent use; the maintenance
// coordinator is its only caller.
package expiry

const (
	numLevels = 5
	wheelBits = 6
	wheelSize = 1 << wheelBits // 64 slots per level
	wheelMask = wheelSize - 1
	tickBits  = 20 // level-0 tick: 2^20 ns ≈ 1.05ms
)

// shift returns the bit shift converting nanoseconds to ticks at a level.
func shift(level int) uint {
	return uint(tickBits + wheelBits*level)
}

// span returns the range of nanoseconds one full rotation covers at a level.
func span(level int) int64 {
	return int64(1) << (shift(level) + wheelBits)
}

// Timer is an intrusive wheel node carrying one scheduled value.
// The zero value is ready to use; set Value before scheduling.
type Timer[T any] struct {
	Value    T
	deadline int64
	prev     *Timer[T]
	next     *Timer[T]
}

// Deadline returns the absolute deadline the timer was scheduled with,
// in UnixNano. Zero if never scheduled.
func (t *Timer[T]) Deadline() int64 { return t.deadline }

// Scheduled reports whether the timer is currently linked into a wheel.
func (t *Timer[T]) Scheduled() bool { return t.next != nil }

func (t *Timer[T]) unlink() {
	t.prev.next = t.next
	t.next.prev = t.prev
	t.prev, t.next = nil, nil
}

// Wheel is the hierarchical timer wheel.
type Wheel[T any] struct {
	buckets [numLevels][wheelSize]Timer[T] // slot sentinels
	now     int64                          // time of the last Advance
}

// New returns a wheel anchored at the given time (UnixNano).
func New[T any](now int64) *Wheel[T] {
	w := &Wheel[T]{now: now}
	for l := range w.buckets {
		for s := range w.buckets[l] {
			b := &w.buckets[l][s]
			b.prev, b.next = b, b
		}
	}
	return w
}

// Schedule links t to the slot covering deadline, unlinking it first if it
// is already scheduled. Deadlines in the past land in the nearest upcoming
// slot and fire on the next Advance.
func (w *Wheel[T]) Schedule(t *Timer[T], deadline int64) {
	if t.Scheduled() {
		t.unlink()
	}
	t.deadline = deadline

	d := deadline - w.now
	if d < 0 {
		d = 0
	}
	level := 0
	for level < numLevels-1 && d >= span(level) {
		level++
	}

	var slot int64
	if d >= span(numLevels-1) {
		// Beyond the top level's horizon: park in the slot farthest from
		// "now" at the top level; it cascades until the deadline is in range.
		slot = (w.now>>shift(level) + wheelSize - 1) & wheelMask
	} else {
		ticks := deadline >> shift(level)
		// A deadline inside the current (or a passed) slot goes to the next
		// slot; firing is never early, at most one tick of this level late.
		if nowTicks := w.now >> shift(level); ticks <= nowTicks {
			ticks = nowTicks + 1
		}
		slot = ticks & wheelMask
	}

	b := &w.buckets[level][slot]
	t.prev, t.next = b, b.next
	b.next.prev = t
	b.next = t
}

// Remove unlinks t if it is scheduled. Safe to call on an idle timer.
func (w *Wheel[T]) Remove(t *Timer[T]) {
	if t.Scheduled() {
		t.unlink()
	}
}

// Advance moves the wheel to now, draining every slot whose time range has
// passed. Timers whose deadline has been reached are handed to expire;
// timers that merely need a finer slot are rescheduled (cascade).
//
// expire may call Schedule on the expired timer (e.g. when the entry's
// deadline was refreshed after it was last scheduled); the timer is fully
// unlinked before the callback runs.
func (w *Wheel[T]) Advance(now int64, expire func(*Timer[T])) {
	if now <= w.now {
		return
	}
	prev := w.now
	w.now = now

	for level := 0; level < numLevels; level++ {
		prevTicks := prev >> shift(level)
		nowTicks := now >> shift(level)
		if prevTicks >= nowTicks {
			// No slot boundary crossed here, so none crossed above either.
			break
		}
		steps := nowTicks - prevTicks
		if steps > wheelSize {
			steps = wheelSize // one full rotation covers every slot
		}
		for i := int64(1); i <= steps; i++ {
			b := &w.buckets[level][(prevTicks+i)&wheelMask]
			// Detach the whole chain first: expire/cascade may relink
			// timers into this very bucket.
			head := b.next
			b.prev, b.next = b, b
			for t := head; t != b; {
				next := t.next
				t.prev, t.next = nil, nil
				if t.deadline <= now {
					expire(t)
				} else {
					w.Schedule(t, t.deadline)
				}
				t = next
			}
		}
	}
}
