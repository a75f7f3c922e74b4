package cache

import (
	"sync"

	"github.com/gammazero/deque"

	"github.com/IvanBrykalov/windcache/internal/util"
)

const (
	// readStripeCap bounds one read stripe. Reads only feed the admission
	// policy with approximate recency, so a full or contended stripe drops
	// the event instead of blocking the reader.
	readStripeCap = 64

	// readPressureMark is the fill level at which a recording reader nudges
	// the maintenance coordinator.
	readPressureMark = readStripeCap * 3 / 4
)

type eventKind uint8

const (
	eventAdd eventKind = iota + 1
	eventUpdate
	eventDelete
	eventTouch // TTI reschedule for an accessed entry
)

// writeEvent records a capacity-affecting mutation (or a TTI touch) for the
// maintenance coordinator. weightDelta carries the full weight for adds and
// the signed change for updates.
type writeEvent[K comparable, V any] struct {
	kind        eventKind
	e           *entry[K, V]
	weightDelta int32
	version     uint32 // entry version at record time; stale updates are skipped
}

// readStripe is one lossy ring of recorded read hits.
type readStripe[K comparable, V any] struct {
	mu  sync.Mutex
	buf []*entry[K, V] // len < readStripeCap; reset by drain
	_   util.CacheLinePad
}

// readBuffer is the striped, drop-on-full read-event recorder. Recording
// uses a try-lock: a contended or full stripe loses the event, which only
// degrades admission accuracy, never correctness.
type readBuffer[K comparable, V any] struct {
	stripes []readStripe[K, V]
	dropped util.PaddedAtomicUint64
}

func newReadBuffer[K comparable, V any](stripes int) *readBuffer[K, V] {
	b := &readBuffer[K, V]{stripes: make([]readStripe[K, V], stripes)}
	for i := range b.stripes {
		b.stripes[i].buf = make([]*entry[K, V], 0, readStripeCap)
	}
	return b
}

// record notes a read hit. It never blocks. The return value reports
// buffer pressure: true tells the caller it is time to try maintenance.
func (b *readBuffer[K, V]) record(hash uint64, e *entry[K, V]) bool {
	s := &b.stripes[util.StripeIndex(hash, len(b.stripes))]
	if !s.mu.TryLock() {
		b.dropped.Add(1)
		return false
	}
	pressure := false
	if len(s.buf) < readStripeCap {
		s.buf = append(s.buf, e)
		pressure = len(s.buf) >= readPressureMark
	} else {
		b.dropped.Add(1)
		pressure = true
	}
	s.mu.Unlock()
	return pressure
}

// drain hands every buffered read to fn. Called only by the maintenance
// coordinator; scratch is reused across cycles to avoid allocation. The
// stripe lock is dropped before fn runs so readers keep recording.
func (b *readBuffer[K, V]) drain(scratch []*entry[K, V], fn func(*entry[K, V])) []*entry[K, V] {
	for i := range b.stripes {
		s := &b.stripes[i]
		s.mu.Lock()
		scratch = append(scratch[:0], s.buf...)
		s.buf = s.buf[:0]
		s.mu.Unlock()
		for _, e := range scratch {
			fn(e)
		}
	}
	return scratch[:0]
}

// writeStripe is one lossless queue of write events.
type writeStripe[K comparable, V any] struct {
	mu sync.Mutex
	q  *deque.Deque[writeEvent[K, V]]
	_  util.CacheLinePad
}

// writeBuffer is the striped, never-dropping write-event queue. A key's
// events always land on the same stripe, so they drain in the order the
// store applied them; that per-key FIFO is what keeps the policy's weight
// bookkeeping consistent.
type writeBuffer[K comparable, V any] struct {
	stripes []writeStripe[K, V]
}

func newWriteBuffer[K comparable, V any](stripes int) *writeBuffer[K, V] {
	b := &writeBuffer[K, V]{stripes: make([]writeStripe[K, V], stripes)}
	for i := range b.stripes {
		b.stripes[i].q = deque.New[writeEvent[K, V]]()
	}
	return b
}

// push appends a write event. Write events are never dropped: each one
// corresponds to a real mutation the policy must account for.
func (b *writeBuffer[K, V]) push(hash uint64, ev writeEvent[K, V]) {
	s := &b.stripes[util.StripeIndex(hash, len(b.stripes))]
	s.mu.Lock()
	s.q.PushBack(ev)
	s.mu.Unlock()
}

// drain applies every event buffered at the time of the call. Events pushed
// while fn runs are left for the next cycle (one snapshot per stripe keeps
// the critical section bounded). Maintenance-only; scratch is reused.
func (b *writeBuffer[K, V]) drain(scratch []writeEvent[K, V], fn func(writeEvent[K, V])) []writeEvent[K, V] {
	for i := range b.stripes {
		s := &b.stripes[i]
		s.mu.Lock()
		scratch = scratch[:0]
		for s.q.Len() > 0 {
			scratch = append(scratch, s.q.PopFront())
		}
		s.mu.Unlock()
		for _, ev := range scratch {
			fn(ev)
		}
	}
	return scratch[:0]
}
