package cache

import (
	"github.com/IvanBrykalov/windcache/internal/sketch"
)

// accessDeque is an intrusive MRU/LRU deque over entries (head = MRU).
// It also tracks the summed policy weight of its members.
type accessDeque[K comparable, V any] struct {
	head, tail *entry[K, V]
	weight     int64
	count      int
}

func (d *accessDeque[K, V]) pushFront(e *entry[K, V]) {
	e.prev = nil
	e.next = d.head
	if d.head != nil {
		d.head.prev = e
	}
	d.head = e
	if d.tail == nil {
		d.tail = e
	}
	d.count++
	d.weight += int64(e.policyWeight)
}

func (d *accessDeque[K, V]) moveToFront(e *entry[K, V]) {
	if e == d.head {
		return
	}
	if e.prev != nil {
		e.prev.next = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	}
	if d.tail == e {
		d.tail = e.prev
	}
	e.prev = nil
	e.next = d.head
	if d.head != nil {
		d.head.prev = e
	}
	d.head = e
	if d.tail == nil {
		d.tail = e
	}
}

func (d *accessDeque[K, V]) remove(e *entry[K, V]) {
	if e.prev != nil {
		e.prev.next = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	}
	if d.head == e {
		d.head = e.next
	}
	if d.tail == e {
		d.tail = e.prev
	}
	e.prev, e.next = nil, nil
	d.count--
	d.weight -= int64(e.policyWeight)
}

// back returns the current LRU entry, or nil.
func (d *accessDeque[K, V]) back() *entry[K, V] { return d.tail }

// tinyLFU is the Window-TinyLFU eviction/admission policy. New entries
// start in a small recency window; window overflow produces candidates
// that must beat the main region's next victim on estimated frequency to
// be admitted. The main region is a segmented LRU (probation/protected).
//
// All mutation happens inside the maintenance critical section; the data
// path only records events.
type tinyLFU[K comparable, V any] struct {
	window    accessDeque[K, V]
	probation accessDeque[K, V]
	protected accessDeque[K, V]

	freq *sketch.Sketch

	maxWeight    int64
	maxWindow    int64
	maxProtected int64
}

func newTinyLFU[K comparable, V any](maxWeight int64, windowFrac, protectedFrac float64, sketchEntries int64) *tinyLFU[K, V] {
	maxWindow := int64(float64(maxWeight) * windowFrac)
	if maxWindow < 1 {
		maxWindow = 1
	}
	maxMain := maxWeight - maxWindow
	maxProtected := int64(float64(maxMain) * protectedFrac)
	return &tinyLFU[K, V]{
		freq:         sketch.New(sketchEntries),
		maxWeight:    maxWeight,
		maxWindow:    maxWindow,
		maxProtected: maxProtected,
	}
}

func (p *tinyLFU[K, V]) maxMain() int64 { return p.maxWeight - p.maxWindow }

func (p *tinyLFU[K, V]) weightedSize() int64 {
	return p.window.weight + p.probation.weight + p.protected.weight
}

func (p *tinyLFU[K, V]) dequeOf(seg segment) *accessDeque[K, V] {
	switch seg {
	case segWindow:
		return &p.window
	case segProbation:
		return &p.probation
	case segProtected:
		return &p.protected
	default:
		return nil
	}
}

// onAdd tracks a freshly inserted entry. New entries always enter the
// window; admission into the main region is decided later, in evict.
func (p *tinyLFU[K, V]) onAdd(e *entry[K, V], weight int32) {
	p.freq.Increment(e.hash)
	if e.dead.Load() {
		// Removed from the store before the policy ever saw it.
		return
	}
	e.policyWeight = weight
	e.seg = segWindow
	p.window.pushFront(e)
}

// onUpdate applies a weight change from a value overwrite. The entry keeps
// its segment; only recency and the weight books change.
func (p *tinyLFU[K, V]) onUpdate(e *entry[K, V], weightDelta int32) {
	d := p.dequeOf(e.seg)
	if d == nil {
		return // untracked: superseded before this event drained
	}
	e.policyWeight += weightDelta
	d.weight += int64(weightDelta)
	d.moveToFront(e)
}

// onDelete untracks an entry removed from the store.
func (p *tinyLFU[K, V]) onDelete(e *entry[K, V]) {
	if d := p.dequeOf(e.seg); d != nil {
		d.remove(e)
		e.seg = segNone
	}
}

// onRead applies one drained read event: bump the frequency sketch and
// adjust segment membership. A probation hit promotes the entry to
// protected; protected overflow demotes its LRU back to probation so the
// protected region never exceeds its target for long.
func (p *tinyLFU[K, V]) onRead(e *entry[K, V]) {
	p.freq.Increment(e.hash)
	switch e.seg {
	case segWindow:
		p.window.moveToFront(e)
	case segProtected:
		p.protected.moveToFront(e)
	case segProbation:
		p.probation.remove(e)
		e.seg = segProtected
		p.protected.pushFront(e)
		for p.protected.weight > p.maxProtected {
			demoted := p.protected.back()
			if demoted == nil {
				break
			}
			p.protected.remove(demoted)
			demoted.seg = segProbation
			p.probation.pushFront(demoted)
		}
	}
}

// evict restores the capacity invariant. First the window is trimmed: each
// overflowing candidate either fits the main region or competes with the
// probation LRU victim on estimated frequency — the candidate must be
// strictly more frequent to displace the incumbent; ties keep the victim.
// Then lowest-priority entries (probation LRU, protected LRU, window LRU)
// are evicted until total weight fits MaxWeight.
//
// evictFn removes the entry from the store and emits the Size notification.
func (p *tinyLFU[K, V]) evict(evictFn func(*entry[K, V])) {
	for p.window.weight > p.maxWindow {
		cand := p.window.back()
		if cand == nil {
			break
		}
		p.window.remove(cand)
		cand.seg = segNone

		mainWeight := p.probation.weight + p.protected.weight
		if mainWeight+int64(cand.policyWeight) <= p.maxMain() {
			cand.seg = segProbation
			p.probation.pushFront(cand)
			continue
		}

		victim := p.probation.back()
		if victim == nil {
			victim = p.protected.back()
		}
		if victim == nil {
			// Main region is empty yet has no room: the candidate alone
			// exceeds it. Nothing to compare against; drop the candidate.
			evictFn(cand)
			continue
		}
		if p.freq.Estimate(cand.hash) > p.freq.Estimate(victim.hash) {
			p.onDelete(victim)
			evictFn(victim)
			cand.seg = segProbation
			p.probation.pushFront(cand)
		} else {
			evictFn(cand)
		}
	}

	for p.weightedSize() > p.maxWeight {
		victim := p.probation.back()
		if victim == nil {
			victim = p.protected.back()
		}
		if victim == nil {
			victim = p.window.back()
		}
		if victim == nil {
			break
		}
		p.onDelete(victim)
		evictFn(victim)
	}
}

// reset ages the sketch after a bulk invalidation. The segment deques
// empty through the per-entry delete events; the sketch is halved rather
// than zeroed because popularity history is still meaningful for keys
// that come back.
func (p *tinyLFU[K, V]) reset() {
	p.freq.Reset()
}
