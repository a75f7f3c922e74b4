// Package sketch implements a count-min sketch with 4-bit saturating
// counters, used to estimate recent access frequency per key hash.
//
// Estimates are approximate and may over-count (never under-count a key
// relative to its true recent frequency by design of count-min). Counters
// are periodically halved so that stale popularity decays.
package sketch

import (
	"github.com/IvanBrykalov/windcache/internal/util"
)

// depth is the number of independent counter rows. Four rows keep the
// collision error low at negligible cost.
const depth = 4

// Per-row multipliers for deriving row indexes from one 64-bit key hash.
// Large odd constants; the high half of the product is well mixed.
var seeds = [depth]uint64{
	0x9e3779b97f4a7c15,
	0xc6a4a7935bd1e995,
	0xff51afd7ed558ccd,
	0xc4ceb9fe1a85ec53,
}

// Sketch is a count-min sketch. Not safe for concurrent use; the
// maintenance coordinator is its only caller.
type Sketch struct {
	rows    [depth][]byte // two 4-bit counters per byte
	mask    uint64        // width-1, width is a power of two
	samples uint64        // increments since the last halving
	resetAt uint64
}

// New sizes the sketch for roughly maxEntries tracked keys. Accuracy
// degrades gracefully if the cache outgrows the estimate.
func New(maxEntries int64) *Sketch {
	if maxEntries < 16 {
		maxEntries = 16
	}
	// One counter per expected entry, rounded up; cap bookkeeping memory
	// at 2 MiB per row even for very large caches.
	width := util.NextPow2(uint64(maxEntries))
	if width > 1<<22 {
		width = 1 << 22
	}
	s := &Sketch{
		mask: width - 1,
		// Halve once the sample is 10x the width; keeps relative
		// frequencies meaningful under churn.
		resetAt: width * 10,
	}
	for i := range s.rows {
		s.rows[i] = make([]byte, width/2)
	}
	return s
}

// Increment bumps the counters for keyHash in every row, saturating at 15,
// and triggers the aging reset once enough increments have accumulated.
func (s *Sketch) Increment(keyHash uint64) {
	for i := 0; i < depth; i++ {
		idx := s.index(keyHash, i)
		byteIdx, shift := idx>>1, (idx&1)*4
		if v := (s.rows[i][byteIdx] >> shift) & 0x0f; v < 15 {
			s.rows[i][byteIdx] += 1 << shift
		}
	}
	s.samples++
	if s.samples >= s.resetAt {
		s.Reset()
	}
}

// Estimate returns the approximate recent frequency of keyHash:
// the minimum counter value across rows.
func (s *Sketch) Estimate(keyHash uint64) uint8 {
	min := uint8(15)
	for i := 0; i < depth; i++ {
		idx := s.index(keyHash, i)
		byteIdx, shift := idx>>1, (idx&1)*4
		if v := (s.rows[i][byteIdx] >> shift) & 0x0f; v < min {
			min = v
		}
	}
	return min
}

// Reset halves every counter. Called automatically when the sample budget
// is spent; exported so callers can age out history on bulk invalidation.
func (s *Sketch) Reset() {
	for i := range s.rows {
		row := s.rows[i]
		for j := range row {
			// Shift both packed nibbles right by one; 0x77 clears the
			// bit that crossed from the high nibble into the low one.
			row[j] = (row[j] >> 1) & 0x77
		}
	}
	s.samples = 0
}

// index derives the row-local counter index for a key hash.
func (s *Sketch) index(keyHash uint64, row int) uint64 {
	h := keyHash * seeds[row]
	return (h ^ h>>32) & s.mask
}
