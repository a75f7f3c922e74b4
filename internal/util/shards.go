package util

import "runtime"

// ReasonableShardCount picks a practical default stripe count based on CPU
// parallelism. Heuristic: nextPow2(2*GOMAXPROCS), clamped to [1..256].
// Used both for store shards and for event-buffer stripes: enough stripes
// to spread contention, few enough to keep drain cycles short.
func ReasonableShardCount() int {
	p := runtime.GOMAXPROCS(0)
	if p < 1 {
		p = 1
	}
	// 2×CPU, round up to power of two, then clamp to 256.
	n := int(NextPow2(uint64(p * 2)))
	if n < 1 {
		n = 1
	}
	if n > 256 {
		n = 256
	}
	return n
}

// StripeIndex maps a 64-bit key hash to a stripe index.
// Assumes the stripe count is a power of two for the fast mask path,
// but remains correct for arbitrary counts (uses modulo).
//
// A key always lands on the same stripe, so events for one key drain in
// the order they were recorded.
func StripeIndex(hash uint64, stripes int) int {
	if stripes <= 1 {
		return 0
	}
	if IsPowerOfTwo(uint64(stripes)) {
		return int(hash & uint64(stripes-1))
	}
	return int(hash % uint64(stripes))
}
