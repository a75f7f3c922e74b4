package cache

// Stats is a point-in-time snapshot of cache counters. Counters are
// maintained with relaxed atomics; a snapshot taken under load is
// internally consistent enough for dashboards, not for accounting.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64 // destroyed entries: size, expiration and explicit removal

	Entries      int   // resident entries right now
	WeightedSize int64 // total weight as of the last maintenance cycle

	ReadsDropped uint64 // read events lost to buffer pressure (accuracy, not correctness)
}

func (c *cache[K, V]) Stats() Stats {
	return Stats{
		Hits:         c.hits.Load(),
		Misses:       c.misses.Load(),
		Evictions:    c.evictions.Load(),
		Entries:      c.Len(),
		WeightedSize: c.weightedSize.Load(),
		ReadsDropped: c.readBuf.dropped.Load(),
	}
}
