package cache

import "sync"

// shard is one stripe of the concurrent store: a lock and a key->entry map,
// nothing else. Ordering, weights and expiration all live behind the event
// pipeline, so the lock is held only for the map operation itself and no
// caller ever blocks on another caller's unrelated key.
type shard[K comparable, V any] struct {
	mu sync.RWMutex
	m  map[K]*entry[K, V]
}

func newShard[K comparable, V any](capacityHint int) *shard[K, V] {
	return &shard[K, V]{m: make(map[K]*entry[K, V], capacityHint)}
}

func (s *shard[K, V]) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}

// removeIfCurrent deletes e only if it is still the resident entry for its
// key and has not been destroyed by anyone else. Used by the maintenance
// side (size eviction, expiration): if the slot was superseded or already
// torn down, the stale handle is skipped rather than treated as an error.
// Returns the value snapshot for the removal notification.
func (s *shard[K, V]) removeIfCurrent(e *entry[K, V]) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.m[e.key]
	if !ok || cur != e || !e.kill() {
		var zero V
		return zero, false
	}
	delete(s.m, e.key)
	return e.val, true
}

// removeExpired is removeIfCurrent with the expiration re-checked under the
// shard lock. Between the wheel firing and this call the entry's deadline
// may have been refreshed by a concurrent write; re-checking here closes
// that window, so a just-overwritten value is never reaped as expired.
func (s *shard[K, V]) removeExpired(e *entry[K, V], now int64) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.m[e.key]
	if !ok || cur != e || !e.expiredAt(now) || !e.kill() {
		var zero V
		return zero, false
	}
	delete(s.m, e.key)
	return e.val, true
}
