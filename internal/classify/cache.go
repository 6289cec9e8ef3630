package classify

import (
	"sync"
	"time"
)

// ttlBox holds a single computed value, refreshed lazily once its TTL
// elapses. Adapted from dmitrymomot-forge's generic Memory[V] cache,
// narrowed from a multi-key LRU store to the single slot the Classifier
// needs: one process-wide compiled entity list, refreshed on a 60s TTL
// per spec §4.F's prefetch-at-most-once-per-invocation rule.
type ttlBox[V any] struct {
	mu        sync.Mutex
	value     V
	populated bool
	expiresAt time.Time
	ttl       time.Duration
}

func newTTLBox[V any](ttl time.Duration) *ttlBox[V] {
	return &ttlBox[V]{ttl: ttl}
}

// Get returns the cached value if still fresh, otherwise calls compute,
// caches, and returns the new value.
func (b *ttlBox[V]) Get(compute func() (V, error)) (V, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.populated && time.Now().Before(b.expiresAt) {
		return b.value, nil
	}

	v, err := compute()
	if err != nil {
		var zero V
		return zero, err
	}

	b.value = v
	b.populated = true
	b.expiresAt = time.Now().Add(b.ttl)
	return v, nil
}
