// memory.go: in-process counter store for single-node deployments and tests
package ratelimit

import (
	"context"
	"sync"
	"time"
)

type memoryCounter struct {
	count   int64
	resetAt time.Time
}

// MemoryStore is a mutex-guarded CounterStore. Counters expire lazily on
// access and eagerly via a janitor ticker, mirroring the store-side expiry
// contract of the Redis implementation. Not shared across instances.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]*memoryCounter
	ticker   *time.Ticker
	stop     chan struct{}
	now      func() time.Time
}

// NewMemoryStore creates a memory store and starts its janitor.
func NewMemoryStore() *MemoryStore {
	ms := &MemoryStore{
		counters: make(map[string]*memoryCounter),
		ticker:   time.NewTicker(time.Minute),
		stop:     make(chan struct{}),
		now:      time.Now,
	}
	go ms.janitor()
	return ms
}

// Increment implements CounterStore.
func (ms *MemoryStore) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := ms.now()
	c, ok := ms.counters[key]
	if !ok || now.After(c.resetAt) {
		c = &memoryCounter{resetAt: now.Add(window)}
		ms.counters[key] = c
	}
	c.count++
	return c.count, nil
}

// Get implements CounterStore.
func (ms *MemoryStore) Get(ctx context.Context, key string) (int64, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	c, ok := ms.counters[key]
	if !ok || ms.now().After(c.resetAt) {
		return 0, nil
	}
	return c.count, nil
}

// Reset implements CounterStore.
func (ms *MemoryStore) Reset(ctx context.Context, key string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	delete(ms.counters, key)
	return nil
}

// Close stops the janitor.
func (ms *MemoryStore) Close() {
	close(ms.stop)
}

func (ms *MemoryStore) janitor() {
	for {
		select {
		case <-ms.ticker.C:
			ms.evictExpired()
		case <-ms.stop:
			ms.ticker.Stop()
			return
		}
	}
}

func (ms *MemoryStore) evictExpired() {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := ms.now()
	for key, c := range ms.counters {
		if now.After(c.resetAt) {
			delete(ms.counters, key)
		}
	}
}
