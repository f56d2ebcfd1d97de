package ratelimit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreIncrementAndExpiry(t *testing.T) {
	ms := NewMemoryStore()
	defer ms.Close()
	ctx := context.Background()

	now := time.Now()
	ms.now = func() time.Time { return now }

	for i := int64(1); i <= 5; i++ {
		count, err := ms.Increment(ctx, "k", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, i, count, "count must be monotonically non-decreasing within a window")
	}

	count, err := ms.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)

	// Past the window the counter is gone and a fresh one starts at 1.
	now = now.Add(time.Minute + time.Second)
	count, err = ms.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	count, err = ms.Increment(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestMemoryStoreKeyIsolation(t *testing.T) {
	ms := NewMemoryStore()
	defer ms.Close()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := ms.Increment(ctx, "client-a", time.Minute)
		require.NoError(t, err)
	}
	count, err := ms.Get(ctx, "client-b")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count, "exhausting one key must not affect another")
}

func TestMemoryStoreReset(t *testing.T) {
	ms := NewMemoryStore()
	defer ms.Close()
	ctx := context.Background()

	_, err := ms.Increment(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.NoError(t, ms.Reset(ctx, "k"))

	count, err := ms.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestMemoryStoreConcurrentIncrements(t *testing.T) {
	ms := NewMemoryStore()
	defer ms.Close()
	ctx := context.Background()

	const workers = 8
	const perWorker = 100

	done := make(chan struct{})
	for i := 0; i < workers; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for j := 0; j < perWorker; j++ {
				_, _ = ms.Increment(ctx, "shared", time.Minute)
			}
		}()
	}
	for i := 0; i < workers; i++ {
		<-done
	}

	count, err := ms.Get(ctx, "shared")
	require.NoError(t, err)
	assert.Equal(t, int64(workers*perWorker), count)
}

func TestRedisStoreIntegration(t *testing.T) {
	rs := NewRedisStore("localhost:6379", "", 15)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rs.Ping(ctx); err != nil {
		t.Skipf("skipping integration test: redis not available (%v)", err)
	}

	key := fmt.Sprintf("admission_test:%d", time.Now().UnixNano())
	t.Cleanup(func() { _ = rs.Reset(context.Background(), key) })

	count, err := rs.Increment(ctx, key, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	count, err = rs.Increment(ctx, key, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	ttl, err := rs.TTL(ctx, key)
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0), "expiry must be armed on first increment")
	assert.LessOrEqual(t, ttl, 2*time.Second)

	require.NoError(t, rs.Reset(ctx, key))
	count, err = rs.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}
