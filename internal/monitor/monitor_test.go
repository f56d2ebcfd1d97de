package monitor

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopViolatorsOrdering(t *testing.T) {
	m := NewMonitor()

	for i := 0; i < 3; i++ {
		m.RecordViolation("client-a", "/api/tokens", "US", "burst")
	}
	m.RecordViolation("client-b", "/api/trade", "DE", "geo")

	snap := m.Snapshot()
	require.Len(t, snap.TopViolators, 2)
	assert.Equal(t, Entry{Key: "client-a", Count: 3}, snap.TopViolators[0])
	assert.Equal(t, Entry{Key: "client-b", Count: 1}, snap.TopViolators[1])

	require.Len(t, snap.TopPaths, 2)
	assert.Equal(t, "/api/tokens", snap.TopPaths[0].Key)

	require.Len(t, snap.TopRegions, 2)
	assert.Equal(t, "US", snap.TopRegions[0].Key)
}

func TestViolationRate(t *testing.T) {
	m := NewMonitor()

	for i := 0; i < 4; i++ {
		m.RecordRequest()
	}
	m.RecordViolation("client-a", "/api/tokens", "US", "burst")

	snap := m.Snapshot()
	assert.Equal(t, int64(4), snap.TotalRequests)
	assert.Equal(t, int64(1), snap.TotalViolations)
	assert.Equal(t, 25.0, snap.ViolationRate)
}

func TestViolationRateWithNoTraffic(t *testing.T) {
	m := NewMonitor()
	assert.Equal(t, 0.0, m.Snapshot().ViolationRate)
}

func TestRegionFallback(t *testing.T) {
	m := NewMonitor()

	m.RecordViolation("c1", "/api/tokens", "", "geo")
	m.RecordViolation("c2", "/api/tokens", "us", "geo")

	snap := m.Snapshot()
	require.Len(t, snap.TopRegions, 2)
	keys := []string{snap.TopRegions[0].Key, snap.TopRegions[1].Key}
	assert.Contains(t, keys, "OTHER")
	assert.Contains(t, keys, "US")
}

func TestTopTablesCapAtTen(t *testing.T) {
	m := NewMonitor()

	for i := 0; i < 15; i++ {
		client := fmt.Sprintf("client-%02d", i)
		// client-00 violates once, client-01 twice, and so on.
		for j := 0; j <= i; j++ {
			m.RecordViolation(client, "/api/tokens", "US", "burst")
		}
	}

	snap := m.Snapshot()
	require.Len(t, snap.TopViolators, 10)
	assert.Equal(t, Entry{Key: "client-14", Count: 15}, snap.TopViolators[0])
	assert.Equal(t, Entry{Key: "client-05", Count: 6}, snap.TopViolators[9])
}

func TestReset(t *testing.T) {
	m := NewMonitor()

	m.RecordRequest()
	m.RecordViolation("client-a", "/api/tokens", "US", "burst")
	m.Reset()

	snap := m.Snapshot()
	assert.Equal(t, int64(0), snap.TotalRequests)
	assert.Equal(t, int64(0), snap.TotalViolations)
	assert.Empty(t, snap.TopViolators)
	assert.Empty(t, snap.TopPaths)
	assert.Empty(t, snap.TopRegions)
}

func TestConcurrentRecording(t *testing.T) {
	m := NewMonitor()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				m.RecordRequest()
				m.RecordViolation("client", "/api/tokens", "US", "burst")
			}
		}()
	}
	wg.Wait()

	snap := m.Snapshot()
	assert.Equal(t, int64(2000), snap.TotalRequests)
	assert.Equal(t, int64(2000), snap.TotalViolations)
}
