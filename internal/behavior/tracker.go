// Package behavior keeps per-client rolling request statistics and derives a
// bounded reputation score from them. State is process-local by design:
// reputation feeds soft signals (denial messaging, monitoring), never hard
// admission limits, so per-instance approximation is an accepted trade-off
// against centralizing every request's bookkeeping.
package behavior

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Smoothing factor for the response-time moving average.
const emaAlpha = 0.1

// Reputation is only evaluated once a client has this much history.
const minRequestsForScore = 10

// Behavior is the rolling record for one client key.
type Behavior struct {
	TotalRequests       int64
	SuccessfulRequests  int64
	FailedRequests      int64
	LastRequestTime     time.Time
	AverageResponseTime float64 // milliseconds, exponential moving average
	ReputationScore     float64
}

// Tracker owns the per-client behavior map and its eviction sweep. Construct
// one per process and inject it; there are no package-level registries.
type Tracker struct {
	mu      sync.RWMutex
	clients map[string]*Behavior

	logger        *zap.Logger
	sweepInterval time.Duration
	idleEviction  time.Duration

	ticker *time.Ticker
	stop   chan struct{}
	once   sync.Once

	now func() time.Time
}

// NewTracker creates a tracker. sweepInterval and idleEviction fall back to
// one hour and 24 hours. Call Start to arm the sweep and Stop on shutdown.
func NewTracker(sweepInterval, idleEviction time.Duration, logger *zap.Logger) *Tracker {
	if sweepInterval <= 0 {
		sweepInterval = time.Hour
	}
	if idleEviction <= 0 {
		idleEviction = 24 * time.Hour
	}
	return &Tracker{
		clients:       make(map[string]*Behavior),
		logger:        logger,
		sweepInterval: sweepInterval,
		idleEviction:  idleEviction,
		stop:          make(chan struct{}),
		now:           time.Now,
	}
}

// Start arms the periodic eviction sweep.
func (t *Tracker) Start() {
	t.ticker = time.NewTicker(t.sweepInterval)
	go func() {
		for {
			select {
			case <-t.ticker.C:
				t.sweep()
			case <-t.stop:
				t.ticker.Stop()
				return
			}
		}
	}()
}

// Stop cancels the sweep so the timer does not outlive the process.
func (t *Tracker) Stop() {
	t.once.Do(func() { close(t.stop) })
}

// Track records one completed request for a client: counts, the response
// time moving average, then a reputation recompute. Safe for concurrent
// callers.
func (t *Tracker) Track(clientKey string, success bool, responseTime time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	b, ok := t.clients[clientKey]
	if !ok {
		b = &Behavior{}
		t.clients[clientKey] = b
	}

	b.TotalRequests++
	if success {
		b.SuccessfulRequests++
	} else {
		b.FailedRequests++
	}

	sample := float64(responseTime.Milliseconds())
	if b.TotalRequests == 1 {
		b.AverageResponseTime = sample
	} else {
		b.AverageResponseTime = b.AverageResponseTime*(1-emaAlpha) + sample*emaAlpha
	}
	prev := b.LastRequestTime
	b.LastRequestTime = t.now()

	t.rescore(b, prev)
}

// Score returns the current reputation for a client, 0 for unseen clients:
// neutral, neither trusted nor penalized.
func (t *Tracker) Score(clientKey string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	b, ok := t.clients[clientKey]
	if !ok {
		return 0
	}
	return b.ReputationScore
}

// Snapshot returns a copy of one client's behavior, false when unseen.
func (t *Tracker) Snapshot(clientKey string) (Behavior, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	b, ok := t.clients[clientKey]
	if !ok {
		return Behavior{}, false
	}
	return *b, true
}

// Len returns the number of tracked clients.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.clients)
}

// rescore recomputes the reputation score in place. Callers hold the write
// lock. The score blends success rate, latency, and request frequency,
// clamped to [-1, 1]; hyper-frequent callers take a penalty even when
// otherwise well behaved.
func (t *Tracker) rescore(b *Behavior, prev time.Time) {
	if b.TotalRequests < minRequestsForScore {
		return
	}

	successRate := float64(b.SuccessfulRequests) / float64(b.TotalRequests)
	score := (successRate - 0.5) * 1.0

	responseTimeScore := 1 - b.AverageResponseTime/1000
	if responseTimeScore < 0 {
		responseTimeScore = 0
	}
	score += (responseTimeScore - 0.5) * 0.6

	// Coarse proxy: the full count stands in for "requests in the last
	// minute" while the client is actively sending, 0 once it goes quiet.
	// Measured against the previous request so an idle gap is visible at
	// recompute time.
	var recent float64
	if !prev.IsZero() && t.now().Sub(prev) < time.Minute {
		recent = float64(b.TotalRequests)
	}
	frequencyScore := recent / 10
	if frequencyScore > 1 {
		frequencyScore = 1
	}
	if frequencyScore > 0.8 {
		score -= (frequencyScore - 0.8) * 0.5
	} else {
		score += frequencyScore * 0.4
	}

	if score > 1 {
		score = 1
	}
	if score < -1 {
		score = -1
	}
	b.ReputationScore = score
}

// sweep evicts clients idle longer than the eviction horizon.
func (t *Tracker) sweep() {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-t.idleEviction)
	evicted := 0
	for key, b := range t.clients {
		if b.LastRequestTime.Before(cutoff) {
			delete(t.clients, key)
			evicted++
		}
	}
	if evicted > 0 && t.logger != nil {
		t.logger.Info("evicted idle client behavior",
			zap.Int("evicted", evicted),
			zap.Int("remaining", len(t.clients)))
	}
}
