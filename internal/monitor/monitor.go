// Package monitor aggregates admission denials for operational visibility:
// overall traffic counters plus top-N violation tables by client, path and
// region, exported both as a snapshot for the operator API and as Prometheus
// series.
package monitor

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	admissionRequests = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "launchforge",
			Subsystem: "admission",
			Name:      "requests_total",
			Help:      "Total requests seen by the admission pipeline",
		},
	)

	admissionViolations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "launchforge",
			Subsystem: "admission",
			Name:      "violations_total",
			Help:      "Total admission denials",
		},
		[]string{"strategy", "region"},
	)
)

// How many entries each violation table reports.
const topN = 10

// Entry is one row of a top-N table.
type Entry struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// Metrics is a point-in-time snapshot of the monitor.
type Metrics struct {
	TotalRequests   int64     `json:"total_requests"`
	TotalViolations int64     `json:"total_violations"`
	ViolationRate   float64   `json:"violation_rate"`
	TopViolators    []Entry   `json:"top_violators"`
	TopPaths        []Entry   `json:"top_paths"`
	TopRegions      []Entry   `json:"top_regions"`
	Since           time.Time `json:"since"`
}

// Monitor is the in-memory violation aggregator. Process-local: counts are
// per instance, reset only on explicit operator action.
type Monitor struct {
	mu              sync.RWMutex
	totalRequests   int64
	totalViolations int64
	byClient        map[string]int64
	byPath          map[string]int64
	byRegion        map[string]int64
	since           time.Time
}

// NewMonitor creates an empty monitor.
func NewMonitor() *Monitor {
	return &Monitor{
		byClient: make(map[string]int64),
		byPath:   make(map[string]int64),
		byRegion: make(map[string]int64),
		since:    time.Now(),
	}
}

// RecordRequest counts one inbound request, allowed or not.
func (m *Monitor) RecordRequest() {
	m.mu.Lock()
	m.totalRequests++
	m.mu.Unlock()

	admissionRequests.Inc()
}

// RecordViolation counts one denial against the client, path and region
// tables. An empty or unmapped country code lands in OTHER.
func (m *Monitor) RecordViolation(clientKey, path, region, strategy string) {
	region = strings.ToUpper(strings.TrimSpace(region))
	if region == "" {
		region = "OTHER"
	}

	m.mu.Lock()
	m.totalViolations++
	m.byClient[clientKey]++
	m.byPath[path]++
	m.byRegion[region]++
	m.mu.Unlock()

	admissionViolations.WithLabelValues(strategy, region).Inc()
}

// Snapshot returns current totals and the top entries of each table sorted
// descending by count. The violation rate is denials/total*100, 0 when no
// traffic has been seen.
func (m *Monitor) Snapshot() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var rate float64
	if m.totalRequests > 0 {
		rate = float64(m.totalViolations) / float64(m.totalRequests) * 100
	}

	return Metrics{
		TotalRequests:   m.totalRequests,
		TotalViolations: m.totalViolations,
		ViolationRate:   rate,
		TopViolators:    topEntries(m.byClient),
		TopPaths:        topEntries(m.byPath),
		TopRegions:      topEntries(m.byRegion),
		Since:           m.since,
	}
}

// Reset zeroes all counters. Intended for operator-triggered rollovers, not
// automatic rotation.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalRequests = 0
	m.totalViolations = 0
	m.byClient = make(map[string]int64)
	m.byPath = make(map[string]int64)
	m.byRegion = make(map[string]int64)
	m.since = time.Now()
}

// topEntries sorts a table descending by count, key ascending on ties for a
// stable operator view, and keeps the first topN rows.
func topEntries(table map[string]int64) []Entry {
	entries := make([]Entry, 0, len(table))
	for k, v := range table {
		entries = append(entries, Entry{Key: k, Count: v})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].Key < entries[j].Key
	})
	if len(entries) > topN {
		entries = entries[:topN]
	}
	return entries
}
