// Package metrics aggregates per-endpoint request counters for the
// /metrics endpoint and the metrics.json snapshot.
package metrics

import (
	"sort"
	"sync"
	"time"
)

// endpointStats is the running aggregate for one (method, path).
type endpointStats struct {
	count   int64
	errors  int64
	totalMs float64
	minMs   float64
	maxMs   float64
}

// EndpointSnapshot is the exported view of one endpoint.
type EndpointSnapshot struct {
	Endpoint string  `json:"endpoint"`
	Count    int64   `json:"count"`
	Errors   int64   `json:"errors"`
	AvgMs    float64 `json:"avg_ms"`
	MinMs    float64 `json:"min_ms"`
	MaxMs    float64 `json:"max_ms"`
}

// Snapshot is the full report persisted to metrics.json.
type Snapshot struct {
	Endpoints   []EndpointSnapshot `json:"endpoints"`
	GeneratedAt time.Time          `json:"generated_at"`
	// CorruptRecords counts malformed JSONL lines skipped by the stores.
	CorruptRecords int64 `json:"corrupt_records,omitempty"`
}

// Requests tracks request counters keyed by "METHOD path".
type Requests struct {
	mu      sync.Mutex
	byKey   map[string]*endpointStats
	corrupt int64
}

// New builds an empty tracker.
func New() *Requests {
	return &Requests{byKey: make(map[string]*endpointStats)}
}

// Record folds one request into the aggregate. O(1).
func (r *Requests) Record(method, path string, durationMs float64, isError bool) {
	key := method + " " + path
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byKey[key]
	if !ok {
		s = &endpointStats{minMs: durationMs, maxMs: durationMs}
		r.byKey[key] = s
	}
	s.count++
	if isError {
		s.errors++
	}
	s.totalMs += durationMs
	if durationMs < s.minMs {
		s.minMs = durationMs
	}
	if durationMs > s.maxMs {
		s.maxMs = durationMs
	}
}

// AddCorrupt bumps the skipped-record counter surfaced in snapshots.
func (r *Requests) AddCorrupt(n int64) {
	r.mu.Lock()
	r.corrupt += n
	r.mu.Unlock()
}

// Snapshot returns per-endpoint averages sorted by endpoint name.
func (r *Requests) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := Snapshot{
		Endpoints:      make([]EndpointSnapshot, 0, len(r.byKey)),
		GeneratedAt:    time.Now().UTC(),
		CorruptRecords: r.corrupt,
	}
	for key, s := range r.byKey {
		avg := 0.0
		if s.count > 0 {
			avg = s.totalMs / float64(s.count)
		}
		out.Endpoints = append(out.Endpoints, EndpointSnapshot{
			Endpoint: key,
			Count:    s.count,
			Errors:   s.errors,
			AvgMs:    avg,
			MinMs:    s.minMs,
			MaxMs:    s.maxMs,
		})
	}
	sort.Slice(out.Endpoints, func(i, j int) bool {
		return out.Endpoints[i].Endpoint < out.Endpoints[j].Endpoint
	})
	return out
}
