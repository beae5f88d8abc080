// Package stats collects retrieval counters for the engine. The collector
// is injected at engine construction rather than living in package-level
// state, and all updates are atomic so concurrent resolves never contend
// on a lock.
package stats

import (
	"sync/atomic"
	"time"

	"github.com/draftsmith/researchcache/pkg/types"
)

// tierMetrics holds the counters for one retrieval tier.
type tierMetrics struct {
	attempts     atomic.Int64
	hits         atomic.Int64
	errors       atomic.Int64
	latencyNanos atomic.Int64
}

func (m *tierMetrics) record(elapsed time.Duration, hit bool) {
	m.attempts.Add(1)
	if hit {
		m.hits.Add(1)
	}
	m.latencyNanos.Add(int64(elapsed))
}

func (m *tierMetrics) snapshot() TierSnapshot {
	attempts := m.attempts.Load()
	snap := TierSnapshot{
		Attempts:     attempts,
		Hits:         m.hits.Load(),
		Errors:       m.errors.Load(),
		TotalLatency: time.Duration(m.latencyNanos.Load()),
	}
	if attempts > 0 {
		snap.AvgLatency = snap.TotalLatency / time.Duration(attempts)
	}
	return snap
}

// Collector accumulates per-tier retrieval statistics. Readable at any
// time; never persisted by the engine itself.
type Collector struct {
	exact    tierMetrics
	semantic tierMetrics
	fresh    tierMetrics
	resolves atomic.Int64
}

// NewCollector returns a zeroed collector.
func NewCollector() *Collector {
	return &Collector{}
}

// RecordResolve counts one resolve() call, whatever its outcome.
func (c *Collector) RecordResolve() {
	c.resolves.Add(1)
}

// RecordTier records one attempt at a tier: how long it took and whether
// it satisfied the request.
func (c *Collector) RecordTier(tier types.Tier, elapsed time.Duration, hit bool) {
	if m := c.metrics(tier); m != nil {
		m.record(elapsed, hit)
	}
}

// RecordError counts a failure at a tier (absorbed or surfaced).
func (c *Collector) RecordError(tier types.Tier) {
	if m := c.metrics(tier); m != nil {
		m.errors.Add(1)
	}
}

func (c *Collector) metrics(tier types.Tier) *tierMetrics {
	switch tier {
	case types.TierExact:
		return &c.exact
	case types.TierSemantic:
		return &c.semantic
	case types.TierFresh:
		return &c.fresh
	default:
		return nil
	}
}

// TierSnapshot is the exported view of one tier's counters.
type TierSnapshot struct {
	Attempts     int64         `json:"attempts"`
	Hits         int64         `json:"hits"`
	Errors       int64         `json:"errors"`
	TotalLatency time.Duration `json:"total_latency_ns"`
	AvgLatency   time.Duration `json:"avg_latency_ns"`
}

// StorageSnapshot describes the backing store at snapshot time. Filled by
// the engine, not the collector, since the collector has no store access.
type StorageSnapshot struct {
	FootprintBytes int64 `json:"footprint_bytes"`
	CacheEntries   int64 `json:"cache_entries"`
	Chunks         int64 `json:"chunks"`
	Sources        int64 `json:"sources"`
}

// Snapshot is a consistent-enough point-in-time read of all counters,
// shaped for an external metrics sink.
type Snapshot struct {
	Resolves     int64           `json:"resolves"`
	ExactHits    int64           `json:"exact_hits"`
	SemanticHits int64           `json:"semantic_hits"`
	Misses       int64           `json:"misses"`
	HitRate      float64         `json:"hit_rate"`
	Exact        TierSnapshot    `json:"exact"`
	Semantic     TierSnapshot    `json:"semantic"`
	Fresh        TierSnapshot    `json:"fresh"`
	Storage      StorageSnapshot `json:"storage"`
}

// Snapshot reads all counters. Individual counters are read atomically;
// the snapshot as a whole is not a single atomic cut, which is fine for
// monitoring.
func (c *Collector) Snapshot() Snapshot {
	snap := Snapshot{
		Resolves: c.resolves.Load(),
		Exact:    c.exact.snapshot(),
		Semantic: c.semantic.snapshot(),
		Fresh:    c.fresh.snapshot(),
	}
	snap.ExactHits = snap.Exact.Hits
	snap.SemanticHits = snap.Semantic.Hits
	snap.Misses = snap.Fresh.Attempts
	if snap.Resolves > 0 {
		snap.HitRate = float64(snap.ExactHits+snap.SemanticHits) / float64(snap.Resolves)
	}
	return snap
}
