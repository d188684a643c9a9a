package models

import "sync"

// StageStats is the explicit per-stage counter set returned by handlers
// and aggregated at the edge for the /status endpoint. Handlers own no
// mutable state; the aggregate lives here behind a lock.
type StageStats struct {
	Processed int64   `json:"processed"`
	Skipped   int64   `json:"skipped"`
	Failed    int64   `json:"failed"`
	CostUSD   float64 `json:"cost_usd"`
	Tokens    int64   `json:"tokens"`
}

// StatsAggregator accumulates StageStats values from handler results.
type StatsAggregator struct {
	mu    sync.Mutex
	total StageStats
}

// NewStatsAggregator returns an empty aggregator.
func NewStatsAggregator() *StatsAggregator {
	return &StatsAggregator{}
}

// Add merges one handler result into the running total.
func (a *StatsAggregator) Add(s StageStats) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.total.Processed += s.Processed
	a.total.Skipped += s.Skipped
	a.total.Failed += s.Failed
	a.total.CostUSD += s.CostUSD
	a.total.Tokens += s.Tokens
}

// Snapshot returns a copy of the running total.
func (a *StatsAggregator) Snapshot() StageStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.total
}
