package monitoring

import (
	"maps"
	"slices"
	"sync"
	"time"
)

// RunMetrics summarizes one finished run for alerting.
type RunMetrics struct {
	RunID         string            `json:"run_id"`
	StartedAt     time.Time         `json:"started_at"`
	Duration      time.Duration     `json:"duration"`
	Sources       []string          `json:"sources"`
	FailedSources map[string]string `json:"failed_sources,omitempty"`
	Scraped       int               `json:"scraped"`
	Added         int               `json:"added"`
	Removed       int               `json:"removed"`
	Skipped       bool              `json:"skipped"`
	Committed     bool              `json:"committed"`
	StoreError    string            `json:"store_error,omitempty"`
	NotifyError   string            `json:"notify_error,omitempty"`
}

// HealthSnapshot holds a point-in-time view across recorded runs.
type HealthSnapshot struct {
	Runs          int            `json:"runs"`
	LastRun       *RunMetrics    `json:"last_run,omitempty"`
	LastCommitted time.Time      `json:"last_committed"`
	SourceStreaks map[string]int `json:"source_streaks"`
	// Hosts maps each marketplace host to its circuit breaker state.
	Hosts       map[string]string `json:"hosts,omitempty"`
	CollectedAt time.Time         `json:"collected_at"`
}

// Collector accumulates run metrics in memory. It is safe for concurrent
// use; the liveness server reads it while runs record into it.
type Collector struct {
	mu            sync.Mutex
	runs          int
	last          *RunMetrics
	lastCommitted time.Time
	streaks       map[string]int
	hosts         func() map[string]string
	now           func() time.Time
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{
		streaks: make(map[string]int),
		now:     time.Now,
	}
}

// Record adds a finished run. A source's failure streak counts consecutive
// runs in which it failed and resets on its next success.
func (c *Collector) Record(m RunMetrics) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.runs++
	c.last = m.clone()

	for _, s := range m.Sources {
		if _, failed := m.FailedSources[s]; failed {
			c.streaks[s]++
		} else {
			c.streaks[s] = 0
		}
	}
	if m.Committed {
		c.lastCommitted = m.StartedAt.Add(m.Duration)
	}
}

// Collect returns the current health snapshot.
func (c *Collector) Collect() HealthSnapshot {
	snap := c.collect()
	if c.hosts != nil {
		snap.Hosts = c.hosts()
	}
	return snap
}

// TrackHosts adds the host states fn reports to every snapshot. Call it
// before the collector is shared.
func (c *Collector) TrackHosts(fn func() map[string]string) {
	c.hosts = fn
}

func (c *Collector) collect() HealthSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := HealthSnapshot{
		Runs:          c.runs,
		LastCommitted: c.lastCommitted,
		SourceStreaks: maps.Clone(c.streaks),
		CollectedAt:   c.now().UTC(),
	}
	if c.last != nil {
		snap.LastRun = c.last.clone()
	}
	return snap
}

// clone deep-copies m so callers never share the collector's state.
func (m RunMetrics) clone() *RunMetrics {
	m.Sources = slices.Clone(m.Sources)
	m.FailedSources = maps.Clone(m.FailedSources)
	return &m
}
