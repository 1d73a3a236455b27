package pipeline

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/engine-watch/internal/model"
	"github.com/sells-group/engine-watch/internal/monitoring"
	"github.com/sells-group/engine-watch/internal/reconcile"
	"github.com/sells-group/engine-watch/internal/source"
)

func sampleReport() *Report {
	l := model.NewListing(model.SourceAeroconnect)
	l.EngineModel = "CFM56-7B24"
	return &Report{
		RunID:     "run-7",
		StartedAt: time.Date(2026, 10, 17, 4, 0, 0, 0, time.UTC),
		Duration:  1500 * time.Millisecond,
		Scraped:   map[model.Source]int{model.SourceAeroconnect: 5, model.SourceMyAirTrade: 3},
		Accepted:  map[model.Source]int{model.SourceAeroconnect: 5, model.SourceMyAirTrade: 1},
		SourceErrors: map[model.Source]error{
			model.SourceLocatory: &source.FetchError{Source: model.SourceLocatory, Err: errors.New("timeout")},
		},
		Result: &reconcile.UpdateResult{
			Added:     map[model.Source][]model.Listing{model.SourceAeroconnect: {l}},
			Removed:   []string{"a", "b"},
			Unchanged: 4,
			Total:     5,
			Committed: true,
		},
		Phases: []PhaseResult{
			{Name: "scrape", Status: PhaseStatusComplete, Duration: time.Second},
			{Name: "notify", Status: PhaseStatusFailed, Error: "notify: email: dial"},
		},
	}
}

func TestReport_Metrics(t *testing.T) {
	r := sampleReport()
	r.NotifyErr = errors.New("notify: email: dial")

	m := r.Metrics()
	assert.Equal(t, "run-7", m.RunID)
	assert.Equal(t, []string{"Aeroconnect", "Locatory", "MyAirTrade"}, m.Sources)
	assert.Equal(t, map[string]string{"Locatory": "source Locatory: timeout"}, m.FailedSources)
	assert.Equal(t, 8, m.Scraped)
	assert.Equal(t, 1, m.Added)
	assert.Equal(t, 2, m.Removed)
	assert.True(t, m.Committed)
	assert.Equal(t, "notify: email: dial", m.NotifyError)
	assert.Empty(t, m.StoreError)
}

func TestReport_MetricsSkipped(t *testing.T) {
	r := &Report{RunID: "run-8", Skipped: true}
	m := r.Metrics()
	assert.Equal(t, monitoring.RunMetrics{RunID: "run-8", Skipped: true}, m)
	assert.False(t, r.Committed())
}

func TestReport_Track(t *testing.T) {
	r := &Report{}
	r.track("ok", func() error { return nil })
	r.track("bad", func() error { return errors.New("boom") })

	assert.Equal(t, PhaseStatusComplete, r.Phases[0].Status)
	assert.Empty(t, r.Phases[0].Error)
	assert.Equal(t, PhaseStatusFailed, r.Phases[1].Status)
	assert.Equal(t, "boom", r.Phases[1].Error)
}

func TestFormatReport(t *testing.T) {
	out := FormatReport(sampleReport())

	assert.Contains(t, out, "Run run-7")
	assert.Contains(t, out, "Started: 2026-10-17 04:00:00 (1.5s)")
	assert.Contains(t, out, "- Aeroconnect: 5 scraped, 5 kept")
	assert.Contains(t, out, "- Locatory: failed: source Locatory: timeout")
	assert.Contains(t, out, "- MyAirTrade: 3 scraped, 1 kept")
	assert.Contains(t, out, "Added: 1\n  Aeroconnect: 1\n")
	assert.Contains(t, out, "Removed: 2")
	assert.Contains(t, out, "Snapshot: 5 listings\n")
	assert.Contains(t, out, "- notify: failed (0s)\n  Error: notify: email: dial")
}

func TestFormatReport_Variants(t *testing.T) {
	skipped := FormatReport(&Report{RunID: "r", Skipped: true})
	assert.Contains(t, skipped, "Skipped: no listings from any source")

	failed := FormatReport(&Report{RunID: "r", StoreErr: errors.New("store: load x: corrupt")})
	assert.Contains(t, failed, "Snapshot error: store: load x: corrupt")

	r := sampleReport()
	r.Result.Committed = false
	assert.Contains(t, FormatReport(r), "Snapshot: 5 listings (NOT saved)")
}
