package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/sells-group/engine-watch/internal/model"
	"github.com/sells-group/engine-watch/internal/monitoring"
	"github.com/sells-group/engine-watch/internal/notify"
	"github.com/sells-group/engine-watch/internal/reconcile"
)

// PhaseStatus is the outcome of one phase of a run.
type PhaseStatus string

const (
	PhaseStatusComplete PhaseStatus = "complete"
	PhaseStatusFailed   PhaseStatus = "failed"
)

// PhaseResult records one phase of a run.
type PhaseResult struct {
	Name     string
	Status   PhaseStatus
	Duration time.Duration
	Error    string
}

// Report is the outcome of one run.
type Report struct {
	RunID     string
	StartedAt time.Time
	Duration  time.Duration

	// Scraped counts raw records per source that scraped successfully.
	Scraped map[model.Source]int
	// Accepted counts listings per source that passed the model filters.
	Accepted map[model.Source]int
	// SourceErrors holds the *source.FetchError of every failed source.
	SourceErrors map[model.Source]error

	// DryRun is set when the snapshot was deliberately left unsaved.
	DryRun bool

	// Skipped is set when no source produced a listing and reconciliation
	// did not run.
	Skipped bool
	// Result is nil when the run was skipped or the snapshot could not be
	// loaded.
	Result   *reconcile.UpdateResult
	StoreErr error

	// AttachmentPath is where the new listings were exported. The file is
	// removed before Run returns.
	AttachmentPath string
	NotifyErr      error

	Published  int
	Retired    int
	PublishErr error

	Phases []PhaseResult
}

func (r *Report) track(name string, fn func() error) {
	start := time.Now()
	err := fn()
	pr := PhaseResult{
		Name:     name,
		Status:   PhaseStatusComplete,
		Duration: time.Since(start),
	}
	if err != nil {
		pr.Status = PhaseStatusFailed
		pr.Error = err.Error()
	}
	r.Phases = append(r.Phases, pr)
}

// Committed reports whether the run saved a new snapshot.
func (r *Report) Committed() bool {
	return r.Result != nil && r.Result.Committed
}

// Metrics converts the report for the monitoring collector.
func (r *Report) Metrics() monitoring.RunMetrics {
	m := monitoring.RunMetrics{
		RunID:     r.RunID,
		StartedAt: r.StartedAt,
		Duration:  r.Duration,
		Skipped:   r.Skipped,
		Committed: r.Committed(),
	}
	for _, src := range model.AllSources {
		_, scraped := r.Scraped[src]
		err, failed := r.SourceErrors[src]
		if !scraped && !failed {
			continue
		}
		m.Sources = append(m.Sources, string(src))
		m.Scraped += r.Scraped[src]
		if failed {
			if m.FailedSources == nil {
				m.FailedSources = make(map[string]string)
			}
			m.FailedSources[string(src)] = err.Error()
		}
	}
	if r.Result != nil {
		m.Added = r.Result.AddedCount()
		m.Removed = len(r.Result.Removed)
	}
	if r.StoreErr != nil {
		m.StoreError = r.StoreErr.Error()
	}
	if r.NotifyErr != nil {
		m.NotifyError = r.NotifyErr.Error()
	}
	return m
}

// FormatReport renders a run report for the terminal.
func FormatReport(r *Report) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Run %s\n", r.RunID)
	fmt.Fprintf(&b, "Started: %s (%s)\n\n", r.StartedAt.Format(notify.TimestampLayout), r.Duration.Round(time.Millisecond))

	b.WriteString("Sources:\n")
	for _, src := range model.AllSources {
		if err, ok := r.SourceErrors[src]; ok {
			fmt.Fprintf(&b, "- %s: failed: %v\n", src, err)
			continue
		}
		if n, ok := r.Scraped[src]; ok {
			fmt.Fprintf(&b, "- %s: %d scraped, %d kept\n", src, n, r.Accepted[src])
		}
	}
	b.WriteString("\n")

	switch {
	case r.Skipped:
		b.WriteString("Skipped: no listings from any source\n")
	case r.Result == nil:
		fmt.Fprintf(&b, "Snapshot error: %v\n", r.StoreErr)
	default:
		res := r.Result
		fmt.Fprintf(&b, "Added: %d\n", res.AddedCount())
		for _, src := range model.AllSources {
			if n := len(res.Added[src]); n > 0 {
				fmt.Fprintf(&b, "  %s: %d\n", src, n)
			}
		}
		fmt.Fprintf(&b, "Removed: %d\n", len(res.Removed))
		fmt.Fprintf(&b, "Unchanged: %d\n", res.Unchanged)
		fmt.Fprintf(&b, "Snapshot: %d listings", res.Total)
		switch {
		case r.DryRun:
			b.WriteString(" (dry run, not saved)")
		case !res.Committed:
			b.WriteString(" (NOT saved)")
		}
		b.WriteString("\n")
		if r.StoreErr != nil {
			fmt.Fprintf(&b, "Snapshot error: %v\n", r.StoreErr)
		}
	}

	if r.NotifyErr != nil {
		fmt.Fprintf(&b, "Notification: failed: %v\n", r.NotifyErr)
	}
	if r.Published > 0 || r.Retired > 0 || r.PublishErr != nil {
		fmt.Fprintf(&b, "Notion: %d published, %d retired\n", r.Published, r.Retired)
		if r.PublishErr != nil {
			fmt.Fprintf(&b, "Notion error: %v\n", r.PublishErr)
		}
	}

	if len(r.Phases) > 0 {
		b.WriteString("\nPhases:\n")
		for _, p := range r.Phases {
			fmt.Fprintf(&b, "- %s: %s (%s)\n", p.Name, p.Status, p.Duration.Round(time.Millisecond))
			if p.Error != "" {
				fmt.Fprintf(&b, "  Error: %s\n", p.Error)
			}
		}
	}
	return b.String()
}
