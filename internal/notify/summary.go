package notify

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/sells-group/engine-watch/internal/model"
)

// TimestampLayout formats the scrape date in summaries.
const TimestampLayout = "2006-01-02 15:04:05"

// SourceStatus is one source's line in a summary.
type SourceStatus struct {
	Source model.Source
	Added  int
	// Err is set when the source could not be scraped this run.
	Err error
}

// Summary is the content of a run notification.
type Summary struct {
	Sources   []SourceStatus
	Removed   int
	At        time.Time
	Committed bool
}

// AddedTotal returns the number of new listings across sources.
func (s Summary) AddedTotal() int {
	n := 0
	for _, src := range s.Sources {
		n += src.Added
	}
	return n
}

// Failed returns the statuses of sources that errored.
func (s Summary) Failed() []SourceStatus {
	var out []SourceStatus
	for _, src := range s.Sources {
		if src.Err != nil {
			out = append(out, src)
		}
	}
	return out
}

// StatusLine returns the plain-text status of one source.
func StatusLine(src SourceStatus) string {
	if src.Added > 0 {
		return fmt.Sprintf("%s: Status: Update; %d new engines", src.Source, src.Added)
	}
	return fmt.Sprintf("%s: Status: No updates; 0 new engines", src.Source)
}

// RemovedLine returns the plain-text removal count.
func RemovedLine(n int) string {
	return fmt.Sprintf("Removed: %d engines removed", n)
}

// RenderHTML renders the summary email body.
func RenderHTML(s Summary) string {
	var b strings.Builder
	b.WriteString("<h2>Engine Scrape Results:</h2><ul>")
	for _, src := range s.Sources {
		color := "red"
		if src.Added > 0 {
			color = "green"
		}
		fmt.Fprintf(&b, `<li><span style="color: %s;">%s</span></li>`, color, html.EscapeString(StatusLine(src)))
	}
	fmt.Fprintf(&b, "<li>%s</li></ul>", RemovedLine(s.Removed))

	if failed := s.Failed(); len(failed) > 0 {
		b.WriteString("<p>Sources that could not be scraped:</p><ul>")
		for _, src := range failed {
			fmt.Fprintf(&b, `<li><span style="color: red;">%s: %s</span></li>`,
				html.EscapeString(string(src.Source)), html.EscapeString(src.Err.Error()))
		}
		b.WriteString("</ul>")
	}
	if !s.Committed {
		b.WriteString(`<p style="color: red;">Warning: the listing snapshot could not be saved. The next run will report these changes again.</p>`)
	}
	fmt.Fprintf(&b, "<p>Scrape Date: %s</p>", s.At.Format(TimestampLayout))
	return b.String()
}

// RenderFailureHTML renders the body sent when a run could not read the
// previous state and nothing was reconciled.
func RenderFailureHTML(err error, at time.Time) string {
	return fmt.Sprintf(`<h2>Engine Scrape Failed:</h2><p style="color: red;">%s</p><p>No changes were recorded. Scrape Date: %s</p>`,
		html.EscapeString(err.Error()), at.Format(TimestampLayout))
}
