package notify

import (
	"context"
	"fmt"
	"io"

	"github.com/fatih/color"
)

// ConsoleNotifier prints summaries to a terminal. It backs dry runs.
type ConsoleNotifier struct {
	out io.Writer
}

// NewConsoleNotifier creates a notifier writing to out.
func NewConsoleNotifier(out io.Writer) *ConsoleNotifier {
	return &ConsoleNotifier{out: out}
}

// Notify prints the structured summary when present, or the raw HTML.
func (c *ConsoleNotifier) Notify(_ context.Context, msg Message) error {
	bold := color.New(color.Bold)
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	yellow := color.New(color.FgYellow)

	if _, err := bold.Fprintln(c.out, msg.Subject); err != nil {
		return &NotificationError{Notifier: "console", Err: err}
	}

	s := msg.Summary
	if s == nil {
		fmt.Fprintln(c.out, msg.HTML)
	} else {
		for _, src := range s.Sources {
			line := green
			if src.Added == 0 {
				line = red
			}
			line.Fprintln(c.out, "  "+StatusLine(src))
		}
		fmt.Fprintln(c.out, "  "+RemovedLine(s.Removed))
		for _, src := range s.Failed() {
			red.Fprintf(c.out, "  %s failed: %v\n", src.Source, src.Err)
		}
		if !s.Committed {
			yellow.Fprintln(c.out, "  Warning: snapshot not saved")
		}
		fmt.Fprintf(c.out, "Scrape Date: %s\n", s.At.Format(TimestampLayout))
	}

	if msg.AttachmentPath != "" {
		fmt.Fprintf(c.out, "Attachment: %s\n", msg.AttachmentPath)
	}
	return nil
}
