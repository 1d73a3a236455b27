// Package notify renders run summaries and delivers them.
package notify

import (
	"context"
	"fmt"
)

// Message is one run summary ready for delivery.
type Message struct {
	Subject string
	HTML    string
	// AttachmentPath is the exported file of new listings, or "" when the
	// run found none.
	AttachmentPath string
	// Summary is the structured form of HTML, for notifiers that do not
	// render markup.
	Summary *Summary
}

// Notifier delivers a run summary. A nil error means the summary was
// accepted for delivery.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// NotificationError reports that a notifier could not deliver a summary.
type NotificationError struct {
	Notifier string
	Err      error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("notify: %s: %v", e.Notifier, e.Err)
}

func (e *NotificationError) Unwrap() error {
	return e.Err
}
