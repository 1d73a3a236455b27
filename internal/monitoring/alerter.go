package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/engine-watch/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertSourceFailure       AlertType = "source_failure"
	AlertSourceFailureStreak AlertType = "source_failure_streak"
	AlertStorageFailure      AlertType = "storage_failure"
	AlertNotificationFailure AlertType = "notification_failure"
	AlertEmptyRun            AlertType = "empty_run"
	AlertStaleSnapshot       AlertType = "stale_snapshot"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter turns run metrics into alerts and delivers them to a webhook.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
	now    func() time.Time
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
	}
}

// Evaluate returns the alerts raised by one finished run. h is the health
// snapshot taken after the run was recorded; a source streak alert fires
// once, on the run that reaches the configured streak.
func (a *Alerter) Evaluate(m RunMetrics, h HealthSnapshot) []Alert {
	var alerts []Alert
	now := a.now().UTC()

	if len(m.FailedSources) > 0 {
		names := sortedKeys(m.FailedSources)
		details := make(map[string]any, len(names))
		for _, n := range names {
			details[n] = m.FailedSources[n]
		}
		alerts = append(alerts, Alert{
			Type:      AlertSourceFailure,
			Severity:  "medium",
			Message:   fmt.Sprintf("%d of %d source(s) failed in run %s: %s", len(names), len(m.Sources), m.RunID, strings.Join(names, ", ")),
			Details:   details,
			Timestamp: now,
		})
	}

	if a.cfg.FailureStreak > 0 {
		for _, name := range sortedKeys(h.SourceStreaks) {
			if h.SourceStreaks[name] != a.cfg.FailureStreak {
				continue
			}
			alerts = append(alerts, Alert{
				Type:     AlertSourceFailureStreak,
				Severity: "high",
				Message:  fmt.Sprintf("%s has failed %d consecutive runs", name, a.cfg.FailureStreak),
				Details: map[string]any{
					"source": name,
					"streak": a.cfg.FailureStreak,
				},
				Timestamp: now,
			})
		}
	}

	if m.Skipped {
		alerts = append(alerts, Alert{
			Type:      AlertEmptyRun,
			Severity:  "high",
			Message:   fmt.Sprintf("run %s collected no listings; state left untouched", m.RunID),
			Timestamp: now,
		})
	} else if !m.Committed {
		alerts = append(alerts, Alert{
			Type:     AlertStorageFailure,
			Severity: "critical",
			Message:  fmt.Sprintf("run %s did not commit the snapshot: %s", m.RunID, m.StoreError),
			Details: map[string]any{
				"added":   m.Added,
				"removed": m.Removed,
			},
			Timestamp: now,
		})
	}

	if m.NotifyError != "" {
		alerts = append(alerts, Alert{
			Type:      AlertNotificationFailure,
			Severity:  "medium",
			Message:   fmt.Sprintf("run %s summary was not delivered: %s", m.RunID, m.NotifyError),
			Timestamp: now,
		})
	}

	return alerts
}

// EvaluateHealth returns a stale snapshot alert when no run has committed
// within the configured window.
func (a *Alerter) EvaluateHealth(h HealthSnapshot) []Alert {
	if a.cfg.StaleAfterHours <= 0 || h.LastCommitted.IsZero() {
		return nil
	}
	window := time.Duration(a.cfg.StaleAfterHours) * time.Hour
	age := h.CollectedAt.Sub(h.LastCommitted)
	if age <= window {
		return nil
	}
	return []Alert{{
		Type:     AlertStaleSnapshot,
		Severity: "high",
		Message:  fmt.Sprintf("no snapshot committed for %s (threshold %dh)", age.Truncate(time.Minute), a.cfg.StaleAfterHours),
		Details: map[string]any{
			"last_committed": h.LastCommitted,
		},
		Timestamp: a.now().UTC(),
	}}
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
