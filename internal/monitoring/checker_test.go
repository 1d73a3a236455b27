package monitoring

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/sells-group/engine-watch/internal/config"
)

func TestChecker_RunStopsOnCancel(t *testing.T) {
	cfg := config.MonitoringConfig{CheckIntervalSecs: 1, StaleAfterHours: 26}
	checker := NewChecker(NewCollector(), NewAlerter(cfg), cfg)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Checker.Run did not stop after context cancellation")
	}
}

func TestChecker_DefaultInterval(t *testing.T) {
	checker := NewChecker(NewCollector(), NewAlerter(config.MonitoringConfig{}), config.MonitoringConfig{})
	assert.Equal(t, defaultCheckInterval, checker.interval)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	checker.Run(ctx)
}

func TestChecker_StaleReportedOnce(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		received.Add(1)
	}))
	defer ts.Close()

	cfg := config.MonitoringConfig{WebhookURL: ts.URL, StaleAfterHours: 1}
	collector := NewCollector()
	run := cleanRun()
	collector.Record(run)
	collector.now = func() time.Time { return run.StartedAt.Add(3 * time.Hour) }

	checker := NewChecker(collector, NewAlerter(cfg), cfg)
	log := zap.NewNop()

	assert.Equal(t, 1, checker.check(context.Background(), log))
	assert.Equal(t, 0, checker.check(context.Background(), log))
	assert.Equal(t, int32(1), received.Load())

	// A later commit that goes stale again is a new outage.
	next := cleanRun()
	next.StartedAt = run.StartedAt.Add(4 * time.Hour)
	collector.Record(next)
	collector.now = func() time.Time { return next.StartedAt.Add(3 * time.Hour) }
	assert.Equal(t, 1, checker.check(context.Background(), log))
}
