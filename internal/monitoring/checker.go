package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/engine-watch/internal/config"
)

const defaultCheckInterval = 5 * time.Minute

// Checker polls the collector for a stale snapshot between scheduled runs.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	interval  time.Duration
	staleFor  int

	// reported is the last-commit time of the outage already alerted on.
	reported time.Time
}

// NewChecker wires a stale-snapshot watcher over collector.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	interval := time.Duration(cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	return &Checker{
		collector: collector,
		alerter:   alerter,
		interval:  interval,
		staleFor:  cfg.StaleAfterHours,
	}
}

// Run blocks, checking once per interval, until ctx ends.
func (c *Checker) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("monitoring: watching snapshot freshness",
		zap.Duration("interval", c.interval),
		zap.Int("stale_after_hours", c.staleFor),
	)

	tick := time.NewTicker(c.interval)
	defer tick.Stop()
	for {
		select {
		case <-tick.C:
			c.check(ctx, log)
		case <-ctx.Done():
			log.Info("monitoring: freshness watch stopped")
			return
		}
	}
}

// check returns the number of alerts delivered.
func (c *Checker) check(ctx context.Context, log *zap.Logger) int {
	health := c.collector.Collect()
	raised := c.alerter.EvaluateHealth(health)
	switch {
	case len(raised) == 0:
		log.Debug("monitoring: snapshot is fresh")
		return 0
	case health.LastCommitted.Equal(c.reported):
		log.Debug("monitoring: outage already reported", zap.Time("last_committed", health.LastCommitted))
		return 0
	}

	delivered := c.alerter.SendAlerts(ctx, raised)
	if delivered > 0 {
		c.reported = health.LastCommitted
	}
	log.Info("monitoring: stale snapshot reported",
		zap.Int("raised", len(raised)),
		zap.Int("delivered", delivered),
	)
	return delivered
}
