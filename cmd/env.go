package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/engine-watch/internal/fetcher"
	"github.com/sells-group/engine-watch/internal/monitoring"
	"github.com/sells-group/engine-watch/internal/notify"
	"github.com/sells-group/engine-watch/internal/pipeline"
	"github.com/sells-group/engine-watch/internal/resilience"
	"github.com/sells-group/engine-watch/internal/source"
	"github.com/sells-group/engine-watch/internal/store"
	"github.com/sells-group/engine-watch/pkg/notion"
)

// runEnv holds everything the run and serve commands share.
type runEnv struct {
	Store     store.SnapshotStore
	Runner    *pipeline.Runner
	Collector *monitoring.Collector
	Alerter   *monitoring.Alerter
}

// Close releases resources held by the environment.
func (e *runEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initRunner opens the store and builds the Runner. A nil notifier selects
// email; extra options are applied after the configured ones. Callers should
// defer env.Close().
func initRunner(ctx context.Context, n notify.Notifier, extra ...pipeline.Option) (*runEnv, error) {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, eris.Wrap(err, "init store")
	}
	env := &runEnv{
		Store:     st,
		Collector: monitoring.NewCollector(),
		Alerter:   monitoring.NewAlerter(cfg.Monitoring),
	}

	reg, err := source.NewDefaultRegistry(cfg.Sources)
	if err != nil {
		env.Close()
		return nil, err
	}

	f := newFetcher()
	env.Collector.TrackHosts(f.HostStates)

	if n == nil {
		n = notify.NewEmailNotifier(cfg.Notify)
	}

	opts := []pipeline.Option{pipeline.WithMonitoring(env.Collector, env.Alerter)}
	if cfg.Notion.Token != "" {
		client := notion.NewClient(cfg.Notion.Token, notion.Options{})
		opts = append(opts, pipeline.WithPublisher(notify.NewNotionPublisher(client, cfg.Notion.ListingsDB)))
		zap.L().Info("notion publisher enabled", zap.String("database", cfg.Notion.ListingsDB))
	}

	runner, err := pipeline.New(cfg, reg, f, st, n, append(opts, extra...)...)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Runner = runner
	return env, nil
}

func newFetcher() *fetcher.HTTPFetcher {
	return fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:         cfg.Fetch.UserAgent,
		Timeout:           time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
		MaxRetries:        cfg.Fetch.MaxRetries,
		RequestsPerSecond: cfg.Fetch.RequestsPerSecond,
		Retry:             resilience.DefaultRetryConfig(),
		Breaker:           resilience.DefaultCircuitBreakerConfig(),
	})
}
