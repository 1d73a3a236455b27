// Package pipeline runs one scrape: sources, normalization, reconciliation,
// export and notification.
package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/engine-watch/internal/config"
	"github.com/sells-group/engine-watch/internal/export"
	"github.com/sells-group/engine-watch/internal/fetcher"
	"github.com/sells-group/engine-watch/internal/model"
	"github.com/sells-group/engine-watch/internal/monitoring"
	"github.com/sells-group/engine-watch/internal/normalize"
	"github.com/sells-group/engine-watch/internal/notify"
	"github.com/sells-group/engine-watch/internal/reconcile"
	"github.com/sells-group/engine-watch/internal/source"
	"github.com/sells-group/engine-watch/internal/store"
)

// Publisher mirrors listing changes into an external system.
type Publisher interface {
	Publish(ctx context.Context, listings []model.Listing) (int, error)
	Retire(ctx context.Context, identities []string) (int, error)
}

// Option configures a Runner.
type Option func(*Runner)

// WithPublisher mirrors added and removed listings through p.
func WithPublisher(p Publisher) Option {
	return func(r *Runner) { r.publisher = p }
}

// WithMonitoring records every run into c and posts the alerts a raises.
func WithMonitoring(c *monitoring.Collector, a *monitoring.Alerter) Option {
	return func(r *Runner) {
		r.collector = c
		r.alerter = a
	}
}

// WithDryRun reconciles and notifies without saving the snapshot, publishing
// or recording metrics.
func WithDryRun() Option {
	return func(r *Runner) { r.dryRun = true }
}

// Runner orchestrates a single run. Runs must not overlap; the scheduler
// guarantees this by running them inline.
type Runner struct {
	cfg        *config.Config
	registry   *source.Registry
	fetcher    fetcher.Fetcher
	reconciler *reconcile.Reconciler
	notifier   notify.Notifier
	publisher  Publisher
	collector  *monitoring.Collector
	alerter    *monitoring.Alerter
	loc        *time.Location
	dryRun     bool

	now   func() time.Time
	newID func() string
}

// New creates a Runner with all dependencies.
func New(
	cfg *config.Config,
	registry *source.Registry,
	f fetcher.Fetcher,
	st store.SnapshotStore,
	n notify.Notifier,
	opts ...Option,
) (*Runner, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: location")
	}
	r := &Runner{
		cfg:        cfg,
		registry:   registry,
		fetcher:    f,
		reconciler: reconcile.New(st),
		notifier:   n,
		loc:        loc,
		now:        time.Now,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// sourceRun is one source's contribution to a run.
type sourceRun struct {
	name    model.Source
	records []model.RawRecord
	err     error
}

// Run executes one full run. The returned error is non-nil only when the
// snapshot could not be loaded or saved; source and notification failures
// are recorded in the report.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	started := r.now().In(r.loc)
	report := &Report{
		RunID:        r.newID(),
		StartedAt:    started,
		Scraped:      make(map[model.Source]int),
		Accepted:     make(map[model.Source]int),
		SourceErrors: make(map[model.Source]error),
		DryRun:       r.dryRun,
	}
	log := zap.L().With(zap.String("component", "pipeline"), zap.String("run_id", report.RunID))
	log.Info("pipeline: starting run", zap.Int("sources", r.registry.Len()))

	defer func() {
		report.Duration = r.now().Sub(started)
		r.record(ctx, report, log)
	}()

	var runs []sourceRun
	report.track("scrape", func() error {
		runs = r.scrapeAll(ctx, log)
		return nil
	})

	norm := normalize.New(normalize.Options{
		ValidEngines:   r.cfg.Filters.ValidEngines,
		DesiredEngines: r.cfg.Filters.DesiredEngines,
		RunDate:        started,
	})
	var listings []model.Listing
	var failed []model.Source
	for _, sr := range runs {
		if sr.err != nil {
			report.SourceErrors[sr.name] = sr.err
			failed = append(failed, sr.name)
			continue
		}
		report.Scraped[sr.name] = len(sr.records)
		for _, raw := range sr.records {
			l := norm.Normalize(raw, sr.name)
			if !norm.Accept(l) {
				continue
			}
			listings = append(listings, l)
			report.Accepted[sr.name]++
		}
	}

	if len(listings) == 0 {
		log.Warn("pipeline: no listings scraped from any source, skipping reconciliation",
			zap.Int("failed_sources", len(failed)),
		)
		report.Skipped = true
		return report, nil
	}

	opts := reconcile.Options{DryRun: r.dryRun}
	if r.cfg.Reconcile.RetainFailedSources {
		opts.RetainSources = failed
	}

	var res *reconcile.UpdateResult
	var recErr error
	report.track("reconcile", func() error {
		res, recErr = r.reconciler.Reconcile(ctx, listings, opts)
		return recErr
	})
	report.Result = res
	report.StoreErr = recErr

	if res == nil {
		log.Error("pipeline: snapshot unavailable, nothing committed", zap.Error(recErr))
		r.notifyFailure(ctx, report, recErr, log)
		return report, recErr
	}
	if recErr != nil {
		log.Error("pipeline: snapshot not saved; changes will be reported again", zap.Error(recErr))
	}

	summary := r.summary(report, res)
	msg := notify.Message{
		Subject: r.cfg.Notify.Subject,
		HTML:    notify.RenderHTML(summary),
		Summary: &summary,
	}

	if added := res.AllAdded(); len(added) > 0 {
		path := filepath.Join(r.cfg.Export.Dir, export.FileName(r.cfg.Export.Format, started))
		var exported bool
		report.track("export", func() error {
			if err := export.Write(r.cfg.Export.Format, path, added); err != nil {
				return err
			}
			exported = true
			return nil
		})
		defer func() {
			if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
				log.Warn("pipeline: failed to remove attachment", zap.String("path", path), zap.Error(err))
			}
		}()
		if exported {
			msg.AttachmentPath = path
			report.AttachmentPath = path
		}
	}

	report.track("notify", func() error {
		report.NotifyErr = r.deliver(ctx, msg)
		return report.NotifyErr
	})

	if r.publisher != nil && !r.dryRun {
		report.track("publish", func() error {
			return r.publish(ctx, report, res)
		})
	}

	log.Info("pipeline: run complete",
		zap.Int("added", res.AddedCount()),
		zap.Int("removed", len(res.Removed)),
		zap.Int("unchanged", res.Unchanged),
		zap.Bool("committed", res.Committed),
	)
	return report, recErr
}

// scrapeAll runs every source concurrently, each under the per-source
// deadline. A failing source never cancels the others.
func (r *Runner) scrapeAll(ctx context.Context, log *zap.Logger) []sourceRun {
	sources := r.registry.All()
	runs := make([]sourceRun, len(sources))
	timeout := time.Duration(r.cfg.Fetch.SourceTimeoutSecs) * time.Second

	g := new(errgroup.Group)
	g.SetLimit(max(len(sources), 1))
	for i, src := range sources {
		g.Go(func() error {
			runs[i] = r.scrapeOne(ctx, src, timeout, log)
			return nil
		})
	}
	_ = g.Wait()
	return runs
}

func (r *Runner) scrapeOne(ctx context.Context, src source.Source, timeout time.Duration, log *zap.Logger) (sr sourceRun) {
	sr.name = src.Name()
	srcLog := log.With(zap.String("source", string(sr.name)))

	defer func() {
		if p := recover(); p != nil {
			sr.records = nil
			sr.err = &source.FetchError{Source: sr.name, Err: eris.Errorf("panic: %v", p)}
			srcLog.Error("pipeline: source panicked", zap.Any("panic", p))
		}
	}()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	records, err := src.Scrape(ctx, r.fetcher)
	if err != nil {
		var fe *source.FetchError
		if !errors.As(err, &fe) {
			err = &source.FetchError{Source: sr.name, Err: err}
		}
		srcLog.Error("pipeline: source failed, contributing no listings", zap.Error(err))
		sr.err = err
		return sr
	}
	srcLog.Info("pipeline: source scraped",
		zap.Int("records", len(records)),
		zap.Duration("elapsed", time.Since(start)),
	)
	sr.records = records
	return sr
}

func (r *Runner) summary(report *Report, res *reconcile.UpdateResult) notify.Summary {
	s := notify.Summary{
		Removed:   len(res.Removed),
		At:        report.StartedAt,
		Committed: res.Committed,
	}
	for _, name := range r.registry.Names() {
		s.Sources = append(s.Sources, notify.SourceStatus{
			Source: name,
			Added:  len(res.Added[name]),
			Err:    report.SourceErrors[name],
		})
	}
	return s
}

func (r *Runner) deliver(ctx context.Context, msg notify.Message) error {
	if r.notifier == nil {
		return nil
	}
	err := r.notifier.Notify(ctx, msg)
	if err == nil {
		return nil
	}
	var ne *notify.NotificationError
	if !errors.As(err, &ne) {
		err = &notify.NotificationError{Notifier: "notifier", Err: err}
	}
	zap.L().Error("pipeline: notification failed; snapshot stays committed", zap.Error(err))
	return err
}

func (r *Runner) notifyFailure(ctx context.Context, report *Report, cause error, log *zap.Logger) {
	msg := notify.Message{
		Subject: r.cfg.Notify.Subject + " (failed)",
		HTML:    notify.RenderFailureHTML(cause, report.StartedAt),
	}
	report.track("notify", func() error {
		report.NotifyErr = r.deliver(ctx, msg)
		return report.NotifyErr
	})
	if report.NotifyErr == nil {
		log.Info("pipeline: failure summary sent")
	}
}

func (r *Runner) publish(ctx context.Context, report *Report, res *reconcile.UpdateResult) error {
	var errs []error
	n, err := r.publisher.Publish(ctx, res.AllAdded())
	report.Published = n
	if err != nil {
		errs = append(errs, eris.Wrap(err, "pipeline: publish added"))
	}
	n, err = r.publisher.Retire(ctx, res.Removed)
	report.Retired = n
	if err != nil {
		errs = append(errs, eris.Wrap(err, "pipeline: retire removed"))
	}
	report.PublishErr = errors.Join(errs...)
	if report.PublishErr != nil {
		zap.L().Warn("pipeline: publisher failed", zap.Error(report.PublishErr))
	}
	return report.PublishErr
}

func (r *Runner) record(ctx context.Context, report *Report, log *zap.Logger) {
	if r.collector == nil || r.dryRun {
		return
	}
	m := report.Metrics()
	r.collector.Record(m)
	if r.alerter == nil {
		return
	}
	alerts := r.alerter.Evaluate(m, r.collector.Collect())
	if len(alerts) == 0 {
		return
	}
	sent := r.alerter.SendAlerts(ctx, alerts)
	log.Info("pipeline: alerts evaluated", zap.Int("raised", len(alerts)), zap.Int("sent", sent))
}
