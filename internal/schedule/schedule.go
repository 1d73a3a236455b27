// Package schedule runs a job at fixed times of day in a configured
// timezone.
package schedule

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/sells-group/engine-watch/internal/config"
)

// Job is the work run at each scheduled time.
type Job func(ctx context.Context)

// Scheduler fires a job at each configured time of day. The job runs inline,
// so runs never overlap; a scheduled time that passes while the job is still
// running is skipped.
type Scheduler struct {
	times      []string
	specs      []cron.Schedule
	loc        *time.Location
	runOnStart bool

	now   func() time.Time
	after func(time.Duration) <-chan time.Time
	log   *zap.Logger
}

// New parses the configured run times ("HH:MM") and timezone.
func New(cfg config.ScheduleConfig) (*Scheduler, error) {
	if len(cfg.RunTimes) == 0 {
		return nil, eris.New("schedule: no run times configured")
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, eris.Wrapf(err, "schedule: load timezone %q", cfg.Timezone)
	}

	s := &Scheduler{
		times:      append([]string(nil), cfg.RunTimes...),
		loc:        loc,
		runOnStart: cfg.RunOnStart,
		now:        time.Now,
		after:      time.After,
		log:        zap.L().With(zap.String("component", "schedule")),
	}
	for _, rt := range cfg.RunTimes {
		spec, err := dailySpec(rt)
		if err != nil {
			return nil, err
		}
		sched, err := cron.ParseStandard(spec)
		if err != nil {
			return nil, eris.Wrapf(err, "schedule: parse %q", rt)
		}
		s.specs = append(s.specs, sched)
	}
	return s, nil
}

// dailySpec turns "HH:MM" into a five-field cron expression.
func dailySpec(clock string) (string, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(clock), ":")
	if !ok {
		return "", eris.Errorf("schedule: invalid run time %q", clock)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return "", eris.Errorf("schedule: invalid hour in %q", clock)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return "", eris.Errorf("schedule: invalid minute in %q", clock)
	}
	return fmt.Sprintf("%d %d * * *", m, h), nil
}

// Location returns the timezone run times are interpreted in.
func (s *Scheduler) Location() *time.Location { return s.loc }

// Next returns the earliest scheduled time strictly after t, in the
// scheduler's timezone.
func (s *Scheduler) Next(t time.Time) time.Time {
	local := t.In(s.loc)
	var next time.Time
	for _, spec := range s.specs {
		n := spec.Next(local)
		if next.IsZero() || n.Before(next) {
			next = n
		}
	}
	return next
}

// Run blocks, firing job at every scheduled time until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, job Job) error {
	s.log.Info("scheduler started",
		zap.Strings("run_times", s.times),
		zap.String("timezone", s.loc.String()),
	)
	if s.runOnStart && ctx.Err() == nil {
		s.fire(ctx, job, s.now().In(s.loc))
	}

	for {
		if ctx.Err() != nil {
			s.log.Info("scheduler stopped")
			return nil
		}
		now := s.now()
		next := s.Next(now)
		s.log.Info("next run scheduled", zap.Time("at", next))

		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return nil
		case <-s.after(next.Sub(now)):
		}
		s.fire(ctx, job, next)
	}
}

func (s *Scheduler) fire(ctx context.Context, job Job, at time.Time) {
	s.log.Info("starting scheduled run", zap.Time("scheduled_for", at))
	start := s.now()
	func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("scheduled run panicked", zap.Any("panic", r))
			}
		}()
		job(ctx)
	}()

	end := s.now()
	if following := s.Next(at); !end.Before(following) {
		s.log.Warn("run overran the next scheduled time; skipping it",
			zap.Time("skipped", following),
			zap.Duration("took", end.Sub(start)),
		)
	}
}
