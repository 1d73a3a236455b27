package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/engine-watch/internal/monitoring"
	"github.com/sells-group/engine-watch/internal/schedule"
	"github.com/sells-group/engine-watch/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run scrapes on the configured schedule and serve the liveness endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initRunner(ctx, nil)
		if err != nil {
			return err
		}
		defer env.Close()

		sched, err := schedule.New(cfg.Schedule)
		if err != nil {
			return err
		}

		srvCfg := cfg.Server
		if servePort > 0 {
			srvCfg.Port = servePort
		}
		srv := server.New(srvCfg, env.Collector.Collect)
		checker := monitoring.NewChecker(env.Collector, env.Alerter, cfg.Monitoring)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return srv.Run(gctx)
		})
		g.Go(func() error {
			return sched.Run(gctx, scheduledRun(env))
		})
		g.Go(func() error {
			checker.Run(gctx)
			return nil
		})

		err = g.Wait()
		zap.L().Info("engine-watch stopped")
		return err
	},
}

// scheduledRun adapts the runner to a scheduler job. Errors are logged; the
// next scheduled run proceeds regardless.
func scheduledRun(env *runEnv) schedule.Job {
	return func(ctx context.Context) {
		report, err := env.Runner.Run(ctx)
		if err != nil {
			zap.L().Error("scheduled run failed", zap.Error(err))
			return
		}
		fields := []zap.Field{zap.String("run_id", report.RunID), zap.Bool("skipped", report.Skipped)}
		if report.Result != nil {
			fields = append(fields,
				zap.Int("added", report.Result.AddedCount()),
				zap.Int("removed", len(report.Result.Removed)),
			)
		}
		zap.L().Info("scheduled run complete", fields...)
	}
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "HTTP port (overrides config)")
	rootCmd.AddCommand(serveCmd)
}
