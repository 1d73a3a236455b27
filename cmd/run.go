package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/engine-watch/internal/notify"
	"github.com/sells-group/engine-watch/internal/pipeline"
)

var (
	runDryRun bool
	runPrint  bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one scrape now",
	Long: `Scrapes every enabled source once, reconciles against the stored snapshot and sends the summary.

--print writes the summary to stdout instead of emailing it; the snapshot is saved.
--dry-run also prints, and leaves the snapshot, Notion and monitoring untouched, so
the next real run still reports every change.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		var n notify.Notifier
		var opts []pipeline.Option
		if runDryRun || runPrint {
			n = notify.NewConsoleNotifier(cmd.OutOrStdout())
		}
		if runDryRun {
			opts = append(opts, pipeline.WithDryRun())
		}

		env, err := initRunner(ctx, n, opts...)
		if err != nil {
			return err
		}
		defer env.Close()

		report, runErr := env.Runner.Run(ctx)
		if report != nil {
			fmt.Fprintln(cmd.OutOrStdout())
			fmt.Fprint(cmd.OutOrStdout(), pipeline.FormatReport(report))
		}
		return runErr
	},
}

func init() {
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "print the summary and do NOT save the snapshot")
	runCmd.Flags().BoolVar(&runPrint, "print", false, "print the summary to stdout instead of sending email; the snapshot is saved")
	rootCmd.AddCommand(runCmd)
}
