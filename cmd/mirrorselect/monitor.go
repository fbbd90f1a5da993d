package main

import (
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/mirrorctl/mirrorselect/internal/mirror"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Benchmark mirrors periodically and record the results",
	Long: `Runs a benchmark on a cron schedule until interrupted. Every run is written
to the history database, so history.db_path must be set.

Examples:
  mirrorselect monitor --country DE --schedule "@every 6h"
  mirrorselect monitor --schedule "0 3 * * *" --now`,
	Args: cobra.NoArgs,
	Run:  runMonitor,
}

func init() {
	monitorCmd.Flags().String("schedule", "@hourly", "cron expression or descriptor (@hourly, @every 30m, ...)")
	monitorCmd.Flags().Bool("now", false, "run one benchmark immediately before waiting for the schedule")
}

// cronLogger forwards cron's own messages to slog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	slog.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}

func runMonitor(cmd *cobra.Command, _ []string) {
	config, err := loadConfig(cmd)
	exitOnError(cmd, "failed to load configuration", err)

	schedule, _ := cmd.Flags().GetString("schedule")
	sched, err := cron.ParseStandard(schedule)
	if err != nil {
		exitOnError(cmd, "invalid schedule", errors.Wrapf(err, "schedule %q", schedule))
	}
	if _, err := mirror.ParseRegionHints(countries); err != nil {
		exitOnError(cmd, "invalid country", err)
	}

	store := requireHistory(cmd, config)
	defer store.Close()

	ctx, cancel := signalContext()
	defer cancel()

	benchmark := func() {
		outcome, err := mirror.Benchmark(ctx, config, mirror.Options{
			Regions:  countries,
			Top:      topN,
			Recorder: store,
		})
		if err != nil {
			slog.Error("scheduled benchmark failed", "error", err)
			return
		}
		if len(outcome.Top) > 0 {
			best := outcome.Top[0]
			slog.Info("scheduled benchmark finished",
				"candidates", len(outcome.Candidates),
				"fastest", best.Mirror,
				"throughput", formatThroughput(best.Throughput))
		}
	}

	logger := cronLogger{}
	c := cron.New(cron.WithLogger(logger), cron.WithChain(cron.SkipIfStillRunning(logger)))
	c.Schedule(sched, cron.FuncJob(benchmark))

	if now, _ := cmd.Flags().GetBool("now"); now {
		benchmark()
	}

	c.Start()
	slog.Info("monitoring mirrors", "schedule", schedule, "next", sched.Next(time.Now()))

	<-ctx.Done()
	slog.Info("stopping monitor")
	<-c.Stop().Done()
}
