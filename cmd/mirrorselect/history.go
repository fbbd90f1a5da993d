package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/mirrorctl/mirrorselect/internal/history"
	"github.com/mirrorctl/mirrorselect/internal/mirror"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded benchmark runs",
	Long: `Show the benchmark runs recorded in the history database.
Recording is enabled by setting history.db_path in the configuration file.`,
}

var historyRunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent runs, newest first",
	Args:  cobra.NoArgs,
	Run:   runHistoryRuns,
}

var historyMirrorsCmd = &cobra.Command{
	Use:   "mirrors",
	Short: "Show average throughput per mirror across all runs",
	Args:  cobra.NoArgs,
	Run:   runHistoryMirrors,
}

func init() {
	historyCmd.AddCommand(historyRunsCmd)
	historyCmd.AddCommand(historyMirrorsCmd)

	historyRunsCmd.Flags().Int("limit", 20, "maximum number of runs to show (0 for all)")
	historyRunsCmd.Flags().Bool("probes", false, "show the ranking of every run")
	historyMirrorsCmd.Flags().Int("limit", 20, "maximum number of mirrors to show (0 for all)")
}

func requireHistory(cmd *cobra.Command, config *mirror.Config) *history.Store {
	if config.History.DBPath == "" {
		exitOnError(cmd, "history is not available", errors.WithHint(
			errors.New("history is disabled"),
			"set history.db_path in the configuration file"))
	}
	store, err := history.New(config.History.DBPath, slog.Default())
	exitOnError(cmd, "failed to open history", err)
	return store
}

func runHistoryRuns(cmd *cobra.Command, _ []string) {
	config, err := loadConfig(cmd)
	exitOnError(cmd, "failed to load configuration", err)

	store := requireHistory(cmd, config)
	defer store.Close()

	ctx := context.Background()
	limit, _ := cmd.Flags().GetInt("limit")
	withProbes, _ := cmd.Flags().GetBool("probes")
	runs, err := store.ListRuns(ctx, limit)
	exitOnError(cmd, "failed to list runs", err)

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tREGIONS\tCANDIDATES\tSELECTED")
	for _, run := range runs {
		regions := strings.Join(run.Regions, ",")
		if regions == "" {
			regions = "-"
		}
		selected := run.Selected
		if selected == "" {
			selected = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			run.ID, run.StartedAt.Local().Format(time.DateTime), regions, run.Candidates, selected)

		if !withProbes {
			continue
		}
		probes, err := store.ListProbes(ctx, run.ID)
		exitOnError(cmd, "failed to list probes", err)
		for _, p := range probes {
			fmt.Fprintf(tw, "\t%3d) %s\t%s\t\t\n", p.Rank, p.Mirror, formatThroughput(p.Throughput))
		}
	}
	_ = tw.Flush()
}

func runHistoryMirrors(cmd *cobra.Command, _ []string) {
	config, err := loadConfig(cmd)
	exitOnError(cmd, "failed to load configuration", err)

	store := requireHistory(cmd, config)
	defer store.Close()

	limit, _ := cmd.Flags().GetInt("limit")
	stats, err := store.MirrorStats(context.Background(), limit)
	exitOnError(cmd, "failed to aggregate history", err)

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "MIRROR\tPROBES\tAVERAGE\tBEST\tSUCCESS\tLAST SEEN")
	for _, st := range stats {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%.0f%%\t%s\n",
			st.Mirror, st.Probes, formatThroughput(st.AvgThroughput), formatThroughput(st.BestThroughput),
			st.SuccessRatio*100, st.LastSeen.Local().Format(time.DateTime))
	}
	_ = tw.Flush()
}
