package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mirrorctl/mirrorselect/internal/mirror"
)

var benchmarkCmd = &cobra.Command{
	Use:   "benchmark",
	Short: "Rank mirrors by speed without changing anything",
	Long: `Discovers the mirrors for the given countries, probes each of them and prints
the ranking. The active configuration is never touched and no privilege is needed.

Examples:
  mirrorselect benchmark --country JP
  mirrorselect benchmark --country US,CA --top 10 --output json`,
	Args: cobra.NoArgs,
	Run:  runBenchmark,
}

func init() {
	benchmarkCmd.Flags().StringP("output", "o", "text", "output format (text, json, yaml)")
}

func runBenchmark(cmd *cobra.Command, _ []string) {
	format, _ := cmd.Flags().GetString("output")
	if err := checkOutputFormat(format); err != nil {
		exitOnError(cmd, "invalid flag", err)
	}

	config, err := loadConfig(cmd)
	exitOnError(cmd, "failed to load configuration", err)

	ctx, cancel := signalContext()
	defer cancel()

	progress := newProbeProgress(cmd)
	opts := mirror.Options{
		Regions:  countries,
		Top:      topN,
		Started:  progress.start,
		Progress: progress.step,
	}
	if store := openHistory(config); store != nil {
		defer store.Close()
		opts.Recorder = store
	}

	outcome, err := mirror.Benchmark(ctx, config, opts)
	progress.finish()
	exitOnError(cmd, "benchmark failed", err)

	exitOnError(cmd, "failed to write results", writeBenchmark(os.Stdout, format, outcome))
}

func checkOutputFormat(format string) error {
	switch format {
	case "text", "json", "yaml":
		return nil
	}
	return errors.Newf("unknown output format %q", format)
}

func writeBenchmark(w io.Writer, format string, outcome *mirror.Outcome) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(outcome)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(outcome); err != nil {
			return err
		}
		return enc.Close()
	}

	answered := 0
	for _, r := range outcome.Results {
		if r.Succeeded {
			answered++
		}
	}
	renderTop(w, outcome.Top)
	fmt.Fprintf(w, "\n%d candidates probed, %d answered.\n", len(outcome.Candidates), answered)
	return nil
}
