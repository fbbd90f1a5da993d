package main

import (
	"fmt"
	"io"
	"os"

	"github.com/cheggaaa/pb/v3"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/mirrorctl/mirrorselect/internal/mirror"
)

var severityColors = map[string]*color.Color{
	"error": color.New(color.FgRed),
	"warn":  color.New(color.FgYellow),
	"info":  color.New(color.FgCyan),
	"ok":    color.New(color.FgGreen, color.Bold),
}

// formatThroughput renders bytes per second in binary units.
func formatThroughput(bps float64) string {
	if bps <= 0 {
		return "failed"
	}
	return humanize.IBytes(uint64(bps)) + "/s"
}

// renderTop writes the numbered top list, colored by speed bucket.
func renderTop(w io.Writer, top []mirror.RankedMirror) {
	for i, m := range top {
		c := severityColors[m.Bucket.Severity()]
		speed := fmt.Sprintf("%12s", formatThroughput(m.Throughput))
		fmt.Fprintf(w, "%3d) %-60s %s\n", i+1, m.Mirror, c.Sprint(speed))
	}
}

func printOutcome(w io.Writer, outcome *mirror.Outcome, dryRun bool) {
	if outcome == nil {
		return
	}
	switch {
	case outcome.Canceled:
		fmt.Fprintln(w, "Canceled, nothing changed.")
		return
	case outcome.Selection == nil:
		return
	}

	if dryRun {
		fmt.Fprintf(w, "Would switch to %s (%d lines):\n\n", outcome.Selection.Mirror, outcome.Changed)
		_, _ = w.Write(outcome.Preview)
		return
	}

	if outcome.Backup != nil {
		fmt.Fprintf(w, "Backup: %s\n", outcome.Backup.BackupPath)
	}
	if outcome.Changed == 0 {
		fmt.Fprintln(w, "No deb entries found, nothing changed.")
		return
	}
	fmt.Fprintf(w, "Switched to %s (%d lines).\n", outcome.Selection.Mirror, outcome.Changed)
	if outcome.RefreshErr != nil {
		fmt.Fprintln(w, color.YellowString("The package index could not be refreshed; run 'apt-get update' manually."))
	}
}

// probeProgress drives a progress bar on stderr while mirrors are probed.
// It stays silent when stderr is not a terminal.
type probeProgress struct {
	enabled bool
	bar     *pb.ProgressBar
	total   int
	done    int
}

func newProbeProgress(cmd *cobra.Command) *probeProgress {
	noProgress, _ := cmd.Flags().GetBool("no-progress")
	quiet, _ := cmd.Flags().GetBool("quiet")
	fd := os.Stderr.Fd()
	tty := isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
	return &probeProgress{enabled: tty && !noProgress && !quiet}
}

func (p *probeProgress) start(total int) {
	if !p.enabled {
		return
	}
	p.total = total
	p.bar = pb.New(total)
	p.bar.SetTemplateString(`{{ "probing" }} {{ counters . }} {{ bar . }} {{ etime . }}`)
	p.bar.SetWriter(os.Stderr)
	p.bar.Start()
}

// step is called from a single goroutine, once per finished probe.
func (p *probeProgress) step(_ mirror.ProbeResult) {
	if p.bar == nil {
		return
	}
	p.bar.Increment()
	p.done++
	if p.done == p.total {
		p.finish()
	}
}

func (p *probeProgress) finish() {
	if p.bar == nil {
		return
	}
	p.bar.Finish()
	p.bar = nil
}
