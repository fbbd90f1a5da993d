// Package main implements the mirrorselect command-line tool for choosing the
// fastest APT mirror and switching the system to it.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/mirrorctl/mirrorselect/internal/history"
	"github.com/mirrorctl/mirrorselect/internal/mirror"
)

const (
	defaultConfigPath = "/etc/mirrorselect/mirrorselect.toml"
)

var (
	// Build information - can be set via build flags
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"

	// Command-line flags
	configPath string
	logLevel   string
	countries  []string
	topN       int
)

var rootCmd = &cobra.Command{
	Use:   "mirrorselect",
	Short: "Select the fastest APT mirror",
	Long: `mirrorselect benchmarks the APT mirrors listed for one or more countries,
ranks them by download speed and switches the system to the one you pick.

Usage:
  # Pick interactively from the five fastest mirrors of the default list
  sudo mirrorselect

  # Use the fastest mirror in Germany or Austria and keep a backup
  sudo mirrorselect --country DE,AT --auto --backup

  # Show what would change without touching anything
  mirrorselect --country US --auto --dry-run

The active configuration defaults to /etc/apt/sources.list and can be changed
in the configuration file (--config).`,
	Args: cobra.NoArgs,
	Run:  runSelect,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  "Print version information including build details",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("mirrorselect %s\n", version)
		fmt.Printf("commit: %s\n", commit)
		fmt.Printf("built: %s\n", buildDate)
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long:  `Validate the configuration file and report any issues.`,
	Args:  cobra.NoArgs,
	Run:   runValidate,
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(benchmarkCmd)
	rootCmd.AddCommand(backupsCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(monitorCmd)

	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath, "configuration file path")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringSliceVarP(&countries, "country", "c", nil, "two-letter country code of the mirror list; repeatable or comma-separated")
	rootCmd.PersistentFlags().IntVar(&topN, "top", 0, "number of fastest mirrors to show (default from probe.top)")
	rootCmd.PersistentFlags().Bool("verbose-errors", false, "show detailed error information including stack traces")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "suppress all output except for errors")
	rootCmd.PersistentFlags().Bool("no-progress", false, "do not show the probe progress bar")
	rootCmd.PersistentFlags().Bool("dry-run", false, "show the changes without writing anything")

	rootCmd.Flags().Bool("auto", false, "use the fastest mirror without asking (implies --backup)")
	rootCmd.Flags().Bool("backup", false, "back up the active configuration before switching")
}

// formatError returns a human-friendly error message, optionally with stack trace
func formatError(err error, verbose bool) string {
	if verbose {
		return fmt.Sprintf("%+v", err)
	}

	msg := err.Error()
	if hints := errors.GetAllHints(err); len(hints) > 0 {
		msg += " (hint: " + strings.Join(hints, "; ") + ")"
	}
	return msg
}

var knownSections = []string{"log", "list", "probe", "backup", "refresh", "verify", "history"}

// analyzeUndecoded examines undecoded TOML keys and provides helpful suggestions
func analyzeUndecoded(undecoded []toml.Key) (suggestions []string, unknown []string) {
	seen := make(map[string]bool)
	for _, key := range undecoded {
		keyStr := key.String()
		root := key[0]

		suggestion := ""
		for _, section := range knownSections {
			if root == section {
				break
			}
			if strings.EqualFold(root, section) || strings.EqualFold(root, section+"s") {
				suggestion = fmt.Sprintf("Section '%s' should be '%s'", root, section)
				break
			}
		}
		if suggestion == "" {
			unknown = append(unknown, keyStr)
			continue
		}
		if !seen[suggestion] {
			seen[suggestion] = true
			suggestions = append(suggestions, suggestion)
		}
	}
	return suggestions, unknown
}

// formatUndecodedError builds a user-friendly error message for undecoded TOML keys
func formatUndecodedError(undecoded []toml.Key) string {
	suggestions, unknown := analyzeUndecoded(undecoded)

	var errorMsg strings.Builder
	if len(suggestions) > 0 {
		errorMsg.WriteString("configuration contains sections that don't match expected structure:\n")
		for _, suggestion := range suggestions {
			errorMsg.WriteString("  • " + suggestion + "\n")
		}
		errorMsg.WriteString("\nNote: Configuration section names are case-sensitive and must match exactly.")
	}

	if len(unknown) > 0 {
		if errorMsg.Len() > 0 {
			errorMsg.WriteString("\n\nAdditionally, found unknown keys: ")
		} else {
			errorMsg.WriteString("configuration contains unknown keys: ")
		}
		errorMsg.WriteString(fmt.Sprintf("%v", unknown))
		errorMsg.WriteString("\nThese keys don't match any expected configuration structure.")
	}

	return errorMsg.String()
}

// loadConfig decodes the configuration file and applies the logging flags.
// A missing file at the default location means built-in defaults.
func loadConfig(cmd *cobra.Command) (*mirror.Config, error) {
	config := mirror.NewConfig()
	meta, err := toml.DecodeFile(configPath, config)
	switch {
	case os.IsNotExist(err) && !cmd.Flags().Changed("config"):
		slog.Debug("configuration file not found, using defaults", "path", configPath)
	case os.IsNotExist(err):
		return nil, errors.Wrapf(err, "configuration file not found: %s", configPath)
	case err != nil:
		return nil, errors.Wrapf(err, "failed to decode config file %s", configPath)
	default:
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, errors.Newf("configuration validation failed: %s", formatUndecodedError(undecoded))
		}
	}

	if err := config.Log.Apply(); err != nil {
		return nil, errors.Wrap(err, "failed to apply log config")
	}

	if logLevel != "" {
		config.Log.Level = logLevel
		if err := config.Log.Apply(); err != nil {
			return nil, errors.Wrapf(err, "failed to apply command-line log level %q", logLevel)
		}
		slog.Debug("log level successfully overridden from command line", "level", logLevel)
	}

	if quiet, _ := cmd.Flags().GetBool("quiet"); quiet {
		config.Log.Level = "error"
		if err := config.Log.Apply(); err != nil {
			return nil, errors.Wrap(err, "failed to apply quiet log level")
		}
	}

	if err := config.Check(); err != nil {
		return nil, errors.Wrapf(err, "invalid configuration %s", configPath)
	}
	return config, nil
}

// openHistory returns the history store, or nil when history is disabled.
func openHistory(config *mirror.Config) *history.Store {
	if config.History.DBPath == "" {
		return nil
	}
	store, err := history.New(config.History.DBPath, slog.Default())
	if err != nil {
		slog.Warn("history disabled", "path", config.History.DBPath, "error", err)
		return nil
	}
	return store
}

// exitOnError logs err and exits with the status it maps to.
func exitOnError(cmd *cobra.Command, msg string, err error) {
	if err == nil {
		return
	}
	if !mirror.IsFatal(err) {
		slog.Warn(msg, "error", err.Error())
		return
	}
	verboseErrors, _ := cmd.Flags().GetBool("verbose-errors")
	slog.Error(msg, "error", formatError(err, verboseErrors))
	if !verboseErrors {
		slog.Info("run with --verbose-errors for detailed stack traces")
	}
	os.Exit(mirror.ExitCode(err))
}

// signalContext is canceled by the first SIGINT or SIGTERM. Default signal
// handling is restored after that, so a second Ctrl-C terminates at once.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		stop()
	}()
	return ctx, stop
}

func runSelect(cmd *cobra.Command, _ []string) {
	config, err := loadConfig(cmd)
	exitOnError(cmd, "failed to load configuration", err)

	ctx, cancel := signalContext()
	defer cancel()

	auto, _ := cmd.Flags().GetBool("auto")
	backup, _ := cmd.Flags().GetBool("backup")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	progress := newProbeProgress(cmd)
	opts := mirror.Options{
		Regions:  countries,
		Auto:     auto,
		Backup:   backup,
		DryRun:   dryRun,
		Top:      topN,
		In:       os.Stdin,
		Out:      os.Stdout,
		Render:   renderTop,
		Started:  progress.start,
		Progress: progress.step,
	}
	if store := openHistory(config); store != nil {
		defer store.Close()
		opts.Recorder = store
	}

	outcome, err := mirror.Run(ctx, config, opts)
	progress.finish()
	exitOnError(cmd, "mirror selection failed", err)

	printOutcome(os.Stdout, outcome, dryRun)
}

func runValidate(cmd *cobra.Command, _ []string) {
	verboseErrors, _ := cmd.Flags().GetBool("verbose-errors")

	config := mirror.NewConfig()
	meta, err := toml.DecodeFile(configPath, config)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Error("configuration file not found", "path", configPath)
			os.Exit(1)
		}
		slog.Error("failed to decode config file", "error", formatError(err, verboseErrors), "path", configPath)
		os.Exit(1)
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		slog.Error("configuration validation failed", "error", formatUndecodedError(undecoded), "path", configPath)
		os.Exit(1)
	}

	var validationErrors []error

	if err := config.Log.Apply(); err != nil {
		validationErrors = append(validationErrors, errors.Wrap(err, "log config"))
	}
	if err := config.Check(); err != nil {
		validationErrors = append(validationErrors, errors.Wrap(err, "global config"))
	}
	if config.Verify.Keyring != "" {
		if _, err := mirror.NewReleaseVerifier(config.Verify.Keyring, nil); err != nil {
			validationErrors = append(validationErrors, errors.Wrap(err, "verify config"))
		}
	}

	if len(validationErrors) > 0 {
		slog.Error("the toml configuration file is not valid")
		for _, err := range validationErrors {
			slog.Error(err.Error())
		}
		os.Exit(1)
	}

	slog.Info("the toml configuration file passes validation checks")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
