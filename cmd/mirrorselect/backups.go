package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/mirrorctl/mirrorselect/internal/mirror"
)

var backupsCmd = &cobra.Command{
	Use:   "backups",
	Short: "Manage backups of the active configuration",
	Long:  `List, prune and restore the backups taken before a mirror switch.`,
}

var backupsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List backups, newest first",
	Args:  cobra.NoArgs,
	Run:   runBackupsList,
}

var backupsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove or compress old backups",
	Long: `Keeps the newest backups and removes the rest, or compresses them with xz
when --compress is given.

Examples:
  sudo mirrorselect backups prune --keep-last 3
  sudo mirrorselect backups prune --keep-last 3 --compress
  mirrorselect backups prune --dry-run`,
	Args: cobra.NoArgs,
	Run:  runBackupsPrune,
}

var backupsRestoreCmd = &cobra.Command{
	Use:   "restore <name>",
	Short: "Restore the active configuration from a backup",
	Long: `Restores the active configuration from the named backup. Compressed backups
are decompressed on the fly.

Examples:
  sudo mirrorselect backups restore sources.list.20250101T120000.000000000Z`,
	Args: cobra.ExactArgs(1),
	Run:  runBackupsRestore,
}

func init() {
	backupsCmd.AddCommand(backupsListCmd)
	backupsCmd.AddCommand(backupsPruneCmd)
	backupsCmd.AddCommand(backupsRestoreCmd)

	backupsPruneCmd.Flags().Int("keep-last", 0, "number of recent backups to keep (default from backup.keep_last)")
	backupsPruneCmd.Flags().Bool("compress", false, "compress old backups instead of removing them")
}

func runBackupsList(cmd *cobra.Command, _ []string) {
	config, err := loadConfig(cmd)
	exitOnError(cmd, "failed to load configuration", err)

	bm := mirror.NewBackupManager(config.BackupDir())
	backups, err := bm.List()
	exitOnError(cmd, "failed to list backups", err)

	if len(backups) == 0 {
		fmt.Printf("No backups in %s.\n", bm.Dir())
		return
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tTAKEN\tSIZE\tCOMPRESSED")
	for _, b := range backups {
		fmt.Fprintf(tw, "%s\t%s (%s)\t%s\t%t\n",
			b.Name, b.Timestamp.Format(time.RFC3339), humanize.Time(b.Timestamp),
			humanize.IBytes(uint64(b.Size)), b.Compressed)
	}
	_ = tw.Flush()
}

func runBackupsPrune(cmd *cobra.Command, _ []string) {
	config, err := loadConfig(cmd)
	exitOnError(cmd, "failed to load configuration", err)

	dryRun, _ := cmd.Flags().GetBool("dry-run")
	compress, _ := cmd.Flags().GetBool("compress")
	keepLast, _ := cmd.Flags().GetInt("keep-last")
	if !cmd.Flags().Changed("keep-last") {
		keepLast = config.Backup.KeepLast
	}
	if keepLast <= 0 && !dryRun {
		exitOnError(cmd, "refusing to prune", errors.Newf("keep-last must be positive, got %d", keepLast))
	}

	if !dryRun {
		exitOnError(cmd, "cannot prune backups", mirror.RequirePrivilege())
	}

	bm := mirror.NewBackupManager(config.BackupDir())
	affected, err := bm.Prune(keepLast, compress, dryRun)
	exitOnError(cmd, "failed to prune backups", err)

	verb := "Removed"
	if compress {
		verb = "Compressed"
	}
	if dryRun {
		verb = "Would affect"
	}
	for _, name := range affected {
		fmt.Printf("%s %s\n", verb, name)
	}
	if len(affected) == 0 {
		fmt.Println("Nothing to prune.")
	}
}

func runBackupsRestore(cmd *cobra.Command, args []string) {
	config, err := loadConfig(cmd)
	exitOnError(cmd, "failed to load configuration", err)

	exitOnError(cmd, "cannot restore backup", mirror.RequirePrivilege())

	if config.LockFile != "" {
		release, err := mirror.AcquireLock(config.LockFile)
		exitOnError(cmd, "cannot restore backup", err)
		defer release()
	}

	bm := mirror.NewBackupManager(config.BackupDir())
	if err := bm.Restore(args[0], config.SourcesPath); err != nil {
		exitOnError(cmd, "failed to restore backup", err)
	}
	fmt.Printf("Restored %s from %s.\n", config.SourcesPath, args[0])
}
