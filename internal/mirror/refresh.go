package mirror

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/cockroachdb/errors"
)

// IndexRefresher refreshes the package index after the mirror changed.
type IndexRefresher interface {
	Refresh(ctx context.Context) error
}

// AptRefresher drops the cached package lists and runs the update command.
type AptRefresher struct {
	command  []string
	listsDir string
}

// NewAptRefresher creates an IndexRefresher from the refresh configuration.
func NewAptRefresher(rc RefreshConfig) *AptRefresher {
	return &AptRefresher{
		command:  rc.Command,
		listsDir: rc.ListsDir,
	}
}

// Refresh implements IndexRefresher. Any failure is ErrIndexRefreshFailed.
func (r *AptRefresher) Refresh(ctx context.Context) error {
	if err := r.invalidate(); err != nil {
		return errors.Mark(errors.Wrap(err, "invalidating package lists"), ErrIndexRefreshFailed)
	}
	if len(r.command) == 0 {
		return errors.Wrap(ErrIndexRefreshFailed, "no refresh command configured")
	}

	slog.Info("refreshing package index", "command", r.command)
	cmd := exec.CommandContext(ctx, r.command[0], r.command[1:]...) // #nosec G204 - command comes from the admin's config
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return errors.Mark(
			errors.Wrapf(err, "%s: %s", r.command[0], bytes.TrimSpace(stderr.Bytes())),
			ErrIndexRefreshFailed)
	}
	return nil
}

// invalidate removes cached index files, keeping the lock file and the
// partial download directory.
func (r *AptRefresher) invalidate() error {
	if r.listsDir == "" {
		return nil
	}
	entries, err := os.ReadDir(r.listsDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	removed := 0
	for _, entry := range entries {
		if !entry.Type().IsRegular() || entry.Name() == "lock" {
			continue
		}
		if err := os.Remove(filepath.Join(r.listsDir, entry.Name())); err != nil {
			return err
		}
		removed++
	}
	slog.Debug("package lists invalidated", "path", r.listsDir, "removed", removed)
	return nil
}
