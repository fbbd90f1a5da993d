package mirror

import (
	"github.com/cockroachdb/errors"
)

// Error kinds returned by the selection pipeline. Callers test for them with
// errors.Is; the concrete error carries the failing input in its message.
var (
	// ErrInvalidRegionHint means a region code does not resolve to a mirror list.
	ErrInvalidRegionHint = errors.New("invalid region hint")

	// ErrNoMirrorsAvailable means the aggregated candidate set is empty.
	ErrNoMirrorsAvailable = errors.New("no mirrors available")

	// ErrProbeFailure marks a failed speed probe. It never aborts a run.
	ErrProbeFailure = errors.New("probe failed")

	// ErrInvalidSelection means the interactive answer was not a valid index.
	ErrInvalidSelection = errors.New("invalid selection")

	// ErrBackupFailed means the backup copy could not be verified.
	ErrBackupFailed = errors.New("backup failed")

	// ErrIndexRefreshFailed is reported after a committed swap when the
	// package index could not be refreshed.
	ErrIndexRefreshFailed = errors.New("package index refresh failed")

	// ErrPrivilegeRequired means a mutating operation was started without root.
	ErrPrivilegeRequired = errors.New("elevated privilege required")

	// ErrReleaseVerificationFailed means the selected mirror did not serve an
	// InRelease file signed by the configured keyring.
	ErrReleaseVerificationFailed = errors.New("release verification failed")

	// ErrCanceled is the user opting out of the selection. It is not a failure.
	ErrCanceled = errors.New("selection canceled")
)

// IsFatal reports whether err must abort a run with a non-zero exit status.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return !errors.IsAny(err, ErrCanceled, ErrProbeFailure, ErrIndexRefreshFailed)
}

// ExitCode maps the result of a run to a process exit status.
func ExitCode(err error) int {
	if IsFatal(err) {
		return 1
	}
	return 0
}
