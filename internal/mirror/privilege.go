package mirror

import (
	"os"

	"github.com/cockroachdb/errors"
)

// geteuid is replaced in tests.
var geteuid = os.Geteuid

// RequirePrivilege fails with ErrPrivilegeRequired unless the process runs
// as root. Mutating commands call it before any network activity.
func RequirePrivilege() error {
	if geteuid() == 0 {
		return nil
	}
	return errors.WithHint(
		errors.Wrapf(ErrPrivilegeRequired, "running as uid %d", geteuid()),
		"run with sudo, or pass --dry-run to benchmark without changing anything")
}
