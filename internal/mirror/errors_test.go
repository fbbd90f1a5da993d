package mirror

import (
	"testing"

	"github.com/cockroachdb/errors"
)

func TestIsFatal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		err   error
		fatal bool
		code  int
	}{
		{"nil", nil, false, 0},
		{"canceled", errors.Wrap(ErrCanceled, "user chose 0"), false, 0},
		{"refresh", errors.Mark(errors.New("exit status 100"), ErrIndexRefreshFailed), false, 0},
		{"probe", errors.Wrap(ErrProbeFailure, "http://a/"), false, 0},
		{"invalid hint", errors.Wrap(ErrInvalidRegionHint, "XX"), true, 1},
		{"backup", errors.Wrap(ErrBackupFailed, "disk full"), true, 1},
		{"privilege", errors.Wrap(ErrPrivilegeRequired, "uid 1000"), true, 1},
		{"other", errors.New("boom"), true, 1},
	}
	for _, tt := range tests {
		if got := IsFatal(tt.err); got != tt.fatal {
			t.Errorf("IsFatal(%s) = %v, want %v", tt.name, got, tt.fatal)
		}
		if got := ExitCode(tt.err); got != tt.code {
			t.Errorf("ExitCode(%s) = %d, want %d", tt.name, got, tt.code)
		}
	}
}

// Not parallel: it replaces geteuid.
func TestRequirePrivilege(t *testing.T) {
	orig := geteuid
	t.Cleanup(func() { geteuid = orig })

	geteuid = func() int { return 0 }
	if err := RequirePrivilege(); err != nil {
		t.Errorf("RequirePrivilege() as root = %v", err)
	}

	geteuid = func() int { return 1000 }
	err := RequirePrivilege()
	if !errors.Is(err, ErrPrivilegeRequired) {
		t.Fatalf("RequirePrivilege() = %v, want ErrPrivilegeRequired", err)
	}
	if hints := errors.GetAllHints(err); len(hints) == 0 {
		t.Error("missing hint")
	}
}
