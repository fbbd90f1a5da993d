/*
Package mirrorselect is a tool for picking the fastest APT mirror.

mirrorselect benchmarks the candidate mirrors for one or more regions and
switches the active sources configuration to the one chosen. It provides:
  - Region-based candidate discovery with fail-fast hint validation
  - Bounded concurrent throughput probes with a hard per-probe timeout
  - Interactive or automatic selection from the ranked top list
  - Verified backups with retention, xz compression and restore
  - Optional InRelease signature checks before a mirror is activated
  - A SQLite history of benchmark runs and scheduled monitoring

The main packages are:

	github.com/mirrorctl/mirrorselect/internal/mirror   - Discovery, probing, ranking, selection and the swap
	github.com/mirrorctl/mirrorselect/internal/history  - Run history storage
	github.com/mirrorctl/mirrorselect/cmd/mirrorselect  - Command-line interface
*/
package mirrorselect
