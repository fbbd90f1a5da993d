package mirror

import (
	"sort"
)

// Bucket is an ordered throughput class used for display.
type Bucket int

// Buckets in increasing order of throughput.
const (
	BucketFailed Bucket = iota
	BucketSlow
	BucketFair
	BucketFast
)

const (
	fairThreshold = 100 * 1024  // bytes/sec
	fastThreshold = 1024 * 1024 // bytes/sec
)

// BucketOf classifies a throughput in bytes/sec.
func BucketOf(throughput float64) Bucket {
	switch {
	case throughput <= 0:
		return BucketFailed
	case throughput < fairThreshold:
		return BucketSlow
	case throughput < fastThreshold:
		return BucketFair
	default:
		return BucketFast
	}
}

// String implements fmt.Stringer.
func (b Bucket) String() string {
	switch b {
	case BucketFailed:
		return "failed"
	case BucketSlow:
		return "slow"
	case BucketFair:
		return "fair"
	case BucketFast:
		return "fast"
	default:
		return "unknown"
	}
}

// Severity returns the display tag for the bucket: "error", "warn", "info" or "ok".
func (b Bucket) Severity() string {
	switch b {
	case BucketFailed:
		return "error"
	case BucketSlow:
		return "warn"
	case BucketFair:
		return "info"
	default:
		return "ok"
	}
}

// RankedMirror is a probe result with its 1-based position in the ranking.
type RankedMirror struct {
	Rank       int       `json:"rank" yaml:"rank"`
	Mirror     MirrorURL `json:"mirror" yaml:"mirror"`
	Throughput float64   `json:"throughput_bytes_per_sec" yaml:"throughput_bytes_per_sec"`
	Bucket     Bucket    `json:"-" yaml:"-"`
}

// Rank orders results by throughput, highest first.
//
// Equal throughputs keep their candidate order, so the ranking does not
// depend on the order in which probes finished. Zero-throughput results are
// ranked too. An empty input is ErrNoMirrorsAvailable.
func Rank(results []ProbeResult) ([]RankedMirror, error) {
	if len(results) == 0 {
		return nil, ErrNoMirrorsAvailable
	}

	sorted := make([]ProbeResult, len(results))
	copy(sorted, results)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Throughput > sorted[j].Throughput
	})

	ranked := make([]RankedMirror, len(sorted))
	for i, r := range sorted {
		ranked[i] = RankedMirror{
			Rank:       i + 1,
			Mirror:     r.Mirror,
			Throughput: r.Throughput,
			Bucket:     BucketOf(r.Throughput),
		}
	}
	return ranked, nil
}

// Top returns the first k entries of a ranking, or all of them if there are
// fewer than k.
func Top(ranked []RankedMirror, k int) []RankedMirror {
	if k <= 0 || k >= len(ranked) {
		return ranked
	}
	return ranked[:k]
}
