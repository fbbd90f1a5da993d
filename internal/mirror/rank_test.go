package mirror

import (
	"reflect"
	"testing"

	"github.com/cockroachdb/errors"
)

func mirrorsOf(ranked []RankedMirror) []MirrorURL {
	out := make([]MirrorURL, len(ranked))
	for i, r := range ranked {
		out[i] = r.Mirror
	}
	return out
}

func TestRank(t *testing.T) {
	t.Parallel()

	results := []ProbeResult{
		{Mirror: "http://a/", Throughput: 500, Succeeded: true},
		{Mirror: "http://b/", Throughput: 0},
		{Mirror: "http://c/", Throughput: 1200, Succeeded: true},
	}
	ranked, err := Rank(results)
	if err != nil {
		t.Fatal(err)
	}

	want := []MirrorURL{"http://c/", "http://a/", "http://b/"}
	if got := mirrorsOf(ranked); !reflect.DeepEqual(got, want) {
		t.Errorf("Rank() order = %q, want %q", got, want)
	}
	for i, r := range ranked {
		if r.Rank != i+1 {
			t.Errorf("ranked[%d].Rank = %d, want %d", i, r.Rank, i+1)
		}
	}
	if ranked[2].Bucket != BucketFailed {
		t.Errorf("zero throughput bucket = %v, want failed", ranked[2].Bucket)
	}

	// the input is not reordered
	if results[0].Mirror != "http://a/" {
		t.Error("Rank() modified its input")
	}
}

func TestRank_TiesKeepCandidateOrder(t *testing.T) {
	t.Parallel()

	results := []ProbeResult{
		{Mirror: "http://x/", Throughput: 0},
		{Mirror: "http://a/", Throughput: 100},
		{Mirror: "http://y/", Throughput: 0},
		{Mirror: "http://b/", Throughput: 100},
		{Mirror: "http://c/", Throughput: 100},
	}
	want := []MirrorURL{"http://a/", "http://b/", "http://c/", "http://x/", "http://y/"}

	for i := 0; i < 20; i++ {
		ranked, err := Rank(results)
		if err != nil {
			t.Fatal(err)
		}
		if got := mirrorsOf(ranked); !reflect.DeepEqual(got, want) {
			t.Fatalf("Rank() order = %q, want %q", got, want)
		}
	}
}

func TestRank_Empty(t *testing.T) {
	t.Parallel()

	if _, err := Rank(nil); !errors.Is(err, ErrNoMirrorsAvailable) {
		t.Errorf("Rank(nil) error = %v, want ErrNoMirrorsAvailable", err)
	}
}

func TestTop(t *testing.T) {
	t.Parallel()

	ranked := make([]RankedMirror, 7)
	for i := range ranked {
		ranked[i] = RankedMirror{Rank: i + 1}
	}
	tests := []struct {
		k    int
		want int
	}{
		{5, 5},
		{7, 7},
		{10, 7},
		{0, 7},
		{1, 1},
	}
	for _, tt := range tests {
		if got := len(Top(ranked, tt.k)); got != tt.want {
			t.Errorf("len(Top(ranked, %d)) = %d, want %d", tt.k, got, tt.want)
		}
	}
	if len(Top(nil, 5)) != 0 {
		t.Error("Top(nil) should be empty")
	}
}

func TestBucketOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		throughput float64
		bucket     Bucket
		severity   string
	}{
		{0, BucketFailed, "error"},
		{1, BucketSlow, "warn"},
		{100*1024 - 1, BucketSlow, "warn"},
		{100 * 1024, BucketFair, "info"},
		{1024*1024 - 1, BucketFair, "info"},
		{1024 * 1024, BucketFast, "ok"},
		{50 * 1024 * 1024, BucketFast, "ok"},
	}
	for _, tt := range tests {
		b := BucketOf(tt.throughput)
		if b != tt.bucket {
			t.Errorf("BucketOf(%v) = %v, want %v", tt.throughput, b, tt.bucket)
		}
		if b.Severity() != tt.severity {
			t.Errorf("BucketOf(%v).Severity() = %q, want %q", tt.throughput, b.Severity(), tt.severity)
		}
	}
	if !(BucketFailed < BucketSlow && BucketSlow < BucketFair && BucketFair < BucketFast) {
		t.Error("buckets are not ordered")
	}
}
