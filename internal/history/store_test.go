package history

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mirrorctl/mirrorselect/internal/mirror"
)

// newTestStore creates an in-memory SQLite store for testing
func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:", slog.New(slog.NewTextHandler(os.Stderr, nil)))
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestNew(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	if s.db == nil {
		t.Error("Expected db to be initialized")
	}

	// running migrations again is a no-op
	if err := s.migrate(); err != nil {
		t.Errorf("second migrate() failed: %v", err)
	}
}

func TestNew_File(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "history.db")
	s, err := New(dbPath, nil)
	if err != nil {
		t.Fatal(err)
	}
	run := &Run{StartedAt: t0, Candidates: 1}
	if err := s.RecordRun(context.Background(), run, nil); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err = New(dbPath, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	runs, err := s.ListRuns(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].ID != run.ID {
		t.Errorf("reopened store has runs %+v, want %s", runs, run.ID)
	}
}

func TestRecordRun(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	run := &Run{
		StartedAt:  t0,
		Regions:    []string{"US", "JP"},
		Candidates: 3,
		Selected:   "http://c/ubuntu/",
	}
	probes := []Probe{
		{Mirror: "http://c/ubuntu/", Throughput: 1200, Succeeded: true, Rank: 1},
		{Mirror: "http://a/ubuntu/", Throughput: 500, Succeeded: true, Rank: 2},
		{Mirror: "http://b/ubuntu/", Throughput: 0, Succeeded: false, Rank: 3},
	}
	if err := s.RecordRun(ctx, run, probes); err != nil {
		t.Fatalf("RecordRun() failed: %v", err)
	}
	if run.ID == "" {
		t.Fatal("Expected ID to be set after RecordRun")
	}

	runs, err := s.ListRuns(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 {
		t.Fatalf("len(ListRuns()) = %d, want 1", len(runs))
	}
	got := runs[0]
	if !got.StartedAt.Equal(t0) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, t0)
	}
	if len(got.Regions) != 2 || got.Regions[0] != "US" || got.Regions[1] != "JP" {
		t.Errorf("Regions = %q, want [US JP]", got.Regions)
	}
	if got.Candidates != 3 || got.Selected != "http://c/ubuntu/" {
		t.Errorf("run = %+v", got)
	}

	stored, err := s.ListProbes(ctx, run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 3 {
		t.Fatalf("len(ListProbes()) = %d, want 3", len(stored))
	}
	for i, p := range stored {
		if p.Rank != i+1 || p.Mirror != probes[i].Mirror || p.Succeeded != probes[i].Succeeded {
			t.Errorf("probe %d = %+v, want %+v", i, p, probes[i])
		}
		if p.RunID != run.ID {
			t.Errorf("probe %d RunID = %q, want %q", i, p.RunID, run.ID)
		}
	}
}

func TestListRuns_Order(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)
	for i := 0; i < 5; i++ {
		run := &Run{StartedAt: t0.Add(time.Duration(i) * time.Hour)}
		if err := s.RecordRun(ctx, run, nil); err != nil {
			t.Fatal(err)
		}
	}

	runs, err := s.ListRuns(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 3 {
		t.Fatalf("len(ListRuns(3)) = %d, want 3", len(runs))
	}
	for i, r := range runs {
		want := t0.Add(time.Duration(4-i) * time.Hour)
		if !r.StartedAt.Equal(want) {
			t.Errorf("runs[%d].StartedAt = %v, want %v", i, r.StartedAt, want)
		}
		if r.Regions != nil {
			t.Errorf("runs[%d].Regions = %q, want none", i, r.Regions)
		}
	}

	all, err := s.ListRuns(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 5 {
		t.Errorf("len(ListRuns(0)) = %d, want 5", len(all))
	}
}

func TestMirrorStats(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	runs := [][]Probe{
		{
			{Mirror: "http://a/", Throughput: 400, Succeeded: true, Rank: 1},
			{Mirror: "http://b/", Throughput: 0, Rank: 2},
		},
		{
			{Mirror: "http://b/", Throughput: 900, Succeeded: true, Rank: 1},
			{Mirror: "http://a/", Throughput: 600, Succeeded: true, Rank: 2},
		},
	}
	for i, probes := range runs {
		if err := s.RecordRun(ctx, &Run{StartedAt: t0.Add(time.Duration(i) * time.Minute)}, probes); err != nil {
			t.Fatal(err)
		}
	}

	stats, err := s.MirrorStats(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(stats) != 2 {
		t.Fatalf("len(MirrorStats()) = %d, want 2", len(stats))
	}

	a := stats[0]
	if a.Mirror != "http://a/" || a.Probes != 2 || a.AvgThroughput != 500 || a.BestThroughput != 600 || a.SuccessRatio != 1 {
		t.Errorf("stats[0] = %+v", a)
	}
	b := stats[1]
	if b.Mirror != "http://b/" || b.AvgThroughput != 450 || b.BestThroughput != 900 || b.SuccessRatio != 0.5 {
		t.Errorf("stats[1] = %+v", b)
	}
	if !b.LastSeen.Equal(t0.Add(time.Minute)) {
		t.Errorf("LastSeen = %v, want %v", b.LastSeen, t0.Add(time.Minute))
	}

	top, err := s.MirrorStats(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(top) != 1 || top[0].Mirror != "http://a/" {
		t.Errorf("MirrorStats(1) = %+v", top)
	}
}

func TestRecord(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	var recorder mirror.Recorder = s
	rec := mirror.RunRecord{
		StartedAt: t0,
		Regions:   []mirror.RegionHint{"DE"},
		Results: []mirror.ProbeResult{
			{Mirror: "http://a/", Throughput: 500, Succeeded: true},
			{Mirror: "http://b/"},
			{Mirror: "http://c/", Throughput: 1200, Succeeded: true},
		},
		Ranked: []mirror.RankedMirror{
			{Rank: 1, Mirror: "http://c/", Throughput: 1200},
			{Rank: 2, Mirror: "http://a/", Throughput: 500},
			{Rank: 3, Mirror: "http://b/"},
		},
	}
	if err := recorder.Record(ctx, rec); err != nil {
		t.Fatal(err)
	}

	runs, err := s.ListRuns(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 {
		t.Fatalf("len(ListRuns()) = %d, want 1", len(runs))
	}
	if runs[0].Candidates != 3 || runs[0].Selected != "" || runs[0].Regions[0] != "DE" {
		t.Errorf("run = %+v", runs[0])
	}

	probes, err := s.ListProbes(ctx, runs[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(probes) != 3 || probes[0].Mirror != "http://c/" || !probes[0].Succeeded || probes[2].Succeeded {
		t.Errorf("probes = %+v", probes)
	}
}

func TestListProbes_UnknownRun(t *testing.T) {
	t.Parallel()

	probes, err := newTestStore(t).ListProbes(context.Background(), "no-such-run")
	if err != nil {
		t.Fatal(err)
	}
	if len(probes) != 0 {
		t.Errorf("ListProbes() = %+v, want none", probes)
	}
}
