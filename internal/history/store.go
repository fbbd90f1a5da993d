// Package history records benchmark runs in a SQLite database so mirror
// performance can be compared over time.
package history

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/mirrorctl/mirrorselect/internal/mirror"
)

// timeLayout is fixed-width so that stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store provides SQLite-backed persistence
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New opens the database at dbPath and runs pending migrations.
func New(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	// a single connection keeps ":memory:" databases shared
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to ping database")
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to enable foreign keys")
	}

	s := &Store{
		db:     db,
		logger: logger,
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to run migrations")
	}

	logger.Debug("history store opened", "path", dbPath)
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return errors.Wrap(err, "failed to close database")
	}
	return nil
}

// Record implements mirror.Recorder.
func (s *Store) Record(ctx context.Context, rec mirror.RunRecord) error {
	regions := make([]string, len(rec.Regions))
	for i, r := range rec.Regions {
		regions[i] = string(r)
	}
	run := &Run{
		StartedAt:  rec.StartedAt,
		Regions:    regions,
		Candidates: len(rec.Results),
		Selected:   string(rec.Selected),
	}

	succeeded := make(map[mirror.MirrorURL]bool, len(rec.Results))
	for _, r := range rec.Results {
		succeeded[r.Mirror] = r.Succeeded
	}
	probes := make([]Probe, len(rec.Ranked))
	for i, r := range rec.Ranked {
		probes[i] = Probe{
			Mirror:     string(r.Mirror),
			Throughput: r.Throughput,
			Succeeded:  succeeded[r.Mirror],
			Rank:       r.Rank,
		}
	}
	return s.RecordRun(ctx, run, probes)
}

// RecordRun inserts a run and its probes in one transaction and sets run.ID.
func (s *Store) RecordRun(ctx context.Context, run *Run, probes []Probe) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	const insertRun = `
		INSERT INTO runs (id, started_at, regions, candidates, selected)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err = tx.ExecContext(ctx, insertRun,
		run.ID, run.StartedAt.UTC().Format(timeLayout), strings.Join(run.Regions, ","),
		run.Candidates, run.Selected)
	if err != nil {
		return errors.Wrap(err, "failed to insert run")
	}

	const insertProbe = `
		INSERT INTO probes (run_id, mirror, throughput, succeeded, rank)
		VALUES (?, ?, ?, ?, ?)
	`
	stmt, err := tx.PrepareContext(ctx, insertProbe)
	if err != nil {
		return errors.Wrap(err, "failed to prepare probe insert")
	}
	defer stmt.Close()

	for i := range probes {
		probes[i].RunID = run.ID
		p := probes[i]
		if _, err := stmt.ExecContext(ctx, p.RunID, p.Mirror, p.Throughput, p.Succeeded, p.Rank); err != nil {
			return errors.Wrapf(err, "failed to insert probe for %s", p.Mirror)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit run")
	}
	s.logger.Debug("run recorded", "run", run.ID, "probes", len(probes))
	return nil
}

// ListRuns returns the most recent runs, newest first.
// A limit of zero or less returns all runs.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = -1
	}
	const query = `
		SELECT id, started_at, regions, candidates, selected
		FROM runs
		ORDER BY started_at DESC, id
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query runs")
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		var (
			run       Run
			startedAt string
			regions   string
		)
		if err := rows.Scan(&run.ID, &startedAt, &regions, &run.Candidates, &run.Selected); err != nil {
			return nil, errors.Wrap(err, "failed to scan run")
		}
		if run.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, err
		}
		if regions != "" {
			run.Regions = strings.Split(regions, ",")
		}
		runs = append(runs, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate runs")
	}
	return runs, nil
}

// ListProbes returns the probes of one run in rank order.
func (s *Store) ListProbes(ctx context.Context, runID string) ([]Probe, error) {
	const query = `
		SELECT run_id, mirror, throughput, succeeded, rank
		FROM probes
		WHERE run_id = ?
		ORDER BY rank
	`
	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query probes")
	}
	defer rows.Close()

	var probes []Probe
	for rows.Next() {
		var p Probe
		if err := rows.Scan(&p.RunID, &p.Mirror, &p.Throughput, &p.Succeeded, &p.Rank); err != nil {
			return nil, errors.Wrap(err, "failed to scan probe")
		}
		probes = append(probes, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate probes")
	}
	return probes, nil
}

// MirrorStats aggregates probes per mirror, fastest average first.
// A limit of zero or less returns all mirrors.
func (s *Store) MirrorStats(ctx context.Context, limit int) ([]*MirrorStat, error) {
	if limit <= 0 {
		limit = -1
	}
	const query = `
		SELECT p.mirror,
			COUNT(*),
			AVG(p.throughput),
			MAX(p.throughput),
			AVG(CASE WHEN p.succeeded THEN 1.0 ELSE 0.0 END),
			MAX(r.started_at)
		FROM probes p
		JOIN runs r ON r.id = p.run_id
		GROUP BY p.mirror
		ORDER BY AVG(p.throughput) DESC, p.mirror
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query mirror stats")
	}
	defer rows.Close()

	var stats []*MirrorStat
	for rows.Next() {
		var (
			st       MirrorStat
			lastSeen string
		)
		if err := rows.Scan(&st.Mirror, &st.Probes, &st.AvgThroughput, &st.BestThroughput, &st.SuccessRatio, &lastSeen); err != nil {
			return nil, errors.Wrap(err, "failed to scan mirror stats")
		}
		if st.LastSeen, err = parseTime(lastSeen); err != nil {
			return nil, err
		}
		stats = append(stats, &st)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate mirror stats")
	}
	return stats, nil
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "invalid timestamp %q", s)
	}
	return t, nil
}
