package history

import (
	"github.com/cockroachdb/errors"
)

var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
			CREATE TABLE runs (
				id TEXT PRIMARY KEY,
				started_at TEXT NOT NULL,
				regions TEXT NOT NULL DEFAULT '',
				candidates INTEGER NOT NULL DEFAULT 0,
				selected TEXT NOT NULL DEFAULT ''
			);

			CREATE TABLE probes (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				run_id TEXT NOT NULL,
				mirror TEXT NOT NULL,
				throughput REAL NOT NULL DEFAULT 0,
				succeeded BOOLEAN NOT NULL DEFAULT 0,
				rank INTEGER NOT NULL,
				FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
			);

			CREATE INDEX idx_probes_mirror ON probes(mirror);
			CREATE INDEX idx_runs_started_at ON runs(started_at);
		`,
	},
}

// migrate runs all pending migrations
func (s *Store) migrate() error {
	const createMigrationsTable = `
		CREATE TABLE IF NOT EXISTS migrations (
			id INTEGER PRIMARY KEY,
			version INTEGER NOT NULL UNIQUE,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
	`
	if _, err := s.db.Exec(createMigrationsTable); err != nil {
		return errors.Wrap(err, "failed to create migrations table")
	}

	var currentVersion int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM migrations").Scan(&currentVersion)
	if err != nil {
		return errors.Wrap(err, "failed to get current migration version")
	}
	s.logger.Debug("history schema version", "version", currentVersion)

	for _, mig := range migrations {
		if mig.version <= currentVersion {
			continue
		}
		s.logger.Info("running history migration", "version", mig.version)
		if err := s.runMigration(mig.version, mig.sql); err != nil {
			return errors.Wrapf(err, "failed to run migration %d", mig.version)
		}
	}
	return nil
}

// runMigration executes a migration and records it in one transaction
func (s *Store) runMigration(version int, sql string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(sql); err != nil {
		return errors.Wrap(err, "failed to execute migration")
	}
	if _, err := tx.Exec("INSERT INTO migrations (version) VALUES (?)", version); err != nil {
		return errors.Wrap(err, "failed to record migration")
	}
	return tx.Commit()
}
