// Package db archives runs and their vehicle events in SQLite.
//
// The archive is a secondary sink: the CSV event log is the system of
// record, and archive failures never abort a run. Queries over past
// runs are served from here.
package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

type DB struct {
	*sql.DB
}

// NewDB opens (or creates) the archive at path and ensures the schema.
// Pass ":memory:" for an ephemeral archive in tests.
func NewDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// modernc's driver is not safe for concurrent writes over multiple
	// connections on one file.
	db.SetMaxOpenConns(1)

	if _, err = db.Exec(`PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("db: set pragmas: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			run_id            TEXT PRIMARY KEY,
			source            TEXT,
			params            TEXT,
			status            TEXT,
			started_unix_ns   BIGINT,
			finished_unix_ns  BIGINT,
			frames            BIGINT,
			vehicles          BIGINT
		);
		CREATE TABLE IF NOT EXISTS vehicle_events (
			run_id            TEXT,
			vehicle_number    BIGINT,
			track_id          BIGINT,
			direction         TEXT,
			speed_raw         DOUBLE,
			speed_normalized  DOUBLE,
			distance_px       DOUBLE,
			elapsed_s         DOUBLE,
			samples           BIGINT,
			entry_unix_ns     BIGINT,
			exit_unix_ns      BIGINT,
			PRIMARY KEY (run_id, vehicle_number),
			FOREIGN KEY (run_id) REFERENCES runs(run_id)
		);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("db: create schema: %w", err)
	}

	return &DB{db}, nil
}

// Ping verifies the archive is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.PingContext(ctx)
}
