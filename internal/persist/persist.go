// Package persist implements the optional relational store of spec
// §4.6.1/§6.3: when a program is constructed against a database path and
// a program id, every run/runc call writes a stim row, inserts one
// fail_pins row per DUT I/O that failed, rolls the result into the
// program row's aggregate columns, and appends a log line. Absent a
// configured Store, the program runtime's persistence calls are
// no-ops — see internal/program's Persister interface.
package persist

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/geminicomplex/gcore/internal/gcerr"
	"github.com/geminicomplex/gcore/internal/gclog"
)

// State is the small bitmask spec §6.3 uses for job/program/stim rows.
type State int

const (
	StateNone    State = 1
	StateIdle    State = 2
	StatePending State = 4
	StateRunning State = 8
	StateKilling State = 16
	StateKilled  State = 32
	StateDone    State = 64
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY,
	username TEXT NOT NULL UNIQUE,
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS boards (
	id INTEGER PRIMARY KEY,
	board_name TEXT NOT NULL,
	profile_path TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS dut_boards (
	id INTEGER PRIMARY KEY,
	board_id INTEGER NOT NULL REFERENCES boards(id),
	dut_id INTEGER NOT NULL,
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS jobs (
	id INTEGER PRIMARY KEY,
	user_id INTEGER NOT NULL REFERENCES users(id),
	board_id INTEGER NOT NULL REFERENCES boards(id),
	state INTEGER NOT NULL,
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS prgms (
	id INTEGER PRIMARY KEY,
	job_id INTEGER NOT NULL REFERENCES jobs(id),
	name TEXT NOT NULL,
	state INTEGER NOT NULL,
	last_failed INTEGER NOT NULL DEFAULT 0,
	last_cycle INTEGER NOT NULL DEFAULT 0,
	last_stim_path TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS prgm_logs (
	id INTEGER PRIMARY KEY,
	prgm_id INTEGER NOT NULL REFERENCES prgms(id),
	line TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS stims (
	id INTEGER PRIMARY KEY,
	prgm_id INTEGER NOT NULL REFERENCES prgms(id),
	path TEXT NOT NULL,
	failed INTEGER NOT NULL,
	cycle INTEGER NOT NULL,
	state INTEGER NOT NULL,
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS fail_pins (
	id INTEGER PRIMARY KEY,
	stim_id INTEGER NOT NULL REFERENCES stims(id),
	dut_io_id INTEGER NOT NULL,
	pin_name TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS mounts (
	id INTEGER PRIMARY KEY,
	board_id INTEGER NOT NULL REFERENCES boards(id),
	device_path TEXT NOT NULL,
	created_at TEXT NOT NULL
);
`

// Store is a program's handle onto the §6.3 schema, scoped to a single
// prgm_id. It satisfies internal/program's Persister interface.
type Store struct {
	db     *sql.DB
	prgmID int64
	log    *gclog.Logger
}

// Open opens (creating if absent) a SQLite database at path, applies the
// schema, and returns a Store scoped to prgmName under jobID. Persistence
// errors at open time are configuration errors per spec §7.
func Open(ctx context.Context, path string, jobID int64, prgmName string, log *gclog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("persist: open %q: %w: %v", path, gcerr.Configuration, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("persist: apply schema: %w: %v", gcerr.Configuration, err)
	}
	if log == nil {
		log = gclog.Discard()
	}
	s := &Store{db: db, log: log}
	if err := s.ensurePrgm(ctx, jobID, prgmName); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensurePrgm(ctx context.Context, jobID int64, prgmName string) error {
	row := s.db.QueryRowContext(ctx, `SELECT id FROM prgms WHERE job_id = ? AND name = ?`, jobID, prgmName)
	if err := row.Scan(&s.prgmID); err == nil {
		return nil
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO prgms (job_id, name, state, created_at, updated_at) VALUES (?, ?, ?, datetime('now'), datetime('now'))`,
		jobID, prgmName, StateIdle)
	if err != nil {
		return fmt.Errorf("persist: create prgm row: %w: %v", gcerr.Configuration, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("persist: read prgm row id: %w: %v", gcerr.Configuration, err)
	}
	s.prgmID = id
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// LogStim records one row per executed stimulus: its path, fail flag,
// failing cycle, and state. Once a database is open, write failures are
// fatal so results are never silently lost (spec §7). It returns the
// new stim row's id so callers can attach per-pin fail_pins rows to it.
func (s *Store) LogStim(ctx context.Context, path string, failed bool, cycle uint64) (int64, error) {
	state := StateDone
	if failed {
		state = StateKilled
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO stims (prgm_id, path, failed, cycle, state, created_at) VALUES (?, ?, ?, ?, ?, datetime('now'))`,
		s.prgmID, path, boolToInt(failed), int64(cycle), state)
	if err != nil {
		return 0, fmt.Errorf("persist: insert stim row: %v", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("persist: read stim row id: %v", err)
	}
	return id, nil
}

// LogLine appends one line to the program's log table.
func (s *Store) LogLine(ctx context.Context, line string) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO prgm_logs (prgm_id, line, created_at) VALUES (?, ?, datetime('now'))`,
		s.prgmID, line); err != nil {
		return fmt.Errorf("persist: insert log line: %v", err)
	}
	return nil
}

// UpdateAggregate rolls the result of a run/runc into the program row's
// fail/cycle/last-stim columns and marks it done.
func (s *Store) UpdateAggregate(ctx context.Context, failed bool, cycle uint64, lastStimPath string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE prgms SET state = ?, last_failed = ?, last_cycle = ?, last_stim_path = ?, updated_at = datetime('now') WHERE id = ?`,
		StateDone, boolToInt(failed), int64(cycle), lastStimPath, s.prgmID); err != nil {
		return fmt.Errorf("persist: update prgm aggregate: %v", err)
	}
	return nil
}

// FailPins records one row per failing DUT pin for a given stim id.
func (s *Store) FailPins(ctx context.Context, stimID int64, dutIoID int, pinName string) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO fail_pins (stim_id, dut_io_id, pin_name) VALUES (?, ?, ?)`,
		stimID, dutIoID, pinName); err != nil {
		return fmt.Errorf("persist: insert fail_pins row: %v", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
