// Package opstate persists the runtime's operational state across
// restarts: the last stable mode and a journal of mode transitions. It
// is fed from the event bus and read by the operator surfaces.
package opstate

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Keys in the state table.
const (
	KeyLastMode    = "last_mode"
	KeyLastOutcome = "last_outcome"
)

// Entry is one journaled supervisor event.
type Entry struct {
	ID      int64     `json:"id"`
	Time    time.Time `json:"time"`
	Kind    string    `json:"kind"`
	From    string    `json:"from,omitempty"`
	To      string    `json:"to,omitempty"`
	Mode    string    `json:"mode"`
	Outcome string    `json:"outcome"`
	Error   string    `json:"error,omitempty"`
}

// Store is the SQLite-backed state store. All methods are safe for
// concurrent use (SQLite serializes writes).
type Store struct {
	db *sql.DB
}

// NewStore opens or creates the store at dbPath.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runtime_state (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS mode_journal (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		at        TEXT NOT NULL,
		kind      TEXT NOT NULL,
		from_mode TEXT NOT NULL DEFAULT '',
		to_mode   TEXT NOT NULL DEFAULT '',
		mode      TEXT NOT NULL DEFAULT '',
		outcome   TEXT NOT NULL,
		error     TEXT NOT NULL DEFAULT ''
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Get returns the value stored under key, or "" if it is not set.
func (s *Store) Get(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM runtime_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get %s: %w", key, err)
	}
	return value, nil
}

// Set upserts key.
func (s *Store) Set(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO runtime_state (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (key) DO UPDATE
		 SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Append journals e and, when e left the runtime in a mode, records
// that mode and the outcome as the latest state. The entry's ID and
// zero Time are filled in.
func (s *Store) Append(e *Entry) error {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT INTO mode_journal (at, kind, from_mode, to_mode, mode, outcome, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Time.UTC().Format(time.RFC3339Nano), e.Kind, e.From, e.To, e.Mode, e.Outcome, e.Error,
	)
	if err != nil {
		return fmt.Errorf("append %s: %w", e.Kind, err)
	}
	if e.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("append %s: %w", e.Kind, err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	upsert := `INSERT INTO runtime_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	if e.Mode != "" {
		if _, err := tx.Exec(upsert, KeyLastMode, e.Mode, now); err != nil {
			return fmt.Errorf("record last mode: %w", err)
		}
	}
	if _, err := tx.Exec(upsert, KeyLastOutcome, e.Outcome, now); err != nil {
		return fmt.Errorf("record last outcome: %w", err)
	}
	return tx.Commit()
}

// Recent returns up to limit journal entries, newest first.
func (s *Store) Recent(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT id, at, kind, from_mode, to_mode, mode, outcome, error
		 FROM mode_journal ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var at string
		if err := rows.Scan(&e.ID, &at, &e.Kind, &e.From, &e.To, &e.Mode, &e.Outcome, &e.Error); err != nil {
			return nil, fmt.Errorf("scan journal: %w", err)
		}
		if e.Time, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, fmt.Errorf("parse journal time %q: %w", at, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
