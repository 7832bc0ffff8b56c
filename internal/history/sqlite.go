package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// DefaultPath is the default journal database location.
const DefaultPath = "/var/lib/fips-installer/history.db"

// DefaultListLimit caps List when the caller passes a non-positive limit.
const DefaultListLimit = 50

// timeLayout is fixed width so timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS transitions (
		id        TEXT PRIMARY KEY,
		timestamp TEXT NOT NULL,
		operation TEXT NOT NULL,
		profile   TEXT NOT NULL DEFAULT '',
		success   INTEGER NOT NULL,
		class     TEXT NOT NULL DEFAULT '',
		message   TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS state (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transitions_time ON transitions(timestamp DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Record inserts a journal entry. Missing ID and Timestamp are filled in.
func (s *SQLiteStore) Record(ctx context.Context, e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	success := 0
	if e.Success {
		success = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transitions (id, timestamp, operation, profile, success, class, message)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Timestamp.UTC().Format(timeLayout), string(e.Operation),
		e.Profile, success, e.Class, e.Message,
	)
	if err != nil {
		return fmt.Errorf("insert transition: %w", err)
	}
	return nil
}

// List returns the most recent entries, newest first.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, operation, profile, success, class, message
		 FROM transitions ORDER BY timestamp DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var ts, op string
		var success int
		if err := rows.Scan(&e.ID, &ts, &op, &e.Profile, &success, &e.Class, &e.Message); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		e.Timestamp, _ = time.Parse(timeLayout, ts)
		e.Operation = Operation(op)
		e.Success = success == 1
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

const activeProfileKey = "active_profile"

// ActiveProfile returns the stored active profile, or "" if none.
func (s *SQLiteStore) ActiveProfile(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM state WHERE key = ?`, activeProfileKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query active profile: %w", err)
	}
	return value, nil
}

// SetActiveProfile stores profile as active. An empty profile clears it.
func (s *SQLiteStore) SetActiveProfile(ctx context.Context, profile string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if profile == "" {
		_, err = s.db.ExecContext(ctx, `DELETE FROM state WHERE key = ?`, activeProfileKey)
	} else {
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO state (key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			activeProfileKey, profile)
	}
	if err != nil {
		return fmt.Errorf("store active profile: %w", err)
	}
	return nil
}
