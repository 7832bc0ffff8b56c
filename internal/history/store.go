// Package history keeps a journal of mode transitions and the profile that
// was last enabled successfully.
//
// Mode state itself is always derived from the files on disk. The journal
// only answers the question the files cannot: which supported profile was
// requested when the marker block was written.
package history

import (
	"context"
	"time"
)

// Operation names a transition kind.
type Operation string

const (
	OpEnable  Operation = "enable"
	OpDisable Operation = "disable"
)

// Entry is one transition attempt.
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Operation Operation `json:"operation"`
	Profile   string    `json:"profile,omitempty"`
	Success   bool      `json:"success"`
	Class     string    `json:"class,omitempty"` // error class, empty on success
	Message   string    `json:"message,omitempty"`
}

// Store defines the persistence interface for the transition journal.
// The primary implementation uses SQLite (see sqlite.go).
type Store interface {
	Record(ctx context.Context, e *Entry) error
	List(ctx context.Context, limit int) ([]Entry, error)

	// ActiveProfile returns the last successfully enabled profile, or ""
	// when none is recorded.
	ActiveProfile(ctx context.Context) (string, error)
	SetActiveProfile(ctx context.Context, profile string) error

	Close() error
}
