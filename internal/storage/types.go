package storage

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values:
//   - "file":   JSON snapshot at Path
//   - "sqlite": SQLite database file at Path
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Record is the persisted form of one reminder. The ID is the map key in
// snapshots.
type Record struct {
	ID      string `json:"-"`
	Hour    int    `json:"hour"`
	Minute  int    `json:"minute"`
	Weekday int    `json:"weekday"`
	Concept int    `json:"concept"`
}

// Backend stores and retrieves full reminder snapshots keyed by id.
type Backend interface {
	// Save replaces the stored snapshot with recs.
	Save(ctx context.Context, recs map[string]Record) error
	// Load returns the stored snapshot. A backend that has never been saved
	// returns an empty map and no error.
	Load(ctx context.Context) (map[string]Record, error)
	Close() error
}
