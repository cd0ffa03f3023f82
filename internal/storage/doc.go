// Package storage persists reminder snapshots.
//
// Two drivers are available:
//   - file:   a JSON document replaced atomically on every save
//   - sqlite: a single "reminders" table in a SQLite database
//
// Backends store whole snapshots; ordering and validation belong to the
// reminder store.
package storage
