// Package store persists sealed run snapshots and published library
// versions in SQLite. The engine's in-process state stays
// authoritative; this layer exists so snapshots remain resolvable
// across restarts, which the reproducibility contract requires.
package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Open opens (or creates) the engine database at path. ":memory:"
// yields an ephemeral database for tests.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening engine database: %w", err)
	}
	return db, nil
}
