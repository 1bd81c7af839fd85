package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrVersionNotArchived is returned for unknown archived version IDs.
var ErrVersionNotArchived = errors.New("library version not archived")

// ArchivedVersion is one durably stored library version payload.
type ArchivedVersion struct {
	Library       string          `json:"library"`
	VersionID     uuid.UUID       `json:"version_id"`
	VersionNumber int             `json:"version_number"`
	Payload       json.RawMessage `json:"payload"`
	ArchivedAt    time.Time       `json:"archived_at"`
}

// SQLiteVersionArchive mirrors published library versions to disk so
// run snapshots stay resolvable after a restart. The in-process
// version store remains authoritative during a session.
type SQLiteVersionArchive struct {
	db *sql.DB
}

// NewSQLiteVersionArchive migrates the schema and returns the archive.
func NewSQLiteVersionArchive(db *sql.DB) (*SQLiteVersionArchive, error) {
	a := &SQLiteVersionArchive{db: db}
	if err := a.migrate(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *SQLiteVersionArchive) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS library_versions (
		version_id TEXT PRIMARY KEY,
		library TEXT NOT NULL,
		version_number INTEGER NOT NULL,
		payload JSON NOT NULL,
		archived_at DATETIME NOT NULL,
		UNIQUE (library, version_number)
	);`
	_, err := a.db.ExecContext(context.Background(), query)
	return err
}

// Archive stores one published version. Payload is any
// JSON-marshalable version object; archiving the same version twice
// fails on the primary key.
func (a *SQLiteVersionArchive) Archive(ctx context.Context, library string, versionID uuid.UUID, versionNumber int, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding version payload: %w", err)
	}
	query := `INSERT INTO library_versions (version_id, library, version_number, payload, archived_at)
		VALUES (?, ?, ?, ?, ?)`
	_, err = a.db.ExecContext(ctx, query,
		versionID.String(), library, versionNumber, string(raw),
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("archiving %s version %d: %w", library, versionNumber, err)
	}
	return nil
}

// Load retrieves an archived version payload into out.
func (a *SQLiteVersionArchive) Load(ctx context.Context, versionID uuid.UUID, out any) error {
	query := `SELECT payload FROM library_versions WHERE version_id = ?`
	var raw string
	err := a.db.QueryRowContext(ctx, query, versionID.String()).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("version %s: %w", versionID, ErrVersionNotArchived)
		}
		return err
	}
	return json.Unmarshal([]byte(raw), out)
}

// History lists a library's archived versions in publication order.
func (a *SQLiteVersionArchive) History(ctx context.Context, library string) ([]ArchivedVersion, error) {
	query := `SELECT version_id, library, version_number, payload, archived_at
		FROM library_versions WHERE library = ? ORDER BY version_number`
	rows, err := a.db.QueryContext(ctx, query, library)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []ArchivedVersion
	for rows.Next() {
		var (
			v         ArchivedVersion
			rawID     string
			rawJSON   string
			timestamp string
		)
		if err := rows.Scan(&rawID, &v.Library, &v.VersionNumber, &rawJSON, &timestamp); err != nil {
			return nil, err
		}
		if v.VersionID, err = uuid.Parse(rawID); err != nil {
			return nil, fmt.Errorf("parsing version id %q: %w", rawID, err)
		}
		v.Payload = json.RawMessage(rawJSON)
		if t, err := time.Parse(time.RFC3339Nano, timestamp); err == nil {
			v.ArchivedAt = t
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
