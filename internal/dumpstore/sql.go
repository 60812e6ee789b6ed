package dumpstore

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"

	"github.com/danieljhkim/btrsync/internal/fsops"
	"github.com/danieljhkim/btrsync/internal/subvol"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS dumps (
	name     TEXT PRIMARY KEY,
	saved_at TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE TABLE IF NOT EXISTS snapshots (
	dump          TEXT    NOT NULL REFERENCES dumps(name) ON DELETE CASCADE,
	uuid          TEXT    NOT NULL,
	subvol_id     INTEGER NOT NULL,
	parent_uuid   TEXT,
	received_uuid TEXT,
	read_only     INTEGER NOT NULL,
	path          TEXT    NOT NULL DEFAULT '',
	PRIMARY KEY (dump, uuid)
);
`

// SQLStore keeps dumps in an SQLite database, one row per snapshot.
type SQLStore struct {
	fs fsops.FS
	db *sql.DB
}

// OpenSQLStore opens (creating if needed) dumps.db under dir.
func OpenSQLStore(dir string, fs fsops.FS) (*SQLStore, error) {
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dir, err)
	}

	p := filepath.Join(dir, "dumps.db")
	db, err := sql.Open("sqlite", p+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(10000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", p, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLStore{fs: fs, db: db}, nil
}

// Load reads every row of the dump.
func (s *SQLStore) Load(ctx context.Context, name string) ([]subvol.Snapshot, error) {
	if err := s.fs.ValidateIdentifier(name); err != nil {
		return nil, err
	}

	var found int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dumps WHERE name = ?`, name).Scan(&found); err != nil {
		return nil, fmt.Errorf("failed to look up dump %s: %w", name, err)
	}
	if found == 0 {
		return nil, fmt.Errorf("%w: %s", ErrDumpNotFound, name)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT uuid, subvol_id, parent_uuid, received_uuid, read_only, path
		FROM snapshots WHERE dump = ? ORDER BY subvol_id`, name)
	if err != nil {
		return nil, fmt.Errorf("failed to read dump %s: %w", name, err)
	}
	defer rows.Close()

	var snaps []subvol.Snapshot
	for rows.Next() {
		var (
			local            string
			parent, received sql.NullString
			snap             subvol.Snapshot
		)
		if err := rows.Scan(&local, &snap.SubvolID, &parent, &received, &snap.ReadOnly, &snap.Path); err != nil {
			return nil, fmt.Errorf("failed to scan dump %s: %w", name, err)
		}
		if snap.LocalUUID, err = uuid.Parse(local); err != nil {
			return nil, fmt.Errorf("dump %s: bad uuid %q: %w", name, local, err)
		}
		if snap.ParentUUID, err = nullUUID(parent); err != nil {
			return nil, fmt.Errorf("dump %s: %w", name, err)
		}
		if snap.ReceivedUUID, err = nullUUID(received); err != nil {
			return nil, fmt.Errorf("dump %s: %w", name, err)
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read dump %s: %w", name, err)
	}

	return retag(snaps), nil
}

// Save replaces the dump in one transaction.
func (s *SQLStore) Save(ctx context.Context, name string, snaps []subvol.Snapshot) error {
	if err := s.fs.ValidateIdentifier(name); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM snapshots WHERE dump = ?`, name); err != nil {
		return fmt.Errorf("failed to clear dump %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO dumps (name) VALUES (?)
		ON CONFLICT(name) DO UPDATE SET saved_at = datetime('now')`, name); err != nil {
		return fmt.Errorf("failed to record dump %s: %w", name, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO snapshots (dump, uuid, subvol_id, parent_uuid, received_uuid, read_only, path)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, snap := range snaps {
		if _, err := stmt.ExecContext(ctx, name, snap.LocalUUID.String(), snap.SubvolID,
			nullString(snap.ParentUUID), nullString(snap.ReceivedUUID), snap.ReadOnly, snap.Path); err != nil {
			return fmt.Errorf("failed to insert %s into dump %s: %w", snap.LocalUUID, name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit dump %s: %w", name, err)
	}
	return nil
}

// List returns the names of all dumps.
func (s *SQLStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM dumps ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list dumps: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to list dumps: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func nullString(id uuid.NullUUID) sql.NullString {
	if !id.Valid {
		return sql.NullString{}
	}
	return sql.NullString{String: id.UUID.String(), Valid: true}
}

func nullUUID(s sql.NullString) (uuid.NullUUID, error) {
	if !s.Valid {
		return uuid.NullUUID{}, nil
	}
	id, err := uuid.Parse(s.String)
	if err != nil {
		return uuid.NullUUID{}, fmt.Errorf("bad uuid %q: %w", s.String, err)
	}
	return uuid.NullUUID{UUID: id, Valid: true}, nil
}
