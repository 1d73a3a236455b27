package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/engine-watch/internal/model"
)

// SQLiteStore keeps the snapshot in a single-table SQLite database using
// modernc.org/sqlite.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLite opens a SQLite database at the given path, configures WAL mode and
// creates the snapshot table.
func NewSQLite(ctx context.Context, dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, &StorageError{Op: "open", Path: dsn, Err: eris.Wrap(err, "sqlite: open")}
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=FULL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, &StorageError{Op: "open", Path: dsn, Err: eris.Wrapf(err, "sqlite: exec %s", pragma)}
		}
	}
	s := &SQLiteStore{db: db, path: dsn}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS snapshot (
	identity TEXT PRIMARY KEY,
	listing  TEXT NOT NULL
);
`

// Migrate creates the snapshot table if it does not exist.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteMigration); err != nil {
		return &StorageError{Op: "migrate", Path: s.path, Err: eris.Wrap(err, "sqlite: migrate")}
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Load reads every stored listing. A fresh database yields an empty snapshot.
func (s *SQLiteStore) Load(ctx context.Context) (model.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT identity, listing FROM snapshot`)
	if err != nil {
		return nil, &StorageError{Op: "load", Path: s.path, Err: eris.Wrap(err, "sqlite: query snapshot")}
	}
	defer rows.Close() //nolint:errcheck

	snap := model.Snapshot{}
	for rows.Next() {
		var key, data string
		if err := rows.Scan(&key, &data); err != nil {
			return nil, &StorageError{Op: "load", Path: s.path, Err: eris.Wrap(err, "sqlite: scan row")}
		}
		l, err := decodeListing(key, []byte(data))
		if err != nil {
			return nil, &StorageError{Op: "load", Path: s.path, Err: err}
		}
		snap[key] = l
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "load", Path: s.path, Err: eris.Wrap(err, "sqlite: iterate rows")}
	}
	return snap, nil
}

// Save replaces the table contents in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, snap model.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &StorageError{Op: "save", Path: s.path, Err: eris.Wrap(err, "sqlite: begin")}
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM snapshot`); err != nil {
		return &StorageError{Op: "save", Path: s.path, Err: eris.Wrap(err, "sqlite: clear snapshot")}
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO snapshot (identity, listing) VALUES (?, ?)`)
	if err != nil {
		return &StorageError{Op: "save", Path: s.path, Err: eris.Wrap(err, "sqlite: prepare insert")}
	}
	defer stmt.Close() //nolint:errcheck

	for key, l := range snap {
		data, err := json.Marshal(l)
		if err != nil {
			return &StorageError{Op: "save", Path: s.path, Err: eris.Wrapf(err, "sqlite: encode %q", key)}
		}
		if _, err := stmt.ExecContext(ctx, key, string(data)); err != nil {
			return &StorageError{Op: "save", Path: s.path, Err: eris.Wrapf(err, "sqlite: insert %q", key)}
		}
	}

	if err := tx.Commit(); err != nil {
		return &StorageError{Op: "save", Path: s.path, Err: eris.Wrap(err, "sqlite: commit")}
	}
	return nil
}
