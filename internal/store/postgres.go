package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/engine-watch/internal/config"
	"github.com/sells-group/engine-watch/internal/model"
)

// Pool is the subset of *pgxpool.Pool the postgres backend uses.
type Pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// PostgresStore keeps the snapshot in a postgres table with one JSONB row per
// listing.
type PostgresStore struct {
	pool Pool
}

// snapshotTable is where the postgres backend stores listings.
const snapshotTable = "snapshot"

// NewPostgres connects to cfg.DatabaseURL and ensures the snapshot table
// exists.
func NewPostgres(ctx context.Context, cfg config.StoreConfig) (*PostgresStore, error) {
	pgxCfg, err := poolConfig(cfg)
	if err != nil {
		return nil, &StorageError{Op: "open", Path: "postgres", Err: err}
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, &StorageError{Op: "open", Path: "postgres", Err: eris.Wrap(err, "postgres: create pool")}
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, &StorageError{Op: "open", Path: "postgres", Err: eris.Wrap(err, "postgres: ping")}
	}

	s := &PostgresStore{pool: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// A run is a handful of statements twice a day.
const defaultMaxConns = 4

func poolConfig(cfg config.StoreConfig) (*pgxpool.Config, error) {
	pgxCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConns = defaultMaxConns
	if cfg.MaxConns > 0 {
		pgxCfg.MaxConns = cfg.MaxConns
	}
	pgxCfg.MinConns = max(cfg.MinConns, 0)
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute
	return pgxCfg, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS snapshot (
	identity TEXT PRIMARY KEY,
	listing  JSONB NOT NULL
)`

// Migrate creates the snapshot table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresMigration); err != nil {
		return &StorageError{Op: "migrate", Path: "postgres", Err: eris.Wrap(err, "postgres: migrate")}
	}
	return nil
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Load reads every stored listing.
func (s *PostgresStore) Load(ctx context.Context) (model.Snapshot, error) {
	rows, err := s.pool.Query(ctx, `SELECT identity, listing FROM snapshot`)
	if err != nil {
		return nil, &StorageError{Op: "load", Path: "postgres", Err: eris.Wrap(err, "postgres: query snapshot")}
	}
	defer rows.Close()

	snap := model.Snapshot{}
	for rows.Next() {
		var key string
		var data []byte
		if err := rows.Scan(&key, &data); err != nil {
			return nil, &StorageError{Op: "load", Path: "postgres", Err: eris.Wrap(err, "postgres: scan row")}
		}
		l, err := decodeListing(key, data)
		if err != nil {
			return nil, &StorageError{Op: "load", Path: "postgres", Err: err}
		}
		snap[key] = l
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "load", Path: "postgres", Err: eris.Wrap(err, "postgres: iterate rows")}
	}
	return snap, nil
}

// Save replaces the table contents in one transaction, bulk-loading the new
// rows with COPY.
func (s *PostgresStore) Save(ctx context.Context, snap model.Snapshot) error {
	rows := make([][]any, 0, len(snap))
	for key, l := range snap {
		data, err := json.Marshal(l)
		if err != nil {
			return &StorageError{Op: "save", Path: "postgres", Err: eris.Wrapf(err, "postgres: encode %q", key)}
		}
		rows = append(rows, []any{key, data})
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return &StorageError{Op: "save", Path: "postgres", Err: eris.Wrap(err, "postgres: begin")}
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM snapshot`); err != nil {
		return &StorageError{Op: "save", Path: "postgres", Err: eris.Wrap(err, "postgres: clear snapshot")}
	}

	if len(rows) > 0 {
		n, err := tx.CopyFrom(ctx, pgx.Identifier{snapshotTable}, []string{"identity", "listing"}, pgx.CopyFromRows(rows))
		if err != nil {
			return &StorageError{Op: "save", Path: "postgres", Err: eris.Wrap(err, "postgres: copy snapshot")}
		}
		if n != int64(len(rows)) {
			return &StorageError{Op: "save", Path: "postgres", Err: eris.Errorf("postgres: copied %d of %d rows", n, len(rows))}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return &StorageError{Op: "save", Path: "postgres", Err: eris.Wrap(err, "postgres: commit")}
	}
	return nil
}
