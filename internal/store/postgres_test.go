package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/engine-watch/internal/config"
	"github.com/sells-group/engine-watch/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return &PostgresStore{pool: mock}, mock
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS snapshot`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LoadEmpty(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectQuery(`SELECT identity, listing FROM snapshot`).
		WillReturnRows(pgxmock.NewRows([]string{"identity", "listing"}))

	snap, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Load(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	l := listing(model.SourceAeroconnect, "CFM56-7B24", "890123")
	data, err := json.Marshal(l)
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT identity, listing FROM snapshot`).
		WillReturnRows(pgxmock.NewRows([]string{"identity", "listing"}).AddRow(l.Identity(), data))

	snap, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, snapshotOf(l), snap)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LoadMismatchedKey(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	data, err := json.Marshal(listing(model.SourceLocatory, "CFM56-5B4", "1"))
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT identity, listing FROM snapshot`).
		WillReturnRows(pgxmock.NewRows([]string{"identity", "listing"}).AddRow("stale-key", data))

	_, err = s.Load(context.Background())
	require.Error(t, err)
	assert.True(t, IsStorageError(err))
}

func TestPostgresStore_LoadQueryError(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectQuery(`SELECT identity, listing FROM snapshot`).
		WillReturnError(errors.New("connection refused"))

	_, err := s.Load(context.Background())
	require.Error(t, err)
	assert.True(t, IsStorageError(err))
	assert.Contains(t, err.Error(), "query snapshot")
}

func TestPostgresStore_Save(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	snap := sampleSnapshot()

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM snapshot`).WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectCopyFrom(pgx.Identifier{"snapshot"}, []string{"identity", "listing"}).
		WillReturnResult(int64(len(snap)))
	mock.ExpectCommit()

	require.NoError(t, s.Save(context.Background(), snap))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveEmptySkipsCopy(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM snapshot`).WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectCommit()

	require.NoError(t, s.Save(context.Background(), model.Snapshot{}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveCopyFailsRollsBack(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM snapshot`).WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectCopyFrom(pgx.Identifier{"snapshot"}, []string{"identity", "listing"}).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := s.Save(context.Background(), sampleSnapshot())
	require.Error(t, err)
	assert.True(t, IsStorageError(err))
	assert.Contains(t, err.Error(), "copy snapshot")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveBeginFails(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectBegin().WillReturnError(errors.New("too many connections"))

	err := s.Save(context.Background(), sampleSnapshot())
	require.Error(t, err)
	assert.True(t, IsStorageError(err))
}

func TestPoolConfig(t *testing.T) {
	const url = "postgres://watch@localhost:5432/engines"

	pc, err := poolConfig(config.StoreConfig{Driver: "postgres", DatabaseURL: url})
	require.NoError(t, err)
	assert.Equal(t, int32(defaultMaxConns), pc.MaxConns)
	assert.Equal(t, int32(0), pc.MinConns)

	pc, err = poolConfig(config.StoreConfig{Driver: "postgres", DatabaseURL: url, MaxConns: 8, MinConns: 2})
	require.NoError(t, err)
	assert.Equal(t, int32(8), pc.MaxConns)
	assert.Equal(t, int32(2), pc.MinConns)
}

func TestOpen_PostgresBadURL(t *testing.T) {
	_, err := Open(context.Background(), config.StoreConfig{Driver: "postgres", DatabaseURL: "postgres://%zz"})
	require.Error(t, err)
	assert.True(t, IsStorageError(err))
	assert.Contains(t, err.Error(), "parse config")
}
