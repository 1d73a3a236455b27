// Package store persists the snapshot of listings seen by the latest run.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/sells-group/engine-watch/internal/config"
	"github.com/sells-group/engine-watch/internal/model"
)

// SnapshotStore loads and atomically replaces the persisted snapshot.
type SnapshotStore interface {
	// Load returns the stored snapshot, or an empty one when nothing has been
	// stored yet. Unreadable or corrupt state is a *StorageError.
	Load(ctx context.Context) (model.Snapshot, error)

	// Save replaces the stored snapshot with snap. A reader sees either the
	// old snapshot or the new one, never a mix.
	Save(ctx context.Context, snap model.Snapshot) error

	Close() error
}

// StorageError reports a snapshot that could not be read or written.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("store: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsStorageError reports whether err is or wraps a *StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// Open returns the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig) (SnapshotStore, error) {
	switch cfg.Driver {
	case "", "file":
		return NewFile(cfg.Path), nil
	case "sqlite":
		return NewSQLite(ctx, cfg.Path)
	case "postgres":
		return NewPostgres(ctx, cfg)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
}

// decodeListing unmarshals one stored entry and checks that it is filed under
// its own identity.
func decodeListing(key string, data []byte) (model.Listing, error) {
	var l model.Listing
	if err := json.Unmarshal(data, &l); err != nil {
		return l, eris.Wrapf(err, "decode entry %q", key)
	}
	if id := l.Identity(); id != key {
		return l, eris.Errorf("entry %q does not match its identity %q", key, id)
	}
	return l, nil
}
