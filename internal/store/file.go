package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"

	"github.com/sells-group/engine-watch/internal/model"
)

// FileStore keeps the snapshot as one JSON object, identity to listing.
type FileStore struct {
	path string
}

// NewFile returns a FileStore backed by path. The file is created on the
// first Save.
func NewFile(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the snapshot file location.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the snapshot file. A missing file is an empty snapshot.
func (s *FileStore) Load(ctx context.Context) (model.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return model.Snapshot{}, nil
	}
	if err != nil {
		return nil, &StorageError{Op: "load", Path: s.path, Err: err}
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, &StorageError{Op: "load", Path: s.path, Err: eris.New("snapshot is not a JSON object")}
	}

	var entries map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &entries); err != nil {
		return nil, &StorageError{Op: "load", Path: s.path, Err: eris.Wrap(err, "decode snapshot")}
	}

	snap := make(model.Snapshot, len(entries))
	for key, raw := range entries {
		l, err := decodeListing(key, raw)
		if err != nil {
			return nil, &StorageError{Op: "load", Path: s.path, Err: err}
		}
		snap[key] = l
	}
	return snap, nil
}

// Save writes snap to a temporary file next to the target, syncs it and
// renames it into place.
func (s *FileStore) Save(ctx context.Context, snap model.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if snap == nil {
		snap = model.Snapshot{}
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return &StorageError{Op: "save", Path: s.path, Err: eris.Wrap(err, "encode snapshot")}
	}

	if err := writeFileAtomic(s.path, data); err != nil {
		return &StorageError{Op: "save", Path: s.path, Err: err}
	}
	return nil
}

// Close is a no-op.
func (s *FileStore) Close() error {
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return eris.Wrap(err, "create temp file")
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return eris.Wrap(err, "write temp file")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return eris.Wrap(err, "sync temp file")
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "close temp file")
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return eris.Wrap(err, "chmod temp file")
	}
	if err := os.Rename(tmpName, path); err != nil {
		return eris.Wrap(err, "rename temp file")
	}
	committed = true

	// Persist the rename itself. Some filesystems refuse to sync a
	// directory; the data is already in place by then.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}
