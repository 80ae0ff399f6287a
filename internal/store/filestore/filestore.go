// Package filestore keeps every batch in one JSON document on local disk.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"agri-trace-api-server/internal/models"
	"agri-trace-api-server/internal/store"
)

const defaultPath = "data/batches.json"

// Snapshot reads and rewrites the whole mapping in a single file.
type Snapshot struct {
	path string
}

// New opens (creating if needed) the store at path.
func New(path string, logger *zap.Logger) (*store.SnapshotRepository, error) {
	snap, err := NewSnapshot(path)
	if err != nil {
		return nil, err
	}
	return store.NewSnapshotRepository("file", snap, logger), nil
}

// NewSnapshot ensures the parent directory exists and seeds an empty mapping.
func NewSnapshot(path string) (*Snapshot, error) {
	if path == "" {
		path = defaultPath
	}
	path = filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := os.WriteFile(path, []byte("{}"), 0o600); err != nil {
			return nil, fmt.Errorf("seed %s: %w", path, err)
		}
	}
	return &Snapshot{path: path}, nil
}

// Path returns the backing file.
func (s *Snapshot) Path() string { return s.path }

func (s *Snapshot) Load(context.Context) (map[string]models.BatchRecord, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]models.BatchRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	all := map[string]models.BatchRecord{}
	if len(raw) == 0 {
		return all, nil
	}
	if err := json.Unmarshal(raw, &all); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.path, err)
	}
	return all, nil
}

// Save writes to a temp file next to the target and renames it over the old
// one, so a crash mid-write never leaves a truncated mapping behind.
func (s *Snapshot) Save(_ context.Context, all map[string]models.BatchRecord) (retErr error) {
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".batches-*.json")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = os.Remove(tmp.Name())
		}
	}()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("rename into %s: %w", s.path, err)
	}
	return nil
}

func (s *Snapshot) Close() error { return nil }
