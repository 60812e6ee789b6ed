package dumpstore

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/danieljhkim/btrsync/internal/fsops"
	"github.com/danieljhkim/btrsync/internal/subvol"
)

const jsonExt = ".json"

// JSONStore keeps one JSON file per dump.
type JSONStore struct {
	dir string
	fs  fsops.FS
}

// NewJSONStore creates a JSONStore writing under dir.
func NewJSONStore(dir string, fs fsops.FS) *JSONStore {
	return &JSONStore{dir: dir, fs: fs}
}

func (s *JSONStore) path(name string) string {
	return filepath.Join(s.dir, name+jsonExt)
}

// Load reads the dump file for name.
func (s *JSONStore) Load(_ context.Context, name string) ([]subvol.Snapshot, error) {
	if err := s.fs.ValidateIdentifier(name); err != nil {
		return nil, err
	}

	exists, err := s.fs.Exists(s.path(name))
	if err != nil {
		return nil, fmt.Errorf("failed to check dump %s: %w", name, err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrDumpNotFound, name)
	}

	data, err := s.fs.ReadFile(s.path(name))
	if err != nil {
		return nil, fmt.Errorf("failed to read dump %s: %w", name, err)
	}
	return decode(data)
}

// Save writes the dump file for name atomically.
func (s *JSONStore) Save(_ context.Context, name string, snaps []subvol.Snapshot) error {
	if err := s.fs.ValidateIdentifier(name); err != nil {
		return err
	}

	data, err := encode(snaps)
	if err != nil {
		return err
	}
	if err := s.fs.AtomicWrite(s.path(name), data, 0644); err != nil {
		return fmt.Errorf("failed to write dump %s: %w", name, err)
	}
	return nil
}

// List returns the names of dump files.
func (s *JSONStore) List(context.Context) ([]string, error) {
	return s.fs.ListNames(s.dir, jsonExt)
}

// Close is a no-op.
func (s *JSONStore) Close() error {
	return nil
}
