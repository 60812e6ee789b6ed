// Package dumpstore persists cached metadata dumps of a store.
//
// A dump is a named copy of a subvolume listing, taken while the store was
// reachable, that lets lineage be resolved later without it (for example
// when writing a patch file for a disk that is offline). The on-disk shape
// of a dump is the JSON array of snapshot records; the backends only differ
// in where that array lives.
package dumpstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/danieljhkim/btrsync/internal/fsops"
	"github.com/danieljhkim/btrsync/internal/subvol"
)

// ErrDumpNotFound is returned when a named dump does not exist.
var ErrDumpNotFound = errors.New("dump not found")

// Store holds named dumps.
type Store interface {
	// Load returns the records of a dump, tagged as dump records.
	Load(ctx context.Context, name string) ([]subvol.Snapshot, error)

	// Save replaces the dump called name.
	Save(ctx context.Context, name string, snaps []subvol.Snapshot) error

	// List returns the names of all dumps, sorted.
	List(ctx context.Context) ([]string, error)

	// Close releases the backend.
	Close() error
}

// Backend names a Store implementation.
type Backend string

const (
	BackendJSON    Backend = "json"
	BackendLevelDB Backend = "leveldb"
	BackendSQLite  Backend = "sqlite"
)

// ParseBackend validates a backend name. Empty means json.
func ParseBackend(s string) (Backend, error) {
	switch b := Backend(s); b {
	case "":
		return BackendJSON, nil
	case BackendJSON, BackendLevelDB, BackendSQLite:
		return b, nil
	default:
		return "", fmt.Errorf("unknown dump backend %q (want json, leveldb or sqlite)", s)
	}
}

// Open opens the backend rooted at dir.
func Open(backend Backend, dir string, fs fsops.FS) (Store, error) {
	switch backend {
	case BackendJSON, "":
		return NewJSONStore(dir, fs), nil
	case BackendLevelDB:
		return OpenLevelStore(dir, fs)
	case BackendSQLite:
		return OpenSQLStore(dir, fs)
	default:
		return nil, fmt.Errorf("unknown dump backend %q", backend)
	}
}

// encode renders snaps in the dump format.
func encode(snaps []subvol.Snapshot) ([]byte, error) {
	if snaps == nil {
		snaps = []subvol.Snapshot{}
	}
	data, err := json.MarshalIndent(snaps, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode dump: %w", err)
	}
	return data, nil
}

// decode parses the dump format and tags every record as a dump record.
func decode(data []byte) ([]subvol.Snapshot, error) {
	var snaps []subvol.Snapshot
	if err := json.Unmarshal(data, &snaps); err != nil {
		return nil, fmt.Errorf("failed to decode dump: %w", err)
	}
	return retag(snaps), nil
}

func retag(snaps []subvol.Snapshot) []subvol.Snapshot {
	for i := range snaps {
		snaps[i].Origin = subvol.OriginDump
	}
	if snaps == nil {
		snaps = []subvol.Snapshot{}
	}
	return snaps
}
