package dumpstore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/danieljhkim/btrsync/internal/fsops"
	"github.com/danieljhkim/btrsync/internal/subvol"
	ds "github.com/ipfs/go-datastore"
	dsq "github.com/ipfs/go-datastore/query"
	dslvl "github.com/ipfs/go-ds-leveldb"
)

const dumpPrefix = "/dumps"

// LevelStore keeps dumps in a LevelDB datastore, one key per dump.
type LevelStore struct {
	fs fsops.FS
	db *dslvl.Datastore
}

// OpenLevelStore opens (creating if needed) the datastore under dir.
func OpenLevelStore(dir string, fs fsops.FS) (*LevelStore, error) {
	p := filepath.Join(dir, "leveldb")
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dir, err)
	}

	db, err := dslvl.NewDatastore(p, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open leveldb at %s: %w", p, err)
	}

	return &LevelStore{fs: fs, db: db}, nil
}

func dumpKey(name string) ds.Key {
	return ds.NewKey(dumpPrefix).ChildString(name)
}

// Load reads the dump stored under /dumps/<name>.
func (s *LevelStore) Load(ctx context.Context, name string) ([]subvol.Snapshot, error) {
	if err := s.fs.ValidateIdentifier(name); err != nil {
		return nil, err
	}

	b, err := s.db.Get(ctx, dumpKey(name))
	if errors.Is(err, ds.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrDumpNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read dump %s: %w", name, err)
	}
	return decode(b)
}

// Save stores the dump under /dumps/<name>.
func (s *LevelStore) Save(ctx context.Context, name string, snaps []subvol.Snapshot) error {
	if err := s.fs.ValidateIdentifier(name); err != nil {
		return err
	}

	b, err := encode(snaps)
	if err != nil {
		return err
	}
	if err := s.db.Put(ctx, dumpKey(name), b); err != nil {
		return fmt.Errorf("failed to write dump %s: %w", name, err)
	}
	return s.db.Sync(ctx, dumpKey(name))
}

// List returns the names under /dumps.
func (s *LevelStore) List(ctx context.Context) ([]string, error) {
	res, err := s.db.Query(ctx, dsq.Query{Prefix: dumpPrefix, KeysOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to query dumps: %w", err)
	}
	defer res.Close()

	names := []string{}
	for {
		r, hasNext := res.NextSync()
		if !hasNext {
			break
		}
		if r.Error != nil {
			return nil, fmt.Errorf("failed to query dumps: %w", r.Error)
		}
		names = append(names, strings.TrimPrefix(r.Key, dumpPrefix+"/"))
	}
	sort.Strings(names)
	return names, nil
}

// Close closes the datastore.
func (s *LevelStore) Close() error {
	return s.db.Close()
}
