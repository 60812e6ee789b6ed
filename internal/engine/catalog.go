package engine

import (
	"context"
	"fmt"

	"github.com/danieljhkim/btrsync/internal/subvol"
)

// Catalog lists the requested stores and merges them for display.
func (e *Engine) Catalog(ctx context.Context, req *CatalogRequest) (*subvol.Catalog, error) {
	var sets [][]subvol.Snapshot

	if req.Subvolume != "" {
		snaps, err := subvol.NewLister(e.local, subvol.OriginLocal, req.Subvolume).List(ctx, req.Subvolume)
		if err != nil {
			return nil, err
		}
		sets = append(sets, snaps)
	}

	if req.RemoteDir != "" {
		snaps, _, err := e.counterpart(ctx, req.RemoteDir, "")
		if err != nil {
			return nil, err
		}
		sets = append(sets, snaps)
	}

	if req.Dump != "" {
		snaps, err := e.dumps.Load(ctx, req.Dump)
		if err != nil {
			return nil, err
		}
		sets = append(sets, snaps)
	}

	if len(sets) == 0 {
		return nil, fmt.Errorf("%w: nothing to list", ErrInvalidRequest)
	}

	return subvol.Merge(sets...)
}

// SaveDump lists one machine and stores the listing under a name.
// It returns the number of records saved.
func (e *Engine) SaveDump(ctx context.Context, req *SaveDumpRequest) (int, error) {
	if req.Name == "" || req.Dir == "" {
		return 0, fmt.Errorf("%w: dump name and path are required", ErrInvalidRequest)
	}

	r := e.local
	switch req.Origin {
	case subvol.OriginLocal:
	case subvol.OriginRemote:
		if e.remote == nil {
			return 0, fmt.Errorf("%w: dumping the other machine needs a transport", ErrNoCounterpart)
		}
		r = e.remote
	default:
		return 0, fmt.Errorf("%w: cannot dump origin %q", ErrInvalidRequest, req.Origin)
	}

	snaps, err := subvol.NewLister(r, req.Origin, req.Dir).List(ctx, req.Dir)
	if err != nil {
		return 0, err
	}

	// Refuse listings that could not be merged later.
	if _, err := subvol.Merge(snaps); err != nil {
		return 0, err
	}

	if err := e.dumps.Save(ctx, req.Name, snaps); err != nil {
		return 0, err
	}

	e.log.Infow("dump", "status", "saved", "name", req.Name, "origin", req.Origin, "records", len(snaps))
	return len(snaps), nil
}

// LoadDump returns the records of a cached dump.
func (e *Engine) LoadDump(ctx context.Context, name string) ([]subvol.Snapshot, error) {
	return e.dumps.Load(ctx, name)
}

// ListDumps returns the names of all cached dumps.
func (e *Engine) ListDumps(ctx context.Context) ([]string, error) {
	return e.dumps.List(ctx)
}
