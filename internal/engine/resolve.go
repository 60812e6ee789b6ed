package engine

import (
	"context"
	"fmt"

	"github.com/danieljhkim/btrsync/internal/lineage"
	"github.com/danieljhkim/btrsync/internal/probe"
	"github.com/danieljhkim/btrsync/internal/subvol"
)

// Resolve lists both stores, walks the lineage of the snapshot and
// validates every candidate base. An empty validated set is reported as
// FullTransfer, not as an error.
func (e *Engine) Resolve(ctx context.Context, req *ResolveRequest) (*Resolution, error) {
	if req.Snapshot == "" || req.Subvolume == "" {
		return nil, fmt.Errorf("%w: snapshot and subvolume are required", ErrInvalidRequest)
	}
	if (req.RemoteDir == "") == (req.Dump == "") {
		return nil, fmt.Errorf("%w: exactly one of a remote path or a dump is required", ErrInvalidRequest)
	}

	fsRoot := req.FSRoot
	if fsRoot == "" {
		fsRoot = req.Subvolume
	}
	localLister := subvol.NewLister(e.local, subvol.OriginLocal, fsRoot)

	localSnaps, err := localLister.List(ctx, req.Subvolume)
	if err != nil {
		return nil, err
	}

	other, origin, err := e.counterpart(ctx, req.RemoteDir, req.Dump)
	if err != nil {
		return nil, err
	}

	cat, err := subvol.Merge(localSnaps, other)
	if err != nil {
		return nil, err
	}

	snap, err := e.identify(ctx, localLister, cat, req.Snapshot)
	if err != nil {
		return nil, err
	}

	res := &Resolution{
		Snapshot:     snap,
		SnapshotPath: req.Snapshot,
		Counterpart:  origin,
		catalog:      cat,
	}
	_, res.AlreadyPresent = cat.Lookup(snap.IdentityKey(), origin)

	cands, err := e.candidates(ctx, localLister, cat, snap, origin, req.Parents)
	if err != nil {
		return nil, err
	}
	res.Candidates = cands

	validation, err := probe.NewValidator(e.local, e.opts.Probe, e.log).Validate(ctx, cands, req.Snapshot)
	if err != nil {
		return nil, err
	}
	res.Validation = validation
	res.FullTransfer = len(validation.Retained) == 0

	e.log.Infow("resolve", "snapshot", req.Snapshot, "counterpart", origin,
		"candidates", len(cands), "validated", len(validation.Retained),
		"full_transfer", res.FullTransfer, "already_present", res.AlreadyPresent)

	return res, nil
}

// counterpart lists the other machine or loads the named dump.
func (e *Engine) counterpart(ctx context.Context, remoteDir, dump string) ([]subvol.Snapshot, subvol.Origin, error) {
	if dump != "" {
		snaps, err := e.dumps.Load(ctx, dump)
		if err != nil {
			return nil, "", err
		}
		return snaps, subvol.OriginDump, nil
	}

	if e.remote == nil {
		return nil, "", fmt.Errorf("%w: listing %s needs a transport", ErrNoCounterpart, remoteDir)
	}
	snaps, err := subvol.NewLister(e.remote, subvol.OriginRemote, remoteDir).List(ctx, remoteDir)
	if err != nil {
		return nil, "", err
	}
	return snaps, subvol.OriginRemote, nil
}

// identify finds the catalog record of the local snapshot at p.
func (e *Engine) identify(ctx context.Context, l *subvol.Lister, cat *subvol.Catalog, p string) (subvol.Snapshot, error) {
	id, err := l.RootID(ctx, p)
	if err != nil {
		return subvol.Snapshot{}, err
	}

	for _, s := range cat.FromOrigin(subvol.OriginLocal) {
		if s.SubvolID != id {
			continue
		}
		if !s.ReadOnly {
			return subvol.Snapshot{}, fmt.Errorf("%w: %s", ErrNotReadOnly, p)
		}
		return s, nil
	}

	return subvol.Snapshot{}, fmt.Errorf("%w: %s (subvolume %d) is not in the local listing", ErrInvalidRequest, p, id)
}

// candidates returns the nominal bases: explicit parents when given,
// otherwise every common snapshot found by walking the lineage of snap.
func (e *Engine) candidates(
	ctx context.Context,
	l *subvol.Lister,
	cat *subvol.Catalog,
	snap subvol.Snapshot,
	counterpart subvol.Origin,
	parents []string,
) ([]lineage.Candidate, error) {
	if len(parents) > 0 {
		cands := make([]lineage.Candidate, 0, len(parents))
		for _, p := range parents {
			cands = append(cands, lineage.Candidate{Path: p, Depth: -1})
		}
		return cands, nil
	}

	walker := lineage.NewWalker(subvol.OriginLocal, counterpart, e.opts.Ranking, e.log)
	walk := walker.Candidates
	if e.opts.Siblings {
		walk = walker.Related
	}
	found, err := walk(cat, snap.IdentityKey())
	if err != nil {
		return nil, err
	}

	// The snapshot itself can never be its own base.
	cands := make([]lineage.Candidate, 0, len(found))
	for _, c := range found {
		if c.Self.LocalUUID != snap.LocalUUID {
			cands = append(cands, c)
		}
	}

	return lineage.ResolvePaths(ctx, cands, l)
}
