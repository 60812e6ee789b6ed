package engine

import (
	"context"
	"fmt"
	"path"
	"path/filepath"

	"github.com/danieljhkim/btrsync/internal/clock"
	"github.com/danieljhkim/btrsync/internal/hash"
	"github.com/danieljhkim/btrsync/internal/planner"
)

// snapshotDirPrefix names the directory that holds received snapshots,
// beside the subvolume they belong to.
const snapshotDirPrefix = ".btrsync_snapshots."

// SnapshotDir returns the default snapshot directory for vol: a sibling
// of vol named .btrsync_snapshots.<name>.
func SnapshotDir(vol string) (string, error) {
	vol = path.Clean(vol)
	name := path.Base(vol)
	if name == "/" || name == "." {
		return "", fmt.Errorf("%w: cannot derive a snapshot directory from %q", ErrInvalidRequest, vol)
	}
	return path.Join(path.Dir(vol), snapshotDirPrefix+name), nil
}

// PatchFileName returns the patch file name for snapshot: its parent
// directory name and its own name joined by "__".
func PatchFileName(snapshot string) string {
	snapshot = path.Clean(snapshot)
	dir := path.Base(path.Dir(snapshot))
	if dir == "/" || dir == "." {
		return path.Base(snapshot)
	}
	return dir + "__" + path.Base(snapshot)
}

// Push resolves delta bases against the other machine and sends the
// snapshot there with btrfs receive.
func (e *Engine) Push(ctx context.Context, req *PushRequest) (*PushResult, error) {
	if e.remote == nil {
		return nil, fmt.Errorf("%w: push needs a transport", ErrNoCounterpart)
	}

	receiveDir := req.ReceiveDir
	if receiveDir == "" {
		if req.RemoteSubvolume == "" {
			return nil, fmt.Errorf("%w: remote subvolume or receive directory is required", ErrInvalidRequest)
		}
		dir, err := SnapshotDir(req.RemoteSubvolume)
		if err != nil {
			return nil, err
		}
		receiveDir = dir
	}

	// The receive directory is listed, so it has to exist first.
	if !req.DryRun {
		if _, err := e.remote.Output(ctx, planner.MkdirArgs(receiveDir)); err != nil {
			return nil, fmt.Errorf("failed to create %s %s: %w", receiveDir, e.remote.Where(), err)
		}
	}

	res, err := e.Resolve(ctx, &ResolveRequest{
		Snapshot:  req.Snapshot,
		Subvolume: req.Subvolume,
		FSRoot:    req.FSRoot,
		RemoteDir: receiveDir,
		Parents:   req.Parents,
	})
	if err != nil {
		return nil, err
	}

	sink := planner.NewReceiveSink(e.remote, receiveDir)
	result := &PushResult{
		Resolution:  res,
		Destination: sink.Destination(req.Snapshot),
	}

	if res.AlreadyPresent && len(req.Parents) == 0 {
		e.log.Infow("push", "status", "skipped", "snapshot", req.Snapshot, "reason", "already present")
		result.Skipped = true
		return result, nil
	}

	result.Plan = planner.Select(e.opts.Prefer, res.Bases(), req.Snapshot)
	if req.DryRun {
		result.DryRun = true
		return result, nil
	}

	result.StartedAt = e.clock.Now()
	dest, err := planner.New(e.local, e.log).Run(ctx, result.Plan, sink)
	if err != nil {
		return nil, err
	}
	result.Destination = dest
	result.Elapsed = clock.Since(e.clock, result.StartedAt)

	e.log.Infow("push", "status", "done", "snapshot", req.Snapshot, "mode", result.Plan.Mode,
		"destination", dest, "elapsed", result.Elapsed)
	return result, nil
}

// Patch resolves delta bases against a cached dump of the other machine
// and writes the send stream to a patch file.
func (e *Engine) Patch(ctx context.Context, req *PatchRequest) (*PatchResult, error) {
	if req.Dump == "" {
		return nil, fmt.Errorf("%w: patch needs a dump of the receiving machine", ErrInvalidRequest)
	}

	res, err := e.Resolve(ctx, &ResolveRequest{
		Snapshot:  req.Snapshot,
		Subvolume: req.Subvolume,
		FSRoot:    req.FSRoot,
		Dump:      req.Dump,
		Parents:   req.Parents,
	})
	if err != nil {
		return nil, err
	}

	outDir := req.OutputDir
	if outDir == "" {
		outDir = e.configPaths.Patches
	}

	result := &PatchResult{
		Resolution: res,
		Plan:       planner.Select(e.opts.Prefer, res.Bases(), req.Snapshot),
		File:       filepath.Join(outDir, PatchFileName(req.Snapshot)),
	}
	if req.DryRun {
		result.DryRun = true
		return result, nil
	}

	if err := e.fs.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", outDir, err)
	}

	result.StartedAt = e.clock.Now()
	sink := planner.NewFileSink(e.fs, result.File)
	if _, err := planner.New(e.local, e.log).Run(ctx, result.Plan, sink); err != nil {
		return nil, err
	}
	result.Digest = sink.Digest
	result.Size = sink.Size
	result.Elapsed = clock.Since(e.clock, result.StartedAt)

	result.DigestFile = result.File + hash.SidecarExt
	line := hash.SumLine(result.Digest, filepath.Base(result.File))
	if err := e.fs.AtomicWrite(result.DigestFile, []byte(line), 0644); err != nil {
		return nil, fmt.Errorf("failed to write digest file: %w", err)
	}

	e.log.Infow("patch", "status", "done", "snapshot", req.Snapshot, "mode", result.Plan.Mode,
		"file", result.File, "bytes", result.Size, "elapsed", result.Elapsed)
	return result, nil
}

// VerifyPatch recomputes the digest of a patch file and compares it with
// the digest file written beside it.
func (e *Engine) VerifyPatch(_ context.Context, file string) (*VerifyResult, error) {
	sidecar := file + hash.SidecarExt
	data, err := e.fs.ReadFile(sidecar)
	if err != nil {
		return nil, fmt.Errorf("failed to read digest file: %w", err)
	}

	expected, name, err := hash.ParseSumLine(string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", sidecar, err)
	}
	if name != filepath.Base(file) {
		return nil, fmt.Errorf("%w: %s records %s, not %s", ErrInvalidRequest, sidecar, name, filepath.Base(file))
	}

	actual, err := e.hasher.HashFile(file)
	if err != nil {
		return nil, err
	}

	result := &VerifyResult{File: file, Expected: expected, Actual: actual}
	if actual != expected {
		return result, fmt.Errorf("%w: %s", ErrDigestMismatch, file)
	}
	return result, nil
}
