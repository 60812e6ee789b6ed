package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danieljhkim/btrsync/internal/clock"
	"github.com/danieljhkim/btrsync/internal/config"
	"github.com/danieljhkim/btrsync/internal/dumpstore"
	"github.com/danieljhkim/btrsync/internal/fsops"
	"github.com/danieljhkim/btrsync/internal/hash"
	"github.com/danieljhkim/btrsync/internal/planner"
	"github.com/danieljhkim/btrsync/internal/probe"
	"github.com/danieljhkim/btrsync/internal/runner"
	"github.com/danieljhkim/btrsync/internal/subvol"
	"github.com/google/uuid"
	"go.uber.org/zap/zaptest"
)

const (
	listingHeader = "ID\tgen\ttop level\tparent_uuid\treceived_uuid\tuuid\tpath\n" +
		"--\t---\t---------\t-----------\t-------------\t----\t----\n"

	fsRoot     = "/pool"
	localVol   = "/pool/data"
	remoteVol  = "/backup/data"
	receiveDir = "/backup/.btrsync_snapshots.data"
	snapS0     = "/pool/snaps/s0"
	snapS1     = "/pool/snaps/s1"
	snapS2     = "/pool/snaps/s2"
)

// id returns a deterministic uuid for a short name.
func id(name string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}

// row is one line of a subvolume listing.
type row struct {
	subvol   uint64
	parent   string
	received string
	local    string
	path     string
	writable bool
}

func (r row) String() string {
	field := func(name string) string {
		if name == "" {
			return "-"
		}
		return id(name)
	}
	return fmt.Sprintf("%d\t10\t5\t%s\t%s\t%s\t%s\n", r.subvol, field(r.parent), field(r.received), id(r.local), r.path)
}

// setListing scripts both listings of dir on f.
func setListing(f *runner.Fake, dir string, rows ...row) {
	var all, ro strings.Builder
	all.WriteString(listingHeader)
	ro.WriteString(listingHeader)
	for _, r := range rows {
		all.WriteString(r.String())
		if !r.writable {
			ro.WriteString(r.String())
		}
	}
	f.SetOutput(subvol.ListArgs(dir, false), all.String())
	f.SetOutput(subvol.ListArgs(dir, true), ro.String())
}

// localRows is a subvolume with three snapshots taken from it.
var localRows = []row{
	{subvol: 256, local: "D", path: "data", writable: true},
	{subvol: 290, parent: "D", local: "S0", path: "snaps/s0"},
	{subvol: 300, parent: "D", local: "S1", path: "snaps/s1"},
	{subvol: 310, parent: "D", local: "S2", path: "snaps/s2"},
}

type testEnv struct {
	local  *runner.Fake
	remote *runner.Fake
	dumps  dumpstore.Store
	paths  *config.Paths
	clock  *clock.FakeClock
}

var epoch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	root := t.TempDir()
	paths := config.PathsAt(root)
	if err := paths.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}

	env := &testEnv{
		local:  runner.NewFake("(local)"),
		remote: runner.NewFake("(remote)"),
		dumps:  dumpstore.NewJSONStore(paths.Dumps, fsops.NewRealFS()),
		paths:  paths,
		clock:  clock.NewFakeClock(epoch),
	}
	env.clock.SetStep(time.Second)

	setListing(env.local, localVol, localRows...)
	env.local.SetOutput(subvol.RootIDArgs(snapS2), "310\n")
	env.local.SetOutput(subvol.RootIDArgs(localVol), "256\n")
	env.local.SetOutput(subvol.ResolveArgs(290, fsRoot), "snaps/s0\n")
	env.local.SetOutput(subvol.ResolveArgs(300, fsRoot), "snaps/s1\n")
	env.remote.SetOutput(planner.MkdirArgs(receiveDir), "")

	return env
}

func (env *testEnv) engine(t *testing.T, mutate func(*Options)) *Engine {
	opts := DefaultOptions()
	opts.Probe.Timeout = 2 * time.Second
	opts.Probe.KillGrace = time.Second
	if mutate != nil {
		mutate(&opts)
	}
	return New(env.local, env.remote, env.dumps, fsops.NewRealFS(), hash.NewSHA256Hasher(), env.clock,
		opts, *env.paths, zaptest.NewLogger(t).Sugar())
}

func (env *testEnv) probeOK(base string) {
	env.local.SetScript(probe.ProbeArgs(probe.CloneSource, base, snapS2), runner.Script{Stdout: []byte("stream")})
}

func (env *testEnv) probeRejected(base string) {
	env.local.SetScript(probe.ProbeArgs(probe.CloneSource, base, snapS2), runner.Script{
		Stderr:  []byte("ERROR: " + probe.DefaultMarker + " for " + base + "\n"),
		ExitErr: errors.New("exit status 1"),
	})
}

func pushRequest() *PushRequest {
	return &PushRequest{
		Snapshot:        snapS2,
		Subvolume:       localVol,
		FSRoot:          fsRoot,
		RemoteSubvolume: remoteVol,
	}
}

func TestPush_SharedSnapshot(t *testing.T) {
	env := newTestEnv(t)
	setListing(env.remote, receiveDir,
		row{subvol: 501, received: "S1", local: "R1", path: "backup/.btrsync_snapshots.data/s1"},
	)
	env.probeOK(snapS1)

	send := []string{"btrfs", "send", "-c", snapS1, snapS2}
	env.local.SetScript(send, runner.Script{Stdout: []byte("delta")})

	result, err := env.engine(t, nil).Push(context.Background(), pushRequest())
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}

	if result.Resolution.FullTransfer {
		t.Error("expected an incremental transfer")
	}
	if result.Plan.Mode != planner.ModeCloneSources {
		t.Errorf("mode = %s, want clone-sources", result.Plan.Mode)
	}
	if got := result.Plan.CloneSources; len(got) != 1 || got[0] != snapS1 {
		t.Errorf("clone sources = %v", got)
	}
	if result.Destination != receiveDir+"/s2" {
		t.Errorf("destination = %q", result.Destination)
	}
	if got := string(env.remote.Fed(planner.ReceiveArgs(receiveDir))); got != "delta" {
		t.Errorf("received %q, want %q", got, "delta")
	}
	if !result.StartedAt.Equal(epoch) || result.Elapsed != time.Second {
		t.Errorf("timing = %v + %v, want %v + 1s", result.StartedAt, result.Elapsed, epoch)
	}
}

func TestPush_PreferParent(t *testing.T) {
	env := newTestEnv(t)
	setListing(env.remote, receiveDir,
		row{subvol: 500, received: "S0", local: "R0", path: "s0"},
		row{subvol: 501, received: "S1", local: "R1", path: "s1"},
	)
	env.probeOK(snapS0)
	env.probeOK(snapS1)

	send := []string{"btrfs", "send", "-p", snapS1, snapS2}
	env.local.SetScript(send, runner.Script{Stdout: []byte("delta")})

	e := env.engine(t, func(o *Options) { o.Prefer = planner.PreferParent })
	result, err := e.Push(context.Background(), pushRequest())
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}

	if result.Plan.Mode != planner.ModeParent || result.Plan.Parent != snapS1 {
		t.Errorf("plan = %+v, want parent %s", result.Plan, snapS1)
	}
	if len(result.Resolution.Bases()) != 2 {
		t.Errorf("expected both bases validated, got %d", len(result.Resolution.Bases()))
	}
	if !env.local.Called(send) {
		t.Error("expected send with -p")
	}
}

func TestPush_NoCommonSnapshot(t *testing.T) {
	env := newTestEnv(t)
	setListing(env.remote, receiveDir,
		row{subvol: 600, local: "unrelated", path: "other"},
	)

	send := []string{"btrfs", "send", snapS2}
	env.local.SetScript(send, runner.Script{Stdout: []byte("full")})

	result, err := env.engine(t, nil).Push(context.Background(), pushRequest())
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}

	if !result.Resolution.FullTransfer {
		t.Error("expected a full transfer")
	}
	if len(result.Resolution.Candidates) != 0 {
		t.Errorf("expected no candidates, got %+v", result.Resolution.Candidates)
	}
	if result.Plan.Mode != planner.ModeFull {
		t.Errorf("mode = %s, want full", result.Plan.Mode)
	}
	if got := string(env.remote.Fed(planner.ReceiveArgs(receiveDir))); got != "full" {
		t.Errorf("received %q", got)
	}
}

func TestPush_RejectedCandidate(t *testing.T) {
	tests := []struct {
		name     string
		rows     []row
		wantMode planner.Mode
		wantBase string
	}{
		{
			name: "falls back to next candidate",
			rows: []row{
				{subvol: 500, received: "S0", local: "R0", path: "s0"},
				{subvol: 501, received: "S1", local: "R1", path: "s1"},
			},
			wantMode: planner.ModeCloneSources,
			wantBase: snapS0,
		},
		{
			name: "falls back to full transfer",
			rows: []row{
				{subvol: 501, received: "S1", local: "R1", path: "s1"},
			},
			wantMode: planner.ModeFull,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			setListing(env.remote, receiveDir, tt.rows...)
			env.probeRejected(snapS1)
			env.probeOK(snapS0)

			e := env.engine(t, nil)
			req := pushRequest()
			req.DryRun = true
			result, err := e.Push(context.Background(), req)
			if err != nil {
				t.Fatalf("Push failed: %v", err)
			}

			excluded := result.Resolution.Validation.Excluded
			if len(excluded) != 1 || excluded[0].Candidate.Path != snapS1 {
				t.Fatalf("expected %s excluded, got %+v", snapS1, excluded)
			}
			if !strings.Contains(excluded[0].Reason, probe.DefaultMarker) {
				t.Errorf("reason = %q", excluded[0].Reason)
			}

			if result.Plan.Mode != tt.wantMode {
				t.Errorf("mode = %s, want %s", result.Plan.Mode, tt.wantMode)
			}
			if tt.wantBase != "" {
				if len(result.Plan.CloneSources) != 1 || result.Plan.CloneSources[0] != tt.wantBase {
					t.Errorf("clone sources = %v, want [%s]", result.Plan.CloneSources, tt.wantBase)
				}
			}
		})
	}
}

func TestPush_WithoutSiblings(t *testing.T) {
	env := newTestEnv(t)
	setListing(env.remote, receiveDir,
		row{subvol: 501, received: "S1", local: "R1", path: "s1"},
	)
	env.probeOK(snapS1)

	e := env.engine(t, func(o *Options) { o.Siblings = false })
	req := pushRequest()
	req.DryRun = true
	result, err := e.Push(context.Background(), req)
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}

	// s1 is a sibling of s2, not an ancestor.
	if !result.Resolution.FullTransfer {
		t.Errorf("expected a full transfer, got candidates %+v", result.Resolution.Candidates)
	}
}

func TestPush_ExplicitParents(t *testing.T) {
	manual := "/pool/manual"

	tests := []struct {
		name     string
		reject   bool
		wantMode planner.Mode
	}{
		{name: "accepted", wantMode: planner.ModeCloneSources},
		{name: "rejected by probe", reject: true, wantMode: planner.ModeFull},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			setListing(env.remote, receiveDir,
				row{subvol: 501, received: "S1", local: "R1", path: "s1"},
			)
			env.probeOK(snapS1)
			if tt.reject {
				env.probeRejected(manual)
			} else {
				env.probeOK(manual)
			}

			req := pushRequest()
			req.Parents = []string{manual}
			req.DryRun = true
			result, err := env.engine(t, nil).Push(context.Background(), req)
			if err != nil {
				t.Fatalf("Push failed: %v", err)
			}

			if result.Plan.Mode != tt.wantMode {
				t.Errorf("mode = %s, want %s", result.Plan.Mode, tt.wantMode)
			}
			if !tt.reject && result.Plan.CloneSources[0] != manual {
				t.Errorf("clone sources = %v", result.Plan.CloneSources)
			}
			if env.local.Called(probe.ProbeArgs(probe.CloneSource, snapS1, snapS2)) {
				t.Error("explicit parents must replace the lineage walk")
			}
		})
	}
}

func TestPush_AlreadyPresent(t *testing.T) {
	env := newTestEnv(t)
	setListing(env.remote, receiveDir,
		row{subvol: 502, received: "S2", local: "R2", path: "s2"},
	)

	result, err := env.engine(t, nil).Push(context.Background(), pushRequest())
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}

	if !result.Skipped || !result.Resolution.AlreadyPresent {
		t.Errorf("expected skip, got %+v", result)
	}
	if result.Plan != nil {
		t.Errorf("expected no plan, got %+v", result.Plan)
	}
	for _, c := range env.local.Calls() {
		if len(c) > 1 && c[1] == "send" {
			t.Errorf("unexpected send %v", c)
		}
	}
}

func TestPush_DryRun(t *testing.T) {
	env := newTestEnv(t)
	setListing(env.remote, receiveDir,
		row{subvol: 501, received: "S1", local: "R1", path: "s1"},
	)
	env.probeOK(snapS1)

	req := pushRequest()
	req.DryRun = true
	result, err := env.engine(t, nil).Push(context.Background(), req)
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}

	if !result.DryRun || result.Plan == nil {
		t.Fatalf("expected a dry-run plan, got %+v", result)
	}
	if env.remote.Called(planner.MkdirArgs(receiveDir)) {
		t.Error("dry run must not create the receive directory")
	}
	if env.remote.Called(planner.ReceiveArgs(receiveDir)) {
		t.Error("dry run must not receive")
	}
}

func TestPush_SendFailure(t *testing.T) {
	env := newTestEnv(t)
	setListing(env.remote, receiveDir,
		row{subvol: 600, local: "unrelated", path: "other"},
	)

	send := []string{"btrfs", "send", snapS2}
	env.local.SetScript(send, runner.Script{
		Stderr:  []byte("ERROR: send ioctl failed\n"),
		ExitErr: errors.New("exit status 1"),
	})

	_, err := env.engine(t, nil).Push(context.Background(), pushRequest())

	var transferErr *planner.TransferError
	if !errors.As(err, &transferErr) {
		t.Fatalf("expected TransferError, got %v", err)
	}
	if !strings.Contains(transferErr.SendStderr, "send ioctl failed") {
		t.Errorf("send stderr = %q", transferErr.SendStderr)
	}
}

func TestPush_Errors(t *testing.T) {
	t.Run("no transport", func(t *testing.T) {
		env := newTestEnv(t)
		e := New(env.local, nil, env.dumps, fsops.NewRealFS(), hash.NewSHA256Hasher(), env.clock,
			DefaultOptions(), *env.paths, nil)
		_, err := e.Push(context.Background(), pushRequest())
		if !errors.Is(err, ErrNoCounterpart) {
			t.Errorf("expected ErrNoCounterpart, got %v", err)
		}
	})

	t.Run("no destination", func(t *testing.T) {
		env := newTestEnv(t)
		req := pushRequest()
		req.RemoteSubvolume = ""
		_, err := env.engine(t, nil).Push(context.Background(), req)
		if !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("expected ErrInvalidRequest, got %v", err)
		}
	})

	t.Run("transport failure", func(t *testing.T) {
		env := newTestEnv(t)
		env.remote.SetError(planner.MkdirArgs(receiveDir), runner.ErrTransport)
		_, err := env.engine(t, nil).Push(context.Background(), pushRequest())
		if !errors.Is(err, runner.ErrTransport) {
			t.Errorf("expected ErrTransport, got %v", err)
		}
	})
}

func TestResolve_Errors(t *testing.T) {
	tests := []struct {
		name    string
		req     ResolveRequest
		wantErr error
	}{
		{
			name:    "missing snapshot",
			req:     ResolveRequest{Subvolume: localVol, RemoteDir: receiveDir},
			wantErr: ErrInvalidRequest,
		},
		{
			name:    "no counterpart",
			req:     ResolveRequest{Snapshot: snapS2, Subvolume: localVol},
			wantErr: ErrInvalidRequest,
		},
		{
			name:    "remote and dump",
			req:     ResolveRequest{Snapshot: snapS2, Subvolume: localVol, RemoteDir: receiveDir, Dump: "x"},
			wantErr: ErrInvalidRequest,
		},
		{
			name:    "writable subvolume",
			req:     ResolveRequest{Snapshot: localVol, Subvolume: localVol, FSRoot: fsRoot, RemoteDir: receiveDir},
			wantErr: ErrNotReadOnly,
		},
		{
			name:    "unknown dump",
			req:     ResolveRequest{Snapshot: snapS2, Subvolume: localVol, Dump: "missing"},
			wantErr: dumpstore.ErrDumpNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			setListing(env.remote, receiveDir)

			_, err := env.engine(t, nil).Resolve(context.Background(), &tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestResolve_SnapshotNotListed(t *testing.T) {
	env := newTestEnv(t)
	setListing(env.remote, receiveDir)
	env.local.SetOutput(subvol.RootIDArgs("/elsewhere/snap"), "999\n")

	_, err := env.engine(t, nil).Resolve(context.Background(), &ResolveRequest{
		Snapshot:  "/elsewhere/snap",
		Subvolume: localVol,
		RemoteDir: receiveDir,
	})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestSaveDumpAndPatch(t *testing.T) {
	env := newTestEnv(t)
	setListing(env.remote, receiveDir,
		row{subvol: 501, received: "S1", local: "R1", path: "s1"},
	)
	env.probeOK(snapS1)

	send := []string{"btrfs", "send", "-c", snapS1, snapS2}
	env.local.SetScript(send, runner.Script{Stdout: []byte("patch-bytes")})

	e := env.engine(t, nil)
	ctx := context.Background()

	n, err := e.SaveDump(ctx, &SaveDumpRequest{Name: "backup", Origin: subvol.OriginRemote, Dir: receiveDir})
	if err != nil {
		t.Fatalf("SaveDump failed: %v", err)
	}
	if n != 1 {
		t.Errorf("saved %d records, want 1", n)
	}

	names, err := e.ListDumps(ctx)
	if err != nil {
		t.Fatalf("ListDumps failed: %v", err)
	}
	if len(names) != 1 || names[0] != "backup" {
		t.Errorf("dumps = %v", names)
	}

	snaps, err := e.LoadDump(ctx, "backup")
	if err != nil {
		t.Fatalf("LoadDump failed: %v", err)
	}
	if len(snaps) != 1 || snaps[0].Origin != subvol.OriginDump {
		t.Errorf("loaded %+v", snaps)
	}

	result, err := e.Patch(ctx, &PatchRequest{
		Snapshot:  snapS2,
		Subvolume: localVol,
		FSRoot:    fsRoot,
		Dump:      "backup",
	})
	if err != nil {
		t.Fatalf("Patch failed: %v", err)
	}

	wantFile := filepath.Join(env.paths.Patches, "snaps__s2")
	if result.File != wantFile {
		t.Errorf("file = %q, want %q", result.File, wantFile)
	}
	data, err := os.ReadFile(wantFile)
	if err != nil {
		t.Fatalf("failed to read patch: %v", err)
	}
	if string(data) != "patch-bytes" {
		t.Errorf("patch content = %q", data)
	}
	sum := sha256.Sum256(data)
	if result.Digest != hex.EncodeToString(sum[:]) {
		t.Errorf("digest = %s", result.Digest)
	}
	if result.Size != int64(len(data)) {
		t.Errorf("size = %d", result.Size)
	}
	if result.Resolution.Counterpart != subvol.OriginDump {
		t.Errorf("counterpart = %s", result.Resolution.Counterpart)
	}

	sidecar, err := os.ReadFile(wantFile + hash.SidecarExt)
	if err != nil {
		t.Fatalf("failed to read digest file: %v", err)
	}
	if string(sidecar) != result.Digest+"  snaps__s2\n" {
		t.Errorf("digest file = %q", sidecar)
	}

	verified, err := e.VerifyPatch(ctx, wantFile)
	if err != nil {
		t.Fatalf("VerifyPatch failed: %v", err)
	}
	if verified.Actual != result.Digest {
		t.Errorf("verified digest = %s, want %s", verified.Actual, result.Digest)
	}

	if err := os.WriteFile(wantFile, []byte("tampered"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := e.VerifyPatch(ctx, wantFile); !errors.Is(err, ErrDigestMismatch) {
		t.Errorf("expected ErrDigestMismatch, got %v", err)
	}
}

func TestVerifyPatch_Errors(t *testing.T) {
	env := newTestEnv(t)
	e := env.engine(t, nil)
	ctx := context.Background()
	dir := t.TempDir()

	patch := filepath.Join(dir, "snaps__s2")
	if err := os.WriteFile(patch, []byte("data"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := e.VerifyPatch(ctx, patch); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing digest file: expected ErrNotExist, got %v", err)
	}

	if err := os.WriteFile(patch+hash.SidecarExt, []byte("garbage\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := e.VerifyPatch(ctx, patch); !errors.Is(err, hash.ErrMalformedSum) {
		t.Errorf("malformed digest file: expected ErrMalformedSum, got %v", err)
	}

	sum := sha256.Sum256([]byte("data"))
	line := hash.SumLine(hex.EncodeToString(sum[:]), "other")
	if err := os.WriteFile(patch+hash.SidecarExt, []byte(line), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := e.VerifyPatch(ctx, patch); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("digest for another file: expected ErrInvalidRequest, got %v", err)
	}
}

func TestPatch_Errors(t *testing.T) {
	env := newTestEnv(t)
	e := env.engine(t, nil)

	_, err := e.Patch(context.Background(), &PatchRequest{Snapshot: snapS2, Subvolume: localVol})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestPatch_DryRun(t *testing.T) {
	env := newTestEnv(t)
	setListing(env.remote, receiveDir)

	e := env.engine(t, nil)
	ctx := context.Background()
	if _, err := e.SaveDump(ctx, &SaveDumpRequest{Name: "empty", Origin: subvol.OriginRemote, Dir: receiveDir}); err != nil {
		t.Fatalf("SaveDump failed: %v", err)
	}

	out := t.TempDir()
	result, err := e.Patch(ctx, &PatchRequest{
		Snapshot:  snapS2,
		Subvolume: localVol,
		FSRoot:    fsRoot,
		Dump:      "empty",
		OutputDir: out,
		DryRun:    true,
	})
	if err != nil {
		t.Fatalf("Patch failed: %v", err)
	}
	if !result.DryRun || result.Plan.Mode != planner.ModeFull {
		t.Errorf("unexpected result %+v", result)
	}
	if _, err := os.Stat(filepath.Join(out, "snaps__s2")); !os.IsNotExist(err) {
		t.Error("dry run must not write the patch file")
	}
}

func TestSaveDump_Errors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.engine(t, nil).SaveDump(ctx, &SaveDumpRequest{Name: "x", Origin: subvol.OriginDump, Dir: "/"})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest, got %v", err)
	}

	noRemote := New(env.local, nil, env.dumps, fsops.NewRealFS(), hash.NewSHA256Hasher(), env.clock,
		DefaultOptions(), *env.paths, nil)
	_, err = noRemote.SaveDump(ctx, &SaveDumpRequest{Name: "x", Origin: subvol.OriginRemote, Dir: "/"})
	if !errors.Is(err, ErrNoCounterpart) {
		t.Errorf("expected ErrNoCounterpart, got %v", err)
	}
}

func TestCatalog(t *testing.T) {
	env := newTestEnv(t)
	setListing(env.remote, receiveDir,
		row{subvol: 501, received: "S1", local: "R1", path: "s1"},
	)
	e := env.engine(t, nil)

	cat, err := e.Catalog(context.Background(), &CatalogRequest{Subvolume: localVol, RemoteDir: receiveDir})
	if err != nil {
		t.Fatalf("Catalog failed: %v", err)
	}
	if got := len(cat.FromOrigin(subvol.OriginLocal)); got != len(localRows) {
		t.Errorf("local records = %d, want %d", got, len(localRows))
	}
	if got := len(cat.FromOrigin(subvol.OriginRemote)); got != 1 {
		t.Errorf("remote records = %d, want 1", got)
	}

	if _, err := e.Catalog(context.Background(), &CatalogRequest{}); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestSnapshotDir(t *testing.T) {
	tests := []struct {
		vol     string
		want    string
		wantErr bool
	}{
		{vol: "/backup/data", want: "/backup/.btrsync_snapshots.data"},
		{vol: "/backup/data/", want: "/backup/.btrsync_snapshots.data"},
		{vol: "data", want: ".btrsync_snapshots.data"},
		{vol: "/", wantErr: true},
		{vol: ".", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.vol, func(t *testing.T) {
			got, err := SnapshotDir(tt.vol)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidRequest) {
					t.Errorf("expected ErrInvalidRequest, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("SnapshotDir failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("SnapshotDir(%q) = %q, want %q", tt.vol, got, tt.want)
			}
		})
	}
}

func TestPatchFileName(t *testing.T) {
	tests := map[string]string{
		"/pool/snaps/s2":  "snaps__s2",
		"/pool/snaps/s2/": "snaps__s2",
		"/s2":             "s2",
		"s2":              "s2",
	}
	for in, want := range tests {
		if got := PatchFileName(in); got != want {
			t.Errorf("PatchFileName(%q) = %q, want %q", in, got, want)
		}
	}
}
