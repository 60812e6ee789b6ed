// Package integration runs the engine against real child processes.
//
// A shell script named btrfs is put first on PATH. It serves listings and
// send streams from files under a state directory, one subdirectory per
// machine. The "other machine" is reached through a transport that only
// switches the script to the remote state, so the remote runner's quoting
// and the real pipe plumbing are both exercised.
package integration

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danieljhkim/btrsync/internal/clock"
	"github.com/danieljhkim/btrsync/internal/config"
	"github.com/danieljhkim/btrsync/internal/dumpstore"
	"github.com/danieljhkim/btrsync/internal/engine"
	"github.com/danieljhkim/btrsync/internal/fsops"
	"github.com/danieljhkim/btrsync/internal/hash"
	"github.com/danieljhkim/btrsync/internal/runner"
	"github.com/google/uuid"
	"go.uber.org/zap/zaptest"
)

const fakeBtrfs = `#!/bin/sh
state="$BTRSYNC_FAKE_STATE/${BTRSYNC_FAKE_SIDE:-local}"
case "$1 $2" in
"subvolume list")
	for a in "$@"; do
		if [ "$a" = "-r" ]; then
			exec cat "$state/list.ro"
		fi
	done
	exec cat "$state/list"
	;;
"inspect-internal rootid")
	exec cat "$state/rootid"
	;;
"inspect-internal subvolid-resolve")
	exec cat "$state/resolve.$3"
	;;
esac
case "$1" in
send)
	shift
	while [ $# -gt 1 ]; do
		case "$1" in
		-c|-p)
			if grep -qxF "$2" "$state/bad" 2>/dev/null; then
				echo "ERROR: parent determination failed for $2" >&2
				exit 1
			fi
			shift 2
			;;
		*)
			shift
			;;
		esac
	done
	echo "stream of $1"
	;;
receive)
	cat > "$state/received"
	;;
*)
	echo "fake btrfs: unsupported: $*" >&2
	exit 2
	;;
esac
`

const listingHeader = "ID\tgen\ttop level\tparent_uuid\treceived_uuid\tuuid\tpath\n" +
	"--\t---\t---------\t-----------\t-------------\t----\t----\n"

// id returns a deterministic uuid for a short name.
func id(name string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}

// subvolume is one listed subvolume of a fake machine.
type subvolume struct {
	ID       uint64
	Parent   string
	Received string
	Name     string
	Path     string
	Writable bool
}

func (s subvolume) row() string {
	field := func(name string) string {
		if name == "" {
			return "-"
		}
		return id(name)
	}
	return fmt.Sprintf("%d\t7\t5\t%s\t%s\t%s\t%s\n", s.ID, field(s.Parent), field(s.Received), id(s.Name), s.Path)
}

// machine is the state directory of one side.
type machine struct {
	t   *testing.T
	dir string
}

func (m *machine) write(name, content string) {
	m.t.Helper()
	if err := os.WriteFile(filepath.Join(m.dir, name), []byte(content), 0644); err != nil {
		m.t.Fatalf("failed to write %s: %v", name, err)
	}
}

// setSubvolumes writes both listings.
func (m *machine) setSubvolumes(subs ...subvolume) {
	var all, ro strings.Builder
	all.WriteString(listingHeader)
	ro.WriteString(listingHeader)
	for _, s := range subs {
		all.WriteString(s.row())
		if !s.Writable {
			ro.WriteString(s.row())
		}
	}
	m.write("list", all.String())
	m.write("list.ro", ro.String())
}

// reject makes every send using base as a delta base fail like btrfs does.
func (m *machine) reject(bases ...string) {
	m.write("bad", strings.Join(bases, "\n")+"\n")
}

func (m *machine) received() string {
	m.t.Helper()
	data, err := os.ReadFile(filepath.Join(m.dir, "received"))
	if err != nil {
		m.t.Fatalf("nothing received: %v", err)
	}
	return string(data)
}

type testEnv struct {
	local  *machine
	remote *machine
	paths  *config.Paths

	// remoteRoot is a real directory standing in for the other machine's
	// filesystem; receive directories are created under it.
	remoteRoot string
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	base := t.TempDir()
	bin := filepath.Join(base, "bin")
	state := filepath.Join(base, "state")
	for _, dir := range []string{bin, filepath.Join(state, "local"), filepath.Join(state, "remote")} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(bin, "btrfs"), []byte(fakeBtrfs), 0755); err != nil {
		t.Fatal(err)
	}

	t.Setenv("PATH", bin+string(os.PathListSeparator)+os.Getenv("PATH"))
	t.Setenv("BTRSYNC_FAKE_STATE", state)

	paths := config.PathsAt(filepath.Join(base, "btrsync"))
	if err := paths.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}

	return &testEnv{
		local:      &machine{t: t, dir: filepath.Join(state, "local")},
		remote:     &machine{t: t, dir: filepath.Join(state, "remote")},
		paths:      paths,
		remoteRoot: filepath.Join(base, "remote-fs"),
	}
}

// engine builds an engine over real runners. The transport runs the remote
// command line in a local shell with the remote state selected.
func (env *testEnv) engine(t *testing.T, backend dumpstore.Backend, opts engine.Options) *engine.Engine {
	t.Helper()

	fs := fsops.NewRealFS()
	dumps, err := dumpstore.Open(backend, env.paths.Dumps, fs)
	if err != nil {
		t.Fatalf("failed to open dump store: %v", err)
	}
	t.Cleanup(func() { _ = dumps.Close() })

	local := runner.NewLocal(nil)
	remote := runner.NewRemote([]string{"env", "BTRSYNC_FAKE_SIDE=remote", "sh", "-c"}, nil)

	return engine.New(local, remote, dumps, fs, hash.NewSHA256Hasher(), &clock.RealClock{},
		opts, *env.paths, zaptest.NewLogger(t).Sugar())
}
