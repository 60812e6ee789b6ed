package cli

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danieljhkim/btrsync/internal/config"
	"github.com/danieljhkim/btrsync/internal/dumpstore"
	"github.com/danieljhkim/btrsync/internal/engine"
	"github.com/danieljhkim/btrsync/internal/fsops"
	"github.com/danieljhkim/btrsync/internal/hash"
	"github.com/danieljhkim/btrsync/internal/subvol"
	"github.com/google/uuid"
)

// setupTestEnv points btrsync at an empty root and clears settings the
// developer's environment might carry.
func setupTestEnv(t *testing.T) *config.Paths {
	t.Helper()

	root := t.TempDir()
	t.Setenv(config.RootEnv, root)
	for _, key := range []string{"BTRSYNC_TRANSPORT", "BTRSYNC_DUMP_BACKEND", "BTRSYNC_LOG_LEVEL"} {
		t.Setenv(key, "")
	}

	paths := config.PathsAt(root)
	if err := paths.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	return paths
}

func saveDump(t *testing.T, paths *config.Paths, name string) {
	t.Helper()

	store := dumpstore.NewJSONStore(paths.Dumps, fsops.NewRealFS())
	snaps := []subvol.Snapshot{{
		SubvolID:  400,
		LocalUUID: uuid.MustParse("11111111-1111-1111-1111-111111111111"),
		ReadOnly:  true,
		Path:      "snaps/one",
		Origin:    subvol.OriginRemote,
	}}
	if err := store.Save(context.Background(), name, snaps); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
}

func TestDumpLs_Empty(t *testing.T) {
	setupTestEnv(t)

	output, err := execute(t, "dump", "ls", "--json")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	var names []string
	if err := json.Unmarshal([]byte(output), &names); err != nil {
		t.Fatalf("expected valid JSON output, got error: %v, output: %q", err, output)
	}
	if len(names) != 0 {
		t.Errorf("expected no dumps, got %v", names)
	}
}

func TestDumpLs_Table(t *testing.T) {
	paths := setupTestEnv(t)
	saveDump(t, paths, "nas")

	output, err := execute(t, "dump", "ls")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(output, "nas") {
		t.Errorf("expected dump name in output, got %q", output)
	}
}

func TestDumpShow(t *testing.T) {
	paths := setupTestEnv(t)
	saveDump(t, paths, "nas")

	output, err := execute(t, "dump", "show", "nas", "--json")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	var snaps []subvol.Snapshot
	if err := json.Unmarshal([]byte(output), &snaps); err != nil {
		t.Fatalf("invalid JSON: %v, output: %q", err, output)
	}
	if len(snaps) != 1 || snaps[0].Origin != subvol.OriginDump {
		t.Errorf("unexpected records %+v", snaps)
	}
}

func TestDumpShow_Missing(t *testing.T) {
	setupTestEnv(t)

	_, err := execute(t, "dump", "show", "missing")
	if !errors.Is(err, dumpstore.ErrDumpNotFound) {
		t.Errorf("expected ErrDumpNotFound, got %v", err)
	}
}

func TestCatalog_FromDump(t *testing.T) {
	paths := setupTestEnv(t)
	saveDump(t, paths, "nas")

	output, err := execute(t, "catalog", "--dump", "nas")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(output, "snaps/one") || !strings.Contains(output, "11111111") {
		t.Errorf("expected the dumped record in output, got %q", output)
	}
}

func TestCatalog_NothingToList(t *testing.T) {
	setupTestEnv(t)

	if _, err := execute(t, "catalog"); err == nil {
		t.Error("expected an error without any source")
	}
}

func TestPush_NoTransport(t *testing.T) {
	setupTestEnv(t)

	_, err := execute(t, "push", "/pool/snaps/s2", "/backup/data", "--subvolume", "/pool/data")
	if !errors.Is(err, engine.ErrNoCounterpart) {
		t.Errorf("expected ErrNoCounterpart, got %v", err)
	}
}

func TestResolve_RequiresSubvolume(t *testing.T) {
	setupTestEnv(t)

	if _, err := execute(t, "resolve", "/pool/snaps/s2", "--dump", "nas"); err == nil {
		t.Error("expected a missing flag error")
	}
}

func TestInvalidDumpBackend(t *testing.T) {
	setupTestEnv(t)

	_, err := execute(t, "dump", "ls", "--dump-backend", "postgres")
	if err == nil || !strings.Contains(err.Error(), "postgres") {
		t.Errorf("expected an unknown backend error, got %v", err)
	}
}

func TestVerify(t *testing.T) {
	setupTestEnv(t)

	dir := t.TempDir()
	patch := filepath.Join(dir, "snaps__s2")
	if err := os.WriteFile(patch, []byte("stream"), 0644); err != nil {
		t.Fatal(err)
	}
	digest, err := hash.NewSHA256Hasher().HashFile(patch)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(patch+hash.SidecarExt, []byte(hash.SumLine(digest, "snaps__s2")), 0644); err != nil {
		t.Fatal(err)
	}

	output, err := execute(t, "verify", patch)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(output, "OK") {
		t.Errorf("expected OK, got %q", output)
	}

	if err := os.WriteFile(patch, []byte("changed"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, "verify", patch); !errors.Is(err, engine.ErrDigestMismatch) {
		t.Errorf("expected ErrDigestMismatch, got %v", err)
	}
}
