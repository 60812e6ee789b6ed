package cli

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/danieljhkim/btrsync/internal/config"
	"github.com/danieljhkim/btrsync/internal/engine"
	"github.com/danieljhkim/btrsync/internal/lineage"
)

func TestEngineOptions_Defaults(t *testing.T) {
	opts, err := engineOptions(config.DefaultSettings())
	if err != nil {
		t.Fatalf("engineOptions() error = %v", err)
	}
	if !reflect.DeepEqual(opts, engine.DefaultOptions()) {
		t.Errorf("default settings give %+v, want %+v", opts, engine.DefaultOptions())
	}
}

func TestEngineOptions_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Settings)
	}{
		{"ranking", func(s *config.Settings) { s.Ranking = "newest" }},
		{"prefer", func(s *config.Settings) { s.Prefer = "both" }},
		{"convention", func(s *config.Settings) { s.Probe.Convention = "incremental" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := config.DefaultSettings()
			tt.mutate(s)
			if _, err := engineOptions(s); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestLoadSettings_FlagsOverride(t *testing.T) {
	root := t.TempDir()
	paths := config.PathsAt(root)
	if err := os.WriteFile(paths.Config, []byte("ranking: distance\ntransport: ssh old\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("BTRSYNC_TRANSPORT", "ssh env")

	transportFlag = "ssh flag"
	verbose = true
	t.Cleanup(func() {
		transportFlag = ""
		verbose = false
	})

	s, err := loadSettings(paths)
	if err != nil {
		t.Fatalf("loadSettings() error = %v", err)
	}
	if s.Transport != "ssh flag" {
		t.Errorf("transport = %q, want the flag value", s.Transport)
	}
	if s.LogLevel != "debug" {
		t.Errorf("log level = %q, want debug", s.LogLevel)
	}
	if s.Ranking != lineage.RankDistance.String() {
		t.Errorf("ranking = %q, want the file value", s.Ranking)
	}
}

func TestLoadSettings_ConfigFlag(t *testing.T) {
	file := filepath.Join(t.TempDir(), "other.yaml")
	if err := os.WriteFile(file, []byte("prefer: parent\n"), 0644); err != nil {
		t.Fatal(err)
	}

	configFile = file
	t.Cleanup(func() { configFile = "" })

	s, err := loadSettings(config.PathsAt(t.TempDir()))
	if err != nil {
		t.Fatalf("loadSettings() error = %v", err)
	}
	if s.Prefer != "parent" {
		t.Errorf("prefer = %q, want parent", s.Prefer)
	}
}

func TestFormatError(t *testing.T) {
	got := FormatError(errors.New("boom"))
	if !strings.Contains(got, "Error: boom") {
		t.Errorf("FormatError() = %q", got)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := map[int64]string{
		0:           "0 B",
		1023:        "1023 B",
		1024:        "1.0 KiB",
		1536:        "1.5 KiB",
		5 * 1 << 20: "5.0 MiB",
	}
	for n, want := range tests {
		if got := formatBytes(n); got != want {
			t.Errorf("formatBytes(%d) = %q, want %q", n, got, want)
		}
	}
}

func TestPrintTable(t *testing.T) {
	var buf strings.Builder
	PrintTable(&buf, []string{"Name", "ID"}, [][]string{{"s1", "300"}, {"longer", "7"}})

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header, separator and 2 rows, got %q", buf.String())
	}
	if !strings.Contains(lines[1], "------") {
		t.Errorf("separator = %q", lines[1])
	}
}
