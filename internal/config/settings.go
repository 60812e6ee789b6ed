package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "btrsync"

// Settings holds the tunables of a resolution and transfer.
type Settings struct {
	// Transport reaches the other machine, e.g. "ssh -p 2222 backup@nas"
	Transport string `yaml:"transport" split_words:"true"`

	// LocalElevation prefixes local btrfs commands (default "sudo")
	LocalElevation string `yaml:"local_elevation" split_words:"true"`

	// RemoteElevation prefixes remote btrfs commands (default "sudo")
	RemoteElevation string `yaml:"remote_elevation" split_words:"true"`

	// Ranking orders candidates: subvol-id or distance
	Ranking string `yaml:"ranking" split_words:"true"`

	// Prefer selects clone-sources or parent transfers
	Prefer string `yaml:"prefer" split_words:"true"`

	// Siblings offers earlier snapshots of the same source subvolume as
	// bases, not only ancestors
	Siblings bool `yaml:"siblings" split_words:"true"`

	// DumpBackend selects json, leveldb or sqlite
	DumpBackend string `yaml:"dump_backend" split_words:"true"`

	// LogLevel is a zap level name
	LogLevel string `yaml:"log_level" split_words:"true"`

	Probe ProbeSettings `yaml:"probe"`
}

// ProbeSettings tune parent validation.
type ProbeSettings struct {
	Convention  string        `yaml:"convention" split_words:"true"`
	PeekBytes   int           `yaml:"peek_bytes" split_words:"true"`
	Markers     []string      `yaml:"markers" split_words:"true"`
	Timeout     time.Duration `yaml:"timeout" split_words:"true"`
	KillGrace   time.Duration `yaml:"kill_grace" split_words:"true"`
	Concurrency int           `yaml:"concurrency" split_words:"true"`
}

// DefaultSettings returns the built-in defaults.
func DefaultSettings() *Settings {
	return &Settings{
		LocalElevation:  "sudo",
		RemoteElevation: "sudo",
		Ranking:         "subvol-id",
		Prefer:          "clone-sources",
		Siblings:        true,
		DumpBackend:     "json",
		Probe: ProbeSettings{
			Convention:  "clone-source",
			PeekBytes:   16,
			Markers:     []string{"parent determination failed"},
			Timeout:     30 * time.Second,
			KillGrace:   5 * time.Second,
			Concurrency: 1,
		},
	}
}

// LoadSettings layers config.yaml at path (if present) and BTRSYNC_*
// environment variables over the defaults.
func LoadSettings(path string) (*Settings, error) {
	s := DefaultSettings()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, s); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := envconfig.Process(EnvPrefix, s); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}

	return s, s.Validate()
}

// Validate checks that values are sane.
func (s *Settings) Validate() error {
	if s.Probe.PeekBytes <= 0 {
		return fmt.Errorf("probe.peek_bytes must be > 0")
	}
	if s.Probe.Concurrency <= 0 {
		return fmt.Errorf("probe.concurrency must be > 0")
	}
	if s.Probe.Timeout < 0 || s.Probe.KillGrace < 0 {
		return fmt.Errorf("probe durations must not be negative")
	}
	if _, err := s.TransportArgv(); err != nil {
		return err
	}
	if _, err := split("local_elevation", s.LocalElevation); err != nil {
		return err
	}
	if _, err := split("remote_elevation", s.RemoteElevation); err != nil {
		return err
	}
	return nil
}

// TransportArgv splits Transport into argv.
func (s *Settings) TransportArgv() ([]string, error) {
	return split("transport", s.Transport)
}

// LocalElevationArgv splits LocalElevation into argv.
func (s *Settings) LocalElevationArgv() []string {
	argv, _ := split("local_elevation", s.LocalElevation)
	return argv
}

// RemoteElevationArgv splits RemoteElevation into argv.
func (s *Settings) RemoteElevationArgv() []string {
	argv, _ := split("remote_elevation", s.RemoteElevation)
	return argv
}

func split(field, v string) ([]string, error) {
	argv, err := shellquote.Split(v)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid command %q: %w", field, v, err)
	}
	return argv, nil
}
