package cli

import (
	"fmt"

	"github.com/danieljhkim/btrsync/internal/clock"
	"github.com/danieljhkim/btrsync/internal/config"
	"github.com/danieljhkim/btrsync/internal/dumpstore"
	"github.com/danieljhkim/btrsync/internal/engine"
	"github.com/danieljhkim/btrsync/internal/fsops"
	"github.com/danieljhkim/btrsync/internal/hash"
	"github.com/danieljhkim/btrsync/internal/lineage"
	"github.com/danieljhkim/btrsync/internal/logger"
	"github.com/danieljhkim/btrsync/internal/planner"
	"github.com/danieljhkim/btrsync/internal/probe"
	"github.com/danieljhkim/btrsync/internal/runner"
)

// loadSettings reads config.yaml and the environment, then applies the
// global flags on top.
func loadSettings(paths *config.Paths) (*config.Settings, error) {
	file := configFile
	if file == "" {
		file = paths.Config
	}

	s, err := config.LoadSettings(file)
	if err != nil {
		return nil, err
	}

	if transportFlag != "" {
		s.Transport = transportFlag
	}
	if dumpBackendFlag != "" {
		s.DumpBackend = dumpBackendFlag
	}
	if logLevelFlag != "" {
		s.LogLevel = logLevelFlag
	}
	if verbose {
		s.LogLevel = "debug"
	}

	return s, s.Validate()
}

// engineOptions converts settings into engine options.
func engineOptions(s *config.Settings) (engine.Options, error) {
	ranking, err := lineage.ParseRanking(s.Ranking)
	if err != nil {
		return engine.Options{}, err
	}
	prefer, err := planner.ParsePreference(s.Prefer)
	if err != nil {
		return engine.Options{}, err
	}
	conv, err := probe.ParseConvention(s.Probe.Convention)
	if err != nil {
		return engine.Options{}, err
	}

	return engine.Options{
		Ranking:  ranking,
		Prefer:   prefer,
		Siblings: s.Siblings,
		Probe: probe.Options{
			Convention:  conv,
			PeekBytes:   s.Probe.PeekBytes,
			Markers:     s.Probe.Markers,
			Timeout:     s.Probe.Timeout,
			KillGrace:   s.Probe.KillGrace,
			Concurrency: s.Probe.Concurrency,
		},
	}, nil
}

// newEngine creates a new engine with real implementations of all dependencies.
// The returned func releases the dump store and flushes the logger.
func newEngine() (*engine.Engine, func(), error) {
	paths, err := config.DefaultPaths()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get config paths: %w", err)
	}

	if err := paths.EnsureDirectories(); err != nil {
		return nil, nil, fmt.Errorf("failed to ensure directories: %w", err)
	}

	settings, err := loadSettings(paths)
	if err != nil {
		return nil, nil, err
	}

	opts, err := engineOptions(settings)
	if err != nil {
		return nil, nil, err
	}

	log, err := logger.New("btrsync", settings.LogLevel)
	if err != nil {
		return nil, nil, err
	}

	backend, err := dumpstore.ParseBackend(settings.DumpBackend)
	if err != nil {
		return nil, nil, err
	}

	fs := fsops.NewRealFS()
	dumps, err := dumpstore.Open(backend, paths.Dumps, fs)
	if err != nil {
		return nil, nil, err
	}

	local := runner.NewLocal(settings.LocalElevationArgv())

	// Without a transport only cached dumps can stand in for the other machine.
	var remote runner.Runner
	transport, err := settings.TransportArgv()
	if err != nil {
		_ = dumps.Close()
		return nil, nil, err
	}
	if len(transport) > 0 {
		remote = runner.NewRemote(transport, settings.RemoteElevationArgv())
	}

	eng := engine.New(local, remote, dumps, fs, hash.NewSHA256Hasher(), &clock.RealClock{}, opts, *paths, log)
	cleanup := func() {
		_ = dumps.Close()
		_ = log.Sync()
	}
	return eng, cleanup, nil
}
