// Package engine provides the core workflows of btrsync.
//
// The engine package acts as the orchestration layer between CLI commands and
// the lower-level packages. It lists both stores, merges the listings,
// walks lineage, validates candidates and runs the resulting transfer.
//
// Key components:
//   - Engine: Main orchestrator that coordinates all operations
//   - Resolve: Finds validated delta bases for a snapshot
//   - Push/Patch: Transfer a snapshot to the other machine or a patch file
//   - VerifyPatch: Check a patch file against its digest before applying it
//   - Dumps: Capture and read cached listings of a store
package engine

import (
	"github.com/danieljhkim/btrsync/internal/clock"
	"github.com/danieljhkim/btrsync/internal/config"
	"github.com/danieljhkim/btrsync/internal/dumpstore"
	"github.com/danieljhkim/btrsync/internal/fsops"
	"github.com/danieljhkim/btrsync/internal/hash"
	"github.com/danieljhkim/btrsync/internal/lineage"
	"github.com/danieljhkim/btrsync/internal/planner"
	"github.com/danieljhkim/btrsync/internal/probe"
	"github.com/danieljhkim/btrsync/internal/runner"
	"go.uber.org/zap"
)

// Options tune resolution and transfer.
type Options struct {
	// Ranking orders lineage candidates
	Ranking lineage.Ranking

	// Prefer chooses between -p and -c transfers
	Prefer planner.Preference

	// Siblings adds earlier snapshots of the same source subvolume to the
	// walked ancestors
	Siblings bool

	// Probe tunes candidate validation
	Probe probe.Options
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		Ranking:  lineage.RankSubvolID,
		Prefer:   planner.PreferCloneSources,
		Siblings: true,
		Probe:    probe.DefaultOptions(),
	}
}

// Engine orchestrates all btrsync operations.
// It is the main API surface called by the CLI.
type Engine struct {
	local       runner.Runner
	remote      runner.Runner
	dumps       dumpstore.Store
	fs          fsops.FS
	hasher      hash.Hasher
	clock       clock.Clock
	opts        Options
	configPaths config.Paths
	log         *zap.SugaredLogger
}

// New creates a new Engine with the given dependencies.
// remote may be nil when only cached dumps are used as the counterpart.
func New(
	local runner.Runner,
	remote runner.Runner,
	dumps dumpstore.Store,
	fs fsops.FS,
	hasher hash.Hasher,
	clk clock.Clock,
	opts Options,
	paths config.Paths,
	log *zap.SugaredLogger,
) *Engine {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Engine{
		local:       local,
		remote:      remote,
		dumps:       dumps,
		fs:          fs,
		hasher:      hasher,
		clock:       clk,
		opts:        opts,
		configPaths: paths,
		log:         log,
	}
}
