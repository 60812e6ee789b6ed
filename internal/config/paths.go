// Package config manages btrsync configuration and filesystem paths.
//
// The default root is ~/.btrsync/ containing cached dumps and config.yaml.
// Settings are layered: built-in defaults, then config.yaml, then
// BTRSYNC_* environment variables. Command-line flags are applied last by
// the CLI.
package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// RootEnv overrides the root directory.
const RootEnv = "BTRSYNC_ROOT"

// Paths contains all the filesystem paths used by btrsync.
type Paths struct {
	// Root is the base directory for all btrsync data (default: ~/.btrsync)
	Root string

	// Dumps is the directory holding cached metadata dumps
	Dumps string

	// Patches is the default directory for patch files
	Patches string

	// Config is the path to the global config file
	Config string
}

// DefaultPaths returns the default paths for btrsync.
// Paths can be overridden with environment variables:
// - BTRSYNC_ROOT: Override the root directory
func DefaultPaths() (*Paths, error) {
	root := os.Getenv(RootEnv)
	if root == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		root = filepath.Join(home, ".btrsync")
	}

	return PathsAt(root), nil
}

// PathsAt returns the paths rooted at root.
func PathsAt(root string) *Paths {
	return &Paths{
		Root:    root,
		Dumps:   filepath.Join(root, "dumps"),
		Patches: filepath.Join(root, "patches"),
		Config:  filepath.Join(root, "config.yaml"),
	}
}

// EnsureDirectories creates all necessary directories if they don't exist.
func (p *Paths) EnsureDirectories() error {
	dirs := []string{
		p.Root,
		p.Dumps,
		p.Patches,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
