package subvol

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/danieljhkim/btrsync/internal/runner"
)

// Lister builds snapshot records for one store by running btrfs there.
type Lister struct {
	runner runner.Runner
	origin Origin

	// fsRoot is the mount point of the filesystem top level, used to turn
	// top-level-relative paths into absolute ones.
	fsRoot string
}

// NewLister creates a Lister for the store reached through r.
func NewLister(r runner.Runner, origin Origin, fsRoot string) *Lister {
	return &Lister{runner: r, origin: origin, fsRoot: fsRoot}
}

// Origin returns the origin tag applied to listed records.
func (l *Lister) Origin() Origin {
	return l.origin
}

// List lists every subvolume under dir and marks the read-only ones.
func (l *Lister) List(ctx context.Context, dir string) ([]Snapshot, error) {
	allText, err := l.runner.Output(ctx, ListArgs(dir, false))
	if err != nil {
		return nil, fmt.Errorf("failed to list subvolumes %s: %w", l.runner.Where(), err)
	}
	all, err := ParseListing(allText, l.origin)
	if err != nil {
		return nil, err
	}

	roText, err := l.runner.Output(ctx, ListArgs(dir, true))
	if err != nil {
		return nil, fmt.Errorf("failed to list read-only subvolumes %s: %w", l.runner.Where(), err)
	}
	ro, err := ParseListing(roText, l.origin)
	if err != nil {
		return nil, err
	}

	return IntersectReadOnly(all, ro), nil
}

// ResolveArgs returns the argv that resolves a subvolume ID to its path.
func ResolveArgs(subvolID uint64, fsRoot string) []string {
	return []string{"btrfs", "inspect-internal", "subvolid-resolve", strconv.FormatUint(subvolID, 10), fsRoot}
}

// ResolvePath returns the absolute filesystem path of s.
func (l *Lister) ResolvePath(ctx context.Context, s Snapshot) (string, error) {
	out, err := l.runner.Output(ctx, ResolveArgs(s.SubvolID, l.fsRoot))
	if err != nil {
		return "", fmt.Errorf("failed to resolve subvolume %d %s: %w", s.SubvolID, l.runner.Where(), err)
	}

	rel := strings.TrimSpace(out)
	if rel == "" {
		return "", fmt.Errorf("subvolume %d resolved to an empty path", s.SubvolID)
	}
	return path.Join(l.fsRoot, rel), nil
}

// RootIDArgs returns the argv that prints the subvolume ID containing path.
func RootIDArgs(p string) []string {
	return []string{"btrfs", "inspect-internal", "rootid", p}
}

// RootID returns the ID of the subvolume at p.
func (l *Lister) RootID(ctx context.Context, p string) (uint64, error) {
	out, err := l.runner.Output(ctx, RootIDArgs(p))
	if err != nil {
		return 0, fmt.Errorf("failed to identify %s %s: %w", p, l.runner.Where(), err)
	}
	id, err := strconv.ParseUint(strings.TrimSpace(out), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unexpected rootid output for %s: %q", p, strings.TrimSpace(out))
	}
	return id, nil
}
