package planner

import (
	"fmt"

	"github.com/danieljhkim/btrsync/internal/lineage"
)

// Mode is how a snapshot is sent.
type Mode int

const (
	// ModeFull sends the snapshot with no delta base.
	ModeFull Mode = iota

	// ModeParent sends a delta against a single parent (-p).
	ModeParent

	// ModeCloneSources sends with one or more clone sources (-c).
	ModeCloneSources
)

func (m Mode) String() string {
	switch m {
	case ModeParent:
		return "parent"
	case ModeCloneSources:
		return "clone-sources"
	default:
		return "full"
	}
}

// MarshalText renders the mode for JSON output.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// Preference chooses which convention a plan uses when bases exist.
type Preference int

const (
	// PreferCloneSources passes every validated base as -c.
	PreferCloneSources Preference = iota

	// PreferParent passes the best validated base as -p.
	PreferParent
)

// ParsePreference converts "clone-sources" or "parent" to a Preference.
func ParsePreference(s string) (Preference, error) {
	switch s {
	case "", "clone-sources", "clone-source":
		return PreferCloneSources, nil
	case "parent":
		return PreferParent, nil
	default:
		return 0, fmt.Errorf("unknown send preference %q (want clone-sources or parent)", s)
	}
}

// Plan is a fully decided btrfs send invocation.
type Plan struct {
	// Mode is the transfer mode
	Mode Mode `json:"mode"`

	// Snapshot is the path of the snapshot being sent
	Snapshot string `json:"snapshot"`

	// Parent is the -p base (ModeParent only)
	Parent string `json:"parent,omitempty"`

	// CloneSources are the -c bases (ModeCloneSources only)
	CloneSources []string `json:"clone_sources,omitempty"`

	// Bases are the candidates the plan was built from
	Bases []lineage.Candidate `json:"bases,omitempty"`
}

// Select builds the plan for snapshot from validated candidates, which
// must already be ranked best first. No candidates means a full send.
func Select(pref Preference, validated []lineage.Candidate, snapshot string) *Plan {
	plan := &Plan{Mode: ModeFull, Snapshot: snapshot}
	if len(validated) == 0 {
		return plan
	}

	if pref == PreferParent {
		plan.Mode = ModeParent
		plan.Parent = validated[0].Path
		plan.Bases = validated[:1]
		return plan
	}

	plan.Mode = ModeCloneSources
	plan.Bases = validated
	for _, c := range validated {
		plan.CloneSources = append(plan.CloneSources, c.Path)
	}
	return plan
}

// Validate checks that the plan is self-consistent.
func (p *Plan) Validate() error {
	if p.Snapshot == "" {
		return ErrNoSnapshot
	}
	switch p.Mode {
	case ModeFull:
		if p.Parent != "" || len(p.CloneSources) > 0 {
			return fmt.Errorf("%w: full send with bases", ErrConflictingBases)
		}
	case ModeParent:
		if p.Parent == "" {
			return fmt.Errorf("%w: parent mode without a parent", ErrConflictingBases)
		}
		if len(p.CloneSources) > 0 {
			return fmt.Errorf("%w: parent and clone sources both set", ErrConflictingBases)
		}
	case ModeCloneSources:
		if len(p.CloneSources) == 0 {
			return fmt.Errorf("%w: clone-source mode without sources", ErrConflictingBases)
		}
		if p.Parent != "" {
			return fmt.Errorf("%w: parent and clone sources both set", ErrConflictingBases)
		}
	default:
		return fmt.Errorf("unknown mode %d", p.Mode)
	}
	return nil
}

// SendArgs returns the btrfs send argv for the plan.
func (p *Plan) SendArgs() []string {
	args := []string{"btrfs", "send"}
	switch p.Mode {
	case ModeParent:
		args = append(args, "-p", p.Parent)
	case ModeCloneSources:
		for _, src := range p.CloneSources {
			args = append(args, "-c", src)
		}
	}
	return append(args, p.Snapshot)
}
