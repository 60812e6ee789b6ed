// Package lineage finds snapshots that a local snapshot shares with the
// other store and that can therefore serve as a delta base.
//
// Parent edges (parent_uuid) form a forest with at most one parent per
// node. The walk climbs from the snapshot being sent toward its roots and,
// at every node, looks for a record of the counterpart store with the same
// local or received UUID. Every hit is kept: declared lineage does not prove
// the data is still usable, so later validation may throw some away.
package lineage

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/danieljhkim/btrsync/internal/subvol"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrUnknownSnapshot is returned when the walk start is not in the catalog.
var ErrUnknownSnapshot = errors.New("snapshot not found in catalog")

// Ranking decides the order of emitted candidates.
type Ranking int

const (
	// RankSubvolID orders by counterpart subvolume ID, highest first.
	// Higher IDs are usually newer and so usually closer ancestors; this is
	// a heuristic, not a distance.
	RankSubvolID Ranking = iota

	// RankDistance orders by number of parent hops from the start, nearest
	// first, then by counterpart subvolume ID.
	RankDistance
)

// ParseRanking converts "subvol-id" or "distance" to a Ranking.
func ParseRanking(s string) (Ranking, error) {
	switch s {
	case "", "subvol-id":
		return RankSubvolID, nil
	case "distance":
		return RankDistance, nil
	default:
		return 0, fmt.Errorf("unknown ranking %q (want subvol-id or distance)", s)
	}
}

func (r Ranking) String() string {
	if r == RankDistance {
		return "distance"
	}
	return "subvol-id"
}

// Candidate is a snapshot present in both stores.
type Candidate struct {
	// Identity is the cross-store identity key.
	Identity uuid.UUID `json:"identity"`

	// Self is the copy on the sending side; its path is the delta base.
	Self subvol.Snapshot `json:"self"`

	// Counterpart is the copy in the other store.
	Counterpart subvol.Snapshot `json:"counterpart"`

	// Depth is the number of parent hops from the walk start, or -1 for
	// candidates not found by a walk.
	Depth int `json:"depth"`

	// Path is the filesystem path of Self, filled by ResolvePaths.
	Path string `json:"path,omitempty"`

	// Valid is set once a probe confirmed the candidate.
	Valid bool `json:"valid"`
}

// Walker enumerates common-ancestor candidates between two stores.
type Walker struct {
	self        subvol.Origin
	counterpart subvol.Origin
	ranking     Ranking
	log         *zap.SugaredLogger
}

// NewWalker creates a Walker that sends from self to counterpart.
func NewWalker(self, counterpart subvol.Origin, ranking Ranking, log *zap.SugaredLogger) *Walker {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Walker{self: self, counterpart: counterpart, ranking: ranking, log: log}
}

type visitKey struct {
	origin subvol.Origin
	local  uuid.UUID
}

// Candidates walks up from the self-store snapshot with identity mine and
// returns every counterpart match, ordered by the walker's ranking.
// An empty result is not an error: it means a full transfer.
func (w *Walker) Candidates(cat *subvol.Catalog, mine uuid.UUID) ([]Candidate, error) {
	start, ok := w.findSelf(cat, mine)
	if !ok {
		return nil, fmt.Errorf("%w: %s in %s store", ErrUnknownSnapshot, mine, w.self)
	}

	var cands []Candidate
	visited := make(map[visitKey]bool)
	emitted := make(map[visitKey]bool)

	node := start
	for depth := 0; ; depth++ {
		key := visitKey{origin: node.Origin, local: node.LocalUUID}
		if visited[key] {
			w.log.Warnw("lineage", "status", "cycle in parent chain", "node", node.String())
			break
		}
		visited[key] = true

		cands = append(cands, w.hits(cat, node, depth, emitted)...)

		if !node.ParentUUID.Valid {
			break
		}
		next, ok := w.parentOf(cat, node)
		if !ok {
			w.log.Debugw("lineage", "status", "parent not in any store", "node", node.String(),
				"parent", node.ParentUUID.UUID)
			break
		}
		node = next
	}

	w.rank(cands)
	return cands, nil
}

// findSelf locates the walk start: by identity key first, then by any uuid.
func (w *Walker) findSelf(cat *subvol.Catalog, id uuid.UUID) (subvol.Snapshot, bool) {
	if s, ok := cat.Lookup(id, w.self); ok {
		return s, true
	}
	for _, s := range cat.ByUUID(id) {
		if s.Origin == w.self {
			return s, true
		}
	}
	return subvol.Snapshot{}, false
}

// parentOf resolves node's parent_uuid. A parent_uuid refers to a local
// uuid in node's own store; when that subvolume has been deleted, the walk
// bridges through any other store's record carrying the same uuid.
func (w *Walker) parentOf(cat *subvol.Catalog, node subvol.Snapshot) (subvol.Snapshot, bool) {
	pid := node.ParentUUID.UUID
	matches := cat.ByUUID(pid)

	for _, s := range matches {
		if s.Origin == node.Origin && s.LocalUUID == pid {
			return s, true
		}
	}
	for _, s := range matches {
		if s.Origin == w.self {
			return s, true
		}
	}
	if len(matches) > 0 {
		return matches[0], true
	}
	return subvol.Snapshot{}, false
}

// hits returns counterpart records matching node by local or received uuid.
func (w *Walker) hits(cat *subvol.Catalog, node subvol.Snapshot, depth int, emitted map[visitKey]bool) []Candidate {
	ids := []uuid.UUID{node.LocalUUID}
	if node.ReceivedUUID.Valid {
		ids = append(ids, node.ReceivedUUID.UUID)
	}

	var out []Candidate
	for _, id := range ids {
		for _, r := range cat.ByUUID(id) {
			if r.Origin != w.counterpart {
				continue
			}
			key := visitKey{origin: r.Origin, local: r.LocalUUID}
			if emitted[key] {
				continue
			}

			self, ok := w.selfCopy(cat, node, r)
			if !ok {
				w.log.Debugw("lineage", "status", "common snapshot has no copy on sending side",
					"counterpart", r.String())
				continue
			}
			if !self.ReadOnly {
				w.log.Debugw("lineage", "status", "common snapshot is writable, cannot be a base",
					"self", self.String())
				continue
			}

			emitted[key] = true
			out = append(out, Candidate{
				Identity:    self.IdentityKey(),
				Self:        self,
				Counterpart: r,
				Depth:       depth,
			})
		}
	}
	return out
}

// selfCopy returns the sending-side record for a hit.
func (w *Walker) selfCopy(cat *subvol.Catalog, node, hit subvol.Snapshot) (subvol.Snapshot, bool) {
	if node.Origin == w.self {
		return node, true
	}
	if s, ok := cat.Lookup(hit.IdentityKey(), w.self); ok {
		return s, true
	}
	for _, id := range []uuid.NullUUID{{UUID: hit.LocalUUID, Valid: true}, hit.ReceivedUUID} {
		if !id.Valid {
			continue
		}
		for _, s := range cat.ByUUID(id.UUID) {
			if s.Origin == w.self {
				return s, true
			}
		}
	}
	return subvol.Snapshot{}, false
}

func (w *Walker) rank(cands []Candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		if w.ranking == RankDistance && cands[i].Depth != cands[j].Depth {
			return cands[i].Depth < cands[j].Depth
		}
		return cands[i].Counterpart.SubvolID > cands[j].Counterpart.SubvolID
	})
}

// Related returns Candidates plus the siblings of the start: read-only
// self snapshots taken from the same source subvolume that the counterpart
// also holds. Every snapshot of a subvolume names that subvolume as its
// parent, so earlier snapshots of it are siblings of the start rather than
// ancestors. Siblings get depth 1, the hop to the shared parent.
func (w *Walker) Related(cat *subvol.Catalog, mine uuid.UUID) ([]Candidate, error) {
	cands, err := w.Candidates(cat, mine)
	if err != nil {
		return nil, err
	}

	start, _ := w.findSelf(cat, mine)
	if !start.ParentUUID.Valid {
		return cands, nil
	}

	seen := make(map[visitKey]bool, len(cands))
	for _, c := range cands {
		seen[visitKey{origin: c.Counterpart.Origin, local: c.Counterpart.LocalUUID}] = true
	}

	for _, s := range cat.FromOrigin(w.self) {
		if !s.ReadOnly || s.LocalUUID == start.LocalUUID {
			continue
		}
		if !s.ParentUUID.Valid || s.ParentUUID.UUID != start.ParentUUID.UUID {
			continue
		}
		r, ok := cat.Lookup(s.IdentityKey(), w.counterpart)
		if !ok {
			continue
		}
		key := visitKey{origin: r.Origin, local: r.LocalUUID}
		if seen[key] {
			continue
		}
		seen[key] = true
		cands = append(cands, Candidate{Identity: s.IdentityKey(), Self: s, Counterpart: r, Depth: 1})
	}

	w.rank(cands)
	return cands, nil
}

// Shared returns every read-only self snapshot that also exists in the
// counterpart store, regardless of lineage, highest counterpart ID first.
// It is the pool offered as clone sources when no walk start is known.
func (w *Walker) Shared(cat *subvol.Catalog) []Candidate {
	var out []Candidate
	for _, s := range cat.FromOrigin(w.self) {
		if !s.ReadOnly {
			continue
		}
		r, ok := cat.Lookup(s.IdentityKey(), w.counterpart)
		if !ok {
			continue
		}
		out = append(out, Candidate{Identity: s.IdentityKey(), Self: s, Counterpart: r, Depth: -1})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Counterpart.SubvolID > out[j].Counterpart.SubvolID
	})
	return out
}

// PathResolver resolves a snapshot record to a filesystem path.
type PathResolver interface {
	ResolvePath(ctx context.Context, s subvol.Snapshot) (string, error)
}

// ResolvePaths fills Path for every candidate that has none.
func ResolvePaths(ctx context.Context, cands []Candidate, resolver PathResolver) ([]Candidate, error) {
	out := make([]Candidate, len(cands))
	for i, c := range cands {
		if c.Path == "" {
			p, err := resolver.ResolvePath(ctx, c.Self)
			if err != nil {
				return nil, err
			}
			c.Path = p
		}
		out[i] = c
	}
	return out, nil
}
