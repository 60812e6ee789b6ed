package subvol

import (
	"sort"

	"github.com/google/uuid"
)

type recordKey struct {
	origin   Origin
	identity uuid.UUID
}

// Catalog is an identity-keyed union of snapshot records from several stores.
// It is immutable once built by Merge.
type Catalog struct {
	records map[recordKey]Snapshot
	order   []recordKey
}

// Merge unions the given record sets.
//
// Re-inserting an identical record is a no-op, so merging the same sets
// twice yields the same catalog. Two records of one origin that share an
// identity key but disagree on SubvolID return a *CorruptionError.
func Merge(sets ...[]Snapshot) (*Catalog, error) {
	c := &Catalog{records: make(map[recordKey]Snapshot)}

	for _, set := range sets {
		for _, s := range set {
			key := recordKey{origin: s.Origin, identity: s.IdentityKey()}
			if existing, ok := c.records[key]; ok {
				if existing.SubvolID != s.SubvolID {
					return nil, &CorruptionError{
						Origin:   s.Origin,
						Identity: key.identity,
						First:    existing.SubvolID,
						Second:   s.SubvolID,
					}
				}
				// Same record seen again; keep the read-only bit if either copy had it.
				if s.ReadOnly && !existing.ReadOnly {
					existing.ReadOnly = true
					c.records[key] = existing
				}
				continue
			}
			c.records[key] = s
			c.order = append(c.order, key)
		}
	}

	return c, nil
}

// Len returns the number of records.
func (c *Catalog) Len() int {
	return len(c.order)
}

// Lookup returns the record of origin with the given identity key.
func (c *Catalog) Lookup(identity uuid.UUID, origin Origin) (Snapshot, bool) {
	s, ok := c.records[recordKey{origin: origin, identity: identity}]
	return s, ok
}

// ByUUID returns every record whose local or received UUID equals id,
// in insertion order.
func (c *Catalog) ByUUID(id uuid.UUID) []Snapshot {
	var out []Snapshot
	for _, key := range c.order {
		if s := c.records[key]; s.HasUUID(id) {
			out = append(out, s)
		}
	}
	return out
}

// FromOrigin returns the records of one origin, in insertion order.
func (c *Catalog) FromOrigin(origin Origin) []Snapshot {
	var out []Snapshot
	for _, key := range c.order {
		if key.origin == origin {
			out = append(out, c.records[key])
		}
	}
	return out
}

// Records returns all records sorted by origin, then subvolume ID.
func (c *Catalog) Records() []Snapshot {
	out := make([]Snapshot, 0, len(c.order))
	for _, key := range c.order {
		out = append(out, c.records[key])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Origin != out[j].Origin {
			return out[i].Origin < out[j].Origin
		}
		return out[i].SubvolID < out[j].SubvolID
	})
	return out
}
