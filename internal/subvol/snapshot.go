// Package subvol parses btrfs subvolume listings into snapshot records and
// merges records from several stores into one identity-keyed catalog.
//
// A store is one btrfs filesystem as seen from one vantage point: the local
// machine, the other machine, or a cached metadata dump of the other
// machine. Subvolume IDs are store-local ordinals and are never compared
// across stores. The identity key (received UUID when present, else the
// local UUID) is what recognizes the same logical snapshot across stores.
package subvol

import (
	"fmt"

	"github.com/google/uuid"
)

// Origin tags which store a record was listed from.
type Origin string

const (
	OriginLocal  Origin = "local"
	OriginRemote Origin = "remote"
	OriginDump   Origin = "dump"
)

// ParseOrigin converts a string to an Origin.
func ParseOrigin(s string) (Origin, error) {
	switch o := Origin(s); o {
	case OriginLocal, OriginRemote, OriginDump:
		return o, nil
	default:
		return "", fmt.Errorf("unknown origin %q (want local, remote or dump)", s)
	}
}

// Snapshot is one subvolume record as listed by a store.
type Snapshot struct {
	// SubvolID is the store-local subvolume ID.
	SubvolID uint64 `json:"subvol_id"`

	// LocalUUID identifies the subvolume within its own store.
	LocalUUID uuid.UUID `json:"local_uuid"`

	// ParentUUID is the subvolume this one was snapshotted from.
	ParentUUID uuid.NullUUID `json:"parent_uuid"`

	// ReceivedUUID is inherited from the logical origin when this
	// subvolume was produced by btrfs receive.
	ReceivedUUID uuid.NullUUID `json:"received_uuid"`

	// ReadOnly is true for read-only snapshots, the only kind btrfs send accepts.
	ReadOnly bool `json:"read_only"`

	// Path is the listing path relative to the filesystem top level, as
	// printed: whitespace inside it is kept.
	Path string `json:"path,omitempty"`

	// Origin is the store this record came from.
	Origin Origin `json:"origin"`
}

// IdentityKey returns the cross-store identity of the snapshot.
func (s Snapshot) IdentityKey() uuid.UUID {
	if s.ReceivedUUID.Valid {
		return s.ReceivedUUID.UUID
	}
	return s.LocalUUID
}

// HasUUID reports whether id is either the local or the received UUID.
func (s Snapshot) HasUUID(id uuid.UUID) bool {
	return s.LocalUUID == id || (s.ReceivedUUID.Valid && s.ReceivedUUID.UUID == id)
}

func (s Snapshot) String() string {
	return fmt.Sprintf("%s@%s#%d", s.IdentityKey(), s.Origin, s.SubvolID)
}
