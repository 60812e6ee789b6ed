package subvol

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrMetadataCorruption indicates listings that contradict themselves.
	// It is always fatal.
	ErrMetadataCorruption = errors.New("metadata corruption")

	// ErrMalformedListing indicates a listing row that could not be parsed.
	ErrMalformedListing = errors.New("malformed subvolume listing")
)

// CorruptionError reports two records of one store that claim the same
// identity with different subvolume IDs.
type CorruptionError struct {
	Origin   Origin
	Identity uuid.UUID
	First    uint64
	Second   uint64
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("%v: identity %s appears in %s store as subvolume %d and %d",
		ErrMetadataCorruption, e.Identity, e.Origin, e.First, e.Second)
}

func (e *CorruptionError) Unwrap() error {
	return ErrMetadataCorruption
}
