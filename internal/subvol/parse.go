package subvol

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Column layout of `btrfs subvolume list -t -q -R -u`:
//
//	ID  gen  top level  parent_uuid  received_uuid  uuid  path
//	--  ---  ---------  -----------  -------------  ----  ----
//
// The header's "top level" is two words but rows have one value per column.
const (
	colID = iota
	colGen
	colTopLevel
	colParentUUID
	colReceivedUUID
	colUUID
	colPath

	headerLines = 2
	nullField   = "-"
)

// ListArgs returns the argv that lists subvolumes under path.
// readOnly restricts the listing to read-only subvolumes.
func ListArgs(path string, readOnly bool) []string {
	argv := []string{"btrfs", "subvolume", "list", "-t", "-q", "-R", "-u"}
	if readOnly {
		argv = append(argv, "-r")
	}
	return append(argv, path)
}

// ParseListing parses the tabular output of ListArgs.
// The first two lines are the header and separator. Records are tagged
// with origin; ReadOnly is left false (see IntersectReadOnly).
func ParseListing(text string, origin Origin) ([]Snapshot, error) {
	var snaps []Snapshot
	seen := make(map[uuid.UUID]uint64)

	scanner := bufio.NewScanner(strings.NewReader(text))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if lineNo <= headerLines {
			continue
		}

		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		snap, err := parseRow(line, origin)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedListing, lineNo, err)
		}

		if prev, ok := seen[snap.LocalUUID]; ok {
			return nil, &CorruptionError{
				Origin:   origin,
				Identity: snap.LocalUUID,
				First:    prev,
				Second:   snap.SubvolID,
			}
		}
		seen[snap.LocalUUID] = snap.SubvolID

		snaps = append(snaps, snap)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read listing: %w", err)
	}

	return snaps, nil
}

func parseRow(line string, origin Origin) (Snapshot, error) {
	fields, path := splitColumns(line, colPath)
	if len(fields) < colPath {
		return Snapshot{}, fmt.Errorf("expected %d columns, got %d", colPath+1, len(fields))
	}
	if path == "" {
		return Snapshot{}, fmt.Errorf("subvolume row has no path")
	}

	id, err := strconv.ParseUint(fields[colID], 10, 64)
	if err != nil {
		return Snapshot{}, fmt.Errorf("invalid subvolume id %q", fields[colID])
	}

	local, err := parseUUID(fields[colUUID])
	if err != nil {
		return Snapshot{}, fmt.Errorf("invalid uuid: %w", err)
	}
	if !local.Valid {
		return Snapshot{}, fmt.Errorf("subvolume %d has no uuid", id)
	}

	parent, err := parseUUID(fields[colParentUUID])
	if err != nil {
		return Snapshot{}, fmt.Errorf("invalid parent_uuid: %w", err)
	}

	received, err := parseUUID(fields[colReceivedUUID])
	if err != nil {
		return Snapshot{}, fmt.Errorf("invalid received_uuid: %w", err)
	}

	return Snapshot{
		SubvolID:     id,
		LocalUUID:    local.UUID,
		ParentUUID:   parent,
		ReceivedUUID: received,
		Path:         path,
		Origin:       origin,
	}, nil
}

// splitColumns splits the first n whitespace-separated columns off line and
// returns them with the rest of the line, whose inner whitespace is kept.
func splitColumns(line string, n int) ([]string, string) {
	rest := strings.TrimRight(line, "\r")
	fields := make([]string, 0, n)
	for len(fields) < n {
		rest = strings.TrimLeft(rest, " \t")
		if rest == "" {
			break
		}
		end := strings.IndexAny(rest, " \t")
		if end < 0 {
			end = len(rest)
		}
		fields = append(fields, rest[:end])
		rest = rest[end:]
	}
	return fields, strings.TrimLeft(rest, " \t")
}

// parseUUID parses a listing UUID column; "-" is null.
func parseUUID(field string) (uuid.NullUUID, error) {
	if field == nullField {
		return uuid.NullUUID{}, nil
	}
	id, err := uuid.Parse(field)
	if err != nil {
		return uuid.NullUUID{}, err
	}
	return uuid.NullUUID{UUID: id, Valid: true}, nil
}

// IntersectReadOnly marks every record of all whose identity key also
// appears in ro as read-only, and returns the result.
func IntersectReadOnly(all, ro []Snapshot) []Snapshot {
	roKeys := make(map[uuid.UUID]struct{}, len(ro))
	for _, s := range ro {
		roKeys[s.IdentityKey()] = struct{}{}
	}

	out := make([]Snapshot, len(all))
	for i, s := range all {
		_, s.ReadOnly = roKeys[s.IdentityKey()]
		out[i] = s
	}
	return out
}
