package engine

import "errors"

var (
	// ErrInvalidRequest indicates a request is missing or mixes fields.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrNoCounterpart indicates the other machine is needed but no
	// transport is configured.
	ErrNoCounterpart = errors.New("no counterpart configured")

	// ErrNotReadOnly indicates the snapshot to send is writable.
	ErrNotReadOnly = errors.New("snapshot is not read-only")

	// ErrDigestMismatch indicates a patch file no longer matches the
	// digest recorded when it was written.
	ErrDigestMismatch = errors.New("patch digest mismatch")
)
