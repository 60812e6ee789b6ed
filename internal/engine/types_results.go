package engine

import (
	"time"

	"github.com/danieljhkim/btrsync/internal/lineage"
	"github.com/danieljhkim/btrsync/internal/planner"
	"github.com/danieljhkim/btrsync/internal/probe"
	"github.com/danieljhkim/btrsync/internal/subvol"
)

// Resolution represents the outcome of resolving delta bases.
type Resolution struct {
	// Snapshot is the catalog record of the snapshot being sent
	Snapshot subvol.Snapshot `json:"snapshot"`

	// SnapshotPath is the filesystem path of the snapshot being sent
	SnapshotPath string `json:"snapshot_path"`

	// Counterpart is the origin the snapshot is compared against
	Counterpart subvol.Origin `json:"counterpart"`

	// AlreadyPresent is true when the counterpart already holds the snapshot
	AlreadyPresent bool `json:"already_present"`

	// Candidates are the nominal bases, ranked, before validation
	Candidates []lineage.Candidate `json:"candidates"`

	// Validation is the probe outcome for Candidates
	Validation *probe.Result `json:"validation"`

	// FullTransfer is true when no candidate survived; the snapshot must
	// be sent in full
	FullTransfer bool `json:"full_transfer"`

	catalog *subvol.Catalog
}

// Catalog returns the merged catalog the resolution was computed from.
func (r *Resolution) Catalog() *subvol.Catalog {
	return r.catalog
}

// Bases returns the validated candidates, best first.
func (r *Resolution) Bases() []lineage.Candidate {
	if r.Validation == nil {
		return nil
	}
	return r.Validation.Retained
}

// PushResult represents the result of a push.
type PushResult struct {
	// Resolution is the resolution the plan was built from
	Resolution *Resolution `json:"resolution"`

	// Plan is the transfer plan
	Plan *planner.Plan `json:"plan,omitempty"`

	// Destination is the path of the received snapshot on the other machine
	Destination string `json:"destination"`

	// Skipped is true when nothing was sent because the snapshot is
	// already present on the other machine
	Skipped bool `json:"skipped"`

	// DryRun is true when nothing was sent because of a dry run
	DryRun bool `json:"dry_run"`

	// StartedAt is when the send started
	StartedAt time.Time `json:"started_at"`

	// Elapsed is how long the send and receive took
	Elapsed time.Duration `json:"elapsed"`
}

// PatchResult represents the result of writing a patch file.
type PatchResult struct {
	// Resolution is the resolution the plan was built from
	Resolution *Resolution `json:"resolution"`

	// Plan is the transfer plan
	Plan *planner.Plan `json:"plan"`

	// File is the patch file path
	File string `json:"file"`

	// Digest is the hex SHA-256 of the patch file
	Digest string `json:"digest,omitempty"`

	// Size is the patch file size in bytes
	Size int64 `json:"size"`

	// DigestFile is the sha256sum-format file written next to File
	DigestFile string `json:"digest_file,omitempty"`

	// DryRun is true when nothing was written
	DryRun bool `json:"dry_run"`

	// StartedAt is when the send started
	StartedAt time.Time `json:"started_at"`

	// Elapsed is how long writing the patch took
	Elapsed time.Duration `json:"elapsed"`
}

// VerifyResult represents the outcome of checking a patch file.
type VerifyResult struct {
	// File is the patch file path
	File string `json:"file"`

	// Expected is the digest recorded when the patch was written
	Expected string `json:"expected"`

	// Actual is the digest of the file as it is now
	Actual string `json:"actual"`
}
