package engine

import "github.com/danieljhkim/btrsync/internal/subvol"

// ResolveRequest represents a request to find delta bases for a snapshot.
type ResolveRequest struct {
	// Snapshot is the path of the local read-only snapshot to send
	Snapshot string

	// Subvolume is a local path on the snapshot's filesystem to list
	Subvolume string

	// FSRoot is the mount point of the local filesystem top level
	// (default: Subvolume)
	FSRoot string

	// RemoteDir is a path on the other machine's filesystem to list.
	// Exactly one of RemoteDir and Dump is set.
	RemoteDir string

	// Dump names a cached dump standing in for the other machine
	Dump string

	// Parents are explicit delta bases; they bypass the lineage walk but
	// are still validated
	Parents []string
}

// PushRequest represents a request to send a snapshot to the other machine.
type PushRequest struct {
	// Snapshot is the path of the local read-only snapshot to send
	Snapshot string

	// Subvolume is a local path on the snapshot's filesystem to list
	Subvolume string

	// FSRoot is the mount point of the local filesystem top level
	FSRoot string

	// RemoteSubvolume is the desired path of the data on the other machine
	RemoteSubvolume string

	// ReceiveDir overrides where the snapshot is received
	// (default: SnapshotDir(RemoteSubvolume))
	ReceiveDir string

	// Parents are explicit delta bases
	Parents []string

	// DryRun resolves and plans without transferring
	DryRun bool
}

// PatchRequest represents a request to write a snapshot to a patch file,
// using a cached dump as the other side.
type PatchRequest struct {
	// Snapshot is the path of the local read-only snapshot to send
	Snapshot string

	// Subvolume is a local path on the snapshot's filesystem to list
	Subvolume string

	// FSRoot is the mount point of the local filesystem top level
	FSRoot string

	// Dump names the cached dump of the machine that will apply the patch
	Dump string

	// OutputDir is where the patch file is written (default: patches dir)
	OutputDir string

	// Parents are explicit delta bases
	Parents []string

	// DryRun resolves and plans without writing
	DryRun bool
}

// CatalogRequest represents a request for a merged listing.
type CatalogRequest struct {
	// Subvolume is a local path to list (optional)
	Subvolume string

	// RemoteDir is a path on the other machine to list (optional)
	RemoteDir string

	// Dump names a cached dump to include (optional)
	Dump string
}

// SaveDumpRequest represents a request to capture a listing as a dump.
type SaveDumpRequest struct {
	// Name is the dump name
	Name string

	// Origin selects which machine to list: local or remote
	Origin subvol.Origin

	// Dir is the path to list on that machine
	Dir string
}
