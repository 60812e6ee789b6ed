// Package planner turns validated delta bases into a transfer and runs it.
//
// The planner chooses how a snapshot is sent (in full, against one parent,
// or with a set of clone sources), builds the btrfs send argv, and pipes the
// stream into a sink: a patch file on this machine or btrfs receive on the
// other one.
//
// Key responsibilities:
//   - Select a Plan from validated candidates and a preference
//   - Keep the parent and clone-source conventions mutually exclusive
//   - Stream send output into a Sink while draining send diagnostics
//   - Kill the surviving side when either side of the pipe fails
package planner
