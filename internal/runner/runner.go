// Package runner executes commands on this machine or on the other machine.
//
// Every command is an argv vector. Nothing is ever assembled into a local
// shell string: the local runner hands argv straight to exec, and the remote
// runner quotes each argument individually before handing the line to the
// transport (ssh joins its trailing arguments into one remote shell line).
//
// Two implementations exist: Local (elevation prefix only) and Remote
// (transport prefix + elevation prefix). Fake is a scripted in-memory runner
// for tests.
package runner

import (
	"context"
	"io"
)

// Runner is the capability to run commands somewhere.
type Runner interface {
	// Output runs argv to completion and returns its stdout.
	// A nonzero exit is returned as *ProcessError.
	Output(ctx context.Context, argv []string) (string, error)

	// Feed runs argv with stdin streamed from r until r is exhausted.
	Feed(ctx context.Context, argv []string, stdin io.Reader) error

	// Start launches argv and returns a handle whose stdout and stderr
	// must both be serviced by the caller.
	Start(ctx context.Context, argv []string) (Process, error)

	// Where returns a human label for log lines, e.g. "(here)".
	Where() string
}

// Process is a running child started by Runner.Start.
type Process interface {
	// Stdout is the data channel.
	Stdout() io.Reader

	// Stderr is the diagnostic channel.
	Stderr() io.Reader

	// CloseStdout closes our end of the data channel. The child's next
	// write fails with EPIPE, so it can still exit on its own and flush
	// its diagnostics.
	CloseStdout() error

	// Kill terminates the child. Safe to call more than once.
	Kill() error

	// Wait reaps the child. It must only be called after the caller is done
	// reading from Stdout and Stderr.
	Wait() error
}
