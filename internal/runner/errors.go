package runner

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kballard/go-shellquote"
)

var (
	// ErrTransport indicates the remote command channel could not be reached.
	ErrTransport = errors.New("transport failure")

	// ErrEmptyCommand is returned when an empty argv is given.
	ErrEmptyCommand = errors.New("empty command")
)

// sshTransportExit is the exit code ssh reserves for its own failures.
const sshTransportExit = 255

// ProcessError describes a child process that did not complete successfully.
type ProcessError struct {
	Argv     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ProcessError) Error() string {
	msg := fmt.Sprintf("command %q failed", shellquote.Join(e.Argv...))
	if e.ExitCode >= 0 {
		msg = fmt.Sprintf("%s: exit status %d", msg, e.ExitCode)
	} else if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg += "\nstderr: " + stderr
	}
	return msg
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}
