package planner

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kballard/go-shellquote"
)

var (
	// ErrConflictingBases is returned when a plan mixes send conventions.
	ErrConflictingBases = errors.New("conflicting delta bases")

	// ErrNoSnapshot is returned when a plan has no snapshot to send.
	ErrNoSnapshot = errors.New("plan has no snapshot")

	// ErrSendUnfinished is returned when btrfs send ended its stream but
	// did not exit within the grace period and had to be killed.
	ErrSendUnfinished = errors.New("send did not finish after its stream ended")
)

// TransferError is returned when either side of a transfer fails.
// It carries the diagnostics of both sides.
type TransferError struct {
	Argv          []string
	Destination   string
	SendErr       error
	ReceiveErr    error
	SendStderr    string
	ReceiveStderr string
}

func (e *TransferError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "transfer of %s to %s failed", shellquote.Join(e.Argv...), e.Destination)
	if e.SendErr != nil {
		fmt.Fprintf(&b, "\nsend: %v", e.SendErr)
	}
	if e.ReceiveErr != nil {
		fmt.Fprintf(&b, "\nreceive: %v", e.ReceiveErr)
	}
	if s := strings.TrimSpace(e.SendStderr); s != "" {
		fmt.Fprintf(&b, "\nsend stderr: %s", s)
	}
	if s := strings.TrimSpace(e.ReceiveStderr); s != "" {
		fmt.Fprintf(&b, "\nreceive stderr: %s", s)
	}
	return b.String()
}

func (e *TransferError) Unwrap() []error {
	var errs []error
	if e.SendErr != nil {
		errs = append(errs, e.SendErr)
	}
	if e.ReceiveErr != nil {
		errs = append(errs, e.ReceiveErr)
	}
	return errs
}
