package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/kballard/go-shellquote"
)

// waitDelay bounds how long Wait keeps pipes open after the child exits,
// in case a grandchild (sudo, ssh) still holds them.
const waitDelay = 5 * time.Second

// Local runs commands on this machine behind an elevation prefix.
type Local struct {
	// Elevation is prepended to every argv, e.g. ["sudo"]. May be empty.
	Elevation []string
}

// NewLocal creates a new Local runner.
func NewLocal(elevation []string) *Local {
	return &Local{Elevation: elevation}
}

func (l *Local) command(argv []string) []string {
	return concat(l.Elevation, argv)
}

// Output runs argv locally and returns its stdout.
func (l *Local) Output(ctx context.Context, argv []string) (string, error) {
	return output(ctx, l.command(argv), false)
}

// Feed runs argv locally with stdin streamed from r.
func (l *Local) Feed(ctx context.Context, argv []string, stdin io.Reader) error {
	return feed(ctx, l.command(argv), stdin, false)
}

// Start launches argv locally.
func (l *Local) Start(ctx context.Context, argv []string) (Process, error) {
	return start(ctx, l.command(argv), false)
}

// Where returns "(here)".
func (l *Local) Where() string {
	return "(here)"
}

// Remote runs commands on another machine through a transport prefix.
type Remote struct {
	// Transport is the local argv that reaches the other machine,
	// e.g. ["ssh", "-p", "2222", "backup@nas"].
	Transport []string

	// Elevation is prepended on the remote side, e.g. ["sudo"].
	Elevation []string
}

// NewRemote creates a new Remote runner.
func NewRemote(transport, elevation []string) *Remote {
	return &Remote{Transport: transport, Elevation: elevation}
}

// ParseTransport splits a transport string such as `ssh -p 2222 host`
// into argv using POSIX shell word rules.
func ParseTransport(s string) ([]string, error) {
	argv, err := shellquote.Split(s)
	if err != nil {
		return nil, fmt.Errorf("invalid transport %q: %w", s, err)
	}
	return argv, nil
}

// command returns the local argv: the transport followed by a single,
// per-argument quoted remote command line.
func (r *Remote) command(argv []string) []string {
	remote := concat(r.Elevation, argv)
	return concat(r.Transport, []string{shellquote.Join(remote...)})
}

// Output runs argv on the other machine and returns its stdout.
func (r *Remote) Output(ctx context.Context, argv []string) (string, error) {
	return output(ctx, r.command(argv), true)
}

// Feed runs argv on the other machine with stdin streamed from r.
func (r *Remote) Feed(ctx context.Context, argv []string, stdin io.Reader) error {
	return feed(ctx, r.command(argv), stdin, true)
}

// Start launches argv on the other machine.
func (r *Remote) Start(ctx context.Context, argv []string) (Process, error) {
	return start(ctx, r.command(argv), true)
}

// Where returns a label naming the transport target.
func (r *Remote) Where() string {
	if len(r.Transport) == 0 {
		return "(on the other machine)"
	}
	return fmt.Sprintf("(on %s)", r.Transport[len(r.Transport)-1])
}

func concat(prefix, argv []string) []string {
	full := make([]string, 0, len(prefix)+len(argv))
	full = append(full, prefix...)
	return append(full, argv...)
}

func newCmd(ctx context.Context, full []string) (*exec.Cmd, error) {
	if len(full) == 0 {
		return nil, ErrEmptyCommand
	}
	cmd := exec.CommandContext(ctx, full[0], full[1:]...)
	cmd.WaitDelay = waitDelay
	return cmd, nil
}

func output(ctx context.Context, full []string, transport bool) (string, error) {
	cmd, err := newCmd(ctx, full)
	if err != nil {
		return "", err
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", newProcessError(full, err, stderr.String(), transport)
	}

	return stdout.String(), nil
}

func feed(ctx context.Context, full []string, stdin io.Reader, transport bool) error {
	cmd, err := newCmd(ctx, full)
	if err != nil {
		return err
	}

	// btrfs receive reports progress on stdout and errors on stderr;
	// both are useful when it fails.
	var diag bytes.Buffer
	cmd.Stdin = stdin
	cmd.Stdout = &diag
	cmd.Stderr = &diag

	if err := cmd.Run(); err != nil {
		return newProcessError(full, err, diag.String(), transport)
	}

	return nil
}

func start(ctx context.Context, full []string, transport bool) (Process, error) {
	cmd, err := newCmd(ctx, full)
	if err != nil {
		return nil, err
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, newProcessError(full, err, "", transport)
	}

	return &execProcess{
		cmd:       cmd,
		argv:      full,
		stdout:    stdout,
		stderr:    stderr,
		transport: transport,
	}, nil
}

func newProcessError(argv []string, err error, stderr string, transport bool) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	pe := &ProcessError{Argv: argv, ExitCode: -1, Stderr: stderr, Err: err}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		pe.ExitCode = exitErr.ExitCode()
	}

	if transport && pe.ExitCode == sshTransportExit {
		pe.Err = fmt.Errorf("%w: %v", ErrTransport, err)
	}

	return pe
}

// execProcess adapts an exec.Cmd to Process.
type execProcess struct {
	cmd       *exec.Cmd
	argv      []string
	stdout    io.ReadCloser
	stderr    io.ReadCloser
	transport bool
}

func (p *execProcess) Stdout() io.Reader { return p.stdout }
func (p *execProcess) Stderr() io.Reader { return p.stderr }

func (p *execProcess) CloseStdout() error {
	if err := p.stdout.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("failed to close stdout of %s: %w", p.argv[0], err)
	}
	return nil
}

// Kill closes our end of the data channel, so a grandchild writing to it
// gets SIGPIPE, and kills the direct child.
func (p *execProcess) Kill() error {
	_ = p.CloseStdout()
	if p.cmd.Process == nil {
		return nil
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to kill %s: %w", p.argv[0], err)
	}
	return nil
}

func (p *execProcess) Wait() error {
	if err := p.cmd.Wait(); err != nil {
		return newProcessError(p.argv, err, "", p.transport)
	}
	return nil
}
