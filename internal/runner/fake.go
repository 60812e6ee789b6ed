package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

var (
	// errKilled is the error a killed fake process reports from Wait.
	errKilled = errors.New("signal: killed")

	// errBrokenPipe is what a fake process sees writing to a closed stdout.
	errBrokenPipe = errors.New("write |1: broken pipe")
)

// Script describes how a fake streaming process behaves.
type Script struct {
	// Stdout is written to the data channel.
	Stdout []byte

	// Stderr is written to the diagnostic channel.
	Stderr []byte

	// StderrFirst writes Stderr fully before Stdout.
	StderrFirst bool

	// HoldStderr ends the data channel after Stdout but keeps the
	// diagnostic channel open until the process is killed.
	HoldStderr bool

	// Hang makes the process produce nothing and keep both channels open
	// until it is killed.
	Hang bool

	// ExitErr is returned from Wait when the process was not killed.
	ExitErr error

	// StartErr is returned from Start instead of a process.
	StartErr error
}

// Fake is a Runner with scripted responses for testing.
// The streams of fake processes are unbuffered io.Pipes: a caller that
// does not service both channels concurrently deadlocks, just as it would
// against a real child with full pipe buffers.
type Fake struct {
	mu sync.Mutex

	label   string
	outputs map[string]string
	errs    map[string]error
	scripts map[string]Script
	feedErr map[string]error
	fed     map[string][]byte
	calls   [][]string
}

// NewFake creates a new Fake with the given Where label.
func NewFake(label string) *Fake {
	return &Fake{
		label:   label,
		outputs: make(map[string]string),
		errs:    make(map[string]error),
		scripts: make(map[string]Script),
		feedErr: make(map[string]error),
		fed:     make(map[string][]byte),
	}
}

// Key returns the lookup key used for argv.
func Key(argv []string) string {
	return strings.Join(argv, " ")
}

// SetOutput sets the stdout returned by Output for argv.
func (f *Fake) SetOutput(argv []string, out string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outputs[Key(argv)] = out
}

// SetError sets the error returned by Output (and Start, when no script
// exists) for argv.
func (f *Fake) SetError(argv []string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[Key(argv)] = err
}

// SetScript sets the behavior of the process returned by Start for argv.
func (f *Fake) SetScript(argv []string, s Script) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[Key(argv)] = s
}

// SetFeedError sets the error returned by Feed for argv.
func (f *Fake) SetFeedError(argv []string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.feedErr[Key(argv)] = err
}

// Fed returns the bytes that were streamed into Feed for argv.
func (f *Fake) Fed(argv []string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fed[Key(argv)]
}

// Calls returns every argv seen so far, in order.
func (f *Fake) Calls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	calls := make([][]string, len(f.calls))
	copy(calls, f.calls)
	return calls
}

// Called reports whether argv was run.
func (f *Fake) Called(argv []string) bool {
	key := Key(argv)
	for _, c := range f.Calls() {
		if Key(c) == key {
			return true
		}
	}
	return false
}

func (f *Fake) record(argv []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]string(nil), argv...))
}

// Output returns the scripted stdout for argv.
func (f *Fake) Output(ctx context.Context, argv []string) (string, error) {
	f.record(argv)

	f.mu.Lock()
	defer f.mu.Unlock()

	key := Key(argv)
	if err, ok := f.errs[key]; ok {
		return "", err
	}
	if out, ok := f.outputs[key]; ok {
		return out, nil
	}
	return "", &ProcessError{Argv: argv, ExitCode: 1, Stderr: "fake: nothing scripted"}
}

// Feed consumes stdin and records it.
func (f *Fake) Feed(ctx context.Context, argv []string, stdin io.Reader) error {
	f.record(argv)

	data, readErr := io.ReadAll(stdin)

	f.mu.Lock()
	defer f.mu.Unlock()

	key := Key(argv)
	f.fed[key] = data
	if err, ok := f.feedErr[key]; ok {
		return err
	}
	if readErr != nil {
		return fmt.Errorf("fake feed: %w", readErr)
	}
	return nil
}

// Start launches a fake process following the script for argv.
func (f *Fake) Start(ctx context.Context, argv []string) (Process, error) {
	f.record(argv)

	f.mu.Lock()
	key := Key(argv)
	script, ok := f.scripts[key]
	startErr := f.errs[key]
	f.mu.Unlock()

	if !ok {
		if startErr != nil {
			return nil, startErr
		}
		return nil, &ProcessError{Argv: argv, ExitCode: -1, Err: errors.New("fake: nothing scripted")}
	}
	if script.StartErr != nil {
		return nil, script.StartErr
	}

	return newFakeProcess(script), nil
}

// Where returns the label given to NewFake.
func (f *Fake) Where() string {
	return f.label
}

type fakeProcess struct {
	stdoutR, stderrR *io.PipeReader
	stdoutW, stderrW *io.PipeWriter

	closeOnce sync.Once
	killOnce  sync.Once
	killed    chan struct{}
	done     chan struct{}
	err      error
}

func newFakeProcess(s Script) *fakeProcess {
	p := &fakeProcess{
		killed: make(chan struct{}),
		done:   make(chan struct{}),
	}
	p.stdoutR, p.stdoutW = io.Pipe()
	p.stderrR, p.stderrW = io.Pipe()

	go p.run(s)
	return p
}

func (p *fakeProcess) run(s Script) {
	defer close(p.done)

	if s.Hang {
		<-p.killed
	} else {
		write := func(w *io.PipeWriter, b []byte) {
			if len(b) > 0 {
				_, _ = w.Write(b)
			}
		}
		if s.StderrFirst {
			write(p.stderrW, s.Stderr)
			write(p.stdoutW, s.Stdout)
		} else {
			write(p.stdoutW, s.Stdout)
			write(p.stderrW, s.Stderr)
		}
	}

	_ = p.stdoutW.Close()
	if s.HoldStderr && !s.Hang {
		<-p.killed
	}
	_ = p.stderrW.Close()

	select {
	case <-p.killed:
		p.err = errKilled
	default:
		p.err = s.ExitErr
	}
}

func (p *fakeProcess) Stdout() io.Reader { return p.stdoutR }
func (p *fakeProcess) Stderr() io.Reader { return p.stderrR }

func (p *fakeProcess) CloseStdout() error {
	p.closeOnce.Do(func() {
		_ = p.stdoutR.CloseWithError(errBrokenPipe)
	})
	return nil
}

func (p *fakeProcess) Kill() error {
	p.killOnce.Do(func() {
		close(p.killed)
		_ = p.CloseStdout()
	})
	return nil
}

func (p *fakeProcess) Wait() error {
	<-p.done
	return p.err
}
