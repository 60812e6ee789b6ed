// Package probe confirms that nominal delta-base candidates are usable.
//
// Declared lineage does not prove that btrfs send can actually use a
// snapshot as a base, so each candidate is tried for real: btrfs send is
// started with the candidate as base, the first bytes of its stream are
// peeked while its stderr is drained concurrently. Once the peek returns,
// the stream is closed so btrfs fails its next write and exits, flushing
// anything it still had to say on stderr. The child is killed only if that
// takes longer than KillGrace. The exit status is never trusted on its own:
// a probe cut off mid-stream always exits nonzero.
package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/danieljhkim/btrsync/internal/lineage"
	"github.com/danieljhkim/btrsync/internal/runner"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultMarker is the btrfs-progs message for an unusable clone source.
const DefaultMarker = "parent determination failed"

// Convention is how the candidate is handed to btrfs send.
type Convention int

const (
	// CloneSource passes the candidate as -c.
	CloneSource Convention = iota

	// Parent passes the candidate as -p.
	Parent
)

// ParseConvention converts "clone-source" or "parent" to a Convention.
func ParseConvention(s string) (Convention, error) {
	switch s {
	case "", "clone-source":
		return CloneSource, nil
	case "parent":
		return Parent, nil
	default:
		return 0, fmt.Errorf("unknown probe convention %q (want clone-source or parent)", s)
	}
}

// Flag returns the btrfs send flag for the convention.
func (c Convention) Flag() string {
	if c == Parent {
		return "-p"
	}
	return "-c"
}

// Options tune a Validator.
type Options struct {
	// Convention selects -c or -p for probes.
	Convention Convention

	// PeekBytes is the most stream bytes read before deciding.
	PeekBytes int

	// Markers are stderr substrings that mark an unusable base.
	Markers []string

	// Timeout bounds one probe. Zero means no bound.
	Timeout time.Duration

	// KillGrace bounds how long a probe may keep stderr open after its
	// stream is closed before it is killed.
	KillGrace time.Duration

	// Concurrency is the number of probes run at once.
	Concurrency int
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		Convention:  CloneSource,
		PeekBytes:   16,
		Markers:     []string{DefaultMarker},
		Timeout:     30 * time.Second,
		KillGrace:   5 * time.Second,
		Concurrency: 1,
	}
}

// Exclusion records why a candidate was rejected.
type Exclusion struct {
	Candidate   lineage.Candidate `json:"candidate"`
	Reason      string            `json:"reason"`
	Diagnostics string            `json:"diagnostics,omitempty"`
}

// Result holds the retained candidates, in input order, and the exclusions.
type Result struct {
	Retained []lineage.Candidate `json:"retained"`
	Excluded []Exclusion         `json:"excluded"`
}

// Validator probes candidates with btrfs send.
type Validator struct {
	runner runner.Runner
	opts   Options
	log    *zap.SugaredLogger
}

// NewValidator creates a Validator that starts probes through r.
func NewValidator(r runner.Runner, opts Options, log *zap.SugaredLogger) *Validator {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if opts.PeekBytes <= 0 {
		opts.PeekBytes = 1
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Validator{runner: r, opts: opts, log: log}
}

// ProbeArgs returns the probe argv for base and target.
func ProbeArgs(conv Convention, base, target string) []string {
	return []string{"btrfs", "send", conv.Flag(), base, target}
}

// verdict is the outcome of one probe.
type verdict struct {
	retained    bool
	reason      string
	diagnostics string
}

// Validate probes every candidate against target and returns the subset
// that can be used, order preserved. Probe failures never become errors;
// they become exclusions. Only ctx cancellation is returned.
func (v *Validator) Validate(ctx context.Context, cands []lineage.Candidate, target string) (*Result, error) {
	verdicts := make([]verdict, len(cands))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.opts.Concurrency)
	for i, c := range cands {
		i, c := i, c
		g.Go(func() error {
			verdicts[i] = v.probe(gctx, c, target)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &Result{Retained: []lineage.Candidate{}, Excluded: []Exclusion{}}
	for i, c := range cands {
		vd := verdicts[i]
		if vd.retained {
			c.Valid = true
			res.Retained = append(res.Retained, c)
			continue
		}

		c.Valid = false
		v.log.Debugw("probe", "status", "excluded", "candidate", c.Path, "identity", c.Identity,
			"reason", vd.reason, "diagnostics", vd.diagnostics)
		res.Excluded = append(res.Excluded, Exclusion{Candidate: c, Reason: vd.reason, Diagnostics: vd.diagnostics})
	}

	v.log.Infow("probe", "status", "validated", "target", target,
		"retained", len(res.Retained), "excluded", len(res.Excluded))

	return res, nil
}

func (v *Validator) probe(ctx context.Context, c lineage.Candidate, target string) verdict {
	if c.Path == "" {
		return verdict{reason: "candidate has no resolved path"}
	}

	if v.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.opts.Timeout)
		defer cancel()
	}

	argv := ProbeArgs(v.opts.Convention, c.Path, target)
	v.log.Debugw("probe", "status", "starting", "argv", argv, "where", v.runner.Where())

	proc, err := v.runner.Start(ctx, argv)
	if err != nil {
		return verdict{reason: fmt.Sprintf("probe failed to start: %v", err)}
	}

	// Both channels are serviced at once: the child blocks when either pipe
	// fills, so reading one while ignoring the other can deadlock.
	diagCh := make(chan string, 1)
	go func() {
		var buf bytes.Buffer
		_, _ = io.Copy(&buf, proc.Stderr())
		diagCh <- buf.String()
	}()

	peekCh := make(chan int, 1)
	go func() {
		buf := make([]byte, v.opts.PeekBytes)
		n, _ := io.ReadAtLeast(proc.Stdout(), buf, 1)
		peekCh <- n
	}()

	var (
		seen     int
		timedOut bool
	)
	select {
	case seen = <-peekCh:
	case <-ctx.Done():
		timedOut = true
	}

	// After a peek the child is only cut off from its data channel: btrfs
	// can report a bad base after the first stream bytes, and it needs to
	// exit on its own for that text to reach us.
	stop := proc.CloseStdout
	if timedOut {
		stop = proc.Kill
	}
	if err := stop(); err != nil {
		v.log.Warnw("probe", "status", "stop failed", "error", err)
	}

	var (
		diag    string
		drained bool
	)
	grace := time.NewTimer(v.opts.KillGrace)
	defer grace.Stop()
	select {
	case diag = <-diagCh:
		drained = true
	case <-grace.C:
		v.log.Warnw("probe", "status", "stderr still open after grace", "argv", argv)
	}

	if err := proc.Kill(); err != nil {
		v.log.Warnw("probe", "status", "kill failed", "error", err)
	}

	// Exit status is ignored: a probe cut off mid-stream never exits cleanly.
	_ = proc.Wait()

	// Wait closes the pipes, so the drain finishes now if it had not yet.
	if !drained {
		diag = <-diagCh
	}

	return v.classify(seen, diag, timedOut, ctx.Err())
}

func (v *Validator) classify(seen int, diag string, timedOut bool, ctxErr error) verdict {
	diag = strings.TrimSpace(diag)

	for _, m := range v.opts.Markers {
		if m != "" && strings.Contains(diag, m) {
			return verdict{reason: fmt.Sprintf("btrfs reported %q", m), diagnostics: diag}
		}
	}

	if timedOut {
		reason := "probe timed out"
		if errors.Is(ctxErr, context.Canceled) {
			reason = "probe cancelled"
		}
		return verdict{reason: reason, diagnostics: diag}
	}

	if seen == 0 {
		return verdict{reason: "send produced no data", diagnostics: diag}
	}

	return verdict{retained: true, diagnostics: diag}
}
