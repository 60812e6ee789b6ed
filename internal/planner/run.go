package planner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/danieljhkim/btrsync/internal/runner"
	"go.uber.org/zap"
)

// defaultKillGrace bounds the send stderr drain once the stream has ended.
const defaultKillGrace = 5 * time.Second

// Planner runs transfer plans.
type Planner struct {
	sender    runner.Runner
	killGrace time.Duration
	log       *zap.SugaredLogger
}

// New creates a Planner that runs btrfs send through sender.
func New(sender runner.Runner, log *zap.SugaredLogger) *Planner {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Planner{sender: sender, killGrace: defaultKillGrace, log: log}
}

// Run executes plan, streaming btrfs send into sink, and returns the
// destination. If either side fails the other is stopped and a
// *TransferError is returned. Nothing is retried.
func (p *Planner) Run(ctx context.Context, plan *Plan, sink Sink) (string, error) {
	if err := plan.Validate(); err != nil {
		return "", err
	}

	argv := plan.SendArgs()
	dest := sink.Destination(plan.Snapshot)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.log.Infow("transfer", "status", "starting", "mode", plan.Mode.String(), "argv", argv,
		"destination", dest)

	proc, err := p.sender.Start(ctx, argv)
	if err != nil {
		return "", &TransferError{Argv: argv, Destination: dest, SendErr: err}
	}

	diagCh := make(chan string, 1)
	go func() {
		var buf bytes.Buffer
		_, _ = io.Copy(&buf, proc.Stderr())
		diagCh <- buf.String()
	}()

	recvErr := sink.Receive(ctx, plan.Snapshot, proc.Stdout())

	// A send killed because the receiving side gave up has not failed on
	// its own, so its exit status says nothing.
	killedForReceive := false
	if recvErr != nil {
		killedForReceive = true
		if err := proc.Kill(); err != nil {
			p.log.Warnw("transfer", "status", "kill failed", "error", err)
		}
	}

	var sendStderr string
	drained, stalled := false, false
	grace := time.NewTimer(p.killGrace)
	defer grace.Stop()
	select {
	case sendStderr = <-diagCh:
		drained = true
	case <-grace.C:
		stalled = true
		if err := proc.Kill(); err != nil {
			p.log.Warnw("transfer", "status", "kill failed", "error", err)
		}
		p.log.Warnw("transfer", "status", "send stderr still open after stream end", "argv", argv)
	}

	sendErr := proc.Wait()
	if !drained {
		sendStderr = <-diagCh
	}
	switch {
	case killedForReceive:
		sendErr = nil
	case stalled:
		if sendErr == nil {
			sendErr = ErrSendUnfinished
		} else {
			sendErr = fmt.Errorf("%w: %w", ErrSendUnfinished, sendErr)
		}
	}

	if recvErr == nil && sendErr == nil {
		p.log.Infow("transfer", "status", "completed", "destination", dest)
		return dest, nil
	}

	if sendErr != nil {
		if d, ok := sink.(discarder); ok {
			if err := d.Discard(); err != nil {
				p.log.Warnw("transfer", "status", "failed to discard partial output", "error", err)
			}
		}
	}

	te := &TransferError{
		Argv:        argv,
		Destination: dest,
		SendErr:     sendErr,
		ReceiveErr:  recvErr,
		SendStderr:  sendStderr,
	}
	var pe *runner.ProcessError
	if errors.As(recvErr, &pe) {
		te.ReceiveStderr = pe.Stderr
	}

	p.log.Warnw("transfer", "status", "failed", "destination", dest, "error", te.Error())
	return "", te
}
