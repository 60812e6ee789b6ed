package planner

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/danieljhkim/btrsync/internal/fsops"
	"github.com/danieljhkim/btrsync/internal/hash"
	"github.com/danieljhkim/btrsync/internal/runner"
)

// Sink consumes a send stream.
type Sink interface {
	// Destination returns where snapshot ends up once received.
	Destination(snapshot string) string

	// Receive consumes stream until EOF.
	Receive(ctx context.Context, snapshot string, stream io.Reader) error
}

// discarder is implemented by sinks that can undo a received stream after
// the sending side turned out to have failed.
type discarder interface {
	Discard() error
}

// FileSink writes the stream to a patch file on this machine.
type FileSink struct {
	fs   fsops.FS
	path string

	// Digest is the hex SHA-256 of the written stream.
	Digest string

	// Size is the number of bytes written.
	Size int64
}

// NewFileSink creates a FileSink writing to path.
func NewFileSink(fs fsops.FS, path string) *FileSink {
	return &FileSink{fs: fs, path: path}
}

// Destination returns the patch file path.
func (s *FileSink) Destination(string) string {
	return s.path
}

// Receive writes stream to the patch file atomically.
func (s *FileSink) Receive(_ context.Context, _ string, stream io.Reader) error {
	tee, sum := hash.Tee(stream)
	n, err := s.fs.AtomicWriteFrom(s.path, tee, 0644)
	if err != nil {
		return fmt.Errorf("failed to write patch file %s: %w", s.path, err)
	}
	s.Size = n
	s.Digest = sum()
	return nil
}

// Discard removes a patch file written from a failed send.
func (s *FileSink) Discard() error {
	exists, err := s.fs.Exists(s.path)
	if err != nil || !exists {
		return err
	}
	return s.fs.Remove(s.path)
}

// ReceiveSink imports the stream with btrfs receive through a runner,
// usually on the other machine.
type ReceiveSink struct {
	runner runner.Runner
	dir    string
}

// NewReceiveSink creates a ReceiveSink importing into dir.
func NewReceiveSink(r runner.Runner, dir string) *ReceiveSink {
	return &ReceiveSink{runner: r, dir: dir}
}

// MkdirArgs returns the argv that creates the receive directory.
func MkdirArgs(dir string) []string {
	return []string{"mkdir", "-p", dir}
}

// ReceiveArgs returns the btrfs receive argv for dir.
func ReceiveArgs(dir string) []string {
	return []string{"btrfs", "receive", dir}
}

// Destination returns the path the received subvolume will have.
func (s *ReceiveSink) Destination(snapshot string) string {
	return path.Join(s.dir, path.Base(snapshot))
}

// Receive creates the receive directory and streams into btrfs receive.
func (s *ReceiveSink) Receive(ctx context.Context, _ string, stream io.Reader) error {
	if _, err := s.runner.Output(ctx, MkdirArgs(s.dir)); err != nil {
		return fmt.Errorf("failed to create %s %s: %w", s.dir, s.runner.Where(), err)
	}
	return s.runner.Feed(ctx, ReceiveArgs(s.dir), stream)
}
