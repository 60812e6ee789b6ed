// Package hash computes SHA-256 digests of patch files.
//
// A patch is hashed while it is being written (Tee) and a sidecar in
// sha256sum format is stored next to it, so the machine applying the patch
// can check it first, with this package or with sha256sum -c.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// SidecarExt is appended to a patch file name to name its digest file.
const SidecarExt = ".sha256"

// ErrMalformedSum is returned when a digest file cannot be parsed.
var ErrMalformedSum = errors.New("malformed digest line")

// Hasher provides an abstraction for file hashing operations.
type Hasher interface {
	// HashFile computes the hex digest of the file at the given path.
	HashFile(path string) (string, error)
}

// SHA256Hasher implements Hasher using SHA-256.
type SHA256Hasher struct{}

// NewSHA256Hasher creates a new SHA256Hasher.
func NewSHA256Hasher() *SHA256Hasher {
	return &SHA256Hasher{}
}

// HashFile computes the SHA-256 hash of the file at the given path.
func (h *SHA256Hasher) HashFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// Tee returns a reader that hashes everything read through it. sum
// returns the hex digest of the bytes read so far.
func Tee(r io.Reader) (tee io.Reader, sum func() string) {
	hasher := sha256.New()
	return io.TeeReader(r, hasher), func() string {
		return hex.EncodeToString(hasher.Sum(nil))
	}
}

// SumLine formats a digest line the way sha256sum prints it.
func SumLine(digest, name string) string {
	return digest + "  " + name + "\n"
}

// ParseSumLine parses the first line of a sha256sum file.
func ParseSumLine(text string) (digest, name string, err error) {
	line, _, _ := strings.Cut(text, "\n")
	digest, name, ok := strings.Cut(line, " ")
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrMalformedSum, line)
	}

	// sha256sum marks binary mode with '*' instead of a second space.
	name = strings.TrimPrefix(strings.TrimPrefix(name, " "), "*")
	if name == "" {
		return "", "", fmt.Errorf("%w: no file name in %q", ErrMalformedSum, line)
	}
	if _, err := hex.DecodeString(digest); err != nil || len(digest) != sha256.Size*2 {
		return "", "", fmt.Errorf("%w: bad digest %q", ErrMalformedSum, digest)
	}
	return strings.ToLower(digest), name, nil
}

// FakeHasher implements Hasher with deterministic hashes for testing.
type FakeHasher struct {
	hashes map[string]string
}

// NewFakeHasher creates a new FakeHasher.
func NewFakeHasher() *FakeHasher {
	return &FakeHasher{
		hashes: make(map[string]string),
	}
}

// SetHash sets the hash for a specific path (for testing).
func (h *FakeHasher) SetHash(path, hash string) {
	h.hashes[path] = hash
}

// HashFile returns the predetermined hash for the given path.
func (h *FakeHasher) HashFile(path string) (string, error) {
	if hash, ok := h.hashes[path]; ok {
		return hash, nil
	}
	return "", fmt.Errorf("fake hasher: %s: %w", path, os.ErrNotExist)
}
