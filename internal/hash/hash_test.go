package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func hexSum(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

func TestSHA256Hasher_HashFile(t *testing.T) {
	tmpDir := t.TempDir()
	hasher := NewSHA256Hasher()

	t.Run("known content", func(t *testing.T) {
		testFile := filepath.Join(tmpDir, "patch")
		if err := os.WriteFile(testFile, []byte("hello world"), 0644); err != nil {
			t.Fatalf("failed to write test file: %v", err)
		}

		got, err := hasher.HashFile(testFile)
		if err != nil {
			t.Fatalf("HashFile failed: %v", err)
		}
		if got != hexSum("hello world") {
			t.Errorf("HashFile = %s, want %s", got, hexSum("hello world"))
		}
	})

	t.Run("empty file", func(t *testing.T) {
		testFile := filepath.Join(tmpDir, "empty")
		if err := os.WriteFile(testFile, nil, 0644); err != nil {
			t.Fatalf("failed to write test file: %v", err)
		}

		got, err := hasher.HashFile(testFile)
		if err != nil {
			t.Fatalf("HashFile failed: %v", err)
		}
		if got != hexSum("") {
			t.Errorf("HashFile = %s, want the empty digest", got)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := hasher.HashFile(filepath.Join(tmpDir, "missing"))
		if !errors.Is(err, os.ErrNotExist) {
			t.Errorf("expected ErrNotExist, got %v", err)
		}
	})
}

func TestTee(t *testing.T) {
	tee, sum := Tee(strings.NewReader("send stream"))

	data, err := io.ReadAll(tee)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if string(data) != "send stream" {
		t.Errorf("tee altered the stream: %q", data)
	}
	if sum() != hexSum("send stream") {
		t.Errorf("sum = %s, want %s", sum(), hexSum("send stream"))
	}
}

func TestSumLine_RoundTrip(t *testing.T) {
	digest := hexSum("x")
	gotDigest, gotName, err := ParseSumLine(SumLine(digest, "snaps__s2"))
	if err != nil {
		t.Fatalf("ParseSumLine failed: %v", err)
	}
	if gotDigest != digest || gotName != "snaps__s2" {
		t.Errorf("got (%s, %s)", gotDigest, gotName)
	}
}

func TestParseSumLine(t *testing.T) {
	digest := hexSum("x")

	tests := []struct {
		name     string
		input    string
		wantName string
		wantErr  bool
	}{
		{name: "text mode", input: digest + "  file\n", wantName: "file"},
		{name: "binary mode", input: digest + " *file\n", wantName: "file"},
		{name: "uppercase digest", input: strings.ToUpper(digest) + "  file", wantName: "file"},
		{name: "extra lines ignored", input: digest + "  file\nother\n", wantName: "file"},
		{name: "no name", input: digest + "  \n", wantErr: true},
		{name: "no separator", input: digest, wantErr: true},
		{name: "short digest", input: "abcd  file", wantErr: true},
		{name: "not hex", input: strings.Repeat("z", 64) + "  file", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotDigest, gotName, err := ParseSumLine(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedSum) {
					t.Errorf("expected ErrMalformedSum, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSumLine failed: %v", err)
			}
			if gotDigest != digest || gotName != tt.wantName {
				t.Errorf("got (%s, %s), want (%s, %s)", gotDigest, gotName, digest, tt.wantName)
			}
		})
	}
}

func TestFakeHasher(t *testing.T) {
	hasher := NewFakeHasher()
	hasher.SetHash("/patches/a", "abc")

	got, err := hasher.HashFile("/patches/a")
	if err != nil || got != "abc" {
		t.Errorf("HashFile = %q, %v", got, err)
	}
	if _, err := hasher.HashFile("/patches/b"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected ErrNotExist for unknown path, got %v", err)
	}
}
