package hasher

import (
	"errors"
	"strings"
	"testing"

	"github.com/custodian-dev/custodian/internal/domain"
)

// TestSHA256KnownVector tests SHA256 against a known test vector
func TestSHA256KnownVector(t *testing.T) {
	acc, err := New(SHA256)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	// Known SHA256 of "hello world"
	acc.Write([]byte("hello world"))
	expected := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"

	if got := acc.Sum(); got != expected {
		t.Errorf("SHA256 mismatch: got %s, want %s", got, expected)
	}
}

// TestMD5KnownVector tests MD5 against a known test vector
func TestMD5KnownVector(t *testing.T) {
	acc, err := New(MD5)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	acc.Write([]byte("hello world"))
	expected := "5eb63bbbe01eeed093cb22bb8f5acdc3" // Known MD5 of "hello world"

	if got := acc.Sum(); got != expected {
		t.Errorf("MD5 mismatch: got %s, want %s", got, expected)
	}
}

// TestSHA1KnownVector tests SHA1 against a known test vector
func TestSHA1KnownVector(t *testing.T) {
	acc, err := New(SHA1)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	acc.Write([]byte("hello world"))
	expected := "2aae6c35c94fcfb415dbe95f408b9ce91ee846ed"

	if got := acc.Sum(); got != expected {
		t.Errorf("SHA1 mismatch: got %s, want %s", got, expected)
	}
}

// TestChunkedFeedEqualsSingleFeed verifies the digest is independent of
// chunk boundaries
func TestChunkedFeedEqualsSingleFeed(t *testing.T) {
	content := strings.Repeat("custodian", 4096)

	whole, _ := New(SHA256)
	whole.Write([]byte(content))

	chunked, _ := New(SHA256)
	for i := 0; i < len(content); i += 100 {
		end := i + 100
		if end > len(content) {
			end = len(content)
		}
		chunked.Write([]byte(content[i:end]))
	}

	if whole.Sum() != chunked.Sum() {
		t.Errorf("chunked digest differs from whole-buffer digest")
	}
}

// TestEmptyDigest tests the digest of zero bytes
func TestEmptyDigest(t *testing.T) {
	acc, _ := New(SHA256)
	expected := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got := acc.Sum(); got != expected {
		t.Errorf("empty SHA256 mismatch: got %s, want %s", got, expected)
	}
}

// TestReset verifies Reset starts a fresh digest
func TestReset(t *testing.T) {
	acc, _ := New(SHA256)
	acc.Write([]byte("stale data"))
	acc.Reset()
	acc.Write([]byte("hello world"))

	expected := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	if got := acc.Sum(); got != expected {
		t.Errorf("digest after Reset mismatch: got %s, want %s", got, expected)
	}
}

// TestUnsupportedAlgorithm tests error handling for unknown algorithms
func TestUnsupportedAlgorithm(t *testing.T) {
	_, err := New(Algorithm("crc32"))
	if err == nil {
		t.Fatal("expected error for unsupported algorithm, got nil")
	}
	if !errors.Is(err, domain.ErrUnsupportedAlgorithm) {
		t.Errorf("expected ErrUnsupportedAlgorithm, got: %v", err)
	}
}

// TestIsSupported tests the IsSupported function
func TestIsSupported(t *testing.T) {
	tests := []struct {
		algo     Algorithm
		expected bool
	}{
		{SHA256, true},
		{SHA1, true},
		{MD5, true},
		{Algorithm("crc32"), false},
		{Algorithm(""), false},
	}

	for _, tt := range tests {
		if got := IsSupported(tt.algo); got != tt.expected {
			t.Errorf("IsSupported(%s) = %v, want %v", tt.algo, got, tt.expected)
		}
	}
}
