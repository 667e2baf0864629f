package hasher

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"

	"github.com/custodian-dev/custodian/internal/domain"
)

// Algorithm represents the hashing algorithm to use
type Algorithm string

const (
	// SHA256 algorithm (recommended default for forensic work)
	SHA256 Algorithm = "sha256"
	// SHA1 algorithm (legacy report compatibility)
	SHA1 Algorithm = "sha1"
	// MD5 algorithm (faster but weak, suitable for content comparison only)
	MD5 Algorithm = "md5"
)

// IsSupported checks if the given algorithm is supported
func IsSupported(algo Algorithm) bool {
	switch algo {
	case SHA256, SHA1, MD5:
		return true
	default:
		return false
	}
}

// Accumulator computes a digest incrementally, chunk by chunk. It wraps
// the underlying hash so callers never deal with hash.Hash directly.
type Accumulator struct {
	algo Algorithm
	h    hash.Hash
}

// New creates an accumulator for the given algorithm
func New(algo Algorithm) (*Accumulator, error) {
	var h hash.Hash
	switch algo {
	case SHA256:
		h = sha256.New()
	case SHA1:
		h = sha1.New()
	case MD5:
		h = md5.New()
	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedAlgorithm, algo)
	}
	return &Accumulator{algo: algo, h: h}, nil
}

// Algorithm returns the algorithm this accumulator was created with
func (a *Accumulator) Algorithm() Algorithm {
	return a.algo
}

// Write feeds one chunk into the digest. It never returns an error.
func (a *Accumulator) Write(p []byte) (int, error) {
	return a.h.Write(p)
}

// Sum finalizes and returns the hex-encoded digest
func (a *Accumulator) Sum() string {
	return hex.EncodeToString(a.h.Sum(nil))
}

// Reset prepares the accumulator for a new file
func (a *Accumulator) Reset() {
	a.h.Reset()
}
