// Package engine implements the chunked copy and hash primitives. A copy
// reads the source exactly once: every chunk is fed to the hash
// accumulator and written to the destination from the same buffer, so
// copy-with-hash costs the same number of source reads as a plain copy.
package engine

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/custodian-dev/custodian/internal/domain"
	"github.com/custodian-dev/custodian/internal/hasher"
)

// File size thresholds for adaptive chunk sizing
const (
	smallFileThreshold = 1_000_000   // 1MB
	largeFileThreshold = 100_000_000 // 100MB
	maxChunkSize       = 16 * 1024 * 1024
	minChunkSize       = 64 * 1024
)

// ChunkSizeFor adapts the profile's base chunk size to one file: small
// files get a small buffer, large files scale the base up to a cap.
func ChunkSizeFor(fileSize int64, base int) int {
	if base < minChunkSize {
		base = minChunkSize
	}
	switch {
	case fileSize < smallFileThreshold:
		if base > 256*1024 {
			return 256 * 1024
		}
		return base
	case fileSize < largeFileThreshold:
		return base
	default:
		c := base * 4
		if c > maxChunkSize {
			c = maxChunkSize
		}
		return c
	}
}

// CopyAndHash copies entry.SourcePath to entry.DestinationPath in
// chunkSize blocks, accumulating the source digest from the in-memory
// buffer while writing. The digest in the outcome is the source-side
// digest; destination integrity must be proven by an independent
// re-read (see verify).
//
// I/O errors abort only this file's outcome; cancellation is observed at
// chunk boundaries. A partially written destination is removed on
// failure so a later verification pass cannot mistake it for a
// completed copy.
func CopyAndHash(ctx context.Context, entry domain.FileEntry, chunkSize int, algo hasher.Algorithm) domain.FileOutcome {
	start := time.Now()
	outcome := domain.FileOutcome{RelativePath: entry.RelativePath}

	acc, err := hasher.New(algo)
	if err != nil {
		return fail(outcome, err, start)
	}

	src, err := os.Open(entry.SourcePath)
	if err != nil {
		return fail(outcome, err, start)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return fail(outcome, err, start)
	}

	if err := os.MkdirAll(filepath.Dir(entry.DestinationPath), 0755); err != nil {
		return fail(outcome, err, start)
	}

	dst, err := os.Create(entry.DestinationPath)
	if err != nil {
		return fail(outcome, err, start)
	}

	buf := make([]byte, chunkSize)
	n, err := copyChunks(ctx, src, dst, acc, buf)
	outcome.BytesProcessed = n

	if err != nil {
		dst.Close()
		os.Remove(entry.DestinationPath)
		return fail(outcome, err, start)
	}

	// The outcome must not be reported before the destination is fully
	// flushed and closed.
	if err := dst.Close(); err != nil {
		os.Remove(entry.DestinationPath)
		return fail(outcome, err, start)
	}

	// Best effort metadata preservation
	_ = os.Chtimes(entry.DestinationPath, time.Now(), info.ModTime())

	outcome.Digest = acc.Sum()
	outcome.Succeeded = true
	outcome.Duration = time.Since(start)
	return outcome
}

// HashFile runs the same chunked read-and-accumulate loop without a
// writer. Used for verification re-reads and hash-only operations.
func HashFile(ctx context.Context, entry domain.FileEntry, chunkSize int, algo hasher.Algorithm) domain.FileOutcome {
	start := time.Now()
	outcome := domain.FileOutcome{RelativePath: entry.RelativePath}

	acc, err := hasher.New(algo)
	if err != nil {
		return fail(outcome, err, start)
	}

	src, err := os.Open(entry.SourcePath)
	if err != nil {
		return fail(outcome, err, start)
	}
	defer src.Close()

	buf := make([]byte, chunkSize)
	n, err := copyChunks(ctx, src, nil, acc, buf)
	outcome.BytesProcessed = n

	if err != nil {
		return fail(outcome, err, start)
	}

	outcome.Digest = acc.Sum()
	outcome.Succeeded = true
	outcome.Duration = time.Since(start)
	return outcome
}

// copyChunks streams r in len(buf) blocks, feeding each block to the
// accumulator and, when w is non-nil, writing the same buffer to w.
// Cancellation is checked once per chunk boundary, never mid-chunk.
func copyChunks(ctx context.Context, r io.Reader, w io.Writer, acc *hasher.Accumulator, buf []byte) (int64, error) {
	var total int64
	for {
		select {
		case <-ctx.Done():
			return total, domain.ErrCancelled
		default:
		}

		n, err := r.Read(buf)
		if n > 0 {
			acc.Write(buf[:n])
			if w != nil {
				if _, werr := w.Write(buf[:n]); werr != nil {
					return total, werr
				}
			}
			total += int64(n)
		}
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
}

// fail finalizes a failed outcome with its classified error kind
func fail(outcome domain.FileOutcome, err error, start time.Time) domain.FileOutcome {
	outcome.Err = err
	outcome.ErrorKind = ClassifyError(err)
	outcome.Duration = time.Since(start)
	return outcome
}

// ClassifyError maps an I/O error onto the stable per-file error kinds
func ClassifyError(err error) domain.ErrorKind {
	switch {
	case err == nil:
		return domain.ErrKindNone
	case errors.Is(err, domain.ErrCancelled) || errors.Is(err, context.Canceled):
		return domain.ErrKindCancelled
	case errors.Is(err, os.ErrPermission):
		return domain.ErrKindPermission
	case errors.Is(err, os.ErrNotExist):
		return domain.ErrKindNotFound
	case errors.Is(err, syscall.ENOSPC) || errors.Is(err, domain.ErrDiskFull):
		return domain.ErrKindDiskFull
	default:
		return domain.ErrKindIO
	}
}
