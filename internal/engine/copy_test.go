package engine

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/custodian-dev/custodian/internal/domain"
	"github.com/custodian-dev/custodian/internal/hasher"
	"github.com/custodian-dev/custodian/internal/testutil"
)

// countingReader tracks how many Read calls and bytes a consumer issued
type countingReader struct {
	r     io.Reader
	reads int
	bytes int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.reads++
	c.bytes += int64(n)
	return n, err
}

// TestCopyAndHashProducesSourceDigest copies a file and checks the
// digest matches an independent hash of the source content
func TestCopyAndHashProducesSourceDigest(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	content := []byte("hello world")
	src := testutil.CreateTestFile(t, dir, "a.txt", content)
	dst := filepath.Join(dir, "out", "a.txt")

	entry := domain.FileEntry{
		SourcePath:      src,
		RelativePath:    "a.txt",
		DestinationPath: dst,
		Size:            int64(len(content)),
	}

	outcome := CopyAndHash(context.Background(), entry, 4096, hasher.SHA256)
	if !outcome.Succeeded {
		t.Fatalf("copy failed: %v", outcome.Err)
	}

	want := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	if outcome.Digest != want {
		t.Errorf("digest mismatch: got %s, want %s", outcome.Digest, want)
	}
	if outcome.BytesProcessed != int64(len(content)) {
		t.Errorf("bytes processed = %d, want %d", outcome.BytesProcessed, len(content))
	}

	copied, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("reading destination: %v", err)
	}
	if !bytes.Equal(copied, content) {
		t.Errorf("destination content differs from source")
	}
}

// TestSingleReadPass verifies the buffer-reuse property: copying with
// hashing performs exactly one sequential pass over the source
func TestSingleReadPass(t *testing.T) {
	content := strings.Repeat("x", 10*1024)
	chunk := make([]byte, 1024)

	cr := &countingReader{r: strings.NewReader(content)}
	acc, _ := hasher.New(hasher.SHA256)
	var sink bytes.Buffer

	n, err := copyChunks(context.Background(), cr, &sink, acc, chunk)
	if err != nil {
		t.Fatalf("copyChunks failed: %v", err)
	}

	if n != int64(len(content)) {
		t.Errorf("copied %d bytes, want %d", n, len(content))
	}
	if cr.bytes != int64(len(content)) {
		t.Errorf("read %d bytes from source, want exactly %d", cr.bytes, len(content))
	}
	// 10 full chunks plus at most one EOF-only read
	if cr.reads > len(content)/len(chunk)+1 {
		t.Errorf("source read %d times, want at most %d", cr.reads, len(content)/len(chunk)+1)
	}

	// Hash-only mode must cost the same number of reads
	cr2 := &countingReader{r: strings.NewReader(content)}
	acc2, _ := hasher.New(hasher.SHA256)
	if _, err := copyChunks(context.Background(), cr2, nil, acc2, chunk); err != nil {
		t.Fatalf("hash-only copyChunks failed: %v", err)
	}
	if cr2.reads != cr.reads {
		t.Errorf("hash-only used %d reads, copy+hash used %d", cr2.reads, cr.reads)
	}
	if acc.Sum() != acc2.Sum() {
		t.Errorf("copy-path digest differs from hash-only digest")
	}
}

// TestHashFileMatchesCopyDigest hashes a file on disk and compares with
// the digest produced during a copy of the same file
func TestHashFileMatchesCopyDigest(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	src := testutil.CreateTestFileWithSize(t, dir, "big.bin", 3*1024*1024)
	dst := filepath.Join(dir, "copy.bin")

	entry := domain.FileEntry{SourcePath: src, RelativePath: "big.bin", DestinationPath: dst}
	copyOutcome := CopyAndHash(context.Background(), entry, 256*1024, hasher.SHA256)
	if !copyOutcome.Succeeded {
		t.Fatalf("copy failed: %v", copyOutcome.Err)
	}

	hashOutcome := HashFile(context.Background(), domain.FileEntry{
		SourcePath:   dst,
		RelativePath: "big.bin",
	}, 256*1024, hasher.SHA256)
	if !hashOutcome.Succeeded {
		t.Fatalf("hash failed: %v", hashOutcome.Err)
	}

	if copyOutcome.Digest != hashOutcome.Digest {
		t.Errorf("destination re-read digest %s != in-copy source digest %s",
			hashOutcome.Digest, copyOutcome.Digest)
	}
}

// TestMissingSourceOutcome verifies a vanished source yields a not_found
// outcome instead of an error escaping the engine
func TestMissingSourceOutcome(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	entry := domain.FileEntry{
		SourcePath:      filepath.Join(dir, "ghost.txt"),
		RelativePath:    "ghost.txt",
		DestinationPath: filepath.Join(dir, "out", "ghost.txt"),
	}

	outcome := CopyAndHash(context.Background(), entry, 4096, hasher.SHA256)
	if outcome.Succeeded {
		t.Fatal("expected failure for missing source")
	}
	if outcome.ErrorKind != domain.ErrKindNotFound {
		t.Errorf("error kind = %s, want not_found", outcome.ErrorKind)
	}
}

// TestCancelledCopyRemovesPartialDestination verifies cancellation at a
// chunk boundary leaves no partial destination behind
func TestCancelledCopyRemovesPartialDestination(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	src := testutil.CreateTestFileWithSize(t, dir, "big.bin", 2*1024*1024)
	dst := filepath.Join(dir, "copy.bin")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	entry := domain.FileEntry{SourcePath: src, RelativePath: "big.bin", DestinationPath: dst}
	outcome := CopyAndHash(ctx, entry, 64*1024, hasher.SHA256)

	if outcome.Succeeded {
		t.Fatal("expected cancelled outcome")
	}
	if outcome.ErrorKind != domain.ErrKindCancelled {
		t.Errorf("error kind = %s, want cancelled", outcome.ErrorKind)
	}
	if _, err := os.Stat(dst); !os.IsNotExist(err) {
		t.Errorf("partial destination was not removed")
	}
}

// TestChunkSizeFor tests the adaptive chunk sizing tiers
func TestChunkSizeFor(t *testing.T) {
	const base = 2 * 1024 * 1024

	tests := []struct {
		size int64
		want int
	}{
		{512, 256 * 1024},              // small file, small buffer
		{50_000_000, base},             // medium file, profile base
		{500_000_000, 8 * 1024 * 1024}, // large file, scaled base
	}

	for _, tt := range tests {
		if got := ChunkSizeFor(tt.size, base); got != tt.want {
			t.Errorf("ChunkSizeFor(%d, base) = %d, want %d", tt.size, got, tt.want)
		}
	}

	// Scaled chunk is capped
	if got := ChunkSizeFor(500_000_000, 8*1024*1024); got != maxChunkSize {
		t.Errorf("large-file chunk = %d, want cap %d", got, maxChunkSize)
	}
}
