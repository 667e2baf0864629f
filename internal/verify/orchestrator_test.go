package verify

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/custodian-dev/custodian/internal/domain"
	"github.com/custodian-dev/custodian/internal/progress"
	"github.com/custodian-dev/custodian/internal/testutil"
)

func category(t *testing.T, report *domain.AggregateReport, rel string) domain.VerificationCategory {
	t.Helper()
	res, ok := report.Results[rel]
	if !ok {
		t.Fatalf("report has no result for %s", rel)
	}
	return res.Category
}

func TestVerifyIdenticalTrees(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	files := map[string]string{
		"a.txt":     "hello",
		"sub/b.txt": "world",
	}
	src := filepath.Join(dir, "src")
	tgt := filepath.Join(dir, "tgt")
	testutil.CreateTree(t, src, files)
	testutil.CreateTree(t, tgt, files)

	o := NewOrchestrator(nil, nil)
	report, err := o.Verify(context.Background(), src, tgt, Options{})
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}

	if len(report.Results) != 2 {
		t.Fatalf("got %d results, want 2", len(report.Results))
	}
	if report.Mismatches != 0 {
		t.Errorf("mismatches = %d, want 0", report.Mismatches)
	}
	for rel, res := range report.Results {
		if !res.Match || res.Category != domain.CategoryExactMatch {
			t.Errorf("%s: %+v, want exact match", rel, res)
		}
		if res.SourceOutcome.Digest != res.TargetOutcome.Digest {
			t.Errorf("%s: digests differ on a match", rel)
		}
	}
}

func TestVerifyDetectsSingleByteCorruption(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	src := filepath.Join(dir, "src")
	tgt := filepath.Join(dir, "tgt")
	testutil.CreateTree(t, src, map[string]string{"a.txt": "hello", "b.txt": "world"})
	testutil.CreateTree(t, tgt, map[string]string{"a.txt": "hello", "b.txt": "wor1d"})

	o := NewOrchestrator(nil, nil)
	report, err := o.Verify(context.Background(), src, tgt, Options{})
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}

	if got := category(t, report, "a.txt"); got != domain.CategoryExactMatch {
		t.Errorf("a.txt category = %s, want exact_match", got)
	}
	if got := category(t, report, "b.txt"); got != domain.CategoryHashMismatch {
		t.Errorf("b.txt category = %s, want hash_mismatch", got)
	}
	if report.Mismatches != 1 {
		t.Errorf("mismatches = %d, want 1", report.Mismatches)
	}
}

func TestVerifyMissingFiles(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	src := filepath.Join(dir, "src")
	tgt := filepath.Join(dir, "tgt")
	testutil.CreateTree(t, src, map[string]string{"both.txt": "x", "only-src.txt": "y"})
	testutil.CreateTree(t, tgt, map[string]string{"both.txt": "x", "only-tgt.txt": "z"})

	o := NewOrchestrator(nil, nil)
	report, err := o.Verify(context.Background(), src, tgt, Options{})
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}

	if got := category(t, report, "only-src.txt"); got != domain.CategoryMissingTarget {
		t.Errorf("only-src.txt category = %s, want missing_target", got)
	}
	if got := category(t, report, "only-tgt.txt"); got != domain.CategoryMissingSource {
		t.Errorf("only-tgt.txt category = %s, want missing_source", got)
	}
	if got := category(t, report, "both.txt"); got != domain.CategoryExactMatch {
		t.Errorf("both.txt category = %s, want exact_match", got)
	}
	if report.Mismatches != 2 {
		t.Errorf("mismatches = %d, want 2", report.Mismatches)
	}
}

func TestVerifyMissingRootIsFatal(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	tgt := filepath.Join(dir, "tgt")
	testutil.CreateTree(t, tgt, map[string]string{"a.txt": "x"})

	o := NewOrchestrator(nil, nil)
	_, err := o.Verify(context.Background(), filepath.Join(dir, "missing"), tgt, Options{})
	if err == nil {
		t.Fatal("expected fatal error for missing source root")
	}
	if !domain.IsFatal(err) {
		t.Errorf("error %v is not fatal", err)
	}
	if !errors.Is(err, domain.ErrSourceRootUnavailable) {
		t.Errorf("error %v does not wrap ErrSourceRootUnavailable", err)
	}

	_, err = o.Verify(context.Background(), tgt, filepath.Join(dir, "missing"), Options{})
	if !errors.Is(err, domain.ErrTargetRootUnavailable) {
		t.Errorf("error %v does not wrap ErrTargetRootUnavailable", err)
	}
}

func TestVerifyCancelledCarriesPartialReport(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	files := map[string]string{"a.txt": "x", "b.txt": "y"}
	src := filepath.Join(dir, "src")
	tgt := filepath.Join(dir, "tgt")
	testutil.CreateTree(t, src, files)
	testutil.CreateTree(t, tgt, files)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := NewOrchestrator(nil, nil)
	report, err := o.Verify(ctx, src, tgt, Options{})
	if err == nil {
		t.Fatal("expected error after cancellation")
	}

	var fatal *domain.FatalError
	if !errors.As(err, &fatal) {
		t.Fatalf("error %v is not a FatalError", err)
	}
	if fatal.Report == nil {
		t.Fatal("fatal error lost the partial report")
	}
	if report == nil || len(report.Results) != 2 {
		t.Fatalf("partial report should still cover every file, got %+v", report)
	}
	for rel, res := range report.Results {
		if res.Category != domain.CategoryCancelled {
			t.Errorf("%s: category = %s, want cancelled", rel, res.Category)
		}
	}
}

func TestVerifyIsIdempotent(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	files := map[string]string{"a.txt": "hello", "b/c.txt": "world"}
	src := filepath.Join(dir, "src")
	tgt := filepath.Join(dir, "tgt")
	testutil.CreateTree(t, src, files)
	testutil.CreateTree(t, tgt, files)

	o := NewOrchestrator(nil, nil)
	first, err := o.Verify(context.Background(), src, tgt, Options{})
	if err != nil {
		t.Fatalf("first Verify() error = %v", err)
	}
	second, err := o.Verify(context.Background(), src, tgt, Options{})
	if err != nil {
		t.Fatalf("second Verify() error = %v", err)
	}

	if first.Mismatches != second.Mismatches {
		t.Errorf("mismatch counts differ across runs: %d vs %d", first.Mismatches, second.Mismatches)
	}
	for rel, res := range first.Results {
		res2 := second.Results[rel]
		if res.Category != res2.Category {
			t.Errorf("%s: category changed across runs: %s vs %s", rel, res.Category, res2.Category)
		}
		if res.SourceOutcome.Digest != res2.SourceOutcome.Digest {
			t.Errorf("%s: source digest changed across runs", rel)
		}
	}
}

func TestHashTree(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	root := filepath.Join(dir, "root")
	testutil.CreateTree(t, root, map[string]string{"a.txt": "hello world"})

	o := NewOrchestrator(nil, nil)
	outcomes, metrics, err := o.HashTree(context.Background(), root, Options{})
	if err != nil {
		t.Fatalf("HashTree() error = %v", err)
	}

	want := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	if got := outcomes["a.txt"].Digest; got != want {
		t.Errorf("digest = %s, want %s", got, want)
	}
	if metrics.FilesSucceeded != 1 {
		t.Errorf("metrics = %+v, want 1 succeeded", metrics)
	}
}

func TestCopyAndVerifyRoundTrip(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	files := map[string]string{
		"a.txt":          "hello",
		"docs/notes.md":  "some notes",
		"bin/image.raw":  "binary-ish content",
	}
	src := filepath.Join(dir, "src")
	tgt := filepath.Join(dir, "tgt")
	testutil.CreateTree(t, src, files)

	o := NewOrchestrator(nil, nil)
	report, copyMetrics, err := o.CopyAndVerify(context.Background(), src, tgt, Options{})
	if err != nil {
		t.Fatalf("CopyAndVerify() error = %v", err)
	}

	if copyMetrics.FilesSucceeded != len(files) {
		t.Errorf("copied %d files, want %d", copyMetrics.FilesSucceeded, len(files))
	}
	if report.Mismatches != 0 {
		t.Errorf("mismatches = %d, want 0", report.Mismatches)
	}
	if report.FastMode {
		t.Error("fast mode should be off by default")
	}
	for rel, res := range report.Results {
		if res.Category != domain.CategoryExactMatch {
			t.Errorf("%s: category = %s, want exact_match", rel, res.Category)
		}
	}

	for rel, content := range files {
		data, err := os.ReadFile(filepath.Join(tgt, filepath.FromSlash(rel)))
		if err != nil {
			t.Fatalf("reading copied %s: %v", rel, err)
		}
		if string(data) != content {
			t.Errorf("%s: copied content differs", rel)
		}
	}
}

func TestCopyAndVerifyFastModeMatchesDefault(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	files := map[string]string{"a.txt": "alpha", "b.txt": "beta"}
	src := filepath.Join(dir, "src")
	testutil.CreateTree(t, src, files)

	o := NewOrchestrator(nil, nil)

	slow, _, err := o.CopyAndVerify(context.Background(), src, filepath.Join(dir, "tgt1"), Options{})
	if err != nil {
		t.Fatalf("default CopyAndVerify() error = %v", err)
	}
	fast, _, err := o.CopyAndVerify(context.Background(), src, filepath.Join(dir, "tgt2"), Options{FastMode: true})
	if err != nil {
		t.Fatalf("fast CopyAndVerify() error = %v", err)
	}

	if !fast.FastMode {
		t.Error("fast report should record fast mode")
	}
	if slow.Mismatches != 0 || fast.Mismatches != 0 {
		t.Errorf("mismatches: slow=%d fast=%d, want 0", slow.Mismatches, fast.Mismatches)
	}
	for rel := range files {
		if slow.Results[rel].SourceOutcome.Digest != fast.Results[rel].SourceOutcome.Digest {
			t.Errorf("%s: digests differ between modes", rel)
		}
	}
}

func TestCopyAndVerifyCancelledBeforeCopy(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	src := filepath.Join(dir, "src")
	testutil.CreateTree(t, src, map[string]string{"a.txt": "x"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := NewOrchestrator(nil, nil)
	report, _, err := o.CopyAndVerify(ctx, src, filepath.Join(dir, "tgt"), Options{})

	var fatal *domain.FatalError
	if !errors.As(err, &fatal) {
		t.Fatalf("error %v is not a FatalError", err)
	}
	if report == nil || len(report.Results) != 1 {
		t.Fatalf("partial report should cover the batch, got %+v", report)
	}
	if got := category(t, report, "a.txt"); got != domain.CategoryCancelled {
		t.Errorf("category = %s, want cancelled", got)
	}
}

func TestCopyAndVerifyEmitsProgress(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	src := filepath.Join(dir, "src")
	testutil.CreateTree(t, src, map[string]string{"a.txt": "hello"})

	var mu sync.Mutex
	var snaps []progress.Snapshot
	o := NewOrchestrator(nil, nil)
	_, _, err := o.CopyAndVerify(context.Background(), src, filepath.Join(dir, "tgt"), Options{
		OnProgress: func(s progress.Snapshot) {
			mu.Lock()
			snaps = append(snaps, s)
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("CopyAndVerify() error = %v", err)
	}

	if len(snaps) == 0 {
		t.Fatal("no progress snapshots emitted")
	}
	sawFinal := false
	for _, s := range snaps {
		if s.Final && s.Percent == 100 {
			sawFinal = true
		}
	}
	if !sawFinal {
		t.Error("no final 100%% snapshot emitted")
	}
}
