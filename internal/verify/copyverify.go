package verify

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/custodian-dev/custodian/internal/domain"
	"github.com/custodian-dev/custodian/internal/engine"
	"github.com/custodian-dev/custodian/internal/progress"
	"github.com/custodian-dev/custodian/internal/scheduler"
	"github.com/custodian-dev/custodian/internal/walker"
)

// CopyAndVerify copies the source tree to the target and then proves
// destination integrity by re-reading what was written. By default the
// source is also re-read so both digests are independent of the copy;
// FastMode reuses the in-copy source digest and re-reads only the
// target, trading that independence for one less read pass.
//
// The copy-phase metrics are returned alongside the verification
// report. A file that failed to copy is reported as read_error without
// aborting the batch.
func (o *Orchestrator) CopyAndVerify(ctx context.Context, sourceRoot, targetRoot string, opts Options) (*domain.AggregateReport, domain.OperationMetrics, error) {
	entries, err := walker.Walk(sourceRoot, targetRoot, opts.Walk)
	if err != nil {
		return nil, domain.OperationMetrics{}, &domain.FatalError{Err: err}
	}
	if err := os.MkdirAll(targetRoot, 0755); err != nil {
		return nil, domain.OperationMetrics{}, &domain.FatalError{
			Err: fmt.Errorf("%w: %s: %v", domain.ErrTargetRootUnavailable, targetRoot, err),
		}
	}

	srcProfile := o.profiler.Profile(sourceRoot)
	tgtProfile := o.profiler.Profile(targetRoot)

	// A copy touches both volumes at once, so the slower side bounds
	// parallelism and the write side picks the chunk size.
	copyWorkers := srcProfile.Workers
	if tgtProfile.Workers < copyWorkers {
		copyWorkers = tgtProfile.Workers
	}
	if opts.Workers > 0 {
		copyWorkers = opts.Workers
	}
	copyChunk := tgtProfile.ChunkSize
	if opts.ChunkSize > 0 {
		copyChunk = opts.ChunkSize
	}
	algo := opts.algorithm()

	o.log.Info("copy starting",
		"source", sourceRoot, "target", targetRoot,
		"files", len(entries),
		"workers", copyWorkers,
		"source_device", srcProfile.Kind.String(),
		"target_device", tgtProfile.Kind.String(),
		"fast_mode", opts.FastMode)

	start := time.Now()

	copyTracker := progress.NewTracker("copy", len(entries), walker.TotalBytes(entries),
		opts.ProgressInterval, opts.OnProgress)
	copyTracker.Start()

	copyPool := scheduler.NewPool(copyWorkers, o.log)
	copyPool.OnOutcome(copyTracker.Record)
	copyOutcomes, copyMetrics := copyPool.Run(ctx, entries, func(ctx context.Context, entry domain.FileEntry) domain.FileOutcome {
		return engine.CopyAndHash(ctx, entry, engine.ChunkSizeFor(entry.Size, copyChunk), algo)
	})

	if ctx.Err() != nil {
		report := unverifiedReport(copyOutcomes, copyMetrics, time.Since(start), opts.FastMode)
		return report, copyMetrics, &domain.FatalError{Err: domain.ErrCancelled, Report: report}
	}

	// Re-read only what was actually written; failed copies carry their
	// copy outcome straight into the report.
	var copied, reread []domain.FileEntry
	copyByPath := make(map[string]*domain.FileOutcome, len(copyOutcomes))
	for i := range copyOutcomes {
		out := &copyOutcomes[i]
		copyByPath[out.RelativePath] = out
		if !out.Succeeded {
			continue
		}
		entry := entries[i]
		copied = append(copied, domain.FileEntry{
			SourcePath:   entry.DestinationPath,
			RelativePath: entry.RelativePath,
			Size:         entry.Size,
		})
		reread = append(reread, domain.FileEntry{
			SourcePath:   entry.SourcePath,
			RelativePath: entry.RelativePath,
			Size:         entry.Size,
		})
	}

	srcVerifyFiles := len(reread)
	if opts.FastMode {
		srcVerifyFiles = 0
	}
	agg := progress.NewAggregator(
		srcVerifyFiles, walker.TotalBytes(reread[:srcVerifyFiles]),
		len(copied), walker.TotalBytes(copied),
		opts.ProgressInterval, opts.OnProgress)
	agg.Start()

	var src, tgt sideResult
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		tgt = o.hashSide(ctx, copied, tgtProfile, opts, agg.RecordTarget)
	}()

	if opts.FastMode {
		// Reuse the digests computed during the copy
		src.outcomes = make(map[string]*domain.FileOutcome, len(reread))
		for _, e := range reread {
			src.outcomes[e.RelativePath] = copyByPath[e.RelativePath]
		}
		src.metrics = copyMetrics
	} else {
		wg.Add(1)
		go func() {
			defer wg.Done()
			src = o.hashSide(ctx, reread, srcProfile, opts, agg.RecordSource)
		}()
	}
	wg.Wait()

	report := buildReport(src, tgt, time.Since(start), opts.FastMode)

	// Fold copy failures back in; they were excluded from both sides
	for rel, out := range copyByPath {
		if out.Succeeded {
			continue
		}
		category := domain.CategoryReadError
		if out.Cancelled() {
			category = domain.CategoryCancelled
		}
		report.Results[rel] = domain.VerificationResult{
			RelativePath:  rel,
			SourceOutcome: out,
			Category:      category,
		}
		report.Mismatches++
	}

	o.log.Info("copy and verification finished",
		"files", len(report.Results),
		"copied", copyMetrics.FilesSucceeded,
		"mismatches", report.Mismatches,
		"duration", report.TotalDuration.String())

	if ctx.Err() != nil {
		return report, copyMetrics, &domain.FatalError{Err: domain.ErrCancelled, Report: report}
	}
	return report, copyMetrics, nil
}

// unverifiedReport covers a batch whose verification never ran: every
// entry is reported as cancelled, successful copies included, because
// nothing proved the destination bytes.
func unverifiedReport(copyOutcomes []domain.FileOutcome, copyMetrics domain.OperationMetrics, wall time.Duration, fastMode bool) *domain.AggregateReport {
	results := make(map[string]domain.VerificationResult, len(copyOutcomes))
	for i := range copyOutcomes {
		out := &copyOutcomes[i]
		results[out.RelativePath] = domain.VerificationResult{
			RelativePath:  out.RelativePath,
			SourceOutcome: out,
			Category:      domain.CategoryCancelled,
		}
	}
	return &domain.AggregateReport{
		Results:       results,
		SourceMetrics: copyMetrics,
		TotalDuration: wall,
		Mismatches:    len(results),
		FastMode:      fastMode,
	}
}
