// Package verify implements dual-pipeline verification: the source and
// target trees are hashed by two concurrent worker pools, each sized by
// its own device profile, and the outcomes are joined by relative path
// into an aggregate report.
package verify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/custodian-dev/custodian/internal/device"
	"github.com/custodian-dev/custodian/internal/domain"
	"github.com/custodian-dev/custodian/internal/engine"
	"github.com/custodian-dev/custodian/internal/hasher"
	"github.com/custodian-dev/custodian/internal/logger"
	"github.com/custodian-dev/custodian/internal/progress"
	"github.com/custodian-dev/custodian/internal/scheduler"
	"github.com/custodian-dev/custodian/internal/walker"
)

// Options tunes one verification or copy operation
type Options struct {
	// Algorithm defaults to SHA256 when empty
	Algorithm hasher.Algorithm

	// Walk filters which files take part
	Walk walker.Options

	// Workers overrides the profiled worker count when > 0
	Workers int

	// ChunkSize overrides the profiled chunk size when > 0
	ChunkSize int

	// ProgressInterval throttles progress snapshots
	ProgressInterval time.Duration

	// OnProgress receives throttled snapshots; may be nil
	OnProgress progress.Callback

	// FastMode lets copy-and-verify reuse in-copy source digests
	// instead of re-reading the source. Off by default: the default is
	// the forensic two-pass behavior.
	FastMode bool
}

func (o Options) algorithm() hasher.Algorithm {
	if o.Algorithm == "" {
		return hasher.SHA256
	}
	return o.Algorithm
}

// Orchestrator coordinates the per-side pools of an operation
type Orchestrator struct {
	profiler *device.Profiler
	log      logger.Logger
}

// NewOrchestrator builds an orchestrator; nil arguments get null
// implementations
func NewOrchestrator(profiler *device.Profiler, log logger.Logger) *Orchestrator {
	if log == nil {
		log = &logger.NullLogger{}
	}
	if profiler == nil {
		profiler = device.NewProfiler(log)
	}
	return &Orchestrator{profiler: profiler, log: log}
}

// sideResult is one pool's contribution to the join
type sideResult struct {
	outcomes map[string]*domain.FileOutcome
	metrics  domain.OperationMetrics
}

// Verify hashes both trees concurrently and joins the results. The
// returned report always covers the union of both path sets.
//
// A missing root aborts with a FatalError; per-file read errors and
// mismatches never do. After cancellation the partial report travels
// inside the FatalError.
func (o *Orchestrator) Verify(ctx context.Context, sourceRoot, targetRoot string, opts Options) (*domain.AggregateReport, error) {
	srcEntries, err := walker.Walk(sourceRoot, "", opts.Walk)
	if err != nil {
		return nil, &domain.FatalError{Err: err}
	}
	tgtEntries, err := walker.Walk(targetRoot, "", opts.Walk)
	if err != nil {
		return nil, &domain.FatalError{Err: fmt.Errorf("%w: %v", domain.ErrTargetRootUnavailable, err)}
	}

	srcProfile := o.profiler.Profile(sourceRoot)
	tgtProfile := o.profiler.Profile(targetRoot)

	o.log.Info("verification starting",
		"source", sourceRoot, "target", targetRoot,
		"source_files", len(srcEntries), "target_files", len(tgtEntries),
		"source_device", srcProfile.Kind.String(), "target_device", tgtProfile.Kind.String(),
		"algorithm", string(opts.algorithm()))

	agg := progress.NewAggregator(
		len(srcEntries), walker.TotalBytes(srcEntries),
		len(tgtEntries), walker.TotalBytes(tgtEntries),
		opts.ProgressInterval, opts.OnProgress)
	agg.Start()

	start := time.Now()

	var src, tgt sideResult
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		src = o.hashSide(ctx, srcEntries, srcProfile, opts, agg.RecordSource)
	}()
	go func() {
		defer wg.Done()
		tgt = o.hashSide(ctx, tgtEntries, tgtProfile, opts, agg.RecordTarget)
	}()
	wg.Wait()

	report := buildReport(src, tgt, time.Since(start), false)

	o.log.Info("verification finished",
		"files", len(report.Results),
		"mismatches", report.Mismatches,
		"duration", report.TotalDuration.String())

	if ctx.Err() != nil {
		return report, &domain.FatalError{Err: domain.ErrCancelled, Report: report}
	}
	return report, nil
}

// HashTree hashes every file under root with a single profiled pool.
// Used for hash-only runs and as one side of a verification.
func (o *Orchestrator) HashTree(ctx context.Context, root string, opts Options) (map[string]domain.FileOutcome, domain.OperationMetrics, error) {
	entries, err := walker.Walk(root, "", opts.Walk)
	if err != nil {
		return nil, domain.OperationMetrics{}, &domain.FatalError{Err: err}
	}

	profile := o.profiler.Profile(root)

	tracker := progress.NewTracker("hash", len(entries), walker.TotalBytes(entries),
		opts.ProgressInterval, opts.OnProgress)
	tracker.Start()

	side := o.hashSide(ctx, entries, profile, opts, tracker.Record)

	outcomes := make(map[string]domain.FileOutcome, len(side.outcomes))
	for rel, out := range side.outcomes {
		outcomes[rel] = *out
	}

	if ctx.Err() != nil {
		return outcomes, side.metrics, domain.ErrCancelled
	}
	return outcomes, side.metrics, nil
}

// hashSide runs one pool of hash workers over one tree
func (o *Orchestrator) hashSide(ctx context.Context, entries []domain.FileEntry, profile device.Profile, opts Options, record func(domain.FileOutcome)) sideResult {
	workers := profile.Workers
	if opts.Workers > 0 {
		workers = opts.Workers
	}
	base := profile.ChunkSize
	if opts.ChunkSize > 0 {
		base = opts.ChunkSize
	}
	algo := opts.algorithm()

	pool := scheduler.NewPool(workers, o.log)
	if record != nil {
		pool.OnOutcome(record)
	}

	outcomes, metrics := pool.Run(ctx, entries, func(ctx context.Context, entry domain.FileEntry) domain.FileOutcome {
		return engine.HashFile(ctx, entry, engine.ChunkSizeFor(entry.Size, base), algo)
	})

	byPath := make(map[string]*domain.FileOutcome, len(outcomes))
	for i := range outcomes {
		byPath[outcomes[i].RelativePath] = &outcomes[i]
	}
	return sideResult{outcomes: byPath, metrics: metrics}
}

// buildReport joins both sides by relative path over the union of paths
func buildReport(src, tgt sideResult, wall time.Duration, fastMode bool) *domain.AggregateReport {
	results := make(map[string]domain.VerificationResult, len(src.outcomes))

	for rel, s := range src.outcomes {
		results[rel] = categorize(rel, s, tgt.outcomes[rel])
	}
	for rel, t := range tgt.outcomes {
		if _, seen := src.outcomes[rel]; !seen {
			results[rel] = categorize(rel, nil, t)
		}
	}

	report := &domain.AggregateReport{
		Results:       results,
		SourceMetrics: src.metrics,
		TargetMetrics: tgt.metrics,
		TotalDuration: wall,
		FastMode:      fastMode,
	}
	for _, res := range results {
		if !res.Match {
			report.Mismatches++
		}
	}
	return report
}

// categorize derives the per-file verdict from the pair of outcomes
func categorize(rel string, src, tgt *domain.FileOutcome) domain.VerificationResult {
	res := domain.VerificationResult{
		RelativePath:  rel,
		SourceOutcome: src,
		TargetOutcome: tgt,
	}

	switch {
	case tgt == nil:
		res.Category = domain.CategoryMissingTarget
	case src == nil:
		res.Category = domain.CategoryMissingSource
	case src.Cancelled() || tgt.Cancelled():
		res.Category = domain.CategoryCancelled
	case !src.Succeeded || !tgt.Succeeded:
		res.Category = domain.CategoryReadError
	case src.Digest == tgt.Digest:
		res.Category = domain.CategoryExactMatch
		res.Match = true
	default:
		res.Category = domain.CategoryHashMismatch
	}
	return res
}
