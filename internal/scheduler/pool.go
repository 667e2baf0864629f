// Package scheduler runs a per-file operation over a batch of entries
// with a bounded worker pool. Every entry submitted yields exactly one
// outcome: completed work keeps its real outcome, work not started
// after cancellation is recorded as cancelled.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/custodian-dev/custodian/internal/domain"
	"github.com/custodian-dev/custodian/internal/logger"
)

// Operation is the per-file unit of work. It must return an outcome
// for every call; errors are carried in the outcome, never panicked or
// returned separately.
type Operation func(ctx context.Context, entry domain.FileEntry) domain.FileOutcome

// Pool is a bounded worker pool for file operations. The worker count
// comes from the device profile of the volume the operation touches;
// a Pool is built per operation and is not reused.
type Pool struct {
	workers   int
	log       logger.Logger
	onOutcome func(domain.FileOutcome)
}

// NewPool creates a pool with the given worker count, floored at one
func NewPool(workers int, log logger.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if log == nil {
		log = &logger.NullLogger{}
	}
	return &Pool{workers: workers, log: log}
}

// OnOutcome registers a hook invoked once per finished entry, from
// worker goroutines. Used to feed progress aggregation.
func (p *Pool) OnOutcome(fn func(domain.FileOutcome)) {
	p.onOutcome = fn
}

// Run dispatches op over entries and blocks until every entry has an
// outcome. Per-file failures never abort the batch. After ctx is
// cancelled, in-flight files stop at their next chunk boundary and
// queued files are drained as cancelled without being started.
//
// The returned slice is index-aligned with entries.
func (p *Pool) Run(ctx context.Context, entries []domain.FileEntry, op Operation) ([]domain.FileOutcome, domain.OperationMetrics) {
	start := time.Now()

	outcomes := make([]domain.FileOutcome, len(entries))
	jobs := make(chan int, len(entries))
	for i := range entries {
		jobs <- i
	}
	close(jobs)

	workers := p.workers
	if workers > len(entries) {
		workers = len(entries)
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				entry := entries[i]

				var outcome domain.FileOutcome
				if ctx.Err() != nil {
					outcome = cancelledOutcome(entry)
				} else {
					outcome = op(ctx, entry)
				}
				outcomes[i] = outcome

				if !outcome.Succeeded {
					p.log.Debug("file operation failed",
						"path", entry.RelativePath,
						"kind", outcome.ErrorKind.String(),
						"error", outcome.Err)
				}
				if p.onOutcome != nil {
					p.onOutcome(outcome)
				}
			}
		}()
	}
	wg.Wait()

	return outcomes, collectMetrics(entries, outcomes, time.Since(start))
}

// cancelledOutcome records an entry that was never started
func cancelledOutcome(entry domain.FileEntry) domain.FileOutcome {
	return domain.FileOutcome{
		RelativePath: entry.RelativePath,
		ErrorKind:    domain.ErrKindCancelled,
		Err:          domain.ErrCancelled,
	}
}

func collectMetrics(entries []domain.FileEntry, outcomes []domain.FileOutcome, elapsed time.Duration) domain.OperationMetrics {
	m := domain.OperationMetrics{
		FilesTotal: len(entries),
		Elapsed:    elapsed,
	}
	for _, e := range entries {
		m.BytesTotal += e.Size
	}
	for _, o := range outcomes {
		m.BytesProcessed += o.BytesProcessed
		switch {
		case o.Succeeded:
			m.FilesSucceeded++
		case o.Cancelled():
			m.FilesCancelled++
		default:
			m.FilesFailed++
		}
	}
	return m
}
