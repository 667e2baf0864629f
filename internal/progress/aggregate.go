package progress

import (
	"sync"
	"time"

	"github.com/custodian-dev/custodian/internal/domain"
)

// Aggregator merges the source and target verification streams into a
// combined view. Each stream advances independently from its own worker
// pool; the combined percentage is byte-weighted across both and is
// monotonic even when one stream finishes long before the other.
type Aggregator struct {
	mu          sync.Mutex
	source      *Tracker
	target      *Tracker
	lastPercent float64
	lastEmit    time.Time
	interval    time.Duration
	cb          Callback
}

// NewAggregator builds an aggregator over two streams of known size
func NewAggregator(sourceFiles int, sourceBytes int64, targetFiles int, targetBytes int64, interval time.Duration, cb Callback) *Aggregator {
	if interval <= 0 {
		interval = DefaultInterval
	}
	a := &Aggregator{
		interval: interval,
		cb:       cb,
	}
	// Stream trackers feed the combined view; their own callbacks stay
	// nil so each file is emitted at most once.
	a.source = NewTracker("source", sourceFiles, sourceBytes, interval, nil)
	a.target = NewTracker("target", targetFiles, targetBytes, interval, nil)
	return a
}

// Start begins both streams and emits the combined 0% snapshot
func (a *Aggregator) Start() {
	a.source.Start()
	a.target.Start()

	a.mu.Lock()
	a.lastEmit = time.Now()
	snap := a.combinedLocked()
	cb := a.cb
	a.mu.Unlock()

	if cb != nil {
		cb(snap)
	}
}

// RecordSource folds one source-side outcome into the combined view
func (a *Aggregator) RecordSource(outcome domain.FileOutcome) {
	a.source.Record(outcome)
	a.emit()
}

// RecordTarget folds one target-side outcome into the combined view
func (a *Aggregator) RecordTarget(outcome domain.FileOutcome) {
	a.target.Record(outcome)
	a.emit()
}

// Snapshot returns the current combined state without emitting
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.combinedLocked()
}

func (a *Aggregator) emit() {
	a.mu.Lock()
	snap := a.combinedLocked()

	now := time.Now()
	if !snap.Final && now.Sub(a.lastEmit) < a.interval {
		a.mu.Unlock()
		return
	}
	a.lastEmit = now
	cb := a.cb
	a.mu.Unlock()

	if cb != nil {
		cb(snap)
	}
}

// combinedLocked merges both stream snapshots. Caller holds a.mu.
func (a *Aggregator) combinedLocked() Snapshot {
	src := a.source.Snapshot()
	tgt := a.target.Snapshot()

	snap := Snapshot{
		Stream:     "combined",
		FilesDone:  src.FilesDone + tgt.FilesDone,
		FilesTotal: src.FilesTotal + tgt.FilesTotal,
		BytesDone:  src.BytesDone + tgt.BytesDone,
		BytesTotal: src.BytesTotal + tgt.BytesTotal,
		Final:      src.Final && tgt.Final,
	}

	switch {
	case snap.BytesTotal > 0:
		snap.Percent = float64(snap.BytesDone) / float64(snap.BytesTotal) * 100
	case snap.FilesTotal > 0:
		snap.Percent = float64(snap.FilesDone) / float64(snap.FilesTotal) * 100
	}
	if snap.Final {
		snap.Percent = 100
	}
	if snap.Percent < a.lastPercent {
		snap.Percent = a.lastPercent
	}
	a.lastPercent = snap.Percent

	snap.BytesPerSecond = src.BytesPerSecond + tgt.BytesPerSecond
	return snap
}
