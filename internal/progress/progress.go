// Package progress aggregates per-file completion events into throttled
// progress snapshots. Emission is rate-limited so a burst of small
// files cannot flood a consumer, while 0% and 100% are always
// delivered. Reported percentages are monotonic: a snapshot never shows
// less progress than the one before it.
package progress

import (
	"fmt"
	"sync"
	"time"

	"github.com/custodian-dev/custodian/internal/domain"
)

// Snapshot is one progress observation of a stream
type Snapshot struct {
	Stream         string
	FilesDone      int
	FilesTotal     int
	BytesDone      int64
	BytesTotal     int64
	Percent        float64
	BytesPerSecond float64
	CurrentFile    string
	Final          bool
}

// Callback receives progress snapshots. It is invoked from worker
// goroutines and must not block.
type Callback func(Snapshot)

// DefaultInterval is the minimum delay between intermediate snapshots
const DefaultInterval = 100 * time.Millisecond

// Tracker throttles and monotonizes progress for one operation stream
type Tracker struct {
	mu          sync.Mutex
	stream      string
	filesTotal  int
	bytesTotal  int64
	filesDone   int
	bytesDone   int64
	lastPercent float64
	lastEmit    time.Time
	started     time.Time
	interval    time.Duration
	cb          Callback
}

// NewTracker creates a tracker for a batch of known size. A nil
// callback disables emission but keeps the counters usable.
func NewTracker(stream string, filesTotal int, bytesTotal int64, interval time.Duration, cb Callback) *Tracker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Tracker{
		stream:     stream,
		filesTotal: filesTotal,
		bytesTotal: bytesTotal,
		interval:   interval,
		cb:         cb,
	}
}

// Start marks the beginning of the stream and emits the 0% snapshot
// unconditionally.
func (t *Tracker) Start() {
	t.mu.Lock()
	t.started = time.Now()
	t.lastEmit = t.started
	snap := t.snapshotLocked("", false)
	cb := t.cb
	t.mu.Unlock()

	if cb != nil {
		cb(snap)
	}
}

// Record folds one finished file into the stream. Intermediate
// snapshots are throttled; the snapshot that completes the batch is
// emitted immediately.
func (t *Tracker) Record(outcome domain.FileOutcome) {
	t.mu.Lock()
	t.filesDone++
	t.bytesDone += outcome.BytesProcessed

	complete := t.filesDone >= t.filesTotal
	now := time.Now()
	if !complete && now.Sub(t.lastEmit) < t.interval {
		t.mu.Unlock()
		return
	}
	t.lastEmit = now

	snap := t.snapshotLocked(outcome.RelativePath, complete)
	cb := t.cb
	t.mu.Unlock()

	if cb != nil {
		cb(snap)
	}
}

// Snapshot returns the current state without emitting
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked("", t.filesDone >= t.filesTotal)
}

// snapshotLocked builds a snapshot and clamps the percentage so it
// never moves backwards. Caller holds t.mu.
func (t *Tracker) snapshotLocked(current string, final bool) Snapshot {
	percent := t.percentLocked()
	if final {
		percent = 100
	}
	if percent < t.lastPercent {
		percent = t.lastPercent
	}
	t.lastPercent = percent

	var rate float64
	if !t.started.IsZero() {
		if elapsed := time.Since(t.started).Seconds(); elapsed > 0 {
			rate = float64(t.bytesDone) / elapsed
		}
	}

	return Snapshot{
		Stream:         t.stream,
		FilesDone:      t.filesDone,
		FilesTotal:     t.filesTotal,
		BytesDone:      t.bytesDone,
		BytesTotal:     t.bytesTotal,
		Percent:        percent,
		BytesPerSecond: rate,
		CurrentFile:    current,
		Final:          final,
	}
}

// percentLocked prefers byte-weighted progress; an all-empty batch
// falls back to file counts.
func (t *Tracker) percentLocked() float64 {
	if t.bytesTotal > 0 {
		return float64(t.bytesDone) / float64(t.bytesTotal) * 100
	}
	if t.filesTotal > 0 {
		return float64(t.filesDone) / float64(t.filesTotal) * 100
	}
	return 0
}

// FormatBytes formats bytes into a human-readable string
func FormatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// FormatSpeed formats bytes per second into a human-readable string
func FormatSpeed(bytesPerSecond float64) string {
	return FormatBytes(int64(bytesPerSecond)) + "/s"
}

// FormatProgress returns a progress bar string
func FormatProgress(current, total int64, width int) string {
	if total == 0 {
		return ""
	}

	percent := float64(current) / float64(total)
	filled := int(percent * float64(width))
	if filled > width {
		filled = width
	}

	bar := make([]byte, width)
	for i := 0; i < width; i++ {
		if i < filled {
			bar[i] = '='
		} else if i == filled {
			bar[i] = '>'
		} else {
			bar[i] = ' '
		}
	}

	return fmt.Sprintf("[%s] %5.1f%%", string(bar), percent*100)
}
