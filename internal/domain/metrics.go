package domain

import "time"

// OperationMetrics aggregates counters for one scheduler run. It is
// finalized when the scheduler completes; while the run is in flight the
// scheduler maintains the counters atomically and only materializes this
// struct at the end.
type OperationMetrics struct {
	FilesTotal     int
	FilesSucceeded int
	FilesFailed    int
	FilesCancelled int
	BytesTotal     int64
	BytesProcessed int64
	Elapsed        time.Duration
}

// ThroughputMBps returns the average processing rate in MB/s.
func (m OperationMetrics) ThroughputMBps() float64 {
	secs := m.Elapsed.Seconds()
	if secs <= 0 || m.BytesProcessed <= 0 {
		return 0
	}
	return float64(m.BytesProcessed) / (1024 * 1024) / secs
}
