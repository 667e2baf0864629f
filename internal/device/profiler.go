// Package device classifies the physical storage backing a path and
// derives a concurrency and chunk-size policy from it. Detection is
// best-effort: every failure path degrades to a conservative profile
// instead of returning an error, because a misdetected volume must
// never abort a copy or verification run.
package device

import (
	"runtime"
	"sync"
	"time"

	"github.com/custodian-dev/custodian/internal/logger"
)

// Kind classifies the storage device backing a volume
type Kind int

const (
	KindUnknown Kind = iota
	KindHDD
	KindSSD
	KindNVMe
	KindExternalHDD
	KindExternalSSD
	KindNetwork
)

// String returns the string representation of the device kind
func (k Kind) String() string {
	switch k {
	case KindHDD:
		return "hdd"
	case KindSSD:
		return "ssd"
	case KindNVMe:
		return "nvme"
	case KindExternalHDD:
		return "external_hdd"
	case KindExternalSSD:
		return "external_ssd"
	case KindNetwork:
		return "network"
	default:
		return "unknown"
	}
}

// Profile is the per-volume concurrency and chunk-size policy. It is
// created once per distinct root per operation and never mutated.
type Profile struct {
	// DeviceID is an opaque fingerprint of the storage volume
	DeviceID string

	Kind Kind

	// Workers is the maximum number of parallel I/O workers for this
	// volume, always >= 1
	Workers int

	// ChunkSize is the base read/write block size in bytes
	ChunkSize int

	// Method records which detection tier produced this profile
	Method string
}

// Worker counts per device kind. Spinning disks are kept sequential
// because parallel readers thrash the head; solid state scales with
// CPU count up to the per-kind bound.
var workerPolicy = map[Kind]int{
	KindNVMe:        16,
	KindSSD:         8,
	KindExternalSSD: 4,
	KindHDD:         1,
	KindExternalHDD: 1,
	KindNetwork:     2,
	KindUnknown:     1,
}

// Base chunk sizes per device kind. Spinning disks get large
// sequential chunks to minimize seeks; network mounts get small chunks
// to bound per-request latency.
var chunkPolicy = map[Kind]int{
	KindNVMe:        2 * 1024 * 1024,
	KindSSD:         2 * 1024 * 1024,
	KindExternalSSD: 1024 * 1024,
	KindHDD:         8 * 1024 * 1024,
	KindExternalHDD: 4 * 1024 * 1024,
	KindNetwork:     256 * 1024,
	KindUnknown:     1024 * 1024,
}

// DefaultDetectTimeout bounds how long a single device detection may
// block before the profiler falls back to the conservative default.
const DefaultDetectTimeout = 2 * time.Second

// probe is the raw result of platform detection
type probe struct {
	deviceID  string
	kind      Kind
	removable bool
	method    string
}

// Profiler resolves paths to device profiles, caching by volume
// fingerprint so repeated calls for paths on the same volume are O(1)
// after the first. A Profiler is constructed per process and passed
// into operations explicitly; it holds no other state.
type Profiler struct {
	mu      sync.Mutex
	cache   map[string]Profile
	timeout time.Duration
	log     logger.Logger

	// detect is swappable for tests
	detect func(path string) (probe, error)
}

// NewProfiler creates a profiler with the platform detector
func NewProfiler(log logger.Logger) *Profiler {
	if log == nil {
		log = &logger.NullLogger{}
	}
	return &Profiler{
		cache:   make(map[string]Profile),
		timeout: DefaultDetectTimeout,
		log:     log,
		detect:  detectDevice,
	}
}

// Profile classifies the volume backing path. Detection failure and
// timeout both degrade to the conservative default; this method never
// returns an error.
func (p *Profiler) Profile(path string) Profile {
	fp, err := fingerprint(path)
	if err != nil {
		p.log.Warn("volume fingerprint failed, using conservative profile",
			"path", path, "error", err)
		return ConservativeProfile("fingerprint_failed")
	}

	p.mu.Lock()
	if prof, ok := p.cache[fp]; ok {
		p.mu.Unlock()
		return prof
	}
	p.mu.Unlock()

	prof := p.detectWithTimeout(path, fp)

	p.mu.Lock()
	p.cache[fp] = prof
	p.mu.Unlock()

	p.log.Info("device profiled",
		"path", path,
		"device", prof.DeviceID,
		"kind", prof.Kind.String(),
		"workers", prof.Workers,
		"chunk_size", prof.ChunkSize,
		"method", prof.Method)

	return prof
}

// detectWithTimeout runs platform detection in its own goroutine so a
// hung OS query (dead network mount, stuck WMI service) cannot stall
// the operation past the timeout.
func (p *Profiler) detectWithTimeout(path, fp string) Profile {
	type result struct {
		pr  probe
		err error
	}

	ch := make(chan result, 1)
	go func() {
		pr, err := p.detect(path)
		ch <- result{pr, err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			p.log.Debug("device detection failed", "path", path, "error", res.err)
			return ConservativeProfile("detect_failed")
		}
		return buildProfile(res.pr, fp)
	case <-time.After(p.timeout):
		p.log.Warn("device detection timed out, using conservative profile", "path", path)
		return ConservativeProfile("detect_timeout")
	}
}

// buildProfile applies the worker and chunk policies to a raw probe
func buildProfile(pr probe, fallbackID string) Profile {
	kind := pr.kind
	if pr.removable {
		switch kind {
		case KindSSD, KindNVMe:
			kind = KindExternalSSD
		case KindHDD:
			kind = KindExternalHDD
		}
	}

	workers := workerPolicy[kind]
	switch kind {
	case KindNVMe, KindSSD:
		if cpus := runtime.NumCPU(); workers > cpus {
			workers = cpus
		}
	}
	if workers < 1 {
		workers = 1
	}

	id := pr.deviceID
	if id == "" {
		id = fallbackID
	}

	return Profile{
		DeviceID:  id,
		Kind:      kind,
		Workers:   workers,
		ChunkSize: chunkPolicy[kind],
		Method:    pr.method,
	}
}

// ConservativeProfile is the fallback when detection is unavailable:
// assume the slowest device class so an unknown volume is never
// over-parallelized.
func ConservativeProfile(reason string) Profile {
	return Profile{
		DeviceID:  "unknown",
		Kind:      KindUnknown,
		Workers:   1,
		ChunkSize: chunkPolicy[KindUnknown],
		Method:    "conservative_fallback_" + reason,
	}
}
