package domain

import "errors"

// Engine errors - per-file failures captured into a FileOutcome
var (
	// ErrPermissionDenied indicates insufficient permissions
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNotFound indicates the file disappeared mid-operation
	ErrNotFound = errors.New("file not found")

	// ErrDiskFull indicates no space left on the destination volume
	ErrDiskFull = errors.New("disk full")

	// ErrCancelled indicates cooperative cancellation was observed
	ErrCancelled = errors.New("operation cancelled")
)

// Fatal errors - abort the whole operation before or during pool startup
var (
	// ErrSourceRootUnavailable indicates the source root cannot be read
	ErrSourceRootUnavailable = errors.New("source root unavailable")

	// ErrTargetRootUnavailable indicates the destination root cannot be
	// accessed
	ErrTargetRootUnavailable = errors.New("target root unavailable")
)

// Config errors
var (
	// ErrConfigNotFound indicates config file not found
	ErrConfigNotFound = errors.New("config file not found")

	// ErrConfigInvalid indicates config file is malformed
	ErrConfigInvalid = errors.New("invalid config")

	// ErrUnsupportedAlgorithm indicates an unknown hash algorithm name
	ErrUnsupportedAlgorithm = errors.New("unsupported hash algorithm")
)

// FatalError wraps a fatal failure together with whatever partial report
// was assembled before the operation aborted. A scheduler-side fatal
// failure must not erase the other side's completed work.
type FatalError struct {
	Err    error
	Report *AggregateReport
}

// Error implements the error interface
func (e *FatalError) Error() string {
	return e.Err.Error()
}

// Unwrap exposes the underlying error for errors.Is checks
func (e *FatalError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err aborts an entire operation rather than a
// single file.
func IsFatal(err error) bool {
	var fe *FatalError
	if errors.As(err, &fe) {
		return true
	}
	return errors.Is(err, ErrSourceRootUnavailable) || errors.Is(err, ErrTargetRootUnavailable)
}
