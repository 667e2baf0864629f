package domain

import "time"

// FileEntry is one immutable unit of work: a single file to copy or hash.
type FileEntry struct {
	// SourcePath is the absolute path of the file to read
	SourcePath string

	// RelativePath is the path relative to the operation root, with
	// forward slashes. It is the key used to join source and target
	// outcomes during verification.
	RelativePath string

	// DestinationPath is the absolute path to write to (empty for
	// hash-only operations)
	DestinationPath string

	// Size in bytes at enumeration time
	Size int64
}

// ErrorKind classifies a per-file failure
type ErrorKind int

const (
	ErrKindNone ErrorKind = iota
	ErrKindPermission
	ErrKindNotFound
	ErrKindDiskFull
	ErrKindIO
	ErrKindCancelled
)

// String returns the string representation of the error kind
func (k ErrorKind) String() string {
	switch k {
	case ErrKindNone:
		return "none"
	case ErrKindPermission:
		return "permission"
	case ErrKindNotFound:
		return "not_found"
	case ErrKindDiskFull:
		return "disk_full"
	case ErrKindIO:
		return "io_error"
	case ErrKindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// FileOutcome is the result of processing one FileEntry. Exactly one
// outcome is produced per submitted entry, success or not.
type FileOutcome struct {
	RelativePath string

	// BytesProcessed counts bytes actually read (and written, for copies)
	BytesProcessed int64

	// Digest is the hex-encoded hash of the bytes read from the source.
	// For a copy operation this is the source-side digest computed from
	// the in-memory buffer while writing; it is not proof of destination
	// integrity.
	Digest string

	Duration  time.Duration
	Succeeded bool
	ErrorKind ErrorKind

	// Err holds the underlying error for logging; ErrorKind is the
	// stable classification
	Err error
}

// Cancelled reports whether this outcome was produced by cancellation
// rather than by processing the file.
func (o FileOutcome) Cancelled() bool {
	return o.ErrorKind == ErrKindCancelled
}
