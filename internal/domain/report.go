package domain

import "time"

// VerificationCategory classifies the comparison of one relative path
// across the source and target sides.
type VerificationCategory int

const (
	// CategoryExactMatch means both sides hashed successfully and the
	// digests are byte-equal
	CategoryExactMatch VerificationCategory = iota

	// CategoryHashMismatch means both sides hashed successfully but the
	// digests differ
	CategoryHashMismatch

	// CategoryMissingTarget means the file exists on the source side only
	CategoryMissingTarget

	// CategoryMissingSource means the file exists on the target side only
	// (informational; the source operation did not lose anything)
	CategoryMissingSource

	// CategoryReadError means at least one side failed to read the file
	CategoryReadError

	// CategoryCancelled means the operation was cancelled before this
	// file was processed on at least one side
	CategoryCancelled
)

// String returns the stable status string used by report consumers.
func (c VerificationCategory) String() string {
	switch c {
	case CategoryExactMatch:
		return "exact_match"
	case CategoryHashMismatch:
		return "hash_mismatch"
	case CategoryMissingTarget:
		return "missing_target"
	case CategoryMissingSource:
		return "missing_source"
	case CategoryReadError:
		return "read_error"
	case CategoryCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// VerificationResult is the per-file join of both sides. Match is true
// only when both outcomes succeeded and the digests are byte-equal; any
// error on either side forces Match=false with a specific category.
type VerificationResult struct {
	RelativePath  string
	SourceOutcome *FileOutcome
	TargetOutcome *FileOutcome
	Match         bool
	Category      VerificationCategory
}

// ReportRow is the stable, documented field set consumed by external
// report/CSV exporters.
type ReportRow struct {
	RelativePath string `json:"relative_path"`
	SourceHash   string `json:"source_hash,omitempty"`
	TargetHash   string `json:"target_hash,omitempty"`
	Match        bool   `json:"match"`
	SizeBytes    int64  `json:"size_bytes"`
	Status       string `json:"status"`
}

// AggregateReport is the final result of a verification or
// copy-and-verify operation. It is created once after both sides finish
// and owned by the caller afterwards.
type AggregateReport struct {
	// Results keyed by relative path; insertion order is irrelevant
	Results map[string]VerificationResult

	SourceMetrics OperationMetrics
	TargetMetrics OperationMetrics

	// TotalDuration is max(source elapsed, target elapsed) because both
	// sides run concurrently
	TotalDuration time.Duration

	// Mismatches counts every non-exact-match entry
	Mismatches int

	// FastMode records that the source side reused in-copy digests
	// instead of an independent re-read. Forensic runs leave this false.
	FastMode bool
}

// Rows flattens the report into the exporter field set. Row order is
// unspecified.
func (r *AggregateReport) Rows() []ReportRow {
	rows := make([]ReportRow, 0, len(r.Results))
	for _, res := range r.Results {
		row := ReportRow{
			RelativePath: res.RelativePath,
			Match:        res.Match,
			Status:       res.Category.String(),
		}
		if res.SourceOutcome != nil {
			row.SourceHash = res.SourceOutcome.Digest
			row.SizeBytes = res.SourceOutcome.BytesProcessed
		}
		if res.TargetOutcome != nil {
			row.TargetHash = res.TargetOutcome.Digest
			if row.SizeBytes == 0 {
				row.SizeBytes = res.TargetOutcome.BytesProcessed
			}
		}
		rows = append(rows, row)
	}
	return rows
}
