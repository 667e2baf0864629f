// Package state persists run history. The engine itself keeps all
// operation state in memory; this store only records finished runs so
// an operator can audit what was copied, hashed, or verified and when.
package state

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/custodian-dev/custodian/internal/domain"
)

// Run statuses
const (
	StatusSuccess   = "success"
	StatusMismatch  = "mismatch"
	StatusPartial   = "partial"
	StatusCancelled = "cancelled"
	StatusFailed    = "failed"
)

// Manager stores finished runs in a sqlite database
type Manager struct {
	db *sql.DB
}

// RunRecord is one finished operation
type RunRecord struct {
	ID         int64
	Kind       string // "copy", "verify", "hash"
	SourceRoot string
	TargetRoot string
	Algorithm  string
	StartTime  time.Time
	EndTime    time.Time
	Status     string
	Files      int
	Bytes      int64
	Mismatches int
	FastMode   bool
	Error      string
}

// NewManager opens (or creates) the history database at dbPath
func NewManager(dbPath string) (*Manager, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("history database path cannot be empty")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Limit connection pool to prevent "database is locked" errors
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode and busy timeout: %w", err)
	}

	manager := &Manager{db: db}

	if err := manager.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return manager, nil
}

func (m *Manager) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		source_root TEXT NOT NULL,
		target_root TEXT,
		algorithm TEXT NOT NULL,
		start_time TIMESTAMP NOT NULL,
		end_time TIMESTAMP NOT NULL,
		status TEXT NOT NULL,
		files INTEGER DEFAULT 0,
		bytes INTEGER DEFAULT 0,
		mismatches INTEGER DEFAULT 0,
		fast_mode INTEGER DEFAULT 0,
		error TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_runs_kind_time ON runs(kind, start_time DESC);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
	`

	_, err := m.db.Exec(schema)
	return err
}

// SaveRun records a finished operation
func (m *Manager) SaveRun(record RunRecord) error {
	switch record.Status {
	case StatusSuccess, StatusMismatch, StatusPartial, StatusCancelled, StatusFailed:
	default:
		return fmt.Errorf("invalid run status: %s", record.Status)
	}

	query := `
		INSERT INTO runs (kind, source_root, target_root, algorithm, start_time, end_time,
			status, files, bytes, mismatches, fast_mode, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := m.db.Exec(query,
		record.Kind,
		record.SourceRoot,
		record.TargetRoot,
		record.Algorithm,
		record.StartTime,
		record.EndTime,
		record.Status,
		record.Files,
		record.Bytes,
		record.Mismatches,
		record.FastMode,
		record.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to save run record: %w", err)
	}

	return nil
}

// StatusForReport derives the stored status from an aggregate report
func StatusForReport(report *domain.AggregateReport, runErr error) string {
	switch {
	case runErr != nil && domain.IsFatal(runErr):
		if report != nil && countCancelled(report) > 0 {
			return StatusCancelled
		}
		return StatusFailed
	case report == nil:
		return StatusFailed
	case report.Mismatches == 0:
		return StatusSuccess
	case report.SourceMetrics.FilesFailed > 0 || report.TargetMetrics.FilesFailed > 0:
		return StatusPartial
	default:
		return StatusMismatch
	}
}

func countCancelled(report *domain.AggregateReport) int {
	n := 0
	for _, res := range report.Results {
		if res.Category == domain.CategoryCancelled {
			n++
		}
	}
	return n
}

// GetHistory retrieves recent runs of one kind
func (m *Manager) GetHistory(kind string, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}

	query := selectColumns + `
		WHERE kind = ?
		ORDER BY start_time DESC
		LIMIT ?
	`

	rows, err := m.db.Query(query, kind, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	return scanRuns(rows)
}

// GetAllHistory retrieves recent runs of every kind
func (m *Manager) GetAllHistory(limit int) ([]RunRecord, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}

	query := selectColumns + `
		ORDER BY start_time DESC
		LIMIT ?
	`

	rows, err := m.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query all history: %w", err)
	}
	defer rows.Close()

	return scanRuns(rows)
}

// GetLastSuccess retrieves the most recent clean run of one kind, or
// nil when there is none
func (m *Manager) GetLastSuccess(kind string) (*RunRecord, error) {
	query := selectColumns + `
		WHERE kind = ? AND status = 'success'
		ORDER BY start_time DESC
		LIMIT 1
	`

	rows, err := m.db.Query(query, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to query last success: %w", err)
	}
	defer rows.Close()

	records, err := scanRuns(rows)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

const selectColumns = `
	SELECT id, kind, source_root, target_root, algorithm, start_time, end_time,
		status, files, bytes, mismatches, fast_mode, error
	FROM runs
`

func scanRuns(rows *sql.Rows) ([]RunRecord, error) {
	var records []RunRecord
	for rows.Next() {
		var record RunRecord
		var targetRoot, errMsg sql.NullString
		err := rows.Scan(
			&record.ID,
			&record.Kind,
			&record.SourceRoot,
			&targetRoot,
			&record.Algorithm,
			&record.StartTime,
			&record.EndTime,
			&record.Status,
			&record.Files,
			&record.Bytes,
			&record.Mismatches,
			&record.FastMode,
			&errMsg,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		record.TargetRoot = targetRoot.String
		record.Error = errMsg.String
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}

	return records, nil
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
