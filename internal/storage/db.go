package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // Register SQLite driver
	"github.com/paperviz/pdf-extract-service/pkg/types"
	"github.com/sirupsen/logrus"
)

// ErrNotFound is returned when no job record exists for the requested key.
var ErrNotFound = errors.New("job not found")

// JobRecord represents one extraction job stored in the database
type JobRecord struct {
	DocumentID      string
	Mode            types.Mode
	Status          types.JobStatus
	ProgressPercent int
	PageCount       int
	TextLength      int
	ErrorMessage    string
	RetryCount      int
	JobToken        string
	SourceReference string
	ResultLocation  string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
}

// JobUpdate describes a partial update to a job record. Nil fields are left
// untouched.
type JobUpdate struct {
	Status          *types.JobStatus
	ProgressPercent *int
	PageCount       *int
	TextLength      *int
	ErrorMessage    *string
	RetryCount      *int
	JobToken        *string
	ResultLocation  *string
	StartedAt       *time.Time
	CompletedAt     *time.Time
}

// Store provides SQLite-based job persistence
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// NewStore initializes a new SQLite store
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	store := &Store{
		db:     db,
		dbPath: dbPath,
	}

	if err := store.initSchema(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logrus.WithError(closeErr).Warn("Failed to close database connection after init error")
		}
		return nil, err
	}

	logrus.WithField("db_path", dbPath).Info("Initialized job status database")
	return store, nil
}

// initSchema applies all pending migrations
func (s *Store) initSchema() error {
	currentVersion := 0
	row := s.db.QueryRowContext(context.Background(), "SELECT COALESCE(MAX(version), 0) FROM schema_version")
	_ = row.Scan(&currentVersion) // Ignore error - schema_version table may not exist yet

	for _, migration := range Migrations {
		if migration.Version <= currentVersion {
			continue
		}

		logrus.WithField("version", migration.Version).Info("Applying schema migration")

		if _, err := s.db.ExecContext(context.Background(), migration.SQL); err != nil {
			return fmt.Errorf("failed to apply migration v%d: %w", migration.Version, err)
		}

		if _, err := s.db.ExecContext(context.Background(),
			"INSERT INTO schema_version (version, applied_at) VALUES (?, ?)",
			migration.Version,
			time.Now().Unix(),
		); err != nil {
			return fmt.Errorf("failed to record migration v%d: %w", migration.Version, err)
		}

		currentVersion = migration.Version
	}

	return nil
}

const jobColumns = `document_id, mode, status, progress_percent, page_count, text_length,
	error_message, retry_count, job_token, source_reference, result_location,
	created_at, updated_at, started_at, completed_at`

// CreateOrResetJob creates a job record for (document_id, mode), or resets an
// existing terminal failed/cancelled record for a fresh attempt. The check
// and the write happen in one transaction, so two racing submissions cannot
// both win. Returns created=false and the existing record when the record is
// active or already completed.
func (s *Store) CreateOrResetJob(ctx context.Context, rec *JobRecord) (bool, *JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				logrus.WithError(rollbackErr).Warn("Failed to rollback transaction")
			}
		}
	}()

	existing, err := scanJob(tx.QueryRowContext(ctx,
		"SELECT "+jobColumns+" FROM extract_jobs WHERE document_id = ? AND mode = ?",
		rec.DocumentID, string(rec.Mode),
	))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return false, nil, fmt.Errorf("failed to check job existence: %w", err)
	}

	now := time.Now()

	if existing == nil {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO extract_jobs
			 (document_id, mode, status, progress_percent, error_message,
			  retry_count, job_token, source_reference, created_at, updated_at)
			 VALUES (?, ?, ?, 0, '', 0, ?, ?, ?, ?)`,
			rec.DocumentID,
			string(rec.Mode),
			string(types.StatusQueued),
			rec.JobToken,
			rec.SourceReference,
			now.Unix(),
			now.Unix(),
		)
		if err != nil {
			return false, nil, fmt.Errorf("failed to insert job: %w", err)
		}
	} else {
		if existing.Status != types.StatusFailed && existing.Status != types.StatusCancelled {
			// Active or completed: leave the record alone, report it back.
			if err := tx.Commit(); err != nil {
				return false, nil, fmt.Errorf("failed to commit transaction: %w", err)
			}
			committed = true
			return false, existing, nil
		}

		// Terminal failure or cancellation: reset for a fresh execution.
		_, err := tx.ExecContext(ctx,
			`UPDATE extract_jobs
			 SET status = ?, progress_percent = 0, page_count = 0, text_length = 0,
			     error_message = '', retry_count = 0, job_token = ?,
			     source_reference = ?, result_location = '',
			     updated_at = ?, started_at = NULL, completed_at = NULL
			 WHERE document_id = ? AND mode = ?`,
			string(types.StatusQueued),
			rec.JobToken,
			rec.SourceReference,
			now.Unix(),
			rec.DocumentID,
			string(rec.Mode),
		)
		if err != nil {
			return false, nil, fmt.Errorf("failed to reset job: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true

	return true, nil, nil
}

// UpdateActive applies a partial update to a job record, but only while the
// record is still in a non-terminal state. Returns false when the record has
// already reached a terminal state, in which case nothing was written: a
// cancelled job can never be overwritten by a late phase commit.
func (s *Store) UpdateActive(ctx context.Context, documentID string, mode types.Mode, upd JobUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	setClauses := []string{"updated_at = ?"}
	args := []interface{}{time.Now().Unix()}

	if upd.Status != nil {
		setClauses = append(setClauses, "status = ?")
		args = append(args, string(*upd.Status))
	}
	if upd.ProgressPercent != nil {
		// Readers must never observe progress going backwards.
		setClauses = append(setClauses, "progress_percent = MAX(progress_percent, ?)")
		args = append(args, *upd.ProgressPercent)
	}
	if upd.PageCount != nil {
		setClauses = append(setClauses, "page_count = ?")
		args = append(args, *upd.PageCount)
	}
	if upd.TextLength != nil {
		setClauses = append(setClauses, "text_length = ?")
		args = append(args, *upd.TextLength)
	}
	if upd.ErrorMessage != nil {
		setClauses = append(setClauses, "error_message = ?")
		args = append(args, *upd.ErrorMessage)
	}
	if upd.RetryCount != nil {
		setClauses = append(setClauses, "retry_count = ?")
		args = append(args, *upd.RetryCount)
	}
	if upd.JobToken != nil {
		setClauses = append(setClauses, "job_token = ?")
		args = append(args, *upd.JobToken)
	}
	if upd.ResultLocation != nil {
		setClauses = append(setClauses, "result_location = ?")
		args = append(args, *upd.ResultLocation)
	}
	if upd.StartedAt != nil {
		setClauses = append(setClauses, "started_at = ?")
		args = append(args, upd.StartedAt.Unix())
	}
	if upd.CompletedAt != nil {
		setClauses = append(setClauses, "completed_at = ?")
		args = append(args, upd.CompletedAt.Unix())
	}

	query := "UPDATE extract_jobs SET " + strings.Join(setClauses, ", ") +
		" WHERE document_id = ? AND mode = ? AND status NOT IN (?, ?, ?)"
	args = append(args,
		documentID,
		string(mode),
		string(types.StatusCompleted),
		string(types.StatusFailed),
		string(types.StatusCancelled),
	)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update job: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return affected > 0, nil
}

// MarkCancelled transitions a job to cancelled, but only while it is still in
// a non-terminal state. Returns false if the record was already terminal.
func (s *Store) MarkCancelled(ctx context.Context, documentID string, mode types.Mode) (bool, error) {
	status := types.StatusCancelled
	now := time.Now()
	return s.UpdateActive(ctx, documentID, mode, JobUpdate{
		Status:      &status,
		CompletedAt: &now,
	})
}

// GetJob retrieves a job record by its (document_id, mode) key
func (s *Store) GetJob(ctx context.Context, documentID string, mode types.Mode) (*JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return scanJob(s.db.QueryRowContext(ctx,
		"SELECT "+jobColumns+" FROM extract_jobs WHERE document_id = ? AND mode = ?",
		documentID, string(mode),
	))
}

// GetLatestJob retrieves the most recently updated job record for a document,
// regardless of mode.
func (s *Store) GetLatestJob(ctx context.Context, documentID string) (*JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return scanJob(s.db.QueryRowContext(ctx,
		"SELECT "+jobColumns+" FROM extract_jobs WHERE document_id = ? ORDER BY updated_at DESC, mode LIMIT 1",
		documentID,
	))
}

// ListJobsFilter defines filtering options for ListJobs
type ListJobsFilter struct {
	Status string // optional: filter by status
	Limit  int    // default: 100
	Offset int    // default: 0
}

// ListJobs retrieves jobs with optional filtering
func (s *Store) ListJobs(ctx context.Context, filter ListJobsFilter) ([]*JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if filter.Limit == 0 {
		filter.Limit = 100
	}
	if filter.Limit > 10000 {
		filter.Limit = 10000 // Cap limit to prevent excessive queries
	}

	query := "SELECT " + jobColumns + " FROM extract_jobs"
	args := []interface{}{}

	if filter.Status != "" {
		query += " WHERE status = ?"
		args = append(args, filter.Status)
	}

	query += " ORDER BY updated_at DESC LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			logrus.WithError(closeErr).Warn("Failed to close database rows")
		}
	}()

	var records []*JobRecord
	for rows.Next() {
		record, err := scanJobRow(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating jobs: %w", err)
	}

	return records, nil
}

// CountActiveJobs returns the number of jobs in a non-terminal state
func (s *Store) CountActiveJobs(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM extract_jobs WHERE status IN (?, ?, ?, ?)",
		string(types.StatusQueued),
		string(types.StatusDownloading),
		string(types.StatusExtracting),
		string(types.StatusUploading),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active jobs: %w", err)
	}

	return count, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}
	return nil
}

// Helper functions

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*JobRecord, error) {
	record, err := scanJobRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return record, nil
}

func scanJobRow(row rowScanner) (*JobRecord, error) {
	record := &JobRecord{}
	var mode, status string
	var createdAtUnix, updatedAtUnix int64
	var startedAtUnix, completedAtUnix *int64

	if err := row.Scan(
		&record.DocumentID,
		&mode,
		&status,
		&record.ProgressPercent,
		&record.PageCount,
		&record.TextLength,
		&record.ErrorMessage,
		&record.RetryCount,
		&record.JobToken,
		&record.SourceReference,
		&record.ResultLocation,
		&createdAtUnix,
		&updatedAtUnix,
		&startedAtUnix,
		&completedAtUnix,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}

	record.Mode = types.Mode(mode)
	record.Status = types.JobStatus(status)
	record.CreatedAt = time.Unix(createdAtUnix, 0)
	record.UpdatedAt = time.Unix(updatedAtUnix, 0)
	if startedAtUnix != nil {
		t := time.Unix(*startedAtUnix, 0)
		record.StartedAt = &t
	}
	if completedAtUnix != nil {
		t := time.Unix(*completedAtUnix, 0)
		record.CompletedAt = &t
	}

	return record, nil
}
