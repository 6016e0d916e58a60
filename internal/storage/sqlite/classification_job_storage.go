package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// ClassificationJobStorage implements SQLite storage for classification jobs
type ClassificationJobStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
}

// NewClassificationJobStorage creates a new classification job storage instance
func NewClassificationJobStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.ClassificationJobStorage {
	return &ClassificationJobStorage{
		db:     db,
		logger: logger,
	}
}

const classificationJobColumns = `id, subject_id, dimensions_json, metadata_json, priority, status,
	result_count, failed_count, created_at, started_at, completed_at, error`

// SaveJob creates or updates a classification job
func (s *ClassificationJobStorage) SaveJob(ctx context.Context, job *models.ClassificationJob) error {
	dimensionsJSON, err := json.Marshal(job.Dimensions)
	if err != nil {
		return fmt.Errorf("failed to serialize dimensions: %w", err)
	}

	metadataJSON, err := json.Marshal(job.Metadata)
	if err != nil {
		return fmt.Errorf("failed to serialize metadata: %w", err)
	}

	query := `
		INSERT INTO classification_jobs (` + classificationJobColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			result_count = excluded.result_count,
			failed_count = excluded.failed_count,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			error = excluded.error
	`

	_, err = s.db.db.ExecContext(ctx, query,
		job.ID,
		job.SubjectID,
		string(dimensionsJSON),
		string(metadataJSON),
		job.Priority,
		string(job.Status),
		job.ResultCount,
		job.FailedCount,
		job.CreatedAt.Unix(),
		nullableUnix(job.StartedAt),
		nullableUnix(job.CompletedAt),
		job.Error,
	)
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to save classification job")
		return fmt.Errorf("failed to save classification job: %w", err)
	}

	return nil
}

// GetJob retrieves a classification job by ID
func (s *ClassificationJobStorage) GetJob(ctx context.Context, jobID string) (*models.ClassificationJob, error) {
	row := s.db.db.QueryRowContext(ctx,
		`SELECT `+classificationJobColumns+` FROM classification_jobs WHERE id = ?`, jobID)
	return scanClassificationJob(row)
}

// ListJobs lists classification jobs with status filter and pagination
func (s *ClassificationJobStorage) ListJobs(ctx context.Context, opts *interfaces.ListOptions) ([]*models.ClassificationJob, error) {
	query := `SELECT ` + classificationJobColumns + ` FROM classification_jobs WHERE 1=1`
	args := []interface{}{}

	if opts != nil && opts.Status != "" {
		query += statusFilter(opts.Status, &args)
	}

	query += " ORDER BY created_at DESC"

	limit := 50
	offset := 0
	if opts != nil {
		if opts.Limit > 0 {
			limit = opts.Limit
		}
		if opts.Offset > 0 {
			offset = opts.Offset
		}
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list classification jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.ClassificationJob
	for rows.Next() {
		job, err := scanClassificationJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ClaimPending claims up to limit pending jobs in (priority desc, created_at
// asc) order, flipping them to processing in one transaction.
func (s *ClassificationJobStorage) ClaimPending(ctx context.Context, limit int) ([]*models.ClassificationJob, error) {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT `+classificationJobColumns+`
		FROM classification_jobs
		WHERE status = ?
		ORDER BY priority DESC, created_at ASC
		LIMIT ?
	`, string(models.JobStatusPending), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select pending classification jobs: %w", err)
	}

	var jobs []*models.ClassificationJob
	for rows.Next() {
		job, err := scanClassificationJob(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	now := time.Now()
	for _, job := range jobs {
		res, err := tx.ExecContext(ctx, `
			UPDATE classification_jobs
			SET status = ?, started_at = ?
			WHERE id = ? AND status = ?
		`, string(models.JobStatusProcessing), now.Unix(), job.ID, string(models.JobStatusPending))
		if err != nil {
			return nil, fmt.Errorf("failed to claim classification job %s: %w", job.ID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, fmt.Errorf("claim conflict on classification job %s", job.ID)
		}
		job.Status = models.JobStatusProcessing
		job.StartedAt = &now
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}

	return jobs, nil
}

// CompleteJob marks a processing job completed with its result tallies.
// Returns false when the row was externally moved to a terminal state.
func (s *ClassificationJobStorage) CompleteJob(ctx context.Context, jobID string, resultCount, failedCount int) (bool, error) {
	res, err := s.db.db.ExecContext(ctx, `
		UPDATE classification_jobs
		SET status = ?, result_count = ?, failed_count = ?, completed_at = ?, error = ''
		WHERE id = ? AND status = ?
	`, string(models.JobStatusCompleted), resultCount, failedCount,
		time.Now().Unix(), jobID, string(models.JobStatusProcessing))
	if err != nil {
		return false, fmt.Errorf("failed to complete classification job %s: %w", jobID, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// FailJob marks a processing job failed. Returns false when the row was
// externally moved to a terminal state.
func (s *ClassificationJobStorage) FailJob(ctx context.Context, jobID string, errorMsg string) (bool, error) {
	res, err := s.db.db.ExecContext(ctx, `
		UPDATE classification_jobs
		SET status = ?, error = ?, completed_at = ?
		WHERE id = ? AND status = ?
	`, string(models.JobStatusFailed), errorMsg, time.Now().Unix(),
		jobID, string(models.JobStatusProcessing))
	if err != nil {
		return false, fmt.Errorf("failed to fail classification job %s: %w", jobID, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// SweepOrphans returns stale processing jobs to pending
func (s *ClassificationJobStorage) SweepOrphans(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan).Unix()

	res, err := s.db.db.ExecContext(ctx, `
		UPDATE classification_jobs
		SET status = ?, started_at = NULL
		WHERE status = ? AND started_at IS NOT NULL AND started_at < ?
	`, string(models.JobStatusPending), string(models.JobStatusProcessing), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep orphaned classification jobs: %w", err)
	}

	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Warn().Int64("count", n).Msg("Recovered orphaned classification jobs back to pending")
	}
	return int(n), nil
}

// CancelActive flips pending and processing jobs to cancelled
func (s *ClassificationJobStorage) CancelActive(ctx context.Context, reason string) (int, error) {
	res, err := s.db.db.ExecContext(ctx, `
		UPDATE classification_jobs
		SET status = ?, error = ?, completed_at = ?
		WHERE status IN (?, ?)
	`, string(models.JobStatusCancelled), reason, time.Now().Unix(),
		string(models.JobStatusPending), string(models.JobStatusProcessing))
	if err != nil {
		return 0, fmt.Errorf("failed to cancel active classification jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// CancelBySubject flips pending and processing jobs for one subject to cancelled
func (s *ClassificationJobStorage) CancelBySubject(ctx context.Context, subjectID, reason string) (int, error) {
	res, err := s.db.db.ExecContext(ctx, `
		UPDATE classification_jobs
		SET status = ?, error = ?, completed_at = ?
		WHERE subject_id = ? AND status IN (?, ?)
	`, string(models.JobStatusCancelled), reason, time.Now().Unix(), subjectID,
		string(models.JobStatusPending), string(models.JobStatusProcessing))
	if err != nil {
		return 0, fmt.Errorf("failed to cancel classification jobs for subject %s: %w", subjectID, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ResetFailed returns failed jobs to pending with cleared lifecycle fields
func (s *ClassificationJobStorage) ResetFailed(ctx context.Context) (int, error) {
	res, err := s.db.db.ExecContext(ctx, `
		UPDATE classification_jobs
		SET status = ?, started_at = NULL, completed_at = NULL, error = '', result_count = 0, failed_count = 0
		WHERE status = ?
	`, string(models.JobStatusPending), string(models.JobStatusFailed))
	if err != nil {
		return 0, fmt.Errorf("failed to reset failed classification jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// DeleteTerminalBefore removes terminal jobs completed before the cutoff
func (s *ClassificationJobStorage) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.db.ExecContext(ctx, `
		DELETE FROM classification_jobs
		WHERE status IN (?, ?, ?) AND completed_at IS NOT NULL AND completed_at < ?
	`, string(models.JobStatusCompleted), string(models.JobStatusFailed),
		string(models.JobStatusCancelled), cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete terminal classification jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func scanClassificationJob(row scanner) (*models.ClassificationJob, error) {
	var (
		job            models.ClassificationJob
		status         string
		dimensionsJSON string
		metadataJSON   sql.NullString
		createdAt      int64
		startedAt      sql.NullInt64
		completedAt    sql.NullInt64
	)

	err := row.Scan(
		&job.ID, &job.SubjectID, &dimensionsJSON, &metadataJSON, &job.Priority, &status,
		&job.ResultCount, &job.FailedCount, &createdAt, &startedAt, &completedAt, &job.Error,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("classification job not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan classification job: %w", err)
	}

	job.Status = models.JobStatus(status)
	job.CreatedAt = unixToTime(createdAt)
	job.StartedAt = optionalTime(startedAt)
	job.CompletedAt = optionalTime(completedAt)

	if err := json.Unmarshal([]byte(dimensionsJSON), &job.Dimensions); err != nil {
		return nil, fmt.Errorf("failed to parse dimensions for job %s: %w", job.ID, err)
	}
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &job.Metadata); err != nil {
			return nil, fmt.Errorf("failed to parse metadata for job %s: %w", job.ID, err)
		}
	}

	return &job, nil
}
