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

// ReelStatJobStorage implements SQLite storage for reel-stat jobs
type ReelStatJobStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
}

// NewReelStatJobStorage creates a new reel-stat job storage instance
func NewReelStatJobStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.ReelStatJobStorage {
	return &ReelStatJobStorage{
		db:     db,
		logger: logger,
	}
}

const reelStatJobColumns = `id, reel_url, priority, status, play_count, result_payload, created_at, started_at, completed_at, error`

// SaveJob creates or updates a reel-stat job
func (s *ReelStatJobStorage) SaveJob(ctx context.Context, job *models.ReelStatJob) error {
	query := `
		INSERT INTO reel_stat_jobs (` + reelStatJobColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			play_count = excluded.play_count,
			result_payload = excluded.result_payload,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			error = excluded.error
	`

	_, err := s.db.db.ExecContext(ctx, query,
		job.ID,
		job.ReelURL,
		job.Priority,
		string(job.Status),
		job.PlayCount,
		nullableString(string(job.ResultPayload)),
		job.CreatedAt.Unix(),
		nullableUnix(job.StartedAt),
		nullableUnix(job.CompletedAt),
		job.Error,
	)
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to save reel-stat job")
		return fmt.Errorf("failed to save reel-stat job: %w", err)
	}

	return nil
}

// GetJob retrieves a reel-stat job by ID
func (s *ReelStatJobStorage) GetJob(ctx context.Context, jobID string) (*models.ReelStatJob, error) {
	row := s.db.db.QueryRowContext(ctx,
		`SELECT `+reelStatJobColumns+` FROM reel_stat_jobs WHERE id = ?`, jobID)
	return scanReelStatJob(row)
}

// ClaimPending claims up to limit pending jobs in (priority desc, created_at
// asc) order, flipping them to processing in one transaction.
func (s *ReelStatJobStorage) ClaimPending(ctx context.Context, limit int) ([]*models.ReelStatJob, error) {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT `+reelStatJobColumns+`
		FROM reel_stat_jobs
		WHERE status = ?
		ORDER BY priority DESC, created_at ASC
		LIMIT ?
	`, string(models.JobStatusPending), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select pending reel-stat jobs: %w", err)
	}

	var jobs []*models.ReelStatJob
	for rows.Next() {
		job, err := scanReelStatJob(rows)
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
			UPDATE reel_stat_jobs
			SET status = ?, started_at = ?
			WHERE id = ? AND status = ?
		`, string(models.JobStatusProcessing), now.Unix(), job.ID, string(models.JobStatusPending))
		if err != nil {
			return nil, fmt.Errorf("failed to claim reel-stat job %s: %w", job.ID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, fmt.Errorf("claim conflict on reel-stat job %s", job.ID)
		}
		job.Status = models.JobStatusProcessing
		job.StartedAt = &now
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}

	return jobs, nil
}

// CompleteJob marks a processing job completed with its play count. Returns
// false when the row was externally moved to a terminal state.
func (s *ReelStatJobStorage) CompleteJob(ctx context.Context, jobID string, playCount int64, payload json.RawMessage) (bool, error) {
	res, err := s.db.db.ExecContext(ctx, `
		UPDATE reel_stat_jobs
		SET status = ?, play_count = ?, result_payload = ?, completed_at = ?, error = ''
		WHERE id = ? AND status = ?
	`, string(models.JobStatusCompleted), playCount, nullableString(string(payload)),
		time.Now().Unix(), jobID, string(models.JobStatusProcessing))
	if err != nil {
		return false, fmt.Errorf("failed to complete reel-stat job %s: %w", jobID, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// FailJob marks a processing job failed. Returns false when the row was
// externally moved to a terminal state.
func (s *ReelStatJobStorage) FailJob(ctx context.Context, jobID string, errorMsg string) (bool, error) {
	res, err := s.db.db.ExecContext(ctx, `
		UPDATE reel_stat_jobs
		SET status = ?, error = ?, completed_at = ?
		WHERE id = ? AND status = ?
	`, string(models.JobStatusFailed), errorMsg, time.Now().Unix(),
		jobID, string(models.JobStatusProcessing))
	if err != nil {
		return false, fmt.Errorf("failed to fail reel-stat job %s: %w", jobID, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// SweepOrphans returns stale processing jobs to pending
func (s *ReelStatJobStorage) SweepOrphans(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan).Unix()

	res, err := s.db.db.ExecContext(ctx, `
		UPDATE reel_stat_jobs
		SET status = ?, started_at = NULL
		WHERE status = ? AND started_at IS NOT NULL AND started_at < ?
	`, string(models.JobStatusPending), string(models.JobStatusProcessing), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep orphaned reel-stat jobs: %w", err)
	}

	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Warn().Int64("count", n).Msg("Recovered orphaned reel-stat jobs back to pending")
	}
	return int(n), nil
}

// CancelActive flips pending and processing jobs to cancelled
func (s *ReelStatJobStorage) CancelActive(ctx context.Context, reason string) (int, error) {
	res, err := s.db.db.ExecContext(ctx, `
		UPDATE reel_stat_jobs
		SET status = ?, error = ?, completed_at = ?
		WHERE status IN (?, ?)
	`, string(models.JobStatusCancelled), reason, time.Now().Unix(),
		string(models.JobStatusPending), string(models.JobStatusProcessing))
	if err != nil {
		return 0, fmt.Errorf("failed to cancel active reel-stat jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ResetFailed returns failed jobs to pending with cleared lifecycle fields
func (s *ReelStatJobStorage) ResetFailed(ctx context.Context) (int, error) {
	res, err := s.db.db.ExecContext(ctx, `
		UPDATE reel_stat_jobs
		SET status = ?, started_at = NULL, completed_at = NULL, error = ''
		WHERE status = ?
	`, string(models.JobStatusPending), string(models.JobStatusFailed))
	if err != nil {
		return 0, fmt.Errorf("failed to reset failed reel-stat jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// DeleteTerminalBefore removes terminal jobs completed before the cutoff
func (s *ReelStatJobStorage) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.db.ExecContext(ctx, `
		DELETE FROM reel_stat_jobs
		WHERE status IN (?, ?, ?) AND completed_at IS NOT NULL AND completed_at < ?
	`, string(models.JobStatusCompleted), string(models.JobStatusFailed),
		string(models.JobStatusCancelled), cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete terminal reel-stat jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func scanReelStatJob(row scanner) (*models.ReelStatJob, error) {
	var (
		job           models.ReelStatJob
		status        string
		resultPayload sql.NullString
		createdAt     int64
		startedAt     sql.NullInt64
		completedAt   sql.NullInt64
	)

	err := row.Scan(
		&job.ID, &job.ReelURL, &job.Priority, &status, &job.PlayCount,
		&resultPayload, &createdAt, &startedAt, &completedAt, &job.Error,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("reel-stat job not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan reel-stat job: %w", err)
	}

	job.Status = models.JobStatus(status)
	job.CreatedAt = unixToTime(createdAt)
	job.StartedAt = optionalTime(startedAt)
	job.CompletedAt = optionalTime(completedAt)
	if resultPayload.Valid {
		job.ResultPayload = json.RawMessage(resultPayload.String)
	}

	return &job, nil
}
