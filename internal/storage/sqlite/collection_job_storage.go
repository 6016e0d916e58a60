package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// unixToTime converts a Unix timestamp to time.Time
func unixToTime(unix int64) time.Time {
	return time.Unix(unix, 0)
}

// nullableUnix converts an optional time to a nullable Unix column value
func nullableUnix(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Valid: true, Int64: t.Unix()}
}

// optionalTime converts a nullable Unix column value back to *time.Time
func optionalTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0)
	return &t
}

// splitAndTrim splits a string by delimiter and trims whitespace
func splitAndTrim(s string, delimiter string) []string {
	parts := strings.Split(s, delimiter)
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// statusFilter builds a "status = ?" or "status IN (...)" clause from a
// single or comma-separated status value.
func statusFilter(raw string, args *[]interface{}) string {
	statuses := splitAndTrim(raw, ",")
	if len(statuses) == 0 {
		return ""
	}
	if len(statuses) == 1 {
		*args = append(*args, statuses[0])
		return " AND status = ?"
	}
	placeholders := make([]string, len(statuses))
	for i, s := range statuses {
		placeholders[i] = "?"
		*args = append(*args, s)
	}
	return fmt.Sprintf(" AND status IN (%s)", strings.Join(placeholders, ", "))
}

// CollectionJobStorage implements SQLite storage for collection jobs
type CollectionJobStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
}

// NewCollectionJobStorage creates a new collection job storage instance
func NewCollectionJobStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.CollectionJobStorage {
	return &CollectionJobStorage{
		db:     db,
		logger: logger,
	}
}

const collectionJobColumns = `id, username, priority, status, include_profile, include_posts, include_reels,
	subtasks_json, metadata_json, result_payload, result_count, created_at, started_at, completed_at, error`

// SaveJob creates or updates a job
func (s *CollectionJobStorage) SaveJob(ctx context.Context, job *models.CollectionJob) error {
	subtasksJSON, err := json.Marshal(job.Subtasks)
	if err != nil {
		return fmt.Errorf("failed to serialize subtasks: %w", err)
	}

	metadataJSON, err := json.Marshal(job.Metadata)
	if err != nil {
		return fmt.Errorf("failed to serialize metadata: %w", err)
	}

	query := `
		INSERT INTO collection_jobs (` + collectionJobColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			subtasks_json = excluded.subtasks_json,
			result_payload = excluded.result_payload,
			result_count = excluded.result_count,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			error = excluded.error
	`

	_, err = s.db.db.ExecContext(ctx, query,
		job.ID,
		job.Username,
		job.Priority,
		string(job.Status),
		boolToInt(job.IncludeProfile),
		boolToInt(job.IncludePosts),
		boolToInt(job.IncludeReels),
		string(subtasksJSON),
		string(metadataJSON),
		nullableString(string(job.ResultPayload)),
		job.ResultCount,
		job.CreatedAt.Unix(),
		nullableUnix(job.StartedAt),
		nullableUnix(job.CompletedAt),
		job.Error,
	)
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to save collection job")
		return fmt.Errorf("failed to save collection job: %w", err)
	}

	return nil
}

// GetJob retrieves a job by ID
func (s *CollectionJobStorage) GetJob(ctx context.Context, jobID string) (*models.CollectionJob, error) {
	row := s.db.db.QueryRowContext(ctx,
		`SELECT `+collectionJobColumns+` FROM collection_jobs WHERE id = ?`, jobID)
	return scanCollectionJob(row)
}

// ListJobs lists jobs with status filter and pagination, newest first
func (s *CollectionJobStorage) ListJobs(ctx context.Context, opts *interfaces.ListOptions) ([]*models.CollectionJob, error) {
	query := `SELECT ` + collectionJobColumns + ` FROM collection_jobs WHERE 1=1`
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
		return nil, fmt.Errorf("failed to list collection jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.CollectionJob
	for rows.Next() {
		job, err := scanCollectionJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ClaimPending selects up to limit pending jobs ordered by (priority desc,
// created_at asc) and flips them to processing with started_at set, in a
// single transaction. A job is owned by the caller the moment this commits.
func (s *CollectionJobStorage) ClaimPending(ctx context.Context, limit int) ([]*models.CollectionJob, error) {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT `+collectionJobColumns+`
		FROM collection_jobs
		WHERE status = ?
		ORDER BY priority DESC, created_at ASC
		LIMIT ?
	`, string(models.JobStatusPending), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select pending jobs: %w", err)
	}

	var jobs []*models.CollectionJob
	for rows.Next() {
		job, err := scanCollectionJob(rows)
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
		// Guard on status so a concurrent claimer cannot double-take a row
		res, err := tx.ExecContext(ctx, `
			UPDATE collection_jobs
			SET status = ?, started_at = ?
			WHERE id = ? AND status = ?
		`, string(models.JobStatusProcessing), now.Unix(), job.ID, string(models.JobStatusPending))
		if err != nil {
			return nil, fmt.Errorf("failed to claim job %s: %w", job.ID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, fmt.Errorf("claim conflict on job %s", job.ID)
		}
		job.MarkStarted()
		job.StartedAt = &now
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}

	return jobs, nil
}

// CompleteJob marks a processing job completed. Returns false when the row
// is no longer processing (externally cancelled or failed) - the caller must
// not overwrite that terminal status.
func (s *CollectionJobStorage) CompleteJob(ctx context.Context, jobID string, payload json.RawMessage, resultCount int) (bool, error) {
	res, err := s.db.db.ExecContext(ctx, `
		UPDATE collection_jobs
		SET status = ?, result_payload = ?, result_count = ?, completed_at = ?, error = ''
		WHERE id = ? AND status = ?
	`, string(models.JobStatusCompleted), nullableString(string(payload)), resultCount,
		time.Now().Unix(), jobID, string(models.JobStatusProcessing))
	if err != nil {
		return false, fmt.Errorf("failed to complete job %s: %w", jobID, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// FailJob marks a processing job failed with an error message. Returns false
// when the row was already moved to a terminal state externally.
func (s *CollectionJobStorage) FailJob(ctx context.Context, jobID string, errorMsg string) (bool, error) {
	res, err := s.db.db.ExecContext(ctx, `
		UPDATE collection_jobs
		SET status = ?, error = ?, completed_at = ?
		WHERE id = ? AND status = ?
	`, string(models.JobStatusFailed), errorMsg, time.Now().Unix(),
		jobID, string(models.JobStatusProcessing))
	if err != nil {
		return false, fmt.Errorf("failed to fail job %s: %w", jobID, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// UpdateSubtasks persists the subtask status map for a job
func (s *CollectionJobStorage) UpdateSubtasks(ctx context.Context, jobID string, subtasks map[string]models.SubtaskStatus) error {
	subtasksJSON, err := json.Marshal(subtasks)
	if err != nil {
		return fmt.Errorf("failed to serialize subtasks: %w", err)
	}

	_, err = s.db.db.ExecContext(ctx, `
		UPDATE collection_jobs SET subtasks_json = ? WHERE id = ?
	`, string(subtasksJSON), jobID)
	if err != nil {
		return fmt.Errorf("failed to update subtasks for job %s: %w", jobID, err)
	}
	return nil
}

// SweepOrphans returns processing jobs whose claim is older than the
// threshold back to pending, resetting subtask statuses. These are jobs
// abandoned by a crashed worker.
func (s *CollectionJobStorage) SweepOrphans(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan).Unix()

	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin sweep transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT `+collectionJobColumns+`
		FROM collection_jobs
		WHERE status = ? AND started_at IS NOT NULL AND started_at < ?
	`, string(models.JobStatusProcessing), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to select orphaned jobs: %w", err)
	}

	var orphans []*models.CollectionJob
	for rows.Next() {
		job, err := scanCollectionJob(rows)
		if err != nil {
			rows.Close()
			return 0, err
		}
		orphans = append(orphans, job)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	for _, job := range orphans {
		job.ResetSubtasks()
		subtasksJSON, err := json.Marshal(job.Subtasks)
		if err != nil {
			return 0, fmt.Errorf("failed to serialize subtasks: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE collection_jobs
			SET status = ?, started_at = NULL, subtasks_json = ?
			WHERE id = ?
		`, string(models.JobStatusPending), string(subtasksJSON), job.ID)
		if err != nil {
			return 0, fmt.Errorf("failed to reset orphaned job %s: %w", job.ID, err)
		}

		s.logger.Warn().
			Str("job_id", job.ID).
			Str("username", job.Username).
			Msg("Recovered orphaned collection job back to pending")
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit sweep: %w", err)
	}

	return len(orphans), nil
}

// CancelActive flips pending and processing jobs to cancelled
func (s *CollectionJobStorage) CancelActive(ctx context.Context, reason string) (int, error) {
	res, err := s.db.db.ExecContext(ctx, `
		UPDATE collection_jobs
		SET status = ?, error = ?, completed_at = ?
		WHERE status IN (?, ?)
	`, string(models.JobStatusCancelled), reason, time.Now().Unix(),
		string(models.JobStatusPending), string(models.JobStatusProcessing))
	if err != nil {
		return 0, fmt.Errorf("failed to cancel active jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ResetFailed returns failed jobs to pending, clearing timestamps and errors
// so the retried run starts with a clean lifecycle.
func (s *CollectionJobStorage) ResetFailed(ctx context.Context) (int, error) {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin retry transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT `+collectionJobColumns+` FROM collection_jobs WHERE status = ?
	`, string(models.JobStatusFailed))
	if err != nil {
		return 0, fmt.Errorf("failed to select failed jobs: %w", err)
	}

	var failed []*models.CollectionJob
	for rows.Next() {
		job, err := scanCollectionJob(rows)
		if err != nil {
			rows.Close()
			return 0, err
		}
		failed = append(failed, job)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	for _, job := range failed {
		job.ResetSubtasks()
		subtasksJSON, err := json.Marshal(job.Subtasks)
		if err != nil {
			return 0, fmt.Errorf("failed to serialize subtasks: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE collection_jobs
			SET status = ?, started_at = NULL, completed_at = NULL, error = '', subtasks_json = ?
			WHERE id = ?
		`, string(models.JobStatusPending), string(subtasksJSON), job.ID)
		if err != nil {
			return 0, fmt.Errorf("failed to reset failed job %s: %w", job.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit retry: %w", err)
	}

	return len(failed), nil
}

// HasCompletedOnDay reports whether a completed job for the username
// finished within the calendar day containing ref, in ref's location.
func (s *CollectionJobStorage) HasCompletedOnDay(ctx context.Context, username string, ref time.Time) (bool, error) {
	dayStart := time.Date(ref.Year(), ref.Month(), ref.Day(), 0, 0, 0, 0, ref.Location())
	dayEnd := dayStart.AddDate(0, 0, 1)

	var count int
	err := s.db.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM collection_jobs
		WHERE username = ? AND status = ? AND completed_at >= ? AND completed_at < ?
	`, username, string(models.JobStatusCompleted), dayStart.Unix(), dayEnd.Unix()).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check same-day completion: %w", err)
	}

	return count > 0, nil
}

// DeleteTerminalBefore removes terminal jobs completed before the cutoff
func (s *CollectionJobStorage) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.db.ExecContext(ctx, `
		DELETE FROM collection_jobs
		WHERE status IN (?, ?, ?) AND completed_at IS NOT NULL AND completed_at < ?
	`, string(models.JobStatusCompleted), string(models.JobStatusFailed),
		string(models.JobStatusCancelled), cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete terminal jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// scanner abstracts *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanCollectionJob(row scanner) (*models.CollectionJob, error) {
	var (
		job           models.CollectionJob
		status        string
		includeP      int
		includePo     int
		includeR      int
		subtasksJSON  string
		metadataJSON  sql.NullString
		resultPayload sql.NullString
		createdAt     int64
		startedAt     sql.NullInt64
		completedAt   sql.NullInt64
	)

	err := row.Scan(
		&job.ID, &job.Username, &job.Priority, &status, &includeP, &includePo, &includeR,
		&subtasksJSON, &metadataJSON, &resultPayload, &job.ResultCount,
		&createdAt, &startedAt, &completedAt, &job.Error,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("collection job not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan collection job: %w", err)
	}

	job.Status = models.JobStatus(status)
	job.IncludeProfile = includeP != 0
	job.IncludePosts = includePo != 0
	job.IncludeReels = includeR != 0
	job.CreatedAt = unixToTime(createdAt)
	job.StartedAt = optionalTime(startedAt)
	job.CompletedAt = optionalTime(completedAt)

	job.Subtasks = make(map[string]models.SubtaskStatus)
	if subtasksJSON != "" {
		if err := json.Unmarshal([]byte(subtasksJSON), &job.Subtasks); err != nil {
			return nil, fmt.Errorf("failed to parse subtasks for job %s: %w", job.ID, err)
		}
	}

	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &job.Metadata); err != nil {
			return nil, fmt.Errorf("failed to parse metadata for job %s: %w", job.ID, err)
		}
	}

	if resultPayload.Valid {
		job.ResultPayload = json.RawMessage(resultPayload.String)
	}

	return &job, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{Valid: true, String: s}
}
