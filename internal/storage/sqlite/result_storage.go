package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// ResultStorage implements SQLite storage for per-item classification results
type ResultStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
}

// NewResultStorage creates a new result storage instance
func NewResultStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.ResultStorage {
	return &ResultStorage{
		db:     db,
		logger: logger,
	}
}

// UpsertResult inserts or overwrites the result for (item, dimension, job).
// Re-processing an item under the same job never produces a duplicate row.
func (s *ResultStorage) UpsertResult(ctx context.Context, result *models.ClassificationResult) error {
	var confidence sql.NullFloat64
	if result.Confidence != nil {
		confidence = sql.NullFloat64{Valid: true, Float64: *result.Confidence}
	}

	query := `
		INSERT INTO classification_results (
			subject_id, item_id, dimension, label, confidence, reasoning,
			raw_response, error, processed_at, job_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(item_id, dimension, job_id) DO UPDATE SET
			subject_id = excluded.subject_id,
			label = excluded.label,
			confidence = excluded.confidence,
			reasoning = excluded.reasoning,
			raw_response = excluded.raw_response,
			error = excluded.error,
			processed_at = excluded.processed_at
	`

	_, err := s.db.db.ExecContext(ctx, query,
		result.SubjectID,
		result.ItemID,
		result.Dimension,
		result.Label,
		confidence,
		result.Reasoning,
		result.RawResponse,
		result.Error,
		result.ProcessedAt.Unix(),
		result.JobID,
	)
	if err != nil {
		s.logger.Error().Err(err).
			Str("item_id", result.ItemID).
			Str("dimension", result.Dimension).
			Msg("Failed to upsert classification result")
		return fmt.Errorf("failed to upsert classification result: %w", err)
	}

	return nil
}

// ListBySubject returns results for a subject and dimension scoped to one
// job. An empty jobID selects ad-hoc rows (job_id = '').
func (s *ResultStorage) ListBySubject(ctx context.Context, subjectID, dimension, jobID string) ([]*models.ClassificationResult, error) {
	rows, err := s.db.db.QueryContext(ctx, `
		SELECT id, subject_id, item_id, dimension, label, confidence, reasoning,
		       raw_response, error, processed_at, job_id
		FROM classification_results
		WHERE subject_id = ? AND dimension = ? AND job_id = ?
		ORDER BY processed_at ASC, id ASC
	`, subjectID, dimension, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list classification results: %w", err)
	}
	defer rows.Close()

	var results []*models.ClassificationResult
	for rows.Next() {
		var (
			r           models.ClassificationResult
			confidence  sql.NullFloat64
			processedAt int64
		)
		err := rows.Scan(&r.ID, &r.SubjectID, &r.ItemID, &r.Dimension, &r.Label,
			&confidence, &r.Reasoning, &r.RawResponse, &r.Error, &processedAt, &r.JobID)
		if err != nil {
			return nil, fmt.Errorf("failed to scan classification result: %w", err)
		}
		if confidence.Valid {
			v := confidence.Float64
			r.Confidence = &v
		}
		r.ProcessedAt = unixToTime(processedAt)
		results = append(results, &r)
	}

	return results, rows.Err()
}

// CountByItem returns the number of rows for an (item, dimension, job)
// triple. The unique constraint means this is always 0 or 1.
func (s *ResultStorage) CountByItem(ctx context.Context, itemID, dimension, jobID string) (int, error) {
	var count int
	err := s.db.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM classification_results
		WHERE item_id = ? AND dimension = ? AND job_id = ?
	`, itemID, dimension, jobID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count classification results: %w", err)
	}
	return count, nil
}

// LatestJobID returns the job id of the most recently processed job-produced
// result for a subject and dimension. Empty string means only ad-hoc rows
// (or none at all) exist.
func (s *ResultStorage) LatestJobID(ctx context.Context, subjectID, dimension string) (string, error) {
	var jobID string
	err := s.db.db.QueryRowContext(ctx, `
		SELECT job_id FROM classification_results
		WHERE subject_id = ? AND dimension = ? AND job_id != ''
		ORDER BY processed_at DESC, id DESC
		LIMIT 1
	`, subjectID, dimension).Scan(&jobID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up latest result job: %w", err)
	}
	return jobID, nil
}
