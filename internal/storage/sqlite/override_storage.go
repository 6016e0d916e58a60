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

// OverrideStorage implements SQLite storage for manual summary overrides
type OverrideStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
}

// NewOverrideStorage creates a new override storage instance
func NewOverrideStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.OverrideStorage {
	return &OverrideStorage{
		db:     db,
		logger: logger,
	}
}

// SetOverride installs or replaces the manual override for the summary's
// (subject, dimension) pair.
func (s *OverrideStorage) SetOverride(ctx context.Context, summary *models.AggregatedSummary) error {
	summary.IsManualOverride = true
	summary.Method = models.SummaryMethodOverride

	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to serialize override: %w", err)
	}

	_, err = s.db.db.ExecContext(ctx, `
		INSERT INTO summary_overrides (subject_id, dimension, summary_json, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(subject_id, dimension) DO UPDATE SET
			summary_json = excluded.summary_json,
			updated_at = excluded.updated_at
	`, summary.SubjectID, summary.Dimension, string(data), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to set summary override: %w", err)
	}

	s.logger.Info().
		Str("subject_id", summary.SubjectID).
		Str("dimension", summary.Dimension).
		Msg("Manual summary override installed")
	return nil
}

// GetOverride returns the override for a (subject, dimension) pair, or nil
// when none is installed.
func (s *OverrideStorage) GetOverride(ctx context.Context, subjectID, dimension string) (*models.AggregatedSummary, error) {
	var data string
	err := s.db.db.QueryRowContext(ctx, `
		SELECT summary_json FROM summary_overrides
		WHERE subject_id = ? AND dimension = ?
	`, subjectID, dimension).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get summary override: %w", err)
	}

	var summary models.AggregatedSummary
	if err := json.Unmarshal([]byte(data), &summary); err != nil {
		return nil, fmt.Errorf("failed to parse summary override: %w", err)
	}
	return &summary, nil
}

// ClearOverride removes the override for a (subject, dimension) pair,
// re-enabling automatic recomputation.
func (s *OverrideStorage) ClearOverride(ctx context.Context, subjectID, dimension string) error {
	_, err := s.db.db.ExecContext(ctx, `
		DELETE FROM summary_overrides WHERE subject_id = ? AND dimension = ?
	`, subjectID, dimension)
	if err != nil {
		return fmt.Errorf("failed to clear summary override: %w", err)
	}
	return nil
}
