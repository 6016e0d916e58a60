package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// ScheduleStorage implements SQLite storage for recurring collection schedules
type ScheduleStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
}

// NewScheduleStorage creates a new schedule storage instance
func NewScheduleStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.ScheduleStorage {
	return &ScheduleStorage{
		db:     db,
		logger: logger,
	}
}

const scheduleColumns = `id, username, target_url, hour, start_date, end_date, active,
	include_profile, include_posts, include_reels, priority, created_at`

// SaveSchedule creates or updates a schedule
func (s *ScheduleStorage) SaveSchedule(ctx context.Context, schedule *models.CollectionSchedule) error {
	query := `
		INSERT INTO collection_schedules (` + scheduleColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			username = excluded.username,
			target_url = excluded.target_url,
			hour = excluded.hour,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			active = excluded.active,
			include_profile = excluded.include_profile,
			include_posts = excluded.include_posts,
			include_reels = excluded.include_reels,
			priority = excluded.priority
	`

	_, err := s.db.db.ExecContext(ctx, query,
		schedule.ID,
		schedule.Username,
		schedule.TargetURL,
		schedule.Hour,
		schedule.StartDate.Unix(),
		schedule.EndDate.Unix(),
		boolToInt(schedule.Active),
		boolToInt(schedule.IncludeProfile),
		boolToInt(schedule.IncludePosts),
		boolToInt(schedule.IncludeReels),
		schedule.Priority,
		schedule.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save schedule: %w", err)
	}
	return nil
}

// GetSchedule retrieves a schedule by ID
func (s *ScheduleStorage) GetSchedule(ctx context.Context, scheduleID string) (*models.CollectionSchedule, error) {
	row := s.db.db.QueryRowContext(ctx,
		`SELECT `+scheduleColumns+` FROM collection_schedules WHERE id = ?`, scheduleID)
	return scanSchedule(row)
}

// ListActive returns all active schedules
func (s *ScheduleStorage) ListActive(ctx context.Context) ([]*models.CollectionSchedule, error) {
	rows, err := s.db.db.QueryContext(ctx,
		`SELECT `+scheduleColumns+` FROM collection_schedules WHERE active = 1 ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active schedules: %w", err)
	}
	defer rows.Close()

	var schedules []*models.CollectionSchedule
	for rows.Next() {
		schedule, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, schedule)
	}
	return schedules, rows.Err()
}

// DeleteSchedule removes a schedule
func (s *ScheduleStorage) DeleteSchedule(ctx context.Context, scheduleID string) error {
	_, err := s.db.db.ExecContext(ctx, `DELETE FROM collection_schedules WHERE id = ?`, scheduleID)
	if err != nil {
		return fmt.Errorf("failed to delete schedule: %w", err)
	}
	return nil
}

func scanSchedule(row scanner) (*models.CollectionSchedule, error) {
	var (
		schedule  models.CollectionSchedule
		startDate int64
		endDate   int64
		active    int
		includeP  int
		includePo int
		includeR  int
		createdAt int64
	)

	err := row.Scan(
		&schedule.ID, &schedule.Username, &schedule.TargetURL, &schedule.Hour,
		&startDate, &endDate, &active, &includeP, &includePo, &includeR,
		&schedule.Priority, &createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("schedule not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan schedule: %w", err)
	}

	schedule.StartDate = unixToTime(startDate)
	schedule.EndDate = unixToTime(endDate)
	schedule.Active = active != 0
	schedule.IncludeProfile = includeP != 0
	schedule.IncludePosts = includePo != 0
	schedule.IncludeReels = includeR != 0
	schedule.CreatedAt = unixToTime(createdAt)

	return &schedule, nil
}
