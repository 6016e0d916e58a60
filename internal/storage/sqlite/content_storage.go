package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// ContentStorage implements SQLite storage for normalized content items
type ContentStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
}

// NewContentStorage creates a new content storage instance
func NewContentStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.ContentStorage {
	return &ContentStorage{
		db:     db,
		logger: logger,
	}
}

// UpsertItem inserts or refreshes a content item
func (s *ContentStorage) UpsertItem(ctx context.Context, item *models.ContentItem) error {
	query := `
		INSERT INTO content_items (id, subject_id, kind, caption, image_url, media_url, post_url, posted_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			caption = excluded.caption,
			image_url = excluded.image_url,
			media_url = excluded.media_url,
			post_url = excluded.post_url,
			posted_at = excluded.posted_at
	`

	var postedAt sql.NullInt64
	if !item.PostedAt.IsZero() {
		postedAt = sql.NullInt64{Valid: true, Int64: item.PostedAt.Unix()}
	}

	_, err := s.db.db.ExecContext(ctx, query,
		item.ID,
		item.SubjectID,
		item.Kind,
		item.Caption,
		item.ImageURL,
		item.MediaURL,
		item.PostURL,
		postedAt,
		item.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert content item: %w", err)
	}
	return nil
}

// ListBySubject returns all content items known for a subject, newest first
func (s *ContentStorage) ListBySubject(ctx context.Context, subjectID string) ([]*models.ContentItem, error) {
	rows, err := s.db.db.QueryContext(ctx, `
		SELECT id, subject_id, kind, caption, image_url, media_url, post_url, posted_at, created_at
		FROM content_items
		WHERE subject_id = ?
		ORDER BY posted_at DESC, id ASC
	`, subjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list content items: %w", err)
	}
	defer rows.Close()

	var items []*models.ContentItem
	for rows.Next() {
		var (
			item      models.ContentItem
			postedAt  sql.NullInt64
			createdAt int64
		)
		err := rows.Scan(&item.ID, &item.SubjectID, &item.Kind, &item.Caption,
			&item.ImageURL, &item.MediaURL, &item.PostURL, &postedAt, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan content item: %w", err)
		}
		if postedAt.Valid {
			item.PostedAt = unixToTime(postedAt.Int64)
		}
		item.CreatedAt = unixToTime(createdAt)
		items = append(items, &item)
	}
	return items, rows.Err()
}

// CountBySubject returns the number of content items known for a subject
func (s *ContentStorage) CountBySubject(ctx context.Context, subjectID string) (int, error) {
	var count int
	err := s.db.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM content_items WHERE subject_id = ?`, subjectID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count content items: %w", err)
	}
	return count, nil
}
