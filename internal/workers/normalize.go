package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// rawRecord covers the field-name variants the acquisition provider emits
// across dataset versions. Only the fields the pipeline needs are mapped.
type rawRecord struct {
	ID          string `json:"id"`
	PostID      string `json:"post_id"`
	Shortcode   string `json:"shortcode"`
	Caption     string `json:"caption"`
	Description string `json:"description"`
	DisplayURL  string `json:"display_url"`
	ImageURL    string `json:"image_url"`
	Thumbnail   string `json:"thumbnail"`
	URL         string `json:"url"`
	PostURL     string `json:"post_url"`
	Timestamp   string `json:"timestamp"`
	DatePosted  string `json:"date_posted"`
}

// normalizeRecord converts one provider record into a content item
func normalizeRecord(subjectID, kind string, record json.RawMessage) (*models.ContentItem, error) {
	var raw rawRecord
	if err := json.Unmarshal(record, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}

	id := firstNonEmpty(raw.ID, raw.PostID, raw.Shortcode)
	if id == "" {
		return nil, fmt.Errorf("record has no usable identifier")
	}

	item := &models.ContentItem{
		ID:        id,
		SubjectID: subjectID,
		Kind:      kind,
		Caption:   firstNonEmpty(raw.Caption, raw.Description),
		ImageURL:  firstNonEmpty(raw.DisplayURL, raw.ImageURL, raw.Thumbnail),
		PostURL:   firstNonEmpty(raw.URL, raw.PostURL),
		CreatedAt: time.Now(),
	}

	if ts := firstNonEmpty(raw.Timestamp, raw.DatePosted); ts != "" {
		if posted, err := time.Parse(time.RFC3339, ts); err == nil {
			item.PostedAt = posted
		}
	}

	return item, nil
}

// extractPlayCount pulls the play count out of a reel-stat record, trying
// the field names seen across provider dataset versions.
func extractPlayCount(record json.RawMessage) int64 {
	var raw struct {
		PlayCount      *int64 `json:"play_count"`
		VideoPlayCount *int64 `json:"video_play_count"`
		ViewCount      *int64 `json:"view_count"`
	}
	if err := json.Unmarshal(record, &raw); err != nil {
		return 0
	}
	for _, v := range []*int64{raw.PlayCount, raw.VideoPlayCount, raw.ViewCount} {
		if v != nil {
			return *v
		}
	}
	return 0
}

// mediaClient downloads thumbnails for re-hosting. Source CDN URLs expire,
// so a modest timeout is enough.
var mediaClient = &http.Client{Timeout: 30 * time.Second}

// rehostImage downloads an item's thumbnail and uploads it to object
// storage, returning the durable public URL.
func rehostImage(ctx context.Context, media interfaces.MediaStore, item *models.ContentItem) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, item.ImageURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create image request: %w", err)
	}

	resp, err := mediaClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("image download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("image download returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read image body: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/jpeg"
	}

	key := fmt.Sprintf("media/%s/%s.jpg", item.SubjectID, item.ID)
	return media.Upload(ctx, key, data, contentType)
}

// firstNonEmpty returns the first non-empty string
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
