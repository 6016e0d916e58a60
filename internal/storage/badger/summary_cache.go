package badger

import (
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// SummaryCache implements the SummaryCache interface over Badger. Cached
// summaries are derived state only; callers fall back to recomputation on
// a miss, so cache errors are logged and never surfaced as failures on read.
type SummaryCache struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewSummaryCache creates a new SummaryCache instance
func NewSummaryCache(db *BadgerDB, logger arbor.ILogger) interfaces.SummaryCache {
	return &SummaryCache{
		db:     db,
		logger: logger,
	}
}

// cacheKey builds the cache key for a subject/dimension pair
func (c *SummaryCache) cacheKey(subjectID, dimension string) string {
	return strings.ToLower(strings.TrimSpace(subjectID)) + ":" + strings.ToLower(strings.TrimSpace(dimension))
}

// Put stores a computed summary, replacing any cached value
func (c *SummaryCache) Put(summary *models.AggregatedSummary) error {
	key := c.cacheKey(summary.SubjectID, summary.Dimension)
	if err := c.db.Store().Upsert(key, summary); err != nil {
		return fmt.Errorf("failed to cache summary: %w", err)
	}
	return nil
}

// Get retrieves a cached summary. The second return reports a hit.
func (c *SummaryCache) Get(subjectID, dimension string) (*models.AggregatedSummary, bool) {
	key := c.cacheKey(subjectID, dimension)
	var summary models.AggregatedSummary
	err := c.db.Store().Get(key, &summary)
	if err == badgerhold.ErrNotFound {
		return nil, false
	}
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("Summary cache read failed")
		return nil, false
	}
	return &summary, true
}

// Invalidate removes a cached summary. A missing entry is not an error.
func (c *SummaryCache) Invalidate(subjectID, dimension string) error {
	key := c.cacheKey(subjectID, dimension)
	err := c.db.Store().Delete(key, &models.AggregatedSummary{})
	if err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("failed to invalidate summary: %w", err)
	}
	return nil
}

// Close closes the underlying store
func (c *SummaryCache) Close() error {
	return c.db.Close()
}
