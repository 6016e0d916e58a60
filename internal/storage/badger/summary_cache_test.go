package badger

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/models"
)

func newTestCache(t *testing.T) *SummaryCache {
	t.Helper()
	db, err := NewBadgerDB(arbor.NewLogger(), &common.BadgerConfig{
		Path: filepath.Join(t.TempDir(), "cache"),
	})
	require.NoError(t, err)

	cache := NewSummaryCache(db, arbor.NewLogger()).(*SummaryCache)
	t.Cleanup(func() { cache.Close() })
	return cache
}

func summaryFor(subjectID, dimension, label string) *models.AggregatedSummary {
	return &models.AggregatedSummary{
		SubjectID:    subjectID,
		Dimension:    dimension,
		PrimaryLabel: label,
		Method:       "computed",
		ComputedAt:   time.Now(),
	}
}

func TestSummaryCacheRoundTrip(t *testing.T) {
	cache := newTestCache(t)

	_, ok := cache.Get("creator1", "motivation")
	assert.False(t, ok)

	require.NoError(t, cache.Put(summaryFor("creator1", "motivation", "Inspire")))

	cached, ok := cache.Get("creator1", "motivation")
	require.True(t, ok)
	assert.Equal(t, "Inspire", cached.PrimaryLabel)

	// Same subject, different dimension is a separate entry
	_, ok = cache.Get("creator1", "category")
	assert.False(t, ok)
}

func TestSummaryCachePutReplaces(t *testing.T) {
	cache := newTestCache(t)

	require.NoError(t, cache.Put(summaryFor("creator1", "motivation", "Inspire")))
	require.NoError(t, cache.Put(summaryFor("creator1", "motivation", "Sell")))

	cached, ok := cache.Get("creator1", "motivation")
	require.True(t, ok)
	assert.Equal(t, "Sell", cached.PrimaryLabel)
}

func TestSummaryCacheKeyIsCaseInsensitive(t *testing.T) {
	cache := newTestCache(t)

	require.NoError(t, cache.Put(summaryFor("Creator1", "Motivation", "Inspire")))

	_, ok := cache.Get("creator1", "motivation")
	assert.True(t, ok)
}

func TestSummaryCacheInvalidate(t *testing.T) {
	cache := newTestCache(t)

	require.NoError(t, cache.Put(summaryFor("creator1", "motivation", "Inspire")))
	require.NoError(t, cache.Invalidate("creator1", "motivation"))

	_, ok := cache.Get("creator1", "motivation")
	assert.False(t, ok)

	// Invalidating an absent entry is not an error
	require.NoError(t, cache.Invalidate("creator1", "motivation"))
}
