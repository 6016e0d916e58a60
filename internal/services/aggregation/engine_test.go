package aggregation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/models"
)

type fakeResults struct {
	rows []*models.ClassificationResult
}

func (f *fakeResults) UpsertResult(ctx context.Context, result *models.ClassificationResult) error {
	f.rows = append(f.rows, result)
	return nil
}

func (f *fakeResults) ListBySubject(ctx context.Context, subjectID, dimension, jobID string) ([]*models.ClassificationResult, error) {
	var out []*models.ClassificationResult
	for _, r := range f.rows {
		if r.SubjectID == subjectID && r.Dimension == dimension && r.JobID == jobID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeResults) CountByItem(ctx context.Context, itemID, dimension, jobID string) (int, error) {
	count := 0
	for _, r := range f.rows {
		if r.ItemID == itemID && r.Dimension == dimension && r.JobID == jobID {
			count++
		}
	}
	return count, nil
}

func (f *fakeResults) LatestJobID(ctx context.Context, subjectID, dimension string) (string, error) {
	for i := len(f.rows) - 1; i >= 0; i-- {
		r := f.rows[i]
		if r.SubjectID == subjectID && r.Dimension == dimension && r.JobID != "" {
			return r.JobID, nil
		}
	}
	return "", nil
}

type fakeOverrides struct {
	override *models.AggregatedSummary
}

func (f *fakeOverrides) SetOverride(ctx context.Context, summary *models.AggregatedSummary) error {
	summary.IsManualOverride = true
	summary.Method = models.SummaryMethodOverride
	f.override = summary
	return nil
}

func (f *fakeOverrides) GetOverride(ctx context.Context, subjectID, dimension string) (*models.AggregatedSummary, error) {
	return f.override, nil
}

func (f *fakeOverrides) ClearOverride(ctx context.Context, subjectID, dimension string) error {
	f.override = nil
	return nil
}

func conf(v float64) *float64 { return &v }

func seedResults() *fakeResults {
	return &fakeResults{rows: []*models.ClassificationResult{
		{SubjectID: "creator1", ItemID: "i1", Dimension: "motivation", Label: "A", Confidence: conf(0.9)},
		{SubjectID: "creator1", ItemID: "i2", Dimension: "motivation", Label: "A", Confidence: conf(0.8)},
		{SubjectID: "creator1", ItemID: "i3", Dimension: "motivation", Label: "B", Confidence: conf(0.6)},
	}}
}

func TestAggregateWorkedExample(t *testing.T) {
	engine := NewEngine(seedResults(), &fakeOverrides{}, arbor.NewLogger())

	summary, err := engine.Aggregate(context.Background(), "creator1", "motivation", "")
	require.NoError(t, err)

	assert.Equal(t, "A", summary.PrimaryLabel)
	assert.InDelta(t, 66.7, summary.PrimaryPercentage, 0.001)
	assert.Equal(t, "B", summary.SecondaryLabel)
	assert.InDelta(t, 33.3, summary.SecondaryPercentage, 0.001)
	assert.InDelta(t, 0.767, summary.AvgConfidence, 0.001)
	assert.Equal(t, 3, summary.TotalConsidered)
	assert.Equal(t, 3, summary.SuccessfulCount)
	assert.Equal(t, 0, summary.FailedCount)
	assert.InDelta(t, 100.0, summary.SuccessRate, 0.001)
	assert.Equal(t, models.SummaryMethodComputed, summary.Method)
}

func TestAggregateIsIdempotent(t *testing.T) {
	engine := NewEngine(seedResults(), &fakeOverrides{}, arbor.NewLogger())
	ctx := context.Background()

	first, err := engine.Aggregate(ctx, "creator1", "motivation", "")
	require.NoError(t, err)
	second, err := engine.Aggregate(ctx, "creator1", "motivation", "")
	require.NoError(t, err)

	assert.Equal(t, first.Distribution, second.Distribution)
	assert.Equal(t, first.PrimaryLabel, second.PrimaryLabel)
	assert.Equal(t, first.AvgConfidence, second.AvgConfidence)
}

func TestAggregateTieBreaksOnLabel(t *testing.T) {
	results := &fakeResults{rows: []*models.ClassificationResult{
		{SubjectID: "creator1", Dimension: "motivation", Label: "Zebra", Confidence: conf(0.5)},
		{SubjectID: "creator1", Dimension: "motivation", Label: "Apple", Confidence: conf(0.5)},
	}}
	engine := NewEngine(results, &fakeOverrides{}, arbor.NewLogger())

	summary, err := engine.Aggregate(context.Background(), "creator1", "motivation", "")
	require.NoError(t, err)
	assert.Equal(t, "Apple", summary.PrimaryLabel)
	assert.Equal(t, "Zebra", summary.SecondaryLabel)
}

func TestAggregateCountsFailuresWithoutRanking(t *testing.T) {
	results := seedResults()
	results.rows = append(results.rows,
		&models.ClassificationResult{SubjectID: "creator1", Dimension: "motivation", Error: "provider timeout"},
		&models.ClassificationResult{SubjectID: "creator1", Dimension: "motivation", Label: ""},
	)
	engine := NewEngine(results, &fakeOverrides{}, arbor.NewLogger())

	summary, err := engine.Aggregate(context.Background(), "creator1", "motivation", "")
	require.NoError(t, err)
	assert.Equal(t, 5, summary.TotalConsidered)
	assert.Equal(t, 3, summary.SuccessfulCount)
	assert.Equal(t, 2, summary.FailedCount)
	assert.InDelta(t, 60.0, summary.SuccessRate, 0.001)
	assert.Len(t, summary.Distribution, 2)
}

func TestAggregateMissingConfidenceCountsAsZero(t *testing.T) {
	results := &fakeResults{rows: []*models.ClassificationResult{
		{SubjectID: "creator1", Dimension: "motivation", Label: "A", Confidence: conf(0.8)},
		{SubjectID: "creator1", Dimension: "motivation", Label: "A"},
	}}
	engine := NewEngine(results, &fakeOverrides{}, arbor.NewLogger())

	summary, err := engine.Aggregate(context.Background(), "creator1", "motivation", "")
	require.NoError(t, err)
	assert.InDelta(t, 0.4, summary.AvgConfidence, 0.001)
}

func TestAggregateFailsWithNoResults(t *testing.T) {
	engine := NewEngine(&fakeResults{}, &fakeOverrides{}, arbor.NewLogger())

	_, err := engine.Aggregate(context.Background(), "creator1", "motivation", "")
	require.ErrorIs(t, err, ErrNoResults)
}

func TestAggregateFailsWhenAllResultsErrored(t *testing.T) {
	results := &fakeResults{rows: []*models.ClassificationResult{
		{SubjectID: "creator1", Dimension: "motivation", Error: "bad reply"},
	}}
	engine := NewEngine(results, &fakeOverrides{}, arbor.NewLogger())

	_, err := engine.Aggregate(context.Background(), "creator1", "motivation", "")
	require.ErrorIs(t, err, ErrNoResults)
}

func TestAggregateReturnsOverrideVerbatim(t *testing.T) {
	overrides := &fakeOverrides{}
	require.NoError(t, overrides.SetOverride(context.Background(), &models.AggregatedSummary{
		SubjectID:    "creator1",
		Dimension:    "motivation",
		PrimaryLabel: "HandPicked",
	}))

	engine := NewEngine(seedResults(), overrides, arbor.NewLogger())
	summary, err := engine.Aggregate(context.Background(), "creator1", "motivation", "")
	require.NoError(t, err)

	assert.Equal(t, "HandPicked", summary.PrimaryLabel)
	assert.Equal(t, models.SummaryMethodOverride, summary.Method)
	assert.True(t, summary.IsManualOverride)
}
