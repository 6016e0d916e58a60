// Package aggregation reduces per-item classification results into ranked
// per-subject label distributions.
package aggregation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// ErrNoResults is returned when a subject has no successful classification
// results for the requested dimension. Callers must not treat an empty
// summary as a valid one.
var ErrNoResults = errors.New("no classification results to aggregate")

// Engine computes aggregated summaries from stored classification results
type Engine struct {
	results   interfaces.ResultStorage
	overrides interfaces.OverrideStorage
	logger    arbor.ILogger
}

// NewEngine creates a new aggregation engine
func NewEngine(results interfaces.ResultStorage, overrides interfaces.OverrideStorage, logger arbor.ILogger) *Engine {
	return &Engine{
		results:   results,
		overrides: overrides,
		logger:    logger,
	}
}

// Aggregate reduces all results for a subject and dimension into a ranked
// label distribution. An empty jobID scopes to ad-hoc results. A manual
// override, when present, is returned verbatim and nothing is recomputed
// until the override is cleared.
func (e *Engine) Aggregate(ctx context.Context, subjectID, dimension, jobID string) (*models.AggregatedSummary, error) {
	override, err := e.overrides.GetOverride(ctx, subjectID, dimension)
	if err != nil {
		return nil, fmt.Errorf("failed to check for override: %w", err)
	}
	if override != nil {
		return override, nil
	}

	results, err := e.results.ListBySubject(ctx, subjectID, dimension, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load results: %w", err)
	}

	summary := compute(subjectID, dimension, results)
	if summary.SuccessfulCount == 0 {
		return nil, fmt.Errorf("%w: subject %s dimension %s", ErrNoResults, subjectID, dimension)
	}

	e.logger.Debug().
		Str("subject_id", subjectID).
		Str("dimension", dimension).
		Str("primary_label", summary.PrimaryLabel).
		Int("total", summary.TotalConsidered).
		Msg("Summary computed")

	return summary, nil
}

// labelGroup accumulates one label's rows during the reduce pass
type labelGroup struct {
	count         int
	confidenceSum float64
}

// compute performs the reduce. Errored and empty-label rows are excluded from
// the distribution but still count toward failed_count and total_considered.
func compute(subjectID, dimension string, results []*models.ClassificationResult) *models.AggregatedSummary {
	groups := make(map[string]*labelGroup)
	var successful, failed int
	var confidenceSum float64

	for _, r := range results {
		if !r.Succeeded() {
			failed++
			continue
		}
		successful++

		// Missing confidence counts as 0 so sparse confidences drag the
		// average down instead of inflating it
		var conf float64
		if r.Confidence != nil {
			conf = *r.Confidence
		}
		confidenceSum += conf

		g := groups[r.Label]
		if g == nil {
			g = &labelGroup{}
			groups[r.Label] = g
		}
		g.count++
		g.confidenceSum += conf
	}

	summary := &models.AggregatedSummary{
		SubjectID:       subjectID,
		Dimension:       dimension,
		TotalConsidered: successful + failed,
		SuccessfulCount: successful,
		FailedCount:     failed,
		Method:          models.SummaryMethodComputed,
		ComputedAt:      time.Now(),
	}
	if successful == 0 {
		return summary
	}

	distribution := make([]models.LabelShare, 0, len(groups))
	for label, g := range groups {
		distribution = append(distribution, models.LabelShare{
			Label:         label,
			Count:         g.count,
			Percentage:    round1(float64(g.count) / float64(successful) * 100),
			AvgConfidence: g.confidenceSum / float64(g.count),
		})
	}

	// Ties break on label so repeated runs return an identical ordering
	sort.Slice(distribution, func(i, j int) bool {
		if distribution[i].Count != distribution[j].Count {
			return distribution[i].Count > distribution[j].Count
		}
		return distribution[i].Label < distribution[j].Label
	})

	summary.Distribution = distribution
	summary.PrimaryLabel = distribution[0].Label
	summary.PrimaryPercentage = distribution[0].Percentage
	if len(distribution) > 1 {
		summary.SecondaryLabel = distribution[1].Label
		summary.SecondaryPercentage = distribution[1].Percentage
	}
	summary.AvgConfidence = confidenceSum / float64(successful)
	summary.SuccessRate = round1(float64(successful) / float64(summary.TotalConsidered) * 100)

	return summary
}

// round1 rounds to one decimal place
func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
