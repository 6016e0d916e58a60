// -----------------------------------------------------------------------
// Classification models - per-item results and aggregated summaries
// -----------------------------------------------------------------------

package models

import "time"

// Classification dimensions computed per subject
const (
	DimensionMotivation = "motivation"
	DimensionCategory   = "category"
)

// Summary computation methods
const (
	SummaryMethodComputed = "computed"
	SummaryMethodOverride = "manual_override"
)

// ClassificationResult is one provider verdict for one content item under
// one dimension. At most one row exists per (item, dimension, job) - a
// re-run overwrites, never duplicates.
type ClassificationResult struct {
	ID          int64     `json:"id"`
	SubjectID   string    `json:"subject_id"`
	ItemID      string    `json:"item_id"`
	Dimension   string    `json:"dimension"`
	Label       string    `json:"label"`
	Confidence  *float64  `json:"confidence,omitempty"`
	Reasoning   string    `json:"reasoning,omitempty"`
	RawResponse string    `json:"raw_response,omitempty"`
	Error       string    `json:"error,omitempty"`
	ProcessedAt time.Time `json:"processed_at"`
	JobID       string    `json:"produced_by_job_id"` // Empty for ad-hoc classifications
}

// Succeeded reports whether this result carries a usable label
func (r *ClassificationResult) Succeeded() bool {
	return r.Error == "" && r.Label != ""
}

// LabelShare is one entry in a summary's ranked label distribution
type LabelShare struct {
	Label         string  `json:"label"`
	Count         int     `json:"count"`
	Percentage    float64 `json:"percentage"`
	AvgConfidence float64 `json:"avg_confidence"`
}

// AggregatedSummary is the derived per-subject rollup of classification
// results for one dimension. It is a cache: always recomputable from the
// results table unless a manual override is installed.
type AggregatedSummary struct {
	SubjectID           string       `json:"subject_id"`
	Dimension           string       `json:"dimension"`
	PrimaryLabel        string       `json:"primary_label"`
	PrimaryPercentage   float64      `json:"primary_percentage"`
	SecondaryLabel      string       `json:"secondary_label,omitempty"`
	SecondaryPercentage float64      `json:"secondary_percentage,omitempty"`
	Distribution        []LabelShare `json:"distribution"`
	TotalConsidered     int          `json:"total_considered"`
	SuccessfulCount     int          `json:"successful_count"`
	FailedCount         int          `json:"failed_count"`
	AvgConfidence       float64      `json:"avg_confidence"`
	SuccessRate         float64      `json:"success_rate"`
	Method              string       `json:"method"` // "computed" or "manual_override"
	IsManualOverride    bool         `json:"is_manual_override"`
	ComputedAt          time.Time    `json:"computed_at"`
}

// Content item kinds
const (
	KindPost = "post"
	KindReel = "reel"
)

// ContentItem is one piece of collected content (post or reel) belonging to
// a subject, the unit of classification work.
type ContentItem struct {
	ID        string    `json:"id"`
	SubjectID string    `json:"subject_id"`
	Kind      string    `json:"kind"` // "post" or "reel"
	Caption   string    `json:"caption,omitempty"`
	ImageURL  string    `json:"image_url,omitempty"`
	MediaURL  string    `json:"media_url,omitempty"` // Re-hosted copy in object storage, when available
	PostURL   string    `json:"post_url,omitempty"`
	PostedAt  time.Time `json:"posted_at"`
	CreatedAt time.Time `json:"created_at"`
}
