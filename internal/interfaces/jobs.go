package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/colligo/internal/models"
)

// EnqueueCollectionRequest describes a collection job submission
type EnqueueCollectionRequest struct {
	Username       string
	Priority       int
	IncludeProfile bool
	IncludePosts   bool
	IncludeReels   bool
}

// EnqueueClassificationRequest describes a classification job submission
type EnqueueClassificationRequest struct {
	SubjectID     string
	Dimensions    []string
	Priority      int
	PromptVariant string
}

// BulkResult reports how many rows a bulk operation affected, per job kind
type BulkResult struct {
	CollectionJobs     int `json:"collection_jobs"`
	ReelStatJobs       int `json:"reel_stat_jobs"`
	ClassificationJobs int `json:"classification_jobs"`
}

// Total returns the overall affected row count
func (r BulkResult) Total() int {
	return r.CollectionJobs + r.ReelStatJobs + r.ClassificationJobs
}

// JobService is the contract exposed to the rest of the application (the API
// layer consumes this; execution stays asynchronous behind it).
type JobService interface {
	// Enqueue operations return the job identifier synchronously
	EnqueueCollection(ctx context.Context, req *EnqueueCollectionRequest) (string, error)
	EnqueueReelStat(ctx context.Context, reelURL string, priority int) (string, error)
	EnqueueClassification(ctx context.Context, req *EnqueueClassificationRequest) (string, error)

	ListCollectionJobs(ctx context.Context, opts *ListOptions) ([]*models.CollectionJob, error)
	ListClassificationJobs(ctx context.Context, opts *ListOptions) ([]*models.ClassificationJob, error)

	// CancelAll flips matching pending/processing jobs to cancelled and
	// requests the workers to stop. CancelBySubject targets classification
	// jobs for one subject only.
	CancelAll(ctx context.Context, reason string) (BulkResult, error)
	CancelBySubject(ctx context.Context, subjectID, reason string) (int, error)

	// RetryFailed resets failed jobs to pending, clearing timestamps and
	// errors, and ensures the workers are running.
	RetryFailed(ctx context.Context) (BulkResult, error)

	// GetSummary computes (or serves from cache) the aggregated summary for
	// a subject and dimension. SetSummaryOverride installs a manual
	// override that suppresses recomputation until cleared.
	GetSummary(ctx context.Context, subjectID, dimension string) (*models.AggregatedSummary, error)
	SetSummaryOverride(ctx context.Context, summary *models.AggregatedSummary) error
	ClearSummaryOverride(ctx context.Context, subjectID, dimension string) error

	// CleanupTerminal deletes terminal jobs older than the retention window
	CleanupTerminal(ctx context.Context, retention time.Duration) (BulkResult, error)

	// WorkerStatus reports the run state of the background workers
	WorkerStatus() WorkerStatuses
}

// WorkerStatuses reports the run state of both background workers
type WorkerStatuses struct {
	Collector  WorkerStatus `json:"collector"`
	Classifier WorkerStatus `json:"classifier"`
}
