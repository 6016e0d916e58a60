package interfaces

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ternarybob/colligo/internal/models"
)

// ListOptions filters and paginates job listings
type ListOptions struct {
	Status string // Single status or comma-separated set
	Limit  int
	Offset int
}

// CollectionJobStorage persists collection jobs and owns their status
// transitions. Claim and terminal writes implement the pessimistic
// claim-by-status-transition pattern: a job is owned by whichever worker
// flipped it to processing.
type CollectionJobStorage interface {
	SaveJob(ctx context.Context, job *models.CollectionJob) error
	GetJob(ctx context.Context, jobID string) (*models.CollectionJob, error)
	ListJobs(ctx context.Context, opts *ListOptions) ([]*models.CollectionJob, error)

	// ClaimPending atomically selects up to limit pending jobs ordered by
	// (priority desc, created_at asc) and marks them processing with
	// started_at set, all in one transaction.
	ClaimPending(ctx context.Context, limit int) ([]*models.CollectionJob, error)

	// CompleteJob and FailJob only apply while the row is still processing;
	// they return false when the job was externally moved to a terminal
	// state (e.g. cancelled) and the worker's outcome must be discarded.
	CompleteJob(ctx context.Context, jobID string, payload json.RawMessage, resultCount int) (bool, error)
	FailJob(ctx context.Context, jobID string, errorMsg string) (bool, error)

	UpdateSubtasks(ctx context.Context, jobID string, subtasks map[string]models.SubtaskStatus) error

	// SweepOrphans returns processing jobs whose started_at is older than
	// the threshold back to pending, resetting subtask statuses. Returns
	// the number of recovered jobs.
	SweepOrphans(ctx context.Context, olderThan time.Duration) (int, error)

	// CancelActive flips pending and processing jobs to cancelled with the
	// given message. ResetFailed returns failed jobs to pending, clearing
	// timestamps and errors. Both return affected row counts.
	CancelActive(ctx context.Context, reason string) (int, error)
	ResetFailed(ctx context.Context) (int, error)

	// HasCompletedOnDay reports whether a completed job for the username
	// finished within the day containing ref, evaluated in ref's location.
	HasCompletedOnDay(ctx context.Context, username string, ref time.Time) (bool, error)

	// DeleteTerminalBefore removes terminal jobs completed before the
	// cutoff. Returns the number of deleted rows.
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// ReelStatJobStorage persists per-URL reel-stat jobs
type ReelStatJobStorage interface {
	SaveJob(ctx context.Context, job *models.ReelStatJob) error
	GetJob(ctx context.Context, jobID string) (*models.ReelStatJob, error)
	ClaimPending(ctx context.Context, limit int) ([]*models.ReelStatJob, error)
	CompleteJob(ctx context.Context, jobID string, playCount int64, payload json.RawMessage) (bool, error)
	FailJob(ctx context.Context, jobID string, errorMsg string) (bool, error)
	SweepOrphans(ctx context.Context, olderThan time.Duration) (int, error)
	CancelActive(ctx context.Context, reason string) (int, error)
	ResetFailed(ctx context.Context) (int, error)
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// ClassificationJobStorage persists classification jobs
type ClassificationJobStorage interface {
	SaveJob(ctx context.Context, job *models.ClassificationJob) error
	GetJob(ctx context.Context, jobID string) (*models.ClassificationJob, error)
	ListJobs(ctx context.Context, opts *ListOptions) ([]*models.ClassificationJob, error)
	ClaimPending(ctx context.Context, limit int) ([]*models.ClassificationJob, error)
	CompleteJob(ctx context.Context, jobID string, resultCount, failedCount int) (bool, error)
	FailJob(ctx context.Context, jobID string, errorMsg string) (bool, error)
	SweepOrphans(ctx context.Context, olderThan time.Duration) (int, error)
	CancelActive(ctx context.Context, reason string) (int, error)
	CancelBySubject(ctx context.Context, subjectID, reason string) (int, error)
	ResetFailed(ctx context.Context) (int, error)
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// ResultStorage persists per-item classification results with overwrite
// semantics on (item_id, dimension, job_id).
type ResultStorage interface {
	UpsertResult(ctx context.Context, result *models.ClassificationResult) error

	// ListBySubject returns results for a subject and dimension scoped to
	// one job id. An empty jobID selects ad-hoc results (rows with no
	// producing job).
	ListBySubject(ctx context.Context, subjectID, dimension, jobID string) ([]*models.ClassificationResult, error)

	CountByItem(ctx context.Context, itemID, dimension, jobID string) (int, error)

	// LatestJobID returns the job id of the most recently processed
	// job-produced result for a subject and dimension, or empty string when
	// only ad-hoc rows (or none) exist.
	LatestJobID(ctx context.Context, subjectID, dimension string) (string, error)
}

// OverrideStorage persists manual summary overrides, unique per
// (subject, dimension).
type OverrideStorage interface {
	SetOverride(ctx context.Context, summary *models.AggregatedSummary) error
	GetOverride(ctx context.Context, subjectID, dimension string) (*models.AggregatedSummary, error)
	ClearOverride(ctx context.Context, subjectID, dimension string) error
}

// ScheduleStorage persists recurring collection schedules
type ScheduleStorage interface {
	SaveSchedule(ctx context.Context, schedule *models.CollectionSchedule) error
	GetSchedule(ctx context.Context, scheduleID string) (*models.CollectionSchedule, error)
	ListActive(ctx context.Context) ([]*models.CollectionSchedule, error)
	DeleteSchedule(ctx context.Context, scheduleID string) error
}

// ContentStorage persists normalized content items collected for subjects
type ContentStorage interface {
	UpsertItem(ctx context.Context, item *models.ContentItem) error
	ListBySubject(ctx context.Context, subjectID string) ([]*models.ContentItem, error)
	CountBySubject(ctx context.Context, subjectID string) (int, error)
}

// SummaryCache caches computed aggregated summaries. Summaries are derived
// state; a cache miss always falls back to recomputation.
type SummaryCache interface {
	Put(summary *models.AggregatedSummary) error
	Get(subjectID, dimension string) (*models.AggregatedSummary, bool)
	Invalidate(subjectID, dimension string) error
	Close() error
}

// StorageManager provides access to all storage implementations
type StorageManager interface {
	CollectionJobs() CollectionJobStorage
	ReelStatJobs() ReelStatJobStorage
	ClassificationJobs() ClassificationJobStorage
	Results() ResultStorage
	Overrides() OverrideStorage
	Schedules() ScheduleStorage
	Content() ContentStorage
	Close() error
}
