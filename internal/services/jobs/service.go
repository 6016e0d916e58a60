// -----------------------------------------------------------------------
// Job Service - the queue contract exposed to the rest of the application
// -----------------------------------------------------------------------

package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/ternarybob/colligo/internal/services/aggregation"
)

// Service implements the JobService contract. Enqueue returns synchronously;
// execution happens in the background workers, coordinated only through job
// row states.
type Service struct {
	storage    interfaces.StorageManager
	engine     *aggregation.Engine
	cache      interfaces.SummaryCache // Optional
	collector  interfaces.Worker
	classifier interfaces.Worker
	logger     arbor.ILogger
}

// NewService creates a new job service
func NewService(
	storage interfaces.StorageManager,
	engine *aggregation.Engine,
	cache interfaces.SummaryCache,
	collector interfaces.Worker,
	classifier interfaces.Worker,
	logger arbor.ILogger,
) *Service {
	return &Service{
		storage:    storage,
		engine:     engine,
		cache:      cache,
		collector:  collector,
		classifier: classifier,
		logger:     logger,
	}
}

var _ interfaces.JobService = (*Service)(nil)

// EnqueueCollection creates a pending collection job and returns its id
func (s *Service) EnqueueCollection(ctx context.Context, req *interfaces.EnqueueCollectionRequest) (string, error) {
	if req.Username == "" {
		return "", fmt.Errorf("username is required")
	}
	if !req.IncludeProfile && !req.IncludePosts && !req.IncludeReels {
		return "", fmt.Errorf("at least one subtask must be enabled")
	}

	job := models.NewCollectionJob(req.Username, req.Priority, req.IncludeProfile, req.IncludePosts, req.IncludeReels)
	if err := s.storage.CollectionJobs().SaveJob(ctx, job); err != nil {
		return "", fmt.Errorf("failed to enqueue collection job: %w", err)
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("username", req.Username).
		Int("priority", req.Priority).
		Msg("Collection job enqueued")
	return job.ID, nil
}

// EnqueueReelStat creates a pending reel-stat job and returns its id
func (s *Service) EnqueueReelStat(ctx context.Context, reelURL string, priority int) (string, error) {
	if reelURL == "" {
		return "", fmt.Errorf("reel URL is required")
	}

	job := models.NewReelStatJob(reelURL, priority)
	if err := s.storage.ReelStatJobs().SaveJob(ctx, job); err != nil {
		return "", fmt.Errorf("failed to enqueue reel-stat job: %w", err)
	}

	s.logger.Info().Str("job_id", job.ID).Str("reel_url", reelURL).Msg("Reel-stat job enqueued")
	return job.ID, nil
}

// EnqueueClassification creates a pending classification job and returns its id
func (s *Service) EnqueueClassification(ctx context.Context, req *interfaces.EnqueueClassificationRequest) (string, error) {
	if req.SubjectID == "" {
		return "", fmt.Errorf("subject id is required")
	}
	if len(req.Dimensions) == 0 {
		return "", fmt.Errorf("at least one dimension is required")
	}

	job := models.NewClassificationJob(req.SubjectID, req.Dimensions, req.Priority)
	if req.PromptVariant != "" {
		job.Metadata["prompt_variant"] = req.PromptVariant
	}
	if err := s.storage.ClassificationJobs().SaveJob(ctx, job); err != nil {
		return "", fmt.Errorf("failed to enqueue classification job: %w", err)
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("subject_id", req.SubjectID).
		Strs("dimensions", req.Dimensions).
		Msg("Classification job enqueued")
	return job.ID, nil
}

// ListCollectionJobs lists collection jobs filtered by status, newest first
func (s *Service) ListCollectionJobs(ctx context.Context, opts *interfaces.ListOptions) ([]*models.CollectionJob, error) {
	return s.storage.CollectionJobs().ListJobs(ctx, opts)
}

// ListClassificationJobs lists classification jobs filtered by status, newest first
func (s *Service) ListClassificationJobs(ctx context.Context, opts *interfaces.ListOptions) ([]*models.ClassificationJob, error) {
	return s.storage.ClassificationJobs().ListJobs(ctx, opts)
}

// CancelAll flips every pending and processing job to cancelled and asks the
// workers to stop. Workers mid-execution notice the terminal status on their
// next write and discard their outcome.
func (s *Service) CancelAll(ctx context.Context, reason string) (interfaces.BulkResult, error) {
	var result interfaces.BulkResult

	n, err := s.storage.CollectionJobs().CancelActive(ctx, reason)
	if err != nil {
		return result, fmt.Errorf("failed to cancel collection jobs: %w", err)
	}
	result.CollectionJobs = n

	n, err = s.storage.ReelStatJobs().CancelActive(ctx, reason)
	if err != nil {
		return result, fmt.Errorf("failed to cancel reel-stat jobs: %w", err)
	}
	result.ReelStatJobs = n

	n, err = s.storage.ClassificationJobs().CancelActive(ctx, reason)
	if err != nil {
		return result, fmt.Errorf("failed to cancel classification jobs: %w", err)
	}
	result.ClassificationJobs = n

	if s.collector != nil {
		if err := s.collector.Stop(); err != nil {
			s.logger.Warn().Err(err).Msg("Collector stop request failed")
		}
	}
	if s.classifier != nil {
		if err := s.classifier.Stop(); err != nil {
			s.logger.Warn().Err(err).Msg("Classifier stop request failed")
		}
	}

	s.logger.Info().Int("total", result.Total()).Str("reason", reason).Msg("Cancelled active jobs")
	return result, nil
}

// CancelBySubject cancels pending and processing classification jobs for one subject
func (s *Service) CancelBySubject(ctx context.Context, subjectID, reason string) (int, error) {
	n, err := s.storage.ClassificationJobs().CancelBySubject(ctx, subjectID, reason)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel jobs for subject %s: %w", subjectID, err)
	}
	s.logger.Info().Str("subject_id", subjectID).Int("count", n).Msg("Cancelled subject jobs")
	return n, nil
}

// RetryFailed resets failed jobs back to pending and ensures the workers are
// running so the reset jobs are picked up.
func (s *Service) RetryFailed(ctx context.Context) (interfaces.BulkResult, error) {
	var result interfaces.BulkResult

	n, err := s.storage.CollectionJobs().ResetFailed(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to reset collection jobs: %w", err)
	}
	result.CollectionJobs = n

	n, err = s.storage.ReelStatJobs().ResetFailed(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to reset reel-stat jobs: %w", err)
	}
	result.ReelStatJobs = n

	n, err = s.storage.ClassificationJobs().ResetFailed(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to reset classification jobs: %w", err)
	}
	result.ClassificationJobs = n

	if s.collector != nil {
		if err := s.collector.Start(); err != nil {
			s.logger.Warn().Err(err).Msg("Collector restart failed")
		}
	}
	if s.classifier != nil {
		if err := s.classifier.Start(); err != nil {
			s.logger.Warn().Err(err).Msg("Classifier restart failed")
		}
	}

	s.logger.Info().Int("total", result.Total()).Msg("Reset failed jobs to pending")
	return result, nil
}

// GetSummary serves the aggregated summary for a subject and dimension. A
// manual override always wins; otherwise the cache is consulted and a miss
// falls back to recomputation: first over ad-hoc results, then over the
// subject's most recent job-produced scope. Summaries stay recomputable
// from sqlite even after the cache is lost.
func (s *Service) GetSummary(ctx context.Context, subjectID, dimension string) (*models.AggregatedSummary, error) {
	override, err := s.storage.Overrides().GetOverride(ctx, subjectID, dimension)
	if err != nil {
		return nil, fmt.Errorf("failed to check for override: %w", err)
	}
	if override != nil {
		return override, nil
	}

	if s.cache != nil {
		if summary, ok := s.cache.Get(subjectID, dimension); ok {
			return summary, nil
		}
	}

	summary, err := s.engine.Aggregate(ctx, subjectID, dimension, "")
	if errors.Is(err, aggregation.ErrNoResults) {
		jobID, lookupErr := s.storage.Results().LatestJobID(ctx, subjectID, dimension)
		if lookupErr != nil {
			return nil, lookupErr
		}
		if jobID != "" {
			summary, err = s.engine.Aggregate(ctx, subjectID, dimension, jobID)
		}
	}
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Put(summary); err != nil {
			s.logger.Warn().Err(err).Str("subject_id", subjectID).Msg("Failed to cache summary")
		}
	}
	return summary, nil
}

// SetSummaryOverride installs a manual override for a subject and dimension.
// The override suppresses recomputation until explicitly cleared.
func (s *Service) SetSummaryOverride(ctx context.Context, summary *models.AggregatedSummary) error {
	if summary.SubjectID == "" || summary.Dimension == "" {
		return fmt.Errorf("subject id and dimension are required")
	}

	if err := s.storage.Overrides().SetOverride(ctx, summary); err != nil {
		return fmt.Errorf("failed to install override: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.Invalidate(summary.SubjectID, summary.Dimension); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to invalidate cached summary")
		}
	}

	s.logger.Info().
		Str("subject_id", summary.SubjectID).
		Str("dimension", summary.Dimension).
		Str("primary_label", summary.PrimaryLabel).
		Msg("Manual summary override installed")
	return nil
}

// ClearSummaryOverride removes a manual override so recomputation resumes
func (s *Service) ClearSummaryOverride(ctx context.Context, subjectID, dimension string) error {
	if err := s.storage.Overrides().ClearOverride(ctx, subjectID, dimension); err != nil {
		return fmt.Errorf("failed to clear override: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.Invalidate(subjectID, dimension); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to invalidate cached summary")
		}
	}

	s.logger.Info().Str("subject_id", subjectID).Str("dimension", dimension).Msg("Manual summary override cleared")
	return nil
}

// WorkerStatus reports the run state of the background workers
func (s *Service) WorkerStatus() interfaces.WorkerStatuses {
	var statuses interfaces.WorkerStatuses
	if s.collector != nil {
		statuses.Collector = s.collector.Status()
	}
	if s.classifier != nil {
		statuses.Classifier = s.classifier.Status()
	}
	return statuses
}

// CleanupTerminal deletes terminal jobs older than the retention window
func (s *Service) CleanupTerminal(ctx context.Context, retention time.Duration) (interfaces.BulkResult, error) {
	var result interfaces.BulkResult
	cutoff := time.Now().Add(-retention)

	n, err := s.storage.CollectionJobs().DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		return result, fmt.Errorf("failed to clean collection jobs: %w", err)
	}
	result.CollectionJobs = n

	n, err = s.storage.ReelStatJobs().DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		return result, fmt.Errorf("failed to clean reel-stat jobs: %w", err)
	}
	result.ReelStatJobs = n

	n, err = s.storage.ClassificationJobs().DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		return result, fmt.Errorf("failed to clean classification jobs: %w", err)
	}
	result.ClassificationJobs = n

	if result.Total() > 0 {
		s.logger.Info().Int("total", result.Total()).Msg("Deleted old terminal jobs")
	}
	return result, nil
}
