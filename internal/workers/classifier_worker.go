// -----------------------------------------------------------------------
// ClassifierWorker - fans classification jobs out per item and dimension
// -----------------------------------------------------------------------

package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/ternarybob/colligo/internal/services/aggregation"
)

// ClassifierWorker executes classification jobs: one provider call per
// content item and dimension, continue-on-error, then a summary refresh
// per dimension.
type ClassifierWorker struct {
	storage    interfaces.StorageManager
	classifier interfaces.Classifier
	engine     *aggregation.Engine
	cache      interfaces.SummaryCache // Optional; nil disables the cache tier
	config     *common.Config
	logger     arbor.ILogger
	pacer      *rate.Limiter

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	running   bool
	loopAlive bool
}

// NewClassifierWorker creates a new classification worker
func NewClassifierWorker(
	storage interfaces.StorageManager,
	classifier interfaces.Classifier,
	engine *aggregation.Engine,
	cache interfaces.SummaryCache,
	config *common.Config,
	logger arbor.ILogger,
) *ClassifierWorker {
	pacing := config.Workers.ClassifyPacing
	if pacing <= 0 {
		pacing = time.Second
	}

	return &ClassifierWorker{
		storage:    storage,
		classifier: classifier,
		engine:     engine,
		cache:      cache,
		config:     config,
		logger:     logger,
		pacer:      rate.NewLimiter(rate.Every(pacing), 1),
		// Start installs the cancellable run context
		ctx: context.Background(),
	}
}

var _ interfaces.Worker = (*ClassifierWorker)(nil)

// Start sweeps orphaned jobs back to pending and begins the processing loop
func (w *ClassifierWorker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		w.logger.Warn().Msg("Classifier worker already running")
		return nil
	}

	// A fresh context per run; the previous one is dead after Stop
	w.ctx, w.cancel = context.WithCancel(context.Background())

	if n, err := w.storage.ClassificationJobs().SweepOrphans(w.ctx, w.config.Workers.OrphanThreshold); err != nil {
		return fmt.Errorf("orphan sweep failed: %w", err)
	} else if n > 0 {
		w.logger.Warn().Int("count", n).Msg("Recovered orphaned classification jobs")
	}

	w.running = true
	w.loopAlive = true
	w.wg.Add(1)
	go w.loop()

	w.logger.Info().Msg("Classifier worker started")
	return nil
}

// Stop requests shutdown and waits, bounded by the stop timeout, for the
// loop to exit.
func (w *ClassifierWorker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	w.logger.Info().Msg("Stopping classifier worker...")
	w.cancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info().Msg("Classifier worker stopped")
	case <-time.After(w.config.Workers.StopTimeout):
		w.logger.Warn().Msg("Classifier worker stop timed out; loop still draining")
	}

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()
	return nil
}

// Status reports the worker's run state
func (w *ClassifierWorker) Status() interfaces.WorkerStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return interfaces.WorkerStatus{Running: w.running, LoopAlive: w.loopAlive}
}

func (w *ClassifierWorker) loop() {
	defer w.wg.Done()
	defer func() {
		w.mu.Lock()
		w.loopAlive = false
		w.mu.Unlock()
	}()

	for {
		select {
		case <-w.ctx.Done():
			w.logger.Debug().Msg("Classifier loop stopping")
			return
		default:
		}

		processed, err := w.iterate()
		if err != nil {
			w.logger.Error().Err(err).Msg("Classifier iteration failed")
			if !w.sleep(w.config.Workers.ErrorBackoff) {
				return
			}
			continue
		}
		if !processed {
			if !w.sleep(w.config.Workers.IdleDelay) {
				return
			}
		}
	}
}

func (w *ClassifierWorker) sleep(d time.Duration) bool {
	select {
	case <-w.ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// iterate claims and executes one classification job at a time. Unlike
// collection, the per-item fan-out is sequential; the pacing limiter is the
// throughput governor.
func (w *ClassifierWorker) iterate() (bool, error) {
	jobs, err := w.storage.ClassificationJobs().ClaimPending(w.ctx, 1)
	if err != nil {
		return false, fmt.Errorf("failed to claim classification jobs: %w", err)
	}
	if len(jobs) == 0 {
		return false, nil
	}

	job := jobs[0]
	func() {
		defer func() {
			if r := recover(); r != nil {
				w.logger.Error().
					Str("job_id", job.ID).
					Str("panic", fmt.Sprintf("%v", r)).
					Str("stack", stackTrace()).
					Msg("Recovered from panic in classification job")
				w.storage.ClassificationJobs().FailJob(w.ctx, job.ID, fmt.Sprintf("job panicked: %v", r))
			}
		}()
		w.executeJob(job)
	}()

	return true, nil
}

func (w *ClassifierWorker) executeJob(job *models.ClassificationJob) {
	w.logger.Info().
		Str("job_id", job.ID).
		Str("subject_id", job.SubjectID).
		Strs("dimensions", job.Dimensions).
		Msg("Executing classification job")

	known, err := w.storage.Content().CountBySubject(w.ctx, job.SubjectID)
	if err != nil {
		w.failJob(job.ID, fmt.Sprintf("failed to count content items: %v", err))
		return
	}
	if known == 0 {
		// Completing vacuously would hide an upstream collection problem
		w.failJob(job.ID, fmt.Sprintf("no content items known for subject %s", job.SubjectID))
		return
	}

	items, err := w.storage.Content().ListBySubject(w.ctx, job.SubjectID)
	if err != nil {
		w.failJob(job.ID, fmt.Sprintf("failed to load content items: %v", err))
		return
	}

	systemPrompt := w.promptFor(job)

	var resultCount, failedCount int
	for _, item := range items {
		for _, dimension := range job.Dimensions {
			select {
			case <-w.ctx.Done():
				w.logger.Warn().Str("job_id", job.ID).Msg("Shutdown during classification; job left processing for sweep")
				return
			default:
			}

			if err := w.classifyItem(job, item, dimension, systemPrompt); err != nil {
				failedCount++
			} else {
				resultCount++
			}
		}
	}

	for _, dimension := range job.Dimensions {
		w.refreshSummary(job, dimension)
	}

	applied, err := w.storage.ClassificationJobs().CompleteJob(w.ctx, job.ID, resultCount, failedCount)
	if err != nil {
		w.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to persist job completion")
		return
	}
	if !applied {
		w.logger.Warn().Str("job_id", job.ID).Msg("Job no longer processing; completion discarded")
		return
	}

	w.logger.Info().
		Str("job_id", job.ID).
		Int("results", resultCount).
		Int("failures", failedCount).
		Msg("Classification job completed")
}

// classifyItem runs one provider call and persists the result row. Failures
// are recorded on the row and returned, never propagated to the job.
func (w *ClassifierWorker) classifyItem(job *models.ClassificationJob, item *models.ContentItem, dimension, systemPrompt string) error {
	if err := w.pacer.Wait(w.ctx); err != nil {
		return err
	}

	result := &models.ClassificationResult{
		SubjectID:   job.SubjectID,
		ItemID:      item.ID,
		Dimension:   dimension,
		ProcessedAt: time.Now(),
		JobID:       job.ID,
	}

	verdict, err := w.classifier.Classify(w.ctx, &interfaces.ClassifyRequest{
		ImageURL:     item.ImageURL,
		Text:         item.Caption,
		SystemPrompt: systemPrompt,
	})
	switch {
	case err != nil:
		w.logger.Warn().
			Err(err).
			Str("job_id", job.ID).
			Str("item_id", item.ID).
			Str("dimension", dimension).
			Msg("Classification call failed")
		result.Error = err.Error()
	case !verdict.Parsed:
		result.Error = "provider reply did not contain a recognizable label"
		result.RawResponse = verdict.Raw
	default:
		result.Label = verdict.Label
		result.Confidence = verdict.Confidence
		result.Reasoning = verdict.Reasoning
		result.RawResponse = verdict.Raw
	}

	if err := w.storage.Results().UpsertResult(w.ctx, result); err != nil {
		w.logger.Error().Err(err).Str("item_id", item.ID).Msg("Failed to persist classification result")
		return err
	}
	if result.Error != "" {
		return errors.New(result.Error)
	}
	return nil
}

// refreshSummary recomputes and caches the subject's summary for one
// dimension. A summary with no successful results is expected when every
// call failed and is not an error worth failing the job over.
func (w *ClassifierWorker) refreshSummary(job *models.ClassificationJob, dimension string) {
	summary, err := w.engine.Aggregate(w.ctx, job.SubjectID, dimension, job.ID)
	if err != nil {
		if errors.Is(err, aggregation.ErrNoResults) {
			w.logger.Warn().
				Str("job_id", job.ID).
				Str("dimension", dimension).
				Msg("No successful results to summarize")
			return
		}
		w.logger.Error().Err(err).Str("job_id", job.ID).Str("dimension", dimension).Msg("Summary recomputation failed")
		return
	}

	if w.cache != nil {
		if err := w.cache.Put(summary); err != nil {
			w.logger.Warn().Err(err).Str("dimension", dimension).Msg("Failed to cache summary")
		}
	}
}

// promptFor resolves the system prompt from the job's variant metadata,
// falling back to the dimension-agnostic default.
func (w *ClassifierWorker) promptFor(job *models.ClassificationJob) string {
	variant := job.PromptVariant()
	if variant == "" {
		variant = "default"
	}
	if prompt, ok := w.config.LLM.Prompts[variant]; ok {
		return prompt
	}
	return w.config.LLM.Prompts["default"]
}

func (w *ClassifierWorker) failJob(jobID, errorMsg string) {
	applied, err := w.storage.ClassificationJobs().FailJob(w.ctx, jobID, errorMsg)
	if err != nil {
		w.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to persist job failure")
		return
	}
	if !applied {
		w.logger.Warn().Str("job_id", jobID).Msg("Job no longer processing; failure discarded")
	}
}
