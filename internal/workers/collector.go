// -----------------------------------------------------------------------
// Collector - drives acquisition jobs through the provider snapshot cycle
// -----------------------------------------------------------------------

package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// Collector executes collection and reel-stat jobs. Jobs are claimed in
// priority order and run concurrently within one batch; coordination with
// other workers happens only through job row states in the store.
type Collector struct {
	storage  interfaces.StorageManager
	provider interfaces.AcquisitionProvider
	media    interfaces.MediaStore // Optional; nil disables media re-hosting
	config   *common.Config
	logger   arbor.ILogger

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	running   bool
	loopAlive bool
}

// NewCollector creates a new collection worker
func NewCollector(
	storage interfaces.StorageManager,
	provider interfaces.AcquisitionProvider,
	media interfaces.MediaStore,
	config *common.Config,
	logger arbor.ILogger,
) *Collector {
	return &Collector{
		storage:  storage,
		provider: provider,
		media:    media,
		config:   config,
		logger:   logger,
		// Start installs the cancellable run context
		ctx: context.Background(),
	}
}

var _ interfaces.Worker = (*Collector)(nil)

// Start sweeps orphaned jobs back to pending and begins the processing loop
func (c *Collector) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		c.logger.Warn().Msg("Collector already running")
		return nil
	}

	// A fresh context per run; the previous one is dead after Stop
	c.ctx, c.cancel = context.WithCancel(context.Background())

	threshold := c.config.Workers.OrphanThreshold
	if n, err := c.storage.CollectionJobs().SweepOrphans(c.ctx, threshold); err != nil {
		return fmt.Errorf("orphan sweep failed: %w", err)
	} else if n > 0 {
		c.logger.Warn().Int("count", n).Msg("Recovered orphaned collection jobs")
	}
	if n, err := c.storage.ReelStatJobs().SweepOrphans(c.ctx, threshold); err != nil {
		return fmt.Errorf("reel-stat orphan sweep failed: %w", err)
	} else if n > 0 {
		c.logger.Warn().Int("count", n).Msg("Recovered orphaned reel-stat jobs")
	}

	c.running = true
	c.loopAlive = true
	c.wg.Add(1)
	go c.loop()

	c.logger.Info().
		Int("batch_size", c.config.Workers.CollectionBatchSize).
		Msg("Collector started")
	return nil
}

// Stop requests shutdown and waits, bounded by the stop timeout, for the
// loop to exit.
func (c *Collector) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	c.logger.Info().Msg("Stopping collector...")
	c.cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info().Msg("Collector stopped")
	case <-time.After(c.config.Workers.StopTimeout):
		c.logger.Warn().Msg("Collector stop timed out; loop still draining")
	}

	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
	return nil
}

// Status reports the worker's run state
func (c *Collector) Status() interfaces.WorkerStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return interfaces.WorkerStatus{Running: c.running, LoopAlive: c.loopAlive}
}

func (c *Collector) loop() {
	defer c.wg.Done()
	defer func() {
		c.mu.Lock()
		c.loopAlive = false
		c.mu.Unlock()
	}()

	for {
		select {
		case <-c.ctx.Done():
			c.logger.Debug().Msg("Collector loop stopping")
			return
		default:
		}

		processed, err := c.iterate()
		if err != nil {
			c.logger.Error().Err(err).Msg("Collector iteration failed")
			if !c.sleep(c.config.Workers.ErrorBackoff) {
				return
			}
			continue
		}
		if !processed {
			if !c.sleep(c.config.Workers.IdleDelay) {
				return
			}
		}
	}
}

// sleep waits for d or until shutdown; returns false on shutdown
func (c *Collector) sleep(d time.Duration) bool {
	select {
	case <-c.ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// iterate claims and executes one batch of each job kind. Returns whether
// any job was processed; store errors propagate so the loop can back off.
func (c *Collector) iterate() (bool, error) {
	batchSize := c.config.Workers.CollectionBatchSize

	jobs, err := c.storage.CollectionJobs().ClaimPending(c.ctx, batchSize)
	if err != nil {
		return false, fmt.Errorf("failed to claim collection jobs: %w", err)
	}

	// Bounded fan-out: the batch size is the concurrency limit. A crash in
	// one job must not abort the batch, so each goroutine recovers its own
	// panics and converts them to a failed status.
	var batch sync.WaitGroup
	for _, job := range jobs {
		batch.Add(1)
		go func(job *models.CollectionJob) {
			defer batch.Done()
			defer func() {
				if r := recover(); r != nil {
					c.logger.Error().
						Str("job_id", job.ID).
						Str("panic", fmt.Sprintf("%v", r)).
						Str("stack", stackTrace()).
						Msg("Recovered from panic in collection job")
					c.failJob(job.ID, fmt.Sprintf("job panicked: %v", r))
				}
			}()
			c.executeCollectionJob(job)
		}(job)
	}
	batch.Wait()

	reelJobs, err := c.storage.ReelStatJobs().ClaimPending(c.ctx, batchSize)
	if err != nil {
		return len(jobs) > 0, fmt.Errorf("failed to claim reel-stat jobs: %w", err)
	}
	for _, job := range reelJobs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Error().
						Str("job_id", job.ID).
						Str("panic", fmt.Sprintf("%v", r)).
						Msg("Recovered from panic in reel-stat job")
					c.storage.ReelStatJobs().FailJob(c.ctx, job.ID, fmt.Sprintf("job panicked: %v", r))
				}
			}()
			c.executeReelStatJob(job)
		}()
	}

	return len(jobs)+len(reelJobs) > 0, nil
}

// executeCollectionJob runs each enabled subtask through the provider cycle.
// A provider failure on any subtask fails the whole job; remaining pending
// subtasks are marked failed alongside it.
func (c *Collector) executeCollectionJob(job *models.CollectionJob) {
	c.logger.Info().
		Str("job_id", job.ID).
		Str("username", job.Username).
		Msg("Executing collection job")

	datasets := c.config.BrightData.Datasets
	subtasks := []struct {
		name    string
		enabled bool
		dataset string
		size    interfaces.SnapshotSize
		kind    string
	}{
		{models.SubtaskProfile, job.IncludeProfile, datasets.Profile, interfaces.SnapshotSmall, ""},
		{models.SubtaskPosts, job.IncludePosts, datasets.Posts, interfaces.SnapshotLarge, models.KindPost},
		{models.SubtaskReels, job.IncludeReels, datasets.Reels, interfaces.SnapshotLarge, models.KindReel},
	}

	var lastPayload json.RawMessage
	var resultCount int

	for _, st := range subtasks {
		if !st.enabled {
			continue
		}

		job.Subtasks[st.name] = models.SubtaskProcessing
		c.updateSubtasks(job)

		records, err := c.provider.Collect(c.ctx, st.dataset, targetInput(job.Username), st.size)
		if err != nil {
			c.logger.Error().
				Err(err).
				Str("job_id", job.ID).
				Str("subtask", st.name).
				Msg("Subtask acquisition failed")

			job.Subtasks[st.name] = models.SubtaskFailed
			for name, status := range job.Subtasks {
				if status == models.SubtaskPending {
					job.Subtasks[name] = models.SubtaskFailed
				}
			}
			c.updateSubtasks(job)
			c.failJob(job.ID, fmt.Sprintf("subtask %s: %v", st.name, err))
			return
		}

		if st.kind != "" {
			resultCount += c.persistItems(job, st.kind, records)
		} else {
			resultCount += len(records)
		}
		if payload, err := json.Marshal(records); err == nil {
			lastPayload = payload
		}

		job.Subtasks[st.name] = models.SubtaskCompleted
		c.updateSubtasks(job)
	}

	applied, err := c.storage.CollectionJobs().CompleteJob(c.ctx, job.ID, lastPayload, resultCount)
	if err != nil {
		c.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to persist job completion")
		return
	}
	if !applied {
		// The row left processing while we worked, e.g. an external cancel.
		// The outcome is discarded rather than regressing a terminal status.
		c.logger.Warn().Str("job_id", job.ID).Msg("Job no longer processing; completion discarded")
		return
	}

	c.logger.Info().
		Str("job_id", job.ID).
		Str("username", job.Username).
		Int("result_count", resultCount).
		Msg("Collection job completed")
}

// executeReelStatJob refreshes the play count for a single reel URL
func (c *Collector) executeReelStatJob(job *models.ReelStatJob) {
	c.logger.Info().
		Str("job_id", job.ID).
		Str("reel_url", job.ReelURL).
		Msg("Executing reel-stat job")

	input := []map[string]interface{}{{"url": job.ReelURL}}
	records, err := c.provider.Collect(c.ctx, c.config.BrightData.Datasets.ReelStats, input, interfaces.SnapshotSmall)
	if err != nil {
		c.logger.Error().Err(err).Str("job_id", job.ID).Msg("Reel-stat acquisition failed")
		c.storage.ReelStatJobs().FailJob(c.ctx, job.ID, err.Error())
		return
	}
	if len(records) == 0 {
		c.storage.ReelStatJobs().FailJob(c.ctx, job.ID, "provider returned no records for reel")
		return
	}

	playCount := extractPlayCount(records[0])
	payload, _ := json.Marshal(records)

	applied, err := c.storage.ReelStatJobs().CompleteJob(c.ctx, job.ID, playCount, payload)
	if err != nil {
		c.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to persist reel-stat completion")
		return
	}
	if !applied {
		c.logger.Warn().Str("job_id", job.ID).Msg("Reel-stat job no longer processing; completion discarded")
	}
}

// persistItems normalizes and stores acquired records as content items,
// re-hosting thumbnails when a media store is configured. Item-level
// persistence errors are logged and skipped; they do not fail the subtask.
func (c *Collector) persistItems(job *models.CollectionJob, kind string, records []json.RawMessage) int {
	count := 0
	for _, record := range records {
		item, err := normalizeRecord(job.Username, kind, record)
		if err != nil {
			c.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Skipping unparseable record")
			continue
		}

		if c.media != nil && item.ImageURL != "" {
			if url, err := rehostImage(c.ctx, c.media, item); err != nil {
				c.logger.Warn().Err(err).Str("item_id", item.ID).Msg("Media re-host failed")
			} else {
				item.MediaURL = url
			}
		}

		if err := c.storage.Content().UpsertItem(c.ctx, item); err != nil {
			c.logger.Warn().Err(err).Str("item_id", item.ID).Msg("Failed to persist content item")
			continue
		}
		count++
	}
	return count
}

func (c *Collector) updateSubtasks(job *models.CollectionJob) {
	if err := c.storage.CollectionJobs().UpdateSubtasks(c.ctx, job.ID, job.Subtasks); err != nil {
		c.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to persist subtask statuses")
	}
}

func (c *Collector) failJob(jobID, errorMsg string) {
	applied, err := c.storage.CollectionJobs().FailJob(c.ctx, jobID, errorMsg)
	if err != nil {
		c.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to persist job failure")
		return
	}
	if !applied {
		c.logger.Warn().Str("job_id", jobID).Msg("Job no longer processing; failure discarded")
	}
}

// targetInput builds the provider trigger input for a profile username
func targetInput(username string) []map[string]interface{} {
	return []map[string]interface{}{
		{"url": fmt.Sprintf("https://www.instagram.com/%s/", username)},
	}
}

// stackTrace returns a formatted stack trace for panic diagnosis
func stackTrace() string {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}
