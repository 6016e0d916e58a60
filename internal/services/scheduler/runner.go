// -----------------------------------------------------------------------
// Schedule Runner - hourly evaluation of recurring collection schedules
// -----------------------------------------------------------------------

package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// Runner evaluates recurring collection schedules once per hour and enqueues
// collection jobs for schedules whose target hour matches the current hour
// in the reporting timezone.
type Runner struct {
	schedules interfaces.ScheduleStorage
	jobs      interfaces.CollectionJobStorage
	config    *common.Config
	logger    arbor.ILogger
	cron      *cron.Cron
	entryID   cron.EntryID
	running   bool
}

// NewRunner creates a new schedule runner
func NewRunner(
	schedules interfaces.ScheduleStorage,
	jobs interfaces.CollectionJobStorage,
	config *common.Config,
	logger arbor.ILogger,
) *Runner {
	return &Runner{
		schedules: schedules,
		jobs:      jobs,
		config:    config,
		logger:    logger,
		cron:      cron.New(),
	}
}

// Start registers the hourly pass and starts the cron scheduler
func (r *Runner) Start() error {
	if r.running {
		r.logger.Warn().Msg("Schedule runner already running")
		return nil
	}

	entryID, err := r.cron.AddFunc("@hourly", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		if errs := r.RunPass(ctx, false); len(errs) > 0 {
			for _, err := range errs {
				r.logger.Error().Err(err).Msg("Schedule pass error")
			}
		}
	})
	if err != nil {
		return fmt.Errorf("failed to register hourly schedule pass: %w", err)
	}
	r.entryID = entryID

	r.cron.Start()
	r.running = true
	r.logger.Info().Msg("Schedule runner started")
	return nil
}

// Stop stops the cron scheduler and waits for a running pass to finish
func (r *Runner) Stop() error {
	if !r.running {
		return nil
	}

	stopCtx := r.cron.Stop()
	<-stopCtx.Done()
	r.running = false
	r.logger.Info().Msg("Schedule runner stopped")
	return nil
}

// RunPass evaluates every active schedule once. force bypasses the hour
// match for administrative re-runs. Each schedule commits independently;
// per-schedule failures are collected and returned rather than aborting
// the pass.
func (r *Runner) RunPass(ctx context.Context, force bool) []error {
	now := time.Now().In(r.config.Location())

	schedules, err := r.schedules.ListActive(ctx)
	if err != nil {
		return []error{fmt.Errorf("failed to list active schedules: %w", err)}
	}

	var errs []error
	var enqueued int
	for _, schedule := range schedules {
		processed, err := r.processSchedule(ctx, schedule, now, force)
		if err != nil {
			r.logger.Error().
				Err(err).
				Str("schedule_id", schedule.ID).
				Str("username", schedule.Username).
				Msg("Schedule processing failed")
			errs = append(errs, fmt.Errorf("schedule %s: %w", schedule.ID, err))
			continue
		}
		if processed {
			enqueued++
		}
	}

	r.logger.Info().
		Int("schedules", len(schedules)).
		Int("enqueued", enqueued).
		Int("errors", len(errs)).
		Bool("force", force).
		Msg("Schedule pass finished")

	return errs
}

// processSchedule enqueues one collection job for the schedule if it is due.
// Returns whether a job was enqueued.
func (r *Runner) processSchedule(ctx context.Context, schedule *models.CollectionSchedule, now time.Time, force bool) (bool, error) {
	if !schedule.CoversDay(now) {
		return false, nil
	}
	if !force && schedule.Hour != now.Hour() {
		return false, nil
	}

	// A completed job earlier today means this schedule already ran; a
	// re-entrant pass within the same day must never double-enqueue.
	done, err := r.jobs.HasCompletedOnDay(ctx, schedule.Username, now)
	if err != nil {
		return false, fmt.Errorf("idempotency check failed: %w", err)
	}
	if done {
		r.logger.Debug().
			Str("schedule_id", schedule.ID).
			Str("username", schedule.Username).
			Msg("Schedule already satisfied today; skipping")
		return false, nil
	}

	job := models.NewCollectionJob(
		schedule.Username,
		schedule.Priority,
		schedule.IncludeProfile,
		schedule.IncludePosts,
		schedule.IncludeReels,
	)
	job.Metadata["schedule_id"] = schedule.ID
	if schedule.TargetURL != "" {
		job.Metadata["target_url"] = schedule.TargetURL
	}

	if err := r.jobs.SaveJob(ctx, job); err != nil {
		return false, fmt.Errorf("failed to enqueue job: %w", err)
	}

	r.logger.Info().
		Str("schedule_id", schedule.ID).
		Str("job_id", job.ID).
		Str("username", schedule.Username).
		Msg("Scheduled collection job enqueued")
	return true, nil
}
