package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/ternarybob/colligo/internal/storage/sqlite"
)

func newTestRunner(t *testing.T) (*Runner, interfaces.StorageManager, *common.Config) {
	t.Helper()
	config := common.DefaultConfig()
	manager, err := sqlite.NewManager(arbor.NewLogger(), &common.SQLiteConfig{
		Path:          filepath.Join(t.TempDir(), "test.db"),
		BusyTimeoutMS: 5000,
		WALMode:       true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })

	runner := NewRunner(manager.Schedules(), manager.CollectionJobs(), config, arbor.NewLogger())
	return runner, manager, config
}

// activeSchedule builds a schedule covering today whose hour matches now in
// the reporting timezone.
func activeSchedule(config *common.Config, username string) (*models.CollectionSchedule, time.Time) {
	now := time.Now().In(config.Location())
	schedule := models.NewCollectionSchedule(
		username,
		"https://www.instagram.com/"+username+"/",
		now.Hour(),
		now.AddDate(0, 0, -1),
		now.AddDate(0, 0, 1),
	)
	return schedule, now
}

func pendingJobs(t *testing.T, storage interfaces.StorageManager) []*models.CollectionJob {
	t.Helper()
	jobs, err := storage.CollectionJobs().ListJobs(context.Background(), &interfaces.ListOptions{Status: "pending"})
	require.NoError(t, err)
	return jobs
}

func TestRunPassEnqueuesDueSchedule(t *testing.T) {
	ctx := context.Background()
	runner, storage, config := newTestRunner(t)

	schedule, _ := activeSchedule(config, "creator1")
	schedule.IncludeReels = false
	schedule.Priority = 7
	require.NoError(t, storage.Schedules().SaveSchedule(ctx, schedule))

	errs := runner.RunPass(ctx, false)
	require.Empty(t, errs)

	jobs := pendingJobs(t, storage)
	require.Len(t, jobs, 1)
	job := jobs[0]
	assert.Equal(t, "creator1", job.Username)
	assert.Equal(t, 7, job.Priority)
	assert.True(t, job.IncludeProfile)
	assert.True(t, job.IncludePosts)
	assert.False(t, job.IncludeReels)
	assert.Equal(t, schedule.ID, job.Metadata["schedule_id"])
}

func TestRunPassSkipsWrongHour(t *testing.T) {
	ctx := context.Background()
	runner, storage, config := newTestRunner(t)

	schedule, now := activeSchedule(config, "creator1")
	schedule.Hour = (now.Hour() + 2) % 24
	require.NoError(t, storage.Schedules().SaveSchedule(ctx, schedule))

	errs := runner.RunPass(ctx, false)
	require.Empty(t, errs)
	assert.Empty(t, pendingJobs(t, storage))
}

func TestRunPassForceBypassesHourMatch(t *testing.T) {
	ctx := context.Background()
	runner, storage, config := newTestRunner(t)

	schedule, now := activeSchedule(config, "creator1")
	schedule.Hour = (now.Hour() + 2) % 24
	require.NoError(t, storage.Schedules().SaveSchedule(ctx, schedule))

	errs := runner.RunPass(ctx, true)
	require.Empty(t, errs)
	assert.Len(t, pendingJobs(t, storage), 1)
}

func TestRunPassSkipsScheduleSatisfiedToday(t *testing.T) {
	ctx := context.Background()
	runner, storage, config := newTestRunner(t)

	schedule, _ := activeSchedule(config, "creator1")
	require.NoError(t, storage.Schedules().SaveSchedule(ctx, schedule))

	errs := runner.RunPass(ctx, true)
	require.Empty(t, errs)

	// Complete today's job; a re-entrant pass must not enqueue another
	claimed, err := storage.CollectionJobs().ClaimPending(ctx, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	applied, err := storage.CollectionJobs().CompleteJob(ctx, claimed[0].ID, nil, 1)
	require.NoError(t, err)
	require.True(t, applied)

	errs = runner.RunPass(ctx, true)
	require.Empty(t, errs)
	assert.Empty(t, pendingJobs(t, storage))
}

func TestRunPassSkipsOutsideDateRange(t *testing.T) {
	ctx := context.Background()
	runner, storage, config := newTestRunner(t)

	now := time.Now().In(config.Location())
	schedule := models.NewCollectionSchedule(
		"creator1",
		"https://www.instagram.com/creator1/",
		now.Hour(),
		now.AddDate(0, 0, -10),
		now.AddDate(0, 0, -3),
	)
	require.NoError(t, storage.Schedules().SaveSchedule(ctx, schedule))

	errs := runner.RunPass(ctx, true)
	require.Empty(t, errs)
	assert.Empty(t, pendingJobs(t, storage))
}

func TestCoversDayBoundsAreInclusive(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Bangkok")
	require.NoError(t, err)

	start := time.Date(2026, 8, 1, 0, 0, 0, 0, loc)
	end := time.Date(2026, 8, 10, 0, 0, 0, 0, loc)
	schedule := models.NewCollectionSchedule("creator1", "", 9, start, end)

	tests := []struct {
		name string
		day  time.Time
		want bool
	}{
		{"before range", time.Date(2026, 7, 31, 23, 0, 0, 0, loc), false},
		{"first day", time.Date(2026, 8, 1, 0, 30, 0, 0, loc), true},
		{"mid range", time.Date(2026, 8, 5, 12, 0, 0, 0, loc), true},
		{"last day late", time.Date(2026, 8, 10, 23, 59, 0, 0, loc), true},
		{"after range", time.Date(2026, 8, 11, 0, 0, 0, 0, loc), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, schedule.CoversDay(tt.day))
		})
	}
}
