package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
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

func newWorkerStorage(t *testing.T) interfaces.StorageManager {
	t.Helper()
	manager, err := sqlite.NewManager(arbor.NewLogger(), &common.SQLiteConfig{
		Path:          filepath.Join(t.TempDir(), "test.db"),
		BusyTimeoutMS: 5000,
		WALMode:       true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })
	return manager
}

func workerConfig() *common.Config {
	config := common.DefaultConfig()
	config.Workers.ClassifyPacing = time.Millisecond
	config.BrightData.Datasets = common.BrightDataDatasetsMap{
		Profile:   "ds_profile",
		Posts:     "ds_posts",
		Reels:     "ds_reels",
		ReelStats: "ds_reel_stats",
	}
	return config
}

// fakeProvider is a scripted acquisition provider. respond receives the
// dataset and the trigger input and decides the outcome.
type fakeProvider struct {
	mu      sync.Mutex
	calls   []string
	respond func(datasetID string, input []map[string]interface{}) ([]json.RawMessage, error)
}

func (p *fakeProvider) Trigger(ctx context.Context, datasetID string, input []map[string]interface{}) (string, error) {
	return "snap_test", nil
}

func (p *fakeProvider) Poll(ctx context.Context, snapshotID string) (*interfaces.PollOutcome, error) {
	return &interfaces.PollOutcome{State: interfaces.PollPending}, nil
}

func (p *fakeProvider) FetchRemote(ctx context.Context, urls []string) ([]json.RawMessage, error) {
	return nil, nil
}

func (p *fakeProvider) Collect(ctx context.Context, datasetID string, input []map[string]interface{}, size interfaces.SnapshotSize) ([]json.RawMessage, error) {
	p.mu.Lock()
	p.calls = append(p.calls, datasetID)
	p.mu.Unlock()
	return p.respond(datasetID, input)
}

func (p *fakeProvider) callsSeen() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func rawRecords(t *testing.T, records ...map[string]interface{}) []json.RawMessage {
	t.Helper()
	out := make([]json.RawMessage, 0, len(records))
	for _, record := range records {
		data, err := json.Marshal(record)
		require.NoError(t, err)
		out = append(out, data)
	}
	return out
}

func claimOneCollection(t *testing.T, storage interfaces.StorageManager) *models.CollectionJob {
	t.Helper()
	jobs, err := storage.CollectionJobs().ClaimPending(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	return jobs[0]
}

func TestExecuteCollectionJobRunsEnabledSubtasks(t *testing.T) {
	ctx := context.Background()
	storage := newWorkerStorage(t)

	provider := &fakeProvider{
		respond: func(datasetID string, input []map[string]interface{}) ([]json.RawMessage, error) {
			switch datasetID {
			case "ds_profile":
				return rawRecords(t, map[string]interface{}{"followers": 1200}), nil
			case "ds_posts":
				return rawRecords(t,
					map[string]interface{}{"post_id": "p1", "caption": "first", "display_url": "https://cdn.example.com/p1.jpg"},
					map[string]interface{}{"post_id": "p2", "caption": "second"},
				), nil
			default:
				return nil, fmt.Errorf("unexpected dataset %s", datasetID)
			}
		},
	}
	collector := NewCollector(storage, provider, nil, workerConfig(), arbor.NewLogger())

	job := models.NewCollectionJob("creator1", 1, true, true, false)
	require.NoError(t, storage.CollectionJobs().SaveJob(ctx, job))

	collector.executeCollectionJob(claimOneCollection(t, storage))

	stored, err := storage.CollectionJobs().GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, stored.Status)
	assert.Equal(t, 3, stored.ResultCount)
	assert.Equal(t, models.SubtaskCompleted, stored.Subtasks[models.SubtaskProfile])
	assert.Equal(t, models.SubtaskCompleted, stored.Subtasks[models.SubtaskPosts])
	assert.Equal(t, models.SubtaskSkipped, stored.Subtasks[models.SubtaskReels])

	assert.Equal(t, []string{"ds_profile", "ds_posts"}, provider.callsSeen())

	items, err := storage.Content().ListBySubject(ctx, "creator1")
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestExecuteCollectionJobFailureMarksRemainingSubtasks(t *testing.T) {
	ctx := context.Background()
	storage := newWorkerStorage(t)

	provider := &fakeProvider{
		respond: func(datasetID string, input []map[string]interface{}) ([]json.RawMessage, error) {
			if datasetID == "ds_posts" {
				return nil, fmt.Errorf("snapshot snap_test failed: account is private")
			}
			return rawRecords(t, map[string]interface{}{"followers": 10}), nil
		},
	}
	collector := NewCollector(storage, provider, nil, workerConfig(), arbor.NewLogger())

	job := models.NewCollectionJob("creator1", 1, true, true, true)
	require.NoError(t, storage.CollectionJobs().SaveJob(ctx, job))

	collector.executeCollectionJob(claimOneCollection(t, storage))

	stored, err := storage.CollectionJobs().GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, stored.Status)
	assert.Contains(t, stored.Error, "subtask posts")
	assert.Equal(t, models.SubtaskCompleted, stored.Subtasks[models.SubtaskProfile])
	assert.Equal(t, models.SubtaskFailed, stored.Subtasks[models.SubtaskPosts])
	// Never attempted, so the reels subtask fails alongside the job
	assert.Equal(t, models.SubtaskFailed, stored.Subtasks[models.SubtaskReels])
	assert.NotContains(t, provider.callsSeen(), "ds_reels")
}

func TestExecuteCollectionJobDiscardsOutcomeAfterCancel(t *testing.T) {
	ctx := context.Background()
	storage := newWorkerStorage(t)

	provider := &fakeProvider{
		respond: func(datasetID string, input []map[string]interface{}) ([]json.RawMessage, error) {
			return rawRecords(t, map[string]interface{}{"followers": 10}), nil
		},
	}
	collector := NewCollector(storage, provider, nil, workerConfig(), arbor.NewLogger())

	job := models.NewCollectionJob("creator1", 1, true, false, false)
	require.NoError(t, storage.CollectionJobs().SaveJob(ctx, job))

	claimed := claimOneCollection(t, storage)

	// Cancel lands while the worker holds the job
	_, err := storage.CollectionJobs().CancelActive(ctx, "operator request")
	require.NoError(t, err)

	collector.executeCollectionJob(claimed)

	stored, err := storage.CollectionJobs().GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, stored.Status)
	assert.Zero(t, stored.ResultCount)
}

func TestIterateIsolatesPanickingJob(t *testing.T) {
	ctx := context.Background()
	storage := newWorkerStorage(t)

	provider := &fakeProvider{
		respond: func(datasetID string, input []map[string]interface{}) ([]json.RawMessage, error) {
			if url, _ := input[0]["url"].(string); strings.Contains(url, "badcreator") {
				panic("scripted crash")
			}
			return rawRecords(t, map[string]interface{}{"followers": 10}), nil
		},
	}
	collector := NewCollector(storage, provider, nil, workerConfig(), arbor.NewLogger())

	good := models.NewCollectionJob("goodcreator", 1, true, false, false)
	bad := models.NewCollectionJob("badcreator", 1, true, false, false)
	require.NoError(t, storage.CollectionJobs().SaveJob(ctx, good))
	require.NoError(t, storage.CollectionJobs().SaveJob(ctx, bad))

	processed, err := collector.iterate()
	require.NoError(t, err)
	assert.True(t, processed)

	storedGood, err := storage.CollectionJobs().GetJob(ctx, good.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, storedGood.Status)

	storedBad, err := storage.CollectionJobs().GetJob(ctx, bad.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, storedBad.Status)
	assert.Contains(t, storedBad.Error, "job panicked")
}

func TestCollectorProcessesJobsAfterRestart(t *testing.T) {
	ctx := context.Background()
	storage := newWorkerStorage(t)

	provider := &fakeProvider{
		respond: func(datasetID string, input []map[string]interface{}) ([]json.RawMessage, error) {
			return rawRecords(t, map[string]interface{}{"followers": 10}), nil
		},
	}

	config := workerConfig()
	config.Workers.IdleDelay = 10 * time.Millisecond
	config.Workers.ErrorBackoff = 10 * time.Millisecond
	config.Workers.StopTimeout = time.Second
	collector := NewCollector(storage, provider, nil, config, arbor.NewLogger())

	require.NoError(t, collector.Start())
	require.NoError(t, collector.Stop())

	// A job enqueued after the stop/start cycle must still get picked up
	job := models.NewCollectionJob("creator1", 1, true, false, false)
	require.NoError(t, storage.CollectionJobs().SaveJob(ctx, job))

	require.NoError(t, collector.Start())
	defer collector.Stop()

	assert.True(t, collector.Status().LoopAlive)
	require.Eventually(t, func() bool {
		stored, err := storage.CollectionJobs().GetJob(ctx, job.ID)
		return err == nil && stored.Status == models.JobStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)
}

func TestExecuteReelStatJobRecordsPlayCount(t *testing.T) {
	ctx := context.Background()
	storage := newWorkerStorage(t)

	provider := &fakeProvider{
		respond: func(datasetID string, input []map[string]interface{}) ([]json.RawMessage, error) {
			assert.Equal(t, "ds_reel_stats", datasetID)
			return rawRecords(t, map[string]interface{}{"play_count": 12345}), nil
		},
	}
	collector := NewCollector(storage, provider, nil, workerConfig(), arbor.NewLogger())

	job := models.NewReelStatJob("https://www.instagram.com/reel/abc123/", 1)
	require.NoError(t, storage.ReelStatJobs().SaveJob(ctx, job))

	claimed, err := storage.ReelStatJobs().ClaimPending(ctx, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	collector.executeReelStatJob(claimed[0])

	stored, err := storage.ReelStatJobs().GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, stored.Status)
	assert.Equal(t, int64(12345), stored.PlayCount)
}

func TestExecuteReelStatJobFailsOnEmptyResponse(t *testing.T) {
	ctx := context.Background()
	storage := newWorkerStorage(t)

	provider := &fakeProvider{
		respond: func(datasetID string, input []map[string]interface{}) ([]json.RawMessage, error) {
			return nil, nil
		},
	}
	collector := NewCollector(storage, provider, nil, workerConfig(), arbor.NewLogger())

	job := models.NewReelStatJob("https://www.instagram.com/reel/abc123/", 1)
	require.NoError(t, storage.ReelStatJobs().SaveJob(ctx, job))

	claimed, err := storage.ReelStatJobs().ClaimPending(ctx, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	collector.executeReelStatJob(claimed[0])

	stored, err := storage.ReelStatJobs().GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, stored.Status)
	assert.Contains(t, stored.Error, "no records")
}

func TestNormalizeRecordTolerantKeys(t *testing.T) {
	tests := []struct {
		name     string
		record   map[string]interface{}
		wantID   string
		wantErr  bool
		caption  string
		imageURL string
	}{
		{
			name:     "post keys",
			record:   map[string]interface{}{"post_id": "p1", "caption": "hello", "display_url": "https://x/p1.jpg"},
			wantID:   "p1",
			caption:  "hello",
			imageURL: "https://x/p1.jpg",
		},
		{
			name:     "alternate keys",
			record:   map[string]interface{}{"shortcode": "s1", "description": "alt", "thumbnail": "https://x/s1.jpg"},
			wantID:   "s1",
			caption:  "alt",
			imageURL: "https://x/s1.jpg",
		},
		{
			name:    "no identifier",
			record:  map[string]interface{}{"caption": "orphan"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.record)
			require.NoError(t, err)

			item, err := normalizeRecord("creator1", models.KindPost, data)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, item.ID)
			assert.Equal(t, "creator1", item.SubjectID)
			assert.Equal(t, models.KindPost, item.Kind)
			assert.Equal(t, tt.caption, item.Caption)
			assert.Equal(t, tt.imageURL, item.ImageURL)
		})
	}
}

func TestExtractPlayCountKeyVariants(t *testing.T) {
	tests := []struct {
		name   string
		record string
		want   int64
	}{
		{"play_count", `{"play_count": 100}`, 100},
		{"video_play_count", `{"video_play_count": 200}`, 200},
		{"view_count", `{"view_count": 300}`, 300},
		{"missing", `{"likes": 5}`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractPlayCount(json.RawMessage(tt.record)))
		})
	}
}
