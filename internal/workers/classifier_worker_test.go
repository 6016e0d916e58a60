package workers

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/ternarybob/colligo/internal/services/aggregation"
)

// fakeClassifier is a scripted classification provider
type fakeClassifier struct {
	mu      sync.Mutex
	seen    []*interfaces.ClassifyRequest
	respond func(req *interfaces.ClassifyRequest) (*interfaces.Classification, error)
}

func (c *fakeClassifier) Classify(ctx context.Context, req *interfaces.ClassifyRequest) (*interfaces.Classification, error) {
	c.mu.Lock()
	c.seen = append(c.seen, req)
	c.mu.Unlock()
	return c.respond(req)
}

func (c *fakeClassifier) requests() []*interfaces.ClassifyRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*interfaces.ClassifyRequest(nil), c.seen...)
}

func parsedVerdict(label string, confidence float64) (*interfaces.Classification, error) {
	return &interfaces.Classification{
		Parsed:     true,
		Label:      label,
		Confidence: &confidence,
		Raw:        fmt.Sprintf(`{"label": %q, "confidence": %v}`, label, confidence),
	}, nil
}

func newClassifierWorker(storage interfaces.StorageManager, classifier interfaces.Classifier) *ClassifierWorker {
	logger := arbor.NewLogger()
	engine := aggregation.NewEngine(storage.Results(), storage.Overrides(), logger)
	return NewClassifierWorker(storage, classifier, engine, nil, workerConfig(), logger)
}

func seedItems(t *testing.T, storage interfaces.StorageManager, subjectID string, ids ...string) {
	t.Helper()
	for i, id := range ids {
		item := &models.ContentItem{
			ID:        id,
			SubjectID: subjectID,
			Kind:      models.KindPost,
			Caption:   fmt.Sprintf("caption %d", i),
			PostedAt:  time.Now().Add(-time.Duration(i) * time.Hour),
			CreatedAt: time.Now(),
		}
		require.NoError(t, storage.Content().UpsertItem(context.Background(), item))
	}
}

func claimClassification(t *testing.T, storage interfaces.StorageManager) *models.ClassificationJob {
	t.Helper()
	jobs, err := storage.ClassificationJobs().ClaimPending(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	return jobs[0]
}

func TestExecuteJobClassifiesEveryItemAndDimension(t *testing.T) {
	ctx := context.Background()
	storage := newWorkerStorage(t)
	seedItems(t, storage, "creator1", "p1", "p2")

	classifier := &fakeClassifier{
		respond: func(req *interfaces.ClassifyRequest) (*interfaces.Classification, error) {
			return parsedVerdict("Inspire", 0.9)
		},
	}
	worker := newClassifierWorker(storage, classifier)

	job := models.NewClassificationJob("creator1", []string{"motivation", "category"}, 1)
	require.NoError(t, storage.ClassificationJobs().SaveJob(ctx, job))

	worker.executeJob(claimClassification(t, storage))

	stored, err := storage.ClassificationJobs().GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, stored.Status)
	assert.Equal(t, 4, stored.ResultCount)
	assert.Zero(t, stored.FailedCount)
	assert.Len(t, classifier.requests(), 4)

	for _, dimension := range []string{"motivation", "category"} {
		results, err := storage.Results().ListBySubject(ctx, "creator1", dimension, job.ID)
		require.NoError(t, err)
		assert.Len(t, results, 2)
	}
}

func TestExecuteJobContinuesAfterItemFailures(t *testing.T) {
	ctx := context.Background()
	storage := newWorkerStorage(t)
	seedItems(t, storage, "creator1", "p1", "p2", "p3")

	classifier := &fakeClassifier{
		respond: func(req *interfaces.ClassifyRequest) (*interfaces.Classification, error) {
			if req.Text == "caption 1" {
				return nil, fmt.Errorf("model overloaded")
			}
			return parsedVerdict("Sell", 0.8)
		},
	}
	worker := newClassifierWorker(storage, classifier)

	job := models.NewClassificationJob("creator1", []string{"motivation"}, 1)
	require.NoError(t, storage.ClassificationJobs().SaveJob(ctx, job))

	worker.executeJob(claimClassification(t, storage))

	stored, err := storage.ClassificationJobs().GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, stored.Status)
	assert.Equal(t, 2, stored.ResultCount)
	assert.Equal(t, 1, stored.FailedCount)

	// The failure is recorded as a result row, not silently dropped
	results, err := storage.Results().ListBySubject(ctx, "creator1", "motivation", job.ID)
	require.NoError(t, err)
	require.Len(t, results, 3)
	var errored int
	for _, r := range results {
		if r.Error != "" {
			errored++
			assert.Contains(t, r.Error, "model overloaded")
		}
	}
	assert.Equal(t, 1, errored)
}

func TestExecuteJobRecordsUnparsedVerdictAsFailure(t *testing.T) {
	ctx := context.Background()
	storage := newWorkerStorage(t)
	seedItems(t, storage, "creator1", "p1")

	classifier := &fakeClassifier{
		respond: func(req *interfaces.ClassifyRequest) (*interfaces.Classification, error) {
			return &interfaces.Classification{Parsed: false, Raw: "I cannot determine the motivation."}, nil
		},
	}
	worker := newClassifierWorker(storage, classifier)

	job := models.NewClassificationJob("creator1", []string{"motivation"}, 1)
	require.NoError(t, storage.ClassificationJobs().SaveJob(ctx, job))

	worker.executeJob(claimClassification(t, storage))

	stored, err := storage.ClassificationJobs().GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, stored.Status)
	assert.Equal(t, 1, stored.FailedCount)

	results, err := storage.Results().ListBySubject(ctx, "creator1", "motivation", job.ID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.NotEmpty(t, results[0].Error)
	assert.Equal(t, "I cannot determine the motivation.", results[0].RawResponse)
}

func TestClassifierWorkerProcessesJobsAfterRestart(t *testing.T) {
	ctx := context.Background()
	storage := newWorkerStorage(t)
	seedItems(t, storage, "creator1", "p1")

	classifier := &fakeClassifier{
		respond: func(req *interfaces.ClassifyRequest) (*interfaces.Classification, error) {
			return parsedVerdict("Inspire", 0.9)
		},
	}

	config := workerConfig()
	config.Workers.IdleDelay = 10 * time.Millisecond
	config.Workers.ErrorBackoff = 10 * time.Millisecond
	config.Workers.StopTimeout = time.Second
	logger := arbor.NewLogger()
	engine := aggregation.NewEngine(storage.Results(), storage.Overrides(), logger)
	worker := NewClassifierWorker(storage, classifier, engine, nil, config, logger)

	require.NoError(t, worker.Start())
	require.NoError(t, worker.Stop())

	job := models.NewClassificationJob("creator1", []string{"motivation"}, 1)
	require.NoError(t, storage.ClassificationJobs().SaveJob(ctx, job))

	require.NoError(t, worker.Start())
	defer worker.Stop()

	assert.True(t, worker.Status().LoopAlive)
	require.Eventually(t, func() bool {
		stored, err := storage.ClassificationJobs().GetJob(ctx, job.ID)
		return err == nil && stored.Status == models.JobStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)
}

func TestExecuteJobFailsWithoutContentItems(t *testing.T) {
	ctx := context.Background()
	storage := newWorkerStorage(t)

	classifier := &fakeClassifier{
		respond: func(req *interfaces.ClassifyRequest) (*interfaces.Classification, error) {
			t.Fatal("classifier must not be called without items")
			return nil, nil
		},
	}
	worker := newClassifierWorker(storage, classifier)

	job := models.NewClassificationJob("creator1", []string{"motivation"}, 1)
	require.NoError(t, storage.ClassificationJobs().SaveJob(ctx, job))

	worker.executeJob(claimClassification(t, storage))

	stored, err := storage.ClassificationJobs().GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, stored.Status)
	assert.Contains(t, stored.Error, "no content items")
}

func TestPromptVariantSelectsSystemPrompt(t *testing.T) {
	ctx := context.Background()
	storage := newWorkerStorage(t)
	seedItems(t, storage, "creator1", "p1")

	classifier := &fakeClassifier{
		respond: func(req *interfaces.ClassifyRequest) (*interfaces.Classification, error) {
			return parsedVerdict("Inspire", 0.9)
		},
	}

	config := workerConfig()
	config.LLM.Prompts = map[string]string{
		"default": "default prompt",
		"concise": "concise prompt",
	}
	logger := arbor.NewLogger()
	engine := aggregation.NewEngine(storage.Results(), storage.Overrides(), logger)
	worker := NewClassifierWorker(storage, classifier, engine, nil, config, logger)

	job := models.NewClassificationJob("creator1", []string{"motivation"}, 1)
	job.Metadata["prompt_variant"] = "concise"
	require.NoError(t, storage.ClassificationJobs().SaveJob(ctx, job))

	worker.executeJob(claimClassification(t, storage))

	requests := classifier.requests()
	require.Len(t, requests, 1)
	assert.Equal(t, "concise prompt", requests[0].SystemPrompt)
}

func TestPromptVariantFallsBackToDefault(t *testing.T) {
	ctx := context.Background()
	storage := newWorkerStorage(t)
	seedItems(t, storage, "creator1", "p1")

	classifier := &fakeClassifier{
		respond: func(req *interfaces.ClassifyRequest) (*interfaces.Classification, error) {
			return parsedVerdict("Inspire", 0.9)
		},
	}

	config := workerConfig()
	config.LLM.Prompts = map[string]string{"default": "default prompt"}
	logger := arbor.NewLogger()
	engine := aggregation.NewEngine(storage.Results(), storage.Overrides(), logger)
	worker := NewClassifierWorker(storage, classifier, engine, nil, config, logger)

	job := models.NewClassificationJob("creator1", []string{"motivation"}, 1)
	job.Metadata["prompt_variant"] = "nonexistent"
	require.NoError(t, storage.ClassificationJobs().SaveJob(ctx, job))

	worker.executeJob(claimClassification(t, storage))

	requests := classifier.requests()
	require.Len(t, requests, 1)
	assert.Equal(t, "default prompt", requests[0].SystemPrompt)
}
