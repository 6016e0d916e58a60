// -----------------------------------------------------------------------
// Job models - durable job records shared by the worker loops
// -----------------------------------------------------------------------

package models

import (
	"encoding/json"
	"time"

	"github.com/ternarybob/colligo/internal/common"
)

// JobStatus represents the lifecycle state of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// IsTerminal returns true for statuses that end a job's lifecycle
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// SubtaskStatus tracks an independently-executable part of a collection job
type SubtaskStatus string

const (
	SubtaskPending    SubtaskStatus = "pending"
	SubtaskProcessing SubtaskStatus = "processing"
	SubtaskCompleted  SubtaskStatus = "completed"
	SubtaskFailed     SubtaskStatus = "failed"
	SubtaskSkipped    SubtaskStatus = "skipped"
)

// Subtask names for collection jobs
const (
	SubtaskProfile = "profile"
	SubtaskPosts   = "posts"
	SubtaskReels   = "reels"
)

// JobRecord is the common lifecycle shared by all job kinds. Workers and
// storage operate on anything satisfying this interface rather than a shared
// base struct.
type JobRecord interface {
	GetID() string
	GetStatus() JobStatus
	GetPriority() int
	CreatedTime() time.Time
	IsTerminal() bool
}

// CollectionJob requests a data-acquisition run for one creator profile.
// Profile, posts and reels are independently-tracked subtasks selected by
// the Include* flags.
type CollectionJob struct {
	ID             string                   `json:"id"`
	Username       string                   `json:"username"` // External reference: the profile being collected
	Priority       int                      `json:"priority"`
	Status         JobStatus                `json:"status"`
	IncludeProfile bool                     `json:"include_profile"`
	IncludePosts   bool                     `json:"include_posts"`
	IncludeReels   bool                     `json:"include_reels"`
	Subtasks       map[string]SubtaskStatus `json:"subtasks"`
	Metadata       map[string]interface{}   `json:"metadata,omitempty"`
	ResultPayload  json.RawMessage          `json:"result_payload,omitempty"` // Last successful provider response, kept for audit
	ResultCount    int                      `json:"result_count"`
	CreatedAt      time.Time                `json:"created_at"`
	StartedAt      *time.Time               `json:"started_at,omitempty"`
	CompletedAt    *time.Time               `json:"completed_at,omitempty"`
	Error          string                   `json:"error,omitempty"`
}

// NewCollectionJob creates a pending collection job for a username.
// Subtasks for disabled flags are recorded as skipped from the start so a
// worker never picks them up.
func NewCollectionJob(username string, priority int, includeProfile, includePosts, includeReels bool) *CollectionJob {
	job := &CollectionJob{
		ID:             common.NewJobID(),
		Username:       username,
		Priority:       priority,
		Status:         JobStatusPending,
		IncludeProfile: includeProfile,
		IncludePosts:   includePosts,
		IncludeReels:   includeReels,
		Subtasks:       make(map[string]SubtaskStatus, 3),
		Metadata:       make(map[string]interface{}),
		CreatedAt:      time.Now(),
	}
	job.ResetSubtasks()
	return job
}

// ResetSubtasks restores the initial subtask map: pending for enabled
// subtasks, skipped for disabled ones. Used at creation and by the orphan
// sweep when a processing job is returned to pending.
func (j *CollectionJob) ResetSubtasks() {
	set := func(name string, enabled bool) {
		if enabled {
			j.Subtasks[name] = SubtaskPending
		} else {
			j.Subtasks[name] = SubtaskSkipped
		}
	}
	set(SubtaskProfile, j.IncludeProfile)
	set(SubtaskPosts, j.IncludePosts)
	set(SubtaskReels, j.IncludeReels)
}

func (j *CollectionJob) GetID() string          { return j.ID }
func (j *CollectionJob) GetStatus() JobStatus   { return j.Status }
func (j *CollectionJob) GetPriority() int       { return j.Priority }
func (j *CollectionJob) CreatedTime() time.Time { return j.CreatedAt }
func (j *CollectionJob) IsTerminal() bool       { return j.Status.IsTerminal() }

// MarkStarted transitions pending -> processing. StartedAt is set exactly
// once; a second call on an already-started job leaves it untouched.
func (j *CollectionJob) MarkStarted() {
	j.Status = JobStatusProcessing
	if j.StartedAt == nil {
		now := time.Now()
		j.StartedAt = &now
	}
}

// MarkCompleted transitions into the completed terminal state
func (j *CollectionJob) MarkCompleted() {
	j.Status = JobStatusCompleted
	if j.CompletedAt == nil {
		now := time.Now()
		j.CompletedAt = &now
	}
}

// MarkFailed transitions into the failed terminal state with an error message
func (j *CollectionJob) MarkFailed(errorMsg string) {
	j.Status = JobStatusFailed
	j.Error = errorMsg
	if j.CompletedAt == nil {
		now := time.Now()
		j.CompletedAt = &now
	}
}

// ReelStatJob requests a play-count refresh for a single reel URL
type ReelStatJob struct {
	ID            string          `json:"id"`
	ReelURL       string          `json:"reel_url"` // External reference: the reel being refreshed
	Priority      int             `json:"priority"`
	Status        JobStatus       `json:"status"`
	PlayCount     int64           `json:"play_count"`
	ResultPayload json.RawMessage `json:"result_payload,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	Error         string          `json:"error,omitempty"`
}

// NewReelStatJob creates a pending reel-stat job for a reel URL
func NewReelStatJob(reelURL string, priority int) *ReelStatJob {
	return &ReelStatJob{
		ID:        common.NewJobID(),
		ReelURL:   reelURL,
		Priority:  priority,
		Status:    JobStatusPending,
		CreatedAt: time.Now(),
	}
}

func (j *ReelStatJob) GetID() string          { return j.ID }
func (j *ReelStatJob) GetStatus() JobStatus   { return j.Status }
func (j *ReelStatJob) GetPriority() int       { return j.Priority }
func (j *ReelStatJob) CreatedTime() time.Time { return j.CreatedAt }
func (j *ReelStatJob) IsTerminal() bool       { return j.Status.IsTerminal() }

// ClassificationJob requests AI classification of every content item known
// for a subject, across one or more dimensions.
type ClassificationJob struct {
	ID          string                 `json:"id"`
	SubjectID   string                 `json:"subject_id"`
	Dimensions  []string               `json:"dimensions"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"` // e.g. chosen prompt variant
	Priority    int                    `json:"priority"`
	Status      JobStatus              `json:"status"`
	ResultCount int                    `json:"result_count"`
	FailedCount int                    `json:"failed_count"`
	CreatedAt   time.Time              `json:"created_at"`
	StartedAt   *time.Time             `json:"started_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	Error       string                 `json:"error,omitempty"`
}

// NewClassificationJob creates a pending classification job
func NewClassificationJob(subjectID string, dimensions []string, priority int) *ClassificationJob {
	return &ClassificationJob{
		ID:         common.NewJobID(),
		SubjectID:  subjectID,
		Dimensions: dimensions,
		Metadata:   make(map[string]interface{}),
		Priority:   priority,
		Status:     JobStatusPending,
		CreatedAt:  time.Now(),
	}
}

func (j *ClassificationJob) GetID() string          { return j.ID }
func (j *ClassificationJob) GetStatus() JobStatus   { return j.Status }
func (j *ClassificationJob) GetPriority() int       { return j.Priority }
func (j *ClassificationJob) CreatedTime() time.Time { return j.CreatedAt }
func (j *ClassificationJob) IsTerminal() bool       { return j.Status.IsTerminal() }

// PromptVariant returns the prompt variant stored in job metadata, or empty
// string when the default prompt should be used.
func (j *ClassificationJob) PromptVariant() string {
	if j.Metadata == nil {
		return ""
	}
	if v, ok := j.Metadata["prompt_variant"].(string); ok {
		return v
	}
	return ""
}
