package sqlite

const schemaSQL = `
-- Collection jobs: one acquisition run per creator profile.
-- Subtask statuses (profile/posts/reels) are tracked as a JSON map.
CREATE TABLE IF NOT EXISTS collection_jobs (
	id TEXT PRIMARY KEY,
	username TEXT NOT NULL,
	priority INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	include_profile INTEGER NOT NULL DEFAULT 1,
	include_posts INTEGER NOT NULL DEFAULT 1,
	include_reels INTEGER NOT NULL DEFAULT 1,
	subtasks_json TEXT NOT NULL DEFAULT '{}',
	metadata_json TEXT,
	result_payload TEXT,
	result_count INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	started_at INTEGER,
	completed_at INTEGER,
	error TEXT NOT NULL DEFAULT ''
);

-- Claim ordering: (priority desc, created_at asc) over pending rows
CREATE INDEX IF NOT EXISTS idx_collection_jobs_claim ON collection_jobs(status, priority DESC, created_at ASC);
CREATE INDEX IF NOT EXISTS idx_collection_jobs_username ON collection_jobs(username, completed_at);

-- Reel-stat jobs: single-URL play-count refreshes
CREATE TABLE IF NOT EXISTS reel_stat_jobs (
	id TEXT PRIMARY KEY,
	reel_url TEXT NOT NULL,
	priority INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	play_count INTEGER NOT NULL DEFAULT 0,
	result_payload TEXT,
	created_at INTEGER NOT NULL,
	started_at INTEGER,
	completed_at INTEGER,
	error TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_reel_stat_jobs_claim ON reel_stat_jobs(status, priority DESC, created_at ASC);

-- Classification jobs: one subject, one or more dimensions
CREATE TABLE IF NOT EXISTS classification_jobs (
	id TEXT PRIMARY KEY,
	subject_id TEXT NOT NULL,
	dimensions_json TEXT NOT NULL,
	metadata_json TEXT,
	priority INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	result_count INTEGER NOT NULL DEFAULT 0,
	failed_count INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	started_at INTEGER,
	completed_at INTEGER,
	error TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_classification_jobs_claim ON classification_jobs(status, priority DESC, created_at ASC);
CREATE INDEX IF NOT EXISTS idx_classification_jobs_subject ON classification_jobs(subject_id, status);

-- Per-item classification results. Re-processing the same item under the
-- same job overwrites rather than duplicates.
CREATE TABLE IF NOT EXISTS classification_results (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	subject_id TEXT NOT NULL,
	item_id TEXT NOT NULL,
	dimension TEXT NOT NULL,
	label TEXT NOT NULL DEFAULT '',
	confidence REAL,
	reasoning TEXT NOT NULL DEFAULT '',
	raw_response TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	processed_at INTEGER NOT NULL,
	job_id TEXT NOT NULL DEFAULT '',
	UNIQUE(item_id, dimension, job_id)
);

CREATE INDEX IF NOT EXISTS idx_results_subject ON classification_results(subject_id, dimension, job_id);

-- Manual summary overrides, unique per subject and dimension
CREATE TABLE IF NOT EXISTS summary_overrides (
	subject_id TEXT NOT NULL,
	dimension TEXT NOT NULL,
	summary_json TEXT NOT NULL,
	updated_at INTEGER NOT NULL,
	UNIQUE(subject_id, dimension)
);

-- Recurring collection schedules
CREATE TABLE IF NOT EXISTS collection_schedules (
	id TEXT PRIMARY KEY,
	username TEXT NOT NULL,
	target_url TEXT NOT NULL,
	hour INTEGER NOT NULL,
	start_date INTEGER NOT NULL,
	end_date INTEGER NOT NULL,
	active INTEGER NOT NULL DEFAULT 1,
	include_profile INTEGER NOT NULL DEFAULT 1,
	include_posts INTEGER NOT NULL DEFAULT 1,
	include_reels INTEGER NOT NULL DEFAULT 1,
	priority INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_schedules_active ON collection_schedules(active, hour);

-- Normalized content items collected for subjects
CREATE TABLE IF NOT EXISTS content_items (
	id TEXT PRIMARY KEY,
	subject_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	caption TEXT NOT NULL DEFAULT '',
	image_url TEXT NOT NULL DEFAULT '',
	media_url TEXT NOT NULL DEFAULT '',
	post_url TEXT NOT NULL DEFAULT '',
	posted_at INTEGER,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_content_items_subject ON content_items(subject_id, posted_at DESC);
`
