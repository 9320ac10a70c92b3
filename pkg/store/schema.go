package store

// Schema defines the SQLite schema for the update agent: the persisted
// image state slot read back at boot, and a history of update jobs.
const Schema = `
CREATE TABLE IF NOT EXISTS image_state (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    state TEXT NOT NULL CHECK(state IN ('unknown', 'testing', 'accepted', 'rejected', 'aborted')),
    job_id TEXT,
    version TEXT,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

INSERT OR IGNORE INTO image_state (id, state) VALUES (1, 'unknown');

CREATE TABLE IF NOT EXISTS jobs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    job_id TEXT NOT NULL UNIQUE,
    file_path TEXT NOT NULL,
    file_size INTEGER NOT NULL,
    version TEXT,
    status TEXT NOT NULL CHECK(status IN ('received', 'downloading', 'self_test', 'succeeded', 'failed', 'rejected', 'aborted')),
    error_message TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_jobs_job_id ON jobs(job_id);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
`

// Job status constants
const (
	JobStatusReceived    = "received"
	JobStatusDownloading = "downloading"
	JobStatusSelfTest    = "self_test"
	JobStatusSucceeded   = "succeeded"
	JobStatusFailed      = "failed"
	JobStatusRejected    = "rejected"
	JobStatusAborted     = "aborted"
)

// Job represents one update job record.
type Job struct {
	ID           int64
	JobID        string
	FilePath     string
	FileSize     int64
	Version      string
	Status       string
	ErrorMessage string
	CreatedAt    string
	UpdatedAt    string
}
