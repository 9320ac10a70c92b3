// Package store persists the data that must survive a device reset: the
// image lifecycle state and a history of update jobs.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/fleetware/otaagent/pkg/errors"
	_ "modernc.org/sqlite"
)

// Repository provides database operations for the update agent.
type Repository struct {
	db *sql.DB
}

// NewRepository opens (creating if needed) the agent database.
func NewRepository(dbPath string) (*Repository, error) {
	slog.Info("store_init", "db_path", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		slog.Error("store_open_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to open database")
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		slog.Error("store_schema_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to create schema")
	}

	slog.Info("store_ready", "db_path", dbPath)
	return &Repository{db: db}, nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// ImageState reads the persisted image state slot.
func (r *Repository) ImageState() (state, jobID, version string, err error) {
	var j, v sql.NullString
	err = r.db.QueryRow(`SELECT state, job_id, version FROM image_state WHERE id = 1`).
		Scan(&state, &j, &v)
	if err != nil {
		slog.Error("store_image_state_query_failed", "error", err)
		return "", "", "", errors.Wrap(err, "failed to query image state")
	}
	return state, j.String, v.String, nil
}

// SetImageState writes the persisted image state slot.
func (r *Repository) SetImageState(state, jobID, version string) error {
	slog.Info("store_set_image_state", "state", state, "job_id", jobID)

	_, err := r.db.Exec(
		`UPDATE image_state SET state = ?, job_id = ?, version = ?, updated_at = CURRENT_TIMESTAMP WHERE id = 1`,
		state, jobID, version)
	if err != nil {
		slog.Error("store_set_image_state_failed", "state", state, "error", err)
		return errors.Wrap(err, "failed to set image state")
	}
	return nil
}

// UpsertJob inserts a job record, or refreshes its metadata if the job was
// seen before (a resumed transfer).
func (r *Repository) UpsertJob(job *Job) error {
	slog.Info("store_upsert_job", "job_id", job.JobID, "status", job.Status)

	query := `
		INSERT INTO jobs (job_id, file_path, file_size, version, status, error_message)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET
		    file_path = excluded.file_path,
		    file_size = excluded.file_size,
		    version = excluded.version,
		    status = excluded.status,
		    updated_at = CURRENT_TIMESTAMP
	`
	result, err := r.db.Exec(query,
		job.JobID, job.FilePath, job.FileSize, job.Version, job.Status, job.ErrorMessage)
	if err != nil {
		slog.Error("store_upsert_failed", "job_id", job.JobID, "error", err)
		return errors.Wrap(err, "failed to upsert job")
	}

	if id, err := result.LastInsertId(); err == nil {
		job.ID = id
	}
	return nil
}

// UpdateJobStatus updates the status of an existing job record.
func (r *Repository) UpdateJobStatus(jobID, status, errorMessage string) error {
	slog.Info("store_update_job_status", "job_id", jobID, "status", status)

	query := `UPDATE jobs SET status = ?, error_message = ?, updated_at = CURRENT_TIMESTAMP WHERE job_id = ?`
	result, err := r.db.Exec(query, status, errorMessage, jobID)
	if err != nil {
		slog.Error("store_status_update_failed", "job_id", jobID, "status", status, "error", err)
		return errors.Wrap(err, "failed to update job status")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return fmt.Errorf("job not found: %s", jobID)
	}
	return nil
}

// GetJob retrieves a job by its service identifier. A missing job returns
// (nil, nil).
func (r *Repository) GetJob(jobID string) (*Job, error) {
	query := `
		SELECT id, job_id, file_path, file_size, version, status, error_message, created_at, updated_at
		FROM jobs WHERE job_id = ?
	`
	var job Job
	var version, errorMessage sql.NullString

	err := r.db.QueryRow(query, jobID).Scan(
		&job.ID, &job.JobID, &job.FilePath, &job.FileSize,
		&version, &job.Status, &errorMessage, &job.CreatedAt, &job.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("store_job_query_failed", "job_id", jobID, "error", err)
		return nil, errors.Wrap(err, "failed to query job")
	}

	job.Version = version.String
	job.ErrorMessage = errorMessage.String
	return &job, nil
}

// ListJobs retrieves all job records, newest first.
func (r *Repository) ListJobs() ([]*Job, error) {
	query := `
		SELECT id, job_id, file_path, file_size, version, status, error_message, created_at, updated_at
		FROM jobs ORDER BY created_at DESC
	`
	rows, err := r.db.Query(query)
	if err != nil {
		slog.Error("store_list_query_failed", "error", err)
		return nil, errors.Wrap(err, "failed to list jobs")
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		var job Job
		var version, errorMessage sql.NullString

		err := rows.Scan(
			&job.ID, &job.JobID, &job.FilePath, &job.FileSize,
			&version, &job.Status, &errorMessage, &job.CreatedAt, &job.UpdatedAt)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan row")
		}

		job.Version = version.String
		job.ErrorMessage = errorMessage.String
		jobs = append(jobs, &job)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "rows error")
	}
	return jobs, nil
}
