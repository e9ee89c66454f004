package db

import (
	"database/sql"
	"time"

	"github.com/rewind-fm/rewind/models"
)

// CreateJob inserts a new pipeline job in the pending state.
func (db *DB) CreateJob(job *models.Job) error {
	now := time.Now()

	_, err := db.Exec(`
	INSERT INTO jobs (id, user_id, status, stage, progress, error, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.UserID, job.Status, job.Stage, job.Progress, job.Error, now, now)

	return err
}

// GetJob retrieves a job by id, or (nil, nil) if it does not exist.
func (db *DB) GetJob(jobID string) (*models.Job, error) {
	job := &models.Job{}
	var stage, errMsg sql.NullString

	err := db.QueryRow(`
	SELECT id, user_id, status, stage, progress, error, created_at, updated_at
	FROM jobs WHERE id = ?`, jobID).Scan(
		&job.ID, &job.UserID, &job.Status, &stage, &job.Progress, &errMsg,
		&job.CreatedAt, &job.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	job.Stage = stage.String
	job.Error = errMsg.String

	return job, nil
}

// UpdateJobProgress records the stage a running job has reached.
func (db *DB) UpdateJobProgress(jobID, stage string, progress int) error {
	_, err := db.Exec(`
	UPDATE jobs
	SET status = ?, stage = ?, progress = ?, updated_at = ?
	WHERE id = ?`,
		models.JobRunning, stage, progress, time.Now(), jobID)

	return err
}

// CompleteJob marks a job finished.
func (db *DB) CompleteJob(jobID string) error {
	_, err := db.Exec(`
	UPDATE jobs
	SET status = ?, progress = 100, updated_at = ?
	WHERE id = ?`,
		models.JobCompleted, time.Now(), jobID)

	return err
}

// FailJob marks a job failed with a message. The stage and progress
// already recorded are kept for diagnostics.
func (db *DB) FailJob(jobID, message string) error {
	_, err := db.Exec(`
	UPDATE jobs
	SET status = ?, error = ?, updated_at = ?
	WHERE id = ?`,
		models.JobFailed, message, time.Now(), jobID)

	return err
}
