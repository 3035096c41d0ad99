// Package model defines the core data types and structures used throughout the leadforge pipeline system.
package model

import (
	"errors"
	"path"
	"strings"
	"time"
)

// JobStatus represents the current status of a pipeline job.
type JobStatus string

const (
	// JobStatusUploaded indicates a job whose workbook has been stored but
	// whose pipeline run has not been requested yet.
	JobStatusUploaded JobStatus = "uploaded"
	// JobStatusPending indicates a job is waiting to be picked up by a worker.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates a job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates a job has finished successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates a job has failed to complete.
	JobStatusFailed JobStatus = "failed"
)

// SentinelCompleted is the log line that marks a finished pipeline run.
// Clients treat its presence in the log stream as the sole completion signal.
const SentinelCompleted = "Pipeline completed!"

// ErrNoJobsAvailable is returned when no jobs are available for reservation.
var ErrNoJobsAvailable = errors.New("no jobs available")

// Valid returns true if the JobStatus is valid.
func (s JobStatus) Valid() bool {
	return s == JobStatusUploaded || s == JobStatusPending || s == JobStatusRunning ||
		s == JobStatusCompleted || s == JobStatusFailed
}

// Terminal returns true once a job can no longer change status.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job represents one upload-through-download workflow instance.
type Job struct {
	ID             string     `json:"id"                         db:"id"`
	Status         JobStatus  `json:"status"                     db:"status"`
	Filename       string     `json:"filename"                   db:"filename"`
	UploadKey      string     `json:"upload_key"                 db:"upload_key"`
	ResultKey      *string    `json:"result_key,omitempty"       db:"result_key"`
	ScheduledAt    time.Time  `json:"scheduled_at"               db:"scheduled_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"       db:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"     db:"completed_at"`
	RetryCount     int        `json:"retry_count"                db:"retry_count"`
	MaxRetries     int        `json:"max_retries"                db:"max_retries"`
	LastError      *string    `json:"last_error,omitempty"       db:"last_error"`
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty" db:"lease_expires_at"`
	CreatedAt      time.Time  `json:"created_at"                 db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"                 db:"updated_at"`
}

// CreateJobRequest represents a request to register an uploaded workbook as a job.
type CreateJobRequest struct {
	Filename   string `json:"filename"`
	UploadKey  string `json:"upload_key"`
	MaxRetries int    `json:"max_retries"`
}

// Validate validates the CreateJobRequest fields.
func (r *CreateJobRequest) Validate() error {
	if strings.TrimSpace(r.Filename) == "" {
		return errors.New("filename is required")
	}
	if !strings.EqualFold(path.Ext(r.Filename), ".xlsx") {
		return errors.New("filename must have an .xlsx extension")
	}
	if strings.TrimSpace(r.UploadKey) == "" {
		return errors.New("upload key is required")
	}
	if r.MaxRetries < 0 {
		return errors.New("max retries must be >= 0")
	}
	return nil
}

// JobProgress is the poll response payload: the full log history so far.
// Clients replace their view with it on every poll rather than appending.
type JobProgress struct {
	Logs []string `json:"logs"`
}

// Completed reports whether the log history contains the completion sentinel.
func (p JobProgress) Completed() bool {
	for _, line := range p.Logs {
		if line == SentinelCompleted {
			return true
		}
	}
	return false
}

// JobStats represents statistics about jobs in different states.
type JobStats struct {
	Uploaded  int `json:"uploaded"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}
