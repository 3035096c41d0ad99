package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/leadforge/leadforge/internal/errors"

	"github.com/leadforge/leadforge/internal/core"
	"github.com/leadforge/leadforge/internal/domain/model"
)

// Log lines the job history always starts and progresses with.
const (
	logUploaded         = "File uploaded successfully"
	logStartingPipeline = "Starting pipeline..."
)

// JobServiceOptions groups dependencies for JobService.
type JobServiceOptions struct {
	Repo   core.JobRepository // Required: job repository
	Store  core.FileStore     // Required: workbook storage
	Logger *slog.Logger       // Optional: structured logger
}

// JobService provides business logic for the upload/process/progress/download
// job lifecycle.
type JobService struct {
	repo   core.JobRepository
	store  core.FileStore
	logger *slog.Logger
}

// NewJobService constructs a new JobService.
func NewJobService(opts JobServiceOptions) (*JobService, error) {
	if opts.Repo == nil {
		return nil, errors.New("JobRepository is required")
	}
	if opts.Store == nil {
		return nil, errors.New("FileStore is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "job_service")
	}

	return &JobService{
		repo:   opts.Repo,
		store:  opts.Store,
		logger: logger,
	}, nil
}

// MustNewJobService constructs a new JobService and panics on error.
// Use this when you're certain the options are valid (e.g., in main.go).
func MustNewJobService(opts JobServiceOptions) *JobService {
	svc, err := NewJobService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create JobService: %v", err))
	}
	return svc
}

// Upload stores an uploaded workbook, registers a job for it and seeds the
// job's log history. Filenames without an .xlsx extension are rejected.
func (s *JobService) Upload(ctx context.Context, filename string, content []byte) (*model.Job, error) {
	req := &model.CreateJobRequest{
		Filename:  filename,
		UploadKey: fmt.Sprintf("uploads/%s.xlsx", uuid.NewString()),
	}
	if err := req.Validate(); err != nil {
		return nil, apperrors.ValidationField("file", err.Error())
	}

	if _, err := s.store.Write(ctx, req.UploadKey, content); err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}

	job, err := s.repo.Create(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	if logErr := s.repo.AppendLog(ctx, job.ID, logUploaded); logErr != nil {
		return nil, fmt.Errorf("seed job log: %w", logErr)
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "file uploaded", "job_id", job.ID, "filename", filename, "bytes", len(content))
	}
	return job, nil
}

// RequestProcessing marks a job eligible for the pipeline. Calling it again
// for a job already in flight is a no-op. Unknown jobs return an error.
// The start line is committed together with the status flip, so a worker
// woken by the enqueue always sees it first in the log history.
func (s *JobService) RequestProcessing(ctx context.Context, id string) error {
	enqueued, err := s.repo.Enqueue(ctx, id, logStartingPipeline)
	if err != nil {
		return fmt.Errorf("enqueue job %s: %w", id, err)
	}
	if !enqueued {
		return nil
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "processing requested", "job_id", id)
	}
	return nil
}

// Progress returns the ordered log history for a job. Unknown jobs yield an
// empty history rather than an error.
func (s *JobService) Progress(ctx context.Context, id string) (*model.JobProgress, error) {
	lines, err := s.repo.Logs(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load job logs: %w", err)
	}
	return &model.JobProgress{Logs: lines}, nil
}

// Download opens the processed workbook for a completed job. Jobs that are
// unknown, still processing or failed all surface as not-found so callers
// cannot distinguish them, matching the download contract.
func (s *JobService) Download(ctx context.Context, id string) (io.ReadSeekCloser, *model.Job, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, nil, apperrors.NotFound("job")
	}
	if job.Status != model.JobStatusCompleted || job.ResultKey == nil {
		return nil, nil, apperrors.NotFound("job")
	}

	rc, err := s.store.Open(ctx, *job.ResultKey)
	if err != nil {
		return nil, nil, apperrors.NotFound("job")
	}
	return rc, job, nil
}

// Get retrieves a job by ID.
func (s *JobService) Get(ctx context.Context, id string) (*model.Job, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

// ReserveNext reserves the next available job for processing.
func (s *JobService) ReserveNext(ctx context.Context, lease time.Duration) (*model.Job, error) {
	job, err := s.repo.ReserveNext(ctx, leaseSeconds(lease))
	if err != nil {
		return nil, err
	}

	if s.logger != nil && job != nil {
		s.logger.DebugContext(ctx, "job reserved", "id", job.ID, "lease_seconds", leaseSeconds(lease))
	}
	return job, nil
}

// Heartbeat extends the lease on a job to indicate it's still being processed.
func (s *JobService) Heartbeat(ctx context.Context, id string, extend time.Duration) (bool, error) {
	updated, err := s.repo.Heartbeat(ctx, id, leaseSeconds(extend))
	if err != nil {
		return false, fmt.Errorf("heartbeat job %s: %w", id, err)
	}
	return updated, nil
}

// Complete marks a job as completed with the given result key.
func (s *JobService) Complete(ctx context.Context, id, resultKey string) (bool, error) {
	completed, err := s.repo.Complete(ctx, id, resultKey)
	if err != nil {
		return false, fmt.Errorf("complete job %s: %w", id, err)
	}

	if s.logger != nil && completed {
		s.logger.InfoContext(ctx, "job completed", "id", id, "result_key", resultKey)
	}
	return completed, nil
}

// Fail marks a job as failed with the given error message.
func (s *JobService) Fail(ctx context.Context, id, errMsg string) (bool, error) {
	if errMsg == "" {
		return false, errors.New("error message required")
	}

	failed, err := s.repo.Fail(ctx, id, errMsg)
	if err != nil {
		return false, fmt.Errorf("fail job %s: %w", id, err)
	}

	if s.logger != nil && failed {
		s.logger.WarnContext(ctx, "job failed", "id", id, "error", errMsg)
	}
	return failed, nil
}

// AppendLog appends one progress line to a job's history.
func (s *JobService) AppendLog(ctx context.Context, id, line string) error {
	return s.repo.AppendLog(ctx, id, line)
}

// Stats returns per-status job counters.
func (s *JobService) Stats(ctx context.Context) (*model.JobStats, error) {
	return s.repo.Stats(ctx)
}

// WaitForNotification blocks until new jobs may be available.
func (s *JobService) WaitForNotification(ctx context.Context) error {
	return s.repo.WaitForNotification(ctx)
}

// leaseSeconds converts a lease duration to whole seconds, clamping
// sub-second requests up to one second.
func leaseSeconds(lease time.Duration) int {
	seconds := int(lease / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}
