// Package pipelinerunner provides worker management for executing the lead
// pipeline against reserved jobs.
package pipelinerunner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/leadforge/leadforge/internal/domain/model"
	"github.com/leadforge/leadforge/internal/pipeline"
	"github.com/leadforge/leadforge/internal/service"
)

// RunnerOptions configures the pipeline runner adapter.
type RunnerOptions struct {
	Jobs     *service.JobService // Required: job lifecycle operations
	Pipeline *pipeline.Runner    // Required: pipeline execution
	Logger   *slog.Logger

	Lease          time.Duration // per-job lease duration; defaults to 60s
	HeartbeatEvery time.Duration // lease refresh cadence; defaults to Lease/3
	PollInterval   time.Duration // reservation retry cadence when idle; defaults to 5s
	Concurrency    int           // number of worker goroutines; defaults to 1
}

// Runner pulls pending jobs and feeds them through the pipeline.
type Runner struct {
	jobs           *service.JobService
	pipeline       *pipeline.Runner
	logger         *slog.Logger
	lease          time.Duration
	heartbeatEvery time.Duration
	pollInterval   time.Duration
	workers        int
}

// NewRunner validates options and constructs a pipeline runner.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Jobs == nil {
		return nil, errors.New("JobService is required")
	}
	if opts.Pipeline == nil {
		return nil, errors.New("pipeline runner is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	lease := opts.Lease
	if lease <= 0 {
		lease = 60 * time.Second
	}
	heartbeat := opts.HeartbeatEvery
	if heartbeat <= 0 {
		heartbeat = lease / 3
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = 5 * time.Second
	}
	workers := opts.Concurrency
	if workers <= 0 {
		workers = 1
	}

	return &Runner{
		jobs:           opts.Jobs,
		pipeline:       opts.Pipeline,
		logger:         logger.With("component", "pipeline_runner"),
		lease:          lease,
		heartbeatEvery: heartbeat,
		pollInterval:   poll,
		workers:        workers,
	}, nil
}

// Run starts worker goroutines and processes jobs until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting pipeline runner", "workers", r.workers, "lease", r.lease)

	// Derive a cancellable context that we can signal on first fatal error
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	notify := make(chan struct{}, 1)
	var wg sync.WaitGroup
	errCh := make(chan error, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		r.notifyLoop(ctx, notify)
	}()

	for range r.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.workerLoop(ctx, notify); err != nil {
				// first error wins, cancels all workers
				select {
				case errCh <- err:
					cancel()
				default:
				}
			}
		}()
	}

	wg.Wait()

	select {
	case err := <-errCh:
		return err
	default:
		return ctx.Err()
	}
}

// notifyLoop listens for database wakeups and nudges idle workers. Listen
// failures degrade to the polling fallback rather than killing the runner.
func (r *Runner) notifyLoop(ctx context.Context, notify chan<- struct{}) {
	for ctx.Err() == nil {
		if err := r.jobs.WaitForNotification(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.WarnContext(ctx, "job notification listener error", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(r.pollInterval):
			}
			continue
		}
		select {
		case notify <- struct{}{}:
		default:
		}
	}
}

func (r *Runner) workerLoop(ctx context.Context, notify <-chan struct{}) error {
	for ctx.Err() == nil {
		job, err := r.jobs.ReserveNext(ctx, r.lease)
		switch {
		case err == nil:
			if job != nil {
				r.processJob(ctx, job)
			}
		case errors.Is(err, model.ErrNoJobsAvailable):
			if !r.waitForWork(ctx, notify) {
				return nil
			}
		default:
			return fmt.Errorf("reserve next: %w", err)
		}
	}
	return ctx.Err()
}

// waitForWork blocks until a wakeup, the poll interval elapses, or shutdown.
func (r *Runner) waitForWork(ctx context.Context, notify <-chan struct{}) bool {
	timer := time.NewTimer(r.pollInterval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-notify:
		return true
	case <-timer.C:
		return true
	}
}

func (r *Runner) processJob(ctx context.Context, job *model.Job) {
	r.logger.InfoContext(ctx, "processing job", "job_id", job.ID, "attempt", job.RetryCount+1)

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go r.heartbeatLoop(hbCtx, job.ID)

	logFn := func(logCtx context.Context, line string) {
		if err := r.jobs.AppendLog(logCtx, job.ID, line); err != nil {
			r.logger.ErrorContext(logCtx, "append job log", "job_id", job.ID, "error", err)
		}
	}

	resultKey, err := r.pipeline.Run(ctx, job, logFn)
	stopHeartbeat()

	if err != nil {
		if _, ferr := r.jobs.Fail(ctx, job.ID, err.Error()); ferr != nil {
			r.logger.ErrorContext(ctx, "fail job error", "job_id", job.ID, "error", ferr, "original_error", err)
		}
		return
	}

	if completed, cerr := r.jobs.Complete(ctx, job.ID, resultKey); cerr != nil {
		r.logger.ErrorContext(ctx, "complete job error", "job_id", job.ID, "error", cerr)
	} else if !completed {
		r.logger.WarnContext(ctx, "job no longer running at completion", "job_id", job.ID)
	}
}

// heartbeatLoop refreshes the job lease until the job finishes.
func (r *Runner) heartbeatLoop(ctx context.Context, jobID string) {
	ticker := time.NewTicker(r.heartbeatEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := r.jobs.Heartbeat(ctx, jobID, r.lease)
			if err != nil {
				if ctx.Err() == nil {
					r.logger.WarnContext(ctx, "heartbeat error", "job_id", jobID, "error", err)
				}
				continue
			}
			if !ok {
				r.logger.WarnContext(ctx, "lost job lease", "job_id", jobID)
				return
			}
		}
	}
}
