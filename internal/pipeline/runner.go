package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/leadforge/leadforge/internal/core"
	"github.com/leadforge/leadforge/internal/domain/model"
)

// LogFunc receives human-readable progress lines for a job. Implementations
// must tolerate being called from the worker goroutine running the job.
type LogFunc func(ctx context.Context, line string)

// Runner executes the lead pipeline for one job: clean and guess, verify,
// then write the processed workbook next to the upload.
type Runner struct {
	store    core.FileStore
	cleaner  *Cleaner
	verifier *Verifier
	logger   *slog.Logger
}

// NewRunner wires the pipeline steps together.
func NewRunner(store core.FileStore, cleaner *Cleaner, verifier *Verifier, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		store:    store,
		cleaner:  cleaner,
		verifier: verifier,
		logger:   logger.With("component", "pipeline.runner"),
	}
}

// ResultKey returns the storage key the processed workbook for a job is
// written to.
func ResultKey(jobID string) string {
	return fmt.Sprintf("processed/%s_processed.xlsx", jobID)
}

// Run processes the job's uploaded workbook and returns the storage key of
// the result. Progress lines, the completion sentinel included, go through
// logFn so they land in the job's log history.
func (r *Runner) Run(ctx context.Context, job *model.Job, logFn LogFunc) (string, error) {
	if logFn == nil {
		logFn = func(context.Context, string) {}
	}

	resultKey, err := r.run(ctx, job, logFn)
	if err != nil {
		logFn(ctx, fmt.Sprintf("Error: %s", err))
		return "", err
	}

	logFn(ctx, model.SentinelCompleted)
	return resultKey, nil
}

func (r *Runner) run(ctx context.Context, job *model.Job, logFn LogFunc) (string, error) {
	logFn(ctx, "Step 1: Processing Leads...")

	raw, err := r.store.Read(ctx, job.UploadKey)
	if err != nil {
		return "", fmt.Errorf("read uploaded workbook: %w", err)
	}

	leads, err := ReadLeads(bytes.NewReader(raw))
	if err != nil {
		return "", err
	}
	r.logger.InfoContext(ctx, "workbook parsed", "job_id", job.ID, "rows", len(leads))

	cleaned := r.cleaner.Clean(leads)
	logFn(ctx, fmt.Sprintf("Processed %d leads (%d rows dropped).", len(cleaned), len(leads)-len(cleaned)))

	logFn(ctx, "Step 2: Validating Emails...")

	verified, err := r.verifier.VerifyLeads(ctx, cleaned)
	if err != nil {
		return "", fmt.Errorf("verify leads: %w", err)
	}

	valid := 0
	for _, lead := range verified {
		if lead.Status == model.VerifyStatusValid {
			valid++
		}
	}
	logFn(ctx, fmt.Sprintf("Validated %d of %d emails.", valid, len(verified)))

	out, err := WriteLeads(verified)
	if err != nil {
		return "", fmt.Errorf("serialize processed workbook: %w", err)
	}

	resultKey, err := r.store.Write(ctx, ResultKey(job.ID), out)
	if err != nil {
		return "", fmt.Errorf("store processed workbook: %w", err)
	}

	r.logger.InfoContext(ctx, "pipeline finished", "job_id", job.ID, "result_key", resultKey, "valid", valid, "total", len(verified))
	return resultKey, nil
}
