package data

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadforge/leadforge/internal/domain/model"
	apperrors "github.com/leadforge/leadforge/internal/errors"
	"github.com/leadforge/leadforge/internal/testutil"
)

// TestJobRepo_Integration_CreateAndReserve tests the full flow of creating,
// enqueueing and reserving jobs.
func TestJobRepo_Integration_CreateAndReserve(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := NewJobRepo(db, RepoConfig{})

		var ids []string
		for i := 0; i < 3; i++ {
			job, err := repo.Create(context.Background(), &model.CreateJobRequest{
				Filename:  fmt.Sprintf("leads-%d.xlsx", i),
				UploadKey: fmt.Sprintf("uploads/leads-%d.xlsx", i),
			})
			require.NoError(t, err)
			assert.Equal(t, model.JobStatusUploaded, job.Status)
			ids = append(ids, job.ID)
		}

		// Uploaded jobs are not eligible for reservation until enqueued.
		_, err := repo.ReserveNext(context.Background(), 30)
		require.ErrorIs(t, err, model.ErrNoJobsAvailable)

		for _, id := range ids {
			ok, enqErr := repo.Enqueue(context.Background(), id, "Starting pipeline...")
			require.NoError(t, enqErr)
			assert.True(t, ok)
		}

		// Jobs come out in creation order.
		for _, id := range ids {
			reserved, resErr := repo.ReserveNext(context.Background(), 30)
			require.NoError(t, resErr)
			assert.Equal(t, id, reserved.ID)
			assert.Equal(t, model.JobStatusRunning, reserved.Status)
		}

		_, err = repo.ReserveNext(context.Background(), 30)
		require.ErrorIs(t, err, model.ErrNoJobsAvailable)
	})
}

// TestJobRepo_Integration_JobLifecycle tests the complete lifecycle of a job.
func TestJobRepo_Integration_JobLifecycle(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		// Use a fixed time provider to control time for retry delays
		timeProvider := NewFixedTimeProvider(testutil.TestTime())
		repo := NewJobRepo(db, RepoConfig{
			RetryDelaySeconds: 5,
			TimeProvider:      timeProvider,
		})

		job, err := repo.Create(context.Background(), &model.CreateJobRequest{
			Filename:   "contacts.xlsx",
			UploadKey:  "uploads/contacts.xlsx",
			MaxRetries: 2,
		})
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusUploaded, job.Status)

		ok, err := repo.Enqueue(context.Background(), job.ID, "Starting pipeline...")
		require.NoError(t, err)
		assert.True(t, ok)

		// Enqueue is idempotent only for uploaded jobs.
		ok, err = repo.Enqueue(context.Background(), job.ID, "Starting pipeline...")
		require.NoError(t, err)
		assert.False(t, ok)

		reserved, err := repo.ReserveNext(context.Background(), 30)
		require.NoError(t, err)
		assert.Equal(t, job.ID, reserved.ID)
		assert.Equal(t, model.JobStatusRunning, reserved.Status)
		assert.NotNil(t, reserved.StartedAt)
		assert.NotNil(t, reserved.LeaseExpiresAt)

		success, err := repo.Heartbeat(context.Background(), job.ID, 60)
		require.NoError(t, err)
		assert.True(t, success)

		// Fail the job (first attempt); it goes back to pending with a delay.
		success, err = repo.Fail(context.Background(), job.ID, "verifier unreachable")
		require.NoError(t, err)
		assert.True(t, success)

		_, err = repo.ReserveNext(context.Background(), 30)
		require.ErrorIs(t, err, model.ErrNoJobsAvailable)

		timeProvider.AddTime(6 * time.Second)

		retryJob, err := repo.ReserveNext(context.Background(), 30)
		require.NoError(t, err)
		assert.Equal(t, job.ID, retryJob.ID)
		assert.Equal(t, 1, retryJob.RetryCount)
		require.NotNil(t, retryJob.LastError)
		assert.Equal(t, "verifier unreachable", *retryJob.LastError)

		success, err = repo.Complete(context.Background(), job.ID, "processed/"+job.ID+"_processed.xlsx")
		require.NoError(t, err)
		assert.True(t, success)

		final, err := repo.GetByID(context.Background(), job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusCompleted, final.Status)
		require.NotNil(t, final.ResultKey)
		assert.Equal(t, "processed/"+job.ID+"_processed.xlsx", *final.ResultKey)
		assert.NotNil(t, final.CompletedAt)
	})
}

// TestJobRepo_Integration_FailExhaustsRetries verifies a job lands in failed
// when retries run out.
func TestJobRepo_Integration_FailExhaustsRetries(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		timeProvider := NewFixedTimeProvider(testutil.TestTime())
		repo := NewJobRepo(db, RepoConfig{
			RetryDelaySeconds: 1,
			TimeProvider:      timeProvider,
		})

		job, err := repo.Create(context.Background(), &model.CreateJobRequest{
			Filename:   "bad.xlsx",
			UploadKey:  "uploads/bad.xlsx",
			MaxRetries: 1,
		})
		require.NoError(t, err)

		ok, err := repo.Enqueue(context.Background(), job.ID, "Starting pipeline...")
		require.NoError(t, err)
		require.True(t, ok)

		_, err = repo.ReserveNext(context.Background(), 30)
		require.NoError(t, err)

		success, err := repo.Fail(context.Background(), job.ID, "corrupt workbook")
		require.NoError(t, err)
		assert.True(t, success)

		final, err := repo.GetByID(context.Background(), job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusFailed, final.Status)
		require.NotNil(t, final.LastError)
		assert.Equal(t, "corrupt workbook", *final.LastError)
		assert.NotNil(t, final.CompletedAt)

		timeProvider.AddTime(time.Minute)
		_, err = repo.ReserveNext(context.Background(), 30)
		require.ErrorIs(t, err, model.ErrNoJobsAvailable)
	})
}

// TestJobRepo_Integration_Logs tests progress log append and retrieval order.
func TestJobRepo_Integration_Logs(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := NewJobRepo(db, RepoConfig{})

		job, err := repo.Create(context.Background(), &model.CreateJobRequest{
			Filename:  "leads.xlsx",
			UploadKey: "uploads/leads.xlsx",
		})
		require.NoError(t, err)

		lines := []string{
			"File uploaded successfully",
			"Starting pipeline...",
			model.SentinelCompleted,
		}
		for _, line := range lines {
			require.NoError(t, repo.AppendLog(context.Background(), job.ID, line))
		}

		got, err := repo.Logs(context.Background(), job.ID)
		require.NoError(t, err)
		assert.Equal(t, lines, got)

		// Unknown jobs yield an empty log slice, not an error.
		got, err = repo.Logs(context.Background(), "00000000-0000-0000-0000-000000000000")
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

// TestJobRepo_Integration_EnqueueCommitsStartLine verifies the start line is
// part of the log history the moment Enqueue returns, so a worker woken by
// the enqueue notification can never observe the job without it.
func TestJobRepo_Integration_EnqueueCommitsStartLine(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := NewJobRepo(db, RepoConfig{})

		job, err := repo.Create(context.Background(), &model.CreateJobRequest{
			Filename:  "leads.xlsx",
			UploadKey: "uploads/leads.xlsx",
		})
		require.NoError(t, err)
		require.NoError(t, repo.AppendLog(context.Background(), job.ID, "File uploaded successfully"))

		ok, err := repo.Enqueue(context.Background(), job.ID, "Starting pipeline...")
		require.NoError(t, err)
		require.True(t, ok)

		// Observed through a second connection so only committed rows count.
		other, err := db.Conn(context.Background())
		require.NoError(t, err)
		defer other.Close()

		var lines []string
		rows, err := other.QueryContext(context.Background(),
			`SELECT line FROM job_logs WHERE job_id = $1 ORDER BY seq ASC`, job.ID)
		require.NoError(t, err)
		defer rows.Close()
		for rows.Next() {
			var line string
			require.NoError(t, rows.Scan(&line))
			lines = append(lines, line)
		}
		require.NoError(t, rows.Err())
		assert.Equal(t, []string{"File uploaded successfully", "Starting pipeline..."}, lines)

		// Worker appends land after the start line.
		require.NoError(t, repo.AppendLog(context.Background(), job.ID, "Step 1: Processing Leads..."))
		got, err := repo.Logs(context.Background(), job.ID)
		require.NoError(t, err)
		assert.Equal(t, "Starting pipeline...", got[1])
	})
}

// TestJobRepo_Integration_Stats checks per-status counters.
func TestJobRepo_Integration_Stats(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := NewJobRepo(db, RepoConfig{})

		first, err := repo.Create(context.Background(), &model.CreateJobRequest{
			Filename:  "a.xlsx",
			UploadKey: "uploads/a.xlsx",
		})
		require.NoError(t, err)
		_, err = repo.Create(context.Background(), &model.CreateJobRequest{
			Filename:  "b.xlsx",
			UploadKey: "uploads/b.xlsx",
		})
		require.NoError(t, err)

		ok, err := repo.Enqueue(context.Background(), first.ID, "Starting pipeline...")
		require.NoError(t, err)
		require.True(t, ok)

		stats, err := repo.Stats(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Uploaded)
		assert.Equal(t, 1, stats.Pending)
		assert.Equal(t, 0, stats.Running)
		assert.Equal(t, 0, stats.Completed)
		assert.Equal(t, 0, stats.Failed)
	})
}

// TestJobRepo_Integration_GetByIDNotFound verifies the not-found sentinel.
func TestJobRepo_Integration_GetByIDNotFound(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := NewJobRepo(db, RepoConfig{})

		_, err := repo.GetByID(context.Background(), "00000000-0000-0000-0000-000000000000")
		require.ErrorIs(t, err, ErrJobNotFound)
	})
}

// TestJobRepo_Integration_DuplicateUploadKey asserts the unique constraint
// surfaces as a conflict instead of silently overwriting.
func TestJobRepo_Integration_DuplicateUploadKey(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := NewJobRepo(db, RepoConfig{})

		req := &model.CreateJobRequest{
			Filename:  "dup.xlsx",
			UploadKey: "uploads/dup.xlsx",
		}
		_, err := repo.Create(context.Background(), req)
		require.NoError(t, err)

		_, err = repo.Create(context.Background(), req)
		require.Error(t, err)
		assert.True(t, apperrors.IsConflict(err))
	})
}

// TestJobRepo_Integration_ConcurrentAppendLog hammers one job's log from
// several goroutines; the sequence retry means every line survives.
func TestJobRepo_Integration_ConcurrentAppendLog(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := NewJobRepo(db, RepoConfig{})

		job, err := repo.Create(context.Background(), &model.CreateJobRequest{
			Filename:  "burst.xlsx",
			UploadKey: "uploads/burst.xlsx",
		})
		require.NoError(t, err)

		const writers = 8
		var wg sync.WaitGroup
		errs := make([]error, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs[i] = repo.AppendLog(context.Background(), job.ID, fmt.Sprintf("line %d", i))
			}()
		}
		wg.Wait()

		for i, appendErr := range errs {
			require.NoError(t, appendErr, "writer %d", i)
		}

		got, err := repo.Logs(context.Background(), job.ID)
		require.NoError(t, err)
		assert.Len(t, got, writers)
	})
}
