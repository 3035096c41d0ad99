package pipelinerunner

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/mock/gomock"

	"github.com/leadforge/leadforge/internal/domain/model"
	"github.com/leadforge/leadforge/internal/mocks"
	"github.com/leadforge/leadforge/internal/pipeline"
	"github.com/leadforge/leadforge/internal/service"
	"github.com/leadforge/leadforge/internal/storage"
)

func uploadWorkbook(t *testing.T, store *storage.FileStore, key string) {
	t.Helper()

	f := excelize.NewFile()
	defer func() {
		require.NoError(t, f.Close())
	}()
	sheet := f.GetSheetName(0)
	header := []any{"FIRST NAME", "LAST NAME", "COMPANY"}
	require.NoError(t, f.SetSheetRow(sheet, "A1", &header))
	row := []any{"ada", "lovelace", "acme"}
	require.NoError(t, f.SetSheetRow(sheet, "A2", &row))

	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	_, err = store.Write(context.Background(), key, buf.Bytes())
	require.NoError(t, err)
}

func verifierServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"resultcode": 1}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newFixture(t *testing.T, repo *mocks.MockJobRepository) (*Runner, *storage.FileStore) {
	t.Helper()

	store, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)

	jobs := service.MustNewJobService(service.JobServiceOptions{Repo: repo, Store: store})

	provider, err := pipeline.NewHTTPProvider(pipeline.HTTPProviderConfig{
		BaseURL: verifierServer(t).URL,
		Retries: 1,
	})
	require.NoError(t, err)

	pr := pipeline.NewRunner(store, pipeline.NewCleaner(nil, nil, nil), pipeline.NewVerifier(provider, nil, nil, nil), nil)

	runner, err := NewRunner(RunnerOptions{
		Jobs:         jobs,
		Pipeline:     pr,
		PollInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	return runner, store
}

func blockUntilDone(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestRunner_ProcessesJobToCompletion(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockJobRepository(ctrl)
	runner, store := newFixture(t, repo)

	uploadWorkbook(t, store, "uploads/job-1.xlsx")
	job := &model.Job{ID: "job-1", Status: model.JobStatusRunning, UploadKey: "uploads/job-1.xlsx"}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo.EXPECT().WaitForNotification(gomock.Any()).DoAndReturn(blockUntilDone).AnyTimes()
	repo.EXPECT().Heartbeat(gomock.Any(), "job-1", gomock.Any()).Return(true, nil).AnyTimes()

	first := repo.EXPECT().ReserveNext(gomock.Any(), gomock.Any()).Return(job, nil)
	repo.EXPECT().ReserveNext(gomock.Any(), gomock.Any()).
		Return(nil, model.ErrNoJobsAvailable).AnyTimes().After(first)

	var lines []string
	repo.EXPECT().AppendLog(gomock.Any(), "job-1", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, line string) error {
			lines = append(lines, line)
			return nil
		}).AnyTimes()

	repo.EXPECT().Complete(gomock.Any(), "job-1", "processed/job-1_processed.xlsx").
		DoAndReturn(func(context.Context, string, string) (bool, error) {
			cancel()
			return true, nil
		})

	err := runner.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	assert.Contains(t, lines, "Step 1: Processing Leads...")
	assert.Contains(t, lines, "Step 2: Validating Emails...")
	assert.Contains(t, lines, model.SentinelCompleted)
}

func TestRunner_FailsJobOnPipelineError(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockJobRepository(ctrl)
	runner, _ := newFixture(t, repo)

	// Upload never stored: the pipeline fails reading it.
	job := &model.Job{ID: "job-2", Status: model.JobStatusRunning, UploadKey: "uploads/job-2.xlsx"}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo.EXPECT().WaitForNotification(gomock.Any()).DoAndReturn(blockUntilDone).AnyTimes()
	repo.EXPECT().Heartbeat(gomock.Any(), "job-2", gomock.Any()).Return(true, nil).AnyTimes()

	first := repo.EXPECT().ReserveNext(gomock.Any(), gomock.Any()).Return(job, nil)
	repo.EXPECT().ReserveNext(gomock.Any(), gomock.Any()).
		Return(nil, model.ErrNoJobsAvailable).AnyTimes().After(first)

	var lines []string
	repo.EXPECT().AppendLog(gomock.Any(), "job-2", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, line string) error {
			lines = append(lines, line)
			return nil
		}).AnyTimes()

	repo.EXPECT().Fail(gomock.Any(), "job-2", gomock.Any()).
		DoAndReturn(func(context.Context, string, string) (bool, error) {
			cancel()
			return true, nil
		})

	err := runner.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	require.NotEmpty(t, lines)
	assert.Contains(t, lines[len(lines)-1], "Error: ")
	assert.NotContains(t, lines, model.SentinelCompleted)
}

func TestNewRunner_RequiresDependencies(t *testing.T) {
	_, err := NewRunner(RunnerOptions{})
	require.Error(t, err)
}

func TestRunner_StopsOnContextCancel(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockJobRepository(ctrl)
	runner, _ := newFixture(t, repo)

	repo.EXPECT().WaitForNotification(gomock.Any()).DoAndReturn(blockUntilDone).AnyTimes()
	repo.EXPECT().ReserveNext(gomock.Any(), gomock.Any()).
		Return(nil, model.ErrNoJobsAvailable).AnyTimes()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := runner.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
