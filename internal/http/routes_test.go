package httpx

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/leadforge/leadforge/internal/mocks"
	"github.com/leadforge/leadforge/internal/service"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockJobRepository(ctrl)
	store := mocks.NewMockFileStore(ctrl)
	svc := service.MustNewJobService(service.JobServiceOptions{Repo: repo, Store: store})
	return NewRouter(RouterServices{Jobs: svc})
}

func TestHealthz(t *testing.T) {
	router := newTestRouter(t)

	r := httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	resp := w.Result()
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok"}`, string(raw))
}

func TestHealthz_Head(t *testing.T) {
	router := newTestRouter(t)

	r := httptest.NewRequest(http.MethodHead, "/healthz", http.NoBody)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	resp := w.Result()
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRouter_MethodNotAllowed(t *testing.T) {
	router := newTestRouter(t)

	r := httptest.NewRequest(http.MethodGet, "/upload", http.NoBody)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	resp := w.Result()
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
