package workflow

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(ClientOptions{BaseURL: srv.URL})
	require.NoError(t, err)
	return client
}

func TestClientUpload_SendsMultipartFileField(t *testing.T) {
	var gotFilename, gotContent string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/upload", r.URL.Path)

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		gotFilename = header.Filename
		raw, err := io.ReadAll(file)
		require.NoError(t, err)
		gotContent = string(raw)

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"job_id":"abc123"}`)
	}))

	jobID, err := client.Upload(context.Background(), "leads.xlsx", strings.NewReader("workbook"))
	require.NoError(t, err)
	assert.Equal(t, "abc123", jobID)
	assert.Equal(t, "leads.xlsx", gotFilename)
	assert.Equal(t, "workbook", gotContent)
}

func TestClientUpload_RejectionCarriesServerMessage(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":"Invalid file format"}`)
	}))

	_, err := client.Upload(context.Background(), "leads.csv", strings.NewReader("a,b"))
	require.Error(t, err)

	var be *BackendError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, http.StatusBadRequest, be.StatusCode)
	assert.Equal(t, "Invalid file format", be.Message)
	assert.Equal(t, "Invalid file format", err.Error())
}

func TestClientUpload_MissingJobIDIsError(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{}`)
	}))

	_, err := client.Upload(context.Background(), "leads.xlsx", strings.NewReader("workbook"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing job_id")
}

func TestClientProcess_PostsJobID(t *testing.T) {
	var gotBody string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/process", r.URL.Path)
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		gotBody = string(raw)

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"status":"processing started"}`)
	}))

	require.NoError(t, client.Process(context.Background(), "abc123"))
	assert.JSONEq(t, `{"job_id":"abc123"}`, gotBody)
}

func TestClientProgress_DecodesLogs(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/progress", r.URL.Path)
		require.Equal(t, "abc123", r.URL.Query().Get("job_id"))

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"logs":["Step 1: Processing Leads...","Pipeline completed!"]}`)
	}))

	logs, err := client.Progress(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, []string{"Step 1: Processing Leads...", "Pipeline completed!"}, logs)
}

func TestClientDownloadURL_EscapesJobID(t *testing.T) {
	client, err := NewClient(ClientOptions{BaseURL: "http://example.test/"})
	require.NoError(t, err)

	assert.Equal(t, "http://example.test/download?job_id=abc123", client.DownloadURL("abc123"))
	assert.Equal(t, "http://example.test/download?job_id=a%26b", client.DownloadURL("a&b"))
}

func TestNewClient_RequiresBaseURL(t *testing.T) {
	_, err := NewClient(ClientOptions{})
	require.Error(t, err)
}
