// Package workflow drives one upload/process/poll/download job against the
// leadforge HTTP API.
package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultRequestTimeout = 30 * time.Second

// BackendError carries a rejection message from the server. The message is
// shown to the user verbatim.
type BackendError struct {
	StatusCode int
	Message    string
}

func (e *BackendError) Error() string {
	return e.Message
}

// ClientOptions groups dependencies for Client.
type ClientOptions struct {
	BaseURL    string       // Required: server base URL, no trailing slash needed
	HTTPClient *http.Client // Optional: defaults to a client with a 30s timeout
}

// Client is a typed HTTP client for the job endpoints.
type Client struct {
	baseURL string
	httpc   *http.Client
}

// NewClient constructs a Client for the given server.
func NewClient(opts ClientOptions) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("BaseURL is required")
	}

	httpc := opts.HTTPClient
	if httpc == nil {
		httpc = &http.Client{Timeout: defaultRequestTimeout}
	}

	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		httpc:   httpc,
	}, nil
}

// Upload sends the workbook as a multipart "file" field and returns the
// job id assigned by the server. A response without a job id is an error:
// nothing downstream can proceed without one.
func (c *Client) Upload(ctx context.Context, filename string, content io.Reader) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("build upload form: %w", err)
	}
	if _, err := io.Copy(fw, content); err != nil {
		return "", fmt.Errorf("write upload form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("finish upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", &body)
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", backendError(resp)
	}

	var out struct {
		JobID string `json:"job_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	if out.JobID == "" {
		return "", errors.New("upload response missing job_id")
	}
	return out.JobID, nil
}

// Process asks the server to start the pipeline for a job. The response body
// carries no information the workflow needs, so only the status matters.
func (c *Client) Process(ctx context.Context, jobID string) error {
	payload, err := json.Marshal(map[string]string{"job_id": jobID})
	if err != nil {
		return fmt.Errorf("encode process request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/process", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build process request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("process: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return backendError(resp)
	}
	return nil
}

// Progress fetches the full log history for a job.
func (c *Client) Progress(ctx context.Context, jobID string) ([]string, error) {
	u := c.baseURL + "/progress?job_id=" + url.QueryEscape(jobID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build progress request: %w", err)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("progress: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, backendError(resp)
	}

	var out struct {
		Logs []string `json:"logs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode progress response: %w", err)
	}
	return out.Logs, nil
}

// DownloadURL builds the download link for a job. Construction only; the
// caller (browser, curl, TUI opener) performs the transfer and owns its
// error reporting.
func (c *Client) DownloadURL(jobID string) string {
	return c.baseURL + "/download?job_id=" + url.QueryEscape(jobID)
}

// backendError extracts the server's error message from a non-success
// response, falling back to the HTTP status text.
func backendError(resp *http.Response) error {
	be := &BackendError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}

	var out struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err == nil && out.Error != "" {
		be.Message = out.Error
	}
	return be
}
