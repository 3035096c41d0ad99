package workflow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/leadforge/leadforge/internal/domain/model"
)

// State is one phase of the job workflow.
type State string

// Workflow states. Completed and Error are terminal; a new submission starts
// a fresh machine.
const (
	StateIdle       State = "idle"
	StateUploading  State = "uploading"
	StateProcessing State = "processing"
	StatePolling    State = "polling"
	StateCompleted  State = "completed"
	StateError      State = "error"
)

const (
	defaultPollInterval    = 2000 * time.Millisecond
	defaultMaxPollFailures = 5
	defaultMaxPollBackoff  = 30 * time.Second

	promptSelectFile = "Please select a file."
	trailerLine      = "Your file is ready to download."
)

// Workflow errors callers can test for.
var (
	ErrNoFileSelected = errors.New("no file selected")
	ErrJobInFlight    = errors.New("a job is already in flight")
)

// Backend is the server surface the controller drives. *Client implements it.
type Backend interface {
	Upload(ctx context.Context, filename string, content io.Reader) (string, error)
	Process(ctx context.Context, jobID string) error
	Progress(ctx context.Context, jobID string) ([]string, error)
	DownloadURL(jobID string) string
}

// UI receives workflow output. Implementations render however they like; the
// controller never touches a display directly.
type UI interface {
	// SetStatus replaces the whole status text. Each poll replaces, never
	// appends, so identical histories render identically.
	SetStatus(text string)
	// SetBusy toggles the busy indicator.
	SetBusy(busy bool)
	// ShowDownload reveals the download affordance for the finished job.
	ShowDownload(url string)
	// ShowError surfaces a fatal, user-facing failure.
	ShowError(msg string)
}

// ControllerOptions groups dependencies for Controller.
type ControllerOptions struct {
	Backend Backend      // Required
	UI      UI           // Required
	Logger  *slog.Logger // Optional

	// PollInterval is the delay between progress polls. Defaults to 2s.
	PollInterval time.Duration
	// MaxPollFailures bounds consecutive failed polls before the job is
	// declared dead. A successful poll resets the budget. Defaults to 5.
	MaxPollFailures int
	// MaxPollBackoff caps the exponential backoff between failed polls.
	// Defaults to 30s.
	MaxPollBackoff time.Duration
}

// Controller owns the end-to-end lifecycle of one job: validate, upload,
// trigger processing, poll until the completion sentinel appears, reveal the
// download. One job at a time; a submission while another is in flight is
// rejected rather than racing two poll loops over the same display.
type Controller struct {
	backend Backend
	ui      UI
	logger  *slog.Logger

	pollInterval    time.Duration
	maxPollFailures int
	maxPollBackoff  time.Duration

	mu       sync.Mutex
	state    State
	jobID    string
	inFlight bool
}

// NewController constructs a Controller.
func NewController(opts ControllerOptions) (*Controller, error) {
	if opts.Backend == nil {
		return nil, errors.New("Backend is required")
	}
	if opts.UI == nil {
		return nil, errors.New("UI is required")
	}

	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.MaxPollFailures <= 0 {
		opts.MaxPollFailures = defaultMaxPollFailures
	}
	if opts.MaxPollBackoff <= 0 {
		opts.MaxPollBackoff = defaultMaxPollBackoff
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "workflow_controller")
	}

	return &Controller{
		backend:         opts.Backend,
		ui:              opts.UI,
		logger:          logger,
		pollInterval:    opts.PollInterval,
		maxPollFailures: opts.MaxPollFailures,
		maxPollBackoff:  opts.MaxPollBackoff,
		state:           StateIdle,
	}, nil
}

// State reports the current workflow state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// JobID reports the id of the current (or last) job, empty before the first
// successful upload.
func (c *Controller) JobID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.jobID
}

// Run drives one job from file selection to completion. It blocks until the
// job completes, fails, or ctx is canceled.
func (c *Controller) Run(ctx context.Context, filename string, content []byte) error {
	if err := c.begin(); err != nil {
		return err
	}
	defer c.end()

	if filename == "" || len(content) == 0 {
		// No network call for an empty selection; the machine stays Idle.
		c.ui.ShowError(promptSelectFile)
		return ErrNoFileSelected
	}

	c.setState(StateUploading)
	c.ui.SetStatus("")
	c.ui.SetBusy(true)

	jobID, err := c.backend.Upload(ctx, filename, bytes.NewReader(content))
	if err != nil {
		return c.fail(err)
	}
	c.setJobID(jobID)
	if c.logger != nil {
		c.logger.InfoContext(ctx, "upload accepted", "job_id", jobID, "filename", filename)
	}

	c.setState(StateProcessing)
	if err := c.backend.Process(ctx, jobID); err != nil {
		return c.fail(err)
	}

	c.setState(StatePolling)
	return c.poll(ctx, jobID)
}

// poll fetches progress every pollInterval until the completion sentinel
// shows up. Failed polls back off exponentially; maxPollFailures consecutive
// failures end the job.
func (c *Controller) poll(ctx context.Context, jobID string) error {
	failures := 0
	delay := c.pollInterval

	timer := time.NewTimer(delay)
	defer timer.Stop()

	for {
		logs, err := c.backend.Progress(ctx, jobID)
		switch {
		case err != nil:
			failures++
			if c.logger != nil {
				c.logger.WarnContext(ctx, "poll failed",
					"job_id", jobID, "attempt", failures, "max", c.maxPollFailures, "error", err)
			}
			if failures >= c.maxPollFailures {
				return c.fail(fmt.Errorf("polling failed after %d attempts: %w", failures, err))
			}
			delay = minDuration(delay*2, c.maxPollBackoff)
		default:
			failures = 0
			delay = c.pollInterval

			c.ui.SetStatus(strings.Join(logs, "\n"))
			if containsSentinel(logs) {
				c.complete(jobID, logs)
				return nil
			}
		}

		timer.Reset(delay)
		select {
		case <-ctx.Done():
			c.ui.SetBusy(false)
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// complete finishes the machine: download affordance revealed once, trailer
// appended to the displayed text only (it is never sent to the server).
func (c *Controller) complete(jobID string, logs []string) {
	c.setState(StateCompleted)
	c.ui.SetBusy(false)
	c.ui.ShowDownload(c.backend.DownloadURL(jobID))
	c.ui.SetStatus(strings.Join(append(logs, trailerLine), "\n"))
	if c.logger != nil {
		c.logger.Info("job completed", "job_id", jobID)
	}
}

// fail moves the machine to Error with the backend's message shown verbatim
// and the busy indicator cleared so the user can resubmit.
func (c *Controller) fail(err error) error {
	c.setState(StateError)
	c.ui.SetBusy(false)
	c.ui.ShowError(err.Error())
	if c.logger != nil {
		c.logger.Warn("workflow failed", "error", err)
	}
	return err
}

func (c *Controller) begin() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight {
		return ErrJobInFlight
	}
	c.inFlight = true
	c.state = StateIdle
	c.jobID = ""
	return nil
}

func (c *Controller) end() {
	c.mu.Lock()
	c.inFlight = false
	c.mu.Unlock()
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Controller) setJobID(id string) {
	c.mu.Lock()
	c.jobID = id
	c.mu.Unlock()
}

func containsSentinel(logs []string) bool {
	for _, line := range logs {
		if line == model.SentinelCompleted {
			return true
		}
	}
	return false
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
