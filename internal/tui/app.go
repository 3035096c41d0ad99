// Package tui renders the upload/process/poll/download workflow in the
// terminal.
package tui

import (
	"context"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/leadforge/leadforge/internal/workflow"
)

var (
	styleTitle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED")).Padding(0, 1)
	styleStatus   = lipgloss.NewStyle().Padding(0, 1)
	styleDownload = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#10B981")).Padding(0, 1)
	styleError    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#EF4444")).Padding(0, 1)
	styleHints    = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280")).Padding(0, 1)
)

// EventKind distinguishes workflow UI updates.
type EventKind int

// Workflow UI event kinds.
const (
	EventStatus EventKind = iota
	EventBusy
	EventDownload
	EventError
)

// Event is one UI update emitted by the workflow controller.
type Event struct {
	Kind EventKind
	Text string
	Busy bool
}

// ChannelUI bridges workflow.UI calls into a channel the bubbletea program
// consumes. The channel is buffered so controller progress never blocks on
// rendering.
type ChannelUI struct {
	events chan Event
}

// NewChannelUI builds a ChannelUI with room for bursts of updates.
func NewChannelUI() *ChannelUI {
	return &ChannelUI{events: make(chan Event, 64)}
}

// Events exposes the update stream for the program to consume.
func (u *ChannelUI) Events() <-chan Event { return u.events }

// SetStatus implements workflow.UI.
func (u *ChannelUI) SetStatus(text string) { u.send(Event{Kind: EventStatus, Text: text}) }

// SetBusy implements workflow.UI.
func (u *ChannelUI) SetBusy(busy bool) { u.send(Event{Kind: EventBusy, Busy: busy}) }

// ShowDownload implements workflow.UI.
func (u *ChannelUI) ShowDownload(url string) { u.send(Event{Kind: EventDownload, Text: url}) }

// ShowError implements workflow.UI.
func (u *ChannelUI) ShowError(msg string) { u.send(Event{Kind: EventError, Text: msg}) }

func (u *ChannelUI) send(e Event) {
	select {
	case u.events <- e:
	default:
		// A full buffer means the program stopped consuming; drop rather
		// than wedge the controller.
	}
}

type uiEventMsg Event

type runFinishedMsg struct {
	err error
}

// AppOptions groups dependencies for App.
type AppOptions struct {
	Controller *workflow.Controller // Required
	UI         *ChannelUI           // Required: same UI the controller renders to
	Filename   string               // Workbook filename shown and uploaded
	Content    []byte               // Workbook bytes
}

// App is the bubbletea model for one workflow run.
type App struct {
	ctrl *workflow.Controller
	ui   *ChannelUI

	filename string
	content  []byte

	viewport viewport.Model
	spinner  spinner.Model

	status      string
	busy        bool
	downloadURL string
	errText     string
	done        bool
	runErr      error

	width  int
	height int
}

// NewApp builds the program model.
func NewApp(opts AppOptions) App {
	sp := spinner.New()
	sp.Spinner = spinner.Dot

	vp := viewport.New(80, 16)

	return App{
		ctrl:     opts.Controller,
		ui:       opts.UI,
		filename: opts.Filename,
		content:  opts.Content,
		viewport: vp,
		spinner:  sp,
		status:   "Uploading " + opts.Filename + "...",
	}
}

// Init starts the workflow and begins consuming its updates.
func (a App) Init() tea.Cmd {
	return tea.Batch(a.spinner.Tick, a.startJob(), a.waitForEvent())
}

func (a App) startJob() tea.Cmd {
	ctrl, filename, content := a.ctrl, a.filename, a.content
	return func() tea.Msg {
		err := ctrl.Run(context.Background(), filename, content)
		return runFinishedMsg{err: err}
	}
}

func (a App) waitForEvent() tea.Cmd {
	events := a.ui.Events()
	return func() tea.Msg {
		return uiEventMsg(<-events)
	}
}

// Update handles key presses, workflow events and spinner ticks.
func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return a, tea.Quit
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.viewport.Width = msg.Width - 2
		a.viewport.Height = max(msg.Height-6, 1)
		return a, nil

	case uiEventMsg:
		a.applyEvent(Event(msg))
		return a, a.waitForEvent()

	case runFinishedMsg:
		a.done = true
		a.runErr = msg.err
		a.busy = false
		return a, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd
	}

	var cmd tea.Cmd
	a.viewport, cmd = a.viewport.Update(msg)
	return a, cmd
}

func (a *App) applyEvent(e Event) {
	switch e.Kind {
	case EventStatus:
		a.status = e.Text
		a.viewport.SetContent(e.Text)
		a.viewport.GotoBottom()
	case EventBusy:
		a.busy = e.Busy
	case EventDownload:
		a.downloadURL = e.Text
	case EventError:
		a.errText = e.Text
	}
}

// View renders title, progress, download link and error line.
func (a App) View() string {
	var b strings.Builder

	b.WriteString(styleTitle.Render("leadforge — lead pipeline"))
	b.WriteString("\n\n")

	if a.busy {
		b.WriteString(styleStatus.Render(a.spinner.View() + " working..."))
		b.WriteString("\n")
	}

	b.WriteString(styleStatus.Render(a.viewport.View()))
	b.WriteString("\n")

	if a.downloadURL != "" {
		b.WriteString(styleDownload.Render("Download: " + a.downloadURL))
		b.WriteString("\n")
	}
	if a.errText != "" {
		b.WriteString(styleError.Render("Error: " + a.errText))
		b.WriteString("\n")
	}

	b.WriteString(styleHints.Render("q: quit"))
	return b.String()
}
