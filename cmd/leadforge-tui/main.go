package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/leadforge/leadforge/internal/tui"
	"github.com/leadforge/leadforge/internal/workflow"
)

func main() {
	server := flag.String("server", "http://localhost:8080", "leadforge server base URL")
	file := flag.String("file", "", "Path to the .xlsx workbook to process (required)")
	pollInterval := flag.Duration("poll-interval", 2*time.Second, "Progress poll interval")
	flag.Parse()

	if *file == "" {
		fmt.Fprintln(os.Stderr, "Error: -file is required")
		flag.Usage()
		os.Exit(1)
	}

	content, err := os.ReadFile(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: read %s: %v\n", *file, err)
		os.Exit(1)
	}

	client, err := workflow.NewClient(workflow.ClientOptions{BaseURL: *server})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ui := tui.NewChannelUI()
	controller, err := workflow.NewController(workflow.ControllerOptions{
		Backend:      client,
		UI:           ui,
		PollInterval: *pollInterval,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	app := tui.NewApp(tui.AppOptions{
		Controller: controller,
		UI:         ui,
		Filename:   filepath.Base(*file),
		Content:    content,
	})

	if _, err := tea.NewProgram(app, tea.WithAltScreen()).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
