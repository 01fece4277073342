// Package cliui provides reusable terminal UI helpers (spinners, step
// indicators, shared styles, markdown rendering) for engram CLI commands.
package cliui

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

var (
	SuccessMark  = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Render("✓")
	FailMark     = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Render("✗")
	StepStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	spinnerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
)

// Shared styles for command output.
var (
	KeyStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("252")).Bold(true)
	ValueStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	DimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	HashStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	NameStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Bold(true)
	LobeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	PreviewStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	WarnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	BlockStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
)

// spinnerFrames matches bubbletea's spinner.Dot pattern.
var spinnerFrames = []string{"⣾", "⣽", "⣻", "⢿", "⡿", "⣟", "⣯", "⣷"}

// Step prints an animated spinner while fn runs, then replaces it with
// a ✓ or ✗ checkmark and elapsed time.
func Step(w io.Writer, msg string, fn func() error) error {
	done := make(chan struct{})
	var mu sync.Mutex

	// Run spinner animation in background
	go func() {
		frame := 0
		ticker := time.NewTicker(80 * time.Millisecond)
		defer ticker.Stop()

		for {
			mu.Lock()
			fmt.Fprintf(w, "\r  %s %s",
				spinnerStyle.Render(spinnerFrames[frame%len(spinnerFrames)]),
				msg,
			)
			mu.Unlock()

			select {
			case <-done:
				return
			case <-ticker.C:
				frame++
			}
		}
	}()

	start := time.Now()
	err := fn()
	elapsed := time.Since(start)

	close(done)

	// Clear the spinner line and print final result
	mu.Lock()
	fmt.Fprintf(w, "\r  %s %s %s\n",
		Mark(err),
		msg,
		StepStyle.Render(fmt.Sprintf("(%s)", FormatDuration(elapsed))),
	)
	mu.Unlock()

	return err
}

// Mark returns a ✓ for nil errors or ✗ for non-nil errors.
func Mark(err error) string {
	if err != nil {
		return FailMark
	}
	return SuccessMark
}

// PresenceMark returns a ✓ or ✗ for a boolean probe.
func PresenceMark(ok bool) string {
	if ok {
		return SuccessMark
	}
	return FailMark
}

// FormatDuration formats a duration for display (e.g. "12ms" or "3.2s").
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

// ShortHash abbreviates a record digest for display.
func ShortHash(cid string) string {
	if len(cid) <= 12 {
		return cid
	}
	return cid[:12]
}

// RenderMarkdown renders markdown content for terminal display using glamour.
func RenderMarkdown(content string) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		return content, err
	}

	rendered, err := r.Render(content)
	if err != nil {
		return content, err
	}

	return rendered, nil
}
