// Package display renders the end-of-run summary for the terminal.
package display

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleOK   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	titleFail = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	label     = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(12)
	value     = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	hint      = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("243"))
	box       = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 2)
)

// Summary carries the run totals to render.
type Summary struct {
	Output     string
	Segments   int
	Completed  int
	Skipped    int
	Failed     int
	Elapsed    time.Duration
	OutputSize int64
}

func row(name, val string) string {
	return label.Render(name) + value.Render(val)
}

// Success renders the completed-run summary.
func Success(s Summary) string {
	lines := []string{
		titleOK.Render("✓ upscale complete"),
		"",
		row("output", s.Output),
		row("segments", fmt.Sprintf("%d (%d reused)", s.Segments, s.Skipped)),
		row("size", humanBytes(s.OutputSize)),
		row("elapsed", s.Elapsed.Round(time.Second).String()),
	}
	return box.Render(strings.Join(lines, "\n"))
}

// Failure renders the failed-run summary with a resume hint.
func Failure(s Summary, err error) string {
	lines := []string{
		titleFail.Render("✗ upscale failed"),
		"",
		row("error", err.Error()),
		row("segments", fmt.Sprintf("%d of %d done", s.Completed, s.Segments)),
		row("failed", fmt.Sprintf("%d", s.Failed)),
		row("elapsed", s.Elapsed.Round(time.Second).String()),
		"",
		hint.Render("completed segments are kept; rerun the same command to resume"),
	}
	return box.Render(strings.Join(lines, "\n"))
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
