package ui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// Color palette for run output
var (
	SuccessColor = lipgloss.Color("#43BF6D") // Green - clean exit
	ErrorColor   = lipgloss.Color("#FF5555") // Red - panics, faults, errors
	WarningColor = lipgloss.Color("#FFA500") // Orange - warnings, timeouts
	AccentColor  = lipgloss.Color("#7D56F4") // Purple - function names
	MutedColor   = lipgloss.Color("#626262") // Gray - secondary info
	TextColor    = lipgloss.Color("#FFFFFF") // White - main content
)

// Layout constants
const (
	MinTerminalWidth = 60  // Minimum supported terminal width
	MaxContentWidth  = 100 // Maximum content width before capping
)

// Log record styles, one per telemetry level
var (
	TraceStyle = lipgloss.NewStyle().Foreground(MutedColor)
	DebugStyle = lipgloss.NewStyle().Foreground(MutedColor)
	InfoStyle  = lipgloss.NewStyle().Foreground(TextColor)
	WarnStyle  = lipgloss.NewStyle().Foreground(WarningColor)
	ErrStyle   = lipgloss.NewStyle().Foreground(ErrorColor)

	// TimestampStyle renders the leading device timestamp
	TimestampStyle = lipgloss.NewStyle().Foreground(MutedColor)

	// SourceStyle renders the trailing file:line attribution
	SourceStyle = lipgloss.NewStyle().Foreground(MutedColor).Italic(true)
)

// Backtrace styles
var (
	// BacktraceTitleStyle is for the "stack backtrace:" header
	BacktraceTitleStyle = lipgloss.NewStyle().
				Foreground(TextColor).
				Bold(true)

	// FrameIndexStyle is for the frame number column
	FrameIndexStyle = lipgloss.NewStyle().
			Foreground(MutedColor).
			Width(4).
			Align(lipgloss.Right)

	// FrameFuncStyle is for the demangled function name
	FrameFuncStyle = lipgloss.NewStyle().
			Foreground(AccentColor)

	// FrameLocStyle is for the "at file:line" attribution
	FrameLocStyle = lipgloss.NewStyle().
			Foreground(MutedColor)

	// FrameNoteStyle is for frame annotations such as "inline" or
	// "imprecise"
	FrameNoteStyle = lipgloss.NewStyle().
			Foreground(WarningColor).
			Italic(true)
)

// Outcome line styles
var (
	OutcomeSuccessStyle = lipgloss.NewStyle().
				Foreground(SuccessColor).
				Bold(true)

	OutcomeErrorStyle = lipgloss.NewStyle().
				Foreground(ErrorColor).
				Bold(true)

	OutcomeWarnStyle = lipgloss.NewStyle().
				Foreground(WarningColor).
				Bold(true)
)

// Outcome markers
const (
	SuccessMarker = "✓"
	FailureMarker = "✗"
)

// LevelStyle returns the style for a telemetry level name as produced by
// telemetry.Level.String.
func LevelStyle(level string) lipgloss.Style {
	switch level {
	case "TRACE":
		return TraceStyle
	case "DEBUG":
		return DebugStyle
	case "WARN":
		return WarnStyle
	case "ERROR":
		return ErrStyle
	default:
		return InfoStyle
	}
}

// GetTerminalWidth returns the current terminal width, with fallback.
func GetTerminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width < MinTerminalWidth {
		return MinTerminalWidth
	}
	if width > MaxContentWidth {
		return MaxContentWidth
	}
	return width
}
