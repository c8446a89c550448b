// Package tui implements the terminal browser for the test catalog: a test
// list pane, a detail pane with the rendered description and step YAML, and
// in-place test runs whose event log is shown once the run finishes.
package tui

import "github.com/charmbracelet/lipgloss"

// Run status glyphs — convey meaning without relying on color alone.
const (
	GlyphPassed  = "✓"
	GlyphFailed  = "✗"
	GlyphRunning = "⟳"
)

// Palette adapts to terminal capabilities via lipgloss.
var (
	colorGreen  = lipgloss.Color("42")
	colorRed    = lipgloss.Color("196")
	colorYellow = lipgloss.Color("214")
	colorCyan   = lipgloss.Color("51")
	colorDim    = lipgloss.Color("240")
	colorWhite  = lipgloss.Color("255")
)

var headerStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(colorCyan).
	Padding(0, 1)

var (
	listItemStyle = lipgloss.NewStyle().
			Foreground(colorWhite)

	listSelectedStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(colorYellow)

	paneBorderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorDim).
			Padding(0, 1)

	passedStyle = lipgloss.NewStyle().Foreground(colorGreen)
	failedStyle = lipgloss.NewStyle().Foreground(colorRed)

	dimStyle = lipgloss.NewStyle().Foreground(colorDim)

	bottomBarStyle = lipgloss.NewStyle().
			Foreground(colorDim).
			Padding(0, 1)
)
