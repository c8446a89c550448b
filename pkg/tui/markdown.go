package tui

import "github.com/charmbracelet/glamour"

// renderMarkdown renders a test description for the detail pane, falling
// back to the raw text when the renderer cannot be built (no TTY info).
func renderMarkdown(src string, width int) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return src
	}
	out, err := r.Render(src)
	if err != nil {
		return src
	}
	return out
}
