package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/ormasoftchile/patui/pkg/db"
	"github.com/ormasoftchile/patui/pkg/runner"
	"github.com/ormasoftchile/patui/pkg/types"
)

// --- Tea messages ---

// testsLoadedMsg delivers the catalog listing.
type testsLoadedMsg struct {
	tests []types.Test
	err   error
}

// runDoneMsg delivers a finished run for the selected test.
type runDoneMsg struct {
	id  int64
	res *runner.Result
	err error
}

// Model is the top-level Bubble Tea model.
type Model struct {
	ctx   context.Context
	store *db.Store

	tests    []types.Test
	selected int
	detail   bool
	scroll   int

	running  bool
	lastRun  map[int64]*runner.Result
	fatalErr string

	width  int
	height int
}

// Run opens the catalog browser and blocks until the user quits.
func Run(ctx context.Context, store *db.Store) error {
	m := Model{
		ctx:     ctx,
		store:   store,
		lastRun: map[int64]*runner.Result{},
	}
	_, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
	return err
}

func (m Model) Init() tea.Cmd {
	return m.loadTests()
}

func (m Model) loadTests() tea.Cmd {
	return func() tea.Msg {
		tests, err := m.store.List(m.ctx)
		return testsLoadedMsg{tests: tests, err: err}
	}
}

func (m Model) runSelected() tea.Cmd {
	if len(m.tests) == 0 {
		return nil
	}
	test := m.tests[m.selected]
	ctx := m.ctx
	store := m.store
	return func() tea.Msg {
		res, err := runner.RunTest(ctx, &test)
		if err == nil {
			err = store.TouchUsed(ctx, test.ID)
		}
		return runDoneMsg{id: test.ID, res: res, err: err}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case testsLoadedMsg:
		if msg.err != nil {
			m.fatalErr = msg.err.Error()
			return m, nil
		}
		m.tests = msg.tests
		if m.selected >= len(m.tests) {
			m.selected = 0
		}
		return m, nil

	case runDoneMsg:
		m.running = false
		if msg.err != nil {
			m.fatalErr = msg.err.Error()
			return m, nil
		}
		m.lastRun[msg.id] = msg.res
		return m, m.loadTests()

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, keys.Up):
			if m.detail {
				if m.scroll > 0 {
					m.scroll--
				}
			} else if m.selected > 0 {
				m.selected--
			}
		case key.Matches(msg, keys.Down):
			if m.detail {
				m.scroll++
			} else if m.selected < len(m.tests)-1 {
				m.selected++
			}
		case key.Matches(msg, keys.Detail):
			if len(m.tests) > 0 {
				m.detail = true
				m.scroll = 0
			}
		case key.Matches(msg, keys.Back):
			m.detail = false
		case key.Matches(msg, keys.Run):
			if !m.running && len(m.tests) > 0 {
				m.running = true
				return m, m.runSelected()
			}
		}
	}
	return m, nil
}

func (m Model) View() string {
	if m.fatalErr != "" {
		return failedStyle.Render("error: "+m.fatalErr) + "\n" + bottomBarStyle.Render("q quit")
	}

	header := headerStyle.Render("patui — test catalog")
	var body string
	if m.detail {
		body = m.viewDetail()
	} else {
		body = m.viewList()
	}
	bottom := bottomBarStyle.Render(helpLine(m.detail))
	return lipgloss.JoinVertical(lipgloss.Left, header, body, bottom)
}

func (m Model) viewList() string {
	if len(m.tests) == 0 {
		return paneBorderStyle.Render(dimStyle.Render("no tests in catalog — create one with `patui new test`"))
	}

	width := max(40, m.width-4)
	var rows []string
	for i, t := range m.tests {
		glyph := " "
		if res, ok := m.lastRun[t.ID]; ok {
			if res.Passed {
				glyph = passedStyle.Render(GlyphPassed)
			} else {
				glyph = failedStyle.Render(GlyphFailed)
			}
		}
		if m.running && i == m.selected {
			glyph = GlyphRunning
		}
		line := fmt.Sprintf("%s %4d  %s  %s", glyph, t.ID,
			runewidth.FillRight(runewidth.Truncate(t.Name, 40, "…"), 40),
			dimStyle.Render(fmt.Sprintf("used %d", t.TimesUsed)))
		line = runewidth.Truncate(line, width, "…")
		if i == m.selected {
			rows = append(rows, listSelectedStyle.Render(line))
		} else {
			rows = append(rows, listItemStyle.Render(line))
		}
	}
	return paneBorderStyle.Render(strings.Join(rows, "\n"))
}

func (m Model) viewDetail() string {
	t := m.tests[m.selected]

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s (id %d)\n\n", t.Name, t.ID)
	if t.Description != "" {
		sb.WriteString(renderMarkdown(t.Description, max(40, m.width-8)))
		sb.WriteString("\n")
	}
	if yamlText, err := t.DisplayYAML(); err == nil {
		sb.WriteString("steps:\n")
		sb.WriteString(yamlText)
	}
	if res, ok := m.lastRun[t.ID]; ok {
		sb.WriteString("\n")
		if res.Passed {
			sb.WriteString(passedStyle.Render(GlyphPassed + " passed"))
		} else {
			sb.WriteString(failedStyle.Render(GlyphFailed + " failed: " + res.Reason))
		}
		sb.WriteString("\n")
		for _, e := range res.Events {
			line := fmt.Sprintf("%s %-8s %-12s", e.Timestamp.Format("15:04:05.000"), e.Kind, e.Step)
			if e.Kind == types.EventBytes {
				line += fmt.Sprintf(" %q", truncateBytes(e.Data, 48))
			} else {
				line += " " + e.Message
			}
			sb.WriteString(dimStyle.Render(line) + "\n")
		}
	}

	lines := strings.Split(sb.String(), "\n")
	visible := max(5, m.height-6)
	start := min(m.scroll, max(0, len(lines)-visible))
	end := min(len(lines), start+visible)
	return paneBorderStyle.Render(strings.Join(lines[start:end], "\n"))
}

func truncateBytes(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "…"
}
