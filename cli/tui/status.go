package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/seamline-io/conveyor/cli/reader"
)

// StatusModel is a Bubble Tea model for the per-date pipeline status view.
type StatusModel struct {
	data     any
	width    int
	height   int
	quitting bool
}

// NewStatusModel creates a status model.
func NewStatusModel(data any) StatusModel {
	return StatusModel{data: data}
}

// Init implements tea.Model.
func (m StatusModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m StatusModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}
	}

	return m, nil
}

// View implements tea.Model.
func (m StatusModel) View() string {
	if m.quitting {
		return ""
	}

	data, ok := m.data.(*reader.StatusResponse)
	if !ok {
		return "Invalid data type for status view"
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render(fmt.Sprintf("Pipeline Status — %s", data.RunDate)))
	b.WriteString("\n\n")

	if len(data.Stages) == 0 {
		b.WriteString(ValueStyle.Render("No attempts recorded for this date."))
		b.WriteString("\n")
	}

	for _, st := range data.Stages {
		b.WriteString(fmt.Sprintf("%s %s",
			LabelStyle.Render(st.Stage+":"),
			StateStyle(st.State).Render(st.State)))
		b.WriteString(ValueStyle.Render(fmt.Sprintf("  attempt %d of %d", st.Attempt, st.Attempts)))
		if st.Paid {
			b.WriteString(WarningStyle.Render("  [paid]"))
		}
		if st.Mode != "" {
			b.WriteString(ValueStyle.Render(fmt.Sprintf("  mode=%s", st.Mode)))
		}
		if st.Theme != "" {
			b.WriteString(ValueStyle.Render(fmt.Sprintf("  theme=%s", st.Theme)))
		}
		b.WriteString("\n")
		if st.Cause != "" {
			b.WriteString(fmt.Sprintf("%s %s\n",
				LabelStyle.Render(""),
				ErrorStyle.Render(st.Cause)))
		}
	}

	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("%s %s\n",
		LabelStyle.Render("Audits:"),
		ValueStyle.Render(fmt.Sprintf("%d", data.Audits))))
	findingsStyle := SuccessStyle
	if data.Findings > 0 {
		findingsStyle = ErrorStyle
	}
	b.WriteString(fmt.Sprintf("%s %s\n",
		LabelStyle.Render("Findings:"),
		findingsStyle.Render(fmt.Sprintf("%d", data.Findings))))

	help := HelpStyle.Render("Press q or Ctrl+C to quit")
	return BoxStyle.Render(b.String()) + "\n" + help
}

// keyMap defines key bindings.
type keyMap struct {
	Quit key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

// RunStatusTUI runs the status TUI.
func RunStatusTUI(data any) error {
	model := NewStatusModel(data)
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RenderStatusStatic renders status data without a full TUI (for fallback).
func RenderStatusStatic(data any) string {
	model := NewStatusModel(data)
	model.width = 80
	model.height = 24
	return lipgloss.NewStyle().Padding(1, 2).Render(model.View())
}
