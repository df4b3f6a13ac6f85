package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/seamline-io/conveyor/cli/reader"
)

// StatsModel is a Bubble Tea model for the cross-date stats view.
type StatsModel struct {
	data     any
	width    int
	height   int
	quitting bool
}

// NewStatsModel creates a stats model.
func NewStatsModel(data any) StatsModel {
	return StatsModel{data: data}
}

// Init implements tea.Model.
func (m StatsModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m StatsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
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
func (m StatsModel) View() string {
	if m.quitting {
		return ""
	}

	data, ok := m.data.(*reader.StatsResponse)
	if !ok {
		return "Invalid data type for stats view"
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Pipeline Statistics"))
	b.WriteString("\n\n")

	attemptBoxes := []string{
		m.renderStatBox("Dates", data.Dates, highlightColor),
		m.renderStatBox("Attempts", data.Attempts, highlightColor),
		m.renderStatBox("Succeeded", data.Succeeded, successColor),
		m.renderStatBox("Failed", data.Failed, errorColor),
		m.renderStatBox("Running", data.Running, warningColor),
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, attemptBoxes...))
	b.WriteString("\n\n")

	itemBoxes := []string{
		m.renderStatBox("Items", data.ItemsTotal, highlightColor),
		m.renderStatBox("Admitted", data.ItemsAdmitted, successColor),
		m.renderStatBox("Rejected", data.ItemsRejected, errorColor),
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, itemBoxes...))

	if len(data.FindingsByKind) > 0 {
		b.WriteString("\n\n")
		b.WriteString(TitleStyle.Render("Audit Findings"))
		b.WriteString("\n")
		kinds := make([]string, 0, len(data.FindingsByKind))
		for kind := range data.FindingsByKind {
			kinds = append(kinds, kind)
		}
		sort.Strings(kinds)
		for _, kind := range kinds {
			b.WriteString(fmt.Sprintf("%s %s\n",
				LabelStyle.Render(kind+":"),
				ErrorStyle.Render(fmt.Sprintf("%d", data.FindingsByKind[kind]))))
		}
	}

	help := HelpStyle.Render("Press q or Ctrl+C to quit")
	return b.String() + "\n" + help
}

func (m StatsModel) renderStatBox(label string, value int, color lipgloss.Color) string {
	boxStyle := StatBoxStyle.BorderForeground(color)

	valueStr := StatValueStyle.Foreground(color).Render(fmt.Sprintf("%d", value))
	labelStr := StatLabelStyle.Render(label)

	content := lipgloss.JoinVertical(lipgloss.Center, valueStr, labelStr)

	return boxStyle.Render(content)
}

// RunStatsTUI runs the stats TUI.
func RunStatsTUI(data any) error {
	model := NewStatsModel(data)
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RenderStatsStatic renders stats data without a full TUI (for fallback).
func RenderStatsStatic(data any) string {
	model := NewStatsModel(data)
	model.width = 80
	model.height = 24
	return lipgloss.NewStyle().Padding(1, 2).Render(model.View())
}
