// Package watch implements the cmdbufd live monitor TUI. It polls the
// daemon's HTTP API and renders ring occupancy, transfer buffers, and the
// recent event stream.
package watch

import "github.com/charmbracelet/lipgloss"

// Theme centralizes all styling for the watch TUI.
type Theme struct {
	StatusOK     lipgloss.Style
	StatusBusy   lipgloss.Style
	StatusFault  lipgloss.Style
	StatusIdle   lipgloss.Style

	Border    lipgloss.Style
	Title     lipgloss.Style
	Header    lipgloss.Style
	Dim       lipgloss.Style
	Highlight lipgloss.Style

	GaugeFilled lipgloss.Style
	GaugeEmpty  lipgloss.Style
}

func NewDefaultTheme() Theme {
	purple := lipgloss.Color("#874BFD")

	return Theme{
		StatusOK:    lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		StatusBusy:  lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00")),
		StatusFault: lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")),
		StatusIdle:  lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),

		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(purple),
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1),
		Header: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#61AFEF")),
		Dim:       lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		Highlight: lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),

		GaugeFilled: lipgloss.NewStyle().Foreground(lipgloss.Color("#61AFEF")),
		GaugeEmpty:  lipgloss.NewStyle().Foreground(lipgloss.Color("#444444")),
	}
}
