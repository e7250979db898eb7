package watch

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/cmdbuf/cmdbuf/internal/api"
	"github.com/cmdbuf/cmdbuf/internal/cmdbuf"
	"github.com/cmdbuf/cmdbuf/internal/events"
)

const (
	pollInterval = time.Second
	eventLogMax  = 50
)

// Model is the main BubbleTea model for the watch TUI.
type Model struct {
	apiURL string
	apiKey string

	width  int
	height int

	// State
	health      api.HealthzResponse
	state       cmdbuf.State
	buffers     []api.BufferInfo
	totalBytes  int64
	eventLog    []events.Event
	lastEventID int64
	connected   bool

	// UI state
	theme     Theme
	bufTable  table.Model
	eventView viewport.Model

	lastError string
}

// New creates a new watch TUI model.
func New(apiURL, apiKey string) *Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ID", Width: 6},
			{Title: "Size", Width: 10},
			{Title: "Kind", Width: 10},
		}),
		table.WithFocused(true),
		table.WithHeight(8),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	return &Model{
		apiURL:    apiURL,
		apiKey:    apiKey,
		theme:     NewDefaultTheme(),
		bufTable:  t,
		eventView: viewport.New(80, 10),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		fetchHealth(m.apiURL, m.apiKey),
		fetchState(m.apiURL, m.apiKey),
		fetchBuffers(m.apiURL, m.apiKey),
		fetchEvents(m.apiURL, m.apiKey, 0),
		scheduleTick(pollInterval),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.bufTable, cmd = m.bufTable.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.eventView.Width = msg.Width - 6
		return m, nil

	case tickMsg:
		return m, tea.Batch(
			fetchState(m.apiURL, m.apiKey),
			fetchBuffers(m.apiURL, m.apiKey),
			fetchHealth(m.apiURL, m.apiKey),
			fetchEvents(m.apiURL, m.apiKey, m.lastEventID),
			scheduleTick(pollInterval),
		)

	case stateMsg:
		m.state = msg.State
		m.connected = true
		m.lastError = ""
		return m, nil

	case buffersMsg:
		m.buffers = msg.Buffers
		m.totalBytes = msg.TotalBytes
		rows := make([]table.Row, 0, len(m.buffers))
		for _, b := range m.buffers {
			kind := "owned"
			if b.Shared {
				kind = "external"
			}
			rows = append(rows, table.Row{
				fmt.Sprintf("%d", b.ID),
				fmt.Sprintf("%d B", b.Size),
				kind,
			})
		}
		m.bufTable.SetRows(rows)
		return m, nil

	case healthMsg:
		m.health = api.HealthzResponse(msg)
		m.connected = true
		return m, nil

	case eventsMsg:
		for _, ev := range msg {
			m.eventLog = append([]events.Event{ev}, m.eventLog...)
			if ev.ID > m.lastEventID {
				m.lastEventID = ev.ID
			}
		}
		if len(m.eventLog) > eventLogMax {
			m.eventLog = m.eventLog[:eventLogMax]
		}
		m.eventView.SetContent(renderEventLines(m.eventLog, m.theme))
		return m, nil

	case errMsg:
		m.connected = false
		m.lastError = msg.Error()
		return m, nil
	}

	return m, nil
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to cmdbufd..."
	}

	header := renderHeader(m.health, m.connected, m.theme, m.width)
	ring := renderRing(m.state, m.theme, m.width)
	buffers := m.theme.Border.Render(lipgloss.JoinVertical(lipgloss.Left,
		m.theme.Title.Render(fmt.Sprintf("Transfer Buffers (%d, %d B total)", len(m.buffers), m.totalBytes)),
		m.bufTable.View(),
	))
	eventLog := m.theme.Border.Render(lipgloss.JoinVertical(lipgloss.Left,
		m.theme.Title.Render("Events"),
		m.eventView.View(),
	))

	var errBar string
	if m.lastError != "" {
		errBar = m.theme.StatusFault.Render(" ! " + m.lastError)
	}

	help := m.theme.Dim.Render(" [q] Quit")

	parts := []string{header, ring, buffers, eventLog}
	if errBar != "" {
		parts = append(parts, errBar)
	}
	parts = append(parts, help)

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}
