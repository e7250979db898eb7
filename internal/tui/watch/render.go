package watch

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/cmdbuf/cmdbuf/internal/api"
	"github.com/cmdbuf/cmdbuf/internal/cmdbuf"
	"github.com/cmdbuf/cmdbuf/internal/events"
)

const gaugeWidth = 40

func renderHeader(h api.HealthzResponse, connected bool, theme Theme, width int) string {
	status := theme.StatusIdle.Render("disconnected")
	if connected {
		switch h.Status {
		case "ok":
			status = theme.StatusOK.Render("ok")
		case "context_lost":
			status = theme.StatusFault.Render("context lost")
		default:
			status = theme.StatusBusy.Render(h.Status)
		}
	}

	uptime := fmt.Sprintf("%ds", h.UptimeSeconds)
	if h.UptimeSeconds >= 60 {
		uptime = fmt.Sprintf("%dm%ds", h.UptimeSeconds/60, h.UptimeSeconds%60)
	}

	line := fmt.Sprintf(" cmdbufd  status: %s  uptime: %s  buffers: %d  bytes: %d",
		status, uptime, h.BufferCount, h.TotalBytes)
	return theme.Border.Width(min(width-4, 100)).Render(theme.Header.Render(line))
}

// renderRing draws the command ring as a gauge from get to put plus the raw
// offsets, token, and any latched fault.
func renderRing(st cmdbuf.State, theme Theme, width int) string {
	var b strings.Builder

	if st.NumEntries == 0 {
		b.WriteString(theme.Dim.Render(" no ring bound"))
	} else {
		pending := st.PutOffset - st.GetOffset
		if pending < 0 {
			pending += st.NumEntries
		}
		b.WriteString(renderGauge(pending, st.NumEntries, theme))
		b.WriteString(fmt.Sprintf("  put=%d get=%d entries=%d pending=%d",
			st.PutOffset, st.GetOffset, st.NumEntries, pending))
	}
	b.WriteString(fmt.Sprintf("  token=%d gen=%d", st.Token, st.Generation))

	if st.ParseError != cmdbuf.ParseNoError {
		b.WriteString("  " + theme.StatusFault.Render(fmt.Sprintf("parse_error=%d", st.ParseError)))
	}
	if st.ContextLostReason != cmdbuf.NotLost {
		b.WriteString("  " + theme.StatusFault.Render(fmt.Sprintf("context_lost=%d", st.ContextLostReason)))
	}

	return theme.Border.Width(min(width-4, 100)).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("Command Ring"),
			" "+b.String(),
		),
	)
}

func renderGauge(pending, numEntries int32, theme Theme) string {
	filled := int(int64(pending) * gaugeWidth / int64(numEntries))
	if filled > gaugeWidth {
		filled = gaugeWidth
	}
	return theme.GaugeFilled.Render(strings.Repeat("█", filled)) +
		theme.GaugeEmpty.Render(strings.Repeat("░", gaugeWidth-filled))
}

func renderEventLines(log []events.Event, theme Theme) string {
	if len(log) == 0 {
		return theme.Dim.Render(" waiting for events...")
	}

	var b strings.Builder
	for _, ev := range log {
		style := theme.Dim
		switch ev.Type {
		case events.TypeFlush, events.TypeGetOffset:
			style = theme.Highlight
		case events.TypeParseError, events.TypeContextLost:
			style = theme.StatusFault
		case events.TypeBufferCreated, events.TypeBufferDestroyed, events.TypeRingBound:
			style = theme.StatusOK
		}
		fmt.Fprintf(&b, " %s %s %s\n",
			theme.Dim.Render(ev.At.Format("15:04:05")),
			style.Render(fmt.Sprintf("%-20s", ev.Type)),
			string(ev.Data),
		)
	}
	return strings.TrimRight(b.String(), "\n")
}
