package watch

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/cmdbuf/cmdbuf/internal/api"
	"github.com/cmdbuf/cmdbuf/internal/events"
)

// --- Message types ---

type tickMsg time.Time

type stateMsg api.StateResponse

type buffersMsg api.BufferListResponse

type healthMsg api.HealthzResponse

type eventsMsg []events.Event

type errMsg error

// --- Commands ---

func getJSON(apiURL, apiKey, path string, into any) error {
	client := &http.Client{Timeout: 2 * time.Second}
	req, err := http.NewRequest(http.MethodGet, apiURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(into)
}

func fetchState(apiURL, apiKey string) tea.Cmd {
	return func() tea.Msg {
		var out api.StateResponse
		if err := getJSON(apiURL, apiKey, "/v1/state", &out); err != nil {
			return errMsg(err)
		}
		return stateMsg(out)
	}
}

func fetchBuffers(apiURL, apiKey string) tea.Cmd {
	return func() tea.Msg {
		var out api.BufferListResponse
		if err := getJSON(apiURL, apiKey, "/v1/transfer-buffers", &out); err != nil {
			return errMsg(err)
		}
		return buffersMsg(out)
	}
}

func fetchHealth(apiURL, apiKey string) tea.Cmd {
	return func() tea.Msg {
		var out api.HealthzResponse
		if err := getJSON(apiURL, apiKey, "/healthz", &out); err != nil {
			return errMsg(err)
		}
		return healthMsg(out)
	}
}

// fetchEvents polls the event snapshot endpoint for events newer than after.
func fetchEvents(apiURL, apiKey string, after int64) tea.Cmd {
	return func() tea.Msg {
		var out []events.Event
		path := fmt.Sprintf("/v1/events?after=%d", after)
		if err := getJSON(apiURL, apiKey, path, &out); err != nil {
			return errMsg(err)
		}
		return eventsMsg(out)
	}
}

func scheduleTick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}
