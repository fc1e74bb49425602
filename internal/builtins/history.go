// ABOUTME: History pack exposes the command and session journal as tools.
// ABOUTME: Requires the "history" capability.

package builtins

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/2389/roborock-gateway/internal/packs"
	"github.com/2389/roborock-gateway/internal/store"
)

// CapHistory is the capability required by every history tool.
const CapHistory = "history"

// HistoryPack creates the history pack backed by the journal store.
func HistoryPack(s store.JournalStore) *packs.BuiltinPack {
	h := &historyHandlers{store: s}
	return &packs.BuiltinPack{
		ID: "builtin:history",
		Tools: []*packs.BuiltinTool{
			{
				Definition: &packs.ToolDefinition{
					Name:                 "command_history",
					Description:          "List recent robot commands with their outcome, newest first",
					InputSchemaJSON:      `{"type":"object","properties":{"tool":{"type":"string"},"command":{"type":"string"},"outcome":{"type":"string","enum":["ok","not_connected","command_failed","invalid_request","canceled"]},"since":{"type":"string","format":"date-time"},"limit":{"type":"integer","minimum":1,"maximum":500}}}`,
					RequiredCapabilities: []string{CapHistory},
				},
				Handler: h.CommandHistory,
			},
			{
				Definition: &packs.ToolDefinition{
					Name:                 "session_history",
					Description:          "List recent device session events (connected, login_failed, reset, disconnect_failed), newest first",
					InputSchemaJSON:      `{"type":"object","properties":{"kind":{"type":"string","enum":["connected","login_failed","reset","disconnect_failed"]},"since":{"type":"string","format":"date-time"},"limit":{"type":"integer","minimum":1,"maximum":500}}}`,
					RequiredCapabilities: []string{CapHistory},
				},
				Handler: h.SessionHistory,
			},
		},
	}
}

type historyHandlers struct {
	store store.JournalStore
}

// CommandView is the JSON form of a journaled command.
type CommandView struct {
	ID              string    `json:"id"`
	Tool            string    `json:"tool,omitempty"`
	Command         string    `json:"command"`
	Params          string    `json:"params,omitempty"`
	Outcome         string    `json:"outcome"`
	Error           string    `json:"error,omitempty"`
	ConnectionReset bool      `json:"connection_reset"`
	DurationMS      int64     `json:"duration_ms"`
	CreatedAt       time.Time `json:"created_at"`
}

// NewCommandView converts a journal record to its JSON form.
func NewCommandView(r *store.CommandRecord) CommandView {
	return CommandView{
		ID:              r.ID,
		Tool:            r.Tool,
		Command:         r.Command,
		Params:          r.ParamsJSON,
		Outcome:         r.Outcome,
		Error:           r.Error,
		ConnectionReset: r.ConnectionReset,
		DurationMS:      r.Duration.Milliseconds(),
		CreatedAt:       r.CreatedAt,
	}
}

// SessionEventView is the JSON form of a journaled session event.
type SessionEventView struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	DeviceID  string    `json:"device_id,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type commandHistoryInput struct {
	Tool    string `json:"tool"`
	Command string `json:"command"`
	Outcome string `json:"outcome"`
	Since   string `json:"since"`
	Limit   int    `json:"limit"`
}

func (h *historyHandlers) CommandHistory(ctx context.Context, callerID string, input json.RawMessage) (json.RawMessage, error) {
	var in commandHistoryInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	since, err := parseSince(in.Since)
	if err != nil {
		return nil, err
	}

	records, err := h.store.ListCommands(ctx, store.CommandFilter{
		Tool:    in.Tool,
		Command: in.Command,
		Outcome: in.Outcome,
		Since:   since,
		Limit:   in.Limit,
	})
	if err != nil {
		return nil, err
	}

	views := make([]CommandView, 0, len(records))
	for _, r := range records {
		views = append(views, NewCommandView(r))
	}
	return json.Marshal(map[string]any{"commands": views, "count": len(views)})
}

type sessionHistoryInput struct {
	Kind  string `json:"kind"`
	Since string `json:"since"`
	Limit int    `json:"limit"`
}

func (h *historyHandlers) SessionHistory(ctx context.Context, callerID string, input json.RawMessage) (json.RawMessage, error) {
	var in sessionHistoryInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	since, err := parseSince(in.Since)
	if err != nil {
		return nil, err
	}

	events, err := h.store.ListSessionEvents(ctx, store.SessionEventFilter{
		Kind:  in.Kind,
		Since: since,
		Limit: in.Limit,
	})
	if err != nil {
		return nil, err
	}

	views := make([]SessionEventView, 0, len(events))
	for _, e := range events {
		views = append(views, SessionEventView{
			ID:        e.ID,
			Kind:      e.Kind,
			DeviceID:  e.DeviceID,
			Detail:    e.Detail,
			CreatedAt: e.CreatedAt,
		})
	}
	return json.Marshal(map[string]any{"events": views, "count": len(views)})
}

func parseSince(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, fmt.Errorf("invalid since date: %w", err)
	}
	return &t, nil
}
