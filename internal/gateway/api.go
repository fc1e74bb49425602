// ABOUTME: HTTP JSON API for session state and the command journal.
// ABOUTME: Journal queries run through the pack router so they share the history tools' output.

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/2389/roborock-gateway/internal/auth"
	"github.com/2389/roborock-gateway/internal/builtins"
	"github.com/2389/roborock-gateway/internal/packs"
	"github.com/2389/roborock-gateway/internal/store"
)

// SessionResponse is the JSON response for GET /api/session.
type SessionResponse struct {
	Connected   bool       `json:"connected"`
	DeviceID    string     `json:"device_id,omitempty"`
	DeviceName  string     `json:"device_name,omitempty"`
	Model       string     `json:"model,omitempty"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
	Logins      int        `json:"logins"`
	MCPSessions int        `json:"mcp_sessions"`
}

// registerAPIRoutes registers /api routes, behind JWT auth when a secret is configured.
func (g *Gateway) registerAPIRoutes(mux *http.ServeMux) {
	routes := map[string]http.HandlerFunc{
		"/api/session":       g.handleSession,
		"/api/commands":      g.handleCommands,
		"/api/commands/{id}": g.handleCommand,
		"/api/sessions":      g.handleSessionEvents,
	}

	for path, h := range routes {
		if g.verifier != nil {
			mux.Handle(path, auth.Middleware(g.verifier, "history")(h))
		} else {
			mux.Handle(path, h)
		}
	}

	if g.verifier != nil {
		g.logger.Info("HTTP API auth enabled")
	} else {
		g.logger.Warn("HTTP API auth disabled - no jwt_secret configured")
	}
}

// handleSession reports the connector's session state.
func (g *Gateway) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	st := g.connector.State()
	resp := SessionResponse{
		Connected:   st.Connected,
		Logins:      st.Logins,
		MCPSessions: g.mcpServer.SessionCount(),
	}
	if st.Device != nil {
		resp.DeviceID = st.Device.Device.DUID
		resp.DeviceName = st.Device.Device.Name
		resp.Model = st.Device.Model
	}
	if st.Connected {
		at := st.ConnectedAt.UTC()
		resp.ConnectedAt = &at
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// handleCommands lists journaled commands. Query parameters mirror the
// command_history tool: tool, command, outcome, since (RFC3339), limit.
func (g *Gateway) handleCommands(w http.ResponseWriter, r *http.Request) {
	g.routeHistoryQuery(w, r, "command_history", "tool", "command", "outcome", "since")
}

// handleCommand returns one journaled command by ID.
func (g *Gateway) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	rec, err := g.store.GetCommand(r.Context(), r.PathValue("id"))
	switch {
	case errors.Is(err, store.ErrNotFound):
		g.sendJSONError(w, http.StatusNotFound, "command not found")
		return
	case err != nil:
		g.logger.Error("command lookup failed", "id", r.PathValue("id"), "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(builtins.NewCommandView(rec))
}

// handleSessionEvents lists journaled session events: kind, since, limit.
func (g *Gateway) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	g.routeHistoryQuery(w, r, "session_history", "kind", "since")
}

func (g *Gateway) routeHistoryQuery(w http.ResponseWriter, r *http.Request, tool string, params ...string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	input := make(map[string]any, len(params)+1)
	for _, p := range params {
		if v := q.Get(p); v != "" {
			input[p] = v
		}
	}
	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 {
			g.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		input["limit"] = limit
	}

	inputJSON, err := json.Marshal(input)
	if err != nil {
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp, err := g.packRouter.RouteToolCall(r.Context(), tool, string(inputJSON), uuid.New().String(), callerID(r))
	switch {
	case errors.Is(err, packs.ErrRouterClosed):
		g.sendJSONError(w, http.StatusServiceUnavailable, "gateway shutting down")
		return
	case err != nil:
		g.logger.Error("history query failed", "tool", tool, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	case resp.Error != "":
		g.sendJSONError(w, http.StatusBadRequest, resp.Error)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(resp.OutputJSON))
}

// callerID names the HTTP caller for router logs.
func callerID(r *http.Request) string {
	if p := auth.FromContext(r.Context()); p != nil {
		return "jwt:" + p.ID
	}
	return "http:anonymous"
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
