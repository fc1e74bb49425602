// ABOUTME: MCP Streamable HTTP endpoint exposing registered tool packs to agents.
// ABOUTME: Handles initialize, tools/list, tools/call, ping, and session termination.

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/2389/roborock-gateway/internal/auth"
	"github.com/2389/roborock-gateway/internal/packs"
)

const serverName = "roborock-gateway"

const serverInstructions = "Control and query a Roborock vacuum. Call get_status before starting a job; use list_rooms to find room names for clean_room."

// ToolCallRecorder observes completed tool calls.
type ToolCallRecorder interface {
	RecordToolCall(tool string, isError bool, d time.Duration)
}

// Config holds configuration for the MCP server.
type Config struct {
	Registry      *packs.Registry
	Router        *packs.Router
	Logger        *slog.Logger
	TokenVerifier auth.TokenVerifier
	TokenStore    *TokenStore // static tokens for /mcp/<token> and ?token=
	RequireAuth   bool        // reject initialize without valid credentials
	DefaultCaps   []string    // capabilities of anonymous sessions
	Recorder      ToolCallRecorder
	Version       string        // reported in serverInfo
	IdleTimeout   time.Duration // session idle expiry, DefaultSessionIdleTimeout if zero
}

// Server serves the MCP endpoint.
type Server struct {
	registry    *packs.Registry
	router      *packs.Router
	logger      *slog.Logger
	verifier    auth.TokenVerifier
	tokenStore  *TokenStore
	requireAuth bool
	defaultCaps []string
	recorder    ToolCallRecorder
	version     string
	sessions    *sessionTable
}

// NewServer creates an MCP server.
func NewServer(cfg Config) (*Server, error) {
	switch {
	case cfg.Registry == nil:
		return nil, errors.New("registry is required")
	case cfg.Router == nil:
		return nil, errors.New("router is required")
	case cfg.RequireAuth && cfg.TokenVerifier == nil && cfg.TokenStore == nil:
		return nil, errors.New("token verifier or token store required when auth is required")
	}

	s := &Server{
		registry:    cfg.Registry,
		router:      cfg.Router,
		logger:      cfg.Logger,
		verifier:    cfg.TokenVerifier,
		tokenStore:  cfg.TokenStore,
		requireAuth: cfg.RequireAuth,
		defaultCaps: append([]string(nil), cfg.DefaultCaps...),
		recorder:    cfg.Recorder,
		version:     cfg.Version,
		sessions:    newSessionTable(cfg.IdleTimeout),
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.version == "" {
		s.version = "dev"
	}
	return s, nil
}

// SessionCount returns the number of live MCP sessions.
func (s *Server) SessionCount() int {
	return s.sessions.len()
}

// RegisterRoutes mounts the endpoint at /mcp and /mcp/<token>.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/mcp", s.serveHTTP)
	mux.HandleFunc("/mcp/", s.serveHTTP)
}

func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handlePost(w, r)
	case http.MethodDelete:
		s.handleDelete(w, r)
	default:
		// No server-initiated SSE stream, so GET is refused too.
		w.Header().Set("Allow", "POST, DELETE")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}

// handleDelete ends a session. Only the credential that opened it may end it.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	sess, status := s.sessionFor(r)
	if sess == nil {
		http.Error(w, http.StatusText(status), status)
		return
	}

	cred, _, _ := presentedCredential(r)
	if !sess.ownedBy(cred) {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	s.sessions.remove(sess.id)
	s.logger.Info("mcp session terminated", "session_id", sess.id, "caller_id", sess.caller.id)
	w.WriteHeader(http.StatusNoContent)
}

// sessionFor returns the session named by Mcp-Session-Id, or the HTTP status
// to answer with: 400 when the header is missing, 404 when the session is
// unknown or expired (the client must initialize again).
func (s *Server) sessionFor(r *http.Request) (*session, int) {
	id := r.Header.Get("Mcp-Session-Id")
	if id == "" {
		return nil, http.StatusBadRequest
	}
	sess, ok := s.sessions.lookup(id)
	if !ok {
		return nil, http.StatusNotFound
	}
	return sess, http.StatusOK
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	req, rpcErr := readRequest(r)
	if rpcErr != nil {
		s.writeResponse(w, req.ID, nil, rpcErr)
		return
	}

	if req.Method == "initialize" {
		s.initialize(w, r, req)
		return
	}

	if v := r.Header.Get("Mcp-Protocol-Version"); v != "" && !supportsProtocol(v) {
		http.Error(w, "Bad Request: unsupported MCP-Protocol-Version", http.StatusBadRequest)
		return
	}
	sess, status := s.sessionFor(r)
	if sess == nil {
		http.Error(w, http.StatusText(status), status)
		return
	}

	if req.IsNotification() {
		s.logger.Debug("mcp notification", "method", req.Method, "session_id", sess.id)
		w.WriteHeader(http.StatusAccepted)
		return
	}

	s.logger.Debug("mcp request", "method", req.Method, "session_id", sess.id)

	var result any
	switch req.Method {
	case "ping":
		result = struct{}{}
	case "tools/list":
		result = s.listTools(sess.caller)
	case "tools/call":
		result, rpcErr = s.callTool(r.Context(), sess.caller, req.Params)
	default:
		rpcErr = rpcError(CodeMethodNotFound, "method not found")
	}
	s.writeResponse(w, req.ID, result, rpcErr)
}

// readRequest decodes a bounded JSON-RPC 2.0 request body.
func readRequest(r *http.Request) (Request, *ErrorObject) {
	var req Request
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return req, rpcError(CodeParseError, "failed to read request body")
	}
	if len(body) > maxBodyBytes {
		return req, rpcError(CodeInvalidRequest, "request body too large")
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return Request{}, rpcError(CodeParseError, "invalid JSON")
	}
	if req.JSONRPC != "2.0" {
		return req, rpcError(CodeInvalidRequest, "invalid JSON-RPC version")
	}
	return req, nil
}

// initialize authenticates the caller and opens a session. A rejected
// credential fails even when auth is optional.
func (s *Server) initialize(w http.ResponseWriter, r *http.Request, req Request) {
	who, cred, err := s.authenticate(r)
	switch {
	case errors.Is(err, errInvalidToken):
		s.writeResponse(w, req.ID, nil, rpcError(CodeInvalidRequest, errInvalidToken.Error()))
		return
	case err != nil && s.requireAuth:
		s.writeResponse(w, req.ID, nil, rpcError(CodeInvalidRequest, "authentication required"))
		return
	case err != nil:
		who = caller{id: "anonymous", caps: s.defaultCaps}
	}

	sess := s.sessions.open(ProtocolVersion, who, cred)
	s.logger.Info("mcp session created",
		"session_id", sess.id,
		"caller_id", who.id,
		"capabilities", who.caps,
	)

	w.Header().Set("Mcp-Session-Id", sess.id)
	s.writeResponse(w, req.ID, InitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    map[string]any{"tools": map[string]any{}},
		ServerInfo:      ServerInfo{Name: serverName, Version: s.version},
		Instructions:    serverInstructions,
	}, nil)
}

func (s *Server) listTools(who caller) ListToolsResult {
	defs := s.registry.GetToolsForCapabilities(who.caps)
	tools := make([]ToolInfo, 0, len(defs))
	for _, def := range defs {
		tools = append(tools, ToolInfo{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: json.RawMessage(def.InputSchemaJSON),
		})
	}
	return ListToolsResult{Tools: tools}
}

// callTool routes one tool call. Handler failures and {"error": ...} outputs
// become isError results; only protocol problems are JSON-RPC errors.
func (s *Server) callTool(ctx context.Context, who caller, raw json.RawMessage) (any, *ErrorObject) {
	var params CallToolParams
	if len(raw) > 0 && json.Unmarshal(raw, &params) != nil {
		return nil, rpcError(CodeInvalidParams, "invalid params")
	}
	if params.Name == "" {
		return nil, rpcError(CodeInvalidParams, "tool name is required")
	}

	def := s.router.GetToolDefinition(params.Name)
	if def == nil {
		return nil, rpcError(CodeInvalidParams, "tool not found")
	}
	if !who.allows(def.GetRequiredCapabilities()) {
		return nil, rpcError(CodeInvalidRequest, "insufficient capabilities for this tool")
	}

	input := string(params.Arguments)
	if input == "" || input == "null" {
		input = "{}"
	}
	requestID := uuid.New().String()
	log := s.logger.With("tool", params.Name, "request_id", requestID, "caller_id", who.id)

	start := time.Now()
	resp, err := s.router.RouteToolCall(ctx, params.Name, input, requestID, who.id)
	if err != nil {
		s.record(params.Name, true, time.Since(start))
		log.Warn("tool call failed", "error", err)
		return nil, routeError(err)
	}

	var result CallToolResult
	if resp.Error != "" {
		result = textResult(resp.Error, true)
	} else {
		result = textResult(resp.OutputJSON, reportsError(resp.OutputJSON))
	}
	s.record(params.Name, result.IsError, time.Since(start))
	log.Debug("tool call complete", "is_error", result.IsError, "duration", time.Since(start))
	return result, nil
}

// routeError maps router failures to JSON-RPC errors.
func routeError(err error) *ErrorObject {
	switch {
	case errors.Is(err, packs.ErrToolNotFound):
		return rpcError(CodeInvalidParams, "tool not found")
	case errors.Is(err, packs.ErrRouterClosed):
		return rpcError(CodeInternalError, "gateway shutting down")
	case errors.Is(err, packs.ErrDuplicateRequestID):
		return rpcError(CodeInternalError, "duplicate request ID")
	case errors.Is(err, context.DeadlineExceeded):
		return rpcError(CodeInternalError, "tool execution timed out")
	case errors.Is(err, context.Canceled):
		return rpcError(CodeInternalError, "request cancelled")
	default:
		return rpcError(CodeInternalError, "tool execution failed")
	}
}

func (s *Server) record(tool string, isError bool, d time.Duration) {
	if s.recorder != nil {
		s.recorder.RecordToolCall(tool, isError, d)
	}
}

func (s *Server) writeResponse(w http.ResponseWriter, id json.RawMessage, result any, rpcErr *ErrorObject) {
	resp := Response{JSONRPC: "2.0", ID: id}
	if rpcErr != nil {
		resp.Error = rpcErr
	} else {
		resp.Result = result
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("failed to encode JSON-RPC response", "error", err)
	}
}
