// ABOUTME: Routes tool calls to builtin handlers with per-tool timeouts.
// ABOUTME: Tracks in-flight requests so shutdown can cancel waiting callers.

package packs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrToolNotFound indicates the requested tool is not registered.
var ErrToolNotFound = errors.New("tool not found")

// ErrDuplicateRequestID indicates the request ID is already in use.
var ErrDuplicateRequestID = errors.New("duplicate request ID")

// ErrRouterClosed indicates the router has been shut down.
var ErrRouterClosed = errors.New("router closed")

// DefaultTimeout is the default timeout for tool execution.
const DefaultTimeout = 30 * time.Second

// ToolResponse is the outcome of a routed tool call. Exactly one of
// OutputJSON and Error is set.
type ToolResponse struct {
	RequestID  string
	OutputJSON string
	Error      string
}

// Router routes tool calls to builtin handlers.
type Router struct {
	registry *Registry
	logger   *slog.Logger
	timeout  time.Duration

	mu       sync.Mutex
	inflight map[string]context.CancelFunc // request ID -> cancel
	closed   bool
}

// RouterConfig contains configuration options for the Router.
type RouterConfig struct {
	Registry *Registry
	Logger   *slog.Logger
	Timeout  time.Duration
}

// NewRouter creates a Router. Zero fields take defaults.
func NewRouter(cfg RouterConfig) *Router {
	r := &Router{
		registry: cfg.Registry,
		logger:   cfg.Logger,
		timeout:  cfg.Timeout,
		inflight: make(map[string]context.CancelFunc),
	}
	if r.timeout <= 0 {
		r.timeout = DefaultTimeout
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// RouteToolCall runs the named tool. Handler errors are returned in
// ToolResponse.Error; the error return is reserved for unknown tools,
// duplicate request IDs, a closed router, cancellation, and timeouts.
func (r *Router) RouteToolCall(ctx context.Context, toolName, inputJSON, requestID, callerID string) (*ToolResponse, error) {
	log := r.logger.With("tool_name", toolName, "request_id", requestID)

	tool := r.registry.Tool(toolName)
	if tool == nil {
		log.Debug("unknown tool")
		return nil, ErrToolNotFound
	}

	timeout := r.timeoutFor(tool.Definition)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := r.track(requestID, cancel); err != nil {
		return nil, err
	}
	defer r.untrack(requestID)

	log.Debug("tool call dispatched", "caller_id", callerID, "timeout", timeout)

	type outcome struct {
		out json.RawMessage
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		out, err := tool.Handler(ctx, callerID, json.RawMessage(inputJSON))
		done <- outcome{out, err}
	}()

	var res outcome
	select {
	case res = <-done:
	case <-ctx.Done():
		res.err = ctx.Err()
	}

	switch {
	case res.err != nil && ctx.Err() != nil:
		log.Warn("tool call abandoned", "error", ctx.Err(), "timeout", timeout)
		return nil, ctx.Err()
	case res.err != nil:
		log.Info("tool handler failed", "error", res.err)
		return &ToolResponse{RequestID: requestID, Error: res.err.Error()}, nil
	default:
		log.Debug("tool call finished", "bytes", len(res.out))
		return &ToolResponse{RequestID: requestID, OutputJSON: string(res.out)}, nil
	}
}

func (r *Router) timeoutFor(def *ToolDefinition) time.Duration {
	if secs := def.GetTimeoutSeconds(); secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return r.timeout
}

// HasTool reports whether name is routable.
func (r *Router) HasTool(name string) bool {
	return r.registry.Has(name)
}

// GetToolDefinition returns the definition routed under name, or nil.
func (r *Router) GetToolDefinition(name string) *ToolDefinition {
	if tool := r.registry.Tool(name); tool != nil {
		return tool.Definition
	}
	return nil
}

func (r *Router) track(requestID string, cancel context.CancelFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch _, dup := r.inflight[requestID]; {
	case r.closed:
		return ErrRouterClosed
	case dup:
		return ErrDuplicateRequestID
	}
	r.inflight[requestID] = cancel
	return nil
}

func (r *Router) untrack(requestID string) {
	r.mu.Lock()
	delete(r.inflight, requestID)
	r.mu.Unlock()
}

// PendingCount returns the number of in-flight tool calls.
func (r *Router) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inflight)
}

// Close cancels in-flight calls and refuses new ones.
func (r *Router) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, cancel := range r.inflight {
		cancel()
	}
	r.logger.Info("router closed", "cancelled", len(r.inflight))
	clear(r.inflight)
	r.closed = true
}
