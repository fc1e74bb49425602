// ABOUTME: Minimal MCP Streamable HTTP client used by the CLI.
// ABOUTME: Supports initialize, tools/list, tools/call, and session termination.

package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// ErrNotInitialized indicates a request was made before Initialize.
var ErrNotInitialized = errors.New("mcp client not initialized")

// RPCError is a JSON-RPC error returned by the server.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("mcp error %d: %s", e.Code, e.Message)
}

// ClientConfig configures a Client.
type ClientConfig struct {
	// URL is the MCP endpoint, e.g. http://localhost:8080/mcp or .../mcp/<token>
	URL         string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// ServerInfo is the server's self description from initialize.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeResult is the result of initialize.
type InitializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ServerInfo      ServerInfo     `json:"serverInfo"`
	Instructions    string         `json:"instructions,omitempty"`
}

// Client talks to an MCP server over Streamable HTTP.
type Client struct {
	url    string
	bearer string
	http   *http.Client

	nextID atomic.Int64

	mu        sync.Mutex
	sessionID string
}

// NewClient creates a Client. No request is made until Initialize.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("url is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{url: cfg.URL, bearer: cfg.BearerToken, http: httpClient}, nil
}

// SessionID returns the session assigned by initialize.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Initialize performs the handshake and sends notifications/initialized.
func (c *Client) Initialize(ctx context.Context) (*InitializeResult, error) {
	params := map[string]any{
		"protocolVersion": ProtocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "roborock-gateway-cli", "version": "1"},
	}

	var result InitializeResult
	hdr, err := c.call(ctx, "initialize", params, &result)
	if err != nil {
		return nil, err
	}

	sid := hdr.Get("Mcp-Session-Id")
	if sid == "" {
		return nil, errors.New("server did not assign a session")
	}
	c.mu.Lock()
	c.sessionID = sid
	c.mu.Unlock()

	if err := c.notify(ctx, "notifications/initialized"); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListTools returns the tools visible to this session.
func (c *Client) ListTools(ctx context.Context) ([]ToolInfo, error) {
	if c.SessionID() == "" {
		return nil, ErrNotInitialized
	}
	var result ListToolsResult
	if _, err := c.call(ctx, "tools/list", nil, &result); err != nil {
		return nil, err
	}
	return result.Tools, nil
}

// CallTool invokes a tool. A tool-level failure is reported in the result's
// IsError, not as an error.
func (c *Client) CallTool(ctx context.Context, name string, args json.RawMessage) (*CallToolResult, error) {
	if c.SessionID() == "" {
		return nil, ErrNotInitialized
	}
	var result CallToolResult
	params := CallToolParams{Name: name, Arguments: args}
	if _, err := c.call(ctx, "tools/call", params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Close terminates the session. Safe to call without a session.
func (c *Client) Close(ctx context.Context) error {
	sid := c.SessionID()
	if sid == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.url, nil)
	if err != nil {
		return err
	}
	c.setHeaders(req, sid)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("terminating session: %w", err)
	}
	defer resp.Body.Close()

	c.mu.Lock()
	c.sessionID = ""
	c.mu.Unlock()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("terminating session: status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request, sessionID string) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if sessionID != "" {
		req.Header.Set("Mcp-Session-Id", sessionID)
		req.Header.Set("Mcp-Protocol-Version", ProtocolVersion)
	}
	if c.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearer)
	}
}

func (c *Client) post(ctx context.Context, body any) (*http.Response, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	c.setHeaders(req, c.SessionID())
	return c.http.Do(req)
}

// call sends a JSON-RPC request and decodes its result into out.
func (c *Client) call(ctx context.Context, method string, params any, out any) (http.Header, error) {
	id := c.nextID.Add(1)
	req := map[string]any{"jsonrpc": "2.0", "id": id, "method": method}
	if params != nil {
		req["params"] = params
	}

	resp, err := c.post(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%s: reading response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: status %d: %s", method, resp.StatusCode, bytes.TrimSpace(body))
	}

	var rpc struct {
		Result json.RawMessage `json:"result"`
		Error  *ErrorObject    `json:"error"`
	}
	if err := json.Unmarshal(body, &rpc); err != nil {
		return nil, fmt.Errorf("%s: decoding response: %w", method, err)
	}
	if rpc.Error != nil {
		return nil, &RPCError{Code: rpc.Error.Code, Message: rpc.Error.Message}
	}
	if out != nil && len(rpc.Result) > 0 {
		if err := json.Unmarshal(rpc.Result, out); err != nil {
			return nil, fmt.Errorf("%s: decoding result: %w", method, err)
		}
	}
	return resp.Header, nil
}

// notify sends a JSON-RPC notification; the server answers 202.
func (c *Client) notify(ctx context.Context, method string) error {
	resp, err := c.post(ctx, map[string]any{"jsonrpc": "2.0", "method": method})
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("%s: status %d", method, resp.StatusCode)
	}
	return nil
}
