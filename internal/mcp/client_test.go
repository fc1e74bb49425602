// ABOUTME: Tests for the MCP client against a live httptest server.
// ABOUTME: Exercises initialize, list, call, and close end to end.

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClientRoundTrip(t *testing.T) {
	env := newTestEnv(t, nil)
	jwt, _ := env.verifier.Generate("cli", []string{"vacuum"}, time.Hour)
	srv := httptest.NewServer(env.mux)
	defer srv.Close()

	ctx := context.Background()
	client, err := NewClient(ClientConfig{URL: srv.URL + "/mcp", BearerToken: jwt})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	if _, err := client.ListTools(ctx); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("expected ErrNotInitialized, got %v", err)
	}

	info, err := client.Initialize(ctx)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if info.ServerInfo.Name != "roborock-gateway" {
		t.Errorf("unexpected server name %s", info.ServerInfo.Name)
	}

	tools, err := client.ListTools(ctx)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if len(tools) != 4 {
		t.Errorf("expected 4 tools, got %d", len(tools))
	}

	result, err := client.CallTool(ctx, "vacuum-tool", json.RawMessage(`{"x":1}`))
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if result.IsError {
		t.Errorf("unexpected isError: %+v", result)
	}

	result, err = client.CallTool(ctx, "soft-fail-tool", nil)
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if !result.IsError {
		t.Error("expected isError for soft failure")
	}

	_, err = client.CallTool(ctx, "missing", nil)
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Code != CodeInvalidParams {
		t.Errorf("expected RPCError invalid params, got %v", err)
	}

	if err := client.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if env.server.SessionCount() != 0 {
		t.Errorf("expected session removed, got %d", env.server.SessionCount())
	}
}

func TestClientRejectedByServer(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.RequireAuth = true })
	srv := httptest.NewServer(env.mux)
	defer srv.Close()

	client, _ := NewClient(ClientConfig{URL: srv.URL + "/mcp"})
	_, err := client.Initialize(context.Background())
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected RPCError, got %v", err)
	}
}
