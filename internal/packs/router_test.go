// ABOUTME: Tests for the tool router including routing, timeout, and error handling.
// ABOUTME: Validates request correlation and shutdown cancellation.

package packs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"
)

// setupRouterTest creates a registry and router for testing.
func setupRouterTest(t *testing.T, timeout time.Duration) (*Registry, *Router) {
	t.Helper()
	registry := NewRegistry(slog.Default())
	router := NewRouter(RouterConfig{
		Registry: registry,
		Logger:   slog.Default(),
		Timeout:  timeout,
	})
	return registry, router
}

// blockingTool returns a tool that waits for ctx to end or release to close.
func blockingTool(name string, release <-chan struct{}) *BuiltinTool {
	tool := createTestTool(name)
	tool.Handler = func(ctx context.Context, callerID string, input json.RawMessage) (json.RawMessage, error) {
		select {
		case <-release:
			return json.RawMessage(`{"done":true}`), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return tool
}

func TestRouterRouteToolCall(t *testing.T) {
	t.Run("routes to builtin and returns output", func(t *testing.T) {
		registry, router := setupRouterTest(t, 5*time.Second)
		_ = registry.RegisterBuiltinPack(&BuiltinPack{ID: "p", Tools: []*BuiltinTool{createTestTool("echo")}})

		resp, err := router.RouteToolCall(context.Background(), "echo", `{"x":1}`, "req-1", "caller-1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if resp.RequestID != "req-1" {
			t.Errorf("expected request id req-1, got %s", resp.RequestID)
		}
		if resp.OutputJSON != `{"x":1}` {
			t.Errorf("unexpected output: %s", resp.OutputJSON)
		}
		if resp.Error != "" {
			t.Errorf("unexpected error field: %s", resp.Error)
		}
	})

	t.Run("passes caller ID to handler", func(t *testing.T) {
		registry, router := setupRouterTest(t, 5*time.Second)
		tool := createTestTool("whoami")
		tool.Handler = func(ctx context.Context, callerID string, input json.RawMessage) (json.RawMessage, error) {
			return json.Marshal(map[string]string{"caller": callerID})
		}
		_ = registry.RegisterBuiltinPack(&BuiltinPack{ID: "p", Tools: []*BuiltinTool{tool}})

		resp, err := router.RouteToolCall(context.Background(), "whoami", `{}`, "req-1", "token:alice")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if resp.OutputJSON != `{"caller":"token:alice"}` {
			t.Errorf("unexpected output: %s", resp.OutputJSON)
		}
	})

	t.Run("handler error becomes response error", func(t *testing.T) {
		registry, router := setupRouterTest(t, 5*time.Second)
		tool := createTestTool("fails")
		tool.Handler = func(ctx context.Context, callerID string, input json.RawMessage) (json.RawMessage, error) {
			return nil, errors.New("invalid input: missing name")
		}
		_ = registry.RegisterBuiltinPack(&BuiltinPack{ID: "p", Tools: []*BuiltinTool{tool}})

		resp, err := router.RouteToolCall(context.Background(), "fails", `{}`, "req-1", "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if resp.Error != "invalid input: missing name" {
			t.Errorf("unexpected error field: %q", resp.Error)
		}
	})

	t.Run("unknown tool", func(t *testing.T) {
		_, router := setupRouterTest(t, 5*time.Second)

		_, err := router.RouteToolCall(context.Background(), "missing", `{}`, "req-1", "")
		if !errors.Is(err, ErrToolNotFound) {
			t.Fatalf("expected ErrToolNotFound, got %v", err)
		}
	})
}

func TestRouterTimeout(t *testing.T) {
	t.Run("router default timeout", func(t *testing.T) {
		registry, router := setupRouterTest(t, 50*time.Millisecond)
		release := make(chan struct{})
		defer close(release)
		_ = registry.RegisterBuiltinPack(&BuiltinPack{ID: "p", Tools: []*BuiltinTool{blockingTool("slow", release)}})

		start := time.Now()
		_, err := router.RouteToolCall(context.Background(), "slow", `{}`, "req-1", "")
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expected DeadlineExceeded, got %v", err)
		}
		if time.Since(start) > 2*time.Second {
			t.Error("timeout took too long")
		}
		if router.PendingCount() != 0 {
			t.Errorf("expected no pending requests, got %d", router.PendingCount())
		}
	})

	t.Run("per-tool timeout overrides default", func(t *testing.T) {
		registry, router := setupRouterTest(t, 10*time.Millisecond)
		tool := createTestTool("slowish")
		tool.Definition.TimeoutSeconds = 5
		tool.Handler = func(ctx context.Context, callerID string, input json.RawMessage) (json.RawMessage, error) {
			time.Sleep(50 * time.Millisecond)
			return json.RawMessage(`{}`), ctx.Err()
		}
		_ = registry.RegisterBuiltinPack(&BuiltinPack{ID: "p", Tools: []*BuiltinTool{tool}})

		resp, err := router.RouteToolCall(context.Background(), "slowish", `{}`, "req-1", "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if resp.Error != "" {
			t.Errorf("unexpected error field: %s", resp.Error)
		}
	})

	t.Run("caller cancellation", func(t *testing.T) {
		registry, router := setupRouterTest(t, 5*time.Second)
		release := make(chan struct{})
		defer close(release)
		_ = registry.RegisterBuiltinPack(&BuiltinPack{ID: "p", Tools: []*BuiltinTool{blockingTool("slow", release)}})

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
		}()

		_, err := router.RouteToolCall(ctx, "slow", `{}`, "req-1", "")
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected Canceled, got %v", err)
		}
	})
}

func TestRouterDuplicateRequestID(t *testing.T) {
	registry, router := setupRouterTest(t, 5*time.Second)
	release := make(chan struct{})
	_ = registry.RegisterBuiltinPack(&BuiltinPack{ID: "p", Tools: []*BuiltinTool{blockingTool("slow", release), createTestTool("echo")}})

	errCh := make(chan error, 1)
	go func() {
		_, err := router.RouteToolCall(context.Background(), "slow", `{}`, "req-dup", "")
		errCh <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for router.PendingCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	_, err := router.RouteToolCall(context.Background(), "echo", `{}`, "req-dup", "")
	if !errors.Is(err, ErrDuplicateRequestID) {
		t.Fatalf("expected ErrDuplicateRequestID, got %v", err)
	}

	close(release)
	if err := <-errCh; err != nil {
		t.Fatalf("first call failed: %v", err)
	}
}

func TestRouterClose(t *testing.T) {
	registry, router := setupRouterTest(t, 5*time.Second)
	release := make(chan struct{})
	defer close(release)
	_ = registry.RegisterBuiltinPack(&BuiltinPack{ID: "p", Tools: []*BuiltinTool{blockingTool("slow", release)}})

	errCh := make(chan error, 1)
	go func() {
		_, err := router.RouteToolCall(context.Background(), "slow", `{}`, "req-1", "")
		errCh <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for router.PendingCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	router.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not unblock pending call")
	}

	_, err := router.RouteToolCall(context.Background(), "slow", `{}`, "req-2", "")
	if !errors.Is(err, ErrRouterClosed) {
		t.Errorf("expected ErrRouterClosed, got %v", err)
	}
}

func TestRouterGetToolDefinition(t *testing.T) {
	registry, router := setupRouterTest(t, time.Second)
	_ = registry.RegisterBuiltinPack(&BuiltinPack{ID: "p", Tools: []*BuiltinTool{createTestTool("echo")}})

	if !router.HasTool("echo") {
		t.Error("expected HasTool(echo)")
	}
	if def := router.GetToolDefinition("echo"); def == nil || def.Name != "echo" {
		t.Errorf("unexpected definition: %+v", def)
	}
	if router.GetToolDefinition("missing") != nil {
		t.Error("expected nil for missing tool")
	}
}
