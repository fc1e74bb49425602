// ABOUTME: Tool definitions and in-process tool handlers for the gateway.
// ABOUTME: A BuiltinPack groups tools that share a capability and a backing component.

package packs

import (
	"context"
	"encoding/json"
)

// ToolDefinition describes a tool to callers.
type ToolDefinition struct {
	Name                 string
	Description          string
	InputSchemaJSON      string
	RequiredCapabilities []string
	TimeoutSeconds       int32
}

// GetName returns the tool name. Safe on a nil receiver.
func (d *ToolDefinition) GetName() string {
	if d == nil {
		return ""
	}
	return d.Name
}

// GetRequiredCapabilities returns the capabilities a caller needs. Safe on a nil receiver.
func (d *ToolDefinition) GetRequiredCapabilities() []string {
	if d == nil {
		return nil
	}
	return d.RequiredCapabilities
}

// GetTimeoutSeconds returns the per-tool timeout, 0 meaning the router default.
func (d *ToolDefinition) GetTimeoutSeconds() int32 {
	if d == nil {
		return 0
	}
	return d.TimeoutSeconds
}

// ToolHandler is a function that executes a built-in tool.
// It receives the caller's ID and the tool input as JSON.
// Returns the result as JSON or an error.
type ToolHandler func(ctx context.Context, callerID string, input json.RawMessage) (json.RawMessage, error)

// BuiltinTool represents a tool that executes in the gateway process.
type BuiltinTool struct {
	Definition *ToolDefinition
	Handler    ToolHandler
}

// BuiltinPack is a collection of built-in tools with a pack ID.
type BuiltinPack struct {
	ID    string
	Tools []*BuiltinTool
}
