// ABOUTME: JSON-RPC 2.0 envelopes and the MCP tool payloads shared by server and client.
// ABOUTME: Also decides when a tool's JSON output counts as an error result.

package mcp

import (
	"encoding/json"
	"slices"
)

// ProtocolVersion is advertised by the server and sent by Client.
const ProtocolVersion = "2025-11-25"

// knownProtocolVersions lists the MCP-Protocol-Version header values accepted
// after initialize. A missing header means 2025-03-26.
var knownProtocolVersions = []string{"2025-03-26", ProtocolVersion}

func supportsProtocol(version string) bool {
	return slices.Contains(knownProtocolVersions, version)
}

// maxBodyBytes bounds request and response bodies.
const maxBodyBytes = 1 << 20

// JSON-RPC error codes
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Request is a JSON-RPC 2.0 request or notification. Notifications carry no ID.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the request expects no response.
func (r *Request) IsNotification() bool {
	return len(r.ID) == 0 || string(r.ID) == "null"
}

// Response is a JSON-RPC 2.0 response. Exactly one of Result and Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
}

// ErrorObject is the JSON-RPC error member.
type ErrorObject struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func rpcError(code int, message string) *ErrorObject {
	return &ErrorObject{Code: code, Message: message}
}

// ToolInfo describes one tool in tools/list.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// ListToolsResult is the tools/list result.
type ListToolsResult struct {
	Tools []ToolInfo `json:"tools"`
}

// CallToolParams are the tools/call params.
type CallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// CallToolResult is the tools/call result. Tool failures are reported here
// with IsError, never as JSON-RPC errors.
type CallToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// Content is one content block of a tool result. Only text is produced.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

func textResult(text string, isError bool) CallToolResult {
	return CallToolResult{Content: []Content{{Type: "text", Text: text}}, IsError: isError}
}

// reportsError reports whether a tool's output is a JSON object carrying an
// "error" member, which is how the vacuum tools signal failure.
func reportsError(output string) bool {
	var obj map[string]json.RawMessage
	if json.Unmarshal([]byte(output), &obj) != nil {
		return false
	}
	_, ok := obj["error"]
	return ok
}
