// ABOUTME: Observer hooks for command outcomes and session lifecycle changes.
// ABOUTME: Used by the journal store and metrics; called with the connector lock held.

package vacuum

import (
	"context"
	"time"
)

// OutcomeOK is the CommandReport outcome for a successful command.
const OutcomeOK = "ok"

// SessionEventKind names a session lifecycle transition.
type SessionEventKind string

const (
	SessionConnected        SessionEventKind = "connected"
	SessionLoginFailed      SessionEventKind = "login_failed"
	SessionReset            SessionEventKind = "reset"
	SessionDisconnectFailed SessionEventKind = "disconnect_failed"
)

// SessionChange describes one session transition.
type SessionChange struct {
	Kind     SessionEventKind
	DeviceID string
	Err      error
}

// CommandReport describes one finished command.
type CommandReport struct {
	Tool     string // from WithToolName, empty otherwise
	Command  string
	Params   any
	Outcome  string // "ok" or an ErrorKind
	Error    string
	Reset    bool
	Duration time.Duration
}

type toolNameKey struct{}

// WithToolName tags ctx with the invoking tool so CommandReports carry it.
func WithToolName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, toolNameKey{}, name)
}

// ToolName returns the tool name set by WithToolName.
func ToolName(ctx context.Context) string {
	name, _ := ctx.Value(toolNameKey{}).(string)
	return name
}

// Observer receives connector events. Implementations must not call back into
// the Connector.
type Observer interface {
	SessionChanged(ctx context.Context, ch SessionChange)
	CommandFinished(ctx context.Context, rep CommandReport)
}
