// ABOUTME: Store interface and journal record types for roborock-gateway persistence
// ABOUTME: Defines command and session event records and the JournalStore interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Command outcomes as recorded in the journal
const (
	OutcomeOK            = "ok"
	OutcomeNotConnected  = "not_connected"
	OutcomeCommandFailed = "command_failed"
	OutcomeInvalid       = "invalid_request"
	OutcomeCanceled      = "canceled"
)

// CommandRecord is one device command invocation
type CommandRecord struct {
	ID              string
	Tool            string // tool name, empty when invoked outside the tool router
	Command         string
	ParamsJSON      string // empty when the command had no parameters
	Outcome         string
	Error           string
	ConnectionReset bool
	Duration        time.Duration
	CreatedAt       time.Time
}

// SessionEvent is one device session lifecycle transition
type SessionEvent struct {
	ID        string
	Kind      string // connected, login_failed, reset, disconnect_failed
	DeviceID  string
	Detail    string
	CreatedAt time.Time
}

// CommandFilter selects command records. Zero values match everything.
type CommandFilter struct {
	Tool    string
	Command string
	Outcome string
	Since   *time.Time
	Limit   int // default 50, max 500
}

// SessionEventFilter selects session events. Zero values match everything.
type SessionEventFilter struct {
	Kind  string
	Since *time.Time
	Limit int // default 50, max 500
}

// JournalStore records and queries the command and session journal
type JournalStore interface {
	AppendCommand(ctx context.Context, rec *CommandRecord) error
	ListCommands(ctx context.Context, f CommandFilter) ([]*CommandRecord, error)
	GetCommand(ctx context.Context, id string) (*CommandRecord, error)
	AppendSessionEvent(ctx context.Context, ev *SessionEvent) error
	ListSessionEvents(ctx context.Context, f SessionEventFilter) ([]*SessionEvent, error)
	Close() error
}

// normalizeLimit applies the default (50) and cap (500) to a list limit.
func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return 50
	case limit > 500:
		return 500
	default:
		return limit
	}
}
