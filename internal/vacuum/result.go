// ABOUTME: Explicit result and tagged error types returned by connector commands.
// ABOUTME: Renders to the {result}/{error}/status JSON shape tool callers expect.

package vacuum

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrorKind tags why a command did not produce a value.
type ErrorKind string

const (
	// KindNotConnected means no session could be established; the device was not contacted.
	KindNotConnected ErrorKind = "not_connected"
	// KindCommandFailed means the device call failed and the session was reset.
	KindCommandFailed ErrorKind = "command_failed"
	// KindInvalidRequest means the arguments were rejected before any device I/O.
	KindInvalidRequest ErrorKind = "invalid_request"
	// KindCanceled means the caller gave up before the command was sent.
	KindCanceled ErrorKind = "canceled"
)

// Sentinel errors for session setup.
var (
	ErrLoginFailed    = errors.New("roborock login failed")
	ErrNoDevices      = errors.New("no devices on account")
	ErrUnknownProduct = errors.New("device product not found")
)

// notConnectedMessage is the user-facing text for KindNotConnected.
const notConnectedMessage = "Not logged in to Roborock."

// Error is the tagged failure of a command.
type Error struct {
	Kind    ErrorKind
	Command string
	Err     error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindNotConnected:
		return notConnectedMessage
	case KindCommandFailed:
		if e.Command == CmdGetStatus {
			return fmt.Sprintf("Error getting status: %v. Connection reset.", e.Err)
		}
		return fmt.Sprintf("Error sending %s: %v. Connection reset.", e.Command, e.Err)
	case KindCanceled:
		return fmt.Sprintf("Command %s not sent: %v.", e.Command, e.Err)
	default:
		return fmt.Sprintf("Invalid %s request: %v", e.Command, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Result is either a value or an Error, never both.
type Result struct {
	Value any
	Err   *Error
}

// OK reports whether the result carries a value.
func (r Result) OK() bool { return r.Err == nil }

// Render returns the JSON document handed to the tool caller.
func (r Result) Render() (json.RawMessage, error) {
	if r.Err != nil {
		return json.Marshal(map[string]string{"error": r.Err.Error()})
	}
	switch v := r.Value.(type) {
	case json.RawMessage:
		if len(v) == 0 {
			return json.RawMessage(`null`), nil
		}
		return v, nil
	default:
		return json.Marshal(v)
	}
}

func sentMessage(command string) map[string]string {
	return map[string]string{"result": fmt.Sprintf("Command %s sent successfully.", command)}
}
