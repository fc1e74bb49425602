// ABOUTME: Device Client boundary: login, home data, and per-device command sessions.
// ABOUTME: The vendor SDK lives behind these interfaces; the gateway never encodes wire commands.

package device

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrSessionClosed is returned by a Session after Disconnect.
var ErrSessionClosed = errors.New("session closed")

// Credentials is the opaque result of a successful login.
// Only the Device Client interprets its contents.
type Credentials struct {
	UID   string          `json:"uid"`
	Token string          `json:"token"`
	Raw   json.RawMessage `json:"raw,omitempty"`
}

// Device is a controllable robot listed in the account's home data.
type Device struct {
	DUID      string `json:"duid"`
	Name      string `json:"name"`
	ProductID string `json:"product_id"`
	LocalKey  string `json:"local_key,omitempty"`
	Online    bool   `json:"online"`
}

// Product describes a device model.
type Product struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Model string `json:"model"`
}

// HomeData is the device and product inventory returned for an account.
type HomeData struct {
	Devices  []Device  `json:"devices"`
	Products []Product `json:"products"`
}

// Identity is the device a session is bound to, with its product model resolved.
type Identity struct {
	Device Device `json:"device"`
	Model  string `json:"model"`
}

// Client performs cloud authentication and opens device sessions.
type Client interface {
	Login(ctx context.Context, username, password string) (*Credentials, error)
	HomeData(ctx context.Context, creds *Credentials) (*HomeData, error)
	NewSession(creds *Credentials, id Identity) (Session, error)
}

// Session is one live command channel to a single device.
// Connect must succeed before SendCommand is used.
type Session interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	SendCommand(ctx context.Context, method string, params any) (json.RawMessage, error)
}
