// ABOUTME: Connection guard owning the single device session shared by all commands.
// ABOUTME: Lazily logs in and connects, reuses the session, and resets it on any command failure.

package vacuum

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/roborock-gateway/internal/device"
)

// disconnectTimeout bounds session teardown, which runs even when the
// triggering call's context is already done.
const disconnectTimeout = 5 * time.Second

// Config configures a Connector.
type Config struct {
	Client    device.Client
	Username  string
	Password  string
	Logger    *slog.Logger
	Observers []Observer
}

// Connector serializes every command against one lazily created device
// session. The mutex is held for the whole ensure/send/reset sequence, so at
// most one session exists and one command is in flight at a time.
type Connector struct {
	client    device.Client
	username  string
	password  string
	logger    *slog.Logger
	observers []Observer

	mu          sync.Mutex
	session     device.Session
	identity    *device.Identity
	connectedAt time.Time
	logins      int
}

// SessionState is a snapshot of the connector's session.
type SessionState struct {
	Connected   bool
	Device      *device.Identity
	ConnectedAt time.Time
	Logins      int
}

// New creates a Connector. No network I/O happens until the first command.
func New(cfg Config) (*Connector, error) {
	if cfg.Client == nil {
		return nil, errors.New("device client is required")
	}
	if cfg.Username == "" || cfg.Password == "" {
		return nil, errors.New("username and password are required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Connector{
		client:    cfg.Client,
		username:  cfg.Username,
		password:  cfg.Password,
		logger:    logger,
		observers: cfg.Observers,
	}, nil
}

// EnsureConnected establishes the session if none exists. An existing session
// is reused without a health check. Setup failures are logged and reported as
// false; the partial session is discarded.
func (c *Connector) EnsureConnected(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ensureLocked(ctx) == nil
}

// ResetConnection tears down the session if one exists. Disconnect failures
// are logged; the session is cleared either way.
func (c *Connector) ResetConnection(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked(ctx)
}

// State returns a snapshot of the session.
func (c *Connector) State() SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := SessionState{
		Connected:   c.session != nil,
		ConnectedAt: c.connectedAt,
		Logins:      c.logins,
	}
	if c.identity != nil {
		id := *c.identity
		st.Device = &id
	}
	return st
}

// ensureLocked must be called with mu held.
func (c *Connector) ensureLocked(ctx context.Context) error {
	if c.session != nil {
		return nil
	}

	sess, id, err := c.login(ctx)
	if err != nil {
		c.session = nil
		c.identity = nil
		c.logger.Error("Roborock login failed", "error", err)
		c.notifySession(ctx, SessionChange{Kind: SessionLoginFailed, Err: err})
		return fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}

	c.session = sess
	c.identity = id
	c.connectedAt = time.Now()
	c.logger.Info("Roborock login successful",
		"duid", id.Device.DUID,
		"device_name", id.Device.Name,
		"model", id.Model,
	)
	c.notifySession(ctx, SessionChange{Kind: SessionConnected, DeviceID: id.Device.DUID})
	return nil
}

// login runs the full setup sequence and returns a connected session.
func (c *Connector) login(ctx context.Context) (device.Session, *device.Identity, error) {
	c.logins++

	creds, err := c.client.Login(ctx, c.username, c.password)
	if err != nil {
		return nil, nil, err
	}

	home, err := c.client.HomeData(ctx, creds)
	if err != nil {
		return nil, nil, err
	}

	id, err := selectDevice(home)
	if err != nil {
		return nil, nil, err
	}

	sess, err := c.client.NewSession(creds, *id)
	if err != nil {
		return nil, nil, fmt.Errorf("creating session: %w", err)
	}
	if err := sess.Connect(ctx); err != nil {
		return nil, nil, err
	}
	return sess, id, nil
}

// selectDevice picks the first device on the account and resolves its model.
func selectDevice(home *device.HomeData) (*device.Identity, error) {
	if home == nil || len(home.Devices) == 0 {
		return nil, ErrNoDevices
	}
	dev := home.Devices[0]
	for _, p := range home.Products {
		if p.ID == dev.ProductID {
			return &device.Identity{Device: dev, Model: p.Model}, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownProduct, dev.ProductID)
}

// resetLocked must be called with mu held.
func (c *Connector) resetLocked(ctx context.Context) {
	if c.session == nil {
		return
	}

	var duid string
	if c.identity != nil {
		duid = c.identity.Device.DUID
	}

	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), disconnectTimeout)
	defer cancel()
	if err := c.session.Disconnect(dctx); err != nil {
		c.logger.Warn("error disconnecting device session", "duid", duid, "error", err)
		c.notifySession(ctx, SessionChange{Kind: SessionDisconnectFailed, DeviceID: duid, Err: err})
	} else {
		c.logger.Info("device session disconnected", "duid", duid)
	}

	c.session = nil
	c.identity = nil
	c.connectedAt = time.Time{}
	c.logger.Info("Roborock connection reset", "duid", duid)
	c.notifySession(ctx, SessionChange{Kind: SessionReset, DeviceID: duid})
}

// translateFunc converts a raw device response into the caller-facing value.
type translateFunc func(json.RawMessage) (any, error)

// execute runs the fixed command protocol: ensure the session, send, translate,
// and reset on any failure. No retries. A call whose context ended while it
// queued for the lock is dropped without touching the session.
func (c *Connector) execute(ctx context.Context, command string, params any, translate translateFunc) Result {
	start := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		c.logger.Warn("command abandoned before sending", "command", command, "waited", time.Since(start), "error", err)
		res := Result{Err: &Error{Kind: KindCanceled, Command: command, Err: err}}
		c.notifyCommand(ctx, command, params, res, false, time.Since(start))
		return res
	}

	if err := c.ensureLocked(ctx); err != nil {
		res := Result{Err: &Error{Kind: KindNotConnected, Command: command, Err: err}}
		c.notifyCommand(ctx, command, params, res, false, time.Since(start))
		return res
	}

	raw, err := c.session.SendCommand(ctx, command, params)
	var value any
	if err == nil {
		value, err = translate(raw)
	}
	if err != nil {
		c.logger.Error("command failed", "command", command, "error", err)
		c.resetLocked(ctx)
		res := Result{Err: &Error{Kind: KindCommandFailed, Command: command, Err: err}}
		c.notifyCommand(ctx, command, params, res, true, time.Since(start))
		return res
	}

	c.logger.Info("command sent", "command", command)
	res := Result{Value: value}
	c.notifyCommand(ctx, command, params, res, false, time.Since(start))
	return res
}

func (c *Connector) notifySession(ctx context.Context, ch SessionChange) {
	for _, o := range c.observers {
		o.SessionChanged(ctx, ch)
	}
}

func (c *Connector) notifyCommand(ctx context.Context, command string, params any, res Result, reset bool, d time.Duration) {
	if len(c.observers) == 0 {
		return
	}
	rep := CommandReport{
		Tool:     ToolName(ctx),
		Command:  command,
		Params:   params,
		Outcome:  OutcomeOK,
		Reset:    reset,
		Duration: d,
	}
	if res.Err != nil {
		rep.Outcome = string(res.Err.Kind)
		rep.Error = res.Err.Error()
	}
	for _, o := range c.observers {
		o.CommandFinished(ctx, rep)
	}
}
