// ABOUTME: HTTP JSON client for the device bridge sidecar that owns the vendor SDK.
// ABOUTME: Implements device.Client and device.Session over the bridge's /v1 API.

package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/2389/roborock-gateway/internal/device"
)

// DefaultTimeout bounds every bridge request when the caller's context has no deadline.
const DefaultTimeout = 15 * time.Second

// maxResponseSize caps bridge response bodies (room maps are the largest payloads).
const maxResponseSize = 4 << 20

// ErrBridge is wrapped by every non-2xx bridge response.
var ErrBridge = errors.New("bridge error")

// Config configures a bridge Client.
type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *slog.Logger
}

// Client talks to the bridge over HTTP.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a bridge client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("bridge base URL is required")
	}
	u, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing bridge URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("bridge URL must be http or https, got %q", u.Scheme)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL: u,
		http:    httpClient,
		timeout: timeout,
		logger:  logger,
	}, nil
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login authenticates the account with the vendor cloud.
func (c *Client) Login(ctx context.Context, username, password string) (*device.Credentials, error) {
	var creds device.Credentials
	if err := c.do(ctx, http.MethodPost, "/v1/login", loginRequest{Username: username, Password: password}, &creds); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	return &creds, nil
}

type homeDataRequest struct {
	Credentials *device.Credentials `json:"credentials"`
}

// HomeData fetches the account's devices and products.
func (c *Client) HomeData(ctx context.Context, creds *device.Credentials) (*device.HomeData, error) {
	var home device.HomeData
	if err := c.do(ctx, http.MethodPost, "/v1/home_data", homeDataRequest{Credentials: creds}, &home); err != nil {
		return nil, fmt.Errorf("fetching home data: %w", err)
	}
	return &home, nil
}

// NewSession prepares a session for the given device. No network I/O happens
// until Connect.
func (c *Client) NewSession(creds *device.Credentials, id device.Identity) (device.Session, error) {
	if creds == nil {
		return nil, errors.New("credentials are required")
	}
	if id.Device.DUID == "" {
		return nil, errors.New("device DUID is required")
	}
	return &Session{
		client:   c,
		creds:    creds,
		identity: id,
		logger:   c.logger.With("duid", id.Device.DUID),
	}, nil
}

type errorBody struct {
	Error string `json:"error"`
}

// do sends one JSON request and decodes the JSON response into out.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	c.logger.Debug("bridge request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var eb errorBody
		if json.Unmarshal(data, &eb) == nil && eb.Error != "" {
			return fmt.Errorf("%w: %s (status %d)", ErrBridge, eb.Error, resp.StatusCode)
		}
		return fmt.Errorf("%w: status %d", ErrBridge, resp.StatusCode)
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// Session is a bridge-held device session.
type Session struct {
	client   *Client
	creds    *device.Credentials
	identity device.Identity
	logger   *slog.Logger

	mu     sync.Mutex
	id     string
	closed bool
}

type openSessionRequest struct {
	Credentials *device.Credentials `json:"credentials"`
	Device      device.Device       `json:"device"`
	Model       string              `json:"model"`
}

type openSessionResponse struct {
	SessionID string `json:"session_id"`
}

// Connect asks the bridge to open the device's MQTT session.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return device.ErrSessionClosed
	}
	if s.id != "" {
		return nil
	}

	var resp openSessionResponse
	req := openSessionRequest{Credentials: s.creds, Device: s.identity.Device, Model: s.identity.Model}
	if err := s.client.do(ctx, http.MethodPost, "/v1/sessions", req, &resp); err != nil {
		return fmt.Errorf("connecting: %w", err)
	}
	if resp.SessionID == "" {
		return errors.New("connecting: bridge returned no session id")
	}
	s.id = resp.SessionID
	s.logger.Info("device session opened", "session_id", s.id)
	return nil
}

// Disconnect closes the bridge session. The Session is unusable afterwards
// even if the bridge call fails.
func (s *Session) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.id == "" {
		return nil
	}

	id := s.id
	s.id = ""
	if err := s.client.do(ctx, http.MethodDelete, "/v1/sessions/"+url.PathEscape(id), nil, nil); err != nil {
		return fmt.Errorf("disconnecting: %w", err)
	}
	s.logger.Info("device session closed", "session_id", id)
	return nil
}

type commandRequest struct {
	Method string `json:"method"`
	Params any    `json:"params"`
}

type commandResponse struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error,omitempty"`
}

// SendCommand sends one command and returns the device's raw result.
func (s *Session) SendCommand(ctx context.Context, method string, params any) (json.RawMessage, error) {
	s.mu.Lock()
	id, closed := s.id, s.closed
	s.mu.Unlock()

	if closed {
		return nil, device.ErrSessionClosed
	}
	if id == "" {
		return nil, errors.New("session not connected")
	}

	var resp commandResponse
	path := "/v1/sessions/" + url.PathEscape(id) + "/command"
	if err := s.client.do(ctx, http.MethodPost, path, commandRequest{Method: method, Params: params}, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("%s: %s", method, resp.Error)
	}
	return resp.Result, nil
}
