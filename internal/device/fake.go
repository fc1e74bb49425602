// ABOUTME: In-memory fake Device Client for tests and local dry runs.
// ABOUTME: Records logins, sessions, and commands; failures are injectable per step.

package device

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

// SentCommand is one command received by a FakeSession.
type SentCommand struct {
	Method string
	Params any
}

// FakeClient is a scriptable Client. Zero values succeed with one device.
type FakeClient struct {
	mu sync.Mutex

	Home *HomeData

	LoginErr      error
	HomeDataErr   error
	ConnectErr    error
	DisconnectErr error
	// CommandErrs fails the named command until the entry is removed.
	CommandErrs map[string]error
	// Responses holds the raw result for a command; missing entries return ["ok"].
	Responses map[string]json.RawMessage
	// Gates holds the named command after it is recorded until the channel
	// closes or the command's context ends.
	Gates map[string]<-chan struct{}

	Logins   int
	Sessions []*FakeSession
	Commands []SentCommand
}

// NewFakeClient returns a FakeClient with a single charging-capable device.
func NewFakeClient() *FakeClient {
	return &FakeClient{
		Home: &HomeData{
			Devices:  []Device{{DUID: "duid-1", Name: "Rocky", ProductID: "prod-1", Online: true}},
			Products: []Product{{ID: "prod-1", Name: "S7 MaxV", Model: "roborock.vacuum.a27"}},
		},
		CommandErrs: make(map[string]error),
		Responses:   make(map[string]json.RawMessage),
	}
}

// Login counts the attempt and returns LoginErr if set.
func (f *FakeClient) Login(ctx context.Context, username, password string) (*Credentials, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Logins++
	if f.LoginErr != nil {
		return nil, f.LoginErr
	}
	return &Credentials{UID: username, Token: "fake-token"}, nil
}

// HomeData returns Home or HomeDataErr.
func (f *FakeClient) HomeData(ctx context.Context, creds *Credentials) (*HomeData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.HomeDataErr != nil {
		return nil, f.HomeDataErr
	}
	return f.Home, nil
}

// NewSession creates and records a FakeSession.
func (f *FakeClient) NewSession(creds *Credentials, id Identity) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &FakeSession{client: f, Identity: id}
	f.Sessions = append(f.Sessions, s)
	return s, nil
}

// LoginCount returns the number of Login calls.
func (f *FakeClient) LoginCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Logins
}

// SentCommands returns a copy of every command sent through any session.
func (f *FakeClient) SentCommands() []SentCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]SentCommand, len(f.Commands))
	copy(out, f.Commands)
	return out
}

// SetCommandErr makes method fail with err; a nil err clears it.
func (f *FakeClient) SetCommandErr(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.CommandErrs, method)
		return
	}
	if f.CommandErrs == nil {
		f.CommandErrs = make(map[string]error)
	}
	f.CommandErrs[method] = err
}

// SetCommandGate makes method wait on gate before answering; nil removes it.
func (f *FakeClient) SetCommandGate(method string, gate <-chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if gate == nil {
		delete(f.Gates, method)
		return
	}
	if f.Gates == nil {
		f.Gates = make(map[string]<-chan struct{})
	}
	f.Gates[method] = gate
}

// FakeSession is the Session handed out by FakeClient.
type FakeSession struct {
	client   *FakeClient
	Identity Identity

	Connected    bool
	Disconnected bool
}

// Connect returns the client's ConnectErr if set.
func (s *FakeSession) Connect(ctx context.Context) error {
	s.client.mu.Lock()
	defer s.client.mu.Unlock()
	if s.client.ConnectErr != nil {
		return s.client.ConnectErr
	}
	s.Connected = true
	return nil
}

// Disconnect marks the session closed and returns the client's DisconnectErr.
// Like a real transport it fails without effect on a done context.
func (s *FakeSession) Disconnect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.client.mu.Lock()
	defer s.client.mu.Unlock()
	s.Disconnected = true
	s.Connected = false
	return s.client.DisconnectErr
}

// SendCommand records the command and returns the scripted response.
func (s *FakeSession) SendCommand(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.client.mu.Lock()
	if !s.Connected {
		s.client.mu.Unlock()
		return nil, errors.New("fake session not connected")
	}
	s.client.Commands = append(s.client.Commands, SentCommand{Method: method, Params: params})
	gate := s.client.Gates[method]
	s.client.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.client.mu.Lock()
	defer s.client.mu.Unlock()
	if err := s.client.CommandErrs[method]; err != nil {
		return nil, err
	}
	if resp, ok := s.client.Responses[method]; ok {
		return resp, nil
	}
	return json.RawMessage(`["ok"]`), nil
}
