// ABOUTME: Tests for the connection guard and command protocol.
// ABOUTME: Uses device.FakeClient to script login, connect, and command failures.

package vacuum

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/roborock-gateway/internal/device"
)

// recordingObserver captures every event for assertions.
type recordingObserver struct {
	mu       sync.Mutex
	sessions []SessionChange
	commands []CommandReport
}

func (r *recordingObserver) SessionChanged(_ context.Context, ch SessionChange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = append(r.sessions, ch)
}

func (r *recordingObserver) CommandFinished(_ context.Context, rep CommandReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, rep)
}

func (r *recordingObserver) sessionKinds() []SessionEventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]SessionEventKind, len(r.sessions))
	for i, s := range r.sessions {
		kinds[i] = s.Kind
	}
	return kinds
}

func newTestConnector(t *testing.T, client *device.FakeClient, obs ...Observer) *Connector {
	t.Helper()
	c, err := New(Config{
		Client:    client,
		Username:  "me@example.com",
		Password:  "secret",
		Logger:    slog.Default(),
		Observers: obs,
	})
	require.NoError(t, err)
	return c
}

func render(t *testing.T, r Result) map[string]any {
	t.Helper()
	data, err := r.Render()
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Username: "u", Password: "p"})
	assert.Error(t, err)

	_, err = New(Config{Client: device.NewFakeClient(), Username: "u"})
	assert.Error(t, err)
}

func TestEnsureConnected_ReusesSession(t *testing.T) {
	client := device.NewFakeClient()
	c := newTestConnector(t, client)
	ctx := context.Background()

	assert.True(t, c.EnsureConnected(ctx))
	assert.True(t, c.EnsureConnected(ctx))

	assert.Equal(t, 1, client.LoginCount())
	assert.Len(t, client.Sessions, 1)

	st := c.State()
	assert.True(t, st.Connected)
	require.NotNil(t, st.Device)
	assert.Equal(t, "duid-1", st.Device.Device.DUID)
	assert.Equal(t, "roborock.vacuum.a27", st.Device.Model)
}

func TestEnsureConnected_SetupFailures(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*device.FakeClient)
		wantErr error
	}{
		{"login", func(f *device.FakeClient) { f.LoginErr = errors.New("bad password") }, nil},
		{"home data", func(f *device.FakeClient) { f.HomeDataErr = errors.New("503") }, nil},
		{"connect", func(f *device.FakeClient) { f.ConnectErr = errors.New("mqtt refused") }, nil},
		{"no devices", func(f *device.FakeClient) { f.Home = &device.HomeData{} }, ErrNoDevices},
		{"unknown product", func(f *device.FakeClient) { f.Home.Products = nil }, ErrUnknownProduct},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := device.NewFakeClient()
			tt.setup(client)
			obs := &recordingObserver{}
			c := newTestConnector(t, client, obs)

			assert.False(t, c.EnsureConnected(context.Background()))
			assert.False(t, c.State().Connected)
			assert.Nil(t, c.State().Device)
			assert.Equal(t, []SessionEventKind{SessionLoginFailed}, obs.sessionKinds())
			if tt.wantErr != nil {
				require.Len(t, obs.sessions, 1)
				assert.ErrorIs(t, obs.sessions[0].Err, tt.wantErr)
			}
		})
	}
}

func TestEnsureConnected_RecoversAfterFailure(t *testing.T) {
	client := device.NewFakeClient()
	client.LoginErr = errors.New("cloud down")
	c := newTestConnector(t, client)
	ctx := context.Background()

	assert.False(t, c.EnsureConnected(ctx))

	client.LoginErr = nil
	assert.True(t, c.EnsureConnected(ctx))
	assert.Equal(t, 2, client.LoginCount())
}

func TestCommands_NotConnectedNeverSends(t *testing.T) {
	client := device.NewFakeClient()
	client.LoginErr = errors.New("bad password")
	obs := &recordingObserver{}
	c := newTestConnector(t, client, obs)
	ctx := context.Background()

	commands := map[string]func() Result{
		"status":        func() Result { return c.Status(ctx) },
		"charge":        func() Result { return c.Charge(ctx) },
		"start":         func() Result { return c.Start(ctx) },
		"stop":          func() Result { return c.Stop(ctx) },
		"pause":         func() Result { return c.Pause(ctx) },
		"start wash":    func() Result { return c.StartWash(ctx) },
		"stop wash":     func() Result { return c.StopWash(ctx) },
		"start dust":    func() Result { return c.StartCollectDust(ctx) },
		"stop dust":     func() Result { return c.StopCollectDust(ctx) },
		"room mapping":  func() Result { return c.RoomMapping(ctx) },
		"segment clean": func() Result { return c.SegmentClean(ctx, []int{16}, 1) },
	}

	for name, run := range commands {
		t.Run(name, func(t *testing.T) {
			res := run()
			require.False(t, res.OK())
			assert.Equal(t, KindNotConnected, res.Err.Kind)
			assert.ErrorIs(t, res.Err, ErrLoginFailed)
			assert.Contains(t, render(t, res)["error"], "Not logged in")
		})
	}

	assert.Empty(t, client.SentCommands())
	for _, rep := range obs.commands {
		assert.Equal(t, string(KindNotConnected), rep.Outcome)
		assert.False(t, rep.Reset)
	}
}

func TestStatus_Normalizes(t *testing.T) {
	client := device.NewFakeClient()
	client.Responses[CmdGetStatus] = json.RawMessage(`[{"state":8,"battery":97,"clean_time":600,"clean_area":12000000,"error_code":0,"fan_power":103,"mop_mode":301,"water_shortage_status":0}]`)
	c := newTestConnector(t, client)

	res := c.Status(context.Background())
	require.True(t, res.OK())

	out := render(t, res)
	assert.Equal(t, "charging", out["state"])
	assert.Equal(t, float64(97), out["battery"])
	assert.Equal(t, float64(600), out["clean_time"])
	assert.Equal(t, 12.0, out["clean_area"])
	assert.Equal(t, "none", out["error"])
	assert.Equal(t, "turbo", out["fan_speed"])
	assert.Equal(t, "deep", out["mop_mode"])
	assert.Equal(t, true, out["docked"])
	assert.Equal(t, false, out["water_tank_empty"])
}

func TestStatus_NotDockedWhileCleaning(t *testing.T) {
	client := device.NewFakeClient()
	client.Responses[CmdGetStatus] = json.RawMessage(`[{"state":5,"battery":50}]`)
	c := newTestConnector(t, client)

	out := render(t, c.Status(context.Background()))
	assert.Equal(t, "cleaning", out["state"])
	assert.Equal(t, false, out["docked"])
}

func TestStatus_UndecodableResponseResets(t *testing.T) {
	client := device.NewFakeClient()
	client.Responses[CmdGetStatus] = json.RawMessage(`"garbage"`)
	c := newTestConnector(t, client)

	res := c.Status(context.Background())
	require.False(t, res.OK())
	assert.Equal(t, KindCommandFailed, res.Err.Kind)
	assert.False(t, c.State().Connected)
}

func TestBasicCommand_Success(t *testing.T) {
	client := device.NewFakeClient()
	c := newTestConnector(t, client)

	res := c.Charge(context.Background())
	require.True(t, res.OK())
	assert.Equal(t, "Command app_charge sent successfully.", render(t, res)["result"])

	sent := client.SentCommands()
	require.Len(t, sent, 1)
	assert.Equal(t, CmdCharge, sent[0].Method)
	assert.Nil(t, sent[0].Params)
}

func TestSendBasic_RejectsUnknown(t *testing.T) {
	client := device.NewFakeClient()
	c := newTestConnector(t, client)

	res := c.SendBasic(context.Background(), "app_self_destruct")
	require.False(t, res.OK())
	assert.Equal(t, KindInvalidRequest, res.Err.Kind)
	assert.Zero(t, client.LoginCount())
}

func TestCommandFailure_ResetsSession(t *testing.T) {
	client := device.NewFakeClient()
	obs := &recordingObserver{}
	c := newTestConnector(t, client, obs)
	ctx := context.Background()

	require.True(t, c.EnsureConnected(ctx))
	client.SetCommandErr(CmdStart, errors.New("timeout waiting for response"))

	res := c.Start(ctx)
	require.False(t, res.OK())
	assert.Equal(t, KindCommandFailed, res.Err.Kind)
	assert.Equal(t,
		"Error sending app_start: timeout waiting for response. Connection reset.",
		render(t, res)["error"])

	assert.False(t, c.State().Connected)
	require.Len(t, client.Sessions, 1)
	assert.True(t, client.Sessions[0].Disconnected)
	assert.Equal(t, []SessionEventKind{SessionConnected, SessionReset}, obs.sessionKinds())

	require.Len(t, obs.commands, 1)
	assert.True(t, obs.commands[0].Reset)
	assert.Equal(t, string(KindCommandFailed), obs.commands[0].Outcome)

	// The next command logs in again.
	client.SetCommandErr(CmdStart, nil)
	res = c.Start(ctx)
	require.True(t, res.OK())
	assert.Equal(t, 2, client.LoginCount())
}

func TestCommandFailure_ResetsEvenWhenDisconnectFails(t *testing.T) {
	client := device.NewFakeClient()
	client.DisconnectErr = errors.New("broker gone")
	obs := &recordingObserver{}
	c := newTestConnector(t, client, obs)
	ctx := context.Background()

	client.SetCommandErr(CmdPause, errors.New("device offline"))
	res := c.Pause(ctx)
	require.False(t, res.OK())

	assert.False(t, c.State().Connected)
	assert.Equal(t,
		[]SessionEventKind{SessionConnected, SessionDisconnectFailed, SessionReset},
		obs.sessionKinds())
}

func TestStatusFailure_Message(t *testing.T) {
	client := device.NewFakeClient()
	client.SetCommandErr(CmdGetStatus, errors.New("timeout"))
	c := newTestConnector(t, client)

	res := c.Status(context.Background())
	require.False(t, res.OK())
	assert.Equal(t, "Error getting status: timeout. Connection reset.", render(t, res)["error"])
	assert.False(t, c.State().Connected)
}

func TestCommands_QueuedCallExpiresWithoutReset(t *testing.T) {
	client := device.NewFakeClient()
	obs := &recordingObserver{}
	c := newTestConnector(t, client, obs)

	release := make(chan struct{})
	client.SetCommandGate(CmdStart, release)

	slow := make(chan Result, 1)
	go func() { slow <- c.Start(context.Background()) }()
	require.Eventually(t, func() bool { return len(client.SentCommands()) == 1 },
		time.Second, 5*time.Millisecond, "slow command never reached the device")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	queued := make(chan Result, 1)
	go func() { queued <- c.Pause(ctx) }()

	<-ctx.Done()
	close(release)

	require.True(t, (<-slow).OK())
	res := <-queued
	require.False(t, res.OK())
	assert.Equal(t, KindCanceled, res.Err.Kind)
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
	assert.Contains(t, render(t, res)["error"], "app_pause not sent")

	// The shared session survives and the queued command never went out.
	assert.True(t, c.State().Connected)
	assert.Equal(t, 1, client.LoginCount())
	require.Len(t, client.SentCommands(), 1)
	assert.Equal(t, CmdStart, client.SentCommands()[0].Method)
	assert.False(t, client.Sessions[0].Disconnected)
	assert.Equal(t, []SessionEventKind{SessionConnected}, obs.sessionKinds())

	obs.mu.Lock()
	defer obs.mu.Unlock()
	require.Len(t, obs.commands, 2)
	for _, rep := range obs.commands {
		if rep.Command == CmdPause {
			assert.Equal(t, string(KindCanceled), rep.Outcome)
			assert.False(t, rep.Reset)
		}
	}
}

func TestCommandTimeout_StillDisconnects(t *testing.T) {
	client := device.NewFakeClient()
	c := newTestConnector(t, client)
	require.True(t, c.EnsureConnected(context.Background()))

	client.SetCommandGate(CmdStart, make(chan struct{}))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res := c.Start(ctx)
	require.False(t, res.OK())
	assert.Equal(t, KindCommandFailed, res.Err.Kind)
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)

	assert.False(t, c.State().Connected)
	require.Len(t, client.Sessions, 1)
	assert.True(t, client.Sessions[0].Disconnected, "teardown must reach the device client")
}

func TestResetConnection_CanceledContextStillDisconnects(t *testing.T) {
	client := device.NewFakeClient()
	obs := &recordingObserver{}
	c := newTestConnector(t, client, obs)
	require.True(t, c.EnsureConnected(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c.ResetConnection(ctx)

	assert.False(t, c.State().Connected)
	assert.True(t, client.Sessions[0].Disconnected)
	assert.Equal(t, []SessionEventKind{SessionConnected, SessionReset}, obs.sessionKinds())
}

func TestResetConnection(t *testing.T) {
	client := device.NewFakeClient()
	c := newTestConnector(t, client)
	ctx := context.Background()

	c.ResetConnection(ctx) // no session: no-op
	assert.Empty(t, client.Sessions)

	require.True(t, c.EnsureConnected(ctx))
	c.ResetConnection(ctx)
	assert.False(t, c.State().Connected)
	assert.True(t, client.Sessions[0].Disconnected)
}

func TestSegmentClean_Payload(t *testing.T) {
	tests := []struct {
		name     string
		segments []int
		want     string
	}{
		{"single room", []int{16}, `[{"segments":[16],"repeat":1}]`},
		{"two rooms", []int{16, 18}, `[{"segments":[16,18],"repeat":1}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := device.NewFakeClient()
			c := newTestConnector(t, client)

			res := c.SegmentClean(context.Background(), tt.segments, 0)
			require.True(t, res.OK())

			sent := client.SentCommands()
			require.Len(t, sent, 1)
			assert.Equal(t, CmdSegmentClean, sent[0].Method)
			params, err := json.Marshal(sent[0].Params)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(params))
		})
	}
}

func TestSegmentPayload_Validation(t *testing.T) {
	_, err := SegmentPayload(nil, 1)
	assert.Error(t, err)

	_, err = SegmentPayload([]int{0}, 1)
	assert.Error(t, err)

	_, err = SegmentPayload([]int{16}, MaxSegmentRepeat+1)
	assert.Error(t, err)

	p, err := SegmentPayload([]int{16}, 2)
	require.NoError(t, err)
	assert.Equal(t, []SegmentCleanParams{{Segments: []int{16}, Repeat: 2}}, p)
}

func TestRoomMapping_Passthrough(t *testing.T) {
	client := device.NewFakeClient()
	client.Responses[CmdGetRoomMapping] = json.RawMessage(`[[16,"11100845"],[17,"11100849"]]`)
	c := newTestConnector(t, client)

	res := c.RoomMapping(context.Background())
	require.True(t, res.OK())
	data, err := res.Render()
	require.NoError(t, err)
	assert.JSONEq(t, `[[16,"11100845"],[17,"11100849"]]`, string(data))
}

func TestConcurrentCommands_SingleSession(t *testing.T) {
	client := device.NewFakeClient()
	c := newTestConnector(t, client)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Start(ctx)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, client.LoginCount())
	assert.Len(t, client.Sessions, 1)
	assert.Len(t, client.SentCommands(), 20)
}
