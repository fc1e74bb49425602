// ABOUTME: Vacuum command wrappers built on the connector's fixed command protocol.
// ABOUTME: Status, dock, start/stop/pause, mop wash, dust collection, room mapping, segment clean.

package vacuum

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/2389/roborock-gateway/internal/device"
)

// Device command names.
const (
	CmdGetStatus        = "get_status"
	CmdCharge           = "app_charge"
	CmdStart            = "app_start"
	CmdStop             = "app_stop"
	CmdPause            = "app_pause"
	CmdStartWash        = "app_start_wash"
	CmdStopWash         = "app_stop_wash"
	CmdStartCollectDust = "app_start_collect_dust"
	CmdStopCollectDust  = "app_stop_collect_dust"
	CmdGetRoomMapping   = "get_room_mapping"
	CmdSegmentClean     = "app_segment_clean"
)

// MaxSegmentRepeat bounds the repeat count of a segment clean.
const MaxSegmentRepeat = 3

// BasicCommands are the parameterless action commands accepted by SendBasic.
var BasicCommands = []string{
	CmdCharge,
	CmdStart,
	CmdStop,
	CmdPause,
	CmdStartWash,
	CmdStopWash,
	CmdStartCollectDust,
	CmdStopCollectDust,
}

// SegmentCleanParams is one entry of the app_segment_clean payload.
type SegmentCleanParams struct {
	Segments []int `json:"segments"`
	Repeat   int   `json:"repeat"`
}

// SegmentPayload builds the app_segment_clean payload. repeat 0 means 1.
func SegmentPayload(segments []int, repeat int) ([]SegmentCleanParams, error) {
	if len(segments) == 0 {
		return nil, fmt.Errorf("at least one segment id is required")
	}
	for _, id := range segments {
		if id <= 0 {
			return nil, fmt.Errorf("segment id must be positive, got %d", id)
		}
	}
	if repeat == 0 {
		repeat = 1
	}
	if repeat < 1 || repeat > MaxSegmentRepeat {
		return nil, fmt.Errorf("repeat must be between 1 and %d, got %d", MaxSegmentRepeat, repeat)
	}
	ids := make([]int, len(segments))
	copy(ids, segments)
	return []SegmentCleanParams{{Segments: ids, Repeat: repeat}}, nil
}

func ack(command string) translateFunc {
	return func(json.RawMessage) (any, error) {
		return sentMessage(command), nil
	}
}

func passthrough(raw json.RawMessage) (any, error) {
	return raw, nil
}

func normalizeStatus(raw json.RawMessage) (any, error) {
	st, err := device.ParseStatus(raw)
	if err != nil {
		return nil, err
	}
	return st.Normalize(), nil
}

// Status queries the device and returns a normalized device.Status.
func (c *Connector) Status(ctx context.Context) Result {
	return c.execute(ctx, CmdGetStatus, nil, normalizeStatus)
}

// Charge sends the robot back to its dock.
func (c *Connector) Charge(ctx context.Context) Result { return c.SendBasic(ctx, CmdCharge) }

// Start starts a full vacuum and mop job.
func (c *Connector) Start(ctx context.Context) Result { return c.SendBasic(ctx, CmdStart) }

// Stop stops the current job.
func (c *Connector) Stop(ctx context.Context) Result { return c.SendBasic(ctx, CmdStop) }

// Pause pauses the current job.
func (c *Connector) Pause(ctx context.Context) Result { return c.SendBasic(ctx, CmdPause) }

// StartWash starts washing the mop while docked.
func (c *Connector) StartWash(ctx context.Context) Result { return c.SendBasic(ctx, CmdStartWash) }

// StopWash stops washing the mop.
func (c *Connector) StopWash(ctx context.Context) Result { return c.SendBasic(ctx, CmdStopWash) }

// StartCollectDust empties the robot's bin into the dock.
func (c *Connector) StartCollectDust(ctx context.Context) Result {
	return c.SendBasic(ctx, CmdStartCollectDust)
}

// StopCollectDust stops dust collection.
func (c *Connector) StopCollectDust(ctx context.Context) Result {
	return c.SendBasic(ctx, CmdStopCollectDust)
}

// SendBasic sends one of BasicCommands without parameters.
func (c *Connector) SendBasic(ctx context.Context, command string) Result {
	if !slices.Contains(BasicCommands, command) {
		return Result{Err: &Error{
			Kind:    KindInvalidRequest,
			Command: command,
			Err:     fmt.Errorf("unsupported command %q", command),
		}}
	}
	return c.execute(ctx, command, nil, ack(command))
}

// RoomMapping returns the device's segment-to-room mapping as reported.
func (c *Connector) RoomMapping(ctx context.Context) Result {
	return c.execute(ctx, CmdGetRoomMapping, nil, passthrough)
}

// SegmentClean cleans the given segments repeat times.
func (c *Connector) SegmentClean(ctx context.Context, segments []int, repeat int) Result {
	payload, err := SegmentPayload(segments, repeat)
	if err != nil {
		return Result{Err: &Error{Kind: KindInvalidRequest, Command: CmdSegmentClean, Err: err}}
	}
	return c.execute(ctx, CmdSegmentClean, payload, passthrough)
}
