// ABOUTME: Vacuum pack exposes robot commands as tools backed by the connection guard.
// ABOUTME: Requires the "vacuum" capability.

package builtins

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/2389/roborock-gateway/internal/packs"
	"github.com/2389/roborock-gateway/internal/vacuum"
)

// CapVacuum is the capability required by every vacuum tool.
const CapVacuum = "vacuum"

const emptySchema = `{"type":"object","properties":{}}`

// VacuumPack creates the vacuum pack. rooms maps room names to segment ids
// and backs clean_room and list_rooms; it may be nil.
func VacuumPack(conn *vacuum.Connector, rooms map[string]int) *packs.BuiltinPack {
	v := &vacuumHandlers{conn: conn, rooms: rooms}
	return &packs.BuiltinPack{
		ID: "builtin:vacuum",
		Tools: []*packs.BuiltinTool{
			v.simple("get_status", "Get the current status of the robot: state, battery, clean time and area, error, fan speed, mop mode, whether it is docked", v.conn.Status),
			v.simple(vacuum.CmdCharge, "Send the robot back to the dock", v.conn.Charge),
			v.simple(vacuum.CmdStart, "Start a full vacuuming and mopping job", v.conn.Start),
			v.simple(vacuum.CmdStop, "Stop the vacuuming and mopping job", v.conn.Stop),
			v.simple(vacuum.CmdPause, "Pause the vacuuming and mopping job", v.conn.Pause),
			v.simple(vacuum.CmdStartWash, "Start washing the mop while docked", v.conn.StartWash),
			v.simple(vacuum.CmdStopWash, "Stop washing the mop while docked", v.conn.StopWash),
			v.simple(vacuum.CmdStartCollectDust, "Empty the robot's dust bin into the dock", v.conn.StartCollectDust),
			v.simple(vacuum.CmdStopCollectDust, "Stop emptying the dust bin", v.conn.StopCollectDust),
			v.simple(vacuum.CmdGetRoomMapping, "Get the list of rooms on the current map as [segment_id, room_id] pairs", v.conn.RoomMapping),
			{
				Definition: &packs.ToolDefinition{
					Name:                 "segment_clean",
					Description:          "Clean specific map segments (rooms) by segment id",
					InputSchemaJSON:      fmt.Sprintf(`{"type":"object","properties":{"segment_ids":{"type":"array","items":{"type":"integer","minimum":1},"minItems":1},"repeat":{"type":"integer","minimum":1,"maximum":%d}},"required":["segment_ids"]}`, vacuum.MaxSegmentRepeat),
					RequiredCapabilities: []string{CapVacuum},
				},
				Handler: v.tagged("segment_clean", v.SegmentClean),
			},
			{
				Definition: &packs.ToolDefinition{
					Name:                 "clean_room",
					Description:          "Clean a room by its configured name" + v.roomHint(),
					InputSchemaJSON:      fmt.Sprintf(`{"type":"object","properties":{"room":{"type":"string"},"repeat":{"type":"integer","minimum":1,"maximum":%d}},"required":["room"]}`, vacuum.MaxSegmentRepeat),
					RequiredCapabilities: []string{CapVacuum},
				},
				Handler: v.tagged("clean_room", v.CleanRoom),
			},
			{
				Definition: &packs.ToolDefinition{
					Name:                 "list_rooms",
					Description:          "List the configured room names and their segment ids",
					InputSchemaJSON:      emptySchema,
					RequiredCapabilities: []string{CapVacuum},
				},
				Handler: v.ListRooms,
			},
			{
				Definition: &packs.ToolDefinition{
					Name:                 "send_basic_command",
					Description:          "Send a parameterless command: " + strings.Join(vacuum.BasicCommands, ", "),
					InputSchemaJSON:      basicCommandSchema(),
					RequiredCapabilities: []string{CapVacuum},
				},
				Handler: v.tagged("send_basic_command", v.SendBasic),
			},
		},
	}
}

type vacuumHandlers struct {
	conn  *vacuum.Connector
	rooms map[string]int
}

// simple builds a tool that takes no input and renders one connector call.
func (v *vacuumHandlers) simple(name, description string, call func(context.Context) vacuum.Result) *packs.BuiltinTool {
	return &packs.BuiltinTool{
		Definition: &packs.ToolDefinition{
			Name:                 name,
			Description:          description,
			InputSchemaJSON:      emptySchema,
			RequiredCapabilities: []string{CapVacuum},
		},
		Handler: v.tagged(name, func(ctx context.Context, _ string, _ json.RawMessage) (json.RawMessage, error) {
			return call(ctx).Render()
		}),
	}
}

// tagged records the tool name on ctx so the journal can attribute commands.
func (v *vacuumHandlers) tagged(name string, h packs.ToolHandler) packs.ToolHandler {
	return func(ctx context.Context, callerID string, input json.RawMessage) (json.RawMessage, error) {
		return h(vacuum.WithToolName(ctx, name), callerID, input)
	}
}

func (v *vacuumHandlers) roomHint() string {
	if len(v.rooms) == 0 {
		return ""
	}
	return " (" + strings.Join(v.roomNames(), ", ") + ")"
}

func (v *vacuumHandlers) roomNames() []string {
	names := make([]string, 0, len(v.rooms))
	for name := range v.rooms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// decodeInput unmarshals tool input, treating an empty body as {}.
func decodeInput(input json.RawMessage, v any) error {
	if len(input) == 0 {
		return nil
	}
	if err := json.Unmarshal(input, v); err != nil {
		return fmt.Errorf("invalid input: %w", err)
	}
	return nil
}

type segmentCleanInput struct {
	SegmentIDs []int `json:"segment_ids"`
	Repeat     int   `json:"repeat"`
}

func (v *vacuumHandlers) SegmentClean(ctx context.Context, callerID string, input json.RawMessage) (json.RawMessage, error) {
	var in segmentCleanInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	return v.conn.SegmentClean(ctx, in.SegmentIDs, in.Repeat).Render()
}

type cleanRoomInput struct {
	Room   string `json:"room"`
	Repeat int    `json:"repeat"`
}

func (v *vacuumHandlers) CleanRoom(ctx context.Context, callerID string, input json.RawMessage) (json.RawMessage, error) {
	var in cleanRoomInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}

	segment, ok := v.lookupRoom(in.Room)
	if !ok {
		return json.Marshal(map[string]any{
			"error": fmt.Sprintf("Unknown room %q.", in.Room),
			"rooms": v.roomNames(),
		})
	}
	return v.conn.SegmentClean(ctx, []int{segment}, in.Repeat).Render()
}

// lookupRoom matches a room name case-insensitively, ignoring surrounding space.
func (v *vacuumHandlers) lookupRoom(name string) (int, bool) {
	want := strings.TrimSpace(name)
	if want == "" {
		return 0, false
	}
	for room, segment := range v.rooms {
		if strings.EqualFold(room, want) {
			return segment, true
		}
	}
	return 0, false
}

type roomEntry struct {
	Name      string `json:"name"`
	SegmentID int    `json:"segment_id"`
}

func (v *vacuumHandlers) ListRooms(ctx context.Context, callerID string, input json.RawMessage) (json.RawMessage, error) {
	rooms := make([]roomEntry, 0, len(v.rooms))
	for _, name := range v.roomNames() {
		rooms = append(rooms, roomEntry{Name: name, SegmentID: v.rooms[name]})
	}
	return json.Marshal(map[string]any{"rooms": rooms, "count": len(rooms)})
}

type sendBasicInput struct {
	Command string `json:"command"`
}

func (v *vacuumHandlers) SendBasic(ctx context.Context, callerID string, input json.RawMessage) (json.RawMessage, error) {
	var in sendBasicInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	return v.conn.SendBasic(ctx, in.Command).Render()
}

func basicCommandSchema() string {
	enum, _ := json.Marshal(vacuum.BasicCommands)
	return `{"type":"object","properties":{"command":{"type":"string","enum":` + string(enum) + `}},"required":["command"]}`
}
