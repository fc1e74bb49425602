// Package builtins provides the gateway's built-in tool packs.
//
// # Tool Packs
//
// Vacuum Pack (builtin:vacuum) - requires "vacuum" capability:
//
//   - get_status: Normalized robot status
//   - app_charge: Return to dock
//   - app_start, app_stop, app_pause: Control a full cleaning job
//   - app_start_wash, app_stop_wash: Mop washing while docked
//   - app_start_collect_dust, app_stop_collect_dust: Dust bin collection
//   - get_room_mapping: Segment to room mapping as reported by the robot
//   - segment_clean: Clean segments by id
//   - clean_room: Clean a configured room by name
//   - list_rooms: Configured room names
//   - send_basic_command: Any parameterless command from the allowlist
//
// History Pack (builtin:history) - requires "history" capability:
//
//   - command_history: Journaled commands, filterable by tool, command, outcome
//   - session_history: Journaled session transitions
//
// # Results
//
// Vacuum tools always answer with a JSON object. Device failures are not Go
// errors; they render as {"error": "..."} so the caller sees the same text
// the connector logs. Handlers return a Go error only for undecodable input
// or store failures.
//
// # Usage
//
//	registry.RegisterBuiltinPack(builtins.VacuumPack(conn, cfg.Rooms))
//	registry.RegisterBuiltinPack(builtins.HistoryPack(journal))
package builtins
