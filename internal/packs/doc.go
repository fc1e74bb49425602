// Package packs provides the tool pack system that exposes gateway tools.
//
// # Overview
//
// Tool packs are collections of related tools that share a backing component
// and a capability. All packs run in-process.
//
// # Architecture
//
//   - Registry: Tracks registered packs and their tools, filters by capability
//   - Router: Dispatches a tool call by name with a timeout
//   - Built-in packs: see internal/builtins
//
// # Built-in Packs
//
//	builtin:vacuum  - Robot commands (requires "vacuum" capability)
//	builtin:history - Command and session journal (requires "history" capability)
//
// # Tool Routing
//
// When a caller invokes a tool, the router:
//
//  1. Looks up the tool by name in the registry
//  2. Applies the tool's TimeoutSeconds, or the router default (30s)
//  3. Runs the handler and returns its JSON output in a ToolResponse
//
// Handler errors are returned in ToolResponse.Error. Unknown tools return
// ErrToolNotFound; timeouts and cancellation return the context error.
//
// Tool names are globally unique. Registering a pack whose tools collide
// with existing names fails with ErrToolCollision and registers nothing.
//
// # Usage
//
//	registry := packs.NewRegistry(logger)
//	_ = registry.RegisterBuiltinPack(builtins.VacuumPack(conn, rooms))
//	router := packs.NewRouter(packs.RouterConfig{Registry: registry, Logger: logger})
//	resp, err := router.RouteToolCall(ctx, "get_status", "{}", requestID, callerID)
package packs
