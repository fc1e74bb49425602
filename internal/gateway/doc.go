// Package gateway wires the roborock-gateway server together.
//
// # Overview
//
// Gateway owns every long-lived component: the journal store, the device
// connector, the pack registry and router, the MCP server, the optional
// Prometheus exporter, and the HTTP server (plain TCP or a tailnet listener).
//
//	type Gateway struct {
//	    config       *config.Config
//	    store        store.JournalStore
//	    connector    *vacuum.Connector
//	    packRegistry *packs.Registry
//	    packRouter   *packs.Router
//	    mcpServer    *mcp.Server
//	    // ... and more
//	}
//
// Construction validates the config before anything else, so missing
// credentials fail with config.ErrConfigMissing without a login attempt.
// No session is opened at startup; the first tool call logs in.
//
// # HTTP Surface
//
//	GET    /health             liveness, always "OK"
//	GET    /health/ready       200 once a device session exists, 503 otherwise
//	POST   /mcp                MCP Streamable HTTP (see package mcp)
//	DELETE /mcp                end an MCP session
//	GET    /api/session        current device session
//	GET    /api/commands       command journal (tool, command, outcome, since, limit)
//	GET    /api/commands/{id}  one journaled command
//	GET    /api/sessions       session journal (kind, since, limit)
//	GET    /metrics            Prometheus exposition, when enabled
//	GET    /                   rendered tool manual
//
// The /api routes need a JWT with the "history" capability whenever
// auth.jwt_secret is set.
//
// # Journal
//
// A journal observer is attached to the connector. Each finished command and
// each session transition becomes one row in the store. Journal writes run
// on a context detached from the request, so a caller that gave up still
// leaves a record.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	if err != nil { ... }
//	err = gw.Run(ctx) // blocks until ctx is canceled, then shuts down
//
// Shutdown stops HTTP first, then resets the device session, closes the
// router and registry, the tailnet node, and finally the store.
package gateway
