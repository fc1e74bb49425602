// Package mcp implements the Model Context Protocol endpoint that exposes the
// vacuum tools to agents, plus a small client used by the CLI.
//
// # Protocol
//
// JSON-RPC 2.0 over the MCP Streamable HTTP transport. Only POST is served;
// server-initiated streams are not offered, so GET answers 405.
//
//   - POST /mcp            - initialize, ping, tools/list, tools/call
//   - POST /mcp/<token>    - same, authenticated by a static token in the path
//   - DELETE /mcp          - terminate the session named by Mcp-Session-Id
//
// initialize returns an Mcp-Session-Id header that every later request must
// carry. An unknown session answers 404 and the client re-initializes.
// Sessions live in memory and expire after Config.IdleTimeout without use
// (24h by default). Only the credential that opened a session may DELETE it.
//
// # Authentication
//
// The caller is resolved once, at initialize, from the first of:
//
//  1. a token in the path (/mcp/<token>)
//  2. a ?token= query parameter
//  3. an Authorization: Bearer <jwt> header
//
// Static tokens come from the TokenStore and carry a name and capabilities.
// JWTs carry capabilities in their "caps" claim. A presented but invalid
// credential is always rejected. With no credential the session gets the
// configured default capabilities, unless RequireAuth is set.
//
// # Tools
//
// tools/list returns only tools whose required capabilities the session holds.
// tools/call answers with a single text content item holding the tool's JSON
// output. isError is set when the handler failed or when the output is an
// object with an "error" key, which is how the vacuum tools report a lost
// session or a rejected command.
//
// # Usage
//
//	server, err := mcp.NewServer(mcp.Config{
//		Registry:    registry,
//		Router:      router,
//		TokenStore:  tokens,
//		DefaultCaps: []string{"vacuum"},
//	})
//	server.RegisterRoutes(mux)
//
// Claude Desktop style configuration:
//
//	{
//	  "mcpServers": {
//	    "roborock": {"url": "http://localhost:8080/mcp/<token>"}
//	  }
//	}
package mcp
