// Package auth provides token authentication for roborock-gateway.
//
// # Authentication Methods
//
//   - JWT Tokens: MCP clients and metrics scrapers send
//     "Authorization: Bearer <jwt>". Tokens are HS256 signed with the
//     configured jwt_secret, carry the issuer "roborock-gateway", a subject,
//     an expiry, and a "caps" claim listing capabilities.
//
// Static URL tokens for MCP live in internal/mcp (TokenStore).
//
// # Capabilities
//
//   - vacuum: Robot command tools
//   - history: Journal query tools
//   - metrics: Scrape /metrics when auth is required
//
// # Usage
//
//	verifier := auth.NewJWTVerifier([]byte(secret))
//	token, _ := verifier.Generate("alice", []string{"vacuum"}, 30*24*time.Hour)
//	principal, err := verifier.Verify(token)
//
// Protect an HTTP handler:
//
//	mux.Handle("/metrics", auth.Middleware(verifier, "metrics")(handler))
package auth
