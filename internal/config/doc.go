// Package config handles configuration loading for roborock-gateway.
//
// # Sources
//
// LoadDefault first loads a .env file from the working directory, then the
// config file at (in order):
//
//  1. Path from ROBOROCK_GATEWAY_CONFIG
//  2. $XDG_CONFIG_HOME/roborock/gateway.yaml
//  3. ~/.config/roborock/gateway.yaml
//
// Files ending in .toml are parsed as TOML, everything else as YAML. When no
// file exists the gateway runs from the environment alone (ROBOROCK_USERNAME,
// ROBOROCK_PASSWORD, ROBOROCK_BRIDGE_URL).
//
// Values may reference environment variables with ${VAR_NAME}.
//
// # Example
//
//	server:
//	  http_addr: "127.0.0.1:8080"
//
//	roborock:
//	  username: "${ROBOROCK_USERNAME}"
//	  password: "${ROBOROCK_PASSWORD}"
//	  bridge_url: "http://127.0.0.1:8765"
//	  timeout: "30s"
//
//	rooms:
//	  "Abby's Room": 16
//
//	auth:
//	  jwt_secret: "${ROBOROCK_GATEWAY_JWT_SECRET}"
//	  require_auth: false
//
//	mcp:
//	  default_capabilities: ["vacuum", "history"]
//	  tokens:
//	    - name: kitchen-tablet
//	      token: "${KITCHEN_TOKEN}"
//	      capabilities: ["vacuum"]
//
//	metrics:
//	  enabled: true
//	  require_auth: false
//
// # Validation
//
// Missing credentials fail with ErrConfigMissing before anything touches the
// network. Everything else has a default except tailscale.hostname when
// Tailscale is enabled.
package config
