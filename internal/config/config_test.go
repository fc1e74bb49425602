// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, env fallback, and validation

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// clearEnv isolates a test from the caller's Roborock environment.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, v := range []string{EnvConfigPath, EnvUsername, EnvPassword, EnvBridgeURL} {
		t.Setenv(v, "")
	}
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_DATA_HOME", t.TempDir())
}

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "gateway.yaml", `
server:
  http_addr: "0.0.0.0:8080"

database:
  path: "./test.db"

auth:
  jwt_secret: "secret"
  require_auth: true

mcp:
  default_capabilities: ["history"]
  tokens:
    - name: kitchen-tablet
      token: "abc123"
      capabilities: ["vacuum", "history"]

roborock:
  username: "me@example.com"
  password: "hunter2"
  bridge_url: "http://bridge:9000"
  timeout: "45s"

rooms:
  "Abby's Room": 16
  Kitchen: 17

logging:
  level: "debug"
  format: "json"

metrics:
  enabled: true
  require_auth: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("Server.HTTPAddr = %q", cfg.Server.HTTPAddr)
	}
	if cfg.Database.Path != "./test.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if !cfg.Auth.RequireAuth || cfg.Auth.JWTSecret != "secret" {
		t.Errorf("Auth = %+v", cfg.Auth)
	}
	if len(cfg.MCP.Tokens) != 1 || cfg.MCP.Tokens[0].Name != "kitchen-tablet" || len(cfg.MCP.Tokens[0].Capabilities) != 2 {
		t.Errorf("MCP.Tokens = %+v", cfg.MCP.Tokens)
	}
	if len(cfg.MCP.DefaultCapabilities) != 1 || cfg.MCP.DefaultCapabilities[0] != "history" {
		t.Errorf("MCP.DefaultCapabilities = %v", cfg.MCP.DefaultCapabilities)
	}
	if cfg.Roborock.Username != "me@example.com" || cfg.Roborock.Password != "hunter2" {
		t.Errorf("Roborock credentials = %q / %q", cfg.Roborock.Username, cfg.Roborock.Password)
	}
	if cfg.Roborock.BridgeURL != "http://bridge:9000" {
		t.Errorf("Roborock.BridgeURL = %q", cfg.Roborock.BridgeURL)
	}
	if cfg.Roborock.Timeout != 45*time.Second {
		t.Errorf("Roborock.Timeout = %v", cfg.Roborock.Timeout)
	}
	if cfg.Rooms["Abby's Room"] != 16 || cfg.Rooms["Kitchen"] != 17 {
		t.Errorf("Rooms = %v", cfg.Rooms)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Path != DefaultMetricsPath {
		t.Errorf("Metrics = %+v", cfg.Metrics)
	}
}

func TestLoad_TOML(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "gateway.toml", `
[server]
http_addr = "127.0.0.1:9090"

[roborock]
username = "me@example.com"
password = "hunter2"

[rooms]
"Abby's Room" = 16

[[mcp.tokens]]
name = "cli"
token = "tok"
capabilities = ["vacuum"]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "127.0.0.1:9090" {
		t.Errorf("Server.HTTPAddr = %q", cfg.Server.HTTPAddr)
	}
	if cfg.Rooms["Abby's Room"] != 16 {
		t.Errorf("Rooms = %v", cfg.Rooms)
	}
	if len(cfg.MCP.Tokens) != 1 || cfg.MCP.Tokens[0].Token != "tok" {
		t.Errorf("MCP.Tokens = %+v", cfg.MCP.Tokens)
	}
	if cfg.Roborock.BridgeURL != DefaultBridgeURL {
		t.Errorf("Roborock.BridgeURL = %q, want default", cfg.Roborock.BridgeURL)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	clearEnv(t)
	t.Setenv("TEST_RR_USER", "expanded@example.com")
	t.Setenv("TEST_RR_PASS", "expanded-pass")

	path := writeConfig(t, "gateway.yaml", `
roborock:
  username: "${TEST_RR_USER}"
  password: "${TEST_RR_PASS}"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Roborock.Username != "expanded@example.com" || cfg.Roborock.Password != "expanded-pass" {
		t.Errorf("expansion failed: %+v", cfg.Roborock)
	}
}

func TestLoad_EnvFallback(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvUsername, "env@example.com")
	t.Setenv(EnvPassword, "env-pass")
	t.Setenv(EnvBridgeURL, "http://env-bridge:1234")

	path := writeConfig(t, "gateway.yaml", `
roborock:
  password: "file-pass"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Roborock.Username != "env@example.com" {
		t.Errorf("Username = %q, want env value", cfg.Roborock.Username)
	}
	if cfg.Roborock.Password != "file-pass" {
		t.Errorf("Password = %q, file value should win", cfg.Roborock.Password)
	}
	if cfg.Roborock.BridgeURL != "http://env-bridge:1234" {
		t.Errorf("BridgeURL = %q", cfg.Roborock.BridgeURL)
	}
}

func TestFromEnv(t *testing.T) {
	clearEnv(t)

	_, err := FromEnv()
	if !errors.Is(err, ErrConfigMissing) {
		t.Fatalf("expected ErrConfigMissing, got %v", err)
	}
	if !strings.Contains(err.Error(), EnvUsername) {
		t.Errorf("error should name %s: %v", EnvUsername, err)
	}

	t.Setenv(EnvUsername, "me@example.com")
	t.Setenv(EnvPassword, "pw")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv() error = %v", err)
	}
	if cfg.Server.HTTPAddr != DefaultHTTPAddr {
		t.Errorf("HTTPAddr = %q, want default", cfg.Server.HTTPAddr)
	}
	if cfg.Roborock.BridgeURL != DefaultBridgeURL {
		t.Errorf("BridgeURL = %q, want default", cfg.Roborock.BridgeURL)
	}
	if !strings.HasSuffix(cfg.Database.Path, filepath.Join("roborock", "gateway.db")) {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if len(cfg.MCP.DefaultCapabilities) != 2 {
		t.Errorf("DefaultCapabilities = %v", cfg.MCP.DefaultCapabilities)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Logging.Format = %q", cfg.Logging.Format)
	}
}

func TestLoad_MissingCredentials(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "gateway.yaml", `
server:
  http_addr: "0.0.0.0:8080"
`)

	_, err := Load(path)
	if !errors.Is(err, ErrConfigMissing) {
		t.Errorf("expected ErrConfigMissing, got %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/gateway.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "gateway.yaml", "roborock:\n  username: [unclosed\n")

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "parsing config file") {
		t.Errorf("expected parse error, got %v", err)
	}
}

func TestLoad_InvalidTOML(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "gateway.toml", "[roborock\nusername = \"x\"\n")

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "parsing config file") {
		t.Errorf("expected parse error, got %v", err)
	}
}

func TestLoad_InvalidTimeout(t *testing.T) {
	clearEnv(t)

	tests := []struct {
		name    string
		timeout string
	}{
		{"not a duration", "soon"},
		{"negative", "-5s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, "gateway.yaml", `
roborock:
  username: u
  password: p
  timeout: "`+tt.timeout+`"
`)
			_, err := Load(path)
			if err == nil || !strings.Contains(err.Error(), "roborock.timeout") {
				t.Errorf("expected timeout error, got %v", err)
			}
		})
	}
}

func TestLoad_SessionIdleTimeout(t *testing.T) {
	clearEnv(t)

	path := writeConfig(t, "gateway.yaml", `
roborock:
  username: u
  password: p
mcp:
  session_idle_timeout: "2h"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MCP.SessionIdleTimeout != 2*time.Hour {
		t.Errorf("SessionIdleTimeout = %s, want 2h", cfg.MCP.SessionIdleTimeout)
	}

	bad := writeConfig(t, "bad.yaml", `
roborock:
  username: u
  password: p
mcp:
  session_idle_timeout: "0s"
`)
	if _, err := Load(bad); err == nil || !strings.Contains(err.Error(), "mcp.session_idle_timeout") {
		t.Errorf("expected idle timeout error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:   ServerConfig{HTTPAddr: "127.0.0.1:8080"},
			Database: DatabaseConfig{Path: "gw.db"},
			Roborock: RoborockConfig{Username: "u", Password: "p", BridgeURL: DefaultBridgeURL},
			Logging:  LoggingConfig{Level: "info", Format: "text"},
			Metrics:  MetricsConfig{Path: "/metrics"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing password", func(c *Config) { c.Roborock.Password = "" }, "ROBOROCK_PASSWORD"},
		{"missing bridge", func(c *Config) { c.Roborock.BridgeURL = "" }, "roborock.bridge_url"},
		{"missing http addr", func(c *Config) { c.Server.HTTPAddr = "" }, "server.http_addr"},
		{"tailscale without addr", func(c *Config) {
			c.Server.HTTPAddr = ""
			c.Tailscale = TailscaleConfig{Enabled: true, Hostname: "vacuum"}
		}, ""},
		{"tailscale without hostname", func(c *Config) { c.Tailscale.Enabled = true }, "tailscale.hostname"},
		{"missing database", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"require auth without credentials", func(c *Config) { c.Auth.RequireAuth = true }, "auth.require_auth"},
		{"require auth with tokens", func(c *Config) {
			c.Auth.RequireAuth = true
			c.MCP.Tokens = []MCPToken{{Name: "a", Token: "t"}}
		}, ""},
		{"metrics auth without secret", func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.RequireAuth = true
		}, "metrics.require_auth"},
		{"bad metrics path", func(c *Config) { c.Metrics.Path = "metrics" }, "metrics.path"},
		{"token without name", func(c *Config) { c.MCP.Tokens = []MCPToken{{Token: "t"}} }, "mcp.tokens[0]"},
		{"duplicate token", func(c *Config) {
			c.MCP.Tokens = []MCPToken{{Name: "a", Token: "t"}, {Name: "b", Token: "t"}}
		}, "duplicate token"},
		{"zero segment", func(c *Config) { c.Rooms = map[string]int{"Kitchen": 0} }, "segment id"},
		{"blank room", func(c *Config) { c.Rooms = map[string]int{"  ": 3} }, "empty room name"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("TEST_EXPAND_A", "alpha")

	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"${TEST_EXPAND_A}", "alpha"},
		{"x-${TEST_EXPAND_A}-${TEST_EXPAND_UNSET_XYZ}-y", "x-alpha--y"},
		{"$TEST_EXPAND_A", "$TEST_EXPAND_A"},
	}

	for _, tt := range tests {
		if got := expandEnvVars(tt.in); got != tt.want {
			t.Errorf("expandEnvVars(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPath(t *testing.T) {
	clearEnv(t)
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)

	if got, want := Path(), filepath.Join(xdg, "roborock", "gateway.yaml"); got != want {
		t.Errorf("Path() = %q, want %q", got, want)
	}

	t.Setenv(EnvConfigPath, "/etc/roborock.toml")
	if got := Path(); got != "/etc/roborock.toml" {
		t.Errorf("Path() = %q, want env override", got)
	}
}

func TestLoadDefault(t *testing.T) {
	t.Run("env only when no file", func(t *testing.T) {
		clearEnv(t)
		t.Chdir(t.TempDir())
		t.Setenv(EnvUsername, "u")
		t.Setenv(EnvPassword, "p")

		cfg, path, err := LoadDefault()
		if err != nil {
			t.Fatalf("LoadDefault() error = %v", err)
		}
		if path != "" {
			t.Errorf("path = %q, want empty", path)
		}
		if cfg.Roborock.Username != "u" {
			t.Errorf("Username = %q", cfg.Roborock.Username)
		}
	})

	t.Run("xdg config file", func(t *testing.T) {
		clearEnv(t)
		t.Chdir(t.TempDir())
		xdg := t.TempDir()
		t.Setenv("XDG_CONFIG_HOME", xdg)
		dir := filepath.Join(xdg, "roborock")
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatal(err)
		}
		want := filepath.Join(dir, "gateway.yaml")
		if err := os.WriteFile(want, []byte("roborock:\n  username: f\n  password: g\n"), 0644); err != nil {
			t.Fatal(err)
		}

		cfg, path, err := LoadDefault()
		if err != nil {
			t.Fatalf("LoadDefault() error = %v", err)
		}
		if path != want || cfg.Roborock.Username != "f" {
			t.Errorf("path = %q, username = %q", path, cfg.Roborock.Username)
		}
	})

	t.Run("explicit path must exist", func(t *testing.T) {
		clearEnv(t)
		t.Chdir(t.TempDir())
		t.Setenv(EnvConfigPath, filepath.Join(t.TempDir(), "missing.yaml"))

		if _, _, err := LoadDefault(); err == nil {
			t.Error("expected error for missing explicit config")
		}
	})

	t.Run("dotenv file", func(t *testing.T) {
		clearEnv(t)
		dir := t.TempDir()
		t.Chdir(dir)
		// godotenv never overrides variables that are already present
		os.Unsetenv(EnvUsername)
		os.Unsetenv(EnvPassword)
		if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("ROBOROCK_USERNAME=dotenv-user\nROBOROCK_PASSWORD=dotenv-pass\n"), 0600); err != nil {
			t.Fatal(err)
		}

		cfg, _, err := LoadDefault()
		if err != nil {
			t.Fatalf("LoadDefault() error = %v", err)
		}
		if cfg.Roborock.Username != "dotenv-user" || cfg.Roborock.Password != "dotenv-pass" {
			t.Errorf("credentials = %+v", cfg.Roborock)
		}
	})
}
