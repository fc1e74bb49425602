// ABOUTME: Configuration loading and parsing for roborock-gateway
// ABOUTME: Supports YAML or TOML files with env var expansion, .env loading, and env-only fallback

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrConfigMissing is returned when the Roborock credentials are not configured.
var ErrConfigMissing = errors.New("missing Roborock credentials: set ROBOROCK_USERNAME and ROBOROCK_PASSWORD")

// Environment variables read directly.
const (
	EnvConfigPath = "ROBOROCK_GATEWAY_CONFIG"
	EnvUsername   = "ROBOROCK_USERNAME"
	EnvPassword   = "ROBOROCK_PASSWORD"
	EnvBridgeURL  = "ROBOROCK_BRIDGE_URL"
)

// Defaults applied when a value is not configured.
const (
	DefaultHTTPAddr    = "127.0.0.1:8080"
	DefaultBridgeURL   = "http://127.0.0.1:8765"
	DefaultMetricsPath = "/metrics"
)

// Config represents the complete roborock-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	MCP       MCPConfig       `yaml:"mcp" toml:"mcp"`
	Roborock  RoborockConfig  `yaml:"roborock" toml:"roborock"`
	Rooms     map[string]int  `yaml:"rooms" toml:"rooms"` // room name -> segment id
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // public HTTPS via Funnel
}

// DatabaseConfig holds journal database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret   string `yaml:"jwt_secret" toml:"jwt_secret"`
	RequireAuth bool   `yaml:"require_auth" toml:"require_auth"`
}

// MCPConfig holds MCP endpoint access configuration
type MCPConfig struct {
	Tokens              []MCPToken    `yaml:"tokens" toml:"tokens"`
	DefaultCapabilities []string      `yaml:"default_capabilities" toml:"default_capabilities"`
	SessionIdleTimeout  time.Duration `yaml:"-" toml:"-"` // zero means the server default

	SessionIdleTimeoutRaw string `yaml:"session_idle_timeout" toml:"session_idle_timeout"`
}

// MCPToken is a static access token usable as /mcp/<token> or ?token=
type MCPToken struct {
	Name         string   `yaml:"name" toml:"name"`
	Token        string   `yaml:"token" toml:"token"`
	Capabilities []string `yaml:"capabilities" toml:"capabilities"`
}

// RoborockConfig holds cloud account and bridge configuration
type RoborockConfig struct {
	Username  string        `yaml:"username" toml:"username"`
	Password  string        `yaml:"password" toml:"password"`
	BridgeURL string        `yaml:"bridge_url" toml:"bridge_url"`
	Timeout   time.Duration `yaml:"-" toml:"-"`

	// Raw string value for unmarshaling
	TimeoutRaw string `yaml:"timeout" toml:"timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled     bool   `yaml:"enabled" toml:"enabled"`
	Path        string `yaml:"path" toml:"path"`
	RequireAuth bool   `yaml:"require_auth" toml:"require_auth"` // bearer JWT with the "metrics" capability
}

// DefaultCapabilities are granted to unauthenticated MCP sessions when
// mcp.default_capabilities is not set.
var DefaultCapabilities = []string{"vacuum", "history"}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML; everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expandedData, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	return finish(&cfg)
}

// FromEnv builds a Config from environment variables and defaults alone.
func FromEnv() (*Config, error) {
	return finish(&Config{})
}

// LoadDefault loads .env from the working directory, then the file named by
// Path. When no config file exists it falls back to FromEnv. The returned
// path is empty in that case.
func LoadDefault() (*Config, string, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, "", fmt.Errorf("loading .env: %w", err)
	}

	path := Path()
	if _, err := os.Stat(path); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, "", fmt.Errorf("checking config file: %w", err)
		}
		if os.Getenv(EnvConfigPath) != "" {
			return nil, "", fmt.Errorf("config file %s: %w", path, err)
		}
		cfg, err := FromEnv()
		return cfg, "", err
	}

	cfg, err := Load(path)
	return cfg, path, err
}

// Path returns the path to the gateway config file.
// Priority: ROBOROCK_GATEWAY_CONFIG > XDG_CONFIG_HOME/roborock/gateway.yaml > ~/.config/roborock/gateway.yaml
func Path() string {
	if envPath := os.Getenv(EnvConfigPath); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "roborock", "gateway.yaml")
}

// DataPath returns the roborock data directory.
// Priority: XDG_DATA_HOME/roborock > ~/.local/share/roborock
func DataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "roborock")
}

// finish applies environment fallbacks, defaults, and duration parsing, then validates.
func finish(cfg *Config) (*Config, error) {
	applyEnv(cfg)
	applyDefaults(cfg)

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyEnv fills unset Roborock settings from the environment.
func applyEnv(cfg *Config) {
	if cfg.Roborock.Username == "" {
		cfg.Roborock.Username = os.Getenv(EnvUsername)
	}
	if cfg.Roborock.Password == "" {
		cfg.Roborock.Password = os.Getenv(EnvPassword)
	}
	if cfg.Roborock.BridgeURL == "" {
		cfg.Roborock.BridgeURL = os.Getenv(EnvBridgeURL)
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.HTTPAddr == "" && !cfg.Tailscale.Enabled {
		cfg.Server.HTTPAddr = DefaultHTTPAddr
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = filepath.Join(DataPath(), "gateway.db")
	}
	if cfg.Roborock.BridgeURL == "" {
		cfg.Roborock.BridgeURL = DefaultBridgeURL
	}
	if cfg.MCP.DefaultCapabilities == nil {
		cfg.MCP.DefaultCapabilities = append([]string(nil), DefaultCapabilities...)
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
// Missing credentials are reported as ErrConfigMissing.
func (c *Config) Validate() error {
	if c.Roborock.Username == "" || c.Roborock.Password == "" {
		return ErrConfigMissing
	}

	if c.Roborock.BridgeURL == "" {
		return fmt.Errorf("roborock.bridge_url is required")
	}

	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Auth.RequireAuth && c.Auth.JWTSecret == "" && len(c.MCP.Tokens) == 0 {
		return fmt.Errorf("auth.require_auth needs auth.jwt_secret or mcp.tokens")
	}

	if c.Metrics.Enabled && c.Metrics.RequireAuth && c.Auth.JWTSecret == "" {
		return fmt.Errorf("metrics.require_auth needs auth.jwt_secret")
	}

	if !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}

	seen := make(map[string]bool, len(c.MCP.Tokens))
	for i, tok := range c.MCP.Tokens {
		if tok.Name == "" || tok.Token == "" {
			return fmt.Errorf("mcp.tokens[%d]: name and token are required", i)
		}
		if seen[tok.Token] {
			return fmt.Errorf("mcp.tokens[%d]: duplicate token for %q", i, tok.Name)
		}
		seen[tok.Token] = true
	}

	for name, segment := range c.Rooms {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("rooms: empty room name")
		}
		if segment <= 0 {
			return fmt.Errorf("rooms[%q]: segment id must be positive", name)
		}
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	if cfg.Roborock.TimeoutRaw != "" {
		d, err := time.ParseDuration(cfg.Roborock.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing roborock.timeout %q: %w", cfg.Roborock.TimeoutRaw, err)
		}
		if d <= 0 {
			return fmt.Errorf("roborock.timeout must be positive, got %s", d)
		}
		cfg.Roborock.Timeout = d
	}
	if raw := cfg.MCP.SessionIdleTimeoutRaw; raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return fmt.Errorf("mcp.session_idle_timeout must be a positive duration, got %q", raw)
		}
		cfg.MCP.SessionIdleTimeout = d
	}
	return nil
}
