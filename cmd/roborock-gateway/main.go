// ABOUTME: Entry point for roborock-gateway
// ABOUTME: Serves the vacuum tools over MCP and offers client commands against a running gateway

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/2389/roborock-gateway/internal/auth"
	"github.com/2389/roborock-gateway/internal/config"
	"github.com/2389/roborock-gateway/internal/gateway"
	"github.com/2389/roborock-gateway/internal/mcp"
)

// Client-side environment for commands that talk to a running gateway.
const (
	envGatewayURL   = "ROBOROCK_GATEWAY_URL"
	envGatewayToken = "ROBOROCK_GATEWAY_TOKEN"
)

const banner = `
            _                          _
  _ __ ___ | |__   ___  _ __ ___   ___| | __
 | '__/ _ \| '_ \ / _ \| '__/ _ \ / __| |/ /
 | | | (_) | |_) | (_) | | | (_) | (__|   <
 |_|  \___/|_.__/ \___/|_|  \___/ \___|_|\_\
                                     gateway
`

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: roborock-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                          Start the gateway server")
		fmt.Println("  init                           Create a new config file interactively")
		fmt.Println("  token --name NAME [--caps a,b] [--ttl 720h]")
		fmt.Println("                                 Issue a JWT for an MCP client")
		fmt.Println("  health                         Check gateway health and device session")
		fmt.Println("  tools                          List the tools a client can see")
		fmt.Println("  call TOOL [JSON]               Call a tool and print its result")
		fmt.Println("  history [--limit N]            Show recent device commands")
		fmt.Println()
		fmt.Println("Client commands accept --url and --token, or ROBOROCK_GATEWAY_URL and ROBOROCK_GATEWAY_TOKEN.")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "token":
		err = runToken(os.Args[2:])
	case "health":
		err = runHealth(ctx, os.Args[2:])
	case "tools":
		err = runTools(ctx, os.Args[2:])
	case "call":
		err = runCall(ctx, os.Args[2:])
	case "history":
		err = runHistory(ctx, os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", gateway.Version)

	cfg, configPath, err := config.LoadDefault()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	if configPath == "" {
		configPath = "(environment)"
	}
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Account:   %s\n", cfg.Roborock.Username)
	green.Print("    ▶ ")
	fmt.Printf("Bridge:    %s\n", cfg.Roborock.BridgeURL)
	green.Print("    ▶ ")
	fmt.Printf("Rooms:     %d\n", len(cfg.Rooms))

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	} else {
		green.Print("    ▶ ")
		fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	}
	if cfg.Auth.RequireAuth {
		green.Print("    ▶ ")
		yellow.Println("Auth:      required")
	}

	fmt.Println()

	logger.Info("starting roborock-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"bridge_url", cfg.Roborock.BridgeURL,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = &colorHandler{mu: &sync.Mutex{}, out: os.Stdout, level: level}
	}

	return slog.New(handler)
}

// colorHandler writes one colorized line per record.
type colorHandler struct {
	mu     *sync.Mutex
	out    io.Writer
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch {
	case r.Level >= slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	case r.Level >= slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case r.Level >= slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	default:
		buf.WriteString(color.MagentaString("DBG "))
	}

	buf.WriteString(r.Message)

	prefix := ""
	if len(h.groups) > 0 {
		prefix = strings.Join(h.groups, ".") + "."
	}
	for _, a := range h.attrs {
		writeAttr(&buf, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&buf, prefix, a)
		return true
	})

	buf.WriteString("\n")

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, buf.String())
	return err
}

func writeAttr(buf *strings.Builder, prefix string, a slog.Attr) {
	buf.WriteString(color.HiBlackString(" " + prefix + a.Key + "="))
	buf.WriteString(a.Value.String())
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{mu: h.mu, out: h.out, level: h.level, attrs: newAttrs, groups: h.groups}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{mu: h.mu, out: h.out, level: h.level, attrs: h.attrs, groups: newGroups}
}

// flagSet holds --name value pairs and positional arguments.
type flagSet struct {
	values     map[string]string
	positional []string
}

// parseFlags accepts "--name value" and "--name=value" for the allowed names.
func parseFlags(args []string, allowed ...string) (*flagSet, error) {
	fs := &flagSet{values: make(map[string]string)}
	known := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		known[name] = true
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "--") {
			fs.positional = append(fs.positional, arg)
			continue
		}

		name, value, hasValue := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		if !known[name] {
			return nil, fmt.Errorf("unknown flag: %s", arg)
		}
		if !hasValue {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--%s requires a value", name)
			}
			value = args[i+1]
			i++
		}
		fs.values[name] = value
	}
	return fs, nil
}

func (fs *flagSet) get(name, fallback string) string {
	if v, ok := fs.values[name]; ok {
		return v
	}
	return fallback
}

// gatewayBaseURL resolves the gateway address: --url, then ROBOROCK_GATEWAY_URL,
// then server.http_addr from the local config, then the default address.
func gatewayBaseURL(fs *flagSet) string {
	if u := fs.get("url", os.Getenv(envGatewayURL)); u != "" {
		return strings.TrimSuffix(u, "/")
	}
	addr := config.DefaultHTTPAddr
	if cfg, _, err := config.LoadDefault(); err == nil && cfg.Server.HTTPAddr != "" {
		addr = cfg.Server.HTTPAddr
	}
	return "http://" + addr
}

func newClient(ctx context.Context, fs *flagSet) (*mcp.Client, error) {
	client, err := mcp.NewClient(mcp.ClientConfig{
		URL:         gatewayBaseURL(fs) + "/mcp",
		BearerToken: fs.get("token", os.Getenv(envGatewayToken)),
	})
	if err != nil {
		return nil, err
	}
	if _, err := client.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("connecting to gateway: %w", err)
	}
	return client, nil
}

func runHealth(ctx context.Context, args []string) error {
	fs, err := parseFlags(args, "url")
	if err != nil {
		return err
	}
	base := gatewayBaseURL(fs)

	status, _, err := httpGet(ctx, base+"/health")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", status)
	}
	color.Green("healthy")

	status, body, err := httpGet(ctx, base+"/health/ready")
	if err != nil {
		return fmt.Errorf("readiness check failed: %w", err)
	}
	if status == http.StatusOK {
		color.Green("%s", body)
	} else {
		color.Yellow("%s", body)
	}
	return nil
}

func httpGet(ctx context.Context, url string) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, "", fmt.Errorf("creating request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, "", fmt.Errorf("reading response: %w", err)
	}
	return resp.StatusCode, strings.TrimSpace(string(body)), nil
}

func runTools(ctx context.Context, args []string) error {
	fs, err := parseFlags(args, "url", "token")
	if err != nil {
		return err
	}
	client, err := newClient(ctx, fs)
	if err != nil {
		return err
	}
	defer client.Close(context.Background())

	tools, err := client.ListTools(ctx)
	if err != nil {
		return fmt.Errorf("listing tools: %w", err)
	}

	cyan := color.New(color.FgCyan)
	for _, tool := range tools {
		cyan.Printf("  %-20s", tool.Name)
		fmt.Printf(" %s\n", tool.Description)
	}
	return nil
}

func runCall(ctx context.Context, args []string) error {
	fs, err := parseFlags(args, "url", "token")
	if err != nil {
		return err
	}
	if len(fs.positional) == 0 || len(fs.positional) > 2 {
		return errors.New("usage: roborock-gateway call TOOL [JSON]")
	}

	var input json.RawMessage
	if len(fs.positional) == 2 {
		input = json.RawMessage(fs.positional[1])
		if !json.Valid(input) {
			return fmt.Errorf("arguments are not valid JSON: %s", fs.positional[1])
		}
	}

	client, err := newClient(ctx, fs)
	if err != nil {
		return err
	}
	defer client.Close(context.Background())

	result, err := client.CallTool(ctx, fs.positional[0], input)
	if err != nil {
		return err
	}

	for _, content := range result.Content {
		fmt.Println(indentJSON(content.Text))
	}
	if result.IsError {
		return errors.New("tool reported an error")
	}
	return nil
}

func indentJSON(text string) string {
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return text
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return text
	}
	return string(out)
}

// historyEntry mirrors the command_history tool's per-command output.
type historyEntry struct {
	Tool            string    `json:"tool"`
	Command         string    `json:"command"`
	Outcome         string    `json:"outcome"`
	Error           string    `json:"error"`
	ConnectionReset bool      `json:"connection_reset"`
	DurationMS      int64     `json:"duration_ms"`
	CreatedAt       time.Time `json:"created_at"`
}

func runHistory(ctx context.Context, args []string) error {
	fs, err := parseFlags(args, "url", "token", "limit", "outcome", "command")
	if err != nil {
		return err
	}

	query := map[string]any{}
	if v := fs.get("limit", ""); v != "" {
		var limit int
		if _, err := fmt.Sscanf(v, "%d", &limit); err != nil || limit <= 0 {
			return fmt.Errorf("--limit must be a positive integer: %s", v)
		}
		query["limit"] = limit
	}
	if v := fs.get("outcome", ""); v != "" {
		query["outcome"] = v
	}
	if v := fs.get("command", ""); v != "" {
		query["command"] = v
	}
	input, err := json.Marshal(query)
	if err != nil {
		return err
	}

	client, err := newClient(ctx, fs)
	if err != nil {
		return err
	}
	defer client.Close(context.Background())

	result, err := client.CallTool(ctx, "command_history", input)
	if err != nil {
		return err
	}
	if result.IsError || len(result.Content) == 0 {
		if len(result.Content) > 0 {
			return errors.New(result.Content[0].Text)
		}
		return errors.New("empty history response")
	}

	var out struct {
		Commands []historyEntry `json:"commands"`
	}
	if err := json.Unmarshal([]byte(result.Content[0].Text), &out); err != nil {
		return fmt.Errorf("decoding history: %w", err)
	}

	if len(out.Commands) == 0 {
		fmt.Println("No commands recorded.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tTOOL\tCOMMAND\tOUTCOME\tDURATION\tERROR")
	for _, c := range out.Commands {
		outcome := color.GreenString(c.Outcome)
		if c.Outcome != "ok" {
			outcome = color.RedString(c.Outcome)
			if c.ConnectionReset {
				outcome += color.YellowString(" (reset)")
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%dms\t%s\n",
			c.CreatedAt.Local().Format("Jan 02 15:04:05"),
			c.Tool, c.Command, outcome, c.DurationMS, c.Error)
	}
	return w.Flush()
}

// runToken issues a JWT signed with auth.jwt_secret.
func runToken(args []string) error {
	fs, err := parseFlags(args, "name", "caps", "ttl")
	if err != nil {
		return err
	}

	name := strings.TrimSpace(fs.get("name", ""))
	if name == "" {
		return errors.New("--name flag is required")
	}

	caps := config.DefaultCapabilities
	if v := fs.get("caps", ""); v != "" {
		caps = nil
		for _, c := range strings.Split(v, ",") {
			if c = strings.TrimSpace(c); c != "" {
				caps = append(caps, c)
			}
		}
	}

	ttl := 30 * 24 * time.Hour
	if v := fs.get("ttl", ""); v != "" {
		ttl, err = time.ParseDuration(v)
		if err != nil || ttl <= 0 {
			return fmt.Errorf("invalid --ttl %q", v)
		}
	}

	cfg, configPath, err := config.LoadDefault()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is not configured in %s", configPath)
	}

	token, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)).Generate(name, caps, ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Fprintf(os.Stderr, "  ✓ Token for %s (%s), expires %s\n",
		name, strings.Join(caps, ","), time.Now().Add(ttl).Format("Jan 02, 2006"))
	fmt.Println(token)
	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("roborock-gateway configuration setup")
	fmt.Println("====================================")
	fmt.Println()

	defaultDBPath := filepath.Join(config.DataPath(), "gateway.db")

	outputFile := prompt(reader, "Config file path", config.Path())

	if _, err := os.Stat(outputFile); err == nil {
		if !yes(prompt(reader, "File exists. Overwrite?", "no")) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Roborock Account ---")
	fmt.Println("Leave empty to read ROBOROCK_USERNAME and ROBOROCK_PASSWORD at startup.")
	username := prompt(reader, "Username (email)", "")
	password := prompt(reader, "Password", "")
	bridgeURL := prompt(reader, "Device bridge URL", config.DefaultBridgeURL)

	fmt.Println("\n--- Rooms ---")
	fmt.Println("Enter rooms as name=segment_id. Empty line to finish.")
	rooms := map[string]int{}
	var roomOrder []string
	for {
		entry := prompt(reader, "Room", "")
		if entry == "" {
			break
		}
		name, idStr, ok := strings.Cut(entry, "=")
		var id int
		if _, err := fmt.Sscanf(strings.TrimSpace(idStr), "%d", &id); !ok || err != nil || id <= 0 {
			fmt.Println("  expected name=segment_id, e.g. Kitchen=17")
			continue
		}
		name = strings.TrimSpace(name)
		if _, dup := rooms[name]; !dup {
			roomOrder = append(roomOrder, name)
		}
		rooms[name] = id
	}

	fmt.Println("\n--- Server ---")
	httpAddr := prompt(reader, "HTTP address", config.DefaultHTTPAddr)
	dbPath := prompt(reader, "SQLite journal path", defaultDBPath)

	fmt.Println("\n--- Tailscale ---")
	tailscaleEnabled := yes(prompt(reader, "Enable Tailscale?", "no"))
	var tsHostname, tsAuthKey string
	var tsEphemeral, tsFunnel bool
	if tailscaleEnabled {
		tsHostname = prompt(reader, "Tailscale hostname", "roborock-gateway")
		tsAuthKey = prompt(reader, "Tailscale auth key (leave empty for interactive)", "")
		tsEphemeral = yes(prompt(reader, "Ephemeral node?", "no"))
		tsFunnel = yes(prompt(reader, "Enable Funnel (public HTTPS)?", "no"))
	}

	fmt.Println("\n--- Auth ---")
	requireAuth := yes(prompt(reader, "Require a token for MCP clients?", "no"))
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return fmt.Errorf("generating JWT secret: %w", err)
	}
	jwtSecret := base64.StdEncoding.EncodeToString(secretBytes)

	fmt.Println("\n--- Logging ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	var cfg strings.Builder
	cfg.WriteString("# roborock-gateway configuration\n")
	cfg.WriteString("# Generated by roborock-gateway init\n\n")

	cfg.WriteString("server:\n")
	fmt.Fprintf(&cfg, "  http_addr: %q\n\n", httpAddr)

	cfg.WriteString("roborock:\n")
	if username != "" {
		fmt.Fprintf(&cfg, "  username: %q\n", username)
	} else {
		cfg.WriteString("  username: \"${ROBOROCK_USERNAME}\"\n")
	}
	if password != "" {
		fmt.Fprintf(&cfg, "  password: %q\n", password)
	} else {
		cfg.WriteString("  password: \"${ROBOROCK_PASSWORD}\"\n")
	}
	fmt.Fprintf(&cfg, "  bridge_url: %q\n", bridgeURL)
	cfg.WriteString("  timeout: \"30s\"\n\n")

	if len(roomOrder) > 0 {
		cfg.WriteString("rooms:\n")
		for _, name := range roomOrder {
			fmt.Fprintf(&cfg, "  %q: %d\n", name, rooms[name])
		}
		cfg.WriteString("\n")
	}

	cfg.WriteString("database:\n")
	fmt.Fprintf(&cfg, "  path: %q\n\n", dbPath)

	cfg.WriteString("tailscale:\n")
	fmt.Fprintf(&cfg, "  enabled: %t\n", tailscaleEnabled)
	if tailscaleEnabled {
		fmt.Fprintf(&cfg, "  hostname: %q\n", tsHostname)
		if tsAuthKey != "" {
			fmt.Fprintf(&cfg, "  auth_key: %q\n", tsAuthKey)
		}
		fmt.Fprintf(&cfg, "  ephemeral: %t\n", tsEphemeral)
		fmt.Fprintf(&cfg, "  funnel: %t\n", tsFunnel)
	}
	cfg.WriteString("\n")

	cfg.WriteString("auth:\n")
	fmt.Fprintf(&cfg, "  jwt_secret: %q\n", jwtSecret)
	fmt.Fprintf(&cfg, "  require_auth: %t\n\n", requireAuth)

	cfg.WriteString("logging:\n")
	fmt.Fprintf(&cfg, "  level: %q\n", logLevel)
	fmt.Fprintf(&cfg, "  format: %q\n\n", logFormat)

	cfg.WriteString("metrics:\n")
	cfg.WriteString("  enabled: false\n")
	fmt.Fprintf(&cfg, "  path: %q\n", config.DefaultMetricsPath)

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	// 0600: the file carries the account password and the JWT secret.
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nTo start the server:")
	fmt.Println("  roborock-gateway serve")
	fmt.Println("\nTo issue a client token:")
	fmt.Println("  roborock-gateway token --name kitchen-tablet --caps vacuum")

	return nil
}

func yes(answer string) bool {
	a := strings.ToLower(strings.TrimSpace(answer))
	return a == "yes" || a == "y"
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// EOF or error: use the default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
