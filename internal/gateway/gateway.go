// ABOUTME: Gateway orchestrator that wires the vacuum connector to the MCP and HTTP surfaces
// ABOUTME: Manages the journal store, tool packs, metrics, listeners, and shutdown order

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/roborock-gateway/internal/auth"
	"github.com/2389/roborock-gateway/internal/builtins"
	"github.com/2389/roborock-gateway/internal/config"
	"github.com/2389/roborock-gateway/internal/device"
	"github.com/2389/roborock-gateway/internal/device/bridge"
	"github.com/2389/roborock-gateway/internal/mcp"
	"github.com/2389/roborock-gateway/internal/metrics"
	"github.com/2389/roborock-gateway/internal/packs"
	"github.com/2389/roborock-gateway/internal/store"
	"github.com/2389/roborock-gateway/internal/vacuum"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// Gateway orchestrates the roborock-gateway server components.
type Gateway struct {
	config      *config.Config
	store       store.JournalStore
	connector   *vacuum.Connector
	metrics     *metrics.Exporter // nil when metrics are disabled
	verifier    *auth.JWTVerifier // nil without auth.jwt_secret
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger

	// packRegistry holds the vacuum and history packs
	packRegistry *packs.Registry

	// packRouter routes tool calls to pack handlers
	packRouter *packs.Router

	// mcpTokens maps static MCP tokens to capabilities
	mcpTokens *mcp.TokenStore

	// mcpServer is the MCP endpoint for agents
	mcpServer *mcp.Server

	// manual is the rendered HTML served at /
	manual []byte
}

// New creates a Gateway that talks to the device bridge named in cfg.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	client, err := bridge.New(bridge.Config{
		BaseURL: cfg.Roborock.BridgeURL,
		Timeout: cfg.Roborock.Timeout,
		Logger:  logger.With("component", "bridge"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating bridge client: %w", err)
	}
	return NewWithClient(cfg, client, logger)
}

// NewWithClient creates a Gateway around an existing device client.
// Configuration is validated before anything else so missing credentials
// fail without any network or disk activity.
func NewWithClient(cfg *config.Config, client device.Client, logger *slog.Logger) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}

	gw, err := build(cfg, client, s, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return gw, nil
}

func build(cfg *config.Config, client device.Client, s store.JournalStore, logger *slog.Logger) (*Gateway, error) {
	gw := &Gateway{
		config: cfg,
		store:  s,
		logger: logger.With("component", "gateway"),
	}

	observers := []vacuum.Observer{newJournalObserver(s, logger.With("component", "journal"))}
	if cfg.Metrics.Enabled {
		gw.metrics = metrics.New(metrics.DefaultConfig())
		observers = append(observers, gw.metrics)
	}

	connector, err := vacuum.New(vacuum.Config{
		Client:    client,
		Username:  cfg.Roborock.Username,
		Password:  cfg.Roborock.Password,
		Logger:    logger.With("component", "connector"),
		Observers: observers,
	})
	if err != nil {
		return nil, fmt.Errorf("creating connector: %w", err)
	}
	gw.connector = connector

	gw.packRegistry = packs.NewRegistry(logger.With("component", "pack-registry"))
	gw.packRouter = packs.NewRouter(packs.RouterConfig{
		Registry: gw.packRegistry,
		Logger:   logger.With("component", "pack-router"),
	})
	if err := registerBuiltinPacks(gw.packRegistry, connector, s, cfg.Rooms); err != nil {
		return nil, err
	}

	if cfg.Auth.JWTSecret != "" {
		gw.verifier = auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	}

	gw.mcpTokens = mcp.NewTokenStore()
	for _, tok := range cfg.MCP.Tokens {
		if err := gw.mcpTokens.AddToken(tok.Token, tok.Name, tok.Capabilities); err != nil {
			return nil, fmt.Errorf("adding MCP token %q: %w", tok.Name, err)
		}
	}

	mcpCfg := mcp.Config{
		Registry:    gw.packRegistry,
		Router:      gw.packRouter,
		Logger:      logger.With("component", "mcp"),
		TokenStore:  gw.mcpTokens,
		RequireAuth: cfg.Auth.RequireAuth,
		DefaultCaps: cfg.MCP.DefaultCapabilities,
		Version:     Version,
		IdleTimeout: cfg.MCP.SessionIdleTimeout,
	}
	// Interfaces stay nil unless the concrete value is set
	if gw.verifier != nil {
		mcpCfg.TokenVerifier = gw.verifier
	}
	if gw.metrics != nil {
		mcpCfg.Recorder = gw.metrics
	}
	gw.mcpServer, err = mcp.NewServer(mcpCfg)
	if err != nil {
		return nil, fmt.Errorf("creating MCP server: %w", err)
	}

	gw.manual, err = renderManual(gw.packRegistry, cfg.Rooms, Version)
	if err != nil {
		return nil, err
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// registerBuiltinPacks registers all builtin packs with the registry.
func registerBuiltinPacks(registry *packs.Registry, conn *vacuum.Connector, s store.JournalStore, rooms map[string]int) error {
	if err := registry.RegisterBuiltinPack(builtins.VacuumPack(conn, rooms)); err != nil {
		return fmt.Errorf("registering vacuum pack: %w", err)
	}
	if err := registry.RegisterBuiltinPack(builtins.HistoryPack(s)); err != nil {
		return fmt.Errorf("registering history pack: %w", err)
	}
	return nil
}

// routes builds the HTTP handler.
func (g *Gateway) routes() http.Handler {
	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/health/ready", g.handleReady)

	g.mcpServer.RegisterRoutes(mux)
	g.registerAPIRoutes(mux)

	if g.metrics != nil {
		var h http.Handler = g.metrics.Handler()
		if g.config.Metrics.RequireAuth && g.verifier != nil {
			h = auth.Middleware(g.verifier, "metrics")(h)
		}
		mux.Handle(g.config.Metrics.Path, h)
		g.logger.Info("metrics enabled", "path", g.config.Metrics.Path, "require_auth", g.config.Metrics.RequireAuth)
	}

	mux.HandleFunc("/", g.handleManual)
	return mux
}

// Handler returns the gateway's HTTP handler (for tests and embedding).
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Connector returns the vacuum connector.
func (g *Gateway) Connector() *vacuum.Connector {
	return g.connector
}

// setupTCPListener creates a standard TCP listener for HTTP.
func (g *Gateway) setupTCPListener() (net.Listener, error) {
	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// setupListener creates the HTTP listener based on configuration (Tailscale or TCP).
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled", "http_addr", g.config.Server.HTTPAddr)
		}
		return g.setupTailscaleListener(ctx)
	}
	return g.setupTCPListener()
}

// Run starts the HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		_ = g.closeComponents(context.Background())
		return err
	}
	return g.Serve(ctx, ln)
}

// Serve runs the HTTP server on ln until ctx is canceled, then shuts down.
func (g *Gateway) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout,
// since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "roborock-gateway", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListener starts a tsnet node and returns its HTTP listener.
func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, status)

	if tsCfg.Funnel {
		return g.createTailscaleFunnelListener()
	}
	ln, err := g.tsnetServer.Listen("tcp", ":80")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
	}
	return ln, nil
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// createTailscaleFunnelListener exposes the gateway publicly over HTTPS via Funnel.
func (g *Gateway) createTailscaleFunnelListener() (net.Listener, error) {
	g.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
	ln, err := g.tsnetServer.ListenFunnel("tcp", ":443")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale funnel: %w", err)
	}
	return ln, nil
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// closeComponents releases everything behind the HTTP server, in order:
// device session, router, registry, store.
func (g *Gateway) closeComponents(ctx context.Context) error {
	var errs []error

	g.connector.ResetConnection(ctx)
	g.packRouter.Close()
	g.packRegistry.Close()

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	errs = appendCloseError(errs, "store close", g.store.Close())

	return errors.Join(errs...)
}

// Shutdown stops the HTTP server, disconnects the device, and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	if err := g.closeComponents(ctx); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK when a device session is live. It never
// triggers a login.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	st := g.connector.State()
	if !st.Connected {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no device session"))
		return
	}
	name := ""
	if st.Device != nil {
		name = st.Device.Device.Name
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%s)", name)
}
