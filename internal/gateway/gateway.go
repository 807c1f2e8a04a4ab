// ABOUTME: Gateway orchestrator that coordinates the robot TCP listener and the HTTP API
// ABOUTME: Owns the registry, safety monitor, fleet controls, and the observer feed

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/2389/cobot-gateway/internal/agent"
	"github.com/2389/cobot-gateway/internal/assets"
	"github.com/2389/cobot-gateway/internal/config"
	"github.com/2389/cobot-gateway/internal/dedupe"
	"github.com/2389/cobot-gateway/internal/feed"
	"github.com/2389/cobot-gateway/internal/fleet"
	"github.com/2389/cobot-gateway/internal/registry"
	"github.com/2389/cobot-gateway/internal/safety"
)

// shutdownTimeout bounds the graceful HTTP shutdown.
const shutdownTimeout = 5 * time.Second

// warningCacheSize caps the number of (robot, reason) warning keys remembered.
const warningCacheSize = 4096

// Gateway orchestrates the cobot-gateway server components.
// It accepts robot connections over TCP and serves the operator API over HTTP.
type Gateway struct {
	config     *config.Config
	configPath string

	registry *registry.Registry
	agents   *agent.Manager
	monitor  *safety.Monitor
	fleet    *fleet.Controller
	feed     *feed.Broadcaster

	// warnings throttles the Warning text sent alongside force stops
	warnings *dedupe.Cache

	httpServer *http.Server
	upgrader   websocket.Upgrader
	logger     *slog.Logger

	ready     chan struct{}
	readyOnce sync.Once
	tcpAddr   net.Addr
	httpAddr  net.Addr
}

// safetyConfig derives monitor thresholds from the gateway config.
func safetyConfig(cfg *config.Config) safety.Config {
	return safety.Config{
		Bounds: safety.Bounds{
			MaxX: cfg.Workspace.Width,
			MaxY: cfg.Workspace.Height,
		},
		Margin:            cfg.Safety.Margin,
		CollisionDistance: cfg.Safety.CollisionDistance,
		CautionDistance:   cfg.Safety.CautionDistance,
	}
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	thresholds := safetyConfig(cfg)
	if err := thresholds.Validate(); err != nil {
		return nil, fmt.Errorf("invalid safety config: %w", err)
	}

	reg := registry.New(registry.Options{
		SpeedLimit:   cfg.Fleet.SpeedLimit,
		EventHistory: cfg.Fleet.EventHistory,
	})
	agents := agent.NewManager(reg, agent.Options{
		IdentifyTimeout: cfg.Agents.IdentifyTimeout,
		ReadTimeout:     cfg.Agents.ReadTimeout,
		WriteTimeout:    cfg.Agents.WriteTimeout,
		QueueSize:       cfg.Agents.QueueSize,
	}, logger.With("component", "agent-manager"))

	controller := fleet.New(reg, logger)
	broadcaster := feed.NewBroadcaster(logger.With("component", "feed"))
	warnings := dedupe.New(cfg.Safety.WarningWindow, warningCacheSize)

	monitor := safety.NewMonitor(reg, safety.Options{
		Config:   thresholds,
		Interval: cfg.Safety.EvaluationInterval,
		Latch:    controller,
		Feed:     broadcaster,
		Warnings: warnings,
		Logger:   logger,
	})

	gw := &Gateway{
		config:   cfg,
		registry: reg,
		agents:   agents,
		monitor:  monitor,
		fleet:    controller,
		feed:     broadcaster,
		warnings: warnings,
		logger:   logger.With("component", "gateway"),
		ready:    make(chan struct{}),
	}
	gw.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     sameOrigin,
	}

	mux := http.NewServeMux()

	// Health endpoints
	mux.HandleFunc("/health", gw.handleHealth)
	mux.HandleFunc("/health/ready", gw.handleReady)

	// Operator API
	mux.HandleFunc("/api/fleet", gw.handleFleet)
	mux.HandleFunc("/api/agents", gw.handleListAgents)
	mux.HandleFunc("/api/agents/", gw.handleGetAgent)
	mux.HandleFunc("/api/events", gw.handleEvents)
	mux.HandleFunc("/api/status", gw.handleStatus)
	mux.HandleFunc("/api/speed-limit", gw.handleSpeedLimit)
	mux.HandleFunc("/api/estop", gw.handleEmergencyStop)
	mux.HandleFunc("/api/resume", gw.handleResume)

	// Live observer feed and the embedded viewer that draws it
	mux.HandleFunc("/ws/fleet", gw.handleFleetStream)
	mux.Handle("/", assets.FileServer())

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// WatchConfig makes Run reload path on change and apply the settings that
// can change without a restart.
func (g *Gateway) WatchConfig(path string) {
	g.configPath = path
}

// Handler returns the HTTP handler serving the operator API.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Ready is closed once the listeners are bound.
func (g *Gateway) Ready() <-chan struct{} {
	return g.ready
}

// TCPAddr returns the bound robot listener address. Valid after Ready.
func (g *Gateway) TCPAddr() net.Addr {
	return g.tcpAddr
}

// HTTPAddr returns the bound HTTP address, or nil when HTTP is disabled. Valid after Ready.
func (g *Gateway) HTTPAddr() net.Addr {
	return g.httpAddr
}

// setupListeners creates the robot TCP listener and, if configured, the HTTP listener.
func (g *Gateway) setupListeners() (tcpLn, httpLn net.Listener, err error) {
	g.logger.Info("starting gateway",
		"tcp_addr", g.config.Server.TCPAddr,
		"http_addr", g.config.Server.HTTPAddr,
	)

	tcpLn, err = net.Listen("tcp", g.config.Server.TCPAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on robot address: %w", err)
	}

	if g.config.Server.HTTPAddr == "" {
		g.logger.Warn("HTTP API disabled - no http_addr configured")
		return tcpLn, nil, nil
	}

	httpLn, err = net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		_ = tcpLn.Close()
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return tcpLn, httpLn, nil
}

// Run starts the gateway and blocks until ctx is canceled or a component fails.
// Returns nil on graceful shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	tcpLn, httpLn, err := g.setupListeners()
	if err != nil {
		return err
	}

	g.tcpAddr = tcpLn.Addr()
	if httpLn != nil {
		g.httpAddr = httpLn.Addr()
	}

	grp, ctx := errgroup.WithContext(ctx)

	grp.Go(func() error {
		return g.agents.Serve(ctx, tcpLn)
	})
	grp.Go(func() error {
		return g.monitor.Run(ctx)
	})

	if httpLn != nil {
		grp.Go(func() error {
			g.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
			if err := g.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("HTTP server: %w", err)
			}
			return nil
		})
	}
	grp.Go(func() error {
		<-ctx.Done()
		g.logger.Info("context canceled, initiating shutdown")
		return g.gracefulShutdown(httpLn != nil)
	})

	if g.configPath != "" {
		grp.Go(func() error {
			if err := config.Watch(ctx, g.configPath, g.logger, g.applyConfig); err != nil {
				// Hot reload is a convenience; the fleet keeps running without it.
				g.logger.Error("config watch failed", "error", err)
			}
			return nil
		})
	}

	g.readyOnce.Do(func() { close(g.ready) })

	err = grp.Wait()
	g.logger.Info("gateway stopped")
	return err
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (g *Gateway) gracefulShutdown(withHTTP bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return g.Shutdown(ctx, withHTTP)
}

// Shutdown ends every observer stream and stops the HTTP server.
// Robot connections are closed by the agent manager as Run unwinds.
func (g *Gateway) Shutdown(ctx context.Context, withHTTP bool) error {
	g.logger.Info("shutting down gateway")

	// Observer streams are hijacked connections that http.Server.Shutdown
	// does not track; closing the feed ends them.
	g.feed.Close()

	if !withHTTP {
		return nil
	}
	if err := g.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP shutdown: %w", err)
	}
	return nil
}

// applyConfig applies a reloaded config. Only the fleet speed limit and the
// safety thresholds take effect live; listener and timing changes need a restart.
func (g *Gateway) applyConfig(cfg *config.Config) {
	if err := g.monitor.SetConfig(safetyConfig(cfg)); err != nil {
		g.logger.Warn("ignoring reloaded safety thresholds", "error", err)
	}

	delivered, err := g.fleet.SetSpeedLimit(cfg.Fleet.SpeedLimit)
	if err != nil {
		g.logger.Warn("ignoring reloaded speed limit", "error", err)
		return
	}
	if delivered > 0 {
		g.logger.Info("speed limit applied from config", "value", cfg.Fleet.SpeedLimit, "delivered", delivered)
	}

	if cfg.Server != g.config.Server || cfg.Agents != g.config.Agents {
		g.logger.Warn("listener and connection settings changed; restart to apply")
	}
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if the server has at least one robot connected.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	n := g.registry.Len()
	if n == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no robots connected"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d robots)", n)
}
