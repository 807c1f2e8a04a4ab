// ABOUTME: Entry point for cobot-gateway fleet coordinator
// ABOUTME: Serves robot connections and offers operator commands against a running gateway

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/2389/cobot-gateway/internal/config"
	"github.com/2389/cobot-gateway/internal/gateway"
	"github.com/2389/cobot-gateway/internal/logging"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const banner = `
             _           _                     _
  ___ ___   | |__   ___ | |_       __ _  __ _ | |_ _____      ____ _ _   _
 / __/ _ \  | '_ \ / _ \| __|____ / _' |/ _' || __/ _ \ \ /\ / / _' | | | |
| (_| (_) | | |_) | (_) | ||_____| (_| | (_| || ||  __/\ V  V / (_| | |_| |
 \___\___/  |_.__/ \___/ \__|     \__, |\__,_| \__\___| \_/\_/ \__,_|\__, |
                                  |___/                              |___/
`

// clientTimeout bounds operator commands against a running gateway.
const clientTimeout = 5 * time.Second

// getConfigPath returns the path to the gateway config file.
// Priority: COBOT_CONFIG env var > XDG_CONFIG_HOME/cobot/gateway.yaml > ~/.config/cobot/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("COBOT_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "cobot", "gateway.yaml")
}

// loadConfig loads the gateway config, falling back to defaults when the
// file does not exist. The bool reports whether a file was read.
func loadConfig(path string) (*config.Config, bool, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return config.Default(), false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("loading config: %w", err)
	}
	return cfg, true, nil
}

func usage() {
	fmt.Println("Usage: cobot-gateway <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                  Start the gateway server")
	fmt.Println("  health                 Check gateway health")
	fmt.Println("  agents                 List connected robots")
	fmt.Println("  status                 Show speed limit, e-stop latch, and held robots")
	fmt.Println("  speed-limit [VALUE]    Show or change the fleet speed limit")
	fmt.Println("  estop                  Engage the emergency stop")
	fmt.Println("  resume                 Release the emergency stop")
	fmt.Println("  version                Print the version")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "health":
		err = runHealth(ctx)
	case "agents":
		err = runAgents(ctx)
	case "status":
		err = runStatus(ctx)
	case "speed-limit":
		err = runSpeedLimit(ctx, os.Args[2:])
	case "estop":
		err = runLatch(ctx, "/api/estop", "emergency stop engaged", "emergency stop already engaged")
	case "resume":
		err = runLatch(ctx, "/api/resume", "emergency stop released", "emergency stop was not engaged")
	case "version":
		fmt.Println(version)
	case "help", "-h", "--help":
		usage()
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
	configPath := getConfigPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, fromFile, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger := logging.New(cfg.Logging, os.Stdout)

	// Startup info
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:      %s", configPath)
	if !fromFile {
		yellow.Print(" (not found, using defaults)")
	}
	fmt.Println()
	green.Print("    ▶ ")
	fmt.Printf("Robots:      %s\n", cfg.Server.TCPAddr)
	green.Print("    ▶ ")
	if cfg.Server.HTTPAddr != "" {
		fmt.Printf("HTTP:        %s\n", cfg.Server.HTTPAddr)
	} else {
		fmt.Print("HTTP:        ")
		gray.Println("disabled")
	}
	green.Print("    ▶ ")
	fmt.Printf("Workspace:   %gx%g (margin %g)\n", cfg.Workspace.Width, cfg.Workspace.Height, cfg.Safety.Margin)
	green.Print("    ▶ ")
	fmt.Printf("Speed limit: %g\n", cfg.Fleet.SpeedLimit)
	fmt.Println()

	logger.Info("starting cobot-gateway",
		"config", configPath,
		"tcp_addr", cfg.Server.TCPAddr,
		"http_addr", cfg.Server.HTTPAddr,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}
	if fromFile {
		gw.WatchConfig(configPath)
	}

	return gw.Run(ctx)
}

// apiClient talks to a running gateway's HTTP API.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient() (*apiClient, error) {
	cfg, _, err := loadConfig(getConfigPath())
	if err != nil {
		return nil, err
	}
	if cfg.Server.HTTPAddr == "" {
		return nil, errors.New("HTTP API is disabled (server.http_addr is empty)")
	}
	return &apiClient{
		base: "http://" + cfg.Server.HTTPAddr,
		http: &http.Client{Timeout: clientTimeout},
	}, nil
}

// do sends a request and decodes a JSON response into out, if non-nil.
func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s (status %d)", apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func runHealth(ctx context.Context) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, client.base+"/health", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := client.http.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

type agentRow struct {
	ID          string    `json:"id"`
	RemoteAddr  string    `json:"remote_addr"`
	State       string    `json:"state"`
	ConnectedAt time.Time `json:"connected_at"`
}

func runAgents(ctx context.Context) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}

	var agents []agentRow
	if err := client.do(ctx, http.MethodGet, "/api/agents", nil, &agents); err != nil {
		return err
	}

	if len(agents) == 0 {
		fmt.Println("no robots connected")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATE\tREMOTE\tCONNECTED")
	for _, a := range agents {
		id := a.ID
		if id == "" {
			id = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", id, a.State, a.RemoteAddr, time.Since(a.ConnectedAt).Round(time.Second))
	}
	return tw.Flush()
}

func runStatus(ctx context.Context) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}

	var status gateway.StatusResponse
	if err := client.do(ctx, http.MethodGet, "/api/status", nil, &status); err != nil {
		return err
	}

	fmt.Printf("robots:      %d\n", status.Robots)
	fmt.Printf("speed limit: %g\n", status.SpeedLimit)
	fmt.Print("e-stop:      ")
	if status.EStop {
		color.New(color.FgRed, color.Bold).Println("ENGAGED")
	} else {
		color.New(color.FgGreen).Println("released")
	}
	if len(status.Held) > 0 {
		fmt.Printf("held:        %v\n", status.Held)
	}
	fmt.Printf("observers:   %d\n", status.Observers)
	return nil
}

func runSpeedLimit(ctx context.Context, args []string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}

	if len(args) == 0 {
		var resp gateway.SpeedLimitResponse
		if err := client.do(ctx, http.MethodGet, "/api/speed-limit", nil, &resp); err != nil {
			return err
		}
		fmt.Printf("speed limit: %g\n", resp.Value)
		return nil
	}

	value, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return fmt.Errorf("invalid speed limit %q: %w", args[0], err)
	}
	if err := config.ValidateSpeedLimit(value); err != nil {
		return err
	}

	var resp gateway.SpeedLimitResponse
	if err := client.do(ctx, http.MethodPost, "/api/speed-limit", gateway.SpeedLimitRequest{Value: &value}, &resp); err != nil {
		return err
	}
	if !resp.Changed {
		fmt.Printf("speed limit already %g\n", resp.Value)
		return nil
	}
	fmt.Printf("speed limit set to %g (sent to %d robots)\n", resp.Value, resp.Delivered)
	return nil
}

func runLatch(ctx context.Context, path, changedMsg, unchangedMsg string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}

	var resp gateway.EmergencyStopResponse
	if err := client.do(ctx, http.MethodPost, path, nil, &resp); err != nil {
		return err
	}
	if resp.Changed {
		fmt.Println(changedMsg)
	} else {
		fmt.Println(unchangedMsg)
	}
	return nil
}
