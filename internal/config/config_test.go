// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, defaults, env var expansion, duration parsing, and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeFile(t, "gateway.yaml", `
server:
  tcp_addr: "0.0.0.0:6000"
  http_addr: "0.0.0.0:9090"

workspace:
  width: 800
  height: 600

safety:
  margin: 20
  collision_distance: 40
  caution_distance: 60
  evaluation_interval: "50ms"
  warning_window: "5s"

agents:
  identify_timeout: "1s"
  read_timeout: "3s"
  write_timeout: "500ms"
  queue_size: 128

fleet:
  speed_limit: 2.5
  event_history: 10

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.TCPAddr != "0.0.0.0:6000" {
		t.Errorf("TCPAddr = %q", cfg.Server.TCPAddr)
	}
	if cfg.Server.HTTPAddr != "0.0.0.0:9090" {
		t.Errorf("HTTPAddr = %q", cfg.Server.HTTPAddr)
	}
	if cfg.Workspace.Width != 800 || cfg.Workspace.Height != 600 {
		t.Errorf("Workspace = %+v", cfg.Workspace)
	}
	if cfg.Safety.Margin != 20 || cfg.Safety.CollisionDistance != 40 || cfg.Safety.CautionDistance != 60 {
		t.Errorf("Safety thresholds = %+v", cfg.Safety)
	}
	if cfg.Safety.EvaluationInterval != 50*time.Millisecond {
		t.Errorf("EvaluationInterval = %v", cfg.Safety.EvaluationInterval)
	}
	if cfg.Safety.WarningWindow != 5*time.Second {
		t.Errorf("WarningWindow = %v", cfg.Safety.WarningWindow)
	}
	if cfg.Agents.IdentifyTimeout != time.Second {
		t.Errorf("IdentifyTimeout = %v", cfg.Agents.IdentifyTimeout)
	}
	if cfg.Agents.ReadTimeout != 3*time.Second {
		t.Errorf("ReadTimeout = %v", cfg.Agents.ReadTimeout)
	}
	if cfg.Agents.WriteTimeout != 500*time.Millisecond {
		t.Errorf("WriteTimeout = %v", cfg.Agents.WriteTimeout)
	}
	if cfg.Agents.QueueSize != 128 {
		t.Errorf("QueueSize = %d", cfg.Agents.QueueSize)
	}
	if cfg.Fleet.SpeedLimit != 2.5 || cfg.Fleet.EventHistory != 10 {
		t.Errorf("Fleet = %+v", cfg.Fleet)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
}

func TestLoad_EmptyFileUsesDefaults(t *testing.T) {
	cfg, err := Load(writeFile(t, "gateway.yaml", ""))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	want := Default()
	if cfg.Server != want.Server {
		t.Errorf("Server = %+v, want %+v", cfg.Server, want.Server)
	}
	if cfg.Safety.EvaluationInterval != 30*time.Millisecond {
		t.Errorf("EvaluationInterval = %v", cfg.Safety.EvaluationInterval)
	}
	if cfg.Agents.ReadTimeout != 10*time.Second {
		t.Errorf("ReadTimeout = %v", cfg.Agents.ReadTimeout)
	}
	if cfg.Fleet.SpeedLimit != 100 {
		t.Errorf("SpeedLimit = %v", cfg.Fleet.SpeedLimit)
	}
}

func TestLoad_PartialFileKeepsOtherDefaults(t *testing.T) {
	cfg, err := Load(writeFile(t, "gateway.yaml", "fleet:\n  speed_limit: 7\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Fleet.SpeedLimit != 7 {
		t.Errorf("SpeedLimit = %v", cfg.Fleet.SpeedLimit)
	}
	if cfg.Server.TCPAddr != "127.0.0.1:5050" {
		t.Errorf("TCPAddr = %q, want default", cfg.Server.TCPAddr)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("COBOT_TEST_TCP_ADDR", "10.0.0.1:5151")
	t.Setenv("COBOT_TEST_LIMIT", "3")

	cfg, err := Load(writeFile(t, "gateway.yaml", `
server:
  tcp_addr: "${COBOT_TEST_TCP_ADDR}"
fleet:
  speed_limit: ${COBOT_TEST_LIMIT}
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.TCPAddr != "10.0.0.1:5151" {
		t.Errorf("TCPAddr = %q", cfg.Server.TCPAddr)
	}
	if cfg.Fleet.SpeedLimit != 3 {
		t.Errorf("SpeedLimit = %v", cfg.Fleet.SpeedLimit)
	}
}

func TestExpandEnvVars_UnsetBecomesEmpty(t *testing.T) {
	got := expandEnvVars("addr: ${COBOT_TEST_DEFINITELY_UNSET}")
	if got != "addr: " {
		t.Errorf("expandEnvVars = %q", got)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !strings.Contains(err.Error(), "reading config file") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeFile(t, "gateway.yaml", "server: [unclosed"))
	if err == nil || !strings.Contains(err.Error(), "parsing config file") {
		t.Errorf("expected parse error, got %v", err)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	_, err := Load(writeFile(t, "gateway.yaml", "agents:\n  read_timeout: \"soon\"\n"))
	if err == nil || !strings.Contains(err.Error(), "agents.read_timeout") {
		t.Errorf("expected duration error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"http disabled", func(c *Config) { c.Server.HTTPAddr = "" }, ""},
		{"missing tcp addr", func(c *Config) { c.Server.TCPAddr = "" }, "server.tcp_addr"},
		{"zero workspace", func(c *Config) { c.Workspace.Width = 0 }, "workspace"},
		{"margin too big", func(c *Config) { c.Safety.Margin = 250 }, "safety.margin"},
		{"negative margin", func(c *Config) { c.Safety.Margin = -1 }, "safety.margin"},
		{"zero collision", func(c *Config) { c.Safety.CollisionDistance = 0 }, "collision_distance"},
		{"caution below collision", func(c *Config) { c.Safety.CautionDistance = 10 }, "caution_distance"},
		{"zero interval", func(c *Config) { c.Safety.EvaluationInterval = 0 }, "evaluation_interval"},
		{"zero timeout", func(c *Config) { c.Agents.ReadTimeout = 0 }, "timeouts"},
		{"zero queue", func(c *Config) { c.Agents.QueueSize = 0 }, "queue_size"},
		{"negative speed limit", func(c *Config) { c.Fleet.SpeedLimit = -1 }, "speed_limit"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
