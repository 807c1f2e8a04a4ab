// ABOUTME: Configuration loading and parsing for cobot-gateway
// ABOUTME: Supports YAML files with environment variable expansion, defaults, and duration parsing

package config

import (
	"fmt"
	"math"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete cobot-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	Safety    SafetyConfig    `yaml:"safety"`
	Agents    AgentsConfig    `yaml:"agents"`
	Fleet     FleetConfig     `yaml:"fleet"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds listener addresses. An empty HTTPAddr disables the HTTP API.
type ServerConfig struct {
	TCPAddr  string `yaml:"tcp_addr"`
	HTTPAddr string `yaml:"http_addr"`
}

// WorkspaceConfig holds the workspace dimensions
type WorkspaceConfig struct {
	Width  float64 `yaml:"width"`
	Height float64 `yaml:"height"`
}

// SafetyConfig holds safety thresholds and evaluation timing
type SafetyConfig struct {
	Margin             float64       `yaml:"margin"`
	CollisionDistance  float64       `yaml:"collision_distance"`
	CautionDistance    float64       `yaml:"caution_distance"`
	EvaluationInterval time.Duration `yaml:"-"`
	WarningWindow      time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	EvaluationIntervalRaw string `yaml:"evaluation_interval"`
	WarningWindowRaw      string `yaml:"warning_window"`
}

// AgentsConfig holds robot connection timing configuration
type AgentsConfig struct {
	IdentifyTimeout time.Duration `yaml:"-"`
	ReadTimeout     time.Duration `yaml:"-"`
	WriteTimeout    time.Duration `yaml:"-"`
	QueueSize       int           `yaml:"queue_size"`

	// Raw string values for YAML unmarshaling
	IdentifyTimeoutRaw string `yaml:"identify_timeout"`
	ReadTimeoutRaw     string `yaml:"read_timeout"`
	WriteTimeoutRaw    string `yaml:"write_timeout"`
}

// FleetConfig holds fleet-wide operator settings
type FleetConfig struct {
	SpeedLimit   float64 `yaml:"speed_limit"`
	EventHistory int     `yaml:"event_history"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			TCPAddr:  "127.0.0.1:5050",
			HTTPAddr: "127.0.0.1:8080",
		},
		Workspace: WorkspaceConfig{Width: 600, Height: 400},
		Safety: SafetyConfig{
			Margin:             10,
			CollisionDistance:  50,
			CautionDistance:    75,
			EvaluationInterval: 30 * time.Millisecond,
			WarningWindow:      2 * time.Second,
		},
		Agents: AgentsConfig{
			IdentifyTimeout: 5 * time.Second,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    2 * time.Second,
			QueueSize:       64,
		},
		Fleet: FleetConfig{
			SpeedLimit:   100,
			EventHistory: 64,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Fields missing from the file keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration over the defaults and validates it.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.TCPAddr == "" {
		return fmt.Errorf("server.tcp_addr is required")
	}

	if c.Workspace.Width <= 0 || c.Workspace.Height <= 0 {
		return fmt.Errorf("workspace dimensions must be positive, got %vx%v", c.Workspace.Width, c.Workspace.Height)
	}

	s := c.Safety
	if s.Margin < 0 || 2*s.Margin >= math.Min(c.Workspace.Width, c.Workspace.Height) {
		return fmt.Errorf("safety.margin %v does not fit the workspace", s.Margin)
	}
	if s.CollisionDistance <= 0 {
		return fmt.Errorf("safety.collision_distance must be positive")
	}
	if s.CautionDistance < s.CollisionDistance {
		return fmt.Errorf("safety.caution_distance must be at least safety.collision_distance")
	}
	if s.EvaluationInterval <= 0 {
		return fmt.Errorf("safety.evaluation_interval must be positive")
	}

	if c.Agents.IdentifyTimeout <= 0 || c.Agents.ReadTimeout <= 0 || c.Agents.WriteTimeout <= 0 {
		return fmt.Errorf("agents timeouts must be positive")
	}
	if c.Agents.QueueSize <= 0 {
		return fmt.Errorf("agents.queue_size must be positive")
	}

	if err := ValidateSpeedLimit(c.Fleet.SpeedLimit); err != nil {
		return err
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// ValidateSpeedLimit checks a fleet speed limit value.
func ValidateSpeedLimit(v float64) error {
	if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("fleet.speed_limit must be a finite non-negative number, got %v", v)
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"safety.evaluation_interval", cfg.Safety.EvaluationIntervalRaw, &cfg.Safety.EvaluationInterval},
		{"safety.warning_window", cfg.Safety.WarningWindowRaw, &cfg.Safety.WarningWindow},
		{"agents.identify_timeout", cfg.Agents.IdentifyTimeoutRaw, &cfg.Agents.IdentifyTimeout},
		{"agents.read_timeout", cfg.Agents.ReadTimeoutRaw, &cfg.Agents.ReadTimeout},
		{"agents.write_timeout", cfg.Agents.WriteTimeoutRaw, &cfg.Agents.WriteTimeout},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
