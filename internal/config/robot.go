// ABOUTME: Configuration loading for the cobot-agent robot simulator
// ABOUTME: Loads TOML config with environment variable expansion

package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// RobotConfig configures one simulated robot.
type RobotConfig struct {
	Robot   RobotSection   `toml:"robot"`
	Gateway GatewaySection `toml:"gateway"`
	Physics PhysicsSection `toml:"physics"`
	Logging LoggingConfig  `toml:"logging"`
}

// RobotSection describes the robot's identity and starting pose.
type RobotSection struct {
	ID           string   `toml:"id"`
	X            float64  `toml:"x"`
	Y            float64  `toml:"y"`
	Angle        float64  `toml:"angle"`
	Color        [3]uint8 `toml:"color"`
	DesiredSpeed float64  `toml:"desired_speed"`
	Wander       bool     `toml:"wander"`
}

// GatewaySection says where the gateway listens.
type GatewaySection struct {
	Addr        string        `toml:"addr"`
	DialTimeout time.Duration `toml:"-"`
	ReadTimeout time.Duration `toml:"-"`

	DialTimeoutRaw string `toml:"dial_timeout"`
	ReadTimeoutRaw string `toml:"read_timeout"`
}

// PhysicsSection holds simulation timing.
type PhysicsSection struct {
	Width             float64       `toml:"width"`
	Height            float64       `toml:"height"`
	TickInterval      time.Duration `toml:"-"`
	TelemetryInterval time.Duration `toml:"-"`

	TickIntervalRaw      string `toml:"tick_interval"`
	TelemetryIntervalRaw string `toml:"telemetry_interval"`
}

// DefaultRobot returns the robot configuration used when no file is given.
func DefaultRobot() *RobotConfig {
	return &RobotConfig{
		Robot: RobotSection{
			X:            150,
			Y:            150,
			DesiredSpeed: 50,
		},
		Gateway: GatewaySection{
			Addr:        "127.0.0.1:5050",
			DialTimeout: 5 * time.Second,
		},
		Physics: PhysicsSection{
			Width:             600,
			Height:            400,
			TickInterval:      16 * time.Millisecond,
			TelemetryInterval: 50 * time.Millisecond,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// LoadRobot reads robot config from the given path, expanding environment variables.
func LoadRobot(path string) (*RobotConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	cfg := DefaultRobot()
	if _, err := toml.Decode(expanded, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.parseDurations(); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (c *RobotConfig) parseDurations() error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"gateway.dial_timeout", c.Gateway.DialTimeoutRaw, &c.Gateway.DialTimeout},
		{"gateway.read_timeout", c.Gateway.ReadTimeoutRaw, &c.Gateway.ReadTimeout},
		{"physics.tick_interval", c.Physics.TickIntervalRaw, &c.Physics.TickInterval},
		{"physics.telemetry_interval", c.Physics.TelemetryIntervalRaw, &c.Physics.TelemetryInterval},
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

// Validate checks that required config fields are present and valid.
func (c *RobotConfig) Validate() error {
	if c.Gateway.Addr == "" {
		return fmt.Errorf("gateway.addr is required")
	}
	if c.Physics.Width <= 0 || c.Physics.Height <= 0 {
		return fmt.Errorf("physics dimensions must be positive")
	}
	if c.Robot.X < 0 || c.Robot.X > c.Physics.Width || c.Robot.Y < 0 || c.Robot.Y > c.Physics.Height {
		return fmt.Errorf("robot start (%v, %v) is outside the workspace", c.Robot.X, c.Robot.Y)
	}
	if c.Robot.DesiredSpeed < 0 {
		return fmt.Errorf("robot.desired_speed must not be negative")
	}
	if c.Physics.TickInterval <= 0 || c.Physics.TelemetryInterval <= 0 {
		return fmt.Errorf("physics intervals must be positive")
	}
	return nil
}
