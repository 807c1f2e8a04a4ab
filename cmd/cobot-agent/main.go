// ABOUTME: Headless simulated robot that connects to a cobot-gateway
// ABOUTME: Usage: cobot-agent [-addr 127.0.0.1:5050] [-id Cobot-101] [-x 150 -y 150] [-speed 50] [-wander]

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/cobot-gateway/internal/config"
	"github.com/2389/cobot-gateway/internal/logging"
	"github.com/2389/cobot-gateway/internal/protocol"
	"github.com/2389/cobot-gateway/internal/robot"
)

const banner = `
    ╭──────────────────────────────╮
    │   ┏━╸┏━┓┏┓ ┏━┓╺┳╸            │
    │   ┃  ┃ ┃┣┻┓┃ ┃ ┃   agent     │
    │   ┗━╸┗━┛┗━┛┗━┛ ╹             │
    ╰──────────────────────────────╯
`

// statusInterval is how often the robot's event log is echoed.
const statusInterval = time.Second

// getConfigPath returns the path to the robot config file.
// Priority: COBOT_AGENT_CONFIG env var > XDG_CONFIG_HOME/cobot/agent.toml > ~/.config/cobot/agent.toml
func getConfigPath() string {
	if envPath := os.Getenv("COBOT_AGENT_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "agent.toml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "cobot", "agent.toml")
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := getConfigPath()
	cfg, err := config.LoadRobot(configPath)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = config.DefaultRobot()
	} else if err != nil {
		return fmt.Errorf("loading config from %s: %w", configPath, err)
	}

	addr := flag.String("addr", cfg.Gateway.Addr, "gateway robot address")
	id := flag.String("id", cfg.Robot.ID, "robot id (random Cobot-NNN if empty)")
	x := flag.Float64("x", cfg.Robot.X, "starting x")
	y := flag.Float64("y", cfg.Robot.Y, "starting y")
	angle := flag.Float64("angle", cfg.Robot.Angle, "starting heading in radians")
	speed := flag.Float64("speed", cfg.Robot.DesiredSpeed, "desired speed")
	wander := flag.Bool("wander", cfg.Robot.Wander, "perturb heading every tick")
	flag.Parse()

	cfg.Gateway.Addr = *addr
	cfg.Robot.ID = *id
	cfg.Robot.X, cfg.Robot.Y, cfg.Robot.Angle = *x, *y, *angle
	cfg.Robot.DesiredSpeed = *speed
	cfg.Robot.Wander = *wander
	if cfg.Robot.ID == "" {
		cfg.Robot.ID = fmt.Sprintf("Cobot-%03d", rand.IntN(1000))
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Robot:   %s\n", cfg.Robot.ID)
	green.Print("    ▶ ")
	fmt.Printf("Gateway: %s\n", cfg.Gateway.Addr)
	green.Print("    ▶ ")
	fmt.Printf("Start:   (%g, %g) heading %.2f speed %g\n", cfg.Robot.X, cfg.Robot.Y, cfg.Robot.Angle, cfg.Robot.DesiredSpeed)
	fmt.Println()

	logger := logging.New(cfg.Logging, os.Stdout).With("robot_id", cfg.Robot.ID)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	machine := robot.NewMachine(protocol.RobotState{
		ID:    cfg.Robot.ID,
		X:     cfg.Robot.X,
		Y:     cfg.Robot.Y,
		Angle: protocol.WrapAngle(cfg.Robot.Angle),
		Color: protocol.Color(cfg.Robot.Color),
	}, robot.MachineConfig{
		Width:        cfg.Physics.Width,
		Height:       cfg.Physics.Height,
		DesiredSpeed: cfg.Robot.DesiredSpeed,
	})
	machine.SetWander(cfg.Robot.Wander)

	link, err := robot.Dial(ctx, cfg.Gateway.Addr, robot.LinkOptions{
		DialTimeout: cfg.Gateway.DialTimeout,
		ReadTimeout: cfg.Gateway.ReadTimeout,
		OnStateChange: func(from, to robot.LinkState) {
			logger.Info("link state changed", "from", from.String(), "to", to.String())
		},
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("connecting to gateway: %w", err)
	}

	runner := robot.NewRunner(machine, link, robot.RunnerOptions{
		TickInterval:      cfg.Physics.TickInterval,
		TelemetryInterval: cfg.Physics.TelemetryInterval,
		Logger:            logger,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- runner.Run(ctx) }()

	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	var printed uint64
	for {
		select {
		case err := <-errCh:
			echoLog(logger, runner.Snapshot(), &printed)
			if err != nil {
				// Reconnection is deliberate: rerun the agent to rejoin.
				return fmt.Errorf("gateway connection lost: %w", err)
			}
			logger.Info("robot stopped")
			return nil
		case <-ticker.C:
			status := runner.Snapshot()
			echoLog(logger, status, &printed)
			logger.Debug("status",
				"mode", status.Mode,
				"x", fmt.Sprintf("%.1f", status.State.X),
				"y", fmt.Sprintf("%.1f", status.State.Y),
				"speed", status.State.Speed,
				"speed_limit", status.SpeedLimit,
			)
		}
	}
}

// echoLog logs the machine's log lines that have not been printed yet.
// The machine keeps a bounded ring, so lines may be dropped between calls.
func echoLog(logger *slog.Logger, status robot.Status, printed *uint64) {
	fresh := status.LogCount - *printed
	lines := status.Log
	if fresh < uint64(len(lines)) {
		lines = lines[len(lines)-int(fresh):]
	}
	for _, line := range lines {
		logger.Info(line)
	}
	*printed = status.LogCount
}
