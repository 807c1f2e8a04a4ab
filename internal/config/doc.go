// Package config handles configuration loading for cobot-gateway and cobot-agent.
//
// # Overview
//
// The gateway reads YAML; the robot simulator reads TOML. Both expand
// ${VAR_NAME} environment references before parsing, start from defaults so a
// file only needs the fields it changes, and validate after parsing.
//
// # Gateway Configuration
//
//	server:
//	  tcp_addr: "127.0.0.1:5050"
//	  http_addr: "127.0.0.1:8080"
//	workspace:
//	  width: 600
//	  height: 400
//	safety:
//	  margin: 10
//	  collision_distance: 50
//	  caution_distance: 75
//	  evaluation_interval: "30ms"
//	  warning_window: "2s"
//	agents:
//	  identify_timeout: "5s"
//	  read_timeout: "10s"
//	  write_timeout: "2s"
//	  queue_size: 64
//	fleet:
//	  speed_limit: 100
//	logging:
//	  level: "info"
//	  format: "text"
//
// Duration values use Go's time.ParseDuration syntax.
//
// # Hot Reload
//
// Watch follows the gateway file with fsnotify. The gateway applies
// fleet.speed_limit from a reloaded file; other fields need a restart.
//
// # Robot Configuration
//
//	[robot]
//	id = "Cobot-101"
//	x = 120.0
//	y = 80.0
//	desired_speed = 50.0
//
//	[gateway]
//	addr = "127.0.0.1:5050"
//
//	[physics]
//	tick_interval = "16ms"
//	telemetry_interval = "50ms"
package config
