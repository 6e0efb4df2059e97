// Package config handles configuration loading for mission-control.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from MISSION_CONTROL_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/mission-control/config.yaml
//  3. ~/.config/mission-control/config.yaml
//
// Files ending in .toml are decoded as TOML; anything else is YAML.
//
// # Environment Variable Expansion
//
//	auth:
//	  jwt_secret: "${MISSION_CONTROL_JWT_SECRET}"
//
// Unset variables expand to an empty string.
//
// # Durations
//
// Duration values use time.ParseDuration syntax:
//
//	openclaw:
//	  dial_timeout: "10s"
//	  call_timeout: "30s"
//	lifecycle:
//	  sweep_interval: "15m"        # 0 or empty disables the periodic sweep
//	  provision_lock_timeout: "30s"
//	messaging:
//	  replay_guard: true           # off by default
//	  replay_ttl: "10m"
//
// # Database
//
// Exactly one of database.path (SQLite file) or database.dsn (postgres:// URL).
package config
