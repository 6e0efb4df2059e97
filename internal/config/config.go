// ABOUTME: Configuration loading and parsing for mission-control
// ABOUTME: YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable that overrides the config location.
const EnvConfigPath = "MISSION_CONTROL_CONFIG"

// Config represents the complete mission-control configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	OpenClaw  OpenClawConfig  `yaml:"openclaw" toml:"openclaw"`
	Lifecycle LifecycleConfig `yaml:"lifecycle" toml:"lifecycle"`
	Messaging MessagingConfig `yaml:"messaging" toml:"messaging"`
	Tracing   TracingConfig   `yaml:"tracing" toml:"tracing"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// ServerConfig holds the HTTP listener and the URL agents use to reach us
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	// BaseURL is rendered into agent TOOLS.md files.
	BaseURL string `yaml:"base_url" toml:"base_url"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"`
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // public Funnel, implies HTTPS
	// Port defaults to 443 with https or funnel, 80 otherwise.
	Port int `yaml:"port" toml:"port"`
}

// EnvTailscaleAuthKey is read when tailscale.auth_key is empty.
const EnvTailscaleAuthKey = "TS_AUTHKEY"

// FunnelPorts are the only ports Tailscale Funnel will expose publicly.
var FunnelPorts = []int{443, 8443, 10000}

// DatabaseConfig selects SQLite by path or Postgres by DSN
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
	DSN  string `yaml:"dsn" toml:"dsn"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
}

// OpenClawConfig tunes the gateway RPC client
type OpenClawConfig struct {
	ClientID    string        `yaml:"client_id" toml:"client_id"`
	DialTimeout time.Duration `yaml:"-" toml:"-"`
	CallTimeout time.Duration `yaml:"-" toml:"-"`

	DialTimeoutRaw string `yaml:"dial_timeout" toml:"dial_timeout"`
	CallTimeoutRaw string `yaml:"call_timeout" toml:"call_timeout"`
}

// LifecycleConfig controls the self-healing sweep and provisioning locks
type LifecycleConfig struct {
	// SweepInterval of zero disables the periodic sweep.
	SweepInterval        time.Duration `yaml:"-" toml:"-"`
	ProvisionLockTimeout time.Duration `yaml:"-" toml:"-"`

	SweepIntervalRaw        string `yaml:"sweep_interval" toml:"sweep_interval"`
	ProvisionLockTimeoutRaw string `yaml:"provision_lock_timeout" toml:"provision_lock_timeout"`
}

// MessagingConfig controls the opt-in dispatch replay guard
type MessagingConfig struct {
	// ReplayGuard drops an identical message resent under the same correlation id.
	ReplayGuard bool          `yaml:"replay_guard" toml:"replay_guard"`
	ReplaySize  int           `yaml:"replay_size" toml:"replay_size"`
	ReplayTTL   time.Duration `yaml:"-" toml:"-"`

	ReplayTTLRaw string `yaml:"replay_ttl" toml:"replay_ttl"`
}

// TracingConfig holds the OTLP exporter settings
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled" toml:"enabled"`
	Endpoint    string `yaml:"endpoint" toml:"endpoint"`
	Insecure    bool   `yaml:"insecure" toml:"insecure"`
	ServiceName string `yaml:"service_name" toml:"service_name"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Defaults applied when a field is left empty.
const (
	DefaultDialTimeout          = 10 * time.Second
	DefaultCallTimeout          = 30 * time.Second
	DefaultProvisionLockTimeout = 30 * time.Second
	DefaultReplayTTL            = 10 * time.Minute
	DefaultReplaySize           = 4096
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML. Environment
// variables in the format ${VAR_NAME} are expanded before decoding.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// DefaultPath returns the config location.
// Priority: MISSION_CONTROL_CONFIG > XDG_CONFIG_HOME/mission-control/config.yaml > ~/.config/mission-control/config.yaml
func DefaultPath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml"
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "mission-control", "config.yaml")
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// Unset variables expand to an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func (c *Config) applyDefaults() {
	if c.OpenClaw.ClientID == "" {
		c.OpenClaw.ClientID = "mission-control"
	}
	if c.OpenClaw.DialTimeout == 0 {
		c.OpenClaw.DialTimeout = DefaultDialTimeout
	}
	if c.OpenClaw.CallTimeout == 0 {
		c.OpenClaw.CallTimeout = DefaultCallTimeout
	}
	if c.Lifecycle.ProvisionLockTimeout == 0 {
		c.Lifecycle.ProvisionLockTimeout = DefaultProvisionLockTimeout
	}
	if c.Messaging.ReplayTTL == 0 {
		c.Messaging.ReplayTTL = DefaultReplayTTL
	}
	if c.Messaging.ReplaySize == 0 {
		c.Messaging.ReplaySize = DefaultReplaySize
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "mission-control"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}
	if c.Tailscale.Port < 0 || c.Tailscale.Port > 65535 {
		return fmt.Errorf("tailscale.port must be between 1 and 65535, got %d", c.Tailscale.Port)
	}
	if c.Tailscale.Funnel && c.Tailscale.Port != 0 && !slices.Contains(FunnelPorts, c.Tailscale.Port) {
		return fmt.Errorf("tailscale.port %d cannot be used with funnel (allowed: %v)", c.Tailscale.Port, FunnelPorts)
	}

	switch {
	case c.Database.Path == "" && c.Database.DSN == "":
		return fmt.Errorf("database.path or database.dsn is required")
	case c.Database.Path != "" && c.Database.DSN != "":
		return fmt.Errorf("database.path and database.dsn are mutually exclusive")
	case c.Database.DSN != "" && !isPostgresDSN(c.Database.DSN):
		return fmt.Errorf("database.dsn must be a postgres:// or postgresql:// URL")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}

	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return fmt.Errorf("tracing.endpoint is required when tracing is enabled")
	}

	if c.Lifecycle.SweepInterval < 0 {
		return fmt.Errorf("lifecycle.sweep_interval must not be negative")
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// DatabaseTarget is the DSN or SQLite path handed to store.Open.
func (c *Config) DatabaseTarget() string {
	if c.Database.DSN != "" {
		return c.Database.DSN
	}
	return c.Database.Path
}

func isPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"openclaw.dial_timeout", cfg.OpenClaw.DialTimeoutRaw, &cfg.OpenClaw.DialTimeout},
		{"openclaw.call_timeout", cfg.OpenClaw.CallTimeoutRaw, &cfg.OpenClaw.CallTimeout},
		{"lifecycle.sweep_interval", cfg.Lifecycle.SweepIntervalRaw, &cfg.Lifecycle.SweepInterval},
		{"lifecycle.provision_lock_timeout", cfg.Lifecycle.ProvisionLockTimeoutRaw, &cfg.Lifecycle.ProvisionLockTimeout},
		{"messaging.replay_ttl", cfg.Messaging.ReplayTTLRaw, &cfg.Messaging.ReplayTTL},
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
