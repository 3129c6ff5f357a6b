// Package config handles configuration parsing for termbridge.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/kelseyhightower/envconfig"
	"github.com/termbridge/termbridge/internal/ports"
	"gopkg.in/yaml.v3"
)

// envPrefix is the prefix for environment overrides (TERMBRIDGE_*).
const envPrefix = "termbridge"

// DefaultConfigPath resolves where the config file lives:
// $XDG_CONFIG_HOME/termbridge/config.yaml, or ~/.config/termbridge/config.yaml.
func DefaultConfigPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "termbridge", "config.yaml")
}

// Config is the full daemon configuration tree.
type Config struct {
	SSH       SSHConfig       `yaml:"ssh"`
	Transfer  TransferConfig  `yaml:"transfer"`
	Security  SecurityConfig  `yaml:"security"`
	Limits    LimitsConfig    `yaml:"limits"`
	Recording RecordingConfig `yaml:"recording"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SSHConfig defines connection and interactive-channel settings.
type SSHConfig struct {
	ConnectTimeout time.Duration `yaml:"connect_timeout" envconfig:"SSH_CONNECT_TIMEOUT"`
	Term           string        `yaml:"term" envconfig:"SSH_TERM"`
	Cols           int           `yaml:"cols" envconfig:"SSH_COLS"`
	Rows           int           `yaml:"rows" envconfig:"SSH_ROWS"`
	KeepaliveIdle  time.Duration `yaml:"keepalive_idle" envconfig:"SSH_KEEPALIVE_IDLE"`
	PollInterval   time.Duration `yaml:"poll_interval" envconfig:"SSH_POLL_INTERVAL"`
	KnownHostsPath string        `yaml:"known_hosts_path" envconfig:"SSH_KNOWN_HOSTS_PATH"`
	StrictHostKey  bool          `yaml:"strict_host_key" envconfig:"SSH_STRICT_HOST_KEY"`
}

// TransferConfig defines file-transfer settings.
type TransferConfig struct {
	StagingDir        string        `yaml:"staging_dir" envconfig:"TRANSFER_STAGING_DIR"`
	CleanupRetries    int           `yaml:"cleanup_retries" envconfig:"TRANSFER_CLEANUP_RETRIES"`
	CleanupRetryDelay time.Duration `yaml:"cleanup_retry_delay" envconfig:"TRANSFER_CLEANUP_RETRY_DELAY"`
}

// SecurityConfig gates remote paths, auth retries and credential storage.
type SecurityConfig struct {
	PathDenylist        []string      `yaml:"path_denylist" envconfig:"SECURITY_PATH_DENYLIST"`   // Glob patterns for blocked remote paths
	PathAllowlist       []string      `yaml:"path_allowlist" envconfig:"SECURITY_PATH_ALLOWLIST"` // If set, only these patterns allowed
	MaxAuthFailures     int           `yaml:"max_auth_failures" envconfig:"SECURITY_MAX_AUTH_FAILURES"`
	AuthLockoutDuration time.Duration `yaml:"auth_lockout_duration" envconfig:"SECURITY_AUTH_LOCKOUT_DURATION"`
	UseKeyring          bool          `yaml:"use_keyring" envconfig:"SECURITY_USE_KEYRING"` // Use OS keyring for saved credentials
}

// LimitsConfig bounds per-client resource usage.
type LimitsConfig struct {
	MaxSessionsPerClient int `yaml:"max_sessions_per_client" envconfig:"LIMITS_MAX_SESSIONS_PER_CLIENT"`
}

// RecordingConfig switches asciicast capture on and places the files.
type RecordingConfig struct {
	Enabled bool   `yaml:"enabled" envconfig:"RECORDING_ENABLED"`
	Path    string `yaml:"path" envconfig:"RECORDING_PATH"` // directory to store recordings
}

// LoggingConfig shapes the slog output.
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LOG_LEVEL"` // "debug", "info", "warn", "error"
	Sanitize bool   `yaml:"sanitize" envconfig:"LOG_SANITIZE"`
	File     string `yaml:"file" envconfig:"LOG_FILE"` // log destination, stderr if empty
}

// DefaultConfig returns the settings used before any file or env override.
func DefaultConfig() *Config {
	return &Config{
		SSH: SSHConfig{
			ConnectTimeout: 30 * time.Second,
			Term:           "xterm-256color",
			Cols:           132,
			Rows:           43,
			KeepaliveIdle:  60 * time.Second,
			PollInterval:   100 * time.Millisecond,
		},
		Transfer: TransferConfig{
			StagingDir:        filepath.Join(os.TempDir(), "termbridge-staging"),
			CleanupRetries:    3,
			CleanupRetryDelay: 500 * time.Millisecond,
		},
		Security: SecurityConfig{
			MaxAuthFailures:     5,
			AuthLockoutDuration: 5 * time.Minute,
			UseKeyring:          true,
		},
		Limits: LimitsConfig{
			MaxSessionsPerClient: 10,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Sanitize: true,
		},
	}
}

// Load loads configuration from a YAML file, then applies TERMBRIDGE_*
// environment overrides. An optional FileSystem can be passed for testing;
// if omitted, the real OS is used.
func Load(path string, fsys ...ports.FileSystem) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		var data []byte
		var err error
		if len(fsys) > 0 && fsys[0] != nil {
			data, err = fsys[0].ReadFile(path)
		} else {
			data, err = os.ReadFile(path)
		}
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
			// File doesn't exist yet; env overrides still apply below
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := envconfig.Process(envPrefix, cfg); err != nil {
		return nil, fmt.Errorf("apply env overrides: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration, normalizing out-of-range values
// and rejecting settings the engine cannot run with.
func (c *Config) Validate() error {
	if c.SSH.ConnectTimeout <= 0 {
		c.SSH.ConnectTimeout = 30 * time.Second
	}
	if c.SSH.Term == "" {
		c.SSH.Term = "xterm-256color"
	}
	if c.SSH.Cols <= 0 {
		c.SSH.Cols = 132
	}
	if c.SSH.Rows <= 0 {
		c.SSH.Rows = 43
	}
	if c.SSH.KeepaliveIdle <= 0 {
		c.SSH.KeepaliveIdle = 60 * time.Second
	}
	if c.SSH.PollInterval <= 0 {
		c.SSH.PollInterval = 100 * time.Millisecond
	}

	if c.Transfer.StagingDir == "" {
		c.Transfer.StagingDir = filepath.Join(os.TempDir(), "termbridge-staging")
	}
	if c.Transfer.CleanupRetries <= 0 {
		c.Transfer.CleanupRetries = 3
	}
	if c.Transfer.CleanupRetryDelay <= 0 {
		c.Transfer.CleanupRetryDelay = 500 * time.Millisecond
	}

	if c.Limits.MaxSessionsPerClient <= 0 {
		c.Limits.MaxSessionsPerClient = 10
	}

	for _, pattern := range c.Security.PathDenylist {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("invalid path_denylist pattern %q", pattern)
		}
	}
	for _, pattern := range c.Security.PathAllowlist {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("invalid path_allowlist pattern %q", pattern)
		}
	}

	return nil
}
