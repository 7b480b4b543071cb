// Package config loads the agent configuration file.
//
// The file is optional. Default returns a complete configuration and a file,
// when given, is decoded over it so only the keys it names change.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/eliteGoblin/focusd/kiosk/internal/connection"
	"github.com/eliteGoblin/focusd/kiosk/internal/policy"
)

// Config is the agent configuration.
type Config struct {
	// Profile selects the controller protocol variant: "plain" or "login".
	Profile string `yaml:"profile"`

	// ServerIP is the controller address. Empty means use the stored
	// setting, prompting once if there is none.
	ServerIP string `yaml:"server_ip"`

	Connection  ConnectionConfig  `yaml:"connection"`
	Enforcement EnforcementConfig `yaml:"enforcement"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Storage     StorageConfig     `yaml:"storage"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

// ConnectionConfig overrides the profile's connection settings. Zero
// values keep the profile's value.
type ConnectionConfig struct {
	Port              int           `yaml:"port"`
	ReconnectAttempts int           `yaml:"reconnect_attempts"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
	DialTimeout       time.Duration `yaml:"dial_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// EnforcementConfig configures the enforcement loop.
type EnforcementConfig struct {
	Interval        time.Duration `yaml:"interval"`
	IncludeDefaults bool          `yaml:"include_defaults"`
	Blocked         []string      `yaml:"blocked"`
	Lockdown        bool          `yaml:"lockdown"`
}

// CredentialsConfig holds the login profile's user.
type CredentialsConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// StorageConfig configures where local state lives.
type StorageConfig struct {
	// DataDir overrides the execution mode's data directory.
	DataDir string `yaml:"data_dir"`

	// Secure keeps settings in an encrypted database instead of JSON.
	Secure bool `yaml:"secure"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Profile: "plain",
		Enforcement: EnforcementConfig{
			Interval:        policy.DefaultEnforcementInterval,
			IncludeDefaults: true,
			Lockdown:        true,
		},
		LogLevel: "info",
	}
}

// LoadFile loads configuration from path over the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// LoginCredentials returns the login credentials.
func (c *Config) LoginCredentials() policy.Credentials {
	return policy.Credentials{
		Username: c.Credentials.Username,
		Password: c.Credentials.Password,
	}
}

// Apply overlays the non-zero overrides on a profile's settings.
func (cc ConnectionConfig) Apply(cfg connection.Config) connection.Config {
	if cc.Port != 0 {
		cfg.Port = cc.Port
	}
	if cc.ReconnectAttempts != 0 {
		cfg.ReconnectAttempts = cc.ReconnectAttempts
	}
	if cc.ReconnectDelay != 0 {
		cfg.ReconnectDelay = cc.ReconnectDelay
	}
	if cc.DialTimeout != 0 {
		cfg.DialTimeout = cc.DialTimeout
	}
	if cc.HeartbeatInterval != 0 {
		cfg.HeartbeatInterval = cc.HeartbeatInterval
	}
	return cfg
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	profiles := []string{"plain", "login"}
	if !contains(profiles, c.Profile) {
		errs = append(errs, fmt.Errorf("profile must be one of: %v", profiles))
	}

	if c.ServerIP != "" && net.ParseIP(c.ServerIP) == nil {
		errs = append(errs, fmt.Errorf("server_ip %q is not an IP address", c.ServerIP))
	}

	if c.Connection.Port < 0 || c.Connection.Port > 65535 {
		errs = append(errs, fmt.Errorf("connection.port out of range: %d", c.Connection.Port))
	}
	if c.Connection.ReconnectAttempts < 0 {
		errs = append(errs, fmt.Errorf("connection.reconnect_attempts must not be negative"))
	}
	if c.Connection.ReconnectDelay < 0 || c.Connection.DialTimeout < 0 || c.Connection.HeartbeatInterval < 0 {
		errs = append(errs, fmt.Errorf("connection durations must not be negative"))
	}

	if c.Enforcement.Interval <= 0 {
		errs = append(errs, fmt.Errorf("enforcement.interval must be positive"))
	}

	if c.Profile == "login" && c.Credentials.Username == "" {
		errs = append(errs, fmt.Errorf("credentials.username is required for the login profile"))
	}

	levels := []string{"debug", "info", "warn", "error"}
	if !contains(levels, c.LogLevel) {
		errs = append(errs, fmt.Errorf("log_level must be one of: %v", levels))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}
