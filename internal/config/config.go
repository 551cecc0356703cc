// Package config loads daemon configuration from file, environment, and
// defaults, in that order of increasing precedence for the environment.
//
// The config file is optional; every knob has a usable default so a bare
// `sayboard daemon` works out of the box. Environment variables use the
// SAYBOARD_ prefix with underscores, e.g. SAYBOARD_SERVER_URL.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the resolved daemon configuration.
type Config struct {
	// ServerURL is the base URL of the phrase backend.
	ServerURL string `mapstructure:"server_url"`
	// DataDir holds the local database, credentials, inbox, and logs.
	DataDir string `mapstructure:"data_dir"`
	// DeviceID identifies this device to the server and to peers.
	DeviceID string `mapstructure:"device_id"`

	// RequestTimeout bounds each remote API call.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	// SyncInterval is the background sync cadence.
	SyncInterval time.Duration `mapstructure:"sync_interval"`
	// DebounceWindow coalesces reachability flapping into one sync trigger.
	DebounceWindow time.Duration `mapstructure:"debounce_window"`
	// ProbeInterval is the reachability probe cadence.
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
	// InstructionPollInterval is how often the server instruction queue is
	// polled while connected.
	InstructionPollInterval time.Duration `mapstructure:"instruction_poll_interval"`

	// RelayAddr is the listen address for the peer relay.
	RelayAddr string `mapstructure:"relay_addr"`
	// PeerURL, when set, is the companion device's relay endpoint to dial.
	PeerURL string `mapstructure:"peer_url"`

	// AnthropicAPIKey enables AI phrase generation; empty falls back to the
	// built-in packs.
	AnthropicAPIKey string `mapstructure:"anthropic_api_key"`
	// SpeechCommand overrides synthesizer auto-detection.
	SpeechCommand string `mapstructure:"speech_command"`
	// LogFile, when set, receives rotated daemon logs in addition to stderr.
	LogFile string `mapstructure:"log_file"`
}

// DefaultDataDir returns ~/.sayboard, falling back to a relative directory
// when the home directory cannot be resolved.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".sayboard"
	}
	return filepath.Join(home, ".sayboard")
}

// Load reads configuration. path may name a config file explicitly; when
// empty, sayboard.yaml is searched in the data dir and the working
// directory.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server_url", "http://localhost:3000")
	v.SetDefault("data_dir", DefaultDataDir())
	v.SetDefault("device_id", defaultDeviceID())
	v.SetDefault("request_timeout", 10*time.Second)
	v.SetDefault("sync_interval", 5*time.Minute)
	v.SetDefault("debounce_window", 2*time.Second)
	v.SetDefault("probe_interval", 10*time.Second)
	v.SetDefault("instruction_poll_interval", time.Minute)
	v.SetDefault("relay_addr", ":9460")
	v.SetDefault("peer_url", "")
	v.SetDefault("anthropic_api_key", "")
	v.SetDefault("speech_command", "")
	v.SetDefault("log_file", "")

	v.SetEnvPrefix("SAYBOARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("sayboard")
		v.SetConfigType("yaml")
		v.AddConfigPath(DefaultDataDir())
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the resolved configuration.
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("server_url is required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive")
	}
	if c.SyncInterval <= 0 {
		return fmt.Errorf("sync_interval must be positive")
	}
	if c.DebounceWindow < 0 {
		return fmt.Errorf("debounce_window must not be negative")
	}
	return nil
}

// DatabasePath returns the sqlite database location under the data dir.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "sayboard.db")
}

// InboxDir returns the instruction inbox location under the data dir.
func (c *Config) InboxDir() string {
	return filepath.Join(c.DataDir, "inbox")
}

func defaultDeviceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "sayboard-device"
	}
	return "sayboard-" + host
}
