package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var envKeyReplacer = strings.NewReplacer(".", "_")

// ServerConfig points the client at the banking backend.
type ServerConfig struct {
	// BaseURL is the REST API root, including the /api prefix.
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`

	// PushURL is the STOMP-over-WebSocket endpoint.
	PushURL string `mapstructure:"push_url" yaml:"push_url"`

	// DashboardURL is the web dashboard root used for reference links.
	DashboardURL string `mapstructure:"dashboard_url" yaml:"dashboard_url"`

	// UserID is used when the API token does not name an account.
	UserID int64 `mapstructure:"user_id" yaml:"user_id"`
}

// PushConfig tunes the live notification connection.
type PushConfig struct {
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay" yaml:"reconnect_delay"`
	HeartbeatIncoming time.Duration `mapstructure:"heartbeat_incoming" yaml:"heartbeat_incoming"`
	HeartbeatOutgoing time.Duration `mapstructure:"heartbeat_outgoing" yaml:"heartbeat_outgoing"`
	CloseTimeout      time.Duration `mapstructure:"close_timeout" yaml:"close_timeout"`

	// ResyncInterval reloads the unread snapshot periodically. Zero
	// disables it; snapshots are still taken on every (re)connect.
	ResyncInterval time.Duration `mapstructure:"resync_interval" yaml:"resync_interval"`
}

// StorageConfig holds the local archive location.
type StorageConfig struct {
	DBPath string `mapstructure:"db_path" yaml:"db_path"`
}

// LogConfig controls the log file.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	File  string `mapstructure:"file" yaml:"file"`
}

// DebugConfig holds developer-facing settings.
type DebugConfig struct {
	// MetricsAddr, when set, exposes Prometheus metrics on this address.
	MetricsAddr string `mapstructure:"metrics_addr" yaml:"metrics_addr"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Push    PushConfig    `mapstructure:"push" yaml:"push"`
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
	Debug   DebugConfig   `mapstructure:"debug" yaml:"debug"`
}

// configDir returns ~/.config/banknotify, or the working directory when the
// home directory is unknown.
func configDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "banknotify")
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/banknotify/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(configDir(), "config.yaml")
}

// DefaultAppConfig returns the configuration used when no file exists.
func DefaultAppConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			BaseURL:      "http://localhost:8080/api",
			PushURL:      "ws://localhost:8080/ws/websocket",
			DashboardURL: "http://localhost:3000",
		},
		Push: PushConfig{
			ReconnectDelay:    5 * time.Second,
			HeartbeatIncoming: 4 * time.Second,
			HeartbeatOutgoing: 4 * time.Second,
			CloseTimeout:      2 * time.Second,
			ResyncInterval:    time.Minute,
		},
		Storage: StorageConfig{
			DBPath: filepath.Join(configDir(), "notifications.db"),
		},
		Log: LogConfig{
			Level: "info",
			File:  filepath.Join(configDir(), "banknotify.log"),
		},
	}
}

func setDefaults(v *viper.Viper, cfg *AppConfig) {
	v.SetDefault("server.base_url", cfg.Server.BaseURL)
	v.SetDefault("server.push_url", cfg.Server.PushURL)
	v.SetDefault("server.dashboard_url", cfg.Server.DashboardURL)
	v.SetDefault("server.user_id", cfg.Server.UserID)
	v.SetDefault("push.reconnect_delay", cfg.Push.ReconnectDelay)
	v.SetDefault("push.heartbeat_incoming", cfg.Push.HeartbeatIncoming)
	v.SetDefault("push.heartbeat_outgoing", cfg.Push.HeartbeatOutgoing)
	v.SetDefault("push.close_timeout", cfg.Push.CloseTimeout)
	v.SetDefault("push.resync_interval", cfg.Push.ResyncInterval)
	v.SetDefault("storage.db_path", cfg.Storage.DBPath)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.file", cfg.Log.File)
	v.SetDefault("debug.metrics_addr", cfg.Debug.MetricsAddr)
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, it returns a default configuration.
// BANKNOTIFY_* environment variables override file values
// (e.g. BANKNOTIFY_SERVER_BASE_URL).
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("banknotify")
	v.SetEnvKeyReplacer(envKeyReplacer)
	v.AutomaticEnv()

	setDefaults(v, DefaultAppConfig())

	if err := v.ReadInConfig(); err != nil {
		var pathErr *os.PathError
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &pathErr) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate rejects settings the push connection cannot work with.
func (c *AppConfig) Validate() error {
	if c.Server.BaseURL == "" {
		return errors.New("server.base_url is required")
	}
	if c.Server.PushURL == "" {
		return errors.New("server.push_url is required")
	}
	if c.Push.ReconnectDelay <= 0 {
		return errors.New("push.reconnect_delay must be positive")
	}
	if c.Push.HeartbeatIncoming < 0 || c.Push.HeartbeatOutgoing < 0 {
		return errors.New("push heartbeats must not be negative")
	}
	if c.Push.ResyncInterval < 0 {
		return errors.New("push.resync_interval must not be negative")
	}
	return nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("server.base_url", cfg.Server.BaseURL)
	v.Set("server.push_url", cfg.Server.PushURL)
	v.Set("server.dashboard_url", cfg.Server.DashboardURL)
	v.Set("server.user_id", cfg.Server.UserID)
	v.Set("push.reconnect_delay", cfg.Push.ReconnectDelay.String())
	v.Set("push.heartbeat_incoming", cfg.Push.HeartbeatIncoming.String())
	v.Set("push.heartbeat_outgoing", cfg.Push.HeartbeatOutgoing.String())
	v.Set("push.close_timeout", cfg.Push.CloseTimeout.String())
	v.Set("push.resync_interval", cfg.Push.ResyncInterval.String())
	v.Set("storage.db_path", cfg.Storage.DBPath)
	v.Set("log.level", cfg.Log.Level)
	v.Set("log.file", cfg.Log.File)
	v.Set("debug.metrics_addr", cfg.Debug.MetricsAddr)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
