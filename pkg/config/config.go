package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultConfigPath = "config/config.yaml"

// Config global configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logger    LoggerConfig    `yaml:"logger"`
	Queue     QueueConfig     `yaml:"queue"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Redis     RedisConfig     `yaml:"redis"`
	MySQL     MySQLConfig     `yaml:"mysql"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	Mode            string        `yaml:"mode"` // debug, release, test
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LoggerConfig logger configuration
type LoggerConfig struct {
	Level  string           `yaml:"level"`  // debug, info, warn, error
	Output string           `yaml:"output"` // console, file, both
	File   LoggerFileConfig `yaml:"file"`
}

// LoggerFileConfig logger file configuration
type LoggerFileConfig struct {
	Path string `yaml:"path"`
}

// QueueConfig scheduling loop configuration
type QueueConfig struct {
	PollInterval       time.Duration `yaml:"poll_interval"`        // idle wait of the scheduling loop
	PauseCheckInterval time.Duration `yaml:"pause_check_interval"` // re-check period of a paused evaluation loop
	ForwardBuffer      int           `yaml:"forward_buffer"`       // capacity of the event forwarding channel
	AutoStart          bool          `yaml:"auto_start"`           // start processing when the server boots
}

// WebSocketConfig connection registry configuration
type WebSocketConfig struct {
	EventBufferSize      int           `yaml:"event_buffer_size"`
	PingInterval         time.Duration `yaml:"ping_interval"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
}

// RedisConfig Redis configuration, used for event history and task snapshots
type RedisConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Addr         string `yaml:"addr"`
	Password     string `yaml:"password"`
	DB           int    `yaml:"db"`
	EventHistory int64  `yaml:"event_history"` // events kept per task
}

// MySQLConfig MySQL configuration, used for finished task history
type MySQLConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// MetricsConfig Prometheus exposition configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// DSN returns the go-sql-driver connection string
func (c MySQLConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// Default returns a configuration populated with default values
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8000,
			Mode:            "release",
			ShutdownTimeout: 30 * time.Second,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Output: "console",
			File:   LoggerFileConfig{Path: "logs/optqueue.log"},
		},
		Queue: QueueConfig{
			PollInterval:       100 * time.Millisecond,
			PauseCheckInterval: 100 * time.Millisecond,
			ForwardBuffer:      1024,
			AutoStart:          true,
		},
		WebSocket: WebSocketConfig{
			EventBufferSize:      100,
			PingInterval:         30 * time.Second,
			WriteTimeout:         10 * time.Second,
			ReconnectBaseDelay:   time.Second,
			MaxReconnectAttempts: 5,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			EventHistory: 1000,
		},
		MySQL: MySQLConfig{
			Host:     "localhost",
			Port:     3306,
			Database: "optqueue",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Load reads configuration from path. An empty path falls back to CONFIG_PATH
// and then to config/config.yaml; a missing file yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = defaultConfigPath
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := Parse(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML over cfg and normalizes invalid values
func Parse(data []byte, cfg *Config) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	validateAndApplyDefaults(cfg)
	return nil
}

// validateAndApplyDefaults replaces out-of-range values with defaults so the
// service stays operational on a partially broken config file.
func validateAndApplyDefaults(cfg *Config) {
	d := Default()

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		cfg.Server.Port = d.Server.Port
	}
	switch cfg.Server.Mode {
	case "debug", "release", "test":
	default:
		cfg.Server.Mode = d.Server.Mode
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = d.Server.ShutdownTimeout
	}

	if cfg.Logger.Level == "" {
		cfg.Logger.Level = d.Logger.Level
	}
	if cfg.Logger.Output == "" {
		cfg.Logger.Output = d.Logger.Output
	}
	if cfg.Logger.File.Path == "" {
		cfg.Logger.File.Path = d.Logger.File.Path
	}

	if cfg.Queue.PollInterval <= 0 {
		cfg.Queue.PollInterval = d.Queue.PollInterval
	}
	if cfg.Queue.PauseCheckInterval <= 0 {
		cfg.Queue.PauseCheckInterval = d.Queue.PauseCheckInterval
	}
	if cfg.Queue.ForwardBuffer <= 0 {
		cfg.Queue.ForwardBuffer = d.Queue.ForwardBuffer
	}

	if cfg.WebSocket.EventBufferSize <= 0 {
		cfg.WebSocket.EventBufferSize = d.WebSocket.EventBufferSize
	}
	if cfg.WebSocket.PingInterval <= 0 {
		cfg.WebSocket.PingInterval = d.WebSocket.PingInterval
	}
	if cfg.WebSocket.WriteTimeout <= 0 {
		cfg.WebSocket.WriteTimeout = d.WebSocket.WriteTimeout
	}
	if cfg.WebSocket.ReconnectBaseDelay <= 0 {
		cfg.WebSocket.ReconnectBaseDelay = d.WebSocket.ReconnectBaseDelay
	}
	if cfg.WebSocket.MaxReconnectAttempts <= 0 {
		cfg.WebSocket.MaxReconnectAttempts = d.WebSocket.MaxReconnectAttempts
	}

	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = d.Redis.Addr
	}
	if cfg.Redis.EventHistory <= 0 {
		cfg.Redis.EventHistory = d.Redis.EventHistory
	}

	if cfg.MySQL.Port <= 0 {
		cfg.MySQL.Port = d.MySQL.Port
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = d.Metrics.Path
	}
}
