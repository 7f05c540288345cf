package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/spf13/pflag"

	"chatline/internal/logging"
	dbconfig "chatline/pkg/database"
)

// EnvPrefix namespaces environment overrides, e.g. CHATLINE_SERVER_PORT
const EnvPrefix = "CHATLINE_"

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator
// Clean separation between configuration management and business logic
type Config struct {
	Server    *ServerConfig    `koanf:"server"`
	Database  *DatabaseConfig  `koanf:"database"`
	Chat      *ChatConfig      `koanf:"chat"`
	HTTP      *HTTPConfig      `koanf:"http"`
	WebSocket *WebSocketConfig `koanf:"websocket"`
	Log       *LogConfig       `koanf:"log"`
}

// ServerConfig is the newline-framed TCP listener
type ServerConfig struct {
	Host          string        `koanf:"host"`
	Port          int           `koanf:"port"`
	WriteTimeout  time.Duration `koanf:"write_timeout"`
	MaxFrameBytes int           `koanf:"max_frame_bytes"`
}

// FUNCTIONAL DISCOVERY: Database configuration supports SQLite optimizations
type DatabaseConfig struct {
	Path           string        `koanf:"path"`
	Timeout        time.Duration `koanf:"timeout"`
	MaxConnections int           `koanf:"max_connections"`
	WriteQueueSize int           `koanf:"write_queue_size"`
}

// ChatConfig holds the chat policy knobs
type ChatConfig struct {
	BroadcastLimit     int           `koanf:"broadcast_limit"`
	CounterResetPeriod time.Duration `koanf:"counter_reset_period"`
	MessageLifetime    time.Duration `koanf:"message_lifetime"`
	HistoryTail        int           `koanf:"history_tail"`
	PruneInterval      time.Duration `koanf:"prune_interval"`
	Timezone           string        `koanf:"timezone"`
}

// FUNCTIONAL DISCOVERY: HTTP configuration balances performance and reliability
type HTTPConfig struct {
	Enabled      bool          `koanf:"enabled"`
	Host         string        `koanf:"host"`
	Port         int           `koanf:"port"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

type WebSocketConfig struct {
	PingInterval time.Duration `koanf:"ping_interval"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
	BufferSize   int           `koanf:"buffer_size"`
}

type LogConfig struct {
	Level      string `koanf:"level"`
	OutputPath string `koanf:"output_path"`
}

// DefaultConfig returns the built-in settings
func DefaultConfig() *Config {
	return &Config{
		Server: &ServerConfig{
			Host:          "127.0.0.1",
			Port:          8000,
			WriteTimeout:  10 * time.Second,
			MaxFrameBytes: 64 * 1024,
		},
		Database: &DatabaseConfig{
			Path:           "./data/chatline.db",
			Timeout:        30 * time.Second,
			MaxConnections: 10,
			WriteQueueSize: 100,
		},
		Chat: &ChatConfig{
			BroadcastLimit:     20,
			CounterResetPeriod: time.Hour,
			MessageLifetime:    time.Hour,
			HistoryTail:        20,
			PruneInterval:      time.Minute,
			Timezone:           "UTC",
		},
		HTTP: &HTTPConfig{
			Enabled:      true,
			Host:         "127.0.0.1",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		WebSocket: &WebSocketConfig{
			PingInterval: 30 * time.Second,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 10 * time.Second,
			BufferSize:   100,
		},
		Log: &LogConfig{
			Level:      logging.LevelInfo,
			OutputPath: "stdout",
		},
	}
}

// defaultMap flattens DefaultConfig into koanf keys
func defaultMap() map[string]interface{} {
	d := DefaultConfig()
	return map[string]interface{}{
		"server.host":            d.Server.Host,
		"server.port":            d.Server.Port,
		"server.write_timeout":   d.Server.WriteTimeout.String(),
		"server.max_frame_bytes": d.Server.MaxFrameBytes,

		"database.path":             d.Database.Path,
		"database.timeout":          d.Database.Timeout.String(),
		"database.max_connections":  d.Database.MaxConnections,
		"database.write_queue_size": d.Database.WriteQueueSize,

		"chat.broadcast_limit":      d.Chat.BroadcastLimit,
		"chat.counter_reset_period": d.Chat.CounterResetPeriod.String(),
		"chat.message_lifetime":     d.Chat.MessageLifetime.String(),
		"chat.history_tail":         d.Chat.HistoryTail,
		"chat.prune_interval":       d.Chat.PruneInterval.String(),
		"chat.timezone":             d.Chat.Timezone,

		"http.enabled":       d.HTTP.Enabled,
		"http.host":          d.HTTP.Host,
		"http.port":          d.HTTP.Port,
		"http.read_timeout":  d.HTTP.ReadTimeout.String(),
		"http.write_timeout": d.HTTP.WriteTimeout.String(),

		"websocket.ping_interval": d.WebSocket.PingInterval.String(),
		"websocket.read_timeout":  d.WebSocket.ReadTimeout.String(),
		"websocket.write_timeout": d.WebSocket.WriteTimeout.String(),
		"websocket.buffer_size":   d.WebSocket.BufferSize,

		"log.level":       d.Log.Level,
		"log.output_path": d.Log.OutputPath,
	}
}

// flagKeys maps command-line flag names onto config keys
var flagKeys = map[string]string{
	"host":            "server.host",
	"port":            "server.port",
	"db":              "database.path",
	"http-host":       "http.host",
	"http-port":       "http.port",
	"no-http":         "http.enabled",
	"timezone":        "chat.timezone",
	"log-level":       "log.level",
	"log-output-path": "log.output_path",
}

// MapFlagToConfigFunc translates flag names for the posflag provider.
// Flags without a config key (e.g. --config) are skipped.
func MapFlagToConfigFunc() func(key string, value string) (string, interface{}) {
	return func(key string, value string) (string, interface{}) {
		mapped, ok := flagKeys[key]
		if !ok {
			return "", nil
		}
		if key == "no-http" {
			disabled, err := strconv.ParseBool(value)
			if err != nil {
				return "", nil
			}
			return mapped, !disabled
		}
		return mapped, value
	}
}

// Load resolves configuration with precedence defaults < file < environment < flags.
// An empty path skips the file layer; a named file that does not exist is an error.
func Load(path string, flagSet *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaultMap(), "."), nil); err != nil {
		return nil, fmt.Errorf("error loading defaults: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("error reading config %s: %w", path, err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config %s: %w", path, err)
		}
	}

	envOpts := env.Provider(EnvPrefix, ".", func(s string) string {
		// Only the first underscore separates the section from the key
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "_", ".", 1)
	})
	if err := k.Load(envOpts, nil); err != nil {
		return nil, fmt.Errorf("error loading env: %w", err)
	}

	if flagSet != nil {
		if err := k.Load(posflag.ProviderWithValue(flagSet, ".", k, MapFlagToConfigFunc()), nil); err != nil {
			return nil, fmt.Errorf("error loading flags: %w", err)
		}
	}

	config := &Config{}
	if err := k.UnmarshalWithConf("", config, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("error decoding config: %w", err)
	}

	// ARCHITECTURAL DISCOVERY: Validate configuration after loading to catch errors early
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// FUNCTIONAL DISCOVERY: Comprehensive validation prevents invalid system configurations
func (c *Config) Validate() error {
	if c.Server == nil {
		return fmt.Errorf("server configuration is required")
	}
	if c.Server.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if err := validatePort("server", c.Server.Port); err != nil {
		return err
	}
	if c.Server.WriteTimeout < 0 {
		return fmt.Errorf("server write timeout cannot be negative")
	}
	if c.Server.MaxFrameBytes <= 0 {
		return fmt.Errorf("server max frame bytes must be positive")
	}

	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}
	if c.Database.MaxConnections <= 0 {
		return fmt.Errorf("database max connections must be positive")
	}
	if c.Database.WriteQueueSize <= 0 {
		return fmt.Errorf("database write queue size must be positive")
	}

	if c.Chat == nil {
		return fmt.Errorf("chat configuration is required")
	}
	if c.Chat.BroadcastLimit < 0 {
		return fmt.Errorf("broadcast limit cannot be negative")
	}
	if c.Chat.CounterResetPeriod <= 0 {
		return fmt.Errorf("counter reset period must be positive")
	}
	if c.Chat.MessageLifetime <= 0 {
		return fmt.Errorf("message lifetime must be positive")
	}
	if c.Chat.HistoryTail < 0 {
		return fmt.Errorf("history tail cannot be negative")
	}
	if c.Chat.PruneInterval <= 0 {
		return fmt.Errorf("prune interval must be positive")
	}
	if _, err := c.Chat.Location(); err != nil {
		return err
	}

	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	if c.HTTP.Enabled {
		if c.HTTP.Host == "" {
			return fmt.Errorf("HTTP host cannot be empty")
		}
		if err := validatePort("HTTP", c.HTTP.Port); err != nil {
			return err
		}
		if c.HTTP.ReadTimeout <= 0 {
			return fmt.Errorf("HTTP read timeout must be positive")
		}
		if c.HTTP.WriteTimeout <= 0 {
			return fmt.Errorf("HTTP write timeout must be positive")
		}
	}

	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}

	if c.Log == nil {
		return fmt.Errorf("log configuration is required")
	}
	if !logging.IsKnownLevel(c.Log.Level) {
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}

	return nil
}

// validatePort allows 0 so tests can bind an ephemeral port
func validatePort(name string, port int) error {
	if port < 0 || port > 65535 {
		return fmt.Errorf("%s port must be between 0 and 65535", name)
	}
	return nil
}

// Address is the TCP listen address
func (s *ServerConfig) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// Address is the HTTP listen address
func (h *HTTPConfig) Address() string {
	return net.JoinHostPort(h.Host, strconv.Itoa(h.Port))
}

// Location resolves the display time zone
func (c *ChatConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// StoreConfig converts the database section into the store's own config
func (c *Config) StoreConfig() *dbconfig.Config {
	store := dbconfig.DefaultConfig()
	store.DatabasePath = c.Database.Path
	store.WriteTimeout = c.Database.Timeout
	store.MaxConnections = c.Database.MaxConnections
	store.WriteQueueSize = c.Database.WriteQueueSize
	return store
}
