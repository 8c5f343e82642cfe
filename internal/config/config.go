package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the process-wide configuration.
// Layering is defaults, then PAIRCHAT_* environment variables, then the YAML file.
type Config struct {
	Database  *DatabaseConfig
	HTTP      *HTTPConfig
	WebSocket *WebSocketConfig
	Match     *MatchConfig
	RateLimit *RateLimitConfig
	Log       *LogConfig
	Metrics   *MetricsConfig
}

type DatabaseConfig struct {
	Path           string
	Timeout        time.Duration // bound on every Directory call
	MaxConnections int
	MigrationsPath string // empty uses the embedded migrations
}

type HTTPConfig struct {
	Port            int // 0 binds a free port
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	Host            string
}

type WebSocketConfig struct {
	PingInterval        time.Duration
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	BufferSize          int
	MaxMessageBytes     int64
	HandshakesPerMinute int // per remote IP; 0 disables the throttle
}

type MatchConfig struct {
	Timeout time.Duration
}

type RateLimitConfig struct {
	Window        time.Duration
	Threshold     int
	BlockDuration time.Duration
	IdleEviction  time.Duration // 0 keeps windows until their block expires
}

type LogConfig struct {
	Level       string
	Development bool
}

type MetricsConfig struct {
	Enabled bool
	Path    string
}

// DefaultConfig returns production defaults: a 10s match timeout and a 2s/5 message window with a 10s block
func DefaultConfig() *Config {
	return &Config{
		Database: &DatabaseConfig{
			Path:           "./data/pairchat.db",
			Timeout:        5 * time.Second,
			MaxConnections: 10,
		},
		HTTP: &HTTPConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			Host:            "0.0.0.0",
		},
		WebSocket: &WebSocketConfig{
			PingInterval:        30 * time.Second,
			ReadTimeout:         60 * time.Second,
			WriteTimeout:        5 * time.Second,
			BufferSize:          100,
			MaxMessageBytes:     8192,
			HandshakesPerMinute: 60,
		},
		Match: &MatchConfig{
			Timeout: 10 * time.Second,
		},
		RateLimit: &RateLimitConfig{
			Window:        2 * time.Second,
			Threshold:     5,
			BlockDuration: 10 * time.Second,
		},
		Log: &LogConfig{
			Level: "info",
		},
		Metrics: &MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Validate rejects configurations the server cannot run with
func (c *Config) Validate() error {
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

	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 0 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 {
		return fmt.Errorf("HTTP read timeout must be positive")
	}
	if c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP write timeout must be positive")
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		return fmt.Errorf("HTTP shutdown timeout must be positive")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
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
	if c.WebSocket.MaxMessageBytes <= 0 {
		return fmt.Errorf("WebSocket max message bytes must be positive")
	}
	if c.WebSocket.HandshakesPerMinute < 0 {
		return fmt.Errorf("WebSocket handshakes per minute cannot be negative")
	}

	if c.Match == nil {
		return fmt.Errorf("match configuration is required")
	}
	if c.Match.Timeout <= 0 {
		return fmt.Errorf("match timeout must be positive")
	}

	if c.RateLimit == nil {
		return fmt.Errorf("rate limit configuration is required")
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate limit window must be positive")
	}
	if c.RateLimit.Threshold <= 0 {
		return fmt.Errorf("rate limit threshold must be positive")
	}
	if c.RateLimit.BlockDuration <= 0 {
		return fmt.Errorf("rate limit block duration must be positive")
	}
	if c.RateLimit.IdleEviction < 0 {
		return fmt.Errorf("rate limit idle eviction cannot be negative")
	}

	if c.Log == nil {
		return fmt.Errorf("log configuration is required")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log level %q must be one of debug, info, warn, error", c.Log.Level)
	}

	if c.Metrics == nil {
		return fmt.Errorf("metrics configuration is required")
	}
	if c.Metrics.Enabled && (c.Metrics.Path == "" || c.Metrics.Path[0] != '/') {
		return fmt.Errorf("metrics path must start with /")
	}

	return nil
}

// LoadFromEnv overlays PAIRCHAT_* variables on the defaults. Unparseable values are ignored.
func LoadFromEnv() *Config {
	config := DefaultConfig()
	applyEnv(config)
	return config
}

func applyEnv(config *Config) {
	envString("PAIRCHAT_DATABASE_PATH", &config.Database.Path)
	envDuration("PAIRCHAT_DATABASE_TIMEOUT", &config.Database.Timeout)
	envInt("PAIRCHAT_DATABASE_MAX_CONNECTIONS", &config.Database.MaxConnections)
	envString("PAIRCHAT_DATABASE_MIGRATIONS_PATH", &config.Database.MigrationsPath)

	envInt("PAIRCHAT_HTTP_PORT", &config.HTTP.Port)
	envString("PAIRCHAT_HTTP_HOST", &config.HTTP.Host)
	envDuration("PAIRCHAT_HTTP_READ_TIMEOUT", &config.HTTP.ReadTimeout)
	envDuration("PAIRCHAT_HTTP_WRITE_TIMEOUT", &config.HTTP.WriteTimeout)
	envDuration("PAIRCHAT_HTTP_SHUTDOWN_TIMEOUT", &config.HTTP.ShutdownTimeout)

	envDuration("PAIRCHAT_WEBSOCKET_PING_INTERVAL", &config.WebSocket.PingInterval)
	envDuration("PAIRCHAT_WEBSOCKET_READ_TIMEOUT", &config.WebSocket.ReadTimeout)
	envDuration("PAIRCHAT_WEBSOCKET_WRITE_TIMEOUT", &config.WebSocket.WriteTimeout)
	envInt("PAIRCHAT_WEBSOCKET_BUFFER_SIZE", &config.WebSocket.BufferSize)
	envInt64("PAIRCHAT_WEBSOCKET_MAX_MESSAGE_BYTES", &config.WebSocket.MaxMessageBytes)
	envInt("PAIRCHAT_WEBSOCKET_HANDSHAKES_PER_MINUTE", &config.WebSocket.HandshakesPerMinute)

	envDuration("PAIRCHAT_MATCH_TIMEOUT", &config.Match.Timeout)

	envDuration("PAIRCHAT_RATELIMIT_WINDOW", &config.RateLimit.Window)
	envInt("PAIRCHAT_RATELIMIT_THRESHOLD", &config.RateLimit.Threshold)
	envDuration("PAIRCHAT_RATELIMIT_BLOCK_DURATION", &config.RateLimit.BlockDuration)
	envDuration("PAIRCHAT_RATELIMIT_IDLE_EVICTION", &config.RateLimit.IdleEviction)

	envString("PAIRCHAT_LOG_LEVEL", &config.Log.Level)
	envBool("PAIRCHAT_LOG_DEVELOPMENT", &config.Log.Development)

	envBool("PAIRCHAT_METRICS_ENABLED", &config.Metrics.Enabled)
	envString("PAIRCHAT_METRICS_PATH", &config.Metrics.Path)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envInt64(key string, dst *int64) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// File is the YAML layout. Durations are strings such as "10s";
// omitted keys leave the underlying value untouched.
type File struct {
	Database  *DatabaseFile  `yaml:"database"`
	HTTP      *HTTPFile      `yaml:"http"`
	WebSocket *WebSocketFile `yaml:"websocket"`
	Match     *MatchFile     `yaml:"match"`
	RateLimit *RateLimitFile `yaml:"ratelimit"`
	Log       *LogFile       `yaml:"log"`
	Metrics   *MetricsFile   `yaml:"metrics"`
}

type DatabaseFile struct {
	Path           string `yaml:"path"`
	Timeout        string `yaml:"timeout"`
	MaxConnections int    `yaml:"max_connections"`
	MigrationsPath string `yaml:"migrations_path"`
}

type HTTPFile struct {
	Port            int    `yaml:"port"`
	ReadTimeout     string `yaml:"read_timeout"`
	WriteTimeout    string `yaml:"write_timeout"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
	Host            string `yaml:"host"`
}

type WebSocketFile struct {
	PingInterval        string `yaml:"ping_interval"`
	ReadTimeout         string `yaml:"read_timeout"`
	WriteTimeout        string `yaml:"write_timeout"`
	BufferSize          int    `yaml:"buffer_size"`
	MaxMessageBytes     int64  `yaml:"max_message_bytes"`
	HandshakesPerMinute *int   `yaml:"handshakes_per_minute"`
}

type MatchFile struct {
	Timeout string `yaml:"timeout"`
}

type RateLimitFile struct {
	Window        string `yaml:"window"`
	Threshold     int    `yaml:"threshold"`
	BlockDuration string `yaml:"block_duration"`
	IdleEviction  string `yaml:"idle_eviction"`
}

type LogFile struct {
	Level       string `yaml:"level"`
	Development *bool  `yaml:"development"`
}

type MetricsFile struct {
	Enabled *bool  `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoadFromFile overlays a YAML file on the defaults and validates the result
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()
	if err := applyFile(config, path); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return config, nil
}

func applyFile(config *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	d := durations{}
	if f := file.Database; f != nil {
		setString(&config.Database.Path, f.Path)
		d.parse("database.timeout", f.Timeout, &config.Database.Timeout)
		setInt(&config.Database.MaxConnections, f.MaxConnections)
		setString(&config.Database.MigrationsPath, f.MigrationsPath)
	}
	if f := file.HTTP; f != nil {
		setInt(&config.HTTP.Port, f.Port)
		setString(&config.HTTP.Host, f.Host)
		d.parse("http.read_timeout", f.ReadTimeout, &config.HTTP.ReadTimeout)
		d.parse("http.write_timeout", f.WriteTimeout, &config.HTTP.WriteTimeout)
		d.parse("http.shutdown_timeout", f.ShutdownTimeout, &config.HTTP.ShutdownTimeout)
	}
	if f := file.WebSocket; f != nil {
		d.parse("websocket.ping_interval", f.PingInterval, &config.WebSocket.PingInterval)
		d.parse("websocket.read_timeout", f.ReadTimeout, &config.WebSocket.ReadTimeout)
		d.parse("websocket.write_timeout", f.WriteTimeout, &config.WebSocket.WriteTimeout)
		setInt(&config.WebSocket.BufferSize, f.BufferSize)
		if f.MaxMessageBytes > 0 {
			config.WebSocket.MaxMessageBytes = f.MaxMessageBytes
		}
		if f.HandshakesPerMinute != nil {
			config.WebSocket.HandshakesPerMinute = *f.HandshakesPerMinute
		}
	}
	if f := file.Match; f != nil {
		d.parse("match.timeout", f.Timeout, &config.Match.Timeout)
	}
	if f := file.RateLimit; f != nil {
		d.parse("ratelimit.window", f.Window, &config.RateLimit.Window)
		setInt(&config.RateLimit.Threshold, f.Threshold)
		d.parse("ratelimit.block_duration", f.BlockDuration, &config.RateLimit.BlockDuration)
		d.parse("ratelimit.idle_eviction", f.IdleEviction, &config.RateLimit.IdleEviction)
	}
	if f := file.Log; f != nil {
		setString(&config.Log.Level, f.Level)
		if f.Development != nil {
			config.Log.Development = *f.Development
		}
	}
	if f := file.Metrics; f != nil {
		if f.Enabled != nil {
			config.Metrics.Enabled = *f.Enabled
		}
		setString(&config.Metrics.Path, f.Path)
	}

	if d.err != nil {
		return fmt.Errorf("config file %s: %w", path, d.err)
	}
	return nil
}

// durations collects the first parse failure so every field is attempted once
type durations struct {
	err error
}

func (d *durations) parse(key, value string, dst *time.Duration) {
	if value == "" || d.err != nil {
		return
	}
	v, err := time.ParseDuration(value)
	if err != nil {
		d.err = fmt.Errorf("%s: %w", key, err)
		return
	}
	*dst = v
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

// LoadConfigWithPrecedence builds the config as defaults < environment < file.
// A missing file is not an error; an unreadable or invalid one is.
func LoadConfigWithPrecedence(path string) (*Config, error) {
	config := LoadFromEnv()

	if path != "" {
		if err := applyFile(config, path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}
