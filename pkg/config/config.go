package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Resolver modes
const (
	ResolverModeSystem   = "system"
	ResolverModeUpstream = "upstream"
	ResolverModeDoH      = "doh"
)

// Config holds the application configuration
type Config struct {
	// Server settings
	Server ServerConfig `yaml:"server"`

	// Host machine name resolution
	Resolver ResolverConfig `yaml:"resolver"`

	// Static overrides consulted before the resolver
	Hosts []HostEntry `yaml:"hosts"`

	// Query journal
	Journal JournalConfig `yaml:"journal"`

	// Read-only status API
	API APIConfig `yaml:"api"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`

	// Telemetry (OTEL)
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds server-specific settings
type ServerConfig struct {
	ListenAddress        string        `yaml:"listen_address"`         // host socket the guest frontend binds
	GatewayAddress       string        `yaml:"gateway_address"`        // address replies are sent from on the virtual segment
	Adapter              string        `yaml:"adapter"`                // adapter whose IPv4 replaces 127.0.0.1 answers (empty = auto)
	Backlog              int           `yaml:"backlog"`                // inbound datagrams buffered before the device loop
	ShutdownPollInterval time.Duration `yaml:"shutdown_poll_interval"` // sleep between drain attempts on teardown

	// Per-guest intake limit on the frontend socket
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig holds per-client token bucket settings
type RateLimitConfig struct {
	Enabled           bool                `yaml:"enabled"`
	RequestsPerSecond float64             `yaml:"requests_per_second"`
	Burst             int                 `yaml:"burst"`
	CleanupInterval   time.Duration       `yaml:"cleanup_interval"`
	MaxTrackedClients int                 `yaml:"max_tracked_clients"`
	LogViolations     bool                `yaml:"log_violations"`
	Overrides         []RateLimitOverride `yaml:"overrides"`
}

// RateLimitOverride replaces the global limits for matching clients
type RateLimitOverride struct {
	Name              string   `yaml:"name"`
	Clients           []string `yaml:"clients"`
	CIDRs             []string `yaml:"cidrs"`
	RequestsPerSecond *float64 `yaml:"requests_per_second"`
	Burst             *int     `yaml:"burst"`
}

// ResolverConfig holds host resolution settings
type ResolverConfig struct {
	Mode         string        `yaml:"mode"` // system, upstream, doh
	Upstreams    []string      `yaml:"upstreams"`
	Strict       bool          `yaml:"strict"` // upstream mode: never fall back to the system resolver
	DoHURL       string        `yaml:"doh_url"`
	DoHAddresses []string      `yaml:"doh_addresses"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxInflight  int           `yaml:"max_inflight"`
}

// HostEntry is a single host override as written in the config file
type HostEntry struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Address string `yaml:"address"`
}

// JournalConfig holds query journal settings
type JournalConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Path          string        `yaml:"path"`
	BufferSize    int           `yaml:"buffer_size"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BusyTimeout   int           `yaml:"busy_timeout"` // milliseconds
}

// APIConfig holds status API settings
type APIConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddress string `yaml:"listen_address"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level     string `yaml:"level"`      // debug, info, warn, error
	Format    string `yaml:"format"`     // json, text
	Output    string `yaml:"output"`     // stdout, stderr, file
	FilePath  string `yaml:"file_path"`  // if output=file
	AddSource bool   `yaml:"add_source"` // include source file/line
}

// TelemetryConfig holds OpenTelemetry settings
type TelemetryConfig struct {
	Enabled           bool   `yaml:"enabled"`
	ServiceName       string `yaml:"service_name"`
	ServiceVersion    string `yaml:"service_version"`
	PrometheusEnabled bool   `yaml:"prometheus_enabled"`
	PrometheusPort    int    `yaml:"prometheus_port"`
	TracingEnabled    bool   `yaml:"tracing_enabled"`
}

// Load loads the configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse parses YAML configuration bytes, applies defaults and validates the result
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadWithDefaults creates a configuration with sensible defaults
func LoadWithDefaults() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults sets default values for unset configuration fields
func (c *Config) applyDefaults() {
	// Server defaults
	if c.Server.ListenAddress == "" {
		c.Server.ListenAddress = "127.0.0.1:5353"
	}
	if c.Server.GatewayAddress == "" {
		c.Server.GatewayAddress = "10.0.2.2"
	}
	if c.Server.Backlog == 0 {
		c.Server.Backlog = 256
	}
	if c.Server.ShutdownPollInterval == 0 {
		c.Server.ShutdownPollInterval = 10 * time.Millisecond
	}

	if c.Server.RateLimit.RequestsPerSecond == 0 {
		c.Server.RateLimit.RequestsPerSecond = 50
	}
	if c.Server.RateLimit.Burst == 0 {
		c.Server.RateLimit.Burst = 100
	}
	if c.Server.RateLimit.CleanupInterval == 0 {
		c.Server.RateLimit.CleanupInterval = 10 * time.Minute
	}
	if c.Server.RateLimit.MaxTrackedClients == 0 {
		c.Server.RateLimit.MaxTrackedClients = 1024
	}

	// Resolver defaults
	if c.Resolver.Mode == "" {
		c.Resolver.Mode = ResolverModeSystem
	}
	if c.Resolver.Timeout == 0 {
		c.Resolver.Timeout = 5 * time.Second
	}
	if c.Resolver.MaxInflight == 0 {
		c.Resolver.MaxInflight = 64
	}
	if c.Resolver.Mode == ResolverModeDoH && c.Resolver.DoHURL == "" {
		c.Resolver.DoHURL = "https://cloudflare-dns.com/dns-query"
		if len(c.Resolver.DoHAddresses) == 0 {
			c.Resolver.DoHAddresses = []string{"1.1.1.1", "1.0.0.1"}
		}
	}

	// Journal defaults
	if c.Journal.Path == "" {
		c.Journal.Path = "./guest-dns.db"
	}
	if c.Journal.BufferSize == 0 {
		c.Journal.BufferSize = 1000
	}
	if c.Journal.BatchSize == 0 {
		c.Journal.BatchSize = 100
	}
	if c.Journal.FlushInterval == 0 {
		c.Journal.FlushInterval = 5 * time.Second
	}
	if c.Journal.BusyTimeout == 0 {
		c.Journal.BusyTimeout = 5000
	}

	// API defaults
	if c.API.ListenAddress == "" {
		c.API.ListenAddress = "127.0.0.1:8080"
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}

	// Telemetry defaults
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "guest-dns"
	}
	if c.Telemetry.ServiceVersion == "" {
		c.Telemetry.ServiceVersion = "dev"
	}
	if c.Telemetry.PrometheusPort == 0 {
		c.Telemetry.PrometheusPort = 9090
	}
}

// Validate checks if the configuration is valid.
// Host entries are not validated here: malformed overrides are skipped when
// the table is built so one bad line never prevents startup or a reload.
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.ListenAddress == "" {
		return fmt.Errorf("server.listen_address cannot be empty")
	}
	if ip := net.ParseIP(c.Server.GatewayAddress); ip == nil || ip.To4() == nil {
		return fmt.Errorf("server.gateway_address must be an IPv4 address: %q", c.Server.GatewayAddress)
	}
	if c.Server.Backlog < 0 {
		return fmt.Errorf("server.backlog cannot be negative")
	}
	if rl := c.Server.RateLimit; rl.Enabled {
		if rl.RequestsPerSecond < 0 {
			return fmt.Errorf("server.rate_limit.requests_per_second cannot be negative")
		}
		if rl.Burst < 1 {
			return fmt.Errorf("server.rate_limit.burst must be at least 1")
		}
	}

	// Validate resolver config
	switch c.Resolver.Mode {
	case ResolverModeSystem:
	case ResolverModeUpstream:
		if len(c.Resolver.Upstreams) == 0 {
			return fmt.Errorf("resolver.upstreams must be set when mode is 'upstream'")
		}
	case ResolverModeDoH:
		if c.Resolver.DoHURL == "" {
			return fmt.Errorf("resolver.doh_url must be set when mode is 'doh'")
		}
	default:
		return fmt.Errorf("invalid resolver mode: %s (must be system, upstream, or doh)", c.Resolver.Mode)
	}
	if c.Resolver.Timeout < 0 {
		return fmt.Errorf("resolver.timeout cannot be negative")
	}
	if c.Resolver.MaxInflight < 0 {
		return fmt.Errorf("resolver.max_inflight cannot be negative")
	}

	// Validate journal config
	if c.Journal.Enabled && c.Journal.Path == "" {
		return fmt.Errorf("journal.path must be set when the journal is enabled")
	}

	if c.API.Enabled && c.API.ListenAddress == "" {
		return fmt.Errorf("api.listen_address must be set when the API is enabled")
	}

	// Validate logging level
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	// Validate logging format
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("invalid logging format: %s (must be json or text)", c.Logging.Format)
	}

	// Validate logging output
	validOutputs := map[string]bool{
		"stdout": true,
		"stderr": true,
		"file":   true,
	}
	if !validOutputs[c.Logging.Output] {
		return fmt.Errorf("invalid logging output: %s (must be stdout, stderr, or file)", c.Logging.Output)
	}
	if c.Logging.Output == "file" && c.Logging.FilePath == "" {
		return fmt.Errorf("logging.file_path must be set when output is 'file'")
	}

	return nil
}
