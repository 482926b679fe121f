package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Config represents the complete application configuration shared by the
// relay, worker and sender binaries
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Relay     RelayConfig     `yaml:"relay"`
	Worker    WorkerConfig    `yaml:"worker"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig contains HTTP server settings for the relay
type ServerConfig struct {
	Addr         string   `yaml:"addr"`
	Transport    string   `yaml:"transport"`
	ReadTimeout  int      `yaml:"read_timeout"`
	WriteTimeout int      `yaml:"write_timeout"`
	IdleTimeout  int      `yaml:"idle_timeout"`
	CORSOrigins  []string `yaml:"cors_origins"`
}

// RelayConfig contains broadcast hub settings
type RelayConfig struct {
	HubPath        string `yaml:"hub_path"`
	SendBufferSize int    `yaml:"send_buffer_size"`
	PingInterval   int    `yaml:"ping_interval"`
	ClientTimeout  int    `yaml:"client_timeout"`
	WriteTimeout   int    `yaml:"write_timeout"`
	MaxMessageSize int64  `yaml:"max_message_size"`
}

// WorkerConfig contains background worker and hub client settings
type WorkerConfig struct {
	Endpoint         string `yaml:"endpoint"`
	TickIntervalMs   int    `yaml:"tick_interval_ms"`
	ConnectTimeout   int    `yaml:"connect_timeout"`
	HandshakeTimeout int    `yaml:"handshake_timeout"`
	KeepAliveTimeout int    `yaml:"keep_alive_timeout"`
	WriteTimeout     int    `yaml:"write_timeout"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level         string            `yaml:"level"`
	Format        string            `yaml:"format"`
	IncludeCaller bool              `yaml:"include_caller"`
	GlobalFields  map[string]string `yaml:"global_fields"`
}

// TelemetryConfig contains OpenTelemetry settings
type TelemetryConfig struct {
	Enabled       bool              `yaml:"enabled"`
	ServiceName   string            `yaml:"service_name"`
	Endpoint      string            `yaml:"endpoint"`
	Insecure      bool              `yaml:"insecure"`
	SamplingRatio float64           `yaml:"sampling_ratio"`
	Attributes    map[string]string `yaml:"attributes"`
}

// MetricsConfig contains metrics settings
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// FlagOverrides holds command line values. Empty fields leave the loaded
// configuration untouched.
type FlagOverrides struct {
	ServerAddr string
	Transport  string
	Endpoint   string
	LogLevel   string
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         ":8080",
			Transport:    "chi",
			ReadTimeout:  5,
			WriteTimeout: 10,
			IdleTimeout:  120,
			CORSOrigins:  []string{"*"},
		},
		Relay: RelayConfig{
			HubPath:        "/BroadcastHub",
			SendBufferSize: 64,
			PingInterval:   15,
			ClientTimeout:  30,
			WriteTimeout:   10,
			MaxMessageSize: 32 * 1024, // 32KiB
		},
		Worker: WorkerConfig{
			Endpoint:         "http://localhost:8080/BroadcastHub",
			TickIntervalMs:   10000,
			ConnectTimeout:   10,
			HandshakeTimeout: 5,
			KeepAliveTimeout: 30,
			WriteTimeout:     10,
		},
		Logging: LoggingConfig{
			Level:        "info",
			Format:       "json",
			GlobalFields: map[string]string{},
		},
		Telemetry: TelemetryConfig{
			Enabled:       false,
			ServiceName:   "pushline",
			Endpoint:      "localhost:4317",
			Insecure:      true,
			SamplingRatio: 0.1,
			Attributes:    map[string]string{},
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
	}
}

// LoadConfigFromFile loads configuration from a YAML file on top of the defaults
func LoadConfigFromFile(filePath string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn().Str("file", filePath).Msg("Configuration file not found, using defaults")
			return config, nil
		}
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return config, nil
}

// LoadConfig loads configuration from file, environment variables and
// flags, in increasing order of priority, then validates the result
func LoadConfig(configFile string, flags FlagOverrides) (*Config, error) {
	var config *Config
	var err error

	if configFile != "" {
		config, err = LoadConfigFromFile(configFile)
		if err != nil {
			return nil, err
		}
	} else {
		config = DefaultConfig()
	}

	if err := applyEnvOverrides(config); err != nil {
		return nil, err
	}

	if flags.ServerAddr != "" {
		config.Server.Addr = flags.ServerAddr
	}
	if flags.Transport != "" {
		config.Server.Transport = flags.Transport
	}
	if flags.Endpoint != "" {
		config.Worker.Endpoint = flags.Endpoint
	}
	if flags.LogLevel != "" {
		config.Logging.Level = flags.LogLevel
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate reports the first setting that cannot be used
func (c *Config) Validate() error {
	switch c.Server.Transport {
	case "chi", "fiber":
	default:
		return fmt.Errorf("invalid server.transport %q: must be chi or fiber", c.Server.Transport)
	}
	if !strings.HasPrefix(c.Relay.HubPath, "/") {
		return fmt.Errorf("invalid relay.hub_path %q: must start with /", c.Relay.HubPath)
	}
	if c.Worker.TickIntervalMs <= 0 {
		return fmt.Errorf("invalid worker.tick_interval_ms %d: must be positive", c.Worker.TickIntervalMs)
	}
	if c.Relay.SendBufferSize <= 0 {
		return fmt.Errorf("invalid relay.send_buffer_size %d: must be positive", c.Relay.SendBufferSize)
	}
	return nil
}

// applyEnvOverrides applies PUSHLINE_* environment variables to the configuration
func applyEnvOverrides(config *Config) error {
	if addr := os.Getenv("PUSHLINE_SERVER_ADDR"); addr != "" {
		config.Server.Addr = addr
	}
	if transport := os.Getenv("PUSHLINE_TRANSPORT"); transport != "" {
		config.Server.Transport = transport
	}

	if hubPath := os.Getenv("PUSHLINE_HUB_PATH"); hubPath != "" {
		config.Relay.HubPath = hubPath
	}

	if endpoint := os.Getenv("PUSHLINE_ENDPOINT"); endpoint != "" {
		config.Worker.Endpoint = endpoint
	}
	if err := envInt("PUSHLINE_TICK_INTERVAL_MS", &config.Worker.TickIntervalMs); err != nil {
		return err
	}
	if err := envInt("PUSHLINE_CONNECT_TIMEOUT", &config.Worker.ConnectTimeout); err != nil {
		return err
	}

	if level := os.Getenv("PUSHLINE_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("PUSHLINE_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}

	if err := envBool("PUSHLINE_TELEMETRY_ENABLED", &config.Telemetry.Enabled); err != nil {
		return err
	}
	if endpoint := os.Getenv("PUSHLINE_TELEMETRY_ENDPOINT"); endpoint != "" {
		config.Telemetry.Endpoint = endpoint
	}

	return envBool("PUSHLINE_METRICS_ENABLED", &config.Metrics.Enabled)
}

func envInt(key string, dst *int) error {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	*dst = val
	return nil
}

func envBool(key string, dst *bool) error {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	val, err := strconv.ParseBool(raw)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	*dst = val
	return nil
}
