package config

import (
	"time"

	"github.com/nkkko/pushline/internal/domain"
	"github.com/nkkko/pushline/internal/logging"
	"github.com/nkkko/pushline/internal/relay"
	"github.com/nkkko/pushline/internal/supervisor"
	"github.com/nkkko/pushline/internal/telemetry"
	"github.com/nkkko/pushline/internal/worker"
	"github.com/nkkko/pushline/pkg/client"
)

// ToAPIConfig converts to the transport factory config
func (c *Config) ToAPIConfig() domain.APIConfig {
	return domain.APIConfig{
		Type:           domain.APIType(c.Server.Transport),
		Addr:           c.Server.Addr,
		HubPath:        c.Relay.HubPath,
		ReadTimeout:    time.Duration(c.Server.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(c.Server.WriteTimeout) * time.Second,
		IdleTimeout:    time.Duration(c.Server.IdleTimeout) * time.Second,
		CORSOrigins:    c.Server.CORSOrigins,
		MetricsEnabled: c.Metrics.Enabled,
		MetricsPath:    c.Metrics.Endpoint,
		TracingEnabled: c.Telemetry.Enabled,
		ServiceName:    c.Telemetry.ServiceName,
	}
}

// ToHubConfig converts to relay hub config
func (c *Config) ToHubConfig() relay.Config {
	return relay.Config{
		SendBufferSize: c.Relay.SendBufferSize,
		PingInterval:   time.Duration(c.Relay.PingInterval) * time.Second,
		ClientTimeout:  time.Duration(c.Relay.ClientTimeout) * time.Second,
		WriteTimeout:   time.Duration(c.Relay.WriteTimeout) * time.Second,
		MaxMessageSize: c.Relay.MaxMessageSize,
	}
}

// ToSupervisorConfig converts to connection supervisor config
func (c *Config) ToSupervisorConfig() supervisor.Config {
	return supervisor.Config{
		Endpoint:       c.Worker.Endpoint,
		ConnectTimeout: time.Duration(c.Worker.ConnectTimeout) * time.Second,
	}
}

// ToWorkerConfig converts to worker host config
func (c *Config) ToWorkerConfig() worker.Config {
	return worker.Config{
		TickInterval: time.Duration(c.Worker.TickIntervalMs) * time.Millisecond,
		Supervisor:   c.ToSupervisorConfig(),
	}
}

// ToClientOptions converts to hub client options
func (c *Config) ToClientOptions() []client.ClientOption {
	return []client.ClientOption{
		client.WithHandshakeTimeout(time.Duration(c.Worker.HandshakeTimeout) * time.Second),
		client.WithKeepAliveTimeout(time.Duration(c.Worker.KeepAliveTimeout) * time.Second),
		client.WithWriteTimeout(time.Duration(c.Worker.WriteTimeout) * time.Second),
	}
}

// ToLoggingConfig converts to logging config
func (c *Config) ToLoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.LogLevel(c.Logging.Level)
	cfg.IncludeCaller = c.Logging.IncludeCaller
	cfg.GlobalFields = c.Logging.GlobalFields

	switch c.Logging.Format {
	case "console":
		cfg.Format = logging.FormatConsole
	default:
		cfg.Format = logging.FormatJSON
	}

	return cfg
}

// ToTelemetryConfig converts to telemetry config
func (c *Config) ToTelemetryConfig() telemetry.Config {
	return telemetry.Config{
		Enabled:       c.Telemetry.Enabled,
		ServiceName:   c.Telemetry.ServiceName,
		Endpoint:      c.Telemetry.Endpoint,
		Insecure:      c.Telemetry.Insecure,
		SamplingRatio: c.Telemetry.SamplingRatio,
		Timeout:       5 * time.Second,
		Attributes:    c.Telemetry.Attributes,
	}
}
