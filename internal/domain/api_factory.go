package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/nkkko/pushline/internal/api"
	"github.com/nkkko/pushline/internal/api/chi"
	"github.com/nkkko/pushline/internal/relay"
)

// APIType represents the type of API implementation
type APIType string

const (
	// ChiAPI represents the Chi router-based API
	ChiAPI APIType = "chi"

	// FiberAPI represents the Fiber framework-based API
	FiberAPI APIType = "fiber"
)

// APIConfig holds common configuration for all API implementations
type APIConfig struct {
	// API type
	Type APIType

	// Server address
	Addr string

	// WebSocket route of the hub
	HubPath string

	// Timeouts
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	CORSOrigins []string

	MetricsEnabled bool
	MetricsPath    string

	// Only the chi transport traces requests
	TracingEnabled bool
	ServiceName    string
}

// NewAPIEngine creates a new API engine of the specified type
func NewAPIEngine(config APIConfig, hub *relay.Hub) (APIEngine, error) {
	switch config.Type {
	case ChiAPI, "":
		return chi.NewChiAPI(chi.Config{
			Addr:           config.Addr,
			HubPath:        config.HubPath,
			ReadTimeout:    config.ReadTimeout,
			WriteTimeout:   config.WriteTimeout,
			IdleTimeout:    config.IdleTimeout,
			CORSOrigins:    config.CORSOrigins,
			MetricsEnabled: config.MetricsEnabled,
			MetricsPath:    config.MetricsPath,
			TracingEnabled: config.TracingEnabled,
			ServiceName:    config.ServiceName,
		}, hub), nil

	case FiberAPI:
		return api.NewAPI(api.Config{
			Addr:           config.Addr,
			HubPath:        config.HubPath,
			ReadTimeout:    config.ReadTimeout,
			WriteTimeout:   config.WriteTimeout,
			IdleTimeout:    config.IdleTimeout,
			CORSOrigins:    strings.Join(config.CORSOrigins, ","),
			MetricsEnabled: config.MetricsEnabled,
			MetricsPath:    config.MetricsPath,
		}, hub), nil

	default:
		return nil, fmt.Errorf("unsupported API type: %s", config.Type)
	}
}
