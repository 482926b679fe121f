package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/nkkko/pushline/internal/config"
	"github.com/nkkko/pushline/internal/domain"
	"github.com/nkkko/pushline/internal/logging"
	"github.com/nkkko/pushline/internal/metrics"
	"github.com/nkkko/pushline/internal/relay"
	"github.com/nkkko/pushline/internal/telemetry"
)

// Engine wires the relay hub to its transport and runs them
type Engine struct {
	config      *config.Config
	hub         *relay.Hub
	api         domain.APIEngine
	logger      zerolog.Logger
	metrics     *metrics.Metrics
	telemetryFn func(context.Context) error
}

// CreateEngine creates a new Engine with all components initialized from the config
func CreateEngine(cfg *config.Config) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	hub := relay.NewHub(cfg.ToHubConfig())

	api, err := domain.NewAPIEngine(cfg.ToAPIConfig(), hub)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}

	return NewEngine(cfg, hub, api), nil
}

// NewEngine creates a new Engine from already built components
func NewEngine(cfg *config.Config, hub *relay.Hub, api domain.APIEngine) *Engine {
	return &Engine{
		config:  cfg,
		hub:     hub,
		api:     api,
		logger:  logging.Component("engine"),
		metrics: metrics.GetMetrics(),
	}
}

// Hub returns the relay hub
func (e *Engine) Hub() *relay.Hub {
	return e.hub
}

// API returns the transport
func (e *Engine) API() domain.APIEngine {
	return e.api
}

// Start runs the relay until ctx is cancelled or the transport fails
func (e *Engine) Start(ctx context.Context) error {
	e.logger.Info().
		Str("transport", e.config.Server.Transport).
		Str("hub_path", e.config.Relay.HubPath).
		Msg("Starting relay engine")

	telShutdown, err := telemetry.Setup(ctx, e.config.ToTelemetryConfig())
	if err != nil {
		e.logger.Warn().Err(err).Msg("Failed to set up telemetry, continuing without it")
	} else {
		e.telemetryFn = telShutdown
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return e.api.Start(ctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("error running engine: %w", err)
	}

	e.logger.Info().Msg("Relay engine stopped")
	return nil
}

// Shutdown stops the transport, then the hub, then telemetry
func (e *Engine) Shutdown(ctx context.Context) error {
	e.logger.Info().Msg("Shutting down relay engine")

	var errs []error

	// stop accepting new clients first
	if err := e.api.Shutdown(ctx); err != nil {
		e.logger.Error().Err(err).Msg("Failed to shut down API")
		errs = append(errs, err)
	}

	if err := e.hub.Shutdown(ctx); err != nil {
		e.logger.Error().Err(err).Msg("Failed to shut down hub")
		errs = append(errs, err)
	}

	if e.telemetryFn != nil {
		if err := e.telemetryFn(ctx); err != nil {
			e.logger.Error().Err(err).Msg("Failed to shut down telemetry")
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
