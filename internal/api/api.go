package api

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	apierrors "github.com/nkkko/pushline/internal/api/errors"
	"github.com/nkkko/pushline/internal/api/models"
	"github.com/nkkko/pushline/internal/api/response"
	"github.com/nkkko/pushline/internal/metrics"
	"github.com/nkkko/pushline/internal/relay"
)

// Banner is served on the root route
const Banner = "Hello World!"

// Hub is the part of the relay hub the Fiber API serves
type Hub interface {
	Serve(ctx context.Context, ws relay.WSConn, remoteAddr string) error
	Count() int
	Closed() bool
}

// Config contains API configuration
type Config struct {
	// Server address
	Addr string

	// WebSocket route of the hub
	HubPath string

	// Timeouts
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// Allowed CORS origins, comma separated
	CORSOrigins string

	// Metrics endpoint
	MetricsEnabled bool
	MetricsPath    string
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		HubPath:        "/BroadcastHub",
		ReadTimeout:    5 * time.Second,
		WriteTimeout:   10 * time.Second,
		IdleTimeout:    120 * time.Second,
		CORSOrigins:    "*",
		MetricsEnabled: true,
		MetricsPath:    "/metrics",
	}
}

// API serves the relay hub over fasthttp using Fiber
type API struct {
	config    Config
	hub       Hub
	app       *fiber.App
	startedAt time.Time
	logger    zerolog.Logger

	mu      sync.Mutex
	addr    net.Addr
	baseCtx context.Context
	ready   chan struct{}
}

// NewAPI creates a new API instance
func NewAPI(config Config, hub Hub) *API {
	defaults := DefaultConfig()
	if config.Addr == "" {
		config.Addr = defaults.Addr
	}
	if config.HubPath == "" {
		config.HubPath = defaults.HubPath
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = defaults.ReadTimeout
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.IdleTimeout == 0 {
		config.IdleTimeout = defaults.IdleTimeout
	}
	if config.CORSOrigins == "" {
		config.CORSOrigins = defaults.CORSOrigins
	}
	if config.MetricsPath == "" {
		config.MetricsPath = defaults.MetricsPath
	}

	a := &API{
		config:    config,
		hub:       hub,
		startedAt: time.Now(),
		logger:    log.With().Str("component", "api").Logger(),
		baseCtx:   context.Background(),
		ready:     make(chan struct{}),
	}

	a.app = fiber.New(fiber.Config{
		ReadTimeout:           config.ReadTimeout,
		WriteTimeout:          config.WriteTimeout,
		IdleTimeout:           config.IdleTimeout,
		BodyLimit:             1024 * 1024,
		DisableStartupMessage: true,
		ErrorHandler:          a.handleError,
	})

	a.app.Use(recover.New())
	a.app.Use(requestid.New())
	a.app.Use(a.requestLogger)
	a.app.Use(cors.New(cors.Config{
		AllowOrigins: config.CORSOrigins,
		AllowMethods: "GET,OPTIONS",
	}))

	a.registerRoutes(a.app)

	return a
}

// App returns the Fiber app, for app.Test
func (a *API) App() *fiber.App {
	return a.app
}

// registerRoutes sets up all API endpoints
func (a *API) registerRoutes(app *fiber.App) {
	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendString(Banner)
	})

	// Health checks
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.SendString("OK")
	})

	app.Get("/readyz", func(c *fiber.Ctx) error {
		if a.hub.Closed() {
			return apierrors.UnavailableError("hub_closed", "Relay is shutting down")
		}
		return c.SendString("OK")
	})

	if a.config.MetricsEnabled {
		metricsHandler := fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())
		app.Get(a.config.MetricsPath, func(c *fiber.Ctx) error {
			metricsHandler(c.Context())
			return nil
		})
	}

	app.Get("/stats", func(c *fiber.Ctx) error {
		stats := models.NewStatsResponse(a.hub.Count(), "fiber", a.config.HubPath, a.startedAt)
		return c.JSON(response.Success(fiber.StatusOK, requestID(c), stats))
	})

	app.Use(a.config.HubPath, func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return apierrors.UpgradeRequiredError("upgrade_required", "WebSocket upgrade required").
			WithDetails(models.NewUpgradeDetails(a.config.HubPath))
	})

	app.Get(a.config.HubPath, websocket.New(a.handleHub))

	app.Use(func(c *fiber.Ctx) error {
		return apierrors.NotFoundError("route_not_found", "No route for "+c.Path())
	})
}

// handleHub hands an upgraded socket to the hub
func (a *API) handleHub(c *websocket.Conn) {
	remoteAddr := c.RemoteAddr().String()

	a.mu.Lock()
	ctx := a.baseCtx
	a.mu.Unlock()

	if err := a.hub.Serve(ctx, c, remoteAddr); err != nil {
		if errors.Is(err, relay.ErrHubClosed) {
			a.logger.Debug().Str("remote_addr", remoteAddr).Msg("Rejected client, hub is shut down")
			return
		}
		a.logger.Warn().Err(err).Str("remote_addr", remoteAddr).Msg("Client session failed")
	}
}

// handleError renders every error through the shared response envelope
func (a *API) handleError(c *fiber.Ctx, err error) error {
	status, resp := response.Failure(requestID(c), toAPIError(err))
	return c.Status(status).JSON(resp)
}

// toAPIError keeps the status of errors raised by Fiber itself
func toAPIError(err error) *apierrors.APIError {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return &apierrors.APIError{
			Type:     apierrors.ErrorTypeInternal,
			Code:     "http_error",
			Message:  fiberErr.Message,
			HTTPCode: fiberErr.Code,
		}
	}
	return apierrors.FromError(err)
}

// requestLogger logs each request and counts it in pushline_http_requests_total
func (a *API) requestLogger(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()

	status := c.Response().StatusCode()
	if err != nil {
		status = toAPIError(err).HTTPCode
	}

	route := c.Path()
	if r := c.Route(); r != nil && r.Path != "" && r.Path != "/" {
		route = r.Path
	}

	metrics.GetMetrics().HTTPRequestsTotal.
		WithLabelValues(c.Method(), route, strconv.Itoa(status)).
		Inc()

	a.logger.Info().
		Str("method", c.Method()).
		Str("path", c.Path()).
		Str("request_id", requestID(c)).
		Int("status", status).
		Dur("duration", time.Since(start)).
		Msg("Request completed")

	return err
}

// Start runs the API server until ctx is cancelled or the listener fails
func (a *API) Start(ctx context.Context) error {
	a.logger.Info().Str("addr", a.config.Addr).Msg("Starting API server")

	ln, err := net.Listen("tcp", a.config.Addr)
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.addr = ln.Addr()
	a.baseCtx = ctx
	a.mu.Unlock()
	close(a.ready)

	errCh := make(chan error, 1)
	go func() {
		if err := a.app.Listener(ln); err != nil {
			a.logger.Error().Err(err).Msg("API server error")
			errCh <- err
		}
	}()

	a.logger.Info().Str("addr", ln.Addr().String()).Str("hub_path", a.config.HubPath).Msg("API server started")

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Ready is closed once the server is listening
func (a *API) Ready() <-chan struct{} {
	return a.ready
}

// Addr returns the bound listen address, empty before Start
func (a *API) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.addr == nil {
		return ""
	}
	return a.addr.String()
}

// Shutdown stops the API server
func (a *API) Shutdown(ctx context.Context) error {
	a.logger.Info().Msg("Shutting down API server")
	return a.app.ShutdownWithContext(ctx)
}

func requestID(c *fiber.Ctx) string {
	if id, ok := c.Locals("requestid").(string); ok {
		return id
	}
	return ""
}
