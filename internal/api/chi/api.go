package chi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	apierrors "github.com/nkkko/pushline/internal/api/errors"
	"github.com/nkkko/pushline/internal/api/models"
	"github.com/nkkko/pushline/internal/api/response"
	"github.com/nkkko/pushline/internal/logging"
	"github.com/nkkko/pushline/internal/relay"
	"github.com/nkkko/pushline/internal/telemetry"
)

// Banner is served on the root route
const Banner = "Hello World!"

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

	// Allowed CORS origins
	CORSOrigins []string

	// Metrics endpoint
	MetricsEnabled bool
	MetricsPath    string

	// Wrap requests in OpenTelemetry spans
	TracingEnabled bool
	ServiceName    string
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		HubPath:        "/BroadcastHub",
		ReadTimeout:    5 * time.Second,
		WriteTimeout:   10 * time.Second,
		IdleTimeout:    120 * time.Second,
		CORSOrigins:    []string{"*"},
		MetricsEnabled: true,
		MetricsPath:    "/metrics",
		ServiceName:    "pushline",
	}
}

// ChiAPI serves the relay hub over net/http using the Chi router
type ChiAPI struct {
	config    Config
	hub       Hub
	router    *chi.Mux
	upgrader  websocket.Upgrader
	startedAt time.Time
	logger    zerolog.Logger

	mu      sync.Mutex
	server  *http.Server
	addr    net.Addr
	baseCtx context.Context
	ready   chan struct{}
}

// NewChiAPI creates a new API instance with Chi router
func NewChiAPI(config Config, hub Hub) *ChiAPI {
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
	if len(config.CORSOrigins) == 0 {
		config.CORSOrigins = defaults.CORSOrigins
	}
	if config.MetricsPath == "" {
		config.MetricsPath = defaults.MetricsPath
	}
	if config.ServiceName == "" {
		config.ServiceName = defaults.ServiceName
	}

	a := &ChiAPI{
		config:    config,
		hub:       hub,
		startedAt: time.Now(),
		logger:    log.With().Str("component", "api-chi").Logger(),
		baseCtx:   context.Background(),
		ready:     make(chan struct{}),
		upgrader: websocket.Upgrader{
			HandshakeTimeout: config.ReadTimeout,
			// devices connect from anywhere
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	a.router = a.newRouter()

	return a
}

// Handler returns the routed handler, for embedding or httptest
func (a *ChiAPI) Handler() http.Handler {
	return a.router
}

func (a *ChiAPI) newRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if a.config.TracingEnabled {
		r.Use(telemetry.HTTPMiddleware(a.config.ServiceName))
	}
	r.Use(logging.HTTPMiddleware())
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: a.config.CORSOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	a.registerRoutes(r)

	return r
}

// registerRoutes sets up all API endpoints
func (a *ChiAPI) registerRoutes(r chi.Router) {
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(Banner))
	})

	// Health checks
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Get("/readyz", a.handleReady)

	if a.config.MetricsEnabled {
		r.Handle(a.config.MetricsPath, promhttp.Handler())
	}

	r.Get("/stats", a.handleStats)

	r.Get(a.config.HubPath, a.handleHub)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, r, apierrors.NotFoundError("route_not_found", "No route for "+r.URL.Path))
	})
}

// handleReady reports whether the hub still accepts clients
func (a *ChiAPI) handleReady(w http.ResponseWriter, r *http.Request) {
	if a.hub.Closed() {
		response.Error(w, r, apierrors.UnavailableError("hub_closed", "Relay is shutting down"))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// handleStats returns the current relay stats
func (a *ChiAPI) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := models.NewStatsResponse(a.hub.Count(), "chi", a.config.HubPath, a.startedAt)
	response.JSON(w, r, http.StatusOK, stats)
}

// handleHub upgrades the request and hands the socket to the hub
func (a *ChiAPI) handleHub(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		response.Error(w, r, apierrors.UpgradeRequiredError("upgrade_required", "WebSocket upgrade required").
			WithDetails(models.NewUpgradeDetails(a.config.HubPath)))
		return
	}

	logger := logging.FromContext(r.Context())

	ws, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already written the failure
		logger.Debug().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	a.mu.Lock()
	ctx := a.baseCtx
	a.mu.Unlock()

	if err := a.hub.Serve(ctx, ws, r.RemoteAddr); err != nil {
		if errors.Is(err, relay.ErrHubClosed) {
			logger.Debug().Msg("Rejected client, hub is shut down")
			return
		}
		logger.Warn().Err(err).Msg("Client session failed")
	}
}

// Start runs the API server until ctx is cancelled or the listener fails
func (a *ChiAPI) Start(ctx context.Context) error {
	a.logger.Info().Str("addr", a.config.Addr).Msg("Starting API server with Chi router")

	ln, err := net.Listen("tcp", a.config.Addr)
	if err != nil {
		return err
	}

	server := &http.Server{
		Handler:      a.router,
		ReadTimeout:  a.config.ReadTimeout,
		WriteTimeout: a.config.WriteTimeout,
		IdleTimeout:  a.config.IdleTimeout,
	}

	a.mu.Lock()
	a.server = server
	a.addr = ln.Addr()
	a.baseCtx = ctx
	a.mu.Unlock()
	close(a.ready)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
func (a *ChiAPI) Ready() <-chan struct{} {
	return a.ready
}

// Addr returns the bound listen address, empty before Start
func (a *ChiAPI) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.addr == nil {
		return ""
	}
	return a.addr.String()
}

// Shutdown stops the API server
func (a *ChiAPI) Shutdown(ctx context.Context) error {
	a.logger.Info().Msg("Shutting down API server")

	a.mu.Lock()
	server := a.server
	a.mu.Unlock()

	if server != nil {
		return server.Shutdown(ctx)
	}
	return nil
}
