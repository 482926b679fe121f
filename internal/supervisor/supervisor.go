package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/nkkko/pushline/internal/metrics"
	"github.com/nkkko/pushline/internal/telemetry"
	"github.com/nkkko/pushline/pkg/client"
	"github.com/nkkko/pushline/pkg/proto"
)

// ErrInvalidEndpoint is returned by New for an endpoint that can never connect
var ErrInvalidEndpoint = errors.New("invalid relay endpoint")

// State represents the connection state.
type State uint8

const (
	// StateDisconnected indicates no live connection and no attempt in flight.
	StateDisconnected State = iota

	// StateConnecting indicates a start attempt is in flight.
	StateConnecting

	// StateConnected indicates a live connection.
	StateConnected
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	default:
		return "UNKNOWN"
	}
}

// Connection is a restartable duplex connection to the relay
type Connection interface {
	Start(ctx context.Context) error
	Stop() error
	On(target string, fn func(args []string))
	Off(target string)
	OnClosed(fn func(err error))
}

// ConnectionFactory builds the connection for an endpoint
type ConnectionFactory func(endpoint string) (Connection, error)

// Sink receives every message payload
type Sink interface {
	Deliver(payload string) error
}

// Config contains supervisor configuration
type Config struct {
	// Relay hub URL
	Endpoint string

	// Upper bound for one start attempt
	ConnectTimeout time.Duration
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		Endpoint:       "http://localhost:8080/BroadcastHub",
		ConnectTimeout: 10 * time.Second,
	}
}

// Supervisor keeps at most one connection to the relay alive and forwards
// its messages to a sink. Repairs happen only when EnsureConnection is
// called; there is no retry loop of its own.
type Supervisor struct {
	config  Config
	factory ConnectionFactory
	sink    Sink

	mu               sync.Mutex
	conn             Connection
	state            State
	attempts         int
	cancelStart      context.CancelFunc
	closedSinceStart bool
	lastMessageAt    time.Time

	// held for the duration of each sink delivery
	dispatchMu sync.Mutex
	stopped    atomic.Bool

	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// New creates a supervisor. No connection is made until EnsureConnection.
func New(config Config, factory ConnectionFactory, sink Sink) (*Supervisor, error) {
	if _, err := client.ParseEndpoint(config.Endpoint); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidEndpoint, err)
	}
	if factory == nil {
		return nil, errors.New("connection factory is required")
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = DefaultConfig().ConnectTimeout
	}

	return &Supervisor{
		config:  config,
		factory: factory,
		sink:    sink,
		logger:  log.With().Str("component", "supervisor").Str("endpoint", config.Endpoint).Logger(),
		metrics: metrics.GetMetrics(),
	}, nil
}

// HubConnectionFactory builds hub client connections
func HubConnectionFactory(options ...client.ClientOption) ConnectionFactory {
	return func(endpoint string) (Connection, error) {
		c, err := client.New(endpoint, options...)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// EnsureConnection starts the connection unless it is live or already
// starting. Failures are logged and counted, never returned.
func (s *Supervisor) EnsureConnection(ctx context.Context) {
	if s.stopped.Load() {
		return
	}

	s.mu.Lock()
	if s.stopped.Load() || s.state != StateDisconnected {
		s.mu.Unlock()
		return
	}

	if s.conn == nil {
		conn, err := s.factory(s.config.Endpoint)
		if err != nil {
			s.startFailed(err)
			s.mu.Unlock()
			return
		}
		// handlers are registered exactly once per connection
		conn.On(proto.TargetReceiveMessage, s.receive)
		conn.OnClosed(func(err error) { s.connectionClosed(conn, err) })
		s.conn = conn
	}

	conn := s.conn
	startCtx, cancel := context.WithTimeout(ctx, s.config.ConnectTimeout)
	s.cancelStart = cancel
	s.closedSinceStart = false
	s.setState(StateConnecting)
	s.mu.Unlock()

	spanCtx, span := telemetry.StartSpan(startCtx, "supervisor.connect")
	err := conn.Start(spanCtx)
	telemetry.MarkSpanError(spanCtx, err)
	span.End()
	cancel()

	s.mu.Lock()
	s.cancelStart = nil

	if s.stopped.Load() || s.conn != conn {
		s.mu.Unlock()
		if err == nil {
			// raced with Shutdown and won
			conn.Stop()
		}
		return
	}

	switch {
	case err != nil:
		s.startFailed(err)
	case s.closedSinceStart:
		s.startFailed(errors.New("connection closed during start"))
	default:
		s.attempts = 0
		s.setState(StateConnected)
		s.metrics.SupervisorConnectAttempts.WithLabelValues("success").Inc()
		telemetry.AddSpanAttributes(spanCtx, attribute.Bool("connected", true))
		s.logger.Info().Msg("Connected to relay")
	}
	s.mu.Unlock()
}

// startFailed records a failed attempt. Caller holds mu.
func (s *Supervisor) startFailed(err error) {
	s.attempts++
	s.setState(StateDisconnected)
	s.metrics.SupervisorConnectAttempts.WithLabelValues("failure").Inc()
	s.logger.Warn().Err(err).Int("attempts", s.attempts).Msg("Failed to connect to relay, retrying on next tick")
}

// setState moves the state machine. Caller holds mu.
func (s *Supervisor) setState(state State) {
	if s.state != state {
		s.logger.Debug().Stringer("from", s.state).Stringer("to", state).Msg("State change")
	}
	s.state = state
	s.metrics.SupervisorState.Set(float64(state))
}

// connectionClosed handles a transport loss reported by conn
func (s *Supervisor) connectionClosed(conn Connection, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped.Load() || s.conn != conn {
		return
	}

	s.closedSinceStart = true
	if s.state == StateConnected {
		s.setState(StateDisconnected)
		s.logger.Info().Err(err).Msg("Connection to relay lost, repairing on next tick")
	}
}

// receive unpacks a ReceiveMessage invocation
func (s *Supervisor) receive(args []string) {
	if len(args) != 1 {
		s.metrics.SupervisorMessagesTotal.WithLabelValues("malformed").Inc()
		s.logger.Debug().Int("args", len(args)).Msg("Dropping malformed message")
		return
	}
	s.OnMessageReceived(args[0])
}

// OnMessageReceived forwards payload to the sink. Without a working sink
// the message is dropped.
func (s *Supervisor) OnMessageReceived(payload string) {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	if s.stopped.Load() {
		s.metrics.SupervisorMessagesTotal.WithLabelValues("dropped").Inc()
		return
	}

	s.mu.Lock()
	s.lastMessageAt = time.Now()
	s.mu.Unlock()

	if s.sink == nil {
		s.metrics.SupervisorMessagesTotal.WithLabelValues("dropped").Inc()
		s.logger.Debug().Msg("No sink, dropping message")
		return
	}

	if err := s.sink.Deliver(payload); err != nil {
		s.metrics.SupervisorMessagesTotal.WithLabelValues("dropped").Inc()
		s.logger.Debug().Err(err).Msg("Sink rejected message, dropping")
		return
	}

	s.metrics.SupervisorMessagesTotal.WithLabelValues("delivered").Inc()
}

// Shutdown stops the connection and waits for any in-flight delivery.
// No sink call happens after it returns. Safe to call more than once.
func (s *Supervisor) Shutdown() {
	if !s.stopped.CompareAndSwap(false, true) {
		return
	}

	s.mu.Lock()
	if s.cancelStart != nil {
		s.cancelStart()
	}
	conn := s.conn
	s.conn = nil
	s.setState(StateDisconnected)
	s.mu.Unlock()

	if conn != nil {
		conn.Off(proto.TargetReceiveMessage)
		conn.OnClosed(nil)
		if err := conn.Stop(); err != nil {
			s.logger.Debug().Err(err).Msg("Error stopping connection")
		}
	}

	// wait out a delivery that started before stopped was set
	s.dispatchMu.Lock()
	s.dispatchMu.Unlock()

	s.logger.Info().Msg("Supervisor stopped")
}

// State returns the current connection state
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Attempts returns the number of consecutive failed start attempts
func (s *Supervisor) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// LastMessageAt returns when the last message arrived, zero if none has
func (s *Supervisor) LastMessageAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastMessageAt
}
