package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/nkkko/pushline/internal/logging"
	"github.com/nkkko/pushline/internal/notifier"
	"github.com/nkkko/pushline/internal/supervisor"
)

// Config contains worker host configuration
type Config struct {
	// Keepalive period; the first tick fires immediately on Start
	TickInterval time.Duration

	Supervisor supervisor.Config
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		TickInterval: 10 * time.Second,
		Supervisor:   supervisor.DefaultConfig(),
	}
}

// Host is the long-lived background worker: it owns the supervisor and
// drives it from a fixed keepalive tick
type Host struct {
	config   Config
	factory  supervisor.ConnectionFactory
	notifier *notifier.Notifier
	clock    clockwork.Clock
	logger   zerolog.Logger

	mu         sync.Mutex
	supervisor *supervisor.Supervisor
	cancel     context.CancelFunc
	loopDone   chan struct{}

	running atomic.Bool
}

// NewHost creates a stopped host. A nil clock uses the real clock.
func NewHost(config Config, factory supervisor.ConnectionFactory, n *notifier.Notifier, clock clockwork.Clock) *Host {
	if config.TickInterval <= 0 {
		config.TickInterval = DefaultConfig().TickInterval
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Host{
		config:   config,
		factory:  factory,
		notifier: n,
		clock:    clock,
		logger:   logging.Component("worker"),
	}
}

// Start builds a fresh supervisor and begins ticking. Calling Start on a
// started host does nothing.
func (h *Host) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cancel != nil {
		return nil
	}

	var sink supervisor.Sink
	if h.notifier != nil {
		sink = h.notifier
	}

	sup, err := supervisor.New(h.config.Supervisor, h.factory, sink)
	if err != nil {
		return fmt.Errorf("failed to create supervisor: %w", err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	h.supervisor = sup
	h.cancel = cancel
	h.loopDone = make(chan struct{})

	h.logger.Info().
		Dur("tick_interval", h.config.TickInterval).
		Str("endpoint", h.config.Supervisor.Endpoint).
		Msg("Starting worker")

	go h.loop(loopCtx, h.loopDone)
	return nil
}

// loop ticks once immediately and then on every interval
func (h *Host) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := h.clock.NewTicker(h.config.TickInterval)
	defer ticker.Stop()

	h.Tick(ctx)

	for {
		select {
		case <-ticker.Chan():
			h.Tick(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Tick refreshes the notification and repairs the connection. A panic in
// either step is logged and does not stop the schedule.
func (h *Host) Tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error().Interface("panic", r).Msg("Recovered from panic in tick")
		}
	}()

	h.running.Store(true)

	if h.notifier != nil {
		if err := h.notifier.Refresh(); err != nil {
			h.logger.Debug().Err(err).Msg("Keepalive render failed")
		}
	}

	if sup := h.Supervisor(); sup != nil {
		sup.EnsureConnection(ctx)
		h.logger.Debug().
			Stringer("state", sup.State()).
			Int("attempts", sup.Attempts()).
			Time("last_message_at", sup.LastMessageAt()).
			Msg("Tick")
	}
}

// Stop ends the tick loop, waits for an in-flight tick and shuts the
// supervisor down
func (h *Host) Stop() {
	h.mu.Lock()
	cancel, done, sup := h.cancel, h.loopDone, h.supervisor
	h.cancel = nil
	h.loopDone = nil
	h.supervisor = nil
	h.mu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	<-done
	sup.Shutdown()
	h.running.Store(false)

	h.logger.Info().Msg("Worker stopped")
}

// IsRunning reports whether the host has ticked since it was last stopped
func (h *Host) IsRunning() bool {
	return h.running.Load()
}

// Supervisor returns the live supervisor, nil while stopped
func (h *Host) Supervisor() *supervisor.Supervisor {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.supervisor
}
