package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/nkkko/pushline/internal/metrics"
	"github.com/nkkko/pushline/internal/telemetry"
	"github.com/nkkko/pushline/pkg/proto"
)

// ErrHubClosed is returned by Serve after Shutdown
var ErrHubClosed = errors.New("hub is shut down")

// Config contains hub configuration
type Config struct {
	// Frames queued per client before new ones are dropped
	SendBufferSize int

	// How often the hub pings each client
	PingInterval time.Duration

	// How long a client may stay silent, pongs included, before it is dropped
	ClientTimeout time.Duration

	// Deadline for a single outgoing frame
	WriteTimeout time.Duration

	// Largest inbound frame accepted
	MaxMessageSize int64
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		SendBufferSize: 64,
		PingInterval:   15 * time.Second,
		ClientTimeout:  30 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxMessageSize: 32 * 1024,
	}
}

// Peer is one member of the broadcast set
type Peer interface {
	ID() string

	// Send queues a frame without blocking and reports whether it was accepted
	Send(data []byte) bool

	Close() error
}

// Hub relays each published message to every connected client except its sender
type Hub struct {
	config  Config
	peers   map[string]Peer
	mu      sync.RWMutex
	closed  bool
	serving sync.WaitGroup
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// NewHub creates an empty hub
func NewHub(config Config) *Hub {
	defaults := DefaultConfig()
	if config.SendBufferSize <= 0 {
		config.SendBufferSize = defaults.SendBufferSize
	}
	if config.PingInterval <= 0 {
		config.PingInterval = defaults.PingInterval
	}
	if config.ClientTimeout <= 0 {
		config.ClientTimeout = defaults.ClientTimeout
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.MaxMessageSize <= 0 {
		config.MaxMessageSize = defaults.MaxMessageSize
	}

	return &Hub{
		config:  config,
		peers:   make(map[string]Peer),
		logger:  log.With().Str("component", "hub").Logger(),
		metrics: metrics.GetMetrics(),
	}
}

// Config returns the effective configuration
func (h *Hub) Config() Config {
	return h.config
}

// Register adds p to the broadcast set. A peer registered after Shutdown is closed.
func (h *Hub) Register(p Peer) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		p.Close()
		return
	}
	prev, replaced := h.peers[p.ID()]
	h.peers[p.ID()] = p
	count := len(h.peers)
	h.mu.Unlock()

	if replaced {
		prev.Close()
	} else {
		h.metrics.RelayConnectionsActive.Inc()
	}
	h.metrics.RelayConnectionsTotal.Inc()

	h.logger.Debug().Str("client_id", p.ID()).Int("clients", count).Msg("Client registered")
}

// Unregister removes a peer from the broadcast set
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	_, exists := h.peers[id]
	delete(h.peers, id)
	count := len(h.peers)
	h.mu.Unlock()

	if exists {
		h.metrics.RelayConnectionsActive.Dec()
		h.logger.Debug().Str("client_id", id).Int("clients", count).Msg("Client unregistered")
	}
}

// Publish offers payload to every registered peer except senderID and
// returns how many accepted it. Peers with a full queue miss the message.
func (h *Hub) Publish(ctx context.Context, senderID, payload string) int {
	ctx, span := telemetry.StartSpan(ctx, "hub.publish")
	defer span.End()

	start := time.Now()

	data, err := proto.Encode(proto.NewInvocation(proto.TargetReceiveMessage, payload))
	if err != nil {
		telemetry.MarkSpanError(ctx, err)
		h.logger.Error().Err(err).Msg("Failed to encode broadcast")
		return 0
	}

	h.mu.RLock()
	targets := make([]Peer, 0, len(h.peers))
	for id, p := range h.peers {
		if id != senderID {
			targets = append(targets, p)
		}
	}
	h.mu.RUnlock()

	delivered := 0
	for _, p := range targets {
		if p.Send(data) {
			delivered++
			continue
		}
		h.metrics.RelayDeliveriesTotal.WithLabelValues("dropped").Inc()
		telemetry.AddSpanEvent(ctx, "dropped", attribute.String("client_id", p.ID()))
		h.logger.Debug().Str("client_id", p.ID()).Msg("Client queue full, dropping message")
	}

	h.metrics.RelayPublishTotal.Inc()
	h.metrics.RelayDeliveriesTotal.WithLabelValues("queued").Add(float64(delivered))
	h.metrics.RelayPublishDuration.Observe(time.Since(start).Seconds())

	telemetry.AddSpanAttributes(ctx,
		attribute.String("sender_id", senderID),
		attribute.Int("recipients", len(targets)),
		attribute.Int("delivered", delivered),
	)

	h.logger.Debug().
		Str("sender_id", senderID).
		Int("recipients", len(targets)).
		Int("delivered", delivered).
		Msg("Message published")

	return delivered
}

// Count returns the number of connected clients
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

// Closed reports whether Shutdown has been called
func (h *Hub) Closed() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.closed
}

// Shutdown closes every client and waits for their connections to unwind
func (h *Hub) Shutdown(ctx context.Context) error {
	h.logger.Info().Msg("Shutting down hub")

	h.mu.Lock()
	h.closed = true
	peers := make([]Peer, 0, len(h.peers))
	for _, p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.Unlock()

	for _, p := range peers {
		if err := p.Close(); err != nil {
			h.logger.Debug().Err(err).Str("client_id", p.ID()).Msg("Error closing client")
		}
	}

	done := make(chan struct{})
	go func() {
		h.serving.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info().Int("closed_clients", len(peers)).Msg("All client connections closed")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// beginServe tracks a connection so Shutdown can wait for it
func (h *Hub) beginServe() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.serving.Add(1)
	return true
}
