package notifier

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nkkko/pushline/internal/metrics"
)

// ErrSinkUnavailable is returned when no renderer is attached
var ErrSinkUnavailable = errors.New("notification sink unavailable")

// timeTitleLayout formats the keepalive title shown before any message
const timeTitleLayout = "15:04:05"

// State is the single notification the worker keeps on screen
type State struct {
	Badge     int
	Title     string
	Body      string
	UpdatedAt time.Time
}

// Notifier owns the notification state and renders every change.
// Renders are serialized so the badges shown never go backwards.
type Notifier struct {
	mu       sync.Mutex
	renderer Renderer
	clock    clockwork.Clock
	state    State
	logger   zerolog.Logger
	metrics  *metrics.Metrics
}

// NewNotifier creates a notifier. A nil clock uses the real clock.
func NewNotifier(r Renderer, clock clockwork.Clock) *Notifier {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Notifier{
		renderer: r,
		clock:    clock,
		logger:   log.With().Str("component", "notifier").Logger(),
		metrics:  metrics.GetMetrics(),
	}
}

// Deliver shows payload as title and body with the badge bumped by one.
// The badge only advances when the render succeeds.
func (n *Notifier) Deliver(payload string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.renderer == nil {
		n.metrics.NotificationRendersTotal.WithLabelValues("message", "unavailable").Inc()
		return ErrSinkUnavailable
	}

	badge := n.state.Badge + 1
	if err := n.renderer.Render(payload, badge); err != nil {
		n.metrics.NotificationRendersTotal.WithLabelValues("message", "failure").Inc()
		return fmt.Errorf("failed to render notification: %w", err)
	}

	n.state = State{
		Badge:     badge,
		Title:     payload,
		Body:      payload,
		UpdatedAt: n.clock.Now(),
	}

	n.metrics.NotificationRendersTotal.WithLabelValues("message", "success").Inc()
	n.metrics.NotificationBadge.Set(float64(badge))
	n.logger.Debug().Int("badge", badge).Msg("Notification updated")

	return nil
}

// Refresh re-renders the notification without touching the badge. Before
// the first message the title is the current time.
func (n *Notifier) Refresh() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.renderer == nil {
		n.metrics.NotificationRendersTotal.WithLabelValues("refresh", "unavailable").Inc()
		return ErrSinkUnavailable
	}

	now := n.clock.Now()
	stamp := "Time: " + now.Format(timeTitleLayout)

	title := n.state.Title
	if n.state.Badge == 0 {
		title = stamp
	}

	if err := n.renderer.Render(title, n.state.Badge); err != nil {
		n.metrics.NotificationRendersTotal.WithLabelValues("refresh", "failure").Inc()
		return fmt.Errorf("failed to refresh notification: %w", err)
	}

	n.state.Title = title
	n.state.Body = stamp
	n.state.UpdatedAt = now

	n.metrics.NotificationRendersTotal.WithLabelValues("refresh", "success").Inc()
	return nil
}

// SetRenderer swaps the renderer. A nil renderer makes the sink unavailable.
func (n *Notifier) SetRenderer(r Renderer) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.renderer = r
}

// Snapshot returns a copy of the current state
func (n *Notifier) Snapshot() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}
