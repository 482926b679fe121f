package notifier

import (
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"
)

// ActionUserTapped tags the action fired when the user taps the notification
const ActionUserTapped = "USER_TAPPED_NOTIFICATION"

// Renderer puts a notification on screen
type Renderer interface {
	Render(title string, badge int) error
}

// RendererFunc adapts a function to Renderer
type RendererFunc func(title string, badge int) error

// Render calls f
func (f RendererFunc) Render(title string, badge int) error {
	return f(title, badge)
}

// ConsoleRenderer writes one "[#badge] title" line per render
type ConsoleRenderer struct {
	mu  sync.Mutex
	out io.Writer
}

// NewConsoleRenderer creates a renderer writing to out
func NewConsoleRenderer(out io.Writer) *ConsoleRenderer {
	return &ConsoleRenderer{out: out}
}

func (r *ConsoleRenderer) Render(title string, badge int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := fmt.Fprintf(r.out, "[#%d] %s\n", badge, title)
	return err
}

// LogRenderer emits each render as a structured log event
type LogRenderer struct {
	logger zerolog.Logger
}

// NewLogRenderer creates a renderer logging through logger
func NewLogRenderer(logger zerolog.Logger) *LogRenderer {
	return &LogRenderer{logger: logger}
}

func (r *LogRenderer) Render(title string, badge int) error {
	r.logger.Info().
		Str("title", title).
		Int("badge", badge).
		Str("action", ActionUserTapped).
		Msg("Notification")
	return nil
}
