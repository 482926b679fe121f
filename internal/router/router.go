package router

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// HandlerFunc handles the arguments of one hub invocation
type HandlerFunc func(args []string)

// Router maps hub method names to the single handler registered for each
type Router struct {
	handlers map[string]HandlerFunc
	mu       sync.RWMutex
	logger   zerolog.Logger
}

// NewRouter creates an empty dispatch table
func NewRouter() *Router {
	return &Router{
		handlers: make(map[string]HandlerFunc),
		logger:   log.With().Str("component", "router").Logger(),
	}
}

// Handle registers fn for target, replacing any previous handler.
// A target never has more than one handler.
func (r *Router) Handle(target string, fn HandlerFunc) {
	if fn == nil {
		r.Remove(target)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[target]; exists {
		r.logger.Debug().Str("target", target).Msg("Replacing handler")
	}
	r.handlers[target] = fn
}

// Remove drops the handler for target
func (r *Router) Remove(target string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, target)
}

// Dispatch calls the handler for target and reports whether one was found.
// The handler runs on the caller's goroutine.
func (r *Router) Dispatch(target string, args []string) bool {
	r.mu.RLock()
	fn, ok := r.handlers[target]
	r.mu.RUnlock()

	if !ok {
		r.logger.Debug().Str("target", target).Msg("No handler registered, dropping invocation")
		return false
	}

	fn(args)
	return true
}

// Len returns the number of registered handlers
func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}
