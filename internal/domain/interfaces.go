package domain

import (
	"context"
)

// APIEngine defines the interface for relay transport implementations
type APIEngine interface {
	// Start runs the server until ctx is cancelled or it fails
	Start(ctx context.Context) error

	// Shutdown stops the server
	Shutdown(ctx context.Context) error

	// Ready is closed once the server is listening
	Ready() <-chan struct{}

	// Addr returns the bound listen address, empty before Start
	Addr() string
}
