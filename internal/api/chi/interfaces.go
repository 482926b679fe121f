package chi

import (
	"context"

	"github.com/nkkko/pushline/internal/relay"
)

// Hub is the part of the relay hub the Chi API serves
type Hub interface {
	// Serve runs one upgraded client connection until it ends
	Serve(ctx context.Context, ws relay.WSConn, remoteAddr string) error

	// Count returns the number of connected clients
	Count() int

	// Closed reports whether the hub has stopped accepting clients
	Closed() bool
}
