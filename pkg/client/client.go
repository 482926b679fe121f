package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nkkko/pushline/internal/router"
	"github.com/nkkko/pushline/pkg/proto"
)

var (
	// ErrInvalidEndpoint is returned for an endpoint that is not an http(s) or ws(s) URL
	ErrInvalidEndpoint = errors.New("invalid hub endpoint")

	// ErrNotConnected is returned when invoking on a client that is not started
	ErrNotConnected = errors.New("hub connection not started")

	// ErrAlreadyStarted is returned by Start on a live connection
	ErrAlreadyStarted = errors.New("hub connection already started")

	// ErrHandshake is returned when the hub does not greet the connection
	ErrHandshake = errors.New("hub handshake failed")
)

// Client is a restartable WebSocket connection to a broadcast hub
type Client struct {
	endpoint         string
	dialer           *websocket.Dialer
	headers          http.Header
	handshakeTimeout time.Duration
	keepAliveTimeout time.Duration
	writeTimeout     time.Duration
	router           *router.Router
	logger           zerolog.Logger

	mu           sync.Mutex
	conn         *websocket.Conn
	connectionID string
	done         chan struct{}
	starting     bool
	stopping     bool
	onClosed     func(error)

	// single writer for data frames
	writeMu sync.Mutex
}

// ClientOption is a function that configures a Client
type ClientOption func(*Client)

// WithHandshakeTimeout bounds the dial and the wait for the hub greeting
func WithHandshakeTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.handshakeTimeout = timeout
		}
	}
}

// WithKeepAliveTimeout sets how long the connection may stay silent, pings
// included, before it is considered lost. Zero disables the deadline.
func WithKeepAliveTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.keepAliveTimeout = timeout
	}
}

// WithWriteTimeout bounds each outgoing frame
func WithWriteTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.writeTimeout = timeout
		}
	}
}

// WithHeaders sets additional HTTP headers on the upgrade request
func WithHeaders(headers map[string]string) ClientOption {
	return func(c *Client) {
		for k, v := range headers {
			c.headers.Set(k, v)
		}
	}
}

// WithDialer replaces the WebSocket dialer
func WithDialer(dialer *websocket.Dialer) ClientOption {
	return func(c *Client) {
		if dialer != nil {
			c.dialer = dialer
		}
	}
}

// ParseEndpoint validates a hub URL and maps http(s) to ws(s)
func ParseEndpoint(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidEndpoint, raw, err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("%w: %q: unsupported scheme %q", ErrInvalidEndpoint, raw, u.Scheme)
	}

	if u.Host == "" {
		return "", fmt.Errorf("%w: %q: missing host", ErrInvalidEndpoint, raw)
	}

	return u.String(), nil
}

// New creates a hub client for endpoint. No connection is made until Start.
func New(endpoint string, options ...ClientOption) (*Client, error) {
	wsURL, err := ParseEndpoint(endpoint)
	if err != nil {
		return nil, err
	}

	c := &Client{
		endpoint:         wsURL,
		headers:          http.Header{},
		handshakeTimeout: 10 * time.Second,
		keepAliveTimeout: 30 * time.Second,
		writeTimeout:     10 * time.Second,
		router:           router.NewRouter(),
		logger:           log.With().Str("component", "hub-client").Str("endpoint", wsURL).Logger(),
	}

	for _, option := range options {
		option(c)
	}

	if c.dialer == nil {
		c.dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: c.handshakeTimeout,
		}
	}

	return c, nil
}

// Start dials the hub and waits for its handshake. It returns once the
// connection is live or the attempt has failed. A stopped or lost client
// can be started again.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil || c.starting {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.starting = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.starting = false
		c.mu.Unlock()
	}()

	dialCtx, cancel := context.WithTimeout(ctx, c.handshakeTimeout)
	defer cancel()

	conn, _, err := c.dialer.DialContext(dialCtx, c.endpoint, c.headers)
	if err != nil {
		return fmt.Errorf("failed to connect to hub: %w", err)
	}

	connectionID, err := c.awaitHandshake(dialCtx, conn)
	if err != nil {
		conn.Close()
		return err
	}

	c.extendReadDeadline(conn)
	conn.SetPingHandler(func(appData string) error {
		c.extendReadDeadline(conn)
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(c.writeTimeout))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	done := make(chan struct{})

	c.mu.Lock()
	c.conn = conn
	c.connectionID = connectionID
	c.done = done
	c.stopping = false
	c.mu.Unlock()

	go c.receive(conn, done)

	c.logger.Debug().Str("connection_id", connectionID).Msg("Connected to hub")
	return nil
}

// awaitHandshake reads the first frame, which must be the hub greeting
func (c *Client) awaitHandshake(ctx context.Context, conn *websocket.Conn) (string, error) {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	}

	_, data, err := conn.ReadMessage()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("%w: %w", ErrHandshake, ctxErr)
		}
		return "", fmt.Errorf("%w: %w", ErrHandshake, err)
	}

	env, err := proto.Decode(data)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	if env.Type != proto.MessageType_HANDSHAKE {
		return "", fmt.Errorf("%w: unexpected %s frame", ErrHandshake, env.Type)
	}

	return env.ConnectionId, nil
}

func (c *Client) extendReadDeadline(conn *websocket.Conn) {
	if c.keepAliveTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(c.keepAliveTimeout))
	} else {
		conn.SetReadDeadline(time.Time{})
	}
}

// receive dispatches inbound invocations until the connection ends
func (c *Client) receive(conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.closed(conn, err)
			return
		}
		c.extendReadDeadline(conn)

		env, err := proto.Decode(data)
		if err != nil {
			c.logger.Debug().Err(err).Msg("Ignoring malformed frame")
			continue
		}

		switch env.Type {
		case proto.MessageType_INVOCATION:
			c.router.Dispatch(env.Target, env.Arguments)
		case proto.MessageType_ERROR:
			c.logger.Warn().Str("error", env.Error).Msg("Hub rejected a frame")
		}
	}
}

// closed clears a connection that ended on its own and reports it
func (c *Client) closed(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.conn != conn || c.stopping {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.connectionID = ""
	onClosed := c.onClosed
	c.mu.Unlock()

	conn.Close()
	c.logger.Debug().Err(err).Msg("Hub connection lost")

	if onClosed != nil {
		onClosed(err)
	}
}

// Stop closes the connection. The closed callback is not invoked.
func (c *Client) Stop() error {
	c.mu.Lock()
	conn, done := c.conn, c.done
	if conn == nil {
		c.mu.Unlock()
		return nil
	}
	c.stopping = true
	c.mu.Unlock()

	err := conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(c.writeTimeout),
	)

	select {
	case <-done:
	case <-time.After(time.Second):
	}
	conn.Close()
	<-done

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		c.connectionID = ""
	}
	c.mu.Unlock()

	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		c.logger.Debug().Err(err).Msg("Close frame not sent")
	}
	return nil
}

// Invoke calls a hub method with string arguments
func (c *Client) Invoke(ctx context.Context, target string, args ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	data, err := proto.Encode(proto.NewInvocation(target, args...))
	if err != nil {
		return err
	}

	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to invoke %s: %w", target, err)
	}
	return nil
}

// On registers the handler for a hub method, replacing any previous one
func (c *Client) On(target string, fn func(args []string)) {
	c.router.Handle(target, fn)
}

// Off removes the handler for a hub method
func (c *Client) Off(target string) {
	c.router.Remove(target)
}

// OnClosed sets the callback run when the connection ends without Stop
func (c *Client) OnClosed(fn func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClosed = fn
}

// Connected reports whether a connection is live
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// ConnectionID returns the id the hub assigned to the live connection
func (c *Client) ConnectionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectionID
}

// Endpoint returns the WebSocket URL the client dials
func (c *Client) Endpoint() string {
	return c.endpoint
}
