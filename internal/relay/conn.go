package relay

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nkkko/pushline/pkg/proto"
)

// WSConn is the subset of a WebSocket connection the hub drives. Both
// gorilla/websocket and gofiber/websocket connections satisfy it.
type WSConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	SetReadLimit(limit int64)
	Close() error
}

// wsPeer queues frames for one connection; its writer goroutine is the
// only one writing data frames to the socket
type wsPeer struct {
	id        string
	conn      WSConn
	send      chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error
	// set once the socket is known dead; no close frame is sent then
	broken atomic.Bool
}

func newPeer(id string, conn WSConn, buffer int) *wsPeer {
	return &wsPeer{
		id:     id,
		conn:   conn,
		send:   make(chan []byte, buffer),
		closed: make(chan struct{}),
	}
}

func (p *wsPeer) ID() string {
	return p.id
}

func (p *wsPeer) Send(data []byte) bool {
	select {
	case <-p.closed:
		return false
	default:
	}

	select {
	case p.send <- data:
		return true
	default:
		return false
	}
}

func (p *wsPeer) Close() error {
	p.closeOnce.Do(func() {
		close(p.closed)
		if !p.broken.Load() {
			_ = p.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(time.Second),
			)
		}
		p.closeErr = p.conn.Close()
	})
	return p.closeErr
}

// Serve runs one client connection until it fails, the client leaves or
// ctx is cancelled. The connection is closed on return.
func (h *Hub) Serve(ctx context.Context, ws WSConn, remoteAddr string) error {
	if !h.beginServe() {
		ws.Close()
		return ErrHubClosed
	}
	defer h.serving.Done()

	id := uuid.NewString()
	logger := h.logger.With().Str("client_id", id).Str("remote_addr", remoteAddr).Logger()

	ws.SetReadLimit(h.config.MaxMessageSize)

	hello, err := proto.Encode(proto.NewHandshake(id))
	if err != nil {
		ws.Close()
		return err
	}

	// registered before the handshake so a started client never misses a publish
	peer := newPeer(id, ws, h.config.SendBufferSize)
	h.Register(peer)
	defer h.Unregister(id)
	defer peer.Close()

	// the writer is not running yet, so this is the only data write
	ws.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
	if err := ws.WriteMessage(websocket.TextMessage, hello); err != nil {
		peer.broken.Store(true)
		return fmt.Errorf("failed to send handshake: %w", err)
	}

	logger.Info().Msg("Client connected")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-ctx.Done():
			peer.Close()
		case <-peer.closed:
		}
	}()

	writerDone := make(chan struct{})
	go h.writePump(peer, writerDone)

	ws.SetReadDeadline(time.Now().Add(h.config.ClientTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.config.ClientTimeout))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug().Err(err).Msg("Client connection lost")
			}
			peer.broken.Store(true)
			break
		}
		ws.SetReadDeadline(time.Now().Add(h.config.ClientTimeout))

		h.handleFrame(ctx, peer, data)
	}

	peer.Close()
	<-writerDone

	logger.Info().Msg("Client disconnected")
	return nil
}

// handleFrame publishes a SendMessage invocation and rejects anything else
func (h *Hub) handleFrame(ctx context.Context, peer *wsPeer, data []byte) {
	env, err := proto.Decode(data)
	if err == nil && (env.Type != proto.MessageType_INVOCATION || env.Target != proto.TargetSendMessage) {
		err = fmt.Errorf("unsupported %s frame %q", env.Type, env.Target)
	}
	if err == nil && len(env.Arguments) != 1 {
		err = fmt.Errorf("%s takes exactly one argument, got %d", proto.TargetSendMessage, len(env.Arguments))
	}

	if err != nil {
		h.metrics.RelayInvalidFrames.Inc()
		h.logger.Debug().Err(err).Str("client_id", peer.ID()).Msg("Rejecting frame")
		if reply, encErr := proto.Encode(proto.NewErrorEnvelope(err.Error())); encErr == nil {
			peer.Send(reply)
		}
		return
	}

	h.Publish(ctx, peer.ID(), env.Arguments[0])
}

// writePump drains the peer queue and pings the client
func (h *Hub) writePump(peer *wsPeer, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-peer.send:
			peer.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := peer.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Debug().Err(err).Str("client_id", peer.ID()).Msg("Write failed")
				peer.broken.Store(true)
				peer.Close()
				return
			}

		case <-ticker.C:
			if err := peer.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.config.WriteTimeout)); err != nil {
				h.logger.Debug().Err(err).Str("client_id", peer.ID()).Msg("Ping failed")
				peer.Close()
				return
			}

		case <-peer.closed:
			return
		}
	}
}
