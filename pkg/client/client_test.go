package client

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkkko/pushline/pkg/proto"
)

// echoHub greets each connection and answers SendMessage(x) with
// ReceiveMessage(x) on the same connection
type echoHub struct {
	upgrader  websocket.Upgrader
	greet     bool
	mu        sync.Mutex
	conns     []*websocket.Conn
	connected chan struct{}
}

func newEchoHub(greet bool) *echoHub {
	return &echoHub{greet: greet, connected: make(chan struct{}, 8)}
}

func (h *echoHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	h.mu.Lock()
	h.conns = append(h.conns, conn)
	h.mu.Unlock()

	greeting := proto.NewInvocation(proto.TargetReceiveMessage, "too early")
	if h.greet {
		greeting = proto.NewHandshake("conn-test")
	}
	data, _ := proto.Encode(greeting)
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return
	}
	h.connected <- struct{}{}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		env, err := proto.Decode(data)
		if err != nil || env.Target != proto.TargetSendMessage {
			continue
		}
		reply, _ := proto.Encode(proto.NewInvocation(proto.TargetReceiveMessage, env.Arguments...))
		if err := conn.WriteMessage(websocket.TextMessage, reply); err != nil {
			return
		}
	}
}

// dropAll closes every server side connection without a close frame
func (h *echoHub) dropAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.conns {
		c.UnderlyingConn().Close()
	}
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := New(srv.URL, WithHandshakeTimeout(2*time.Second), WithWriteTimeout(time.Second))
	require.NoError(t, err)
	return c
}

func TestParseEndpoint(t *testing.T) {
	cases := map[string]string{
		"http://localhost:8080/BroadcastHub": "ws://localhost:8080/BroadcastHub",
		"https://relay.example/BroadcastHub": "wss://relay.example/BroadcastHub",
		"ws://10.0.2.2:5000/BroadcastHub":    "ws://10.0.2.2:5000/BroadcastHub",
	}
	for in, want := range cases {
		got, err := ParseEndpoint(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	for _, bad := range []string{"", "ftp://relay/hub", "http://", "::not a url"} {
		_, err := ParseEndpoint(bad)
		assert.ErrorIs(t, err, ErrInvalidEndpoint, bad)
	}
}

func TestStartInvokeReceive(t *testing.T) {
	hub := newEchoHub(true)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	c := newTestClient(t, srv)

	received := make(chan []string, 1)
	c.On(proto.TargetReceiveMessage, func(args []string) {
		received <- args
	})

	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()

	assert.True(t, c.Connected())
	assert.Equal(t, "conn-test", c.ConnectionID())
	assert.ErrorIs(t, c.Start(context.Background()), ErrAlreadyStarted)

	require.NoError(t, c.Invoke(context.Background(), proto.TargetSendMessage, "hello"))

	select {
	case args := <-received:
		assert.Equal(t, []string{"hello"}, args)
	case <-time.After(2 * time.Second):
		t.Fatal("no ReceiveMessage invocation")
	}
}

func TestStartUsesHeadersAndDialer(t *testing.T) {
	hub := newEchoHub(true)
	role := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role <- r.Header.Get("X-Pushline-Role")
		hub.ServeHTTP(w, r)
	}))
	defer srv.Close()

	var dials atomic.Int32
	dialer := &websocket.Dialer{
		HandshakeTimeout: time.Second,
		NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			dials.Add(1)
			var d net.Dialer
			return d.DialContext(ctx, network, addr)
		},
	}

	c, err := New(srv.URL,
		WithHeaders(map[string]string{"X-Pushline-Role": "sender"}),
		WithDialer(dialer),
		WithDialer(nil),
	)
	require.NoError(t, err)

	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()

	assert.Equal(t, "sender", <-role)
	assert.Equal(t, int32(1), dials.Load())
}

func TestStartFailsWithoutHandshake(t *testing.T) {
	srv := httptest.NewServer(newEchoHub(false))
	defer srv.Close()

	c := newTestClient(t, srv)
	err := c.Start(context.Background())
	assert.ErrorIs(t, err, ErrHandshake)
	assert.False(t, c.Connected())
}

func TestStartFailsWhenHubUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := New(url)
	require.NoError(t, err)
	assert.Error(t, c.Start(context.Background()))
	assert.False(t, c.Connected())
}

func TestStartHonoursCancelledContext(t *testing.T) {
	srv := httptest.NewServer(newEchoHub(true))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := newTestClient(t, srv)
	assert.Error(t, c.Start(ctx))
	assert.False(t, c.Connected())
}

func TestInvokeWhenNotConnected(t *testing.T) {
	c, err := New("http://localhost:1/BroadcastHub")
	require.NoError(t, err)
	assert.ErrorIs(t, c.Invoke(context.Background(), proto.TargetSendMessage, "x"), ErrNotConnected)
}

func TestOnClosedFiresOnTransportLoss(t *testing.T) {
	hub := newEchoHub(true)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	c := newTestClient(t, srv)
	lost := make(chan error, 1)
	c.OnClosed(func(err error) { lost <- err })

	require.NoError(t, c.Start(context.Background()))
	<-hub.connected
	hub.dropAll()

	select {
	case err := <-lost:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("closed callback not invoked")
	}
	assert.False(t, c.Connected())
}

func TestStopDoesNotFireOnClosedAndAllowsRestart(t *testing.T) {
	hub := newEchoHub(true)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	c := newTestClient(t, srv)
	var closedCalls int
	var mu sync.Mutex
	c.OnClosed(func(error) {
		mu.Lock()
		closedCalls++
		mu.Unlock()
	})

	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.Stop())
	assert.False(t, c.Connected())

	// Stop on a stopped client is a no-op
	require.NoError(t, c.Stop())

	require.NoError(t, c.Start(context.Background()))
	assert.True(t, c.Connected())
	require.NoError(t, c.Stop())

	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, closedCalls)
}

func TestOffRemovesHandler(t *testing.T) {
	c, err := New("http://localhost:1/BroadcastHub")
	require.NoError(t, err)

	c.On(proto.TargetReceiveMessage, func([]string) {})
	c.Off(proto.TargetReceiveMessage)
	assert.Zero(t, c.router.Len())
	assert.True(t, strings.HasPrefix(c.Endpoint(), "ws://"))
}
