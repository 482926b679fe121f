package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkkko/pushline/internal/relay"
	"github.com/nkkko/pushline/pkg/client"
	"github.com/nkkko/pushline/pkg/proto"
)

func TestAPIDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	assert.Equal(t, ":8080", config.Addr)
	assert.Equal(t, "/BroadcastHub", config.HubPath)
}

func TestAPIEmptyConfig(t *testing.T) {
	api := NewAPI(Config{}, relay.NewHub(relay.DefaultConfig()))
	assert.Equal(t, ":8080", api.config.Addr)
	assert.Equal(t, "/BroadcastHub", api.config.HubPath)
	assert.Equal(t, "/metrics", api.config.MetricsPath)
}

func TestRoutes(t *testing.T) {
	api := NewAPI(DefaultConfig(), relay.NewHub(relay.DefaultConfig()))

	tests := []struct {
		name   string
		path   string
		status int
		body   string
	}{
		{name: "banner", path: "/", status: http.StatusOK, body: Banner},
		{name: "health", path: "/healthz", status: http.StatusOK, body: "OK"},
		{name: "ready", path: "/readyz", status: http.StatusOK, body: "OK"},
		{name: "hub without upgrade", path: "/BroadcastHub", status: http.StatusUpgradeRequired, body: `"details":{"hub_path":"/BroadcastHub","protocol":"websocket"}`},
		{name: "unknown", path: "/nope", status: http.StatusNotFound, body: "route_not_found"},
		{name: "metrics", path: "/metrics", status: http.StatusOK, body: "pushline_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := api.App().Test(httptest.NewRequest(http.MethodGet, tt.path, nil), -1)
			require.NoError(t, err)
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)

			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Contains(t, string(body), tt.body)
		})
	}
}

func TestStats(t *testing.T) {
	api := NewAPI(DefaultConfig(), relay.NewHub(relay.DefaultConfig()))

	resp, err := api.App().Test(httptest.NewRequest(http.MethodGet, "/stats", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Success   bool   `json:"success"`
		RequestID string `json:"request_id"`
		Data      struct {
			Connections int    `json:"connections"`
			Transport   string `json:"transport"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))

	assert.True(t, body.Success)
	assert.NotEmpty(t, body.RequestID)
	assert.Equal(t, "fiber", body.Data.Transport)
	assert.Zero(t, body.Data.Connections)
}

func TestReadyFailsAfterHubShutdown(t *testing.T) {
	hub := relay.NewHub(relay.DefaultConfig())
	api := NewAPI(DefaultConfig(), hub)
	require.NoError(t, hub.Shutdown(context.Background()))

	resp, err := api.App().Test(httptest.NewRequest(http.MethodGet, "/readyz", nil), -1)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestRelayOverFiber(t *testing.T) {
	hub := relay.NewHub(relay.DefaultConfig())
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	api := NewAPI(cfg, hub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- api.Start(ctx) }()

	select {
	case <-api.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("server did not start")
	}

	endpoint := "http://" + api.Addr() + cfg.HubPath

	received := make(chan string, 1)
	device, err := client.New(endpoint)
	require.NoError(t, err)
	device.On(proto.TargetReceiveMessage, func(args []string) { received <- args[0] })
	require.NoError(t, device.Start(context.Background()))
	defer device.Stop()

	sender, err := client.New(endpoint)
	require.NoError(t, err)
	require.NoError(t, sender.Start(context.Background()))
	defer sender.Stop()

	require.Equal(t, 2, hub.Count())
	require.NoError(t, sender.Invoke(context.Background(), proto.TargetSendMessage, "hello"))

	select {
	case got := <-received:
		assert.Equal(t, "hello", got)
	case <-time.After(2 * time.Second):
		t.Fatal("message not relayed")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	require.NoError(t, hub.Shutdown(shutdownCtx))

	cancel()
	require.NoError(t, <-done)
	require.NoError(t, api.Shutdown(shutdownCtx))
}
