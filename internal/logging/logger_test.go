package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[LogLevel]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		"INFO":    zerolog.InfoLevel,
		"":        zerolog.InfoLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, "level %q", in)
		assert.Equal(t, want, got)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestSetupWritesGlobalFields(t *testing.T) {
	prev := log.Logger
	prevLevel := zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prev
		zerolog.SetGlobalLevel(prevLevel)
	})

	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Output = &buf
	cfg.GlobalFields = map[string]string{"service": "pushline-test"}
	require.NoError(t, Setup(cfg))

	logger := Component("relay")
	logger.Info().Msg("hello")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "pushline-test", line["service"])
	assert.Equal(t, "relay", line["component"])
	assert.Equal(t, "hello", line["message"])
}

func TestSetupRejectsBadLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Level = "verbose"
	assert.Error(t, Setup(cfg))
}

func TestWithContextRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).With().Str("k", "v").Logger()

	ctx := WithContext(context.Background(), logger)
	l := FromContext(ctx)
	l.Info().Msg("x")

	assert.Contains(t, buf.String(), `"k":"v"`)
}

func TestResponseWriterIsHijacker(t *testing.T) {
	var w http.ResponseWriter = &responseWriter{ResponseWriter: httptest.NewRecorder()}
	_, ok := w.(http.Hijacker)
	assert.True(t, ok, "wrapped writer must stay upgradeable")
}

func TestHTTPMiddlewareRecordsStatus(t *testing.T) {
	h := HTTPMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/pot", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "short and stout", rec.Body.String())
}
