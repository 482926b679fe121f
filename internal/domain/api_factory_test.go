package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkkko/pushline/internal/api"
	"github.com/nkkko/pushline/internal/api/chi"
	"github.com/nkkko/pushline/internal/relay"
)

func TestNewAPIEngine(t *testing.T) {
	hub := relay.NewHub(relay.DefaultConfig())

	tests := []struct {
		name    string
		apiType APIType
		check   func(t *testing.T, engine APIEngine)
	}{
		{
			name:    "chi",
			apiType: ChiAPI,
			check: func(t *testing.T, engine APIEngine) {
				assert.IsType(t, &chi.ChiAPI{}, engine)
			},
		},
		{
			name:    "default is chi",
			apiType: "",
			check: func(t *testing.T, engine APIEngine) {
				assert.IsType(t, &chi.ChiAPI{}, engine)
			},
		},
		{
			name:    "fiber",
			apiType: FiberAPI,
			check: func(t *testing.T, engine APIEngine) {
				assert.IsType(t, &api.API{}, engine)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, err := NewAPIEngine(APIConfig{Type: tt.apiType, Addr: "127.0.0.1:0"}, hub)
			require.NoError(t, err)
			tt.check(t, engine)
			assert.Empty(t, engine.Addr())
		})
	}
}

func TestNewAPIEngineUnknownType(t *testing.T) {
	_, err := NewAPIEngine(APIConfig{Type: "gin"}, relay.NewHub(relay.DefaultConfig()))
	assert.ErrorContains(t, err, "unsupported API type")
}
