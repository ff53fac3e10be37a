package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "localhost:4317", cfg.Endpoint)
	assert.Equal(t, "driftd", cfg.ServiceName)
	assert.InDelta(t, 1.0, cfg.SampleRate, 1e-9)
	assert.Equal(t, 15*time.Second, cfg.MetricsInterval)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"disabled skips validation", Config{SampleRate: 99}, false},
		{"enabled local insecure", Config{Enabled: true, Endpoint: "localhost:4317", Insecure: true, SampleRate: 1}, false},
		{"insecure remote rejected", Config{Enabled: true, Endpoint: "collector.example.com:4317", Insecure: true, SampleRate: 1}, true},
		{"bad sample rate", Config{Enabled: true, Endpoint: "localhost:4317", SampleRate: 2}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewDisabledIsNoop(t *testing.T) {
	tel, err := New(context.Background(), Config{})
	require.NoError(t, err)
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestIsLocalEndpoint(t *testing.T) {
	assert.True(t, isLocalEndpoint("localhost:4317"))
	assert.True(t, isLocalEndpoint("127.0.0.1:4317"))
	assert.True(t, isLocalEndpoint("[::1]:4317"))
	assert.False(t, isLocalEndpoint("collector.example.com:4317"))
}
