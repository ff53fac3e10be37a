package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()
	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "json", cfg.Format)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"json info", Config{Level: "info", Format: "json"}, false},
		{"console trace", Config{Level: "trace", Format: "console"}, false},
		{"bad format", Config{Level: "info", Format: "logfmt"}, true},
		{"bad level", Config{Level: "loud", Format: "json"}, true},
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

func TestLevelFromString(t *testing.T) {
	level, err := LevelFromString("trace")
	require.NoError(t, err)
	assert.Equal(t, TraceLevel, level)

	level, err = LevelFromString("warn")
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, level)

	_, err = LevelFromString("shout")
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	logger, err := New(Config{Level: "debug", Format: "console", Caller: true})
	require.NoError(t, err)
	logger.Debug("hello")

	logger, err = New(Config{Fields: map[string]string{"service": "driftd"}})
	require.NoError(t, err)
	logger.Info("hello")

	_, err = New(Config{Format: "logfmt"})
	assert.Error(t, err)
}

func TestNewTestLoggerRecords(t *testing.T) {
	logger, logs := NewTestLogger()
	logger.Info("indexed", zap.Int("files", 3))

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "indexed", entries[0].Message)
	assert.Equal(t, int64(3), entries[0].ContextMap()["files"])
}

func TestContextFieldsWithoutSpan(t *testing.T) {
	assert.Nil(t, ContextFields(context.Background()))
}
