package logger

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestRedactingCore(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := zap.New(NewRedactingCore(core)).With(zap.String("authorization", "Bearer abc"))

	log.Info("calling airtable",
		zap.String("api_key", "keySECRET"),
		zap.String("base_id", "app123"),
		zap.String("apiKey", "keySECRET"),
	)

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, redacted, fields["api_key"])
	assert.Equal(t, redacted, fields["apiKey"])
	assert.Equal(t, redacted, fields["authorization"])
	assert.Equal(t, "app123", fields["base_id"])
}

func TestRedactingCore_RespectsLevel(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	log := zap.New(NewRedactingCore(core))

	log.Info("dropped")
	log.Warn("kept")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "kept", logs.All()[0].Message)
}

func TestNew(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "app.log")

	log, err := New(Config{Level: "debug", Format: "json", OutputPath: path})
	require.NoError(t, err)
	log.Info("hello")
	assert.NoError(t, log.Sync())
	assert.FileExists(t, path)

	log, err = New(Config{Level: "bogus"})
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(zapcore.DebugLevel))
}

func TestIsSensitiveKey(t *testing.T) {
	for _, k := range []string{"api_key", "X-Api-Token", "client_secret", "Password", "Authorization"} {
		assert.True(t, IsSensitiveKey(k), k)
	}
	for _, k := range []string{"base_id", "table_name", "template_id"} {
		assert.False(t, IsSensitiveKey(k), k)
	}
}
