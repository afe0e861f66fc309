package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, Config{Level: "info", Format: "json"}.Validate())
	assert.NoError(t, Config{Level: "debug", Format: "console"}.Validate())
	assert.Error(t, Config{Level: "loud", Format: "json"}.Validate())
	assert.Error(t, Config{Level: "info", Format: "xml"}.Validate())
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(Config{Level: "info", Format: "json"})
	require.NoError(t, err)
	require.NotNil(t, logger)

	_, err = NewLogger(Config{Level: "bogus", Format: "json"})
	require.Error(t, err)
}

func TestContextFields(t *testing.T) {
	tl := NewTestLogger()

	ctx := WithRequestID(context.Background(), "req-42")
	ctx = WithJobID(ctx, "job-7")

	tl.Info(ctx, "pipeline advanced")

	tl.AssertLogged(t, zapcore.InfoLevel, "pipeline advanced")
	tl.AssertField(t, "pipeline advanced", "request_id", "req-42")
	tl.AssertField(t, "pipeline advanced", "job_id", "job-7")
}

func TestFromContext_Fallback(t *testing.T) {
	// Unset context yields a usable nop logger.
	l := FromContext(context.Background())
	require.NotNil(t, l)
	l.Info(context.Background(), "no-op")

	tl := NewTestLogger()
	ctx := WithLogger(context.Background(), tl.Logger)
	assert.Same(t, tl.Logger, FromContext(ctx))
}
