package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("WARNING"))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel(" ERROR "))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("nonsense"))
}

func TestLogger_KeyValues(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := New(zap.New(core)).With("component", "test")

	l.Info("search completed", "results", 3)
	l.Warn("fallback used")

	entries := logs.All()
	if assert.Len(t, entries, 2) {
		assert.Equal(t, "search completed", entries[0].Message)
		fields := entries[0].ContextMap()
		assert.Equal(t, "test", fields["component"])
		assert.EqualValues(t, 3, fields["results"])
		assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	}
}
