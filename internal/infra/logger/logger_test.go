package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewHonoursLevelOverride(t *testing.T) {
	log, err := New("production", "warn")
	require.NoError(t, err)
	require.False(t, log.Core().Enabled(zapcore.InfoLevel))
	require.True(t, log.Core().Enabled(zapcore.WarnLevel))

	log, err = New("development", "")
	require.NoError(t, err)
	require.True(t, log.Core().Enabled(zapcore.DebugLevel))

	_, err = New("development", "loud")
	require.Error(t, err)
}

func TestMaskEmail(t *testing.T) {
	cases := map[string]string{
		"":                     "",
		"john.doe@example.com": "joh***@example.com",
		"al@example.com":       "al***@example.com",
		"not-an-email":         "***",
		"trailing@":            "***",
	}
	for in, want := range cases {
		require.Equal(t, want, MaskEmail(in), in)
	}
}

func TestMaskIP(t *testing.T) {
	cases := map[string]string{
		"":                             "",
		"192.168.1.100":                "192.168.*.*",
		"10.0.0.7:52100":               "10.0.*.*",
		"::ffff:203.0.113.9":           "203.0.*.*",
		"2001:db8:85a3::8a2e:370:7334": "2001:db8:85a3:0:*:*:*:*",
		"[2001:db8::1]:443":            "2001:db8:0:0:*:*:*:*",
		"unknown":                      "***",
	}
	for in, want := range cases {
		require.Equal(t, want, MaskIP(in), in)
	}
}

func TestMaskID(t *testing.T) {
	require.Equal(t, "***", MaskID("abcd"))
	require.Equal(t, "se***34", MaskID("session-1234"))
	require.Empty(t, MaskID(""))
}

func TestContextFields(t *testing.T) {
	require.Empty(t, ContextFields(context.Background()))

	ctx := context.WithValue(context.Background(), RequestIDKey{}, "req-1")
	ctx = context.WithValue(ctx, TraceIDKey{}, "trace-1")

	fields := ContextFields(ctx)
	require.Len(t, fields, 2)
	require.Equal(t, "request_id", fields[0].Key)
	require.Equal(t, "req-1", fields[0].String)
	require.Equal(t, "trace_id", fields[1].Key)
	require.Equal(t, "trace-1", fields[1].String)
}
