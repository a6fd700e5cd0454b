// Package logger builds the process logger and masks personal data before it reaches log lines.
package logger

import (
	"context"
	"fmt"
	"net/netip"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// RequestIDKey is used to store a request identifier on the context.
type RequestIDKey struct{}

// TraceIDKey is used to store a trace identifier on the context.
type TraceIDKey struct{}

// New builds the process logger. Production emits sampled JSON; other environments a colored
// console encoder at debug. A non-empty level overrides the environment default.
func New(env, level string) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	if env == "production" {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	if level != "" {
		parsed, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
		cfg.Level = parsed
	}

	return cfg.Build(zap.Fields(
		zap.String("service", "portal-realtime"),
		zap.String("env", env),
	))
}

// ContextFields extracts the request and trace identifiers stored on ctx.
func ContextFields(ctx context.Context) []zap.Field {
	if ctx == nil {
		return nil
	}

	fields := make([]zap.Field, 0, 2)
	if val, ok := ctx.Value(RequestIDKey{}).(string); ok && val != "" {
		fields = append(fields, zap.String("request_id", val))
	}
	if val, ok := ctx.Value(TraceIDKey{}).(string); ok && val != "" {
		fields = append(fields, zap.String("trace_id", val))
	}
	return fields
}

// MaskEmail keeps up to three characters of the local part and the domain: joh***@example.com.
func MaskEmail(email string) string {
	if email == "" {
		return ""
	}
	local, domain, ok := strings.Cut(email, "@")
	if !ok || domain == "" {
		return "***"
	}
	if len(local) > 3 {
		local = local[:3]
	}
	return local + "***@" + domain
}

// MaskIP keeps the network half of an address: two octets of IPv4, four groups of IPv6.
// A trailing port is dropped. Anything unparsable becomes ***.
func MaskIP(ip string) string {
	if ip == "" {
		return ""
	}

	addr, err := netip.ParseAddr(ip)
	if err != nil {
		addrPort, perr := netip.ParseAddrPort(ip)
		if perr != nil {
			return "***"
		}
		addr = addrPort.Addr()
	}
	addr = addr.Unmap()

	if addr.Is4() {
		b := addr.As4()
		return fmt.Sprintf("%d.%d.*.*", b[0], b[1])
	}
	b := addr.As16()
	return fmt.Sprintf("%x:%x:%x:%x:*:*:*:*",
		uint16(b[0])<<8|uint16(b[1]),
		uint16(b[2])<<8|uint16(b[3]),
		uint16(b[4])<<8|uint16(b[5]),
		uint16(b[6])<<8|uint16(b[7]),
	)
}

// MaskID shortens an opaque identifier such as a session id to its first and last two characters.
func MaskID(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "***"
	}
	return s[:2] + "***" + s[len(s)-2:]
}
