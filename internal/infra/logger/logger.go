package logger

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	lg   *zap.Logger
	once sync.Once
)

// New returns a singleton zap.Logger; production gets JSON, everything else the colored dev encoder.
func New(env string) (*zap.Logger, error) {
	var err error
	once.Do(func() {
		cfg := zap.NewProductionConfig()
		if !strings.EqualFold(env, "production") {
			cfg = zap.NewDevelopmentConfig()
			cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}
		cfg.InitialFields = map[string]any{"service": "campus-auth"}

		lg, err = cfg.Build()
	})

	return lg, err
}

// RequestIDKey is used to store a request identifier on the context.
type RequestIDKey struct{}

// TraceIDKey is used to store the propagated trace identifier on the context.
type TraceIDKey struct{}

// WithContext derives a logger carrying the request and trace identifiers found on ctx.
func WithContext(ctx context.Context, base *zap.Logger) *zap.Logger {
	if base == nil {
		base = lg
	}
	if base == nil {
		base = zap.NewNop()
	}
	if ctx == nil {
		return base
	}

	fields := make([]zap.Field, 0, 2)
	if id, ok := ctx.Value(RequestIDKey{}).(string); ok && id != "" {
		fields = append(fields, zap.String("request_id", id))
	}
	if id, ok := ctx.Value(TraceIDKey{}).(string); ok && id != "" {
		fields = append(fields, zap.String("trace_id", id))
	}
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

var emailRegex = regexp.MustCompile(`^([^@]{1,3})[^@]*(@.+)$`)

// MaskEmail keeps up to three leading characters and the domain.
// Example: alice@example.com -> ali***@example.com
func MaskEmail(email string) string {
	if email == "" {
		return ""
	}

	if matches := emailRegex.FindStringSubmatch(email); len(matches) == 3 {
		return matches[1] + "***" + matches[2]
	}

	if _, domain, ok := strings.Cut(email, "@"); ok {
		return "***@" + domain
	}
	return "***"
}

// MaskIP keeps the first two octets of IPv4 and the first four groups of IPv6.
func MaskIP(ip string) string {
	if ip == "" {
		return ""
	}

	if strings.Contains(ip, ".") {
		if parts := strings.Split(ip, "."); len(parts) == 4 {
			return parts[0] + "." + parts[1] + ".*.*"
		}
	}

	if strings.Contains(ip, ":") {
		if parts := strings.Split(ip, ":"); len(parts) >= 4 {
			return strings.Join(parts[:4], ":") + ":*:*:*:*"
		}
	}

	return "***"
}

// MaskToken keeps a short prefix of an opaque secret so log lines can be correlated.
func MaskToken(token string) string {
	if len(token) <= 8 {
		return "***"
	}
	return token[:6] + "***"
}
