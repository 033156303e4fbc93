package audit

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"paservices.dev/internal/auth"
	"paservices.dev/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

const redacted = "[REDACTED]"

// sensitiveKeys are matched as substrings of lower-cased field names.
var sensitiveKeys = []string{"password", "secret", "token", "authorization", "api_key", "apikey"}

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes a security audit entry enriched with request and caller
// context. Values under secret-bearing keys are redacted.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	attrs := []slog.Attr{
		slog.String("type", "audit"),
		slog.String("event", event),
	}
	if rid := requestIDFromContext(ctx); rid != "" {
		attrs = append(attrs, slog.String("request_id", rid))
	}
	if subject, ok := auth.SubjectFromContext(ctx); ok {
		attrs = append(attrs, slog.String("actor", subject))
	}
	attrs = append(attrs, slog.Any("fields", Sanitize(fields)))

	if ctx == nil {
		ctx = context.Background()
	}
	obs.Logger().LogAttrs(ctx, slog.LevelInfo, "audit", attrs...)
	return nil
}

// Sanitize returns a copy of fields with secret-bearing values replaced.
// Nested maps are sanitized recursively.
func Sanitize(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if isSensitive(k) {
			out[k] = redacted
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			out[k] = Sanitize(nested)
			continue
		}
		out[k] = v
	}
	return out
}

func isSensitive(key string) bool {
	key = strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(key, s) {
			return true
		}
	}
	return false
}
