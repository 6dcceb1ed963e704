// Package security provides data leakage prevention utilities.
// Provider templates, login replies and upstream error bodies routinely carry
// secrets, so every log record passes through RedactedHandler.
package security

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
)

// Redaction placeholder for sensitive data.
const RedactedPlaceholder = "[REDACTED]"

type redaction struct {
	pattern *regexp.Regexp
	repl    string
}

// sensitivePatterns contains regex patterns for common secret formats.
// Order matters: specific formats run before the generic catch-all.
var sensitivePatterns = []redaction{
	// Authorization schemes: Bearer and Basic
	{regexp.MustCompile(`\b(Bearer|bearer|Basic)\s+[A-Za-z0-9._~+/=-]{8,}`), "$1 " + RedactedPlaceholder},
	// JWTs anywhere
	{regexp.MustCompile(`eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]*`), RedactedPlaceholder},
	// JSON fields holding secrets: "password": "..."
	{regexp.MustCompile(`(?i)("(?:password|passwd|secret|client_secret|api_key|apikey|access_token|refresh_token|id_token|token)"\s*:\s*)"[^"]*"`), `$1"` + RedactedPlaceholder + `"`},
	// Query parameters and form fields: key=..., sig=...
	{regexp.MustCompile(`(?i)\b(key|api_key|apikey|token|access_token|sig|signature|x-amz-signature|password)=[^&\s"']+`), "$1=" + RedactedPlaceholder},
	// curl basic auth: -u user:pass
	{regexp.MustCompile(`(-u|--user)\s+('[^']*'|"[^"]*"|\S+)`), "$1 " + RedactedPlaceholder},
	// OpenAI / Anthropic keys: sk-..., sk-ant-...
	{regexp.MustCompile(`sk-[a-zA-Z0-9_-]{20,}`), RedactedPlaceholder},
	// Google AI keys: AIza...
	{regexp.MustCompile(`AIza[a-zA-Z0-9_-]{30,}`), RedactedPlaceholder},
	// Generic long alphanumeric strings that look like keys (40+ chars)
	{regexp.MustCompile(`[a-zA-Z0-9_-]{40,}`), RedactedPlaceholder},
}

// Redact scans a string for sensitive patterns and replaces them.
// This is the primary function for sanitizing log output.
func Redact(s string) string {
	result := s
	for _, r := range sensitivePatterns {
		result = r.pattern.ReplaceAllString(result, r.repl)
	}
	return result
}

// RedactedHandler wraps an slog.Handler and redacts sensitive data from log records.
type RedactedHandler struct {
	inner slog.Handler
}

// NewRedactedHandler creates a new handler that wraps an existing handler
// and redacts sensitive data from all log output.
func NewRedactedHandler(inner slog.Handler) *RedactedHandler {
	return &RedactedHandler{inner: inner}
}

// Enabled reports whether the handler handles records at the given level.
func (h *RedactedHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle processes a log record, redacting sensitive data.
func (h *RedactedHandler) Handle(ctx context.Context, r slog.Record) error {
	out := slog.NewRecord(r.Time, r.Level, Redact(r.Message), r.PC)
	r.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(redactAttr(a))
		return true
	})
	return h.inner.Handle(ctx, out)
}

// WithAttrs returns a new handler with the given attributes added.
func (h *RedactedHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		redacted[i] = redactAttr(a)
	}
	return &RedactedHandler{inner: h.inner.WithAttrs(redacted)}
}

// WithGroup returns a new handler with the given group name.
func (h *RedactedHandler) WithGroup(name string) slog.Handler {
	return &RedactedHandler{inner: h.inner.WithGroup(name)}
}

// redactAttr redacts sensitive data from a single attribute.
func redactAttr(a slog.Attr) slog.Attr {
	if isSensitiveKey(strings.ToLower(a.Key)) {
		return slog.String(a.Key, RedactedPlaceholder)
	}

	a.Value = a.Value.Resolve()
	if a.Value.Kind() == slog.KindGroup {
		group := a.Value.Group()
		redacted := make([]slog.Attr, len(group))
		for i, g := range group {
			redacted[i] = redactAttr(g)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(redacted...)}
	}

	switch v := a.Value.Any().(type) {
	case string:
		return slog.String(a.Key, Redact(v))
	case []string:
		redacted := make([]string, len(v))
		for i, s := range v {
			redacted[i] = Redact(s)
		}
		return slog.Any(a.Key, redacted)
	case error:
		// Engine errors embed upstream body previews.
		return slog.String(a.Key, Redact(v.Error()))
	}

	return a
}

var sensitiveKeys = []string{
	"authorization",
	"api_key",
	"apikey",
	"api-key",
	"secret",
	"password",
	"token",
	"bearer",
	"credential",
	"cookie",
	"request_template",
}

// isSensitiveKey checks if an attribute key is known to contain sensitive data.
func isSensitiveKey(key string) bool {
	for _, k := range sensitiveKeys {
		if strings.Contains(key, k) {
			return true
		}
	}
	return false
}
