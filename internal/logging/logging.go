// Package logging configures the process-wide slog logger: JSON records on
// stderr (stdout carries the stdio control protocol) with credential
// redaction in front of the encoder.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// redacted replaces the value of any credential-bearing attribute.
const redacted = "[REDACTED]"

// redactSubstrings flags an attribute as credential-bearing when its
// lowercased key contains any of them. "key" deliberately catches
// key_data, key_path and key_passphrase alike.
var redactSubstrings = []string{
	"password",
	"passphrase",
	"secret",
	"token",
	"key",
	"credential",
	"auth",
}

// SanitizingHandler filters attributes before they reach the wrapped
// handler. Session open requests carry passwords and key material in
// their attrs; nothing of that may survive into the log stream.
type SanitizingHandler struct {
	inner    slog.Handler
	sanitize bool
}

var _ slog.Handler = (*SanitizingHandler)(nil)

// NewSanitizingHandler wraps inner. With sanitize false the handler is a
// pure pass-through, for environments that scrub logs downstream.
func NewSanitizingHandler(inner slog.Handler, sanitize bool) *SanitizingHandler {
	return &SanitizingHandler{inner: inner, sanitize: sanitize}
}

func (h *SanitizingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *SanitizingHandler) Handle(ctx context.Context, r slog.Record) error {
	if !h.sanitize {
		return h.inner.Handle(ctx, r)
	}

	clean := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		clean.AddAttrs(redactAttr(a))
		return true
	})
	return h.inner.Handle(ctx, clean)
}

func (h *SanitizingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if h.sanitize {
		clean := make([]slog.Attr, len(attrs))
		for i, a := range attrs {
			clean[i] = redactAttr(a)
		}
		attrs = clean
	}
	return &SanitizingHandler{inner: h.inner.WithAttrs(attrs), sanitize: h.sanitize}
}

func (h *SanitizingHandler) WithGroup(name string) slog.Handler {
	return &SanitizingHandler{inner: h.inner.WithGroup(name), sanitize: h.sanitize}
}

// redactAttr returns a with its value replaced when the key looks
// credential-bearing. Groups are walked attribute by attribute.
func redactAttr(a slog.Attr) slog.Attr {
	key := strings.ToLower(a.Key)
	for _, s := range redactSubstrings {
		if strings.Contains(key, s) {
			return slog.String(a.Key, redacted)
		}
	}

	if a.Value.Kind() == slog.KindGroup {
		members := a.Value.Group()
		clean := make([]slog.Attr, len(members))
		for i, m := range members {
			clean[i] = redactAttr(m)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(clean...)}
	}
	return a
}

// ParseLevel maps a level name to a slog.Level. Unknown names fall back
// to Info rather than failing startup.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup installs the default logger writing to stderr.
func Setup(level string, sanitize bool) {
	SetupWriter(os.Stderr, level, sanitize)
}

// SetupWriter is Setup with an explicit destination, used when the daemon
// is configured to log to a file.
func SetupWriter(w io.Writer, level string, sanitize bool) {
	inner := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)})
	slog.SetDefault(slog.New(NewSanitizingHandler(inner, sanitize)))
}
