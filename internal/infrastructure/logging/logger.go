package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/gray-logic-attendance/internal/infrastructure/config"
)

// serviceName is attached to every log entry.
const serviceName = "attendance-kiosk"

// redactedValue replaces the value of any sensitive attribute.
const redactedValue = "[redacted]"

// sensitiveKeys are attribute keys whose values never reach the log.
// Raw samples are biometric data; the rest are credentials.
var sensitiveKeys = map[string]struct{}{
	"sample":          {},
	"fingerprintdata": {},
	"token":           {},
	"secret":          {},
	"password":        {},
	"authorization":   {},
}

// Logger is the kiosk's structured logger. It embeds *slog.Logger, so it
// satisfies the small Logger interfaces declared by the session, audit,
// mqtt and capture packages.
type Logger struct {
	*slog.Logger
}

// New builds a Logger from the logging section of config.yaml. Every entry
// carries service and version attributes, and sensitive attributes are
// redacted (see sensitiveKeys).
func New(cfg config.LoggingConfig, version string) *Logger {
	return &Logger{Logger: slog.New(newHandler(outputFor(cfg.Output), cfg, version))}
}

// outputFor maps the configured output name to a writer. Unknown names
// fall back to stdout.
func outputFor(name string) io.Writer {
	switch strings.ToLower(name) {
	case "stderr":
		return os.Stderr
	case "discard":
		return io.Discard
	default:
		return os.Stdout
	}
}

func newHandler(w io.Writer, cfg config.LoggingConfig, version string) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:       parseLevel(cfg.Level),
		ReplaceAttr: redact,
	}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return handler.WithAttrs([]slog.Attr{
		slog.String("service", serviceName),
		slog.String("version", version),
	})
}

// redact blanks sensitive attributes at any group depth.
func redact(_ []string, a slog.Attr) slog.Attr {
	if _, ok := sensitiveKeys[strings.ToLower(a.Key)]; ok {
		return slog.String(a.Key, redactedValue)
	}
	return a
}

// parseLevel converts a config level name to slog.Level. Unknown names
// mean info.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a child Logger that adds args to every entry.
//
//	sessionLog := log.With("component", "session")
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Default is the JSON info-level logger used until config is loaded.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}, "dev")
}
