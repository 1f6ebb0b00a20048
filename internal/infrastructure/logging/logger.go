package logging

import (
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/nerrad567/gray-logic-bus/internal/infrastructure/config"
)

// serviceName is attached to every entry.
const serviceName = "graylogic-bus"

// Attribute keys shared by the daemon's components.
const (
	ComponentKey = "component"
	DSNKey       = "dsn"
)

// Logger is the daemon's structured logger. It satisfies bus.Logger, so the
// bus, the event log and the monitor handler all log through the same
// handler chain.
//
// Safe for concurrent use.
type Logger struct {
	*slog.Logger
}

// New builds a Logger from the logging section of config.yaml.
//
// Output is stdout unless cfg.Output is "stderr" or "discard". Every entry
// carries service=graylogic-bus and the build version.
func New(cfg config.LoggingConfig, version string) *Logger {
	return newLogger(cfg, outputFor(cfg.Output), version)
}

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

// newLogger builds the handler chain on an explicit writer.
func newLogger(cfg config.LoggingConfig, output io.Writer, version string) *Logger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(output, opts)
	} else {
		handler = slog.NewJSONHandler(output, opts)
	}

	return &Logger{
		Logger: slog.New(handler.WithAttrs([]slog.Attr{
			slog.String("service", serviceName),
			slog.String("version", version),
		})),
	}
}

// parseLevel maps debug, warn/warning and error; anything else is info.
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

// With returns a child Logger carrying args on every entry.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(args...),
	}
}

// Component returns a child Logger tagged component=name, e.g. "bus",
// "eventlog" or "monitor".
func (l *Logger) Component(name string) *Logger {
	return l.With(ComponentKey, name)
}

// DSN returns the broker DSN as a log attribute with any password masked.
// Unparsable DSNs are replaced entirely.
func DSN(raw string) slog.Attr {
	u, err := url.Parse(raw)
	if err != nil {
		return slog.String(DSNKey, "<invalid>")
	}
	return slog.String(DSNKey, u.Redacted())
}

// Default is the logger used before config.yaml has been read: JSON, info
// level, stdout.
func Default() *Logger {
	return New(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}, "dev")
}
