package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/meross-go/config"
)

// Logger is the module-wide structured logger. It embeds *slog.Logger,
// so the full slog call surface is available directly, and it
// satisfies the Debug/Info/Warn/Error interface every other package in
// the module accepts. Safe for concurrent use.
type Logger struct {
	*slog.Logger
}

// New builds a Logger from the logging section of the configuration:
// cfg.Output picks the destination (stdout unless "stderr"), cfg.Format
// the encoding (JSON unless "text") and cfg.Level the threshold. The
// service name and version ride along on every record.
func New(cfg config.LoggingConfig, version string) *Logger {
	return NewWithWriter(cfg, version, destination(cfg.Output))
}

// NewWithWriter is New with a caller-supplied destination, so tests
// can capture the emitted records.
func NewWithWriter(cfg config.LoggingConfig, version string, w io.Writer) *Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", "meross"),
		slog.String("version", version),
	})
	return &Logger{Logger: slog.New(handler)}
}

func destination(name string) io.Writer {
	if strings.EqualFold(name, "stderr") {
		return os.Stderr
	}
	return os.Stdout
}

// parseLevel maps a configured level name onto slog.Level. Unknown
// names fall back to info rather than failing startup.
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

// With returns a child logger carrying extra default attributes,
// typically a component tag:
//
//	mqttLog := log.With("component", "mqtt")
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Default is the logger for early startup, before the configuration
// file has been read: JSON to stdout at info level.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}, "dev")
}
