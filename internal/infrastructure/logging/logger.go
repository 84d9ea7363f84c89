package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/fora-knx-bridge/internal/infrastructure/config"
)

const serviceName = "foraknx"

// Logger is the bridge's structured logger. Every record carries service
// and version; Component adds a component attribute for subsystems.
type Logger struct {
	*slog.Logger
}

// New builds a Logger from the logging section of the config. Output is
// "stdout" (default), "stderr" or "discard"; format is "json" (default)
// or "text".
func New(cfg config.LoggingConfig, version string) *Logger {
	return NewWithWriter(writerFor(cfg.Output), cfg, version)
}

// NewWithWriter is New with an explicit destination, for tests.
func NewWithWriter(w io.Writer, cfg config.LoggingConfig, version string) *Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var h slog.Handler = slog.NewJSONHandler(w, opts)
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(w, opts)
	}
	return &Logger{Logger: slog.New(h).With("service", serviceName, "version", version)}
}

// Default is used until the config file has been read.
func Default() *Logger {
	return New(config.LoggingConfig{}, "dev")
}

// Component returns a child logger tagged with component=name.
func (l *Logger) Component(name string) *Logger {
	return &Logger{Logger: l.Logger.With("component", name)}
}

func writerFor(output string) io.Writer {
	switch strings.ToLower(output) {
	case "stderr":
		return os.Stderr
	case "discard":
		return io.Discard
	default:
		return os.Stdout
	}
}

// parseLevel accepts debug, info, warn/warning and error in any case.
// Anything else means info.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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
