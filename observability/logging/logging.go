package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileConfig enables a rotating log file alongside stdout. Zero limits pick
// lumberjack-friendly defaults.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

func (f FileConfig) writer() io.Writer {
	path := strings.TrimSpace(f.Path)
	if path == "" {
		return nil
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    positiveOr(f.MaxSizeMB, 100),
		MaxBackups: positiveOr(f.MaxBackups, 5),
		MaxAge:     positiveOr(f.MaxAgeDays, 28),
		Compress:   true,
	}
}

// Setup installs a JSON slog logger on stdout as the process default.
func Setup(service, env string) *slog.Logger {
	return SetupWithFile(service, env, FileConfig{})
}

// SetupWithFile is Setup with an optional rotating file sink. Every line
// carries service and env, and sensitive attributes are redacted.
func SetupWithFile(service, env string, file FileConfig) *slog.Logger {
	var out io.Writer = os.Stdout
	if w := file.writer(); w != nil {
		out = io.MultiWriter(os.Stdout, w)
	}
	logger, handler := newLogger(out, service, env)
	slog.SetDefault(logger)

	bridge := slog.NewLogLogger(handler, slog.LevelInfo)
	log.SetOutput(bridge.Writer())
	log.SetFlags(0)
	log.SetPrefix("")
	return logger
}

func newLogger(out io.Writer, service, env string) (*slog.Logger, slog.Handler) {
	var handler slog.Handler = slog.NewJSONHandler(out, &slog.HandlerOptions{ReplaceAttr: renameAttr})
	attrs := []slog.Attr{slog.String("service", strings.TrimSpace(service))}
	if env = strings.TrimSpace(env); env != "" {
		attrs = append(attrs, slog.String("env", env))
	}
	handler = handler.WithAttrs(attrs)
	return slog.New(handler), handler
}

// renameAttr maps slog's built-in keys to the names log shippers index on.
func renameAttr(groups []string, attr slog.Attr) slog.Attr {
	if len(groups) == 0 {
		switch attr.Key {
		case slog.TimeKey:
			return slog.Attr{Key: "timestamp", Value: attr.Value}
		case slog.LevelKey:
			return slog.String("severity", strings.ToUpper(attr.Value.String()))
		case slog.MessageKey:
			return slog.Attr{Key: "message", Value: attr.Value}
		}
	}
	return redact(attr)
}

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}
