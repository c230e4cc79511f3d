package observability

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

type LoggerOptions struct {
	Service string
	Env     string
	// Level overrides the env default: debug in dev, info elsewhere.
	Level string
}

// NewLogger writes JSON records to stdout.
func NewLogger(opts LoggerOptions) *slog.Logger {
	return newLogger(os.Stdout, opts)
}

func newLogger(w io.Writer, opts LoggerOptions) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: parseLevel(opts.Level, opts.Env),
	})

	// span, request and actor ids ride along on *Context calls
	log := slog.New(NewContextHandler(handler))
	if opts.Service != "" {
		log = log.With("service", opts.Service)
	}
	return log
}

func parseLevel(raw, env string) slog.Level {
	switch strings.ToLower(raw) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	if env == "dev" {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}
