package config

import (
	"io"
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
)

// SetupLogger builds the service logger described by cfg. Records go to
// stderr in cfg.LogFormat and, when cfg.LogFile can be opened, to that file
// as JSON lines. The returned function closes the file.
func SetupLogger(cfg Config) (*slog.Logger, func() error) {
	if cfg.LogFile == "" {
		return NewLogger(cfg, os.Stderr, nil), func() error { return nil }
	}

	file, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		logger := NewLogger(cfg, os.Stderr, nil)
		logger.Warn("log file unavailable, logging to stderr only", "file", cfg.LogFile, "error", err)
		return logger, func() error { return nil }
	}
	return NewLogger(cfg, os.Stderr, file), file.Close
}

// NewLogger fans records out to console and, if non-nil, a JSON file writer.
func NewLogger(cfg Config, console, file io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel, AddSource: cfg.LogSource}

	var handler slog.Handler
	if cfg.LogFormat == LogFormatJSON {
		handler = slog.NewJSONHandler(console, opts)
	} else {
		handler = slog.NewTextHandler(console, opts)
	}
	if file == nil {
		return slog.New(handler)
	}
	return slog.New(slogmulti.Fanout(handler, slog.NewJSONHandler(file, opts)))
}
