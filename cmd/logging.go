package cmd

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// setupLogger creates a configured slog.Logger writing to w
func setupLogger(w io.Writer, levelStr string, jsonOutput bool) *slog.Logger {
	var level slog.Level

	switch strings.ToLower(levelStr) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if jsonOutput {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// openRunLog opens the per-run log file. The returned writer also copies
// to stderr when echo is set.
func openRunLog(path string, echo bool) (io.Writer, func() error, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}

	var w io.Writer = f
	if echo {
		w = io.MultiWriter(f, os.Stderr)
	}

	return w, f.Close, nil
}
