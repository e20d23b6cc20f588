package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"ensemblelung/internal/config"
)

// Logger wraps a slog.Logger together with the file it writes to, if any.
type Logger struct {
	*slog.Logger
	file *os.File
}

// New builds a structured logger from the log section of the config.
// An empty File writes to stderr.
func New(cfg config.LogConfig) (*Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	var out io.Writer = os.Stderr
	var file *os.File
	if cfg.File != "" {
		file, err = os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		out = file
	}
	return &Logger{Logger: slog.New(newHandler(out, cfg.Format, level)), file: file}, nil
}

// NewWriter builds a logger on an arbitrary writer; used by tests and the CLI.
func NewWriter(w io.Writer, format string, level slog.Level) *Logger {
	return &Logger{Logger: slog.New(newHandler(w, format, level))}
}

func newHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(format, "text") {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

// ParseLevel maps a config level name to a slog.Level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// Close closes the log file, if one was opened.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
