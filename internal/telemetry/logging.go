package telemetry

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/emberworks/ember/internal/shared"
)

// logLevel backs every handler built by NewLogger so config reloads can
// retune verbosity without tearing the logger down.
var logLevel = new(slog.LevelVar)

// NewLogger builds the JSON file logger under homeDir/logs. With quiet set,
// lines go only to the file; otherwise they are mirrored to stdout. Quiet is
// mandatory while the TUI owns the terminal. String attrs pass through
// credential redaction before they hit the sink.
func NewLogger(homeDir, level string, quiet bool) (*slog.Logger, io.Closer, error) {
	logDir := filepath.Join(homeDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, nil, err
	}

	logFilePath := filepath.Join(logDir, "ember.jsonl")
	file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, err
	}

	logLevel.Set(parseLevel(level))
	var w io.Writer
	if quiet {
		w = file
	} else {
		w = io.MultiWriter(os.Stdout, file)
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: logLevel,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Key = "timestamp"
			}
			if a.Value.Kind() == slog.KindString {
				a.Value = slog.StringValue(shared.RedactValue(a.Key, a.Value.String()))
			}
			return a
		},
	})
	logger := slog.New(handler).With("component", "ember")
	return logger, file, nil
}

// SetLevel retunes the active log level. Unknown strings fall back to info.
func SetLevel(level string) {
	logLevel.Set(parseLevel(level))
}

// LogPath returns where NewLogger writes for the given home directory.
func LogPath(homeDir string) string {
	return filepath.Join(homeDir, "logs", "ember.jsonl")
}

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
