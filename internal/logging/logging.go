// Package logging provides structured JSON logging for CutMind.
// It uses log/slog; when a log file is configured, records are also written
// to a size-rotated file.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation settings for the optional log file.
const (
	MaxLogSizeMB  = 20
	MaxLogBackups = 5
	MaxLogAgeDays = 30
)

// ParseLevel maps debug, info, warn and error to slog levels.
// Unknown values fall back to info.
func ParseLevel(level string) slog.Level {
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

// NewLogger creates a JSON logger on stdout with the specified level.
func NewLogger(level string) *slog.Logger {
	return newLogger(os.Stdout, level)
}

// NewFileLogger behaves like NewLogger and additionally tees every record into
// logFile, rotated by size. The returned closer flushes the rotating writer.
// An empty logFile yields a stdout-only logger and a no-op closer.
func NewFileLogger(level, logFile string) (*slog.Logger, io.Closer) {
	if logFile == "" {
		return NewLogger(level), io.NopCloser(nil)
	}
	rotator := &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    MaxLogSizeMB,
		MaxBackups: MaxLogBackups,
		MaxAge:     MaxLogAgeDays,
		Compress:   true,
	}
	return newLogger(io.MultiWriter(os.Stdout, rotator), level), rotator
}

func newLogger(w io.Writer, level string) *slog.Logger {
	lvl := ParseLevel(level)
	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// WithRequestID returns a logger with request_id attribute
func WithRequestID(logger *slog.Logger, requestID string) *slog.Logger {
	return logger.With("request_id", requestID)
}

// WithComponent returns a logger with component attribute
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With("component", component)
}

// WithJobID returns a logger with job_id attribute
func WithJobID(logger *slog.Logger, jobID string) *slog.Logger {
	return logger.With("job_id", jobID)
}

// WithSegmentID returns a logger with segment_id attribute
func WithSegmentID(logger *slog.Logger, segmentID int64) *slog.Logger {
	return logger.With("segment_id", segmentID)
}

// SanitizeToken masks a token for safe logging.
// Shows first 4 and last 4 characters only.
func SanitizeToken(token string) string {
	if len(token) <= 8 {
		return "****"
	}
	return token[:4] + "..." + token[len(token)-4:]
}
