// Package log provides structured logging utilities for the Hashpool roles.
// It wraps the standard library's slog package with additional convenience methods.
package log

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// Logger wraps slog.Logger with additional context and convenience methods
type Logger struct {
	*slog.Logger
	service string
	version string
}

// New creates a new logger with the specified configuration
func New(service, version, level, format string) *Logger {
	var handler slog.Handler

	// Parse log level
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn", "warning":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: logLevel == slog.LevelDebug,
	}

	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	baseLogger := slog.New(handler).With(
		"service", service,
		"version", version,
	)

	return &Logger{
		Logger:  baseLogger,
		service: service,
		version: version,
	}
}

// WithContext returns a logger with additional context fields
func (l *Logger) WithContext(ctx context.Context) *Logger {
	logger := l.Logger

	if reqID := ctx.Value("request_id"); reqID != nil {
		logger = logger.With("request_id", reqID)
	}

	return &Logger{
		Logger:  logger,
		service: l.service,
		version: l.version,
	}
}

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields ...any) *Logger {
	return &Logger{
		Logger:  l.With(fields...),
		service: l.service,
		version: l.version,
	}
}

// WithComponent returns a logger with a component field
func (l *Logger) WithComponent(component string) *Logger {
	return l.WithFields("component", component)
}

// WithChannel returns a logger with mining-channel fields
func (l *Logger) WithChannel(channelID, sequenceNumber uint32) *Logger {
	return l.WithFields("channel_id", channelID, "sequence_number", sequenceNumber)
}

// WithShareHash returns a logger with the canonical share hash.
// Locking pubkeys are deliberately never logged; the share hash is the
// only correlation key that appears in log output.
func (l *Logger) WithShareHash(hash string) *Logger {
	return l.WithFields("share_hash", hash)
}

// WithQuote returns a logger with quote-specific fields
func (l *Logger) WithQuote(quoteID string, amount uint64) *Logger {
	return l.WithFields("quote_id", quoteID, "amount", amount)
}

// WithDownstream returns a logger with downstream-specific fields
func (l *Logger) WithDownstream(downstreamID uint32, remoteAddr string) *Logger {
	return l.WithFields("downstream_id", downstreamID, "remote_addr", remoteAddr)
}

// WithError returns a logger with error context
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.WithFields("error", err.Error())
}

// LogConnection logs connection events
func (l *Logger) LogConnection(event, remoteAddr string) {
	l.Info("connection event",
		"event", event,
		"remote_addr", remoteAddr,
	)
}

// LogShareAccepted logs an accepted share and the ehash amount it earned
func (l *Logger) LogShareAccepted(channelID, sequenceNumber uint32, shareHash string, amount uint64) {
	l.Info("share accepted",
		"channel_id", channelID,
		"sequence_number", sequenceNumber,
		"share_hash", shareHash,
		"amount", amount,
	)
}

// LogQuoteIssued logs a mint quote delivered back to a downstream
func (l *Logger) LogQuoteIssued(shareHash, quoteID string, amount uint64) {
	l.Info("mint quote issued",
		"share_hash", shareHash,
		"quote_id", quoteID,
		"amount", amount,
	)
}

// LogFrame logs an SV2 frame at debug level
func (l *Logger) LogFrame(direction string, msgType byte, length int) {
	l.Debug("sv2 frame",
		"direction", direction,
		"msg_type", msgType,
		"length", length,
	)
}
