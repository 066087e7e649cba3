// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging provides structured, leveled logging for lspengine.
//
// The package is built on log/slog and extends it in two directions:
//
//   - Eight ordered severity levels (debug through emergency) so that
//     messages coming from a language server and from the engine itself
//     keep their full severity instead of being squashed into four buckets.
//   - A minimal Sink interface, Log(level, msg), which is the only thing
//     the protocol engine depends on. Any function can be adapted with
//     SinkFunc, and *Logger implements Sink.
//
// # Architecture
//
//	┌─────────────────────────────────────────────────────────────┐
//	│                         Logger                              │
//	│  ┌─────────────┐  ┌─────────────┐  ┌─────────────────────┐ │
//	│  │   stderr    │  │  log file   │  │   LogExporter       │ │
//	│  │  (default)  │  │  (optional) │  │   (optional)        │ │
//	│  └─────────────┘  └─────────────┘  └─────────────────────┘ │
//	└─────────────────────────────────────────────────────────────┘
//
// # Basic Usage
//
//	logger := logging.New(logging.Config{Level: logging.LevelInfo})
//	defer logger.Close()
//
//	client := lsp.NewClient(lsp.ClientConfig{Sink: logger, ...})
//
// # Log Levels
//
// Levels follow the syslog ordering used by the Language Server Protocol
// tooling ecosystem:
//
//	Debug < Info < Notice < Warning < Error < Critical < Alert < Emergency
//
// Setting a minimum level filters out all logs below that level.
//
// # Thread Safety
//
// Logger is safe for concurrent use. Internal state is protected
// by a mutex, and the underlying slog.Logger is thread-safe.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// Log Levels
// =============================================================================

// Level represents log severity levels.
//
// Levels are ordered by severity:
// Debug < Info < Notice < Warning < Error < Critical < Alert < Emergency
type Level int

const (
	// LevelDebug is for development troubleshooting and wire traces.
	LevelDebug Level = iota

	// LevelInfo is for normal operational messages.
	LevelInfo

	// LevelNotice is for normal but significant events such as
	// lifecycle transitions and process exits.
	LevelNotice

	// LevelWarning is for recoverable issues.
	// Example: "hover request failed, returning empty result"
	LevelWarning

	// LevelError is for operation failures.
	LevelError

	// LevelCritical is for failures that disable a component.
	LevelCritical

	// LevelAlert is for conditions that need immediate action.
	LevelAlert

	// LevelEmergency is for conditions where the system is unusable.
	LevelEmergency
)

var levelNames = [...]string{
	"DEBUG", "INFO", "NOTICE", "WARNING", "ERROR", "CRITICAL", "ALERT", "EMERGENCY",
}

// String returns the upper-case name of the level, or "UNKNOWN".
func (l Level) String() string {
	if l < LevelDebug || l > LevelEmergency {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// ParseLevel converts a level name into a Level.
//
// Matching is case-insensitive. "warn" is accepted as an alias for
// "warning" and "crit" for "critical".
//
// Parameters:
//   - s: The level name
//
// Returns:
//   - Level: The parsed level (LevelInfo on error)
//   - error: Non-nil if the name is not recognized
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "notice":
		return LevelNotice, nil
	case "warning", "warn":
		return LevelWarning, nil
	case "error":
		return LevelError, nil
	case "critical", "crit":
		return LevelCritical, nil
	case "alert":
		return LevelAlert, nil
	case "emergency", "emerg":
		return LevelEmergency, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// slog has four named levels spaced by 4. The extra levels sit between
// and above them so slog's own filtering keeps the ordering.
var slogLevels = [...]slog.Level{
	slog.LevelDebug,     // debug
	slog.LevelInfo,      // info
	slog.LevelInfo + 2,  // notice
	slog.LevelWarn,      // warning
	slog.LevelError,     // error
	slog.LevelError + 4, // critical
	slog.LevelError + 8, // alert
	slog.LevelError + 12,
}

// toSlogLevel converts our Level to slog.Level.
func (l Level) toSlogLevel() slog.Level {
	if l < LevelDebug || l > LevelEmergency {
		return slog.LevelInfo
	}
	return slogLevels[l]
}

// levelFromSlog maps a slog.Level back onto the closest Level at or below it.
func levelFromSlog(sl slog.Level) Level {
	for i := len(slogLevels) - 1; i >= 0; i-- {
		if sl >= slogLevels[i] {
			return Level(i)
		}
	}
	return LevelDebug
}

// replaceLevel renders the level attribute with our names so NOTICE and
// CRITICAL do not show up as "INFO+2" and "ERROR+4".
func replaceLevel(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey {
		return a
	}
	if sl, ok := a.Value.Any().(slog.Level); ok {
		a.Value = slog.StringValue(levelFromSlog(sl).String())
	}
	return a
}

// =============================================================================
// Configuration
// =============================================================================

// Config configures the Logger behavior.
//
// A zero-value Config creates a logger that writes Debug+ messages to
// stderr in text format (LevelDebug is the zero Level).
type Config struct {
	// Level sets the minimum log level.
	Level Level

	// LogDir enables file logging to the specified directory.
	//
	// The file is named "{Service}_{YYYY-MM-DD}.log" in JSON format.
	// Supports ~ for home directory expansion.
	LogDir string

	// Service is attached to every entry as the "service" attribute.
	Service string

	// JSON enables JSON output format on stderr.
	JSON bool

	// Quiet disables stderr output.
	Quiet bool

	// Output overrides stderr as the console destination. Used by tests.
	Output io.Writer

	// Exporter receives every entry at or above Level.
	Exporter LogExporter
}

// =============================================================================
// Logger
// =============================================================================

// Logger provides structured logging with multi-destination output.
//
// # Thread Safety
//
// Logger is safe for concurrent use from multiple goroutines.
//
// # Resource Management
//
// Always call Close() when done with a logger that has file logging or an
// exporter configured.
type Logger struct {
	slog     *slog.Logger
	config   Config
	file     *os.File
	exporter LogExporter
	mu       sync.Mutex
}

// New creates a new Logger with the given configuration.
//
// Parameters:
//   - config: Logger configuration (see Config for options)
//
// Returns:
//   - *Logger: Configured logger ready for use
func New(config Config) *Logger {
	var handlers []slog.Handler

	opts := &slog.HandlerOptions{
		Level:       config.Level.toSlogLevel(),
		ReplaceAttr: replaceLevel,
	}

	if !config.Quiet {
		out := config.Output
		if out == nil {
			out = os.Stderr
		}
		if config.JSON {
			handlers = append(handlers, slog.NewJSONHandler(out, opts))
		} else {
			handlers = append(handlers, slog.NewTextHandler(out, opts))
		}
	}

	logger := &Logger{
		config:   config,
		exporter: config.Exporter,
	}

	if config.LogDir != "" {
		logDir := expandPath(config.LogDir)
		if err := os.MkdirAll(logDir, 0750); err == nil {
			serviceName := config.Service
			if serviceName == "" {
				serviceName = "lspengine"
			}
			filename := fmt.Sprintf("%s_%s.log", serviceName, time.Now().Format("2006-01-02"))
			file, err := os.OpenFile(filepath.Join(logDir, filename), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
			if err == nil {
				logger.file = file
				handlers = append(handlers, slog.NewJSONHandler(file, opts))
			}
		}
	}

	var handler slog.Handler
	switch len(handlers) {
	case 0:
		// Quiet without a file still needs a handler; entries only reach the exporter.
		handler = slog.NewTextHandler(io.Discard, opts)
	case 1:
		handler = handlers[0]
	default:
		handler = &multiHandler{handlers: handlers}
	}

	if config.Service != "" {
		handler = handler.WithAttrs([]slog.Attr{
			slog.String("service", config.Service),
		})
	}

	logger.slog = slog.New(handler)
	return logger
}

// Default returns a logger that writes Info+ text to stderr.
func Default() *Logger {
	return New(Config{
		Level:   LevelInfo,
		Service: "lspengine",
	})
}

// Log implements Sink.
func (l *Logger) Log(level Level, msg string) {
	l.log(level, msg)
}

// Debug logs a message at Debug level.
//
// Example:
//
//	logger.Debug("frame decoded", "bytes", n)
func (l *Logger) Debug(msg string, args ...any) {
	l.log(LevelDebug, msg, args...)
}

// Info logs a message at Info level.
func (l *Logger) Info(msg string, args ...any) {
	l.log(LevelInfo, msg, args...)
}

// Notice logs a message at Notice level.
func (l *Logger) Notice(msg string, args ...any) {
	l.log(LevelNotice, msg, args...)
}

// Warning logs a message at Warning level.
func (l *Logger) Warning(msg string, args ...any) {
	l.log(LevelWarning, msg, args...)
}

// Error logs a message at Error level.
//
// Example:
//
//	logger.Error("spawn failed", "command", cmd, "error", err.Error())
func (l *Logger) Error(msg string, args ...any) {
	l.log(LevelError, msg, args...)
}

// Critical logs a message at Critical level.
func (l *Logger) Critical(msg string, args ...any) {
	l.log(LevelCritical, msg, args...)
}

// With returns a new Logger with additional attributes.
//
// The parent logger is not modified. File and exporter are shared.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		slog:     l.slog.With(args...),
		config:   l.config,
		file:     l.file,
		exporter: l.exporter,
	}
}

// Slog returns the underlying slog.Logger.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// Close flushes the exporter and closes the log file.
//
// Returns:
//   - error: First error encountered during cleanup
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var errs []error

	if l.exporter != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.exporter.Flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush exporter: %w", err))
		}
		if err := l.exporter.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close exporter: %w", err))
		}
	}

	if l.file != nil {
		if err := l.file.Sync(); err != nil {
			errs = append(errs, fmt.Errorf("sync log file: %w", err))
		}
		if err := l.file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close log file: %w", err))
		}
		l.file = nil
	}

	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// log is the internal method that writes to all destinations.
func (l *Logger) log(level Level, msg string, args ...any) {
	l.slog.Log(context.Background(), level.toSlogLevel(), msg, args...)

	if l.exporter != nil && level >= l.config.Level {
		entry := LogEntry{
			Timestamp: time.Now(),
			Level:     level,
			Message:   msg,
			Service:   l.config.Service,
			Attrs:     argsToMap(args),
		}
		// Async export to avoid blocking the log call
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = l.exporter.Export(ctx, entry)
		}()
	}
}

// =============================================================================
// Multi-Handler (Internal)
// =============================================================================

// multiHandler fans out log records to multiple slog handlers.
type multiHandler struct {
	handlers []slog.Handler
}

// Enabled returns true if any handler is enabled for the level.
func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle sends the record to all enabled handlers.
func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			if err := handler.Handle(ctx, r.Clone()); err != nil {
				return err
			}
		}
	}
	return nil
}

// WithAttrs returns a new handler with additional attributes.
func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

// WithGroup returns a new handler with a group name.
func (h *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}

// =============================================================================
// Helper Functions
// =============================================================================

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

// argsToMap converts slog-style key-value args to a map.
func argsToMap(args []any) map[string]any {
	result := make(map[string]any)
	for i := 0; i < len(args)-1; i += 2 {
		if key, ok := args[i].(string); ok {
			result[key] = args[i+1]
		}
	}
	return result
}
