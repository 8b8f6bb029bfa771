// Package logging provides structured logging functionality using Go's slog package.
// It supports both text and JSON output formats, configurable log levels,
// and component-scoped helpers for the bifrost daemon.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
)

const (
	logDirPerm  = 0750
	logFilePerm = 0600
)

// LogLevel represents the available log levels.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// LogFormat represents the available log formats.
type LogFormat string

const (
	FormatText LogFormat = "text"
	FormatJSON LogFormat = "json"
)

// Config holds logging configuration.
type Config struct {
	Level     LogLevel  `yaml:"level" json:"level" validate:"omitempty,oneof=debug info warn error"`
	Format    LogFormat `yaml:"format" json:"format" validate:"omitempty,oneof=text json"`
	Output    string    `yaml:"output" json:"output"`
	AddSource bool      `yaml:"add_source" json:"add_source"`
}

// DefaultConfig returns text output at info level on stdout.
func DefaultConfig() Config {
	return Config{Level: LevelInfo, Format: FormatText, Output: "stdout"}
}

// Logger is a slog.Logger with bifrost's field conventions.
type Logger struct {
	*slog.Logger
}

// New creates a logger for cfg. Output is "stdout", "stderr" or a file path
// that is created if missing and appended to.
func New(cfg Config) (*Logger, error) {
	w, err := openOutput(cfg.Output)
	if err != nil {
		return nil, err
	}
	return NewWithWriter(cfg, w), nil
}

func openOutput(output string) (io.Writer, error) {
	switch output {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}
	if err := os.MkdirAll(filepath.Dir(output), logDirPerm); err != nil {
		return nil, err
	}
	return os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePerm)
}

// NewWithWriter creates a logger writing to w, ignoring cfg.Output.
func NewWithWriter(cfg Config, w io.Writer) *Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level), AddSource: cfg.AddSource}
	if cfg.Format == FormatJSON {
		return &Logger{Logger: slog.New(slog.NewJSONHandler(w, opts))}
	}
	return &Logger{Logger: slog.New(slog.NewTextHandler(w, opts))}
}

// NewDefault creates a logger with default configuration.
func NewDefault() *Logger {
	return NewWithWriter(DefaultConfig(), os.Stdout)
}

// NewDiscard creates a logger that drops everything.
func NewDiscard() *Logger {
	return &Logger{Logger: slog.New(slog.DiscardHandler)}
}

func parseLevel(l LogLevel) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(string(l)))); err != nil {
		return slog.LevelInfo
	}
	return level
}

func (l *Logger) with(fields ...any) *Logger {
	return &Logger{Logger: l.With(fields...)}
}

// WithComponent adds a component field to the logger.
func (l *Logger) WithComponent(component string) *Logger {
	return l.with("component", component)
}

// WithCycle adds a cycle ID field to the logger.
func (l *Logger) WithCycle(cycleID string) *Logger {
	return l.with("cycle_id", cycleID)
}

// WithTarget adds a target field to the logger.
func (l *Logger) WithTarget(target string) *Logger {
	return l.with("target", target)
}

// emit logs msg with the fixed fields ahead of the caller's.
func (l *Logger) emit(level slog.Level, msg string, fixed []any, fields []any) {
	l.Log(context.Background(), level, msg, append(fixed, fields...)...)
}

// InfoAction logs an action outcome against a target.
func (l *Logger) InfoAction(msg, action, target string, fields ...any) {
	l.emit(slog.LevelInfo, msg, []any{"action", action, "target", target}, fields)
}

// ErrorAction logs an action failure against a target.
func (l *Logger) ErrorAction(msg, action, target string, err error, fields ...any) {
	l.emit(slog.LevelError, msg, []any{"action", action, "target", target, "error", err}, fields)
}

// InfoDiscovery logs a discovery event for network (comma-joined CIDRs).
func (l *Logger) InfoDiscovery(msg, network string, fields ...any) {
	l.emit(slog.LevelInfo, msg, []any{"network", network}, fields)
}

// ErrorDiscovery logs a discovery failure for network.
func (l *Logger) ErrorDiscovery(msg, network string, err error, fields ...any) {
	l.emit(slog.LevelError, msg, []any{"network", network, "error", err}, fields)
}

// InfoRemediation logs idle recovery information.
func (l *Logger) InfoRemediation(msg, ssid string, fields ...any) {
	l.emit(slog.LevelInfo, msg, []any{"component", "remediation", "ssid", ssid}, fields)
}

// InfoDatabase logs database-related information.
func (l *Logger) InfoDatabase(msg string, fields ...any) {
	l.emit(slog.LevelInfo, msg, []any{"component", "database"}, fields)
}

// InfoDaemon logs daemon lifecycle information.
func (l *Logger) InfoDaemon(msg string, fields ...any) {
	l.emit(slog.LevelInfo, msg, []any{"component", "daemon"}, fields)
}

// ErrorDaemon logs daemon lifecycle errors.
func (l *Logger) ErrorDaemon(msg string, err error, fields ...any) {
	l.emit(slog.LevelError, msg, []any{"component", "daemon", "error", err}, fields)
}

var defaultLogger atomic.Pointer[Logger]

func init() {
	defaultLogger.Store(NewDefault())
}

// SetDefault replaces the process logger and routes log/slog's default
// through it.
func SetDefault(logger *Logger) {
	defaultLogger.Store(logger)
	slog.SetDefault(logger.Logger)
}

// Default returns the process logger.
func Default() *Logger {
	return defaultLogger.Load()
}
