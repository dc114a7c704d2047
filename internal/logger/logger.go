package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Level represents a logging level
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR"}

// String returns the string representation of the log level
func (l Level) String() string {
	if l < DEBUG || l > ERROR {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// ParseLevel parses a string into a Level, defaulting to INFO
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

// sink is shared by a logger and every logger derived from it
type sink struct {
	mu    sync.Mutex
	w     io.Writer
	level Level
}

// Logger is a leveled printf logger tagged with a component name
type Logger struct {
	component string
	sink      *sink
}

// Config holds logger configuration
type Config struct {
	Level     string `yaml:"level"` // debug, info, warn, error
	Component string
}

var (
	defaultLogger = New(&Config{Level: "info", Component: "claudechat"})
	defaultMu     sync.RWMutex
)

// New creates a logger writing to stderr
func New(cfg *Config) *Logger {
	component := cfg.Component
	if component == "" {
		component = "claudechat"
	}
	return &Logger{
		component: component,
		sink:      &sink{w: os.Stderr, level: ParseLevel(cfg.Level)},
	}
}

// Discard returns a logger that drops everything
func Discard() *Logger {
	l := New(&Config{Level: "error"})
	l.SetOutput(io.Discard)
	return l
}

// OpenFile opens (creating parent directories) an append-only log file.
// The TUI owns the terminal, so it logs here instead of stderr.
func OpenFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, nil
}

// SetOutput sets the output writer for this logger and its children
func (l *Logger) SetOutput(w io.Writer) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.w = w
}

// SetLevel sets the minimum logging level
func (l *Logger) SetLevel(level Level) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.level = level
}

// GetLevel returns the current logging level
func (l *Logger) GetLevel() Level {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	return l.sink.level
}

// WithComponent returns a logger sharing output and level under another component name
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{component: component, sink: l.sink}
}

// WithRequestID returns a new logger with request context
func (l *Logger) WithRequestID(requestID string) *ContextLogger {
	return &ContextLogger{logger: l, requestID: requestID}
}

func (l *Logger) write(level Level, tag, format string, args ...any) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()

	if level < l.sink.level {
		return
	}

	var sb strings.Builder
	sb.WriteString(time.Now().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&sb, " %s [%s] ", level, l.component)
	if tag != "" {
		fmt.Fprintf(&sb, "[%s] ", tag)
	}
	fmt.Fprintf(&sb, format, args...)
	sb.WriteByte('\n')
	io.WriteString(l.sink.w, sb.String())
}

func (l *Logger) Debug(format string, args ...any) { l.write(DEBUG, "", format, args...) }
func (l *Logger) Info(format string, args ...any)  { l.write(INFO, "", format, args...) }
func (l *Logger) Warn(format string, args ...any)  { l.write(WARN, "", format, args...) }
func (l *Logger) Error(format string, args ...any) { l.write(ERROR, "", format, args...) }

// Print logs at INFO; it lets the logger back chi's request logger
func (l *Logger) Print(v ...any) {
	l.write(INFO, "", "%s", strings.TrimRight(fmt.Sprint(v...), "\n"))
}

// ContextLogger adds a request ID to log messages
type ContextLogger struct {
	logger    *Logger
	requestID string
}

func (cl *ContextLogger) Debug(format string, args ...any) {
	cl.logger.write(DEBUG, cl.requestID, format, args...)
}

func (cl *ContextLogger) Info(format string, args ...any) {
	cl.logger.write(INFO, cl.requestID, format, args...)
}

func (cl *ContextLogger) Warn(format string, args ...any) {
	cl.logger.write(WARN, cl.requestID, format, args...)
}

func (cl *ContextLogger) Error(format string, args ...any) {
	cl.logger.write(ERROR, cl.requestID, format, args...)
}

// Package-level functions that use the default logger

// SetDefaultLogger sets the package-level default logger
func SetDefaultLogger(l *Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = l
}

// GetDefaultLogger returns the package-level default logger
func GetDefaultLogger() *Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// SetLevel sets the default logger's level
func SetLevel(level Level) {
	GetDefaultLogger().SetLevel(level)
}

func Debug(format string, args ...any) { GetDefaultLogger().Debug(format, args...) }
func Info(format string, args ...any)  { GetDefaultLogger().Info(format, args...) }
func Warn(format string, args ...any)  { GetDefaultLogger().Warn(format, args...) }
func Error(format string, args ...any) { GetDefaultLogger().Error(format, args...) }
