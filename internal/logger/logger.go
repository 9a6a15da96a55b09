package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	SILENT // No logging
)

var (
	levelNames = map[LogLevel]string{
		DEBUG:  "DEBUG",
		INFO:   "INFO",
		WARN:   "WARN",
		ERROR:  "ERROR",
		SILENT: "SILENT",
	}

	levelColors = map[LogLevel]string{
		DEBUG:  "\033[36m", // Cyan
		INFO:   "\033[32m", // Green
		WARN:   "\033[33m", // Yellow
		ERROR:  "\033[31m", // Red
		SILENT: "",
	}

	resetColor = "\033[0m"
)

// Logger provides leveled logging tagged with a module name.
type Logger struct {
	mu       sync.Mutex
	level    LogLevel
	useColor bool
	out      *log.Logger
}

var (
	defaultMu     sync.RWMutex
	defaultLogger *Logger
	once          sync.Once
)

// Init initializes the global logger (call once at startup)
func Init(level LogLevel, output io.Writer, useColor bool) {
	once.Do(func() {
		SetDefault(New(level, output, useColor))
	})
}

// SetDefault replaces the global logger. Tests use it to capture output.
func SetDefault(l *Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = l
}

func getDefault() *Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// New creates a new Logger instance
func New(level LogLevel, output io.Writer, useColor bool) *Logger {
	if output == nil {
		output = os.Stderr
	}
	return &Logger{
		level:    level,
		useColor: useColor,
		out:      log.New(output, "", log.Ldate|log.Ltime|log.Lmicroseconds),
	}
}

// SetLevel changes the log level
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// GetLevel returns the current log level
func (l *Logger) GetLevel() LogLevel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

func (l *Logger) log(level LogLevel, module string, format string, args ...any) {
	if level >= SILENT || level < l.GetLevel() {
		return
	}

	prefix := fmt.Sprintf("[%s]", levelNames[level])
	if l.useColor {
		prefix = levelColors[level] + prefix + resetColor
	}
	if module != "" {
		prefix = fmt.Sprintf("%s [%s]", prefix, module)
	}

	l.out.Printf("%s %s", prefix, fmt.Sprintf(format, args...))
}

// Debug logs a debug message
func (l *Logger) Debug(module string, format string, args ...any) {
	l.log(DEBUG, module, format, args...)
}

// Info logs an info message
func (l *Logger) Info(module string, format string, args ...any) {
	l.log(INFO, module, format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(module string, format string, args ...any) {
	l.log(WARN, module, format, args...)
}

// Error logs an error message
func (l *Logger) Error(module string, format string, args ...any) {
	l.log(ERROR, module, format, args...)
}

// Module is a logger handle bound to one module tag, so per-session code can
// log without repeating its tag. A zero Module logs through the global logger.
type Module struct {
	name   string
	logger *Logger
}

// For returns a handle that logs through the global logger under name.
func For(name string) Module {
	return Module{name: name}
}

// Module returns a handle bound to this logger.
func (l *Logger) Module(name string) Module {
	return Module{name: name, logger: l}
}

// Name returns the module tag
func (m Module) Name() string { return m.name }

// Sub returns a handle whose tag is nested under m.
func (m Module) Sub(name string) Module {
	if m.name == "" {
		return Module{name: name, logger: m.logger}
	}
	return Module{name: m.name + "/" + name, logger: m.logger}
}

func (m Module) target() *Logger {
	if m.logger != nil {
		return m.logger
	}
	return getDefault()
}

func (m Module) Debug(format string, args ...any) {
	if l := m.target(); l != nil {
		l.Debug(m.name, format, args...)
	}
}

func (m Module) Info(format string, args ...any) {
	if l := m.target(); l != nil {
		l.Info(m.name, format, args...)
	}
}

func (m Module) Warn(format string, args ...any) {
	if l := m.target(); l != nil {
		l.Warn(m.name, format, args...)
	}
}

func (m Module) Error(format string, args ...any) {
	if l := m.target(); l != nil {
		l.Error(m.name, format, args...)
	}
}

// Global logger functions (use default logger)

// SetLevel sets the global log level
func SetLevel(level LogLevel) {
	if l := getDefault(); l != nil {
		l.SetLevel(level)
	}
}

// GetLevel returns the global log level
func GetLevel() LogLevel {
	if l := getDefault(); l != nil {
		return l.GetLevel()
	}
	return INFO
}

// Debug logs a debug message using the global logger
func Debug(module string, format string, args ...any) {
	For(module).Debug(format, args...)
}

// Info logs an info message using the global logger
func Info(module string, format string, args ...any) {
	For(module).Info(format, args...)
}

// Warn logs a warning message using the global logger
func Warn(module string, format string, args ...any) {
	For(module).Warn(format, args...)
}

// Error logs an error message using the global logger
func Error(module string, format string, args ...any) {
	For(module).Error(format, args...)
}

// ParseLevel parses a log level string
func ParseLevel(s string) (LogLevel, error) {
	switch s {
	case "debug", "DEBUG":
		return DEBUG, nil
	case "info", "INFO":
		return INFO, nil
	case "warn", "WARN", "warning", "WARNING":
		return WARN, nil
	case "error", "ERROR":
		return ERROR, nil
	case "silent", "SILENT", "none", "NONE":
		return SILENT, nil
	default:
		return INFO, fmt.Errorf("invalid log level: %s", s)
	}
}

// String returns the string representation of a log level
func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "UNKNOWN"
}
