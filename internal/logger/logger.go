// Package logger is the process-wide leveled logger. Every line carries the
// level and the name of the module that wrote it:
//
//	2024/05/01 12:00:00.000000 [INFO] [Scan] Session 3f2a... started
//
// Packages bind a handle once (var log = logger.For("Scan")); code that picks
// the module name at run time uses the package-level helpers.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

// LogLevel represents the severity of a log message
type LogLevel int32

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	SILENT // No logging
)

var levelNames = map[LogLevel]string{
	DEBUG:  "DEBUG",
	INFO:   "INFO",
	WARN:   "WARN",
	ERROR:  "ERROR",
	SILENT: "SILENT",
}

var levelColors = map[LogLevel]string{
	DEBUG: "\033[36m", // Cyan
	INFO:  "\033[32m", // Green
	WARN:  "\033[33m", // Yellow
	ERROR: "\033[31m", // Red
}

const resetColor = "\033[0m"

// Logger writes leveled, module-tagged lines to one output.
type Logger struct {
	level    atomic.Int32
	useColor bool
	out      *log.Logger
}

var (
	defaultLogger atomic.Pointer[Logger]
	once          sync.Once
)

// Init installs the global logger. Only the first call has an effect.
func Init(level LogLevel, output io.Writer, useColor bool) {
	once.Do(func() {
		defaultLogger.Store(New(level, output, useColor))
	})
}

// New creates a Logger writing to output (stderr when nil).
func New(level LogLevel, output io.Writer, useColor bool) *Logger {
	if output == nil {
		output = os.Stderr
	}
	l := &Logger{
		useColor: useColor,
		out:      log.New(output, "", log.Ldate|log.Ltime|log.Lmicroseconds),
	}
	l.level.Store(int32(level))
	return l
}

// Enabled reports whether messages at level are written.
func (l *Logger) Enabled(level LogLevel) bool {
	return level < SILENT && level >= LogLevel(l.level.Load())
}

func (l *Logger) write(level LogLevel, module, format string, args ...interface{}) {
	if !l.Enabled(level) {
		return
	}

	prefix := "[" + levelNames[level] + "]"
	if l.useColor {
		prefix = levelColors[level] + prefix + resetColor
	}
	if module != "" {
		prefix += " [" + module + "]"
	}
	l.out.Printf("%s %s", prefix, fmt.Sprintf(format, args...))
}

// For returns a Module handle that logs through l.
func (l *Logger) For(module string) Module {
	return Module{name: module, logger: l}
}

// Module is a logger handle bound to a module name.
// The zero value logs through the global logger with no module tag.
type Module struct {
	name   string
	logger *Logger
}

// For returns a Module handle that logs through the global logger, as
// installed by Init at the time of each call.
func For(module string) Module {
	return Module{name: module}
}

func (m Module) log(level LogLevel, format string, args ...interface{}) {
	l := m.logger
	if l == nil {
		l = defaultLogger.Load()
	}
	if l != nil {
		l.write(level, m.name, format, args...)
	}
}

func (m Module) Debug(format string, args ...interface{}) { m.log(DEBUG, format, args...) }
func (m Module) Info(format string, args ...interface{})  { m.log(INFO, format, args...) }
func (m Module) Warn(format string, args ...interface{})  { m.log(WARN, format, args...) }
func (m Module) Error(format string, args ...interface{}) { m.log(ERROR, format, args...) }

// Debug logs through the global logger under module.
func Debug(module string, format string, args ...interface{}) {
	For(module).Debug(format, args...)
}

// Info logs through the global logger under module.
func Info(module string, format string, args ...interface{}) {
	For(module).Info(format, args...)
}

// Warn logs through the global logger under module.
func Warn(module string, format string, args ...interface{}) {
	For(module).Warn(format, args...)
}

// Error logs through the global logger under module.
func Error(module string, format string, args ...interface{}) {
	For(module).Error(format, args...)
}

// ParseLevel parses a log level name, ignoring case.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(s) {
	case "debug":
		return DEBUG, nil
	case "info":
		return INFO, nil
	case "warn", "warning":
		return WARN, nil
	case "error":
		return ERROR, nil
	case "silent", "none":
		return SILENT, nil
	default:
		return INFO, fmt.Errorf("invalid log level: %s", s)
	}
}

func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "UNKNOWN"
}
