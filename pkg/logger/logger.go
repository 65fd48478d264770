// Leveled printf-style logger shared by every component.
// Errors go to stderr, everything else to stdout.

package logger

import (
	"fmt"
	"os"
	"time"
)

// Logger: Simple leveled logger
type Logger struct {
	level LogLevel
	name  string
}

// LogLevel: Log severity levels
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

var levelNames = map[LogLevel]string{
	DebugLevel: "DEBUG",
	InfoLevel:  "INFO",
	WarnLevel:  "WARN",
	ErrorLevel: "ERROR",
}

var globalLogger *Logger

func init() {
	globalLogger = &Logger{
		level: InfoLevel,
		name:  "nimbus",
	}
}

// Get: Get the global logger instance
func Get() *Logger {
	return globalLogger
}

// Debug: Log debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.level <= DebugLevel {
		l.log(DebugLevel, format, args...)
	}
}

// Info: Log info message
func (l *Logger) Info(format string, args ...interface{}) {
	if l.level <= InfoLevel {
		l.log(InfoLevel, format, args...)
	}
}

// Warn: Log warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.level <= WarnLevel {
		l.log(WarnLevel, format, args...)
	}
}

// Error: Log error message
func (l *Logger) Error(format string, args ...interface{}) {
	if l.level <= ErrorLevel {
		l.log(ErrorLevel, format, args...)
	}
}

func (l *Logger) log(level LogLevel, format string, args ...interface{}) {
	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	message := fmt.Sprintf(format, args...)
	output := fmt.Sprintf("[%s] [%s] %s: %s\n", timestamp, l.name, levelNames[level], message)

	if level >= ErrorLevel {
		fmt.Fprint(os.Stderr, output)
	} else {
		fmt.Fprint(os.Stdout, output)
	}
}

// Sync: Flush pending output during graceful shutdown (best effort)
func (l *Logger) Sync() error {
	if err := os.Stdout.Sync(); err != nil {
		return err
	}
	return os.Stderr.Sync()
}

// SetLevel: Set the log level
func (l *Logger) SetLevel(level LogLevel) {
	l.level = level
}

// SetLevelStr: Set log level from string ("debug", "info", "warn", "error")
func (l *Logger) SetLevelStr(levelStr string) {
	switch levelStr {
	case "debug":
		l.level = DebugLevel
	case "info":
		l.level = InfoLevel
	case "warn":
		l.level = WarnLevel
	case "error":
		l.level = ErrorLevel
	default:
		l.level = InfoLevel
	}
}

// GetLevel: Get current log level
func (l *Logger) GetLevel() LogLevel {
	return l.level
}
