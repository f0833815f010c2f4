package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

// Level is a log severity.
type Level int

// Log levels, lowest first.
const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = map[Level]string{
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
}

// String returns the tag written in front of each line.
func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "UNKNOWN"
}

// ParseLevel maps "debug", "info", "warn" or "error" to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

var (
	globalLogger *log.Logger
	logFile      *os.File
	minLevel     = LevelDebug
	mu           sync.Mutex
)

// Init initializes the global logger with the specified log file path.
func Init(logPath string) error {
	mu.Lock()
	defer mu.Unlock()

	// Close previous log file if exists
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}

	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}

	logFile = f
	globalLogger = log.New(f, "", log.Ltime|log.Lmicroseconds)

	return nil
}

// InitWriter sends log output to w. A nil writer silences the logger.
func InitWriter(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
	if w == nil {
		globalLogger = nil
		return
	}
	globalLogger = log.New(w, "", log.Ltime|log.Lmicroseconds)
}

// SetLevel drops messages below l.
func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	minLevel = l
}

// Close closes the log file.
func Close() {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
	globalLogger = nil
}

func logf(l Level, format string, v ...interface{}) {
	mu.Lock()
	defer mu.Unlock()

	if globalLogger != nil && l >= minLevel {
		globalLogger.Printf("["+l.String()+"] "+format, v...)
	}
}

// Info logs an info message.
func Info(format string, v ...interface{}) { logf(LevelInfo, format, v...) }

// Debug logs a debug message.
func Debug(format string, v ...interface{}) { logf(LevelDebug, format, v...) }

// Error logs an error message.
func Error(format string, v ...interface{}) { logf(LevelError, format, v...) }

// Warn logs a warning message.
func Warn(format string, v ...interface{}) { logf(LevelWarn, format, v...) }

// GetWriter returns the underlying writer, for the HTTP server's error log.
func GetWriter() io.Writer {
	mu.Lock()
	defer mu.Unlock()

	if globalLogger != nil {
		return globalLogger.Writer()
	}
	return io.Discard
}
