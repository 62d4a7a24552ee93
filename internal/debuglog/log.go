package debuglog

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// LogLevel represents the severity level of a log message
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelOff // Disables all logging
)

func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelOff:
		return "OFF"
	default:
		return "UNKNOWN"
	}
}

// ParseLogLevel parses a string into a LogLevel, defaulting to INFO.
func ParseLogLevel(s string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "INFO":
		return LevelInfo
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	case "OFF", "NONE":
		return LevelOff
	default:
		return LevelInfo
	}
}

var (
	mu           sync.RWMutex
	currentLevel LogLevel = LevelOff
	logger       *log.Logger
	logFile      *os.File
)

// Setup configures the logging system with the specified level and optional file path.
// If filePath is empty, defaults to ~/.neows/neows.log.
func Setup(level LogLevel, filePath ...string) error {
	mu.Lock()
	defer mu.Unlock()

	currentLevel = level
	closeFileLocked()

	if level == LevelOff {
		logger = nil
		return nil
	}

	var logPath string
	if len(filePath) > 0 && filePath[0] != "" {
		logPath = filePath[0]
	} else {
		home, _ := os.UserHomeDir()
		logPath = filepath.Join(home, ".neows", "neows.log")
	}
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", logPath, err)
	}

	logFile = f
	logger = log.New(f, "neows ", log.LstdFlags|log.Lmicroseconds)
	return nil
}

// SetOutput logs to w instead of a file. The server logs to stderr this way.
func SetOutput(level LogLevel, w io.Writer) {
	mu.Lock()
	defer mu.Unlock()

	currentLevel = level
	closeFileLocked()
	if level == LevelOff || w == nil {
		logger = nil
		return
	}
	logger = log.New(w, "neows ", log.LstdFlags|log.Lmicroseconds)
}

func SetLevel(level LogLevel) {
	mu.Lock()
	currentLevel = level
	mu.Unlock()
}

func GetLevel() LogLevel {
	mu.RLock()
	defer mu.RUnlock()
	return currentLevel
}

// Enabled reports whether a message at level would be written.
func Enabled(level LogLevel) bool {
	mu.RLock()
	defer mu.RUnlock()
	return logger != nil && level >= currentLevel && currentLevel != LevelOff
}

// Close closes the log file if open
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	err := closeFileLocked()
	logger = nil
	return err
}

func closeFileLocked() error {
	if logFile == nil {
		return nil
	}
	err := logFile.Close()
	logFile = nil
	return err
}

func logf(level LogLevel, suffix, format string, args ...any) {
	mu.RLock()
	defer mu.RUnlock()
	if logger == nil || level < currentLevel || currentLevel == LevelOff {
		return
	}

	message := fmt.Sprintf(format, args...)
	logger.Printf("[%s] %s%s", level.String(), message, suffix)
}

func Debugf(format string, args ...any) {
	logf(LevelDebug, "", format, args...)
}

func Infof(format string, args ...any) {
	logf(LevelInfo, "", format, args...)
}

func Warnf(format string, args ...any) {
	logf(LevelWarn, "", format, args...)
}

func Errorf(format string, args ...any) {
	logf(LevelError, "", format, args...)
}

// Fields are key-value pairs appended to a log line.
type Fields map[string]any

// FieldLogger writes messages with a fixed set of fields.
type FieldLogger struct {
	suffix string
}

// WithFields returns a logger that appends fields, sorted by key.
func WithFields(fields Fields) *FieldLogger {
	return &FieldLogger{suffix: formatFields(fields)}
}

func formatFields(fields Fields) string {
	if len(fields) == 0 {
		return ""
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return " [" + strings.Join(parts, " ") + "]"
}

func (fl *FieldLogger) Debugf(format string, args ...any) {
	logf(LevelDebug, fl.suffix, format, args...)
}

func (fl *FieldLogger) Infof(format string, args ...any) {
	logf(LevelInfo, fl.suffix, format, args...)
}

func (fl *FieldLogger) Warnf(format string, args ...any) {
	logf(LevelWarn, fl.suffix, format, args...)
}

func (fl *FieldLogger) Errorf(format string, args ...any) {
	logf(LevelError, fl.suffix, format, args...)
}
