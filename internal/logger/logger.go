// Package logger is a small leveled logger. Messages carry a bracketed component tag,
// e.g. logger.Info("[Fitness] ..."), and go to the console and, optionally, a rotating
// plain-text file.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Level represents the logging level.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var levels = [...]struct {
	name  string
	color string
}{
	DEBUG: {"DEBUG", "\033[36m"},
	INFO:  {"INFO", "\033[32m"},
	WARN:  {"WARN", "\033[33m"},
	ERROR: {"ERROR", "\033[31m"},
}

const colorReset = "\033[0m"

// Rotation limits for file logs.
const (
	logMaxSizeMB  = 50
	logMaxBackups = 5
	logMaxAgeDays = 14
)

// Logger writes leveled messages to a console sink and an optional file sink.
type Logger struct {
	mu    sync.Mutex
	level Level
	color bool

	console *log.Logger

	file     *lumberjack.Logger
	fileLog  *log.Logger
	filePath string
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// Init initializes the default logger with the specified level. Later calls are no-ops;
// use SetLevel to change the level.
func Init(levelStr string) {
	once.Do(func() {
		defaultLogger = &Logger{
			level:   parseLevel(levelStr),
			color:   true,
			console: log.New(os.Stdout, "", log.LstdFlags),
		}
	})
}

func std() *Logger {
	if defaultLogger == nil {
		Init("info")
	}
	return defaultLogger
}

// InitWithFile initializes the default logger and additionally writes every message,
// without color codes, to a timestamped file in dir.
func InitWithFile(levelStr string, dir string) error {
	l := std()

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	path := filepath.Join(dir, time.Now().Format("2006-01-02_15-04-05_MST")+".log")

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		l.file.Close()
	}
	l.level = parseLevel(levelStr)
	l.file = &lumberjack.Logger{
		Filename:   path,
		MaxSize:    logMaxSizeMB,
		MaxBackups: logMaxBackups,
		MaxAge:     logMaxAgeDays,
	}
	l.fileLog = log.New(l.file, "", log.LstdFlags)
	l.filePath = path
	return nil
}

// GetLogFilePath returns the current log file, or "" when logging to console only.
func GetLogFilePath() string {
	if defaultLogger == nil {
		return ""
	}
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	return defaultLogger.filePath
}

// Close flushes and detaches the log file, if any.
func Close() error {
	if defaultLogger == nil {
		return nil
	}
	l := defaultLogger
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file, l.fileLog, l.filePath = nil, nil, ""
	return err
}

// SetLevel sets the logging level for the default logger.
func SetLevel(levelStr string) {
	l := std()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = parseLevel(levelStr)
}

// SetOutput sets the console destination for the default logger.
func SetOutput(w io.Writer) {
	l := std()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.console.SetOutput(w)
}

// SetColorEnable enables or disables color codes on the console.
func SetColorEnable(enable bool) {
	l := std()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.color = enable
}

func parseLevel(levelStr string) Level {
	switch strings.ToUpper(levelStr) {
	case "DEBUG":
		return DEBUG
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

func (l *Logger) log(level Level, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level < l.level {
		return
	}

	message := fmt.Sprintf(format, args...)
	lv := levels[level]
	if l.color {
		l.console.Printf("%s[%s]%s %s", lv.color, lv.name, colorReset, message)
	} else {
		l.console.Printf("[%s] %s", lv.name, message)
	}
	if l.fileLog != nil {
		l.fileLog.Printf("[%s] %s", lv.name, message)
	}
}

// Debug logs a debug message.
func Debug(format string, args ...any) { std().log(DEBUG, format, args...) }

// Info logs an info message.
func Info(format string, args ...any) { std().log(INFO, format, args...) }

// Warn logs a warning message.
func Warn(format string, args ...any) { std().log(WARN, format, args...) }

// Error logs an error message.
func Error(format string, args ...any) { std().log(ERROR, format, args...) }
