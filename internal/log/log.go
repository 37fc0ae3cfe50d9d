package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

var (
	mu       sync.RWMutex
	logger   *slog.Logger
	levelVar = new(slog.LevelVar)
	once     sync.Once
)

// initLogger installs the default stderr text handler on first use.
func initLogger() {
	once.Do(func() {
		levelVar.Set(slog.LevelInfo)
		if env := os.Getenv("LOG_LEVEL"); env != "" {
			levelVar.Set(toSlog(ParseLevel(env)))
		}
		mu.Lock()
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar}))
		mu.Unlock()
	})
}

// ParseLevel maps a config/env string onto a Level. Unknown values map to INFO.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func SetLevel(l Level) {
	initLogger()
	levelVar.Set(toSlog(l))
}

// SetOutput redirects all subsequent log lines to w, keeping the current level.
func SetOutput(w io.Writer) {
	initLogger()
	mu.Lock()
	logger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: levelVar}))
	mu.Unlock()
}

func Debug(msg string, kv ...any) {
	logWithLevel(LevelDebug, msg, kv...)
}

func Info(msg string, kv ...any) {
	logWithLevel(LevelInfo, msg, kv...)
}

func Warn(msg string, kv ...any) {
	logWithLevel(LevelWarn, msg, kv...)
}

func Error(msg string, err error, kv ...any) {
	// Prepend error into key-value list.
	extended := append([]any{"err", err}, kv...)
	logWithLevel(LevelError, msg, extended...)
}

func logWithLevel(level Level, msg string, kv ...any) {
	initLogger()

	mu.RLock()
	l := logger
	mu.RUnlock()

	// Odd trailing values are dropped rather than rendered as !BADKEY.
	if len(kv)%2 == 1 {
		kv = kv[:len(kv)-1]
	}
	l.Log(context.Background(), toSlog(level), msg, kv...)
}

func toSlog(l Level) slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
