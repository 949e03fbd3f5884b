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
	logger     *slog.Logger
	loggerOnce sync.Once
	minLevel   = new(slog.LevelVar)
)

// initLogger initializes the global logger to write key=value lines to stderr.
func initLogger() {
	loggerOnce.Do(func() {
		minLevel.Set(slog.LevelInfo)
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: minLevel}))
	})
}

// SetOutput redirects log output. Used by tests and by the CLI when a log
// file is configured.
func SetOutput(w io.Writer) {
	initLogger()
	logger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: minLevel}))
}

func SetLevel(l Level) {
	initLogger()
	minLevel.Set(toSlog(l))
}

// ParseLevel maps a config string to a Level, defaulting to INFO.
func ParseLevel(s string) Level {
	switch Level(strings.ToUpper(strings.TrimSpace(s))) {
	case LevelDebug:
		return LevelDebug
	case LevelWarn:
		return LevelWarn
	case LevelError:
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger exposes the underlying slog logger for packages that want to attach
// their own attributes.
func Logger() *slog.Logger {
	initLogger()
	return logger
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
	// Expect kv as pairs; a trailing odd value is dropped.
	if len(kv)%2 == 1 {
		kv = kv[:len(kv)-1]
	}
	logger.Log(context.Background(), toSlog(level), msg, kv...)
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

// RedactURL hides path and query of an upstream URL for logging purposes.
//
//	https://example.com/path/to/feed?token=abcd -> https://example.com/...(redacted)
func RedactURL(u string) string {
	const redactedSuffix = "/...(redacted)"

	i := strings.Index(u, "://")
	if i == -1 {
		return "url://...(redacted)"
	}
	rest := u[i+3:]
	if j := strings.IndexByte(rest, '/'); j >= 0 {
		rest = rest[:j]
	}
	return u[:i+3] + rest + redactedSuffix
}
