package logger

import (
	"io"
	"log/slog"
	"os"
	"sync"
)

var _default Logger = NewSlog(slog.LevelInfo)

type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

var once sync.Once

// InitLogger replaces the package logger. Only the first call has an effect so that
// a Syncer built later in the process cannot override a logger injected earlier.
func InitLogger(l Logger) {
	if l == nil {
		return
	}
	once.Do(func() {
		_default = l
	})
}

func Debug(msg string, args ...any) {
	_default.Debug(msg, args...)
}

func Info(msg string, args ...any) {
	_default.Info(msg, args...)
}

func Warn(msg string, args ...any) {
	_default.Warn(msg, args...)
}

func Error(msg string, args ...any) {
	_default.Error(msg, args...)
}

func NewSlog(logLevel slog.Level) Logger {
	return NewSlogWriter(os.Stdout, logLevel)
}

// NewSlogWriter returns a JSON logger writing to w.
func NewSlogWriter(w io.Writer, logLevel slog.Level) Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: logLevel}))
}

// ParseLevel maps the textual levels used in environment configuration to slog levels.
// Unknown values fall back to info.
func ParseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}
