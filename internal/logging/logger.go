package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logger configuration
type Config struct {
	Level  string    // debug, info, warn, error
	Pretty bool      // human readable console output instead of JSON
	Output io.Writer // defaults to stdout
}

// Logger wraps zerolog.Logger
type Logger struct {
	zl zerolog.Logger
}

// New creates a logger from cfg
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	zl := zerolog.New(out).
		Level(ParseLevel(cfg.Level)).
		With().
		Timestamp().
		Logger()

	return &Logger{zl: zl}
}

// Default returns an info level JSON logger on stdout
func Default() *Logger {
	return New(Config{Level: "info"})
}

// Nop discards everything
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// With returns a child logger carrying the given key/value pairs
func (l *Logger) With(fields ...any) *Logger {
	return &Logger{zl: l.zl.With().Fields(fields).Logger()}
}

func (l *Logger) Enabled(level zerolog.Level) bool {
	return l.zl.GetLevel() <= level
}

func (l *Logger) Debug(msg string, fields ...any) {
	l.zl.Debug().Fields(fields).Msg(msg)
}

func (l *Logger) Info(msg string, fields ...any) {
	l.zl.Info().Fields(fields).Msg(msg)
}

func (l *Logger) Warn(msg string, fields ...any) {
	l.zl.Warn().Fields(fields).Msg(msg)
}

func (l *Logger) Error(err error, msg string, fields ...any) {
	l.zl.Error().Err(err).Fields(fields).Msg(msg)
}

// Fatal logs and exits the process
func (l *Logger) Fatal(err error, msg string, fields ...any) {
	l.zl.Fatal().Err(err).Fields(fields).Msg(msg)
}
