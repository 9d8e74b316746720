package logging

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	current = LevelInfo
	logger  = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
)

// InitFromEnv sets the log level based on LOG_LEVEL (debug|info|warn|error).
func InitFromEnv() {
	SetLevel(os.Getenv("LOG_LEVEL"))
}

// SetLevel applies a textual level; unknown values fall back to info.
func SetLevel(level string) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "error":
		current = LevelError
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "warn", "warning":
		current = LevelWarn
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "debug":
		current = LevelDebug
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	default:
		current = LevelInfo
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// Current reports the active level.
func Current() Level {
	return current
}

// L exposes the underlying logger for call sites that want structured fields.
func L() *zerolog.Logger {
	return &logger
}

func Debugf(format string, args ...interface{}) {
	if current <= LevelDebug {
		logger.Debug().Msg(fmt.Sprintf(format, args...))
	}
}

func Infof(format string, args ...interface{}) {
	if current <= LevelInfo {
		logger.Info().Msg(fmt.Sprintf(format, args...))
	}
}

func Warnf(format string, args ...interface{}) {
	if current <= LevelWarn {
		logger.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

func Errorf(format string, args ...interface{}) {
	logger.Error().Msg(fmt.Sprintf(format, args...))
}

func Fatalf(format string, args ...interface{}) {
	logger.Fatal().Msg(fmt.Sprintf(format, args...))
}
