// Package logging provides the structured logger used across the engine.
package logging

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config controls how New builds a logger.
type Config struct {
	// Level is one of "debug", "info", "warn", "error". Defaults to "info".
	Level string
	// Pretty enables a human-readable console writer instead of raw JSON.
	Pretty bool
}

// New builds a zerolog.Logger configured from cfg. Service loggers derive
// from it via With().Str("service", ...); engine, ecosystem, subroutine and
// actuator loggers add their own keys instead.
func New(cfg Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var writer = os.Stdout
	if cfg.Pretty {
		console := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		return zerolog.New(console).With().Timestamp().Logger()
	}
	return zerolog.New(writer).With().Timestamp().Logger()
}
