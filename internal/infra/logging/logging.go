// Package logging configures the process-wide zerolog logger and hands out component loggers.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config selects the log level and output encoding.
type Config struct {
	Level   string
	Format  string
	Verbose bool
}

// Formats accepted by Init.
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// Init configures the global logger. Unknown levels fall back to info.
func Init(cfg Config) {
	InitWriter(cfg, os.Stderr)
}

// InitWriter configures the global logger to write to w.
func InitWriter(cfg Config, w io.Writer) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if cfg.Verbose && level > zerolog.DebugLevel {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	out := w
	if strings.EqualFold(strings.TrimSpace(cfg.Format), FormatConsole) {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
}

// Component returns a child of the global logger tagged with the component name.
func Component(name string) zerolog.Logger {
	return log.Logger.With().Str("component", name).Logger()
}

// Nop returns a disabled logger for tests and quiet embeddings.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
