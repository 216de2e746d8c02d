// Package log wraps zerolog with the component-scoped logger pattern used
// throughout the retrieval pack (cuemby-warren/pkg/log), adapted for use as
// a library dependency rather than a process-wide global: callers construct
// a logger via New and pass it into cueflow.Config, so importing cueflow
// never mutates global logging state.
package log

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Config controls how New builds a logger.
type Config struct {
	Level      zerolog.Level
	JSONOutput bool
	Output     io.Writer
}

// New builds a zerolog.Logger from cfg. A zero Config yields debug-level
// (zerolog's zero Level) console output to stdout.
func New(cfg Config) zerolog.Logger {
	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	var logger zerolog.Logger
	if cfg.JSONOutput {
		logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: output}).With().Timestamp().Logger()
	}
	return logger.Level(cfg.Level)
}

// Disabled returns a logger that discards everything, used as the default
// when Config.Logger is left unset so that embedding cueflow in a larger
// program stays silent until the caller opts in.
func Disabled() zerolog.Logger {
	return zerolog.Nop()
}

// Component returns a child logger tagged with a component field, mirroring
// cuemby-warren's WithComponent helper.
func Component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}
