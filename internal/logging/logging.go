// Package logging provides JSON structured logging using zerolog.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var globalLogger zerolog.Logger

// Config controls the process-wide logger.
type Config struct {
	Level      string `json:"level" yaml:"level"`
	Debug      bool   `json:"debug" yaml:"debug"`
	Output     string `json:"output" yaml:"output"` // "stdout", "stderr" or a file path
	TimeFormat string `json:"time_format" yaml:"time_format"`
}

// DefaultConfig logs info level to stderr so CLI output on stdout stays clean.
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Output: "stderr",
	}
}

func init() {
	globalLogger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	zerolog.TimeFieldFormat = time.RFC3339
}

// Init configures the global logger. The returned closer releases the output
// file when Output names a path; it is a no-op otherwise.
func Init(config Config) (func() error, error) {
	var output io.Writer = os.Stderr
	closer := func() error { return nil }

	switch config.Output {
	case "", "stderr":
	case "stdout":
		output = os.Stdout
	default:
		f, err := os.OpenFile(config.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return closer, err
		}
		output = f
		closer = f.Close
	}

	level := zerolog.InfoLevel
	if config.Debug {
		level = zerolog.DebugLevel
	} else if config.Level != "" {
		var err error
		level, err = zerolog.ParseLevel(config.Level)
		if err != nil {
			return closer, err
		}
	}

	if config.TimeFormat != "" {
		zerolog.TimeFieldFormat = config.TimeFormat
	}

	globalLogger = zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Logger()

	return closer, nil
}

// Logger returns the global logger.
func Logger() zerolog.Logger {
	return globalLogger
}

// WithComponent returns a child of the global logger tagged with component.
func WithComponent(component string) zerolog.Logger {
	return globalLogger.With().Str("component", component).Logger()
}

// NewTestLogger returns a logger that discards everything.
func NewTestLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}
