// Package logging configures the pipeline's zerolog output. Each martload
// command builds its logger here; the pipeline then attaches run-level
// fields like run_id so every stage event carries them.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Setup builds the root logger for a load. "text" renders a console writer
// for interactive runs of martload; anything else emits one JSON event per
// line, which is what scheduled loads feed into log collection.
func Setup(format string) zerolog.Logger {
	if format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}
