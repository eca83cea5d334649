// FILE: internal/logging/logging.go
// Package logging – zerolog setup shared by every component.
//
// Each subsystem (C1-C8) pulls a sub-logger via For(component) so log
// lines are always tagged with the owning component, mirroring the
// teacher's convention of prefixing log.Printf calls with the file/concern
// they came from.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

var base zerolog.Logger

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
	base = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().
		Timestamp().
		Logger()
}

// For returns a logger tagged with the owning component name.
func For(component string) zerolog.Logger {
	return base.With().Str("component", component).Logger()
}

// SetLevel adjusts the global minimum level (e.g. from a DEBUG env flag).
func SetLevel(level zerolog.Level) {
	zerolog.SetGlobalLevel(level)
}
