// Package logging wraps zerolog for this simulator's components. It
// replaces the teacher's hand-rolled JSON logger (see DESIGN.md) with two
// functions: SetLevel for the global minimum level, and For, which returns
// a logger tagged with a "component" field for each collaborator.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

var base = zerolog.New(os.Stdout).With().Timestamp().Logger()

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}

// SetLevel sets the global minimum log level ("debug", "info", "warn",
// "error"). Unrecognized values fall back to info.
func SetLevel(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

// For returns a logger scoped to a named component, e.g. "engine",
// "feed", "http".
func For(component string) zerolog.Logger {
	return base.With().Str("component", component).Logger()
}
