// Package logging constructs the per-component zerolog.Logger instances
// used throughout the controller, mirroring the Python original's
// logging.getLogger(__name__) per-module convention with a structured
// "component" field instead of a logger name hierarchy.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Level mirrors zerolog's level names for callers that don't want to
// import zerolog directly just to pick a level.
type Level = zerolog.Level

var out io.Writer = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}

// SetOutput redirects every logger created after this call, e.g. to capture
// output. cmd/dustcollectord switches to JSON through UseJSON instead, when
// started with --json-logs.
func SetOutput(w io.Writer) { out = w }

// UseJSON switches the package to structured JSON output (no console
// coloring), appropriate when stderr isn't a TTY (systemd, containers).
func UseJSON() { out = os.Stderr }

// For constructs a logger tagged with the given component name, e.g.
// "gate.saw", "aqm", "collector", "supervisor".
func For(component string) zerolog.Logger {
	return zerolog.New(out).With().Timestamp().Str("component", component).Logger()
}
