// Package logging builds the charmbracelet/log logger shared by the binaries.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
)

// New returns a logger writing to w with the given level (debug, info, warn, error)
// and format (text, json, logfmt). Unknown values fall back to info and text.
// A nil w writes to stderr.
func New(w io.Writer, level, format string) *log.Logger {
	if w == nil {
		w = os.Stderr
	}
	opts := log.Options{ReportTimestamp: true, ReportCaller: true}
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		opts.Formatter = log.JSONFormatter
	case "logfmt":
		opts.Formatter = log.LogfmtFormatter
	default:
		opts.Formatter = log.TextFormatter
	}
	l := log.NewWithOptions(w, opts)
	l.SetLevel(ParseLevel(level))
	return l
}

// ParseLevel maps a level name to a log.Level. Returns InfoLevel for unknown names.
func ParseLevel(level string) log.Level {
	lvl, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}

// With creates a child logger with the key-value pairs added to all entries.
func With(l *log.Logger, kv ...any) *log.Logger {
	return l.With(kv...)
}

// Install builds a logger from level and format and makes it the package default,
// so packages that log through log.Warn and friends share the configuration.
func Install(level, format string) *log.Logger {
	l := New(os.Stderr, level, format)
	log.SetDefault(l)
	return l
}
