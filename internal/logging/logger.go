package logging

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"

	"github.com/charmbracelet/log"
)

// NewLogger creates a [log.Logger] writing to w with timestamps and caller reporting.
// format is "text" or "json"; an unknown level is an error.
func NewLogger(w io.Writer, level, format string) (*log.Logger, error) {
	if w == nil {
		w = os.Stderr
	}

	lvl, err := log.ParseLevel(strings.ToLower(level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	opts := log.Options{
		ReportTimestamp: true,
		ReportCaller:    true,
		Level:           lvl,
		Prefix:          "photo-porter",
	}
	switch strings.ToLower(format) {
	case "", "text":
		opts.Formatter = log.TextFormatter
	case "json":
		opts.Formatter = log.JSONFormatter
	case "logfmt":
		opts.Formatter = log.LogfmtFormatter
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}

	return log.NewWithOptions(w, opts), nil
}

// Setup builds a logger and installs it as the package default used by
// log.Infof and friends throughout the service.
func Setup(w io.Writer, level, format string) (*log.Logger, error) {
	l, err := NewLogger(w, level, format)
	if err != nil {
		return nil, err
	}
	log.SetDefault(l)
	return l, nil
}

// With creates a child logger with the key-value pairs added to every entry.
func With(kv ...any) *log.Logger {
	return log.Default().With(kv...)
}

// StdLogger adapts the default logger for APIs that need a *log.Logger from
// the standard library, such as http.Server.ErrorLog.
func StdLogger() *stdlog.Logger {
	return log.Default().StandardLog(log.StandardLogOptions{ForceLevel: log.ErrorLevel})
}
