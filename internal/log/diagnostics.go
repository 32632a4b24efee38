package log

import (
	"strings"

	"github.com/rs/zerolog"
)

var nop = zerolog.Nop()

// Diagnostics is the opt-in per-file trace stream. When a filter is
// set only paths containing it (case-insensitively) are logged.
// A nil *Diagnostics is valid and logs nothing.
type Diagnostics struct {
	logger  zerolog.Logger
	filter  string
	enabled bool
}

// NewDiagnostics wraps logger for diagnostic output. The stream is
// silent unless enabled is true.
func NewDiagnostics(
	logger zerolog.Logger, enabled bool, filter string,
) *Diagnostics {
	return &Diagnostics{
		logger:  logger.With().Str("stream", "diag").Logger(),
		filter:  strings.ToLower(strings.TrimSpace(filter)),
		enabled: enabled,
	}
}

// Enabled reports whether any diagnostic output can be produced.
func (d *Diagnostics) Enabled() bool {
	return d != nil && d.enabled
}

// Matches reports whether events for path pass the filter.
func (d *Diagnostics) Matches(path string) bool {
	if !d.Enabled() {
		return false
	}
	if d.filter == "" {
		return true
	}
	return strings.Contains(strings.ToLower(path), d.filter)
}

// For returns a logger scoped to path, or a no-op logger when the
// path is filtered out.
func (d *Diagnostics) For(path string) *zerolog.Logger {
	if !d.Matches(path) {
		return &nop
	}
	l := d.logger.With().Str("path", path).Logger()
	return &l
}
