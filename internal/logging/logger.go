// Package logging configures the process-wide zerolog logger and hands out
// subsystem-scoped children of it.
package logging

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	once sync.Once
	base zerolog.Logger
)

// Init configures the global logger. Safe to call multiple times — only
// the first call takes effect, so packages can call it unconditionally
// from For() without coordinating startup order.
func Init() {
	once.Do(func() {
		level := zerolog.InfoLevel
		if v := os.Getenv("LOG_LEVEL"); v != "" {
			if parsed, err := zerolog.ParseLevel(strings.ToLower(v)); err == nil {
				level = parsed
			}
		} else if os.Getenv("DEBUG") == "true" {
			level = zerolog.DebugLevel
		}
		zerolog.SetGlobalLevel(level)

		if strings.ToLower(os.Getenv("LOG_FORMAT")) == "json" {
			base = zerolog.New(os.Stderr).With().Timestamp().Logger()
			return
		}
		w := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
		base = zerolog.New(w).With().Timestamp().Logger()
	})
}

// For returns a logger scoped to subsystem, e.g. logging.For("vkg"). The
// subsystem appears as a "component" field — the structured descendant of
// the old "[subsystem] ..." prefix convention.
func For(subsystem string) zerolog.Logger {
	Init()
	return base.With().Str("component", subsystem).Logger()
}

// Truncate truncates s to maxLen runes, collapsing newlines so it prints
// on one log line, and appends an ellipsis if truncated.
func Truncate(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}
