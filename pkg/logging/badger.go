package logging

import (
	"strings"

	"github.com/rs/zerolog"
)

// BadgerLogger adapts a zerolog.Logger to badger's printf-style Logger
// interface. Badger's info chatter is demoted to debug.
type BadgerLogger struct {
	l zerolog.Logger
}

// NewBadgerLogger wraps l.
func NewBadgerLogger(l zerolog.Logger) *BadgerLogger {
	return &BadgerLogger{l: l.With().Str("component", "badger").Logger()}
}

func (b *BadgerLogger) Errorf(format string, args ...interface{}) {
	b.l.Error().Msgf(trim(format), args...)
}

func (b *BadgerLogger) Warningf(format string, args ...interface{}) {
	b.l.Warn().Msgf(trim(format), args...)
}

func (b *BadgerLogger) Infof(format string, args ...interface{}) {
	b.l.Debug().Msgf(trim(format), args...)
}

func (b *BadgerLogger) Debugf(format string, args ...interface{}) {
	b.l.Trace().Msgf(trim(format), args...)
}

// badger formats end in a newline
func trim(format string) string {
	return strings.TrimRight(format, "\n")
}
