// Package logging provides the structured logging facade used throughout
// eden. It wraps zerolog so the rest of the tree never imports it directly,
// mirroring the split the teacher project keeps between its internal
// packages and the concrete logging backend.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

// Level mirrors zerolog.Level without leaking the dependency into callers.
type Level int8

const (
	TraceLevel Level = Level(zerolog.TraceLevel)
	DebugLevel Level = Level(zerolog.DebugLevel)
	InfoLevel  Level = Level(zerolog.InfoLevel)
	WarnLevel  Level = Level(zerolog.WarnLevel)
	ErrorLevel Level = Level(zerolog.ErrorLevel)
	Disabled   Level = Level(zerolog.Disabled)
)

// ParseLevel parses a level name from daemon configuration.
func ParseLevel(name string) (Level, error) {
	lvl, err := zerolog.ParseLevel(name)
	if err != nil {
		return InfoLevel, err
	}
	return Level(lvl), nil
}

// SetGlobalLevel sets the process-wide minimum log level.
func SetGlobalLevel(l Level) {
	zerolog.SetGlobalLevel(zerolog.Level(l))
}

// SetOutput redirects the default logger, e.g. to a daemon log file.
func SetOutput(w io.Writer) {
	zlog.Logger = zlog.Logger.Output(w)
}

// NewConsoleWriter returns a human-friendly writer for interactive use.
func NewConsoleWriter() io.Writer {
	return zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
}

// Event wraps a zerolog.Event being built up by a call site.
type Event struct{ ze *zerolog.Event }

func (e *Event) Str(key, val string) *Event   { e.ze = e.ze.Str(key, val); return e }
func (e *Event) Int(key string, v int) *Event { e.ze = e.ze.Int(key, v); return e }
func (e *Event) Uint64(key string, v uint64) *Event {
	e.ze = e.ze.Uint64(key, v)
	return e
}
func (e *Event) Bool(key string, v bool) *Event { e.ze = e.ze.Bool(key, v); return e }
func (e *Event) Dur(key string, d time.Duration) *Event {
	e.ze = e.ze.Dur(key, d)
	return e
}
func (e *Event) Err(err error) *Event { e.ze = e.ze.Err(err); return e }
func (e *Event) Msg(msg string)       { e.ze.Msg(msg) }
func (e *Event) Msgf(format string, args ...interface{}) {
	e.ze.Msgf(format, args...)
}

func wrap(ze *zerolog.Event) *Event { return &Event{ze: ze} }

// Trace/Debug/Info/Warn/Error are the package-level entry points used by
// call sites that do not need a LogContext.
func Trace() *Event { return wrap(zlog.Trace()) }
func Debug() *Event { return wrap(zlog.Debug()) }
func Info() *Event  { return wrap(zlog.Info()) }
func Warn() *Event  { return wrap(zlog.Warn()) }
func Error() *Event { return wrap(zlog.Error()) }

// LogContext accumulates structured fields across a call chain (a fetch
// context, a channel request context, a checkout) so every log line that
// call chain produces carries the same correlation fields.
type LogContext struct {
	Component string
	Method    string
	Mount     string
	Fields    map[string]interface{}
}

// NewLogContext starts a LogContext scoped to a component.
func NewLogContext(component string) LogContext {
	return LogContext{Component: component, Fields: map[string]interface{}{}}
}

func (c LogContext) WithMethod(method string) LogContext {
	c.Method = method
	return c
}

func (c LogContext) WithMount(mount string) LogContext {
	c.Mount = mount
	return c
}

// With attaches an arbitrary field, returning a copy so callers can branch
// a context for concurrent sub-operations without aliasing the map.
func (c LogContext) With(key string, value interface{}) LogContext {
	next := make(map[string]interface{}, len(c.Fields)+1)
	for k, v := range c.Fields {
		next[k] = v
	}
	next[key] = value
	return LogContext{Component: c.Component, Method: c.Method, Mount: c.Mount, Fields: next}
}

// Logger materializes a zerolog context carrying every accumulated field.
func (c LogContext) Logger() *ScopedLogger {
	zc := zlog.Logger.With()
	if c.Component != "" {
		zc = zc.Str("component", c.Component)
	}
	if c.Method != "" {
		zc = zc.Str("method", c.Method)
	}
	if c.Mount != "" {
		zc = zc.Str("mount", c.Mount)
	}
	for k, v := range c.Fields {
		zc = zc.Interface(k, v)
	}
	zl := zc.Logger()
	return &ScopedLogger{zl: zl}
}

// ScopedLogger is the logger produced by a LogContext.
type ScopedLogger struct{ zl zerolog.Logger }

func (s *ScopedLogger) Trace() *Event { return wrap(s.zl.Trace()) }
func (s *ScopedLogger) Debug() *Event { return wrap(s.zl.Debug()) }
func (s *ScopedLogger) Info() *Event  { return wrap(s.zl.Info()) }
func (s *ScopedLogger) Warn() *Event  { return wrap(s.zl.Warn()) }
func (s *ScopedLogger) Error() *Event { return wrap(s.zl.Error()) }
