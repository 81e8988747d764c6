package logx

import (
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const consoleTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Field adds one key to an event. Later fields overwrite earlier ones with
// the same key.
type Field func(e *zerolog.Event)

func String(k, v string) Field            { return func(e *zerolog.Event) { e.Str(k, v) } }
func Strs(k string, v []string) Field     { return func(e *zerolog.Event) { e.Strs(k, v) } }
func Int(k string, v int) Field           { return func(e *zerolog.Event) { e.Int(k, v) } }
func Uint64(k string, v uint64) Field     { return func(e *zerolog.Event) { e.Uint64(k, v) } }
func Bool(k string, v bool) Field         { return func(e *zerolog.Event) { e.Bool(k, v) } }
func Time(k string, v time.Time) Field    { return func(e *zerolog.Event) { e.Time(k, v) } }
func Any(k string, v any) Field           { return func(e *zerolog.Event) { e.Interface(k, v) } }
func Duration(k string, d time.Duration) Field {
	return func(e *zerolog.Event) { e.Dur(k, d) }
}

// Err is a no-op for a nil error.
func Err(err error) Field {
	if err == nil {
		return nil
	}
	return func(e *zerolog.Event) { e.Err(err) }
}

// Logger writes through the Service it came from, so level and sink changes
// reach every derived logger. The zero Logger discards everything.
type Logger struct {
	svc    *Service
	nop    bool
	fields []Field
}

func Nop() Logger { return Logger{nop: true} }

func (l Logger) IsZero() bool { return l.svc == nil && !l.nop && len(l.fields) == 0 }

func (l Logger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	out := l
	out.fields = make([]Field, 0, len(l.fields)+len(fields))
	out.fields = append(append(out.fields, l.fields...), fields...)
	return out
}

func (l Logger) Trace(msg string, fields ...Field) { l.emit(zerolog.TraceLevel, msg, fields) }
func (l Logger) Debug(msg string, fields ...Field) { l.emit(zerolog.DebugLevel, msg, fields) }
func (l Logger) Info(msg string, fields ...Field)  { l.emit(zerolog.InfoLevel, msg, fields) }
func (l Logger) Warn(msg string, fields ...Field)  { l.emit(zerolog.WarnLevel, msg, fields) }
func (l Logger) Error(msg string, fields ...Field) { l.emit(zerolog.ErrorLevel, msg, fields) }

func (l Logger) emit(level zerolog.Level, msg string, fields []Field) {
	if l.svc == nil {
		return
	}
	zl := l.svc.current()
	e := zl.WithLevel(level)
	if e == nil {
		return
	}
	if _, file, line, ok := runtime.Caller(2); ok {
		e.Str(zerolog.CallerFieldName, filepath.Base(file)+":"+strconv.Itoa(line))
	}
	for _, set := range [][]Field{l.fields, fields} {
		for _, f := range set {
			if f != nil {
				f(e)
			}
		}
	}
	e.Msg(msg)
}

// parseLevel maps a config level name onto zerolog, falling back to def.
func parseLevel(s string, def zerolog.Level) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	}
	return def
}
