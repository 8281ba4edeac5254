// Package logging provides the structured logger used across every
// runtime component. It wraps zerolog behind the small Logger interface
// that every constructor in this repository accepts.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Logger is the logging surface accepted by every component constructor
// in this repository (buffer.Manager, queue.Queue, worker.Pool, ...).
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	With(component string) Logger
}

type zlogger struct {
	z zerolog.Logger
}

// New returns a console-friendly zerolog-backed Logger writing to w.
func New(w io.Writer, level zerolog.Level) Logger {
	if w == nil {
		w = os.Stderr
	}
	z := zerolog.New(w).With().Timestamp().Logger().Level(level)
	return &zlogger{z: z}
}

// Nop returns a Logger that discards everything, for tests.
func Nop() Logger {
	return &zlogger{z: zerolog.Nop()}
}

func (l *zlogger) With(component string) Logger {
	return &zlogger{z: l.z.With().Str("component", component).Logger()}
}

func (l *zlogger) event(e *zerolog.Event, msg string, args ...interface{}) {
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		e = e.Interface(key, args[i+1])
	}
	e.Msg(msg)
}

func (l *zlogger) Debug(msg string, args ...interface{}) { l.event(l.z.Debug(), msg, args...) }
func (l *zlogger) Info(msg string, args ...interface{})  { l.event(l.z.Info(), msg, args...) }
func (l *zlogger) Warn(msg string, args ...interface{})  { l.event(l.z.Warn(), msg, args...) }
func (l *zlogger) Error(msg string, args ...interface{}) { l.event(l.z.Error(), msg, args...) }
