// Package logifacebridge adapts a github.com/joeycumines/logiface logger
// (e.g. one backed by github.com/joeycumines/stumpy) into this module's
// logging.Logger interface, so that a consumer who already standardised on
// logiface elsewhere in their program can plug it straight into the heap,
// pool, or facade without writing their own adapter.
//
// This mirrors the split in eventloop: the core package defines (and
// defaults to) a small dependency-light Logger interface, while a separate,
// optional integration point exists for consumers who want a real
// structured-logging backend.
package logifacebridge

import (
	"github.com/joeycumines/logiface"

	"github.com/joeycumines/go-allocpool/logging"
)

// Logger adapts a *logiface.Logger[E] to logging.Logger.
type Logger[E logiface.Event] struct {
	inner *logiface.Logger[E]
}

// New wraps inner so it satisfies logging.Logger. inner must not be nil.
func New[E logiface.Event](inner *logiface.Logger[E]) *Logger[E] {
	if inner == nil {
		panic("logifacebridge: nil logger")
	}
	return &Logger[E]{inner: inner}
}

// IsEnabled reports whether the underlying logiface logger's level would
// accept a record at the given level.
func (l *Logger[E]) IsEnabled(level logging.Level) bool {
	return l.inner.Level() >= toLogifaceLevel(level)
}

// Log translates a logging.Entry into a logiface builder call.
func (l *Logger[E]) Log(entry logging.Entry) {
	b := l.inner.Build(toLogifaceLevel(entry.Level))
	if b == nil {
		return
	}
	if entry.Category != "" {
		b = b.Str("category", entry.Category)
	}
	if entry.Addr != 0 {
		b = b.Uint64("addr", entry.Addr)
	}
	if entry.Size != 0 {
		b = b.Uint64("size", entry.Size)
	}
	if entry.WorkerID != 0 {
		b = b.Int("worker", entry.WorkerID)
	}
	if entry.TaskID != 0 {
		b = b.Uint64("task", entry.TaskID)
	}
	for k, v := range entry.Fields {
		b = b.Interface(k, v)
	}
	if entry.Err != nil {
		b = b.Err(entry.Err)
	}
	b.Log(entry.Message)
}

func toLogifaceLevel(level logging.Level) logiface.Level {
	switch level {
	case logging.LevelDebug:
		return logiface.LevelDebug
	case logging.LevelInfo:
		return logiface.LevelInformational
	case logging.LevelWarn:
		return logiface.LevelWarning
	case logging.LevelError:
		return logiface.LevelError
	default:
		return logiface.LevelDebug
	}
}
