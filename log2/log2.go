// Package log2 is a leveled wrapper around stdlib *log.Logger.
// - log level filtering, e.g. debug frame dumps only in tests or with log_debug=true
// - safe concurrent change of log level
// - nil *Log is valid and discards everything
//
// Parallel tests log into t.Logf() through NewTest.
package log2

import (
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"sync/atomic"
	"testing"
)

const ContextKey = "run/log"

const (
	// type specified here helped against accidentally passing flags as level
	Lmicroseconds     int = log.Lmicroseconds
	Lshortfile        int = log.Lshortfile
	LStdFlags         int = log.Ltime | Lshortfile
	LInteractiveFlags int = log.Ltime | Lshortfile | Lmicroseconds
	LServiceFlags     int = Lshortfile
	LTestFlags        int = Lshortfile | Lmicroseconds
)

type Level int32

const (
	LError Level = iota
	LInfo
	LDebug
	LAll Level = math.MaxInt32
)

type ErrorFunc func(error)

type Log struct {
	l       *log.Logger
	level   Level
	w       io.Writer
	fatalf  Func
	errfunc atomic.Value // ErrorFunc
}

func NewStderr(level Level) *Log { return NewWriter(os.Stderr, level) }
func NewWriter(w io.Writer, level Level) *Log {
	if w == io.Discard {
		return nil
	}
	return &Log{
		l:     log.New(w, "", LStdFlags),
		level: level,
		w:     w,
	}
}

type Func func(format string, args ...interface{})
type FuncWriter struct{ Func }

func NewFunc(f Func, level Level) *Log { return NewWriter(FuncWriter{f}, level) }
func (fw FuncWriter) Write(b []byte) (int, error) {
	fw.Func(string(b))
	return len(b), nil
}

func NewTest(t testing.TB, level Level) *Log {
	l := NewFunc(t.Logf, level)
	l.fatalf = t.Fatalf
	return l
}

// Clone returns new logger with same output, flags and prefix.
// Error func is not copied.
func (l *Log) Clone(level Level) *Log {
	if l == nil {
		return nil
	}
	c := NewWriter(l.w, level)
	c.fatalf = l.fatalf
	c.l.SetFlags(l.l.Flags())
	c.l.SetPrefix(l.l.Prefix())
	return c
}

func (l *Log) SetLevel(level Level) {
	if l == nil {
		return
	}
	atomic.StoreInt32((*int32)(&l.level), int32(level))
}

func (l *Log) SetFlags(f int) {
	if l == nil {
		return
	}
	l.l.SetFlags(f)
}

func (l *Log) SetPrefix(prefix string) {
	if l == nil {
		return
	}
	l.l.SetPrefix(prefix)
}

// SetErrorFunc registers hook called with every Error/Errorf.
func (l *Log) SetErrorFunc(f ErrorFunc) {
	if l == nil {
		return
	}
	l.errfunc.Store(f)
}

func (l *Log) Enabled(level Level) bool {
	if l == nil {
		return false
	}
	return atomic.LoadInt32((*int32)(&l.level)) >= int32(level)
}

func (l *Log) Log(level Level, s string) {
	if l.Enabled(level) {
		_ = l.l.Output(3, s)
	}
}
func (l *Log) Logf(level Level, format string, args ...interface{}) {
	if l.Enabled(level) {
		_ = l.l.Output(3, fmt.Sprintf(format, args...))
	}
}

func (l *Log) Printf(format string, args ...interface{}) {
	l.Logf(LInfo, format, args...)
}

func (l *Log) Error(args ...interface{}) {
	l.Log(LError, "error: "+fmt.Sprint(args...))
	if l != nil {
		if len(args) == 1 {
			if e, ok := args[0].(error); ok {
				l.callErrorFunc(e)
				return
			}
		}
		l.callErrorFunc(errors.New(fmt.Sprint(args...)))
	}
}
func (l *Log) Errorf(format string, args ...interface{}) {
	l.Logf(LError, "error: "+format, args...)
	if l != nil {
		l.callErrorFunc(fmt.Errorf(format, args...))
	}
}
func (l *Log) Info(args ...interface{}) {
	l.Log(LInfo, fmt.Sprint(args...))
}
func (l *Log) Infof(format string, args ...interface{}) {
	l.Logf(LInfo, format, args...)
}
func (l *Log) Debug(args ...interface{}) {
	l.Log(LDebug, "debug: "+fmt.Sprint(args...))
}
func (l *Log) Debugf(format string, args ...interface{}) {
	l.Logf(LDebug, "debug: "+format, args...)
}

func (l *Log) Fatalf(format string, args ...interface{}) {
	if l != nil && l.fatalf != nil {
		l.fatalf(format, args...)
		return
	}
	l.Logf(LError, "fatal: "+format, args...)
	os.Exit(1)
}
func (l *Log) Fatal(args ...interface{}) {
	s := fmt.Sprint(args...)
	if l != nil && l.fatalf != nil {
		l.fatalf("%s", s)
		return
	}
	l.Log(LError, "fatal: "+s)
	os.Exit(1)
}

func (l *Log) callErrorFunc(e error) {
	if f, ok := l.errfunc.Load().(ErrorFunc); ok && f != nil {
		f(e)
	}
}
