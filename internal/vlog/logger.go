// Package vlog is a small structured logger modeled on the leveled,
// key/value logger used throughout go-probeum (see consensus/probeash/sealer.go,
// which calls probeash.config.Log.New("miner", id) and then
// logger.Trace("...", "attempts", n)).
package vlog

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/go-stack/stack"
)

// Lvl is a log severity level, ordered from most severe (LvlCrit) to most
// verbose (LvlTrace).
type Lvl int

const (
	LvlCrit Lvl = iota
	LvlError
	LvlWarn
	LvlInfo
	LvlDebug
	LvlTrace
)

func (l Lvl) String() string {
	switch l {
	case LvlCrit:
		return "crit"
	case LvlError:
		return "eror"
	case LvlWarn:
		return "warn"
	case LvlInfo:
		return "info"
	case LvlDebug:
		return "dbug"
	case LvlTrace:
		return "trce"
	default:
		return "unkn"
	}
}

// Logger is the interface engine and server code depend on, so a test can
// substitute a no-op implementation without pulling in the terminal handler.
type Logger interface {
	New(ctx ...interface{}) Logger
	Trace(msg string, ctx ...interface{})
	Debug(msg string, ctx ...interface{})
	Info(msg string, ctx ...interface{})
	Warn(msg string, ctx ...interface{})
	Error(msg string, ctx ...interface{})
	Crit(msg string, ctx ...interface{})
}

type record struct {
	time time.Time
	lvl  Lvl
	msg  string
	ctx  []interface{}
	call stack.CallStack
}

type logger struct {
	ctx []interface{}
	h   *handler
}

var (
	root   = &logger{h: newHandler(os.Stderr)}
	rootMu sync.Mutex
)

// Root returns the process-wide root logger. main sets its level once at
// startup via SetLevel (SetOutput is available to redirect it); all other packages call New() on it
// (or on New() directly) the way sealer.go derives per-worker loggers.
func Root() Logger { return root }

// New returns the root logger's New, the common entry point for library code
// that wants its own logger without reaching through Root() first.
func New(ctx ...interface{}) Logger {
	return root.New(ctx...)
}

// SetLevel adjusts the minimum level the root handler emits.
func SetLevel(lvl Lvl) {
	root.h.setLevel(lvl)
}

// SetOutput redirects where the root handler writes formatted records.
func SetOutput(w io.Writer) {
	rootMu.Lock()
	defer rootMu.Unlock()
	root.h.setOutput(w)
}

func (l *logger) New(ctx ...interface{}) Logger {
	merged := make([]interface{}, 0, len(l.ctx)+len(ctx))
	merged = append(merged, l.ctx...)
	merged = append(merged, ctx...)
	return &logger{ctx: merged, h: l.h}
}

func (l *logger) write(lvl Lvl, msg string, ctx []interface{}) {
	if lvl > l.h.level() {
		return
	}
	merged := make([]interface{}, 0, len(l.ctx)+len(ctx))
	merged = append(merged, l.ctx...)
	merged = append(merged, ctx...)
	r := &record{time: time.Now(), lvl: lvl, msg: msg, ctx: merged}
	if lvl == LvlCrit {
		// Crit records carry their call site, the way geth's logger captures
		// a stack trace for fatal conditions (DeviceInitFailure, invariant bugs).
		r.call = stack.Callers()[2:]
	}
	l.h.emit(r)
}

func (l *logger) Trace(msg string, ctx ...interface{}) { l.write(LvlTrace, msg, ctx) }
func (l *logger) Debug(msg string, ctx ...interface{}) { l.write(LvlDebug, msg, ctx) }
func (l *logger) Info(msg string, ctx ...interface{})  { l.write(LvlInfo, msg, ctx) }
func (l *logger) Warn(msg string, ctx ...interface{})  { l.write(LvlWarn, msg, ctx) }
func (l *logger) Error(msg string, ctx ...interface{}) { l.write(LvlError, msg, ctx) }
func (l *logger) Crit(msg string, ctx ...interface{})  { l.write(LvlCrit, msg, ctx) }

// kvString renders an odd-length or mismatched-type ctx slice defensively;
// log calls are hand-written and occasionally get an arg wrong, and this
// package must never panic because of it.
func kvString(ctx []interface{}) string {
	out := ""
	for i := 0; i < len(ctx); i += 2 {
		k := fmt.Sprint(ctx[i])
		var v interface{} = "MISSING"
		if i+1 < len(ctx) {
			v = ctx[i+1]
		}
		out += fmt.Sprintf(" %s=%v", k, v)
	}
	return out
}
