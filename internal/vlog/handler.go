package vlog

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

var levelColor = map[Lvl]int{
	LvlCrit:  35, // magenta
	LvlError: 31, // red
	LvlWarn:  33, // yellow
	LvlInfo:  32, // green
	LvlDebug: 36, // cyan
	LvlTrace: 90, // gray
}

// handler formats and writes records. It mirrors geth's terminal handler:
// colorized key=value pairs on a TTY, plain logfmt otherwise (e.g. when
// stderr is redirected to a file, as operators running vite-work-server
// under systemd typically do).
type handler struct {
	mu    sync.Mutex
	lvl   Lvl
	out   io.Writer
	color bool
}

func newHandler(w io.Writer) *handler {
	h := &handler{lvl: LvlInfo}
	h.setOutput(w)
	return h
}

func (h *handler) level() Lvl {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lvl
}

func (h *handler) setLevel(lvl Lvl) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lvl = lvl
}

func (h *handler) setOutput(w io.Writer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		h.out = colorable.NewColorable(f)
		h.color = true
		return
	}
	h.out = w
	h.color = false
}

func (h *handler) emit(r *record) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ts := r.time.Format("2006-01-02T15:04:05-0700")
	var line string
	if h.color {
		line = fmt.Sprintf("\x1b[%dmLVL[%s]\x1b[0m[%s] %s%s\n",
			levelColor[r.lvl], r.lvl, ts, r.msg, kvString(r.ctx))
	} else {
		line = fmt.Sprintf("lvl=%s t=%s msg=%q%s\n", r.lvl, ts, r.msg, kvString(r.ctx))
	}
	if r.call != nil {
		line += fmt.Sprintf("    %+v\n", r.call)
	}
	fmt.Fprint(h.out, line)
}
