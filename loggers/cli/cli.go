package cli

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"emperror.dev/errors"
	"github.com/apex/log"
	color2 "github.com/fatih/color"
	"github.com/mattn/go-colorable"
)

var Default = New(os.Stderr, true)

var bold = color2.New(color2.Bold)

var Colors = map[log.Level]*color2.Color{
	log.DebugLevel: color2.New(color2.FgWhite),
	log.InfoLevel:  color2.New(color2.FgBlue),
	log.WarnLevel:  color2.New(color2.FgYellow),
	log.ErrorLevel: color2.New(color2.FgRed),
	log.FatalLevel: color2.New(color2.FgRed),
}

var Strings = map[log.Level]string{
	log.DebugLevel: "DEBUG",
	log.InfoLevel:  " INFO",
	log.WarnLevel:  " WARN",
	log.ErrorLevel: "ERROR",
	log.FatalLevel: "FATAL",
}

type Handler struct {
	mu      sync.Mutex
	Writer  io.Writer
	Padding int
}

// New returns a new handler for the CLI output. If color output is requested
// the writer is wrapped so ANSI sequences survive on Windows terminals.
func New(w io.Writer, useColors bool) *Handler {
	if f, ok := w.(*os.File); ok && useColors {
		return &Handler{Writer: colorable.NewColorable(f), Padding: 2}
	}
	return &Handler{Writer: colorable.NewNonColorable(w), Padding: 2}
}

type tracer interface {
	StackTrace() errors.StackTrace
}

// HandleLog implements the apex/log Handler interface by writing a colorized,
// human-readable line for each entry along with any attached fields.
func (h *Handler) HandleLog(e *log.Entry) error {
	color := Colors[e.Level]
	level := Strings[e.Level]
	names := e.Fields.Names()

	h.mu.Lock()
	defer h.mu.Unlock()

	_, _ = color.Fprintf(h.Writer, "%s: [%s] %-25s", bold.Sprintf("%*s", h.Padding+1, level), time.Now().Format(time.StampMilli), e.Message)

	for _, name := range names {
		if name == "source" {
			continue
		}
		_, _ = fmt.Fprintf(h.Writer, " %s=%v", color.Sprint(name), e.Fields.Get(name))
	}

	_, _ = fmt.Fprintln(h.Writer)

	if err, ok := e.Fields.Get("error").(error); ok {
		// Attach the stack trace if one is available on the error chain so that
		// fatal output actually points at the origin of the problem.
		if e, ok := err.(tracer); ok {
			st := e.StackTrace()
			l := len(st)
			if l > 5 {
				l = 5
			}
			for _, f := range st[:l] {
				_, _ = fmt.Fprintf(h.Writer, "%+v\n", f)
			}
		}
	}

	return nil
}
