package errors

import (
	"fmt"
	"runtime"
	"strings"
	"sync/atomic"
	"time"
)

type handlerBox struct{ h ErrorHandler }

var current atomic.Pointer[handlerBox]

func init() { current.Store(&handlerBox{h: &SlogHandler{}}) }

// SetHandler installs h as the process-wide error handler and returns the
// previous one. A nil h restores a SlogHandler on slog.Default().
func SetHandler(h ErrorHandler) (prev ErrorHandler) {
	if h == nil {
		h = &SlogHandler{}
	}
	return current.Swap(&handlerBox{h: h}).h
}

// Handler returns the installed error handler.
func Handler() ErrorHandler { return current.Load().h }

func stamp(t *time.Time) {
	if t.IsZero() {
		*t = time.Now()
	}
}

// Report passes err to the installed handler, stamping it if needed.
func Report(err *RuntimeError) {
	if err == nil {
		return
	}
	stamp(&err.Timestamp)
	Handler().HandleError(err)
}

// ReportPanic passes a recovered panic to the installed handler.
func ReportPanic(err *PanicError) {
	if err == nil {
		return
	}
	stamp(&err.Timestamp)
	Handler().HandlePanic(err)
}

// ReportCompositionError passes a failed composable to the installed
// handler.
func ReportCompositionError(err *CompositionError) {
	if err == nil {
		return
	}
	stamp(&err.Timestamp)
	Handler().HandleCompositionError(err)
}

// Recover reports a panic in progress and stops it. Defer it directly:
//
//	defer errors.Recover("recomposer.tick")
func Recover(op string) {
	if r := recover(); r != nil {
		ReportPanic(&PanicError{Op: op, Value: r, StackTrace: CaptureStack()})
	}
}

// CaptureStack formats the stack of its caller's caller, one frame per
// function/file:line pair.
func CaptureStack() string {
	var pcs [32]uintptr
	n := runtime.Callers(3, pcs[:])
	if n == 0 {
		return ""
	}
	var sb strings.Builder
	frames := runtime.CallersFrames(pcs[:n])
	for more := true; more; {
		var f runtime.Frame
		f, more = frames.Next()
		fmt.Fprintf(&sb, "%s\n\t%s:%d\n", f.Function, f.File, f.Line)
	}
	return sb.String()
}
