package errors

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestRuntimeErrorString(t *testing.T) {
	err := &RuntimeError{
		Op:   "recomposer.pass",
		Kind: KindApplyConflict,
		Err:  &ApplyConflictError{Snapshot: 7, Conflicts: 1},
	}
	got := err.Error()
	if got == "" {
		t.Error("expected non-empty error string")
	}
	if !strings.Contains(got, "apply-conflict") {
		t.Errorf("error string %q should name the kind", got)
	}
}

func TestRuntimeErrorWithComposition(t *testing.T) {
	err := &RuntimeError{
		Op:          "composition.recompose",
		Kind:        KindInternal,
		Composition: "c-1",
		Err:         ErrCompositionDisposed,
	}
	want := "composition=c-1"
	if got := err.Error(); !strings.Contains(got, want) {
		t.Errorf("error string %q should contain %q", got, want)
	}
	if !Is(err, ErrCompositionDisposed) {
		t.Error("RuntimeError should unwrap to its cause")
	}
}

func TestErrorKindString(t *testing.T) {
	tests := []struct {
		kind ErrorKind
		want string
	}{
		{KindUnknown, "unknown"},
		{KindIllegalWrite, "illegal-write"},
		{KindApplyConflict, "apply-conflict"},
		{KindInternal, "internal"},
		{KindPanic, "panic"},
		{KindComposition, "composition"},
		{KindLifecycle, "lifecycle"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("ErrorKind(%d).String() = %q, want %q", tt.kind, got, tt.want)
		}
	}
}

func TestPanicErrorString(t *testing.T) {
	err := &PanicError{
		Value:     "test panic",
		Timestamp: time.Now(),
	}
	got := err.Error()
	want := "panic: test panic"
	if got != want {
		t.Errorf("PanicError.Error() = %q, want %q", got, want)
	}
}

func TestPanicErrorStringWithOp(t *testing.T) {
	err := &PanicError{
		Op:        "recomposer.Run",
		Value:     "test panic",
		Timestamp: time.Now(),
	}
	got := err.Error()
	want := "panic in recomposer.Run: test panic"
	if got != want {
		t.Errorf("PanicError.Error() = %q, want %q", got, want)
	}
}

func TestApplyConflictErrorIs(t *testing.T) {
	err := fmt.Errorf("apply: %w", &ApplyConflictError{Snapshot: 3, Conflicts: 2})
	if !Is(err, &ApplyConflictError{}) {
		t.Error("wrapped conflict should match any ApplyConflictError")
	}
	var conflict *ApplyConflictError
	if !As(err, &conflict) {
		t.Fatal("errors.As should find the conflict")
	}
	if conflict.Snapshot != 3 {
		t.Errorf("Snapshot = %d, want 3", conflict.Snapshot)
	}
}

func TestInternalPanicsWithComposeInternalError(t *testing.T) {
	defer func() {
		r := recover()
		ierr, ok := r.(*ComposeInternalError)
		if !ok {
			t.Fatalf("expected *ComposeInternalError, got %T", r)
		}
		if ierr.Group != 4 || ierr.Op != "slottable.EndGroup" {
			t.Errorf("unexpected error fields: %+v", ierr)
		}
		if !strings.Contains(ierr.Error(), "at group 4") {
			t.Errorf("message %q should name the group", ierr.Error())
		}
	}()
	Internal("slottable.EndGroup", 4, "%d children not visited", 2)
}

func TestReport(t *testing.T) {
	var capturedErr *RuntimeError
	handler := &testHandler{
		onError: func(err *RuntimeError) {
			capturedErr = err
		},
	}

	defer SetHandler(SetHandler(handler))

	Report(&RuntimeError{
		Op:   "test.op",
		Kind: KindLifecycle,
		Err:  ErrRecomposerClosed,
	})

	if capturedErr == nil {
		t.Fatal("expected error to be captured")
	}
	if capturedErr.Op != "test.op" {
		t.Errorf("Op = %q, want %q", capturedErr.Op, "test.op")
	}
	if capturedErr.Timestamp.IsZero() {
		t.Error("expected Timestamp to be set")
	}
}

func TestRecover(t *testing.T) {
	var capturedPanic *PanicError
	handler := &testHandler{
		onPanic: func(err *PanicError) {
			capturedPanic = err
		},
	}

	defer SetHandler(SetHandler(handler))

	func() {
		defer Recover("test.recover")
		panic("intentional test panic")
	}()

	if capturedPanic == nil {
		t.Fatal("expected panic to be recovered and captured")
	}
	if capturedPanic.Value != "intentional test panic" {
		t.Errorf("Value = %v, want %q", capturedPanic.Value, "intentional test panic")
	}
	if capturedPanic.Op != "test.recover" {
		t.Errorf("Op = %q, want %q", capturedPanic.Op, "test.recover")
	}
}

func TestCaptureStack(t *testing.T) {
	stack := CaptureStack()
	if stack == "" {
		t.Error("expected non-empty stack trace")
	}
	if !strings.Contains(stack, "testing") && !strings.Contains(stack, "runtime") {
		t.Errorf("stack trace should contain testing or runtime frames, got: %s", stack)
	}
}

func TestSetHandlerNil(t *testing.T) {
	prev := SetHandler(&testHandler{})
	defer SetHandler(prev)

	if _, ok := SetHandler(nil).(*testHandler); !ok {
		t.Error("SetHandler should return the previous handler")
	}
	if _, ok := Handler().(*SlogHandler); !ok {
		t.Errorf("SetHandler(nil) should install a SlogHandler, got %T", Handler())
	}
}

func TestCompositionErrorString(t *testing.T) {
	err := &CompositionError{Scope: "Counter", Recovered: "boom"}
	if got, want := err.Error(), "panic in composable Counter: boom"; got != want {
		t.Errorf("CompositionError.Error() = %q, want %q", got, want)
	}

	cause := New("bad input")
	err2 := &CompositionError{Scope: "Counter", Err: cause}
	if !strings.Contains(err2.Error(), "error in composable Counter") {
		t.Errorf("CompositionError.Error() = %q, should contain 'error in'", err2.Error())
	}
	if !Is(err2, cause) {
		t.Error("CompositionError should unwrap to its cause")
	}

	err3 := &CompositionError{Scope: "Counter"}
	if got, want := err3.Error(), "unknown error in composable Counter"; got != want {
		t.Errorf("CompositionError.Error() = %q, want %q", got, want)
	}
}

func TestReportCompositionError(t *testing.T) {
	var capturedErr *CompositionError
	handler := &testHandler{
		onCompositionError: func(err *CompositionError) {
			capturedErr = err
		},
	}

	defer SetHandler(SetHandler(handler))

	ReportCompositionError(&CompositionError{
		Composition: "c-9",
		Scope:       "List",
		Recovered:   "test panic",
	})

	if capturedErr == nil {
		t.Fatal("expected composition error to be captured")
	}
	if capturedErr.Scope != "List" {
		t.Errorf("Scope = %q, want %q", capturedErr.Scope, "List")
	}
	if capturedErr.Timestamp.IsZero() {
		t.Error("expected Timestamp to be set")
	}
}

func TestSlogHandlerWritesRecords(t *testing.T) {
	var buf bytes.Buffer
	h := &SlogHandler{Logger: slog.New(slog.NewTextHandler(&buf, nil)), Verbose: true}

	h.HandleError(&RuntimeError{Op: "op", Kind: KindInternal, Err: ErrSnapshotClosed, StackTrace: "frames"})
	h.HandlePanic(&PanicError{Op: "op", Value: "v"})
	h.HandleCompositionError(&CompositionError{Composition: "c", Scope: "s", Recovered: 1})

	out := buf.String()
	for _, want := range []string{"recompose error", "kind=internal", "stack=frames", "recompose panic", "composable failed"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
}

type testHandler struct {
	onError            func(*RuntimeError)
	onPanic            func(*PanicError)
	onCompositionError func(*CompositionError)
}

func (h *testHandler) HandleError(err *RuntimeError) {
	if h.onError != nil {
		h.onError(err)
	}
}

func (h *testHandler) HandlePanic(err *PanicError) {
	if h.onPanic != nil {
		h.onPanic(err)
	}
}

func (h *testHandler) HandleCompositionError(err *CompositionError) {
	if h.onCompositionError != nil {
		h.onCompositionError(err)
	}
}
