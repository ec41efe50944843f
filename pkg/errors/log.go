package errors

import (
	"log/slog"
)

// SlogHandler is an ErrorHandler that logs through log/slog.
type SlogHandler struct {
	// Logger receives the records. Nil uses slog.Default().
	Logger *slog.Logger
	// Verbose adds stack traces to the records.
	Verbose bool
}

func (h *SlogHandler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// HandleError logs a RuntimeError.
func (h *SlogHandler) HandleError(err *RuntimeError) {
	if err == nil {
		return
	}
	attrs := []any{
		slog.String("op", err.Op),
		slog.String("kind", err.Kind.String()),
		slog.Any("error", err.Err),
	}
	if err.Composition != "" {
		attrs = append(attrs, slog.String("composition", err.Composition))
	}
	if h.Verbose && err.StackTrace != "" {
		attrs = append(attrs, slog.String("stack", err.StackTrace))
	}
	h.logger().Error("recompose error", attrs...)
}

// HandlePanic logs a PanicError.
func (h *SlogHandler) HandlePanic(err *PanicError) {
	if err == nil {
		return
	}
	attrs := []any{slog.Any("value", err.Value)}
	if err.Op != "" {
		attrs = append(attrs, slog.String("op", err.Op))
	}
	if h.Verbose && err.StackTrace != "" {
		attrs = append(attrs, slog.String("stack", err.StackTrace))
	}
	h.logger().Error("recompose panic", attrs...)
}

// HandleCompositionError logs a CompositionError.
func (h *SlogHandler) HandleCompositionError(err *CompositionError) {
	if err == nil {
		return
	}
	attrs := []any{
		slog.String("composition", err.Composition),
		slog.String("scope", err.Scope),
	}
	if err.Err != nil {
		attrs = append(attrs, slog.Any("error", err.Err))
	} else {
		attrs = append(attrs, slog.Any("recovered", err.Recovered))
	}
	if h.Verbose && err.StackTrace != "" {
		attrs = append(attrs, slog.String("stack", err.StackTrace))
	}
	h.logger().Warn("composable failed", attrs...)
}
