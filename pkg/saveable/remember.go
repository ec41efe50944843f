package saveable

import (
	"log/slog"
	"strconv"

	"github.com/go-drift/recompose/pkg/core"
	"github.com/go-drift/recompose/pkg/slottable"
	"github.com/go-drift/recompose/pkg/snapshot"
)

// LocalRegistry provides the registry RememberSaveable uses. Without a
// provided registry RememberSaveable behaves like core.Remember.
var LocalRegistry = core.NewCompositionLocal[*Registry](nil).Named("saveable.Registry")

// RememberSaveable is core.Remember whose value is saved by the provided
// registry and restored from it when the call site is composed again.
func RememberSaveable[T any](c *core.Composer, saver Saver[T], calc func() T) T {
	return RememberSaveableKeyed(c, slottable.CallSiteKey(1), saver, calc)
}

// RememberSaveableKeyed is RememberSaveable with an explicit group key.
func RememberSaveableKeyed[T any](c *core.Composer, key int64, saver Saver[T], calc func() T) T {
	c.StartGroup(key)
	h := rememberHolder(c, func(h *holder) T {
		v, ok := restore(h, saver)
		if !ok {
			v = calc()
		}
		h.save = func() (any, error) { return saver.Save(v) }
		return v
	})
	c.EndGroup()
	return h.value.(T)
}

// RememberSaveableState remembers a mutable state whose value is saved and
// restored like RememberSaveable.
func RememberSaveableState[T any](c *core.Composer, saver Saver[T], initial T) *snapshot.MutableState[T] {
	return RememberSaveableStateKeyed(c, slottable.CallSiteKey(1), saver, initial)
}

// RememberSaveableStateKeyed is RememberSaveableState with an explicit
// group key.
func RememberSaveableStateKeyed[T any](c *core.Composer, key int64, saver Saver[T], initial T) *snapshot.MutableState[T] {
	c.StartGroup(key)
	h := rememberHolder(c, func(h *holder) *snapshot.MutableState[T] {
		v, ok := restore(h, saver)
		if !ok {
			v = initial
		}
		state := snapshot.MutableStateOf(c.Coordinator(), v)
		h.save = func() (any, error) { return saver.Save(state.Value()) }
		return state
	})
	c.EndGroup()
	return h.value.(*snapshot.MutableState[T])
}

// holder is remembered at the call site and registers with the registry
// while it is part of the composition.
type holder struct {
	reg        *Registry
	key        string
	value      any
	save       func() (any, error)
	unregister func()
}

func rememberHolder[T any](c *core.Composer, create func(*holder) T) *holder {
	reg := core.Current(c, LocalRegistry)
	key := strconv.FormatInt(c.CompoundKey(), 36)
	return core.Remember(c, func() *holder {
		h := &holder{reg: reg, key: key}
		h.value = create(h)
		return h
	})
}

func restore[T any](h *holder, saver Saver[T]) (T, bool) {
	var zero T
	if h.reg == nil {
		return zero, false
	}
	saved, ok := h.reg.Consume(h.key)
	if !ok {
		return zero, false
	}
	v, err := saver.Restore(saved)
	if err != nil {
		slog.Warn("discarding saved value", slog.String("key", h.key), slog.Any("error", err))
		return zero, false
	}
	return v, true
}

func (h *holder) OnRemembered() {
	if h.reg != nil && h.save != nil {
		h.unregister = h.reg.Register(h.key, h.save)
	}
}

func (h *holder) OnForgotten() {
	if h.unregister != nil {
		h.unregister()
		h.unregister = nil
	}
}

func (h *holder) OnAbandoned() {}
