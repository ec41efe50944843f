package core

import (
	"context"

	"github.com/go-drift/recompose/pkg/errors"
	"github.com/go-drift/recompose/pkg/snapshot"
)

// RememberObserver is implemented by remembered values that need to know
// when they enter or leave the composition. Callbacks run after the pass
// that remembered or forgot the value has been applied.
type RememberObserver interface {
	// OnRemembered is called once the value is part of the composition.
	OnRemembered()
	// OnForgotten is called once the value has left the composition.
	OnForgotten()
	// OnAbandoned is called when the value was created but its composition
	// was discarded before it could be remembered.
	OnAbandoned()
}

// Disposable is implemented by objects that hold resources.
type Disposable interface {
	Dispose()
}

// Remember returns the value calc produced when this call site first
// composed, calling calc only then.
func Remember[T any](c *Composer, calc func() T) T {
	if v, ok := c.RememberedValue(); ok {
		t, _ := v.(T)
		return t
	}
	v := calc()
	c.UpdateRememberedValue(v)
	return v
}

// RememberKeyed is Remember that recalculates whenever any key differs from
// the previous pass. The replaced value is forgotten.
func RememberKeyed[T any](c *Composer, calc func() T, keys ...any) T {
	invalid := false
	for _, k := range keys {
		invalid = c.Changed(k) || invalid
	}
	if v, ok := c.RememberedValue(); ok && !invalid {
		t, _ := v.(T)
		return t
	}
	v := calc()
	c.UpdateRememberedValue(v)
	return v
}

// RememberFunc returns the function remembered at this call site, storing
// fn on the first pass and whenever any key differs from the previous pass.
// Callbacks handed to nodes keep their identity across recompositions.
//
//	onTap := core.RememberFunc(c, func() { count.Set(count.Get() + 1) }, count)
func RememberFunc[F any](c *Composer, fn F, keys ...any) F {
	invalid := false
	for _, k := range keys {
		invalid = c.Changed(k) || invalid
	}
	if v, ok := c.RememberedLambda(); ok && !invalid {
		if f, ok := v.(F); ok {
			return f
		}
	}
	c.UpdateRememberedLambda(fn)
	return fn
}

// RememberState remembers a mutable state created with the structural
// equality policy in the composition's coordinator.
func RememberState[T any](c *Composer, initial T) *snapshot.MutableState[T] {
	return Remember(c, func() *snapshot.MutableState[T] {
		return snapshot.MutableStateOf(c.Coordinator(), initial)
	})
}

// RememberDerived remembers a derived state over calc.
func RememberDerived[T any](c *Composer, calc func(snapshot.Snapshot) T) *snapshot.DerivedState[T] {
	return Remember(c, func() *snapshot.DerivedState[T] {
		return snapshot.DerivedStateOf(calc, nil)
	})
}

// RememberDisposable remembers the value create returns and disposes it
// when the call site leaves the composition.
//
//	conn := core.RememberDisposable(c, func() *Conn { return Dial(addr) }, addr)
func RememberDisposable[D Disposable](c *Composer, create func() D, keys ...any) D {
	h := RememberKeyed(c, func() *disposableHolder[D] {
		return &disposableHolder[D]{value: create()}
	}, keys...)
	return h.value
}

type disposableHolder[D Disposable] struct {
	value D
}

func (h *disposableHolder[D]) OnRemembered() {}
func (h *disposableHolder[D]) OnForgotten()  { h.value.Dispose() }
func (h *disposableHolder[D]) OnAbandoned()  { h.value.Dispose() }

// SideEffect runs effect after the current pass has been applied. It runs
// on every execution of the enclosing scope.
func SideEffect(c *Composer, effect func()) {
	c.checkComposing("core.SideEffect")
	c.effects = append(c.effects, effect)
}

// DisposableEffect runs effect when the call site enters the composition or
// when any key changes, and calls the returned cleanup when the call site
// leaves or before effect runs again.
//
//	core.DisposableEffect(c, func() func() {
//	    unsub := bus.Subscribe(topic, handler)
//	    return unsub
//	}, topic)
func DisposableEffect(c *Composer, effect func() (cleanup func()), keys ...any) {
	RememberKeyed(c, func() *disposableEffect {
		return &disposableEffect{effect: effect}
	}, keys...)
}

type disposableEffect struct {
	effect  func() func()
	cleanup func()
}

func (d *disposableEffect) OnRemembered() { d.cleanup = d.effect() }

func (d *disposableEffect) OnForgotten() {
	if d.cleanup != nil {
		d.cleanup()
		d.cleanup = nil
	}
}

func (d *disposableEffect) OnAbandoned() {}

// LaunchedEffect starts block on its own goroutine when the call site
// enters the composition and cancels its context when the call site leaves
// or any key changes. A new goroutine starts for the new keys.
//
// State writes from block go through the global snapshot and are picked up
// by the recomposer like any other change.
func LaunchedEffect(c *Composer, block func(ctx context.Context), keys ...any) {
	comp := c.comp
	RememberKeyed(c, func() *launchedEffect {
		return &launchedEffect{comp: comp, block: block}
	}, keys...)
}

type launchedEffect struct {
	comp   *Composition
	block  func(context.Context)
	cancel context.CancelFunc
}

func (l *launchedEffect) OnRemembered() {
	ctx, cancel := context.WithCancel(l.comp.effectCtx)
	l.cancel = cancel
	l.comp.effects.Add(1)
	go func() {
		defer l.comp.effects.Done()
		defer errors.Recover("core.LaunchedEffect")
		l.block(ctx)
	}()
}

func (l *launchedEffect) OnForgotten() {
	if l.cancel != nil {
		l.cancel()
	}
}

func (l *launchedEffect) OnAbandoned() { l.OnForgotten() }
