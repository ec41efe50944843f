package core

import (
	"reflect"

	"github.com/go-drift/recompose/pkg/slottable"
)

// CompositionLocal is a value passed implicitly down the composition.
// Composables read the nearest provided value with Current; when a provider
// changes its value, only the scopes that read it are recomposed.
//
//	var Theme = core.NewCompositionLocal("light")
//
//	core.Provide(c, Theme, "dark", func(c *core.Composer) {
//	    label(c, core.Current(c, Theme))
//	})
type CompositionLocal[T any] struct {
	def  T
	name string
}

// NewCompositionLocal creates a local whose value is def when nothing
// provides it.
func NewCompositionLocal[T any](def T) *CompositionLocal[T] {
	return &CompositionLocal[T]{def: def}
}

// Named sets the debug name.
func (l *CompositionLocal[T]) Named(name string) *CompositionLocal[T] {
	l.name = name
	return l
}

// Default returns the value read when no provider is in scope.
func (l *CompositionLocal[T]) Default() T { return l.def }

// localProvider is remembered in the provider's group. Scopes capture the
// provider, not its value, so a changed value is seen by scopes that
// re-execute later without their provider re-executing.
type localProvider struct {
	value      any
	dependents map[*RecomposeScope]struct{}
}

// localMap is an immutable map from local to its nearest provider.
type localMap map[any]*localProvider

func (m localMap) with(local any, p *localProvider) localMap {
	out := make(localMap, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	out[local] = p
	return out
}

// Provide composes content with value provided for local.
func Provide[T any](c *Composer, local *CompositionLocal[T], value T, content func(*Composer)) {
	ProvideKeyed(c, slottable.CallSiteKey(1), local, value, content)
}

// ProvideKeyed is Provide with an explicit group key.
func ProvideKeyed[T any](c *Composer, key int64, local *CompositionLocal[T], value T, content func(*Composer)) {
	c.StartMovableGroup(key, local)
	var p *localProvider
	if v, ok := c.RememberedValue(); ok {
		p, _ = v.(*localProvider)
	}
	if p == nil {
		p = &localProvider{value: value}
		c.UpdateRememberedValue(p)
	} else if !reflect.DeepEqual(p.value, value) {
		p.value = value
		for s := range p.dependents {
			c.invalidateInPass(s)
		}
	}
	c.pushLocals(c.locals.with(local, p))
	if content != nil {
		content(c)
	}
	c.EndGroup()
}

// Current returns the value of local provided by the nearest enclosing
// Provide, or its default. The reading scope is recomposed when the
// provided value changes.
func Current[T any](c *Composer, local *CompositionLocal[T]) T {
	p := c.locals[local]
	if p == nil {
		return local.def
	}
	if s := c.currentScope(); s != nil {
		if p.dependents == nil {
			p.dependents = make(map[*RecomposeScope]struct{})
		}
		p.dependents[s] = struct{}{}
		if s.providers == nil {
			s.providers = make(map[*localProvider]struct{})
		}
		s.providers[p] = struct{}{}
	}
	v, _ := p.value.(T)
	return v
}
