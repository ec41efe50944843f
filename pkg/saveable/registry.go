// Package saveable keeps composition state across the disposal of a
// composition, for example across process restarts.
//
// A Registry holds the values restored from a previous run and the
// providers of the values to save in this one. RememberSaveable restores
// its value from the registry provided through LocalRegistry and registers
// itself to be saved while it is part of the composition:
//
//	reg := saveable.NewRegistry(restored, nil)
//	core.Provide(c, saveable.LocalRegistry, reg, func(c *core.Composer) {
//	    query := saveable.RememberSaveableState(c, saveable.ValueSaver[string](), "")
//	    ...
//	})
//	...
//	values, err := reg.Save()
//
// Values are keyed by the compound key of the call position, so they are
// found again as long as the composition's structure is unchanged.
package saveable

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
)

// Registry stores restored values and the providers of values to save.
// It is safe for concurrent use.
type Registry struct {
	canBeSaved func(any) bool

	mu        sync.Mutex
	restored  map[string][]any
	providers map[string][]*provider
}

type provider struct {
	fn func() (any, error)
}

// NewRegistry returns a registry over restored, the result of a previous
// Save. canBeSaved decides which values Save accepts; nil means
// CanBeSavedDefault.
func NewRegistry(restored map[string][]any, canBeSaved func(any) bool) *Registry {
	r := &Registry{
		canBeSaved: canBeSaved,
		restored:   make(map[string][]any, len(restored)),
		providers:  make(map[string][]*provider),
	}
	if r.canBeSaved == nil {
		r.canBeSaved = CanBeSavedDefault
	}
	for k, vs := range restored {
		if len(vs) > 0 {
			r.restored[k] = append([]any(nil), vs...)
		}
	}
	return r
}

// CanBeSaved reports whether v may be returned by a provider.
func (r *Registry) CanBeSaved(v any) bool { return r.canBeSaved(v) }

// Consume removes and returns the first restored value for key. Values
// saved under one key are consumed in the order they were saved.
func (r *Registry) Consume(key string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	vs := r.restored[key]
	if len(vs) == 0 {
		return nil, false
	}
	v := vs[0]
	if len(vs) == 1 {
		delete(r.restored, key)
	} else {
		r.restored[key] = vs[1:]
	}
	return v, true
}

// Register adds fn as a provider for key. The returned function removes it.
func (r *Registry) Register(key string, fn func() (any, error)) (unregister func()) {
	if key == "" {
		panic("saveable: empty key")
	}
	p := &provider{fn: fn}
	r.mu.Lock()
	r.providers[key] = append(r.providers[key], p)
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		ps := r.providers[key]
		for i, existing := range ps {
			if existing == p {
				ps = append(ps[:i:i], ps[i+1:]...)
				break
			}
		}
		if len(ps) == 0 {
			delete(r.providers, key)
		} else {
			r.providers[key] = ps
		}
	}
}

// Save calls every provider and returns their values by key. Values of
// providers that fail or return a value CanBeSaved rejects are left out
// and reported in the joined error. Restored values that were never
// consumed are kept.
func (r *Registry) Save() (map[string][]any, error) {
	r.mu.Lock()
	out := make(map[string][]any, len(r.providers)+len(r.restored))
	for k, vs := range r.restored {
		out[k] = append([]any(nil), vs...)
	}
	providers := make(map[string][]*provider, len(r.providers))
	for k, ps := range r.providers {
		providers[k] = append([]*provider(nil), ps...)
	}
	r.mu.Unlock()

	var errs []error
	for key, ps := range providers {
		for _, p := range ps {
			v, err := p.fn()
			if err != nil {
				errs = append(errs, fmt.Errorf("save %s: %w", key, err))
				continue
			}
			if v == nil {
				continue
			}
			if !r.canBeSaved(v) {
				errs = append(errs, fmt.Errorf("save %s: %T cannot be saved", key, v))
				continue
			}
			out[key] = append(out[key], v)
		}
	}
	return out, errors.Join(errs...)
}

// CanBeSavedDefault accepts values made of booleans, numbers, strings and
// slices and string-keyed maps of those.
func CanBeSavedDefault(v any) bool {
	if v == nil {
		return true
	}
	return canBeSaved(reflect.ValueOf(v))
}

func canBeSaved(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64, reflect.String:
		return true
	case reflect.Slice, reflect.Array:
		for i := range v.Len() {
			if !canBeSaved(v.Index(i)) {
				return false
			}
		}
		return true
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return false
		}
		iter := v.MapRange()
		for iter.Next() {
			if !canBeSaved(iter.Value()) {
				return false
			}
		}
		return true
	case reflect.Interface:
		if v.IsNil() {
			return true
		}
		return canBeSaved(v.Elem())
	default:
		return false
	}
}
