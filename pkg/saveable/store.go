//go:generate mockgen -package $GOPACKAGE -source $GOFILE -destination store_mock.go

package saveable

import (
	"context"
	"maps"
	"sync"
)

// Store persists the values of a Registry under a namespace, usually the
// name of the composition that produced them.
type Store interface {
	Load(ctx context.Context, namespace string) (map[string][]any, error)
	Save(ctx context.Context, namespace string, values map[string][]any) error
}

// MemoryStore is a Store that keeps values in memory.
type MemoryStore struct {
	mu     sync.Mutex
	spaces map[string]map[string][]any
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{spaces: make(map[string]map[string][]any)}
}

// Load returns a copy of the values saved under namespace, or nil.
func (s *MemoryStore) Load(_ context.Context, namespace string) (map[string][]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	values, ok := s.spaces[namespace]
	if !ok {
		return nil, nil
	}
	return copyValues(values), nil
}

// Save replaces the values saved under namespace.
func (s *MemoryStore) Save(_ context.Context, namespace string, values map[string][]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spaces[namespace] = copyValues(values)
	return nil
}

// Namespaces returns the number of namespaces holding values.
func (s *MemoryStore) Namespaces() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.spaces)
}

func copyValues(values map[string][]any) map[string][]any {
	out := maps.Clone(values)
	for k, vs := range out {
		out[k] = append([]any(nil), vs...)
	}
	return out
}

// Restore loads the values saved under namespace into a new Registry.
func Restore(ctx context.Context, store Store, namespace string) (*Registry, error) {
	values, err := store.Load(ctx, namespace)
	if err != nil {
		return nil, err
	}
	return NewRegistry(values, nil), nil
}

// Persist saves the values of reg under namespace. Values that could not
// be saved are reported in the returned error after the rest is stored.
func Persist(ctx context.Context, store Store, namespace string, reg *Registry) error {
	values, saveErr := reg.Save()
	if err := store.Save(ctx, namespace, values); err != nil {
		return err
	}
	return saveErr
}
