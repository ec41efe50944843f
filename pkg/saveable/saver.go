package saveable

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Saver converts a value to a form a Registry accepts and back.
type Saver[T any] interface {
	Save(v T) (any, error)
	Restore(saved any) (T, error)
}

// SaverFunc builds a Saver from two functions.
func SaverFunc[T any](save func(T) (any, error), restore func(any) (T, error)) Saver[T] {
	return funcSaver[T]{save: save, restore: restore}
}

type funcSaver[T any] struct {
	save    func(T) (any, error)
	restore func(any) (T, error)
}

func (s funcSaver[T]) Save(v T) (any, error)        { return s.save(v) }
func (s funcSaver[T]) Restore(saved any) (T, error) { return s.restore(saved) }

// ValueSaver saves values as they are. Restore accepts a T, or any value
// that decodes to a T through YAML, which covers values that went through
// a Store and came back with different number or map types.
func ValueSaver[T any]() Saver[T] { return valueSaver[T]{} }

type valueSaver[T any] struct{}

func (valueSaver[T]) Save(v T) (any, error) { return v, nil }

func (valueSaver[T]) Restore(saved any) (T, error) {
	if v, ok := saved.(T); ok {
		return v, nil
	}
	var v T
	data, err := yaml.Marshal(saved)
	if err != nil {
		return v, fmt.Errorf("restore %T: %w", v, err)
	}
	if err := yaml.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("restore %T: %w", v, err)
	}
	return v, nil
}

// YAMLSaver saves values as YAML documents, which lets structs be saved.
func YAMLSaver[T any]() Saver[T] { return yamlSaver[T]{} }

type yamlSaver[T any] struct{}

func (yamlSaver[T]) Save(v T) (any, error) {
	data, err := yaml.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal %T: %w", v, err)
	}
	return string(data), nil
}

func (yamlSaver[T]) Restore(saved any) (T, error) {
	var v T
	var data []byte
	switch s := saved.(type) {
	case string:
		data = []byte(s)
	case []byte:
		data = s
	default:
		return v, fmt.Errorf("restore %T from %T: not a YAML document", v, saved)
	}
	if err := yaml.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("unmarshal %T: %w", v, err)
	}
	return v, nil
}
