package core

import (
	"fmt"
	"sync/atomic"

	"github.com/go-drift/recompose/pkg/slottable"
	"github.com/go-drift/recompose/pkg/snapshot"
)

// RecomposeScope is the restartable unit of a composition. Every restart
// group owns one scope; the scope records the state objects its last
// execution read and the block that re-executes it.
type RecomposeScope struct {
	comp   *Composition
	anchor *slottable.Anchor
	block  func(*Composer)
	name   string
	locals localMap

	// reads and derived are guarded by comp.mu.
	reads   map[snapshot.StateObject]struct{}
	derived map[snapshot.DerivedStateObject]any
	// providers is only touched while composing.
	providers map[*localProvider]struct{}

	released   atomic.Bool
	executions atomic.Int64
}

func newScope(comp *Composition) *RecomposeScope {
	return &RecomposeScope{comp: comp}
}

// UpdateScope sets the block that re-executes the scope. Restartable calls
// it after every execution so the block captures the latest arguments.
func (s *RecomposeScope) UpdateScope(block func(*Composer)) {
	if s == nil {
		return
	}
	s.block = block
}

// Named sets the debug name reported in errors and traces.
func (s *RecomposeScope) Named(name string) *RecomposeScope {
	if s != nil && s.name == "" {
		s.name = name
	}
	return s
}

// Name returns the debug name.
func (s *RecomposeScope) Name() string { return s.name }

// Composition returns the owning composition.
func (s *RecomposeScope) Composition() *Composition { return s.comp }

// Executions returns how many times the scope's body ran.
func (s *RecomposeScope) Executions() int64 { return s.executions.Load() }

// Valid reports whether the scope's group is still part of the composition.
func (s *RecomposeScope) Valid() bool {
	return !s.released.Load() && s.anchor.Valid()
}

// Invalidate schedules the scope for re-execution on the next pass.
func (s *RecomposeScope) Invalidate() {
	if !s.Valid() {
		return
	}
	s.comp.invalidate(s)
}

// Invalid reports whether the scope is waiting for re-execution.
func (s *RecomposeScope) Invalid() bool {
	return s.comp.isInvalid(s)
}

func (s *RecomposeScope) String() string {
	name := s.name
	if name == "" {
		name = "scope"
	}
	if s.anchor.Valid() {
		return fmt.Sprintf("%s@%d", name, s.anchor.Index())
	}
	return name
}
