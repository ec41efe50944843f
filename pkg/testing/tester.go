package testing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-drift/recompose/pkg/core"
	"github.com/go-drift/recompose/pkg/frameclock"
	"github.com/go-drift/recompose/pkg/recomposer"
	"github.com/go-drift/recompose/pkg/snapshot"
)

// FrameDuration is the clock advance of one Pump.
const FrameDuration = 16 * time.Millisecond

// Epoch is the time every tester clock starts at.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// ErrSettleTimeout is returned when PumpAndSettle exceeds its timeout.
var ErrSettleTimeout = errors.New("PumpAndSettle timed out: recomposer did not settle")

// Tester composes content into a NodeApplier and drives recomposition
// frame by frame with a virtual clock. Every tester has its own
// coordinator. The virtual clock is both the recomposer's frame clock and
// the frameclock time source, so testers must not run in parallel.
type Tester struct {
	coord      *snapshot.Coordinator
	rec        *recomposer.Recomposer
	applier    *NodeApplier
	comp       *core.Composition
	clock      *frameclock.VirtualClock
	prevClock  frameclock.Clock
	lastResult recomposer.PassResult

	mu         sync.Mutex
	executions map[string]int
}

// NewTester creates a tester. Call Cleanup when done, or use NewTesterWithT.
func NewTester(opts ...core.Option) *Tester {
	t := &Tester{
		coord:      snapshot.NewCoordinator(),
		applier:    NewNodeApplier(),
		clock:      frameclock.NewVirtualClock(Epoch),
		executions: make(map[string]int),
	}
	t.prevClock = frameclock.SetClock(t.clock)
	t.rec = recomposer.New(t.coord, t.clock, recomposer.WithName("tester"))
	all := append([]core.Option{core.WithName("test"), core.WithExecutionHook(t.countExecution)}, opts...)
	t.comp = t.rec.NewComposition(t.applier, all...)
	return t
}

// NewTesterWithT creates a tester that is cleaned up by t.Cleanup.
func NewTesterWithT(t testing.TB, opts ...core.Option) *Tester {
	tester := NewTester(opts...)
	t.Cleanup(tester.Cleanup)
	return tester
}

// Cleanup disposes the composition and restores the frame clock time
// source.
func (t *Tester) Cleanup() {
	t.comp.Dispose()
	t.comp.WaitEffects()
	t.rec.Close()
	frameclock.SetClock(t.prevClock)
}

func (t *Tester) countExecution(s *core.RecomposeScope) {
	t.mu.Lock()
	t.executions[s.Name()]++
	t.mu.Unlock()
}

// Executions returns how often scopes named name executed since the last
// ResetCounts.
func (t *Tester) Executions(name string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.executions[name]
}

// ResetCounts clears execution counts and applier calls.
func (t *Tester) ResetCounts() {
	t.mu.Lock()
	clear(t.executions)
	t.mu.Unlock()
	t.applier.ResetCalls()
}

// Coordinator returns the tester's snapshot coordinator.
func (t *Tester) Coordinator() *snapshot.Coordinator { return t.coord }

// Recomposer returns the tester's recomposer.
func (t *Tester) Recomposer() *recomposer.Recomposer { return t.rec }

// Composition returns the composition under test.
func (t *Tester) Composition() *core.Composition { return t.comp }

// Applier returns the node applier.
func (t *Tester) Applier() *NodeApplier { return t.applier }

// Root returns the root node.
func (t *Tester) Root() *Node { return t.applier.RootNode() }

// Clock returns the virtual clock driving frames and time.
func (t *Tester) Clock() *frameclock.VirtualClock { return t.clock }

// LastPass returns the result of the last Pump.
func (t *Tester) LastPass() recomposer.PassResult { return t.lastResult }

// SetContent composes content.
func (t *Tester) SetContent(content func(*core.Composer)) error {
	return t.comp.SetContent(content)
}

// Pump runs one frame of FrameDuration on the clock and one recomposition
// pass.
func (t *Tester) Pump() (recomposer.PassResult, error) {
	t.clock.Frame(FrameDuration)
	res, err := t.rec.RecomposeSync(context.Background())
	t.lastResult = res
	return res, err
}

// PumpAndSettle pumps until no changes are pending or timeout of frame
// time has passed.
func (t *Tester) PumpAndSettle(timeout time.Duration) error {
	var elapsed time.Duration
	for elapsed < timeout {
		if _, err := t.Pump(); err != nil {
			return err
		}
		if !t.rec.HasPendingChanges() {
			return nil
		}
		elapsed += FrameDuration
	}
	return ErrSettleTimeout
}

