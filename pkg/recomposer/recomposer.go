// Package recomposer schedules the recomposition of compositions.
//
// A Recomposer subscribes to the apply notifications of a snapshot
// coordinator. Every batch of changed state objects is queued and the
// scheduler task is signalled; it then waits for the next tick of its
// frame clock and runs one pass that hands the queued changes to every
// registered composition and recomposes the ones that were invalidated.
//
// State written while a pass composes is applied with the pass snapshot and
// queued for the next tick, so every tick does a bounded amount of work.
//
// # Running
//
//	rec := recomposer.New(coord, frameclock.NewTickerClock(16*time.Millisecond))
//	comp := rec.NewComposition(applier)
//	comp.SetContent(app)
//	go rec.Run(ctx)
//
// Tests usually skip Run and call RecomposeSync after changing state.
package recomposer

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/go-drift/recompose/pkg/core"
	"github.com/go-drift/recompose/pkg/errors"
	"github.com/go-drift/recompose/pkg/frameclock"
	"github.com/go-drift/recompose/pkg/snapshot"
)

// State is the scheduling state of a Recomposer.
type State int32

const (
	// StateShutDown means Close was called and Run has returned.
	StateShutDown State = iota
	// StateShuttingDown means Close was called while Run is still active.
	StateShuttingDown
	// StateInactive means Run is not active and there is no pending work.
	StateInactive
	// StateInactivePendingWork means Run is not active but work is pending.
	StateInactivePendingWork
	// StateIdle means Run is waiting for work.
	StateIdle
	// StatePendingWork means Run has work and waits for a tick or is in a pass.
	StatePendingWork
)

func (s State) String() string {
	switch s {
	case StateShutDown:
		return "shut-down"
	case StateShuttingDown:
		return "shutting-down"
	case StateInactive:
		return "inactive"
	case StateInactivePendingWork:
		return "inactive-pending-work"
	case StateIdle:
		return "idle"
	case StatePendingWork:
		return "pending-work"
	default:
		return "unknown"
	}
}

// PassResult describes one recomposition pass.
type PassResult struct {
	// Pass is the 1-based number of the pass.
	Pass int64
	// Started is the frame clock time the pass started at.
	Started time.Time
	// Duration is the wall time the pass took.
	Duration time.Duration
	// Changes is the number of changed state objects handed to compositions.
	Changes int
	// Compositions is the number of registered compositions.
	Compositions int
	// Recomposed is the number of compositions that ran a pass.
	Recomposed int
	// Executions is the number of restart scope bodies executed.
	Executions int64
	// Errors is the number of compositions whose pass returned an error.
	Errors int
}

// Option configures a Recomposer.
type Option func(*Recomposer)

// WithLogger sets the logger. A nil logger means slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Recomposer) { r.logger = logger }
}

// WithName sets the name used in metrics, traces and logs.
func WithName(name string) Option {
	return func(r *Recomposer) { r.name = name }
}

// WithPassObserver calls fn after every pass.
func WithPassObserver(fn func(PassResult)) Option {
	return func(r *Recomposer) { r.passObservers = append(r.passObservers, fn) }
}

// Recomposer drives the recomposition of the compositions registered with
// it. It implements core.Parent.
type Recomposer struct {
	coord         *snapshot.Coordinator
	clock         frameclock.FrameClock
	logger        *slog.Logger
	name          string
	passObservers []func(PassResult)

	mu           sync.Mutex
	compositions []*core.Composition
	pending      []snapshot.StateObject
	invalidated  map[*core.Composition]struct{}
	running      bool
	closed       bool

	globalWrites atomic.Bool
	passes       atomic.Int64
	changeCount  atomic.Int64

	// passMu serializes passes.
	passMu sync.Mutex
	signal chan struct{}
	done   chan struct{}

	unregisterApply func()
	unregisterWrite func()
}

// New creates a recomposer over coord paced by clock.
func New(coord *snapshot.Coordinator, clock frameclock.FrameClock, opts ...Option) *Recomposer {
	r := &Recomposer{
		coord:       coord,
		clock:       clock,
		name:        "default",
		invalidated: make(map[*core.Composition]struct{}),
		signal:      make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.logger = r.logger.With(slog.String("recomposer", r.name))
	r.unregisterApply = coord.RegisterApplyObserver(r.onApply)
	r.unregisterWrite = coord.RegisterGlobalWriteObserver(r.onGlobalWrite)
	return r
}

// Name returns the recomposer's name.
func (r *Recomposer) Name() string { return r.name }

// Coordinator returns the snapshot coordinator.
func (r *Recomposer) Coordinator() *snapshot.Coordinator { return r.coord }

func (r *Recomposer) onApply(changed []snapshot.StateObject, _ snapshot.Snapshot) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.pending = append(r.pending, changed...)
	r.mu.Unlock()
	r.changeCount.Add(int64(len(changed)))
	r.wake()
}

// onGlobalWrite schedules the notification of writes made directly to the
// global snapshot.
func (r *Recomposer) onGlobalWrite(snapshot.StateObject) {
	if r.globalWrites.CompareAndSwap(false, true) {
		r.wake()
	}
}

func (r *Recomposer) wake() {
	select {
	case r.signal <- struct{}{}:
	default:
	}
}

// NewComposition creates a composition registered with the recomposer.
func (r *Recomposer) NewComposition(applier core.Applier, opts ...core.Option) *core.Composition {
	all := make([]core.Option, 0, len(opts)+2)
	all = append(all, core.WithLogger(r.logger))
	all = append(all, opts...)
	all = append(all, core.WithParent(r))
	return core.New(r.coord, applier, all...)
}

// Register implements core.Parent.
func (r *Recomposer) Register(c *core.Composition) {
	r.mu.Lock()
	r.compositions = append(r.compositions, c)
	n := len(r.compositions)
	r.mu.Unlock()
	compositionsGauge.WithLabelValues(r.name).Set(float64(n))
}

// Unregister implements core.Parent.
func (r *Recomposer) Unregister(c *core.Composition) {
	r.mu.Lock()
	for i, existing := range r.compositions {
		if existing == c {
			r.compositions = append(r.compositions[:i], r.compositions[i+1:]...)
			break
		}
	}
	delete(r.invalidated, c)
	n := len(r.compositions)
	r.mu.Unlock()
	compositionsGauge.WithLabelValues(r.name).Set(float64(n))
}

// CompositionInvalidated implements core.Parent.
func (r *Recomposer) CompositionInvalidated(c *core.Composition) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.invalidated[c] = struct{}{}
	r.mu.Unlock()
	r.wake()
}

// Compositions returns the registered compositions.
func (r *Recomposer) Compositions() []*core.Composition {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*core.Composition, len(r.compositions))
	copy(out, r.compositions)
	return out
}

// HasPendingChanges reports whether a pass would do any work.
func (r *Recomposer) HasPendingChanges() bool {
	if r.globalWrites.Load() {
		return true
	}
	r.mu.Lock()
	if len(r.pending) > 0 || len(r.invalidated) > 0 {
		r.mu.Unlock()
		return true
	}
	comps := make([]*core.Composition, len(r.compositions))
	copy(comps, r.compositions)
	r.mu.Unlock()
	for _, c := range comps {
		if c.HasInvalidations() {
			return true
		}
	}
	return false
}

// State returns the scheduling state.
func (r *Recomposer) State() State {
	r.mu.Lock()
	closed, running := r.closed, r.running
	r.mu.Unlock()
	switch {
	case closed && running:
		return StateShuttingDown
	case closed:
		return StateShutDown
	}
	pending := r.HasPendingChanges()
	switch {
	case running && pending:
		return StatePendingWork
	case running:
		return StateIdle
	case pending:
		return StateInactivePendingWork
	default:
		return StateInactive
	}
}

// ChangeCount returns the number of changed state objects received.
func (r *Recomposer) ChangeCount() int64 { return r.changeCount.Load() }

// Passes returns the number of passes run.
func (r *Recomposer) Passes() int64 { return r.passes.Load() }

// RecomposeSync runs one pass now: it drains the queued changes, records
// them on every composition and recomposes the invalid ones. Changes made
// during the pass are left for the next one. Errors of single compositions
// are logged and counted, not returned; the returned error is only set
// when the recomposer is closed or ctx is done.
func (r *Recomposer) RecomposeSync(ctx context.Context) (PassResult, error) {
	r.passMu.Lock()
	defer r.passMu.Unlock()

	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return PassResult{}, errors.ErrRecomposerClosed
	}
	if err := ctx.Err(); err != nil {
		return PassResult{}, err
	}

	if r.globalWrites.Swap(false) {
		r.coord.SendApplyNotifications()
	}

	r.mu.Lock()
	changes := r.pending
	r.pending = nil
	clear(r.invalidated)
	comps := make([]*core.Composition, len(r.compositions))
	copy(comps, r.compositions)
	r.mu.Unlock()

	res := PassResult{
		Pass:         r.passes.Add(1),
		Started:      frameclock.Now(),
		Changes:      len(changes),
		Compositions: len(comps),
	}
	ctx, span := tracer.Start(ctx, "recomposer.Pass",
		trace.WithAttributes(
			attribute.String("recomposer.name", r.name),
			attribute.Int64("recomposer.pass", res.Pass),
			attribute.Int("recomposer.changes", len(changes)),
			attribute.Int("recomposer.compositions", len(comps)),
		),
	)
	defer span.End()
	start := time.Now()

	if len(changes) > 0 {
		for _, c := range comps {
			c.RecordModificationsOf(changes)
		}
	}

	var ctxErr error
	for _, c := range comps {
		if err := ctx.Err(); err != nil {
			ctxErr = err
			break
		}
		if !c.HasInvalidations() {
			continue
		}
		before := c.Stats()
		ran, err := c.Recompose(ctx)
		after := c.Stats()
		if ran {
			res.Recomposed++
			res.Executions += after.Executions - before.Executions
		}
		if after.Conflicts > before.Conflicts {
			conflictsTotal.WithLabelValues(r.name).Add(float64(after.Conflicts - before.Conflicts))
		}
		if err != nil {
			r.compositionFailed(c, err, &res)
		}
	}
	res.Duration = time.Since(start)

	passesTotal.WithLabelValues(r.name).Inc()
	recomposedTotal.WithLabelValues(r.name).Add(float64(res.Recomposed))
	executionsTotal.WithLabelValues(r.name).Add(float64(res.Executions))
	passDuration.WithLabelValues(r.name).Observe(res.Duration.Seconds())
	span.SetAttributes(
		attribute.Int("recomposer.recomposed", res.Recomposed),
		attribute.Int64("recomposer.executions", res.Executions),
	)
	if ctxErr != nil {
		span.RecordError(ctxErr)
		span.SetStatus(codes.Error, "context canceled")
	} else if res.Errors > 0 {
		span.SetStatus(codes.Error, "composition errors")
	} else {
		span.SetStatus(codes.Ok, "")
	}

	r.logger.Debug("recomposition pass",
		slog.Int64("pass", res.Pass),
		slog.Int("changes", res.Changes),
		slog.Int("recomposed", res.Recomposed),
		slog.Int64("executions", res.Executions),
		slog.Duration("duration", res.Duration),
	)
	for _, fn := range r.passObservers {
		fn(res)
	}
	return res, ctxErr
}

func (r *Recomposer) compositionFailed(c *core.Composition, err error, res *PassResult) {
	res.Errors++
	failuresTotal.WithLabelValues(r.name).Inc()
	if c.IsDisposed() {
		r.logger.Error("composition disposed",
			slog.String("composition", c.Name()),
			slog.Any("error", err),
		)
		return
	}
	level := slog.LevelWarn
	if errors.Is(err, &errors.ApplyConflictError{}) {
		// Scopes of a conflicting pass were invalidated again.
		level = slog.LevelInfo
	}
	r.logger.Log(context.Background(), level, "composition pass failed",
		slog.String("composition", c.Name()),
		slog.Any("error", err),
	)
}

// Run is the scheduler task. It waits for work, then for the next tick of
// the frame clock, then runs one pass, until ctx is done or Close is
// called. It returns nil after Close and ctx's error otherwise.
func (r *Recomposer) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return errors.ErrRecomposerClosed
	}
	if r.running {
		r.mu.Unlock()
		return errors.New("recomposer is already running")
	}
	r.running = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		select {
		case <-r.done:
			cancel()
		case <-ctx.Done():
		}
		return nil
	})
	g.Go(func() error {
		return r.loop(ctx)
	})
	err := g.Wait()
	select {
	case <-r.done:
		return nil
	default:
		return err
	}
}

func (r *Recomposer) loop(ctx context.Context) error {
	for {
		if !r.HasPendingChanges() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-r.signal:
				continue
			}
		}
		if err := r.awaitTick(ctx); err != nil {
			return err
		}
		if _, err := r.RecomposeSync(ctx); err != nil {
			return err
		}
	}
}

func (r *Recomposer) awaitTick(ctx context.Context) error {
	tick := make(chan struct{}, 1)
	cancel := r.clock.OnNextTick(func(time.Time) {
		select {
		case tick <- struct{}{}:
		default:
		}
	})
	defer cancel()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-tick:
		return nil
	}
}

// Close stops the recomposer. Run returns and further passes fail with
// errors.ErrRecomposerClosed. Registered compositions are not disposed.
func (r *Recomposer) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.pending = nil
	r.mu.Unlock()
	close(r.done)
	r.unregisterApply()
	r.unregisterWrite()
}
