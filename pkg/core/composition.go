package core

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/go-drift/recompose/pkg/errors"
	"github.com/go-drift/recompose/pkg/slottable"
	"github.com/go-drift/recompose/pkg/snapshot"
)

// rootKey is the key of the restart group wrapping a composition's content.
const rootKey int64 = 100

// Parent schedules the recomposition of the compositions registered with
// it. The recomposer implements Parent.
type Parent interface {
	// Register is called when a composition is created.
	Register(c *Composition)
	// Unregister is called when a composition is disposed.
	Unregister(c *Composition)
	// CompositionInvalidated is called when a composition gains invalid
	// scopes outside of a pass.
	CompositionInvalidated(c *Composition)
}

// Option configures a Composition.
type Option func(*Composition)

// WithParent registers the composition with p.
func WithParent(p Parent) Option {
	return func(c *Composition) { c.parent = p }
}

// WithLogger sets the logger. A nil logger means slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Composition) { c.logger = logger }
}

// WithName sets a debug name.
func WithName(name string) Option {
	return func(c *Composition) { c.name = name }
}

// WithExecutionHook calls hook after every execution of a restart scope's
// body. It is meant for instrumentation and tests.
func WithExecutionHook(hook func(*RecomposeScope)) Option {
	return func(c *Composition) { c.executionHook = hook }
}

// WithEffectContext sets the parent context of LaunchedEffect goroutines.
func WithEffectContext(ctx context.Context) Option {
	return func(c *Composition) { c.effectCtx = ctx }
}

// Stats are cumulative counters of a composition.
type Stats struct {
	Passes       int64
	Executions   int64
	Skips        int64
	Changes      int64
	ApplierCalls int64
	Failures     int64
	Conflicts    int64

	// Groups and Slots describe the slot table after the last pass.
	Groups int
	Slots  int
	// Observed is the number of state objects read by live scopes.
	Observed int
	// Invalid is the number of scopes waiting for the next pass.
	Invalid int
}

// Composition owns one slot table and the tree it produces through an
// Applier. Content is composed by SetContent and recomposed incrementally
// by Recompose after RecordModificationsOf reports changed state.
type Composition struct {
	id            string
	name          string
	coord         *snapshot.Coordinator
	applier       Applier
	table         *slottable.Table
	parent        Parent
	logger        *slog.Logger
	executionHook func(*RecomposeScope)
	parentLocals  localMap

	// composeMu serializes passes and structural access to the table.
	composeMu sync.Mutex

	mu          sync.Mutex
	content     func(*Composer)
	invalid     map[*RecomposeScope]struct{}
	observers   map[snapshot.StateObject]map[*RecomposeScope]struct{}
	derivedBy   map[snapshot.StateObject]map[snapshot.DerivedStateObject]struct{}
	derivedDeps map[snapshot.DerivedStateObject][]snapshot.StateObject
	disposers   []func()
	disposed    bool
	stats       Stats

	effectCtx     context.Context
	cancelEffects context.CancelFunc
	effects       sync.WaitGroup
}

// New creates a composition over coord that emits into applier.
func New(coord *snapshot.Coordinator, applier Applier, opts ...Option) *Composition {
	c := &Composition{
		id:          uuid.NewString(),
		coord:       coord,
		applier:     applier,
		table:       slottable.New(),
		invalid:     make(map[*RecomposeScope]struct{}),
		observers:   make(map[snapshot.StateObject]map[*RecomposeScope]struct{}),
		derivedBy:   make(map[snapshot.StateObject]map[snapshot.DerivedStateObject]struct{}),
		derivedDeps: make(map[snapshot.DerivedStateObject][]snapshot.StateObject),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.effectCtx == nil {
		c.effectCtx = context.Background()
	}
	c.effectCtx, c.cancelEffects = context.WithCancel(c.effectCtx)
	if c.parent != nil {
		c.parent.Register(c)
	}
	return c
}

// ID returns the unique id of the composition.
func (c *Composition) ID() string { return c.id }

// Name returns the debug name, or the id when none was set.
func (c *Composition) Name() string {
	if c.name != "" {
		return c.name
	}
	return c.id
}

// Coordinator returns the snapshot coordinator.
func (c *Composition) Coordinator() *snapshot.Coordinator { return c.coord }

// Applier returns the applier the composition emits into.
func (c *Composition) Applier() Applier { return c.applier }

// Table returns the slot table. It must not be read while a pass runs.
func (c *Composition) Table() *slottable.Table { return c.table }

// IsDisposed reports whether Dispose was called or an internal error
// disposed the composition.
func (c *Composition) IsDisposed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disposed
}

// SetContent sets the composition's content and composes it.
func (c *Composition) SetContent(content func(*Composer)) error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return errors.ErrCompositionDisposed
	}
	c.content = content
	c.mu.Unlock()

	c.composeMu.Lock()
	initial := c.table.Size() == 0
	if !initial {
		if root := c.rootScope(); root != nil {
			c.mu.Lock()
			c.invalid[root] = struct{}{}
			c.mu.Unlock()
		}
	}
	c.composeMu.Unlock()
	_, err := c.compose(context.Background(), initial)
	return err
}

func (c *Composition) rootScope() *RecomposeScope {
	if c.table.Size() == 0 {
		return nil
	}
	slots := c.table.Group(0).Slots
	if len(slots) == 0 {
		return nil
	}
	v, _ := slots[0].Value()
	s, _ := v.(*RecomposeScope)
	return s
}

func (c *Composition) rootContent(cp *Composer) {
	c.mu.Lock()
	content := c.content
	c.mu.Unlock()
	if content != nil {
		content(cp)
	}
}

// Recompose re-executes the invalid scopes. It reports whether a pass ran;
// with no invalid scopes it does nothing, so no scope executes and the
// applier is not called. ctx is checked between scopes: scopes not reached
// before cancellation stay invalid.
//
// The returned error joins the failures of the pass: CompositionErrors of
// scopes that panicked, a RuntimeError wrapping an ApplyConflictError when
// the pass snapshot could not be applied, and ctx's error.
func (c *Composition) Recompose(ctx context.Context) (bool, error) {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return false, errors.ErrCompositionDisposed
	}
	pending := len(c.invalid) > 0
	c.mu.Unlock()
	if !pending {
		return false, nil
	}
	return c.compose(ctx, false)
}

func (c *Composition) compose(ctx context.Context, initial bool) (bool, error) {
	c.composeMu.Lock()
	defer c.composeMu.Unlock()

	pass := c.takeInvalid()
	if !initial && len(pass) == 0 {
		return false, nil
	}
	cp := newComposer(c, ctx, pass)
	snap, err := c.coord.TakeMutableSnapshot(cp.recordRead, nil)
	if err != nil {
		c.requeue(mapKeys(pass))
		return false, err
	}
	cp.snap = snap
	cp.ed = c.table.Edit()
	cp.ed.Release = cp.release
	cp.phase.Store(int32(PhaseComposing))

	if err := cp.run(initial); err != nil {
		snap.Dispose()
		c.fail(cp, err)
		return true, err
	}
	cp.ed.Close()
	if DebugMode() {
		if err := c.table.Verify(); err != nil {
			snap.Dispose()
			c.fail(cp, err)
			return true, err
		}
	}

	var errs []error
	errs = append(errs, cp.failures...)
	conflict := false
	if err := snap.Apply(); err != nil {
		snap.Dispose()
		conflict = true
		rerr := &errors.RuntimeError{Op: "core.Recompose", Kind: errors.KindApplyConflict, Err: err, Composition: c.id}
		errors.Report(rerr)
		errs = append(errs, rerr)
		// The pass read state that another snapshot has since replaced.
		c.requeue(cp.executed)
	}

	cp.phase.Store(int32(PhaseReconciling))
	calls := c.applyChanges(cp)
	cp.phase.Store(int32(PhaseIdle))

	retry := append(cp.failed, mapKeys(cp.pass)...)
	c.requeue(retry)
	if cp.cancelled && ctx.Err() != nil {
		errs = append(errs, ctx.Err())
	}

	c.mu.Lock()
	c.stats.Passes++
	c.stats.Executions += int64(len(cp.executed))
	c.stats.Skips += int64(cp.skips)
	c.stats.Changes += int64(cp.changes.Len())
	c.stats.ApplierCalls += int64(calls)
	c.stats.Failures += int64(len(cp.failures))
	if conflict {
		c.stats.Conflicts++
	}
	c.stats.Groups = c.table.Size()
	c.stats.Slots = c.table.SlotCount()
	c.mu.Unlock()

	c.logger.Debug("composition pass",
		slog.String("composition", c.Name()),
		slog.Int("executed", len(cp.executed)),
		slog.Int("skipped", cp.skips),
		slog.Int("changes", cp.changes.Len()),
	)
	return true, errors.Join(errs...)
}

// run composes the content or walks the table for invalid scopes. Any
// panic escaping a scope is fatal for the composition.
func (c *Composer) run(initial bool) (err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if ie, ok := r.(*errors.ComposeInternalError); ok {
			err = ie
			return
		}
		err = &errors.PanicError{Op: "core.compose", Value: r, StackTrace: errors.CaptureStack(), Timestamp: time.Now()}
	}()
	if initial {
		RestartableKeyed(c, rootKey, c.comp.rootContent).Named("root")
	} else {
		c.recomposeToGroupEnd()
	}
	if len(c.groups) != 0 {
		errors.Internal("core.compose", c.ed.Parent(), "%d groups not ended", len(c.groups))
	}
	return nil
}

// applyChanges replays the pass's changes onto the applier, then
// dispatches forgotten and remembered values and side effects.
func (c *Composition) applyChanges(cp *Composer) int {
	calls := func() int {
		if l, ok := c.applier.(ChangeListener); ok {
			l.OnBeginChanges()
			defer l.OnEndChanges()
		}
		return cp.changes.ApplyTo(c.applier)
	}()
	c.dispatch(cp)
	return calls
}

func (c *Composition) dispatch(cp *Composer) {
	forgotten := make(map[RememberObserver]struct{}, len(cp.forgotten))
	for _, o := range cp.forgotten {
		forgotten[o] = struct{}{}
	}
	abandoned := make(map[RememberObserver]struct{})
	for _, o := range cp.remembered {
		if _, ok := forgotten[o]; ok {
			abandoned[o] = struct{}{}
		}
	}
	for i := len(cp.forgotten) - 1; i >= 0; i-- {
		o := cp.forgotten[i]
		if _, ok := abandoned[o]; ok {
			continue
		}
		safeCall("core.OnForgotten", o.OnForgotten)
	}
	for _, sub := range cp.disposals {
		sub.Dispose()
	}
	for _, o := range cp.remembered {
		if _, ok := abandoned[o]; ok {
			safeCall("core.OnAbandoned", o.OnAbandoned)
			continue
		}
		safeCall("core.OnRemembered", o.OnRemembered)
	}
	for _, effect := range cp.effects {
		safeCall("core.SideEffect", effect)
	}
}

func safeCall(op string, fn func()) {
	defer errors.Recover(op)
	fn()
}

// fail disposes the composition after an internal error. The slot table is
// no longer trusted, so remembered values are not forgotten one by one.
func (c *Composition) fail(cp *Composer, err error) {
	c.mu.Lock()
	c.disposed = true
	c.invalid = make(map[*RecomposeScope]struct{})
	clear(c.observers)
	clear(c.derivedBy)
	clear(c.derivedDeps)
	c.mu.Unlock()

	errors.Report(&errors.RuntimeError{
		Op:          "core.compose",
		Kind:        errors.KindInternal,
		Err:         err,
		Composition: c.id,
		StackTrace:  errors.CaptureStack(),
	})
	c.logger.Error("composition disposed after internal error",
		slog.String("composition", c.Name()),
		slog.Any("error", err),
	)
	for _, o := range cp.remembered {
		safeCall("core.OnAbandoned", o.OnAbandoned)
	}
	safeCall("core.Applier.Clear", c.applier.Clear)
	c.finish()
}

// Dispose removes all content, forgetting every remembered value and
// clearing the applier. LaunchedEffect contexts are cancelled; use
// WaitEffects to wait for their goroutines.
func (c *Composition) Dispose() {
	c.composeMu.Lock()
	defer c.composeMu.Unlock()

	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	c.mu.Unlock()

	cp := newComposer(c, context.Background(), make(map[*RecomposeScope]struct{}))
	ed := c.table.Edit()
	ed.Release = cp.release
	for !ed.AtEnd() {
		ed.RemoveGroup()
	}
	ed.Close()
	safeCall("core.Applier.Clear", c.applier.Clear)
	c.dispatch(cp)

	c.mu.Lock()
	c.invalid = make(map[*RecomposeScope]struct{})
	clear(c.observers)
	clear(c.derivedBy)
	clear(c.derivedDeps)
	c.mu.Unlock()
	c.finish()
}

func (c *Composition) finish() {
	c.cancelEffects()
	c.runDisposers()
	if c.parent != nil {
		c.parent.Unregister(c)
	}
}

// WaitEffects waits for the goroutines started by LaunchedEffect.
func (c *Composition) WaitEffects() { c.effects.Wait() }

// OnDispose registers cleanup to run when the composition is disposed.
// Cleanups run in reverse order of registration. The returned function
// unregisters cleanup.
func (c *Composition) OnDispose(cleanup func()) func() {
	if cleanup == nil {
		return func() {}
	}
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		cleanup()
		return func() {}
	}
	index := len(c.disposers)
	c.disposers = append(c.disposers, cleanup)
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if index < len(c.disposers) {
			c.disposers[index] = nil
		}
	}
}

func (c *Composition) runDisposers() {
	c.mu.Lock()
	disposers := c.disposers
	c.disposers = nil
	c.mu.Unlock()
	for i := len(disposers) - 1; i >= 0; i-- {
		if disposers[i] != nil {
			safeCall("core.OnDispose", disposers[i])
		}
	}
}

// RecordModificationsOf invalidates the scopes that read any of changed.
// A scope that read a derived state is only invalidated when the derived
// value differs from the one it read. It reports whether any scope was
// invalidated.
func (c *Composition) RecordModificationsOf(changed []snapshot.StateObject) bool {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return false
	}
	added := false
	var derived []snapshot.DerivedStateObject
	seen := make(map[snapshot.DerivedStateObject]struct{})
	for _, obj := range changed {
		for s := range c.observers[obj] {
			if _, ok := c.invalid[s]; !ok {
				c.invalid[s] = struct{}{}
				added = true
			}
		}
		for d := range c.derivedBy[obj] {
			if _, ok := seen[d]; !ok {
				seen[d] = struct{}{}
				derived = append(derived, d)
			}
		}
	}
	c.mu.Unlock()

	if len(derived) > 0 && c.invalidateDerived(derived) {
		added = true
	}
	return added
}

func (c *Composition) invalidateDerived(derived []snapshot.DerivedStateObject) bool {
	snap, err := c.coord.TakeSnapshot(nil)
	if err != nil {
		return false
	}
	defer snap.Dispose()

	values := make([]any, len(derived))
	for i, d := range derived {
		values[i] = d.CurrentValue(snap)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	added := false
	for i, d := range derived {
		for s := range c.observers[d] {
			old, ok := s.derived[d]
			if ok && d.EquivalentValues(old, values[i]) {
				continue
			}
			if _, ok := c.invalid[s]; !ok {
				c.invalid[s] = struct{}{}
				added = true
			}
		}
	}
	return added
}

// ObservesAny reports whether a live scope read any of objs.
func (c *Composition) ObservesAny(objs []snapshot.StateObject) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, obj := range objs {
		if len(c.observers[obj]) > 0 || len(c.derivedBy[obj]) > 0 {
			return true
		}
	}
	return false
}

// HasInvalidations reports whether a scope is waiting for re-execution.
func (c *Composition) HasInvalidations() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.invalid) > 0
}

// InvalidateAll invalidates every scope so the next pass re-executes the
// whole content.
func (c *Composition) InvalidateAll() {
	c.composeMu.Lock()
	var scopes []*RecomposeScope
	c.table.Walk(func(g slottable.GroupInfo) {
		if len(g.Slots) == 0 {
			return
		}
		if v, ok := g.Slots[0].Value(); ok {
			if s, ok := v.(*RecomposeScope); ok {
				scopes = append(scopes, s)
			}
		}
	})
	c.composeMu.Unlock()
	c.requeue(scopes)
}

func (c *Composition) invalidate(s *RecomposeScope) {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	_, had := c.invalid[s]
	c.invalid[s] = struct{}{}
	c.mu.Unlock()
	if !had && c.parent != nil {
		c.parent.CompositionInvalidated(c)
	}
}

func (c *Composition) isInvalid(s *RecomposeScope) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.invalid[s]
	return ok
}

func (c *Composition) takeInvalid() map[*RecomposeScope]struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	pass := c.invalid
	c.invalid = make(map[*RecomposeScope]struct{})
	return pass
}

// requeue invalidates scopes for the next pass.
func (c *Composition) requeue(scopes []*RecomposeScope) {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	added := false
	for _, s := range scopes {
		if !s.Valid() {
			continue
		}
		if _, ok := c.invalid[s]; !ok {
			c.invalid[s] = struct{}{}
			added = true
		}
	}
	c.mu.Unlock()
	if added && c.parent != nil {
		c.parent.CompositionInvalidated(c)
	}
}

// recordReads replaces the read set of s. With merge the new reads are
// added to the old ones, which keeps a failed scope subscribed to
// everything it depended on.
func (c *Composition) recordReads(
	s *RecomposeScope,
	reads map[snapshot.StateObject]struct{},
	derived map[snapshot.DerivedStateObject]any,
	deps map[snapshot.DerivedStateObject][]snapshot.StateObject,
	merge bool,
) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if merge {
		for obj := range s.reads {
			reads[obj] = struct{}{}
		}
	} else {
		for obj := range s.reads {
			if _, keep := reads[obj]; !keep {
				c.removeObserverLocked(obj, s)
			}
		}
	}
	for obj := range reads {
		set := c.observers[obj]
		if set == nil {
			set = make(map[*RecomposeScope]struct{})
			c.observers[obj] = set
		}
		set[s] = struct{}{}
	}
	for d, ds := range deps {
		c.derivedDeps[d] = ds
		for _, dep := range ds {
			set := c.derivedBy[dep]
			if set == nil {
				set = make(map[snapshot.DerivedStateObject]struct{})
				c.derivedBy[dep] = set
			}
			set[d] = struct{}{}
		}
	}
	s.reads = reads
	if merge && s.derived != nil {
		for d, v := range derived {
			s.derived[d] = v
		}
	} else {
		s.derived = derived
	}
	c.stats.Observed = len(c.observers)
}

func (c *Composition) removeObserverLocked(obj snapshot.StateObject, s *RecomposeScope) {
	set := c.observers[obj]
	delete(set, s)
	if len(set) > 0 {
		return
	}
	delete(c.observers, obj)
	d, ok := obj.(snapshot.DerivedStateObject)
	if !ok {
		return
	}
	for _, dep := range c.derivedDeps[d] {
		if by := c.derivedBy[dep]; by != nil {
			delete(by, d)
			if len(by) == 0 {
				delete(c.derivedBy, dep)
			}
		}
	}
	delete(c.derivedDeps, d)
}

// releaseScope drops a scope whose group left the table.
func (c *Composition) releaseScope(s *RecomposeScope) {
	s.released.Store(true)
	for p := range s.providers {
		delete(p.dependents, s)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for obj := range s.reads {
		c.removeObserverLocked(obj, s)
	}
	s.reads = nil
	s.derived = nil
	delete(c.invalid, s)
	c.stats.Observed = len(c.observers)
}

// Stats returns a copy of the composition's counters.
func (c *Composition) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Invalid = len(c.invalid)
	return s
}

// Dump renders the slot table for debugging.
func (c *Composition) Dump() string {
	c.composeMu.Lock()
	defer c.composeMu.Unlock()
	return c.table.Dump()
}

func mapKeys[K comparable, V any](m map[K]V) []K {
	out := make([]K, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
