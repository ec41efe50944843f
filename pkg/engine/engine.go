// Package engine hosts compositions: it owns the snapshot coordinator, the
// frame clock and the recomposer driving them, persists saveable state of
// mounted compositions and serves diagnostics over HTTP.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/go-drift/recompose/pkg/animation"
	"github.com/go-drift/recompose/pkg/core"
	"github.com/go-drift/recompose/pkg/errors"
	"github.com/go-drift/recompose/pkg/frameclock"
	"github.com/go-drift/recompose/pkg/recomposer"
	"github.com/go-drift/recompose/pkg/saveable"
	"github.com/go-drift/recompose/pkg/snapshot"
)

// ErrNameInUse is returned by Mount when a composition with the same name
// is already mounted.
var ErrNameInUse = errors.New("engine: composition name already mounted")

// ErrClosed is returned by Mount after Close.
var ErrClosed = errors.New("engine: closed")

const persistTimeout = 5 * time.Second

// Engine drives any number of mounted compositions from one frame clock.
type Engine struct {
	cfg     Config
	log     *slog.Logger
	coord   *snapshot.Coordinator
	clock   frameclock.FrameClock
	ticker  *frameclock.TickerClock
	rec     *recomposer.Recomposer
	trace   *PassTraceBuffer
	runtime *RuntimeSampleBuffer
	debug   debugServer

	mu     sync.Mutex
	mounts map[string]*mount
	closed bool
}

type mount struct {
	name     string
	comp     *core.Composition
	registry *saveable.Registry
}

// New creates an engine. Compositions are recomposed once Run is called.
func New(cfg Config) *Engine {
	cfg = cfg.withDefaults()
	e := &Engine{
		cfg:     cfg,
		log:     cfg.Logger.With(slog.String("engine", cfg.Name)),
		coord:   snapshot.NewCoordinator(),
		clock:   cfg.Clock,
		trace:   NewPassTraceBuffer(cfg.TraceSamples, cfg.SlowPassThreshold),
		runtime: NewRuntimeSampleBuffer(cfg.RuntimeSampleWindow, cfg.RuntimeSampleInterval),
		mounts:  make(map[string]*mount),
	}
	if e.clock == nil {
		e.ticker = frameclock.NewTickerClock(cfg.FrameInterval)
		e.clock = e.ticker
	}
	e.rec = recomposer.New(e.coord, e.clock,
		recomposer.WithName(cfg.Name),
		recomposer.WithLogger(cfg.Logger),
		recomposer.WithPassObserver(e.observePass),
	)
	return e
}

// Coordinator returns the snapshot coordinator shared by all compositions.
func (e *Engine) Coordinator() *snapshot.Coordinator { return e.coord }

// Recomposer returns the recomposer driving the compositions.
func (e *Engine) Recomposer() *recomposer.Recomposer { return e.rec }

// Trace returns the pass trace buffer.
func (e *Engine) Trace() *PassTraceBuffer { return e.trace }

func (e *Engine) observePass(res recomposer.PassResult) {
	e.trace.Record(res)
	if res.Duration > e.cfg.SlowPassThreshold {
		e.log.Warn("slow recomposition pass",
			slog.Int64("pass", res.Pass),
			slog.Duration("duration", res.Duration),
			slog.Int("recomposed", res.Recomposed),
		)
	}
}

// Mount composes content into applier as a composition named name. Values
// remembered with saveable.RememberSaveable are restored from the
// configured store under that name. Animations in content tick on the
// engine's frame clock. A composable that panics while mounting does not
// fail the mount: its scope is retried on later passes. Mount fails only
// when the composition could not be created or was disposed.
func (e *Engine) Mount(ctx context.Context, name string, applier core.Applier, content func(*core.Composer)) (*core.Composition, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrClosed
	}
	if _, ok := e.mounts[name]; ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("mount %s: %w", name, ErrNameInUse)
	}
	m := &mount{name: name}
	e.mounts[name] = m
	e.mu.Unlock()

	reg, err := e.restore(ctx, name)
	if err != nil {
		e.forget(name)
		return nil, fmt.Errorf("mount %s: %w", name, err)
	}
	comp := e.rec.NewComposition(applier, core.WithName(name), core.WithLogger(e.log))
	comp.OnDispose(func() { e.forget(name) })
	e.mu.Lock()
	m.registry = reg
	m.comp = comp
	e.mu.Unlock()

	err = comp.SetContent(func(c *core.Composer) {
		core.Provide(c, saveable.LocalRegistry, reg, func(c *core.Composer) {
			core.Provide(c, animation.LocalFrameClock, e.clock, content)
		})
	})
	switch {
	case err == nil:
	case comp.IsDisposed():
		// Internal errors dispose the composition.
		comp.Dispose()
		return nil, fmt.Errorf("mount %s: %w", name, err)
	default:
		// Failed scopes were reported and stay invalid; the recomposer
		// retries them on the next tick.
		e.log.Warn("initial composition failed, retrying",
			slog.String("composition", name),
			slog.Any("error", err),
		)
	}
	e.log.Info("mounted composition", slog.String("composition", name), slog.String("id", comp.ID()))
	return comp, nil
}

func (e *Engine) restore(ctx context.Context, name string) (*saveable.Registry, error) {
	if e.cfg.Store == nil {
		return saveable.NewRegistry(nil, nil), nil
	}
	return saveable.Restore(ctx, e.cfg.Store, name)
}

func (e *Engine) forget(name string) {
	e.mu.Lock()
	delete(e.mounts, name)
	e.mu.Unlock()
}

// Unmount persists the saveable state of the named composition and
// disposes it.
func (e *Engine) Unmount(ctx context.Context, name string) error {
	e.mu.Lock()
	m, ok := e.mounts[name]
	e.mu.Unlock()
	if !ok || m.comp == nil {
		return fmt.Errorf("unmount %s: not mounted", name)
	}
	err := e.persist(ctx, m)
	m.comp.Dispose()
	return err
}

func (e *Engine) persist(ctx context.Context, m *mount) error {
	if e.cfg.Store == nil || m.registry == nil {
		return nil
	}
	if err := saveable.Persist(ctx, e.cfg.Store, m.name, m.registry); err != nil {
		return fmt.Errorf("persist %s: %w", m.name, err)
	}
	return nil
}

// Mounted returns the mounted compositions by name.
func (e *Engine) Mounted() map[string]*core.Composition {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]*core.Composition, len(e.mounts))
	for name, m := range e.mounts {
		if m.comp != nil {
			out[name] = m.comp
		}
	}
	return out
}

// Run recomposes until ctx is cancelled or Close is called. It starts the
// default ticker clock, the runtime sampler and, when DebugAddr is set,
// the debug server.
func (e *Engine) Run(ctx context.Context) error {
	if e.ticker != nil {
		e.ticker.Start()
		defer e.ticker.Stop()
	}
	if e.cfg.DebugAddr != "" {
		addr, err := e.StartDebugServer(e.cfg.DebugAddr)
		if err != nil {
			return err
		}
		e.log.Info("debug server listening", slog.String("addr", addr))
		defer e.StopDebugServer()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return e.rec.Run(ctx)
	})
	g.Go(func() error {
		runSampler(ctx, e.runtime, e.rec)
		return nil
	})
	return g.Wait()
}

// Close persists and disposes every mounted composition and stops the
// recomposer. Run returns once Close was called.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	mounts := make([]*mount, 0, len(e.mounts))
	for _, m := range e.mounts {
		if m.comp != nil {
			mounts = append(mounts, m)
		}
	}
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	var errs []error
	for _, m := range mounts {
		if err := e.persist(ctx, m); err != nil {
			errs = append(errs, err)
		}
		m.comp.Dispose()
		m.comp.WaitEffects()
	}
	e.rec.Close()
	e.StopDebugServer()
	if err := errors.Join(errs...); err != nil {
		e.log.Error("engine closed with errors", slog.Any("error", err))
		return err
	}
	return nil
}
