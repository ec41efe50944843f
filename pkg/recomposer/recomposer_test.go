package recomposer_test

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-drift/recompose/pkg/core"
	"github.com/go-drift/recompose/pkg/errors"
	"github.com/go-drift/recompose/pkg/frameclock"
	"github.com/go-drift/recompose/pkg/recomposer"
	"github.com/go-drift/recompose/pkg/snapshot"
	rt "github.com/go-drift/recompose/pkg/testing"
)

type fixture struct {
	coord *snapshot.Coordinator
	clock *frameclock.ManualClock
	rec   *recomposer.Recomposer
	execs map[string]int
}

func newFixture(t *testing.T, opts ...recomposer.Option) *fixture {
	t.Helper()
	f := &fixture{
		coord: snapshot.NewCoordinator(),
		clock: frameclock.NewManualClock(),
		execs: make(map[string]int),
	}
	f.rec = recomposer.New(f.coord, f.clock, opts...)
	t.Cleanup(f.rec.Close)
	return f
}

func (f *fixture) compose(t *testing.T, name string, content func(*core.Composer)) (*core.Composition, *rt.NodeApplier) {
	t.Helper()
	a := rt.NewNodeApplier()
	comp := f.rec.NewComposition(a, core.WithName(name), core.WithExecutionHook(func(s *core.RecomposeScope) {
		f.execs[s.Name()]++
	}))
	t.Cleanup(comp.Dispose)
	require.NoError(t, comp.SetContent(content))
	return comp, a
}

func TestRecomposeSync_OnlyReaderExecutes(t *testing.T) {
	f := newFixture(t)
	count := snapshot.MutableStateOf(f.coord, 0)
	other := snapshot.MutableStateOf(f.coord, "x")

	_, a := f.compose(t, "main", func(c *core.Composer) {
		rt.Scope(c, "counter", func(c *core.Composer) {
			rt.Text(c, strconv.Itoa(core.Read(c, count)))
		})
		rt.Scope(c, "label", func(c *core.Composer) {
			rt.Text(c, core.Read(c, other))
		})
	})
	require.Equal(t, 1, f.execs["counter"])
	require.Equal(t, 1, f.execs["label"])
	require.Equal(t, []string{"text", "text"}, a.RootNode().ChildNames())
	assert.False(t, f.rec.HasPendingChanges())

	count.Set(5)
	assert.True(t, f.rec.HasPendingChanges())
	res, err := f.rec.RecomposeSync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Changes)
	assert.Equal(t, 1, res.Recomposed)
	assert.Equal(t, int64(1), res.Executions)
	assert.Equal(t, 2, f.execs["counter"])
	assert.Equal(t, 1, f.execs["label"])
	assert.Equal(t, "5", a.RootNode().Children[0].Prop("text"))
	assert.False(t, f.rec.HasPendingChanges())
}

func TestRecomposeSync_EqualWriteDoesNothing(t *testing.T) {
	f := newFixture(t)
	count := snapshot.MutableStateOf(f.coord, 0)
	_, a := f.compose(t, "main", func(c *core.Composer) {
		rt.Scope(c, "counter", func(c *core.Composer) {
			rt.Text(c, strconv.Itoa(core.Read(c, count)))
		})
	})
	a.ResetCalls()

	count.Set(0)
	res, err := f.rec.RecomposeSync(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Recomposed)
	assert.Equal(t, 1, f.execs["counter"])
	assert.Zero(t, a.Calls().Total())
}

func TestRecomposeSync_MultipleCompositions(t *testing.T) {
	f := newFixture(t)
	left := snapshot.MutableStateOf(f.coord, 1)
	right := snapshot.MutableStateOf(f.coord, 1)

	_, la := f.compose(t, "left", func(c *core.Composer) {
		rt.Scope(c, "left", func(c *core.Composer) {
			rt.Text(c, strconv.Itoa(core.Read(c, left)))
		})
	})
	_, ra := f.compose(t, "right", func(c *core.Composer) {
		rt.Scope(c, "right", func(c *core.Composer) {
			rt.Text(c, strconv.Itoa(core.Read(c, right)))
		})
	})
	assert.Len(t, f.rec.Compositions(), 2)

	left.Set(2)
	res, err := f.rec.RecomposeSync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Compositions)
	assert.Equal(t, 1, res.Recomposed)
	assert.Equal(t, "2", la.RootNode().Children[0].Prop("text"))
	assert.Equal(t, 1, f.execs["right"])

	left.Set(3)
	right.Set(3)
	res, err = f.rec.RecomposeSync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Changes)
	assert.Equal(t, 2, res.Recomposed)
	assert.Equal(t, "3", la.RootNode().Children[0].Prop("text"))
	assert.Equal(t, "3", ra.RootNode().Children[0].Prop("text"))
}

func TestRecomposeSync_WritesDuringCompositionWaitForNextPass(t *testing.T) {
	f := newFixture(t)
	source := snapshot.MutableStateOf(f.coord, 1)
	doubled := snapshot.MutableStateOf(f.coord, 2)

	_, a := f.compose(t, "main", func(c *core.Composer) {
		rt.Scope(c, "reader", func(c *core.Composer) {
			rt.Text(c, strconv.Itoa(core.Read(c, doubled)))
		})
		rt.Scope(c, "writer", func(c *core.Composer) {
			v := core.Read(c, source)
			require.NoError(t, doubled.Write(c.Snapshot(), v*2))
		})
	})

	source.Set(2)
	_, err := f.rec.RecomposeSync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, f.execs["writer"])
	assert.Equal(t, 1, f.execs["reader"])
	assert.Equal(t, "2", a.RootNode().Children[0].Prop("text"))
	assert.True(t, f.rec.HasPendingChanges())

	_, err = f.rec.RecomposeSync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, f.execs["reader"])
	assert.Equal(t, "4", a.RootNode().Children[0].Prop("text"))
	assert.False(t, f.rec.HasPendingChanges())
}

func TestRecomposeSync_FailingScopeRetries(t *testing.T) {
	f := newFixture(t)
	count := snapshot.MutableStateOf(f.coord, 0)
	fail := true

	_, a := f.compose(t, "main", func(c *core.Composer) {
		rt.Scope(c, "flaky", func(c *core.Composer) {
			n := core.Read(c, count)
			if n > 0 && fail {
				panic("boom")
			}
			rt.Text(c, strconv.Itoa(n))
		})
	})

	count.Set(1)
	res, err := f.rec.RecomposeSync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Errors)
	assert.True(t, f.rec.HasPendingChanges())

	fail = false
	res, err = f.rec.RecomposeSync(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Errors)
	assert.Equal(t, "1", a.RootNode().Find("text").Prop("text"))
}

func TestRun_WaitsForTick(t *testing.T) {
	passes := make(chan recomposer.PassResult, 4)
	f := newFixture(t, recomposer.WithPassObserver(func(r recomposer.PassResult) { passes <- r }))
	count := snapshot.MutableStateOf(f.coord, 0)
	var seen []string
	f.compose(t, "main", func(c *core.Composer) {
		rt.Scope(c, "counter", func(c *core.Composer) {
			seen = append(seen, strconv.Itoa(core.Read(c, count)))
		})
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- f.rec.Run(ctx) }()
	require.Eventually(t, func() bool { return f.rec.State() == recomposer.StateIdle }, time.Second, time.Millisecond)

	count.Set(7)
	require.Eventually(t, func() bool { return f.clock.Pending() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, recomposer.StatePendingWork, f.rec.State())
	select {
	case <-passes:
		t.Fatal("pass ran before the tick")
	default:
	}

	f.clock.Tick()
	select {
	case res := <-passes:
		assert.Equal(t, 1, res.Recomposed)
	case <-time.After(time.Second):
		t.Fatal("no pass after tick")
	}
	assert.Equal(t, []string{"0", "7"}, seen)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
	assert.Equal(t, recomposer.StateInactive, f.rec.State())
}

func TestClose(t *testing.T) {
	f := newFixture(t)
	done := make(chan error, 1)
	go func() { done <- f.rec.Run(context.Background()) }()
	require.Eventually(t, func() bool { return f.rec.State() == recomposer.StateIdle }, time.Second, time.Millisecond)

	f.rec.Close()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
	assert.Equal(t, recomposer.StateShutDown, f.rec.State())

	_, err := f.rec.RecomposeSync(context.Background())
	assert.ErrorIs(t, err, errors.ErrRecomposerClosed)
	assert.ErrorIs(t, f.rec.Run(context.Background()), errors.ErrRecomposerClosed)
}

func TestDisposeUnregisters(t *testing.T) {
	f := newFixture(t)
	comp, _ := f.compose(t, "main", func(c *core.Composer) {})
	require.Len(t, f.rec.Compositions(), 1)
	comp.Dispose()
	assert.Empty(t, f.rec.Compositions())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", recomposer.StateIdle.String())
	assert.Equal(t, "pending-work", recomposer.StatePendingWork.String())
	assert.Equal(t, "unknown", recomposer.State(42).String())
}
