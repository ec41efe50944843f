package core_test

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-drift/recompose/pkg/core"
	"github.com/go-drift/recompose/pkg/slottable"
	"github.com/go-drift/recompose/pkg/snapshot"
	rt "github.com/go-drift/recompose/pkg/testing"
)

type tracker struct {
	name   string
	events *[]string
}

func (p *tracker) OnRemembered() { *p.events = append(*p.events, "remembered "+p.name) }
func (p *tracker) OnForgotten()  { *p.events = append(*p.events, "forgotten "+p.name) }
func (p *tracker) OnAbandoned()  { *p.events = append(*p.events, "abandoned "+p.name) }

func TestRememberObserverLifecycle(t *testing.T) {
	tester := rt.NewTesterWithT(t)
	show := snapshot.MutableStateOf(tester.Coordinator(), true)
	var events []string

	require.NoError(t, tester.SetContent(func(c *core.Composer) {
		rt.Scope(c, "s", func(c *core.Composer) {
			if core.Read(c, show) {
				core.Group(c, func(c *core.Composer) {
					core.Remember(c, func() *tracker { return &tracker{name: "a", events: &events} })
					core.Remember(c, func() *tracker { return &tracker{name: "b", events: &events} })
				})
			}
		})
	}))
	assert.Equal(t, []string{"remembered a", "remembered b"}, events)

	tester.Composition().InvalidateAll()
	pump(t, tester)
	assert.Len(t, events, 2)

	show.Set(false)
	pump(t, tester)
	assert.Equal(t, []string{"remembered a", "remembered b", "forgotten b", "forgotten a"}, events)
}

func TestRememberKeyedForgetsReplacedValue(t *testing.T) {
	tester := rt.NewTesterWithT(t)
	key := snapshot.MutableStateOf(tester.Coordinator(), 1)
	var events []string

	require.NoError(t, tester.SetContent(func(c *core.Composer) {
		rt.Scope(c, "s", func(c *core.Composer) {
			k := core.Read(c, key)
			core.RememberKeyed(c, func() *tracker {
				return &tracker{name: strconv.Itoa(k), events: &events}
			}, k)
		})
	}))

	key.Set(2)
	pump(t, tester)
	assert.Equal(t, []string{"remembered 1", "forgotten 1", "remembered 2"}, events)
}

func TestRememberFuncKeepsIdentity(t *testing.T) {
	tester := rt.NewTesterWithT(t)
	key := snapshot.MutableStateOf(tester.Coordinator(), 1)
	var calls []string
	var handlers []func()

	require.NoError(t, tester.SetContent(func(c *core.Composer) {
		rt.Scope(c, "s", func(c *core.Composer) {
			k := core.Read(c, key)
			h := core.RememberFunc(c, func() { calls = append(calls, strconv.Itoa(k)) }, k)
			handlers = append(handlers, h)
		})
	}))

	tester.Composition().InvalidateAll()
	pump(t, tester)
	require.Len(t, handlers, 2)
	handlers[1]()
	assert.Equal(t, []string{"1"}, calls, "unchanged keys keep the first function")

	key.Set(2)
	pump(t, tester)
	require.Len(t, handlers, 3)
	handlers[2]()
	assert.Equal(t, []string{"1", "2"}, calls)

	lambdas := 0
	tester.Composition().Table().Walk(func(g slottable.GroupInfo) {
		for _, s := range g.Slots {
			if s.Kind() == slottable.SlotLambda {
				lambdas++
			}
		}
	})
	assert.Equal(t, 1, lambdas)
}

func TestDisposableEffect(t *testing.T) {
	tester := rt.NewTesterWithT(t)
	key := snapshot.MutableStateOf(tester.Coordinator(), 1)
	show := snapshot.MutableStateOf(tester.Coordinator(), true)
	var events []string

	require.NoError(t, tester.SetContent(func(c *core.Composer) {
		rt.Scope(c, "s", func(c *core.Composer) {
			if !core.Read(c, show) {
				return
			}
			core.Group(c, func(c *core.Composer) {
				k := strconv.Itoa(core.Read(c, key))
				core.DisposableEffect(c, func() func() {
					events = append(events, "effect "+k)
					return func() { events = append(events, "cleanup "+k) }
				}, k)
			})
		})
	}))
	assert.Equal(t, []string{"effect 1"}, events)

	key.Set(2)
	pump(t, tester)
	assert.Equal(t, []string{"effect 1", "cleanup 1", "effect 2"}, events)

	show.Set(false)
	pump(t, tester)
	assert.Equal(t, []string{"effect 1", "cleanup 1", "effect 2", "cleanup 2"}, events)
}

func TestSideEffectRunsAfterApply(t *testing.T) {
	tester := rt.NewTesterWithT(t)
	var seen []string

	require.NoError(t, tester.SetContent(func(c *core.Composer) {
		rt.Leaf(c, "leaf", nil)
		core.SideEffect(c, func() {
			seen = tester.Root().ChildNames()
		})
	}))
	assert.Equal(t, []string{"leaf"}, seen)
}

func TestLaunchedEffectCancelledOnLeave(t *testing.T) {
	tester := rt.NewTesterWithT(t)
	show := snapshot.MutableStateOf(tester.Coordinator(), true)
	started := make(chan struct{})
	stopped := make(chan struct{})

	require.NoError(t, tester.SetContent(func(c *core.Composer) {
		rt.Scope(c, "s", func(c *core.Composer) {
			if core.Read(c, show) {
				core.Group(c, func(c *core.Composer) {
					core.LaunchedEffect(c, func(ctx context.Context) {
						close(started)
						<-ctx.Done()
						close(stopped)
					})
				})
			}
		})
	}))

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("effect did not start")
	}

	show.Set(false)
	pump(t, tester)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("effect was not cancelled")
	}
	tester.Composition().WaitEffects()
}

func TestLaunchedEffectWritesState(t *testing.T) {
	tester := rt.NewTesterWithT(t)
	status := snapshot.MutableStateOf(tester.Coordinator(), "loading")
	written := make(chan struct{})

	require.NoError(t, tester.SetContent(func(c *core.Composer) {
		rt.Scope(c, "s", func(c *core.Composer) {
			rt.Text(c, core.Read(c, status))
		})
		core.LaunchedEffect(c, func(context.Context) {
			status.Set("ready")
			close(written)
		})
	}))
	<-written

	pump(t, tester)
	assert.Equal(t, "ready", tester.Root().Children[0].Prop("text"))
}

var theme = core.NewCompositionLocal("light").Named("theme")

func TestCompositionLocals(t *testing.T) {
	tester := rt.NewTesterWithT(t)
	value := snapshot.MutableStateOf(tester.Coordinator(), "dark")
	var outside string

	require.NoError(t, tester.SetContent(func(c *core.Composer) {
		outside = core.Current(c, theme)
		core.Provide(c, theme, core.Read(c, value), func(c *core.Composer) {
			rt.Scope(c, "middle", func(c *core.Composer) {
				rt.Box(c, "box", nil, func(c *core.Composer) {
					rt.Scope(c, "reader", func(c *core.Composer) {
						rt.Text(c, core.Current(c, theme))
					})
				})
			})
		})
	}))
	assert.Equal(t, "light", outside)
	text := tester.Root().Find("text")
	assert.Equal(t, "dark", text.Prop("text"))
	tester.ResetCounts()

	value.Set("blue")
	pump(t, tester)
	assert.Equal(t, "blue", text.Prop("text"))
	assert.Equal(t, 1, tester.Executions("reader"))
	assert.Zero(t, tester.Executions("middle"))
}

func TestNestedProvidersShadow(t *testing.T) {
	tester := rt.NewTesterWithT(t)
	var inner, after string

	require.NoError(t, tester.SetContent(func(c *core.Composer) {
		core.Provide(c, theme, "outer", func(c *core.Composer) {
			core.Provide(c, theme, "inner", func(c *core.Composer) {
				inner = core.Current(c, theme)
			})
			after = core.Current(c, theme)
		})
	}))
	assert.Equal(t, "inner", inner)
	assert.Equal(t, "outer", after)
}

func TestSubcompose(t *testing.T) {
	tester := rt.NewTesterWithT(t)
	show := snapshot.MutableStateOf(tester.Coordinator(), true)
	label := snapshot.MutableStateOf(tester.Coordinator(), "inner")
	child := rt.NewNodeApplier()
	var sub *core.Composition
	var local string

	require.NoError(t, tester.SetContent(func(c *core.Composer) {
		core.Provide(c, theme, "sub", func(c *core.Composer) {
			rt.Scope(c, "host", func(c *core.Composer) {
				if core.Read(c, show) {
					core.Group(c, func(c *core.Composer) {
						sub = core.Subcompose(c, child, func(c *core.Composer) {
							local = core.Current(c, theme)
							rt.Scope(c, "subtext", func(c *core.Composer) {
								rt.Text(c, core.Read(c, label))
							})
						})
					})
				}
			})
		})
	}))
	require.NotNil(t, sub)
	assert.Equal(t, "sub", local)
	assert.Equal(t, "inner", child.RootNode().Children[0].Prop("text"))
	assert.Len(t, tester.Recomposer().Compositions(), 2)

	label.Set("changed")
	pump(t, tester)
	assert.Equal(t, "changed", child.RootNode().Children[0].Prop("text"))

	show.Set(false)
	pump(t, tester)
	assert.True(t, sub.IsDisposed())
	assert.Empty(t, child.RootNode().Children)
	assert.Len(t, tester.Recomposer().Compositions(), 1)
}
