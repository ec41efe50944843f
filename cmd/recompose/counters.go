package main

import (
	"slices"
	"sync"

	"github.com/go-drift/recompose/pkg/core"
	"github.com/go-drift/recompose/pkg/saveable"
	"github.com/go-drift/recompose/pkg/snapshot"
	recomposetest "github.com/go-drift/recompose/pkg/testing"
)

// counterList is the model of the demo composition: an ordered list of
// rows, each holding a saveable count.
type counterList struct {
	order *snapshot.MutableState[[]int]

	mu     sync.Mutex
	counts map[int]*snapshot.MutableState[int]
}

func newCounterList(coord *snapshot.Coordinator, rows int) *counterList {
	ids := make([]int, rows)
	for i := range ids {
		ids[i] = i
	}
	return &counterList{
		order:  snapshot.NewMutableState(coord, ids, snapshot.NeverEqualPolicy[[]int]()),
		counts: make(map[int]*snapshot.MutableState[int]),
	}
}

func (l *counterList) register(id int, count *snapshot.MutableState[int]) {
	l.mu.Lock()
	l.counts[id] = count
	l.mu.Unlock()
}

// bump increments the count of row id.
func (l *counterList) bump(id int) {
	l.mu.Lock()
	count := l.counts[id]
	l.mu.Unlock()
	if count != nil {
		count.Set(count.Value() + 1)
	}
}

// rotate moves the first row to the end.
func (l *counterList) rotate() {
	ids := slices.Clone(l.order.Value())
	if len(ids) > 1 {
		ids = append(ids[1:], ids[0])
	}
	l.order.Set(ids)
}

func (l *counterList) content(c *core.Composer) {
	recomposetest.Scope(c, "list", func(c *core.Composer) {
		ids := core.Read(c, l.order)
		recomposetest.Column(c, "rows", ids, func(id int) any { return id }, func(c *core.Composer, id int) {
			recomposetest.Scope(c, "row", func(c *core.Composer) {
				count := saveable.RememberSaveableState(c, saveable.ValueSaver[int](), 0)
				core.SideEffect(c, func() { l.register(id, count) })
				recomposetest.Leaf(c, "counter", recomposetest.Props{"id": id, "count": core.Read(c, count)})
			}, id)
		})
	})
}
