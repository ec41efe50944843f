package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordingApplier struct {
	StackApplier
	calls []string
}

func (a *recordingApplier) Down(node any) {
	a.calls = append(a.calls, "down")
	a.StackApplier.Down(node)
}

func (a *recordingApplier) Up() {
	a.calls = append(a.calls, "up")
	a.StackApplier.Up()
}

func (a *recordingApplier) Insert(int, any)    { a.calls = append(a.calls, "insert") }
func (a *recordingApplier) Remove(int, int)    { a.calls = append(a.calls, "remove") }
func (a *recordingApplier) Move(int, int, int) { a.calls = append(a.calls, "move") }
func (a *recordingApplier) Clear()             { a.calls = append(a.calls, "clear") }

func TestChangelistDropsEmptyDescents(t *testing.T) {
	var l Changelist
	l.Down("a")
	l.Down("b")
	l.Up()
	l.Up()

	a := &recordingApplier{StackApplier: NewStackApplier("root")}
	assert.Zero(t, l.Len())
	assert.Zero(t, l.ApplyTo(a))
	assert.Empty(t, a.calls)
}

func TestChangelistRealizesDescentsOnChange(t *testing.T) {
	var l Changelist
	l.Down("a")
	l.Down("b")
	l.Up()
	l.Insert(0, "c")
	l.Up()

	a := &recordingApplier{StackApplier: NewStackApplier("root")}
	assert.Equal(t, 3, l.ApplyTo(a))
	assert.Equal(t, []string{"down", "insert", "up"}, a.calls)
	assert.Equal(t, "down a\ninsert 0 c\nup\n", l.String())
}

func TestChangelistUpdatesDoNotDescend(t *testing.T) {
	var l Changelist
	applied := false
	l.Down("a")
	l.Update("a", func() { applied = true })
	l.Up()
	l.Move(1, 1, 2)
	l.Remove(0, 0)

	a := &recordingApplier{StackApplier: NewStackApplier("root")}
	assert.Zero(t, l.ApplyTo(a))
	assert.True(t, applied)
	assert.Equal(t, 1, l.Len())
}

func TestStackApplier(t *testing.T) {
	a := NewStackApplier("root")
	a.Down("a")
	a.Down("b")
	assert.Equal(t, "b", a.Current())
	a.Up()
	assert.Equal(t, "a", a.Current())
	a.Reset()
	assert.Equal(t, "root", a.Current())
	a.Up()
	assert.Equal(t, "root", a.Current())
}
