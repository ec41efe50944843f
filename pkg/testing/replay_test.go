package testing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMoveRange(t *testing.T) {
	tests := []struct {
		name            string
		from, to, count int
		want            []string
	}{
		{"backward", 3, 1, 1, []string{"a", "d", "b", "c", "e"}},
		{"forward", 1, 4, 1, []string{"a", "c", "d", "b", "e"}},
		{"forward to end", 0, 5, 2, []string{"c", "d", "e", "a", "b"}},
		{"backward range", 3, 0, 2, []string{"d", "e", "a", "b", "c"}},
		{"noop", 2, 2, 1, []string{"a", "b", "c", "d", "e"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MoveRange([]string{"a", "b", "c", "d", "e"}, tt.from, tt.to, tt.count)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReplay(t *testing.T) {
	got, err := Replay([]string{"a", "b", "c"}, []ListOp{
		{Kind: "move", From: 2, To: 0, Count: 1},
		{Kind: "remove", Index: 2, Count: 1},
		{Kind: "insert", Index: 1, Item: "x"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "x", "a"}, got)

	_, err = Replay([]string{"a"}, []ListOp{{Kind: "remove", Index: 1, Count: 1}})
	assert.Error(t, err)
}

func TestNodeApplier(t *testing.T) {
	a := NewNodeApplier()
	list := NewNode("list")
	a.Insert(0, list)
	a.Down(list)
	for i, name := range []string{"a", "b", "c"} {
		a.Insert(i, NewNode(name))
	}
	a.Move(2, 0, 1)
	a.Remove(1, 1)
	a.Up()

	assert.Equal(t, []string{"c", "b"}, list.ChildNames())
	assert.Same(t, list, list.Children[0].Parent)
	assert.Same(t, a.RootNode(), a.Current())
	assert.Equal(t, Calls{Down: 1, Up: 1, Insert: 4, Remove: 1, Move: 1}, a.Calls())

	ops := ListOps(a.Log(), "list")
	require.Len(t, ops, 5)
	replayed, err := Replay(nil, ops)
	require.NoError(t, err)
	assert.Equal(t, list.ChildNames(), replayed)

	a.Clear()
	assert.Empty(t, a.RootNode().Children)
	assert.Nil(t, list.Parent)
}

func TestNodeString(t *testing.T) {
	root := NewNode("root")
	child := NewNode("text")
	child.SetProp("text", "hi")
	child.SetProp("bold", true)
	root.Children = append(root.Children, child)

	assert.Equal(t, "root\n  text {bold: true, text: hi}\n", root.String())
	assert.Same(t, child, root.Find("text"))
	assert.Equal(t, 2, root.Count())
}
