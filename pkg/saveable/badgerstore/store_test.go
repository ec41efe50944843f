package badgerstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-drift/recompose/pkg/saveable"
	"github.com/go-drift/recompose/pkg/saveable/badgerstore"
)

func openTest(t *testing.T) *badgerstore.Store {
	t.Helper()
	s, err := badgerstore.Open(badgerstore.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := badgerstore.Open(badgerstore.Config{})
	require.Error(t, err)
}

func TestSaveLoad(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	empty, err := s.Load(ctx, "main")
	require.NoError(t, err)
	assert.Nil(t, empty)

	require.NoError(t, s.Save(ctx, "main", map[string][]any{
		"a":    {"x", 2},
		"b":    {true},
		"none": {},
	}))
	require.NoError(t, s.Save(ctx, "other", map[string][]any{"a": {"y"}}))

	got, err := s.Load(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, map[string][]any{"a": {"x", 2}, "b": {true}}, got)

	// Saving replaces the namespace.
	require.NoError(t, s.Save(ctx, "main", map[string][]any{"b": {false}}))
	got, err = s.Load(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, map[string][]any{"b": {false}}, got)

	got, err = s.Load(ctx, "other")
	require.NoError(t, err)
	assert.Equal(t, map[string][]any{"a": {"y"}}, got)
}

func TestPersistRegistry(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	reg := saveable.NewRegistry(nil, nil)
	saver := saveable.YAMLSaver[map[string]int]()
	reg.Register("counts", func() (any, error) { return saver.Save(map[string]int{"clicks": 3}) })
	require.NoError(t, saveable.Persist(ctx, s, "ui", reg))

	restored, err := saveable.Restore(ctx, s, "ui")
	require.NoError(t, err)
	raw, ok := restored.Consume("counts")
	require.True(t, ok)
	counts, err := saver.Restore(raw)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"clicks": 3}, counts)
}

func TestLoadCancelled(t *testing.T) {
	s := openTest(t)
	require.NoError(t, s.Save(context.Background(), "main", map[string][]any{"a": {1}}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Load(ctx, "main")
	require.ErrorIs(t, err, context.Canceled)
}
