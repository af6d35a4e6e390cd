package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func testStoreRoundTrip(t *testing.T, store Store) {
	ctx := context.Background()

	var missing sample
	found, err := store.Get(ctx, "does-not-exist", &missing)
	require.NoError(t, err)
	assert.False(t, found)

	in := sample{Name: "alice", Count: 7}
	require.NoError(t, store.Set(ctx, "aesp:policies:1", in))

	var out sample
	found, err = store.Get(ctx, "aesp:policies:1", &out)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, in, out)

	require.NoError(t, store.Set(ctx, "aesp:policies:2", sample{Name: "bob", Count: 1}))
	require.NoError(t, store.Set(ctx, "aesp:audit:1", sample{Name: "other", Count: 0}))

	keys, err := store.Keys(ctx, "aesp:policies")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"aesp:policies:1", "aesp:policies:2"}, keys)

	require.NoError(t, store.Delete(ctx, "aesp:policies:1"))
	found, err = store.Get(ctx, "aesp:policies:1", &out)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryStore_RoundTrip(t *testing.T) {
	testStoreRoundTrip(t, NewMemoryStore())
}

func TestFileStore_RoundTrip(t *testing.T) {
	fs, err := NewInMemoryFileStore()
	require.NoError(t, err)
	testStoreRoundTrip(t, fs)
}
