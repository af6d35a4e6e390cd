package hierarchy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aesp-labs/aesp-core/pkg/storage"
)

func TestTree_AddAndEscalationChain(t *testing.T) {
	ctx := context.Background()
	tree := New(storage.NewMemoryStore(), nil, nil)

	_, err := tree.AddRoot(ctx, "root", "Root Agent")
	require.NoError(t, err)
	_, err = tree.AddChild(ctx, "mid", "Mid Agent", "root")
	require.NoError(t, err)
	_, err = tree.AddChild(ctx, "leaf", "Leaf Agent", "mid")
	require.NoError(t, err)

	chain := tree.EscalationChain("leaf")
	assert.Equal(t, []string{"leaf", "mid", "root", HumanNodeID}, chain)

	assert.True(t, tree.IsAncestor("root", "leaf"))
	assert.False(t, tree.IsAncestor("leaf", "root"))
	assert.ElementsMatch(t, []string{"mid", "leaf"}, tree.Descendants("root"))
}

func TestTree_DepthBoundEnforced(t *testing.T) {
	ctx := context.Background()
	tree := New(storage.NewMemoryStore(), nil, nil)

	prev := ""
	for i := 0; i < MaxDepth; i++ {
		id := string(rune('a' + i))
		var err error
		if prev == "" {
			_, err = tree.AddRoot(ctx, id, id)
		} else {
			_, err = tree.AddChild(ctx, id, id, prev)
		}
		require.NoError(t, err)
		prev = id
	}

	// prev is now at depth MaxDepth-1; one more child should fail.
	_, err := tree.AddChild(ctx, "overflow", "overflow", prev)
	require.Error(t, err)
}

func TestTree_RemoveIsRecursive(t *testing.T) {
	ctx := context.Background()
	tree := New(storage.NewMemoryStore(), nil, nil)

	_, err := tree.AddRoot(ctx, "root", "Root")
	require.NoError(t, err)
	_, err = tree.AddChild(ctx, "mid", "Mid", "root")
	require.NoError(t, err)
	_, err = tree.AddChild(ctx, "leaf", "Leaf", "mid")
	require.NoError(t, err)

	require.NoError(t, tree.Remove(ctx, "mid"))

	_, ok := tree.Get("mid")
	assert.False(t, ok)
	_, ok = tree.Get("leaf")
	assert.False(t, ok)
	root, ok := tree.Get("root")
	require.True(t, ok)
	assert.Empty(t, root.Children)
}

func TestTree_LoadRebuildsChildLinks(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	tree := New(store, nil, nil)

	_, err := tree.AddRoot(ctx, "root", "Root")
	require.NoError(t, err)
	_, err = tree.AddChild(ctx, "mid", "Mid", "root")
	require.NoError(t, err)

	reloaded := New(store, nil, nil)
	require.NoError(t, reloaded.Load(ctx))

	root, ok := reloaded.Get("root")
	require.True(t, ok)
	assert.Equal(t, []string{"mid"}, root.Children)
}

func TestRankEscalationCandidates_PrefersCloserAndMoreTrusted(t *testing.T) {
	ctx := context.Background()
	tree := New(storage.NewMemoryStore(), nil, nil)

	_, err := tree.AddRoot(ctx, "root", "Root")
	require.NoError(t, err)
	_, err = tree.AddChild(ctx, "mid", "Mid", "root")
	require.NoError(t, err)
	_, err = tree.AddChild(ctx, "leaf", "Leaf", "mid")
	require.NoError(t, err)

	ranked := tree.RankEscalationCandidates("leaf", []string{"root", "mid", "unrelated"},
		map[string]float64{"root": 0.9, "mid": 0.9, "unrelated": 0.9})
	require.Len(t, ranked, 3)
	assert.Equal(t, "mid", ranked[0].AgentID) // closer ancestor wins at equal trust
}
