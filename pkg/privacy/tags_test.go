package privacy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aesp-labs/aesp-core/pkg/aespcrypto"
	"github.com/aesp-labs/aesp-core/pkg/storage"
)

func newTestTagManager(now time.Time, policy BatchingPolicy) (*ContextTagManager, *InMemoryArchiveUploader, *InMemoryNFTMinter) {
	uploader := NewInMemoryArchiveUploader()
	minter := NewInMemoryNFTMinter()
	mgr := NewContextTagManager(aespcrypto.NewReferenceFacade(), uploader, minter, storage.NewMemoryStore(), nil, func() time.Time { return now }, policy)
	return mgr, uploader, minter
}

func TestContextTagManager_CreateAndArchiveTag(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	mgr, uploader, minter := newTestTagManager(now, BatchingPolicy{Strategy: StrategyImmediate})
	_ = minter

	tag, err := mgr.CreateTag(ctx, CreateTagParams{ID: "t1", AgentID: "agent-1", Address: "0xabc", Purpose: "payment", Amount: 100})
	require.NoError(t, err)
	require.NoError(t, mgr.UpdateTagTxHash(ctx, tag.ID, "0xdeadbeef"))

	archived, err := mgr.ArchiveTag(ctx, "t1", "owner:alice")
	require.NoError(t, err)
	assert.NotNil(t, archived.ArchivedAt)
	assert.NotEmpty(t, archived.ArchiveTxID)
	assert.NotEmpty(t, archived.MintTxID)

	_, ok := uploader.Get(archived.ArchiveTxID)
	assert.True(t, ok)
}

func TestContextTagManager_BatchArchive_OnlyConfirmedUnarchived(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	mgr, _, _ := newTestTagManager(now, BatchingPolicy{Strategy: StrategyImmediate})

	confirmed, err := mgr.CreateTag(ctx, CreateTagParams{ID: "t1", AgentID: "agent-1", Address: "0xabc", Amount: 100})
	require.NoError(t, err)
	require.NoError(t, mgr.UpdateTagTxHash(ctx, confirmed.ID, "0xtxhash"))

	_, err = mgr.CreateTag(ctx, CreateTagParams{ID: "t2", AgentID: "agent-1", Address: "0xdef", Amount: 50})
	require.NoError(t, err) // unconfirmed, no txHash

	require.NoError(t, mgr.BatchArchiveAs(ctx, "owner:alice"))

	t1, _ := mgr.Get("t1")
	t2, _ := mgr.Get("t2")
	assert.NotNil(t, t1.ArchivedAt)
	assert.Nil(t, t2.ArchivedAt)
}

func TestContextTagManager_LowValueThresholdDefersArchival(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	threshold := int64(500)
	mgr, _, _ := newTestTagManager(now, BatchingPolicy{Strategy: StrategyImmediate, LowValueThreshold: &threshold})

	tag, err := mgr.CreateTag(ctx, CreateTagParams{ID: "t1", AgentID: "agent-1", Address: "0xabc", Amount: 10})
	require.NoError(t, err)
	require.NoError(t, mgr.UpdateTagTxHash(ctx, tag.ID, "0xtxhash"))

	require.NoError(t, mgr.BatchArchiveAs(ctx, "owner:alice"))

	stored, _ := mgr.Get("t1")
	assert.Nil(t, stored.ArchivedAt, "below lowValueThreshold must stay deferred")
}

func TestContextTagManager_CountThresholdTriggersAutomatically(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	mgr, _, _ := newTestTagManager(now, BatchingPolicy{Strategy: StrategyCountThreshold, CountThreshold: 2})

	t1, err := mgr.CreateTag(ctx, CreateTagParams{ID: "t1", AgentID: "agent-1", Address: "0xabc", Amount: 10})
	require.NoError(t, err)
	require.NoError(t, mgr.UpdateTagTxHash(ctx, t1.ID, "0xhash1"))

	t2, err := mgr.CreateTag(ctx, CreateTagParams{ID: "t2", AgentID: "agent-1", Address: "0xdef", Amount: 10})
	require.NoError(t, err)
	// Second confirmation reaches the threshold and should trigger a
	// batch archive synchronously.
	require.NoError(t, mgr.UpdateTagTxHash(ctx, t2.ID, "0xhash2"))

	s1, _ := mgr.Get("t1")
	s2, _ := mgr.Get("t2")
	assert.NotNil(t, s1.ArchivedAt)
	assert.NotNil(t, s2.ArchivedAt)
}
