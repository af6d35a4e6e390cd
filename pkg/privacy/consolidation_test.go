package privacy

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aesp-labs/aesp-core/pkg/aespcrypto"
	"github.com/aesp-labs/aesp-core/pkg/storage"
)

func newFundedPool(t *testing.T, now time.Time, count int) *Pool {
	t.Helper()
	ctx := context.Background()
	pool := NewPool(aespcrypto.NewReferenceFacade(), storage.NewMemoryStore(), nil, nil, func() time.Time { return now })
	for i := 0; i < count; i++ {
		addr, err := pool.DeriveEphemeralAddress(ctx, "owner:alice", "agent-1", "ethereum", DirectionInbound)
		require.NoError(t, err)
		require.NoError(t, pool.UpdateAddressStatus(ctx, addr.Address, StatusFunded))
	}
	return pool
}

func TestScheduler_ConsolidateSingleBatch_MarksAddressesConsolidated(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	pool := newFundedPool(t, now, 2)
	eligible := pool.GetAddressesForConsolidation()
	require.Len(t, eligible, 2)

	sched := NewScheduler(pool, NewInMemoryConsolidationHandler(), nil, storage.NewMemoryStore(), nil, func() time.Time { return now }, func() string { return "record-1" })

	addrs := []string{eligible[0].Address, eligible[1].Address}
	record, err := sched.ConsolidateSingleBatch(ctx, addrs, BatchedConsolidationOptions{ToVaultAddress: "vault-1", Chain: "ethereum"})
	require.NoError(t, err)
	assert.Equal(t, ConsolidationCompleted, record.Status)
	assert.NotEmpty(t, record.TxHash)

	assert.Empty(t, pool.GetAddressesForConsolidation())
	for _, a := range addrs {
		ea, ok := pool.Get(a)
		require.True(t, ok)
		assert.Equal(t, StatusConsolidated, ea.Status)
	}
}

func TestScheduler_ConsolidateBatched_ChunksBySeven(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	pool := newFundedPool(t, now, 7)

	seq := 0
	sched := NewScheduler(pool, NewInMemoryConsolidationHandler(), nil, storage.NewMemoryStore(), nil, func() time.Time { return now }, func() string {
		seq++
		return fmt.Sprintf("record-%d", seq)
	})

	records, err := sched.ConsolidateBatched(ctx, BatchedConsolidationOptions{
		ToVaultAddress: "vault-1",
		Chain:          "ethereum",
		MaxBatchSize:   3,
		MinInterBatch:  0,
		MaxInterBatch:  0,
	})
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Len(t, records[0].FromAddresses, 3)
	assert.Len(t, records[1].FromAddresses, 3)
	assert.Len(t, records[2].FromAddresses, 1)

	for _, r := range records {
		assert.Equal(t, ConsolidationCompleted, r.Status)
	}
	assert.Empty(t, pool.GetAddressesForConsolidation())
}

func TestScheduler_ShouldConsolidate_GatesOnEligibleCount(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	pool := newFundedPool(t, now, 2)
	sched := NewScheduler(pool, NewInMemoryConsolidationHandler(), nil, storage.NewMemoryStore(), nil, func() time.Time { return now }, func() string { return "r" })

	assert.True(t, sched.ShouldConsolidate(2))
	assert.False(t, sched.ShouldConsolidate(3))
}

func TestScheduler_ConsolidateSingleBatch_HandlerFailureRecorded(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	pool := newFundedPool(t, now, 1)
	eligible := pool.GetAddressesForConsolidation()

	sched := NewScheduler(pool, failingConsolidationHandler{}, nil, storage.NewMemoryStore(), nil, func() time.Time { return now }, func() string { return "record-1" })
	record, err := sched.ConsolidateSingleBatch(ctx, []string{eligible[0].Address}, BatchedConsolidationOptions{ToVaultAddress: "vault-1", Chain: "ethereum"})
	require.Error(t, err)
	assert.Equal(t, ConsolidationFailed, record.Status)
	assert.NotEmpty(t, record.Error)

	// A failed consolidation leaves the source address funded, not consolidated.
	stillEligible := pool.GetAddressesForConsolidation()
	assert.Len(t, stillEligible, 1)
}

type failingConsolidationHandler struct{}

func (failingConsolidationHandler) Consolidate(ctx context.Context, req ConsolidationRequest) (string, error) {
	return "", assert.AnError
}

func TestScheduler_ConsolidateSingleBatch_StampsConsolidationTxOnLinkedTags(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	pool := newFundedPool(t, now, 2)
	eligible := pool.GetAddressesForConsolidation()
	require.Len(t, eligible, 2)

	tags := NewContextTagManager(aespcrypto.NewReferenceFacade(), nil, nil, storage.NewMemoryStore(), nil, func() time.Time { return now }, BatchingPolicy{Strategy: StrategyImmediate})
	tag0, err := tags.CreateTag(ctx, CreateTagParams{ID: "tag-0", AgentID: "agent-1", Address: eligible[0].Address, Purpose: "inbound payment", Amount: 100})
	require.NoError(t, err)
	tag1, err := tags.CreateTag(ctx, CreateTagParams{ID: "tag-1", AgentID: "agent-1", Address: eligible[1].Address, Purpose: "inbound payment", Amount: 200})
	require.NoError(t, err)

	sched := NewScheduler(pool, NewInMemoryConsolidationHandler(), tags, storage.NewMemoryStore(), nil, func() time.Time { return now }, func() string { return "record-1" })
	addrs := []string{eligible[0].Address, eligible[1].Address}
	record, err := sched.ConsolidateSingleBatch(ctx, addrs, BatchedConsolidationOptions{ToVaultAddress: "vault-1", Chain: "ethereum"})
	require.NoError(t, err)
	require.NotEmpty(t, record.TxHash)

	updated0, ok := tags.Get(tag0.ID)
	require.True(t, ok)
	assert.Equal(t, record.TxHash, updated0.ConsolidatedTx)
	updated1, ok := tags.Get(tag1.ID)
	require.True(t, ok)
	assert.Equal(t, record.TxHash, updated1.ConsolidatedTx)
}

func TestScheduler_ScheduleConsolidation_RunsThenDisposeStopsFurtherRuns(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	pool := newFundedPool(t, now, 2)
	sched := NewScheduler(pool, NewInMemoryConsolidationHandler(), nil, storage.NewMemoryStore(), nil, func() time.Time { return now }, func() string { return "r" })

	sched.ScheduleConsolidation(ctx, ScheduleOptions{
		BatchedConsolidationOptions: BatchedConsolidationOptions{ToVaultAddress: "vault-1", Chain: "ethereum", MaxBatchSize: 5},
		ConsolidationThreshold:      1,
		BaseInterval:                10 * time.Millisecond,
		JitterRatio:                 0,
	})

	time.Sleep(60 * time.Millisecond)
	sched.Dispose()
	assert.Empty(t, pool.GetAddressesForConsolidation(), "scheduled run should have consolidated the eligible addresses")
}
