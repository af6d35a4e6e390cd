package privacy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aesp-labs/aesp-core/pkg/aesperrors"
	"github.com/aesp-labs/aesp-core/pkg/aespcrypto"
	"github.com/aesp-labs/aesp-core/pkg/storage"
)

func newTestPool(now time.Time) (*Pool, storage.Store) {
	store := storage.NewMemoryStore()
	pool := NewPool(aespcrypto.NewReferenceFacade(), store, nil, nil, func() time.Time { return now })
	return pool, store
}

func TestPool_DeriveEphemeralAddress_UniqueAndAssigned(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	pool, _ := newTestPool(now)

	a1, err := pool.DeriveEphemeralAddress(ctx, "owner:alice", "agent-1", "ethereum", DirectionInbound)
	require.NoError(t, err)
	a2, err := pool.DeriveEphemeralAddress(ctx, "owner:alice", "agent-1", "ethereum", DirectionInbound)
	require.NoError(t, err)

	assert.NotEqual(t, a1.Address, a2.Address)
	assert.Equal(t, StatusAssigned, a1.Status)
	assert.NotEmpty(t, a1.AssignedTxUUID)
}

func TestPool_GetBasicAddress_IsStableAcrossCalls(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	pool, _ := newTestPool(now)

	a1, err := pool.GetBasicAddress(ctx, "owner:alice", "agent-1", "solana", DirectionOutbound)
	require.NoError(t, err)
	a2, err := pool.GetBasicAddress(ctx, "owner:alice", "agent-1", "solana", DirectionOutbound)
	require.NoError(t, err)

	assert.Equal(t, a1.Address, a2.Address)
}

func TestPool_ReplenishAndClaim(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	pool, _ := newTestPool(now)

	created, err := pool.ReplenishPool(ctx, "owner:alice", "agent-1", "ethereum", DirectionInbound, 3)
	require.NoError(t, err)
	assert.Len(t, created, 3)

	claimed, ok := pool.ClaimFromPool(ctx, "agent-1", "ethereum", DirectionInbound)
	require.True(t, ok)
	assert.Equal(t, StatusAssigned, claimed.Status)
	assert.NotEmpty(t, claimed.AssignedTxUUID)

	// Replenishing again should only top up to 3, i.e. create 1 more.
	more, err := pool.ReplenishPool(ctx, "owner:alice", "agent-1", "ethereum", DirectionInbound, 3)
	require.NoError(t, err)
	assert.Len(t, more, 1)
}

func TestPool_ClaimFromPool_EmptyReturnsFalse(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	pool, _ := newTestPool(now)

	_, ok := pool.ClaimFromPool(ctx, "agent-1", "ethereum", DirectionInbound)
	assert.False(t, ok)
}

func TestPool_ResolveAddress_AllThreeLevels(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	pool, _ := newTestPool(now)

	transparent, err := pool.ResolveAddress(ctx, "owner:alice", ResolveParams{AgentID: "agent-1", Chain: "ethereum", Direction: DirectionInbound, PrivacyLevel: PrivacyTransparent})
	require.NoError(t, err)
	assert.Nil(t, transparent)

	basic, err := pool.ResolveAddress(ctx, "owner:alice", ResolveParams{AgentID: "agent-1", Chain: "ethereum", Direction: DirectionInbound, PrivacyLevel: PrivacyBasic})
	require.NoError(t, err)
	require.NotNil(t, basic)

	isolated, err := pool.ResolveAddress(ctx, "owner:alice", ResolveParams{AgentID: "agent-1", Chain: "ethereum", Direction: DirectionInbound, PrivacyLevel: PrivacyIsolated})
	require.NoError(t, err)
	require.NotNil(t, isolated)
	assert.NotEqual(t, basic.Address, isolated.Address)
}

func TestPool_UpdateAddressStatus_EnforcesTransitionGraph(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	pool, _ := newTestPool(now)

	addr, err := pool.DeriveEphemeralAddress(ctx, "owner:alice", "agent-1", "ethereum", DirectionInbound)
	require.NoError(t, err)

	require.NoError(t, pool.UpdateAddressStatus(ctx, addr.Address, StatusFunded))
	err = pool.UpdateAddressStatus(ctx, addr.Address, StatusAssigned)
	require.Error(t, err)
	assert.True(t, aesperrors.Is(err, aesperrors.InvalidStatusTransition))

	require.NoError(t, pool.UpdateAddressStatus(ctx, addr.Address, StatusConsolidated))
}

func TestPool_GetAddressesForConsolidation_OnlyFundedInbound(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	pool, _ := newTestPool(now)

	inbound, err := pool.DeriveEphemeralAddress(ctx, "owner:alice", "agent-1", "ethereum", DirectionInbound)
	require.NoError(t, err)
	outbound, err := pool.DeriveEphemeralAddress(ctx, "owner:alice", "agent-1", "ethereum", DirectionOutbound)
	require.NoError(t, err)

	require.NoError(t, pool.UpdateAddressStatus(ctx, inbound.Address, StatusFunded))
	require.NoError(t, pool.UpdateAddressStatus(ctx, outbound.Address, StatusFunded))

	eligible := pool.GetAddressesForConsolidation()
	require.Len(t, eligible, 1)
	assert.Equal(t, inbound.Address, eligible[0].Address)
}

func TestPool_DeriveEphemeralAddress_Rev32RequiredWithoutContextSupport(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	store := storage.NewMemoryStore()
	pool := NewPool(&noContextFacade{Facade: aespcrypto.NewReferenceFacade()}, store, nil, nil, func() time.Time { return now })

	_, err := pool.DeriveEphemeralAddress(ctx, "owner:alice", "agent-1", "ethereum", DirectionInbound)
	require.Error(t, err)
	assert.True(t, aesperrors.Is(err, aesperrors.Rev32Required))
}

// noContextFacade wraps a Facade and reports no context-isolated
// derivation support, exercising the Address Pool's REV32_REQUIRED
// guard.
type noContextFacade struct {
	aespcrypto.Facade
}

func (f *noContextFacade) SupportsContextIsolatedDerivation() bool { return false }
