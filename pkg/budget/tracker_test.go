package budget

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aesp-labs/aesp-core/pkg/storage"
)

func TestTracker_RecordAccumulatesAllThreePeriods(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	tr := New(storage.NewMemoryStore(), func() time.Time { return now })

	require.NoError(t, tr.Record(ctx, "agent-1", "req-1", 100))
	require.NoError(t, tr.Record(ctx, "agent-1", "req-2", 50))

	snap := tr.Snapshot("agent-1")
	assert.Equal(t, uint64(150), snap.DailySpent)
	assert.Equal(t, uint64(150), snap.WeeklySpent)
	assert.Equal(t, uint64(150), snap.MonthlySpent)
	assert.Len(t, snap.Transactions, 2)
}

func TestTracker_DailyRolloverAtMidnight(t *testing.T) {
	ctx := context.Background()
	day1 := time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC)
	clock := day1
	tr := New(storage.NewMemoryStore(), func() time.Time { return clock })

	require.NoError(t, tr.Record(ctx, "agent-1", "req-1", 100))
	clock = time.Date(2026, 3, 11, 1, 0, 0, 0, time.UTC)

	snap := tr.Snapshot("agent-1")
	assert.Equal(t, uint64(0), snap.DailySpent, "daily sum resets across a local-midnight boundary")
	assert.Equal(t, uint64(100), snap.WeeklySpent, "weekly sum survives a same-week daily rollover")
}

func TestTracker_WeeklyAndMonthlyRollover(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := New(storage.NewMemoryStore(), func() time.Time { return clock })

	require.NoError(t, tr.Record(ctx, "agent-1", "req-1", 100))

	clock = clock.Add(8 * 24 * time.Hour) // past the 7-day weekly boundary, still March
	snap := tr.Snapshot("agent-1")
	assert.Equal(t, uint64(0), snap.WeeklySpent)
	assert.Equal(t, uint64(100), snap.MonthlySpent)

	clock = time.Date(2026, 4, 1, 0, 0, 1, 0, time.UTC)
	snap = tr.Snapshot("agent-1")
	assert.Equal(t, uint64(0), snap.MonthlySpent)
}

func TestTracker_TransactionRingBufferCap(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	tr := New(storage.NewMemoryStore(), func() time.Time { return now })

	for i := 0; i < MaxTransactions+10; i++ {
		require.NoError(t, tr.Record(ctx, "agent-1", "req", 1))
	}
	snap := tr.Snapshot("agent-1")
	assert.Len(t, snap.Transactions, MaxTransactions)
	assert.Equal(t, uint64(MaxTransactions+10), snap.DailySpent)
}

func TestTracker_Projected(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	tr := New(storage.NewMemoryStore(), func() time.Time { return now })
	require.NoError(t, tr.Record(ctx, "agent-1", "req-1", 100))

	daily, weekly, monthly := tr.Projected("agent-1", 50)
	assert.Equal(t, uint64(150), daily)
	assert.Equal(t, uint64(150), weekly)
	assert.Equal(t, uint64(150), monthly)

	// Projected must not mutate state.
	snap := tr.Snapshot("agent-1")
	assert.Equal(t, uint64(100), snap.DailySpent)
}
