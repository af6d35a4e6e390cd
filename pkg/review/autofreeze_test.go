package review

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAutoFreezeGuard_TripsAfterThreshold(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	guard := NewAutoFreezeGuard("agent-1", 3, 0.5, time.Minute, func() time.Time { return now })

	assert.False(t, guard.RecordOutcome(false, 0.9))
	assert.False(t, guard.RecordOutcome(false, 0.9))
	assert.True(t, guard.RecordOutcome(false, 0.9), "third consecutive failure should trip")
}

func TestAutoFreezeGuard_LowTrustTripsImmediately(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	guard := NewAutoFreezeGuard("agent-1", 10, 0.5, time.Minute, func() time.Time { return now })

	assert.True(t, guard.RecordOutcome(true, 0.1), "trust below floor trips even on nominal success")
}

func TestAutoFreezeGuard_SuccessResetsFailureCount(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	guard := NewAutoFreezeGuard("agent-1", 3, 0.5, time.Minute, func() time.Time { return now })

	assert.False(t, guard.RecordOutcome(false, 0.9))
	assert.False(t, guard.RecordOutcome(true, 0.9))
	assert.False(t, guard.RecordOutcome(false, 0.9))
	assert.False(t, guard.RecordOutcome(false, 0.9), "count restarted after the reset, still below threshold")
}
