package negotiation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aesp-labs/aesp-core/pkg/aespcrypto"
	"github.com/aesp-labs/aesp-core/pkg/storage"
)

func newTestManager(now time.Time) *Manager {
	facade := aespcrypto.NewReferenceFacade()
	return New(storage.NewMemoryStore(), nil, nil, func() time.Time { return now }, facade.NewUUID)
}

func TestFSM_FullHappyPathToCommitted(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	mgr := newTestManager(now)

	session, err := mgr.CreateSession(ctx, "agent-a", "agent-b", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, StateInitial, session.State)
	assert.Equal(t, DefaultMaxRounds, session.MaxRounds)

	session, err = mgr.Transition(ctx, session.SessionID, "agent-a", MessageOffer, map[string]interface{}{"price": 100})
	require.NoError(t, err)
	assert.Equal(t, StateOfferSent, session.State)

	session, err = mgr.Transition(ctx, session.SessionID, "agent-b", MessageAccept, nil)
	require.NoError(t, err)
	assert.Equal(t, StateAccepted, session.State)

	session, err = mgr.Transition(ctx, session.SessionID, "agent-a", MessageCommit, nil)
	require.NoError(t, err)
	assert.Equal(t, StateCommitted, session.State)

	// committed is terminal
	_, err = mgr.Transition(ctx, session.SessionID, "agent-a", MessageCommit, nil)
	require.Error(t, err)
}

func TestFSM_OfferFromCounterpartyGoesToOfferReceived(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	mgr := newTestManager(now)

	session, err := mgr.CreateSession(ctx, "agent-a", "agent-b", 0, 0)
	require.NoError(t, err)

	session, err = mgr.Transition(ctx, session.SessionID, "agent-b", MessageOffer, nil)
	require.NoError(t, err)
	assert.Equal(t, StateOfferReceived, session.State)
}

func TestFSM_RejectsUnauthorizedSender(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	mgr := newTestManager(now)

	session, err := mgr.CreateSession(ctx, "agent-a", "agent-b", 0, 0)
	require.NoError(t, err)

	_, err = mgr.Transition(ctx, session.SessionID, "agent-mallory", MessageOffer, nil)
	require.Error(t, err)
}

func TestFSM_RejectsInvalidTransition(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	mgr := newTestManager(now)

	session, err := mgr.CreateSession(ctx, "agent-a", "agent-b", 0, 0)
	require.NoError(t, err)

	// commit is only legal from accepted, not initial
	_, err = mgr.Transition(ctx, session.SessionID, "agent-a", MessageCommit, nil)
	require.Error(t, err)
}

func TestFSM_MaxRoundsEnforced(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	mgr := newTestManager(now)

	session, err := mgr.CreateSession(ctx, "agent-a", "agent-b", 2, 0)
	require.NoError(t, err)

	session, err = mgr.Transition(ctx, session.SessionID, "agent-a", MessageOffer, nil)
	require.NoError(t, err)
	session, err = mgr.Transition(ctx, session.SessionID, "agent-b", MessageCounter, nil)
	require.NoError(t, err)

	_, err = mgr.Transition(ctx, session.SessionID, "agent-a", MessageCounter, nil)
	require.Error(t, err)
}

func TestFSM_ExpiredSessionRejectsTransition(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	mgr := newTestManager(now)

	session, err := mgr.CreateSession(ctx, "agent-a", "agent-b", 0, time.Minute)
	require.NoError(t, err)

	mgr.clock = func() time.Time { return now.Add(2 * time.Minute) }
	_, err = mgr.Transition(ctx, session.SessionID, "agent-a", MessageOffer, nil)
	require.Error(t, err)
}

func TestBuildAcceptanceMessage_HashesLastRoundPayload(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	mgr := newTestManager(now)
	facade := aespcrypto.NewReferenceFacade()

	session, err := mgr.CreateSession(ctx, "agent-a", "agent-b", 0, 0)
	require.NoError(t, err)
	session, err = mgr.Transition(ctx, session.SessionID, "agent-a", MessageOffer, map[string]interface{}{"price": 100})
	require.NoError(t, err)
	session, err = mgr.Transition(ctx, session.SessionID, "agent-b", MessageAccept, map[string]interface{}{"price": 100})
	require.NoError(t, err)

	msg, err := BuildAcceptanceMessage(facade, session, 100, "net-30")
	require.NoError(t, err)
	assert.Len(t, msg.AgreementHash, 64) // hex-encoded SHA-256
}
