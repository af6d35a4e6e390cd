package review

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aesp-labs/aesp-core/pkg/aesperrors"
	"github.com/aesp-labs/aesp-core/pkg/storage"
)

func newTestManager(now time.Time) *Manager {
	return New(storage.NewMemoryStore(), nil, nil, func() time.Time { return now })
}

func TestCreateReviewRequestAsync_ThenSubmitResponse(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	mgr := newTestManager(now)

	item, err := mgr.CreateReviewRequestAsync(ctx, Request{RequestID: "r1", AgentID: "agent-1", Summary: "approve transfer"})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, item.Status)

	require.NoError(t, mgr.SubmitResponse(ctx, Response{RequestID: "r1", Approved: true}))

	stored, ok := mgr.Get("r1")
	require.True(t, ok)
	assert.Equal(t, StatusResponded, stored.Status)
	assert.True(t, stored.Response.Approved)
}

func TestSubmitResponse_DuplicateRejected(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	mgr := newTestManager(now)

	_, err := mgr.CreateReviewRequestAsync(ctx, Request{RequestID: "r1", AgentID: "agent-1"})
	require.NoError(t, err)
	require.NoError(t, mgr.SubmitResponse(ctx, Response{RequestID: "r1", Approved: true}))

	err = mgr.SubmitResponse(ctx, Response{RequestID: "r1", Approved: false})
	require.Error(t, err)
	assert.True(t, aesperrors.Is(err, aesperrors.ReviewAlreadyResolved))
}

func TestCreateReviewRequest_BlocksUntilResponse(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	mgr := newTestManager(now)

	done := make(chan *Response, 1)
	go func() {
		resp, err := mgr.CreateReviewRequest(ctx, Request{RequestID: "r1", AgentID: "agent-1"})
		require.NoError(t, err)
		done <- resp
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, mgr.SubmitResponse(ctx, Response{RequestID: "r1", Approved: true}))

	select {
	case resp := <-done:
		assert.True(t, resp.Approved)
	case <-time.After(time.Second):
		t.Fatal("blocking review request never resolved")
	}
}

func TestFreezeAgent_ExpiresPendingRequestsAndBlocksNew(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	mgr := newTestManager(now)

	done := make(chan error, 1)
	go func() {
		_, err := mgr.CreateReviewRequest(ctx, Request{RequestID: "r1", AgentID: "agent-1"})
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, mgr.FreezeAgent(ctx, FreezeRequest{AgentID: "agent-1", Reason: "suspicious activity"}))

	select {
	case err := <-done:
		require.Error(t, err)
		assert.True(t, aesperrors.Is(err, aesperrors.AgentFrozen))
	case <-time.After(time.Second):
		t.Fatal("freeze did not reject the pending waiter")
	}

	_, err := mgr.CreateReviewRequestAsync(ctx, Request{RequestID: "r2", AgentID: "agent-1"})
	require.Error(t, err)
	assert.True(t, aesperrors.Is(err, aesperrors.AgentFrozen))

	require.NoError(t, mgr.UnfreezeAgent(ctx, "agent-1"))
	_, err = mgr.CreateReviewRequestAsync(ctx, Request{RequestID: "r3", AgentID: "agent-1"})
	require.NoError(t, err)
}

func TestDispose_RejectsOutstandingWaiters(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	mgr := newTestManager(now)

	done := make(chan error, 1)
	go func() {
		_, err := mgr.CreateReviewRequest(ctx, Request{RequestID: "r1", AgentID: "agent-1"})
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	mgr.Dispose()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.True(t, aesperrors.Is(err, aesperrors.Disposed))
	case <-time.After(time.Second):
		t.Fatal("dispose did not reject the pending waiter")
	}
}
