package review

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/aesp-labs/aesp-core/pkg/aesperrors"
	"github.com/aesp-labs/aesp-core/pkg/eventbus"
	"github.com/aesp-labs/aesp-core/pkg/storage"
)

// Manager owns the review queue and per-agent freeze state. Deadline
// expiry is driven by go-cache: every pending request is mirrored into
// a TTL cache keyed by requestId, and its OnEvicted callback rejects
// the request's waiter with REVIEW_EXPIRED exactly once the deadline
// passes, without a dedicated timer goroutine per request.
type Manager struct {
	mu       sync.Mutex
	queue    map[string]*QueueItem
	freezes  map[string]*FreezeStatus
	waiters  map[string]chan Outcome
	guards   map[string]*AutoFreezeGuard

	deadlines *gocache.Cache
	store     storage.Store
	bus       *eventbus.Bus
	log       *zap.Logger
	clock     func() time.Time
	disposed  bool
}

// New constructs a Manager.
func New(store storage.Store, bus *eventbus.Bus, log *zap.Logger, clock func() time.Time) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	if clock == nil {
		clock = time.Now
	}
	m := &Manager{
		queue:     make(map[string]*QueueItem),
		freezes:   make(map[string]*FreezeStatus),
		waiters:   make(map[string]chan Outcome),
		guards:    make(map[string]*AutoFreezeGuard),
		deadlines: gocache.New(gocache.NoExpiration, time.Minute),
		store:     store,
		bus:       bus,
		log:       log,
		clock:     clock,
	}
	m.deadlines.OnEvicted(func(requestID string, _ interface{}) {
		m.expire(requestID)
	})
	return m
}

// Load restores the queue and freeze map from storage. Per spec.md
// §4.6's persistence caveat, this does NOT recreate waiter channels for
// requests that were pending at save time — callers must re-surface
// those to the UI rather than expect CreateReviewRequest's original
// blocking call to still be in flight.
func (m *Manager) Load(ctx context.Context) error {
	var queue map[string]*QueueItem
	found, err := m.store.Get(ctx, storage.KeyReviewQueue, &queue)
	if err != nil {
		return aesperrors.Wrap(aesperrors.CryptoError, "load review queue", err)
	}
	var freezes map[string]*FreezeStatus
	if _, err := m.store.Get(ctx, storage.KeyFreezeStatus, &freezes); err != nil {
		return aesperrors.Wrap(aesperrors.CryptoError, "load freeze status", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if found {
		m.queue = queue
	}
	if freezes != nil {
		m.freezes = freezes
	}
	now := m.clock()
	for id, item := range m.queue {
		if item.Status == StatusPending {
			m.scheduleDeadline(id, item.Request.Deadline.Sub(now))
		}
	}
	return nil
}

func (m *Manager) scheduleDeadline(requestID string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = time.Nanosecond
	}
	m.deadlines.Set(requestID, struct{}{}, ttl)
}

func (m *Manager) flushQueue(ctx context.Context) error {
	snapshot := make(map[string]*QueueItem, len(m.queue))
	for k, v := range m.queue {
		snapshot[k] = v
	}
	return m.store.Set(ctx, storage.KeyReviewQueue, snapshot)
}

func (m *Manager) flushFreezes(ctx context.Context) error {
	snapshot := make(map[string]*FreezeStatus, len(m.freezes))
	for k, v := range m.freezes {
		snapshot[k] = v
	}
	return m.store.Set(ctx, storage.KeyFreezeStatus, snapshot)
}

// CreateReviewRequestAsync enqueues req and returns immediately.
func (m *Manager) CreateReviewRequestAsync(ctx context.Context, req Request) (*QueueItem, error) {
	return m.enqueue(ctx, req)
}

// CreateReviewRequest enqueues req and blocks until a response is
// submitted, the deadline passes, or the agent is frozen. ctx
// cancellation also unblocks the caller.
func (m *Manager) CreateReviewRequest(ctx context.Context, req Request) (*Response, error) {
	item, err := m.enqueue(ctx, req)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	ch := make(chan Outcome, 1)
	m.waiters[item.Request.RequestID] = ch
	m.mu.Unlock()

	select {
	case outcome := <-ch:
		return outcome.Response, outcome.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) enqueue(ctx context.Context, req Request) (*QueueItem, error) {
	m.mu.Lock()
	if m.freezes[req.AgentID] != nil && m.freezes[req.AgentID].Frozen {
		m.mu.Unlock()
		return nil, aesperrors.New(aesperrors.AgentFrozen, "agent is frozen")
	}

	if req.Deadline.IsZero() {
		req.Deadline = m.clock().Add(DefaultDeadline)
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = m.clock()
	}
	item := &QueueItem{Request: req, Status: StatusPending, QueuedAt: m.clock()}
	m.queue[req.RequestID] = item
	m.scheduleDeadline(req.RequestID, req.Deadline.Sub(m.clock()))
	m.mu.Unlock()

	if err := m.flushQueue(ctx); err != nil {
		return nil, aesperrors.Wrap(aesperrors.CryptoError, "persist review queue", err)
	}
	return item, nil
}

// SubmitResponse resolves a pending request.
func (m *Manager) SubmitResponse(ctx context.Context, resp Response) error {
	m.mu.Lock()
	item, ok := m.queue[resp.RequestID]
	if !ok {
		m.mu.Unlock()
		return aesperrors.New(aesperrors.ReviewNotFound, "review request not found")
	}
	if item.Status != StatusPending {
		m.mu.Unlock()
		return aesperrors.New(aesperrors.ReviewAlreadyResolved, "review request already resolved")
	}
	if resp.RespondedAt.IsZero() {
		resp.RespondedAt = m.clock()
	}
	item.Response = &resp
	item.Status = StatusResponded
	waiter := m.waiters[resp.RequestID]
	delete(m.waiters, resp.RequestID)
	m.mu.Unlock()

	m.deadlines.Delete(resp.RequestID)
	if err := m.flushQueue(ctx); err != nil {
		return aesperrors.Wrap(aesperrors.CryptoError, "persist review queue", err)
	}
	if waiter != nil {
		waiter <- Outcome{Response: &resp}
	}
	if m.bus != nil {
		m.bus.Publish(eventbus.Event{Topic: "review:responded", Payload: item})
	}
	return nil
}

// expire is the go-cache eviction callback: it marks a still-pending
// request expired and rejects its waiter.
func (m *Manager) expire(requestID string) {
	m.mu.Lock()
	item, ok := m.queue[requestID]
	if !ok || item.Status != StatusPending {
		m.mu.Unlock()
		return
	}
	item.Status = StatusExpired
	waiter := m.waiters[requestID]
	delete(m.waiters, requestID)
	m.mu.Unlock()

	if waiter != nil {
		waiter <- Outcome{Err: aesperrors.New(aesperrors.ReviewExpired, "review request deadline passed")}
	}
	if m.bus != nil {
		m.bus.Publish(eventbus.Event{Topic: "review.expired", Payload: item})
	}
	_ = m.flushQueue(context.Background())
}

// AttachAutoFreezeGuard registers guard to watch its agent's execution
// outcomes. A trip recorded through RecordPolicyOutcome resolves to a
// FreezeAgent call here — the guard itself never freezes directly,
// keeping "Freeze: an operator action" true even for this automated
// trigger.
func (m *Manager) AttachAutoFreezeGuard(g *AutoFreezeGuard) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.guards[g.AgentID()] = g
}

// RecordPolicyOutcome feeds one policy execution outcome into agentID's
// attached AutoFreezeGuard, if any, and freezes the agent when the
// guard trips. A no-op when no guard is attached for agentID.
func (m *Manager) RecordPolicyOutcome(ctx context.Context, agentID string, success bool, trustScore float64) error {
	m.mu.Lock()
	guard, ok := m.guards[agentID]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	if !guard.RecordOutcome(success, trustScore) {
		return nil
	}
	return m.FreezeAgent(ctx, FreezeRequest{AgentID: agentID, Reason: "auto-freeze guard tripped", By: "autofreeze-guard"})
}

// FreezeAgent sets the freeze flag and cascades expiry over every
// pending request belonging to that agent.
func (m *Manager) FreezeAgent(ctx context.Context, req FreezeRequest) error {
	m.mu.Lock()
	m.freezes[req.AgentID] = &FreezeStatus{Frozen: true, Reason: req.Reason, FrozenAt: m.clock(), FrozenBy: req.By}

	var toReject []string
	for id, item := range m.queue {
		if item.Request.AgentID == req.AgentID && item.Status == StatusPending {
			item.Status = StatusExpired
			toReject = append(toReject, id)
		}
	}
	waiters := make(map[string]chan Outcome, len(toReject))
	for _, id := range toReject {
		if ch, ok := m.waiters[id]; ok {
			waiters[id] = ch
			delete(m.waiters, id)
		}
	}
	m.mu.Unlock()

	for id, ch := range waiters {
		m.deadlines.Delete(id)
		ch <- Outcome{Err: aesperrors.New(aesperrors.AgentFrozen, "agent frozen")}
	}

	if err := m.flushFreezes(ctx); err != nil {
		return aesperrors.Wrap(aesperrors.CryptoError, "persist freeze status", err)
	}
	if err := m.flushQueue(ctx); err != nil {
		return aesperrors.Wrap(aesperrors.CryptoError, "persist review queue", err)
	}
	if m.bus != nil {
		m.bus.Publish(eventbus.Event{Topic: "freeze:activated", Payload: req.AgentID})
	}
	return nil
}

// UnfreezeAgent clears the freeze flag for agentID.
func (m *Manager) UnfreezeAgent(ctx context.Context, agentID string) error {
	m.mu.Lock()
	m.freezes[agentID] = &FreezeStatus{Frozen: false}
	m.mu.Unlock()
	if err := m.flushFreezes(ctx); err != nil {
		return aesperrors.Wrap(aesperrors.CryptoError, "persist freeze status", err)
	}
	if m.bus != nil {
		m.bus.Publish(eventbus.Event{Topic: "freeze.cleared", Payload: agentID})
	}
	return nil
}

// IsFrozen reports agentID's current freeze state.
func (m *Manager) IsFrozen(agentID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	fs, ok := m.freezes[agentID]
	return ok && fs.Frozen
}

// Get returns the queue item for requestID, if present.
func (m *Manager) Get(requestID string) (*QueueItem, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.queue[requestID]
	return item, ok
}

// Dispose cancels every deadline timer and rejects every outstanding
// waiter with Disposed.
func (m *Manager) Dispose() {
	m.mu.Lock()
	m.disposed = true
	waiters := m.waiters
	m.waiters = make(map[string]chan Outcome)
	m.mu.Unlock()

	m.deadlines.Flush()
	for _, ch := range waiters {
		ch <- Outcome{Err: aesperrors.New(aesperrors.Disposed, "review manager disposed")}
	}
}
