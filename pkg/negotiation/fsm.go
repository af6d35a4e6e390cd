package negotiation

import (
	"context"
	"sync"
	"time"

	"github.com/aesp-labs/aesp-core/pkg/aesperrors"
	"github.com/aesp-labs/aesp-core/pkg/eventbus"
	"github.com/aesp-labs/aesp-core/pkg/storage"
	"go.uber.org/zap"
)

// DebounceWindow is the coalescing window persistence writes wait
// before flushing (spec.md §4.4: "≈80 ms").
const DebounceWindow = 80 * time.Millisecond

// Manager owns every active Session, keyed by sessionId, and debounces
// their persistence to Storage.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	store    storage.Store
	bus      *eventbus.Bus
	log      *zap.Logger
	clock    func() time.Time
	newUUID  func() string

	debounceMu sync.Mutex
	timer      *time.Timer
	disposed   bool
}

// New constructs a Manager. newUUID supplies session ids — typically
// facade.NewUUID.
func New(store storage.Store, bus *eventbus.Bus, log *zap.Logger, clock func() time.Time, newUUID func() string) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	if clock == nil {
		clock = time.Now
	}
	return &Manager{sessions: make(map[string]*Session), store: store, bus: bus, log: log, clock: clock, newUUID: newUUID}
}

// Load restores every persisted session.
func (m *Manager) Load(ctx context.Context) error {
	var sessions map[string]*Session
	found, err := m.store.Get(ctx, storage.KeyNegotiationSessions, &sessions)
	if err != nil {
		return aesperrors.Wrap(aesperrors.CryptoError, "load negotiation sessions", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if found {
		m.sessions = sessions
	}
	return nil
}

// scheduleFlush debounces a persistence write DebounceWindow after the
// most recent mutation, coalescing bursts of transitions.
func (m *Manager) scheduleFlush(ctx context.Context) {
	m.debounceMu.Lock()
	defer m.debounceMu.Unlock()
	if m.disposed {
		return
	}
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(DebounceWindow, func() {
		if err := m.Flush(ctx); err != nil {
			m.log.Warn("negotiation: debounced flush failed", zap.Error(err))
		}
	})
}

// Flush writes every session to Storage immediately, bypassing the
// debounce window.
func (m *Manager) Flush(ctx context.Context) error {
	m.mu.Lock()
	snapshot := make(map[string]*Session, len(m.sessions))
	for k, v := range m.sessions {
		snapshot[k] = v
	}
	m.mu.Unlock()
	if err := m.store.Set(ctx, storage.KeyNegotiationSessions, snapshot); err != nil {
		return aesperrors.Wrap(aesperrors.CryptoError, "persist negotiation sessions", err)
	}
	return nil
}

// Dispose cancels any pending debounced flush. It does not itself flush
// — callers that want a final durable write should call Flush first.
func (m *Manager) Dispose() {
	m.debounceMu.Lock()
	defer m.debounceMu.Unlock()
	m.disposed = true
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// CreateSession starts a new session in StateInitial between myAgentID
// and counterpartyAgentID.
func (m *Manager) CreateSession(ctx context.Context, myAgentID, counterpartyAgentID string, maxRounds int, expiry time.Duration) (*Session, error) {
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	now := m.clock()
	session := &Session{
		SessionID:           m.newUUID(),
		MyAgentID:           myAgentID,
		CounterpartyAgentID: counterpartyAgentID,
		State:                StateInitial,
		MaxRounds:            maxRounds,
		CreatedAt:            now,
		UpdatedAt:            now,
		ExpiresAt:            now.Add(expiry),
	}

	m.mu.Lock()
	m.sessions[session.SessionID] = session
	m.mu.Unlock()
	m.scheduleFlush(ctx)
	return session, nil
}

// Get returns the session for sessionID, if present.
func (m *Manager) Get(sessionID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	return s, ok
}

// Transition advances sessionID's FSM on an inbound or outbound message
// from sender, appending a Round and persisting (debounced).
func (m *Manager) Transition(ctx context.Context, sessionID, sender string, msgType MessageType, payload interface{}) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[sessionID]
	if !ok {
		return nil, aesperrors.New(aesperrors.NegotiationError, "session not found")
	}

	now := m.clock()
	if now.After(session.ExpiresAt) {
		return nil, aesperrors.New(aesperrors.NegotiationError, "session expired")
	}
	if session.terminal() {
		return nil, aesperrors.New(aesperrors.NegotiationError, "session already in a terminal state")
	}
	if len(session.Rounds) >= session.MaxRounds {
		return nil, aesperrors.New(aesperrors.NegotiationError, "max rounds exceeded")
	}
	if sender != session.MyAgentID && sender != session.CounterpartyAgentID {
		return nil, aesperrors.New(aesperrors.NegotiationError, "sender is not a session participant")
	}

	next, err := nextState(session.State, msgType, sender, session.MyAgentID)
	if err != nil {
		return nil, err
	}

	session.Rounds = append(session.Rounds, Round{
		RoundNumber: len(session.Rounds) + 1,
		Sender:      sender,
		MessageType: msgType,
		Payload:     payload,
		Timestamp:   now,
	})
	session.State = next
	session.UpdatedAt = now

	m.scheduleFlush(ctx)
	if m.bus != nil {
		m.bus.Publish(eventbus.Event{Topic: "negotiation.transitioned", Payload: session})
	}
	return session, nil
}

// nextState resolves the FSM table, special-casing initial+offer's fork
// on sender identity (spec.md §4.4).
func nextState(state State, msg MessageType, sender, myAgentID string) (State, error) {
	if state == StateInitial && msg == MessageOffer {
		if sender == myAgentID {
			return StateOfferSent, nil
		}
		return StateOfferReceived, nil
	}
	next, ok := transitions[transitionKey{state, msg}]
	if !ok {
		return "", aesperrors.New(aesperrors.NegotiationError, "invalid transition for current state")
	}
	return next, nil
}
