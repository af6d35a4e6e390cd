package review

import (
	"sync"
	"time"
)

// guardState mirrors the teacher's CircuitBreaker states (security.go)
// but AutoFreezeGuard never acts on the agent directly: per spec.md,
// "Freeze: an operator action" — tripping only raises a signal a human
// or the Review Manager's caller must act on.
type guardState string

const (
	guardClosed   guardState = "closed"
	guardOpen     guardState = "open"
	guardHalfOpen guardState = "half_open"
)

// AutoFreezeGuard watches an agent's recent failure count and trust
// floor and, once tripped, recommends escalation rather than calling
// FreezeAgent itself — re-homing the teacher's CircuitBreaker
// (security.go) from "trip and block the agent" to "trip and tell the
// operator," since spec.md reserves the freeze action for an explicit
// human/operator decision.
type AutoFreezeGuard struct {
	mu sync.Mutex

	agentID          string
	failureCount     int
	failureThreshold int
	trustFloor       float64
	cooldown         time.Duration
	state            guardState
	lastTripped      time.Time
	clock            func() time.Time
}

// NewAutoFreezeGuard constructs a guard for agentID.
func NewAutoFreezeGuard(agentID string, failureThreshold int, trustFloor float64, cooldown time.Duration, clock func() time.Time) *AutoFreezeGuard {
	if clock == nil {
		clock = time.Now
	}
	return &AutoFreezeGuard{
		agentID:          agentID,
		failureThreshold: failureThreshold,
		trustFloor:       trustFloor,
		cooldown:         cooldown,
		state:            guardClosed,
		clock:            clock,
	}
}

// RecordOutcome feeds one execution outcome and current trust score
// into the guard. It returns true when the guard wants the caller to
// escalate (i.e. call Manager.FreezeAgent) as a result of this
// observation.
func (g *AutoFreezeGuard) RecordOutcome(success bool, trustScore float64) (shouldEscalate bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock()
	if g.state == guardOpen && now.Sub(g.lastTripped) >= g.cooldown {
		g.state = guardHalfOpen
	}

	if success && trustScore >= g.trustFloor {
		g.failureCount = 0
		if g.state == guardHalfOpen {
			g.state = guardClosed
		}
		return false
	}

	g.failureCount++
	if g.state == guardHalfOpen {
		// A failure during the trial window re-trips immediately.
		g.state = guardOpen
		g.lastTripped = now
		return true
	}
	if g.failureCount >= g.failureThreshold || trustScore < g.trustFloor {
		if g.state != guardOpen {
			g.state = guardOpen
			g.lastTripped = now
			return true
		}
	}
	return false
}

// AgentID returns the agent this guard watches.
func (g *AutoFreezeGuard) AgentID() string {
	return g.agentID
}

// Reset clears the guard back to its initial closed state.
func (g *AutoFreezeGuard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failureCount = 0
	g.state = guardClosed
}
