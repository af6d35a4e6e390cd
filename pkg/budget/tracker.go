// Package budget implements the rolling daily/weekly/monthly spend
// tracker the Policy Engine consults before auto-approving a transfer
// (spec.md §4.3).
package budget

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/aesp-labs/aesp-core/pkg/aesperrors"
	"github.com/aesp-labs/aesp-core/pkg/storage"
)

// MaxTransactions is the ring-buffer cap on recorded transactions per
// agent; entries beyond this are dropped oldest-first.
const MaxTransactions = 1000

// Transaction is one recorded successful spend.
type Transaction struct {
	RequestID string    `json:"requestId"`
	Amount    uint64    `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot is the per-agent rolling spend state (spec.md §3
// BudgetSnapshot).
type Snapshot struct {
	AgentID          string        `json:"agentId"`
	DailySpent       uint64        `json:"dailySpent"`
	WeeklySpent      uint64        `json:"weeklySpent"`
	MonthlySpent     uint64        `json:"monthlySpent"`
	LastResetDaily   time.Time     `json:"lastResetDaily"`
	LastResetWeekly  time.Time     `json:"lastResetWeekly"`
	LastResetMonthly time.Time     `json:"lastResetMonthly"`
	Transactions     []Transaction `json:"transactions"`
}

// Tracker maintains one Snapshot per agent, persisted under a single
// storage key keyed by agentId.
type Tracker struct {
	mu        sync.Mutex
	snapshots map[string]*Snapshot
	store     storage.Store
	clock     func() time.Time
}

// New constructs a Tracker backed by store. clock defaults to
// time.Now; tests may override it to exercise rollover boundaries
// deterministically.
func New(store storage.Store, clock func() time.Time) *Tracker {
	if clock == nil {
		clock = time.Now
	}
	return &Tracker{snapshots: make(map[string]*Snapshot), store: store, clock: clock}
}

// Load restores every persisted snapshot.
func (t *Tracker) Load(ctx context.Context) error {
	var all map[string]*Snapshot
	found, err := t.store.Get(ctx, storage.KeyBudgets, &all)
	if err != nil {
		return aesperrors.Wrap(aesperrors.CryptoError, "load budgets", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if found {
		t.snapshots = all
	}
	return nil
}

func (t *Tracker) flush(ctx context.Context) error {
	if err := t.store.Set(ctx, storage.KeyBudgets, t.snapshots); err != nil {
		return aesperrors.Wrap(aesperrors.CryptoError, "persist budgets", err)
	}
	return nil
}

func (t *Tracker) snapshotFor(agentID string, now time.Time) *Snapshot {
	snap, ok := t.snapshots[agentID]
	if !ok {
		snap = &Snapshot{
			AgentID:          agentID,
			LastResetDaily:   now,
			LastResetWeekly:  now,
			LastResetMonthly: now,
		}
		t.snapshots[agentID] = snap
	}
	rollover(snap, now)
	return snap
}

// rollover lazily resets each period sum whose boundary has passed
// (spec.md §4.3): daily at local midnight, weekly after 7 days, monthly
// on a calendar-month boundary.
func rollover(snap *Snapshot, now time.Time) {
	if startOfDay(now).After(startOfDay(snap.LastResetDaily)) {
		snap.DailySpent = 0
		snap.LastResetDaily = now
	}
	if now.Sub(snap.LastResetWeekly) >= 7*24*time.Hour {
		snap.WeeklySpent = 0
		snap.LastResetWeekly = now
	}
	if now.Year() != snap.LastResetMonthly.Year() || now.Month() != snap.LastResetMonthly.Month() {
		snap.MonthlySpent = 0
		snap.LastResetMonthly = now
	}
}

func startOfDay(ts time.Time) time.Time {
	y, m, d := ts.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, ts.Location())
}

// Projected returns what daily/weekly/monthly sums would be if amount
// were spent now, without recording anything — the Policy Engine's gate
// 9 evaluates against this.
func (t *Tracker) Projected(agentID string, amount uint64) (daily, weekly, monthly uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap := t.snapshotFor(agentID, t.clock())
	return snap.DailySpent + amount, snap.WeeklySpent + amount, snap.MonthlySpent + amount
}

// Record accumulates amount against agentID's rolling sums and appends
// a ring-buffered transaction entry.
func (t *Tracker) Record(ctx context.Context, agentID, requestID string, amount uint64) error {
	t.mu.Lock()
	now := t.clock()
	snap := t.snapshotFor(agentID, now)
	snap.DailySpent += amount
	snap.WeeklySpent += amount
	snap.MonthlySpent += amount
	snap.Transactions = append(snap.Transactions, Transaction{RequestID: requestID, Amount: amount, Timestamp: now})
	if len(snap.Transactions) > MaxTransactions {
		snap.Transactions = snap.Transactions[len(snap.Transactions)-MaxTransactions:]
	}
	t.mu.Unlock()
	return t.flush(ctx)
}

// Snapshot returns a copy of agentID's current snapshot (after lazy
// rollover), for read-only inspection.
func (t *Tracker) Snapshot(agentID string) Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap := t.snapshotFor(agentID, t.clock())
	cp := *snap
	cp.Transactions = append([]Transaction(nil), snap.Transactions...)
	return cp
}

// Agents returns every agentId with a recorded snapshot, sorted.
func (t *Tracker) Agents() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.snapshots))
	for id := range t.snapshots {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
