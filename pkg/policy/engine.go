package policy

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aesp-labs/aesp-core/pkg/aesperrors"
	"github.com/aesp-labs/aesp-core/pkg/budget"
	"github.com/aesp-labs/aesp-core/pkg/hierarchy"
	"github.com/aesp-labs/aesp-core/pkg/storage"
	"go.uber.org/zap"
)

// DefaultReplayWindow bounds how stale an ExecutionRequest's timestamp
// may be before ScreenRequest flags it as a possible replay.
const DefaultReplayWindow = 5 * time.Minute

// FreezeEscalator is the narrow review.Manager surface Engine drives an
// attached review.AutoFreezeGuard through: RecordExecution feeds every
// outcome to it, and a tripped guard resolves to FreezeAgent on the
// other side without Engine needing to import package review.
type FreezeEscalator interface {
	RecordPolicyOutcome(ctx context.Context, agentID string, success bool, trustScore float64) error
}

// ProviderRefresher fetches remotely-sourced policies (e.g. a vendor's
// published terms) on demand. Engine calls it, if set, at the start of
// every checkAutoApprove, mirroring spec.md §4.3's "refreshes any
// provider-sourced policies" step. A nil Refresher means the engine only
// ever evaluates locally-registered policies.
type ProviderRefresher func(ctx context.Context) ([]*Policy, error)

// Engine evaluates ExecutionRequests against registered Policies,
// maintains the append-only audit log, and drives the Budget Tracker.
type Engine struct {
	mu       sync.Mutex
	policies map[string]*Policy // storage key ("vendorId:id" or "id") -> Policy
	order    []string           // insertion order, for "first candidate wins"
	audit    []AuditEntry

	store   storage.Store
	budget  *budget.Tracker
	refresh ProviderRefresher
	clock   func() time.Time
	log     *zap.Logger

	replayWindow time.Duration
	escalator    FreezeEscalator
	tree         *hierarchy.Tree
	trustSource  func(agentID string) float64
}

// New constructs an Engine. clock defaults to time.Now.
func New(store storage.Store, tracker *budget.Tracker, refresh ProviderRefresher, clock func() time.Time, log *zap.Logger) *Engine {
	if clock == nil {
		clock = time.Now
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		policies:     make(map[string]*Policy),
		store:        store,
		budget:       tracker,
		refresh:      refresh,
		clock:        clock,
		log:          log,
		replayWindow: DefaultReplayWindow,
	}
}

// AttachFreezeEscalator wires a review.Manager (or anything matching
// FreezeEscalator) so RecordExecution's outcomes feed an attached
// AutoFreezeGuard on the other side.
func (e *Engine) AttachFreezeEscalator(esc FreezeEscalator) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.escalator = esc
}

// AttachHierarchy wires a hierarchy.Tree so CheckAutoApprove can resolve an ask_parent_agent escalation to a concrete target agent
// via RankEscalationCandidates.
func (e *Engine) AttachHierarchy(tree *hierarchy.Tree) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tree = tree
}

// SetTrustSource overrides how resolveEscalationTarget scores candidate
// agents; unset, every candidate is treated as equally trusted and
// ranking falls back to hierarchy proximity alone.
func (e *Engine) SetTrustSource(f func(agentID string) float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.trustSource = f
}

func storageKey(p *Policy) string {
	if p.VendorID != "" {
		return p.VendorID + ":" + p.ID
	}
	return p.ID
}

// Load restores policies and the audit log from storage.
func (e *Engine) Load(ctx context.Context) error {
	var policies map[string]*Policy
	found, err := e.store.Get(ctx, storage.KeyPolicies, &policies)
	if err != nil {
		return aesperrors.Wrap(aesperrors.CryptoError, "load policies", err)
	}
	var audit []AuditEntry
	if _, err := e.store.Get(ctx, storage.KeyAudit, &audit); err != nil {
		return aesperrors.Wrap(aesperrors.CryptoError, "load audit log", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if found {
		e.policies = policies
		order := make([]string, 0, len(policies))
		for k := range policies {
			order = append(order, k)
		}
		e.order = order
	}
	e.audit = audit
	return nil
}

// RegisterPolicy adds or replaces a policy, appending it to insertion
// order if new.
func (e *Engine) RegisterPolicy(ctx context.Context, p *Policy) error {
	e.mu.Lock()
	key := storageKey(p)
	if _, exists := e.policies[key]; !exists {
		e.order = append(e.order, key)
	}
	e.policies[key] = p
	snapshot := make(map[string]*Policy, len(e.policies))
	for k, v := range e.policies {
		snapshot[k] = v
	}
	e.mu.Unlock()
	if err := e.store.Set(ctx, storage.KeyPolicies, snapshot); err != nil {
		return aesperrors.Wrap(aesperrors.CryptoError, "persist policies", err)
	}
	return nil
}

// CheckAutoApprove runs spec.md §4.3's nine ordered gates against every
// candidate policy matching req, in insertion order, and returns the
// first fully-passing policy's id — or an unallowed Decision naming the
// first violated gate across all candidates considered.
func (e *Engine) CheckAutoApprove(ctx context.Context, req ExecutionRequest) (Decision, error) {
	if e.refresh != nil {
		refreshed, err := e.refresh(ctx)
		if err != nil {
			return Decision{}, aesperrors.Wrap(aesperrors.InvalidPolicySignature, "refresh provider policies", err)
		}
		for _, p := range refreshed {
			if err := e.RegisterPolicy(ctx, p); err != nil {
				return Decision{}, err
			}
		}
	}

	now := e.clock()
	candidates := e.matchingPolicies(req, now)

	var lastRejection Decision
	haveRejection := false
	for _, p := range candidates {
		decision := e.evaluate(p, req, now)
		if decision.Allowed {
			return decision, nil
		}
		if !haveRejection {
			decision.Escalation = p.Escalation
			if p.Escalation == EscalationAskParentAgent {
				decision.EscalationTarget = e.resolveEscalationTarget(req.AgentID)
			}
			lastRejection = decision
			haveRejection = true
		}
	}
	if haveRejection {
		return lastRejection, nil
	}
	return Decision{Allowed: false, ViolatedRule: "no_matching_policy"}, nil
}

// resolveEscalationTarget picks the best candidate to route an
// ask_parent_agent escalation to: every ancestor of agentID in the
// attached hierarchy, ranked by RankEscalationCandidates. Returns "" if
// no hierarchy is attached. Every escalation chain ends at the synthetic
// hierarchy.HumanNodeID, so an agent with no real ancestor (a root, or
// an agent not in the tree) resolves to that node.
func (e *Engine) resolveEscalationTarget(agentID string) string {
	e.mu.Lock()
	tree := e.tree
	trustSource := e.trustSource
	e.mu.Unlock()
	if tree == nil {
		return ""
	}

	chain := tree.EscalationChain(agentID)
	candidates := chain
	if len(candidates) > 0 && candidates[0] == agentID {
		candidates = candidates[1:]
	}
	if len(candidates) == 0 {
		return ""
	}
	if trustSource == nil {
		trustSource = func(string) float64 { return 1.0 }
	}
	trust := make(map[string]float64, len(candidates))
	for _, c := range candidates {
		trust[c] = trustSource(c)
	}
	ranked := tree.RankEscalationCandidates(agentID, candidates, trust)
	if len(ranked) == 0 {
		return ""
	}
	return ranked[0].AgentID
}

// matchingPolicies filters to policies matching req by vendor/policyId/
// expiry/scope, preserving insertion order.
func (e *Engine) matchingPolicies(req ExecutionRequest, now time.Time) []*Policy {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []*Policy
	for _, key := range e.order {
		p, ok := e.policies[key]
		if !ok {
			continue
		}
		if !vendorMatches(p, req) {
			continue
		}
		if req.PolicyID != "" && p.ID != req.PolicyID {
			continue
		}
		if p.ExpiresAt != nil && now.After(*p.ExpiresAt) {
			continue
		}
		if !scopeMatchesAction(p.Scope, req.Action) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func vendorMatches(p *Policy, req ExecutionRequest) bool {
	if p.VendorID != "" {
		return p.VendorID == req.VendorID
	}
	return p.AgentID == req.VendorID
}

// evaluate runs the nine ordered gates against one candidate policy.
func (e *Engine) evaluate(p *Policy, req ExecutionRequest, now time.Time) Decision {
	reject := func(rule, actual, limit string) Decision {
		return Decision{Allowed: false, PolicyID: p.ID, ViolatedRule: rule, ViolatedActual: actual, ViolatedLimit: limit}
	}

	// 1. Transfer-like actions with non-positive amount fail.
	if transferLikeActions[req.Action] && req.Amount <= 0 {
		return reject("non_positive_amount", strconv.FormatInt(req.Amount, 10), "> 0")
	}

	// 2. Amount exceeding maxAmountPerTx fails.
	if p.Conditions.MaxAmountPerTx > 0 && uint64(req.Amount) > p.Conditions.MaxAmountPerTx {
		return reject("max_amount_per_tx", strconv.FormatInt(req.Amount, 10), strconv.FormatUint(p.Conditions.MaxAmountPerTx, 10))
	}

	// 3. Outside timeWindow fails.
	if p.Conditions.TimeWindow != nil {
		if ok, err := withinTimeWindow(*p.Conditions.TimeWindow, now); err != nil || !ok {
			return reject("time_window", now.Format("15:04"), fmt.Sprintf("%s-%s", p.Conditions.TimeWindow.Start, p.Conditions.TimeWindow.End))
		}
	}

	// 4. toAddress not in non-empty allowListAddresses fails.
	if len(p.Conditions.AllowListAddresses) > 0 && !containsString(p.Conditions.AllowListAddresses, req.ToAddress) {
		return reject("allow_list_addresses", req.ToAddress, strings.Join(p.Conditions.AllowListAddresses, ","))
	}

	// 5. chain not in non-empty allowListChains fails.
	if len(p.Conditions.AllowListChains) > 0 && !containsString(p.Conditions.AllowListChains, req.Chain) {
		return reject("allow_list_chains", req.Chain, strings.Join(p.Conditions.AllowListChains, ","))
	}

	// 6. method not in non-empty allowListMethods fails.
	if len(p.Conditions.AllowListMethods) > 0 && !containsString(p.Conditions.AllowListMethods, req.Method) {
		return reject("allow_list_methods", req.Method, strings.Join(p.Conditions.AllowListMethods, ","))
	}

	// 7. requireReviewBeforeFirstPay with no prior successful transfer.
	if p.Conditions.RequireReviewBeforeFirstPay && transferLikeActions[req.Action] && !e.hasPriorSuccessfulTransfer(p.ID) {
		return reject("require_review_before_first_pay", "none", "1")
	}

	// 8. post-spend projection below minBalanceAfter.
	if p.Conditions.MinBalanceAfter > 0 && req.BalanceAfter != nil && *req.BalanceAfter < p.Conditions.MinBalanceAfter {
		return reject("min_balance_after", strconv.FormatUint(*req.BalanceAfter, 10), strconv.FormatUint(p.Conditions.MinBalanceAfter, 10))
	}

	// 9. Budget check: projected sums must not exceed respective limits.
	if e.budget != nil && transferLikeActions[req.Action] {
		daily, weekly, monthly := e.budget.Projected(req.AgentID, uint64(req.Amount))
		if p.Conditions.MaxAmountPerDay > 0 && daily > p.Conditions.MaxAmountPerDay {
			return reject("max_amount_per_day", strconv.FormatUint(daily, 10), strconv.FormatUint(p.Conditions.MaxAmountPerDay, 10))
		}
		if p.Conditions.MaxAmountPerWeek > 0 && weekly > p.Conditions.MaxAmountPerWeek {
			return reject("max_amount_per_week", strconv.FormatUint(weekly, 10), strconv.FormatUint(p.Conditions.MaxAmountPerWeek, 10))
		}
		if p.Conditions.MaxAmountPerMonth > 0 && monthly > p.Conditions.MaxAmountPerMonth {
			return reject("max_amount_per_month", strconv.FormatUint(monthly, 10), strconv.FormatUint(p.Conditions.MaxAmountPerMonth, 10))
		}
	}

	return Decision{Allowed: true, PolicyID: p.ID}
}

func (e *Engine) hasPriorSuccessfulTransfer(policyID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, entry := range e.audit {
		if entry.PolicyID == policyID && entry.Result == "success" &&
			(entry.Action == ActionTransfer || entry.Action == ActionSendTransaction) {
			return true
		}
	}
	return false
}

func containsString(list []string, target string) bool {
	for _, v := range list {
		if v == target {
			return true
		}
	}
	return false
}

// withinTimeWindow parses HH:MM strictly and checks now's local time
// falls within [start, end], wrapping at midnight when start > end
// (spec.md §4.3 gate 3).
func withinTimeWindow(w TimeWindow, now time.Time) (bool, error) {
	start, err := parseHHMM(w.Start)
	if err != nil {
		return false, err
	}
	end, err := parseHHMM(w.End)
	if err != nil {
		return false, err
	}
	cur := now.Hour()*60 + now.Minute()
	if start <= end {
		return cur >= start && cur <= end, nil
	}
	return cur >= start || cur <= end, nil
}

func parseHHMM(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("policy: malformed HH:MM %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("policy: invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("policy: invalid minute in %q", s)
	}
	return h*60 + m, nil
}

// RecordExecution appends an audit entry and, on a successful transfer,
// records the spend in the Budget Tracker. amountOverride, if non-nil,
// takes precedence over resultAmount (spec.md §4.3: "amount comes from
// the request when present; otherwise from the result").
func (e *Engine) RecordExecution(ctx context.Context, requestID, policyID, vendorID string, action ExecutionAction, result string, amountOverride *int64, resultAmount int64, agentID string) error {
	amount := resultAmount
	if amountOverride != nil {
		amount = *amountOverride
	}

	entry := AuditEntry{
		RequestID: requestID,
		PolicyID:  policyID,
		VendorID:  vendorID,
		Action:    action,
		Result:    result,
		Timestamp: e.clock(),
		Amount:    &amount,
	}

	e.mu.Lock()
	e.audit = append(e.audit, entry)
	if len(e.audit) > MaxAuditEntries {
		e.audit = e.audit[len(e.audit)-MaxAuditEntries:]
	}
	snapshot := append([]AuditEntry(nil), e.audit...)
	e.mu.Unlock()

	if err := e.store.Set(ctx, storage.KeyAudit, snapshot); err != nil {
		return aesperrors.Wrap(aesperrors.CryptoError, "persist audit log", err)
	}

	if result == "success" && transferLikeActions[action] && e.budget != nil && amount > 0 {
		if err := e.budget.Record(ctx, agentID, requestID, uint64(amount)); err != nil {
			return err
		}
	}

	e.mu.Lock()
	escalator := e.escalator
	e.mu.Unlock()
	if escalator != nil && agentID != "" {
		success := result == "success"
		trustScore := 1.0
		if !success {
			trustScore = 0.0
		}
		if err := escalator.RecordPolicyOutcome(ctx, agentID, success, trustScore); err != nil {
			e.log.Warn("policy: freeze escalation failed", zap.Error(err))
		}
	}
	return nil
}

// AuditLog returns a copy of the current audit log.
func (e *Engine) AuditLog() []AuditEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]AuditEntry(nil), e.audit...)
}
