// Package policy implements the rule-evaluation engine that decides
// whether an agent's execution request can be auto-approved, the
// rolling budget checks behind it, append-only audit logging, and
// policy-change risk classification (spec.md §4.3).
package policy

import "time"

// Scope names what kind of action a Policy authorizes.
type Scope string

const (
	ScopeAutoPayment          Scope = "auto_payment"
	ScopeNegotiation          Scope = "negotiation"
	ScopeCommitment           Scope = "commitment"
	ScopeDelegatedNegotiation Scope = "delegated_negotiation"
	ScopeFull                 Scope = "full"
)

// scopeRank orders scopes for classifyPolicyChange's scope_escalation
// check (spec.md §4.3).
var scopeRank = map[Scope]int{
	ScopeAutoPayment:          1,
	ScopeNegotiation:          2,
	ScopeCommitment:           3,
	ScopeDelegatedNegotiation: 3,
	ScopeFull:                 10,
}

// Escalation names where a blocked or review-bound request routes to.
type Escalation string

const (
	EscalationBlock          Escalation = "block"
	EscalationAskParentAgent Escalation = "ask_parent_agent"
	EscalationAskHuman       Escalation = "ask_human"
)

// TimeWindow bounds a policy to a daily HH:MM range. Start > End wraps
// across midnight.
type TimeWindow struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Conditions enumerates every guard a Policy may impose.
type Conditions struct {
	MaxAmountPerTx              uint64      `json:"maxAmountPerTx,omitempty"`
	MaxAmountPerDay             uint64      `json:"maxAmountPerDay,omitempty"`
	MaxAmountPerWeek            uint64      `json:"maxAmountPerWeek,omitempty"`
	MaxAmountPerMonth           uint64      `json:"maxAmountPerMonth,omitempty"`
	AllowListAddresses          []string    `json:"allowListAddresses,omitempty"`
	AllowListChains             []string    `json:"allowListChains,omitempty"`
	AllowListMethods            []string    `json:"allowListMethods,omitempty"`
	MinBalanceAfter             uint64      `json:"minBalanceAfter,omitempty"`
	RequireReviewBeforeFirstPay bool        `json:"requireReviewBeforeFirstPay,omitempty"`
	TimeWindow                  *TimeWindow `json:"timeWindow,omitempty"`
}

// Policy is a signed, storable rule bundle scoping what one agent may
// do unilaterally.
type Policy struct {
	ID             string     `json:"id"`
	AgentID        string     `json:"agentId"`
	AgentLabel     string     `json:"agentLabel"`
	Scope          Scope      `json:"scope"`
	Conditions     Conditions `json:"conditions"`
	Escalation     Escalation `json:"escalation"`
	VendorID       string     `json:"vendorId,omitempty"`
	ParentAgentID  string     `json:"parentAgentId,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	ExpiresAt      *time.Time `json:"expiresAt,omitempty"`
	Signature      []byte     `json:"signature"`
}

// ExecutionAction names the kind of action an ExecutionRequest performs.
type ExecutionAction string

const (
	ActionTransfer         ExecutionAction = "transfer"
	ActionSendTransaction  ExecutionAction = "send_transaction"
	ActionSignPersonal     ExecutionAction = "sign_personal"
	ActionSignTypedData    ExecutionAction = "sign_typed_data"
)

// transferLikeActions are the ExecutionActions that the positive-amount,
// first-payment-review and budget gates, and the auto_payment scope,
// treat as transfers.
var transferLikeActions = map[ExecutionAction]bool{
	ActionTransfer:        true,
	ActionSendTransaction: true,
}

// scopeMatchesAction implements spec.md §4.3's scope-to-action
// compatibility table.
func scopeMatchesAction(scope Scope, action ExecutionAction) bool {
	switch scope {
	case ScopeFull:
		return true
	case ScopeAutoPayment:
		return transferLikeActions[action]
	case ScopeNegotiation, ScopeDelegatedNegotiation:
		return action == ActionSignPersonal
	case ScopeCommitment:
		return action == ActionSignTypedData
	default:
		return false
	}
}

// ExecutionRequest is what an agent submits for policy evaluation.
type ExecutionRequest struct {
	RequestID    string          `json:"requestId"`
	AgentID      string          `json:"agentId"`
	VendorID     string          `json:"vendorId,omitempty"`
	PolicyID     string          `json:"policyId,omitempty"`
	Action       ExecutionAction `json:"action"`
	Amount       int64           `json:"amount"`
	ToAddress    string          `json:"toAddress,omitempty"`
	Chain        string          `json:"chain,omitempty"`
	Method       string          `json:"method,omitempty"`
	BalanceAfter *uint64         `json:"balanceAfter,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
}

// Decision is the outcome of checkAutoApprove.
type Decision struct {
	Allowed          bool       `json:"allowed"`
	PolicyID         string     `json:"policyId,omitempty"`
	ViolatedRule     string     `json:"violatedRule,omitempty"`
	ViolatedActual   string     `json:"violatedActual,omitempty"`
	ViolatedLimit    string     `json:"violatedLimit,omitempty"`
	Escalation       Escalation `json:"escalation,omitempty"`
	EscalationTarget string     `json:"escalationTarget,omitempty"`
}

// AuditEntry is one append-only record coupling an execution result to
// the policy that authorized (or failed to authorize) it.
type AuditEntry struct {
	RequestID string          `json:"requestId"`
	PolicyID  string          `json:"policyId,omitempty"`
	VendorID  string          `json:"vendorId,omitempty"`
	Action    ExecutionAction `json:"action"`
	Result    string          `json:"result"`
	Timestamp time.Time       `json:"timestamp"`
	Amount    *int64          `json:"amount,omitempty"`
}

// MaxAuditEntries is the audit log's ring-buffer cap.
const MaxAuditEntries = 10000

// ApprovalLevel is classifyPolicyChange's output tier.
type ApprovalLevel string

const (
	ApprovalAuto      ApprovalLevel = "auto"
	ApprovalReview    ApprovalLevel = "review"
	ApprovalBiometric ApprovalLevel = "biometric"
)

// CriticalChange tags one field-level risk classifyPolicyChange found.
type CriticalChange string

const (
	ChangeBudgetIncrease          CriticalChange = "budget_increase"
	ChangeAllowlistAddressAdd     CriticalChange = "allowlist_address_add"
	ChangeAllowlistAddressRemoveAll CriticalChange = "allowlist_address_remove_all"
	ChangeScopeEscalation         CriticalChange = "scope_escalation"
	ChangeTimeWindowRemove        CriticalChange = "time_window_remove"
	ChangeMinBalanceLower         CriticalChange = "min_balance_lower"
	ChangeFirstPayReviewDisable   CriticalChange = "first_pay_review_disable"
	ChangeExpirationExtend        CriticalChange = "expiration_extend"
)

// biometricChanges is the set of CriticalChanges that alone force
// ApprovalBiometric (spec.md §4.3).
var biometricChanges = map[CriticalChange]bool{
	ChangeBudgetIncrease:            true,
	ChangeScopeEscalation:           true,
	ChangeAllowlistAddressRemoveAll: true,
}

// ChangeClassification is classifyPolicyChange's result.
type ChangeClassification struct {
	RequiresEscalation bool             `json:"requiresEscalation"`
	ApprovalLevel      ApprovalLevel    `json:"approvalLevel"`
	CriticalChanges    []CriticalChange `json:"criticalChanges"`
	Reasons            []string         `json:"reasons"`
}
