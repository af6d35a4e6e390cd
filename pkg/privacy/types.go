// Package privacy implements context-isolated ephemeral address
// derivation, an inbound/outbound address pool, audit context tags with
// optional off-chain archival, and a jittered batched consolidation
// scheduler (spec.md §4.7).
package privacy

import "time"

// Direction partitions a pool by whether addresses receive or send
// funds.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// AddressStatus is an EphemeralAddress's lifecycle position.
type AddressStatus string

const (
	StatusAvailable    AddressStatus = "available"
	StatusAssigned     AddressStatus = "assigned"
	StatusFunded       AddressStatus = "funded"
	StatusSpent        AddressStatus = "spent"
	StatusConsolidated AddressStatus = "consolidated"
)

// PrivacyLevel selects how resolveAddress behaves.
type PrivacyLevel string

const (
	PrivacyTransparent PrivacyLevel = "transparent"
	PrivacyBasic       PrivacyLevel = "basic"
	PrivacyIsolated    PrivacyLevel = "isolated"
)

// EphemeralAddress is one derived or pooled address.
type EphemeralAddress struct {
	Address        string        `json:"address"`
	Chain          string        `json:"chain"`
	ContextInfo    string        `json:"contextInfo"`
	AgentID        string        `json:"agentId"`
	Direction      Direction     `json:"direction"`
	Status         AddressStatus `json:"status"`
	AssignedTxUUID string        `json:"assignedTxUUID,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
	UsedAt         *time.Time    `json:"usedAt,omitempty"`
}

// poolKey addresses one (agentId, chain) pool.
type poolKey struct {
	AgentID string
	Chain   string
}

// ResolveParams carries resolveAddress's inputs.
type ResolveParams struct {
	AgentID      string
	Chain        string
	Direction    Direction
	PrivacyLevel PrivacyLevel
}
