// Package identity implements deterministic per-agent key derivation
// and signed capability certificates (spec.md §4.1).
package identity

import "time"

// Capability names a single action a Certificate authorizes.
type Capability string

const (
	CapPayment     Capability = "payment"
	CapNegotiation Capability = "negotiation"
	CapDataQuery   Capability = "data_query"
	CapCommitment  Capability = "commitment"
	CapDelegation  Capability = "delegation"
	CapArbitration Capability = "arbitration"
)

// AgentIdentity is the deterministic, immutable identity of a single
// agent once derived.
type AgentIdentity struct {
	AgentID        string `json:"agentId"`
	DID            string `json:"did"`
	PublicKey      []byte `json:"publicKey"`
	DerivationPath string `json:"derivationPath"`

	// Synthetic is true when PublicKey came from the signature-hash
	// fallback (spec.md §4.1) rather than direct HD child derivation.
	// It is not part of the wire/certificate representation — it is
	// bookkeeping so a deployment can tell which verification path an
	// identity requires.
	Synthetic bool `json:"-"`
}

// Certificate is the owner-signed statement naming an agent, the
// capabilities it may exercise, and the ceilings that bound it
// (spec.md §3).
type Certificate struct {
	Version             string       `json:"version"`
	AgentID             string       `json:"agentId"`
	PubKey              []byte       `json:"pubkey"`
	OwnerXIdentity      string       `json:"ownerXidentity"`
	Capabilities        []Capability `json:"capabilities"`
	PolicyHash          string       `json:"policyHash"`
	MaxAutonomousAmount uint64       `json:"maxAutonomousAmount"`
	Chains              []string     `json:"chains"`
	CreatedAt           time.Time    `json:"createdAt"`
	ExpiresAt           time.Time    `json:"expiresAt"`
	OwnerSignature      []byte       `json:"ownerSignature"`
	OwnerSignatureScheme string      `json:"ownerSignatureScheme"`
}

// signedFieldOrder is the exact key order spec.md §6 pins the
// certificate signing payload to.
var signedFieldOrder = []string{
	"agentId", "capabilities", "chains", "createdAt", "expiresAt",
	"maxAutonomousAmount", "ownerXidentity", "policyHash", "pubkey", "version",
}
