// Package storage defines the Storage capability interface AESP Core
// depends on (spec.md §6) and ships three concrete backends behind it:
// an in-memory Store for tests, a NATS-backed Store built on the
// teacher's natsclient domain/entity/aspect model, and a local/virtual
// filesystem Store built on rainycape/vfs. Every subsystem is the sole
// writer of its own key set (spec.md §5), so concurrent Set calls from
// different subsystems are safe even though a single Store instance is
// shared.
package storage

import "context"

// Store is the async typed key/value capability every AESP subsystem
// persists through. Values must round-trip through a structured
// serialization preserving string/number/boolean/null/array/object —
// concrete backends use encoding/json for this. The core never stores
// binary blobs in Store.
type Store interface {
	// Get reads key into out (a pointer). It reports found=false, nil
	// error when the key does not exist.
	Get(ctx context.Context, key string, out interface{}) (found bool, err error)

	// Set writes value at key, replacing any prior value.
	Set(ctx context.Context, key string, value interface{}) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys lists every key with the given prefix. An empty prefix lists
	// every key the Store holds.
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// Well-known top-level key prefixes, one per subsystem (spec.md §5).
const (
	KeyPolicies            = "aesp:policies"
	KeyAudit               = "aesp:audit"
	KeyNegotiationSessions = "aesp:negotiation_sessions"
	KeyCommitments         = "aesp:commitments"
	KeyReviewQueue         = "aesp:review_queue"
	KeyFreezeStatus        = "aesp:freeze_status"
	KeyAgentHierarchy      = "aesp:agent_hierarchy"
	KeyAddressPool         = "aesp:address_pool"
	KeyContextTags         = "aesp:context_tags"
	KeyConsolidation       = "aesp:consolidation"
	KeyBudgets             = "aesp:budgets"
)
