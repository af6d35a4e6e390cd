// Example: Full Agent Economic Sovereignty Protocol lifecycle
//
// Demonstrates the end-to-end flow a host application drives against
// aesp-core:
//   1. Derive an agent identity and issue its owner-signed certificate
//   2. Attenuate a child certificate one level down the hierarchy
//   3. Register a policy and run an auto-approve check
//   4. Negotiate an offer to acceptance and build a dual-signed commitment
//   5. Raise a human-in-the-loop review and resolve it
//   6. Resolve a privacy-aware payment address and sweep funded inbound
//      addresses into the vault
//
// This is a runnable illustration, not a test — every subsystem here is
// wired with its in-memory reference implementations.
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/aesp-labs/aesp-core/pkg/aespcrypto"
	"github.com/aesp-labs/aesp-core/pkg/budget"
	"github.com/aesp-labs/aesp-core/pkg/commitment"
	"github.com/aesp-labs/aesp-core/pkg/eventbus"
	"github.com/aesp-labs/aesp-core/pkg/hierarchy"
	"github.com/aesp-labs/aesp-core/pkg/identity"
	"github.com/aesp-labs/aesp-core/pkg/negotiation"
	"github.com/aesp-labs/aesp-core/pkg/policy"
	"github.com/aesp-labs/aesp-core/pkg/privacy"
	"github.com/aesp-labs/aesp-core/pkg/review"
	"github.com/aesp-labs/aesp-core/pkg/storage"
)

func main() {
	ctx := context.Background()
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	facade := aespcrypto.NewReferenceFacade()
	store := storage.NewMemoryStore()
	bus := eventbus.NewBus()

	bus.Subscribe("hierarchy.node_added", func(e eventbus.Event) { log.Printf("[event] hierarchy.node_added: %v", e.Payload) })
	bus.Subscribe("freeze:activated", func(e eventbus.Event) { log.Printf("[event] freeze:activated: %v", e.Payload) })

	log.Println("=== step 1: identity & certificate ===")
	owner, err := identity.Derive(ctx, facade, "demo mnemonic demo mnemonic demo mnemonic demo", "", 0)
	must(err)
	child, err := identity.Derive(ctx, facade, "demo mnemonic demo mnemonic demo mnemonic demo", "", 1)
	must(err)
	fmt.Printf("owner agent %s, child agent %s\n", owner.AgentID, child.AgentID)

	now := time.Now()
	rootCert, err := identity.CreateCertificate(ctx, facade, owner, "owner:alice",
		[]identity.Capability{identity.CapPayment, identity.CapNegotiation, identity.CapCommitment, identity.CapDelegation},
		"policy-hash-root", 1_000_000, []string{"ethereum", "solana"}, 30*24*time.Hour, now)
	must(err)

	log.Println("=== step 2: hierarchy attenuation ===")
	tree := hierarchy.New(store, bus, logger)
	must(tree.Load(ctx))
	childCert, err := tree.IssueChildCertificate(ctx, facade, rootCert, owner.AgentID, "root-agent", child, "child-agent",
		hierarchy.CertNarrowing{
			Capabilities:        []identity.Capability{identity.CapPayment, identity.CapNegotiation},
			Chains:              []string{"ethereum"},
			MaxAutonomousAmount: 100_000,
			TTL:                 7 * 24 * time.Hour,
		}, now)
	must(err)
	fmt.Printf("child certificate issued, capabilities=%v ceiling=%d\n", childCert.Capabilities, childCert.MaxAutonomousAmount)

	log.Println("=== step 3: policy engine ===")
	tracker := budget.New(store, time.Now)
	must(tracker.Load(ctx))
	engine := policy.New(store, tracker, nil, time.Now, logger)
	must(engine.Load(ctx))
	engine.AttachHierarchy(tree)
	must(engine.RegisterPolicy(ctx, &policy.Policy{
		ID:      "pol-1",
		AgentID: child.AgentID,
		Scope:   policy.ScopeAutoPayment,
		Conditions: policy.Conditions{
			MaxAmountPerTx:     50_000,
			MaxAmountPerDay:    100_000,
			AllowListChains:    []string{"ethereum"},
			AllowListAddresses: []string{"0xvendor"},
		},
		Escalation: policy.EscalationAskParentAgent,
		CreatedAt:  now,
	}))
	screenReq := policy.ExecutionRequest{
		RequestID: "req-1", AgentID: child.AgentID, PolicyID: "pol-1",
		Action: policy.ActionTransfer, Amount: 10_000, ToAddress: "0xvendor", Chain: "ethereum", Timestamp: now,
	}
	warnings := engine.ScreenRequest(screenReq)
	fmt.Printf("screen warnings: %v\n", warnings)
	decision, err := engine.CheckAutoApprove(ctx, screenReq)
	must(err)
	fmt.Printf("auto-approve decision: allowed=%v\n", decision.Allowed)
	must(engine.RecordExecution(ctx, "req-1", "pol-1", "", policy.ActionTransfer, "success", nil, 10_000, child.AgentID))

	log.Println("=== step 4: negotiation & commitment ===")
	negMgr := negotiation.New(store, bus, logger, time.Now, facade.NewUUID)
	must(negMgr.Load(ctx))
	session, err := negMgr.CreateSession(ctx, child.AgentID, "vendor-1", 0, 0)
	must(err)
	session, err = negMgr.Transition(ctx, session.SessionID, child.AgentID, negotiation.MessageOffer, map[string]interface{}{"price": 9_500})
	must(err)
	session, err = negMgr.Transition(ctx, session.SessionID, "vendor-1", negotiation.MessageAccept, map[string]interface{}{"price": 9_500})
	must(err)
	_, err = negMgr.Transition(ctx, session.SessionID, child.AgentID, negotiation.MessageCommit, nil)
	must(err)

	builder := commitment.New(facade, store, time.Now)
	must(builder.Load(ctx))
	record, err := builder.CreateCommitment(ctx, commitment.CreateParams{
		ID: "commit-1", BuyerAgent: child.AgentID, SellerAgent: "vendor-1",
		Item: "widget", Price: 9500, Currency: "USDC", DeliveryDeadline: float64(now.Add(48 * time.Hour).Unix()),
		ChainID: 1, EscrowRequired: true, Domain: map[string]interface{}{"name": "aesp"}, Types: map[string]interface{}{},
	})
	must(err)
	record, err = builder.SignAsBuyer(ctx, record.ID, child.AgentID)
	must(err)
	record, err = builder.SignAsSeller(ctx, record.ID, "vendor-1")
	must(err)
	fmt.Printf("commitment %s status=%s\n", record.ID, record.Status)

	log.Println("=== step 5: human review ===")
	reviewMgr := review.New(store, bus, logger, time.Now)
	must(reviewMgr.Load(ctx))
	guard := review.NewAutoFreezeGuard(child.AgentID, 3, 0.5, time.Hour, time.Now)
	reviewMgr.AttachAutoFreezeGuard(guard)
	engine.AttachFreezeEscalator(reviewMgr)

	item, err := reviewMgr.CreateReviewRequestAsync(ctx, review.Request{
		RequestID: "rev-1", AgentID: child.AgentID, Summary: "approve escrow release",
		Urgency: review.Urgency(policy.UrgencyFromWarnings(warnings)),
	})
	must(err)
	must(reviewMgr.SubmitResponse(ctx, review.Response{RequestID: item.Request.RequestID, Approved: true, RespondedBy: "owner:alice"}))

	log.Println("=== step 6: privacy subsystem ===")
	pool := privacy.NewPool(facade, store, bus, logger, time.Now)
	must(pool.Load(ctx))
	resolved, err := pool.ResolveAddress(ctx, "owner:alice", privacy.ResolveParams{
		AgentID: child.AgentID, Chain: "ethereum", Direction: privacy.DirectionInbound, PrivacyLevel: privacy.PrivacyIsolated,
	})
	must(err)
	fmt.Printf("resolved inbound address: %s\n", resolved.Address)
	must(pool.UpdateAddressStatus(ctx, resolved.Address, privacy.StatusFunded))

	tags := privacy.NewContextTagManager(facade, privacy.NewInMemoryArchiveUploader(), privacy.NewInMemoryNFTMinter(), store, logger, time.Now, privacy.BatchingPolicy{Strategy: privacy.StrategyImmediate})
	must(tags.Load(ctx))
	_, err = tags.CreateTag(ctx, privacy.CreateTagParams{ID: "tag-1", AgentID: child.AgentID, Address: resolved.Address, Purpose: "inbound payment", Amount: 9500})
	must(err)
	must(tags.UpdateTagTxHash(ctx, "tag-1", "0xdeadbeef"))

	sched := privacy.NewScheduler(pool, privacy.NewInMemoryConsolidationHandler(), tags, store, logger, time.Now, facade.NewUUID)
	must(sched.Load(ctx))
	if sched.ShouldConsolidate(1) {
		batchRecords, err := sched.ConsolidateBatched(ctx, privacy.BatchedConsolidationOptions{
			ToVaultAddress: "vault-main", Chain: "ethereum", MaxBatchSize: 5, MinInterBatch: 0, MaxInterBatch: 0,
		})
		must(err)
		fmt.Printf("consolidated %d batch(es)\n", len(batchRecords))
	}

	log.Println("=== lifecycle complete ===")
}

func must(err error) {
	if err != nil {
		log.Fatalf("demo step failed: %v", err)
	}
}
