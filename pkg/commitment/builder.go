package commitment

import (
	"context"
	"encoding/binary"
	"math"
	"sync"
	"time"

	"github.com/aesp-labs/aesp-core/pkg/aespcrypto"
	"github.com/aesp-labs/aesp-core/pkg/aesperrors"
	"github.com/aesp-labs/aesp-core/pkg/canonjson"
	"github.com/aesp-labs/aesp-core/pkg/storage"
)

// nonceBits is the width spec.md §4.5 pins the commitment nonce to.
const nonceBits = 53

// Builder owns every in-memory CommitmentRecord, keyed by id.
type Builder struct {
	mu      sync.Mutex
	records map[string]*Record
	facade  aespcrypto.Facade
	store   storage.Store
	clock   func() time.Time
}

// New constructs a Builder.
func New(facade aespcrypto.Facade, store storage.Store, clock func() time.Time) *Builder {
	if clock == nil {
		clock = time.Now
	}
	return &Builder{records: make(map[string]*Record), facade: facade, store: store, clock: clock}
}

// Load restores every persisted record.
func (b *Builder) Load(ctx context.Context) error {
	var records map[string]*Record
	found, err := b.store.Get(ctx, storage.KeyCommitments, &records)
	if err != nil {
		return aesperrors.Wrap(aesperrors.CryptoError, "load commitments", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if found {
		b.records = records
	}
	return nil
}

func (b *Builder) flush(ctx context.Context) error {
	snapshot := make(map[string]*Record, len(b.records))
	for k, v := range b.records {
		snapshot[k] = v
	}
	if err := b.store.Set(ctx, storage.KeyCommitments, snapshot); err != nil {
		return aesperrors.Wrap(aesperrors.CryptoError, "persist commitments", err)
	}
	return nil
}

// Get returns the record for id, if present.
func (b *Builder) Get(id string) (*Record, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.records[id]
	return r, ok
}

// CreateCommitment validates params and builds a draft Record with a
// fresh 53-bit secure-random nonce.
func (b *Builder) CreateCommitment(ctx context.Context, params CreateParams) (*Record, error) {
	if math.IsNaN(params.Price) || math.IsInf(params.Price, 0) || params.Price < 0 {
		return nil, aesperrors.New(aesperrors.InvalidPrice, "price must be a non-negative finite number")
	}
	if math.IsNaN(params.DeliveryDeadline) || math.IsInf(params.DeliveryDeadline, 0) || params.DeliveryDeadline < 0 {
		return nil, aesperrors.New(aesperrors.InvalidDeadline, "deliveryDeadline must be a non-negative finite number")
	}
	if params.ChainID < 0 {
		return nil, aesperrors.New(aesperrors.InvalidChainID, "chainId must be a non-negative integer")
	}

	nonce, err := secureNonce(b.facade)
	if err != nil {
		return nil, err
	}

	now := b.clock()
	record := &Record{
		ID:     params.ID,
		Status: StatusDraft,
		Commitment: Agreement{
			Domain: params.Domain,
			Types:  params.Types,
			Value: Value{
				BuyerAgent:       params.BuyerAgent,
				SellerAgent:      params.SellerAgent,
				Item:             params.Item,
				Price:            params.Price,
				Currency:         params.Currency,
				DeliveryDeadline: params.DeliveryDeadline,
				Arbitrator:       params.Arbitrator,
				EscrowRequired:   params.EscrowRequired,
				Nonce:            nonce,
			},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	b.mu.Lock()
	b.records[record.ID] = record
	b.mu.Unlock()
	if err := b.flush(ctx); err != nil {
		return nil, err
	}
	return record, nil
}

// secureNonce draws a uniformly random value in [0, 2^53).
func secureNonce(facade aespcrypto.Facade) (uint64, error) {
	raw, err := facade.SecureRandom(8)
	if err != nil {
		return 0, aesperrors.Wrap(aesperrors.CryptoError, "draw commitment nonce", err)
	}
	v := binary.BigEndian.Uint64(raw)
	return v & ((uint64(1) << nonceBits) - 1), nil
}

// CommitmentHash hashes {domain, value} with canonical JSON — the
// deterministic identifier for an agreement's substantive terms,
// independent of signatures (spec.md §4.5).
func CommitmentHash(facade aespcrypto.Facade, agreement Agreement) ([]byte, error) {
	fields := map[string]interface{}{
		"domain": agreement.Domain,
		"value":  agreement.Value,
	}
	payload, err := canonjson.MarshalOrdered(fields, []string{"domain", "value"})
	if err != nil {
		return nil, aesperrors.Wrap(aesperrors.CryptoError, "canonicalize commitment payload", err)
	}
	return facade.SHA256(payload), nil
}

// SignAsBuyer attaches the buyer's typed-data signature. Allowed from
// draft or proposed; moves to buyer_signed, or straight to fully_signed
// if the seller already signed (spec.md §4.5).
func (b *Builder) SignAsBuyer(ctx context.Context, id, buyerIdentity string) (*Record, error) {
	return b.sign(ctx, id, buyerIdentity, true)
}

// SignAsSeller attaches the seller's typed-data signature. Allowed from
// draft, proposed, or buyer_signed; moves to proposed, or straight to
// fully_signed if the buyer already signed.
func (b *Builder) SignAsSeller(ctx context.Context, id, sellerIdentity string) (*Record, error) {
	return b.sign(ctx, id, sellerIdentity, false)
}

func (b *Builder) sign(ctx context.Context, id, identity string, asBuyer bool) (*Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	record, ok := b.records[id]
	if !ok {
		return nil, aesperrors.New(aesperrors.CommitmentNotFound, "commitment not found")
	}

	if asBuyer {
		if record.Status != StatusDraft && record.Status != StatusProposed {
			return nil, aesperrors.New(aesperrors.InvalidCommitmentState, "buyer may only sign from draft or proposed")
		}
	} else {
		if record.Status != StatusDraft && record.Status != StatusProposed && record.Status != StatusBuyerSigned {
			return nil, aesperrors.New(aesperrors.InvalidCommitmentState, "seller may only sign from draft, proposed, or buyer_signed")
		}
	}

	sig, err := b.facade.SignTypedData(ctx, identity, record.Commitment.Domain, record.Commitment.Value)
	if err != nil {
		return nil, aesperrors.Wrap(aesperrors.CryptoError, "sign commitment typed data", err)
	}

	if asBuyer {
		record.Commitment.BuyerSignature = sig.Bytes
		if record.Commitment.SellerSignature != nil {
			record.Status = StatusFullySigned
		} else {
			record.Status = StatusBuyerSigned
		}
	} else {
		record.Commitment.SellerSignature = sig.Bytes
		if record.Commitment.BuyerSignature != nil {
			record.Status = StatusFullySigned
		} else {
			record.Status = StatusProposed
		}
	}
	record.UpdatedAt = b.clock()

	if err := b.flush(ctx); err != nil {
		return nil, err
	}
	return record, nil
}

// UpdateStatus validates the transition against the lifecycle graph and
// merge-writes any metadata fields present in meta.
func (b *Builder) UpdateStatus(ctx context.Context, id string, to Status, meta StatusUpdateMeta) (*Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	record, ok := b.records[id]
	if !ok {
		return nil, aesperrors.New(aesperrors.CommitmentNotFound, "commitment not found")
	}
	if record.Status.terminal() {
		return nil, aesperrors.New(aesperrors.InvalidStatusTransition, "commitment status is terminal")
	}

	allowed := statusTransitions[record.Status]
	valid := false
	for _, s := range allowed {
		if s == to {
			valid = true
			break
		}
	}
	if !valid {
		return nil, aesperrors.New(aesperrors.InvalidStatusTransition, "illegal commitment status transition")
	}
	if to == StatusEscrowed || to == StatusFullySigned {
		if record.Commitment.BuyerSignature == nil || record.Commitment.SellerSignature == nil {
			return nil, aesperrors.New(aesperrors.InvalidCommitmentState, "both signatures are required at or beyond fully_signed")
		}
	}

	record.Status = to
	if meta.EscrowTxHash != "" {
		record.EscrowTxHash = meta.EscrowTxHash
	}
	if meta.DeliveryConfirmationHash != "" {
		record.DeliveryConfirmationHash = meta.DeliveryConfirmationHash
	}
	if meta.ReleaseTxHash != "" {
		record.ReleaseTxHash = meta.ReleaseTxHash
	}
	if meta.DisputeID != "" {
		record.DisputeID = meta.DisputeID
	}
	if meta.ArchiveTxID != "" {
		record.ArchiveTxID = meta.ArchiveTxID
	}
	record.UpdatedAt = b.clock()

	if err := b.flush(ctx); err != nil {
		return nil, err
	}
	return record, nil
}
