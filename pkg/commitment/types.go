// Package commitment implements structured buy/sell agreements: dual
// signing, deterministic hashing, and a validated status lifecycle
// through escrow, delivery, and release or dispute (spec.md §4.5).
package commitment

import "time"

// Status is a CommitmentRecord's position in its lifecycle.
type Status string

const (
	StatusDraft        Status = "draft"
	StatusProposed      Status = "proposed"
	StatusBuyerSigned   Status = "buyer_signed"
	StatusFullySigned   Status = "fully_signed"
	StatusEscrowed      Status = "escrowed"
	StatusDelivered     Status = "delivered"
	StatusDisputed      Status = "disputed"
	StatusCompleted     Status = "completed"
	StatusCancelled     Status = "cancelled"
)

// statusTransitions is the validated lifecycle graph (spec.md §4.5).
var statusTransitions = map[Status][]Status{
	StatusDraft:       {StatusProposed, StatusBuyerSigned, StatusCancelled},
	StatusProposed:    {StatusBuyerSigned, StatusFullySigned, StatusCancelled},
	StatusBuyerSigned: {StatusFullySigned, StatusCancelled},
	StatusFullySigned: {StatusEscrowed, StatusCancelled},
	StatusEscrowed:    {StatusDelivered, StatusDisputed},
	StatusDelivered:   {StatusCompleted, StatusDisputed},
	StatusDisputed:    {StatusCompleted, StatusCancelled},
}

func (s Status) terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Value is the substantive commitment terms, typed-data-signed by both
// parties.
type Value struct {
	BuyerAgent       string  `json:"buyerAgent"`
	SellerAgent      string  `json:"sellerAgent"`
	Item             string  `json:"item"`
	Price            float64 `json:"price"`
	Currency         string  `json:"currency"`
	DeliveryDeadline float64 `json:"deliveryDeadline"`
	Arbitrator       string  `json:"arbitrator,omitempty"`
	EscrowRequired   bool    `json:"escrowRequired"`
	Nonce            uint64  `json:"nonce"`
}

// Agreement is the signed typed-data structure the dual signatures
// attach to.
type Agreement struct {
	Domain          interface{} `json:"domain"`
	Types           interface{} `json:"types"`
	Value           Value       `json:"value"`
	BuyerSignature  []byte      `json:"buyerSignature,omitempty"`
	SellerSignature []byte      `json:"sellerSignature,omitempty"`
}

// Record is a persisted commitment and its lifecycle metadata.
type Record struct {
	ID                       string     `json:"id"`
	Commitment               Agreement  `json:"commitment"`
	Status                   Status     `json:"status"`
	EscrowTxHash             string     `json:"escrowTxHash,omitempty"`
	DeliveryConfirmationHash string     `json:"deliveryConfirmationHash,omitempty"`
	ReleaseTxHash            string     `json:"releaseTxHash,omitempty"`
	DisputeID                string     `json:"disputeId,omitempty"`
	ArchiveTxID              string     `json:"archiveTxId,omitempty"`
	CreatedAt                time.Time  `json:"createdAt"`
	UpdatedAt                time.Time  `json:"updatedAt"`
}

// CreateParams carries createCommitment's inputs.
type CreateParams struct {
	ID               string
	BuyerAgent       string
	SellerAgent      string
	Item             string
	Price            float64
	Currency         string
	DeliveryDeadline float64
	ChainID          int64
	Arbitrator       string
	EscrowRequired   bool
	Domain           interface{}
	Types            interface{}
}

// StatusUpdateMeta carries the merge-written metadata fields
// updateStatus accepts (spec.md §4.5).
type StatusUpdateMeta struct {
	EscrowTxHash             string
	DeliveryConfirmationHash string
	ReleaseTxHash            string
	DisputeID                string
	ArchiveTxID              string
}
