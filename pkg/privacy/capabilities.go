package privacy

import "context"

// ArchiveUploader is the consumer-provided capability that persists an
// encrypted context-tag blob off-device (spec.md §6: "Archive
// uploader"). Optional — ContextTagManager.archiveTag fails cleanly
// when unset.
type ArchiveUploader interface {
	Upload(ctx context.Context, data []byte, contentType string) (txID string, err error)
}

// NFTMinter is the consumer-provided capability that mints an audit
// record pointing at an archived blob (spec.md §6: "Audit NFT minter").
type NFTMinter interface {
	Mint(ctx context.Context, archiveTxID string, metadata map[string]interface{}) (mintTxID string, err error)
}

// ConsolidationRequest is consolidate's input.
type ConsolidationRequest struct {
	FromAddresses  []string
	ToVaultAddress string
	Chain          string
	Token          string
}

// ConsolidationHandler is the consumer-provided capability that sweeps
// funded addresses into a vault (spec.md §6). Must be idempotent:
// retrying with the same request after a partial failure is legal.
type ConsolidationHandler interface {
	Consolidate(ctx context.Context, req ConsolidationRequest) (txHash string, err error)
}
