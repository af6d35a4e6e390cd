package privacy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// InMemoryArchiveUploader is a reference ArchiveUploader: it keeps
// every uploaded blob in memory, addressed by a monotonically
// increasing transaction id. Good enough for tests and demos, not for
// production use.
type InMemoryArchiveUploader struct {
	mu      sync.Mutex
	seq     uint64
	blobs   map[string][]byte
	content map[string]string
}

// NewInMemoryArchiveUploader constructs an empty uploader.
func NewInMemoryArchiveUploader() *InMemoryArchiveUploader {
	return &InMemoryArchiveUploader{blobs: make(map[string][]byte), content: make(map[string]string)}
}

// Upload stores data and returns a synthetic transaction id.
func (u *InMemoryArchiveUploader) Upload(ctx context.Context, data []byte, contentType string) (string, error) {
	id := atomic.AddUint64(&u.seq, 1)
	txID := fmt.Sprintf("archive-tx-%d", id)
	u.mu.Lock()
	u.blobs[txID] = append([]byte(nil), data...)
	u.content[txID] = contentType
	u.mu.Unlock()
	return txID, nil
}

// Get returns a previously uploaded blob, for test assertions.
func (u *InMemoryArchiveUploader) Get(txID string) ([]byte, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	data, ok := u.blobs[txID]
	return data, ok
}

// InMemoryNFTMinter is a reference NFTMinter recording every mint
// request for inspection.
type InMemoryNFTMinter struct {
	mu    sync.Mutex
	seq   uint64
	mints map[string]map[string]interface{}
}

// NewInMemoryNFTMinter constructs an empty minter.
func NewInMemoryNFTMinter() *InMemoryNFTMinter {
	return &InMemoryNFTMinter{mints: make(map[string]map[string]interface{})}
}

// Mint records the mint and returns a synthetic transaction id.
func (m *InMemoryNFTMinter) Mint(ctx context.Context, archiveTxID string, metadata map[string]interface{}) (string, error) {
	id := atomic.AddUint64(&m.seq, 1)
	mintTxID := fmt.Sprintf("mint-tx-%d", id)
	m.mu.Lock()
	m.mints[mintTxID] = map[string]interface{}{"archiveTxId": archiveTxID, "metadata": metadata}
	m.mu.Unlock()
	return mintTxID, nil
}

// InMemoryConsolidationHandler is a reference ConsolidationHandler. It
// is idempotent by construction: the same FromAddresses set always
// produces the same synthetic hash, so a caller retrying after a
// partial failure observes a stable result.
type InMemoryConsolidationHandler struct {
	mu  sync.Mutex
	seq uint64
}

// NewInMemoryConsolidationHandler constructs a handler.
func NewInMemoryConsolidationHandler() *InMemoryConsolidationHandler {
	return &InMemoryConsolidationHandler{}
}

// Consolidate returns a synthetic transaction hash for req.
func (h *InMemoryConsolidationHandler) Consolidate(ctx context.Context, req ConsolidationRequest) (string, error) {
	sorted := append([]string(nil), req.FromAddresses...)
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, ",")))
	return "consolidation-tx-" + hex.EncodeToString(sum[:8]), nil
}
