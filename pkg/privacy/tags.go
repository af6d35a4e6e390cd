package privacy

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/aesp-labs/aesp-core/pkg/aesperrors"
	"github.com/aesp-labs/aesp-core/pkg/aespcrypto"
	"github.com/aesp-labs/aesp-core/pkg/canonjson"
	"github.com/aesp-labs/aesp-core/pkg/storage"
)

// MaxContextTags caps the locally retained tag set (spec.md §5:
// "backpressure... tags 10,000").
const MaxContextTags = 10000

// BatchStrategy selects how ContextTagManager schedules archival.
type BatchStrategy string

const (
	StrategyImmediate      BatchStrategy = "immediate"
	StrategyTimeWindow     BatchStrategy = "time_window"
	StrategyCountThreshold BatchStrategy = "count_threshold"
)

// BatchingPolicy is ContextTagManager's optional audit-batching config.
type BatchingPolicy struct {
	Strategy          BatchStrategy
	WindowMs          int64
	CountThreshold    int
	LowValueThreshold *int64
}

// ContextTag records one (address, purpose) pairing for audit and
// optional archival.
type ContextTag struct {
	ID             string     `json:"id"`
	AgentID        string     `json:"agentId"`
	Address        string     `json:"address"`
	Purpose        string     `json:"purpose"`
	Amount         int64      `json:"amount"`
	TxHash         string     `json:"txHash,omitempty"`
	ConsolidatedTx string     `json:"consolidatedTx,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	ArchivedAt     *time.Time `json:"archivedAt,omitempty"`
	ArchiveTxID    string     `json:"archiveTxId,omitempty"`
	MintTxID       string     `json:"mintTxId,omitempty"`
}

// CreateTagParams is createTag's input.
type CreateTagParams struct {
	ID      string
	AgentID string
	Address string
	Purpose string
	Amount  int64
}

// ContextTagManager owns the locally retained tag history and its
// optional off-chain archival pipeline.
type ContextTagManager struct {
	mu   sync.Mutex
	tags []*ContextTag

	facade   aespcrypto.Facade
	uploader ArchiveUploader
	minter   NFTMinter
	store    storage.Store
	log      *zap.Logger
	clock    func() time.Time

	policy BatchingPolicy

	windowMu sync.Mutex
	timer    *time.Timer
	stopped  bool
}

// NewContextTagManager constructs a manager. uploader/minter may be nil
// — archiveTag then fails cleanly rather than panicking.
func NewContextTagManager(facade aespcrypto.Facade, uploader ArchiveUploader, minter NFTMinter, store storage.Store, log *zap.Logger, clock func() time.Time, policy BatchingPolicy) *ContextTagManager {
	if log == nil {
		log = zap.NewNop()
	}
	if clock == nil {
		clock = time.Now
	}
	if policy.Strategy == "" {
		policy.Strategy = StrategyImmediate
	}
	m := &ContextTagManager{facade: facade, uploader: uploader, minter: minter, store: store, log: log, clock: clock, policy: policy}
	if policy.Strategy == StrategyTimeWindow && policy.WindowMs > 0 {
		m.scheduleWindow(context.Background())
	}
	return m
}

// Load restores the tag list from storage.
func (m *ContextTagManager) Load(ctx context.Context) error {
	var tags []*ContextTag
	found, err := m.store.Get(ctx, storage.KeyContextTags, &tags)
	if err != nil {
		return aesperrors.Wrap(aesperrors.CryptoError, "load context tags", err)
	}
	if found {
		m.mu.Lock()
		m.tags = tags
		m.mu.Unlock()
	}
	return nil
}

func (m *ContextTagManager) flush(ctx context.Context) error {
	m.mu.Lock()
	snapshot := make([]*ContextTag, len(m.tags))
	copy(snapshot, m.tags)
	m.mu.Unlock()
	if err := m.store.Set(ctx, storage.KeyContextTags, snapshot); err != nil {
		return aesperrors.Wrap(aesperrors.CryptoError, "persist context tags", err)
	}
	return nil
}

// CreateTag appends a new tag, trimming the oldest entry if the local
// cap is exceeded, then evaluates the count_threshold trigger.
func (m *ContextTagManager) CreateTag(ctx context.Context, params CreateTagParams) (*ContextTag, error) {
	tag := &ContextTag{
		ID:        params.ID,
		AgentID:   params.AgentID,
		Address:   params.Address,
		Purpose:   params.Purpose,
		Amount:    params.Amount,
		CreatedAt: m.clock(),
	}

	m.mu.Lock()
	m.tags = append(m.tags, tag)
	if len(m.tags) > MaxContextTags {
		m.tags = m.tags[len(m.tags)-MaxContextTags:]
	}
	m.mu.Unlock()

	if err := m.flush(ctx); err != nil {
		return nil, err
	}
	m.maybeTriggerCountThreshold(ctx)
	return tag, nil
}

// UpdateTagTxHash stamps txHash on tag id, then evaluates the
// count_threshold trigger (it fires after createTag and after this
// call, per spec.md §4.7).
func (m *ContextTagManager) UpdateTagTxHash(ctx context.Context, id, txHash string) error {
	m.mu.Lock()
	found := false
	for _, t := range m.tags {
		if t.ID == id {
			t.TxHash = txHash
			found = true
			break
		}
	}
	m.mu.Unlock()
	if !found {
		return aesperrors.New(aesperrors.CommitmentNotFound, "context tag not found")
	}
	if err := m.flush(ctx); err != nil {
		return err
	}
	m.maybeTriggerCountThreshold(ctx)
	return nil
}

// UpdateTagConsolidation stamps the consolidation transaction hash on
// tag id.
func (m *ContextTagManager) UpdateTagConsolidation(ctx context.Context, id, consolidatedTx string) error {
	m.mu.Lock()
	found := false
	for _, t := range m.tags {
		if t.ID == id {
			t.ConsolidatedTx = consolidatedTx
			found = true
			break
		}
	}
	m.mu.Unlock()
	if !found {
		return aesperrors.New(aesperrors.CommitmentNotFound, "context tag not found")
	}
	return m.flush(ctx)
}

// Get returns the tag record for id, if present.
func (m *ContextTagManager) Get(id string) (*ContextTag, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tags {
		if t.ID == id {
			return t, true
		}
	}
	return nil, false
}

// TagsForAddress returns every tracked tag referencing address, used by
// the Consolidation Scheduler to stamp a batch's tx hash onto every tag
// tied to an address it just swept.
func (m *ContextTagManager) TagsForAddress(address string) []*ContextTag {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*ContextTag
	for _, t := range m.tags {
		if t.Address == address {
			out = append(out, t)
		}
	}
	return out
}

func (m *ContextTagManager) eligibleForArchive(t *ContextTag) bool {
	if t.TxHash == "" || t.ArchivedAt != nil {
		return false
	}
	if m.policy.LowValueThreshold != nil && t.Amount < *m.policy.LowValueThreshold {
		return false
	}
	return true
}

func (m *ContextTagManager) maybeTriggerCountThreshold(ctx context.Context) {
	if m.policy.Strategy != StrategyCountThreshold || m.policy.CountThreshold <= 0 {
		return
	}
	m.mu.Lock()
	count := 0
	for _, t := range m.tags {
		if m.eligibleForArchive(t) {
			count++
		}
	}
	m.mu.Unlock()
	if count >= m.policy.CountThreshold {
		if err := m.BatchArchive(ctx); err != nil {
			m.log.Warn("privacy: count-threshold batch archive failed", zap.Error(err))
		}
	}
}

func (m *ContextTagManager) scheduleWindow(ctx context.Context) {
	m.windowMu.Lock()
	defer m.windowMu.Unlock()
	if m.stopped {
		return
	}
	m.timer = time.AfterFunc(time.Duration(m.policy.WindowMs)*time.Millisecond, func() {
		if err := m.BatchArchive(ctx); err != nil {
			m.log.Warn("privacy: time-window batch archive failed", zap.Error(err))
		}
		m.scheduleWindow(ctx)
	})
}

// Dispose stops the time_window recurring timer.
func (m *ContextTagManager) Dispose() {
	m.windowMu.Lock()
	defer m.windowMu.Unlock()
	m.stopped = true
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// ArchiveTag encrypts tag id's JSON for ownerIdentity, uploads it via
// the Archive uploader, mints an audit NFT pointing at the upload, and
// stamps archivedAt/archiveTxId.
func (m *ContextTagManager) ArchiveTag(ctx context.Context, id, ownerIdentity string) (*ContextTag, error) {
	if m.uploader == nil || m.minter == nil {
		return nil, aesperrors.New(aesperrors.CryptoError, "archive uploader or NFT minter not configured")
	}

	m.mu.Lock()
	var tag *ContextTag
	for _, t := range m.tags {
		if t.ID == id {
			tag = t
			break
		}
	}
	m.mu.Unlock()
	if tag == nil {
		return nil, aesperrors.New(aesperrors.CommitmentNotFound, "context tag not found")
	}

	payload, err := canonjson.Marshal(tag)
	if err != nil {
		return nil, aesperrors.Wrap(aesperrors.CryptoError, "marshal context tag", err)
	}
	compressed, err := compressZstd(payload)
	if err != nil {
		return nil, aesperrors.Wrap(aesperrors.CryptoError, "compress context tag", err)
	}
	cipher, err := m.facade.Encrypt(ctx, ownerIdentity, compressed)
	if err != nil {
		return nil, aesperrors.Wrap(aesperrors.CryptoError, "encrypt context tag", err)
	}
	// Ephemeral travels alongside Bytes so the owner identity can later
	// Decrypt the downloaded blob; it is not secret.
	envelope, err := json.Marshal(struct {
		Bytes     []byte `json:"bytes"`
		Ephemeral []byte `json:"ephemeral"`
	}{cipher.Bytes, cipher.Ephemeral})
	if err != nil {
		return nil, aesperrors.Wrap(aesperrors.CryptoError, "marshal archive envelope", err)
	}
	archiveTxID, err := m.uploader.Upload(ctx, envelope, "application/json+aesp-context-tag-envelope")
	if err != nil {
		return nil, aesperrors.Wrap(aesperrors.CryptoError, "upload archived context tag", err)
	}
	mintTxID, err := m.minter.Mint(ctx, archiveTxID, map[string]interface{}{"tagId": tag.ID, "agentId": tag.AgentID})
	if err != nil {
		return nil, aesperrors.Wrap(aesperrors.CryptoError, "mint audit NFT", err)
	}

	now := m.clock()
	m.mu.Lock()
	tag.ArchivedAt = &now
	tag.ArchiveTxID = archiveTxID
	tag.MintTxID = mintTxID
	m.mu.Unlock()

	if err := m.flush(ctx); err != nil {
		return nil, err
	}
	return tag, nil
}

// BatchArchive archives every confirmed, unarchived, eligible tag
// exactly once.
func (m *ContextTagManager) BatchArchive(ctx context.Context) error {
	return m.BatchArchiveAs(ctx, "")
}

// BatchArchiveAs is BatchArchive parameterized by the owner identity
// used for per-tag encryption.
func (m *ContextTagManager) BatchArchiveAs(ctx context.Context, ownerIdentity string) error {
	m.mu.Lock()
	var candidates []string
	for _, t := range m.tags {
		if m.eligibleForArchive(t) {
			candidates = append(candidates, t.ID)
		}
	}
	m.mu.Unlock()

	var firstErr error
	for _, id := range candidates {
		if _, err := m.ArchiveTag(ctx, id, ownerIdentity); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func compressZstd(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := enc.Write(data); err != nil {
		enc.Close()
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
