package privacy

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aesp-labs/aesp-core/pkg/aesperrors"
	"github.com/aesp-labs/aesp-core/pkg/storage"
)

// ConsolidationStatus is a ConsolidationRecord's lifecycle position.
type ConsolidationStatus string

const (
	ConsolidationInProgress ConsolidationStatus = "in_progress"
	ConsolidationCompleted  ConsolidationStatus = "completed"
	ConsolidationFailed     ConsolidationStatus = "failed"
)

// MaxConsolidationRecords caps the locally retained record history
// (spec.md §5: "consolidation records 1,000").
const MaxConsolidationRecords = 1000

// ConsolidationRecord is one sweep of addresses into the vault.
type ConsolidationRecord struct {
	ID             string              `json:"id"`
	FromAddresses  []string            `json:"fromAddresses"`
	ToVaultAddress string              `json:"toVaultAddress"`
	Chain          string              `json:"chain"`
	Token          string              `json:"token"`
	Status         ConsolidationStatus `json:"status"`
	TxHash         string              `json:"txHash,omitempty"`
	Error          string              `json:"error,omitempty"`
	CreatedAt      time.Time           `json:"createdAt"`
	CompletedAt    *time.Time          `json:"completedAt,omitempty"`
}

// BatchedConsolidationOptions parameterizes consolidateBatched.
type BatchedConsolidationOptions struct {
	ToVaultAddress string
	Chain          string
	Token          string
	MaxBatchSize   int           // default 5
	MinInterBatch  time.Duration // default 10m
	MaxInterBatch  time.Duration // default 60m
}

// ScheduleOptions parameterizes scheduleConsolidation.
type ScheduleOptions struct {
	BatchedConsolidationOptions
	ConsolidationThreshold int           // shouldConsolidate's eligible-count gate
	BaseInterval           time.Duration // default 4h
	JitterRatio            float64       // default 0.3, clamped to [0,1]
}

// Scheduler drives one-shot and recurring consolidation runs over the
// Address Pool's funded inbound addresses.
type Scheduler struct {
	mu      sync.Mutex
	records []*ConsolidationRecord

	pool    *Pool
	handler ConsolidationHandler
	tags    *ContextTagManager
	store   storage.Store
	log     *zap.Logger
	clock   func() time.Time
	newID   func() string
	rng     *rand.Rand

	scheduleMu sync.Mutex
	timer      *time.Timer
	cancelled  bool
}

// NewScheduler constructs a Scheduler. newID supplies record ids,
// typically facade.NewUUID. The PRNG seeded here drives Fisher-Yates
// shuffling and inter-batch/jitter delays; spec.md §4.7 is explicit
// this is privacy hygiene, not a security boundary, so math/rand is
// the right tool rather than crypto/rand.
func NewScheduler(pool *Pool, handler ConsolidationHandler, tags *ContextTagManager, store storage.Store, log *zap.Logger, clock func() time.Time, newID func() string) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	if clock == nil {
		clock = time.Now
	}
	return &Scheduler{
		pool:    pool,
		handler: handler,
		tags:    tags,
		store:   store,
		log:     log,
		clock:   clock,
		newID:   newID,
		rng:     rand.New(rand.NewSource(clock().UnixNano())),
	}
}

// Load restores the record history from storage.
func (s *Scheduler) Load(ctx context.Context) error {
	var records []*ConsolidationRecord
	found, err := s.store.Get(ctx, storage.KeyConsolidation, &records)
	if err != nil {
		return aesperrors.Wrap(aesperrors.CryptoError, "load consolidation records", err)
	}
	if found {
		s.mu.Lock()
		s.records = records
		s.mu.Unlock()
	}
	return nil
}

func (s *Scheduler) flush(ctx context.Context) error {
	s.mu.Lock()
	snapshot := make([]*ConsolidationRecord, len(s.records))
	copy(snapshot, s.records)
	s.mu.Unlock()
	if err := s.store.Set(ctx, storage.KeyConsolidation, snapshot); err != nil {
		return aesperrors.Wrap(aesperrors.CryptoError, "persist consolidation records", err)
	}
	return nil
}

func (s *Scheduler) appendRecord(r *ConsolidationRecord) {
	s.mu.Lock()
	s.records = append(s.records, r)
	if len(s.records) > MaxConsolidationRecords {
		s.records = s.records[len(s.records)-MaxConsolidationRecords:]
	}
	s.mu.Unlock()
}

// ConsolidateSingleBatch invokes the external handler once with every
// address in addresses, marks each address consolidated on success,
// stamps the consolidation tx on every tag linked to those addresses,
// and records the batch's outcome.
func (s *Scheduler) ConsolidateSingleBatch(ctx context.Context, addresses []string, opts BatchedConsolidationOptions) (*ConsolidationRecord, error) {
	record := &ConsolidationRecord{
		ID:             s.newID(),
		FromAddresses:  addresses,
		ToVaultAddress: opts.ToVaultAddress,
		Chain:          opts.Chain,
		Token:          opts.Token,
		Status:         ConsolidationInProgress,
		CreatedAt:      s.clock(),
	}
	s.appendRecord(record)

	txHash, err := s.handler.Consolidate(ctx, ConsolidationRequest{
		FromAddresses:  addresses,
		ToVaultAddress: opts.ToVaultAddress,
		Chain:          opts.Chain,
		Token:          opts.Token,
	})

	now := s.clock()
	s.mu.Lock()
	if err != nil {
		record.Status = ConsolidationFailed
		record.Error = err.Error()
	} else {
		record.Status = ConsolidationCompleted
		record.TxHash = txHash
	}
	record.CompletedAt = &now
	s.mu.Unlock()

	if err := s.flush(ctx); err != nil {
		return record, err
	}
	if err != nil {
		return record, aesperrors.Wrap(aesperrors.CryptoError, "consolidation handler failed", err)
	}

	for _, addr := range addresses {
		_ = s.pool.UpdateAddressStatus(ctx, addr, StatusConsolidated)
		if s.tags == nil {
			continue
		}
		for _, tag := range s.tags.TagsForAddress(addr) {
			if err := s.tags.UpdateTagConsolidation(ctx, tag.ID, record.TxHash); err != nil {
				s.log.Warn("privacy: failed to stamp consolidation tx on context tag", zap.String("tagId", tag.ID), zap.Error(err))
			}
		}
	}
	return record, nil
}

// ConsolidateBatched takes every funded inbound address, shuffles with
// Fisher-Yates, partitions into chunks of MaxBatchSize, and processes
// chunks sequentially with a uniformly random inter-batch delay.
func (s *Scheduler) ConsolidateBatched(ctx context.Context, opts BatchedConsolidationOptions) ([]*ConsolidationRecord, error) {
	if opts.MaxBatchSize <= 0 {
		opts.MaxBatchSize = 5
	}
	if opts.MinInterBatch <= 0 && opts.MaxInterBatch <= 0 {
		opts.MinInterBatch = 10 * time.Minute
		opts.MaxInterBatch = 60 * time.Minute
	}

	eligible := s.pool.GetAddressesForConsolidation()
	addrs := make([]string, len(eligible))
	for i, ea := range eligible {
		addrs[i] = ea.Address
	}
	s.fisherYatesShuffle(addrs)

	var records []*ConsolidationRecord
	for start := 0; start < len(addrs); start += opts.MaxBatchSize {
		end := start + opts.MaxBatchSize
		if end > len(addrs) {
			end = len(addrs)
		}
		record, err := s.ConsolidateSingleBatch(ctx, addrs[start:end], opts)
		records = append(records, record)
		if err != nil {
			s.log.Warn("privacy: consolidation batch failed, continuing", zap.Error(err))
		}
		if end < len(addrs) {
			delay := s.interBatchDelay(opts.MinInterBatch, opts.MaxInterBatch)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return records, ctx.Err()
			}
		}
	}
	return records, nil
}

func (s *Scheduler) fisherYatesShuffle(addrs []string) {
	for i := len(addrs) - 1; i > 0; i-- {
		j := s.rng.Intn(i + 1)
		addrs[i], addrs[j] = addrs[j], addrs[i]
	}
}

func (s *Scheduler) interBatchDelay(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	span := int64(max - min)
	return min + time.Duration(s.rng.Int63n(span))
}

// ShouldConsolidate reports whether the eligible (funded inbound)
// address count has reached threshold.
func (s *Scheduler) ShouldConsolidate(threshold int) bool {
	return len(s.pool.GetAddressesForConsolidation()) >= threshold
}

// ScheduleConsolidation starts a chain of self-rescheduling one-shot
// timers, each delay drawn as base*(1±jitterRatio). A failed run does
// not halt future runs. Cancellation via Dispose removes the pending
// timer.
func (s *Scheduler) ScheduleConsolidation(ctx context.Context, opts ScheduleOptions) {
	base := opts.BaseInterval
	if base <= 0 {
		base = 4 * time.Hour
	}
	jitter := opts.JitterRatio
	if jitter < 0 {
		jitter = 0
	}
	if jitter > 1 {
		jitter = 1
	}
	opts.BaseInterval = base
	opts.JitterRatio = jitter
	s.scheduleNext(ctx, opts)
}

func (s *Scheduler) scheduleNext(ctx context.Context, opts ScheduleOptions) {
	s.scheduleMu.Lock()
	defer s.scheduleMu.Unlock()
	if s.cancelled {
		return
	}
	delay := s.jitteredDelay(opts.BaseInterval, opts.JitterRatio)
	s.timer = time.AfterFunc(delay, func() {
		if s.ShouldConsolidate(opts.ConsolidationThreshold) {
			if _, err := s.ConsolidateBatched(ctx, opts.BatchedConsolidationOptions); err != nil {
				s.log.Warn("privacy: scheduled consolidation run failed", zap.Error(err))
			}
		}
		s.scheduleNext(ctx, opts)
	})
}

func (s *Scheduler) jitteredDelay(base time.Duration, jitterRatio float64) time.Duration {
	if jitterRatio == 0 {
		return base
	}
	// delay = base * (1 + u), u uniform in [-jitterRatio, jitterRatio]
	u := (s.rng.Float64()*2 - 1) * jitterRatio
	return time.Duration(float64(base) * (1 + u))
}

// Dispose cancels any pending scheduled timer.
func (s *Scheduler) Dispose() {
	s.scheduleMu.Lock()
	defer s.scheduleMu.Unlock()
	s.cancelled = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
