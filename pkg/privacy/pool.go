package privacy

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aesp-labs/aesp-core/pkg/aesperrors"
	"github.com/aesp-labs/aesp-core/pkg/aespcrypto"
	"github.com/aesp-labs/aesp-core/pkg/eventbus"
	"github.com/aesp-labs/aesp-core/pkg/storage"
)

// PoolDebounceWindow is the coalescing window for address-pool
// persistence (spec.md §4.7: "≈100 ms").
const PoolDebounceWindow = 100 * time.Millisecond

// evmChains lists chains whose addresses the façade's EVM-specific
// context API should be tried first for. Anything else is routed to
// the non-EVM API, with a unified-API fallback either way.
var evmChains = map[string]bool{
	"ethereum":  true,
	"polygon":   true,
	"arbitrum":  true,
	"optimism":  true,
	"base":      true,
	"bsc":       true,
	"avalanche": true,
}

func isEVMChain(chain string) bool { return evmChains[strings.ToLower(chain)] }

// Pool is the Address Pool: per-(agentId, chain) ephemeral and pooled
// addresses, context-isolated via the Crypto façade.
type Pool struct {
	mu        sync.Mutex
	addresses map[string]*EphemeralAddress // keyed by address
	sequence  map[poolKey]uint64

	facade aespcrypto.Facade
	store  storage.Store
	bus    *eventbus.Bus
	log    *zap.Logger
	clock  func() time.Time

	debounceMu sync.Mutex
	timer      *time.Timer
	disposed   bool
}

// NewPool constructs a Pool. facade must report
// SupportsContextIsolatedDerivation() == true; every derivation call
// fails with Rev32Required otherwise.
func NewPool(facade aespcrypto.Facade, store storage.Store, bus *eventbus.Bus, log *zap.Logger, clock func() time.Time) *Pool {
	if log == nil {
		log = zap.NewNop()
	}
	if clock == nil {
		clock = time.Now
	}
	return &Pool{
		addresses: make(map[string]*EphemeralAddress),
		sequence:  make(map[poolKey]uint64),
		facade:    facade,
		store:     store,
		bus:       bus,
		log:       log,
		clock:     clock,
	}
}

// Load restores every persisted address and recomputes per-key
// sequence counters from the restored set.
func (p *Pool) Load(ctx context.Context) error {
	var addresses map[string]*EphemeralAddress
	found, err := p.store.Get(ctx, storage.KeyAddressPool, &addresses)
	if err != nil {
		return aesperrors.Wrap(aesperrors.CryptoError, "load address pool", err)
	}
	if !found {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.addresses = addresses
	for _, addr := range addresses {
		key := poolKey{AgentID: addr.AgentID, Chain: addr.Chain}
		// ContextInfo segments carry seq:<n>; the sequence counter only
		// needs to be monotonic, so a length-based reconstruction would
		// drift — track the highest observed seq:<n> per key instead.
		parts := strings.Split(addr.ContextInfo, ":")
		for i := 0; i+1 < len(parts); i++ {
			if parts[i] != "seq" {
				continue
			}
			if n, err := strconv.ParseUint(parts[i+1], 10, 64); err == nil && n > p.sequence[key] {
				p.sequence[key] = n
			}
		}
	}
	return nil
}

func (p *Pool) scheduleFlush(ctx context.Context) {
	p.debounceMu.Lock()
	defer p.debounceMu.Unlock()
	if p.disposed {
		return
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(PoolDebounceWindow, func() {
		if err := p.Flush(ctx); err != nil {
			p.log.Warn("privacy: debounced address pool flush failed", zap.Error(err))
		}
	})
}

// Flush writes the pool to Storage immediately.
func (p *Pool) Flush(ctx context.Context) error {
	p.mu.Lock()
	snapshot := make(map[string]*EphemeralAddress, len(p.addresses))
	for k, v := range p.addresses {
		snapshot[k] = v
	}
	p.mu.Unlock()
	if err := p.store.Set(ctx, storage.KeyAddressPool, snapshot); err != nil {
		return aesperrors.Wrap(aesperrors.CryptoError, "persist address pool", err)
	}
	return nil
}

// Dispose cancels any pending debounced flush.
func (p *Pool) Dispose() {
	p.debounceMu.Lock()
	defer p.debounceMu.Unlock()
	p.disposed = true
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

// deriveAddress dispatches to the façade's EVM or non-EVM context API
// by chain, falling back to the unified context API when the
// chain-specific one is unavailable.
func (p *Pool) deriveAddress(ctx context.Context, ownerIdentity, chain, contextString string) (string, error) {
	if !p.facade.SupportsContextIsolatedDerivation() {
		return "", aesperrors.New(aesperrors.Rev32Required, "facade does not support context-isolated derivation")
	}
	var (
		address string
		err     error
	)
	if isEVMChain(chain) {
		address, err = p.facade.DeriveEVMContext(ctx, ownerIdentity, contextString)
	} else {
		address, err = p.facade.DeriveNonEVMContext(ctx, ownerIdentity, chain, contextString)
	}
	if err == aespcrypto.ErrContextAPIUnavailable {
		address, err = p.facade.DeriveUnifiedContext(ctx, ownerIdentity, chain, contextString)
	}
	if err != nil {
		return "", aesperrors.Wrap(aesperrors.CryptoError, "context-isolated derivation", err)
	}
	return address, nil
}

// DeriveEphemeralAddress increments the pool's sequence counter for
// (agentID, chain), derives a fresh address scoped to a new tx UUID,
// stores it assigned, and returns it.
func (p *Pool) DeriveEphemeralAddress(ctx context.Context, ownerIdentity, agentID, chain string, direction Direction) (*EphemeralAddress, error) {
	key := poolKey{AgentID: agentID, Chain: chain}

	p.mu.Lock()
	p.sequence[key]++
	seq := p.sequence[key]
	p.mu.Unlock()

	txUUID := p.facade.NewUUID()
	contextString := buildContextString(agentSegment(agentID), dirSegment(direction), seqSegment(seq), txSegment(txUUID))
	address, err := p.deriveAddress(ctx, ownerIdentity, chain, contextString)
	if err != nil {
		return nil, err
	}

	ea := &EphemeralAddress{
		Address:        address,
		Chain:          chain,
		ContextInfo:    contextString,
		AgentID:        agentID,
		Direction:      direction,
		Status:         StatusAssigned,
		AssignedTxUUID: txUUID,
		CreatedAt:      p.clock(),
	}

	p.mu.Lock()
	p.addresses[address] = ea
	p.mu.Unlock()
	p.scheduleFlush(ctx)
	return ea, nil
}

// GetBasicAddress returns a stable, deterministic address per
// (agentID, chain, direction). Repeated calls return the same
// EphemeralAddress record; it is never pooled or consumed.
func (p *Pool) GetBasicAddress(ctx context.Context, ownerIdentity, agentID, chain string, direction Direction) (*EphemeralAddress, error) {
	contextString := buildContextString(agentSegment(agentID), dirSegment(direction), modeBasicSegment)

	p.mu.Lock()
	for _, existing := range p.addresses {
		if existing.ContextInfo == contextString && existing.Chain == chain {
			p.mu.Unlock()
			return existing, nil
		}
	}
	p.mu.Unlock()

	address, err := p.deriveAddress(ctx, ownerIdentity, chain, contextString)
	if err != nil {
		return nil, err
	}
	ea := &EphemeralAddress{
		Address:     address,
		Chain:       chain,
		ContextInfo: contextString,
		AgentID:     agentID,
		Direction:   direction,
		Status:      StatusAssigned,
		CreatedAt:   p.clock(),
	}
	p.mu.Lock()
	p.addresses[address] = ea
	p.mu.Unlock()
	p.scheduleFlush(ctx)
	return ea, nil
}

// ReplenishPool pre-derives count-minus-available addresses tagged
// pool:pre and status=available for (agentID, chain, direction).
func (p *Pool) ReplenishPool(ctx context.Context, ownerIdentity, agentID, chain string, direction Direction, count int) ([]*EphemeralAddress, error) {
	available := 0
	p.mu.Lock()
	for _, addr := range p.addresses {
		if addr.AgentID == agentID && addr.Chain == chain && addr.Direction == direction && addr.Status == StatusAvailable {
			available++
		}
	}
	p.mu.Unlock()

	toCreate := count - available
	if toCreate <= 0 {
		return nil, nil
	}

	key := poolKey{AgentID: agentID, Chain: chain}
	created := make([]*EphemeralAddress, 0, toCreate)
	for i := 0; i < toCreate; i++ {
		p.mu.Lock()
		p.sequence[key]++
		seq := p.sequence[key]
		p.mu.Unlock()

		contextString := buildContextString(agentSegment(agentID), dirSegment(direction), seqSegment(seq), poolPreSegment)
		address, err := p.deriveAddress(ctx, ownerIdentity, chain, contextString)
		if err != nil {
			return created, err
		}
		ea := &EphemeralAddress{
			Address:     address,
			Chain:       chain,
			ContextInfo: contextString,
			AgentID:     agentID,
			Direction:   direction,
			Status:      StatusAvailable,
			CreatedAt:   p.clock(),
		}
		p.mu.Lock()
		p.addresses[address] = ea
		p.mu.Unlock()
		created = append(created, ea)
	}
	p.scheduleFlush(ctx)
	return created, nil
}

// ClaimFromPool returns the oldest available address for (agentID,
// chain, direction), marking it assigned. The second return value is
// false when the pool has nothing available.
func (p *Pool) ClaimFromPool(ctx context.Context, agentID, chain string, direction Direction) (*EphemeralAddress, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var oldest *EphemeralAddress
	for _, addr := range p.addresses {
		if addr.AgentID != agentID || addr.Chain != chain || addr.Direction != direction || addr.Status != StatusAvailable {
			continue
		}
		if oldest == nil || addr.CreatedAt.Before(oldest.CreatedAt) {
			oldest = addr
		}
	}
	if oldest == nil {
		return nil, false
	}

	now := p.clock()
	oldest.Status = StatusAssigned
	oldest.AssignedTxUUID = p.facade.NewUUID()
	oldest.UsedAt = &now
	p.scheduleFlush(ctx)
	return oldest, true
}

// ResolveAddress implements the three privacy levels: transparent
// returns nil (caller uses the vault address directly); basic returns
// the deterministic per-agent address; isolated claims from the pool,
// falling back to a fresh derivation when the pool is empty.
func (p *Pool) ResolveAddress(ctx context.Context, ownerIdentity string, params ResolveParams) (*EphemeralAddress, error) {
	switch params.PrivacyLevel {
	case PrivacyTransparent:
		return nil, nil
	case PrivacyBasic:
		return p.GetBasicAddress(ctx, ownerIdentity, params.AgentID, params.Chain, params.Direction)
	case PrivacyIsolated:
		if addr, ok := p.ClaimFromPool(ctx, params.AgentID, params.Chain, params.Direction); ok {
			return addr, nil
		}
		return p.DeriveEphemeralAddress(ctx, ownerIdentity, params.AgentID, params.Chain, params.Direction)
	default:
		return nil, aesperrors.New(aesperrors.InvalidPrivacyLevel, "unknown privacy level: "+string(params.PrivacyLevel))
	}
}

// UpdateAddressStatus transitions an address's status. The only
// transitions are assigned -> funded, and funded -> spent or
// funded -> consolidated.
func (p *Pool) UpdateAddressStatus(ctx context.Context, address string, to AddressStatus) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ea, ok := p.addresses[address]
	if !ok {
		return aesperrors.New(aesperrors.InvalidStatusTransition, "address not found in pool")
	}
	if !addressStatusTransitionAllowed(ea.Status, to) {
		return aesperrors.New(aesperrors.InvalidStatusTransition, "illegal address status transition: "+string(ea.Status)+" -> "+string(to))
	}
	ea.Status = to
	p.scheduleFlush(ctx)
	if p.bus != nil {
		p.bus.Publish(eventbus.Event{Topic: "privacy.address_status_changed", Payload: ea})
	}
	return nil
}

func addressStatusTransitionAllowed(from, to AddressStatus) bool {
	switch from {
	case StatusAssigned:
		return to == StatusFunded
	case StatusFunded:
		return to == StatusSpent || to == StatusConsolidated
	default:
		return false
	}
}

// GetAddressesForConsolidation returns every inbound address in the
// funded state, across all agents and chains.
func (p *Pool) GetAddressesForConsolidation() []*EphemeralAddress {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*EphemeralAddress
	for _, addr := range p.addresses {
		if addr.Direction == DirectionInbound && addr.Status == StatusFunded {
			out = append(out, addr)
		}
	}
	return out
}

// Get returns the pool record for address, if present.
func (p *Pool) Get(address string) (*EphemeralAddress, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ea, ok := p.addresses[address]
	return ea, ok
}
