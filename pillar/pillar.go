// Package pillar implements the pillar chain manager of spec §4.6: periodic
// BLS-checkpointed blocks summarizing validator stake movement for external
// bridges, built at every period that is a multiple of the configured
// pillar-block interval. Signature collection (unique-by-signer, weighted
// by DPoS stake, 2t+1 finalization) mirrors vote.Manager's quorum-tracking
// idiom; BLS aggregation is delegated to crypto.BLSAggregator (blst),
// grounded on prysmaticlabs-prysm's usage of the same library.
package pillar

import (
	"math/big"
	"sync"

	"github.com/dagchain/dagchain/crypto"
	"github.com/dagchain/dagchain/logger"
	"github.com/dagchain/dagchain/state"
	"github.com/dagchain/dagchain/types"
	"github.com/pkg/errors"
)

var log, _ = logger.Get(logger.SubsystemTags.PILR)

// ValidatorStakeLister enumerates validators whose stake may have moved
// since the previous pillar block, so the new one can carry their deltas
// (spec §4.6 "list of validator stake deltas since the prior pillar
// block"). state.API has no validator-enumeration surface (deliberately
// opaque, spec §1), so this is satisfied by whatever external bookkeeping
// the node wiring provides; a nil lister yields an empty delta list.
type ValidatorStakeLister interface {
	TrackedValidators(period uint64) ([]types.Address, error)
}

// Config bounds when pillar blocks are built (spec §4.6, §3 glossary
// "ficus.pillar_block_periods" / "ficus_hf.block_num").
type Config struct {
	PillarBlockPeriods uint64
	FicusHFBlockNum    uint64
	// CheckLatestBlockBlsSigsEvery is spec §4.6's kCheckLatestBlockBlsSigs.
	CheckLatestBlockBlsSigsEvery uint64
}

// IsEpochBoundary reports whether period is a pillar-block-eligible period
// (spec §4.6 "At every period P that is a multiple of
// ficus.pillar_block_periods (and >= ficus_hf.block_num)").
func (cfg Config) IsEpochBoundary(period uint64) bool {
	if cfg.PillarBlockPeriods == 0 {
		return false
	}
	return period >= cfg.FicusHFBlockNum && period%cfg.PillarBlockPeriods == 0
}

// Manager builds pillar blocks at epoch boundaries and collects BLS
// signatures toward 2t+1 finalization (spec §4.6).
type Manager struct {
	cfg        Config
	state      state.API
	lister     ValidatorStakeLister
	aggregator crypto.BLSAggregator

	mu sync.RWMutex

	// byPeriod holds every pillar block constructed so far, keyed by the
	// period it summarizes; PillarBlockHashForPeriod consults this so the
	// proposer of period+1 can reference the prior period's checkpoint the
	// same way reward votes reference the prior period's cert votes.
	byPeriod map[uint64]*types.PillarBlock

	latestFinalized *types.PillarBlock

	// sigs[pillarBlockHash][signer] is the unique signature accepted from
	// signer over that hash.
	sigs map[types.Hash]map[types.Address]*types.PillarVote

	// lastStakeByValidator holds each tracked validator's stake as of the
	// most recently built pillar block, so the next block's StakesChanges
	// can report the delta since then rather than an absolute snapshot
	// (spec §3 "Stakes-changes is the delta between consecutive pillar
	// blocks").
	lastStakeByValidator map[types.Address]uint64
}

// New constructs a Manager. lister may be nil.
func New(cfg Config, stateAPI state.API, lister ValidatorStakeLister) *Manager {
	return &Manager{
		cfg:                  cfg,
		state:                stateAPI,
		lister:               lister,
		aggregator:           crypto.NewBLSAggregator(),
		byPeriod:             make(map[uint64]*types.PillarBlock),
		sigs:                 make(map[types.Hash]map[types.Address]*types.PillarVote),
		lastStakeByValidator: make(map[types.Address]uint64),
	}
}

// BuildPillarBlockIfBoundary constructs and stores a new PillarBlock for
// period if it is an epoch boundary, given the state root the executor
// settled on for that period (spec §4.6).
func (m *Manager) BuildPillarBlockIfBoundary(period uint64, stateRoot types.Hash) (*types.PillarBlock, error) {
	if !m.cfg.IsEpochBoundary(period) {
		return nil, nil
	}

	var changes []types.StakeChange
	if m.lister != nil {
		validators, err := m.lister.TrackedValidators(period)
		if err != nil {
			return nil, errors.Wrap(err, "failed to list tracked validators")
		}
		m.mu.Lock()
		for _, addr := range validators {
			stake, err := m.state.DposEligibleVoteCount(period, addr)
			if err != nil {
				continue
			}
			prev := m.lastStakeByValidator[addr]
			delta := new(big.Int).Sub(new(big.Int).SetUint64(stake), new(big.Int).SetUint64(prev))
			if delta.Sign() != 0 {
				changes = append(changes, types.StakeChange{Validator: addr, Delta: delta})
			}
			m.lastStakeByValidator[addr] = stake
		}
		m.mu.Unlock()
	}

	m.mu.Lock()
	prevHash := types.Hash{}
	if m.latestFinalized != nil {
		prevHash = m.latestFinalized.Hash()
	}
	m.mu.Unlock()

	block := &types.PillarBlock{
		Period:                  period,
		StateRoot:               stateRoot,
		PreviousPillarBlockHash: prevHash,
		StakesChanges:           changes,
		Epoch:                   period / m.cfg.PillarBlockPeriods,
	}

	m.mu.Lock()
	m.byPeriod[period] = block
	m.mu.Unlock()

	log.Infof("constructed pillar block for period %d (hash %x)", period, block.Hash())
	return block, nil
}

// PillarBlockHashForPeriod satisfies pbft.PillarBlockHasher: it returns the
// hash of the pillar block built for the previous period, if any, so a
// proposer building the block for `period` can reference the checkpoint its
// predecessor just produced.
func (m *Manager) PillarBlockHashForPeriod(period uint64) *types.Hash {
	if period == 0 {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	block, ok := m.byPeriod[period-1]
	if !ok {
		return nil
	}
	h := block.Hash()
	return &h
}

// AddPillarVote records a BLS signature over a pillar block hash, unique by
// signer (spec §4.6 "Signing"). Returns true whenever a newly recorded
// signer leaves the accumulated weight for that hash at or above a 2t+1
// quorum.
func (m *Manager) AddPillarVote(vote *types.PillarVote) (quorumReached bool, err error) {
	totalStake, err := m.state.DposTotalEligibleVoteCount(vote.Period)
	if err != nil {
		return false, errors.Wrap(err, "failed to resolve total stake")
	}
	weight, err := m.state.DposEligibleVoteCount(vote.Period, vote.Signer)
	if err != nil {
		return false, errors.Wrap(err, "failed to resolve signer stake")
	}
	if weight == 0 {
		return false, errors.New("signer holds no eligible stake at this period")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sigs[vote.PillarBlockHash] == nil {
		m.sigs[vote.PillarBlockHash] = make(map[types.Address]*types.PillarVote)
	}
	if _, dup := m.sigs[vote.PillarBlockHash][vote.Signer]; dup {
		return false, nil
	}
	m.sigs[vote.PillarBlockHash][vote.Signer] = vote

	var accumulated uint64
	for signer := range m.sigs[vote.PillarBlockHash] {
		w, err := m.state.DposEligibleVoteCount(vote.Period, signer)
		if err != nil {
			continue
		}
		accumulated += w
	}
	if accumulated < quorumThreshold(totalStake) {
		return false, nil
	}

	for period, block := range m.byPeriod {
		if block.Hash() == vote.PillarBlockHash {
			if m.latestFinalized == nil || period > m.latestFinalized.Period {
				m.latestFinalized = block
			}
			break
		}
	}
	return true, nil
}

func quorumThreshold(totalStake uint64) uint64 {
	return totalStake*2/3 + 1
}

// AggregateSignatures combines every accepted signature for hash into one
// BLS aggregate, for inclusion in a gossiped bundle (spec §4.6 "Signatures
// are gossiped individually and in bundles").
func (m *Manager) AggregateSignatures(hash types.Hash) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bucket := m.sigs[hash]
	sigs := make([][]byte, 0, len(bucket))
	for _, v := range bucket {
		sigs = append(sigs, v.BLSSignature)
	}
	return m.aggregator.Aggregate(sigs)
}

// LatestFinalized returns the most recently 2t+1-signed pillar block, or nil
// if none has finalized yet.
func (m *Manager) LatestFinalized() *types.PillarBlock {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latestFinalized
}

// VotesForBlock returns every individually accepted BLS vote over hash, for
// a PillarVotesBundlePacket reply (spec §4.6, §4.8): peers that missed the
// gossiped votes reconstruct the bundle from these rather than only the
// combined aggregate AggregateSignatures returns.
func (m *Manager) VotesForBlock(hash types.Hash) []*types.PillarVote {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bucket := m.sigs[hash]
	out := make([]*types.PillarVote, 0, len(bucket))
	for _, v := range bucket {
		out = append(out, v)
	}
	return out
}

// BlockForPeriod looks up the pillar block built for period, if any, for a
// GetPillarVotesBundlePacket request keyed by period rather than hash.
func (m *Manager) BlockForPeriod(period uint64) (*types.PillarBlock, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.byPeriod[period]
	return b, ok
}

// NeedsBundleRequest implements spec §4.6's periodic check: every
// kCheckLatestBlockBlsSigs blocks, if the latest pillar block lacks a 2t+1
// signature set, a bundle should be requested from a peer.
func (m *Manager) NeedsBundleRequest(currentPeriod uint64) bool {
	if m.cfg.CheckLatestBlockBlsSigsEvery == 0 {
		return false
	}
	if currentPeriod%m.cfg.CheckLatestBlockBlsSigsEvery != 0 {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.byPeriod) == 0 {
		return false
	}
	var newestPeriod uint64
	var newestBlock *types.PillarBlock
	for period, block := range m.byPeriod {
		if period >= newestPeriod {
			newestPeriod, newestBlock = period, block
		}
	}
	if newestBlock == nil {
		return false
	}
	return m.latestFinalized == nil || m.latestFinalized.Hash() != newestBlock.Hash()
}
