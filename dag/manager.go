// Package dag implements the DAG manager of spec §4.2: block admission,
// pivot-chain selection, anchor ordering, and expiry. The pivot tree and
// total DAG are kept as an arena of blocks keyed by hash with adjacency
// maps, per spec §9 ("Arena + index for the DAG"), replacing
// daglabs-btcd's blockdag package's shared-pointer blockNode graph — the
// locking discipline (one exclusive mutex for mutators, an outer
// order-preserving mutex around addDagBlock per spec §5) and virtual-tip
// bookkeeping are grounded on blockdag/virtualblock.go and blockdag/dag.go.
package dag

import (
	"sync"

	"github.com/dagchain/dagchain/crypto"
	"github.com/dagchain/dagchain/errs"
	"github.com/dagchain/dagchain/logger"
	"github.com/dagchain/dagchain/state"
	"github.com/dagchain/dagchain/types"
	"github.com/pkg/errors"
)

var log, _ = logger.Get(logger.SubsystemTags.DAG)

// VerifyStatus is the outcome of verifyBlock (spec §4.2).
type VerifyStatus int

const (
	Verified VerifyStatus = iota
	MissingTransaction
	FailedTipsVerification
	AheadBlock
	ExpiredBlock
	FailedVdfVerification
	NotEligible
	FutureBlock
	IncorrectTransactionsEstimation
	BlockTooBig
	MissingTip
)

func (s VerifyStatus) String() string {
	switch s {
	case Verified:
		return "verified"
	case MissingTransaction:
		return "missing-transaction"
	case FailedTipsVerification:
		return "failed-tips-verification"
	case AheadBlock:
		return "ahead-block"
	case ExpiredBlock:
		return "expired-block"
	case FailedVdfVerification:
		return "failed-vdf-verification"
	case NotEligible:
		return "not-eligible"
	case FutureBlock:
		return "future-block"
	case IncorrectTransactionsEstimation:
		return "incorrect-transactions-estimation"
	case BlockTooBig:
		return "block-too-big"
	case MissingTip:
		return "missing-tip"
	default:
		return "unknown"
	}
}

// TransactionSource resolves transaction hashes to bodies, satisfied by the
// transaction pool (spec §4.1's non-finalized query feeds block verification).
type TransactionSource interface {
	GetNonfinalizedTrx(hashes []types.Hash) []types.Hash
	TransactionByHash(hash types.Hash) (*types.Transaction, bool)
	RemoveNonFinalizedTransactions(trxs []*types.Transaction)
	SaveTransactionsFromDagBlock(trxs []*types.Transaction)
	MarkFinalized(trxs []*types.Transaction)
}

// Config bounds the DAG manager's admission rules (spec §3, §4.2).
type Config struct {
	DagBlockMaxTips    int
	DagGasLimit        uint64
	PbftGasLimit       uint64
	DagExpiryLimit     uint64 // levels of history retained behind the anchor
	LightNodeHistory   uint64 // 0 disables light-node pruning
	MaxLevelsPerPeriod uint64

	// BaseVDFDifficulty and MinStakeUnit parameterize
	// crypto.DifficultyFromStake (spec §4.3 "VDF difficulty"). The proposer
	// must use the same values to compute a proof verifyBlock will accept,
	// so they live on the shared Config rather than being duplicated.
	BaseVDFDifficulty uint64
	MinStakeUnit      uint64

	// CommitteeSize parameterizes the VRF-based proposer sortition threshold
	// (spec §3 "Sortition": threshold = stake/total_stake * committee_size),
	// shared with the proposer so a submitted block's VRF proof clears the
	// same bound verifyBlock checks it against.
	CommitteeSize uint64
}

// node is one arena entry: a DagBlock plus its adjacency in both the pivot
// tree and the total DAG.
type node struct {
	block *types.DagBlock
	hash  types.Hash
	level uint64
}

// Manager is the DAG manager (spec §4.2). The zero value is not usable;
// construct via New.
type Manager struct {
	mu              sync.RWMutex
	orderDagBlocksMu sync.Mutex // outer mutex: preserves acceptance order for gossip (spec §5)

	cfg   Config
	state state.API
	trxs  TransactionSource
	vrf   crypto.VRFVerifier

	arena map[types.Hash]*node

	pivotChildren map[types.Hash][]types.Hash
	tipsChildren  map[types.Hash][]types.Hash
	parentsOf     map[types.Hash]struct{ pivot types.Hash; tips []types.Hash }

	nonFinalizedByLevel map[uint64]map[types.Hash]struct{}
	leaves              map[types.Hash]struct{} // total-DAG leaves: blocks with no children in either tree

	// trxBodies caches the body of every transaction referenced by a block
	// currently in the arena, since once SaveTransactionsFromDagBlock moves a
	// transaction out of the pool the pool itself can no longer resolve it.
	// Entries are dropped once their owning block is finalized or expired.
	trxBodies map[types.Hash]*types.Transaction

	anchor    types.Hash
	oldAnchor types.Hash
	period    uint64
	genesis   types.Hash

	finalizedDagBlockCount uint64

	onBlockAdded []func(block *types.DagBlock)
}

// New constructs a Manager rooted at genesis.
func New(cfg Config, stateAPI state.API, trxs TransactionSource, genesis *types.DagBlock) *Manager {
	m := &Manager{
		cfg:                 cfg,
		state:               stateAPI,
		trxs:                trxs,
		vrf:                 crypto.NewECDSAVRFVerifier(),
		arena:               make(map[types.Hash]*node),
		pivotChildren:       make(map[types.Hash][]types.Hash),
		tipsChildren:        make(map[types.Hash][]types.Hash),
		parentsOf:           make(map[types.Hash]struct{ pivot types.Hash; tips []types.Hash }),
		nonFinalizedByLevel: make(map[uint64]map[types.Hash]struct{}),
		leaves:              make(map[types.Hash]struct{}),
		trxBodies:           make(map[types.Hash]*types.Transaction),
	}
	m.seedAnchor(genesis, types.Hash{})
	return m
}

// seedAnchor re-roots the DAG at anchorBlock, matching spec §4.2 step 3 of
// setDagBlockOrder ("Clear pivot_tree and total_dag; re-seed them with the
// new anchor at level 0").
func (m *Manager) seedAnchor(anchorBlock *types.DagBlock, oldAnchor types.Hash) {
	hash := anchorBlock.Hash()
	m.arena = map[types.Hash]*node{hash: {block: anchorBlock, hash: hash, level: 0}}
	m.pivotChildren = map[types.Hash][]types.Hash{}
	m.tipsChildren = map[types.Hash][]types.Hash{}
	m.parentsOf = map[types.Hash]struct{ pivot types.Hash; tips []types.Hash }{}
	m.nonFinalizedByLevel = map[uint64]map[types.Hash]struct{}{}
	m.leaves = map[types.Hash]struct{}{hash: {}}
	m.anchor = hash
	m.oldAnchor = oldAnchor
	if m.genesis == (types.Hash{}) {
		m.genesis = hash
	}
}

// OnBlockAdded registers a handler invoked after a block is admitted.
func (m *Manager) OnBlockAdded(handler func(block *types.DagBlock)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onBlockAdded = append(m.onBlockAdded, handler)
}

// IsAttachedToNonFinalizedBlock satisfies txpool.NonFinalizedLookup: reports
// whether trxHash is referenced by a block still present in the arena.
func (m *Manager) IsAttachedToNonFinalizedBlock(trxHash types.Hash) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, n := range m.arena {
		for _, h := range n.block.TrxHashes {
			if h == trxHash {
				return true
			}
		}
	}
	return false
}

// dagExpiryLevel computes spec §4.2's "level(anchor) - dag_expiry_limit when positive".
func (m *Manager) dagExpiryLevel() uint64 {
	anchorLevel := m.arena[m.anchor].level
	if anchorLevel <= m.cfg.DagExpiryLimit {
		return 0
	}
	return anchorLevel - m.cfg.DagExpiryLimit
}

// GetLatestPivotAndTips returns the current frontier (spec §4.2).
func (m *Manager) GetLatestPivotAndTips() (pivot types.Hash, tips []types.Hash) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.frontierLocked()
}

// GetDagFrontier is an alias for GetLatestPivotAndTips (spec §4.2 naming).
func (m *Manager) GetDagFrontier() (pivot types.Hash, tips []types.Hash) {
	return m.GetLatestPivotAndTips()
}

// SortitionParams exposes BaseVDFDifficulty/MinStakeUnit/CommitteeSize so the
// proposer computes proofs and sortition checks against the exact parameters
// verifyBlock checks them with.
func (m *Manager) SortitionParams() (baseDifficulty, minStakeUnit, committeeSize uint64) {
	return m.cfg.BaseVDFDifficulty, m.cfg.MinStakeUnit, m.cfg.CommitteeSize
}

// Period returns the DAG manager's current (pending) period, i.e. the
// period the next SetDagBlockOrder/GetDagBlockOrder call must target.
func (m *Manager) Period() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.period
}

// DagLevel returns the level of the current pivot tip, for status exchange
// and sync target selection (spec §4.7, §4.8).
func (m *Manager) DagLevel() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pivot, _ := m.frontierLocked()
	return m.arena[pivot].level
}

// GetNonFinalizedBlocks returns every block currently in the arena.
func (m *Manager) GetNonFinalizedBlocks() []*types.DagBlock {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*types.DagBlock, 0, len(m.arena))
	for _, n := range m.arena {
		out = append(out, n.block)
	}
	return out
}

// GetDagBlock looks up a single block by hash, satisfying sync's
// DagSyncPacket reply assembly (spec §4.8).
func (m *Manager) GetDagBlock(hash types.Hash) (*types.DagBlock, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.arena[hash]
	if !ok {
		return nil, false
	}
	return n.block, true
}

// BlocksForHashes resolves every hash present in the arena, skipping ones
// that aren't (e.g. already pruned past the expiry floor).
func (m *Manager) BlocksForHashes(hashes []types.Hash) []*types.DagBlock {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*types.DagBlock, 0, len(hashes))
	for _, h := range hashes {
		if n, ok := m.arena[h]; ok {
			out = append(out, n.block)
		}
	}
	return out
}

// TransactionsForBlocks resolves every transaction body referenced by
// blocks, drawing on the trxBodies cache the same way block verification
// does.
func (m *Manager) TransactionsForBlocks(blocks []*types.DagBlock) []*types.Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[types.Hash]struct{})
	var out []*types.Transaction
	for _, b := range blocks {
		for _, h := range b.TrxHashes {
			if _, dup := seen[h]; dup {
				continue
			}
			seen[h] = struct{}{}
			if trx, ok := m.trxBodies[h]; ok {
				out = append(out, trx)
			}
		}
	}
	return out
}

// PacketErrorForVerify classifies a VerifyStatus for the network layer's
// disconnect policy (spec §7), letting a packet dispatcher turn AddDagBlock's
// result directly into the errs.Kind that governs whether the sending peer
// gets disconnected.
func PacketErrorForVerify(status VerifyStatus) *errs.PacketError {
	switch status {
	case Verified:
		return nil
	case MissingTransaction, AheadBlock, FutureBlock:
		return errs.Wrap(errs.KindTransientUnknown, errors.New(status.String()), "block not yet actionable")
	case ExpiredBlock:
		return errs.Wrap(errs.KindStaleInput, errors.New(status.String()), "block expired")
	default:
		return errs.Wrap(errs.KindPeerMalicious, errors.New(status.String()), "invalid block")
	}
}
