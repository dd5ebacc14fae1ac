package dag

import (
	"github.com/dagchain/dagchain/types"
	"github.com/pkg/errors"
)

// AddDagBlock verifies and inserts block into the pivot tree and total DAG
// (spec §4.2). proposed indicates the block originated locally; it only
// appears in the admission log line and does not change how the block is
// verified or locked.
func (m *Manager) AddDagBlock(block *types.DagBlock, trxs []*types.Transaction, proposed bool) (VerifyStatus, error) {
	// order_dag_blocks_mutex_: guarantees that gossip of two successively
	// accepted blocks from the same thread preserves acceptance order (spec §5).
	m.orderDagBlocksMu.Lock()
	defer m.orderDagBlocksMu.Unlock()

	candidateTrxs := make(map[types.Hash]*types.Transaction, len(trxs))
	for _, trx := range trxs {
		candidateTrxs[trx.Hash()] = trx
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	status := m.verifyBlockLocked(block, candidateTrxs)
	if status != Verified {
		log.Debugf("rejecting dag block %x: %s", block.Hash(), status)
		return status, nil
	}

	hash := block.Hash()
	if _, exists := m.arena[hash]; exists {
		return Verified, nil // already admitted; addDagBlock is idempotent on hash
	}

	level := m.arena[block.Pivot].level
	for _, tip := range block.Tips {
		if n := m.arena[tip]; n.level > level {
			level = n.level
		}
	}
	level++

	n := &node{block: block, hash: hash, level: level}
	m.arena[hash] = n
	m.parentsOf[hash] = struct {
		pivot types.Hash
		tips  []types.Hash
	}{pivot: block.Pivot, tips: append([]types.Hash{}, block.Tips...)}

	m.pivotChildren[block.Pivot] = append(m.pivotChildren[block.Pivot], hash)
	m.tipsChildren[block.Pivot] = append(m.tipsChildren[block.Pivot], hash)
	for _, tip := range block.Tips {
		m.tipsChildren[tip] = append(m.tipsChildren[tip], hash)
	}

	delete(m.leaves, block.Pivot)
	for _, tip := range block.Tips {
		delete(m.leaves, tip)
	}
	m.leaves[hash] = struct{}{}

	if m.nonFinalizedByLevel[level] == nil {
		m.nonFinalizedByLevel[level] = make(map[types.Hash]struct{})
	}
	m.nonFinalizedByLevel[level][hash] = struct{}{}

	for _, trx := range trxs {
		m.trxBodies[trx.Hash()] = trx
	}
	m.trxs.SaveTransactionsFromDagBlock(trxs)

	for _, handler := range m.onBlockAdded {
		handler(block)
	}
	log.Debugf("admitted dag block %x at level %d (proposed=%v)", hash, level, proposed)
	return Verified, nil
}

// VerifyBlock exposes verifyBlock as public API (spec §4.2).
func (m *Manager) VerifyBlock(block *types.DagBlock, candidateTrxs []*types.Transaction) VerifyStatus {
	byHash := make(map[types.Hash]*types.Transaction, len(candidateTrxs))
	for _, trx := range candidateTrxs {
		byHash[trx.Hash()] = trx
	}
	return m.verifyBlock(block, byHash)
}

// RecoverDag rebuilds the in-memory arena from persisted non-finalized
// blocks at startup (spec §4.2's "recoverDag"). Blocks are re-admitted in
// ascending level order so every parent is present before its children.
func (m *Manager) RecoverDag(blocks []*types.DagBlock, resolver func(types.Hash) (*types.Transaction, bool)) error {
	m.mu.Lock()
	ordered := append([]*types.DagBlock{}, blocks...)
	m.mu.Unlock()

	sortBlocksByLevel(ordered)
	for _, block := range ordered {
		trxs := make([]*types.Transaction, 0, len(block.TrxHashes))
		for _, h := range block.TrxHashes {
			trx, ok := resolver(h)
			if !ok {
				return errors.Errorf("recoverDag: missing transaction %x referenced by block %x", h, block.Hash())
			}
			trxs = append(trxs, trx)
		}
		if _, err := m.AddDagBlock(block, trxs, false); err != nil {
			return err
		}
	}
	return nil
}

func sortBlocksByLevel(blocks []*types.DagBlock) {
	for i := 1; i < len(blocks); i++ {
		for j := i; j > 0 && blocks[j].Level < blocks[j-1].Level; j-- {
			blocks[j], blocks[j-1] = blocks[j-1], blocks[j]
		}
	}
}
