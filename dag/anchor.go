package dag

import (
	"github.com/dagchain/dagchain/types"
)

// SetDagBlockOrder commits anchor as the new PBFT anchor for period,
// implementing spec §4.2's six-step "Anchor commit". A null anchor (the
// zero hash) simply advances the period counter without touching the DAG.
func (m *Manager) SetDagBlockOrder(anchor types.Hash, period uint64, order []types.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if period != m.period+1 {
		return errPeriodMismatch
	}

	if anchor == (types.Hash{}) {
		m.period++
		return nil
	}

	anchorNode, ok := m.arena[anchor]
	if !ok {
		return errUnknownAnchor
	}

	// Step 2: update the finalized-dag-block counter for the freshly ordered set.
	m.finalizedDagBlockCount += uint64(len(order))

	orderedSet := make(map[types.Hash]struct{}, len(order))
	for _, h := range order {
		orderedSet[h] = struct{}{}
	}

	// Collect transactions to finalize (those in blocks within the ordered set)
	// and the set of blocks that must be preserved or dropped before we clear
	// the DAG out from under them.
	var finalizedTrxs []*types.Transaction
	survivors := make(map[types.Hash]*types.DagBlock)
	var droppedTrxHashes []types.Hash
	expiryLevel := m.newExpiryLevel(anchorNode.level)

	for hash, n := range m.arena {
		if hash == anchor || hash == m.anchor {
			continue // the new anchor and the previous (already-finalized) anchor are neither survivors nor drops
		}
		if _, finalized := orderedSet[hash]; finalized {
			for _, th := range n.block.TrxHashes {
				if trx, ok := m.trxBodies[th]; ok {
					finalizedTrxs = append(finalizedTrxs, trx)
					delete(m.trxBodies, th)
				}
			}
			continue
		}
		// Step 4: not in the ordered set — keep if still within the new
		// expiry window and its parents survive too; otherwise drop.
		if n.level >= expiryLevel {
			survivors[hash] = n.block
		} else {
			droppedTrxHashes = append(droppedTrxHashes, n.block.TrxHashes...)
		}
	}

	m.trxs.MarkFinalized(finalizedTrxs)

	// seedAnchor clears m.parentsOf, so the pre-clear adjacency must be
	// captured first; reinsertBlock below repopulates it from scratch.
	oldParentsOf := m.parentsOf

	// Step 3: clear pivot_tree and total_dag; re-seed at the new anchor.
	m.seedAnchor(anchorNode.block, m.anchor)

	// Step 4 (continued): re-insert surviving non-finalized blocks.
	reinserted := make(map[types.Hash]bool)
	var reinsertInOrder func(hash types.Hash, block *types.DagBlock) bool
	reinsertInOrder = func(hash types.Hash, block *types.DagBlock) bool {
		if reinserted[hash] {
			return true
		}
		if _, ok := m.arena[hash]; ok {
			reinserted[hash] = true
			return true
		}
		parents, ok := oldParentsOf[hash]
		if !ok {
			return false // parent pivot/tips missing or expired: drop this block too
		}
		if _, ok := m.arena[parents.pivot]; !ok {
			if pb, ok := survivors[parents.pivot]; ok {
				if !reinsertInOrder(parents.pivot, pb) {
					return false
				}
			} else {
				return false
			}
		}
		for _, tip := range parents.tips {
			if _, ok := m.arena[tip]; !ok {
				if tb, ok := survivors[tip]; ok {
					if !reinsertInOrder(tip, tb) {
						return false
					}
				} else {
					return false
				}
			}
		}
		m.reinsertBlock(block)
		reinserted[hash] = true
		return true
	}

	for hash, block := range survivors {
		if !reinsertInOrder(hash, block) {
			droppedTrxHashes = append(droppedTrxHashes, block.TrxHashes...)
		}
	}

	// Step 5: return transactions from dropped blocks to the pool unless
	// they are finalized or still referenced by a surviving block.
	m.returnDroppedTransactions(droppedTrxHashes, finalizedTrxs)

	// Step 6: advance bookkeeping.
	m.period = period
	return nil
}

func (m *Manager) reinsertBlock(block *types.DagBlock) {
	hash := block.Hash()
	level := m.arena[block.Pivot].level
	for _, tip := range block.Tips {
		if n, ok := m.arena[tip]; ok && n.level > level {
			level = n.level
		}
	}
	level++

	m.arena[hash] = &node{block: block, hash: hash, level: level}
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
}

func (m *Manager) returnDroppedTransactions(dropped []types.Hash, finalized []*types.Transaction) {
	finalizedSet := make(map[types.Hash]struct{}, len(finalized))
	for _, trx := range finalized {
		finalizedSet[trx.Hash()] = struct{}{}
	}
	var toReturn []*types.Transaction
	for _, h := range dropped {
		if _, isFinalized := finalizedSet[h]; isFinalized {
			continue
		}
		if m.IsAttachedToNonFinalizedBlock(h) {
			continue
		}
		if trx, ok := m.trxBodies[h]; ok {
			toReturn = append(toReturn, trx)
			delete(m.trxBodies, h)
		}
	}
	if len(toReturn) > 0 {
		m.trxs.RemoveNonFinalizedTransactions(toReturn)
	}
}

// newExpiryLevel computes dag_expiry_level relative to a prospective new
// anchor level, used while still computing the commit (before m.anchor is
// updated), per spec §4.2 "Expiry".
func (m *Manager) newExpiryLevel(newAnchorLevel uint64) uint64 {
	if newAnchorLevel <= m.cfg.DagExpiryLimit {
		return 0
	}
	return newAnchorLevel - m.cfg.DagExpiryLimit
}
