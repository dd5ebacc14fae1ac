package dag

import (
	"bytes"
	"sort"

	"github.com/dagchain/dagchain/types"
)

// ghostPath descends from source to a leaf, always choosing the pivot-tree
// child with the heaviest subtree (ties broken by lower block hash), per
// spec §4.2 "Ghost path". subtreeWeight is computed lazily since the pivot
// tree is re-seeded at every anchor commit and stays small between commits.
func (m *Manager) ghostPath(source types.Hash) []types.Hash {
	path := []types.Hash{source}
	current := source
	for {
		children := m.pivotChildren[current]
		if len(children) == 0 {
			return path
		}
		best := children[0]
		bestWeight := m.subtreeWeight(best)
		for _, child := range children[1:] {
			weight := m.subtreeWeight(child)
			if weight > bestWeight || (weight == bestWeight && bytes.Compare(child[:], best[:]) < 0) {
				best, bestWeight = child, weight
			}
		}
		path = append(path, best)
		current = best
	}
}

// subtreeWeight counts the blocks in the pivot-tree subtree rooted at hash,
// i.e. the weight GHOST-style tip selection compares.
func (m *Manager) subtreeWeight(hash types.Hash) int {
	count := 1
	for _, child := range m.pivotChildren[hash] {
		count += m.subtreeWeight(child)
	}
	return count
}

// frontierLocked computes (pivot, tips) per spec §4.2 "Frontier": pivot is
// the ghost path's last element from the current anchor; tips is every
// total-DAG leaf other than pivot. Caller must hold m.mu for reading.
func (m *Manager) frontierLocked() (types.Hash, []types.Hash) {
	path := m.ghostPath(m.anchor)
	pivot := path[len(path)-1]
	tips := make([]types.Hash, 0, len(m.leaves))
	for leaf := range m.leaves {
		if leaf != pivot {
			tips = append(tips, leaf)
		}
	}
	sort.Slice(tips, func(i, j int) bool { return bytes.Compare(tips[i][:], tips[j][:]) < 0 })
	return pivot, tips
}

// GetGhostPath exposes the ghost path from an arbitrary source, per spec
// §4.2's public surface.
func (m *Manager) GetGhostPath(from types.Hash) []types.Hash {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ghostPath(from)
}

// computeOrder produces the deterministic topological order of every
// not-yet-finalized block between the current anchor and candidate in the
// total DAG, per spec §4.2 "Anchor ordering": the blocks a commit of
// candidate as the new PBFT anchor would finalize, in ascending (level,
// hash) order. The walk goes backward from candidate through pivot and tip
// parents (m.parentsOf), stopping at the manager's current anchor, since
// that is the last block already finalized by a prior commit.
func (m *Manager) computeOrder(candidate types.Hash) []types.Hash {
	reachable := make(map[types.Hash]struct{})
	queue := []types.Hash{candidate}
	for len(queue) > 0 {
		h := queue[0]
		queue = queue[1:]
		if h == m.anchor {
			continue // already finalized by a prior commit; don't walk past it
		}
		if _, seen := reachable[h]; seen {
			continue
		}
		reachable[h] = struct{}{}
		parents, ok := m.parentsOf[h]
		if !ok {
			continue // genesis/seeded anchor: no recorded parents
		}
		queue = append(queue, parents.pivot)
		queue = append(queue, parents.tips...)
	}
	delete(reachable, candidate) // the candidate anchor is not part of its own order

	order := make([]types.Hash, 0, len(reachable))
	for h := range reachable {
		order = append(order, h)
	}
	sort.Slice(order, func(i, j int) bool {
		li, lj := m.arena[order[i]].level, m.arena[order[j]].level
		if li != lj {
			return li < lj
		}
		return bytes.Compare(order[i][:], order[j][:]) < 0
	})
	return order
}

// GetDagBlockOrder returns the deterministic order of blocks anchored by
// anchor for the given period, per spec §4.2: idempotent for fixed inputs.
// period must equal the manager's current_period+1 or the call is rejected.
func (m *Manager) GetDagBlockOrder(anchor types.Hash, period uint64) ([]types.Hash, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if period != m.period+1 {
		return nil, errPeriodMismatch
	}
	if _, ok := m.arena[anchor]; !ok {
		return nil, errUnknownAnchor
	}
	return m.computeOrder(anchor), nil
}
