package dag

// PruneLightNode implements spec §4.2's optional light-node pruning: once
// enough periods have elapsed, period data for fully-expired levels is
// dropped and only a retention window is kept. onPrune is invoked once per
// period number that should be removed from persistent storage; the caller
// (the node's storage layer) is responsible for the actual deletion.
func (m *Manager) PruneLightNode(onPrune func(period uint64)) {
	m.mu.RLock()
	lightNodeHistory := m.cfg.LightNodeHistory
	period := m.period
	expiryLevel := m.dagExpiryLevel()
	maxLevelsPerPeriod := m.cfg.MaxLevelsPerPeriod
	m.mu.RUnlock()

	if lightNodeHistory == 0 {
		return // light-node pruning disabled
	}
	if !(period > lightNodeHistory && expiryLevel > maxLevelsPerPeriod+1) {
		return
	}

	upperByHistory := period - lightNodeHistory
	upperByLevel := proposalPeriodFor(expiryLevel-maxLevelsPerPeriod-1, maxLevelsPerPeriod)
	upper := upperByHistory
	if upperByLevel < upper {
		upper = upperByLevel
	}

	for p := uint64(0); p <= upper; p++ {
		onPrune(p)
	}
}

// proposalPeriodFor maps a DAG level to the PBFT period whose proposal
// window contains it, given a fixed number of DAG levels produced per
// period (spec §4.2's "proposal_period_for").
func proposalPeriodFor(level, maxLevelsPerPeriod uint64) uint64 {
	if maxLevelsPerPeriod == 0 {
		return level
	}
	return level / maxLevelsPerPeriod
}

// RetainedDagLevelFloor is the lowest DAG level a light node keeps after
// pruning: max(1, dag_expiry_level - max_levels_per_period).
func (m *Manager) RetainedDagLevelFloor() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	expiryLevel := m.dagExpiryLevel()
	maxLevelsPerPeriod := m.cfg.MaxLevelsPerPeriod
	if expiryLevel <= maxLevelsPerPeriod {
		return 1
	}
	floor := expiryLevel - maxLevelsPerPeriod
	if floor < 1 {
		return 1
	}
	return floor
}
