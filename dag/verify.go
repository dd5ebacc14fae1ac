package dag

import (
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/dagchain/dagchain/crypto"
	"github.com/dagchain/dagchain/types"
)

// verifyBlock implements spec §4.2's verifyBlock, returning one of the
// VerifyStatus values. candidateTrxs resolves transactions referenced by
// the block that the caller already has in hand (e.g. shipped alongside it
// in a DagBlockPacket) so verification doesn't require every transaction to
// already be in the pool.
func (m *Manager) verifyBlock(block *types.DagBlock, candidateTrxs map[types.Hash]*types.Transaction) VerifyStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.verifyBlockLocked(block, candidateTrxs)
}

func (m *Manager) verifyBlockLocked(block *types.DagBlock, candidateTrxs map[types.Hash]*types.Transaction) VerifyStatus {
	if len(block.Tips) > m.cfg.DagBlockMaxTips {
		return FailedTipsVerification
	}
	seenTip := mapset.NewThreadUnsafeSet[types.Hash]()
	for _, tip := range block.Tips {
		if !seenTip.Add(tip) {
			return FailedTipsVerification
		}
	}

	pivotNode, pivotOK := m.arena[block.Pivot]
	if !pivotOK {
		return MissingTip
	}
	maxParentLevel := pivotNode.level
	for _, tip := range block.Tips {
		tipNode, ok := m.arena[tip]
		if !ok {
			return MissingTip
		}
		if tipNode.level > maxParentLevel {
			maxParentLevel = tipNode.level
		}
	}
	expectedLevel := maxParentLevel + 1
	if expectedLevel != block.Level {
		return FailedTipsVerification
	}

	expiryLevel := m.dagExpiryLevel()
	if block.Level < expiryLevel {
		return ExpiredBlock
	}

	if block.ProposalPeriod > m.period+1 {
		return AheadBlock
	}
	if block.ProposalPeriod > m.state.LastBlockNumber()+1 {
		return FutureBlock
	}

	sender, err := block.Sender()
	if err != nil {
		return NotEligible
	}
	eligible, err := m.state.DposIsEligible(block.ProposalPeriod, sender)
	if err != nil || !eligible {
		return NotEligible
	}
	stake, err := m.state.DposEligibleVoteCount(block.ProposalPeriod, sender)
	if err != nil || stake == 0 {
		return NotEligible
	}

	totalStake, err := m.state.DposTotalEligibleVoteCount(block.ProposalPeriod)
	if err != nil {
		return NotEligible
	}

	vrfKey, err := m.state.DposVrfKey(block.ProposalPeriod, sender)
	if err != nil || len(vrfKey) == 0 {
		return NotEligible
	}
	vrfMessage := types.VRFMessageForDagBlock(block.ProposalPeriod, block.Pivot)
	vrfOutput, ok := m.vrf.Verify(vrfKey, vrfMessage, block.VRFProof)
	if !ok {
		return NotEligible
	}
	if !crypto.WinsSortition(vrfOutput, stake, totalStake, m.cfg.CommitteeSize) {
		return NotEligible
	}

	difficulty := crypto.DifficultyFromStake(stake, totalStake, m.cfg.BaseVDFDifficulty, m.cfg.MinStakeUnit)
	expectedMessage := types.VDFMessageFor(block.Pivot, block.TrxHashes)
	vdf := crypto.NewSequentialVDF()
	if !vdf.Verify(&crypto.VDFProof{Message: expectedMessage, Difficulty: difficulty, Output: block.VDFOutput}) {
		return FailedVdfVerification
	}

	var gasSum uint64
	for _, trxHash := range block.TrxHashes {
		trx, ok := candidateTrxs[trxHash]
		if !ok {
			return MissingTransaction
		}
		estimate, err := m.state.EstimateGas(trx, block.ProposalPeriod)
		if err != nil {
			return IncorrectTransactionsEstimation
		}
		gasSum += estimate
	}
	if gasSum != block.GasEstimation {
		return IncorrectTransactionsEstimation
	}
	if block.GasEstimation > m.cfg.DagGasLimit {
		return BlockTooBig
	}
	if len(block.Tips) > 0 {
		total := block.GasEstimation
		for _, tip := range block.Tips {
			if n, ok := m.arena[tip]; ok {
				total += n.block.GasEstimation
			}
		}
		if total > m.cfg.PbftGasLimit {
			return BlockTooBig
		}
	}

	return Verified
}
