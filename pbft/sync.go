package pbft

import (
	"github.com/dagchain/dagchain/database"
	"github.com/dagchain/dagchain/types"
	"github.com/pkg/errors"
)

// ChainSize reports the highest finalized period, satisfying sync's
// target-selection comparison (spec §4.8 "the peer with the largest
// pbft_chain_size_").
func (d *Driver) ChainSize() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.period == 0 {
		return 0
	}
	return d.period - 1
}

// CurrentRound reports the round currently in progress.
func (d *Driver) CurrentRound() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.round
}

// PeriodDataForPeriod reassembles a finalized period's PeriodData from
// persisted state for a PbftSyncPacket reply (spec §4.8). DagBlocks and
// Transactions are resolved from the in-memory DAG manager, which only
// retains blocks back to its pruning floor; periods older than that come
// back with an empty DagBlocks/Transactions set.
func (d *Driver) PeriodDataForPeriod(period uint64) (*types.PeriodData, error) {
	raw, err := d.db.Get(database.CFPeriodPbftBlock, encodeUint64Key(period))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load pbft block for period %d", period)
	}
	var block types.PbftBlock
	if err := rlpDecodeInto(raw, &block); err != nil {
		return nil, errors.Wrap(err, "failed to decode pbft block")
	}

	certVotes, err := d.readCertVotes(period)
	if err != nil {
		return nil, err
	}

	var previousCertVotes []*types.Vote
	if period > 1 {
		previousCertVotes, err = d.readCertVotes(period - 1)
		if err != nil {
			return nil, err
		}
	}

	var dagBlocks []*types.DagBlock
	var transactions []*types.Transaction
	if raw, err := d.db.Get(database.CFProposalPeriodDagLevelMap, encodeUint64Key(period)); err == nil {
		dagBlocks = d.dag.BlocksForHashes(decodeHashes(raw))
		transactions = d.dag.TransactionsForBlocks(dagBlocks)
	}

	return &types.PeriodData{
		PbftBlock:              &block,
		CertVotes:              certVotes,
		DagBlocks:              dagBlocks,
		Transactions:           transactions,
		PreviousBlockCertVotes: previousCertVotes,
	}, nil
}

// decodeHashes splits a concatenated-32-byte-hash blob back into a slice,
// the inverse of encodeHashes.
func decodeHashes(raw []byte) []types.Hash {
	out := make([]types.Hash, 0, len(raw)/32)
	for i := 0; i+32 <= len(raw); i += 32 {
		var h types.Hash
		copy(h[:], raw[i:i+32])
		out = append(out, h)
	}
	return out
}

// NextVotesBundleFor assembles the 2t+1 next-votes quorum at (period, round)
// for a GetNextVotesSyncPacket reply (spec §4.8), or false if no quorum has
// formed yet at that round.
func (d *Driver) NextVotesBundleFor(period, round uint64) (*types.NextVotesBundle, bool) {
	totalStake, err := d.totalStake(period)
	if err != nil {
		return nil, false
	}
	hash, ok := d.votes.GetTwoTPlusOneVotes(period, round, uint64(stepNextVote), types.VoteTypeNext, totalStake)
	if !ok {
		return nil, false
	}
	return d.votes.NextVotesBundle(period, round, hash), true
}

// AdoptSyncedPeriod validates and applies one period received over PBFT
// sync, in place of locally running the five-step state machine for it
// (spec §4.8 "a background task pops in order, validates, executes, and
// advances the chain"). It mirrors finalizePeriod's persistence shape but
// sources its quorum from the supplied CertVotes rather than the local vote
// manager, since a syncing node has not collected them itself.
func (d *Driver) AdoptSyncedPeriod(pd *types.PeriodData) error {
	d.mu.Lock()
	expectedPeriod, prevHash := d.period, d.prevBlockHash
	d.mu.Unlock()

	if pd.PbftBlock.Period != expectedPeriod {
		return errors.Errorf("synced period %d does not follow our head period %d", pd.PbftBlock.Period, expectedPeriod)
	}
	if pd.PbftBlock.PrevBlockHash != prevHash {
		return errors.New("synced block's prev_block_hash does not chain from our head")
	}
	if !pd.PbftBlock.VerifySignature() {
		return errors.New("synced pbft block carries an invalid proposer signature")
	}

	totalStake, err := d.totalStake(pd.PbftBlock.Period)
	if err != nil {
		return errors.Wrap(err, "failed to resolve total stake for synced period")
	}
	blockHash := pd.PbftBlock.Hash()
	seen := make(map[types.Address]bool, len(pd.CertVotes))
	var weight uint64
	for _, v := range pd.CertVotes {
		if v.BlockHash != blockHash || v.Type != types.VoteTypeCert || v.Period != pd.PbftBlock.Period {
			continue
		}
		voter, err := v.Voter()
		if err != nil || seen[voter] {
			continue
		}
		seen[voter] = true
		w, err := d.state.DposEligibleVoteCount(pd.PbftBlock.Period, voter)
		if err != nil {
			continue
		}
		weight += w
	}
	if weight < totalStake*2/3+1 {
		return errors.New("synced period's cert votes do not reach a 2t+1 quorum")
	}

	orderHashes := make([]types.Hash, len(pd.DagBlocks))
	for i, b := range pd.DagBlocks {
		orderHashes[i] = b.Hash()
	}

	batch := d.db.NewBatch()
	encodedBlock, err := rlpEncode(pd.PbftBlock)
	if err != nil {
		batch.Discard()
		return err
	}
	if err := batch.Put(database.CFPbftHead, []byte("head"), encodedBlock); err != nil {
		batch.Discard()
		return err
	}
	if err := batch.Put(database.CFPeriodPbftBlock, encodeUint64Key(pd.PbftBlock.Period), encodedBlock); err != nil {
		batch.Discard()
		return err
	}
	for i, v := range pd.CertVotes {
		encodedVote, err := rlpEncode(v)
		if err != nil {
			batch.Discard()
			return err
		}
		key := append(encodeUint64Key(pd.PbftBlock.Period), byte(i))
		if err := batch.Put(database.CFPbftCertVotes, key, encodedVote); err != nil {
			batch.Discard()
			return err
		}
	}
	if err := batch.Put(database.CFProposalPeriodDagLevelMap, encodeUint64Key(pd.PbftBlock.Period), encodeHashes(orderHashes)); err != nil {
		batch.Discard()
		return err
	}
	if err := batch.Put(database.CFDagFinalizedBlocks, pd.PbftBlock.PivotDagBlockHash[:], encodeHashes(orderHashes)); err != nil {
		batch.Discard()
		return err
	}
	for _, dagBlock := range pd.DagBlocks {
		encodedDagBlock, err := rlpEncode(dagBlock)
		if err != nil {
			batch.Discard()
			return err
		}
		dagBlockHash := dagBlock.Hash()
		if err := batch.Put(database.CFDagBlocks, dagBlockHash[:], encodedDagBlock); err != nil {
			batch.Discard()
			return err
		}
	}
	for _, trx := range pd.Transactions {
		encodedTrx, err := rlpEncode(trx)
		if err != nil {
			batch.Discard()
			return err
		}
		trxHash := trx.Hash()
		if err := batch.Put(database.CFTransactions, trxHash[:], encodedTrx); err != nil {
			batch.Discard()
			return err
		}
	}
	if err := batch.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit synced period")
	}

	byHash := make(map[types.Hash]*types.Transaction, len(pd.Transactions))
	for _, trx := range pd.Transactions {
		byHash[trx.Hash()] = trx
	}
	if err := d.dag.RecoverDag(pd.DagBlocks, func(h types.Hash) (*types.Transaction, bool) {
		trx, ok := byHash[h]
		return trx, ok
	}); err != nil {
		return errors.Wrap(err, "failed to recover synced dag blocks")
	}
	if err := d.dag.SetDagBlockOrder(pd.PbftBlock.PivotDagBlockHash, pd.PbftBlock.Period, orderHashes); err != nil {
		return errors.Wrap(err, "failed to commit synced dag block order")
	}

	result, err := d.state.ExecutePeriod(pd.PbftBlock.Period, pd.Transactions)
	if err != nil {
		return errors.Wrap(err, "failed to execute synced period")
	}
	if d.pillar != nil {
		if _, err := d.pillar.BuildPillarBlockIfBoundary(pd.PbftBlock.Period, result.StateRoot); err != nil {
			log.Errorf("failed to build pillar block for synced period %d: %s", pd.PbftBlock.Period, err)
		}
	}

	d.mu.Lock()
	d.prevBlockHash = blockHash
	d.period = pd.PbftBlock.Period + 1
	d.round = 1
	d.curStep = stepPropose
	d.candidateBlocks = make(map[types.Hash]*types.PbftBlock)
	handlers := append([]func(*types.PeriodData){}, d.onFinalized...)
	d.mu.Unlock()

	d.votes.CleanupVotesByPeriod(d.period)

	for _, h := range handlers {
		h(pd)
	}
	log.Infof("adopted synced period %d with block %x", pd.PbftBlock.Period, blockHash)
	return nil
}

// readCertVotes decodes every CFPbftCertVotes entry stored under period by
// finalizePeriod's batch (keyed period || index, per-index values).
func (d *Driver) readCertVotes(period uint64) ([]*types.Vote, error) {
	prefix := encodeUint64Key(period)
	var votes []*types.Vote
	for i := 0; ; i++ {
		key := append(append([]byte{}, prefix...), byte(i))
		raw, err := d.db.Get(database.CFPbftCertVotes, key)
		if err != nil {
			break
		}
		var v types.Vote
		if err := rlpDecodeInto(raw, &v); err != nil {
			return nil, errors.Wrap(err, "failed to decode cert vote")
		}
		votes = append(votes, &v)
	}
	return votes, nil
}
