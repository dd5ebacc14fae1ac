package database

import (
	"github.com/dagchain/dagchain/crypto"
	"github.com/dagchain/dagchain/state"
	"github.com/dagchain/dagchain/types"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/pkg/errors"
)

// PeriodExecutor is the narrow slice of state.API a rebuild cycle drives a
// period replay through; state.API satisfies it directly.
type PeriodExecutor interface {
	ExecutePeriod(period uint64, orderedTrxs []*types.Transaction) (*state.ExecutionResult, error)
}

// Rebuild implements spec §6's rebuild-db cycle, run on a major version
// change: oldPath is opened and never written to, every period it holds is
// replayed in period order through executor.ExecutePeriod, and the same
// records finalizePeriod would have written are copied into a freshly
// created database at newPath. Genesis hash and pillar-chain bookkeeping
// carry over verbatim since neither depends on the executor.
//
// Grounded on the teacher's database2 migration precedent of running old and
// new database directories side by side across a version bump, generalized
// from a one-shot format conversion into a full state-replay cycle per
// spec §6's "every stored period is replayed through the state executor".
func Rebuild(oldPath, newPath string, executor PeriodExecutor) error {
	oldDB, err := Open(oldPath)
	if err != nil {
		return errors.Wrap(err, "failed to open source database")
	}
	defer oldDB.Close()

	newDB, err := Open(newPath)
	if err != nil {
		return errors.Wrap(err, "failed to create destination database")
	}
	defer newDB.Close()

	for _, cf := range []ColumnFamily{CFGenesisHash, CFPillarBlock, CFPillarBlockVotes, CFSortitionParamsChange, CFFinalChainMeta} {
		if err := copyColumnFamily(oldDB, newDB, cf); err != nil {
			return errors.Wrapf(err, "failed to copy column family %s", cf)
		}
	}

	for period := uint64(1); ; period++ {
		key := crypto.EncodeUint64(period)
		raw, err := oldDB.Get(CFPeriodPbftBlock, key)
		if errors.Is(err, ErrNotFound) {
			break
		}
		if err != nil {
			return errors.Wrapf(err, "failed to read period %d from source database", period)
		}

		var block types.PbftBlock
		if err := rlp.DecodeBytes(raw, &block); err != nil {
			return errors.Wrapf(err, "failed to decode pbft block for period %d", period)
		}

		var order []types.Hash
		if levelRaw, err := oldDB.Get(CFProposalPeriodDagLevelMap, key); err == nil {
			order = decodeRebuildHashes(levelRaw)
		} else if !errors.Is(err, ErrNotFound) {
			return errors.Wrapf(err, "failed to read dag block order for period %d", period)
		}

		trxs, err := replayTransactions(oldDB, order)
		if err != nil {
			return errors.Wrapf(err, "failed to resolve transactions for period %d", period)
		}

		if _, err := executor.ExecutePeriod(period, trxs); err != nil {
			return errors.Wrapf(err, "failed to replay period %d", period)
		}

		if err := copyPeriod(oldDB, newDB, key, &block, order, trxs); err != nil {
			return errors.Wrapf(err, "failed to copy period %d into destination database", period)
		}
	}
	return nil
}

// replayTransactions resolves every transaction referenced by the dag blocks
// in order, reading both through CFDagBlocks and CFTransactions the way
// finalizePeriod persisted them.
func replayTransactions(db DbStorage, order []types.Hash) ([]*types.Transaction, error) {
	var trxs []*types.Transaction
	seen := make(map[types.Hash]struct{})
	for _, dagBlockHash := range order {
		raw, err := db.Get(CFDagBlocks, dagBlockHash[:])
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var dagBlock types.DagBlock
		if err := rlp.DecodeBytes(raw, &dagBlock); err != nil {
			return nil, err
		}
		for _, trxHash := range dagBlock.TrxHashes {
			if _, dup := seen[trxHash]; dup {
				continue
			}
			seen[trxHash] = struct{}{}
			trxRaw, err := db.Get(CFTransactions, trxHash[:])
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			var trx types.Transaction
			if err := rlp.DecodeBytes(trxRaw, &trx); err != nil {
				return nil, err
			}
			trxs = append(trxs, &trx)
		}
	}
	return trxs, nil
}

// copyPeriod writes the same records finalizePeriod produces for one period
// into dst: the pbft head/period block, its cert votes, the dag block order,
// and the dag block/transaction bodies it references.
func copyPeriod(src, dst DbStorage, periodKey []byte, block *types.PbftBlock, order []types.Hash, trxs []*types.Transaction) error {
	encodedBlock, err := rlp.EncodeToBytes(block)
	if err != nil {
		return err
	}
	if err := dst.Put(CFPbftHead, []byte("head"), encodedBlock); err != nil {
		return err
	}
	if err := dst.Put(CFPeriodPbftBlock, periodKey, encodedBlock); err != nil {
		return err
	}
	if err := dst.Put(CFProposalPeriodDagLevelMap, periodKey, encodeRebuildHashes(order)); err != nil {
		return err
	}
	if err := dst.Put(CFDagFinalizedBlocks, block.PivotDagBlockHash[:], encodeRebuildHashes(order)); err != nil {
		return err
	}
	for i := 0; ; i++ {
		voteKey := append(append([]byte{}, periodKey...), byte(i))
		raw, err := src.Get(CFPbftCertVotes, voteKey)
		if errors.Is(err, ErrNotFound) {
			break
		}
		if err != nil {
			return err
		}
		if err := dst.Put(CFPbftCertVotes, voteKey, raw); err != nil {
			return err
		}
	}
	for _, dagBlockHash := range order {
		raw, err := src.Get(CFDagBlocks, dagBlockHash[:])
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if err := dst.Put(CFDagBlocks, dagBlockHash[:], raw); err != nil {
			return err
		}
	}
	for _, trx := range trxs {
		encodedTrx, err := rlp.EncodeToBytes(trx)
		if err != nil {
			return err
		}
		trxHash := trx.Hash()
		if err := dst.Put(CFTransactions, trxHash[:], encodedTrx); err != nil {
			return err
		}
	}
	return nil
}

// copyColumnFamily copies every entry of cf from src to dst verbatim.
func copyColumnFamily(src, dst DbStorage, cf ColumnFamily) error {
	cursor, err := src.Cursor(cf)
	if err != nil {
		return err
	}
	defer cursor.Close()
	ok, err := cursor.First()
	if err != nil {
		return err
	}
	for ok {
		key, err := cursor.Key()
		if err != nil {
			return err
		}
		value, err := cursor.Value()
		if err != nil {
			return err
		}
		if err := dst.Put(cf, key, value); err != nil {
			return err
		}
		ok = cursor.Next()
	}
	return cursor.Error()
}

func decodeRebuildHashes(raw []byte) []types.Hash {
	out := make([]types.Hash, 0, len(raw)/32)
	for i := 0; i+32 <= len(raw); i += 32 {
		var h types.Hash
		copy(h[:], raw[i:i+32])
		out = append(out, h)
	}
	return out
}

func encodeRebuildHashes(hashes []types.Hash) []byte {
	out := make([]byte, 0, len(hashes)*32)
	for _, h := range hashes {
		out = append(out, h[:]...)
	}
	return out
}
