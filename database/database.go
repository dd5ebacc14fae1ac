// Package database defines DbStorage, the opaque key-value store with
// column families and write batches that every other dagchain component
// consumes (spec §1, §6). It is grounded on daglabs-btcd's
// database.Database/Cursor interfaces, generalized with explicit column
// families in place of the teacher's single StoreLocation-prefixed
// keyspace, and backed by goleveldb (the driver the teacher's ffldb
// package, and tolelom-tolchain, both use directly).
package database

import "github.com/pkg/errors"

// ErrNotFound is returned by Get and Cursor operations when the requested
// key does not exist.
var ErrNotFound = errors.New("key not found")

// ColumnFamily names one of the logical key spaces listed in spec §6:
// dag_blocks, dag_finalized_blocks, transactions, period_pbft_block,
// pbft_head, pbft_cert_votes, next_votes_in_round, reward_votes_in_block,
// proposal_period_dag_levels_map, genesis_hash, pillar_block,
// pillar_block_votes, sortition_params_change, final_chain_meta, state_trie.
type ColumnFamily string

const (
	CFDagBlocks                 ColumnFamily = "dag_blocks"
	CFDagFinalizedBlocks        ColumnFamily = "dag_finalized_blocks"
	CFTransactions              ColumnFamily = "transactions"
	CFPeriodPbftBlock           ColumnFamily = "period_pbft_block"
	CFPbftHead                  ColumnFamily = "pbft_head"
	CFPbftCertVotes             ColumnFamily = "pbft_cert_votes"
	CFNextVotesInRound          ColumnFamily = "next_votes_in_round"
	CFRewardVotesInBlock        ColumnFamily = "reward_votes_in_block"
	CFProposalPeriodDagLevelMap ColumnFamily = "proposal_period_dag_levels_map"
	CFGenesisHash               ColumnFamily = "genesis_hash"
	CFPillarBlock               ColumnFamily = "pillar_block"
	CFPillarBlockVotes          ColumnFamily = "pillar_block_votes"
	CFSortitionParamsChange     ColumnFamily = "sortition_params_change"
	CFFinalChainMeta            ColumnFamily = "final_chain_meta"
	CFStateTrie                 ColumnFamily = "state_trie"
)

// DataAccessor is the read/write surface shared by DbStorage and by a
// Batch before it is committed.
type DataAccessor interface {
	Put(cf ColumnFamily, key, value []byte) error
	Get(cf ColumnFamily, key []byte) ([]byte, error)
	Has(cf ColumnFamily, key []byte) (bool, error)
	Delete(cf ColumnFamily, key []byte) error
}

// Cursor iterates over the entries of a single column family in key order.
type Cursor interface {
	Next() bool
	Error() error
	First() (bool, error)
	Seek(key []byte) (bool, error)
	Key() ([]byte, error)
	Value() ([]byte, error)
	Close() error
}

// Batch accumulates writes across one or more column families for atomic
// commit, matching spec §5's "logical atomicity obtained via write batches".
type Batch interface {
	DataAccessor
	// Commit atomically applies every queued Put/Delete to the store.
	Commit() error
	// Discard releases the batch without applying it.
	Discard()
}

// DbStorage is the opaque handle every other component is constructed with.
type DbStorage interface {
	DataAccessor
	NewBatch() Batch
	Cursor(cf ColumnFamily) (Cursor, error)
	Close() error
}
