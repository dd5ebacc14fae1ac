// Package state defines the opaque bridge to the EVM-style state executor
// and trie (spec §1: "consumed as an opaque StateAPI"). Nothing in this
// package implements an interpreter or a trie; it only declares the surface
// the DAG manager, PBFT manager, vote manager, and pillar chain manager
// call into, mirroring how daglabs-btcd's blockdag package treats its UTXO
// set as a mutable collaborator behind a narrow interface rather than
// reaching into script/trie internals directly.
package state

import (
	"math/big"

	"github.com/dagchain/dagchain/types"
)

// ExecutionResult is what API.ExecutePeriod returns after applying a
// period's ordered transactions (spec §4.4 "Period advancement").
type ExecutionResult struct {
	StateRoot       types.Hash
	Receipts        []Receipt
	DPoSResult      DPoSResult
	PillarBlockHash *types.Hash // set only on an epoch-boundary period
}

// Receipt is the minimal per-transaction execution outcome the core
// persists and reports; detailed EVM logs/traces are the executor's concern.
type Receipt struct {
	TrxHash types.Hash
	Success bool
	GasUsed uint64
}

// DPoSResult carries the proposer/voter reward distribution computed for a
// finalized period (spec §4.4 "Reward votes").
type DPoSResult struct {
	ProposerReward *big.Int
	VoterRewards   map[types.Address]*big.Int
}

// API is the opaque state executor bridge every core component depends on.
type API interface {
	// LastBlockNumber is state.last_block_number (spec §4.3): the period the
	// executor has most recently applied.
	LastBlockNumber() uint64

	// Balance returns the sender's balance at the current head, used by the
	// transaction pool's InsufficientBalance check (spec §4.1).
	Balance(addr types.Address) (*big.Int, error)

	// Nonce returns the sender's next expected nonce at the current head.
	Nonce(addr types.Address) (uint64, error)

	// EstimateGas delegates gas estimation for trx at the given proposal
	// period to the executor (spec §4.1 "estimateTransactionGas").
	EstimateGas(trx *types.Transaction, period uint64) (uint64, error)

	// ExecutePeriod applies orderedTrxs against the state at period,
	// returning the new state root, receipts, DPoS result, and (on an epoch
	// boundary) the freshly constructed pillar block's hash (spec §4.4).
	ExecutePeriod(period uint64, orderedTrxs []*types.Transaction) (*ExecutionResult, error)

	// DposEligibleVoteCount returns a voter's weight at period, or zero if
	// they hold no eligible stake (spec §3 "Weight", §4.5).
	DposEligibleVoteCount(period uint64, voter types.Address) (uint64, error)

	// DposTotalEligibleVoteCount returns total_stake at period, the
	// denominator for sortition thresholds (spec glossary "Sortition").
	DposTotalEligibleVoteCount(period uint64) (uint64, error)

	// DposVrfKey returns the voter's registered VRF public key at period
	// (spec §4.5 "VRF proof verifies against dposVrfKey(period, voter)").
	DposVrfKey(period uint64, voter types.Address) ([]byte, error)

	// DposIsEligible reports whether addr may propose/vote at period — false
	// while jailed (spec §4.9, glossary "Jailing").
	DposIsEligible(period uint64, addr types.Address) (bool, error)

	// GasPriceBid returns the gasPricer's current minimum acceptable gas
	// price, used by the transaction pool's GasPriceTooLow check (spec §4.1).
	GasPriceBid() *big.Int

	// SubmitSystemCall queues an ABI-encoded call to a fixed system contract
	// address (e.g. commitDoubleVotingProof) for inclusion the way any other
	// signed transaction is (spec §4.9, §6 "System contract surface").
	SubmitSystemCall(contract types.Address, abiEncodedCall []byte) (*types.Transaction, error)
}

// ErrFutureBlock is returned when a caller queries state for a period the
// executor has not yet finalized (spec §7 "StateFutureBlock").
var ErrFutureBlock = errFutureBlock{}

type errFutureBlock struct{}

func (errFutureBlock) Error() string { return "query against a not-yet-finalized period" }
