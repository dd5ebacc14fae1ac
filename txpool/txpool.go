// Package txpool implements the transaction pool of spec §4.1:
// held transactions are deduplicated by hash, fed to the VDF proposer in
// (gas_price desc, nonce asc) order, and pruned once finalized. Structure
// and locking discipline are grounded on daglabs-btcd's
// domain/miningmanager/mempool package (an all-transactions map plus a
// fee-ordered index, mutated only under the pool's own lock).
package txpool

import (
	"math/big"
	"sort"
	"sync"

	"github.com/dagchain/dagchain/errs"
	"github.com/dagchain/dagchain/state"
	"github.com/dagchain/dagchain/types"
	"github.com/pkg/errors"
)

// InsertResult is the outcome of InsertTransaction (spec §4.1).
type InsertResult int

const (
	Inserted InsertResult = iota
	Stale
	Duplicate
	InsufficientBalance
	GasPriceTooLow
	InvalidChainID
	InvalidSignature
	OverflowGasLimit
)

func (r InsertResult) String() string {
	switch r {
	case Inserted:
		return "inserted"
	case Stale:
		return "stale"
	case Duplicate:
		return "duplicate"
	case InsufficientBalance:
		return "insufficient-balance"
	case GasPriceTooLow:
		return "gas-price-too-low"
	case InvalidChainID:
		return "invalid-chain-id"
	case InvalidSignature:
		return "invalid-signature"
	case OverflowGasLimit:
		return "overflow-gas-limit"
	default:
		return "unknown"
	}
}

// MaxTransactionGasLimit is the per-transaction overflow cap checked by
// InsertTransaction (spec §4.1 "OverflowGasLimit").
const MaxTransactionGasLimit = 10_000_000

// OnTransactionAdded is invoked synchronously after a transaction clears
// InsertTransaction, matching spec §4.1's "transaction_added_ event".
type OnTransactionAdded func(trx *types.Transaction)

// NonFinalizedLookup is satisfied by the DAG manager: it reports whether a
// transaction hash is attached to a DAG block that has not yet been
// finalized by a PBFT period (spec §4.1 "non-finalized query").
type NonFinalizedLookup interface {
	IsAttachedToNonFinalizedBlock(hash types.Hash) bool
}

// Pool is the transaction pool. The zero value is not usable; construct via
// New.
type Pool struct {
	mu sync.RWMutex

	chainID uint64
	state   state.API
	dag     NonFinalizedLookup

	byHash        map[types.Hash]*types.Transaction
	byHashFinal   map[types.Hash]struct{} // hashes of finalized transactions, kept to reject re-insertion
	onAdded       []OnTransactionAdded
}

// New constructs an empty Pool bound to chainID, state, and a DAG manager
// satisfying NonFinalizedLookup.
func New(chainID uint64, stateAPI state.API, dag NonFinalizedLookup) *Pool {
	return &Pool{
		chainID:     chainID,
		state:       stateAPI,
		dag:         dag,
		byHash:      make(map[types.Hash]*types.Transaction),
		byHashFinal: make(map[types.Hash]struct{}),
	}
}

// SetDagLookup binds the DAG manager this pool queries for non-finalized
// attachment once it exists, breaking the construction cycle between New
// and dag.New (each needs the other as a constructor argument).
func (p *Pool) SetDagLookup(dag NonFinalizedLookup) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dag = dag
}

// OnTransactionAdded registers a handler invoked after every successful insert.
func (p *Pool) OnTransactionAdded(handler OnTransactionAdded) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onAdded = append(p.onAdded, handler)
}

// InsertTransaction validates and inserts trx, per spec §4.1.
func (p *Pool) InsertTransaction(trx *types.Transaction) (InsertResult, error) {
	if trx.ChainID != p.chainID {
		return InvalidChainID, errors.New("chain id mismatch")
	}
	if trx.GasLimit > MaxTransactionGasLimit {
		return OverflowGasLimit, errors.New("gas limit exceeds per-transaction cap")
	}
	sender, err := trx.Sender()
	if err != nil {
		return InvalidSignature, errors.Wrap(err, "failed to recover sender")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	hash := trx.Hash()
	if _, ok := p.byHash[hash]; ok {
		return Duplicate, errors.New("transaction already in pool")
	}
	if _, ok := p.byHashFinal[hash]; ok {
		return Duplicate, errors.New("transaction already finalized")
	}

	executedNonce, err := p.state.Nonce(sender)
	if err != nil {
		return Stale, err
	}
	if trx.Nonce < executedNonce {
		return Stale, errors.New("nonce already executed")
	}

	if trx.GasPrice.Cmp(p.state.GasPriceBid()) < 0 {
		return GasPriceTooLow, errors.New("gas price below minimum bid")
	}

	balance, err := p.state.Balance(sender)
	if err != nil {
		return InsufficientBalance, err
	}
	required := new(big.Int).Add(trx.Value, new(big.Int).Mul(trx.GasPrice, new(big.Int).SetUint64(trx.GasLimit)))
	if balance.Cmp(required) < 0 {
		return InsufficientBalance, errors.New("insufficient balance for value + gas")
	}

	p.byHash[hash] = trx
	for _, handler := range p.onAdded {
		handler(trx)
	}
	return Inserted, nil
}

// GetPoolTransactions returns every transaction currently held in the pool,
// unordered.
func (p *Pool) GetPoolTransactions() []*types.Transaction {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*types.Transaction, 0, len(p.byHash))
	for _, trx := range p.byHash {
		out = append(out, trx)
	}
	return out
}

// GetAllPoolTrxs returns the pool's transactions ordered by
// (gas_price desc, nonce asc), the order the VDF proposer packs a block in
// (spec §4.3).
func (p *Pool) GetAllPoolTrxs() []*types.Transaction {
	out := p.GetPoolTransactions()
	sort.Slice(out, func(i, j int) bool {
		cmp := out[i].GasPrice.Cmp(out[j].GasPrice)
		if cmp != 0 {
			return cmp > 0
		}
		return out[i].Nonce < out[j].Nonce
	})
	return out
}

// SaveTransactionsFromDagBlock removes the given transactions from the pool
// because they have been included in a DAG block (spec §4.1).
func (p *Pool) SaveTransactionsFromDagBlock(trxs []*types.Transaction) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, trx := range trxs {
		delete(p.byHash, trx.Hash())
	}
}

// RemoveNonFinalizedTransactions returns the given transaction hashes to the
// pool, e.g. after their DAG block is dropped during anchor commit or
// expiry (spec §4.2 step 4-5).
func (p *Pool) RemoveNonFinalizedTransactions(trxs []*types.Transaction) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, trx := range trxs {
		hash := trx.Hash()
		if _, final := p.byHashFinal[hash]; final {
			continue
		}
		p.byHash[hash] = trx
	}
}

// MarkFinalized records trxs as finalized, removing them from the pool for
// good and rejecting any future re-insertion by hash.
func (p *Pool) MarkFinalized(trxs []*types.Transaction) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, trx := range trxs {
		hash := trx.Hash()
		delete(p.byHash, hash)
		p.byHashFinal[hash] = struct{}{}
	}
}

// EstimateTransactionGas delegates to the state executor (spec §4.1
// "estimateTransactionGas").
func (p *Pool) EstimateTransactionGas(trx *types.Transaction, period uint64) (uint64, error) {
	return p.state.EstimateGas(trx, period)
}

// TransactionByHash returns a transaction still held in the pool, satisfying
// dag.TransactionSource for looking up bodies by hash during anchor commit.
func (p *Pool) TransactionByHash(hash types.Hash) (*types.Transaction, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	trx, ok := p.byHash[hash]
	return trx, ok
}

// GetNonfinalizedTrx returns, among hashes, those that are either still in
// the pool or attached to a not-yet-finalized DAG block (spec §4.1's
// "non-finalized" query, used during block verification).
func (p *Pool) GetNonfinalizedTrx(hashes []types.Hash) []types.Hash {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]types.Hash, 0, len(hashes))
	for _, h := range hashes {
		if _, ok := p.byHash[h]; ok {
			out = append(out, h)
			continue
		}
		if p.dag != nil && p.dag.IsAttachedToNonFinalizedBlock(h) {
			out = append(out, h)
		}
	}
	return out
}

// packetErrorForInsert classifies an InsertTransaction failure for the
// network layer's disconnect policy (spec §7): a malformed/invalid
// transaction from a peer is malicious, everything else is silently dropped.
func packetErrorForInsert(result InsertResult, err error) *errs.PacketError {
	switch result {
	case InvalidSignature, InvalidChainID:
		return errs.Wrap(errs.KindPeerMalicious, err, "invalid transaction")
	default:
		return errs.Wrap(errs.KindStaleInput, err, "transaction rejected")
	}
}
