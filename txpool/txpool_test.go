package txpool

import (
	"math/big"
	"testing"

	"github.com/dagchain/dagchain/crypto"
	"github.com/dagchain/dagchain/state"
	"github.com/dagchain/dagchain/types"
)

type fakeState struct {
	balances map[types.Address]*big.Int
	nonces   map[types.Address]uint64
	bid      *big.Int
}

func newFakeState() *fakeState {
	return &fakeState{balances: map[types.Address]*big.Int{}, nonces: map[types.Address]uint64{}, bid: big.NewInt(1)}
}

func (f *fakeState) LastBlockNumber() uint64 { return 0 }
func (f *fakeState) Balance(addr types.Address) (*big.Int, error) {
	if b, ok := f.balances[addr]; ok {
		return b, nil
	}
	return big.NewInt(0), nil
}
func (f *fakeState) Nonce(addr types.Address) (uint64, error) { return f.nonces[addr], nil }
func (f *fakeState) EstimateGas(trx *types.Transaction, period uint64) (uint64, error) {
	return 21000, nil
}
func (f *fakeState) ExecutePeriod(period uint64, trxs []*types.Transaction) (*state.ExecutionResult, error) {
	return &state.ExecutionResult{}, nil
}
func (f *fakeState) DposEligibleVoteCount(period uint64, voter types.Address) (uint64, error) {
	return 1, nil
}
func (f *fakeState) DposTotalEligibleVoteCount(period uint64) (uint64, error) { return 1, nil }
func (f *fakeState) DposVrfKey(period uint64, voter types.Address) ([]byte, error) {
	return nil, nil
}
func (f *fakeState) DposIsEligible(period uint64, addr types.Address) (bool, error) { return true, nil }
func (f *fakeState) GasPriceBid() *big.Int                                          { return f.bid }
func (f *fakeState) SubmitSystemCall(contract types.Address, call []byte) (*types.Transaction, error) {
	return nil, nil
}

type fakeDag struct{ attached map[types.Hash]bool }

func (d *fakeDag) IsAttachedToNonFinalizedBlock(h types.Hash) bool { return d.attached[h] }

func newTestTrx(t *testing.T, key *crypto.PrivateKey, nonce uint64, gasPrice int64) *types.Transaction {
	t.Helper()
	to := types.Address{9}
	trx := &types.Transaction{Nonce: nonce, Value: big.NewInt(0), GasPrice: big.NewInt(gasPrice), GasLimit: 21000, To: &to, ChainID: 1}
	if err := trx.Sign(key); err != nil {
		t.Fatalf("sign: %v", err)
	}
	return trx
}

func TestInsertTransactionSuccess(t *testing.T) {
	key, _ := crypto.GeneratePrivateKey()
	st := newFakeState()
	st.balances[key.Address()] = big.NewInt(1_000_000)
	pool := New(1, st, &fakeDag{attached: map[types.Hash]bool{}})

	trx := newTestTrx(t, key, 0, 5)
	result, err := pool.InsertTransaction(trx)
	if err != nil || result != Inserted {
		t.Fatalf("expected inserted, got %v err=%v", result, err)
	}
	if len(pool.GetPoolTransactions()) != 1 {
		t.Fatalf("expected 1 pool transaction")
	}
}

func TestInsertTransactionDuplicate(t *testing.T) {
	key, _ := crypto.GeneratePrivateKey()
	st := newFakeState()
	st.balances[key.Address()] = big.NewInt(1_000_000)
	pool := New(1, st, &fakeDag{attached: map[types.Hash]bool{}})

	trx := newTestTrx(t, key, 0, 5)
	if _, err := pool.InsertTransaction(trx); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	result, _ := pool.InsertTransaction(trx)
	if result != Duplicate {
		t.Fatalf("expected duplicate, got %v", result)
	}
}

func TestInsertTransactionStaleNonce(t *testing.T) {
	key, _ := crypto.GeneratePrivateKey()
	st := newFakeState()
	st.balances[key.Address()] = big.NewInt(1_000_000)
	st.nonces[key.Address()] = 10
	pool := New(1, st, &fakeDag{attached: map[types.Hash]bool{}})

	trx := newTestTrx(t, key, 3, 5)
	result, _ := pool.InsertTransaction(trx)
	if result != Stale {
		t.Fatalf("expected stale, got %v", result)
	}
}

func TestInsertTransactionInsufficientBalance(t *testing.T) {
	key, _ := crypto.GeneratePrivateKey()
	st := newFakeState()
	st.balances[key.Address()] = big.NewInt(10)
	pool := New(1, st, &fakeDag{attached: map[types.Hash]bool{}})

	trx := newTestTrx(t, key, 0, 5)
	result, _ := pool.InsertTransaction(trx)
	if result != InsufficientBalance {
		t.Fatalf("expected insufficient balance, got %v", result)
	}
}

func TestGetAllPoolTrxsOrdering(t *testing.T) {
	key, _ := crypto.GeneratePrivateKey()
	st := newFakeState()
	st.balances[key.Address()] = big.NewInt(1_000_000)
	pool := New(1, st, &fakeDag{attached: map[types.Hash]bool{}})

	low := newTestTrx(t, key, 1, 2)
	high := newTestTrx(t, key, 0, 9)
	if _, err := pool.InsertTransaction(low); err != nil {
		t.Fatalf("insert low: %v", err)
	}
	if _, err := pool.InsertTransaction(high); err != nil {
		t.Fatalf("insert high: %v", err)
	}
	ordered := pool.GetAllPoolTrxs()
	if ordered[0].Hash() != high.Hash() {
		t.Fatalf("expected higher gas price transaction first")
	}
}

func TestGetNonfinalizedTrx(t *testing.T) {
	key, _ := crypto.GeneratePrivateKey()
	st := newFakeState()
	st.balances[key.Address()] = big.NewInt(1_000_000)
	attachedHash := types.Hash{0xAB}
	dag := &fakeDag{attached: map[types.Hash]bool{attachedHash: true}}
	pool := New(1, st, dag)

	trx := newTestTrx(t, key, 0, 5)
	if _, err := pool.InsertTransaction(trx); err != nil {
		t.Fatalf("insert: %v", err)
	}

	result := pool.GetNonfinalizedTrx([]types.Hash{trx.Hash(), attachedHash, {0xFF}})
	if len(result) != 2 {
		t.Fatalf("expected 2 nonfinalized hashes, got %d", len(result))
	}
}
