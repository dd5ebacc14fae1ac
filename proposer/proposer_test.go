package proposer

import (
	"math/big"
	"testing"
	"time"

	"github.com/dagchain/dagchain/crypto"
	"github.com/dagchain/dagchain/dag"
	"github.com/dagchain/dagchain/state"
	"github.com/dagchain/dagchain/types"
)

// fakeState carries the one validator key these tests sign blocks with, so
// DposVrfKey can return the real compressed pubkey verifyBlockLocked's
// VRFVerifier.Verify needs rather than a stub.
type fakeState struct {
	vrfKey []byte
}

func newFakeState(key *crypto.PrivateKey) *fakeState {
	return &fakeState{vrfKey: key.VRFPublicKey()}
}

func (f *fakeState) LastBlockNumber() uint64                      { return 0 }
func (f *fakeState) Balance(addr types.Address) (*big.Int, error) { return big.NewInt(0), nil }
func (f *fakeState) Nonce(addr types.Address) (uint64, error)     { return 0, nil }
func (f *fakeState) EstimateGas(trx *types.Transaction, period uint64) (uint64, error) {
	return 1000, nil
}
func (f *fakeState) ExecutePeriod(period uint64, trxs []*types.Transaction) (*state.ExecutionResult, error) {
	return &state.ExecutionResult{}, nil
}
func (f *fakeState) DposEligibleVoteCount(period uint64, voter types.Address) (uint64, error) {
	return 1, nil
}
func (f *fakeState) DposTotalEligibleVoteCount(period uint64) (uint64, error) { return 1, nil }
func (f *fakeState) DposVrfKey(period uint64, voter types.Address) ([]byte, error) {
	return f.vrfKey, nil
}
func (f *fakeState) DposIsEligible(period uint64, addr types.Address) (bool, error) { return true, nil }
func (f *fakeState) GasPriceBid() *big.Int                                          { return big.NewInt(0) }
func (f *fakeState) SubmitSystemCall(contract types.Address, call []byte) (*types.Transaction, error) {
	return nil, nil
}

type fakeTrxSource struct{}

func (f *fakeTrxSource) GetNonfinalizedTrx(hashes []types.Hash) []types.Hash           { return nil }
func (f *fakeTrxSource) TransactionByHash(hash types.Hash) (*types.Transaction, bool) { return nil, false }
func (f *fakeTrxSource) RemoveNonFinalizedTransactions(trxs []*types.Transaction)      {}
func (f *fakeTrxSource) SaveTransactionsFromDagBlock(trxs []*types.Transaction)        {}
func (f *fakeTrxSource) MarkFinalized(trxs []*types.Transaction)                       {}

type fakePool struct {
	trxs []*types.Transaction
}

func (p *fakePool) GetAllPoolTrxs() []*types.Transaction { return p.trxs }

func testConfig() Config {
	return Config{
		PollInterval: 10 * time.Millisecond,
		DagGasLimit:  1 << 30,
	}
}

func testDagConfig() dag.Config {
	return dag.Config{
		DagBlockMaxTips:    16,
		DagGasLimit:        1 << 30,
		PbftGasLimit:       1 << 30,
		DagExpiryLimit:     1000,
		MaxLevelsPerPeriod: 10,
		BaseVDFDifficulty:  50,
		MinStakeUnit:       1,
		// Large enough relative to the single-unit stakes these tests use
		// that crypto.WinsSortition always accepts.
		CommitteeSize: 1 << 40,
	}
}

func TestProposeOnceAdmitsVerifiedBlock(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	genesis := &types.DagBlock{Level: 0}
	if err := genesis.Sign(key); err != nil {
		t.Fatalf("sign genesis: %v", err)
	}
	st := newFakeState(key)
	mgr := dag.New(testDagConfig(), st, &fakeTrxSource{}, genesis)

	pool := &fakePool{}
	p := New(testConfig(), key, mgr, pool, st)

	block, err := p.ProposeOnce()
	if err != nil {
		t.Fatalf("propose once: %v", err)
	}
	if block.Pivot != genesis.Hash() {
		t.Fatalf("expected block to build on genesis, got pivot %x", block.Pivot)
	}
	if got := len(mgr.GetNonFinalizedBlocks()); got != 2 {
		t.Fatalf("expected genesis + proposed block in dag, got %d", got)
	}
}

func TestProposeOnceRejectsIneligible(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	genesis := &types.DagBlock{Level: 0}
	if err := genesis.Sign(key); err != nil {
		t.Fatalf("sign genesis: %v", err)
	}
	ineligible := &ineligibleState{fakeState: *newFakeState(key)}
	mgr := dag.New(testDagConfig(), ineligible, &fakeTrxSource{}, genesis)

	p := New(testConfig(), key, mgr, &fakePool{}, ineligible)
	if _, err := p.ProposeOnce(); err == nil {
		t.Fatalf("expected ineligible proposer to be rejected")
	}
}

type ineligibleState struct{ fakeState }

func (s *ineligibleState) DposIsEligible(period uint64, addr types.Address) (bool, error) {
	return false, nil
}

func TestRunStop(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	genesis := &types.DagBlock{Level: 0}
	if err := genesis.Sign(key); err != nil {
		t.Fatalf("sign genesis: %v", err)
	}
	st := newFakeState(key)
	mgr := dag.New(testDagConfig(), st, &fakeTrxSource{}, genesis)
	p := New(testConfig(), key, mgr, &fakePool{}, st)

	p.Run()
	time.Sleep(30 * time.Millisecond)
	p.Stop()

	if len(mgr.GetNonFinalizedBlocks()) < 2 {
		t.Fatalf("expected at least one block proposed during run")
	}
}
