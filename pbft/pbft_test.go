package pbft

import (
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/dagchain/dagchain/crypto"
	"github.com/dagchain/dagchain/dag"
	"github.com/dagchain/dagchain/database"
	"github.com/dagchain/dagchain/state"
	"github.com/dagchain/dagchain/types"
	"github.com/dagchain/dagchain/vote"
)

// memDB is a minimal in-memory database.DbStorage for tests, grounded on
// the same Put/Get/Has/Delete/NewBatch/Cursor surface the LevelDB-backed
// implementation exposes.
type memDB struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemDB() *memDB { return &memDB{data: make(map[string][]byte)} }

func memKey(cf database.ColumnFamily, key []byte) string { return string(cf) + "/" + string(key) }

func (m *memDB) Put(cf database.ColumnFamily, key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[memKey(cf, key)] = append([]byte{}, value...)
	return nil
}

func (m *memDB) Get(cf database.ColumnFamily, key []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[memKey(cf, key)]
	if !ok {
		return nil, database.ErrNotFound
	}
	return v, nil
}

func (m *memDB) Has(cf database.ColumnFamily, key []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[memKey(cf, key)]
	return ok, nil
}

func (m *memDB) Delete(cf database.ColumnFamily, key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, memKey(cf, key))
	return nil
}

func (m *memDB) NewBatch() database.Batch { return &memBatch{db: m, pending: map[string][]byte{}} }

func (m *memDB) Cursor(cf database.ColumnFamily) (database.Cursor, error) { return nil, nil }

func (m *memDB) Close() error { return nil }

type memBatch struct {
	db      *memDB
	pending map[string][]byte
	deletes []string
}

func (b *memBatch) Put(cf database.ColumnFamily, key, value []byte) error {
	b.pending[memKey(cf, key)] = append([]byte{}, value...)
	return nil
}
func (b *memBatch) Get(cf database.ColumnFamily, key []byte) ([]byte, error) {
	return b.db.Get(cf, key)
}
func (b *memBatch) Has(cf database.ColumnFamily, key []byte) (bool, error) {
	return b.db.Has(cf, key)
}
func (b *memBatch) Delete(cf database.ColumnFamily, key []byte) error {
	b.deletes = append(b.deletes, memKey(cf, key))
	return nil
}
func (b *memBatch) Commit() error {
	b.db.mu.Lock()
	defer b.db.mu.Unlock()
	for k, v := range b.pending {
		b.db.data[k] = v
	}
	for _, k := range b.deletes {
		delete(b.db.data, k)
	}
	return nil
}
func (b *memBatch) Discard() {}

// fakeState is a single-validator state.API double: DposVrfKey resolves
// whichever keys have been register()ed, so vote.Manager's VRF sortition
// check verifies against the real key each test's validator signs with
// rather than a stub.
type fakeState struct {
	vrfKeys map[types.Address][]byte
}

func newFakeState() *fakeState { return &fakeState{vrfKeys: map[types.Address][]byte{}} }

func (f *fakeState) register(key *crypto.PrivateKey) { f.vrfKeys[key.Address()] = key.VRFPublicKey() }

func (f *fakeState) LastBlockNumber() uint64                      { return 0 }
func (f *fakeState) Balance(addr types.Address) (*big.Int, error) { return big.NewInt(0), nil }
func (f *fakeState) Nonce(addr types.Address) (uint64, error)     { return 0, nil }
func (f *fakeState) EstimateGas(trx *types.Transaction, period uint64) (uint64, error) {
	return 0, nil
}
func (f *fakeState) ExecutePeriod(period uint64, trxs []*types.Transaction) (*state.ExecutionResult, error) {
	return &state.ExecutionResult{StateRoot: types.Hash{byte(period)}}, nil
}
func (f *fakeState) DposEligibleVoteCount(period uint64, voter types.Address) (uint64, error) {
	return 1, nil
}
func (f *fakeState) DposTotalEligibleVoteCount(period uint64) (uint64, error) { return 1, nil }
func (f *fakeState) DposVrfKey(period uint64, voter types.Address) ([]byte, error) {
	return f.vrfKeys[voter], nil
}
func (f *fakeState) DposIsEligible(period uint64, addr types.Address) (bool, error) { return true, nil }
func (f *fakeState) GasPriceBid() *big.Int                                          { return big.NewInt(0) }
func (f *fakeState) SubmitSystemCall(contract types.Address, call []byte) (*types.Transaction, error) {
	return nil, nil
}

// testCommitteeSize is large enough relative to the single-unit stakes these
// tests use that crypto.WinsSortition always accepts, so the sortition
// lottery itself doesn't make state-machine tests flaky.
const testCommitteeSize = 1 << 40

func newTestVoteManager(st *fakeState) *vote.Manager {
	return vote.New(st, crypto.NewECDSAVRFVerifier(), testCommitteeSize, nil, 4)
}

type fakeTrxSource struct{}

func (f *fakeTrxSource) GetNonfinalizedTrx(hashes []types.Hash) []types.Hash { return nil }
func (f *fakeTrxSource) TransactionByHash(hash types.Hash) (*types.Transaction, bool) {
	return nil, false
}
func (f *fakeTrxSource) RemoveNonFinalizedTransactions(trxs []*types.Transaction) {}
func (f *fakeTrxSource) SaveTransactionsFromDagBlock(trxs []*types.Transaction)   {}
func (f *fakeTrxSource) MarkFinalized(trxs []*types.Transaction)                  {}

func testDagConfig() dag.Config {
	return dag.Config{
		DagBlockMaxTips:    16,
		DagGasLimit:        1 << 30,
		PbftGasLimit:       1 << 30,
		DagExpiryLimit:     1000,
		MaxLevelsPerPeriod: 10,
		BaseVDFDifficulty:  50,
		MinStakeUnit:       1,
	}
}

func newSingleValidatorDriver(t *testing.T) (*Driver, *dag.Manager, *vote.Manager) {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	genesis := &types.DagBlock{Level: 0}
	if err := genesis.Sign(key); err != nil {
		t.Fatalf("sign genesis: %v", err)
	}
	st := newFakeState()
	st.register(key)
	mgr := dag.New(testDagConfig(), st, &fakeTrxSource{}, genesis)
	votes := newTestVoteManager(st)
	cfg := Config{Lambda: 5 * time.Millisecond, CertVoteStepMultiplier: 2, VoteRetentionPeriods: 2}
	driver, err := New(cfg, newMemDB(), mgr, votes, st, key, nil)
	if err != nil {
		t.Fatalf("new driver: %v", err)
	}
	return driver, mgr, votes
}

// TestSingleValidatorFinalizesFirstPeriod drives the full five-step state
// machine with a single validator, who trivially forms every quorum alone,
// and checks the period advances and the chain persists a head.
func TestSingleValidatorFinalizesFirstPeriod(t *testing.T) {
	driver, _, _ := newSingleValidatorDriver(t)

	var finalized *types.PeriodData
	driver.OnFinalized(func(pd *types.PeriodData) { finalized = pd })

	for i := 0; i < 4 && finalized == nil; i++ {
		if err := driver.Tick(); err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
	}

	if finalized == nil {
		t.Fatalf("expected period 1 to finalize within 4 ticks")
	}
	if finalized.PbftBlock.Period != 1 {
		t.Fatalf("expected finalized period 1, got %d", finalized.PbftBlock.Period)
	}

	raw, err := driver.db.Get(database.CFPbftHead, []byte("head"))
	if err != nil {
		t.Fatalf("expected pbft head to be persisted: %v", err)
	}
	if len(raw) == 0 {
		t.Fatalf("expected non-empty persisted head")
	}
	if driver.period != 2 {
		t.Fatalf("expected driver to advance to period 2, got %d", driver.period)
	}
}

// TestAdoptSyncedPeriodMatchesLocalFinalization drives a source driver to
// finalize period 1 locally, then feeds the resulting PeriodData into a
// second, freshly constructed driver sharing the same genesis via
// AdoptSyncedPeriod, and checks it reaches the same head without ever
// running its own propose/soft/cert steps.
func TestAdoptSyncedPeriodMatchesLocalFinalization(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	genesis := &types.DagBlock{Level: 0}
	if err := genesis.Sign(key); err != nil {
		t.Fatalf("sign genesis: %v", err)
	}

	sourceState := newFakeState()
	sourceState.register(key)
	sourceDag := dag.New(testDagConfig(), sourceState, &fakeTrxSource{}, genesis)
	sourceVotes := newTestVoteManager(sourceState)
	cfg := Config{Lambda: 5 * time.Millisecond, CertVoteStepMultiplier: 2, VoteRetentionPeriods: 2}
	source, err := New(cfg, newMemDB(), sourceDag, sourceVotes, sourceState, key, nil)
	if err != nil {
		t.Fatalf("new source driver: %v", err)
	}

	var finalized *types.PeriodData
	source.OnFinalized(func(pd *types.PeriodData) { finalized = pd })
	for i := 0; i < 4 && finalized == nil; i++ {
		if err := source.Tick(); err != nil {
			t.Fatalf("source tick %d: %v", i, err)
		}
	}
	if finalized == nil {
		t.Fatalf("expected source to finalize period 1")
	}

	targetKey, _ := crypto.GeneratePrivateKey()
	targetState := newFakeState()
	targetState.register(key)
	targetState.register(targetKey)
	targetDag := dag.New(testDagConfig(), targetState, &fakeTrxSource{}, genesis)
	targetVotes := newTestVoteManager(targetState)
	target, err := New(cfg, newMemDB(), targetDag, targetVotes, targetState, targetKey, nil)
	if err != nil {
		t.Fatalf("new target driver: %v", err)
	}

	if err := target.AdoptSyncedPeriod(finalized); err != nil {
		t.Fatalf("adopt synced period: %v", err)
	}
	if target.period != 2 {
		t.Fatalf("expected target to advance to period 2, got %d", target.period)
	}
	if target.prevBlockHash != finalized.PbftBlock.Hash() {
		t.Fatalf("expected target's prev block hash to match the synced block")
	}

	reassembled, err := target.PeriodDataForPeriod(1)
	if err != nil {
		t.Fatalf("period data for period 1: %v", err)
	}
	if reassembled.PbftBlock.Hash() != finalized.PbftBlock.Hash() {
		t.Fatalf("expected reassembled period data to match the adopted block")
	}
	if len(reassembled.CertVotes) != len(finalized.CertVotes) {
		t.Fatalf("expected %d cert votes, got %d", len(finalized.CertVotes), len(reassembled.CertVotes))
	}
}

func TestLeaderVoteIsDeterministic(t *testing.T) {
	key1, _ := crypto.GeneratePrivateKey()
	key2, _ := crypto.GeneratePrivateKey()
	v1, err := vote.GenerateVote(types.VoteTypePropose, types.Hash{0x01}, 1, 1, 1, key1, crypto.NewECDSAVRFProver(key1))
	if err != nil {
		t.Fatalf("generate vote 1: %v", err)
	}
	v2, err := vote.GenerateVote(types.VoteTypePropose, types.Hash{0x02}, 1, 1, 1, key2, crypto.NewECDSAVRFProver(key2))
	if err != nil {
		t.Fatalf("generate vote 2: %v", err)
	}

	leaderA, err := leaderVote([]*types.Vote{v1, v2})
	if err != nil {
		t.Fatalf("leader vote: %v", err)
	}
	leaderB, err := leaderVote([]*types.Vote{v2, v1})
	if err != nil {
		t.Fatalf("leader vote reordered: %v", err)
	}
	if leaderA.Hash() != leaderB.Hash() {
		t.Fatalf("expected leader selection to be order-independent")
	}
}
