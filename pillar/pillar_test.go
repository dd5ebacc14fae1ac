package pillar

import (
	"math/big"
	"testing"

	"github.com/dagchain/dagchain/crypto"
	"github.com/dagchain/dagchain/state"
	"github.com/dagchain/dagchain/types"
)

type fakeState struct {
	stakes map[types.Address]uint64
	total  uint64
}

func (f *fakeState) LastBlockNumber() uint64                      { return 0 }
func (f *fakeState) Balance(addr types.Address) (*big.Int, error) { return big.NewInt(0), nil }
func (f *fakeState) Nonce(addr types.Address) (uint64, error)     { return 0, nil }
func (f *fakeState) EstimateGas(trx *types.Transaction, period uint64) (uint64, error) {
	return 0, nil
}
func (f *fakeState) ExecutePeriod(period uint64, trxs []*types.Transaction) (*state.ExecutionResult, error) {
	return &state.ExecutionResult{}, nil
}
func (f *fakeState) DposEligibleVoteCount(period uint64, voter types.Address) (uint64, error) {
	return f.stakes[voter], nil
}
func (f *fakeState) DposTotalEligibleVoteCount(period uint64) (uint64, error) { return f.total, nil }
func (f *fakeState) DposVrfKey(period uint64, voter types.Address) ([]byte, error) {
	return nil, nil
}
func (f *fakeState) DposIsEligible(period uint64, addr types.Address) (bool, error) { return true, nil }
func (f *fakeState) GasPriceBid() *big.Int                                          { return big.NewInt(0) }
func (f *fakeState) SubmitSystemCall(contract types.Address, call []byte) (*types.Transaction, error) {
	return nil, nil
}

func TestIsEpochBoundary(t *testing.T) {
	cfg := Config{PillarBlockPeriods: 10, FicusHFBlockNum: 20}
	cases := map[uint64]bool{9: false, 10: false, 20: true, 25: false, 30: true}
	for period, want := range cases {
		if got := cfg.IsEpochBoundary(period); got != want {
			t.Fatalf("period %d: expected %v, got %v", period, want, got)
		}
	}
}

func TestBuildPillarBlockIfBoundarySkipsNonBoundary(t *testing.T) {
	cfg := Config{PillarBlockPeriods: 10, FicusHFBlockNum: 0}
	m := New(cfg, &fakeState{}, nil)
	block, err := m.BuildPillarBlockIfBoundary(5, types.Hash{0x01})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if block != nil {
		t.Fatalf("expected no block for a non-boundary period")
	}
}

func TestBuildAndChainPillarBlocks(t *testing.T) {
	cfg := Config{PillarBlockPeriods: 10, FicusHFBlockNum: 0}
	m := New(cfg, &fakeState{}, nil)

	first, err := m.BuildPillarBlockIfBoundary(10, types.Hash{0x01})
	if err != nil || first == nil {
		t.Fatalf("build first: block=%v err=%v", first, err)
	}
	if first.PreviousPillarBlockHash != (types.Hash{}) {
		t.Fatalf("expected first pillar block to have a null predecessor")
	}

	got := m.PillarBlockHashForPeriod(11)
	if got == nil || *got != first.Hash() {
		t.Fatalf("expected period 11's proposal to reference period 10's pillar block")
	}
	if m.PillarBlockHashForPeriod(15) != nil {
		t.Fatalf("expected no reference for a period whose predecessor built nothing")
	}
}

type fakeLister struct {
	validators []types.Address
}

func (f *fakeLister) TrackedValidators(period uint64) ([]types.Address, error) {
	return f.validators, nil
}

func TestBuildPillarBlockIfBoundaryReportsStakeDelta(t *testing.T) {
	addr := types.Address{0x09}
	st := &fakeState{stakes: map[types.Address]uint64{addr: 100}, total: 100}
	cfg := Config{PillarBlockPeriods: 10, FicusHFBlockNum: 0}
	m := New(cfg, st, &fakeLister{validators: []types.Address{addr}})

	first, err := m.BuildPillarBlockIfBoundary(10, types.Hash{0x01})
	if err != nil || first == nil {
		t.Fatalf("build first: block=%v err=%v", first, err)
	}
	if len(first.StakesChanges) != 1 || first.StakesChanges[0].Delta.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("expected first pillar block to report a +100 delta against zero prior stake, got %+v", first.StakesChanges)
	}

	st.stakes[addr] = 70
	second, err := m.BuildPillarBlockIfBoundary(20, types.Hash{0x02})
	if err != nil || second == nil {
		t.Fatalf("build second: block=%v err=%v", second, err)
	}
	if len(second.StakesChanges) != 1 || second.StakesChanges[0].Delta.Cmp(big.NewInt(-30)) != 0 {
		t.Fatalf("expected second pillar block to report a -30 delta against the first block's stake, got %+v", second.StakesChanges)
	}

	st.stakes[addr] = 70
	third, err := m.BuildPillarBlockIfBoundary(30, types.Hash{0x03})
	if err != nil || third == nil {
		t.Fatalf("build third: block=%v err=%v", third, err)
	}
	if len(third.StakesChanges) != 0 {
		t.Fatalf("expected no stake change entry when stake is unchanged, got %+v", third.StakesChanges)
	}
}

func TestAddPillarVoteReachesQuorum(t *testing.T) {
	st := &fakeState{stakes: map[types.Address]uint64{}, total: 4}
	cfg := Config{PillarBlockPeriods: 10, FicusHFBlockNum: 0}
	m := New(cfg, st, nil)
	block, err := m.BuildPillarBlockIfBoundary(10, types.Hash{0x02})
	if err != nil || block == nil {
		t.Fatalf("build: block=%v err=%v", block, err)
	}
	hash := block.Hash()

	keys := make([]*crypto.PrivateKey, 3)
	for i := range keys {
		k, err := crypto.GeneratePrivateKey()
		if err != nil {
			t.Fatalf("generate key: %v", err)
		}
		keys[i] = k
		st.stakes[k.Address()] = 1
	}

	var reachedQuorum bool
	for i, k := range keys {
		blsKey, err := crypto.NewBLSPrivateKey([32]byte{byte(i + 1)})
		if err != nil {
			t.Fatalf("bls key: %v", err)
		}
		sig := blsKey.Sign(hash[:])
		reached, err := m.AddPillarVote(&types.PillarVote{PillarBlockHash: hash, Period: 10, Signer: k.Address(), BLSSignature: sig})
		if err != nil {
			t.Fatalf("add pillar vote %d: %v", i, err)
		}
		if reached {
			reachedQuorum = true
		}
	}
	if !reachedQuorum {
		t.Fatalf("expected 3/4 stake to reach 2t+1 quorum")
	}
	if m.LatestFinalized() == nil || m.LatestFinalized().Hash() != hash {
		t.Fatalf("expected the block to be recorded as latest finalized")
	}

	agg, err := m.AggregateSignatures(hash)
	if err != nil {
		t.Fatalf("aggregate signatures: %v", err)
	}
	if len(agg) == 0 {
		t.Fatalf("expected a non-empty aggregate signature")
	}
}
