package vote

import (
	"math/big"
	"testing"

	"github.com/dagchain/dagchain/crypto"
	"github.com/dagchain/dagchain/state"
	"github.com/dagchain/dagchain/types"
)

// fakeState is a minimal state.API double: every registered voter holds
// stake 1 and total stake tracks how many have been registered, and
// committeeSize is set large enough in testCommitteeSize that sortition
// always succeeds, so tests can focus on vote bookkeeping rather than
// fighting a random VRF output.
type fakeState struct {
	stakes  map[types.Address]uint64
	total   uint64
	vrfKeys map[types.Address][]byte
}

func newFakeState() *fakeState {
	return &fakeState{stakes: map[types.Address]uint64{}, vrfKeys: map[types.Address][]byte{}}
}

func (f *fakeState) register(key *crypto.PrivateKey) {
	addr := key.Address()
	f.stakes[addr] = 1
	f.vrfKeys[addr] = key.VRFPublicKey()
	f.total++
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
	return f.vrfKeys[voter], nil
}
func (f *fakeState) DposIsEligible(period uint64, addr types.Address) (bool, error) { return true, nil }
func (f *fakeState) GasPriceBid() *big.Int                                          { return big.NewInt(0) }
func (f *fakeState) SubmitSystemCall(contract types.Address, call []byte) (*types.Transaction, error) {
	return nil, nil
}

// testCommitteeSize is large enough relative to the handful-of-units stakes
// used in these tests that crypto.WinsSortition accepts any VRF output,
// letting tests exercise acceptance/double-vote/quorum logic deterministically
// rather than the sortition lottery itself (that's crypto.WinsSortition's
// own test).
const testCommitteeSize = 1 << 40

type fakeSlashing struct {
	reported int
	voter    types.Address
	first    *types.Vote
	second   *types.Vote
}

func (f *fakeSlashing) ReportDoubleVote(voter types.Address, first, second *types.Vote) error {
	f.reported++
	f.voter, f.first, f.second = voter, first, second
	return nil
}

func newManager(st *fakeState, slashing DoubleVoteReporter, retainPeriods uint64) *Manager {
	return New(st, crypto.NewECDSAVRFVerifier(), testCommitteeSize, slashing, retainPeriods)
}

func signedVote(t *testing.T, key *crypto.PrivateKey, typ types.VoteType, blockHash types.Hash, period, round, step uint64) *types.Vote {
	t.Helper()
	v, err := GenerateVote(typ, blockHash, period, round, step, key, crypto.NewECDSAVRFProver(key))
	if err != nil {
		t.Fatalf("generate vote: %v", err)
	}
	return v
}

func TestAddVerifiedVoteAndQuorum(t *testing.T) {
	st := newFakeState()
	keys := make([]*crypto.PrivateKey, 4)
	for i := range keys {
		k, err := crypto.GeneratePrivateKey()
		if err != nil {
			t.Fatalf("generate key: %v", err)
		}
		keys[i] = k
		st.register(k)
	}
	m := newManager(st, nil, 0)
	hash := types.Hash{0x01}

	if _, ok := m.GetTwoTPlusOneVotes(1, 1, 1, types.VoteTypeCert, st.total); ok {
		t.Fatalf("expected no quorum before any votes")
	}

	for i, k := range keys[:3] {
		v := signedVote(t, k, types.VoteTypeCert, hash, 1, 1, 1)
		if err := m.AddVerifiedVote(v); err != nil {
			t.Fatalf("add verified vote %d: %v", i, err)
		}
	}

	got, ok := m.GetTwoTPlusOneVotes(1, 1, 1, types.VoteTypeCert, st.total)
	if !ok || got != hash {
		t.Fatalf("expected quorum for %x, got %x ok=%v", hash, got, ok)
	}

	if len(m.GetVerifiedVotes(1, 1, 1, types.VoteTypeCert)) != 3 {
		t.Fatalf("expected 3 verified votes")
	}
	if len(m.RewardVotes(1)) != 3 {
		t.Fatalf("expected 3 reward votes recorded for cert votes")
	}
}

func TestAddVerifiedVoteDuplicateIsIdempotent(t *testing.T) {
	st := newFakeState()
	key, _ := crypto.GeneratePrivateKey()
	st.register(key)
	m := newManager(st, nil, 0)
	hash := types.Hash{0x02}
	v := signedVote(t, key, types.VoteTypeSoft, hash, 2, 1, 2)

	if err := m.AddVerifiedVote(v); err != nil {
		t.Fatalf("first add: %v", err)
	}
	if err := m.AddVerifiedVote(v); err != nil {
		t.Fatalf("duplicate add of the identical vote should be a no-op: %v", err)
	}
	if len(m.GetVerifiedVotes(2, 1, 2, types.VoteTypeSoft)) != 1 {
		t.Fatalf("expected exactly one stored vote")
	}
}

func TestAddVerifiedVoteDoubleVoteReported(t *testing.T) {
	st := newFakeState()
	key, _ := crypto.GeneratePrivateKey()
	st.register(key)
	slashing := &fakeSlashing{}
	m := newManager(st, slashing, 0)

	first := signedVote(t, key, types.VoteTypeSoft, types.Hash{0x03}, 3, 1, 2)
	second := signedVote(t, key, types.VoteTypeSoft, types.Hash{0x04}, 3, 1, 2)

	if err := m.AddVerifiedVote(first); err != nil {
		t.Fatalf("add first vote: %v", err)
	}
	if err := m.AddVerifiedVote(second); err == nil {
		t.Fatalf("expected double vote to be rejected")
	}
	if slashing.reported != 1 {
		t.Fatalf("expected double vote to be reported once, got %d", slashing.reported)
	}
	if len(m.GetVerifiedVotes(3, 1, 2, types.VoteTypeSoft)) != 1 {
		t.Fatalf("expected the double vote to not replace the original")
	}
}

func TestAddVerifiedVoteRejectsUnstakedSigner(t *testing.T) {
	st := newFakeState()
	key, _ := crypto.GeneratePrivateKey() // never registered: zero stake
	m := newManager(st, nil, 0)

	v := signedVote(t, key, types.VoteTypeSoft, types.Hash{0x09}, 9, 1, 2)
	if err := m.AddVerifiedVote(v); err == nil {
		t.Fatalf("expected a vote from an unstaked signer to be rejected")
	}
}

func TestAddVerifiedVoteRejectsBadVrfProof(t *testing.T) {
	st := newFakeState()
	key, _ := crypto.GeneratePrivateKey()
	other, _ := crypto.GeneratePrivateKey()
	st.register(key)
	m := newManager(st, nil, 0)

	// Evaluate the VRF proof with a different key than the one that signs
	// the vote, so the voter recovered from the signature won't match the
	// key the proof verifies against.
	v, err := GenerateVote(types.VoteTypeSoft, types.Hash{0x0a}, 10, 1, 2, key, crypto.NewECDSAVRFProver(other))
	if err != nil {
		t.Fatalf("generate vote: %v", err)
	}
	if err := m.AddVerifiedVote(v); err == nil {
		t.Fatalf("expected a vote with a mismatched vrf proof to be rejected")
	}
}

func TestVoteAlreadyValidated(t *testing.T) {
	st := newFakeState()
	key, _ := crypto.GeneratePrivateKey()
	st.register(key)
	m := newManager(st, nil, 0)
	v := signedVote(t, key, types.VoteTypePropose, types.Hash{0x05}, 4, 1, 1)
	voter, _ := v.Voter()
	coords := types.Coordinates{Voter: voter, Period: 4, Round: 1, Step: 1, Type: types.VoteTypePropose}

	if m.VoteAlreadyValidated(coords) {
		t.Fatalf("expected not yet validated")
	}
	if err := m.AddVerifiedVote(v); err != nil {
		t.Fatalf("add vote: %v", err)
	}
	if !m.VoteAlreadyValidated(coords) {
		t.Fatalf("expected validated after insert")
	}
}

func TestCleanupVotesByPeriod(t *testing.T) {
	st := newFakeState()
	key, _ := crypto.GeneratePrivateKey()
	st.register(key)
	m := newManager(st, nil, 1)

	old := signedVote(t, key, types.VoteTypeNext, types.Hash{0x06}, 1, 1, 1)
	recent := signedVote(t, key, types.VoteTypeNext, types.Hash{0x07}, 5, 1, 1)
	if err := m.AddVerifiedVote(old); err != nil {
		t.Fatalf("add old vote: %v", err)
	}
	if err := m.AddVerifiedVote(recent); err != nil {
		t.Fatalf("add recent vote: %v", err)
	}

	m.CleanupVotesByPeriod(5)

	if len(m.GetVerifiedVotes(1, 1, 1, types.VoteTypeNext)) != 0 {
		t.Fatalf("expected period-1 votes to be pruned")
	}
	if len(m.GetVerifiedVotes(5, 1, 1, types.VoteTypeNext)) != 1 {
		t.Fatalf("expected period-5 votes to survive pruning")
	}
}

func TestIsPbftRelevantVote(t *testing.T) {
	v := &types.Vote{Period: 10}
	if !IsPbftRelevantVote(v, 10) {
		t.Fatalf("expected current-period vote to be relevant")
	}
	if !IsPbftRelevantVote(v, 9) {
		t.Fatalf("expected one-period-ahead vote to be relevant")
	}
	if IsPbftRelevantVote(v, 8) {
		t.Fatalf("expected far-future vote to not be relevant")
	}
}

func TestNextVotesBundle(t *testing.T) {
	st := newFakeState()
	keys := make([]*crypto.PrivateKey, 2)
	for i := range keys {
		k, _ := crypto.GeneratePrivateKey()
		keys[i] = k
		st.register(k)
	}
	m := newManager(st, nil, 0)
	hash := types.Hash{0x08}
	for _, k := range keys {
		v := signedVote(t, k, types.VoteTypeNext, hash, 6, 2, 1)
		if err := m.AddVerifiedVote(v); err != nil {
			t.Fatalf("add next vote: %v", err)
		}
	}

	bundle := m.NextVotesBundle(6, 2, hash)
	if len(bundle.Votes) != 2 {
		t.Fatalf("expected 2 votes in bundle, got %d", len(bundle.Votes))
	}
	if bundle.IsForNull() {
		t.Fatalf("expected bundle to not be for NULL")
	}
}
