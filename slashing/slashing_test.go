package slashing

import (
	"math/big"
	"testing"

	"github.com/dagchain/dagchain/crypto"
	"github.com/dagchain/dagchain/state"
	"github.com/dagchain/dagchain/types"
)

type fakeState struct {
	submittedContract types.Address
	submittedCall     []byte
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
	return 0, nil
}
func (f *fakeState) DposTotalEligibleVoteCount(period uint64) (uint64, error) { return 0, nil }
func (f *fakeState) DposVrfKey(period uint64, voter types.Address) ([]byte, error) {
	return nil, nil
}
func (f *fakeState) DposIsEligible(period uint64, addr types.Address) (bool, error) { return true, nil }
func (f *fakeState) GasPriceBid() *big.Int                                          { return big.NewInt(0) }
func (f *fakeState) SubmitSystemCall(contract types.Address, call []byte) (*types.Transaction, error) {
	f.submittedContract = contract
	f.submittedCall = call
	return &types.Transaction{}, nil
}

func TestReportDoubleVoteSubmitsSystemCall(t *testing.T) {
	st := &fakeState{}
	m := New(st)

	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	voter := key.Address()

	first := &types.Vote{BlockHash: types.Hash{0x01}, Type: types.VoteTypeCert, Period: 1, Round: 1, Step: 3}
	if err := first.Sign(key); err != nil {
		t.Fatalf("sign first: %v", err)
	}
	second := &types.Vote{BlockHash: types.Hash{0x02}, Type: types.VoteTypeCert, Period: 1, Round: 1, Step: 3}
	if err := second.Sign(key); err != nil {
		t.Fatalf("sign second: %v", err)
	}

	if err := m.ReportDoubleVote(voter, first, second); err != nil {
		t.Fatalf("report double vote: %v", err)
	}
	if st.submittedContract != DoubleVotingProofContract {
		t.Fatalf("expected submission to the double-voting-proof contract")
	}
	if len(st.submittedCall) == 0 {
		t.Fatalf("expected a non-empty packed call")
	}
}
