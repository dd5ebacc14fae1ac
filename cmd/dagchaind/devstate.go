package main

import (
	"math/big"
	"sync"

	"github.com/dagchain/dagchain/state"
	"github.com/dagchain/dagchain/types"
)

// devState is a minimal in-memory state.API for standalone/dev runs where no
// real EVM-backed executor is wired in (spec §1 treats StateAPI as opaque;
// this repo never implements one). It grants every account the same balance
// and treats all stake as equally eligible, the same role geth's --dev mode
// plays for a backend that would otherwise need a live chain behind it.
type devState struct {
	mu     sync.Mutex
	nonces map[types.Address]uint64
	period uint64
	vrfKey []byte
}

// newDevState builds a dev-mode state backend. vrfKey is the lone
// validator's compressed VRF public key (spec §4.5 dposVrfKey); dev mode
// treats all stake as equally eligible, so it answers with the same key for
// every voter rather than tracking a per-address registry.
func newDevState(vrfKey []byte) *devState {
	return &devState{nonces: make(map[types.Address]uint64), vrfKey: vrfKey}
}

func (s *devState) LastBlockNumber() uint64 { return s.period }

func (s *devState) Balance(types.Address) (*big.Int, error) {
	return big.NewInt(1_000_000_000_000), nil
}

func (s *devState) Nonce(addr types.Address) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nonces[addr], nil
}

func (s *devState) EstimateGas(*types.Transaction, uint64) (uint64, error) {
	return 21000, nil
}

func (s *devState) ExecutePeriod(period uint64, orderedTrxs []*types.Transaction) (*state.ExecutionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.period = period

	receipts := make([]state.Receipt, 0, len(orderedTrxs))
	for _, trx := range orderedTrxs {
		sender, err := trx.Sender()
		if err == nil {
			s.nonces[sender]++
		}
		receipts = append(receipts, state.Receipt{TrxHash: trx.Hash(), Success: true, GasUsed: 21000})
	}
	return &state.ExecutionResult{
		StateRoot: types.Hash{},
		Receipts:  receipts,
		DPoSResult: state.DPoSResult{
			ProposerReward: big.NewInt(0),
			VoterRewards:   map[types.Address]*big.Int{},
		},
	}, nil
}

func (s *devState) DposEligibleVoteCount(uint64, types.Address) (uint64, error) { return 1, nil }

func (s *devState) DposTotalEligibleVoteCount(uint64) (uint64, error) { return 1, nil }

func (s *devState) DposVrfKey(uint64, types.Address) ([]byte, error) { return s.vrfKey, nil }

func (s *devState) DposIsEligible(uint64, types.Address) (bool, error) { return true, nil }

func (s *devState) GasPriceBid() *big.Int { return big.NewInt(1) }

func (s *devState) SubmitSystemCall(types.Address, []byte) (*types.Transaction, error) { return nil, nil }
