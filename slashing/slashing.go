// Package slashing implements spec §4.9: when the vote manager detects two
// votes by the same voter at the same (period, round, step, type) with
// different block hashes, it packs an ABI call to the fixed
// double-voting-proof system contract and pushes it into the transaction
// pool. Grounded on state.API.SubmitSystemCall (the opaque system-contract
// bridge spec §6 describes) and the teacher's errs.PacketError taxonomy for
// classifying a malformed proof.
package slashing

import (
	"strings"

	"github.com/dagchain/dagchain/logger"
	"github.com/dagchain/dagchain/state"
	"github.com/dagchain/dagchain/types"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/pkg/errors"
)

var log, _ = logger.Get(logger.SubsystemTags.SLSH)

// DoubleVotingProofContract is the fixed system contract address double
// voting proofs are submitted to (spec §4.9).
var DoubleVotingProofContract = types.Address{0xd0, 0xab}

const commitDoubleVotingProofMethod = "commitDoubleVotingProof"

var doubleVotingProofABI abi.ABI

func init() {
	const abiJSON = `[{"type":"function","name":"commitDoubleVotingProof","inputs":[{"name":"voteA","type":"bytes"},{"name":"voteB","type":"bytes"}]}]`
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		panic(err)
	}
	doubleVotingProofABI = parsed
}

// Manager packs and submits double-voting proofs (spec §4.9).
type Manager struct {
	state state.API
}

// New constructs a Manager bound to stateAPI's SubmitSystemCall surface.
func New(stateAPI state.API) *Manager {
	return &Manager{state: stateAPI}
}

// ReportDoubleVote implements vote.DoubleVoteReporter: it encodes a and b as
// an ABI call to the system contract and queues it as a pending transaction
// (spec §4.9 "submitDoubleVotingProof").
func (m *Manager) ReportDoubleVote(voter types.Address, a, b *types.Vote) error {
	encodedA, err := encodeVote(a)
	if err != nil {
		return errors.Wrap(err, "failed to encode first vote")
	}
	encodedB, err := encodeVote(b)
	if err != nil {
		return errors.Wrap(err, "failed to encode second vote")
	}

	call, err := doubleVotingProofABI.Pack(commitDoubleVotingProofMethod, encodedA, encodedB)
	if err != nil {
		return errors.Wrap(err, "failed to pack double-voting proof call")
	}

	trx, err := m.state.SubmitSystemCall(DoubleVotingProofContract, call)
	if err != nil {
		return errors.Wrap(err, "failed to submit double-voting proof")
	}
	log.Warnf("submitted double-voting proof against %x (period=%d round=%d step=%d) as trx %x", voter, a.Period, a.Round, a.Step, trx.Hash())
	return nil
}

func encodeVote(v *types.Vote) ([]byte, error) {
	return rlp.EncodeToBytes(v)
}
