package types

import (
	"io"

	"github.com/dagchain/dagchain/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// VoteType distinguishes the four PBFT vote kinds of spec §3/§4.4.
type VoteType uint8

const (
	VoteTypePropose VoteType = iota
	VoteTypeSoft
	VoteTypeCert
	VoteTypeNext
)

func (t VoteType) String() string {
	switch t {
	case VoteTypePropose:
		return "propose"
	case VoteTypeSoft:
		return "soft"
	case VoteTypeCert:
		return "cert"
	case VoteTypeNext:
		return "next"
	default:
		return "unknown"
	}
}

// Vote is a single PBFT consensus vote (spec §3). BlockHash is the null hash
// (all zero) for a next-vote on NULL.
type Vote struct {
	BlockHash Hash
	Type      VoteType
	Period    uint64
	Round     uint64
	Step      uint64
	VRFProof  []byte
	V, R, S   []byte

	hash   *Hash
	voter  *Address
	weight uint64
}

type rlpVote struct {
	BlockHash Hash
	Type      uint8
	Period    uint64
	Round     uint64
	Step      uint64
	VRFProof  []byte
	V, R, S   []byte
}

func (v *Vote) toRLP() *rlpVote {
	return &rlpVote{
		BlockHash: v.BlockHash, Type: uint8(v.Type), Period: v.Period, Round: v.Round, Step: v.Step,
		VRFProof: v.VRFProof, V: v.V, R: v.R, S: v.S,
	}
}

// EncodeRLP implements rlp.Encoder.
func (v *Vote) EncodeRLP(w io.Writer) error { return rlp.Encode(w, v.toRLP()) }

// DecodeRLP implements rlp.Decoder.
func (v *Vote) DecodeRLP(s *rlp.Stream) error {
	var raw rlpVote
	if err := s.Decode(&raw); err != nil {
		return err
	}
	v.BlockHash, v.Type, v.Period, v.Round, v.Step = raw.BlockHash, VoteType(raw.Type), raw.Period, raw.Round, raw.Step
	v.VRFProof = raw.VRFProof
	v.V, v.R, v.S = raw.V, raw.R, raw.S
	v.hash, v.voter = nil, nil
	return nil
}

// Hash returns keccak256(rlp) of the vote, caching the result.
func (v *Vote) Hash() Hash {
	if v.hash != nil {
		return *v.hash
	}
	encoded, err := rlp.EncodeToBytes(v.toRLP())
	if err != nil {
		panic(err)
	}
	h := crypto.Keccak256(encoded)
	v.hash = &h
	return h
}

func (v *Vote) signingDigest() Hash {
	unsigned := &rlpVote{
		BlockHash: v.BlockHash, Type: uint8(v.Type), Period: v.Period, Round: v.Round, Step: v.Step,
		VRFProof: v.VRFProof,
	}
	encoded, err := rlp.EncodeToBytes(unsigned)
	if err != nil {
		panic(err)
	}
	return crypto.Keccak256(encoded)
}

// Sign signs the vote with key, populating V/R/S.
func (v *Vote) Sign(key *crypto.PrivateKey) error {
	sig, err := key.Sign(v.signingDigest())
	if err != nil {
		return err
	}
	v.R, v.S, v.V = sig[0:32], sig[32:64], sig[64:65]
	v.hash, v.voter = nil, nil
	return nil
}

// Voter recovers and caches the voting address.
func (v *Vote) Voter() (Address, error) {
	if v.voter != nil {
		return *v.voter, nil
	}
	sig := append(append(append([]byte{}, v.R...), v.S...), v.V...)
	addr, err := crypto.RecoverSender(v.signingDigest(), sig)
	if err != nil {
		return Address{}, err
	}
	v.voter = &addr
	return addr, nil
}

// SetWeight records the voter's dposEligibleVoteCount at Period, computed
// by the vote manager during verification (spec §3 "Weight").
func (v *Vote) SetWeight(weight uint64) { v.weight = weight }

// Weight returns the weight last set by SetWeight.
func (v *Vote) Weight() uint64 { return v.weight }

// Coordinates identifies the (voter, period, round, step, type) tuple used
// for double-voting and duplicate detection (spec §4.5).
type Coordinates struct {
	Voter  Address
	Period uint64
	Round  uint64
	Step   uint64
	Type   VoteType
}

// VRFMessage builds the period||round||step message a vote's VRF proof is
// evaluated over (spec §3 "A vote is eligible iff...").
func VRFMessage(period, round, step uint64) []byte {
	buf := make([]byte, 0, 24)
	buf = append(buf, crypto.EncodeUint64(period)...)
	buf = append(buf, crypto.EncodeUint64(round)...)
	buf = append(buf, crypto.EncodeUint64(step)...)
	return buf
}

// NextVotesBundle is the set of next-votes from the previous round
// demonstrating a 2t+1 quorum for either a block or NULL (spec §3).
type NextVotesBundle struct {
	Period    uint64
	Round     uint64
	BlockHash Hash // null hash means the bundle is for NULL
	Votes     []*Vote
}

// IsForNull reports whether the bundle justifies the null value.
func (b *NextVotesBundle) IsForNull() bool {
	return b.BlockHash == (Hash{})
}
