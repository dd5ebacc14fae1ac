package types

import (
	"io"
	"math/big"

	"github.com/dagchain/dagchain/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// StakeChange is a signed delta in a validator's stake between two
// consecutive pillar blocks (spec §3 "validator_stakes_changes").
type StakeChange struct {
	Validator Address
	Delta     *big.Int // signed 256-bit delta, positive or negative
}

// PillarBlock is a periodic checkpoint carrying validator-stake deltas,
// certified by BLS threshold signatures for external bridges (spec §3, §4.6).
type PillarBlock struct {
	Period                 uint64
	StateRoot              Hash
	PreviousPillarBlockHash Hash
	StakesChanges          []StakeChange
	BridgeRoot             Hash
	Epoch                  uint64

	hash *Hash
}

type rlpStakeChange struct {
	Validator Address
	Delta     *big.Int
}

type rlpPillarBlock struct {
	Period                  uint64
	StateRoot               Hash
	PreviousPillarBlockHash Hash
	StakesChanges           []rlpStakeChange
	BridgeRoot              Hash
	Epoch                   uint64
}

func (p *PillarBlock) toRLP() *rlpPillarBlock {
	changes := make([]rlpStakeChange, len(p.StakesChanges))
	for i, c := range p.StakesChanges {
		changes[i] = rlpStakeChange{Validator: c.Validator, Delta: c.Delta}
	}
	return &rlpPillarBlock{
		Period: p.Period, StateRoot: p.StateRoot, PreviousPillarBlockHash: p.PreviousPillarBlockHash,
		StakesChanges: changes, BridgeRoot: p.BridgeRoot, Epoch: p.Epoch,
	}
}

// EncodeRLP implements rlp.Encoder.
func (p *PillarBlock) EncodeRLP(w io.Writer) error { return rlp.Encode(w, p.toRLP()) }

// DecodeRLP implements rlp.Decoder.
func (p *PillarBlock) DecodeRLP(s *rlp.Stream) error {
	var raw rlpPillarBlock
	if err := s.Decode(&raw); err != nil {
		return err
	}
	p.Period, p.StateRoot, p.PreviousPillarBlockHash = raw.Period, raw.StateRoot, raw.PreviousPillarBlockHash
	p.BridgeRoot, p.Epoch = raw.BridgeRoot, raw.Epoch
	p.StakesChanges = make([]StakeChange, len(raw.StakesChanges))
	for i, c := range raw.StakesChanges {
		p.StakesChanges[i] = StakeChange{Validator: c.Validator, Delta: c.Delta}
	}
	p.hash = nil
	return nil
}

// Hash returns the contract-ABI-packed encoding's keccak256, per spec §3
// ("encoded as big-endian packed fields in a contract-ABI layout").
func (p *PillarBlock) Hash() Hash {
	if p.hash != nil {
		return *p.hash
	}
	packed := p.ABIPacked()
	h := crypto.Keccak256(packed)
	p.hash = &h
	return h
}

// ABIPacked big-endian packs the pillar block's fields into 32-byte-aligned
// words the way a Solidity bridge contract would read them, per spec §3.
func (p *PillarBlock) ABIPacked() []byte {
	out := make([]byte, 0, 32*(5+2*len(p.StakesChanges)))
	out = append(out, leftPad32(crypto.EncodeUint64(p.Period))...)
	out = append(out, p.StateRoot[:]...)
	out = append(out, p.PreviousPillarBlockHash[:]...)
	out = append(out, p.BridgeRoot[:]...)
	out = append(out, leftPad32(crypto.EncodeUint64(p.Epoch))...)
	for _, c := range p.StakesChanges {
		addrWord := make([]byte, 32)
		copy(addrWord[12:], c.Validator[:])
		out = append(out, addrWord...)
		deltaWord := make([]byte, 32)
		delta := c.Delta
		if delta.Sign() < 0 {
			delta = new(big.Int).Add(delta, new(big.Int).Lsh(big.NewInt(1), 256))
		}
		deltaBytes := delta.Bytes()
		copy(deltaWord[32-len(deltaBytes):], deltaBytes)
		out = append(out, deltaWord...)
	}
	return out
}

func leftPad32(b []byte) []byte {
	if len(b) >= 32 {
		return b[len(b)-32:]
	}
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}

// PillarVote is a single validator's BLS signature over a pillar block hash
// (spec §3 "PillarVote (BLS signature)").
type PillarVote struct {
	PillarBlockHash Hash
	Period          uint64
	Signer          Address
	BLSSignature    []byte
}

type rlpPillarVote struct {
	PillarBlockHash Hash
	Period          uint64
	Signer          Address
	BLSSignature    []byte
}

// EncodeRLP implements rlp.Encoder.
func (v *PillarVote) EncodeRLP(w io.Writer) error {
	return rlp.Encode(w, &rlpPillarVote{v.PillarBlockHash, v.Period, v.Signer, v.BLSSignature})
}

// DecodeRLP implements rlp.Decoder.
func (v *PillarVote) DecodeRLP(s *rlp.Stream) error {
	var raw rlpPillarVote
	if err := s.Decode(&raw); err != nil {
		return err
	}
	v.PillarBlockHash, v.Period, v.Signer, v.BLSSignature = raw.PillarBlockHash, raw.Period, raw.Signer, raw.BLSSignature
	return nil
}

// Hash identifies this vote for known-set deduplication and gossip
// bookkeeping. Unlike Vote, a PillarVote carries no ECDSA signature of its
// own to hash (BLSSignature is over the pillar block hash, not over the
// vote), so this hashes the full RLP encoding instead.
func (v *PillarVote) Hash() Hash {
	encoded, err := rlp.EncodeToBytes(v)
	if err != nil {
		panic(err)
	}
	return crypto.Keccak256(encoded)
}
