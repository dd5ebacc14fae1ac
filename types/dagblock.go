package types

import (
	"io"

	"github.com/dagchain/dagchain/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// DagBlockMaxTips is kDagBlockMaxTips (spec §3): the maximum number of
// non-pivot parents a DagBlock may reference.
const DagBlockMaxTips = 16

// DagBlock is a proposed transaction block in the BlockDAG (spec §3).
// Hash and sender are derived rather than encoded.
type DagBlock struct {
	Pivot          Hash
	Level          uint64
	Tips           []Hash
	TrxHashes      []Hash
	VDFMessage     []byte
	VDFDifficulty  uint64
	VDFOutput      []byte
	VRFProof       []byte
	GasEstimation  uint64
	ProposalPeriod uint64
	V, R, S        []byte

	hash   *Hash
	sender *Address
}

type rlpDagBlock struct {
	Pivot          Hash
	Level          uint64
	Tips           []Hash
	TrxHashes      []Hash
	VDFMessage     []byte
	VDFDifficulty  uint64
	VDFOutput      []byte
	VRFProof       []byte
	GasEstimation  uint64
	ProposalPeriod uint64
	V, R, S        []byte
}

func (b *DagBlock) toRLP() *rlpDagBlock {
	return &rlpDagBlock{
		Pivot: b.Pivot, Level: b.Level, Tips: b.Tips, TrxHashes: b.TrxHashes,
		VDFMessage: b.VDFMessage, VDFDifficulty: b.VDFDifficulty, VDFOutput: b.VDFOutput,
		VRFProof:      b.VRFProof,
		GasEstimation: b.GasEstimation, ProposalPeriod: b.ProposalPeriod,
		V: b.V, R: b.R, S: b.S,
	}
}

// EncodeRLP implements rlp.Encoder.
func (b *DagBlock) EncodeRLP(w io.Writer) error {
	return rlp.Encode(w, b.toRLP())
}

// DecodeRLP implements rlp.Decoder.
func (b *DagBlock) DecodeRLP(s *rlp.Stream) error {
	var raw rlpDagBlock
	if err := s.Decode(&raw); err != nil {
		return err
	}
	b.Pivot, b.Level, b.Tips, b.TrxHashes = raw.Pivot, raw.Level, raw.Tips, raw.TrxHashes
	b.VDFMessage, b.VDFDifficulty, b.VDFOutput = raw.VDFMessage, raw.VDFDifficulty, raw.VDFOutput
	b.VRFProof = raw.VRFProof
	b.GasEstimation, b.ProposalPeriod = raw.GasEstimation, raw.ProposalPeriod
	b.V, b.R, b.S = raw.V, raw.R, raw.S
	b.hash, b.sender = nil, nil
	return nil
}

// Hash returns keccak256(rlp) of the block, caching the result.
func (b *DagBlock) Hash() Hash {
	if b.hash != nil {
		return *b.hash
	}
	encoded, err := rlp.EncodeToBytes(b.toRLP())
	if err != nil {
		panic(err)
	}
	h := crypto.Keccak256(encoded)
	b.hash = &h
	return h
}

// signingDigest hashes every field but the signature.
func (b *DagBlock) signingDigest() Hash {
	unsigned := &rlpDagBlock{
		Pivot: b.Pivot, Level: b.Level, Tips: b.Tips, TrxHashes: b.TrxHashes,
		VDFMessage: b.VDFMessage, VDFDifficulty: b.VDFDifficulty, VDFOutput: b.VDFOutput,
		VRFProof:      b.VRFProof,
		GasEstimation: b.GasEstimation, ProposalPeriod: b.ProposalPeriod,
	}
	encoded, err := rlp.EncodeToBytes(unsigned)
	if err != nil {
		panic(err)
	}
	return crypto.Keccak256(encoded)
}

// Sign signs the block with key, populating V/R/S.
func (b *DagBlock) Sign(key *crypto.PrivateKey) error {
	sig, err := key.Sign(b.signingDigest())
	if err != nil {
		return err
	}
	b.R, b.S, b.V = sig[0:32], sig[32:64], sig[64:65]
	b.hash, b.sender = nil, nil
	return nil
}

// Sender recovers and caches the proposing address.
func (b *DagBlock) Sender() (Address, error) {
	if b.sender != nil {
		return *b.sender, nil
	}
	sig := append(append(append([]byte{}, b.R...), b.S...), b.V...)
	addr, err := crypto.RecoverSender(b.signingDigest(), sig)
	if err != nil {
		return Address{}, err
	}
	b.sender = &addr
	return addr, nil
}

// VRFMessageForDagBlock builds the period||pivot_hash message a DAG block
// proposer's VRF sortition proof is evaluated over (spec §4.3 "VRF-based
// proposer sortition"). DAG blocks have no round/step the way votes do, so
// the frontier's pivot hash plays that role instead.
func VRFMessageForDagBlock(period uint64, pivot Hash) []byte {
	buf := make([]byte, 0, 40)
	buf = append(buf, crypto.EncodeUint64(period)...)
	buf = append(buf, pivot[:]...)
	return buf
}

// VDFMessageFor builds the VDF message rlp(pivot_hash, trx_hashes...) the
// proposer computes its proof over (spec §4.2 "VDF verification").
func VDFMessageFor(pivot Hash, trxHashes []Hash) []byte {
	encoded, err := rlp.EncodeToBytes(struct {
		Pivot Hash
		Trxs  []Hash
	}{pivot, trxHashes})
	if err != nil {
		panic(err)
	}
	return encoded
}
