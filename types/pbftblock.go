package types

import (
	"io"

	"github.com/dagchain/dagchain/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// PbftBlock anchors a DAG pivot block to a monotone PBFT period (spec §3).
type PbftBlock struct {
	PrevBlockHash     Hash
	PivotDagBlockHash Hash
	OrderHash         Hash
	Period            uint64
	Timestamp         uint64
	Proposer          Address
	RewardVoteHashes  []Hash
	PillarBlockHash   *Hash `rlp:"nil"`
	V, R, S           []byte

	hash *Hash
}

type rlpPbftBlock struct {
	PrevBlockHash     Hash
	PivotDagBlockHash Hash
	OrderHash         Hash
	Period            uint64
	Timestamp         uint64
	Proposer          Address
	RewardVoteHashes  []Hash
	PillarBlockHash   *Hash `rlp:"nil"`
	V, R, S           []byte
}

func (b *PbftBlock) toRLP() *rlpPbftBlock {
	return &rlpPbftBlock{
		PrevBlockHash: b.PrevBlockHash, PivotDagBlockHash: b.PivotDagBlockHash, OrderHash: b.OrderHash,
		Period: b.Period, Timestamp: b.Timestamp, Proposer: b.Proposer,
		RewardVoteHashes: b.RewardVoteHashes, PillarBlockHash: b.PillarBlockHash,
		V: b.V, R: b.R, S: b.S,
	}
}

// EncodeRLP implements rlp.Encoder.
func (b *PbftBlock) EncodeRLP(w io.Writer) error { return rlp.Encode(w, b.toRLP()) }

// DecodeRLP implements rlp.Decoder.
func (b *PbftBlock) DecodeRLP(s *rlp.Stream) error {
	var raw rlpPbftBlock
	if err := s.Decode(&raw); err != nil {
		return err
	}
	b.PrevBlockHash, b.PivotDagBlockHash, b.OrderHash = raw.PrevBlockHash, raw.PivotDagBlockHash, raw.OrderHash
	b.Period, b.Timestamp, b.Proposer = raw.Period, raw.Timestamp, raw.Proposer
	b.RewardVoteHashes, b.PillarBlockHash = raw.RewardVoteHashes, raw.PillarBlockHash
	b.V, b.R, b.S = raw.V, raw.R, raw.S
	b.hash = nil
	return nil
}

// Hash returns keccak256(rlp) of the block, caching the result.
func (b *PbftBlock) Hash() Hash {
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

func (b *PbftBlock) signingDigest() Hash {
	unsigned := &rlpPbftBlock{
		PrevBlockHash: b.PrevBlockHash, PivotDagBlockHash: b.PivotDagBlockHash, OrderHash: b.OrderHash,
		Period: b.Period, Timestamp: b.Timestamp, Proposer: b.Proposer,
		RewardVoteHashes: b.RewardVoteHashes, PillarBlockHash: b.PillarBlockHash,
	}
	encoded, err := rlp.EncodeToBytes(unsigned)
	if err != nil {
		panic(err)
	}
	return crypto.Keccak256(encoded)
}

// Sign signs the block with key, populating V/R/S.
func (b *PbftBlock) Sign(key *crypto.PrivateKey) error {
	sig, err := key.Sign(b.signingDigest())
	if err != nil {
		return err
	}
	b.R, b.S, b.V = sig[0:32], sig[32:64], sig[64:65]
	b.hash = nil
	return nil
}

// VerifySignature checks the block's signature against its declared Proposer.
func (b *PbftBlock) VerifySignature() bool {
	sig := append(append(append([]byte{}, b.R...), b.S...), b.V...)
	return crypto.VerifySignature(b.Proposer, b.signingDigest(), sig)
}

// PeriodData bundles everything needed to replay a finalized period,
// matching spec §4.8's PBFT sync PeriodData.
type PeriodData struct {
	PbftBlock             *PbftBlock
	CertVotes             []*Vote
	DagBlocks             []*DagBlock
	Transactions          []*Transaction
	PreviousBlockCertVotes []*Vote
}
