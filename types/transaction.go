// Package types defines the wire/storage data model of spec §3: Transaction,
// DagBlock, PbftBlock, Vote, NextVotesBundle, PillarBlock, PillarVote, and
// PeerState, each RLP-encodable per spec §6. Field layout and doc density
// follow daglabs-btcd's wire package (e.g. wire/blockheader.go); the
// encoding itself is delegated to github.com/ethereum/go-ethereum/rlp,
// grounded on mantlenetworkio-op-geth's core/types usage of the same.
package types

import (
	"io"
	"math/big"

	"github.com/dagchain/dagchain/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// Hash is a 32-byte Keccak256 digest, used for transaction, block, and vote
// identifiers throughout the data model.
type Hash = crypto.Hash

// Address is a 20-byte account identifier.
type Address = crypto.Address

// Eligibility classifies a transaction for pool admission (spec §3).
type Eligibility uint8

const (
	EligibilityUnknown Eligibility = iota
	EligibilityEligible
	EligibilityNotEligible
)

// Transaction is a signed, nonced value transfer or contract call.
// Sender is recovered from the V, R, S signature and is not part of the RLP
// encoding.
type Transaction struct {
	Nonce    uint64
	Value    *big.Int
	GasPrice *big.Int
	GasLimit uint64
	To       *Address `rlp:"nil"` // nil for contract creation
	Input    []byte
	ChainID  uint64
	V        *big.Int
	R        *big.Int
	S        *big.Int

	hash   *Hash
	sender *Address
}

// rlpTransaction is the wire/storage encoding of Transaction: sender_sig is
// the (V, R, S) triple, matching Transaction.{sender_sig, chain_id} in spec §3.
type rlpTransaction struct {
	Nonce    uint64
	Value    *big.Int
	GasPrice *big.Int
	GasLimit uint64
	To       *Address `rlp:"nil"`
	Input    []byte
	ChainID  uint64
	V        *big.Int
	R        *big.Int
	S        *big.Int
}

func (t *Transaction) toRLP() *rlpTransaction {
	return &rlpTransaction{
		Nonce: t.Nonce, Value: t.Value, GasPrice: t.GasPrice, GasLimit: t.GasLimit,
		To: t.To, Input: t.Input, ChainID: t.ChainID, V: t.V, R: t.R, S: t.S,
	}
}

// EncodeRLP implements rlp.Encoder.
func (t *Transaction) EncodeRLP(w io.Writer) error {
	return rlp.Encode(w, t.toRLP())
}

// DecodeRLP implements rlp.Decoder.
func (t *Transaction) DecodeRLP(s *rlp.Stream) error {
	var raw rlpTransaction
	if err := s.Decode(&raw); err != nil {
		return err
	}
	t.Nonce, t.Value, t.GasPrice, t.GasLimit = raw.Nonce, raw.Value, raw.GasPrice, raw.GasLimit
	t.To, t.Input, t.ChainID = raw.To, raw.Input, raw.ChainID
	t.V, t.R, t.S = raw.V, raw.R, raw.S
	t.hash, t.sender = nil, nil
	return nil
}

// Hash returns keccak256(rlp) of the transaction, per spec §3, caching the
// result since transactions are immutable once signed.
func (t *Transaction) Hash() Hash {
	if t.hash != nil {
		return *t.hash
	}
	encoded, err := rlp.EncodeToBytes(t.toRLP())
	if err != nil {
		panic(err) // encoding a well-formed Transaction cannot fail
	}
	h := crypto.Keccak256(encoded)
	t.hash = &h
	return h
}

// signingDigest is the hash signed over: every field except the signature.
func (t *Transaction) signingDigest() Hash {
	unsigned := &rlpTransaction{
		Nonce: t.Nonce, Value: t.Value, GasPrice: t.GasPrice, GasLimit: t.GasLimit,
		To: t.To, Input: t.Input, ChainID: t.ChainID,
	}
	encoded, err := rlp.EncodeToBytes(unsigned)
	if err != nil {
		panic(err)
	}
	return crypto.Keccak256(encoded)
}

// Sign populates V, R, S from the given key and invalidates any cached
// hash/sender.
func (t *Transaction) Sign(key *crypto.PrivateKey) error {
	sig, err := key.Sign(t.signingDigest())
	if err != nil {
		return err
	}
	t.R = new(big.Int).SetBytes(sig[0:32])
	t.S = new(big.Int).SetBytes(sig[32:64])
	t.V = new(big.Int).SetBytes([]byte{sig[64]})
	t.hash, t.sender = nil, nil
	return nil
}

// Sender recovers and caches the sending address from the signature.
func (t *Transaction) Sender() (Address, error) {
	if t.sender != nil {
		return *t.sender, nil
	}
	sig := make([]byte, 65)
	copy(sig[32-len(t.R.Bytes()):32], t.R.Bytes())
	copy(sig[64-len(t.S.Bytes()):64], t.S.Bytes())
	sig[64] = byte(t.V.Uint64())
	addr, err := crypto.RecoverSender(t.signingDigest(), sig)
	if err != nil {
		return Address{}, err
	}
	t.sender = &addr
	return addr, nil
}

// IsContractCreation reports whether To is unset.
func (t *Transaction) IsContractCreation() bool { return t.To == nil }
