// Package crypto wraps the elliptic-curve, hash, VRF, VDF, and BLS
// primitives dagchain's core treats as opaque collaborators (spec §1: "The
// elliptic-curve and BLS primitive libraries consumed as sign/verify/
// sortition operations"). The wrappers are thin: real ECDSA sign/recover and
// Keccak256 hashing are delegated to go-ethereum/crypto (grounded on
// mantlenetworkio-op-geth, which is built on exactly this API), real BLS
// aggregation is delegated to supranational/blst (grounded on
// prysmaticlabs-prysm's go.mod), and VRF/VDF — for which no such library
// appears anywhere in the retrieved pack — are specified as interfaces with
// a deterministic reference implementation suitable for tests, so the rest
// of the core never depends on a concrete scheme.
package crypto

import (
	"crypto/ecdsa"
	"math/big"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// Address is a 20-byte account identifier, recovered from a signature or
// derived from a public key.
type Address [20]byte

// Hash is a 32-byte Keccak256 digest.
type Hash [32]byte

// Keccak256 hashes data the way every hash in the data model (spec §3) is
// defined: keccak256(rlp) for transactions, blocks, votes.
func Keccak256(data ...[]byte) Hash {
	return Hash(gethcrypto.Keccak256Hash(data...))
}

// PrivateKey is a secp256k1 signing key.
type PrivateKey struct {
	key *ecdsa.PrivateKey
}

// GeneratePrivateKey creates a new random secp256k1 key.
func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := gethcrypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key: key}, nil
}

// Address returns the account address corresponding to this key's public half.
func (k *PrivateKey) Address() Address {
	return Address(gethcrypto.PubkeyToAddress(k.key.PublicKey))
}

// PrivateKeyFromBytes loads a secp256k1 key from its 32-byte scalar, for a
// validator key read from node configuration rather than freshly generated.
func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	key, err := gethcrypto.ToECDSA(b)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse private key")
	}
	return &PrivateKey{key: key}, nil
}

// VRFPublicKey returns the compressed secp256k1 public key this key's VRF
// proofs verify against, the form dposVrfKey(period, voter) returns
// (registerValidator's vrf_pk argument, spec §4's system contract surface).
func (k *PrivateKey) VRFPublicKey() []byte {
	return gethcrypto.CompressPubkey(&k.key.PublicKey)
}

// Sign produces a 65-byte recoverable signature over digest.
func (k *PrivateKey) Sign(digest Hash) ([]byte, error) {
	return gethcrypto.Sign(digest[:], k.key)
}

// RecoverSender recovers the signer address from a message digest and a
// 65-byte recoverable signature, as used for Transaction.sender_sig,
// DagBlock.signature, and Vote.signature (spec §3).
func RecoverSender(digest Hash, sig []byte) (Address, error) {
	pub, err := gethcrypto.SigToPub(digest[:], sig)
	if err != nil {
		return Address{}, errors.Wrap(err, "failed to recover signer")
	}
	return Address(gethcrypto.PubkeyToAddress(*pub)), nil
}

// VerifySignature reports whether sig over digest was produced by the key
// behind address, without needing a recoverable signature.
func VerifySignature(address Address, digest Hash, sig []byte) bool {
	recovered, err := RecoverSender(digest, sig)
	if err != nil {
		return false
	}
	return recovered == address
}

// VRFOutput is the deterministic, uniformly-distributed output of a VRF
// evaluation, interpreted as a big-endian unsigned integer in [0, 2^256).
type VRFOutput [32]byte

// Int returns the VRF output as a big.Int, for threshold comparison against
// a sortition bound (spec §3 "Sortition").
func (o VRFOutput) Int() *big.Int {
	return new(big.Int).SetBytes(o[:])
}

// VRFProver evaluates a verifiable random function over a message, proving
// that the output was honestly derived from a secret key without revealing it.
// Concrete constructions (e.g. draft-irtf-cfrg-vrf over secp256k1) are out of
// scope; the core only needs Evaluate/Verify to be consistent with each other.
type VRFProver interface {
	Evaluate(message []byte) (output VRFOutput, proof []byte, err error)
}

// VRFVerifier checks a VRF proof against a public key and message.
type VRFVerifier interface {
	Verify(pubKey []byte, message []byte, proof []byte) (output VRFOutput, ok bool)
}

// VDFProof is a verifiable-delay-function proof: evidence that Difficulty
// sequential squarings (or an equivalent iterated operation) were performed
// over Message, gating DAG block emission (spec §4.3).
type VDFProof struct {
	Message    []byte
	Difficulty uint64
	Output     []byte
	Proof      []byte
}

// VDFComputer computes a VDFProof of the given difficulty over message. It
// is expected to take real wall-clock time proportional to difficulty.
type VDFComputer interface {
	Compute(message []byte, difficulty uint64) (*VDFProof, error)
}

// VDFVerifier checks a VDFProof cheaply (much faster than it was produced).
type VDFVerifier interface {
	Verify(proof *VDFProof) bool
}

// BLSPrivateKey signs pillar-block hashes for threshold aggregation
// (spec §4.6, §3 "PillarVote"), backed by supranational/blst.
type BLSPrivateKey interface {
	Sign(message []byte) (signature []byte)
	PublicKey() []byte
}

// BLSAggregator combines individual BLS signatures into a single aggregate
// and verifies aggregates against a set of public keys, backed by
// supranational/blst's multi-signature verification.
type BLSAggregator interface {
	Aggregate(signatures [][]byte) ([]byte, error)
	VerifyAggregate(pubKeys [][]byte, message []byte, aggregate []byte) bool
}
