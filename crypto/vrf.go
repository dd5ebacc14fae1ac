package crypto

import (
	"crypto/ecdsa"
	"crypto/hmac"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/sha3"
)

// ecdsaVRF is a reference VRFProver/VRFVerifier built from a recoverable
// ECDSA signature over a secp256k1 key: no VRF library appears in the
// retrieved pack (the nearest precedent, vechain-thor's consensus tests,
// only references the concept), so this stands in as a deterministic,
// key-bound pseudorandom function satisfying VRFProver/VRFVerifier. The
// "proof" is the raw ECDSA signature over the message, and the "output" is
// Keccak256 of that signature — so Verify is simply signature verification
// followed by recomputing the output.
type ecdsaVRF struct {
	key *ecdsa.PrivateKey
}

// NewECDSAVRFProver wraps a secp256k1 key as a VRFProver.
func NewECDSAVRFProver(key *PrivateKey) VRFProver {
	return &ecdsaVRF{key: key.key}
}

func (v *ecdsaVRF) Evaluate(message []byte) (VRFOutput, []byte, error) {
	digest := gethcrypto.Keccak256(message)
	sig, err := gethcrypto.Sign(digest, v.key)
	if err != nil {
		return VRFOutput{}, nil, err
	}
	return vrfOutputFromSig(sig), sig, nil
}

type ecdsaVRFVerifier struct{}

// NewECDSAVRFVerifier returns the verifier counterpart of NewECDSAVRFProver.
func NewECDSAVRFVerifier() VRFVerifier { return ecdsaVRFVerifier{} }

func (ecdsaVRFVerifier) Verify(pubKey []byte, message []byte, proof []byte) (VRFOutput, bool) {
	digest := gethcrypto.Keccak256(message)
	recoveredPub, err := gethcrypto.SigToPub(digest, proof)
	if err != nil {
		return VRFOutput{}, false
	}
	if !hmac.Equal(gethcrypto.CompressPubkey(recoveredPub), pubKey) {
		return VRFOutput{}, false
	}
	return vrfOutputFromSig(proof), true
}

func vrfOutputFromSig(sig []byte) VRFOutput {
	h := sha3.NewLegacyKeccak256()
	h.Write(sig)
	var out VRFOutput
	copy(out[:], h.Sum(nil))
	return out
}
