package crypto

import (
	"encoding/binary"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// sequentialVDF is a reference VDFComputer/VDFVerifier pair built from
// repeated Keccak256 hashing: nothing in the retrieved pack ships a real
// verifiable-delay function, so the iterated-hash construction here stands
// in for one, matching the VDFProof shape (Message, Difficulty, Output,
// Proof) the rest of the core depends on. Output is the hash after
// Difficulty iterations; Proof is empty because the construction is
// trivially re-checkable by recomputation rather than needing a succinct
// proof.
type sequentialVDF struct{}

// NewSequentialVDF returns the reference VDFComputer/VDFVerifier.
func NewSequentialVDF() interface {
	VDFComputer
	VDFVerifier
} {
	return sequentialVDF{}
}

func (sequentialVDF) Compute(message []byte, difficulty uint64) (*VDFProof, error) {
	h := gethcrypto.Keccak256(message)
	for i := uint64(0); i < difficulty; i++ {
		h = gethcrypto.Keccak256(h)
	}
	return &VDFProof{
		Message:    message,
		Difficulty: difficulty,
		Output:     h,
	}, nil
}

func (sequentialVDF) Verify(proof *VDFProof) bool {
	if proof == nil {
		return false
	}
	h := gethcrypto.Keccak256(proof.Message)
	for i := uint64(0); i < proof.Difficulty; i++ {
		h = gethcrypto.Keccak256(h)
	}
	return bytesEqual(h, proof.Output)
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// DifficultyFromStake derives a VDF difficulty from a validator's stake
// relative to total stake, per spec §4.3: smaller relative stake implies a
// harder (slower) VDF, so the expected block-production rate of each
// validator is proportional to its stake.
func DifficultyFromStake(stake, totalStake uint64, baseDifficulty uint64, minStakeUnit uint64) uint64 {
	if stake == 0 || totalStake == 0 {
		return baseDifficulty
	}
	weight := totalStake / stake
	if weight == 0 {
		weight = 1
	}
	return baseDifficulty * weight / (minStakeUnit + 1)
}

// EncodeUint64 is a small helper used to build VDF/VRF messages out of
// mixed hash/uint64 fields, e.g. period||round||step.
func EncodeUint64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}
