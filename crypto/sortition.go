package crypto

import "math/big"

// vrfOutputSpace is the exclusive upper bound of a VRFOutput interpreted as
// an unsigned integer (2^256), standing in for sortition.cpp's
// SIGNATURE_HASH_MAX (the max value of the raw ECDSA signature hash the
// original node computes sortition over).
var vrfOutputSpace = new(big.Int).Lsh(big.NewInt(1), 256)

// WinsSortition reports whether a VRF output wins the stake-weighted
// sortition lottery for one (period, round, step) (spec §3 "Sortition": "VRF-
// weighted lottery determining whether a validator may propose or vote").
// threshold = stake/totalStake * committeeSize; output, read as a uniform
// integer over [0, 2^256), wins if it falls below that threshold scaled into
// the same range.
//
// Grounded on sortition.cpp's comparison, which avoids floating point by
// cross-multiplying rather than dividing:
//
//	hash * TOTAL_COINS < MAX_HASH * balance * threshold
//
// translated here with output.Int() standing in for hash, vrfOutputSpace
// standing in for MAX_HASH, and stake/totalStake standing in for
// balance/TOTAL_COINS:
//
//	output.Int() * totalStake < vrfOutputSpace * stake * committeeSize
func WinsSortition(output VRFOutput, stake, totalStake, committeeSize uint64) bool {
	if totalStake == 0 || stake == 0 || committeeSize == 0 {
		return false
	}
	lhs := new(big.Int).Mul(output.Int(), new(big.Int).SetUint64(totalStake))
	rhs := new(big.Int).Mul(vrfOutputSpace, new(big.Int).SetUint64(stake))
	rhs.Mul(rhs, new(big.Int).SetUint64(committeeSize))
	return lhs.Cmp(rhs) < 0
}
