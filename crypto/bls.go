package crypto

import (
	blst "github.com/supranational/blst/bindings/go"
	"github.com/pkg/errors"
)

// blstSecretKey adapts blst's min-pk secret key to BLSPrivateKey, grounded
// on prysmaticlabs-prysm's crypto/bls package, which is itself a thin
// wrapper around supranational/blst.
type blstSecretKey struct {
	sk *blst.SecretKey
}

// NewBLSPrivateKey derives a BLS secret key from 32 bytes of key material.
func NewBLSPrivateKey(ikm [32]byte) (BLSPrivateKey, error) {
	sk := blst.KeyGen(ikm[:])
	if sk == nil {
		return nil, errors.New("failed to derive BLS secret key")
	}
	return &blstSecretKey{sk: sk}, nil
}

func (k *blstSecretKey) Sign(message []byte) []byte {
	sig := new(blst.P2Affine).Sign(k.sk, message, blsDST)
	return sig.Compress()
}

func (k *blstSecretKey) PublicKey() []byte {
	return new(blst.P1Affine).From(k.sk).Compress()
}

// blsDST is the domain-separation tag for pillar-vote signatures.
var blsDST = []byte("DAGCHAIN_PILLAR_BLS_SIG")

// blstAggregator implements BLSAggregator over min-pk BLS12-381, as used by
// the pillar chain's threshold-signature bundles (spec §4.6).
type blstAggregator struct{}

// NewBLSAggregator returns the blst-backed BLSAggregator.
func NewBLSAggregator() BLSAggregator { return blstAggregator{} }

func (blstAggregator) Aggregate(signatures [][]byte) ([]byte, error) {
	if len(signatures) == 0 {
		return nil, errors.New("no signatures to aggregate")
	}
	agg := new(blst.P2Aggregate)
	if !agg.AggregateCompressed(signatures, true) {
		return nil, errors.New("failed to aggregate BLS signatures")
	}
	return agg.ToAffine().Compress(), nil
}

func (blstAggregator) VerifyAggregate(pubKeys [][]byte, message []byte, aggregate []byte) bool {
	sig := new(blst.P2Affine).Uncompress(aggregate)
	if sig == nil {
		return false
	}
	pks := make([]*blst.P1Affine, 0, len(pubKeys))
	for _, raw := range pubKeys {
		pk := new(blst.P1Affine).Uncompress(raw)
		if pk == nil {
			return false
		}
		pks = append(pks, pk)
	}
	msgs := make([][]byte, len(pks))
	for i := range msgs {
		msgs[i] = message
	}
	return sig.AggregateVerify(true, pks, true, msgs, blsDST)
}
