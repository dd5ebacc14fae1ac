package types

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/rlp"
)

func mustSignedTransaction(t *testing.T) *Transaction {
	t.Helper()
	key := mustKey(t)
	to := Address{1, 2, 3}
	trx := &Transaction{
		Nonce: 5, Value: big.NewInt(100), GasPrice: big.NewInt(1), GasLimit: 21000,
		To: &to, Input: []byte("hello"), ChainID: 7,
	}
	if err := trx.Sign(key); err != nil {
		t.Fatalf("sign: %v", err)
	}
	return trx
}

func TestTransactionRoundTrip(t *testing.T) {
	trx := mustSignedTransaction(t)
	encoded, err := rlp.EncodeToBytes(trx)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var decoded Transaction
	if err := rlp.DecodeBytes(encoded, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Hash() != trx.Hash() {
		t.Fatalf("hash mismatch after round trip")
	}
	if decoded.Nonce != trx.Nonce || decoded.GasLimit != trx.GasLimit {
		t.Fatalf("field mismatch after round trip")
	}
}

func TestDagBlockRoundTrip(t *testing.T) {
	key := mustKey(t)
	block := &DagBlock{
		Pivot: Hash{1}, Level: 3, Tips: []Hash{{2}, {3}},
		TrxHashes: []Hash{{4}}, VDFMessage: []byte("m"), VDFDifficulty: 10,
		VDFOutput: []byte("o"), GasEstimation: 21000, ProposalPeriod: 1,
	}
	if err := block.Sign(key); err != nil {
		t.Fatalf("sign: %v", err)
	}
	encoded, err := rlp.EncodeToBytes(block)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var decoded DagBlock
	if err := rlp.DecodeBytes(encoded, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Hash() != block.Hash() {
		t.Fatalf("hash mismatch after round trip")
	}
	if decoded.Level != block.Level || len(decoded.Tips) != len(block.Tips) {
		t.Fatalf("field mismatch after round trip")
	}
}

func TestPbftBlockRoundTrip(t *testing.T) {
	key := mustKey(t)
	pillarHash := Hash{9}
	block := &PbftBlock{
		PrevBlockHash: Hash{1}, PivotDagBlockHash: Hash{2}, OrderHash: Hash{3},
		Period: 5, Timestamp: 123, Proposer: key.Address(),
		RewardVoteHashes: []Hash{{4}}, PillarBlockHash: &pillarHash,
	}
	if err := block.Sign(key); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if !block.VerifySignature() {
		t.Fatalf("signature should verify")
	}
	encoded, err := rlp.EncodeToBytes(block)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var decoded PbftBlock
	if err := rlp.DecodeBytes(encoded, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Hash() != block.Hash() {
		t.Fatalf("hash mismatch after round trip")
	}
	if decoded.Period != block.Period {
		t.Fatalf("period mismatch after round trip")
	}
}

func TestVoteRoundTrip(t *testing.T) {
	key := mustKey(t)
	vote := &Vote{BlockHash: Hash{7}, Type: VoteTypeCert, Period: 2, Round: 1, Step: 3, VRFProof: []byte("p")}
	if err := vote.Sign(key); err != nil {
		t.Fatalf("sign: %v", err)
	}
	encoded, err := rlp.EncodeToBytes(vote)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var decoded Vote
	if err := rlp.DecodeBytes(encoded, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Hash() != vote.Hash() {
		t.Fatalf("hash mismatch after round trip")
	}
	voter, err := decoded.Voter()
	if err != nil {
		t.Fatalf("voter: %v", err)
	}
	if voter != key.Address() {
		t.Fatalf("voter mismatch after round trip")
	}
}

func TestPillarBlockRoundTrip(t *testing.T) {
	block := &PillarBlock{
		Period: 4, StateRoot: Hash{1}, PreviousPillarBlockHash: Hash{2},
		StakesChanges: []StakeChange{{Validator: Address{1}, Delta: big.NewInt(-50)}},
		BridgeRoot:    Hash{3}, Epoch: 1,
	}
	encoded, err := rlp.EncodeToBytes(block)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var decoded PillarBlock
	if err := rlp.DecodeBytes(encoded, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Hash() != block.Hash() {
		t.Fatalf("hash mismatch after round trip")
	}
	if len(decoded.StakesChanges) != 1 || decoded.StakesChanges[0].Delta.Cmp(big.NewInt(-50)) != 0 {
		t.Fatalf("stake change mismatch after round trip")
	}
}

func TestPillarVoteRoundTrip(t *testing.T) {
	vote := &PillarVote{PillarBlockHash: Hash{1}, Period: 2, Signer: Address{3}, BLSSignature: []byte("sig")}
	encoded, err := rlp.EncodeToBytes(vote)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var decoded PillarVote
	if err := rlp.DecodeBytes(encoded, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Signer != vote.Signer || decoded.Period != vote.Period {
		t.Fatalf("field mismatch after round trip")
	}
}
