// Package proposer implements the VDF block proposer of spec §4.3: it packs
// eligible transactions from the pool onto the current DAG frontier,
// computes a stake-weighted VDF proof gating emission, signs the resulting
// DagBlock, and submits it to the DAG manager. Structure (a generator bound
// to a policy, a transaction source, and the DAG) is grounded on
// daglabs-btcd's mining.BlkTmplGenerator/NewBlockTemplate; the block-size and
// gas accounting loop follows the same "keep adding until a cap is hit"
// shape as NewBlockTemplate's priority-queue drain.
package proposer

import (
	"sync"
	"time"

	"github.com/dagchain/dagchain/crypto"
	"github.com/dagchain/dagchain/dag"
	"github.com/dagchain/dagchain/logger"
	"github.com/dagchain/dagchain/state"
	"github.com/dagchain/dagchain/types"
	"github.com/pkg/errors"
)

var log, _ = logger.Get(logger.SubsystemTags.PROP)

// TransactionSource is the pool surface the proposer packs blocks from
// (spec §4.1 "GetAllPoolTrxs").
type TransactionSource interface {
	GetAllPoolTrxs() []*types.Transaction
}

// Config bounds the proposer's polling cadence and per-block caps (spec §3,
// §4.3). VDF sortition parameters are not configured here: they are read
// from the bound dag.Manager via SortitionParams so a proposed block is
// always computed against the exact difficulty verifyBlock will check it
// with.
type Config struct {
	// PollInterval is how often ProposeOnce is attempted while Run is active.
	PollInterval time.Duration
	DagGasLimit  uint64
}

// Proposer runs the VDF-gated block-proposal loop for a single validator key.
type Proposer struct {
	cfg   Config
	key   *crypto.PrivateKey
	dag   *dag.Manager
	pool  TransactionSource
	state state.API
	vdf   interface {
		crypto.VDFComputer
		crypto.VDFVerifier
	}
	vrf crypto.VRFProver

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New constructs a Proposer for key, bound to dagMgr/pool/stateAPI.
func New(cfg Config, key *crypto.PrivateKey, dagMgr *dag.Manager, pool TransactionSource, stateAPI state.API) *Proposer {
	return &Proposer{
		cfg:   cfg,
		key:   key,
		dag:   dagMgr,
		pool:  pool,
		state: stateAPI,
		vdf:   crypto.NewSequentialVDF(),
		vrf:   crypto.NewECDSAVRFProver(key),
	}
}

// Run starts the polling loop in a new goroutine; it returns immediately.
// Stop halts it. Calling Run twice without an intervening Stop is a no-op.
func (p *Proposer) Run() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	go p.loop()
}

// Stop halts the polling loop and waits for it to exit.
func (p *Proposer) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	stopCh, doneCh := p.stopCh, p.doneCh
	p.running = false
	p.mu.Unlock()

	close(stopCh)
	<-doneCh
}

func (p *Proposer) loop() {
	defer close(p.doneCh)
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			if _, err := p.ProposeOnce(); err != nil {
				log.Debugf("proposal attempt skipped: %s", err)
			}
		}
	}
}

// ProposeOnce attempts to build, sign, and admit one DagBlock atop the
// current frontier (spec §4.3). It returns (nil, err) when the validator is
// not eligible this period or the VRF output does not clear the sortition
// threshold for this poll; that is an expected, not exceptional, outcome of
// every call that doesn't win the slot.
func (p *Proposer) ProposeOnce() (*types.DagBlock, error) {
	addr := p.key.Address()
	period := p.state.LastBlockNumber() + 1

	eligible, err := p.state.DposIsEligible(period, addr)
	if err != nil {
		return nil, errors.Wrap(err, "eligibility check failed")
	}
	if !eligible {
		return nil, errors.New("not eligible to propose this period")
	}

	stake, err := p.state.DposEligibleVoteCount(period, addr)
	if err != nil {
		return nil, errors.Wrap(err, "stake lookup failed")
	}
	totalStake, err := p.state.DposTotalEligibleVoteCount(period)
	if err != nil {
		return nil, errors.Wrap(err, "total stake lookup failed")
	}
	baseDifficulty, minStakeUnit, committeeSize := p.dag.SortitionParams()
	difficulty := crypto.DifficultyFromStake(stake, totalStake, baseDifficulty, minStakeUnit)

	pivot, tips := p.dag.GetDagFrontier()

	vrfMessage := types.VRFMessageForDagBlock(period, pivot)
	vrfOutput, vrfProof, err := p.vrf.Evaluate(vrfMessage)
	if err != nil {
		return nil, errors.Wrap(err, "vrf evaluation failed")
	}
	if !crypto.WinsSortition(vrfOutput, stake, totalStake, committeeSize) {
		return nil, errors.New("not selected by proposer sortition this round")
	}

	trxHashes, gasSum := p.packTransactions(period)
	message := types.VDFMessageFor(pivot, trxHashes)

	proof, err := p.vdf.Compute(message, difficulty)
	if err != nil {
		return nil, errors.Wrap(err, "vdf computation failed")
	}

	// Level is maxParentLevel+1, the same rule AddDagBlock uses on admission
	// and verifyBlock checks against the block's own Level field.
	var level uint64
	for _, parent := range append([]types.Hash{pivot}, tips...) {
		if b, ok := p.dag.GetDagBlock(parent); ok && b.Level > level {
			level = b.Level
		}
	}

	block := &types.DagBlock{
		Pivot:          pivot,
		Tips:           tips,
		Level:          level + 1,
		TrxHashes:      trxHashes,
		VDFMessage:     message,
		VDFDifficulty:  difficulty,
		VDFOutput:      proof.Output,
		VRFProof:       vrfProof,
		GasEstimation:  gasSum,
		ProposalPeriod: period,
	}

	if err := block.Sign(p.key); err != nil {
		return nil, errors.Wrap(err, "failed to sign proposed block")
	}

	status, err := p.dag.AddDagBlock(block, p.trxBodiesFor(trxHashes), true)
	if err != nil {
		return nil, errors.Wrap(err, "failed to admit proposed block")
	}
	if status != dag.Verified {
		return nil, errors.Errorf("proposed block rejected: %s", status)
	}
	log.Debugf("proposed dag block %x at period %d with %d transactions", block.Hash(), period, len(trxHashes))
	return block, nil
}

// packTransactions selects from the pool in (gas_price desc, nonce asc)
// order until DagGasLimit would be exceeded (spec §4.3 "Block packing").
func (p *Proposer) packTransactions(period uint64) ([]types.Hash, uint64) {
	candidates := p.pool.GetAllPoolTrxs()
	hashes := make([]types.Hash, 0, len(candidates))
	var gasSum uint64
	for _, trx := range candidates {
		estimate, err := p.state.EstimateGas(trx, period)
		if err != nil {
			continue
		}
		if gasSum+estimate > p.cfg.DagGasLimit {
			break
		}
		gasSum += estimate
		hashes = append(hashes, trx.Hash())
	}
	return hashes, gasSum
}

// trxBodiesFor resolves bodies for hashes from the pool; AddDagBlock needs
// the bodies alongside the block to verify and cache them.
func (p *Proposer) trxBodiesFor(hashes []types.Hash) []*types.Transaction {
	byHash := make(map[types.Hash]*types.Transaction, len(hashes))
	for _, trx := range p.pool.GetAllPoolTrxs() {
		byHash[trx.Hash()] = trx
	}
	out := make([]*types.Transaction, 0, len(hashes))
	for _, h := range hashes {
		if trx, ok := byHash[h]; ok {
			out = append(out, trx)
		}
	}
	return out
}
