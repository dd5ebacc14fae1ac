// Package pbft implements the five-step PBFT state machine and chain of
// spec §4.4: propose, soft-vote, cert-vote, chain-push, and an indefinitely
// polling next-vote step that advances the round. The cooperative
// ticker-driven driver (Run/Stop over a background goroutine) is grounded
// on proposer.Proposer's polling loop, itself grounded on daglabs-btcd's
// mining generator; period persistence in one atomic write batch is
// grounded on database.Batch and blockdag's block-index commit pattern.
package pbft

import (
	"sort"
	"sync"
	"time"

	"github.com/dagchain/dagchain/crypto"
	"github.com/dagchain/dagchain/dag"
	"github.com/dagchain/dagchain/database"
	"github.com/dagchain/dagchain/logger"
	"github.com/dagchain/dagchain/state"
	"github.com/dagchain/dagchain/types"
	"github.com/dagchain/dagchain/vote"
	"github.com/pkg/errors"
)

var log, _ = logger.Get(logger.SubsystemTags.PBFT)

// step names the ordered positions of spec §4.4's table.
type step uint8

const (
	stepPropose step = iota + 1
	stepSoft
	stepCert
	stepChainPush
	stepNextVote
)

// Config bounds the state machine's timing (spec §4.4 "Timing").
type Config struct {
	// Lambda is the nominal step duration.
	Lambda time.Duration
	// CertVoteStepMultiplier bounds step 3's poll window at Lambda * this.
	CertVoteStepMultiplier uint64
	// VoteRetentionPeriods is how many trailing periods of votes to keep
	// once a period finalizes (spec §4.4 "Prune votes with period <= P - retention").
	VoteRetentionPeriods uint64

	// CommitteeSize parameterizes the vote manager's VRF sortition threshold
	// (spec §3 "Sortition"); node wiring passes it to vote.New. DAG-block
	// proposer sortition reads dag.Config.CommitteeSize instead.
	CommitteeSize uint64
}

// PillarBlockHasher is implemented by the pillar chain manager; it reports
// the pillar block hash a period's PbftBlock should carry, or nil when no
// pillar block was built for the preceding period (spec §4.6).
type PillarBlockHasher interface {
	PillarBlockHashForPeriod(period uint64) *types.Hash
	// BuildPillarBlockIfBoundary is invoked once a period's state root is
	// known, so the pillar manager can construct the checkpoint the next
	// proposed block's PillarBlockHashForPeriod will then reference.
	BuildPillarBlockIfBoundary(period uint64, stateRoot types.Hash) (*types.PillarBlock, error)
}

// Driver runs the five-step state machine for one validator key.
type Driver struct {
	cfg   Config
	db    database.DbStorage
	dag   *dag.Manager
	votes *vote.Manager
	state state.API
	key   *crypto.PrivateKey
	vrf   crypto.VRFProver
	pillar PillarBlockHasher

	mu                          sync.Mutex
	period                      uint64
	round                       uint64
	curStep                     step
	prevBlockHash               types.Hash
	previousRoundNextVotedValue types.Hash
	previousRoundNextVotedNull  bool

	candidateBlocks map[types.Hash]*types.PbftBlock

	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	onFinalized []func(*types.PeriodData)
}

// New constructs a Driver and recovers its starting state from db (spec §4.4
// "initialState").
func New(cfg Config, db database.DbStorage, dagMgr *dag.Manager, votes *vote.Manager, stateAPI state.API, key *crypto.PrivateKey, pillar PillarBlockHasher) (*Driver, error) {
	d := &Driver{
		cfg:             cfg,
		db:              db,
		dag:             dagMgr,
		votes:           votes,
		state:           stateAPI,
		key:             key,
		vrf:             crypto.NewECDSAVRFProver(key),
		pillar:          pillar,
		period:          1,
		round:           1,
		curStep:         stepPropose,
		candidateBlocks: make(map[types.Hash]*types.PbftBlock),
	}
	if err := d.initialState(); err != nil {
		return nil, err
	}
	return d, nil
}

// initialState loads the latest finalized PBFT block and resumes one period
// past it (spec §4.4 "initialState").
func (d *Driver) initialState() error {
	raw, err := d.db.Get(database.CFPbftHead, []byte("head"))
	if errors.Is(err, database.ErrNotFound) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "failed to load pbft head")
	}
	var head types.PbftBlock
	if err := rlpDecodeInto(raw, &head); err != nil {
		return errors.Wrap(err, "failed to decode pbft head")
	}
	d.period = head.Period + 1
	d.round = 1
	d.curStep = stepPropose
	d.prevBlockHash = head.Hash()
	return nil
}

// OnFinalized registers a handler invoked after a period finalizes.
func (d *Driver) OnFinalized(handler func(*types.PeriodData)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onFinalized = append(d.onFinalized, handler)
}

// ReceiveCandidateBlock records a PBFT block proposal gossiped by a peer so
// it becomes eligible for leader selection (spec §4.4 "gathers candidate
// PBFT blocks").
func (d *Driver) ReceiveCandidateBlock(block *types.PbftBlock) {
	if !block.VerifySignature() {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.candidateBlocks[block.Hash()] = block
}

// Run starts the step-advancing loop in a new goroutine.
func (d *Driver) Run() {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return
	}
	d.running = true
	d.stopCh = make(chan struct{})
	d.doneCh = make(chan struct{})
	d.mu.Unlock()

	go d.loop()
}

// Stop halts the loop and waits for it to exit.
func (d *Driver) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	stopCh, doneCh := d.stopCh, d.doneCh
	d.running = false
	d.mu.Unlock()

	close(stopCh)
	<-doneCh
}

func (d *Driver) loop() {
	defer close(d.doneCh)
	for {
		select {
		case <-d.stopCh:
			return
		default:
		}
		if err := d.Tick(); err != nil {
			log.Debugf("pbft tick: %s", err)
		}
	}
}

// Tick advances the state machine by exactly one step, blocking for at most
// one step's worth of polling. It is exported so tests can single-step
// deterministically.
func (d *Driver) Tick() error {
	d.mu.Lock()
	period, round, curStep := d.period, d.round, d.curStep
	d.mu.Unlock()

	switch curStep {
	case stepPropose:
		return d.runPropose(period, round)
	case stepSoft:
		return d.runSoft(period, round)
	case stepCert:
		return d.runCert(period, round)
	case stepChainPush:
		return d.runChainPush(period, round)
	default:
		return d.runNextVote(period, round)
	}
}

// totalStake resolves the quorum denominator for period (spec §3 "2t+1").
func (d *Driver) totalStake(period uint64) (uint64, error) {
	return d.state.DposTotalEligibleVoteCount(period)
}

// sign builds and signs a vote at the given coordinates. Its weight and
// sortition eligibility are established by vote.Manager.AddVerifiedVote when
// the vote is submitted, the same path every peer's vote goes through.
func (d *Driver) sign(typ types.VoteType, blockHash types.Hash, period, round, stepN uint64) (*types.Vote, error) {
	return vote.GenerateVote(typ, blockHash, period, round, stepN, d.key, d.vrf)
}

// buildCandidateBlock assembles this validator's own PBFT block proposal
// atop the DAG manager's current frontier (spec §4.4 step 1).
func (d *Driver) buildCandidateBlock(period uint64) (*types.PbftBlock, error) {
	pivot, _ := d.dag.GetLatestPivotAndTips()
	order, err := d.dag.GetDagBlockOrder(pivot, period)
	if err != nil {
		return nil, errors.Wrap(err, "failed to compute dag block order")
	}
	orderHash := crypto.Keccak256(encodeHashes(order))

	var rewardHashes []types.Hash
	for _, v := range d.votes.RewardVotes(period - 1) {
		rewardHashes = append(rewardHashes, v.Hash())
	}

	var pillarHash *types.Hash
	if d.pillar != nil {
		pillarHash = d.pillar.PillarBlockHashForPeriod(period)
	}

	d.mu.Lock()
	prevHash := d.prevBlockHash
	d.mu.Unlock()

	block := &types.PbftBlock{
		PrevBlockHash:     prevHash,
		PivotDagBlockHash: pivot,
		OrderHash:         orderHash,
		Period:            period,
		Timestamp:         uint64(clockNowUnix()),
		Proposer:          d.key.Address(),
		RewardVoteHashes:  rewardHashes,
		PillarBlockHash:   pillarHash,
	}
	if err := block.Sign(d.key); err != nil {
		return nil, err
	}
	return block, nil
}

func (d *Driver) runPropose(period, round uint64) error {
	block, err := d.buildCandidateBlock(period)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.candidateBlocks[block.Hash()] = block
	d.mu.Unlock()

	v, err := d.sign(types.VoteTypePropose, block.Hash(), period, round, uint64(stepPropose))
	if err != nil {
		return errors.Wrap(err, "failed to sign propose vote")
	}
	if err := d.votes.AddVerifiedVote(v); err != nil {
		return err
	}
	d.sleepStep()
	d.advanceStep(stepSoft)
	return nil
}

// leaderVote selects the leader among propose-votes at (period, round): the
// vote whose keccak256(vote_hash) is minimal, tie-broken by voter address
// (spec §4.4 "Leader selection").
func leaderVote(votes []*types.Vote) (*types.Vote, error) {
	if len(votes) == 0 {
		return nil, errors.New("no propose votes received")
	}
	type scored struct {
		v     *types.Vote
		voter types.Address
		key   types.Hash
	}
	scoredVotes := make([]scored, 0, len(votes))
	for _, v := range votes {
		voter, err := v.Voter()
		if err != nil {
			continue
		}
		h := v.Hash()
		scoredVotes = append(scoredVotes, scored{v: v, voter: voter, key: crypto.Keccak256(h[:])})
	}
	if len(scoredVotes) == 0 {
		return nil, errors.New("no recoverable propose votes")
	}
	sort.Slice(scoredVotes, func(i, j int) bool {
		if scoredVotes[i].key != scoredVotes[j].key {
			return lessHash(scoredVotes[i].key, scoredVotes[j].key)
		}
		return lessAddress(scoredVotes[i].voter, scoredVotes[j].voter)
	})
	return scoredVotes[0].v, nil
}

func (d *Driver) runSoft(period, round uint64) error {
	proposeVotes := d.votes.GetVerifiedVotes(period, round, uint64(stepPropose), types.VoteTypePropose)
	leader, err := leaderVote(proposeVotes)
	if err != nil {
		// No leader materialized this round; fall through to next-vote NULL.
		d.advanceStep(stepNextVote)
		return nil
	}

	v, err := d.sign(types.VoteTypeSoft, leader.BlockHash, period, round, uint64(stepSoft))
	if err != nil {
		return errors.Wrap(err, "failed to sign soft vote")
	}
	if err := d.votes.AddVerifiedVote(v); err != nil {
		return err
	}
	d.sleepStep()
	d.advanceStep(stepCert)
	return nil
}

func (d *Driver) runCert(period, round uint64) error {
	totalStake, err := d.totalStake(period)
	if err != nil {
		return err
	}
	deadline := time.Now().Add(time.Duration(d.cfg.CertVoteStepMultiplier) * d.cfg.Lambda)
	var softHash types.Hash
	var haveSoftQuorum bool
	for time.Now().Before(deadline) {
		if h, ok := d.votes.GetTwoTPlusOneVotes(period, round, uint64(stepSoft), types.VoteTypeSoft, totalStake); ok {
			softHash, haveSoftQuorum = h, true
			break
		}
		time.Sleep(pollInterval(d.cfg.Lambda))
	}
	if !haveSoftQuorum {
		d.advanceStep(stepNextVote)
		return nil
	}

	v, err := d.sign(types.VoteTypeCert, softHash, period, round, uint64(stepCert))
	if err != nil {
		return errors.Wrap(err, "failed to sign cert vote")
	}
	if err := d.votes.AddVerifiedVote(v); err != nil {
		return err
	}
	d.advanceStep(stepChainPush)
	return nil
}

func (d *Driver) runChainPush(period, round uint64) error {
	totalStake, err := d.totalStake(period)
	if err != nil {
		return err
	}
	certHash, ok := d.votes.GetTwoTPlusOneVotes(period, round, uint64(stepCert), types.VoteTypeCert, totalStake)
	if !ok {
		d.advanceStep(stepNextVote)
		return nil
	}
	return d.finalizePeriod(period, round, certHash)
}

// finalizePeriod performs spec §4.4's five-step "Period advancement".
func (d *Driver) finalizePeriod(period, round uint64, blockHash types.Hash) error {
	d.mu.Lock()
	block, ok := d.candidateBlocks[blockHash]
	d.mu.Unlock()
	if !ok {
		return errors.Errorf("finalized block %x not in local candidate set", blockHash)
	}

	order, err := d.dag.GetDagBlockOrder(block.PivotDagBlockHash, period)
	if err != nil {
		return errors.Wrap(err, "failed to recompute finalized order")
	}
	certVotes := d.votes.GetVerifiedVotes(period, round, uint64(stepCert), types.VoteTypeCert)

	// Resolve the ordered blocks' bodies before SetDagBlockOrder re-seeds
	// the arena out from under them.
	orderedBlocks := d.dag.BlocksForHashes(order)
	orderedTrxs := d.dag.TransactionsForBlocks(orderedBlocks)

	batch := d.db.NewBatch()
	encodedBlock, err := rlpEncode(block)
	if err != nil {
		batch.Discard()
		return err
	}
	if err := batch.Put(database.CFPbftHead, []byte("head"), encodedBlock); err != nil {
		batch.Discard()
		return err
	}
	if err := batch.Put(database.CFPeriodPbftBlock, encodeUint64Key(period), encodedBlock); err != nil {
		batch.Discard()
		return err
	}
	for i, v := range certVotes {
		encodedVote, err := rlpEncode(v)
		if err != nil {
			batch.Discard()
			return err
		}
		key := append(encodeUint64Key(period), byte(i))
		if err := batch.Put(database.CFPbftCertVotes, key, encodedVote); err != nil {
			batch.Discard()
			return err
		}
	}
	// Persist the finalized order so a later PeriodDataForPeriod (pbft sync,
	// spec §4.8) can reassemble this period without re-deriving it from the
	// DAG manager's live arena, which only reflects the current period.
	if err := batch.Put(database.CFProposalPeriodDagLevelMap, encodeUint64Key(period), encodeHashes(order)); err != nil {
		batch.Discard()
		return err
	}
	if err := batch.Put(database.CFDagFinalizedBlocks, block.PivotDagBlockHash[:], encodeHashes(order)); err != nil {
		batch.Discard()
		return err
	}
	// Persist dag block and transaction bodies so a rebuild-db cycle (spec
	// §6) can replay this period without the DAG manager's in-memory arena,
	// which is pruned well before a rebuild would run.
	for _, dagBlock := range orderedBlocks {
		encodedDagBlock, err := rlpEncode(dagBlock)
		if err != nil {
			batch.Discard()
			return err
		}
		dagBlockHash := dagBlock.Hash()
		if err := batch.Put(database.CFDagBlocks, dagBlockHash[:], encodedDagBlock); err != nil {
			batch.Discard()
			return err
		}
	}
	for _, trx := range orderedTrxs {
		encodedTrx, err := rlpEncode(trx)
		if err != nil {
			batch.Discard()
			return err
		}
		trxHash := trx.Hash()
		if err := batch.Put(database.CFTransactions, trxHash[:], encodedTrx); err != nil {
			batch.Discard()
			return err
		}
	}
	if err := batch.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit finalized period")
	}

	if err := d.dag.SetDagBlockOrder(block.PivotDagBlockHash, period, order); err != nil {
		return errors.Wrap(err, "failed to commit dag block order")
	}

	result, err := d.state.ExecutePeriod(period, orderedTrxs)
	if err != nil {
		return errors.Wrap(err, "failed to execute finalized period")
	}
	if d.pillar != nil {
		if _, err := d.pillar.BuildPillarBlockIfBoundary(period, result.StateRoot); err != nil {
			log.Errorf("failed to build pillar block for period %d: %s", period, err)
		}
	}

	var previousCertVotes []*types.Vote
	if period > 1 {
		previousCertVotes, _ = d.readCertVotes(period - 1)
	}

	periodData := &types.PeriodData{
		PbftBlock:              block,
		CertVotes:              certVotes,
		DagBlocks:              orderedBlocks,
		Transactions:           orderedTrxs,
		PreviousBlockCertVotes: previousCertVotes,
	}

	d.mu.Lock()
	d.prevBlockHash = block.Hash()
	d.period = period + 1
	d.round = 1
	d.curStep = stepPropose
	d.candidateBlocks = make(map[types.Hash]*types.PbftBlock)
	handlers := append([]func(*types.PeriodData){}, d.onFinalized...)
	d.mu.Unlock()

	d.votes.CleanupVotesByPeriod(period + 1)

	for _, h := range handlers {
		h(periodData)
	}
	log.Infof("finalized period %d with block %x", period, block.Hash())
	return nil
}

func (d *Driver) runNextVote(period, round uint64) error {
	totalStake, err := d.totalStake(period)
	if err != nil {
		return err
	}

	target, _ := d.nextVoteTarget(period, round)
	v, err := d.sign(types.VoteTypeNext, target, period, round, uint64(stepNextVote))
	if err != nil {
		return errors.Wrap(err, "failed to sign next vote")
	}
	if err := d.votes.AddVerifiedVote(v); err != nil {
		return err
	}

	deadline := time.Now().Add(d.cfg.Lambda)
	for {
		if h, ok := d.votes.GetTwoTPlusOneVotes(period, round, uint64(stepNextVote), types.VoteTypeNext, totalStake); ok {
			d.mu.Lock()
			d.previousRoundNextVotedValue = h
			d.previousRoundNextVotedNull = h == (types.Hash{})
			d.round = round + 1
			d.curStep = stepPropose
			d.mu.Unlock()
			return nil
		}
		select {
		case <-d.stopCh:
			return nil
		default:
		}
		if time.Now().After(deadline) {
			return nil // keep polling from the caller's loop, with backoff already applied
		}
		time.Sleep(pollInterval(d.cfg.Lambda))
	}
}

// nextVoteTarget picks what to next-vote for: the cert-quorum hash if one
// formed this round, else the soft-quorum hash, else NULL (spec §4.4 step 5).
func (d *Driver) nextVoteTarget(period, round uint64) (types.Hash, bool) {
	totalStake, err := d.totalStake(period)
	if err != nil {
		return types.Hash{}, true
	}
	if h, ok := d.votes.GetTwoTPlusOneVotes(period, round, uint64(stepCert), types.VoteTypeCert, totalStake); ok {
		return h, false
	}
	if h, ok := d.votes.GetTwoTPlusOneVotes(period, round, uint64(stepSoft), types.VoteTypeSoft, totalStake); ok {
		return h, false
	}
	return types.Hash{}, true
}

func (d *Driver) advanceStep(next step) {
	d.mu.Lock()
	d.curStep = next
	d.mu.Unlock()
}

func (d *Driver) sleepStep() {
	select {
	case <-d.stopCh:
	case <-time.After(d.cfg.Lambda):
	}
}

func pollInterval(lambda time.Duration) time.Duration {
	if lambda <= 0 {
		return time.Millisecond
	}
	return lambda / 4
}

func minUint64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

func lessHash(a, b types.Hash) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

func lessAddress(a, b types.Address) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

func encodeHashes(hashes []types.Hash) []byte {
	out := make([]byte, 0, len(hashes)*32)
	for _, h := range hashes {
		out = append(out, h[:]...)
	}
	return out
}

func encodeUint64Key(v uint64) []byte {
	return crypto.EncodeUint64(v)
}
