// Package vote implements the vote manager of spec §4.5: verified-vote
// bookkeeping, 2t+1 quorum detection, reward-vote collection, and
// double-vote forwarding to slashing. The nested-map-under-one-mutex
// structure and idempotent-insert style mirror txpool.Pool and
// dag.Manager — this core has no teacher precedent for a PBFT vote
// manager specifically, so the ambient locking/insert idiom established by
// the rest of the core is reused rather than reinvented.
package vote

import (
	"sync"

	"github.com/dagchain/dagchain/crypto"
	"github.com/dagchain/dagchain/logger"
	"github.com/dagchain/dagchain/state"
	"github.com/dagchain/dagchain/types"
	"github.com/pkg/errors"
)

var log, _ = logger.Get(logger.SubsystemTags.VOTE)

// DoubleVoteReporter is notified when addVerifiedVote observes two distinct
// votes from the same voter at the same (period, round, step, type), the
// slashable condition of spec §4.9.
type DoubleVoteReporter interface {
	ReportDoubleVote(voter types.Address, first, second *types.Vote) error
}

// voteKey identifies the bucket a vote belongs to, independent of its
// BlockHash (distinct BlockHash values at the same key are a double vote).
type voteKey struct {
	period uint64
	round  uint64
	step   uint64
	typ    types.VoteType
}

// Manager holds verified votes in memory, grouped for quorum detection and
// double-vote reporting (spec §4.5).
type Manager struct {
	mu sync.RWMutex

	// byKey[voteKey][voter] is the single verified vote accepted from voter
	// for that coordinate; a second, differently-hashed vote for the same
	// key is a double vote and is rejected rather than overwriting it.
	byKey map[voteKey]map[types.Address]*types.Vote

	// rewardVotes accumulates cert votes per period for the DPoS reward
	// calculation state.ExecutePeriod performs (spec §4.4 "Reward votes").
	rewardVotes map[uint64][]*types.Vote

	slashing DoubleVoteReporter

	// retainPeriods bounds how many trailing periods cleanupVotesByPeriod
	// keeps once a period advances past relevance.
	retainPeriods uint64

	state state.API
	vrf   crypto.VRFVerifier
	// committeeSize parameterizes the sortition threshold every vote is
	// checked against (spec §3 "Sortition": threshold = stake/total_stake *
	// committee_size).
	committeeSize uint64
}

// New constructs an empty Manager. slashing may be nil, in which case
// double votes are logged but not reported. stateAPI and vrf are used to
// verify a vote's sortition eligibility (spec §4.5 "Verification") before it
// is ever counted toward a quorum.
func New(stateAPI state.API, vrf crypto.VRFVerifier, committeeSize uint64, slashing DoubleVoteReporter, retainPeriods uint64) *Manager {
	if retainPeriods == 0 {
		retainPeriods = 2
	}
	return &Manager{
		byKey:         make(map[voteKey]map[types.Address]*types.Vote),
		rewardVotes:   make(map[uint64][]*types.Vote),
		slashing:      slashing,
		retainPeriods: retainPeriods,
		state:         stateAPI,
		vrf:           vrf,
		committeeSize: committeeSize,
	}
}

// voteAlreadyValidated reports whether voter already has an accepted vote at
// the given coordinates (spec §4.5 "duplicate vote" short-circuit, cheaper
// than re-running addVerifiedVote's comparison).
func (m *Manager) voteAlreadyValidated(coords types.Coordinates) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key := voteKey{coords.Period, coords.Round, coords.Step, coords.Type}
	_, ok := m.byKey[key][coords.Voter]
	return ok
}

// VoteAlreadyValidated exposes voteAlreadyValidated (spec §4.5 public surface).
func (m *Manager) VoteAlreadyValidated(coords types.Coordinates) bool {
	return m.voteAlreadyValidated(coords)
}

// addVerifiedVote verifies vote against spec §4.5's four acceptance checks —
// the signer has stake, its VRF sortition proof verifies against
// dposVrfKey(period, voter), the VRF output clears the stake-weighted
// sortition threshold, and it isn't a double vote — before counting it
// toward any quorum ("addVerifiedVote"). A second vote from the same voter
// at the same coordinates but a different BlockHash is a double vote: it is
// rejected and reported to slashing rather than accepted.
//
// Grounded on vote.cpp's VoteManager::voteValidation sequence: resolve the
// voter's stake first, verify the sortition proof against it, then check the
// sortition threshold, and only after all of that run duplicate-vote
// bookkeeping.
func (m *Manager) addVerifiedVote(vote *types.Vote) error {
	voter, err := vote.Voter()
	if err != nil {
		return errors.Wrap(err, "failed to recover voter")
	}

	stake, err := m.state.DposEligibleVoteCount(vote.Period, voter)
	if err != nil {
		return errors.Wrap(err, "failed to resolve signer stake")
	}
	if stake == 0 {
		return errors.New("vote rejected: signer has no stake")
	}

	vrfKey, err := m.state.DposVrfKey(vote.Period, voter)
	if err != nil || len(vrfKey) == 0 {
		return errors.New("vote rejected: no registered vrf key for signer")
	}
	vrfMessage := types.VRFMessage(vote.Period, vote.Round, vote.Step)
	vrfOutput, ok := m.vrf.Verify(vrfKey, vrfMessage, vote.VRFProof)
	if !ok {
		return errors.New("vote rejected: vrf proof does not verify")
	}

	totalStake, err := m.state.DposTotalEligibleVoteCount(vote.Period)
	if err != nil {
		return errors.Wrap(err, "failed to resolve total stake")
	}
	if !crypto.WinsSortition(vrfOutput, stake, totalStake, m.committeeSize) {
		return errors.New("vote rejected: vrf output does not clear the sortition threshold")
	}
	vote.SetWeight(stake)

	key := voteKey{vote.Period, vote.Round, vote.Step, vote.Type}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.byKey[key] == nil {
		m.byKey[key] = make(map[types.Address]*types.Vote)
	}
	existing, ok := m.byKey[key][voter]
	if ok {
		if existing.Hash() == vote.Hash() {
			return nil // already accepted, not an error
		}
		log.Warnf("double vote detected from %x at period=%d round=%d step=%d type=%s", voter, vote.Period, vote.Round, vote.Step, vote.Type)
		if m.slashing != nil {
			if err := m.slashing.ReportDoubleVote(voter, existing, vote); err != nil {
				log.Errorf("failed to report double vote: %s", err)
			}
		}
		return errors.New("double vote rejected")
	}

	m.byKey[key][voter] = vote
	if vote.Type == types.VoteTypeCert {
		m.rewardVotes[vote.Period] = append(m.rewardVotes[vote.Period], vote)
	}
	return nil
}

// AddVerifiedVote exposes addVerifiedVote (spec §4.5 public surface).
func (m *Manager) AddVerifiedVote(vote *types.Vote) error { return m.addVerifiedVote(vote) }

// getVerifiedVotes returns every accepted vote at the given coordinates,
// unordered (spec §4.5 "getVerifiedVotes").
func (m *Manager) getVerifiedVotes(period, round, step uint64, typ types.VoteType) []*types.Vote {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bucket := m.byKey[voteKey{period, round, step, typ}]
	out := make([]*types.Vote, 0, len(bucket))
	for _, v := range bucket {
		out = append(out, v)
	}
	return out
}

// GetVerifiedVotes exposes getVerifiedVotes.
func (m *Manager) GetVerifiedVotes(period, round, step uint64, typ types.VoteType) []*types.Vote {
	return m.getVerifiedVotes(period, round, step, typ)
}

// getTwoTPlusOneVotes reports whether the accepted votes at the given
// coordinates carry a 2t+1 weighted quorum (more than two-thirds of
// totalStake) for some single BlockHash, and which hash if so (spec §4.5
// "getTwoTPlusOneVotes" / glossary "2t+1 quorum"). The null hash is a valid
// quorum target (next-votes for NULL).
func (m *Manager) getTwoTPlusOneVotes(period, round, step uint64, typ types.VoteType, totalStake uint64) (types.Hash, bool) {
	votes := m.getVerifiedVotes(period, round, step, typ)
	weightByHash := make(map[types.Hash]uint64)
	for _, v := range votes {
		weightByHash[v.BlockHash] += v.Weight()
	}
	threshold := quorumThreshold(totalStake)
	for hash, weight := range weightByHash {
		if weight >= threshold {
			return hash, true
		}
	}
	return types.Hash{}, false
}

// GetTwoTPlusOneVotes exposes getTwoTPlusOneVotes.
func (m *Manager) GetTwoTPlusOneVotes(period, round, step uint64, typ types.VoteType, totalStake uint64) (types.Hash, bool) {
	return m.getTwoTPlusOneVotes(period, round, step, typ, totalStake)
}

// quorumThreshold is the smallest integer weight strictly greater than
// two-thirds of totalStake, the 2t+1 bound for n = 3t+1 validators
// generalized to weighted stake.
func quorumThreshold(totalStake uint64) uint64 {
	return totalStake*2/3 + 1
}

// NextVotesBundle collects the accepted next-votes at (period, round) for
// blockHash into a NextVotesBundle, used to justify a round's starting
// value to late joiners (spec §3 "NextVotesBundle").
func (m *Manager) NextVotesBundle(period, round uint64, blockHash types.Hash) *types.NextVotesBundle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bundle := &types.NextVotesBundle{Period: period, Round: round, BlockHash: blockHash}
	for key, bucket := range m.byKey {
		if key.period != period || key.round != round || key.typ != types.VoteTypeNext {
			continue
		}
		for _, v := range bucket {
			if v.BlockHash == blockHash {
				bundle.Votes = append(bundle.Votes, v)
			}
		}
	}
	return bundle
}

// generateVote builds, evaluates a VRF proof for, and signs a new vote at
// the given coordinates (spec §4.5 "generateVote").
func generateVote(typ types.VoteType, blockHash types.Hash, period, round, step uint64, key *crypto.PrivateKey, vrf crypto.VRFProver) (*types.Vote, error) {
	message := types.VRFMessage(period, round, step)
	_, proof, err := vrf.Evaluate(message)
	if err != nil {
		return nil, errors.Wrap(err, "vrf evaluation failed")
	}
	vote := &types.Vote{
		BlockHash: blockHash,
		Type:      typ,
		Period:    period,
		Round:     round,
		Step:      step,
		VRFProof:  proof,
	}
	if err := vote.Sign(key); err != nil {
		return nil, errors.Wrap(err, "failed to sign vote")
	}
	return vote, nil
}

// GenerateVote exposes generateVote (spec §4.5 public surface).
func GenerateVote(typ types.VoteType, blockHash types.Hash, period, round, step uint64, key *crypto.PrivateKey, vrf crypto.VRFProver) (*types.Vote, error) {
	return generateVote(typ, blockHash, period, round, step, key, vrf)
}

// RewardVotes returns the cert votes accumulated for period, consumed by
// state.ExecutePeriod's DPoS reward distribution (spec §4.4).
func (m *Manager) RewardVotes(period uint64) []*types.Vote {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*types.Vote, len(m.rewardVotes[period]))
	copy(out, m.rewardVotes[period])
	return out
}

// cleanupVotesByPeriod drops every vote bucket older than
// currentPeriod-retainPeriods, bounding memory as PBFT periods advance
// (spec §4.5 "cleanupVotesByPeriod").
func (m *Manager) cleanupVotesByPeriod(currentPeriod uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if currentPeriod <= m.retainPeriods {
		return
	}
	cutoff := currentPeriod - m.retainPeriods
	for key := range m.byKey {
		if key.period < cutoff {
			delete(m.byKey, key)
		}
	}
	for period := range m.rewardVotes {
		if period < cutoff {
			delete(m.rewardVotes, period)
		}
	}
}

// CleanupVotesByPeriod exposes cleanupVotesByPeriod.
func (m *Manager) CleanupVotesByPeriod(currentPeriod uint64) { m.cleanupVotesByPeriod(currentPeriod) }

// isPbftRelevantVote reports whether vote is within the window the PBFT
// state machine still cares about: the current period or one period ahead
// (a vote for a round that hasn't started locally yet but may soon), per
// spec §4.5 "isPbftRelevantVote".
func isPbftRelevantVote(vote *types.Vote, currentPeriod uint64) bool {
	return vote.Period == currentPeriod || vote.Period == currentPeriod+1
}

// IsPbftRelevantVote exposes isPbftRelevantVote.
func IsPbftRelevantVote(vote *types.Vote, currentPeriod uint64) bool {
	return isPbftRelevantVote(vote, currentPeriod)
}
