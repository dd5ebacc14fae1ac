package sync

import (
	"time"

	"github.com/dagchain/dagchain/errs"
	"github.com/dagchain/dagchain/net"
)

// HandleGetNextVotesSync answers a GetNextVotesSyncPacket with the round's
// 2t+1 next-vote quorum, letting a peer catch up to the current PBFT round
// without a full sync (spec §4.8 "Next-votes sync").
func HandleGetNextVotesSync(ctx Context, req *net.GetNextVotesSyncPacket) (*net.VotesBundlePacket, bool) {
	bundle, ok := ctx.PBFT().NextVotesBundleFor(req.Period, req.Round)
	if !ok {
		return nil, false
	}
	return &net.VotesBundlePacket{
		Period:    bundle.Period,
		Round:     bundle.Round,
		BlockHash: bundle.BlockHash,
		Votes:     bundle.Votes,
	}, true
}

// RunNextVotesSync requests the current round's next-votes quorum from peer
// and records every returned vote with the local vote manager, so the local
// PBFT driver's own quorum check (vote.Manager.GetTwoTPlusOneVotes) sees it
// on its very next poll.
func RunNextVotesSync(ctx Context, peer *net.Peer, outgoing, incoming *net.Route, timeout time.Duration) error {
	period, round := ctx.PBFT().ChainSize()+1, ctx.PBFT().CurrentRound()
	req := &net.GetNextVotesSyncPacket{Period: period, Round: round}
	if err := outgoing.Enqueue(&net.Packet{Type: net.PacketGetNextVotesSync, Peer: peer, Body: req}); err != nil {
		return errs.Wrap(errs.KindIOFailure, err, "failed to send next-votes sync request")
	}

	pkt, err := incoming.DequeueWithTimeout(timeout)
	if err != nil {
		return errs.Wrap(errs.KindTransientUnknown, err, "next-votes sync request timed out")
	}
	reply, ok := pkt.Body.(*net.VotesBundlePacket)
	if !ok {
		return errs.New(errs.KindPacketMalformed, "expected a VotesBundlePacket reply")
	}

	// AddVerifiedVote resolves stake, verifies the vrf sortition proof, and
	// sets weight itself (spec §4.5 "Verification"); a vote from an
	// unregistered or ineligible signer is simply rejected here rather than
	// trusted because it arrived over a sync reply.
	var firstErr error
	for _, v := range reply.Votes {
		if err := ctx.Votes().AddVerifiedVote(v); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
