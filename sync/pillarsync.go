package sync

import (
	"time"

	"github.com/dagchain/dagchain/errs"
	"github.com/dagchain/dagchain/net"
	"github.com/dagchain/dagchain/types"
)

// HandleGetPillarVotesBundle answers a GetPillarVotesBundlePacket with the
// accumulated BLS signatures for the named pillar block, capped at
// cfg.MaxSignaturesInBundle (spec §4.8 "Pillar sync").
func HandleGetPillarVotesBundle(ctx Context, cfg Config, req *net.GetPillarVotesBundlePacket) *net.PillarVotesBundlePacket {
	votes := ctx.Pillar().VotesForBlock(req.BlockHash)
	if cfg.MaxSignaturesInBundle > 0 && len(votes) > cfg.MaxSignaturesInBundle {
		votes = votes[:cfg.MaxSignaturesInBundle]
	}
	return &net.PillarVotesBundlePacket{Votes: votes}
}

// RunPillarSync requests the BLS signature bundle for the latest pillar
// block this node has built but not yet seen finalize, recording every
// returned vote with the pillar manager so its own 2t+1 check can complete
// (spec §4.8, §4.6 "NeedsBundleRequest").
func RunPillarSync(ctx Context, blockPeriod uint64, blockHash types.Hash, peer *net.Peer, outgoing, incoming *net.Route, timeout time.Duration) error {
	req := &net.GetPillarVotesBundlePacket{Period: blockPeriod, BlockHash: blockHash}
	if err := outgoing.Enqueue(&net.Packet{Type: net.PacketGetPillarVotesBundle, Peer: peer, Body: req}); err != nil {
		return errs.Wrap(errs.KindIOFailure, err, "failed to send pillar votes bundle request")
	}

	pkt, err := incoming.DequeueWithTimeout(timeout)
	if err != nil {
		return errs.Wrap(errs.KindTransientUnknown, err, "pillar votes bundle request timed out")
	}
	reply, ok := pkt.Body.(*net.PillarVotesBundlePacket)
	if !ok {
		return errs.New(errs.KindPacketMalformed, "expected a PillarVotesBundlePacket reply")
	}

	var firstErr error
	for _, v := range reply.Votes {
		if _, err := ctx.Pillar().AddPillarVote(v); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
