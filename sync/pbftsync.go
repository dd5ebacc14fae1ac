package sync

import (
	"time"

	"github.com/dagchain/dagchain/errs"
	"github.com/dagchain/dagchain/logger"
	"github.com/dagchain/dagchain/net"
	"github.com/dagchain/dagchain/types"
)

var log, _ = logger.Get(logger.SubsystemTags.SYNC)

// HandleGetPbftSync answers a GetPbftSyncPacket by assembling one
// PbftSyncPacket per period in [from, from+window), marking the last entry
// (spec §4.8 "PBFT sync"). Periods past our own chain size are simply
// omitted rather than erroring, since the requester may have raced ahead of
// a reorg-free local view.
func HandleGetPbftSync(ctx Context, cfg Config, req *net.GetPbftSyncPacket) ([]*net.PbftSyncPacket, error) {
	chainSize := ctx.PBFT().ChainSize()
	if req.FromPeriod > chainSize {
		return nil, nil
	}
	window := cfg.NetworkSyncLevelSize
	if window == 0 {
		window = 1
	}
	to := req.FromPeriod + window
	if to > chainSize+1 {
		to = chainSize + 1
	}

	packets := make([]*net.PbftSyncPacket, 0, to-req.FromPeriod)
	for period := req.FromPeriod; period < to; period++ {
		pd, err := ctx.PBFT().PeriodDataForPeriod(period)
		if err != nil {
			return nil, errs.Wrap(errs.KindIOFailure, err, "failed to assemble period data for sync")
		}
		packets = append(packets, &net.PbftSyncPacket{PeriodData: pd})
	}
	if len(packets) > 0 {
		packets[len(packets)-1].Last = true
	}
	return packets, nil
}

// PeriodApplier runs the background task spec §4.8 describes: periods
// arrive out of the caller's control flow (one packet per network message)
// but must be applied strictly in order, so it drains a queue from a single
// goroutine rather than applying inline on receipt.
type PeriodApplier struct {
	ctx    Context
	queue  chan *types.PeriodData
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewPeriodApplier constructs an applier with a bounded backlog; Enqueue
// blocks once it fills, naturally back-pressuring a fast sync source.
func NewPeriodApplier(ctx Context, backlog int) *PeriodApplier {
	return &PeriodApplier{
		ctx:    ctx,
		queue:  make(chan *types.PeriodData, backlog),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Enqueue appends a received period to the apply queue, in receive order.
func (a *PeriodApplier) Enqueue(pd *types.PeriodData) {
	select {
	case a.queue <- pd:
	case <-a.stopCh:
	}
}

// Run drains the queue in order until Stop is called, validating, executing,
// and advancing the PBFT chain for each period via AdoptSyncedPeriod. If a
// period fails to adopt, Run logs the error and returns.
func (a *PeriodApplier) Run() {
	defer close(a.doneCh)
	for {
		select {
		case <-a.stopCh:
			return
		case pd := <-a.queue:
			if err := a.ctx.PBFT().AdoptSyncedPeriod(pd); err != nil {
				log.Errorf("failed to adopt synced period %d: %s", pd.PbftBlock.Period, err)
				return
			}
		}
	}
}

// Stop halts Run and waits for it to exit.
func (a *PeriodApplier) Stop() {
	close(a.stopCh)
	<-a.doneCh
}

// RunPbftSync drives the client side of a PBFT sync round-trip: request the
// window starting at the period after our chain size, and enqueue every received period onto
// applier in arrival order (spec §4.8). Returns once the server's Last entry
// arrives or the round-trip times out; application itself continues on
// applier's own goroutine.
func RunPbftSync(ctx Context, applier *PeriodApplier, peer *net.Peer, outgoing, incoming *net.Route, timeout time.Duration) error {
	req := &net.GetPbftSyncPacket{FromPeriod: ctx.PBFT().ChainSize() + 1}
	if err := outgoing.Enqueue(&net.Packet{Type: net.PacketGetPbftSync, Peer: peer, Body: req}); err != nil {
		return errs.Wrap(errs.KindIOFailure, err, "failed to send pbft sync request")
	}

	for {
		pkt, err := incoming.DequeueWithTimeout(timeout)
		if err != nil {
			return errs.Wrap(errs.KindTransientUnknown, err, "pbft sync request timed out")
		}
		reply, ok := pkt.Body.(*net.PbftSyncPacket)
		if !ok {
			return errs.New(errs.KindPacketMalformed, "expected a PbftSyncPacket reply")
		}
		if reply.PeriodData != nil {
			applier.Enqueue(reply.PeriodData)
		}
		if reply.Last {
			return nil
		}
	}
}
