package sync

import (
	"time"

	"github.com/dagchain/dagchain/errs"
	"github.com/dagchain/dagchain/net"
	"github.com/dagchain/dagchain/types"
)

// HandleGetDagSync answers a GetDagSyncPacket with the blocks (and their
// transactions) the requester doesn't already have (spec §4.8 "DAG sync").
func HandleGetDagSync(ctx Context, req *net.GetDagSyncPacket) *net.DagSyncPacket {
	known := make(map[types.Hash]struct{}, len(req.KnownNonFinalized))
	for _, h := range req.KnownNonFinalized {
		known[h] = struct{}{}
	}

	all := ctx.DAG().GetNonFinalizedBlocks()
	missing := make([]*types.DagBlock, 0, len(all))
	for _, b := range all {
		if _, ok := known[b.Hash()]; !ok {
			missing = append(missing, b)
		}
	}

	return &net.DagSyncPacket{
		Period:       ctx.DAG().Period(),
		Blocks:       missing,
		Transactions: ctx.DAG().TransactionsForBlocks(missing),
	}
}

// RunDagSync drives the client side of a DAG sync round-trip against peer:
// request the blocks we're missing, wait for the reply, and recover them
// into the DAG manager (spec §4.8 "Client accepts only if
// peer.peer_dag_synced_ was false; sets it true on completion").
func RunDagSync(ctx Context, peer *net.Peer, outgoing, incoming *net.Route, timeout time.Duration) error {
	if !peer.BeginDagSync() {
		return nil
	}

	known := ctx.DAG().GetNonFinalizedBlocks()
	knownHashes := make([]types.Hash, len(known))
	for i, b := range known {
		knownHashes[i] = b.Hash()
	}

	req := &net.GetDagSyncPacket{Period: ctx.DAG().Period(), KnownNonFinalized: knownHashes}
	if err := outgoing.Enqueue(&net.Packet{Type: net.PacketGetDagSync, Peer: peer, Body: req}); err != nil {
		return errs.Wrap(errs.KindIOFailure, err, "failed to send dag sync request")
	}

	pkt, err := incoming.DequeueWithTimeout(timeout)
	if err != nil {
		return errs.Wrap(errs.KindTransientUnknown, err, "dag sync request timed out")
	}
	reply, ok := pkt.Body.(*net.DagSyncPacket)
	if !ok {
		return errs.New(errs.KindPacketMalformed, "expected a DagSyncPacket reply")
	}

	byHash := make(map[types.Hash]*types.Transaction, len(reply.Transactions))
	for _, trx := range reply.Transactions {
		byHash[trx.Hash()] = trx
	}
	resolver := func(h types.Hash) (*types.Transaction, bool) {
		trx, ok := byHash[h]
		return trx, ok
	}
	if err := ctx.DAG().RecoverDag(reply.Blocks, resolver); err != nil {
		return errs.Wrap(errs.KindPeerMalicious, err, "failed to recover dag blocks from sync reply")
	}

	peer.CompleteDagSync()
	return nil
}
