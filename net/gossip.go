package net

import "github.com/dagchain/dagchain/types"

// PeerRegistry lists every currently connected peer, for gossip fan-out.
// The concrete registry (owned by node wiring) need only satisfy this
// narrow surface.
type PeerRegistry interface {
	Peers() []*Peer
}

// gossipTo sends body as a packet of type t to every peer in registry,
// except those currently syncing_ or that already know hash — unless
// rebroadcast forces re-send — marking each successfully sent peer as
// knowing hash afterward (spec §4.7 "onNewXxx scans all peers, skips any
// peer marked syncing_, skips any peer whose known_xxx already contains the
// hash (unless rebroadcast is set), and sends the packet; on success marks
// the peer as knowing the hash").
func gossipTo(registry PeerRegistry, t PacketType, hash types.Hash, body interface{}, rebroadcast bool, knows func(*Peer) bool, markKnown func(*Peer)) {
	for _, peer := range registry.Peers() {
		if peer.IsSyncing() {
			continue
		}
		if !rebroadcast && knows(peer) {
			continue
		}
		if peer.IsBanned() {
			continue
		}
		if err := peer.Route.Enqueue(&Packet{Type: t, Peer: peer, Body: body}); err != nil {
			continue
		}
		peer.IncrementSentPackets()
		markKnown(peer)
	}
}

// GossipNewDagBlock implements onNewDagBlock (spec §4.7).
func GossipNewDagBlock(registry PeerRegistry, block *types.DagBlock, trxs []*types.Transaction, rebroadcast bool) {
	gossipTo(registry, PacketDagBlock, block.Hash(), &DagBlockPacket{Block: block, Transactions: trxs}, rebroadcast,
		func(p *Peer) bool { return p.KnowsDagBlock(block.Hash()) },
		func(p *Peer) { p.MarkKnowsDagBlock(block.Hash()) })
}

// GossipNewTransaction implements onNewTransaction (spec §4.7).
func GossipNewTransaction(registry PeerRegistry, trx *types.Transaction, rebroadcast bool) {
	gossipTo(registry, PacketTransaction, trx.Hash(), &TransactionPacket{Transactions: []*types.Transaction{trx}}, rebroadcast,
		func(p *Peer) bool { return p.KnowsTransaction(trx.Hash()) },
		func(p *Peer) { p.MarkKnowsTransaction(trx.Hash()) })
}

// GossipNewVote implements onNewVote (spec §4.7).
func GossipNewVote(registry PeerRegistry, vote *types.Vote, block *types.PbftBlock, peerChainSize uint64, rebroadcast bool) {
	gossipTo(registry, PacketVote, vote.Hash(), &VotePacket{Vote: vote, Block: block, PeerChainSize: peerChainSize}, rebroadcast,
		func(p *Peer) bool { return p.KnowsVote(vote.Hash()) },
		func(p *Peer) { p.MarkKnowsVote(vote.Hash()) })
}

// GossipNewPillarVote implements onNewPillarVote (spec §4.7).
func GossipNewPillarVote(registry PeerRegistry, vote *types.PillarVote, rebroadcast bool) {
	gossipTo(registry, PacketPillarVote, vote.Hash(), &PillarVotePacket{Vote: vote}, rebroadcast,
		func(p *Peer) bool { return p.KnowsBlsSig(vote.Hash()) },
		func(p *Peer) { p.MarkKnowsBlsSig(vote.Hash()) })
}
