// Package net implements the P2P capability and packet threadpool of spec
// §4.7: priority-queued packet dispatch, peer state with known-hash
// deduplication, gossip, and the handshake/status exchange. Route and
// dispatch shapes are grounded on daglabs-btcd's netadapter/router (a
// bounded-channel Route per logical stream) and app/protocol/flowcontext
// (one goroutine per flow, reading its Route in a loop); peer bookkeeping
// (atomic counters, RWMutex-guarded bounded sets) is grounded on
// protocol/peer.Peer.
package net

import "github.com/dagchain/dagchain/types"

// PacketType enumerates every wire packet kind dagchain exchanges (spec
// §4.7, §6).
type PacketType uint8

const (
	PacketStatus PacketType = iota
	PacketDagBlock
	PacketTransaction
	PacketVote
	PacketVotesBundle
	PacketGetDagSync
	PacketDagSync
	PacketGetPbftSync
	PacketPbftSync
	PacketGetNextVotesSync
	PacketPillarVote
	PacketGetPillarVotesBundle
	PacketPillarVotesBundle
)

func (t PacketType) String() string {
	switch t {
	case PacketStatus:
		return "Status"
	case PacketDagBlock:
		return "DagBlock"
	case PacketTransaction:
		return "Transaction"
	case PacketVote:
		return "Vote"
	case PacketVotesBundle:
		return "VotesBundle"
	case PacketGetDagSync:
		return "GetDagSync"
	case PacketDagSync:
		return "DagSync"
	case PacketGetPbftSync:
		return "GetPbftSync"
	case PacketPbftSync:
		return "PbftSync"
	case PacketGetNextVotesSync:
		return "GetNextVotesSync"
	case PacketPillarVote:
		return "PillarVote"
	case PacketGetPillarVotesBundle:
		return "GetPillarVotesBundle"
	case PacketPillarVotesBundle:
		return "PillarVotesBundle"
	default:
		return "Unknown"
	}
}

// Priority is one of the three threadpool queues a packet type is routed
// to (spec §4.7 "each has priority High / Mid / Low").
type Priority uint8

const (
	PriorityHigh Priority = iota
	PriorityMid
	PriorityLow
)

// priorityOf classifies every PacketType per spec §4.7's table.
func priorityOf(t PacketType) Priority {
	switch t {
	case PacketVote, PacketVotesBundle, PacketGetNextVotesSync:
		return PriorityHigh
	case PacketDagBlock, PacketTransaction:
		return PriorityMid
	default:
		return PriorityLow
	}
}

// exclusiveTypes are blocked globally while any worker is processing one of
// them, enforcing "one at a time" semantics (spec §4.7).
var exclusiveTypes = map[PacketType]bool{
	PacketGetDagSync:        true,
	PacketDagSync:           true,
	PacketPbftSync:          true,
	PacketPillarVotesBundle: true,
}

// isExclusive reports whether t must run alone in the threadpool.
func isExclusive(t PacketType) bool { return exclusiveTypes[t] }

// Packet is any wire packet dagchain exchanges. Received associates an
// inbound packet with the peer it arrived from and the receipt timestamp,
// for ordering and latency accounting (spec §4.7 "Packets are timestamped
// on receipt; latency stats are reported").
type Packet struct {
	Type       PacketType
	Peer       *Peer
	ReceivedAt int64 // unix nanoseconds, stamped by the caller
	Body       interface{}
}

// StatusPacket is the handshake packet both sides exchange on connect
// (spec §4.7, §6). Non-initial status updates reuse the trailing four
// fields only.
type StatusPacket struct {
	NetworkID         string
	ChainID           uint64
	GenesisHash       types.Hash
	PeerChainSize     uint64
	PeerPeriod        uint64
	PeerRound         uint64
	PeerDagLevel      uint64
	IsLightNode       bool
	HistorySize       uint64
	Initial           bool
	NodeMajorVersion  uint32
	NodeMinorVersion  uint32
	NodePatchVersion  uint32
}

// DagBlockPacket carries a proposed or gossiped DAG block with its
// referenced transactions (spec §6 "[block_rlp, trxs_rlp[]]").
type DagBlockPacket struct {
	Block        *types.DagBlock
	Transactions []*types.Transaction
}

// TransactionPacket carries one or more gossiped transactions (spec §6
// "[trx_rlp, …]").
type TransactionPacket struct {
	Transactions []*types.Transaction
}

// VotePacket carries a single PBFT vote, optionally extended with the
// candidate block it certifies and the sender's chain size (spec §6
// "[vote_rlp]` or extended `[vote_rlp, pbft_block_rlp, peer_chain_size]").
type VotePacket struct {
	Vote          *types.Vote
	Block         *types.PbftBlock
	PeerChainSize uint64
}

// VotesBundlePacket carries a 2t+1 quorum of next-votes for one round/step
// (spec §6).
type VotesBundlePacket struct {
	Period    uint64
	Round     uint64
	Step      uint64
	BlockHash types.Hash
	Votes     []*types.Vote
}

// GetDagSyncPacket requests non-finalized DAG blocks the sender is missing
// (spec §4.8).
type GetDagSyncPacket struct {
	Period              uint64
	KnownNonFinalized []types.Hash
}

// DagSyncPacket is the reply to GetDagSyncPacket (spec §4.8, §6).
type DagSyncPacket struct {
	Period       uint64
	Blocks       []*types.DagBlock
	Transactions []*types.Transaction
}

// GetPbftSyncPacket requests a window of finalized periods starting at
// FromPeriod (spec §4.8).
type GetPbftSyncPacket struct {
	FromPeriod uint64
}

// PbftSyncPacket streams one finalized period per message; Last marks the
// final entry of the requested window (spec §4.8, §6).
type PbftSyncPacket struct {
	PeriodData *types.PeriodData
	Last       bool
}

// GetNextVotesSyncPacket requests the current round's 2t+1 next-votes to
// catch up without a full sync (spec §4.8).
type GetNextVotesSyncPacket struct {
	Period uint64
	Round  uint64
}

// PillarVotePacket carries a single BLS signature over a pillar block hash
// (spec §6).
type PillarVotePacket struct {
	Vote *types.PillarVote
}

// GetPillarVotesBundlePacket requests the accumulated BLS signatures for a
// pillar block (spec §4.8).
type GetPillarVotesBundlePacket struct {
	Period    uint64
	BlockHash types.Hash
}

// PillarVotesBundlePacket replies with up to kMaxSignaturesInBundleRlp
// signatures (spec §4.8).
type PillarVotesBundlePacket struct {
	Votes []*types.PillarVote
}
