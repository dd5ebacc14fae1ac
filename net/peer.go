package net

import (
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/dagchain/dagchain/types"
)

const knownHashSetSize = 4096

// maliciousCooldown is how long a peer crossing the suspicious-packet
// threshold is banned for (spec, Supplemented Features: "Peer ban-score /
// malicious cooldown").
const maliciousCooldown = 10 * time.Minute

// kMaxSuspiciousPacketPerMinute bounds how many packet-level protocol
// violations a peer may trigger before it is banned, mirrored from
// daglabs-btcd's connmanager retry/backoff bookkeeping.
const kMaxSuspiciousPacketPerMinute = 20

// kDagSyncingLimit is the cooldown BeginDagSync checks after a completed DAG
// sync (spec §4.8). CompleteDagSync also sets the peer's dag-synced flag,
// which nothing clears, so a peer is not asked for a second DAG sync.
const kDagSyncingLimit = 60 * time.Second

// Peer is the live, mutable per-connection state: counters live behind
// atomics, bounded known-hash sets behind a shared RWMutex, matching spec
// §5's "lock-free atomics for counters; shared_mutex for bounded
// known-hashes sets", grounded on protocol/peer.Peer's field-level locking
// (a dedicated mutex per mutable field group rather than one coarse lock).
type Peer struct {
	NodeID string
	Route  *Route

	// sentPackets and suspiciousCount are read far more often than
	// written from outside the owning goroutine's send path, so they are
	// plain atomics rather than mutex-guarded fields.
	sentPackets     uint64
	suspiciousCount uint32

	mu              sync.RWMutex
	tarcapVersion   uint32
	pbftChainSize   uint64
	pbftPeriod      uint64
	pbftRound       uint64
	dagLevel        uint64
	isLightNode     bool
	historySize     uint64
	syncing         bool
	pbftDagSynced   bool
	lastDagSyncAt   time.Time
	malicious       bool
	maliciousUntil  time.Time

	knownDagBlocks   *lru.Cache
	knownTransactions *lru.Cache
	knownVotes       *lru.Cache
	knownPbftBlocks  *lru.Cache
	knownBlsSigs     *lru.Cache
}

// NewPeer constructs a Peer with bounded known-hash sets of
// knownHashSetSize entries each.
func NewPeer(nodeID string, route *Route) *Peer {
	mustLRU := func() *lru.Cache {
		c, err := lru.New(knownHashSetSize)
		if err != nil {
			// Only returns an error for a non-positive size, which never
			// happens with a compile-time constant.
			panic(err)
		}
		return c
	}
	return &Peer{
		NodeID:            nodeID,
		Route:             route,
		knownDagBlocks:    mustLRU(),
		knownTransactions: mustLRU(),
		knownVotes:        mustLRU(),
		knownPbftBlocks:   mustLRU(),
		knownBlsSigs:      mustLRU(),
	}
}

// IncrementSentPackets records an outbound packet for stats reporting.
func (p *Peer) IncrementSentPackets() { atomic.AddUint64(&p.sentPackets, 1) }

// SentPackets returns the outbound packet count.
func (p *Peer) SentPackets() uint64 { return atomic.LoadUint64(&p.sentPackets) }

// RecordSuspiciousPacket increments the peer's suspicious-packet counter
// and bans the peer for maliciousCooldown if it crosses
// kMaxSuspiciousPacketPerMinute (Supplemented Features).
func (p *Peer) RecordSuspiciousPacket() (banned bool) {
	if atomic.AddUint32(&p.suspiciousCount, 1) < kMaxSuspiciousPacketPerMinute {
		return false
	}
	p.MarkMalicious()
	return true
}

// MarkMalicious bans the peer for the fixed cooldown window.
func (p *Peer) MarkMalicious() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.malicious = true
	p.maliciousUntil = time.Now().Add(maliciousCooldown)
}

// IsBanned reports whether the peer is currently within its malicious
// cooldown window.
func (p *Peer) IsBanned() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.malicious && time.Now().Before(p.maliciousUntil)
}

// State snapshots the peer's queryable protocol state (spec §3
// "PeerState").
func (p *Peer) State() types.PeerState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return types.PeerState{
		NodeID:          p.NodeID,
		TarcapVersion:   p.tarcapVersion,
		PbftChainSize:   p.pbftChainSize,
		PbftPeriod:      p.pbftPeriod,
		PbftRound:       p.pbftRound,
		DagLevel:        p.dagLevel,
		IsLightNode:     p.isLightNode,
		HistorySize:     p.historySize,
		SentPackets:     atomic.LoadUint64(&p.sentPackets),
		SuspiciousCount: atomic.LoadUint32(&p.suspiciousCount),
	}
}

// ApplyStatus updates the peer's advertised chain position from a received
// StatusPacket (spec §4.7).
func (p *Peer) ApplyStatus(status *StatusPacket) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pbftChainSize = status.PeerChainSize
	p.pbftPeriod = status.PeerPeriod
	p.pbftRound = status.PeerRound
	p.dagLevel = status.PeerDagLevel
	if status.Initial {
		p.tarcapVersion = status.NodeMajorVersion
		p.isLightNode = status.IsLightNode
		p.historySize = status.HistorySize
	}
}

// SetSyncing marks whether this peer is currently the target of an
// in-flight sync request (spec §4.7 gossip "skips any peer marked
// syncing_").
func (p *Peer) SetSyncing(syncing bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.syncing = syncing
}

// IsSyncing reports the current syncing_ flag.
func (p *Peer) IsSyncing() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.syncing
}

// BeginDagSync reports whether a DAG sync may be started against this peer
// right now: it must not already be marked dag-synced, and any prior
// completion's cooldown must have elapsed (spec §4.8 "Client accepts only
// if peer.peer_dag_synced_ was false ... cooldown kDagSyncingLimit = 60s").
func (p *Peer) BeginDagSync() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pbftDagSynced {
		return false
	}
	if !p.lastDagSyncAt.IsZero() && time.Since(p.lastDagSyncAt) < kDagSyncingLimit {
		return false
	}
	return true
}

// CompleteDagSync marks the peer as dag-synced and starts its cooldown.
func (p *Peer) CompleteDagSync() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pbftDagSynced = true
	p.lastDagSyncAt = time.Now()
}

// KnowsDagBlock reports whether this peer has already seen hash. It does not
// record hash; MarkKnowsDagBlock does that.
func (p *Peer) KnowsDagBlock(hash types.Hash) bool { return p.knownDagBlocks.Contains(hash) }

// MarkKnowsDagBlock records hash as known to this peer.
func (p *Peer) MarkKnowsDagBlock(hash types.Hash) { p.knownDagBlocks.Add(hash, struct{}{}) }

// KnowsTransaction reports whether this peer has already seen hash.
func (p *Peer) KnowsTransaction(hash types.Hash) bool { return p.knownTransactions.Contains(hash) }

// MarkKnowsTransaction records hash as known to this peer.
func (p *Peer) MarkKnowsTransaction(hash types.Hash) { p.knownTransactions.Add(hash, struct{}{}) }

// KnowsVote reports whether this peer has already seen the vote hash.
func (p *Peer) KnowsVote(hash types.Hash) bool { return p.knownVotes.Contains(hash) }

// MarkKnowsVote records a vote hash as known to this peer.
func (p *Peer) MarkKnowsVote(hash types.Hash) { p.knownVotes.Add(hash, struct{}{}) }

// KnowsPbftBlock reports whether this peer has already seen the block hash.
func (p *Peer) KnowsPbftBlock(hash types.Hash) bool { return p.knownPbftBlocks.Contains(hash) }

// MarkKnowsPbftBlock records a PBFT block hash as known to this peer.
func (p *Peer) MarkKnowsPbftBlock(hash types.Hash) { p.knownPbftBlocks.Add(hash, struct{}{}) }

// KnowsBlsSig reports whether this peer has already seen the given pillar
// vote signature hash.
func (p *Peer) KnowsBlsSig(hash types.Hash) bool { return p.knownBlsSigs.Contains(hash) }

// MarkKnowsBlsSig records a pillar-vote signature hash as known to this
// peer.
func (p *Peer) MarkKnowsBlsSig(hash types.Hash) { p.knownBlsSigs.Add(hash, struct{}{}) }
