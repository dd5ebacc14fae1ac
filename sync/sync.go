// Package sync implements the DAG, PBFT, next-votes, and pillar sync
// handlers of spec §4.8: a lagging node's catch-up request/response flows
// and the server-side replies a caught-up node serves them with. The
// request/response shape (send, block on the reply route with a timeout,
// validate, advance) is grounded on app/protocol/flows/ibd.handleIBDFlow;
// unlike kaspa's always-running IBD flow, each sync kind here is a single
// bounded round-trip dispatched from net's packet threadpool, since dagchain
// sync requests are one-shot catch-up operations rather than a continuous
// session.
package sync

import (
	"time"

	"github.com/dagchain/dagchain/dag"
	"github.com/dagchain/dagchain/net"
	"github.com/dagchain/dagchain/pbft"
	"github.com/dagchain/dagchain/pillar"
	"github.com/dagchain/dagchain/state"
	"github.com/dagchain/dagchain/vote"
)

// Context exposes the node's domain components to sync's client and server
// handlers, mirroring ibd.HandleIBDContext's narrow per-flow interface.
type Context interface {
	DAG() *dag.Manager
	PBFT() *pbft.Driver
	Votes() *vote.Manager
	Pillar() *pillar.Manager
	State() state.API
}

// Config bounds sync's window sizes and timeouts (spec §4.8, §5).
type Config struct {
	// NetworkSyncLevelSize is the window of periods a single GetPbftSyncPacket
	// streams per request ("window = network_sync_level_size").
	NetworkSyncLevelSize uint64
	// TimeoutVal is the RPC timeout for a sync round-trip (spec §5 "timeout_val = 60s").
	TimeoutVal time.Duration
	// MaxSignaturesInBundle bounds a PillarVotesBundlePacket reply (spec §4.8
	// "kMaxSignaturesInBundleRlp").
	MaxSignaturesInBundle int
}

// DefaultConfig returns spec §5/§4.8's named defaults.
func DefaultConfig() Config {
	return Config{
		NetworkSyncLevelSize:  10,
		TimeoutVal:            60 * time.Second,
		MaxSignaturesInBundle: 1000,
	}
}

// PeerSyncState is the subset of a candidate's advertised status that sync
// target selection compares (spec §4.8 "Sync target selection").
type PeerSyncState struct {
	Peer        *net.Peer
	ChainSize   uint64
	DagLevel    uint64
	IsLightNode bool
	HistorySize uint64
}

// SelectSyncTarget picks the best peer to sync against: largest
// pbft_chain_size_, ties broken by highest dag_level_; light peers are
// disqualified when their retained history can't cover the gap back to our
// chain size (spec §4.8).
func SelectSyncTarget(candidates []PeerSyncState, ourChainSize uint64) (*net.Peer, bool) {
	var best *PeerSyncState
	for i := range candidates {
		c := &candidates[i]
		if c.IsLightNode && c.ChainSize > c.HistorySize && c.ChainSize-c.HistorySize > ourChainSize {
			continue
		}
		if best == nil || c.ChainSize > best.ChainSize ||
			(c.ChainSize == best.ChainSize && c.DagLevel > best.DagLevel) {
			best = c
		}
	}
	if best == nil {
		return nil, false
	}
	return best.Peer, true
}
