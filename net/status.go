package net

import (
	"time"

	"github.com/dagchain/dagchain/errs"
	"github.com/dagchain/dagchain/types"
)

// handshakeTimeout is the deadline for a peer's initial StatusPacket (spec
// §5 "peer handshake has initial-status deadline of 60s after which the
// peer is disconnected").
const handshakeTimeout = 60 * time.Second

// LocalStatus is this node's view of its own chain position, used both to
// build the outgoing StatusPacket and to validate an incoming one.
type LocalStatus struct {
	NetworkID        string
	ChainID          uint64
	GenesisHash      types.Hash
	ChainSize        uint64
	Period           uint64
	Round            uint64
	DagLevel         uint64
	IsLightNode      bool
	HistorySize      uint64
	NodeMajorVersion uint32
	NodeMinorVersion uint32
	NodePatchVersion uint32
}

// BuildInitialStatus constructs the StatusPacket sent on connect (spec
// §4.7, §6).
func (s LocalStatus) BuildInitialStatus() *StatusPacket {
	return &StatusPacket{
		NetworkID:        s.NetworkID,
		ChainID:          s.ChainID,
		GenesisHash:      s.GenesisHash,
		PeerChainSize:    s.ChainSize,
		PeerPeriod:       s.Period,
		PeerRound:        s.Round,
		PeerDagLevel:     s.DagLevel,
		IsLightNode:      s.IsLightNode,
		HistorySize:      s.HistorySize,
		Initial:          true,
		NodeMajorVersion: s.NodeMajorVersion,
		NodeMinorVersion: s.NodeMinorVersion,
		NodePatchVersion: s.NodePatchVersion,
	}
}

// BuildUpdateStatus constructs a non-initial status update carrying only
// chain-position fields (spec §6 "Non-initial: [pbft_chain_size,
// pbft_period, pbft_round, dag_level]").
func (s LocalStatus) BuildUpdateStatus() *StatusPacket {
	return &StatusPacket{
		PeerChainSize: s.ChainSize,
		PeerPeriod:    s.Period,
		PeerRound:     s.Round,
		PeerDagLevel:  s.DagLevel,
	}
}

// ValidateInitialStatus checks a received initial StatusPacket against this
// node's own network identity (spec §4.7 "A peer that fails validation is
// disconnected with a user reason and marked malicious for a cooldown
// window").
func (s LocalStatus) ValidateInitialStatus(peerStatus *StatusPacket) error {
	if !peerStatus.Initial {
		return errs.New(errs.KindPeerMalicious, "expected an initial status packet")
	}
	if peerStatus.NetworkID != s.NetworkID {
		return errs.New(errs.KindPeerMalicious, "peer network id mismatch")
	}
	if peerStatus.ChainID != s.ChainID {
		return errs.New(errs.KindPeerMalicious, "peer chain id mismatch")
	}
	if peerStatus.GenesisHash != s.GenesisHash {
		return errs.New(errs.KindPeerMalicious, "peer genesis hash mismatch")
	}
	return nil
}

// HandshakeDeadline returns the point in time by which a connecting peer's
// initial status must arrive.
func HandshakeDeadline(connectedAt time.Time) time.Time { return connectedAt.Add(handshakeTimeout) }
