package types

// PeerState is the queryable snapshot of a connected peer's protocol state
// (spec §3 "PeerState"). The live, mutable version with locks and bounded
// known-hash sets lives in package net; this is the plain data it reports.
type PeerState struct {
	NodeID          string
	TarcapVersion   uint32
	PbftChainSize   uint64
	PbftPeriod      uint64
	PbftRound       uint64
	DagLevel        uint64
	IsLightNode     bool
	HistorySize     uint64
	SentPackets     uint64
	SuspiciousCount uint32
}
