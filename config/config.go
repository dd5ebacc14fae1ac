// Package config holds the plain configuration structs node wiring is
// populated from. Parsing flags or a config file onto these structs is
// explicitly out of scope (spec §1); the embedding process is responsible
// for filling in a Config before calling node.New, the same division
// integration.commonConfig draws between daglabs-btcd's config.Config
// struct and the flags parser that fills it in.
package config

import (
	"time"

	"github.com/dagchain/dagchain/dag"
	"github.com/dagchain/dagchain/pbft"
	"github.com/dagchain/dagchain/pillar"
	"github.com/dagchain/dagchain/proposer"
	"github.com/dagchain/dagchain/sync"
)

// Config is the full set of knobs one dagchain process is constructed
// from. Every nested Config belongs to the subsystem it's named after;
// node wiring passes each straight through to that subsystem's New.
type Config struct {
	// DataDir is the on-disk directory the LevelDB-backed DbStorage and log
	// files live under.
	DataDir string

	// NetworkID and ChainID identify this chain for the handshake status
	// exchange (spec §4.7, §6). node.New does not read GenesisHash; its
	// startup genesis check compares the hash of the genesis block passed to
	// it against the persisted value (spec §6 "Genesis verification").
	NetworkID   string
	ChainID     uint64
	GenesisHash [32]byte

	// ValidatorKey is this node's secp256k1 signing key, 32 bytes, used for
	// DAG block, PBFT vote, and PBFT block signatures. Empty means this
	// node runs in read-only (non-validating, sync-only) mode.
	ValidatorKey []byte

	IsLightNode bool
	// HistorySize bounds how many trailing periods a light node retains
	// (spec §4.2 "light-node pruning", §4.8 "Sync target selection").
	HistorySize uint64

	// ThreadpoolWorkers is the total concurrency budget the packet
	// threadpool partitions into its High/Mid/Low slices (spec §4.7).
	ThreadpoolWorkers int

	Dag      dag.Config
	Pbft     pbft.Config
	Proposer proposer.Config
	Pillar   pillar.Config
	Sync     sync.Config

	LogFile    string
	ErrLogFile string
	LogLevel   string
}

// DefaultConfig returns the spec's named defaults (§3, §4.3, §4.4, §4.8),
// the values a process that hasn't overridden anything would run with.
func DefaultConfig() Config {
	return Config{
		DataDir:           "./data",
		ThreadpoolWorkers: 16,
		Dag: dag.Config{
			DagBlockMaxTips:    16,
			DagGasLimit:        30_000_000,
			PbftGasLimit:       60_000_000,
			DagExpiryLimit:     5000,
			MaxLevelsPerPeriod: 100,
			BaseVDFDifficulty:  1 << 16,
			MinStakeUnit:       1_000_000,
			CommitteeSize:      1000,
		},
		Pbft: pbft.Config{
			Lambda:                 2 * time.Second,
			CertVoteStepMultiplier: 2,
			VoteRetentionPeriods:   10,
			CommitteeSize:          1000,
		},
		Proposer: proposer.Config{
			PollInterval: 500 * time.Millisecond,
			DagGasLimit:  30_000_000,
		},
		Pillar: pillar.Config{
			PillarBlockPeriods:           100,
			CheckLatestBlockBlsSigsEvery: 20,
		},
		Sync:     sync.DefaultConfig(),
		LogLevel: "info",
	}
}
