// Package node wires every CORE component into one running process: the
// DAG manager, vote manager, pillar chain manager, PBFT driver, transaction
// pool, VDF proposer, slashing manager, and the packet threadpool, and owns
// their startup/shutdown order. The wrapper-struct-plus-start/stop shape is
// grounded on daglabs-btcd's kaspad.go ("kaspad" struct, newKaspad,
// start/stop with atomic started/shutdown guards); packet dispatch is
// grounded on app/protocol/flowcontext's single routing entry point, here
// realized as one handler function handed to net.NewThreadpool.
package node

import (
	"sync"
	"sync/atomic"

	"github.com/dagchain/dagchain/config"
	"github.com/dagchain/dagchain/crypto"
	"github.com/dagchain/dagchain/dag"
	"github.com/dagchain/dagchain/database"
	"github.com/dagchain/dagchain/errs"
	"github.com/dagchain/dagchain/logger"
	"github.com/dagchain/dagchain/net"
	"github.com/dagchain/dagchain/pbft"
	"github.com/dagchain/dagchain/pillar"
	"github.com/dagchain/dagchain/proposer"
	"github.com/dagchain/dagchain/slashing"
	"github.com/dagchain/dagchain/state"
	dsync "github.com/dagchain/dagchain/sync"
	"github.com/dagchain/dagchain/txpool"
	"github.com/dagchain/dagchain/types"
	"github.com/dagchain/dagchain/vote"
	"github.com/pkg/errors"
)

var log, _ = logger.Get(logger.SubsystemTags.NODE)

const (
	// defaultRetainPeriods is how many trailing periods of votes the vote
	// manager keeps once a period finalizes (spec §4.5 "prune votes with
	// period <= P - retention") when cfg.Pbft.VoteRetentionPeriods is zero.
	defaultRetainPeriods = 10
)

// Node is one running dagchain validator or sync-only process.
type Node struct {
	cfg   config.Config
	db    database.DbStorage
	state state.API

	dagMgr     *dag.Manager
	votes      *vote.Manager
	pillarMgr  *pillar.Manager
	driver     *pbft.Driver
	pool       *txpool.Pool
	prop       *proposer.Proposer
	slash      *slashing.Manager
	threadpool *net.Threadpool

	peersMu sync.Mutex
	peers   []*net.Peer

	started, shutdown int32
}

// Peers implements net.PeerRegistry for this node's own gossip fan-out.
func (n *Node) Peers() []*net.Peer {
	n.peersMu.Lock()
	defer n.peersMu.Unlock()
	out := make([]*net.Peer, len(n.peers))
	copy(out, n.peers)
	return out
}

// AddPeer registers a newly connected peer for gossip fan-out and packet
// dispatch. The transport that accepted the connection owns feeding its
// packets into Submit.
func (n *Node) AddPeer(p *net.Peer) {
	n.peersMu.Lock()
	defer n.peersMu.Unlock()
	n.peers = append(n.peers, p)
}

// RemovePeer drops a disconnected peer from the gossip registry.
func (n *Node) RemovePeer(p *net.Peer) {
	n.peersMu.Lock()
	defer n.peersMu.Unlock()
	for i, existing := range n.peers {
		if existing == p {
			n.peers = append(n.peers[:i], n.peers[i+1:]...)
			return
		}
	}
}

// New constructs every subsystem against genesis but does not start any
// background loop (spec §5 "construction is side-effect free"; mirrors
// newKaspad separating construction from kaspad.start).
func New(cfg config.Config, stateAPI state.API, genesis *types.DagBlock) (*Node, error) {
	db, err := database.Open(cfg.DataDir)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	if err := VerifyGenesis(db, genesis.Hash()); err != nil {
		return nil, err
	}

	var key *crypto.PrivateKey
	if len(cfg.ValidatorKey) > 0 {
		key, err = crypto.PrivateKeyFromBytes(cfg.ValidatorKey)
		if err != nil {
			return nil, errors.Wrap(err, "failed to load validator key")
		}
	}

	slash := slashing.New(stateAPI)
	votes := vote.New(stateAPI, crypto.NewECDSAVRFVerifier(), cfg.Pbft.CommitteeSize, slash, retainPeriods(cfg))
	pillarMgr := pillar.New(cfg.Pillar, stateAPI, nil)

	dagCfg := cfg.Dag
	if cfg.IsLightNode {
		dagCfg.LightNodeHistory = cfg.HistorySize
	}

	n := &Node{cfg: cfg, db: db, state: stateAPI, votes: votes, pillarMgr: pillarMgr, slash: slash}

	pool := txpool.New(cfg.ChainID, stateAPI, nil)
	dagMgr := dag.New(dagCfg, stateAPI, pool, genesis)
	pool.SetDagLookup(dagMgr)
	n.dagMgr = dagMgr
	n.pool = pool

	if key != nil {
		driver, err := pbft.New(cfg.Pbft, db, dagMgr, votes, stateAPI, key, pillarMgr)
		if err != nil {
			return nil, errors.Wrap(err, "failed to construct pbft driver")
		}
		n.driver = driver
		n.prop = proposer.New(cfg.Proposer, key, dagMgr, pool, stateAPI)
	}

	n.threadpool = net.NewThreadpool(cfg.ThreadpoolWorkers, n.handlePacket)
	return n, nil
}

func retainPeriods(cfg config.Config) uint64 {
	if cfg.Pbft.VoteRetentionPeriods > 0 {
		return cfg.Pbft.VoteRetentionPeriods
	}
	return defaultRetainPeriods
}

// Start launches the background loops (spec §5): the PBFT state machine and
// the VDF proposer poll loop. The packet threadpool needs no start; it runs a
// flow goroutine from the first Submit for each (peer, type).
// Safe to call at most once; subsequent calls are no-ops, matching
// kaspad.start's atomic guard.
func (n *Node) Start() {
	if !atomic.CompareAndSwapInt32(&n.started, 0, 1) {
		return
	}
	log.Infof("starting node")

	if n.driver != nil {
		n.driver.Run()
	}
	if n.prop != nil {
		n.prop.Run()
	}
}

// Stop halts every background loop in the reverse of Start's order and
// closes the database, matching kaspad.stop's atomic guard.
func (n *Node) Stop() error {
	if !atomic.CompareAndSwapInt32(&n.shutdown, 0, 1) {
		return nil
	}
	log.Warnf("stopping node")

	if n.prop != nil {
		n.prop.Stop()
	}
	if n.driver != nil {
		n.driver.Stop()
	}
	n.threadpool.Stop()

	if err := n.db.Close(); err != nil {
		return errors.Wrap(err, "failed to close database")
	}
	return nil
}

// Submit hands an inbound wire packet to the threadpool for priority-scheduled
// dispatch (spec §4.7). The transport layer that decoded it off the wire is
// responsible for calling this.
func (n *Node) Submit(p *net.Packet) error {
	return n.threadpool.Submit(p)
}

// DAG, PBFT, Votes, Pillar, and State implement dsync.Context, letting the
// sync package's handlers operate directly on this node's live components.
func (n *Node) DAG() *dag.Manager        { return n.dagMgr }
func (n *Node) PBFT() *pbft.Driver       { return n.driver }
func (n *Node) Votes() *vote.Manager     { return n.votes }
func (n *Node) Pillar() *pillar.Manager  { return n.pillarMgr }
func (n *Node) State() state.API         { return n.state }

// handlePacket is the threadpool's single dispatch entry point, routing
// each wire packet type to the gossip acceptance or sync handler that owns
// it (spec §4.7 "each packet type has a dedicated handler").
func (n *Node) handlePacket(p *net.Packet) error {
	switch body := p.Body.(type) {
	case *net.DagBlockPacket:
		return n.onDagBlock(p.Peer, body)
	case *net.TransactionPacket:
		return n.onTransactions(body)
	case *net.VotePacket:
		return n.onVote(p.Peer, body)
	case *net.PillarVotePacket:
		return n.onPillarVote(body)
	case *net.GetDagSyncPacket:
		reply := dsync.HandleGetDagSync(n, body)
		return n.reply(p.Peer, net.PacketDagSync, reply)
	case *net.GetPbftSyncPacket:
		packets, err := dsync.HandleGetPbftSync(n, n.cfg.Sync, body)
		if err != nil {
			return err
		}
		for _, reply := range packets {
			if err := n.reply(p.Peer, net.PacketPbftSync, reply); err != nil {
				return err
			}
		}
		return nil
	case *net.GetNextVotesSyncPacket:
		if bundle, ok := dsync.HandleGetNextVotesSync(n, body); ok {
			return n.reply(p.Peer, net.PacketVotesBundle, bundle)
		}
		return nil
	case *net.GetPillarVotesBundlePacket:
		reply := dsync.HandleGetPillarVotesBundle(n, n.cfg.Sync, body)
		return n.reply(p.Peer, net.PacketPillarVotesBundle, reply)
	default:
		return errs.New(errs.KindPacketMalformed, "unrecognized packet body")
	}
}

func (n *Node) reply(peer *net.Peer, t net.PacketType, body interface{}) error {
	if peer == nil {
		return nil
	}
	return peer.Route.Enqueue(&net.Packet{Type: t, Peer: peer, Body: body})
}

func (n *Node) onDagBlock(peer *net.Peer, body *net.DagBlockPacket) error {
	if peer != nil {
		peer.MarkKnowsDagBlock(body.Block.Hash())
	}
	n.pool.SaveTransactionsFromDagBlock(body.Transactions)

	status, err := n.dagMgr.AddDagBlock(body.Block, body.Transactions, false)
	if err != nil {
		return errors.Wrap(err, "failed to admit gossiped dag block")
	}
	if packetErr := dag.PacketErrorForVerify(status); packetErr != nil {
		return packetErr
	}
	net.GossipNewDagBlock(n, body.Block, body.Transactions, false)
	return nil
}

func (n *Node) onTransactions(body *net.TransactionPacket) error {
	var firstErr error
	for _, trx := range body.Transactions {
		if _, err := n.pool.InsertTransaction(trx); err != nil && firstErr == nil {
			firstErr = err
		} else if err == nil {
			net.GossipNewTransaction(n, trx, false)
		}
	}
	return firstErr
}

func (n *Node) onVote(peer *net.Peer, body *net.VotePacket) error {
	if body.Vote == nil {
		return errs.New(errs.KindPacketMalformed, "vote packet missing vote")
	}
	if _, err := body.Vote.Voter(); err != nil {
		return errs.Wrap(errs.KindPacketMalformed, err, "failed to recover vote signer")
	}
	// AddVerifiedVote itself checks stake, vrf sortition, and weight (spec
	// §4.5 "Verification") before counting the vote toward any quorum.
	if err := n.votes.AddVerifiedVote(body.Vote); err != nil {
		return errs.Wrap(errs.KindPeerMalicious, err, "vote failed verification")
	}
	if body.Block != nil && n.driver != nil {
		n.driver.ReceiveCandidateBlock(body.Block)
	}
	if peer != nil {
		peer.MarkKnowsVote(body.Vote.Hash())
	}
	net.GossipNewVote(n, body.Vote, body.Block, body.PeerChainSize, false)
	return nil
}

func (n *Node) onPillarVote(body *net.PillarVotePacket) error {
	if _, err := n.pillarMgr.AddPillarVote(body.Vote); err != nil {
		return err
	}
	net.GossipNewPillarVote(n, body.Vote, false)
	return nil
}

// VerifyGenesis checks the persisted genesis hash against expected,
// persisting it on a fresh database rather than erroring (spec §6 "Genesis
// verification at startup"), grounded on blockdag.New's genesis-hash check
// in the teacher's dagio.go.
func VerifyGenesis(db database.DbStorage, expected types.Hash) error {
	const key = "genesis"
	existing, err := db.Get(database.CFGenesisHash, []byte(key))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return db.Put(database.CFGenesisHash, []byte(key), expected[:])
		}
		return errors.Wrap(err, "failed to read persisted genesis hash")
	}
	if types.Hash(existing) != expected {
		return errors.New("persisted genesis hash does not match configured genesis; run a rebuild-db cycle")
	}
	return nil
}
