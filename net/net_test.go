package net

import (
	"sync"
	"testing"
	"time"

	"github.com/dagchain/dagchain/crypto"
	"github.com/dagchain/dagchain/types"
	"github.com/pkg/errors"
)

func TestRouteEnqueueDequeueOrder(t *testing.T) {
	r := NewRoute()
	for i := 0; i < 3; i++ {
		if err := r.Enqueue(&Packet{Type: PacketTransaction, Body: i}); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	for i := 0; i < 3; i++ {
		p, err := r.Dequeue()
		if err != nil {
			t.Fatalf("dequeue %d: %v", i, err)
		}
		if p.Body.(int) != i {
			t.Fatalf("expected FIFO order, got %v at position %d", p.Body, i)
		}
	}
}

func TestRouteCloseUnblocksDequeue(t *testing.T) {
	r := NewRoute()
	done := make(chan struct{})
	go func() {
		_, err := r.Dequeue()
		if !errors.Is(err, ErrRouteClosed) {
			t.Errorf("expected ErrRouteClosed, got %v", err)
		}
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Dequeue did not unblock after Close")
	}
	if err := r.Enqueue(&Packet{}); err == nil {
		t.Fatalf("expected Enqueue on a closed route to fail")
	}
}

func TestRouteDequeueWithTimeout(t *testing.T) {
	r := NewRoute()
	_, err := r.DequeueWithTimeout(10 * time.Millisecond)
	if err == nil {
		t.Fatalf("expected a timeout error on an empty route")
	}
}

func TestPeerKnownHashSets(t *testing.T) {
	p := NewPeer("peer-a", NewRoute())
	h := types.Hash{0x01}
	if p.KnowsDagBlock(h) {
		t.Fatalf("expected a fresh peer to not know any block")
	}
	p.MarkKnowsDagBlock(h)
	if !p.KnowsDagBlock(h) {
		t.Fatalf("expected the peer to know the block after marking it")
	}
}

func TestPeerMaliciousCooldown(t *testing.T) {
	p := NewPeer("peer-b", NewRoute())
	var banned bool
	for i := 0; i < kMaxSuspiciousPacketPerMinute; i++ {
		banned = p.RecordSuspiciousPacket()
	}
	if !banned {
		t.Fatalf("expected the peer to be banned after crossing the suspicious-packet threshold")
	}
	if !p.IsBanned() {
		t.Fatalf("expected IsBanned to report true immediately after a ban")
	}
}

func TestPeerDagSyncCooldown(t *testing.T) {
	p := NewPeer("peer-c", NewRoute())
	if !p.BeginDagSync() {
		t.Fatalf("expected a fresh peer to allow a dag sync")
	}
	p.CompleteDagSync()
	if p.BeginDagSync() {
		t.Fatalf("expected dag sync to be refused once already synced")
	}
}

func TestLocalStatusValidation(t *testing.T) {
	local := LocalStatus{NetworkID: "dagchain-main", ChainID: 7, GenesisHash: types.Hash{0x09}}
	good := local.BuildInitialStatus()
	if err := local.ValidateInitialStatus(good); err != nil {
		t.Fatalf("expected a matching status to validate, got %v", err)
	}

	bad := local.BuildInitialStatus()
	bad.GenesisHash = types.Hash{0xff}
	if err := local.ValidateInitialStatus(bad); err == nil {
		t.Fatalf("expected a genesis-hash mismatch to be rejected")
	}
}

type fakeRegistry struct{ peers []*Peer }

func (f *fakeRegistry) Peers() []*Peer { return f.peers }

func drainOne(t *testing.T, p *Peer) *Packet {
	t.Helper()
	pkt, err := p.Route.DequeueWithTimeout(time.Second)
	if err != nil {
		t.Fatalf("expected a gossiped packet, got %v", err)
	}
	return pkt
}

func TestGossipSkipsSyncingAndKnownPeers(t *testing.T) {
	normal := NewPeer("normal", NewRouteWithCapacity(4))
	syncing := NewPeer("syncing", NewRouteWithCapacity(4))
	syncing.SetSyncing(true)
	knowsAlready := NewPeer("knows", NewRouteWithCapacity(4))

	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	block := &types.DagBlock{Level: 1}
	if err := block.Sign(key); err != nil {
		t.Fatalf("sign: %v", err)
	}
	knowsAlready.MarkKnowsDagBlock(block.Hash())

	registry := &fakeRegistry{peers: []*Peer{normal, syncing, knowsAlready}}
	GossipNewDagBlock(registry, block, nil, false)

	pkt := drainOne(t, normal)
	if pkt.Type != PacketDagBlock {
		t.Fatalf("expected a DagBlock packet, got %v", pkt.Type)
	}
	if !normal.KnowsDagBlock(block.Hash()) {
		t.Fatalf("expected the normal peer to be marked as knowing the block after gossip")
	}
	if syncing.Route.Len() != 0 {
		t.Fatalf("expected the syncing peer to be skipped")
	}
	if knowsAlready.Route.Len() != 0 {
		t.Fatalf("expected the already-informed peer to be skipped")
	}
}

func TestThreadpoolPreservesPerPeerTypeOrder(t *testing.T) {
	var mu sync.Mutex
	var seen []int
	tp := NewThreadpool(4, func(p *Packet) error {
		mu.Lock()
		seen = append(seen, p.Body.(int))
		mu.Unlock()
		return nil
	})

	peer := NewPeer("orderer", NewRoute())
	for i := 0; i < 20; i++ {
		if err := tp.Submit(&Packet{Type: PacketTransaction, Peer: peer, Body: i}); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	tp.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 20 {
		t.Fatalf("expected all 20 packets to be processed, got %d", len(seen))
	}
	for i, v := range seen {
		if v != i {
			t.Fatalf("expected same-peer-same-type packets in receive order, got %v at position %d", v, i)
		}
	}
}

func TestThreadpoolExclusiveTypesSerialize(t *testing.T) {
	var mu sync.Mutex
	var running int
	var maxConcurrent int
	tp := NewThreadpool(8, func(p *Packet) error {
		mu.Lock()
		running++
		if running > maxConcurrent {
			maxConcurrent = running
		}
		mu.Unlock()

		time.Sleep(5 * time.Millisecond)

		mu.Lock()
		running--
		mu.Unlock()
		return nil
	})

	peers := make([]*Peer, 6)
	for i := range peers {
		peers[i] = NewPeer("peer", NewRoute())
	}
	for _, peer := range peers {
		if err := tp.Submit(&Packet{Type: PacketGetDagSync, Peer: peer, Body: 0}); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	tp.Stop()

	mu.Lock()
	defer mu.Unlock()
	if maxConcurrent > 1 {
		t.Fatalf("expected exclusive packet types to never run concurrently, saw %d at once", maxConcurrent)
	}
}
