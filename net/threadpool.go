package net

import (
	"math"
	"sync"
	"time"

	"github.com/dagchain/dagchain/errs"
	"github.com/pkg/errors"
)

// idleFlowTimeout retires a per-(peer,type) flow goroutine once it has sat
// idle this long, so a peer that stops sending a given packet type doesn't
// leak a permanent goroutine.
const idleFlowTimeout = 2 * time.Minute

// maxNetworkQueueToDropSyncing is spec §7's
// MAX_NETWORK_QUEUE_TO_DROP_SYNCING: once a sync-request flow's backlog
// passes this, new sync requests from that peer are rejected with
// KindResourceExhaustion instead of being queued.
const maxNetworkQueueToDropSyncing = 256

func isSyncRequestType(t PacketType) bool {
	switch t {
	case PacketGetDagSync, PacketGetPbftSync, PacketGetNextVotesSync, PacketGetPillarVotesBundle:
		return true
	default:
		return false
	}
}

type flowKey struct {
	peer *Peer
	typ  PacketType
}

// Threadpool dispatches packets to a handler under spec §4.7's priority and
// exclusivity rules. It partitions W workers into three concurrency caps
// (40% High / 50% Mid / 30% Low, each at least one) enforced as semaphores,
// and preserves same-peer-same-type ordering by running one dedicated flow
// goroutine per (peer, packet type) that drains its own Route in arrival
// order — grounded on netadapter/router.Route (the bounded per-stream
// queue) plus app/protocol/flowcontext's one-goroutine-per-flow idiom.
type Threadpool struct {
	handler func(*Packet) error

	highSem, midSem, lowSem chan struct{}

	mu    sync.Mutex
	flows map[flowKey]*Route

	exclusiveMu   sync.Mutex
	exclusiveCond *sync.Cond
	exclusiveBusy map[PacketType]bool

	stopCh  chan struct{}
	stopped bool
	wg      sync.WaitGroup
}

// NewThreadpool constructs a Threadpool with workers total concurrency
// slots, partitioned per spec §4.7. handler is invoked once per dequeued
// packet; its error is discarded and does not stop the pool.
func NewThreadpool(workers int, handler func(*Packet) error) *Threadpool {
	tp := &Threadpool{
		handler:       handler,
		highSem:       make(chan struct{}, partitionCap(workers, 0.4)),
		midSem:        make(chan struct{}, partitionCap(workers, 0.5)),
		lowSem:        make(chan struct{}, partitionCap(workers, 0.3)),
		flows:         make(map[flowKey]*Route),
		exclusiveBusy: make(map[PacketType]bool),
		stopCh:        make(chan struct{}),
	}
	tp.exclusiveCond = sync.NewCond(&tp.exclusiveMu)
	return tp
}

func partitionCap(workers int, frac float64) int {
	n := int(math.Ceil(float64(workers) * frac))
	if n < 1 {
		n = 1
	}
	return n
}

// Submit enqueues a packet for processing, creating its (peer, type) flow on
// first use. It returns a KindResourceExhaustion error, without enqueueing,
// when the packet is a sync request and its flow's backlog already exceeds
// maxNetworkQueueToDropSyncing (spec §7).
func (tp *Threadpool) Submit(p *Packet) error {
	select {
	case <-tp.stopCh:
		return errors.WithStack(ErrRouteClosed)
	default:
	}

	key := flowKey{peer: p.Peer, typ: p.Type}
	tp.mu.Lock()
	route, ok := tp.flows[key]
	if !ok {
		route = NewRouteWithCapacity(defaultRouteCapacity)
		tp.flows[key] = route
		tp.wg.Add(1)
		go tp.runFlow(key, route)
	}
	tp.mu.Unlock()

	if isSyncRequestType(p.Type) && route.Len() > maxNetworkQueueToDropSyncing {
		return errs.New(errs.KindResourceExhaustion, "sync request queue over capacity for peer "+p.Peer.NodeID)
	}
	return route.Enqueue(p)
}

func (tp *Threadpool) runFlow(key flowKey, route *Route) {
	defer tp.wg.Done()
	defer func() {
		tp.mu.Lock()
		if tp.flows[key] == route {
			delete(tp.flows, key)
		}
		tp.mu.Unlock()
	}()

	for {
		p, err := route.DequeueWithTimeout(idleFlowTimeout)
		if err != nil {
			if errors.Is(err, ErrRouteClosed) {
				return
			}
			// Idle timeout: retire this flow; a future packet for the same
			// (peer, type) creates a fresh one.
			route.Close()
			return
		}
		tp.process(p)
	}
}

func (tp *Threadpool) process(p *Packet) {
	sem := tp.semFor(priorityOf(p.Type))
	sem <- struct{}{}
	defer func() { <-sem }()

	if isExclusive(p.Type) {
		tp.acquireExclusive(p.Type)
		defer tp.releaseExclusive(p.Type)
	}

	_ = tp.handler(p)
}

func (tp *Threadpool) semFor(pr Priority) chan struct{} {
	switch pr {
	case PriorityHigh:
		return tp.highSem
	case PriorityMid:
		return tp.midSem
	default:
		return tp.lowSem
	}
}

// acquireExclusive blocks until no exclusive-class packet is currently
// being processed, then marks t as running (spec §4.7 "Certain types are
// blocked globally while any worker is processing one of them").
func (tp *Threadpool) acquireExclusive(t PacketType) {
	tp.exclusiveMu.Lock()
	defer tp.exclusiveMu.Unlock()
	for len(tp.exclusiveBusy) > 0 {
		tp.exclusiveCond.Wait()
	}
	tp.exclusiveBusy[t] = true
}

// releaseExclusive clears the dependency mask and wakes any waiters (spec
// §4.7 "On packet completion, the dependency mask is cleared and waiters
// are notified").
func (tp *Threadpool) releaseExclusive(t PacketType) {
	tp.exclusiveMu.Lock()
	defer tp.exclusiveMu.Unlock()
	delete(tp.exclusiveBusy, t)
	tp.exclusiveCond.Broadcast()
}

// Stop closes every flow's route so its goroutine drains whatever packet it
// is currently processing and exits, then waits for all flows to finish
// (spec §5 "workers drain the currently-executing packet, no new packets
// are dispatched").
func (tp *Threadpool) Stop() {
	tp.mu.Lock()
	if tp.stopped {
		tp.mu.Unlock()
		return
	}
	tp.stopped = true
	close(tp.stopCh)
	for _, route := range tp.flows {
		route.Close()
	}
	tp.mu.Unlock()
	tp.wg.Wait()
}
