package net

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

const defaultRouteCapacity = 100

// ErrRouteClosed indicates a route was closed while reading or writing.
var ErrRouteClosed = errors.New("route is closed")

// ErrRouteTimeout signifies DequeueWithTimeout's deadline expired first.
var ErrRouteTimeout = errors.New("timeout expired waiting on route")

// Route is a bounded, single-writer-per-peer packet queue, grounded on
// daglabs-btcd's netadapter/router.Route: a buffered channel plus a
// close-once guard, with an optional capacity-reached callback the
// threadpool uses to apply spec §7's ResourceExhaustion policy.
type Route struct {
	ch chan *Packet

	closeLock sync.Mutex
	closed    bool

	onCapacityReached func()
}

// NewRoute creates a Route with the default capacity.
func NewRoute() *Route { return NewRouteWithCapacity(defaultRouteCapacity) }

// NewRouteWithCapacity creates a Route buffering up to capacity packets.
func NewRouteWithCapacity(capacity int) *Route {
	return &Route{ch: make(chan *Packet, capacity)}
}

// SetOnCapacityReached installs a callback invoked when Enqueue finds the
// route already at capacity, before blocking.
func (r *Route) SetOnCapacityReached(f func()) { r.onCapacityReached = f }

// Enqueue appends a packet to the route. It blocks if the route is full,
// after first notifying any installed capacity-reached handler.
func (r *Route) Enqueue(p *Packet) error {
	r.closeLock.Lock()
	defer r.closeLock.Unlock()
	if r.closed {
		return errors.WithStack(ErrRouteClosed)
	}
	if len(r.ch) == cap(r.ch) && r.onCapacityReached != nil {
		r.onCapacityReached()
	}
	r.ch <- p
	return nil
}

// Dequeue blocks until a packet is available or the route is closed.
func (r *Route) Dequeue() (*Packet, error) {
	p, open := <-r.ch
	if !open {
		return nil, errors.WithStack(ErrRouteClosed)
	}
	return p, nil
}

// DequeueWithTimeout is Dequeue bounded by timeout.
func (r *Route) DequeueWithTimeout(timeout time.Duration) (*Packet, error) {
	select {
	case p, open := <-r.ch:
		if !open {
			return nil, errors.WithStack(ErrRouteClosed)
		}
		return p, nil
	case <-time.After(timeout):
		return nil, errors.Wrapf(ErrRouteTimeout, "after %s", timeout)
	}
}

// Close marks the route closed and unblocks any pending Dequeue.
func (r *Route) Close() error {
	r.closeLock.Lock()
	defer r.closeLock.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	close(r.ch)
	return nil
}

// Len reports the number of packets currently buffered.
func (r *Route) Len() int { return len(r.ch) }

// Cap reports the route's buffer capacity.
func (r *Route) Cap() int { return cap(r.ch) }
