// Package correlator keeps track of outbound track download requests waiting for
// their payloads.
package correlator

import (
	"time"

	"github.com/outofforest/libshare/wire"
)

type pending[H any] struct {
	Peer     wire.PeerID
	Handle   H
	Deadline time.Time
}

// Correlator maps request IDs to the handles awaiting the result. There is at most one
// pending handle per ID.
//
// Correlator is not safe for concurrent use. It is owned by the goroutine processing
// peer events.
type Correlator[H any] struct {
	pending map[int64]pending[H]
}

// New creates correlator.
func New[H any]() *Correlator[H] {
	return &Correlator[H]{
		pending: map[int64]pending[H]{},
	}
}

// Register stores the handle awaiting payload for the request sent to the peer.
// Previous handle registered for the same ID is replaced. Zero deadline means the
// request never expires.
func (c *Correlator[H]) Register(id int64, peer wire.PeerID, handle H, deadline time.Time) bool {
	_, replaced := c.pending[id]
	c.pending[id] = pending[H]{
		Peer:     peer,
		Handle:   handle,
		Deadline: deadline,
	}
	return replaced
}

// Resolve removes and returns the handle registered for the ID.
func (c *Correlator[H]) Resolve(id int64) (H, bool) {
	p, exists := c.pending[id]
	if !exists {
		var h H
		return h, false
	}
	delete(c.pending, id)
	return p.Handle, true
}

// DropPeer removes all the requests sent to the peer and returns their handles.
func (c *Correlator[H]) DropPeer(peer wire.PeerID) []H {
	var dropped []H
	for id, p := range c.pending {
		if p.Peer == peer {
			delete(c.pending, id)
			dropped = append(dropped, p.Handle)
		}
	}
	return dropped
}

// Expire removes all the requests with deadline before now and returns their handles.
func (c *Correlator[H]) Expire(now time.Time) []H {
	var expired []H
	for id, p := range c.pending {
		if !p.Deadline.IsZero() && !now.Before(p.Deadline) {
			delete(c.pending, id)
			expired = append(expired, p.Handle)
		}
	}
	return expired
}

// Len returns the number of pending requests.
func (c *Correlator[H]) Len() int {
	return len(c.pending)
}
