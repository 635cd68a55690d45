// Package memory implements transport connecting peers living in the same process.
package memory

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/outofforest/libshare/transport"
	"github.com/outofforest/libshare/wire"
)

type link [2]wire.PeerID

func newLink(a, b wire.PeerID) link {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	return link{a, b}
}

// Hub connects in-memory transports.
type Hub struct {
	mu         sync.Mutex
	transports map[wire.PeerID]*Transport
	sessions   map[link]struct{}
}

// NewHub creates hub.
func NewHub() *Hub {
	return &Hub{
		transports: map[wire.PeerID]*Transport{},
		sessions:   map[link]struct{}{},
	}
}

// NewTransport attaches new transport to the hub.
func (h *Hub) NewTransport(self wire.PeerIdentity, policy transport.InvitationPolicy) *Transport {
	if policy == nil {
		policy = transport.AcceptAll
	}

	t := &Transport{
		hub:    h,
		self:   self,
		policy: policy,
		seen:   map[wire.PeerID]struct{}{},
		queue:  newQueue(),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.transports[self.ID] = t
	return t
}

// Disconnect breaks the session between peers.
func (h *Hub) Disconnect(a, b wire.PeerID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.disconnect(a, b)
}

// Leave detaches transport from the hub, breaking all its sessions.
func (h *Hub) Leave(peerID wire.PeerID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	t, exists := h.transports[peerID]
	if !exists {
		return
	}

	for l := range h.sessions {
		switch peerID {
		case l[0]:
			h.disconnect(l[0], l[1])
		case l[1]:
			h.disconnect(l[1], l[0])
		}
	}

	t.advertising = ""
	h.refreshDiscovery()
	delete(h.transports, peerID)
}

// SendResource delivers named resource from one peer to another.
func (h *Hub) SendResource(from, to wire.PeerID, name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.sessions[newLink(from, to)]; !exists {
		return errors.WithStack(transport.ErrNotConnected)
	}
	h.transports[to].queue.Push(transport.ResourceReceived{
		Identity: h.transports[from].self,
		Name:     name,
	})
	return nil
}

func (h *Hub) disconnect(a, b wire.PeerID) bool {
	l := newLink(a, b)
	if _, exists := h.sessions[l]; !exists {
		return false
	}
	delete(h.sessions, l)

	ta, tb := h.transports[a], h.transports[b]
	ta.queue.Push(transport.StateChanged{Identity: tb.self, State: transport.NotConnected})
	tb.queue.Push(transport.StateChanged{Identity: ta.self, State: transport.NotConnected})
	return true
}

// refreshDiscovery reports peers found and lost by browsing transports.
func (h *Hub) refreshDiscovery() {
	for _, browser := range h.transports {
		if browser.browsing == "" {
			continue
		}
		for _, advertiser := range h.transports {
			if advertiser == browser {
				continue
			}
			_, seen := browser.seen[advertiser.self.ID]
			visible := advertiser.advertising == browser.browsing
			switch {
			case visible && !seen:
				browser.seen[advertiser.self.ID] = struct{}{}
				browser.queue.Push(transport.PeerFound{
					Identity: advertiser.self,
					Info:     map[string]string{"transport": "memory"},
				})
			case !visible && seen:
				delete(browser.seen, advertiser.self.ID)
				browser.queue.Push(transport.PeerLost{Identity: advertiser.self})
			}
		}
	}
}

var _ transport.Transport = &Transport{}

// Transport is the in-memory transport.
type Transport struct {
	hub    *Hub
	self   wire.PeerIdentity
	policy transport.InvitationPolicy
	queue  *queue

	// Guarded by hub.mu.
	advertising string
	browsing    string
	seen        map[wire.PeerID]struct{}
}

// Run delivers events until ctx is canceled.
func (t *Transport) Run(ctx context.Context, events chan<- transport.Event) error {
	return t.queue.Run(ctx, events)
}

// Self returns identity of the local peer.
func (t *Transport) Self() wire.PeerIdentity {
	return t.self
}

// Advertise starts announcing the local peer.
func (t *Transport) Advertise(serviceID string) error {
	t.hub.mu.Lock()
	defer t.hub.mu.Unlock()

	t.advertising = serviceID
	t.hub.refreshDiscovery()
	return nil
}

// StopAdvertising stops announcing the local peer.
func (t *Transport) StopAdvertising() {
	t.hub.mu.Lock()
	defer t.hub.mu.Unlock()

	t.advertising = ""
	t.hub.refreshDiscovery()
}

// Browse starts discovering peers.
func (t *Transport) Browse(serviceID string) error {
	t.hub.mu.Lock()
	defer t.hub.mu.Unlock()

	t.browsing = serviceID
	t.hub.refreshDiscovery()
	return nil
}

// StopBrowsing stops discovering peers.
func (t *Transport) StopBrowsing() {
	t.hub.mu.Lock()
	defer t.hub.mu.Unlock()

	t.browsing = ""
	t.seen = map[wire.PeerID]struct{}{}
}

// Invite establishes session with the peer immediately if it is reachable.
func (t *Transport) Invite(peer wire.PeerIdentity, _ time.Duration) {
	t.hub.mu.Lock()
	defer t.hub.mu.Unlock()

	l := newLink(t.self.ID, peer.ID)
	if _, exists := t.hub.sessions[l]; exists {
		return
	}

	t.queue.Push(transport.StateChanged{Identity: peer, State: transport.Connecting})

	remote, exists := t.hub.transports[peer.ID]
	if !exists || remote == t || remote.advertising == "" || !remote.policy(t.self) {
		t.queue.Push(transport.StateChanged{Identity: peer, State: transport.NotConnected})
		return
	}

	t.hub.sessions[l] = struct{}{}
	remote.queue.Push(transport.StateChanged{Identity: t.self, State: transport.Connecting})
	t.queue.Push(transport.StateChanged{Identity: remote.self, State: transport.Connected})
	remote.queue.Push(transport.StateChanged{Identity: t.self, State: transport.Connected})
}

// Send delivers data to the connected peer.
func (t *Transport) Send(peer wire.PeerID, data []byte, _ bool) error {
	t.hub.mu.Lock()
	defer t.hub.mu.Unlock()

	if _, exists := t.hub.sessions[newLink(t.self.ID, peer)]; !exists {
		return errors.Wrapf(transport.ErrNotConnected, "peer %s", peer)
	}
	t.hub.transports[peer].queue.Push(transport.DataReceived{
		Identity: t.self,
		Data:     bytes.Clone(data),
	})
	return nil
}

// queue is an unbounded event queue, so transports never block each other.
type queue struct {
	mu     sync.Mutex
	events []transport.Event
	signal chan struct{}
}

func newQueue() *queue {
	return &queue{
		signal: make(chan struct{}, 1),
	}
}

func (q *queue) Push(e transport.Event) {
	q.mu.Lock()
	q.events = append(q.events, e)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *queue) Run(ctx context.Context, events chan<- transport.Event) error {
	for {
		q.mu.Lock()
		batch := q.events
		q.events = nil
		q.mu.Unlock()

		for _, e := range batch {
			if err := transport.Emit(ctx, events, e); err != nil {
				return err
			}
		}

		select {
		case <-ctx.Done():
			return errors.WithStack(ctx.Err())
		case <-q.signal:
		}
	}
}
