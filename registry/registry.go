// Package registry tracks peers known to the local node and the state of their
// sessions.
package registry

import (
	"bytes"
	"sort"

	"github.com/pkg/errors"

	"github.com/outofforest/libshare/wire"
)

// State is the state of the connection with peer.
type State int

// Connection states.
const (
	Discovered State = iota
	Invited
	Connected
	Disconnected
)

func (s State) String() string {
	switch s {
	case Discovered:
		return "discovered"
	case Invited:
		return "invited"
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

var (
	// ErrUnknownPeer is returned if peer is not registered.
	ErrUnknownPeer = errors.New("unknown peer")

	// ErrInvalidTransition is returned if peer can't move to the requested state.
	ErrInvalidTransition = errors.New("invalid state transition")
)

var transitions = map[State][]State{
	Discovered:   {Invited},
	Invited:      {Invited, Connected, Disconnected},
	Connected:    {Disconnected},
	Disconnected: {Invited},
}

// PeerConnection describes the known peer.
type PeerConnection struct {
	Peer          wire.PeerIdentity
	DiscoveryInfo map[string]string
	State         State
	LibraryName   string
	Lost          bool
}

// Hooks are invoked when peer enters a state.
type Hooks struct {
	OnConnect    func(conn PeerConnection)
	OnDisconnect func(conn PeerConnection, previous State)
}

// Registry stores one PeerConnection per peer ID.
//
// Registry is not safe for concurrent use. All the mutations are expected to be done
// by the goroutine serializing peer events.
type Registry struct {
	hooks Hooks
	peers map[wire.PeerID]*PeerConnection
}

// New creates registry.
func New(hooks Hooks) *Registry {
	return &Registry{
		hooks: hooks,
		peers: map[wire.PeerID]*PeerConnection{},
	}
}

// Upsert registers newly discovered peer or refreshes the existing one. It returns true
// if peer has been added.
func (r *Registry) Upsert(peer wire.PeerIdentity, info map[string]string) (PeerConnection, bool) {
	if conn, exists := r.peers[peer.ID]; exists {
		conn.Peer = peer
		if info != nil {
			conn.DiscoveryInfo = info
		}
		conn.Lost = false
		return *conn, false
	}

	conn := &PeerConnection{
		Peer:          peer,
		DiscoveryInfo: info,
		State:         Discovered,
	}
	r.peers[peer.ID] = conn
	return *conn, true
}

// SetState moves peer to the new state and runs the hooks.
func (r *Registry) SetState(peerID wire.PeerID, state State) error {
	conn, exists := r.peers[peerID]
	if !exists {
		return errors.Wrapf(ErrUnknownPeer, "peer %s", peerID)
	}
	if !allowed(conn.State, state) {
		return errors.Wrapf(ErrInvalidTransition, "peer %s: %s -> %s", peerID, conn.State, state)
	}

	previous := conn.State
	conn.State = state

	switch {
	case state == Connected && r.hooks.OnConnect != nil:
		r.hooks.OnConnect(*conn)
	case state == Disconnected && r.hooks.OnDisconnect != nil:
		r.hooks.OnDisconnect(*conn, previous)
	}
	return nil
}

// SetLibraryName stores the library name announced by peer.
func (r *Registry) SetLibraryName(peerID wire.PeerID, name string) bool {
	conn, exists := r.peers[peerID]
	if !exists {
		return false
	}
	conn.LibraryName = name
	return true
}

// MarkLost records that peer is no longer discoverable.
func (r *Registry) MarkLost(peerID wire.PeerID) (PeerConnection, bool) {
	conn, exists := r.peers[peerID]
	if !exists {
		return PeerConnection{}, false
	}
	conn.Lost = true
	return *conn, true
}

// Remove forgets the peer.
func (r *Registry) Remove(peerID wire.PeerID) bool {
	if _, exists := r.peers[peerID]; !exists {
		return false
	}
	delete(r.peers, peerID)
	return true
}

// Lookup returns the peer.
func (r *Registry) Lookup(peerID wire.PeerID) (PeerConnection, bool) {
	conn, exists := r.peers[peerID]
	if !exists {
		return PeerConnection{}, false
	}
	return *conn, true
}

// Peers returns all the known peers ordered by ID.
func (r *Registry) Peers() []PeerConnection {
	peers := make([]PeerConnection, 0, len(r.peers))
	for _, conn := range r.peers {
		peers = append(peers, *conn)
	}
	sort.Slice(peers, func(i, j int) bool {
		return bytes.Compare(peers[i].Peer.ID[:], peers[j].Peer.ID[:]) < 0
	})
	return peers
}

func allowed(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
