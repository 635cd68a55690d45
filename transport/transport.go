// Package transport defines the capabilities the connectivity manager requires from the
// peer-to-peer networking layer.
package transport

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/outofforest/libshare/wire"
)

var (
	// ErrNotConnected is returned when sending to the peer without session.
	ErrNotConnected = errors.New("peer is not connected")

	// ErrSendQueueFull is returned when reliable message can't be queued for sending.
	ErrSendQueueFull = errors.New("send queue is full")
)

// SessionState is the state of the session with peer as reported by the transport.
type SessionState int

// Session states.
const (
	NotConnected SessionState = iota
	Connecting
	Connected
)

func (s SessionState) String() string {
	switch s {
	case NotConnected:
		return "not connected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// InvitationPolicy decides if invitation received from remote peer is accepted.
type InvitationPolicy func(peer wire.PeerIdentity) bool

// AcceptAll accepts every invitation.
func AcceptAll(wire.PeerIdentity) bool {
	return true
}

// Transport discovers peers and maintains sessions with them.
//
// Events are delivered to the channel passed to Run. They are produced concurrently by
// independent sources, so the receiver must serialize their effects.
type Transport interface {
	// Run runs the transport until ctx is canceled.
	Run(ctx context.Context, events chan<- Event) error

	// Self returns identity of the local peer.
	Self() wire.PeerIdentity

	// Advertise starts announcing the local peer.
	Advertise(serviceID string) error

	// StopAdvertising stops announcing the local peer.
	StopAdvertising()

	// Browse starts discovering peers, reported by PeerFound and PeerLost events.
	Browse(serviceID string) error

	// StopBrowsing stops discovering peers.
	StopBrowsing()

	// Invite requests session with discovered peer. The outcome is reported by
	// StateChanged events only.
	Invite(peer wire.PeerIdentity, timeout time.Duration)

	// Send queues data for sending to the connected peer. It does not wait for delivery
	// and never retries.
	Send(peer wire.PeerID, data []byte, reliable bool) error
}

// Event is produced by the transport.
type Event interface {
	Peer() wire.PeerIdentity
}

// PeerFound is reported when peer is discovered.
type PeerFound struct {
	Identity wire.PeerIdentity
	Info     map[string]string
}

// Peer returns the peer.
func (e PeerFound) Peer() wire.PeerIdentity { return e.Identity }

// PeerLost is reported when peer is no longer discoverable.
type PeerLost struct {
	Identity wire.PeerIdentity
}

// Peer returns the peer.
func (e PeerLost) Peer() wire.PeerIdentity { return e.Identity }

// StateChanged is reported when session state changes.
type StateChanged struct {
	Identity wire.PeerIdentity
	State    SessionState
}

// Peer returns the peer.
func (e StateChanged) Peer() wire.PeerIdentity { return e.Identity }

// DataReceived is reported when message arrives from peer.
type DataReceived struct {
	Identity wire.PeerIdentity
	Data     []byte
}

// Peer returns the peer.
func (e DataReceived) Peer() wire.PeerIdentity { return e.Identity }

// ResourceReceived is reported when peer transfers named resource.
type ResourceReceived struct {
	Identity wire.PeerIdentity
	Name     string
}

// Peer returns the peer.
func (e ResourceReceived) Peer() wire.PeerIdentity { return e.Identity }

// Emit delivers the event unless ctx is canceled.
func Emit(ctx context.Context, events chan<- Event, e Event) error {
	select {
	case <-ctx.Done():
		return errors.WithStack(ctx.Err())
	case events <- e:
		return nil
	}
}
