package lan

import (
	"time"

	"github.com/outofforest/libshare/transport"
)

// DefaultGroup is the multicast group used for discovery beacons.
const DefaultGroup = "239.255.74.77:7447"

// Config is the configuration of LAN transport.
type Config struct {
	// MaxMessageSize limits the size of single frame. Every session allocates buffers of
	// several times this size upfront. Track envelopes carry base64 audio, so the largest
	// track which may be transferred is about three quarters of this limit.
	MaxMessageSize uint64

	// SendQueueSize is the number of frames buffered per session.
	SendQueueSize int

	// HandshakeTimeout bounds the hello exchange of inbound sessions.
	HandshakeTimeout time.Duration

	BeaconInterval time.Duration
	PeerTimeout    time.Duration

	// AcceptInvitation decides on sessions opened by remote peers.
	AcceptInvitation transport.InvitationPolicy

	// Discovery carries beacons. Multicast on DefaultGroup is used if nil.
	Discovery Discovery
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		MaxMessageSize:   16 * 1024 * 1024,
		SendQueueSize:    16,
		HandshakeTimeout: 10 * time.Second,
		BeaconInterval:   2 * time.Second,
		PeerTimeout:      7 * time.Second,
		AcceptInvitation: transport.AcceptAll,
	}
}
