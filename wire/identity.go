package wire

import (
	"crypto/rand"

	"github.com/pkg/errors"
)

// NewPeerID generates random peer ID.
func NewPeerID() (PeerID, error) {
	var id PeerID
	_, err := rand.Read(id[:])
	if err != nil {
		return PeerID{}, errors.WithStack(err)
	}
	return id, nil
}

// NewPeerIdentity generates identity with random ID and the given display name.
func NewPeerIdentity(name string) (PeerIdentity, error) {
	id, err := NewPeerID()
	if err != nil {
		return PeerIdentity{}, err
	}
	return PeerIdentity{ID: id, Name: name}, nil
}

// Identity returns the identity announced by the hello message.
func (h *Hello) Identity() PeerIdentity {
	return PeerIdentity{ID: h.PeerID, Name: h.Name}
}

// Identity returns the identity announced by the announcement.
func (a *Announcement) Identity() PeerIdentity {
	return PeerIdentity{ID: a.PeerID, Name: a.Name}
}
