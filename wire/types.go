package wire

import (
	"encoding/hex"
	"fmt"
)

// PeerID defines peer ID.
type PeerID [32]byte

// String returns the short hex form of the ID.
func (id PeerID) String() string {
	return hex.EncodeToString(id[:4])
}

// PeerIdentity identifies a peer on the network.
type PeerIdentity struct {
	ID   PeerID
	Name string
}

func (p PeerIdentity) String() string {
	return fmt.Sprintf("%s/%s", p.Name, p.ID)
}

// Hello is the message exchanged between peers when session is established.
type Hello struct {
	PeerID PeerID
	Name   string
}

// Announcement is broadcast by advertising peers so browsing peers may discover them.
type Announcement struct {
	ServiceID string
	PeerID    PeerID
	Name      string
	Port      uint64
}
