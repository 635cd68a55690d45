package lan

import (
	"bytes"
	"sync"

	"github.com/pkg/errors"

	"github.com/outofforest/libshare/transport"
	"github.com/outofforest/libshare/wire"
)

type session struct {
	Peer      wire.PeerIdentity
	Initiator wire.PeerID
	SendCh    chan []byte

	closed bool
}

func (s *session) close() {
	if !s.closed {
		s.closed = true
		close(s.SendCh)
	}
}

// preferred tells if s wins over other session with the same peer.
func (s *session) preferred(other *session) bool {
	return bytes.Compare(s.Initiator[:], other.Initiator[:]) < 0
}

type sessions struct {
	mu       sync.Mutex
	sessions map[wire.PeerID]*session
}

func newSessions() *sessions {
	return &sessions{
		sessions: map[wire.PeerID]*session{},
	}
}

// Add registers the session. It returns false if the existing session with the same peer
// is preferred. first is true if there was no session with the peer before.
func (s *sessions) Add(sess *session) (added, first bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.sessions[sess.Peer.ID]
	if !exists {
		s.sessions[sess.Peer.ID] = sess
		return true, true
	}
	if existing.Initiator == sess.Initiator || !sess.preferred(existing) {
		return false, false
	}

	existing.close()
	s.sessions[sess.Peer.ID] = sess
	return true, false
}

// Remove deletes the session if it is the current one for its peer.
func (s *sessions) Remove(sess *session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess.close()
	if current, exists := s.sessions[sess.Peer.ID]; exists && current == sess {
		delete(s.sessions, sess.Peer.ID)
		return true
	}
	return false
}

func (s *sessions) Has(peerID wire.PeerID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, exists := s.sessions[peerID]
	return exists
}

func (s *sessions) Send(peerID wire.PeerID, data []byte, reliable bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, exists := s.sessions[peerID]
	if !exists {
		return errors.Wrapf(transport.ErrNotConnected, "peer %s", peerID)
	}

	select {
	case sess.SendCh <- data:
		return nil
	default:
		if !reliable {
			return nil
		}
		return errors.Wrapf(transport.ErrSendQueueFull, "peer %s", peerID)
	}
}
