package lan

import (
	"bytes"
	"context"
	"encoding/binary"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/outofforest/libshare/wire"
	"github.com/outofforest/parallel"
)

const maxBeaconSize = 1024

// Discovery delivers beacons between peers.
type Discovery interface {
	// Announce broadcasts the beacon.
	Announce(ctx context.Context, beacon []byte) error

	// Listen passes received beacons to handler until ctx is canceled.
	Listen(ctx context.Context, handler func(beacon []byte, from net.IP)) error
}

// NewMulticast creates discovery using UDP multicast group.
func NewMulticast(group string) (*Multicast, error) {
	addr, err := net.ResolveUDPAddr("udp4", group)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if !addr.IP.IsMulticast() {
		return nil, errors.Errorf("address %s is not a multicast group", group)
	}
	return &Multicast{group: addr}, nil
}

// Multicast sends beacons to UDP multicast group.
type Multicast struct {
	group *net.UDPAddr
}

// Announce broadcasts the beacon.
func (m *Multicast) Announce(_ context.Context, beacon []byte) error {
	conn, err := net.DialUDP("udp4", nil, m.group)
	if err != nil {
		return errors.WithStack(err)
	}
	defer conn.Close()

	_, err = conn.Write(beacon)
	return errors.WithStack(err)
}

// Listen passes received beacons to handler until ctx is canceled.
func (m *Multicast) Listen(ctx context.Context, handler func(beacon []byte, from net.IP)) error {
	conn, err := net.ListenMulticastUDP("udp4", nil, m.group)
	if err != nil {
		return errors.WithStack(err)
	}

	return parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		spawn("closer", parallel.Fail, func(ctx context.Context) error {
			<-ctx.Done()
			_ = conn.Close()
			return errors.WithStack(ctx.Err())
		})
		spawn("reader", parallel.Fail, func(ctx context.Context) error {
			buf := make([]byte, maxBeaconSize)
			for {
				n, from, err := conn.ReadFromUDP(buf)
				if err != nil {
					if ctx.Err() != nil {
						return errors.WithStack(ctx.Err())
					}
					return errors.WithStack(err)
				}
				handler(bytes.Clone(buf[:n]), from.IP)
			}
		})
		return nil
	})
}

func encodeAnnouncement(a *wire.Announcement) ([]byte, error) {
	m := wire.NewMarshaller()

	id, err := m.ID(a)
	if err != nil {
		return nil, err
	}
	size, err := m.Size(a)
	if err != nil {
		return nil, err
	}

	buf := binary.AppendUvarint(make([]byte, 0, binary.MaxVarintLen64+size), id)
	offset := len(buf)
	buf = buf[:offset+int(size)]
	if _, _, err := m.Marshal(a, buf[offset:]); err != nil {
		return nil, err
	}
	return buf, nil
}

func decodeAnnouncement(beacon []byte) (*wire.Announcement, error) {
	id, n := binary.Uvarint(beacon)
	if n <= 0 {
		return nil, errors.New("invalid beacon header")
	}

	msg, _, err := wire.NewMarshaller().Unmarshal(id, beacon[n:])
	if err != nil {
		return nil, err
	}
	a, ok := msg.(*wire.Announcement)
	if !ok {
		return nil, errors.Errorf("announcement expected, got %T", msg)
	}
	return a, nil
}

type discoveredPeer struct {
	Identity wire.PeerIdentity
	Addr     string
	LastSeen time.Time
}

// peerTable stores peers seen while browsing.
type peerTable struct {
	mu    sync.Mutex
	peers map[wire.PeerID]*discoveredPeer
}

func newPeerTable() *peerTable {
	return &peerTable{
		peers: map[wire.PeerID]*discoveredPeer{},
	}
}

// Seen records the beacon. It returns true if the peer is new or changed its address.
func (t *peerTable) Seen(a *wire.Announcement, from net.IP, now time.Time) (discoveredPeer, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	addr := net.JoinHostPort(from.String(), strconv.FormatUint(a.Port, 10))
	p, exists := t.peers[a.PeerID]
	if !exists {
		p = &discoveredPeer{}
		t.peers[a.PeerID] = p
	}
	changed := !exists || p.Addr != addr || p.Identity.Name != a.Name

	p.Identity = a.Identity()
	p.Addr = addr
	p.LastSeen = now

	return *p, changed
}

func (t *peerTable) Addr(peerID wire.PeerID) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, exists := t.peers[peerID]
	if !exists {
		return "", false
	}
	return p.Addr, true
}

// Expire removes peers not seen since deadline.
func (t *peerTable) Expire(deadline time.Time) []wire.PeerIdentity {
	t.mu.Lock()
	defer t.mu.Unlock()

	var lost []wire.PeerIdentity
	for id, p := range t.peers {
		if p.LastSeen.Before(deadline) {
			lost = append(lost, p.Identity)
			delete(t.peers, id)
		}
	}
	return lost
}

func (t *peerTable) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.peers = map[wire.PeerID]*discoveredPeer{}
}
