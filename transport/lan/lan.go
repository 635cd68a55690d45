// Package lan implements transport for peers in the local network.
//
// Sessions are TCP connections framed by resonance. Peers are discovered by beacons
// broadcast to multicast group.
package lan

import (
	"bytes"
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/outofforest/libshare/transport"
	"github.com/outofforest/libshare/wire"
	"github.com/outofforest/logger"
	"github.com/outofforest/parallel"
	"github.com/outofforest/resonance"
)

var (
	errSelf             = errors.New("connected to myself")
	errDuplicateSession = errors.New("session with the peer already exists")
	errRejected         = errors.New("invitation rejected")
	errTimeout          = errors.New("invitation timed out")
)

type invitation struct {
	Peer    wire.PeerIdentity
	Timeout time.Duration

	timer       *time.Timer
	established bool
}

var _ transport.Transport = &Transport{}

// Transport is the LAN transport.
type Transport struct {
	config    Config
	self      wire.PeerIdentity
	ls        net.Listener
	port      uint64
	discovery Discovery
	sessions  *sessions
	peers     *peerTable

	advertiseSignal chan struct{}
	inviteSignal    chan struct{}

	mu          sync.Mutex
	advertising string
	browsing    string
	invites     []*invitation
}

// New creates LAN transport accepting sessions on ls.
func New(config Config, self wire.PeerIdentity, ls net.Listener) (*Transport, error) {
	_, portStr, err := net.SplitHostPort(ls.Addr().String())
	if err != nil {
		return nil, errors.WithStack(err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	discovery := config.Discovery
	if discovery == nil {
		discovery, err = NewMulticast(DefaultGroup)
		if err != nil {
			return nil, err
		}
	}
	if config.MaxMessageSize == 0 {
		return nil, errors.New("max message size is not set")
	}
	if config.AcceptInvitation == nil {
		config.AcceptInvitation = transport.AcceptAll
	}

	return &Transport{
		config:          config,
		self:            self,
		ls:              ls,
		port:            port,
		discovery:       discovery,
		sessions:        newSessions(),
		peers:           newPeerTable(),
		advertiseSignal: make(chan struct{}, 1),
		inviteSignal:    make(chan struct{}, 1),
	}, nil
}

// Run runs the transport.
func (t *Transport) Run(ctx context.Context, events chan<- transport.Event) error {
	connConfig := resonance.Config{
		MaxMessageSize: t.config.MaxMessageSize,
	}

	return parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		spawn("server", parallel.Fail, func(ctx context.Context) error {
			return resonance.RunServer(ctx, t.ls, connConfig,
				func(ctx context.Context, c *resonance.Connection) error {
					return t.runSession(ctx, c, events, nil)
				})
		})
		spawn("beacon", parallel.Fail, t.runBeacon)
		spawn("listener", parallel.Fail, func(ctx context.Context) error {
			return t.discovery.Listen(ctx, func(beacon []byte, from net.IP) {
				t.onBeacon(ctx, events, beacon, from)
			})
		})
		spawn("expiry", parallel.Fail, func(ctx context.Context) error {
			return t.runExpiry(ctx, events)
		})
		spawn("invites", parallel.Fail, func(ctx context.Context) error {
			for {
				select {
				case <-ctx.Done():
					return errors.WithStack(ctx.Err())
				case <-t.inviteSignal:
				}

				for _, inv := range t.takeInvites() {
					spawn("invite", parallel.Continue, func(ctx context.Context) error {
						t.runInvite(ctx, connConfig, inv, events)
						return nil
					})
				}
			}
		})

		return nil
	})
}

// Self returns identity of the local peer.
func (t *Transport) Self() wire.PeerIdentity {
	return t.self
}

// Advertise starts broadcasting beacons.
func (t *Transport) Advertise(serviceID string) error {
	if serviceID == "" {
		return errors.New("service ID is empty")
	}

	t.mu.Lock()
	t.advertising = serviceID
	t.mu.Unlock()

	signal(t.advertiseSignal)
	return nil
}

// StopAdvertising stops broadcasting beacons.
func (t *Transport) StopAdvertising() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.advertising = ""
}

// Browse starts reporting peers announcing the service.
func (t *Transport) Browse(serviceID string) error {
	if serviceID == "" {
		return errors.New("service ID is empty")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.browsing != serviceID {
		t.peers.Reset()
	}
	t.browsing = serviceID
	return nil
}

// StopBrowsing stops reporting peers.
func (t *Transport) StopBrowsing() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.browsing = ""
	t.peers.Reset()
}

// Invite opens session with discovered peer.
func (t *Transport) Invite(peer wire.PeerIdentity, timeout time.Duration) {
	t.mu.Lock()
	t.invites = append(t.invites, &invitation{
		Peer:    peer,
		Timeout: timeout,
	})
	t.mu.Unlock()

	signal(t.inviteSignal)
}

// Send queues data for sending to the peer.
func (t *Transport) Send(peer wire.PeerID, data []byte, reliable bool) error {
	return t.sessions.Send(peer, data, reliable)
}

func (t *Transport) advertised() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.advertising
}

func (t *Transport) browsed() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.browsing
}

func (t *Transport) takeInvites() []*invitation {
	t.mu.Lock()
	defer t.mu.Unlock()

	invites := t.invites
	t.invites = nil
	return invites
}

func (t *Transport) runInvite(
	ctx context.Context,
	connConfig resonance.Config,
	inv *invitation,
	events chan<- transport.Event,
) {
	log := logger.Get(ctx).With(zap.Stringer("peer", inv.Peer))

	if t.sessions.Has(inv.Peer.ID) {
		return
	}
	if err := transport.Emit(ctx, events, transport.StateChanged{
		Identity: inv.Peer,
		State:    transport.Connecting,
	}); err != nil {
		return
	}

	err := t.dial(ctx, connConfig, inv, events)
	if inv.established || t.sessions.Has(inv.Peer.ID) {
		log.Debug("Session closed", zap.Error(err))
		return
	}

	log.Info("Invitation failed", zap.Error(err))
	_ = transport.Emit(ctx, events, transport.StateChanged{
		Identity: inv.Peer,
		State:    transport.NotConnected,
	})
}

func (t *Transport) dial(
	ctx context.Context,
	connConfig resonance.Config,
	inv *invitation,
	events chan<- transport.Event,
) error {
	addr, exists := t.peers.Addr(inv.Peer.ID)
	if !exists {
		return errors.Errorf("address of peer %s is unknown", inv.Peer)
	}

	dialCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	inv.timer = time.AfterFunc(inv.Timeout, cancel)
	defer inv.timer.Stop()

	err := resonance.RunClient(dialCtx, addr, connConfig,
		func(ctx context.Context, c *resonance.Connection) error {
			return t.runSession(ctx, c, events, inv)
		})
	if !inv.established && dialCtx.Err() != nil && ctx.Err() == nil {
		return errors.WithStack(errTimeout)
	}
	return err
}

// runSession serves the connection. inv is nil for sessions opened by remote peers.
func (t *Transport) runSession(
	ctx context.Context,
	c *resonance.Connection,
	events chan<- transport.Event,
	inv *invitation,
) error {
	log := logger.Get(ctx)
	m := wire.NewMarshaller()

	var stopTimer func() bool
	if inv == nil {
		timer := time.AfterFunc(t.config.HandshakeTimeout, func() { c.Close() })
		stopTimer = timer.Stop
	} else {
		stopTimer = inv.timer.Stop
	}

	hello, err := t.handshake(c, m, inv == nil)
	if !stopTimer() {
		return errors.WithStack(errTimeout)
	}
	if err != nil {
		if errors.Is(err, errRejected) {
			log.Info("Invitation rejected", zap.Stringer("peer", hello.Identity()))
		}
		return err
	}

	peer := hello.Identity()
	initiator := t.self.ID
	if inv == nil {
		initiator = peer.ID
		if !t.sessions.Has(peer.ID) {
			if err := transport.Emit(ctx, events, transport.StateChanged{
				Identity: peer,
				State:    transport.Connecting,
			}); err != nil {
				return err
			}
		}
	} else if inv.Peer.ID != peer.ID {
		return errors.Errorf("peer %s expected, %s connected", inv.Peer, peer)
	}

	sess := &session{
		Peer:      peer,
		Initiator: initiator,
		SendCh:    make(chan []byte, t.config.SendQueueSize),
	}
	added, first := t.sessions.Add(sess)
	if !added {
		return errors.WithStack(errDuplicateSession)
	}
	if inv != nil {
		inv.established = true
	}
	if first {
		if err := transport.Emit(ctx, events, transport.StateChanged{
			Identity: peer,
			State:    transport.Connected,
		}); err != nil {
			t.sessions.Remove(sess)
			return err
		}
	}

	sessionCtx := ctx
	return parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		spawn("receiver", parallel.Fail, func(ctx context.Context) error {
			// Reported on the session context, the receiver one is canceled when sender fails.
			defer func() {
				if t.sessions.Remove(sess) {
					_ = transport.Emit(sessionCtx, events, transport.StateChanged{
						Identity: peer,
						State:    transport.NotConnected,
					})
				}
			}()

			for {
				data, err := c.ReceiveBytes()
				if err != nil {
					return err
				}

				if err := transport.Emit(ctx, events, transport.DataReceived{
					Identity: peer,
					Data:     bytes.Clone(data),
				}); err != nil {
					return err
				}
			}
		})
		spawn("sender", parallel.Fail, func(ctx context.Context) error {
			defer func() {
				for range sess.SendCh {
				}
			}()
			defer c.Close()

			for data := range sess.SendCh {
				if err := c.SendBytes(data); err != nil {
					return err
				}
			}

			return nil
		})

		return nil
	})
}

// handshake exchanges hellos. The peer opening the session greets first, so the invited
// peer may reject it before revealing itself.
func (t *Transport) handshake(c *resonance.Connection, m wire.Marshaller, inbound bool) (*wire.Hello, error) {
	greeting := &wire.Hello{
		PeerID: t.self.ID,
		Name:   t.self.Name,
	}

	if !inbound {
		if err := c.SendProton(greeting, m); err != nil {
			return nil, err
		}
	}

	msg, err := c.ReceiveProton(m)
	if err != nil {
		return nil, err
	}

	hello, ok := msg.(*wire.Hello)
	if !ok {
		return nil, errors.New("hello message expected")
	}
	if hello.PeerID == t.self.ID {
		return nil, errSelf
	}

	if inbound {
		if !t.config.AcceptInvitation(hello.Identity()) {
			return hello, errors.WithStack(errRejected)
		}
		if err := c.SendProton(greeting, m); err != nil {
			return nil, err
		}
	}
	return hello, nil
}

func (t *Transport) runBeacon(ctx context.Context) error {
	log := logger.Get(ctx)

	ticker := time.NewTicker(t.config.BeaconInterval)
	defer ticker.Stop()

	for {
		if serviceID := t.advertised(); serviceID != "" {
			beacon, err := encodeAnnouncement(&wire.Announcement{
				ServiceID: serviceID,
				PeerID:    t.self.ID,
				Name:      t.self.Name,
				Port:      t.port,
			})
			if err != nil {
				return err
			}
			if err := t.discovery.Announce(ctx, beacon); err != nil {
				log.Warn("Sending beacon failed", zap.Error(err))
			}
		}

		select {
		case <-ctx.Done():
			return errors.WithStack(ctx.Err())
		case <-ticker.C:
		case <-t.advertiseSignal:
		}
	}
}

func (t *Transport) onBeacon(ctx context.Context, events chan<- transport.Event, beacon []byte, from net.IP) {
	a, err := decodeAnnouncement(beacon)
	if err != nil {
		logger.Get(ctx).Debug("Invalid beacon received", zap.Stringer("from", from), zap.Error(err))
		return
	}

	serviceID := t.browsed()
	if serviceID == "" || a.ServiceID != serviceID || a.PeerID == t.self.ID {
		return
	}

	p, changed := t.peers.Seen(a, from, time.Now())
	if !changed {
		return
	}
	_ = transport.Emit(ctx, events, transport.PeerFound{
		Identity: p.Identity,
		Info: map[string]string{
			"addr": p.Addr,
		},
	})
}

func (t *Transport) runExpiry(ctx context.Context, events chan<- transport.Event) error {
	ticker := time.NewTicker(t.config.PeerTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return errors.WithStack(ctx.Err())
		case now := <-ticker.C:
			for _, peer := range t.peers.Expire(now.Add(-t.config.PeerTimeout)) {
				if err := transport.Emit(ctx, events, transport.PeerLost{Identity: peer}); err != nil {
					return err
				}
			}
		}
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
