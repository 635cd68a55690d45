// Package libshare shares music library with peers in the local network.
//
// ConnectivityManager discovers peers, keeps sessions with them and serves the request
// and payload protocol used to browse, stream and download tracks of remote libraries.
package libshare

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/outofforest/libshare/correlator"
	"github.com/outofforest/libshare/registry"
	"github.com/outofforest/libshare/transport"
	"github.com/outofforest/libshare/wire"
	"github.com/outofforest/logger"
	"github.com/outofforest/parallel"
)

const commandBuffer = 16

// ErrStopped is returned by requests submitted after the manager stopped.
var ErrStopped = errors.New("connectivity manager is stopped")

type command func(ctx context.Context)

type timer interface {
	Stop() bool
}

type reconnect struct {
	Attempts   int
	Generation uint64
	Timer      timer
}

// ConnectivityManager maintains sessions with peers and serves their requests.
//
// All the state is owned by the goroutine started by Run. Public methods submit commands
// to that goroutine.
type ConnectivityManager struct {
	config    Config
	transport transport.Transport
	collab    Collaborators
	canceler  DownloadCanceler

	events   chan transport.Event
	commands chan command
	done     chan struct{}
	stop     sync.Once

	registry   *registry.Registry
	downloads  *correlator.Correlator[Track]
	reconnects map[wire.PeerID]*reconnect
	effects    []command

	advertising bool
	browsing    bool

	now   func() time.Time
	after func(d time.Duration, f func()) timer
}

// New creates connectivity manager.
func New(config Config, t transport.Transport, collab Collaborators) (*ConnectivityManager, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	if t == nil {
		return nil, errors.New("transport is not set")
	}
	if err := collab.validate(); err != nil {
		return nil, err
	}

	m := &ConnectivityManager{
		config:     config,
		transport:  t,
		collab:     collab,
		events:     make(chan transport.Event, config.EventBuffer),
		commands:   make(chan command, commandBuffer),
		done:       make(chan struct{}),
		downloads:  correlator.New[Track](),
		reconnects: map[wire.PeerID]*reconnect{},
		now:        time.Now,
		after: func(d time.Duration, f func()) timer {
			return time.AfterFunc(d, f)
		},
	}
	m.canceler, _ = collab.UI.(DownloadCanceler)
	m.registry = registry.New(registry.Hooks{
		OnConnect:    m.onConnect,
		OnDisconnect: m.onDisconnect,
	})
	return m, nil
}

// Self returns identity of the local peer.
func (m *ConnectivityManager) Self() wire.PeerIdentity {
	return m.transport.Self()
}

// Run runs the transport and processes its events until ctx is canceled.
func (m *ConnectivityManager) Run(ctx context.Context) error {
	return parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		spawn("transport", parallel.Fail, func(ctx context.Context) error {
			return m.transport.Run(ctx, m.events)
		})
		spawn("engine", parallel.Fail, m.runEngine)

		return nil
	})
}

// Peers returns the snapshot of known peers.
func (m *ConnectivityManager) Peers(ctx context.Context) ([]registry.PeerConnection, error) {
	resCh := make(chan []registry.PeerConnection, 1)
	if err := m.submit(ctx, func(ctx context.Context) {
		resCh <- m.registry.Peers()
	}); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, errors.WithStack(ctx.Err())
	case <-m.done:
		return nil, errors.WithStack(ErrStopped)
	case peers := <-resCh:
		return peers, nil
	}
}

// submit queues the command for the engine. Commands queued when the engine stops are
// never executed.
func (m *ConnectivityManager) submit(ctx context.Context, cmd command) error {
	select {
	case <-m.done:
		return errors.WithStack(ErrStopped)
	default:
	}

	select {
	case <-ctx.Done():
		return errors.WithStack(ctx.Err())
	case <-m.done:
		return errors.WithStack(ErrStopped)
	case m.commands <- cmd:
		return nil
	}
}

func (m *ConnectivityManager) runEngine(ctx context.Context) error {
	log := logger.Get(ctx)

	defer func() {
		m.stop.Do(func() {
			close(m.done)
		})
		m.transport.StopAdvertising()
		m.transport.StopBrowsing()

		for _, r := range m.reconnects {
			if r.Timer != nil {
				r.Timer.Stop()
			}
		}
	}()

	retry := time.NewTicker(m.config.RetryInterval)
	defer retry.Stop()

	var sweep <-chan time.Time
	if m.config.DownloadTimeout > 0 {
		ticker := time.NewTicker(m.config.DownloadSweepInterval)
		defer ticker.Stop()
		sweep = ticker.C
	}

	m.startDiscovery(ctx)
	log.Info("Sharing library",
		zap.Stringer("peer", m.transport.Self()),
		zap.String("library", m.config.LibraryName),
		zap.String("service", m.config.ServiceID))

	for {
		select {
		case <-ctx.Done():
			return errors.WithStack(ctx.Err())
		case e := <-m.events:
			m.handleEvent(ctx, e)
		case cmd := <-m.commands:
			m.runCommand(ctx, cmd)
		case <-retry.C:
			m.startDiscovery(ctx)
		case now := <-sweep:
			m.expireDownloads(ctx, now)
		}
	}
}

func (m *ConnectivityManager) startDiscovery(ctx context.Context) {
	log := logger.Get(ctx)

	if !m.advertising {
		if err := m.transport.Advertise(m.config.ServiceID); err != nil {
			log.Error("Advertising failed", zap.Error(err))
		} else {
			m.advertising = true
		}
	}
	if !m.browsing {
		if err := m.transport.Browse(m.config.ServiceID); err != nil {
			log.Error("Browsing failed", zap.Error(err))
		} else {
			m.browsing = true
		}
	}
}

func (m *ConnectivityManager) runCommand(ctx context.Context, cmd command) {
	cmd(ctx)
	m.flush(ctx)
}

func (m *ConnectivityManager) handleEvent(ctx context.Context, e transport.Event) {
	switch e := e.(type) {
	case transport.PeerFound:
		m.onPeerFound(ctx, e)
	case transport.PeerLost:
		m.onPeerLost(ctx, e)
	case transport.StateChanged:
		m.onStateChanged(ctx, e)
	case transport.DataReceived:
		m.onData(ctx, e)
	case transport.ResourceReceived:
		logger.Get(ctx).Debug("Resource ignored", zap.Stringer("peer", e.Identity), zap.String("name", e.Name))
	default:
		logger.Get(ctx).Warn("Unknown transport event", zap.Any("event", e))
	}
	m.flush(ctx)
}

// flush runs the effects scheduled by registry hooks.
func (m *ConnectivityManager) flush(ctx context.Context) {
	for len(m.effects) > 0 {
		effect := m.effects[0]
		m.effects = m.effects[1:]
		effect(ctx)
	}
	m.effects = nil
}

func (m *ConnectivityManager) onPeerFound(ctx context.Context, e transport.PeerFound) {
	logger.Get(ctx).Debug("Peer found", zap.Stringer("peer", e.Identity))

	conn, added := m.registry.Upsert(e.Identity, e.Info)
	if added || conn.State == registry.Disconnected {
		m.invite(ctx, conn.Peer)
	}
}

func (m *ConnectivityManager) onPeerLost(ctx context.Context, e transport.PeerLost) {
	logger.Get(ctx).Debug("Peer lost", zap.Stringer("peer", e.Identity))

	conn, exists := m.registry.MarkLost(e.Identity.ID)
	if !exists || conn.State == registry.Connected {
		return
	}
	m.forget(e.Identity.ID)
}

func (m *ConnectivityManager) onStateChanged(ctx context.Context, e transport.StateChanged) {
	logger.Get(ctx).Debug("Session state changed",
		zap.Stringer("peer", e.Identity), zap.Stringer("state", e.State))

	peerID := e.Identity.ID
	switch e.State {
	case transport.Connecting:
		conn, _ := m.registry.Upsert(e.Identity, nil)
		if conn.State != registry.Connected {
			m.setState(ctx, peerID, registry.Invited)
		}
	case transport.Connected:
		conn, _ := m.registry.Upsert(e.Identity, nil)
		if conn.State == registry.Discovered || conn.State == registry.Disconnected {
			m.setState(ctx, peerID, registry.Invited)
		}
		m.setState(ctx, peerID, registry.Connected)
	case transport.NotConnected:
		if _, exists := m.registry.Lookup(peerID); exists {
			m.setState(ctx, peerID, registry.Disconnected)
		}
	}
}

func (m *ConnectivityManager) setState(ctx context.Context, peerID wire.PeerID, state registry.State) bool {
	if err := m.registry.SetState(peerID, state); err != nil {
		logger.Get(ctx).Debug("State transition ignored", zap.Error(err))
		return false
	}
	return true
}

func (m *ConnectivityManager) invite(ctx context.Context, peer wire.PeerIdentity) {
	if !m.setState(ctx, peer.ID, registry.Invited) {
		return
	}
	if r, exists := m.reconnects[peer.ID]; exists && r.Timer != nil {
		r.Timer.Stop()
		r.Timer = nil
	}

	logger.Get(ctx).Debug("Inviting peer", zap.Stringer("peer", peer))
	m.transport.Invite(peer, m.config.InviteTimeout)
}

// forget removes peer together with its pending reconnection.
func (m *ConnectivityManager) forget(peerID wire.PeerID) {
	if r, exists := m.reconnects[peerID]; exists {
		if r.Timer != nil {
			r.Timer.Stop()
		}
		delete(m.reconnects, peerID)
	}
	m.registry.Remove(peerID)
}

func (m *ConnectivityManager) onConnect(conn registry.PeerConnection) {
	if r, exists := m.reconnects[conn.Peer.ID]; exists {
		if r.Timer != nil {
			r.Timer.Stop()
		}
		delete(m.reconnects, conn.Peer.ID)
	}

	m.effects = append(m.effects, func(ctx context.Context) {
		logger.Get(ctx).Info("Peer connected", zap.Stringer("peer", conn.Peer))
		m.sendLibraryName(ctx, conn.Peer.ID)
	})
}

func (m *ConnectivityManager) onDisconnect(conn registry.PeerConnection, previous registry.State) {
	m.effects = append(m.effects, func(ctx context.Context) {
		log := logger.Get(ctx).With(zap.Stringer("peer", conn.Peer))

		if previous == registry.Connected {
			log.Info("Peer disconnected")
			m.collab.UI.RemoveNetworkedLibrary(conn.Peer)
		}

		m.cancelDownloads(m.downloads.DropPeer(conn.Peer.ID))

		if conn.Lost {
			m.forget(conn.Peer.ID)
			return
		}
		m.scheduleReconnect(ctx, conn.Peer)
	})
}

func (m *ConnectivityManager) scheduleReconnect(ctx context.Context, peer wire.PeerIdentity) {
	log := logger.Get(ctx).With(zap.Stringer("peer", peer))

	r, exists := m.reconnects[peer.ID]
	if !exists {
		r = &reconnect{}
		m.reconnects[peer.ID] = r
	}
	if r.Timer != nil {
		r.Timer.Stop()
		r.Timer = nil
	}

	r.Attempts++
	if limit := m.config.Reconnect.MaxAttempts; limit > 0 && r.Attempts > limit {
		log.Warn("Giving up reconnecting", zap.Int("attempts", limit))
		return
	}

	delay := m.config.Reconnect.delay(r.Attempts)
	if delay <= 0 {
		m.invite(ctx, peer)
		return
	}

	r.Generation++
	generation := r.Generation
	log.Debug("Reconnect scheduled", zap.Duration("delay", delay), zap.Int("attempt", r.Attempts))
	r.Timer = m.after(delay, func() {
		_ = m.submit(ctx, func(ctx context.Context) {
			current, exists := m.reconnects[peer.ID]
			if !exists || current.Generation != generation || current.Timer == nil {
				return
			}
			current.Timer = nil

			if conn, exists := m.registry.Lookup(peer.ID); exists && conn.State == registry.Disconnected {
				m.invite(ctx, conn.Peer)
			}
		})
	})
}

func (m *ConnectivityManager) expireDownloads(ctx context.Context, now time.Time) {
	expired := m.downloads.Expire(now)
	if len(expired) > 0 {
		logger.Get(ctx).Warn("Track downloads expired", zap.Int("count", len(expired)))
	}
	m.cancelDownloads(expired)
}

func (m *ConnectivityManager) cancelDownloads(tracks []Track) {
	if m.canceler == nil {
		return
	}
	for _, track := range tracks {
		m.canceler.CancelNetworkTrackDownload(track)
	}
}
