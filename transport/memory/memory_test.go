package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/outofforest/libshare/transport"
	"github.com/outofforest/libshare/wire"
	"github.com/outofforest/parallel"
	"github.com/outofforest/qa"
)

const serviceID = "libshare-test"

func newIdentity(t *testing.T, name string) wire.PeerIdentity {
	identity, err := wire.NewPeerIdentity(name)
	require.NoError(t, err)
	return identity
}

func nextEvents(ctx context.Context, requireT *require.Assertions, events <-chan transport.Event, n int) []transport.Event {
	received := make([]transport.Event, 0, n)
	for range n {
		select {
		case <-ctx.Done():
			requireT.FailNow("context canceled")
		case <-time.After(5 * time.Second):
			requireT.FailNow("timeout")
		case e := <-events:
			received = append(received, e)
		}
	}
	return received
}

func TestDiscoveryInviteAndSend(t *testing.T) {
	requireT := require.New(t)

	ctx := qa.NewContext(t)
	group := qa.NewGroup(ctx, t)

	defer func() {
		group.Exit(nil)
		requireT.NoError(group.Wait())
	}()

	hub := NewHub()
	a := newIdentity(t, "a")
	b := newIdentity(t, "b")
	ta := hub.NewTransport(a, nil)
	tb := hub.NewTransport(b, nil)

	eventsA := make(chan transport.Event, 10)
	eventsB := make(chan transport.Event, 10)
	group.Spawn("a", parallel.Fail, func(ctx context.Context) error {
		return ta.Run(ctx, eventsA)
	})
	group.Spawn("b", parallel.Fail, func(ctx context.Context) error {
		return tb.Run(ctx, eventsB)
	})

	requireT.NoError(ta.Browse(serviceID))
	requireT.NoError(tb.Advertise(serviceID))

	requireT.Equal([]transport.Event{
		transport.PeerFound{Identity: b, Info: map[string]string{"transport": "memory"}},
	}, nextEvents(ctx, requireT, eventsA, 1))

	ta.Invite(b, time.Second)

	requireT.Equal([]transport.Event{
		transport.StateChanged{Identity: b, State: transport.Connecting},
		transport.StateChanged{Identity: b, State: transport.Connected},
	}, nextEvents(ctx, requireT, eventsA, 2))
	requireT.Equal([]transport.Event{
		transport.StateChanged{Identity: a, State: transport.Connecting},
		transport.StateChanged{Identity: a, State: transport.Connected},
	}, nextEvents(ctx, requireT, eventsB, 2))

	data := []byte("ping")
	requireT.NoError(ta.Send(b.ID, data, true))
	data[0] = 'x'
	requireT.Equal([]transport.Event{
		transport.DataReceived{Identity: a, Data: []byte("ping")},
	}, nextEvents(ctx, requireT, eventsB, 1))

	requireT.NoError(hub.SendResource(b.ID, a.ID, "cover.jpg"))
	requireT.Equal([]transport.Event{
		transport.ResourceReceived{Identity: b, Name: "cover.jpg"},
	}, nextEvents(ctx, requireT, eventsA, 1))

	requireT.True(hub.Disconnect(a.ID, b.ID))
	requireT.False(hub.Disconnect(a.ID, b.ID))
	requireT.Equal([]transport.Event{
		transport.StateChanged{Identity: b, State: transport.NotConnected},
	}, nextEvents(ctx, requireT, eventsA, 1))
	requireT.Equal([]transport.Event{
		transport.StateChanged{Identity: a, State: transport.NotConnected},
	}, nextEvents(ctx, requireT, eventsB, 1))

	requireT.ErrorIs(ta.Send(b.ID, data, true), transport.ErrNotConnected)
}

func TestInviteFailures(t *testing.T) {
	requireT := require.New(t)

	ctx := qa.NewContext(t)
	group := qa.NewGroup(ctx, t)

	defer func() {
		group.Exit(nil)
		requireT.NoError(group.Wait())
	}()

	hub := NewHub()
	a := newIdentity(t, "a")
	b := newIdentity(t, "b")
	c := newIdentity(t, "c")
	ta := hub.NewTransport(a, nil)
	tb := hub.NewTransport(b, func(wire.PeerIdentity) bool { return false })

	eventsA := make(chan transport.Event, 10)
	group.Spawn("a", parallel.Fail, func(ctx context.Context) error {
		return ta.Run(ctx, eventsA)
	})

	requireT.NoError(tb.Advertise(serviceID))

	// Rejected by policy.
	ta.Invite(b, time.Second)
	// Not attached to the hub.
	ta.Invite(c, time.Second)

	requireT.Equal([]transport.Event{
		transport.StateChanged{Identity: b, State: transport.Connecting},
		transport.StateChanged{Identity: b, State: transport.NotConnected},
		transport.StateChanged{Identity: c, State: transport.Connecting},
		transport.StateChanged{Identity: c, State: transport.NotConnected},
	}, nextEvents(ctx, requireT, eventsA, 4))
}

func TestLeave(t *testing.T) {
	requireT := require.New(t)

	ctx := qa.NewContext(t)
	group := qa.NewGroup(ctx, t)

	defer func() {
		group.Exit(nil)
		requireT.NoError(group.Wait())
	}()

	hub := NewHub()
	a := newIdentity(t, "a")
	b := newIdentity(t, "b")
	ta := hub.NewTransport(a, nil)
	tb := hub.NewTransport(b, nil)

	eventsA := make(chan transport.Event, 10)
	group.Spawn("a", parallel.Fail, func(ctx context.Context) error {
		return ta.Run(ctx, eventsA)
	})

	requireT.NoError(ta.Browse(serviceID))
	requireT.NoError(tb.Advertise(serviceID))
	ta.Invite(b, time.Second)
	nextEvents(ctx, requireT, eventsA, 3)

	hub.Leave(b.ID)

	requireT.Equal([]transport.Event{
		transport.StateChanged{Identity: b, State: transport.NotConnected},
		transport.PeerLost{Identity: b},
	}, nextEvents(ctx, requireT, eventsA, 2))

	ta.Invite(b, time.Second)
	requireT.Equal([]transport.Event{
		transport.StateChanged{Identity: b, State: transport.Connecting},
		transport.StateChanged{Identity: b, State: transport.NotConnected},
	}, nextEvents(ctx, requireT, eventsA, 2))
}

func TestStopAdvertisingReportsLostPeer(t *testing.T) {
	requireT := require.New(t)

	ctx := qa.NewContext(t)
	group := qa.NewGroup(ctx, t)

	defer func() {
		group.Exit(nil)
		requireT.NoError(group.Wait())
	}()

	hub := NewHub()
	a := newIdentity(t, "a")
	b := newIdentity(t, "b")
	ta := hub.NewTransport(a, nil)
	tb := hub.NewTransport(b, nil)

	eventsA := make(chan transport.Event, 10)
	group.Spawn("a", parallel.Fail, func(ctx context.Context) error {
		return ta.Run(ctx, eventsA)
	})

	requireT.NoError(tb.Advertise(serviceID))
	requireT.NoError(ta.Browse(serviceID))
	tb.StopAdvertising()
	requireT.NoError(tb.Advertise(serviceID))

	requireT.Equal([]transport.Event{
		transport.PeerFound{Identity: b, Info: map[string]string{"transport": "memory"}},
		transport.PeerLost{Identity: b},
		transport.PeerFound{Identity: b, Info: map[string]string{"transport": "memory"}},
	}, nextEvents(ctx, requireT, eventsA, 3))
}
