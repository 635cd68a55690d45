package libshare_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/outofforest/libshare"
	"github.com/outofforest/libshare/envelope"
	"github.com/outofforest/libshare/library"
	"github.com/outofforest/libshare/transport"
	"github.com/outofforest/libshare/transport/lan"
	"github.com/outofforest/libshare/transport/memory"
	"github.com/outofforest/libshare/wire"
	"github.com/outofforest/parallel"
	"github.com/outofforest/qa"
)

const (
	waitFor = 5 * time.Second
	tick    = 10 * time.Millisecond
)

type ui struct {
	mu        sync.Mutex
	libraries map[wire.PeerID]string
	added     int
	removed   int
	sources   [][]envelope.Document
	playlists map[int64]libshare.NetworkPlaylist
	done      []libshare.NetworkPlaylist
}

func newUI() *ui {
	return &ui{
		libraries: map[wire.PeerID]string{},
		playlists: map[int64]libshare.NetworkPlaylist{},
	}
}

func (u *ui) AddNetworkedLibrary(peer wire.PeerIdentity, libraryName string) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.libraries[peer.ID] = libraryName
	u.added++
}

func (u *ui) RemoveNetworkedLibrary(peer wire.PeerIdentity) {
	u.mu.Lock()
	defer u.mu.Unlock()

	delete(u.libraries, peer.ID)
	u.removed++
}

func (u *ui) AddSourcesForNetworkedLibrary(list []envelope.Document, _ wire.PeerIdentity) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.sources = append(u.sources, list)
}

func (u *ui) GetNetworkPlaylist(id int64) (libshare.NetworkPlaylist, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()

	p, exists := u.playlists[id]
	return p, exists
}

func (u *ui) DoneAddingNetworkPlaylist(playlist libshare.NetworkPlaylist) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.done = append(u.done, playlist)
}

func (u *ui) AddPlaylist(playlist libshare.NetworkPlaylist) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.playlists[playlist.ID] = playlist
}

func (u *ui) Library(peerID wire.PeerID) (string, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()

	name, exists := u.libraries[peerID]
	return name, exists
}

func (u *ui) Counts() (added, removed int) {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.added, u.removed
}

func (u *ui) Sources() [][]envelope.Document {
	u.mu.Lock()
	defer u.mu.Unlock()

	return append([][]envelope.Document{}, u.sources...)
}

func (u *ui) Done() []libshare.NetworkPlaylist {
	u.mu.Lock()
	defer u.mu.Unlock()

	return append([]libshare.NetworkPlaylist{}, u.done...)
}

type idlePlayback struct{}

func (idlePlayback) IsStreaming() bool {
	return false
}

func (idlePlayback) CurrentTrack() (libshare.Track, bool) {
	return libshare.Track{}, false
}

func (idlePlayback) PlayNetworkSong() {}

type node struct {
	Identity wire.PeerIdentity
	Manager  *libshare.ConnectivityManager
	Library  *library.Library
	UI       *ui
}

type loopback struct {
	mu        sync.Mutex
	listeners map[int]func([]byte, net.IP)
	next      int
}

func newLoopback() *loopback {
	return &loopback{
		listeners: map[int]func([]byte, net.IP){},
	}
}

func (l *loopback) Announce(_ context.Context, beacon []byte) error {
	l.mu.Lock()
	listeners := make([]func([]byte, net.IP), 0, len(l.listeners))
	for _, listener := range l.listeners {
		listeners = append(listeners, listener)
	}
	l.mu.Unlock()

	for _, listener := range listeners {
		listener(beacon, net.IPv4(127, 0, 0, 1))
	}
	return nil
}

func (l *loopback) Listen(ctx context.Context, handler func([]byte, net.IP)) error {
	l.mu.Lock()
	id := l.next
	l.next++
	l.listeners[id] = handler
	l.mu.Unlock()

	<-ctx.Done()

	l.mu.Lock()
	delete(l.listeners, id)
	l.mu.Unlock()

	return errors.WithStack(ctx.Err())
}

func newMemoryNode(ctx context.Context, t *testing.T, hub *memory.Hub, name string) node {
	identity, err := wire.NewPeerIdentity(name)
	require.NoError(t, err)

	return newNode(ctx, t, hub.NewTransport(identity, nil))
}

func newLANNode(ctx context.Context, t *testing.T, discovery lan.Discovery, name string) node {
	requireT := require.New(t)

	identity, err := wire.NewPeerIdentity(name)
	requireT.NoError(err)

	ls, err := net.Listen("tcp", "127.0.0.1:0")
	requireT.NoError(err)
	t.Cleanup(func() {
		_ = ls.Close()
	})

	config := lan.DefaultConfig()
	config.Discovery = discovery
	config.MaxMessageSize = 64 * 1024
	config.BeaconInterval = 50 * time.Millisecond
	config.PeerTimeout = time.Second
	config.HandshakeTimeout = time.Second

	tr, err := lan.New(config, identity, ls)
	requireT.NoError(err)

	return newNode(ctx, t, tr)
}

func newNode(ctx context.Context, t *testing.T, tr transport.Transport) node {
	identity := tr.Self()

	lib, err := library.Open(ctx, library.Config{
		Path:     ":memory:",
		MediaDir: t.TempDir(),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = lib.Close()
	})

	config := libshare.DefaultConfig()
	config.LibraryName = identity.Name + " library"
	config.Reconnect.Backoff = 50 * time.Millisecond

	u := newUI()
	m, err := libshare.New(config, tr, libshare.Collaborators{
		UI:       u,
		Metadata: lib,
		Database: lib,
		Playback: idlePlayback{},
	})
	require.NoError(t, err)

	return node{
		Identity: identity,
		Manager:  m,
		Library:  lib,
		UI:       u,
	}
}

func TestLibrarySharing(t *testing.T) {
	requireT := require.New(t)

	ctx := qa.NewContext(t)
	group := qa.NewGroup(ctx, t)

	defer func() {
		group.Exit(nil)
		requireT.NoError(group.Wait())
	}()

	hub := memory.NewHub()
	a := newMemoryNode(ctx, t, hub, "a")
	b := newMemoryNode(ctx, t, hub, "b")

	track1, err := b.Library.AddTrack(ctx, library.TrackInfo{
		Title:    "So What",
		Artist:   "Miles Davis",
		Duration: 562000,
	}, []byte("so what"))
	requireT.NoError(err)
	track2, err := b.Library.AddTrack(ctx, library.TrackInfo{
		Title:    "Blue in Green",
		Artist:   "Miles Davis",
		Duration: 337000,
	}, []byte("blue in green"))
	requireT.NoError(err)
	playlistID, err := b.Library.CreatePlaylist(ctx, "Jazz", []int64{track1, track2})
	requireT.NoError(err)

	group.Spawn("a", parallel.Fail, a.Manager.Run)
	group.Spawn("b", parallel.Fail, b.Manager.Run)

	// Both sides greet each other and the browsing side asks for the source list.
	requireT.Eventually(func() bool {
		name, exists := a.UI.Library(b.Identity.ID)
		return exists && name == "b library"
	}, waitFor, tick)
	requireT.Eventually(func() bool {
		name, exists := b.UI.Library(a.Identity.ID)
		return exists && name == "a library"
	}, waitFor, tick)
	requireT.Eventually(func() bool {
		return len(a.UI.Sources()) == 1
	}, waitFor, tick)

	var source map[string]any
	requireT.NoError(json.Unmarshal(a.UI.Sources()[0][0], &source))
	requireT.Equal("Jazz", source["name"])
	requireT.Equal(float64(playlistID), source["id"])

	// Playlist carries only the requested fields.
	item := libshare.NetworkPlaylist{ID: playlistID, Peer: b.Identity.ID, Name: "Jazz"}
	a.UI.AddPlaylist(item)
	requireT.NoError(a.Manager.GetDataForPlaylist(ctx, item, []string{"title", "duration"}))
	requireT.Eventually(func() bool {
		return len(a.UI.Done()) == 1
	}, waitFor, tick)

	tracks, err := a.Library.NetworkPlaylistTracks(ctx, item)
	requireT.NoError(err)
	requireT.Equal([]envelope.Document{
		envelope.Document(`{"duration":562000,"title":"So What"}`),
		envelope.Document(`{"duration":337000,"title":"Blue in Green"}`),
	}, tracks)

	// Downloaded track joins the local library.
	requireT.NoError(a.Manager.AskPeerForSongDownload(ctx, b.Identity.ID, libshare.Track{
		ID:    track2,
		Peer:  b.Identity.ID,
		Title: "Blue in Green",
	}))
	requireT.Eventually(func() bool {
		_, err := a.Library.GetSong(ctx, 1)
		return err == nil
	}, waitFor, tick)

	song, err := a.Library.GetSong(ctx, 1)
	requireT.NoError(err)
	requireT.Equal([]byte("blue in green"), song)
	info, err := a.Library.Track(ctx, 1)
	requireT.NoError(err)
	requireT.Equal("Blue in Green", info.Title)
	requireT.Equal(int64(337000), info.Duration)

	// Broken session is removed from UI once and reestablished.
	requireT.True(hub.Disconnect(a.Identity.ID, b.Identity.ID))
	requireT.Eventually(func() bool {
		added, removed := a.UI.Counts()
		_, exists := a.UI.Library(b.Identity.ID)
		return removed == 1 && added == 2 && exists
	}, waitFor, tick)

	// Peer leaving the network is forgotten.
	hub.Leave(b.Identity.ID)
	requireT.Eventually(func() bool {
		peers, err := a.Manager.Peers(ctx)
		return err == nil && len(peers) == 0
	}, waitFor, tick)
	_, exists := a.UI.Library(b.Identity.ID)
	requireT.False(exists)
	_, removed := a.UI.Counts()
	requireT.Equal(2, removed)
}

func TestLibrarySharingOverLAN(t *testing.T) {
	requireT := require.New(t)

	ctx := qa.NewContext(t)
	group := qa.NewGroup(ctx, t)

	defer func() {
		group.Exit(nil)
		requireT.NoError(group.Wait())
	}()

	discovery := newLoopback()
	a := newLANNode(ctx, t, discovery, "a")
	b := newLANNode(ctx, t, discovery, "b")

	audio := bytes.Repeat([]byte("not really an mp3 frame "), 1000)
	trackID, err := b.Library.AddTrack(ctx, library.TrackInfo{
		Title:    "So What",
		Artist:   "Miles Davis",
		Duration: 562000,
	}, audio)
	requireT.NoError(err)
	playlistID, err := b.Library.CreatePlaylist(ctx, "Jazz", []int64{trackID})
	requireT.NoError(err)

	group.Spawn("a", parallel.Fail, a.Manager.Run)
	group.Spawn("b", parallel.Fail, b.Manager.Run)

	// Greetings travel in both directions.
	requireT.Eventually(func() bool {
		name, exists := a.UI.Library(b.Identity.ID)
		return exists && name == "b library"
	}, waitFor, tick)
	requireT.Eventually(func() bool {
		name, exists := b.UI.Library(a.Identity.ID)
		return exists && name == "a library"
	}, waitFor, tick)

	// The source list of b reaches a.
	requireT.Eventually(func() bool {
		for _, list := range a.UI.Sources() {
			if len(list) == 1 {
				return true
			}
		}
		return false
	}, waitFor, tick)

	item := libshare.NetworkPlaylist{ID: playlistID, Peer: b.Identity.ID, Name: "Jazz"}
	a.UI.AddPlaylist(item)
	requireT.NoError(a.Manager.GetDataForPlaylist(ctx, item, []string{"id", "title"}))
	requireT.Eventually(func() bool {
		return len(a.UI.Done()) == 1
	}, waitFor, tick)

	tracks, err := a.Library.NetworkPlaylistTracks(ctx, item)
	requireT.NoError(err)
	requireT.Equal([]envelope.Document{
		envelope.Document(`{"id":1,"title":"So What"}`),
	}, tracks)

	// Downloaded track lands in the database of a.
	requireT.NoError(a.Manager.AskPeerForSongDownload(ctx, b.Identity.ID, libshare.Track{
		ID:    trackID,
		Peer:  b.Identity.ID,
		Title: "So What",
	}))
	requireT.Eventually(func() bool {
		_, err := a.Library.GetSong(ctx, 1)
		return err == nil
	}, waitFor, tick)

	song, err := a.Library.GetSong(ctx, 1)
	requireT.NoError(err)
	requireT.Equal(audio, song)
	info, err := a.Library.Track(ctx, 1)
	requireT.NoError(err)
	requireT.Equal(library.TrackInfo{Title: "So What", Artist: "Miles Davis", Duration: 562000}, info)
}
