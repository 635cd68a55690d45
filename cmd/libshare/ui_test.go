package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/outofforest/libshare"
	"github.com/outofforest/libshare/envelope"
	"github.com/outofforest/libshare/wire"
	"github.com/outofforest/parallel"
	"github.com/outofforest/qa"
)

type fetcher struct {
	fetched chan libshare.NetworkPlaylist
}

func (f fetcher) GetDataForPlaylist(_ context.Context, playlist libshare.NetworkPlaylist, fields []string) error {
	f.fetched <- playlist
	return nil
}

func sources(t *testing.T, values ...map[string]any) []envelope.Document {
	docs := make([]envelope.Document, 0, len(values))
	for _, v := range values {
		doc, err := envelope.NewDocument(v)
		require.NoError(t, err)
		docs = append(docs, doc)
	}
	return docs
}

func TestPlaylistsOfLibraryAreRegistered(t *testing.T) {
	requireT := require.New(t)

	peer := wire.PeerIdentity{ID: wire.PeerID{0x01}, Name: "kitchen"}
	ui := newConsoleUI(zap.NewNop(), SyncConfig{})

	ui.AddSourcesForNetworkedLibrary(sources(t,
		map[string]any{"id": 1, "name": "Jazz", "type": "playlist"},
		map[string]any{"id": 2, "name": "Other", "type": "folder"},
	), peer)

	playlist, exists := ui.GetNetworkPlaylist(1)
	requireT.True(exists)
	requireT.Equal(libshare.NetworkPlaylist{ID: 1, Peer: peer.ID, Name: "Jazz"}, playlist)
	_, exists = ui.GetNetworkPlaylist(2)
	requireT.False(exists)
	requireT.Empty(ui.requests)

	ui.RemoveNetworkedLibrary(peer)
	_, exists = ui.GetNetworkPlaylist(1)
	requireT.False(exists)
}

func TestPlaylistsAreSynced(t *testing.T) {
	requireT := require.New(t)

	ctx := qa.NewContext(t)
	group := qa.NewGroup(ctx, t)

	defer func() {
		group.Exit(nil)
		requireT.NoError(group.Wait())
	}()

	peer := wire.PeerIdentity{ID: wire.PeerID{0x01}, Name: "kitchen"}
	ui := newConsoleUI(zap.NewNop(), SyncConfig{Enabled: true, Fields: []string{"title"}})
	f := fetcher{fetched: make(chan libshare.NetworkPlaylist, 1)}
	group.Spawn("sync", parallel.Fail, func(ctx context.Context) error {
		return ui.Run(ctx, f)
	})

	ui.AddSourcesForNetworkedLibrary(sources(t,
		map[string]any{"id": 3, "name": "Jazz", "type": "playlist"},
	), peer)

	requireT.Equal(libshare.NetworkPlaylist{ID: 3, Peer: peer.ID, Name: "Jazz"}, <-f.fetched)
}
