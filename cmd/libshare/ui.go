package main

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/outofforest/libshare"
	"github.com/outofforest/libshare/envelope"
	"github.com/outofforest/libshare/wire"
)

const syncQueueSize = 64

type source struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

type playlistFetcher interface {
	GetDataForPlaylist(ctx context.Context, playlist libshare.NetworkPlaylist, fields []string) error
}

// consoleUI reports networked libraries to the log and optionally mirrors their
// playlists.
type consoleUI struct {
	log    *zap.Logger
	config SyncConfig

	mu        sync.Mutex
	playlists map[int64]libshare.NetworkPlaylist
	requests  chan libshare.NetworkPlaylist
}

func newConsoleUI(log *zap.Logger, config SyncConfig) *consoleUI {
	return &consoleUI{
		log:       log,
		config:    config,
		playlists: map[int64]libshare.NetworkPlaylist{},
		requests:  make(chan libshare.NetworkPlaylist, syncQueueSize),
	}
}

// Run requests playlists queued for mirroring.
func (ui *consoleUI) Run(ctx context.Context, fetcher playlistFetcher) error {
	for {
		select {
		case <-ctx.Done():
			return errors.WithStack(ctx.Err())
		case playlist := <-ui.requests:
			if err := fetcher.GetDataForPlaylist(ctx, playlist, ui.config.Fields); err != nil {
				return err
			}
		}
	}
}

func (ui *consoleUI) AddNetworkedLibrary(peer wire.PeerIdentity, libraryName string) {
	ui.log.Info("Library available", zap.Stringer("peer", peer), zap.String("library", libraryName))
}

func (ui *consoleUI) RemoveNetworkedLibrary(peer wire.PeerIdentity) {
	ui.mu.Lock()
	defer ui.mu.Unlock()

	for id, p := range ui.playlists {
		if p.Peer == peer.ID {
			delete(ui.playlists, id)
		}
	}
	ui.log.Info("Library gone", zap.Stringer("peer", peer))
}

func (ui *consoleUI) AddSourcesForNetworkedLibrary(list []envelope.Document, peer wire.PeerIdentity) {
	ui.mu.Lock()
	defer ui.mu.Unlock()

	for _, doc := range list {
		var s source
		if err := doc.Unmarshal(&s); err != nil {
			ui.log.Warn("Invalid source received", zap.Stringer("peer", peer), zap.Error(err))
			continue
		}
		if s.Type != "playlist" {
			continue
		}

		playlist := libshare.NetworkPlaylist{
			ID:   s.ID,
			Peer: peer.ID,
			Name: s.Name,
		}
		ui.playlists[s.ID] = playlist
		ui.log.Info("Playlist available", zap.Stringer("peer", peer), zap.Int64("playlist", s.ID),
			zap.String("name", s.Name))

		if !ui.config.Enabled {
			continue
		}
		select {
		case ui.requests <- playlist:
		default:
			ui.log.Warn("Playlist sync queue is full", zap.Int64("playlist", s.ID))
		}
	}
}

func (ui *consoleUI) GetNetworkPlaylist(id int64) (libshare.NetworkPlaylist, bool) {
	ui.mu.Lock()
	defer ui.mu.Unlock()

	p, exists := ui.playlists[id]
	return p, exists
}

func (ui *consoleUI) DoneAddingNetworkPlaylist(playlist libshare.NetworkPlaylist) {
	ui.log.Info("Playlist stored", zap.Stringer("peer", playlist.Peer), zap.Int64("playlist", playlist.ID),
		zap.String("name", playlist.Name))
}

func (ui *consoleUI) CancelNetworkTrackDownload(track libshare.Track) {
	ui.log.Warn("Track download abandoned", zap.Stringer("peer", track.Peer), zap.Int64("track", track.ID))
}

// idlePlayback never streams, so streamed tracks are ignored.
type idlePlayback struct{}

func (idlePlayback) IsStreaming() bool {
	return false
}

func (idlePlayback) CurrentTrack() (libshare.Track, bool) {
	return libshare.Track{}, false
}

func (idlePlayback) PlayNetworkSong() {}
