package libshare

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/outofforest/libshare/envelope"
	"github.com/outofforest/libshare/wire"
	"github.com/outofforest/logger"
)

// AskPeerForLibraryName requests the library name from peer.
func (m *ConnectivityManager) AskPeerForLibraryName(ctx context.Context, peer wire.PeerID) error {
	return m.request(ctx, peer, envelope.NameRequest{})
}

// AskPeerForSourceList requests the source list from peer.
func (m *ConnectivityManager) AskPeerForSourceList(ctx context.Context, peer wire.PeerID) error {
	return m.request(ctx, peer, envelope.ListRequest{})
}

// AskPeerForPlaylist requests the playlist from peer. Tracks contain only the fields
// requested.
func (m *ConnectivityManager) AskPeerForPlaylist(
	ctx context.Context,
	peer wire.PeerID,
	id int64,
	fields []string,
) error {
	return m.request(ctx, peer, envelope.PlaylistRequest{
		ID:     id,
		Fields: fields,
	})
}

// AskPeerForSong requests track audio to be streamed.
func (m *ConnectivityManager) AskPeerForSong(ctx context.Context, peer wire.PeerID, id int64) error {
	return m.request(ctx, peer, envelope.TrackRequest{ID: id})
}

// AskPeerForSongDownload requests track audio and metadata to be stored locally.
// The payload is matched with the track by its ID.
func (m *ConnectivityManager) AskPeerForSongDownload(ctx context.Context, peer wire.PeerID, track Track) error {
	return m.submit(ctx, func(ctx context.Context) {
		log := logger.Get(ctx).With(zap.Stringer("peer", peer), zap.Int64("track", track.ID))

		var deadline time.Time
		if m.config.DownloadTimeout > 0 {
			deadline = m.now().Add(m.config.DownloadTimeout)
		}
		if m.downloads.Register(track.ID, peer, track, deadline) {
			log.Debug("Pending track download replaced")
		}

		if err := m.send(peer, envelope.TrackDownloadRequest{ID: track.ID}); err != nil {
			log.Error("Requesting track download failed", zap.Error(err))
			if pending, exists := m.downloads.Resolve(track.ID); exists {
				m.cancelDownloads([]Track{pending})
			}
		}
	})
}

// GetTrack requests track from peer for streaming.
func (m *ConnectivityManager) GetTrack(ctx context.Context, peer wire.PeerID, id int64) error {
	return m.AskPeerForSong(ctx, peer, id)
}

// GetDataForPlaylist requests content of the networked playlist.
func (m *ConnectivityManager) GetDataForPlaylist(ctx context.Context, playlist NetworkPlaylist, fields []string) error {
	return m.AskPeerForPlaylist(ctx, playlist.Peer, playlist.ID, fields)
}

func (m *ConnectivityManager) request(ctx context.Context, peer wire.PeerID, e envelope.Envelope) error {
	return m.submit(ctx, func(ctx context.Context) {
		m.reply(ctx, peer, e)
	})
}
