package libshare

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/outofforest/libshare/envelope"
	"github.com/outofforest/libshare/transport"
	"github.com/outofforest/libshare/wire"
	"github.com/outofforest/logger"
)

func (m *ConnectivityManager) onData(ctx context.Context, e transport.DataReceived) {
	log := logger.Get(ctx).With(zap.Stringer("peer", e.Identity))

	env, err := envelope.Decode(e.Data)
	if err != nil {
		if errors.Is(err, envelope.ErrUnknownType) {
			log.Warn("Unknown envelope received", zap.Error(err))
		} else {
			log.Error("Invalid envelope received", zap.Error(err))
		}
		return
	}

	log.Debug("Envelope received", zap.String("kind", string(env.Kind())), zap.String("type", env.Type()))

	peer := e.Identity
	switch env := env.(type) {
	case envelope.NameRequest:
		m.sendLibraryName(ctx, peer.ID)
	case envelope.ListRequest:
		m.sendSourceList(ctx, peer.ID)
	case envelope.PlaylistRequest:
		m.sendPlaylist(ctx, peer.ID, env)
	case envelope.TrackRequest:
		m.sendTrack(ctx, peer.ID, env)
	case envelope.TrackDownloadRequest:
		m.sendTrackDownload(ctx, peer.ID, env)
	case envelope.NamePayload:
		m.onLibraryName(ctx, peer, env)
	case envelope.ListPayload:
		m.collab.UI.AddSourcesForNetworkedLibrary(env.List, peer)
	case envelope.PlaylistPayload:
		m.onPlaylist(ctx, env)
	case envelope.TrackPayload:
		m.onTrack(ctx, env)
	case envelope.TrackDownloadPayload:
		m.onTrackDownload(ctx, env)
	}
}

func (m *ConnectivityManager) sendLibraryName(ctx context.Context, peerID wire.PeerID) {
	m.reply(ctx, peerID, envelope.NamePayload{Name: m.config.LibraryName})
}

func (m *ConnectivityManager) sendSourceList(ctx context.Context, peerID wire.PeerID) {
	list, err := m.collab.Metadata.GetSourceList(ctx)
	if err != nil {
		logger.Get(ctx).Error("Reading source list failed", zap.Error(err))
		return
	}

	m.reply(ctx, peerID, envelope.ListPayload{
		List: list,
		Name: m.config.LibraryName,
	})
}

func (m *ConnectivityManager) sendPlaylist(ctx context.Context, peerID wire.PeerID, req envelope.PlaylistRequest) {
	playlist, err := m.collab.Metadata.GetPlaylist(ctx, req.ID, req.Fields)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			logger.Get(ctx).Error("Reading playlist failed", zap.Int64("playlist", req.ID), zap.Error(err))
		}
		playlist = nil
	}

	m.reply(ctx, peerID, envelope.PlaylistPayload{
		ID:       req.ID,
		Playlist: playlist,
		Library:  m.config.LibraryName,
	})
}

func (m *ConnectivityManager) sendTrack(ctx context.Context, peerID wire.PeerID, req envelope.TrackRequest) {
	data, err := m.collab.Metadata.GetSong(ctx, req.ID)
	if err != nil {
		logTrackLookup(ctx, req.ID, err)
		return
	}

	m.reply(ctx, peerID, envelope.TrackPayload{Track: data})
}

func (m *ConnectivityManager) sendTrackDownload(
	ctx context.Context,
	peerID wire.PeerID,
	req envelope.TrackDownloadRequest,
) {
	data, err := m.collab.Metadata.GetSong(ctx, req.ID)
	if err != nil {
		logTrackLookup(ctx, req.ID, err)
		return
	}
	metadata, err := m.collab.Metadata.GetAllMetadataForTrack(ctx, req.ID)
	if err != nil {
		logTrackLookup(ctx, req.ID, err)
		return
	}

	m.reply(ctx, peerID, envelope.TrackDownloadPayload{
		ID:       req.ID,
		Track:    data,
		Metadata: metadata,
	})
}

func logTrackLookup(ctx context.Context, trackID int64, err error) {
	log := logger.Get(ctx)
	if errors.Is(err, ErrNotFound) {
		log.Debug("Requested track does not exist", zap.Int64("track", trackID))
		return
	}
	log.Error("Reading track failed", zap.Int64("track", trackID), zap.Error(err))
}

func (m *ConnectivityManager) onLibraryName(ctx context.Context, peer wire.PeerIdentity, payload envelope.NamePayload) {
	m.registry.SetLibraryName(peer.ID, payload.Name)
	m.collab.UI.AddNetworkedLibrary(peer, payload.Name)
	m.reply(ctx, peer.ID, envelope.ListRequest{})
}

func (m *ConnectivityManager) onPlaylist(ctx context.Context, payload envelope.PlaylistPayload) {
	log := logger.Get(ctx).With(zap.Int64("playlist", payload.ID))

	item, exists := m.collab.UI.GetNetworkPlaylist(payload.ID)
	if !exists {
		log.Debug("Playlist was not requested")
		return
	}
	if payload.Playlist == nil {
		log.Debug("Peer does not have the playlist")
		return
	}

	if err := m.collab.Database.AddTracksForPlaylistData(ctx, payload.Playlist, item); err != nil {
		log.Error("Storing playlist failed", zap.Error(err))
		return
	}
	m.collab.UI.DoneAddingNetworkPlaylist(item)
}

func (m *ConnectivityManager) onTrack(ctx context.Context, payload envelope.TrackPayload) {
	log := logger.Get(ctx)

	if !m.collab.Playback.IsStreaming() {
		log.Debug("Track ignored, not streaming")
		return
	}
	track, exists := m.collab.Playback.CurrentTrack()
	if !exists {
		log.Debug("Track ignored, nothing is played")
		return
	}
	if len(payload.Track) == 0 {
		log.Warn("Empty track received", zap.Int64("track", track.ID))
		return
	}

	if err := m.collab.Database.SaveStreamingNetworkTrack(ctx, track, payload.Track); err != nil {
		log.Error("Storing streamed track failed", zap.Int64("track", track.ID), zap.Error(err))
		return
	}
	m.collab.Playback.PlayNetworkSong()
}

func (m *ConnectivityManager) onTrackDownload(ctx context.Context, payload envelope.TrackDownloadPayload) {
	log := logger.Get(ctx).With(zap.Int64("track", payload.ID))

	track, exists := m.downloads.Resolve(payload.ID)
	if !exists {
		log.Debug("Track download was not requested")
		return
	}

	if err := m.collab.Database.CreateFileForNetworkTrack(ctx, track, payload.Track, payload.Metadata); err != nil {
		log.Error("Storing downloaded track failed", zap.Error(err))
		return
	}
	log.Info("Track downloaded", zap.String("title", track.Title))
}

// reply sends the envelope reliably. Failures are logged only.
func (m *ConnectivityManager) reply(ctx context.Context, peerID wire.PeerID, e envelope.Envelope) {
	if err := m.send(peerID, e); err != nil {
		logger.Get(ctx).Error("Sending envelope failed",
			zap.Stringer("peer", peerID),
			zap.String("kind", string(e.Kind())),
			zap.String("type", e.Type()),
			zap.Error(err))
	}
}

func (m *ConnectivityManager) send(peerID wire.PeerID, e envelope.Envelope) error {
	data, err := envelope.Encode(e)
	if err != nil {
		return err
	}
	return m.transport.Send(peerID, data, true)
}
