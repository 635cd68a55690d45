package libshare

import (
	"context"

	"github.com/pkg/errors"

	"github.com/outofforest/libshare/envelope"
	"github.com/outofforest/libshare/wire"
)

// ErrNotFound is returned by Metadata if the requested item does not exist.
var ErrNotFound = errors.New("not found")

// Track identifies the track of networked library.
type Track struct {
	ID    int64
	Peer  wire.PeerID
	Title string
}

// NetworkPlaylist is the local placeholder of playlist shared by peer.
type NetworkPlaylist struct {
	// ID is the ID of playlist in the library of peer.
	ID   int64
	Peer wire.PeerID
	Name string
}

// UI presents networked libraries.
type UI interface {
	AddNetworkedLibrary(peer wire.PeerIdentity, libraryName string)
	RemoveNetworkedLibrary(peer wire.PeerIdentity)
	AddSourcesForNetworkedLibrary(list []envelope.Document, peer wire.PeerIdentity)
	GetNetworkPlaylist(id int64) (NetworkPlaylist, bool)
	DoneAddingNetworkPlaylist(playlist NetworkPlaylist)
}

// DownloadCanceler is optionally implemented by UI to learn about abandoned downloads.
type DownloadCanceler interface {
	CancelNetworkTrackDownload(track Track)
}

// Metadata answers queries about the local library.
type Metadata interface {
	GetSourceList(ctx context.Context) ([]envelope.Document, error)
	GetPlaylist(ctx context.Context, id int64, fields []string) (envelope.Document, error)
	GetSong(ctx context.Context, id int64) ([]byte, error)
	GetAllMetadataForTrack(ctx context.Context, id int64) (envelope.Document, error)
}

// Database stores data received from peers.
type Database interface {
	AddTracksForPlaylistData(ctx context.Context, playlist envelope.Document, item NetworkPlaylist) error
	SaveStreamingNetworkTrack(ctx context.Context, track Track, data []byte) error
	CreateFileForNetworkTrack(ctx context.Context, track Track, data []byte, metadata envelope.Document) error
}

// Playback is the player.
type Playback interface {
	IsStreaming() bool
	CurrentTrack() (Track, bool)
	PlayNetworkSong()
}

// Collaborators are the components connectivity manager works with.
type Collaborators struct {
	UI       UI
	Metadata Metadata
	Database Database
	Playback Playback
}

func (c Collaborators) validate() error {
	switch {
	case c.UI == nil:
		return errors.New("UI is not set")
	case c.Metadata == nil:
		return errors.New("metadata is not set")
	case c.Database == nil:
		return errors.New("database is not set")
	case c.Playback == nil:
		return errors.New("playback is not set")
	}
	return nil
}
