package libshare

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/outofforest/libshare/envelope"
	"github.com/outofforest/libshare/transport"
	"github.com/outofforest/libshare/wire"
)

type sentEnvelope struct {
	Peer     wire.PeerID
	Envelope envelope.Envelope
}

type fakeTransport struct {
	self    wire.PeerIdentity
	sendErr error

	advertised string
	browsed    string
	invites    []wire.PeerIdentity
	sent       []sentEnvelope
}

func (t *fakeTransport) Run(ctx context.Context, _ chan<- transport.Event) error {
	<-ctx.Done()
	return errors.WithStack(ctx.Err())
}

func (t *fakeTransport) Self() wire.PeerIdentity {
	return t.self
}

func (t *fakeTransport) Advertise(serviceID string) error {
	t.advertised = serviceID
	return nil
}

func (t *fakeTransport) StopAdvertising() {
	t.advertised = ""
}

func (t *fakeTransport) Browse(serviceID string) error {
	t.browsed = serviceID
	return nil
}

func (t *fakeTransport) StopBrowsing() {
	t.browsed = ""
}

func (t *fakeTransport) Invite(peer wire.PeerIdentity, _ time.Duration) {
	t.invites = append(t.invites, peer)
}

func (t *fakeTransport) Send(peer wire.PeerID, data []byte, _ bool) error {
	if t.sendErr != nil {
		return t.sendErr
	}
	e, err := envelope.Decode(data)
	if err != nil {
		return err
	}
	t.sent = append(t.sent, sentEnvelope{Peer: peer, Envelope: e})
	return nil
}

func (t *fakeTransport) takeSent() []sentEnvelope {
	sent := t.sent
	t.sent = nil
	return sent
}

type libraryAdded struct {
	Peer wire.PeerIdentity
	Name string
}

type sourcesAdded struct {
	Peer wire.PeerIdentity
	List []envelope.Document
}

type fakeUI struct {
	playlists map[int64]NetworkPlaylist

	added    []libraryAdded
	removed  []wire.PeerIdentity
	sources  []sourcesAdded
	done     []NetworkPlaylist
	canceled []Track
}

func (ui *fakeUI) AddNetworkedLibrary(peer wire.PeerIdentity, libraryName string) {
	ui.added = append(ui.added, libraryAdded{Peer: peer, Name: libraryName})
}

func (ui *fakeUI) RemoveNetworkedLibrary(peer wire.PeerIdentity) {
	ui.removed = append(ui.removed, peer)
}

func (ui *fakeUI) AddSourcesForNetworkedLibrary(list []envelope.Document, peer wire.PeerIdentity) {
	ui.sources = append(ui.sources, sourcesAdded{Peer: peer, List: list})
}

func (ui *fakeUI) GetNetworkPlaylist(id int64) (NetworkPlaylist, bool) {
	p, exists := ui.playlists[id]
	return p, exists
}

func (ui *fakeUI) DoneAddingNetworkPlaylist(playlist NetworkPlaylist) {
	ui.done = append(ui.done, playlist)
}

func (ui *fakeUI) CancelNetworkTrackDownload(track Track) {
	ui.canceled = append(ui.canceled, track)
}

type fakeMetadata struct {
	sources   []envelope.Document
	playlists map[int64]envelope.Document
	songs     map[int64][]byte
	metadata  map[int64]envelope.Document
}

func (m *fakeMetadata) GetSourceList(context.Context) ([]envelope.Document, error) {
	return m.sources, nil
}

func (m *fakeMetadata) GetPlaylist(_ context.Context, id int64, _ []string) (envelope.Document, error) {
	p, exists := m.playlists[id]
	if !exists {
		return nil, errors.WithStack(ErrNotFound)
	}
	return p, nil
}

func (m *fakeMetadata) GetSong(_ context.Context, id int64) ([]byte, error) {
	s, exists := m.songs[id]
	if !exists {
		return nil, errors.WithStack(ErrNotFound)
	}
	return s, nil
}

func (m *fakeMetadata) GetAllMetadataForTrack(_ context.Context, id int64) (envelope.Document, error) {
	d, exists := m.metadata[id]
	if !exists {
		return nil, errors.WithStack(ErrNotFound)
	}
	return d, nil
}

type playlistStored struct {
	Playlist envelope.Document
	Item     NetworkPlaylist
}

type trackStored struct {
	Track    Track
	Data     []byte
	Metadata envelope.Document
}

type fakeDatabase struct {
	playlists []playlistStored
	streamed  []trackStored
	files     []trackStored
}

func (db *fakeDatabase) AddTracksForPlaylistData(_ context.Context, playlist envelope.Document, item NetworkPlaylist) error {
	db.playlists = append(db.playlists, playlistStored{Playlist: playlist, Item: item})
	return nil
}

func (db *fakeDatabase) SaveStreamingNetworkTrack(_ context.Context, track Track, data []byte) error {
	db.streamed = append(db.streamed, trackStored{Track: track, Data: data})
	return nil
}

func (db *fakeDatabase) CreateFileForNetworkTrack(
	_ context.Context,
	track Track,
	data []byte,
	metadata envelope.Document,
) error {
	db.files = append(db.files, trackStored{Track: track, Data: data, Metadata: metadata})
	return nil
}

type fakePlayback struct {
	streaming bool
	current   *Track
	played    int
}

func (p *fakePlayback) IsStreaming() bool {
	return p.streaming
}

func (p *fakePlayback) CurrentTrack() (Track, bool) {
	if p.current == nil {
		return Track{}, false
	}
	return *p.current, true
}

func (p *fakePlayback) PlayNetworkSong() {
	p.played++
}

type fakeTimer struct {
	Delay   time.Duration
	Fire    func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	wasActive := !t.stopped
	t.stopped = true
	return wasActive
}
