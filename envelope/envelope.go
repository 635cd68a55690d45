// Package envelope defines the messages exchanged by connected peers and their
// textual wire encoding.
//
// Every message is a JSON object carrying a "type" discriminator ("request" or
// "payload") and a sub-type stored under the key named after the kind. Track audio is
// embedded as base64 text broken into 64-character lines.
package envelope

import (
	"bytes"
	"encoding/json"
)

// Kind is the top level discriminator of an envelope.
type Kind string

// Kinds of envelopes.
const (
	KindRequest Kind = "request"
	KindPayload Kind = "payload"
)

// Sub-types shared by requests and payloads.
const (
	TypeName          = "name"
	TypeList          = "list"
	TypePlaylist      = "playlist"
	TypeTrack         = "track"
	TypeTrackDownload = "track download"
)

// Envelope is one protocol message.
type Envelope interface {
	Kind() Kind
	Type() string
}

// Document is an opaque JSON object forwarded between the local library and peers.
type Document json.RawMessage

// NewDocument marshals v into a compact document.
func NewDocument(v any) (Document, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return compactDocument(raw)
}

// ParseDocument returns the compact form of the JSON object.
func ParseDocument(raw []byte) (Document, error) {
	return compactDocument(raw)
}

// Unmarshal decodes the document into v.
func (d Document) Unmarshal(v any) error {
	return json.Unmarshal(d, v)
}

// MarshalJSON returns the document itself, or null for nil document.
func (d Document) MarshalJSON() ([]byte, error) {
	if d == nil {
		return []byte("null"), nil
	}
	return d, nil
}

func compactDocument(raw []byte) (Document, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, errNotObject
	}
	buf := &bytes.Buffer{}
	if err := json.Compact(buf, raw); err != nil {
		return nil, err
	}
	return Document(buf.Bytes()), nil
}

// NameRequest asks the peer for its library name.
type NameRequest struct{}

// ListRequest asks the peer for its source list.
type ListRequest struct{}

// PlaylistRequest asks the peer for a playlist restricted to the given track fields.
type PlaylistRequest struct {
	ID     int64
	Fields []string
}

// TrackRequest asks the peer for track audio to be streamed.
type TrackRequest struct {
	ID int64
}

// TrackDownloadRequest asks the peer for track audio and metadata to be stored locally.
type TrackDownloadRequest struct {
	ID int64
}

// NamePayload carries the library name.
type NamePayload struct {
	Name string
}

// ListPayload carries the source list of the library.
type ListPayload struct {
	List []Document
	Name string
}

// PlaylistPayload carries the playlist. Playlist is nil if the peer does not have it.
type PlaylistPayload struct {
	ID       int64
	Playlist Document
	Library  string
}

// TrackPayload carries track audio for streaming.
type TrackPayload struct {
	Track []byte
}

// TrackDownloadPayload carries track audio together with its metadata.
type TrackDownloadPayload struct {
	ID       int64
	Track    []byte
	Metadata Document
}

// Kind returns envelope kind.
func (NameRequest) Kind() Kind { return KindRequest }

// Type returns envelope sub-type.
func (NameRequest) Type() string { return TypeName }

// Kind returns envelope kind.
func (ListRequest) Kind() Kind { return KindRequest }

// Type returns envelope sub-type.
func (ListRequest) Type() string { return TypeList }

// Kind returns envelope kind.
func (PlaylistRequest) Kind() Kind { return KindRequest }

// Type returns envelope sub-type.
func (PlaylistRequest) Type() string { return TypePlaylist }

// Kind returns envelope kind.
func (TrackRequest) Kind() Kind { return KindRequest }

// Type returns envelope sub-type.
func (TrackRequest) Type() string { return TypeTrack }

// Kind returns envelope kind.
func (TrackDownloadRequest) Kind() Kind { return KindRequest }

// Type returns envelope sub-type.
func (TrackDownloadRequest) Type() string { return TypeTrackDownload }

// Kind returns envelope kind.
func (NamePayload) Kind() Kind { return KindPayload }

// Type returns envelope sub-type.
func (NamePayload) Type() string { return TypeName }

// Kind returns envelope kind.
func (ListPayload) Kind() Kind { return KindPayload }

// Type returns envelope sub-type.
func (ListPayload) Type() string { return TypeList }

// Kind returns envelope kind.
func (PlaylistPayload) Kind() Kind { return KindPayload }

// Type returns envelope sub-type.
func (PlaylistPayload) Type() string { return TypePlaylist }

// Kind returns envelope kind.
func (TrackPayload) Kind() Kind { return KindPayload }

// Type returns envelope sub-type.
func (TrackPayload) Type() string { return TypeTrack }

// Kind returns envelope kind.
func (TrackDownloadPayload) Kind() Kind { return KindPayload }

// Type returns envelope sub-type.
func (TrackDownloadPayload) Type() string { return TypeTrackDownload }
