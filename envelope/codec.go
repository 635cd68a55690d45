package envelope

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

const base64LineLength = 64

var (
	// ErrUnknownType is reported when the kind or sub-type of the envelope is not known.
	ErrUnknownType = errors.New("unknown envelope type")

	errNotObject = errors.New("document is not an object")
)

// DecodeError describes the field which made the envelope invalid.
type DecodeError struct {
	Field  string
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid envelope: %s", e.Reason)
	}
	return fmt.Sprintf("invalid envelope field %q: %s", e.Field, e.Reason)
}

// Unwrap returns the underlying error.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

type requestHeader struct {
	Type    Kind   `json:"type"`
	Request string `json:"request"`
}

type payloadHeader struct {
	Type    Kind   `json:"type"`
	Payload string `json:"payload"`
}

// Encode serializes the envelope.
func Encode(e Envelope) ([]byte, error) {
	var v any
	switch e := e.(type) {
	case NameRequest:
		v = requestHeader{Type: KindRequest, Request: TypeName}
	case ListRequest:
		v = requestHeader{Type: KindRequest, Request: TypeList}
	case PlaylistRequest:
		v = struct {
			requestHeader
			ID     int64    `json:"id"`
			Fields []string `json:"fields"`
		}{
			requestHeader: requestHeader{Type: KindRequest, Request: TypePlaylist},
			ID:            e.ID,
			Fields:        nonNil(e.Fields),
		}
	case TrackRequest:
		v = struct {
			requestHeader
			ID int64 `json:"id"`
		}{
			requestHeader: requestHeader{Type: KindRequest, Request: TypeTrack},
			ID:            e.ID,
		}
	case TrackDownloadRequest:
		v = struct {
			requestHeader
			ID int64 `json:"id"`
		}{
			requestHeader: requestHeader{Type: KindRequest, Request: TypeTrackDownload},
			ID:            e.ID,
		}
	case NamePayload:
		v = struct {
			payloadHeader
			Name string `json:"name"`
		}{
			payloadHeader: payloadHeader{Type: KindPayload, Payload: TypeName},
			Name:          e.Name,
		}
	case ListPayload:
		for i, d := range e.List {
			if err := checkDocument(fmt.Sprintf("list[%d]", i), d); err != nil {
				return nil, err
			}
		}
		v = struct {
			payloadHeader
			List []Document `json:"list"`
			Name string     `json:"name"`
		}{
			payloadHeader: payloadHeader{Type: KindPayload, Payload: TypeList},
			List:          nonNil(e.List),
			Name:          e.Name,
		}
	case PlaylistPayload:
		if e.Playlist != nil {
			if err := checkDocument("playlist", e.Playlist); err != nil {
				return nil, err
			}
		}
		v = struct {
			payloadHeader
			ID       int64    `json:"id"`
			Playlist Document `json:"playlist"`
			Library  string   `json:"library"`
		}{
			payloadHeader: payloadHeader{Type: KindPayload, Payload: TypePlaylist},
			ID:            e.ID,
			Playlist:      e.Playlist,
			Library:       e.Library,
		}
	case TrackPayload:
		v = struct {
			payloadHeader
			Track string `json:"track"`
		}{
			payloadHeader: payloadHeader{Type: KindPayload, Payload: TypeTrack},
			Track:         encodeTrack(e.Track),
		}
	case TrackDownloadPayload:
		if e.Metadata == nil {
			return nil, errors.New("track download payload requires metadata")
		}
		if err := checkDocument("metadata", e.Metadata); err != nil {
			return nil, err
		}
		v = struct {
			payloadHeader
			ID       int64    `json:"id"`
			Track    string   `json:"track"`
			Metadata Document `json:"metadata"`
		}{
			payloadHeader: payloadHeader{Type: KindPayload, Payload: TypeTrackDownload},
			ID:            e.ID,
			Track:         encodeTrack(e.Track),
			Metadata:      e.Metadata,
		}
	default:
		return nil, errors.Errorf("unsupported envelope %T", e)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return data, nil
}

// Decode parses the envelope. Any malformed input results in an error wrapping
// *DecodeError.
func Decode(data []byte) (Envelope, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, errors.WithStack(&DecodeError{Reason: err.Error()})
	}

	d := decoder{fields: fields}
	kind := d.String("type")
	if d.err != nil {
		return nil, d.err
	}

	var e Envelope
	switch Kind(kind) {
	case KindRequest:
		e = d.request(d.String(string(KindRequest)))
	case KindPayload:
		e = d.payload(d.String(string(KindPayload)))
	default:
		d.fail("type", fmt.Sprintf("unknown kind %q", kind), ErrUnknownType)
	}
	if d.err != nil {
		return nil, d.err
	}
	return e, nil
}

type decoder struct {
	fields map[string]json.RawMessage
	err    error
}

func (d *decoder) request(subType string) Envelope {
	if d.err != nil {
		return nil
	}

	switch subType {
	case TypeName:
		return NameRequest{}
	case TypeList:
		return ListRequest{}
	case TypePlaylist:
		return PlaylistRequest{
			ID:     d.Int("id"),
			Fields: d.Strings("fields"),
		}
	case TypeTrack:
		return TrackRequest{ID: d.Int("id")}
	case TypeTrackDownload:
		return TrackDownloadRequest{ID: d.Int("id")}
	default:
		d.fail(string(KindRequest), fmt.Sprintf("unknown request %q", subType), ErrUnknownType)
		return nil
	}
}

func (d *decoder) payload(subType string) Envelope {
	if d.err != nil {
		return nil
	}

	switch subType {
	case TypeName:
		return NamePayload{Name: d.String("name")}
	case TypeList:
		return ListPayload{
			List: d.Documents("list"),
			Name: d.String("name"),
		}
	case TypePlaylist:
		return PlaylistPayload{
			ID:       d.Int("id"),
			Playlist: d.NullableDocument("playlist"),
			Library:  d.String("library"),
		}
	case TypeTrack:
		return TrackPayload{Track: d.Track("track")}
	case TypeTrackDownload:
		return TrackDownloadPayload{
			ID:       d.Int("id"),
			Track:    d.Track("track"),
			Metadata: d.Document("metadata"),
		}
	default:
		d.fail(string(KindPayload), fmt.Sprintf("unknown payload %q", subType), ErrUnknownType)
		return nil
	}
}

func (d *decoder) fail(field, reason string, err error) {
	if d.err == nil {
		d.err = errors.WithStack(&DecodeError{Field: field, Reason: reason, Err: err})
	}
}

// raw returns the value of required field, null values are reported as missing unless
// nullable is set.
func (d *decoder) raw(field string, nullable bool) (json.RawMessage, bool) {
	if d.err != nil {
		return nil, false
	}
	v, exists := d.fields[field]
	if !exists {
		d.fail(field, "missing", nil)
		return nil, false
	}
	if bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
		if !nullable {
			d.fail(field, "null", nil)
		}
		return nil, false
	}
	return v, true
}

func (d *decoder) unmarshal(field string, v any) bool {
	raw, ok := d.raw(field, false)
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, v); err != nil {
		d.fail(field, err.Error(), nil)
		return false
	}
	return true
}

func (d *decoder) String(field string) string {
	var v string
	d.unmarshal(field, &v)
	return v
}

func (d *decoder) Int(field string) int64 {
	var v int64
	d.unmarshal(field, &v)
	return v
}

func (d *decoder) Strings(field string) []string {
	var v []string
	if !d.unmarshal(field, &v) || len(v) == 0 {
		return nil
	}
	return v
}

func (d *decoder) Track(field string) []byte {
	var v string
	if !d.unmarshal(field, &v) {
		return nil
	}
	data, err := decodeTrack(v)
	if err != nil {
		d.fail(field, err.Error(), nil)
		return nil
	}
	return data
}

func (d *decoder) Document(field string) Document {
	raw, ok := d.raw(field, false)
	if !ok {
		return nil
	}
	return d.document(field, raw)
}

func (d *decoder) NullableDocument(field string) Document {
	raw, ok := d.raw(field, true)
	if !ok {
		return nil
	}
	return d.document(field, raw)
}

func (d *decoder) Documents(field string) []Document {
	var raws []json.RawMessage
	if !d.unmarshal(field, &raws) || len(raws) == 0 {
		return nil
	}
	docs := make([]Document, 0, len(raws))
	for i, raw := range raws {
		doc := d.document(fmt.Sprintf("%s[%d]", field, i), raw)
		if doc == nil {
			return nil
		}
		docs = append(docs, doc)
	}
	return docs
}

func (d *decoder) document(field string, raw json.RawMessage) Document {
	doc, err := compactDocument(raw)
	if err != nil {
		d.fail(field, err.Error(), nil)
		return nil
	}
	return doc
}

// checkDocument verifies that the document is encoded exactly the way Decode returns it.
func checkDocument(field string, d Document) error {
	compact, err := compactDocument(d)
	if err != nil {
		return errors.Wrapf(err, "invalid document %s", field)
	}
	if !bytes.Equal(compact, d) {
		return errors.Errorf("document %s is not compact", field)
	}
	return nil
}

func encodeTrack(data []byte) string {
	s := base64.StdEncoding.EncodeToString(data)
	if len(s) <= base64LineLength {
		return s
	}

	var b strings.Builder
	b.Grow(len(s) + 2*len(s)/base64LineLength)
	for len(s) > base64LineLength {
		b.WriteString(s[:base64LineLength])
		b.WriteString("\r\n")
		s = s[base64LineLength:]
	}
	b.WriteString(s)
	return b.String()
}

func decodeTrack(s string) ([]byte, error) {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '\r', '\n', ' ', '\t':
			return -1
		}
		return r
	}, s)

	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	return data, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
