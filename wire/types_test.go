package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func marshal(requireT *require.Assertions, msg any) (uint64, []byte) {
	m := NewMarshaller()
	size, err := m.Size(msg)
	requireT.NoError(err)

	buf := make([]byte, size)
	id, n, err := m.Marshal(msg, buf)
	requireT.NoError(err)
	requireT.Equal(size, n)
	return id, buf
}

func TestHelloRoundTrip(t *testing.T) {
	requireT := require.New(t)

	peerID, err := NewPeerID()
	requireT.NoError(err)

	hello := &Hello{
		PeerID: peerID,
		Name:   "Living room",
	}
	id, buf := marshal(requireT, hello)

	msg, n, err := NewMarshaller().Unmarshal(id, buf)
	requireT.NoError(err)
	requireT.Equal(uint64(len(buf)), n)
	requireT.Equal(hello, msg)
	requireT.Equal(PeerIdentity{ID: peerID, Name: "Living room"}, msg.(*Hello).Identity())
}

func TestAnnouncementRoundTrip(t *testing.T) {
	requireT := require.New(t)

	peerID, err := NewPeerID()
	requireT.NoError(err)

	ann := &Announcement{
		ServiceID: "j-tunes",
		PeerID:    peerID,
		Name:      "Kitchen",
		Port:      7448,
	}
	id, buf := marshal(requireT, ann)

	msg, _, err := NewMarshaller().Unmarshal(id, buf)
	requireT.NoError(err)
	requireT.Equal(ann, msg)
}

func TestUnmarshalTruncated(t *testing.T) {
	requireT := require.New(t)

	ann := &Announcement{
		ServiceID: "j-tunes",
		Name:      "Kitchen",
		Port:      7448,
	}
	id, buf := marshal(requireT, ann)

	_, _, err := NewMarshaller().Unmarshal(id, buf[:10])
	requireT.Error(err)
}

func TestUnknownID(t *testing.T) {
	_, _, err := NewMarshaller().Unmarshal(100, []byte{0x00})
	require.Error(t, err)
}
