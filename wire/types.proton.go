package wire

import (
	"reflect"
	"unsafe"

	"github.com/outofforest/proton"
	"github.com/outofforest/proton/helpers"
	"github.com/pkg/errors"
)

const (
	id1 uint64 = iota + 1
	id0
)

var _ proton.Marshaller = Marshaller{}

// NewMarshaller creates marshaller.
func NewMarshaller() Marshaller {
	return Marshaller{}
}

// Marshaller marshals and unmarshals messages.
type Marshaller struct {
}

// Messages returns list of the message types supported by marshaller.
func (m Marshaller) Messages() []any {
	return []any {
		Hello{},
		Announcement{},
	}
}

// ID returns ID of message type.
func (m Marshaller) ID(msg any) (uint64, error) {
	switch msg.(type) {
	case *Hello:
		return id1, nil
	case *Announcement:
		return id0, nil
	default:
		return 0, errors.Errorf("unknown message type %T", msg)
	}
}

// Size computes the size of marshalled message.
func (m Marshaller) Size(msg any) (uint64, error) {
	switch msg2 := msg.(type) {
	case *Hello:
		return size1(msg2), nil
	case *Announcement:
		return size0(msg2), nil
	default:
		return 0, errors.Errorf("unknown message type %T", msg)
	}
}

// Marshal marshals message.
func (m Marshaller) Marshal(msg any, buf []byte) (retID, retSize uint64, retErr error) {
	defer helpers.RecoverMarshal(&retErr)

	switch msg2 := msg.(type) {
	case *Hello:
		return id1, marshal1(msg2, buf), nil
	case *Announcement:
		return id0, marshal0(msg2, buf), nil
	default:
		return 0, 0, errors.Errorf("unknown message type %T", msg)
	}
}

// Unmarshal unmarshals message.
func (m Marshaller) Unmarshal(id uint64, buf []byte) (retMsg any, retSize uint64, retErr error) {
	defer helpers.RecoverUnmarshal(&retErr)

	switch id {
	case id1:
		msg := &Hello{}
		return msg, unmarshal1(msg, buf), nil
	case id0:
		msg := &Announcement{}
		return msg, unmarshal0(msg, buf), nil
	default:
		return nil, 0, errors.Errorf("unknown ID %d", id)
	}
}

// MakePatch creates a patch.
func (m Marshaller) MakePatch(msgDst, msgSrc any, buf []byte) (retID, retSize uint64, retErr error) {
	defer helpers.RecoverMakePatch(&retErr)

	switch msg2 := msgDst.(type) {
	case *Hello:
		return id1, makePatch1(msg2, msgSrc.(*Hello), buf), nil
	case *Announcement:
		return id0, makePatch0(msg2, msgSrc.(*Announcement), buf), nil
	default:
		return 0, 0, errors.Errorf("unknown message type %T", msgDst)
	}
}

// ApplyPatch applies patch.
func (m Marshaller) ApplyPatch(msg any, buf []byte) (retSize uint64, retErr error) {
	defer helpers.RecoverApplyPatch(&retErr)

	switch msg2 := msg.(type) {
	case *Hello:
		return applyPatch1(msg2, buf), nil
	case *Announcement:
		return applyPatch0(msg2, buf), nil
	default:
		return 0, errors.Errorf("unknown message type %T", msg)
	}
}

func size0(m *Announcement) uint64 {
	var n uint64 = 35
	{
		// ServiceID

		{
			l := uint64(len(m.ServiceID))
			helpers.UInt64Size(l, &n)
			n += l
		}
	}
	{
		// Name

		{
			l := uint64(len(m.Name))
			helpers.UInt64Size(l, &n)
			n += l
		}
	}
	{
		// Port

		helpers.UInt64Size(m.Port, &n)
	}
	return n
}

func marshal0(m *Announcement, b []byte) uint64 {
	var o uint64
	{
		// ServiceID

		{
			l := uint64(len(m.ServiceID))
			helpers.UInt64Marshal(l, b, &o)
			copy(b[o:o+l], m.ServiceID)
			o += l
		}
	}
	{
		// PeerID

		copy(b[o:o+32], unsafe.Slice(&m.PeerID[0], 32))
		o += 32
	}
	{
		// Name

		{
			l := uint64(len(m.Name))
			helpers.UInt64Marshal(l, b, &o)
			copy(b[o:o+l], m.Name)
			o += l
		}
	}
	{
		// Port

		helpers.UInt64Marshal(m.Port, b, &o)
	}

	return o
}

func unmarshal0(m *Announcement, b []byte) uint64 {
	var o uint64
	{
		// ServiceID

		{
			var l uint64
			helpers.UInt64Unmarshal(&l, b, &o)
			if l > 0 {
				m.ServiceID = string(b[o:o+l])
				o += l
			}
		}
	}
	{
		// PeerID

		copy(unsafe.Slice(&m.PeerID[0], 32), b[o:o+32])
		o += 32
	}
	{
		// Name

		{
			var l uint64
			helpers.UInt64Unmarshal(&l, b, &o)
			if l > 0 {
				m.Name = string(b[o:o+l])
				o += l
			}
		}
	}
	{
		// Port

		helpers.UInt64Unmarshal(&m.Port, b, &o)
	}

	return o
}

func makePatch0(m, mSrc *Announcement, b []byte) uint64 {
	var o uint64 = 1
	{
		// ServiceID

		if reflect.DeepEqual(m.ServiceID, mSrc.ServiceID) {
			b[0] &= 0xFE
		} else {
			b[0] |= 0x01
			{
				l := uint64(len(m.ServiceID))
				helpers.UInt64Marshal(l, b, &o)
				copy(b[o:o+l], m.ServiceID)
				o += l
			}
		}
	}
	{
		// PeerID

		if reflect.DeepEqual(m.PeerID, mSrc.PeerID) {
			b[0] &= 0xFD
		} else {
			b[0] |= 0x02
			copy(b[o:o+32], unsafe.Slice(&m.PeerID[0], 32))
			o += 32
		}
	}
	{
		// Name

		if reflect.DeepEqual(m.Name, mSrc.Name) {
			b[0] &= 0xFB
		} else {
			b[0] |= 0x04
			{
				l := uint64(len(m.Name))
				helpers.UInt64Marshal(l, b, &o)
				copy(b[o:o+l], m.Name)
				o += l
			}
		}
	}
	{
		// Port

		if reflect.DeepEqual(m.Port, mSrc.Port) {
			b[0] &= 0xF7
		} else {
			b[0] |= 0x08
			helpers.UInt64Marshal(m.Port, b, &o)
		}
	}

	return o
}

func applyPatch0(m *Announcement, b []byte) uint64 {
	var o uint64 = 1
	{
		// ServiceID

		if b[0]&0x01 != 0 {
			{
				var l uint64
				helpers.UInt64Unmarshal(&l, b, &o)
				if l > 0 {
					m.ServiceID = string(b[o:o+l])
					o += l
				}
			}
		}
	}
	{
		// PeerID

		if b[0]&0x02 != 0 {
			copy(unsafe.Slice(&m.PeerID[0], 32), b[o:o+32])
			o += 32
		}
	}
	{
		// Name

		if b[0]&0x04 != 0 {
			{
				var l uint64
				helpers.UInt64Unmarshal(&l, b, &o)
				if l > 0 {
					m.Name = string(b[o:o+l])
					o += l
				}
			}
		}
	}
	{
		// Port

		if b[0]&0x08 != 0 {
			helpers.UInt64Unmarshal(&m.Port, b, &o)
		}
	}

	return o
}

func size1(m *Hello) uint64 {
	var n uint64 = 33
	{
		// Name

		{
			l := uint64(len(m.Name))
			helpers.UInt64Size(l, &n)
			n += l
		}
	}
	return n
}

func marshal1(m *Hello, b []byte) uint64 {
	var o uint64
	{
		// PeerID

		copy(b[o:o+32], unsafe.Slice(&m.PeerID[0], 32))
		o += 32
	}
	{
		// Name

		{
			l := uint64(len(m.Name))
			helpers.UInt64Marshal(l, b, &o)
			copy(b[o:o+l], m.Name)
			o += l
		}
	}

	return o
}

func unmarshal1(m *Hello, b []byte) uint64 {
	var o uint64
	{
		// PeerID

		copy(unsafe.Slice(&m.PeerID[0], 32), b[o:o+32])
		o += 32
	}
	{
		// Name

		{
			var l uint64
			helpers.UInt64Unmarshal(&l, b, &o)
			if l > 0 {
				m.Name = string(b[o:o+l])
				o += l
			}
		}
	}

	return o
}

func makePatch1(m, mSrc *Hello, b []byte) uint64 {
	var o uint64 = 1
	{
		// PeerID

		if reflect.DeepEqual(m.PeerID, mSrc.PeerID) {
			b[0] &= 0xFE
		} else {
			b[0] |= 0x01
			copy(b[o:o+32], unsafe.Slice(&m.PeerID[0], 32))
			o += 32
		}
	}
	{
		// Name

		if reflect.DeepEqual(m.Name, mSrc.Name) {
			b[0] &= 0xFD
		} else {
			b[0] |= 0x02
			{
				l := uint64(len(m.Name))
				helpers.UInt64Marshal(l, b, &o)
				copy(b[o:o+l], m.Name)
				o += l
			}
		}
	}

	return o
}

func applyPatch1(m *Hello, b []byte) uint64 {
	var o uint64 = 1
	{
		// PeerID

		if b[0]&0x01 != 0 {
			copy(unsafe.Slice(&m.PeerID[0], 32), b[o:o+32])
			o += 32
		}
	}
	{
		// Name

		if b[0]&0x02 != 0 {
			{
				var l uint64
				helpers.UInt64Unmarshal(&l, b, &o)
				if l > 0 {
					m.Name = string(b[o:o+l])
					o += l
				}
			}
		}
	}

	return o
}
