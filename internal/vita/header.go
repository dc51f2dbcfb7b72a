package vita

import (
	"encoding/binary"
	"fmt"
)

// Packet types from the header's top nibble.
const (
	TypeIFData           uint8 = 0x0
	TypeIFDataWithStream uint8 = 0x1
	TypeExtData          uint8 = 0x2
	TypeExtDataStream    uint8 = 0x3
	TypeContext          uint8 = 0x4
)

// FlexOUI is the organizationally unique identifier carried in Flex class ids.
const FlexOUI uint32 = 0x001c2d

// DiscoveryPacketClass marks the radio's discovery announcement.
const DiscoveryPacketClass uint16 = 0xffff

// Header is the decoded first word of a VITA-49 packet.
type Header struct {
	Type       uint8
	HasClassID bool
	HasTrailer bool
	TSI        uint8 // integer timestamp type, 2 bits
	TSF        uint8 // fractional timestamp type, 2 bits
	Sequence   uint8 // 4-bit packet count
	SizeWords  uint16
}

// ParseHeader splits a header word into its fields.
func ParseHeader(word uint32) Header {
	return Header{
		Type:       uint8(word>>28) & 0xF,
		HasClassID: (word>>27)&0x1 == 1,
		HasTrailer: (word>>26)&0x1 == 1,
		TSI:        uint8(word>>22) & 0x3,
		TSF:        uint8(word>>20) & 0x3,
		Sequence:   uint8(word>>16) & 0xF,
		SizeWords:  uint16(word & 0xFFFF),
	}
}

// Word packs the header back into its wire representation.
func (h Header) Word() uint32 {
	word := uint32(h.Type&0xF) << 28
	if h.HasClassID {
		word |= 1 << 27
	}
	if h.HasTrailer {
		word |= 1 << 26
	}
	word |= uint32(h.TSI&0x3) << 22
	word |= uint32(h.TSF&0x3) << 20
	word |= uint32(h.Sequence&0xF) << 16
	word |= uint32(h.SizeWords)
	return word
}

// ReadHeader decodes the header word at the start of data.
func ReadHeader(data []byte) (Header, error) {
	if len(data) < 4 {
		return Header{}, ErrShortPacket
	}
	return ParseHeader(binary.BigEndian.Uint32(data[0:4])), nil
}

// ClassID is the 64-bit class identifier: pad(8) OUI(24) information class(16) packet class(16).
type ClassID uint64

// MakeClassID assembles a class id from its parts.
func MakeClassID(oui uint32, infoClass, packetClass uint16) ClassID {
	return ClassID(uint64(oui&0xFFFFFF)<<32 | uint64(infoClass)<<16 | uint64(packetClass))
}

// OUI returns the organizationally unique identifier.
func (c ClassID) OUI() uint32 {
	return uint32(c>>32) & 0xFFFFFF
}

// InformationClass returns the information class code.
func (c ClassID) InformationClass() uint16 {
	return uint16(c >> 16)
}

// PacketClass returns the packet class code.
func (c ClassID) PacketClass() uint16 {
	return uint16(c)
}

// IsFlexDiscovery reports whether the class id identifies a Flex discovery announcement.
func (c ClassID) IsFlexDiscovery() bool {
	return c.OUI() == FlexOUI && c.PacketClass() == DiscoveryPacketClass
}

func (c ClassID) String() string {
	return fmt.Sprintf("oui=0x%06x info=0x%04x class=0x%04x", c.OUI(), c.InformationClass(), c.PacketClass())
}
