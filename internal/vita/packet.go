package vita

import (
	"encoding/binary"
	"errors"
	"math"
)

// Decode failures. Receivers count these and move on.
var (
	ErrShortPacket = errors.New("SHORT_PACKET")
	ErrTruncated   = errors.New("TRUNCATED")
	ErrNoPayload   = errors.New("NO_PAYLOAD")
)

// Packet is one decoded IF data packet.
type Packet struct {
	StreamID      uint32
	TimestampInt  uint32
	TimestampFrac uint64
	Sequence      uint8
	Samples       []complex64
}

// Decode parses a DAXIQ datagram. Any short read or inconsistent size field
// returns an error and no packet.
func Decode(data []byte) (*Packet, error) {
	hdr, err := ReadHeader(data)
	if err != nil {
		return nil, err
	}
	offset := 4

	if len(data) < offset+4 {
		return nil, ErrShortPacket
	}
	pkt := &Packet{
		StreamID: binary.BigEndian.Uint32(data[offset:]),
		Sequence: hdr.Sequence,
	}
	offset += 4

	// The class id was validated at discovery; here it is only skipped.
	if hdr.HasClassID {
		if len(data) < offset+8 {
			return nil, ErrTruncated
		}
		offset += 8
	}

	if hdr.TSI != 0 {
		if len(data) < offset+4 {
			return nil, ErrTruncated
		}
		pkt.TimestampInt = binary.BigEndian.Uint32(data[offset:])
		offset += 4
	}

	if hdr.TSF != 0 {
		if len(data) < offset+8 {
			return nil, ErrTruncated
		}
		pkt.TimestampFrac = binary.BigEndian.Uint64(data[offset:])
		offset += 8
	}

	end := int(hdr.SizeWords) * 4
	if hdr.HasTrailer {
		end -= 4
	}
	if end > len(data) {
		return nil, ErrTruncated
	}
	if end-offset < 8 {
		return nil, ErrNoPayload
	}

	words := (end - offset) / 4
	pkt.Samples = make([]complex64, words/2)
	for i := range pkt.Samples {
		base := offset + i*8
		re := math.Float32frombits(binary.LittleEndian.Uint32(data[base:]))
		im := math.Float32frombits(binary.LittleEndian.Uint32(data[base+4:]))
		pkt.Samples[i] = complex(re, im)
	}

	return pkt, nil
}

// EncodeOptions selects the optional fields written by Encode.
type EncodeOptions struct {
	Type    uint8
	ClassID *ClassID
	TSI     uint8
	TSF     uint8
	Trailer bool
}

// Encode builds a datagram for p. Timestamps are written only when the
// matching timestamp type is non-zero.
func Encode(p *Packet, opts EncodeOptions) []byte {
	words := 2 + 2*len(p.Samples)
	if opts.ClassID != nil {
		words += 2
	}
	if opts.TSI != 0 {
		words++
	}
	if opts.TSF != 0 {
		words += 2
	}
	if opts.Trailer {
		words++
	}

	hdr := Header{
		Type:       opts.Type,
		HasClassID: opts.ClassID != nil,
		HasTrailer: opts.Trailer,
		TSI:        opts.TSI,
		TSF:        opts.TSF,
		Sequence:   p.Sequence,
		SizeWords:  uint16(words),
	}

	buf := make([]byte, words*4)
	binary.BigEndian.PutUint32(buf[0:], hdr.Word())
	binary.BigEndian.PutUint32(buf[4:], p.StreamID)
	offset := 8
	if opts.ClassID != nil {
		binary.BigEndian.PutUint64(buf[offset:], uint64(*opts.ClassID))
		offset += 8
	}
	if opts.TSI != 0 {
		binary.BigEndian.PutUint32(buf[offset:], p.TimestampInt)
		offset += 4
	}
	if opts.TSF != 0 {
		binary.BigEndian.PutUint64(buf[offset:], p.TimestampFrac)
		offset += 8
	}
	for _, s := range p.Samples {
		binary.LittleEndian.PutUint32(buf[offset:], math.Float32bits(real(s)))
		binary.LittleEndian.PutUint32(buf[offset+4:], math.Float32bits(imag(s)))
		offset += 8
	}
	// Trailer word stays zero.
	return buf
}

// SequenceGap returns how many packets were skipped between last and current
// on a 4-bit counter. Gaps of 16 or more alias to smaller values.
func SequenceGap(last, current uint8) uint8 {
	expected := (last + 1) & 0xF
	return (current - expected) & 0xF
}
