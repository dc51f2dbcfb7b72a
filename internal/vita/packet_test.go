package vita

import (
	"errors"
	"math"
	"testing"
)

func TestHeaderWordRoundTrip(t *testing.T) {
	hdr := Header{
		Type:       TypeIFDataWithStream,
		HasClassID: true,
		HasTrailer: true,
		TSI:        1,
		TSF:        2,
		Sequence:   0xB,
		SizeWords:  0x0104,
	}

	got := ParseHeader(hdr.Word())
	if got != hdr {
		t.Errorf("Expected %+v, got %+v", hdr, got)
	}
}

func TestParseHeaderKnownWord(t *testing.T) {
	// type 1, class id, TSI 1, TSF 1, sequence 5, 264 words
	h := ParseHeader(0x18550108)

	if h.Type != TypeIFDataWithStream {
		t.Errorf("Expected type 1, got %d", h.Type)
	}
	if !h.HasClassID {
		t.Error("Expected class id flag")
	}
	if h.HasTrailer {
		t.Error("Expected no trailer flag")
	}
	if h.TSI != 1 || h.TSF != 1 {
		t.Errorf("Expected TSI=1 TSF=1, got TSI=%d TSF=%d", h.TSI, h.TSF)
	}
	if h.Sequence != 5 {
		t.Errorf("Expected sequence 5, got %d", h.Sequence)
	}
	if h.SizeWords != 264 {
		t.Errorf("Expected 264 words, got %d", h.SizeWords)
	}
}

func TestClassID(t *testing.T) {
	cid := MakeClassID(FlexOUI, 0x534c, DiscoveryPacketClass)

	if cid.OUI() != FlexOUI {
		t.Errorf("Expected OUI 0x%06x, got 0x%06x", FlexOUI, cid.OUI())
	}
	if cid.InformationClass() != 0x534c {
		t.Errorf("Expected info class 0x534c, got 0x%04x", cid.InformationClass())
	}
	if !cid.IsFlexDiscovery() {
		t.Error("Expected discovery class id")
	}
	if MakeClassID(FlexOUI, 0, 0x8003).IsFlexDiscovery() {
		t.Error("Expected IQ class id not to be a discovery class id")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cid := MakeClassID(FlexOUI, 0x534c, 0x8003)
	samples := make([]complex64, 128)
	for i := range samples {
		phase := 2 * math.Pi * float64(i) / 32
		samples[i] = complex(float32(0.5*math.Cos(phase)), float32(0.5*math.Sin(phase)))
	}

	tests := []struct {
		name string
		opts EncodeOptions
	}{
		{"bare", EncodeOptions{Type: TypeIFDataWithStream}},
		{"class id", EncodeOptions{Type: TypeIFDataWithStream, ClassID: &cid}},
		{"timestamps", EncodeOptions{Type: TypeIFDataWithStream, TSI: 1, TSF: 1}},
		{"all fields", EncodeOptions{Type: TypeIFDataWithStream, ClassID: &cid, TSI: 3, TSF: 2, Trailer: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := &Packet{
				StreamID:      0x20000001,
				TimestampInt:  1700000000,
				TimestampFrac: 123456789,
				Sequence:      9,
				Samples:       samples,
			}
			out, err := Decode(Encode(in, tt.opts))
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}

			if out.StreamID != in.StreamID {
				t.Errorf("Expected stream 0x%08x, got 0x%08x", in.StreamID, out.StreamID)
			}
			if out.Sequence != in.Sequence {
				t.Errorf("Expected sequence %d, got %d", in.Sequence, out.Sequence)
			}
			if tt.opts.TSI != 0 && out.TimestampInt != in.TimestampInt {
				t.Errorf("Expected integer timestamp %d, got %d", in.TimestampInt, out.TimestampInt)
			}
			if tt.opts.TSI == 0 && out.TimestampInt != 0 {
				t.Errorf("Expected zero integer timestamp, got %d", out.TimestampInt)
			}
			if tt.opts.TSF != 0 && out.TimestampFrac != in.TimestampFrac {
				t.Errorf("Expected fractional timestamp %d, got %d", in.TimestampFrac, out.TimestampFrac)
			}
			if len(out.Samples) != len(samples) {
				t.Fatalf("Expected %d samples, got %d", len(samples), len(out.Samples))
			}
			for i := range samples {
				if out.Samples[i] != samples[i] {
					t.Fatalf("Sample %d: expected %v, got %v", i, samples[i], out.Samples[i])
				}
			}
		})
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	cid := MakeClassID(FlexOUI, 0, 0x8003)
	valid := Encode(&Packet{StreamID: 1, Samples: []complex64{1, 2}}, EncodeOptions{
		Type: TypeIFDataWithStream, ClassID: &cid, TSI: 1, TSF: 1, Trailer: true,
	})

	oversized := append([]byte(nil), valid...)
	oversized[2], oversized[3] = 0x01, 0x00 // declares 256 words

	tiny := Encode(&Packet{StreamID: 1, Samples: []complex64{1}}, EncodeOptions{})
	tiny[3]-- // one payload word left

	tests := []struct {
		name    string
		data    []byte
		wantErr error
	}{
		{"empty", nil, ErrShortPacket},
		{"three bytes", []byte{0x10, 0x00, 0x00}, ErrShortPacket},
		{"header only", valid[:4], ErrShortPacket},
		{"class id cut", valid[:12], ErrTruncated},
		{"integer timestamp cut", valid[:18], ErrTruncated},
		{"fractional timestamp cut", valid[:24], ErrTruncated},
		{"size overruns buffer", oversized, ErrTruncated},
		{"payload below two words", tiny, ErrNoPayload},
		{"size shorter than header", []byte{0x10, 0x00, 0x00, 0x01, 0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0, 0}, ErrNoPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pkt, err := Decode(tt.data)
			if pkt != nil {
				t.Errorf("Expected no packet, got %+v", pkt)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDecodeTrailerExcludedFromPayload(t *testing.T) {
	data := Encode(&Packet{StreamID: 7, Samples: []complex64{complex(1, -1), complex(2, -2)}}, EncodeOptions{Trailer: true})

	pkt, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(pkt.Samples) != 2 {
		t.Errorf("Expected 2 samples, got %d", len(pkt.Samples))
	}
}

func TestSequenceGap(t *testing.T) {
	tests := []struct {
		last, current uint8
		want          uint8
	}{
		{5, 6, 0},
		{6, 9, 2},
		{15, 0, 0},
		{14, 1, 2},
		{3, 3, 15},
	}

	for _, tt := range tests {
		if got := SequenceGap(tt.last, tt.current); got != tt.want {
			t.Errorf("SequenceGap(%d, %d): expected %d, got %d", tt.last, tt.current, tt.want, got)
		}
	}
}
