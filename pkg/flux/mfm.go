package flux

// Encoding selects the recording scheme a track was written with.
type Encoding int

const (
	EncodingUnknown Encoding = iota
	EncodingFM
	EncodingMFM
	EncodingAmiga
	EncodingGCR
)

// String returns the conventional name of the encoding.
func (e Encoding) String() string {
	switch e {
	case EncodingFM:
		return "FM"
	case EncodingMFM:
		return "MFM"
	case EncodingAmiga:
		return "Amiga"
	case EncodingGCR:
		return "GCR"
	}
	return "Unknown"
}

// mfmDecodeByte reads one data byte from a raw MFM bitstream. Raw MFM
// alternates clock and data cells; the data bits sit at the odd offsets of
// each 16-bit group.
func mfmDecodeByte(bs *BitStream, pos int) byte {
	var b byte
	for i := 0; i < 8; i++ {
		b = b<<1 | byte(bs.Bit(pos+1+i*2))
	}
	return b
}

// mfmDecodeBytes reads n data bytes starting at pos, 16 raw bits per byte.
// It returns the bytes read and whether the full count was available.
func mfmDecodeBytes(bs *BitStream, pos, n int) ([]byte, bool) {
	if pos < 0 {
		return nil, false
	}
	out := make([]byte, 0, n)
	for i := 0; i < n; i++ {
		if pos+i*16+15 >= bs.Length {
			return out, false
		}
		out = append(out, mfmDecodeByte(bs, pos+i*16))
	}
	return out, true
}

// regionWeak reports whether any raw bit in [pos, pos+width) is weak.
func regionWeak(bs *BitStream, pos, width int) bool {
	for i := 0; i < width; i++ {
		if bs.IsWeak(pos + i) {
			return true
		}
	}
	return false
}

// fmDecodeByte reads one data byte from a raw FM bitstream: every cell pair
// is a clock bit (normally 1) followed by a data bit.
func fmDecodeByte(bs *BitStream, pos int) byte {
	var b byte
	for i := 0; i < 8; i++ {
		b = b<<1 | byte(bs.Bit(pos+1+i*2))
	}
	return b
}

// MFMTrackBuilder assembles a raw MFM bitstream from data bytes, inserting
// clock bits by the MFM rule (clock = 1 only between two zero data bits)
// and emitting the special missing-clock sync words verbatim. It is used to
// synthesize tracks for tests and to master new images.
type MFMTrackBuilder struct {
	bs      *BitStream
	lastBit int
}

// NewMFMTrackBuilder returns an empty builder.
func NewMFMTrackBuilder() *MFMTrackBuilder {
	return &MFMTrackBuilder{bs: NewBitStream(0)}
}

// WriteRawBits appends width raw bits of v, MSB first, bypassing the clock
// rule. The last appended bit becomes the clocking context.
func (tb *MFMTrackBuilder) WriteRawBits(v uint64, width int) {
	for i := width - 1; i >= 0; i-- {
		bit := int(v>>uint(i)) & 1
		tb.bs.appendBit(bit, false)
		tb.lastBit = bit
	}
}

// WriteSyncA1 appends n raw 0x4489 sync words (0xA1 with a missing clock).
func (tb *MFMTrackBuilder) WriteSyncA1(n int) {
	for i := 0; i < n; i++ {
		tb.WriteRawBits(0x4489, 16)
	}
}

// WriteByte appends one data byte as 16 raw MFM bits.
func (tb *MFMTrackBuilder) WriteByte(b byte) {
	for i := 7; i >= 0; i-- {
		data := int(b>>uint(i)) & 1
		clock := 0
		if tb.lastBit == 0 && data == 0 {
			clock = 1
		}
		tb.bs.appendBit(clock, false)
		tb.bs.appendBit(data, false)
		tb.lastBit = data
	}
}

// WriteBytes appends each byte in order.
func (tb *MFMTrackBuilder) WriteBytes(p []byte) {
	for _, b := range p {
		tb.WriteByte(b)
	}
}

// WriteGap appends n filler bytes (conventionally 0x4E between records and
// 0x00 before sync runs).
func (tb *MFMTrackBuilder) WriteGap(fill byte, n int) {
	for i := 0; i < n; i++ {
		tb.WriteByte(fill)
	}
}

// BitStream returns the assembled raw bitstream.
func (tb *MFMTrackBuilder) BitStream() *BitStream {
	return tb.bs
}

// FluxTimestamps renders the assembled bitstream as flux transition
// timestamps at the given bitcell width, one transition per one bit. The
// result is suitable as a synthetic FluxCapture with zero timing noise.
func (tb *MFMTrackBuilder) FluxTimestamps(bitcellNs float64) []int64 {
	var out []int64
	t := int64(0)
	run := int64(0)
	out = append(out, 0)
	for i := 0; i < tb.bs.Length; i++ {
		run++
		if tb.bs.Bit(i) == 1 {
			t += run * int64(bitcellNs)
			out = append(out, t)
			run = 0
		}
	}
	return out
}
