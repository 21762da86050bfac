package flux

// CRC16CCITTPoly and CRC16CCITTInit define the bit-exact CRC convention of
// IBM-family floppy records. This is the one external contract that must be
// preserved for compatibility with existing captured images.
const (
	CRC16CCITTPoly = 0x1021
	CRC16CCITTInit = 0xFFFF
)

// CRC16Update folds one byte into a running CRC16-CCITT value.
func CRC16Update(crc uint16, b byte) uint16 {
	crc ^= uint16(b) << 8
	for i := 0; i < 8; i++ {
		if crc&0x8000 != 0 {
			crc = crc<<1 ^ CRC16CCITTPoly
		} else {
			crc <<= 1
		}
	}
	return crc
}

// CRC16CCITT computes the CRC16-CCITT of data with the 0xFFFF initial value.
func CRC16CCITT(data []byte) uint16 {
	crc := uint16(CRC16CCITTInit)
	for _, b := range data {
		crc = CRC16Update(crc, b)
	}
	return crc
}

// AmigaChecksum computes the Amiga sector checksum: the XOR of all
// big-endian 32-bit words of data masked to the MFM data-bit positions.
// Trailing bytes short of a full word are treated as high-order bytes of a
// zero-padded word.
func AmigaChecksum(data []byte) uint32 {
	var sum uint32
	i := 0
	for ; i+4 <= len(data); i += 4 {
		w := uint32(data[i])<<24 | uint32(data[i+1])<<16 |
			uint32(data[i+2])<<8 | uint32(data[i+3])
		sum ^= w
	}
	if i < len(data) {
		var last uint32
		for j := 0; i+j < len(data); j++ {
			last |= uint32(data[i+j]) << (24 - j*8)
		}
		sum ^= last
	}
	return sum & 0x55555555
}

// CRCVariant selects the checksum discipline used by CorrectBuffer.
type CRCVariant int

const (
	// VariantCRC16CCITT checks CRC16-CCITT (0x1021, init 0xFFFF).
	VariantCRC16CCITT CRCVariant = iota
	// VariantAmiga checks the Amiga XOR-longword checksum.
	VariantAmiga
)

// CorrectionResult reports the outcome of a bounded bit-flip correction
// search. Data always holds a buffer the caller owns: the corrected bytes
// on success, an untouched copy of the input otherwise.
type CorrectionResult struct {
	Corrected   bool
	BitsFlipped int
	Positions   []int
	Confidence  float64
	Data        []byte
}

func checksumMatches(variant CRCVariant, data []byte, expected uint32) bool {
	switch variant {
	case VariantAmiga:
		return AmigaChecksum(data) == expected
	default:
		return uint32(CRC16CCITT(data)) == expected&0xFFFF
	}
}

// CorrectBuffer attempts to make data's checksum match expected by flipping
// at most maxErrors bits. The search visits bit positions in a fixed order
// (ascending byte, most significant bit first) and accepts the first flip
// set that zeroes the syndrome, so results are reproducible. The input
// buffer is never modified; the search operates on a copy.
//
// A buffer that already verifies returns Corrected with zero flips and
// confidence 1.0. A successful single-bit repair carries confidence 0.95
// and a double-bit repair 0.80, since distinct flips can collide on short
// checksums. When no flip within the bound succeeds, Corrected is false and
// Data equals the original bytes.
func CorrectBuffer(variant CRCVariant, data []byte, expected uint32, maxErrors int) CorrectionResult {
	work := make([]byte, len(data))
	copy(work, data)

	res := CorrectionResult{Data: work}

	if checksumMatches(variant, work, expected) {
		res.Corrected = true
		res.Confidence = 1.0
		return res
	}
	if maxErrors < 1 || len(work) == 0 {
		return res
	}

	// Single-bit search, first zeroing position wins.
	for byteIdx := 0; byteIdx < len(work); byteIdx++ {
		for bit := 0; bit < 8; bit++ {
			mask := byte(0x80) >> bit
			work[byteIdx] ^= mask
			if checksumMatches(variant, work, expected) {
				res.Corrected = true
				res.BitsFlipped = 1
				res.Positions = []int{byteIdx*8 + bit}
				res.Confidence = 0.95
				return res
			}
			work[byteIdx] ^= mask
		}
	}

	if maxErrors >= 2 {
		if res2, ok := correctDoubleBit(variant, work, expected); ok {
			return res2
		}
	}

	return res
}

// correctDoubleBit tries every ordered pair of bit positions. work must be
// restored to the original contents on entry and is returned restored
// unless a correction is found.
func correctDoubleBit(variant CRCVariant, work []byte, expected uint32) (CorrectionResult, bool) {
	n := len(work)
	for i := 0; i < n; i++ {
		for b1 := 0; b1 < 8; b1++ {
			m1 := byte(0x80) >> b1
			work[i] ^= m1
			for j := i; j < n; j++ {
				b2start := 0
				if j == i {
					b2start = b1 + 1
				}
				for b2 := b2start; b2 < 8; b2++ {
					m2 := byte(0x80) >> b2
					work[j] ^= m2
					if checksumMatches(variant, work, expected) {
						return CorrectionResult{
							Corrected:   true,
							BitsFlipped: 2,
							Positions:   []int{i*8 + b1, j*8 + b2},
							Confidence:  0.80,
							Data:        work,
						}, true
					}
					work[j] ^= m2
				}
			}
			work[i] ^= m1
		}
	}
	return CorrectionResult{}, false
}
