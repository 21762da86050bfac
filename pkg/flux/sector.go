// Package flux implements the signal-to-structure pipeline for recovering
// sector data from raw magnetic-flux captures of floppy disks: timing
// recovery, sync location, sector structure decoding (IBM and Amiga
// dialects), CRC verification and correction, multi-revolution fusion and
// the forensic recovery orchestrator.
package flux

// StatusFlags is a bitmask of non-exclusive per-record conditions observed
// while decoding a sector. Multiple flags may be set simultaneously.
type StatusFlags uint16

const (
	// FlagIDCRCBad indicates the ID record CRC did not verify.
	FlagIDCRCBad StatusFlags = 1 << iota
	// FlagDataCRCBad indicates the data record CRC did not verify.
	FlagDataCRCBad
	// FlagMissingData indicates no data mark was found within the search gap.
	FlagMissingData
	// FlagDuplicateID indicates a previous ID record on this track carries
	// the same cylinder/head/sector identity.
	FlagDuplicateID
	// FlagSizeMismatch indicates the declared data length differs from the
	// length expected from the ID size code.
	FlagSizeMismatch
	// FlagTruncated indicates the record ran past the end of the track data.
	FlagTruncated
	// FlagWeakSync indicates the sync match was fuzzy (Hamming distance > 0).
	FlagWeakSync
	// FlagUnusualMark indicates a mark byte that is neither of the two
	// expected values for its position.
	FlagUnusualMark
)

// Has reports whether all bits of mask are set.
func (f StatusFlags) Has(mask StatusFlags) bool {
	return f&mask == mask
}

// FluxCapture is an ordered sequence of flux transition timestamps
// (nanoseconds, monotonically non-decreasing) for one revolution of one
// physical track/head. It is immutable once captured; the pipeline only
// borrows it.
type FluxCapture struct {
	Cylinder   uint8
	Head       uint8
	Timestamps []int64
}

// BitStream is a packed bit sequence produced by timing recovery, with a
// parallel weak-bit marker, the final bitcell estimate and the count of
// transitions dropped as implausible.
type BitStream struct {
	Bits      []byte
	Weak      []byte
	Length    int
	BitcellNs float64
	Dropped   int
}

// NewBitStream allocates an empty bitstream with capacity for n bits.
func NewBitStream(n int) *BitStream {
	if n < 0 {
		n = 0
	}
	return &BitStream{
		Bits: make([]byte, (n+7)/8),
		Weak: make([]byte, (n+7)/8),
	}
}

// Bit returns the bit at pos (0 or 1); positions outside the stream read 0.
func (b *BitStream) Bit(pos int) int {
	if pos < 0 || pos >= b.Length {
		return 0
	}
	return int(b.Bits[pos>>3]>>(7-(pos&7))) & 1
}

// IsWeak reports whether the bit at pos was marked weak.
func (b *BitStream) IsWeak(pos int) bool {
	if pos < 0 || pos >= b.Length {
		return false
	}
	return b.Weak[pos>>3]&(0x80>>(pos&7)) != 0
}

func (b *BitStream) setBit(pos, val int) {
	if val != 0 {
		b.Bits[pos>>3] |= 0x80 >> (pos & 7)
	} else {
		b.Bits[pos>>3] &^= 0x80 >> (pos & 7)
	}
}

func (b *BitStream) markWeak(pos int) {
	b.Weak[pos>>3] |= 0x80 >> (pos & 7)
}

// appendBit grows the stream by one bit, reallocating as needed.
func (b *BitStream) appendBit(val int, weak bool) {
	if b.Length>>3 >= len(b.Bits) {
		b.Bits = append(b.Bits, 0)
		b.Weak = append(b.Weak, 0)
	}
	b.setBit(b.Length, val)
	if weak {
		b.markWeak(b.Length)
	}
	b.Length++
}

// IDRecord is one decoded ID address mark: the sector's declared identity
// plus both CRC values, retained for audit even when they match.
type IDRecord struct {
	Cylinder uint8
	Head     uint8
	Sector   uint8
	SizeCode uint8

	ReadCRC     uint16
	ComputedCRC uint16

	MarkOffset int
	SyncOffset int

	Flags StatusFlags
}

// Identity returns a comparable key for duplicate detection.
func (r IDRecord) Identity() uint32 {
	return uint32(r.Cylinder)<<16 | uint32(r.Head)<<8 | uint32(r.Sector)
}

// DataRecord is one decoded data address mark paired with an ID record.
type DataRecord struct {
	Mark           byte
	DeclaredLength int
	ExpectedLength int

	ReadCRC     uint16
	ComputedCRC uint16

	MarkOffset int
	SyncOffset int

	Flags StatusFlags
}

// AmigaHeader carries the Amiga-specific header fields of a sector: the
// decoded info word components, the 16-byte sector label and both pairs of
// read/computed 32-bit checksums.
type AmigaHeader struct {
	Format       byte
	SectorsToGap byte
	Label        [16]byte

	ReadHeaderSum     uint32
	ComputedHeaderSum uint32
	ReadDataSum       uint32
	ComputedDataSum   uint32
}

// ExtractedSector combines one ID record, its paired data record (nil when
// the data mark is missing) and the raw sector bytes. The caller owns the
// returned value exclusively; the pipeline retains no reference.
type ExtractedSector struct {
	ID    IDRecord
	Data  *DataRecord
	Bytes []byte

	Amiga *AmigaHeader

	Valid     bool
	IDCRCOK   bool
	DataCRCOK bool
	Deleted   bool
	Weak      bool
	// Corrected marks a sector synthesized by CRC correction or fusion;
	// the original extraction it derives from is retained alongside it.
	Corrected bool

	Flags      StatusFlags
	Confidence float64
}

// SizeFromCode returns the sector byte length implied by an IBM size code
// (128 << code; only the low three bits participate).
func SizeFromCode(code uint8) int {
	return 128 << (code & 7)
}

// ExtractionStats aggregates per-track decode results.
type ExtractionStats struct {
	SectorsFound    int
	SectorsWithData int
	SectorsCRCOK    int
	SectorsDeleted  int
	SectorsWeak     int
	SuccessRate     float64
}

// Add accounts one sector into the statistics.
func (s *ExtractionStats) Add(sec *ExtractedSector) {
	s.SectorsFound++
	if sec.Data != nil {
		s.SectorsWithData++
		if sec.IDCRCOK && sec.DataCRCOK {
			s.SectorsCRCOK++
		}
	}
	if sec.Deleted {
		s.SectorsDeleted++
	}
	if sec.Weak {
		s.SectorsWeak++
	}
	if s.SectorsFound > 0 {
		s.SuccessRate = float64(s.SectorsCRCOK) / float64(s.SectorsFound)
	}
}

// TrackDecodeResult is the output of one structure-decoder pass over a
// single revolution or byte buffer.
type TrackDecodeResult struct {
	Encoding Encoding
	Sectors  []ExtractedSector
	Stats    ExtractionStats
}
