package flux

import "math/bits"

// SyncPattern describes an address-mark sync sequence to search for: a raw
// bit pattern of Width bits that must appear MinRepeat times back to back.
type SyncPattern struct {
	Bits      uint64
	Width     int
	MinRepeat int
}

// Predefined sync patterns. Additional patterns are ordinary caller-supplied
// data; nothing below is hard-coded elsewhere.
var (
	// PatternIBMSync is the raw MFM encoding of 0xA1 with a missing clock
	// (0x4489), repeated three times before IBM ID and data marks.
	PatternIBMSync = SyncPattern{Bits: 0x4489, Width: 16, MinRepeat: 3}
	// PatternIBMSyncC2 is the raw MFM encoding of 0xC2 with a missing
	// clock (0x5224), used by the IBM index mark.
	PatternIBMSyncC2 = SyncPattern{Bits: 0x5224, Width: 16, MinRepeat: 3}
	// PatternAmigaSync is the Amiga double sync word 0x4489 0x4489.
	PatternAmigaSync = SyncPattern{Bits: 0x44894489, Width: 32, MinRepeat: 1}
	// PatternGCRSync is a representative GCR sync run of ten one bits.
	PatternGCRSync = SyncPattern{Bits: 0x3FF, Width: 10, MinRepeat: 1}
)

// SyncMatch is one qualifying position found by FindSync. Distance is the
// total Hamming distance across all repeats (0 = exact); Confidence is
// 1 - distance/total width.
type SyncMatch struct {
	Pos        int
	Distance   int
	Confidence float64
}

// readBits extracts width bits starting at pos, MSB first. Positions past
// the end of the stream read as zero.
func (b *BitStream) readBits(pos, width int) uint64 {
	var v uint64
	for i := 0; i < width; i++ {
		v = v<<1 | uint64(b.Bit(pos+i))
	}
	return v
}

// FindSync slides a window across every bit position of bs and returns all
// positions where pattern matches within maxHamming bit errors per repeat,
// up to maxMatches results. Matches may overlap; the structure decoder above
// this layer selects the first usable match per expected mark. A bitstream
// shorter than the pattern yields no matches.
func FindSync(bs *BitStream, pattern SyncPattern, maxHamming, maxMatches int) []SyncMatch {
	if bs == nil || pattern.Width <= 0 || pattern.Width > 64 || maxMatches <= 0 {
		return nil
	}
	repeat := pattern.MinRepeat
	if repeat < 1 {
		repeat = 1
	}
	total := pattern.Width * repeat
	if bs.Length < total {
		return nil
	}

	var matches []SyncMatch
	for pos := 0; pos+total <= bs.Length; pos++ {
		dist := 0
		ok := true
		for r := 0; r < repeat; r++ {
			window := bs.readBits(pos+r*pattern.Width, pattern.Width)
			d := bits.OnesCount64(window ^ pattern.Bits)
			if d > maxHamming {
				ok = false
				break
			}
			dist += d
		}
		if !ok {
			continue
		}
		matches = append(matches, SyncMatch{
			Pos:        pos,
			Distance:   dist,
			Confidence: 1.0 - float64(dist)/float64(total),
		})
		if len(matches) >= maxMatches {
			break
		}
	}
	return matches
}

// DetectEncoding classifies a bitstream by taking a census of the sync
// patterns present. IBM marks use three 0x4489 words back to back while
// Amiga records use exactly two, so triple runs outvote doubles; a surplus
// of long one-bit runs suggests GCR.
func DetectEncoding(bs *BitStream) Encoding {
	if bs == nil || bs.Length < 1000 {
		return EncodingUnknown
	}

	const needed = 5
	ibm := len(FindSync(bs, PatternIBMSync, 0, 1000))
	amiga := len(FindSync(bs, PatternAmigaSync, 0, 1000))
	gcr := len(FindSync(bs, PatternGCRSync, 0, 1000))

	switch {
	case ibm >= needed:
		return EncodingMFM
	case amiga >= needed && ibm == 0:
		return EncodingAmiga
	case gcr >= needed*4:
		return EncodingGCR
	}
	return EncodingUnknown
}
