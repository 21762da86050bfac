package flux

import "fmt"

// Fusion limits. Captures beyond these bounds are rejected rather than
// silently truncated.
const (
	MaxFusionRevolutions = 16
	MaxFusionBits        = 1 << 24
	// DefaultFusionThreshold is the minimum per-bit agreement ratio below
	// which a fused bit is marked weak.
	DefaultFusionThreshold = 0.8
)

// FusionResult is a majority-vote consensus across revolutions of the same
// track. Confidence holds the agreement ratio per bit; bits below the
// threshold, and exact ties, surface in the consensus stream's weak mask.
type FusionResult struct {
	Consensus   *BitStream
	Confidence  []float64
	Revolutions int
	// WeakBits counts consensus bits under the agreement threshold.
	WeakBits int
	// Ties counts positions where the vote split exactly in half.
	Ties int
}

// FuseBitstreams merges revolutions of one track by per-bit majority vote.
// The consensus length is the shortest input length. A tie votes 0 and is
// marked weak. Fusing a single revolution returns it unchanged with full
// confidence, and fusing identical streams is idempotent. The inputs are
// never modified.
func FuseBitstreams(revs []*BitStream, threshold float64) (*FusionResult, error) {
	if len(revs) == 0 {
		return nil, fmt.Errorf("fusion requires at least one revolution")
	}
	if len(revs) > MaxFusionRevolutions {
		return nil, fmt.Errorf("fusion limited to %d revolutions, got %d", MaxFusionRevolutions, len(revs))
	}
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultFusionThreshold
	}

	length := revs[0].Length
	for _, r := range revs {
		if r == nil {
			return nil, fmt.Errorf("fusion input revolution is nil")
		}
		if r.Length > MaxFusionBits {
			return nil, fmt.Errorf("revolution of %d bits exceeds fusion limit of %d", r.Length, MaxFusionBits)
		}
		if r.Length < length {
			length = r.Length
		}
	}

	n := len(revs)
	out := NewBitStream(length)
	out.BitcellNs = revs[0].BitcellNs
	res := &FusionResult{
		Consensus:   out,
		Confidence:  make([]float64, length),
		Revolutions: n,
	}

	for pos := 0; pos < length; pos++ {
		ones := 0
		for _, r := range revs {
			ones += int(r.Bit(pos))
		}
		zeros := n - ones
		agree := ones
		bit := byte(1)
		if zeros >= ones {
			// Ties vote zero.
			agree = zeros
			bit = 0
		}
		conf := float64(agree) / float64(n)
		res.Confidence[pos] = conf
		if bit == 1 {
			out.setBit(pos, 1)
		}
		if ones == zeros {
			res.Ties++
		}
		if conf < threshold || ones == zeros {
			out.markWeak(pos)
			res.WeakBits++
		}
	}
	out.Length = length
	return res, nil
}

// FuseSectorGroup merges copies of the same sector read across
// revolutions. If any copy already verifies, the first verified copy wins
// untouched. Otherwise the payloads are fused byte-by-bit by majority vote
// and the result is returned for re-verification by the caller. The input
// sectors are never modified.
func FuseSectorGroup(copies []*ExtractedSector) (*ExtractedSector, error) {
	if len(copies) == 0 {
		return nil, fmt.Errorf("sector fusion requires at least one copy")
	}
	if len(copies) > MaxFusionRevolutions {
		return nil, fmt.Errorf("sector fusion limited to %d copies, got %d", MaxFusionRevolutions, len(copies))
	}
	for _, c := range copies {
		if c.Valid {
			return c, nil
		}
	}

	// No copy verifies: fuse the payload bits of the copies that carry
	// data.
	var withData []*ExtractedSector
	size := 0
	for _, c := range copies {
		if c.Data != nil && len(c.Bytes) > 0 {
			if size == 0 || len(c.Bytes) < size {
				size = len(c.Bytes)
			}
			withData = append(withData, c)
		}
	}
	if len(withData) == 0 {
		return copies[0], nil
	}
	if len(withData) == 1 {
		return withData[0], nil
	}

	fused := *withData[0]
	fused.Bytes = make([]byte, size)
	fused.Weak = false
	// Header verdicts survive fusion; the data verdict is rebuilt below
	// from the fused payload.
	fused.Flags = withData[0].Flags &
		(FlagIDCRCBad | FlagUnusualMark | FlagDuplicateID | FlagSizeMismatch)
	for i := 0; i < size; i++ {
		var b byte
		for bit := 0; bit < 8; bit++ {
			mask := byte(0x80 >> bit)
			ones := 0
			for _, c := range withData {
				if c.Bytes[i]&mask != 0 {
					ones++
				}
			}
			zeros := len(withData) - ones
			if ones > zeros {
				b |= mask
			} else if ones == zeros {
				fused.Weak = true
			}
		}
		fused.Bytes[i] = b
	}
	if fused.Weak {
		fused.Flags |= FlagWeakSync
	}

	// The fused payload needs fresh verification, under the checksum
	// discipline of the sector's dialect.
	if fused.Data != nil {
		rec := *withData[0].Data
		verified := false
		if fused.Amiga != nil {
			hdr := *withData[0].Amiga
			hdr.ComputedDataSum = amigaDataSum(fused.Bytes)
			verified = hdr.ComputedDataSum == hdr.ReadDataSum
			fused.Amiga = &hdr
		} else {
			rec.ComputedCRC = CRC16CCITT(dataCRCInput(EncodingMFM, rec.Mark, fused.Bytes))
			verified = rec.ComputedCRC == rec.ReadCRC
		}
		if verified {
			rec.Flags &^= FlagDataCRCBad
		} else {
			rec.Flags |= FlagDataCRCBad
		}
		fused.Data = &rec
	}
	fused.ID.Flags = withData[0].ID.Flags
	finishSector(&fused)
	fused.Confidence *= confidenceScale(len(withData), len(copies))
	return &fused, nil
}

func confidenceScale(used, total int) float64 {
	if total == 0 {
		return 1
	}
	return float64(used) / float64(total)
}
