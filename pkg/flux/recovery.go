package flux

import (
	"fmt"
	"sync"
)

// Recovery phase names, in execution order. Every diagnosis entry names
// the phase that produced it.
const (
	PhaseScan      = "scan"
	PhaseCorrelate = "correlate"
	PhaseDecode    = "decode"
	PhaseCorrect   = "correct"
	PhaseValidate  = "validate"
	PhaseDocument  = "document"
)

// DiagnosisEntry is one append-only finding in the recovery audit trail.
type DiagnosisEntry struct {
	Phase      string
	Finding    string
	Confidence float64
	// RawEvidencePreserved records that the finding was derived without
	// mutating the captured evidence. The pipeline never mutates captures,
	// so this is always true for entries it writes itself.
	RawEvidencePreserved bool
}

// DiagnosisLog is a concurrency-safe append-only list of findings.
type DiagnosisLog struct {
	mu      sync.Mutex
	entries []DiagnosisEntry
}

// Append records a finding. Entries are never modified or removed.
func (l *DiagnosisLog) Append(phase, finding string, confidence float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, DiagnosisEntry{
		Phase:                phase,
		Finding:              finding,
		Confidence:           confidence,
		RawEvidencePreserved: true,
	})
}

// Entries returns a copy of the log.
func (l *DiagnosisLog) Entries() []DiagnosisEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]DiagnosisEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// RecoveryConfig parameterizes a full track recovery run.
type RecoveryConfig struct {
	PLL     PLLConfig
	Decoder DecoderConfig
	// MaxCorrectionBits bounds the CRC corrector (0 disables correction,
	// 1 single-bit, 2 adds the double-bit search).
	MaxCorrectionBits int
	// FusionThreshold is the per-bit agreement ratio below which fused
	// bits are marked weak.
	FusionThreshold float64
	// Log receives diagnosis entries; a nil Log allocates a private one.
	Log *DiagnosisLog
}

// DefaultRecoveryConfig returns the settings for a standard MFM
// double-density recovery with single-bit correction.
func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		PLL:               DefaultPLLConfig(),
		Decoder:           DefaultDecoderConfig(),
		MaxCorrectionBits: 1,
		FusionThreshold:   DefaultFusionThreshold,
	}
}

// RecoveryResult is the outcome of one track recovery: the best sector set
// obtainable from the given revolutions, the aggregate statistics and the
// complete diagnosis trail. Corrected or fused sectors appear alongside
// the failed originals they derive from, never in place of them.
type RecoveryResult struct {
	Cylinder uint8
	Head     uint8

	Encoding    Encoding
	Revolutions int

	Sectors   []ExtractedSector
	Stats     ExtractionStats
	Diagnosis []DiagnosisEntry
}

// RecoverTrack runs the six diagnosis phases over one or more revolutions
// of a single track: timing recovery on each capture, sync correlation and
// encoding detection, structure decoding per revolution, correction of
// failed sectors by cross-revolution fusion and bounded CRC bit-flipping,
// validation of everything the correction phase produced, and a final
// documenting pass. The captures are read-only throughout.
func RecoverTrack(captures []*FluxCapture, cfg RecoveryConfig) (*RecoveryResult, error) {
	if len(captures) == 0 {
		return nil, fmt.Errorf("track recovery requires at least one capture")
	}
	log := cfg.Log
	if log == nil {
		log = &DiagnosisLog{}
	}

	res := &RecoveryResult{
		Cylinder:    captures[0].Cylinder,
		Head:        captures[0].Head,
		Revolutions: len(captures),
	}

	// Phase 1: scan. Timing recovery on every revolution.
	streams := make([]*BitStream, 0, len(captures))
	for i, c := range captures {
		bs := DecodeFlux(c, cfg.PLL)
		streams = append(streams, bs)
		log.Append(PhaseScan, fmt.Sprintf(
			"revolution %d: %d transitions, %d bits, %d dropped, final bitcell %.1fns",
			i, len(c.Timestamps), bs.Length, bs.Dropped, bs.BitcellNs), 1.0)
	}

	// Phase 2: correlate. Detect the encoding when the caller did not fix
	// one, and census the sync marks.
	enc := cfg.Decoder.Encoding
	if enc == EncodingUnknown {
		for _, bs := range streams {
			if enc = DetectEncoding(bs); enc != EncodingUnknown {
				break
			}
		}
	}
	res.Encoding = enc
	if enc == EncodingUnknown {
		log.Append(PhaseCorrelate, "no recognizable sync pattern in any revolution", 0.0)
		res.Diagnosis = log.Entries()
		return res, nil
	}
	log.Append(PhaseCorrelate, fmt.Sprintf("encoding detected: %s", enc), 1.0)

	// Raw-bitstream structure decoding covers MFM and Amiga; FM records
	// come in as demodulated byte buffers (DecodeTrackBytes), and GCR has
	// a sync census only. Both are findings, not errors.
	if enc == EncodingFM || enc == EncodingGCR {
		log.Append(PhaseDecode, fmt.Sprintf(
			"no raw-bitstream structure decoder for %s; FM records decode from demodulated bytes only", enc), 0.0)
		res.Diagnosis = log.Entries()
		return res, nil
	}

	// Phase 3: decode. Structure-decode every revolution independently.
	dcfg := cfg.Decoder
	dcfg.Encoding = enc
	perRev := make([]*TrackDecodeResult, len(streams))
	for i, bs := range streams {
		var tr *TrackDecodeResult
		if enc == EncodingAmiga {
			tr = DecodeAmigaTrack(bs, dcfg)
		} else {
			tr = DecodeTrackBits(bs, dcfg)
		}
		perRev[i] = tr
		log.Append(PhaseDecode, fmt.Sprintf(
			"revolution %d: %d sectors, %d verified",
			i, tr.Stats.SectorsFound, tr.Stats.SectorsCRCOK), 1.0)
		for s := range tr.Sectors {
			sec := &tr.Sectors[s]
			if sec.Flags.Has(FlagMissingData) {
				log.Append(PhaseDecode, fmt.Sprintf(
					"revolution %d: sector C%d/H%d/S%d has no data mark",
					i, sec.ID.Cylinder, sec.ID.Head, sec.ID.Sector), sec.Confidence)
			}
		}
	}

	// Group sector copies across revolutions by identity, order of first
	// appearance.
	var order []uint32
	groups := make(map[uint32][]*ExtractedSector)
	for _, tr := range perRev {
		for i := range tr.Sectors {
			sec := &tr.Sectors[i]
			key := sec.ID.Identity()
			if _, seen := groups[key]; !seen {
				order = append(order, key)
			}
			groups[key] = append(groups[key], sec)
		}
	}

	// Phase 4: correct. Pick the best copy per identity; fuse and
	// bit-flip the groups where no copy verifies. Failed originals stay
	// in the result next to anything synthesized from them.
	for _, key := range order {
		copies := groups[key]
		best := copies[0]
		for _, c := range copies[1:] {
			if c.Valid && !best.Valid {
				best = c
			}
		}
		if best.Valid {
			res.Sectors = append(res.Sectors, *best)
			if len(copies) > 1 && !copies[0].Valid {
				log.Append(PhaseCorrect, fmt.Sprintf(
					"sector C%d/H%d/S%d: verified copy found on a later revolution",
					best.ID.Cylinder, best.ID.Head, best.ID.Sector), 1.0)
			}
			continue
		}

		res.Sectors = append(res.Sectors, *best)

		if len(copies) > 1 {
			fused, err := FuseSectorGroup(copies)
			if err != nil {
				log.Append(PhaseCorrect, fmt.Sprintf(
					"sector C%d/H%d/S%d: fusion failed: %v",
					best.ID.Cylinder, best.ID.Head, best.ID.Sector, err), 0.0)
			} else if fused != best && fused.Valid {
				out := *fused
				out.Corrected = true
				res.Sectors = append(res.Sectors, out)
				log.Append(PhaseCorrect, fmt.Sprintf(
					"sector C%d/H%d/S%d: recovered by %d-revolution fusion",
					out.ID.Cylinder, out.ID.Head, out.ID.Sector, len(copies)), out.Confidence)
				continue
			}
		}

		if cfg.MaxCorrectionBits > 0 && enc != EncodingAmiga {
			if out, flipped, ok := correctSector(best, enc, cfg.MaxCorrectionBits); ok {
				res.Sectors = append(res.Sectors, *out)
				log.Append(PhaseCorrect, fmt.Sprintf(
					"sector C%d/H%d/S%d: CRC restored by flipping %d bit(s)",
					out.ID.Cylinder, out.ID.Head, out.ID.Sector, flipped), out.Confidence)
				continue
			}
		}

		log.Append(PhaseCorrect, fmt.Sprintf(
			"sector C%d/H%d/S%d: unrecoverable (flags %#04x)",
			best.ID.Cylinder, best.ID.Head, best.ID.Sector, uint16(best.Flags)), best.Confidence)
	}

	// Phase 5: validate. Re-verify every synthesized sector against its
	// checksum and recompute the aggregate statistics.
	for i := range res.Sectors {
		sec := &res.Sectors[i]
		if sec.Corrected && sec.Data != nil {
			verified := false
			if sec.Amiga != nil {
				verified = amigaDataSum(sec.Bytes) == sec.Amiga.ReadDataSum
			} else {
				verified = CRC16CCITT(dataCRCInput(enc, sec.Data.Mark, sec.Bytes)) == sec.Data.ReadCRC
			}
			if !verified {
				sec.Valid = false
				sec.DataCRCOK = false
				sec.Flags |= FlagDataCRCBad
				log.Append(PhaseValidate, fmt.Sprintf(
					"sector C%d/H%d/S%d: synthesized copy failed re-verification",
					sec.ID.Cylinder, sec.ID.Head, sec.ID.Sector), 0.0)
			}
		}
		res.Stats.Add(sec)
	}
	log.Append(PhaseValidate, fmt.Sprintf(
		"%d of %d sectors verified", res.Stats.SectorsCRCOK, res.Stats.SectorsFound), 1.0)

	// Phase 6: document.
	log.Append(PhaseDocument, fmt.Sprintf(
		"track C%d/H%d: %s, %d revolutions, success rate %.2f",
		res.Cylinder, res.Head, enc, res.Revolutions, res.Stats.SuccessRate), 1.0)

	res.Diagnosis = log.Entries()
	return res, nil
}

// correctSector attempts a bounded bit-flip correction of a sector whose
// data CRC failed. It works on a copy of the protected region; the input
// sector is never modified. The returned sector, when correction succeeds,
// carries the corrector's confidence.
func correctSector(sec *ExtractedSector, enc Encoding, maxBits int) (*ExtractedSector, int, bool) {
	if sec.Data == nil || len(sec.Bytes) == 0 || sec.DataCRCOK || !sec.IDCRCOK {
		return nil, 0, false
	}
	protected := dataCRCInput(enc, sec.Data.Mark, sec.Bytes)
	cr := CorrectBuffer(VariantCRC16CCITT, protected, uint32(sec.Data.ReadCRC), maxBits)
	if !cr.Corrected || cr.BitsFlipped == 0 {
		return nil, 0, false
	}

	prefix := len(protected) - len(sec.Bytes)
	out := *sec
	out.Bytes = append([]byte(nil), cr.Data[prefix:]...)
	out.Corrected = true
	rec := *sec.Data
	rec.ComputedCRC = CRC16CCITT(cr.Data)
	rec.Flags &^= FlagDataCRCBad
	out.Data = &rec
	out.Flags &^= FlagDataCRCBad
	out.DataCRCOK = true
	out.Valid = out.IDCRCOK
	out.Confidence = cr.Confidence
	return &out, cr.BitsFlipped, true
}
