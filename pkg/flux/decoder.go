package flux

import "math/bits"

// IBM-family address mark bytes.
const (
	MarkIDAM = 0xFE // ID address mark
	MarkDAM  = 0xFB // data address mark
	MarkDDAM = 0xF8 // deleted data address mark
	SyncByte = 0xA1 // sync byte preceding marks in MFM
)

// DecoderConfig bounds one structure-decoder pass.
type DecoderConfig struct {
	// Encoding selects the record framing (EncodingMFM or EncodingFM).
	Encoding Encoding
	// MaxSectors caps the number of sectors emitted per track.
	MaxSectors int
	// MaxSearchGap is the maximum distance, in decoded bytes, between the
	// end of an ID record and the sync of its paired data record.
	MaxSearchGap int
	// SyncHamming is the per-word Hamming tolerance for sync matching on
	// raw bitstreams. Matches with distance > 0 flag the sector weak.
	SyncHamming int
}

// DefaultDecoderConfig returns the limits for a standard MFM track.
func DefaultDecoderConfig() DecoderConfig {
	return DecoderConfig{
		Encoding:     EncodingMFM,
		MaxSectors:   64,
		MaxSearchGap: 64,
		SyncHamming:  0,
	}
}

// idCRCInput assembles the bytes the ID CRC covers: the sync prefix (MFM
// only), the mark and the four ID fields.
func idCRCInput(enc Encoding, mark byte, id IDRecord) []byte {
	var in []byte
	if enc == EncodingMFM {
		in = append(in, SyncByte, SyncByte, SyncByte)
	}
	return append(in, mark, id.Cylinder, id.Head, id.Sector, id.SizeCode)
}

// dataCRCInput assembles the bytes the data CRC covers: the sync prefix
// (MFM only), the mark and the data bytes.
func dataCRCInput(enc Encoding, mark byte, data []byte) []byte {
	var in []byte
	if enc == EncodingMFM {
		in = append(in, SyncByte, SyncByte, SyncByte)
	}
	in = append(in, mark)
	return append(in, data...)
}

// identitySet tracks sector identities already seen on a track so repeats
// can be flagged as duplicates instead of overwriting the first record.
type identitySet map[uint32]bool

func (s identitySet) checkDuplicate(id IDRecord) bool {
	key := id.Identity()
	if s[key] {
		return true
	}
	s[key] = true
	return false
}

// DecodeTrackBits scans a raw bitstream for sector records. Sync runs are
// located with the configured Hamming tolerance, the following bytes are
// MFM-demodulated and records are parsed by the same state machine as
// DecodeTrackBytes: search ID, parse and CRC-check the ID fields, search
// for a data mark within the gap, parse and CRC-check the data, emit, and
// resume searching immediately after whatever was parsed. Decode errors
// never halt the scan.
func DecodeTrackBits(bs *BitStream, cfg DecoderConfig) *TrackDecodeResult {
	res := &TrackDecodeResult{Encoding: cfg.Encoding}
	if bs == nil || bs.Length == 0 {
		return res
	}
	if cfg.MaxSectors <= 0 {
		cfg.MaxSectors = DefaultDecoderConfig().MaxSectors
	}
	if cfg.MaxSearchGap <= 0 {
		cfg.MaxSearchGap = DefaultDecoderConfig().MaxSearchGap
	}

	seen := make(identitySet)
	pos := 0
	for len(res.Sectors) < cfg.MaxSectors {
		sync := nextSyncFrom(bs, pos, cfg.SyncHamming)
		if sync == nil {
			break
		}
		markPos := sync.Pos + PatternIBMSync.Width*PatternIBMSync.MinRepeat
		mark, ok := mfmDecodeBytes(bs, markPos, 1)
		if !ok {
			break
		}
		if mark[0] != MarkIDAM {
			// A stray data mark without a preceding ID; skip past it.
			pos = sync.Pos + 16
			continue
		}

		sector, next := parseBitSector(bs, cfg, sync, markPos, seen)
		if sector != nil {
			res.Stats.Add(sector)
			res.Sectors = append(res.Sectors, *sector)
		}
		if next <= pos {
			next = pos + 16
		}
		pos = next
	}
	return res
}

// nextSyncFrom returns the first IBM sync run at or after pos.
func nextSyncFrom(bs *BitStream, pos, hamming int) *SyncMatch {
	if pos >= bs.Length {
		return nil
	}
	for p := pos; p+48 <= bs.Length; p++ {
		d := 0
		ok := true
		for r := 0; r < 3; r++ {
			w := bs.readBits(p+r*16, 16)
			dr := bits.OnesCount16(uint16(w) ^ 0x4489)
			if dr > hamming {
				ok = false
				break
			}
			d += dr
		}
		if ok {
			return &SyncMatch{Pos: p, Distance: d, Confidence: 1.0 - float64(d)/48.0}
		}
	}
	return nil
}

// parseBitSector parses one ID record and its paired data record from the
// bitstream. It returns the sector (nil when the header is truncated) and
// the bit position scanning should resume from.
func parseBitSector(bs *BitStream, cfg DecoderConfig, sync *SyncMatch, markPos int, seen identitySet) (*ExtractedSector, int) {
	header, ok := mfmDecodeBytes(bs, markPos, 7)
	if !ok {
		return nil, bs.Length
	}

	id := IDRecord{
		Cylinder:   header[1],
		Head:       header[2],
		Sector:     header[3],
		SizeCode:   header[4],
		ReadCRC:    uint16(header[5])<<8 | uint16(header[6]),
		MarkOffset: markPos,
		SyncOffset: sync.Pos,
	}
	id.ComputedCRC = CRC16CCITT(idCRCInput(EncodingMFM, header[0], id))

	sector := &ExtractedSector{ID: id}
	if id.ComputedCRC != id.ReadCRC {
		sector.Flags |= FlagIDCRCBad
	} else {
		sector.IDCRCOK = true
	}
	if sync.Distance > 0 || regionWeak(bs, markPos, 7*16) {
		sector.Flags |= FlagWeakSync
		sector.Weak = true
	}
	if seen.checkDuplicate(id) {
		sector.Flags |= FlagDuplicateID
	}

	idEnd := markPos + 7*16
	expected := SizeFromCode(id.SizeCode)

	dataSync := nextSyncFrom(bs, idEnd, cfg.SyncHamming)
	if dataSync == nil || dataSync.Pos > idEnd+cfg.MaxSearchGap*16 {
		sector.Flags |= FlagMissingData
		finishSector(sector)
		return sector, idEnd
	}

	dmarkPos := dataSync.Pos + 48
	dmark, ok := mfmDecodeBytes(bs, dmarkPos, 1)
	if !ok {
		sector.Flags |= FlagMissingData | FlagTruncated
		finishSector(sector)
		return sector, bs.Length
	}
	if dmark[0] == MarkIDAM {
		// The next record is another ID: this sector has no data field.
		sector.Flags |= FlagMissingData
		finishSector(sector)
		return sector, dataSync.Pos
	}

	data := &DataRecord{
		Mark:           dmark[0],
		ExpectedLength: expected,
		MarkOffset:     dmarkPos,
		SyncOffset:     dataSync.Pos,
	}
	if dmark[0] != MarkDAM && dmark[0] != MarkDDAM {
		data.Flags |= FlagUnusualMark
	}

	payload, full := mfmDecodeBytes(bs, dmarkPos+16, expected+2)
	if !full || len(payload) < expected+2 {
		data.Flags |= FlagTruncated
		if len(payload) > 0 {
			data.DeclaredLength = len(payload)
			sector.Bytes = payload
		}
		data.Flags |= FlagDataCRCBad
		attachData(sector, data, dataSync)
		finishSector(sector)
		return sector, bs.Length
	}

	bytes := payload[:expected]
	data.DeclaredLength = expected
	data.ReadCRC = uint16(payload[expected])<<8 | uint16(payload[expected+1])
	data.ComputedCRC = CRC16CCITT(dataCRCInput(EncodingMFM, dmark[0], bytes))
	if data.ComputedCRC != data.ReadCRC {
		data.Flags |= FlagDataCRCBad
	}

	sector.Bytes = bytes
	attachData(sector, data, dataSync)
	finishSector(sector)
	return sector, dmarkPos + 16 + (expected+2)*16
}

func attachData(sector *ExtractedSector, data *DataRecord, dataSync *SyncMatch) {
	if dataSync != nil && dataSync.Distance > 0 {
		data.Flags |= FlagWeakSync
	}
	sector.Data = data
	sector.Deleted = data.Mark == MarkDDAM
	sector.DataCRCOK = !data.Flags.Has(FlagDataCRCBad)
}

// finishSector folds record flags into the sector and derives the summary
// fields every consumer reads.
func finishSector(sector *ExtractedSector) {
	sector.Flags |= sector.ID.Flags
	if sector.Data != nil {
		sector.Flags |= sector.Data.Flags
		if sector.Data.DeclaredLength != sector.Data.ExpectedLength {
			sector.Flags |= FlagSizeMismatch
		}
	}
	if sector.Flags.Has(FlagWeakSync) {
		sector.Weak = true
	}
	sector.IDCRCOK = !sector.Flags.Has(FlagIDCRCBad)
	if sector.Data != nil {
		sector.DataCRCOK = !sector.Flags.Has(FlagDataCRCBad)
	}
	sector.Valid = sector.IDCRCOK && sector.Data != nil && sector.DataCRCOK
	sector.Confidence = sectorConfidence(sector)
}

// sectorConfidence assigns a conservative score: 1.0 only for an exact,
// fully verified sector; anything fuzzy or failed scores lower.
func sectorConfidence(sector *ExtractedSector) float64 {
	conf := 1.0
	if !sector.IDCRCOK {
		conf -= 0.4
	}
	if sector.Data == nil {
		conf -= 0.5
	} else if !sector.DataCRCOK {
		conf -= 0.4
	}
	if sector.Weak {
		conf -= 0.05
	}
	if sector.Flags.Has(FlagUnusualMark) || sector.Flags.Has(FlagTruncated) {
		conf -= 0.1
	}
	if conf < 0 {
		conf = 0
	}
	return conf
}

// DecodeTrackBytes runs the sector state machine over an already
// demodulated byte buffer, the entry point for containers that store
// decoded track bytes. The MFM framing expects the literal A1 A1 A1 sync
// bytes in the buffer; FM records are located by their mark byte preceded
// by at least two zero sync bytes.
func DecodeTrackBytes(data []byte, cfg DecoderConfig) *TrackDecodeResult {
	res := &TrackDecodeResult{Encoding: cfg.Encoding}
	if len(data) == 0 {
		return res
	}
	if cfg.MaxSectors <= 0 {
		cfg.MaxSectors = DefaultDecoderConfig().MaxSectors
	}
	if cfg.MaxSearchGap <= 0 {
		cfg.MaxSearchGap = DefaultDecoderConfig().MaxSearchGap
	}

	seen := make(identitySet)
	pos := 0
	for len(res.Sectors) < cfg.MaxSectors {
		syncPos, markPos := nextByteMark(data, pos, cfg.Encoding, MarkIDAM)
		if markPos < 0 {
			break
		}
		sector, next := parseByteSector(data, cfg, syncPos, markPos, seen)
		if sector != nil {
			res.Stats.Add(sector)
			res.Sectors = append(res.Sectors, *sector)
		}
		if next <= pos {
			next = pos + 1
		}
		pos = next
	}
	return res
}

// nextByteMark finds the next record mark of the wanted kind at or after
// pos. For MFM that is an A1 A1 A1 run followed by the mark; for FM the
// mark byte itself preceded by two zero bytes. wantMark of zero accepts any
// of the three mark values. It returns the sync and mark offsets, or -1.
func nextByteMark(data []byte, pos int, enc Encoding, wantMark byte) (int, int) {
	isMark := func(b byte) bool {
		if wantMark != 0 {
			return b == wantMark
		}
		return b == MarkIDAM || b == MarkDAM || b == MarkDDAM
	}
	if enc == EncodingFM {
		for i := max(pos, 2); i < len(data); i++ {
			if isMark(data[i]) && data[i-1] == 0x00 && data[i-2] == 0x00 {
				return i - 2, i
			}
		}
		return -1, -1
	}
	for i := pos; i+3 < len(data); i++ {
		if data[i] == SyncByte && data[i+1] == SyncByte && data[i+2] == SyncByte && isMark(data[i+3]) {
			return i, i + 3
		}
	}
	return -1, -1
}

// parseByteSector mirrors parseBitSector over a byte buffer.
func parseByteSector(data []byte, cfg DecoderConfig, syncPos, markPos int, seen identitySet) (*ExtractedSector, int) {
	if markPos+7 > len(data) {
		return nil, len(data)
	}
	rec := data[markPos : markPos+7]

	id := IDRecord{
		Cylinder:   rec[1],
		Head:       rec[2],
		Sector:     rec[3],
		SizeCode:   rec[4],
		ReadCRC:    uint16(rec[5])<<8 | uint16(rec[6]),
		MarkOffset: markPos,
		SyncOffset: syncPos,
	}
	id.ComputedCRC = CRC16CCITT(idCRCInput(cfg.Encoding, rec[0], id))

	sector := &ExtractedSector{ID: id}
	if id.ComputedCRC != id.ReadCRC {
		sector.Flags |= FlagIDCRCBad
	}
	if seen.checkDuplicate(id) {
		sector.Flags |= FlagDuplicateID
	}

	idEnd := markPos + 7
	expected := SizeFromCode(id.SizeCode)

	dSync, dMark := nextByteMark(data, idEnd, cfg.Encoding, 0)
	if dMark < 0 || dSync > idEnd+cfg.MaxSearchGap {
		sector.Flags |= FlagMissingData
		finishSector(sector)
		return sector, idEnd
	}
	if data[dMark] == MarkIDAM {
		sector.Flags |= FlagMissingData
		finishSector(sector)
		return sector, dSync
	}

	dataRec := &DataRecord{
		Mark:           data[dMark],
		ExpectedLength: expected,
		MarkOffset:     dMark,
		SyncOffset:     dSync,
	}
	if dataRec.Mark != MarkDAM && dataRec.Mark != MarkDDAM {
		dataRec.Flags |= FlagUnusualMark
	}

	payloadStart := dMark + 1
	if payloadStart+expected+2 > len(data) {
		avail := len(data) - payloadStart
		if avail < 0 {
			avail = 0
		}
		dataRec.Flags |= FlagTruncated | FlagDataCRCBad
		dataRec.DeclaredLength = avail
		sector.Bytes = append([]byte(nil), data[payloadStart:payloadStart+avail]...)
		attachData(sector, dataRec, nil)
		finishSector(sector)
		return sector, len(data)
	}

	payload := data[payloadStart : payloadStart+expected]
	dataRec.DeclaredLength = expected
	dataRec.ReadCRC = uint16(data[payloadStart+expected])<<8 | uint16(data[payloadStart+expected+1])
	dataRec.ComputedCRC = CRC16CCITT(dataCRCInput(cfg.Encoding, dataRec.Mark, payload))
	if dataRec.ComputedCRC != dataRec.ReadCRC {
		dataRec.Flags |= FlagDataCRCBad
	}

	sector.Bytes = append([]byte(nil), payload...)
	attachData(sector, dataRec, nil)
	finishSector(sector)
	return sector, payloadStart + expected + 2
}
