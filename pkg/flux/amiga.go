package flux

// Amiga trackdisk sector geometry. Every sector stores 512 data bytes and
// the raw record after the double sync word spans a fixed number of MFM
// longwords: info (2), label (8), header checksum (2), data checksum (2)
// and data (256).
const (
	AmigaSectorSize   = 512
	AmigaDataMask     = 0x55555555
	amigaRecordLongs  = 2 + 8 + 2 + 2 + 256
	amigaRecordBits   = amigaRecordLongs * 32
	amigaLabelLongs   = 4
	AmigaFormatByte   = 0xFF
	AmigaSectorsTrack = 11
)

// amigaOddEven merges an odd/even MFM longword pair back into data bits.
func amigaOddEven(odd, even uint32) uint32 {
	return ((odd & AmigaDataMask) << 1) | (even & AmigaDataMask)
}

// readMFMLong reads 32 raw bits as a big-endian longword.
func readMFMLong(bs *BitStream, pos int) uint32 {
	return uint32(bs.readBits(pos, 32))
}

// amigaDataSum recomputes the data-area checksum for a decoded payload:
// the XOR of the odd and even split longwords, masked to the data bits.
// For a payload read off disk this equals the checksum over the raw
// longwords, since the clock positions are masked off either way.
func amigaDataSum(data []byte) uint32 {
	var sum uint32
	for i := 0; i+4 <= len(data); i += 4 {
		v := uint32(data[i])<<24 | uint32(data[i+1])<<16 |
			uint32(data[i+2])<<8 | uint32(data[i+3])
		sum ^= (v >> 1) & AmigaDataMask
		sum ^= v & AmigaDataMask
	}
	return sum
}

// DecodeAmigaTrack locates every double-sync Amiga record in a raw
// bitstream and decodes it. Records whose stored header or data checksum
// does not match the recomputed value are still emitted, flagged, so the
// caller can attempt correction or fusion.
func DecodeAmigaTrack(bs *BitStream, cfg DecoderConfig) *TrackDecodeResult {
	res := &TrackDecodeResult{Encoding: EncodingAmiga}
	if bs == nil || bs.Length == 0 {
		return res
	}
	if cfg.MaxSectors <= 0 {
		cfg.MaxSectors = DefaultDecoderConfig().MaxSectors
	}

	seen := make(identitySet)
	matches := FindSync(bs, PatternAmigaSync, cfg.SyncHamming, bs.Length)
	pos := -1
	for _, m := range matches {
		if len(res.Sectors) >= cfg.MaxSectors {
			break
		}
		if m.Pos <= pos {
			continue
		}
		sector, ok := decodeAmigaSector(bs, m, seen)
		if !ok {
			continue
		}
		res.Stats.Add(sector)
		res.Sectors = append(res.Sectors, *sector)
		pos = m.Pos + PatternAmigaSync.Width + amigaRecordBits - 1
	}
	return res
}

// decodeAmigaSector decodes one record starting at a sync match. It
// returns false when the stream ends before the record does.
func decodeAmigaSector(bs *BitStream, sync SyncMatch, seen identitySet) (*ExtractedSector, bool) {
	start := sync.Pos + PatternAmigaSync.Width
	if start+amigaRecordBits > bs.Length {
		return nil, false
	}

	// Raw longwords in record order.
	raw := make([]uint32, amigaRecordLongs)
	for i := range raw {
		raw[i] = readMFMLong(bs, start+i*32)
	}

	info := amigaOddEven(raw[0], raw[1])
	hdr := &AmigaHeader{
		Format:       byte(info >> 24),
		SectorsToGap: byte(info),
	}
	track := byte(info >> 16)
	sectorNum := byte(info >> 8)

	var labelOdd, labelEven [amigaLabelLongs]uint32
	copy(labelOdd[:], raw[2:2+amigaLabelLongs])
	copy(labelEven[:], raw[2+amigaLabelLongs:2+2*amigaLabelLongs])
	for i := 0; i < amigaLabelLongs; i++ {
		v := amigaOddEven(labelOdd[i], labelEven[i])
		hdr.Label[i*4] = byte(v >> 24)
		hdr.Label[i*4+1] = byte(v >> 16)
		hdr.Label[i*4+2] = byte(v >> 8)
		hdr.Label[i*4+3] = byte(v)
	}

	hdr.ReadHeaderSum = amigaOddEven(raw[10], raw[11])
	hdr.ReadDataSum = amigaOddEven(raw[12], raw[13])

	// Checksums cover the raw MFM longwords, masked to the data bits.
	var hsum uint32
	for _, v := range raw[0:10] {
		hsum ^= v
	}
	hdr.ComputedHeaderSum = hsum & AmigaDataMask

	var dsum uint32
	for _, v := range raw[14:] {
		dsum ^= v
	}
	hdr.ComputedDataSum = dsum & AmigaDataMask

	// Data: 128 odd longwords then 128 even longwords.
	const dataLongs = AmigaSectorSize / 4
	data := make([]byte, AmigaSectorSize)
	for i := 0; i < dataLongs; i++ {
		v := amigaOddEven(raw[14+i], raw[14+dataLongs+i])
		data[i*4] = byte(v >> 24)
		data[i*4+1] = byte(v >> 16)
		data[i*4+2] = byte(v >> 8)
		data[i*4+3] = byte(v)
	}

	id := IDRecord{
		Cylinder:   track >> 1,
		Head:       track & 1,
		Sector:     sectorNum,
		SizeCode:   2,
		SyncOffset: sync.Pos,
		MarkOffset: start,
	}

	sector := &ExtractedSector{
		ID:    id,
		Amiga: hdr,
		Bytes: data,
		Data: &DataRecord{
			Mark:           AmigaFormatByte,
			DeclaredLength: AmigaSectorSize,
			ExpectedLength: AmigaSectorSize,
			SyncOffset:     sync.Pos,
			MarkOffset:     start,
		},
	}

	if hdr.Format != AmigaFormatByte {
		sector.Flags |= FlagUnusualMark
	}
	if hdr.ComputedHeaderSum != hdr.ReadHeaderSum {
		sector.Flags |= FlagIDCRCBad
	}
	if hdr.ComputedDataSum != hdr.ReadDataSum {
		sector.Flags |= FlagDataCRCBad
		sector.Data.Flags |= FlagDataCRCBad
	}
	if sync.Distance > 0 || regionWeak(bs, start, amigaRecordBits) {
		sector.Flags |= FlagWeakSync
	}
	if seen.checkDuplicate(id) {
		sector.Flags |= FlagDuplicateID
	}

	finishSector(sector)
	return sector, true
}
