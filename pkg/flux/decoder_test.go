package flux

import (
	"bytes"
	"testing"
)

// writeIDRecord appends a complete ID record (pre-gap, sync, mark, fields,
// CRC) for the given identity.
func writeIDRecord(tb *MFMTrackBuilder, cyl, head, sec, size byte) {
	tb.WriteGap(0x4E, 8)
	tb.WriteGap(0x00, 12)
	tb.WriteSyncA1(3)
	crc := CRC16CCITT([]byte{0xA1, 0xA1, 0xA1, MarkIDAM, cyl, head, sec, size})
	tb.WriteBytes([]byte{MarkIDAM, cyl, head, sec, size, byte(crc >> 8), byte(crc)})
}

// writeDataRecord appends a data record whose CRC is computed over
// crcPayload while payload is what actually lands on the track, so tests
// can synthesize CRC failures.
func writeDataRecord(tb *MFMTrackBuilder, mark byte, payload, crcPayload []byte) {
	tb.WriteGap(0x4E, 8)
	tb.WriteGap(0x00, 12)
	tb.WriteSyncA1(3)
	tb.WriteByte(mark)
	tb.WriteBytes(payload)
	crc := CRC16CCITT(append([]byte{0xA1, 0xA1, 0xA1, mark}, crcPayload...))
	tb.WriteBytes([]byte{byte(crc >> 8), byte(crc)})
}

// testPayload returns a deterministic payload of the given size.
func testPayload(size int) []byte {
	p := make([]byte, size)
	for i := range p {
		p[i] = byte(i)
	}
	return p
}

func TestDecodeTrackBits_ValidSector(t *testing.T) {
	payload := testPayload(256)
	tb := NewMFMTrackBuilder()
	writeIDRecord(tb, 5, 1, 3, 1)
	writeDataRecord(tb, MarkDAM, payload, payload)
	tb.WriteGap(0x4E, 8)

	res := DecodeTrackBits(tb.BitStream(), DefaultDecoderConfig())
	if len(res.Sectors) != 1 {
		t.Fatalf("decoded %d sectors, want 1", len(res.Sectors))
	}

	sec := res.Sectors[0]
	if sec.ID.Cylinder != 5 || sec.ID.Head != 1 || sec.ID.Sector != 3 || sec.ID.SizeCode != 1 {
		t.Errorf("ID = C%d/H%d/S%d size %d, want C5/H1/S3 size 1",
			sec.ID.Cylinder, sec.ID.Head, sec.ID.Sector, sec.ID.SizeCode)
	}
	if !sec.Valid || !sec.IDCRCOK || !sec.DataCRCOK {
		t.Errorf("sector should be fully verified, flags %#04x", uint16(sec.Flags))
	}
	if sec.Deleted {
		t.Error("a 0xFB data mark is not deleted")
	}
	if !bytes.Equal(sec.Bytes, payload) {
		t.Error("payload does not round-trip")
	}
	if sec.ID.ReadCRC != sec.ID.ComputedCRC {
		t.Errorf("ID CRC mismatch: read 0x%04X computed 0x%04X", sec.ID.ReadCRC, sec.ID.ComputedCRC)
	}
	if sec.Data.ReadCRC != sec.Data.ComputedCRC {
		t.Errorf("data CRC mismatch: read 0x%04X computed 0x%04X", sec.Data.ReadCRC, sec.Data.ComputedCRC)
	}
	if sec.Confidence != 1.0 {
		t.Errorf("Confidence = %v, want 1.0", sec.Confidence)
	}
	if res.Stats.SectorsCRCOK != 1 {
		t.Errorf("SectorsCRCOK = %d, want 1", res.Stats.SectorsCRCOK)
	}
}

func TestDecodeTrackBits_DataCRCFailure(t *testing.T) {
	payload := testPayload(256)
	corrupted := append([]byte(nil), payload...)
	corrupted[100] ^= 0x20

	tb := NewMFMTrackBuilder()
	writeIDRecord(tb, 0, 0, 1, 1)
	writeDataRecord(tb, MarkDAM, corrupted, payload)
	tb.WriteGap(0x4E, 8)

	res := DecodeTrackBits(tb.BitStream(), DefaultDecoderConfig())
	if len(res.Sectors) != 1 {
		t.Fatalf("decoded %d sectors, want 1", len(res.Sectors))
	}

	sec := res.Sectors[0]
	if sec.Valid {
		t.Error("sector with bad data CRC must not be valid")
	}
	if !sec.IDCRCOK {
		t.Error("ID CRC should still verify")
	}
	if sec.DataCRCOK || !sec.Flags.Has(FlagDataCRCBad) {
		t.Errorf("data CRC failure not flagged, flags %#04x", uint16(sec.Flags))
	}
	// The corrupted bytes are still delivered for correction and fusion.
	if !bytes.Equal(sec.Bytes, corrupted) {
		t.Error("failed sector should carry the bytes as read")
	}
	if res.Stats.SectorsCRCOK != 0 {
		t.Errorf("SectorsCRCOK = %d, want 0", res.Stats.SectorsCRCOK)
	}
}

func TestDecodeTrackBits_MissingData(t *testing.T) {
	tb := NewMFMTrackBuilder()
	writeIDRecord(tb, 0, 0, 1, 1)
	// Gap longer than the search bound, then the next sector.
	tb.WriteGap(0x4E, DefaultDecoderConfig().MaxSearchGap+16)
	payload := testPayload(256)
	writeIDRecord(tb, 0, 0, 2, 1)
	writeDataRecord(tb, MarkDAM, payload, payload)
	tb.WriteGap(0x4E, 8)

	res := DecodeTrackBits(tb.BitStream(), DefaultDecoderConfig())
	if len(res.Sectors) != 2 {
		t.Fatalf("decoded %d sectors, want 2", len(res.Sectors))
	}

	first := res.Sectors[0]
	if !first.Flags.Has(FlagMissingData) {
		t.Errorf("first sector should be flagged missing data, flags %#04x", uint16(first.Flags))
	}
	if first.Data != nil || first.Valid {
		t.Error("missing data sector must have no data record and be invalid")
	}

	second := res.Sectors[1]
	if !second.Valid {
		t.Errorf("second sector should decode cleanly, flags %#04x", uint16(second.Flags))
	}
}

func TestDecodeTrackBits_ConsecutiveIDs(t *testing.T) {
	// Two ID records back to back within the gap bound: the first has no
	// data field and the scan must resume at the second, not past it.
	payload := testPayload(256)
	tb := NewMFMTrackBuilder()
	writeIDRecord(tb, 0, 0, 1, 1)
	writeIDRecord(tb, 0, 0, 2, 1)
	writeDataRecord(tb, MarkDAM, payload, payload)
	tb.WriteGap(0x4E, 8)

	res := DecodeTrackBits(tb.BitStream(), DefaultDecoderConfig())
	if len(res.Sectors) != 2 {
		t.Fatalf("decoded %d sectors, want 2", len(res.Sectors))
	}
	if !res.Sectors[0].Flags.Has(FlagMissingData) {
		t.Error("first sector should be flagged missing data")
	}
	if !res.Sectors[1].Valid {
		t.Error("second sector should be valid")
	}
}

func TestDecodeTrackBits_DeletedSector(t *testing.T) {
	payload := testPayload(256)
	tb := NewMFMTrackBuilder()
	writeIDRecord(tb, 0, 0, 1, 1)
	writeDataRecord(tb, MarkDDAM, payload, payload)
	tb.WriteGap(0x4E, 8)

	res := DecodeTrackBits(tb.BitStream(), DefaultDecoderConfig())
	if len(res.Sectors) != 1 {
		t.Fatalf("decoded %d sectors, want 1", len(res.Sectors))
	}
	sec := res.Sectors[0]
	if !sec.Deleted {
		t.Error("0xF8 data mark should mark the sector deleted")
	}
	if !sec.Valid {
		t.Error("a deleted sector with good CRCs is still verified")
	}
	if sec.Flags.Has(FlagUnusualMark) {
		t.Error("0xF8 is a known mark, not unusual")
	}
	if res.Stats.SectorsDeleted != 1 {
		t.Errorf("SectorsDeleted = %d, want 1", res.Stats.SectorsDeleted)
	}
}

func TestDecodeTrackBits_UnusualMark(t *testing.T) {
	payload := testPayload(256)
	tb := NewMFMTrackBuilder()
	writeIDRecord(tb, 0, 0, 1, 1)
	writeDataRecord(tb, 0xFA, payload, payload)
	tb.WriteGap(0x4E, 8)

	res := DecodeTrackBits(tb.BitStream(), DefaultDecoderConfig())
	if len(res.Sectors) != 1 {
		t.Fatalf("decoded %d sectors, want 1", len(res.Sectors))
	}
	sec := res.Sectors[0]
	if !sec.Flags.Has(FlagUnusualMark) {
		t.Errorf("0xFA should be flagged unusual, flags %#04x", uint16(sec.Flags))
	}
	if !sec.DataCRCOK {
		t.Error("CRC over the unusual mark still verifies")
	}
	if sec.Confidence >= 1.0 {
		t.Errorf("Confidence = %v, want < 1.0 for an unusual mark", sec.Confidence)
	}
}

func TestDecodeTrackBits_DuplicateID(t *testing.T) {
	payload := testPayload(256)
	tb := NewMFMTrackBuilder()
	for i := 0; i < 2; i++ {
		writeIDRecord(tb, 0, 0, 1, 1)
		writeDataRecord(tb, MarkDAM, payload, payload)
	}
	tb.WriteGap(0x4E, 8)

	res := DecodeTrackBits(tb.BitStream(), DefaultDecoderConfig())
	if len(res.Sectors) != 2 {
		t.Fatalf("decoded %d sectors, want 2", len(res.Sectors))
	}
	if res.Sectors[0].Flags.Has(FlagDuplicateID) {
		t.Error("first occurrence must not be flagged duplicate")
	}
	if !res.Sectors[1].Flags.Has(FlagDuplicateID) {
		t.Error("second occurrence should be flagged duplicate")
	}
}

func TestDecodeTrackBits_TruncatedData(t *testing.T) {
	payload := testPayload(256)
	tb := NewMFMTrackBuilder()
	writeIDRecord(tb, 0, 0, 1, 1)
	tb.WriteGap(0x4E, 2)
	tb.WriteGap(0x00, 12)
	tb.WriteSyncA1(3)
	tb.WriteByte(MarkDAM)
	tb.WriteBytes(payload[:64]) // track ends mid-payload

	res := DecodeTrackBits(tb.BitStream(), DefaultDecoderConfig())
	if len(res.Sectors) != 1 {
		t.Fatalf("decoded %d sectors, want 1", len(res.Sectors))
	}
	sec := res.Sectors[0]
	if !sec.Flags.Has(FlagTruncated) {
		t.Errorf("truncated sector not flagged, flags %#04x", uint16(sec.Flags))
	}
	if sec.Valid {
		t.Error("truncated sector must not be valid")
	}
}

func TestDecodeTrackBits_MultipleSectors(t *testing.T) {
	tb := NewMFMTrackBuilder()
	const count = 5
	for s := byte(1); s <= count; s++ {
		payload := testPayload(256)
		payload[0] = s
		writeIDRecord(tb, 2, 0, s, 1)
		writeDataRecord(tb, MarkDAM, payload, payload)
	}
	tb.WriteGap(0x4E, 16)

	res := DecodeTrackBits(tb.BitStream(), DefaultDecoderConfig())
	if len(res.Sectors) != count {
		t.Fatalf("decoded %d sectors, want %d", len(res.Sectors), count)
	}
	for i, sec := range res.Sectors {
		if sec.ID.Sector != byte(i+1) {
			t.Errorf("sector %d has ID %d, want %d", i, sec.ID.Sector, i+1)
		}
		if !sec.Valid {
			t.Errorf("sector %d should be valid, flags %#04x", i, uint16(sec.Flags))
		}
		if sec.Bytes[0] != byte(i+1) {
			t.Errorf("sector %d carries the wrong payload", i)
		}
	}
	if res.Stats.SectorsFound != count || res.Stats.SectorsCRCOK != count {
		t.Errorf("stats = %d found / %d ok, want %d / %d",
			res.Stats.SectorsFound, res.Stats.SectorsCRCOK, count, count)
	}
	if res.Stats.SuccessRate != 1.0 {
		t.Errorf("SuccessRate = %v, want 1.0", res.Stats.SuccessRate)
	}
}

func TestDecodeTrackBits_WeakSyncFlag(t *testing.T) {
	payload := testPayload(128)
	tb := NewMFMTrackBuilder()
	writeIDRecord(tb, 0, 0, 1, 0)
	writeDataRecord(tb, MarkDAM, payload, payload)
	tb.WriteGap(0x4E, 8)

	bs := tb.BitStream()
	// Mark one bit inside the ID header region weak, as timing recovery
	// would for an off-grid interval.
	syncs := FindSync(bs, PatternIBMSync, 0, 1)
	if len(syncs) == 0 {
		t.Fatal("no sync in synthetic track")
	}
	bs.markWeak(syncs[0].Pos + 50)

	res := DecodeTrackBits(bs, DefaultDecoderConfig())
	if len(res.Sectors) != 1 {
		t.Fatalf("decoded %d sectors, want 1", len(res.Sectors))
	}
	sec := res.Sectors[0]
	if !sec.Flags.Has(FlagWeakSync) || !sec.Weak {
		t.Errorf("weak region not flagged, flags %#04x", uint16(sec.Flags))
	}
	if !sec.Valid {
		t.Error("weak but CRC-clean sector is still verified")
	}
}

func TestDecodeTrackBits_SyncHammingTolerance(t *testing.T) {
	payload := testPayload(128)
	tb := NewMFMTrackBuilder()
	writeIDRecord(tb, 0, 0, 1, 0)
	writeDataRecord(tb, MarkDAM, payload, payload)
	tb.WriteGap(0x4E, 8)

	bs := tb.BitStream()
	syncs := FindSync(bs, PatternIBMSync, 0, 1)
	if len(syncs) == 0 {
		t.Fatal("no sync in synthetic track")
	}
	// Damage one bit of the leading ID sync word.
	bs.setBit(syncs[0].Pos, 1)

	if res := DecodeTrackBits(bs, DefaultDecoderConfig()); len(res.Sectors) != 0 {
		t.Fatalf("exact matching decoded %d sectors from a damaged sync", len(res.Sectors))
	}

	cfg := DefaultDecoderConfig()
	cfg.SyncHamming = 1
	res := DecodeTrackBits(bs, cfg)
	if len(res.Sectors) != 1 {
		t.Fatalf("decoded %d sectors, want 1 with a one-bit tolerance", len(res.Sectors))
	}
	sec := res.Sectors[0]
	if !sec.Valid {
		t.Errorf("sector should still verify, flags %#04x", uint16(sec.Flags))
	}
	if !sec.Flags.Has(FlagWeakSync) || !sec.Weak {
		t.Errorf("fuzzy sync match not flagged weak, flags %#04x", uint16(sec.Flags))
	}
	if sec.Confidence >= 1.0 {
		t.Errorf("Confidence = %v, want < 1.0 for a fuzzy sync", sec.Confidence)
	}
}

func TestDecodeTrackBits_EmptyAndNil(t *testing.T) {
	if res := DecodeTrackBits(nil, DefaultDecoderConfig()); len(res.Sectors) != 0 {
		t.Error("nil stream should decode to zero sectors")
	}
	if res := DecodeTrackBits(NewBitStream(0), DefaultDecoderConfig()); len(res.Sectors) != 0 {
		t.Error("empty stream should decode to zero sectors")
	}
}

func TestDecodeTrackBytes_MFM(t *testing.T) {
	payload := testPayload(512)
	idCRC := CRC16CCITT([]byte{0xA1, 0xA1, 0xA1, MarkIDAM, 1, 0, 9, 2})
	dataCRC := CRC16CCITT(append([]byte{0xA1, 0xA1, 0xA1, MarkDAM}, payload...))

	var buf []byte
	buf = append(buf, bytes.Repeat([]byte{0x4E}, 16)...)
	buf = append(buf, 0xA1, 0xA1, 0xA1, MarkIDAM, 1, 0, 9, 2, byte(idCRC >> 8), byte(idCRC))
	buf = append(buf, bytes.Repeat([]byte{0x4E}, 22)...)
	buf = append(buf, 0xA1, 0xA1, 0xA1, MarkDAM)
	buf = append(buf, payload...)
	buf = append(buf, byte(dataCRC>>8), byte(dataCRC))
	buf = append(buf, bytes.Repeat([]byte{0x4E}, 16)...)

	res := DecodeTrackBytes(buf, DefaultDecoderConfig())
	if len(res.Sectors) != 1 {
		t.Fatalf("decoded %d sectors, want 1", len(res.Sectors))
	}
	sec := res.Sectors[0]
	if !sec.Valid {
		t.Errorf("sector should be valid, flags %#04x", uint16(sec.Flags))
	}
	if sec.ID.Sector != 9 || sec.ID.SizeCode != 2 {
		t.Errorf("ID = S%d size %d, want S9 size 2", sec.ID.Sector, sec.ID.SizeCode)
	}
	if !bytes.Equal(sec.Bytes, payload) {
		t.Error("payload does not round-trip")
	}
}

func TestDecodeTrackBytes_FM(t *testing.T) {
	payload := testPayload(128)
	idCRC := CRC16CCITT([]byte{MarkIDAM, 0, 0, 1, 0})
	dataCRC := CRC16CCITT(append([]byte{MarkDAM}, payload...))

	var buf []byte
	buf = append(buf, bytes.Repeat([]byte{0xFF}, 8)...)
	buf = append(buf, 0x00, 0x00, MarkIDAM, 0, 0, 1, 0, byte(idCRC >> 8), byte(idCRC))
	buf = append(buf, bytes.Repeat([]byte{0xFF}, 8)...)
	buf = append(buf, 0x00, 0x00, MarkDAM)
	buf = append(buf, payload...)
	buf = append(buf, byte(dataCRC>>8), byte(dataCRC))
	buf = append(buf, bytes.Repeat([]byte{0xFF}, 8)...)

	cfg := DefaultDecoderConfig()
	cfg.Encoding = EncodingFM
	res := DecodeTrackBytes(buf, cfg)
	if len(res.Sectors) != 1 {
		t.Fatalf("decoded %d sectors, want 1", len(res.Sectors))
	}
	sec := res.Sectors[0]
	if !sec.Valid {
		t.Errorf("FM sector should be valid, flags %#04x", uint16(sec.Flags))
	}
	if !bytes.Equal(sec.Bytes, payload) {
		t.Error("FM payload does not round-trip")
	}
}

func TestDecodeTrackBytes_SizeCodes(t *testing.T) {
	testCases := []struct {
		code uint8
		size int
	}{
		{0, 128},
		{1, 256},
		{2, 512},
		{3, 1024},
		{6, 8192},
		{7, 16384},
	}
	for _, tc := range testCases {
		if got := SizeFromCode(tc.code); got != tc.size {
			t.Errorf("SizeFromCode(%d) = %d, want %d", tc.code, got, tc.size)
		}
	}
}
