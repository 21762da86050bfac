package flux

import (
	"bytes"
	"testing"
)

func TestFuseBitstreams_Majority(t *testing.T) {
	revs := []*BitStream{
		streamFromBits("10110010"),
		streamFromBits("10100010"),
		streamFromBits("10110110"),
	}

	res, err := FuseBitstreams(revs, DefaultFusionThreshold)
	if err != nil {
		t.Fatalf("FuseBitstreams() failed: %v", err)
	}
	want := "10110010"
	if res.Consensus.Length != len(want) {
		t.Fatalf("consensus length %d, want %d", res.Consensus.Length, len(want))
	}
	for i, c := range want {
		bit := 0
		if c == '1' {
			bit = 1
		}
		if res.Consensus.Bit(i) != bit {
			t.Errorf("consensus bit %d = %d, want %d", i, res.Consensus.Bit(i), bit)
		}
	}

	// Positions 3 and 5 disagree 2:1; the rest are unanimous.
	for i := range want {
		wantConf := 1.0
		if i == 3 || i == 5 {
			wantConf = 2.0 / 3.0
		}
		if res.Confidence[i] != wantConf {
			t.Errorf("confidence[%d] = %v, want %v", i, res.Confidence[i], wantConf)
		}
	}
	if res.WeakBits != 2 {
		t.Errorf("WeakBits = %d, want 2", res.WeakBits)
	}
}

func TestFuseBitstreams_TieVotesZeroAndWeak(t *testing.T) {
	revs := []*BitStream{
		streamFromBits("1100"),
		streamFromBits("1000"),
	}

	res, err := FuseBitstreams(revs, DefaultFusionThreshold)
	if err != nil {
		t.Fatalf("FuseBitstreams() failed: %v", err)
	}
	if res.Consensus.Bit(1) != 0 {
		t.Error("tied bit should vote zero")
	}
	if !res.Consensus.IsWeak(1) {
		t.Error("tied bit should be weak")
	}
	if res.Ties != 1 {
		t.Errorf("Ties = %d, want 1", res.Ties)
	}
	if res.Consensus.Bit(0) != 1 || res.Consensus.IsWeak(0) {
		t.Error("unanimous bit should be a strong one")
	}
}

func TestFuseBitstreams_SingleRevolution(t *testing.T) {
	rev := streamFromBits("101101")
	res, err := FuseBitstreams([]*BitStream{rev}, DefaultFusionThreshold)
	if err != nil {
		t.Fatalf("FuseBitstreams() failed: %v", err)
	}
	for i := 0; i < rev.Length; i++ {
		if res.Consensus.Bit(i) != rev.Bit(i) {
			t.Fatalf("bit %d changed in single-revolution fusion", i)
		}
		if res.Confidence[i] != 1.0 {
			t.Errorf("confidence[%d] = %v, want 1.0", i, res.Confidence[i])
		}
	}
	if res.WeakBits != 0 {
		t.Errorf("WeakBits = %d, want 0", res.WeakBits)
	}
}

func TestFuseBitstreams_Idempotent(t *testing.T) {
	// Fusing identical copies reproduces the input exactly.
	rev := streamFromBits("110100101100")
	res, err := FuseBitstreams([]*BitStream{rev, rev, rev}, DefaultFusionThreshold)
	if err != nil {
		t.Fatalf("FuseBitstreams() failed: %v", err)
	}
	for i := 0; i < rev.Length; i++ {
		if res.Consensus.Bit(i) != rev.Bit(i) {
			t.Fatalf("bit %d differs after idempotent fusion", i)
		}
	}
	if res.WeakBits != 0 || res.Ties != 0 {
		t.Errorf("identical inputs fused with %d weak bits and %d ties", res.WeakBits, res.Ties)
	}
}

func TestFuseBitstreams_ShortestLengthWins(t *testing.T) {
	revs := []*BitStream{
		streamFromBits("1111"),
		streamFromBits("111111"),
	}
	res, err := FuseBitstreams(revs, DefaultFusionThreshold)
	if err != nil {
		t.Fatalf("FuseBitstreams() failed: %v", err)
	}
	if res.Consensus.Length != 4 {
		t.Errorf("consensus length %d, want 4", res.Consensus.Length)
	}
}

func TestFuseBitstreams_InputsNeverModified(t *testing.T) {
	a := streamFromBits("1010")
	b := streamFromBits("0101")
	aBits := append([]byte(nil), a.Bits...)
	bBits := append([]byte(nil), b.Bits...)

	if _, err := FuseBitstreams([]*BitStream{a, b}, DefaultFusionThreshold); err != nil {
		t.Fatalf("FuseBitstreams() failed: %v", err)
	}
	if !bytes.Equal(a.Bits, aBits) || !bytes.Equal(b.Bits, bBits) {
		t.Error("fusion modified an input stream")
	}
}

func TestFuseBitstreams_Limits(t *testing.T) {
	if _, err := FuseBitstreams(nil, DefaultFusionThreshold); err == nil {
		t.Error("empty input should be rejected")
	}

	many := make([]*BitStream, MaxFusionRevolutions+1)
	for i := range many {
		many[i] = streamFromBits("1")
	}
	if _, err := FuseBitstreams(many, DefaultFusionThreshold); err == nil {
		t.Error("too many revolutions should be rejected")
	}

	if _, err := FuseBitstreams([]*BitStream{nil}, DefaultFusionThreshold); err == nil {
		t.Error("nil revolution should be rejected")
	}
}

// decodedCopies decodes the same built track n times, corrupting payload
// byte corruptAt differently per copy via the CRC mismatch trick.
func buildSectorCopy(payload, crcPayload []byte) *ExtractedSector {
	tb := NewMFMTrackBuilder()
	writeIDRecord(tb, 0, 0, 1, 1)
	writeDataRecord(tb, MarkDAM, payload, crcPayload)
	tb.WriteGap(0x4E, 8)
	res := DecodeTrackBits(tb.BitStream(), DefaultDecoderConfig())
	if len(res.Sectors) != 1 {
		return nil
	}
	return &res.Sectors[0]
}

func TestFuseSectorGroup_VerifiedCopyWins(t *testing.T) {
	payload := testPayload(256)
	bad := append([]byte(nil), payload...)
	bad[0] ^= 0xFF

	failed := buildSectorCopy(bad, payload)
	good := buildSectorCopy(payload, payload)
	if failed == nil || good == nil {
		t.Fatal("test track did not decode")
	}

	fused, err := FuseSectorGroup([]*ExtractedSector{failed, good})
	if err != nil {
		t.Fatalf("FuseSectorGroup() failed: %v", err)
	}
	if fused != good {
		t.Error("the verified copy should win untouched")
	}
}

func TestFuseSectorGroup_MajorityRepairsPayload(t *testing.T) {
	payload := testPayload(256)
	copies := make([]*ExtractedSector, 3)
	for i := range copies {
		bad := append([]byte(nil), payload...)
		bad[i*40] ^= 0x08 // a different byte per revolution
		copies[i] = buildSectorCopy(bad, payload)
		if copies[i] == nil {
			t.Fatal("test track did not decode")
		}
		if copies[i].Valid {
			t.Fatal("copies should start unverified")
		}
	}

	fused, err := FuseSectorGroup(copies)
	if err != nil {
		t.Fatalf("FuseSectorGroup() failed: %v", err)
	}
	if !bytes.Equal(fused.Bytes, payload) {
		t.Error("majority vote did not restore the payload")
	}
	if !fused.Valid {
		t.Errorf("fused sector should re-verify, flags %#04x", uint16(fused.Flags))
	}
	// The inputs keep their as-read bytes.
	for i, c := range copies {
		if bytes.Equal(c.Bytes, payload) {
			t.Errorf("copy %d was modified by fusion", i)
		}
	}
}

// decodeAmigaCopy decodes one Amiga record with a single raw data-area
// longword damaged (or intact for corruptLong < 0).
func decodeAmigaCopy(t *testing.T, corruptLong int) *ExtractedSector {
	t.Helper()
	tb := NewMFMTrackBuilder()
	var label [16]byte
	copy(label[:], "fusion-evidence")
	buildAmigaRecord(tb, 6, 3, label, amigaTestData(), corruptLong)
	res := DecodeAmigaTrack(tb.BitStream(), DefaultDecoderConfig())
	if len(res.Sectors) != 1 {
		t.Fatal("test record did not decode")
	}
	return &res.Sectors[0]
}

func TestFuseSectorGroup_AmigaMajorityRepairs(t *testing.T) {
	// A different raw data longword damaged per revolution.
	copies := []*ExtractedSector{
		decodeAmigaCopy(t, 20),
		decodeAmigaCopy(t, 80),
		decodeAmigaCopy(t, 150),
	}
	for i, c := range copies {
		if c.Valid {
			t.Fatalf("copy %d should start unverified", i)
		}
	}

	fused, err := FuseSectorGroup(copies)
	if err != nil {
		t.Fatalf("FuseSectorGroup() failed: %v", err)
	}
	if !bytes.Equal(fused.Bytes, amigaTestData()) {
		t.Error("majority vote did not restore the payload")
	}
	if !fused.Valid || !fused.DataCRCOK {
		t.Errorf("fused sector did not re-verify under the trackdisk checksum, flags %#04x", uint16(fused.Flags))
	}
	if fused.Amiga == nil {
		t.Fatal("fused sector lost its trackdisk header")
	}
	if fused.Amiga.ComputedDataSum != fused.Amiga.ReadDataSum {
		t.Errorf("data sum %08X, want %08X", fused.Amiga.ComputedDataSum, fused.Amiga.ReadDataSum)
	}
	if !fused.IDCRCOK {
		t.Error("header verdict should survive fusion intact")
	}
}

func TestFuseSectorGroup_AmigaHeaderFailureSurvivesFusion(t *testing.T) {
	// All copies share a damaged label longword: header sum bad, data good.
	copies := []*ExtractedSector{
		decodeAmigaCopy(t, 3),
		decodeAmigaCopy(t, 3),
		decodeAmigaCopy(t, 3),
	}
	for i, c := range copies {
		if c.Valid || c.IDCRCOK {
			t.Fatalf("copy %d should carry a failed header sum", i)
		}
	}

	fused, err := FuseSectorGroup(copies)
	if err != nil {
		t.Fatalf("FuseSectorGroup() failed: %v", err)
	}
	if !fused.Flags.Has(FlagIDCRCBad) || fused.IDCRCOK {
		t.Error("fusion must not wipe the failed header verdict")
	}
	if fused.Valid {
		t.Error("a sector with a failed header sum cannot verify")
	}
	if !fused.DataCRCOK {
		t.Error("the intact data area should still verify")
	}
}

func TestFuseSectorGroup_NoDataCopies(t *testing.T) {
	tb := NewMFMTrackBuilder()
	writeIDRecord(tb, 0, 0, 1, 1)
	tb.WriteGap(0x4E, 200)
	res := DecodeTrackBits(tb.BitStream(), DefaultDecoderConfig())
	if len(res.Sectors) != 1 {
		t.Fatal("test track did not decode")
	}
	orphan := &res.Sectors[0]

	fused, err := FuseSectorGroup([]*ExtractedSector{orphan, orphan})
	if err != nil {
		t.Fatalf("FuseSectorGroup() failed: %v", err)
	}
	if fused != orphan {
		t.Error("with no data anywhere the first copy is returned as-is")
	}
}
