// Package fluxfile reads and writes FLX1 capture files: a container for
// raw flux transition timestamps of one physical track, one or more
// revolutions per file. Files may be zstd-compressed; the reader detects
// the frame magic and decompresses transparently.
package fluxfile

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"

	"github.com/hansbonini/fluxtools/pkg/common"
	"github.com/hansbonini/fluxtools/pkg/flux"
)

// CaptureMagic identifies an uncompressed FLX1 capture stream.
const CaptureMagic = "FLX1"

// zstd frame magic, little-endian 0xFD2FB528.
var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

// MaxRevolutionsPerFile bounds a single capture file.
const MaxRevolutionsPerFile = 64

// maxTransitionsPerRevolution rejects absurd transition counts before
// allocating for them.
const maxTransitionsPerRevolution = 1 << 24

// CaptureFile is the decoded contents of one FLX1 file: every revolution
// of a single track/head.
type CaptureFile struct {
	Cylinder    uint8
	Head        uint8
	Revolutions []*flux.FluxCapture
}

// Read parses a capture stream. The layout after the 4-byte magic is:
// cylinder (u8), head (u8), revolution count (u16 LE), then per
// revolution a u32 LE transition count followed by that many u32 LE
// deltas in nanoseconds. Deltas accumulate into absolute timestamps.
func Read(reader io.Reader) (*CaptureFile, error) {
	if err := common.IsValidCaptureFile(reader); err != nil {
		return nil, err
	}

	header, err := common.ReadBytes(reader, 2)
	if err != nil {
		return nil, common.FormatError(common.ErrCaptureTruncated, err)
	}
	revCount, err := common.ReadUint16LE(reader)
	if err != nil {
		return nil, common.FormatError(common.ErrCaptureTruncated, err)
	}
	if revCount == 0 {
		return nil, fmt.Errorf("%s", common.ErrNoRevolutions)
	}
	if int(revCount) > MaxRevolutionsPerFile {
		return nil, fmt.Errorf("%s: %d revolutions exceeds limit of %d",
			common.ErrFailedToParseCapture, revCount, MaxRevolutionsPerFile)
	}

	cf := &CaptureFile{
		Cylinder: header[0],
		Head:     header[1],
	}
	for rev := 0; rev < int(revCount); rev++ {
		count, err := common.ReadUint32LE(reader)
		if err != nil {
			return nil, common.FormatError(common.ErrCaptureTruncated, err)
		}
		if count > maxTransitionsPerRevolution {
			return nil, fmt.Errorf("%s: revolution %d declares %d transitions",
				common.ErrFailedToParseCapture, rev, count)
		}
		capture := &flux.FluxCapture{
			Cylinder:   cf.Cylinder,
			Head:       cf.Head,
			Timestamps: make([]int64, count),
		}
		var now int64
		for i := uint32(0); i < count; i++ {
			delta, err := common.ReadUint32LE(reader)
			if err != nil {
				return nil, common.FormatError(common.ErrCaptureTruncated, err)
			}
			now += int64(delta)
			capture.Timestamps[i] = now
		}
		cf.Revolutions = append(cf.Revolutions, capture)
	}
	return cf, nil
}

// Write serializes a capture in the layout Read expects, uncompressed.
func Write(writer io.Writer, cf *CaptureFile) error {
	if len(cf.Revolutions) == 0 {
		return fmt.Errorf("%s", common.ErrNoRevolutions)
	}
	revCount, err := common.SafeIntToUint16(len(cf.Revolutions))
	if err != nil || int(revCount) > MaxRevolutionsPerFile {
		return fmt.Errorf("%s: %d revolutions exceeds limit of %d",
			common.ErrFailedToWriteCapture, len(cf.Revolutions), MaxRevolutionsPerFile)
	}

	if _, err := writer.Write([]byte(CaptureMagic)); err != nil {
		return common.FormatError(common.ErrFailedToWriteCapture, err)
	}
	if _, err := writer.Write([]byte{cf.Cylinder, cf.Head}); err != nil {
		return common.FormatError(common.ErrFailedToWriteCapture, err)
	}
	if err := common.WriteUint16LE(writer, revCount); err != nil {
		return common.FormatError(common.ErrFailedToWriteCapture, err)
	}

	for _, capture := range cf.Revolutions {
		count, err := common.SafeIntToUint32(len(capture.Timestamps))
		if err != nil {
			return common.FormatError(common.ErrFailedToWriteCapture, err)
		}
		if err := common.WriteUint32LE(writer, count); err != nil {
			return common.FormatError(common.ErrFailedToWriteCapture, err)
		}
		var prev int64
		for _, ts := range capture.Timestamps {
			delta, err := common.SafeInt64ToUint32(ts - prev)
			if err != nil {
				return common.FormatError(common.ErrFailedToWriteCapture, err)
			}
			prev = ts
			if err := common.WriteUint32LE(writer, delta); err != nil {
				return common.FormatError(common.ErrFailedToWriteCapture, err)
			}
		}
	}
	return nil
}

// ReadFile opens and parses a capture file from disk, decompressing zstd
// frames transparently.
func ReadFile(path string) (*CaptureFile, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, common.FormatError(common.ErrFailedToOpenCapture, err)
	}
	defer file.Close()

	var magic [4]byte
	if _, err := io.ReadFull(file, magic[:]); err != nil {
		return nil, common.FormatError(common.ErrFailedToReadCapture, err)
	}

	reader := io.Reader(io.MultiReader(bytes.NewReader(magic[:]), file))
	if bytes.Equal(magic[:], zstdMagic) {
		decoder, err := zstd.NewReader(reader)
		if err != nil {
			return nil, common.FormatError(common.ErrFailedToReadCapture, err)
		}
		defer decoder.Close()
		reader = decoder
	}
	return Read(reader)
}

// WriteFile writes a capture file to disk, zstd-compressed when compress
// is set.
func WriteFile(path string, cf *CaptureFile, compress bool) error {
	file, err := os.Create(path)
	if err != nil {
		return common.FormatError(common.ErrFailedToCreateOutputFile, err)
	}
	defer file.Close()

	if !compress {
		return Write(file, cf)
	}

	encoder, err := zstd.NewWriter(file)
	if err != nil {
		return common.FormatError(common.ErrFailedToWriteCapture, err)
	}
	if err := Write(encoder, cf); err != nil {
		encoder.Close()
		return err
	}
	return encoder.Close()
}
