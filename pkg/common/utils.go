package common

import (
	"encoding/binary"
	"fmt"
	"io"
)

// ValidateCaptureMagic checks if the given bytes represent a valid FLX1 header
func ValidateCaptureMagic(magic [4]byte) error {
	if string(magic[:]) != "FLX1" {
		return fmt.Errorf("%s: expected 'FLX1', got '%s'", ErrInvalidCaptureMagic, string(magic[:]))
	}
	return nil
}

// IsValidCaptureFile reads the magic from a reader and validates it
func IsValidCaptureFile(reader io.Reader) error {
	var magic [4]byte
	if _, err := io.ReadFull(reader, magic[:]); err != nil {
		return fmt.Errorf("%s: %w", ErrFailedToReadCapture, err)
	}
	return ValidateCaptureMagic(magic)
}

// ReadUint16LE reads a uint16 in little-endian format
func ReadUint16LE(reader io.Reader) (uint16, error) {
	var value uint16
	err := binary.Read(reader, binary.LittleEndian, &value)
	return value, err
}

// ReadUint32LE reads a uint32 in little-endian format
func ReadUint32LE(reader io.Reader) (uint32, error) {
	var value uint32
	err := binary.Read(reader, binary.LittleEndian, &value)
	return value, err
}

// WriteUint16LE writes a uint16 in little-endian format
func WriteUint16LE(writer io.Writer, value uint16) error {
	return binary.Write(writer, binary.LittleEndian, value)
}

// WriteUint32LE writes a uint32 in little-endian format
func WriteUint32LE(writer io.Writer, value uint32) error {
	return binary.Write(writer, binary.LittleEndian, value)
}

// ReadBytes reads a specified number of bytes
func ReadBytes(reader io.Reader, count int) ([]byte, error) {
	buffer := make([]byte, count)
	n, err := io.ReadFull(reader, buffer)
	if err != nil {
		return nil, err
	}
	if n != count {
		return nil, fmt.Errorf("expected to read %d bytes, got %d", count, n)
	}
	return buffer, nil
}

// SkipBytes skips a specified number of bytes in the reader
func SkipBytes(reader io.Reader, count int) error {
	_, err := io.CopyN(io.Discard, reader, int64(count))
	return err
}
