package firmware

import (
	"bufio"
	"encoding/hex"
	"io"

	"github.com/pkg/errors"
)

// Intel HEX record types.
const (
	RecordData                   = 0x00
	RecordEndOfFile              = 0x01
	RecordExtendedSegmentAddress = 0x02
	RecordStartSegmentAddress    = 0x03
	RecordExtendedLinearAddress  = 0x04
	RecordStartLinearAddress     = 0x05
)

const (
	// MinimumRecordLength is the shortest record in hex characters after the
	// leading ':' (count, address, type and checksum)
	MinimumRecordLength = 10

	// RecordHeaderSize is the size of count + address + type
	RecordHeaderSize = 4

	// GapFill is written to addresses the file does not cover
	GapFill = 0xFF
)

// segment is a contiguous run of data at an absolute address.
type segment struct {
	address uint32
	data    []byte
}

// ParseHex reads an Intel HEX file and flattens it into a binary image that
// starts at the lowest address in the file. Addresses between records are
// filled with GapFill. Start address records are accepted and ignored.
//
// Example:
//
//	f, _ := os.Open("app.hex")
//	image, err := firmware.ParseHex(f)
func ParseHex(r io.Reader) ([]byte, error) {
	scanner := bufio.NewScanner(r)

	var (
		segments []segment
		base     uint32
		lineNum  int
		eof      bool
	)

	for scanner.Scan() {
		lineNum++
		line := scanner.Text()

		// Skip empty lines
		if line == "" || line == "\r" {
			continue
		}
		if eof {
			return nil, errors.Errorf("line %d: data after end of file record", lineNum)
		}

		rec, err := parseRecord(line)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", lineNum)
		}

		switch rec.kind {
		case RecordData:
			if len(rec.data) > 0 {
				segments = append(segments, segment{
					address: base + uint32(rec.offset),
					data:    rec.data,
				})
			}

		case RecordEndOfFile:
			eof = true

		case RecordExtendedSegmentAddress:
			if len(rec.data) != 2 {
				return nil, errors.Errorf("line %d: extended segment address needs 2 bytes, got %d", lineNum, len(rec.data))
			}
			base = (uint32(rec.data[0])<<8 | uint32(rec.data[1])) << 4

		case RecordExtendedLinearAddress:
			if len(rec.data) != 2 {
				return nil, errors.Errorf("line %d: extended linear address needs 2 bytes, got %d", lineNum, len(rec.data))
			}
			base = (uint32(rec.data[0])<<8 | uint32(rec.data[1])) << 16

		case RecordStartSegmentAddress, RecordStartLinearAddress:
			// execution start address, irrelevant for the image

		default:
			return nil, errors.Errorf("line %d: unknown record type 0x%02X", lineNum, rec.kind)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read file")
	}

	if len(segments) == 0 {
		return nil, errors.New("no data records found in file")
	}

	return flatten(segments)
}

type record struct {
	kind   byte
	offset uint16
	data   []byte
}

// parseRecord parses a single Intel HEX record.
//
// Record format:
//
//	:[Count(1 byte)][Address(2 bytes)][Type(1 byte)][Data(Count bytes)][Checksum(1 byte)]
//
// All values are hex-encoded, the address is big-endian.
//
// Example: ":0400000001020304F2"
//
//	Count: 0x04
//	Address: 0x0000
//	Type: 0x00 (data)
//	Data: [0x01, 0x02, 0x03, 0x04]
//	Checksum: 0xF2
func parseRecord(line string) (*record, error) {
	if line[len(line)-1] == '\r' {
		line = line[:len(line)-1]
	}
	if line[0] != ':' {
		return nil, errors.New("record must start with ':'")
	}
	line = line[1:]

	if len(line) < MinimumRecordLength {
		return nil, errors.Errorf("record too short: got %d characters, minimum is %d", len(line), MinimumRecordLength)
	}

	data, err := hex.DecodeString(line)
	if err != nil {
		return nil, errors.Wrap(err, "invalid hex data")
	}

	count := int(data[0])
	expectedLen := RecordHeaderSize + count + 1
	if len(data) != expectedLen {
		return nil, errors.Errorf("data length mismatch: got %d bytes, expected %d (header=%d + data=%d + checksum=1)",
			len(data), expectedLen, RecordHeaderSize, count)
	}

	checksum := data[len(data)-1]
	calculated := calculateChecksum(data[:len(data)-1])
	if checksum != calculated {
		return nil, errors.Errorf("checksum mismatch: got 0x%02X, expected 0x%02X", checksum, calculated)
	}

	rec := &record{
		kind:   data[3],
		offset: uint16(data[1])<<8 | uint16(data[2]),
		data:   make([]byte, count),
	}
	copy(rec.data, data[RecordHeaderSize:RecordHeaderSize+count])

	return rec, nil
}

// calculateChecksum computes the record checksum: the 2's complement of the
// byte sum.
func calculateChecksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return ^sum + 1
}

// flatten lays the segments out from the lowest address. Later records win
// where segments overlap.
func flatten(segments []segment) ([]byte, error) {
	low := segments[0].address
	var high uint64
	for _, s := range segments {
		if s.address < low {
			low = s.address
		}
		if end := uint64(s.address) + uint64(len(s.data)); end > high {
			high = end
		}
	}

	size := high - uint64(low)
	if size > MaxImageSize {
		return nil, errors.Errorf("image spans %d bytes from 0x%08X, limit is %d", size, low, MaxImageSize)
	}

	image := make([]byte, size)
	for i := range image {
		image[i] = GapFill
	}
	for _, s := range segments {
		copy(image[s.address-low:], s.data)
	}
	return image, nil
}
