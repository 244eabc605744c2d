package firmware

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"
	"testing"
)

// rec builds a record line with a valid checksum.
func rec(kind byte, addr uint16, data ...byte) string {
	raw := append([]byte{byte(len(data)), byte(addr >> 8), byte(addr), kind}, data...)
	raw = append(raw, calculateChecksum(raw))
	return ":" + strings.ToUpper(hex.EncodeToString(raw)) + "\n"
}

const eofRecord = ":00000001FF\n"

func TestParseHex(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []byte
		wantErr bool
		errMsg  string
	}{
		{
			name:  "single record",
			input: ":0400000001020304F2\n" + eofRecord,
			want:  []byte{0x01, 0x02, 0x03, 0x04},
		},
		{
			name:  "contiguous records",
			input: rec(0x00, 0x1000, 0x01, 0x02) + rec(0x00, 0x1002, 0x03) + eofRecord,
			want:  []byte{0x01, 0x02, 0x03},
		},
		{
			name:  "gap is filled",
			input: rec(0x00, 0x0000, 0xAA) + rec(0x00, 0x0004, 0xBB) + eofRecord,
			want:  []byte{0xAA, 0xFF, 0xFF, 0xFF, 0xBB},
		},
		{
			name:  "out of order records",
			input: rec(0x00, 0x0002, 0x03, 0x04) + rec(0x00, 0x0000, 0x01, 0x02) + eofRecord,
			want:  []byte{0x01, 0x02, 0x03, 0x04},
		},
		{
			name:  "extended linear address",
			input: ":020000040001F9\n" + rec(0x00, 0xFFFF, 0x01) + ":020000040002F8\n" + rec(0x00, 0x0000, 0x02) + eofRecord,
			want:  []byte{0x01, 0x02},
		},
		{
			name:  "extended segment address",
			input: rec(0x02, 0x0000, 0x10, 0x00) + rec(0x00, 0x0000, 0x01) + rec(0x02, 0x0000, 0x10, 0x01) + rec(0x00, 0x0000, 0x02),
			want:  append(append([]byte{0x01}, bytes.Repeat([]byte{0xFF}, 15)...), 0x02),
		},
		{
			name:  "start addresses ignored",
			input: rec(0x00, 0x0000, 0x01) + rec(0x03, 0x0000, 0x00, 0x00, 0x00, 0x00) + rec(0x05, 0x0000, 0x00, 0x00, 0x10, 0x00) + eofRecord,
			want:  []byte{0x01},
		},
		{
			name:  "windows line endings and blank lines",
			input: "\r\n:0400000001020304F2\r\n\r\n:00000001FF\r\n",
			want:  []byte{0x01, 0x02, 0x03, 0x04},
		},
		{
			name:    "bad checksum",
			input:   ":0400000001020304F3\n",
			wantErr: true,
			errMsg:  "checksum mismatch",
		},
		{
			name:    "missing colon",
			input:   "0400000001020304F2\n",
			wantErr: true,
			errMsg:  "must start with ':'",
		},
		{
			name:    "count does not match data",
			input:   ":0500000001020304F1\n",
			wantErr: true,
			errMsg:  "data length mismatch",
		},
		{
			name:    "too short",
			input:   ":0000\n",
			wantErr: true,
			errMsg:  "too short",
		},
		{
			name:    "invalid hex",
			input:   ":04000000010203ZZF2\n",
			wantErr: true,
			errMsg:  "invalid hex",
		},
		{
			name:    "unknown record type",
			input:   rec(0x07, 0x0000, 0x01),
			wantErr: true,
			errMsg:  "unknown record type 0x07",
		},
		{
			name:    "data after end of file",
			input:   eofRecord + rec(0x00, 0x0000, 0x01),
			wantErr: true,
			errMsg:  "after end of file",
		},
		{
			name:    "no data",
			input:   eofRecord,
			wantErr: true,
			errMsg:  "no data records",
		},
		{
			name:    "error names the line",
			input:   rec(0x00, 0x0000, 0x01) + ":0400000001020304F3\n",
			wantErr: true,
			errMsg:  "line 2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseHex(strings.NewReader(tt.input))

			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseHex() expected error, got nil")
					return
				}
				if tt.errMsg != "" && !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("ParseHex() error = %v, want error containing %q", err, tt.errMsg)
				}
				return
			}

			if err != nil {
				t.Fatalf("ParseHex() unexpected error: %v", err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("ParseHex() = % X, want % X", got, tt.want)
			}
		})
	}
}

func TestParseHexLargeImage(t *testing.T) {
	var b strings.Builder
	want := make([]byte, 0, 4096)
	for addr := 0; addr < 4096; addr += 16 {
		data := make([]byte, 16)
		for i := range data {
			data[i] = byte(addr/16 + i)
		}
		want = append(want, data...)
		b.WriteString(rec(0x00, uint16(addr), data...))
	}
	b.WriteString(eofRecord)

	got, err := ParseHex(strings.NewReader(b.String()))
	if err != nil {
		t.Fatalf("ParseHex() error = %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Error("flattened image does not match the records")
	}
}

func TestParseHexRejectsHugeSpan(t *testing.T) {
	input := rec(0x00, 0x0000, 0x01) + ":020000040100F9\n" + rec(0x00, 0x0000, 0x02) + eofRecord

	_, err := ParseHex(strings.NewReader(input))
	if err == nil || !strings.Contains(err.Error(), fmt.Sprintf("limit is %d", MaxImageSize)) {
		t.Errorf("ParseHex() error = %v, want size limit error", err)
	}
}

func TestCalculateChecksum(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want byte
	}{
		{name: "data record", data: []byte{0x04, 0x00, 0x00, 0x00, 0x01, 0x02, 0x03, 0x04}, want: 0xF2},
		{name: "end of file", data: []byte{0x00, 0x00, 0x00, 0x01}, want: 0xFF},
		{name: "zero", data: []byte{0x00}, want: 0x00},
		{name: "wraps", data: []byte{0xFF, 0x02}, want: 0xFF},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := calculateChecksum(tt.data); got != tt.want {
				t.Errorf("calculateChecksum() = 0x%02X, want 0x%02X", got, tt.want)
			}
		})
	}
}
