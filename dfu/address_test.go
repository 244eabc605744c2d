package dfu

import "testing"

func TestNormalizeAddress(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "already normal", input: "DE:AD:BE:EF:01:02", want: "DE:AD:BE:EF:01:02"},
		{name: "lower case", input: "de:ad:be:ef:01:02", want: "DE:AD:BE:EF:01:02"},
		{name: "hyphens", input: "de-ad-be-ef-01-02", want: "DE:AD:BE:EF:01:02"},
		{name: "bare hex", input: "deadbeef0102", want: "DE:AD:BE:EF:01:02"},
		{name: "surrounding space", input: "  DE:AD:BE:EF:01:02\n", want: "DE:AD:BE:EF:01:02"},
		{name: "too short", input: "DE:AD:BE:EF:01", wantErr: true},
		{name: "not hex", input: "DE:AD:BE:EF:01:ZZ", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeAddress(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("NormalizeAddress(%q) = %q, want error", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizeAddress(%q) error = %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("NormalizeAddress(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestIncrementAddress(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		want     string
		overflow bool
	}{
		{name: "simple", input: "AA:BB:CC:DD:EE:01", want: "AA:BB:CC:DD:EE:02"},
		{name: "hex digit carry within octet", input: "AA:BB:CC:DD:EE:0F", want: "AA:BB:CC:DD:EE:10"},
		{name: "up to FF", input: "aa:bb:cc:dd:ee:fe", want: "AA:BB:CC:DD:EE:FF"},
		{name: "zero", input: "AA:BB:CC:DD:EE:00", want: "AA:BB:CC:DD:EE:01"},
		{name: "last octet FF", input: "AA:BB:CC:DD:EE:FF", overflow: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := IncrementAddress(tt.input)
			if tt.overflow {
				var oe *AddressOverflowError
				if !asError(err, &oe) {
					t.Fatalf("IncrementAddress(%q) error = %v, want *AddressOverflowError", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("IncrementAddress(%q) error = %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("IncrementAddress(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestIncrementAddressIsPure(t *testing.T) {
	in := "AA:BB:CC:DD:EE:01"
	first, _ := IncrementAddress(in)
	second, _ := IncrementAddress(in)

	if first != "AA:BB:CC:DD:EE:02" || second != first {
		t.Errorf("IncrementAddress not repeatable: %q, %q", first, second)
	}
	if in != "AA:BB:CC:DD:EE:01" {
		t.Error("input modified")
	}
}

func TestIncrementAddressInvalid(t *testing.T) {
	if _, err := IncrementAddress("not-an-address"); err == nil {
		t.Error("expected error for invalid address")
	}
}
