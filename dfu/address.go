package dfu

import (
	"encoding/hex"
	"strings"

	"github.com/pkg/errors"
)

// NormalizeAddress formats a MAC-48 address as upper case colon separated
// octets. Colons and hyphens in the input are ignored, so "de-ad-be-ef-01-02"
// and "deadbeef0102" both become "DE:AD:BE:EF:01:02".
func NormalizeAddress(address string) (string, error) {
	raw := strings.NewReplacer(":", "", "-", "").Replace(strings.TrimSpace(address))
	if len(raw) != 12 {
		return "", errors.Errorf("invalid address %q", address)
	}

	octets, err := hex.DecodeString(raw)
	if err != nil {
		return "", errors.Errorf("invalid address %q", address)
	}
	return formatAddress(octets), nil
}

// IncrementAddress returns address with its last octet incremented by one.
// A secure bootloader advertises at this address after a buttonless switch.
// An address ending in FF has no successor and yields an AddressOverflowError.
func IncrementAddress(address string) (string, error) {
	norm, err := NormalizeAddress(address)
	if err != nil {
		return "", err
	}

	octets, _ := hex.DecodeString(strings.ReplaceAll(norm, ":", ""))
	if octets[5] == 0xFF {
		return "", &AddressOverflowError{Address: norm}
	}
	octets[5]++
	return formatAddress(octets), nil
}

func formatAddress(octets []byte) string {
	parts := make([]string, len(octets))
	for i, b := range octets {
		parts[i] = strings.ToUpper(hex.EncodeToString([]byte{b}))
	}
	return strings.Join(parts, ":")
}
