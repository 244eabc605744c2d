package protocol

import (
	"fmt"
	"strings"
)

// Variant selects one of the two DFU protocol generations.
// It is fixed for the lifetime of a transfer.
type Variant uint8

const (
	// Legacy is the fixed-sequence protocol of Nordic SDK < 12
	Legacy Variant = iota + 1

	// Secure is the object based select/create/execute protocol of SDK >= 12
	Secure
)

func (v Variant) String() string {
	switch v {
	case Legacy:
		return "legacy"
	case Secure:
		return "secure"
	default:
		return fmt.Sprintf("variant(%d)", uint8(v))
	}
}

// ParseVariant converts "legacy" or "secure" (any case) to a Variant.
func ParseVariant(s string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "legacy":
		return Legacy, nil
	case "secure":
		return Secure, nil
	default:
		return 0, fmt.Errorf("unknown protocol variant %q", s)
	}
}

// ControlPointUUID returns the control point characteristic of the variant.
func (v Variant) ControlPointUUID() string {
	if v == Legacy {
		return LegacyControlPointUUID
	}
	return SecureControlPointUUID
}

// PacketUUID returns the data (packet) characteristic of the variant.
func (v Variant) PacketUUID() string {
	if v == Legacy {
		return LegacyPacketUUID
	}
	return SecurePacketUUID
}

// ResponseOpcode is the leading byte of a control point response.
func (v Variant) ResponseOpcode() Procedure {
	if v == Legacy {
		return LegacyResponse
	}
	return SecureResponse
}

// Success is the result code that means success in this variant.
func (v Variant) Success() Result {
	if v == Legacy {
		return LegacySuccess
	}
	return SecureSuccess
}

// DefaultPRN is the default packet receipt notification interval.
func (v Variant) DefaultPRN() uint16 {
	if v == Legacy {
		return DefaultLegacyPRN
	}
	return DefaultSecurePRN
}

// Procedure is a control point opcode.
type Procedure byte

// Result is a control point result code.
type Result byte

// ObjectType is the secure variant object kind.
type ObjectType byte

func (t ObjectType) String() string {
	switch t {
	case ObjectCommand:
		return "command"
	case ObjectData:
		return "data"
	default:
		return fmt.Sprintf("object(0x%02X)", byte(t))
	}
}

// SizeHeader is the width of the legacy image size header.
// Bootloader generations disagree on it, so it is configuration.
type SizeHeader int

const (
	// SizeHeader4 sends the image length as a single uint32
	SizeHeader4 SizeHeader = 4

	// SizeHeader12 sends [softdevice, bootloader, application] uint32 sizes
	SizeHeader12 SizeHeader = 12
)

// NotificationKind distinguishes decoded notification frames.
type NotificationKind int

const (
	// KindResponse is a control point response to a procedure
	KindResponse NotificationKind = iota

	// KindPacketReceipt is a legacy packet receipt notification
	KindPacketReceipt
)

func (k NotificationKind) String() string {
	switch k {
	case KindResponse:
		return "response"
	case KindPacketReceipt:
		return "packet receipt"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Notification is a decoded control point notification.
type Notification struct {
	Kind NotificationKind

	// Procedure is the procedure a response answers (zero for receipts)
	Procedure Procedure

	// Result is the response result code (zero for receipts)
	Result Result

	// Payload holds the raw bytes following [opcode, procedure, result]
	Payload []byte

	// MaxSize is set by a secure SELECT response
	MaxSize uint32

	// Offset is set by legacy receipts and by secure SELECT/CALC_CHECKSUM
	Offset uint32

	// CRC32 is set by secure SELECT/CALC_CHECKSUM responses
	CRC32 uint32
}
