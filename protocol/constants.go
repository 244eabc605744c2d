package protocol

// Legacy DFU control point opcodes (Nordic SDK < 12).
const (
	// LegacyStartDFU starts a DFU procedure for the given image type
	LegacyStartDFU Procedure = 0x01

	// LegacyInitDFU announces or completes the init packet transfer
	LegacyInitDFU Procedure = 0x02

	// LegacyReceiveImage puts the bootloader in firmware receive state
	LegacyReceiveImage Procedure = 0x03

	// LegacyValidate asks the bootloader to validate the received image
	LegacyValidate Procedure = 0x04

	// LegacyActivateAndReset activates the new image and resets the device
	LegacyActivateAndReset Procedure = 0x05

	// LegacySystemReset resets the device without activating anything
	LegacySystemReset Procedure = 0x06

	// LegacyReportSize requests the number of image bytes received so far
	LegacyReportSize Procedure = 0x07

	// LegacyPRNRequest sets the packet receipt notification interval
	LegacyPRNRequest Procedure = 0x08

	// LegacyResponse is the leading opcode of every control point response
	LegacyResponse Procedure = 0x10

	// LegacyPacketReceipt is the leading opcode of a packet receipt notification
	LegacyPacketReceipt Procedure = 0x11
)

// Legacy result codes.
const (
	LegacySuccess               Result = 0x01
	LegacyInvalidState          Result = 0x02
	LegacyNotSupported          Result = 0x03
	LegacyDataSizeExceedsLimits Result = 0x04
	LegacyCRCError              Result = 0x05
	LegacyOperationFailed       Result = 0x06
)

// Legacy START_DFU image types. Also used to pick the slot of the
// 12-byte image size header.
const (
	ImageSoftDevice  byte = 0x01
	ImageBootloader  byte = 0x02
	ImageApplication byte = 0x04
)

// Legacy INIT_DFU parameters.
const (
	InitPacketReceive  byte = 0x00
	InitPacketComplete byte = 0x01
)

// Secure DFU control point opcodes (Nordic SDK >= 12).
const (
	SecureCreate       Procedure = 0x01
	SecureSetPRN       Procedure = 0x02
	SecureCalcChecksum Procedure = 0x03
	SecureExecute      Procedure = 0x04
	SecureSelect       Procedure = 0x06
	SecureResponse     Procedure = 0x60
)

// Secure result codes.
const (
	SecureInvalidCode           Result = 0x00
	SecureSuccess               Result = 0x01
	SecureOpcodeNotSupported    Result = 0x02
	SecureInvalidParameter      Result = 0x03
	SecureInsufficientResources Result = 0x04
	SecureInvalidObject         Result = 0x05
	SecureUnsupportedType       Result = 0x07
	SecureOperationNotPermitted Result = 0x08
	SecureOperationFailed       Result = 0x0A
)

// Secure object types, sent as the parameter of SELECT and CREATE.
const (
	ObjectCommand ObjectType = 0x01
	ObjectData    ObjectType = 0x02
)

// Frame sizes.
const (
	// MinNotificationSize is the shortest valid notification:
	// OPCODE(1) + PROCEDURE(1) + RESULT(1)
	MinNotificationSize = 3

	// PacketReceiptSize is the legacy packet receipt frame: OPCODE(1) + OFFSET(4)
	PacketReceiptSize = 5

	// SelectPayloadSize is MAX_SIZE(4) + OFFSET(4) + CRC32(4)
	SelectPayloadSize = 12

	// ChecksumPayloadSize is OFFSET(4) + CRC32(4)
	ChecksumPayloadSize = 8
)

// DefaultMaxPayload is the per-write chunk size: the minimum usable ATT
// payload without a negotiated MTU.
const DefaultMaxPayload = 20

// Default packet receipt notification intervals.
const (
	DefaultLegacyPRN = 10
	DefaultSecurePRN = 5
)

// GATT characteristic UUIDs.
const (
	LegacyControlPointUUID = "00001531-1212-efde-1523-785feabcd123"
	LegacyPacketUUID       = "00001532-1212-efde-1523-785feabcd123"
	LegacyVersionUUID      = "00001534-1212-efde-1523-785feabcd123"

	SecureControlPointUUID = "8ec90001-f315-4f60-9fb8-838830daea50"
	SecurePacketUUID       = "8ec90002-f315-4f60-9fb8-838830daea50"

	// ButtonlessExperimentalUUID is the buttonless characteristic of the
	// experimental SDK 12-13 service.
	ButtonlessExperimentalUUID = "8e400001-f315-4f60-9fb8-838830daea50"

	// ButtonlessUUID is the unbonded buttonless characteristic of later SDKs.
	ButtonlessUUID = "8ec90003-f315-4f60-9fb8-838830daea50"
)
