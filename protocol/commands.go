package protocol

import (
	"encoding/binary"
	"fmt"
)

// EncodeCommand constructs a control point command frame.
//
// Frame structure:
//
//	[OPCODE][PARAMS...]
//
// All multi-byte parameters are little-endian and must already be encoded.
func EncodeCommand(p Procedure, params ...byte) []byte {
	frame := make([]byte, 0, 1+len(params))
	frame = append(frame, byte(p))
	frame = append(frame, params...)
	return frame
}

// BuildStartCmd constructs a legacy START_DFU command for the given image type.
//
//	[0x01][IMAGE_TYPE]
func BuildStartCmd(imageType byte) []byte {
	return EncodeCommand(LegacyStartDFU, imageType)
}

// BuildInitPacketCmd constructs a legacy INIT_DFU command.
// complete=false announces the init packet, complete=true closes it.
//
//	[0x02][0x00|0x01]
func BuildInitPacketCmd(complete bool) []byte {
	if complete {
		return EncodeCommand(LegacyInitDFU, InitPacketComplete)
	}
	return EncodeCommand(LegacyInitDFU, InitPacketReceive)
}

// BuildReceiveImageCmd constructs a legacy RECEIVE_FIRMWARE_IMAGE command.
func BuildReceiveImageCmd() []byte {
	return EncodeCommand(LegacyReceiveImage)
}

// BuildValidateCmd constructs a legacy VALIDATE_FIRMWARE command.
func BuildValidateCmd() []byte {
	return EncodeCommand(LegacyValidate)
}

// BuildActivateAndResetCmd constructs a legacy ACTIVATE_IMAGE_AND_RESET command.
func BuildActivateAndResetCmd() []byte {
	return EncodeCommand(LegacyActivateAndReset)
}

// BuildPRNCmd constructs the packet receipt notification request of the
// given variant: PRN_REQUEST for legacy, SET_PRN for secure.
//
//	[OPCODE][PRN_L][PRN_H]
func BuildPRNCmd(v Variant, interval uint16) []byte {
	params := make([]byte, 2)
	binary.LittleEndian.PutUint16(params, interval)

	if v == Legacy {
		return EncodeCommand(LegacyPRNRequest, params...)
	}
	return EncodeCommand(SecureSetPRN, params...)
}

// BuildSelectCmd constructs a secure SELECT command.
//
//	[0x06][OBJECT_TYPE]
func BuildSelectCmd(t ObjectType) []byte {
	return EncodeCommand(SecureSelect, byte(t))
}

// BuildCreateCmd constructs a secure CREATE command.
//
//	[0x01][OBJECT_TYPE][SIZE(4)]
func BuildCreateCmd(t ObjectType, size uint32) []byte {
	params := make([]byte, 5)
	params[0] = byte(t)
	binary.LittleEndian.PutUint32(params[1:], size)
	return EncodeCommand(SecureCreate, params...)
}

// BuildCalcChecksumCmd constructs a secure CALC_CHECKSUM command.
func BuildCalcChecksumCmd() []byte {
	return EncodeCommand(SecureCalcChecksum)
}

// BuildExecuteCmd constructs a secure EXECUTE command.
func BuildExecuteCmd() []byte {
	return EncodeCommand(SecureExecute)
}

// EncodeImageSize builds the legacy image size header written to the packet
// characteristic right after START_DFU.
//
// SizeHeader4 is the bare little-endian length. SizeHeader12 is
//
//	[SOFTDEVICE_SIZE(4)][BOOTLOADER_SIZE(4)][APPLICATION_SIZE(4)]
//
// with the length placed in the slot that matches imageType and zeros elsewhere.
func EncodeImageSize(size uint32, header SizeHeader, imageType byte) ([]byte, error) {
	switch header {
	case SizeHeader4:
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, size)
		return buf, nil

	case SizeHeader12:
		buf := make([]byte, 12)
		var slot int
		switch imageType {
		case ImageSoftDevice:
			slot = 0
		case ImageBootloader:
			slot = 4
		case ImageApplication:
			slot = 8
		default:
			return nil, fmt.Errorf("image type 0x%02X has no size header slot", imageType)
		}
		binary.LittleEndian.PutUint32(buf[slot:], size)
		return buf, nil

	default:
		return nil, fmt.Errorf("unsupported image size header width %d", int(header))
	}
}
