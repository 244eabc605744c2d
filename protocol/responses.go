package protocol

import (
	"encoding/binary"
	"fmt"
)

// DecodeNotification parses a control point notification of the given variant.
//
// Legacy frames:
//
//	Response:       [0x10][PROCEDURE][RESULT]
//	Packet receipt: [0x11][OFFSET(4)]
//
// Secure frames:
//
//	Response:       [0x60][PROCEDURE][RESULT][PAYLOAD...]
//
// A successful secure SELECT carries [MAX_SIZE(4)][OFFSET(4)][CRC32(4)] and a
// successful CALC_CHECKSUM carries [OFFSET(4)][CRC32(4)]. Frames that are too
// short or that start with an unknown opcode return a *MalformedNotificationError.
func DecodeNotification(frame []byte, v Variant) (Notification, error) {
	if len(frame) < MinNotificationSize {
		return Notification{}, &MalformedNotificationError{
			Variant: v,
			Frame:   frame,
			Reason:  fmt.Sprintf("frame too short: got %d bytes, minimum is %d", len(frame), MinNotificationSize),
		}
	}

	if !v.isLeadingOpcode(frame[0]) {
		return Notification{}, &MalformedNotificationError{
			Variant: v,
			Frame:   frame,
			Reason:  fmt.Sprintf("unknown opcode 0x%02X", frame[0]),
		}
	}

	if v == Legacy && Procedure(frame[0]) == LegacyPacketReceipt {
		return decodePacketReceipt(frame)
	}

	n := Notification{
		Kind:      KindResponse,
		Procedure: Procedure(frame[1]),
		Result:    Result(frame[2]),
	}
	if len(frame) > MinNotificationSize {
		n.Payload = frame[MinNotificationSize:]
	}

	if v != Secure || n.Result != SecureSuccess {
		return n, nil
	}

	switch n.Procedure {
	case SecureSelect:
		if len(n.Payload) < SelectPayloadSize {
			return Notification{}, &MalformedNotificationError{
				Variant: v,
				Frame:   frame,
				Reason: fmt.Sprintf("invalid SELECT payload: got %d bytes, expected %d",
					len(n.Payload), SelectPayloadSize),
			}
		}
		n.MaxSize = binary.LittleEndian.Uint32(n.Payload[0:4])
		n.Offset = binary.LittleEndian.Uint32(n.Payload[4:8])
		n.CRC32 = binary.LittleEndian.Uint32(n.Payload[8:12])

	case SecureCalcChecksum:
		if len(n.Payload) < ChecksumPayloadSize {
			return Notification{}, &MalformedNotificationError{
				Variant: v,
				Frame:   frame,
				Reason: fmt.Sprintf("invalid CALC_CHECKSUM payload: got %d bytes, expected %d",
					len(n.Payload), ChecksumPayloadSize),
			}
		}
		n.Offset = binary.LittleEndian.Uint32(n.Payload[0:4])
		n.CRC32 = binary.LittleEndian.Uint32(n.Payload[4:8])
	}

	return n, nil
}

// decodePacketReceipt parses a legacy packet receipt notification.
func decodePacketReceipt(frame []byte) (Notification, error) {
	if len(frame) < PacketReceiptSize {
		return Notification{}, &MalformedNotificationError{
			Variant: Legacy,
			Frame:   frame,
			Reason: fmt.Sprintf("packet receipt too short: got %d bytes, expected %d",
				len(frame), PacketReceiptSize),
		}
	}

	return Notification{
		Kind:    KindPacketReceipt,
		Payload: frame[1:],
		Offset:  binary.LittleEndian.Uint32(frame[1:5]),
	}, nil
}

// EncodeResponse builds a response frame as a peripheral would send it.
// It is the inverse of DecodeNotification and is used by simulated peers.
func EncodeResponse(v Variant, p Procedure, r Result, payload ...byte) []byte {
	frame := make([]byte, 0, MinNotificationSize+len(payload))
	frame = append(frame, byte(v.ResponseOpcode()), byte(p), byte(r))
	return append(frame, payload...)
}

// EncodeSelectResponse builds a successful secure SELECT response.
func EncodeSelectResponse(maxSize, offset, crc uint32) []byte {
	payload := make([]byte, SelectPayloadSize)
	binary.LittleEndian.PutUint32(payload[0:4], maxSize)
	binary.LittleEndian.PutUint32(payload[4:8], offset)
	binary.LittleEndian.PutUint32(payload[8:12], crc)
	return EncodeResponse(Secure, SecureSelect, SecureSuccess, payload...)
}

// EncodeChecksumResponse builds a successful secure CALC_CHECKSUM response.
// Secure packet receipt notifications use the same frame.
func EncodeChecksumResponse(offset, crc uint32) []byte {
	payload := make([]byte, ChecksumPayloadSize)
	binary.LittleEndian.PutUint32(payload[0:4], offset)
	binary.LittleEndian.PutUint32(payload[4:8], crc)
	return EncodeResponse(Secure, SecureCalcChecksum, SecureSuccess, payload...)
}

// EncodePacketReceipt builds a legacy packet receipt notification.
func EncodePacketReceipt(offset uint32) []byte {
	frame := make([]byte, PacketReceiptSize)
	frame[0] = byte(LegacyPacketReceipt)
	binary.LittleEndian.PutUint32(frame[1:], offset)
	return frame
}
