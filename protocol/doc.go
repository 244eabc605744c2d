// Package protocol implements the byte codec of the Nordic nRF5 BLE DFU
// control point, for both the legacy (SDK < 12) and the secure (SDK >= 12)
// bootloaders.
//
// # Protocol Overview
//
// A DFU peer exposes two characteristics:
//   - Control point: commands are written with acknowledged writes and
//     responses arrive as notifications
//   - Packet: payload is written with unacknowledged writes
//
// Commands are a single opcode byte followed by little-endian parameters:
//
//	[OPCODE][PARAMS...]
//
// Responses echo the procedure and carry a result code:
//
//	Legacy: [0x10][PROCEDURE][RESULT]
//	Secure: [0x60][PROCEDURE][RESULT][PAYLOAD...]
//
// # Command Builders
//
// Use the Build* functions to create command frames:
//
//	frame := protocol.BuildSelectCmd(protocol.ObjectData)
//	frame := protocol.BuildCreateCmd(protocol.ObjectData, 4096)
//	frame := protocol.BuildPRNCmd(protocol.Legacy, 10)
//
// # Notification Decoding
//
// Use DecodeNotification to validate a notification and extract its fields:
//
//	n, err := protocol.DecodeNotification(frame, protocol.Secure)
//	if err != nil {
//	    return err // *MalformedNotificationError
//	}
//	if n.Result != protocol.Secure.Success() {
//	    return &protocol.PeerRejectedError{Variant: protocol.Secure, Procedure: n.Procedure, Result: n.Result}
//	}
//
// Opcode and result tables are constants; there is no mutable package state.
package protocol
