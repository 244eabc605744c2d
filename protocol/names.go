package protocol

import "fmt"

// ProcedureName returns the protocol name of a procedure opcode.
func (v Variant) ProcedureName(p Procedure) string {
	if v == Legacy {
		switch p {
		case LegacyStartDFU:
			return "START_DFU"
		case LegacyInitDFU:
			return "INITIALIZE_DFU"
		case LegacyReceiveImage:
			return "RECEIVE_FIRMWARE_IMAGE"
		case LegacyValidate:
			return "VALIDATE_FIRMWARE"
		case LegacyActivateAndReset:
			return "ACTIVATE_IMAGE_AND_RESET"
		case LegacySystemReset:
			return "RESET_SYSTEM"
		case LegacyReportSize:
			return "REPORT_RECEIVED_IMAGE_SIZE"
		case LegacyPRNRequest:
			return "PACKET_RECEIPT_NOTIFICATION_REQUEST"
		case LegacyResponse:
			return "RESPONSE"
		case LegacyPacketReceipt:
			return "PACKET_RECEIPT_NOTIFICATION"
		}
		return fmt.Sprintf("UNKNOWN(0x%02X)", byte(p))
	}

	switch p {
	case SecureCreate:
		return "CREATE"
	case SecureSetPRN:
		return "SET_PRN"
	case SecureCalcChecksum:
		return "CALC_CHECKSUM"
	case SecureExecute:
		return "EXECUTE"
	case SecureSelect:
		return "SELECT"
	case SecureResponse:
		return "RESPONSE"
	}
	return fmt.Sprintf("UNKNOWN(0x%02X)", byte(p))
}

// ResultName returns the protocol name of a result code.
func (v Variant) ResultName(r Result) string {
	if v == Legacy {
		switch r {
		case LegacySuccess:
			return "SUCCESS"
		case LegacyInvalidState:
			return "INVALID_STATE"
		case LegacyNotSupported:
			return "NOT_SUPPORTED"
		case LegacyDataSizeExceedsLimits:
			return "DATA_SIZE_EXCEEDS_LIMITS"
		case LegacyCRCError:
			return "CRC_ERROR"
		case LegacyOperationFailed:
			return "OPERATION_FAILED"
		}
		return fmt.Sprintf("UNKNOWN(0x%02X)", byte(r))
	}

	switch r {
	case SecureInvalidCode:
		return "INVALID_CODE"
	case SecureSuccess:
		return "SUCCESS"
	case SecureOpcodeNotSupported:
		return "OPCODE_NOT_SUPPORTED"
	case SecureInvalidParameter:
		return "INVALID_PARAMETER"
	case SecureInsufficientResources:
		return "INSUFFICIENT_RESOURCES"
	case SecureInvalidObject:
		return "INVALID_OBJECT"
	case SecureUnsupportedType:
		return "UNSUPPORTED_TYPE"
	case SecureOperationNotPermitted:
		return "OPERATION_NOT_PERMITTED"
	case SecureOperationFailed:
		return "OPERATION_FAILED"
	}
	return fmt.Sprintf("UNKNOWN(0x%02X)", byte(r))
}

// isLeadingOpcode reports whether b may start a notification frame.
func (v Variant) isLeadingOpcode(b byte) bool {
	if v == Legacy {
		return Procedure(b) == LegacyResponse || Procedure(b) == LegacyPacketReceipt
	}
	return v == Secure && Procedure(b) == SecureResponse
}
