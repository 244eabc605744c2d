package protocol

import (
	"errors"
	"fmt"
)

// PeerRejectedError is returned when the bootloader answers a procedure with
// a non-success result code.
type PeerRejectedError struct {
	// Variant selects the result code table
	Variant Variant

	// Procedure is the procedure the peer rejected
	Procedure Procedure

	// Result is the result code from the peer
	Result Result
}

func (e *PeerRejectedError) Error() string {
	return fmt.Sprintf("%s rejected by peer: %s (0x%02X)",
		e.Variant.ProcedureName(e.Procedure), e.Variant.ResultName(e.Result), byte(e.Result))
}

// MalformedNotificationError is returned when a notification frame cannot be
// decoded for the active variant. It usually means a variant mismatch.
type MalformedNotificationError struct {
	Variant Variant
	Frame   []byte
	Reason  string
}

func (e *MalformedNotificationError) Error() string {
	return fmt.Sprintf("malformed %s notification % X: %s", e.Variant, e.Frame, e.Reason)
}

// IsPeerRejected returns true if err is or wraps a PeerRejectedError.
func IsPeerRejected(err error) bool {
	var pe *PeerRejectedError
	return errors.As(err, &pe)
}

// IsMalformed returns true if err is or wraps a MalformedNotificationError.
func IsMalformed(err error) bool {
	var me *MalformedNotificationError
	return errors.As(err, &me)
}
