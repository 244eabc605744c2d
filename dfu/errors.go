package dfu

import (
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/vamshik113/go-ota-dfu/protocol"
)

// LinkError indicates that a transport operation failed.
type LinkError struct {
	Phase string
	Op    string
	Err   error
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Phase, e.Op, e.Err)
}

func (e *LinkError) Unwrap() error {
	return e.Err
}

// TimeoutError indicates that no notification arrived within the
// notification timeout.
type TimeoutError struct {
	Phase    string
	Awaiting string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: no notification while awaiting %s", e.Phase, e.Awaiting)
}

// ConnectionLostError indicates that the link dropped during a wait.
type ConnectionLostError struct {
	Phase string
}

func (e *ConnectionLostError) Error() string {
	return fmt.Sprintf("%s: connection lost", e.Phase)
}

// ChecksumMismatchError indicates that the offset or CRC reported by the peer
// after an object transfer does not match what was sent.
type ChecksumMismatchError struct {
	Object         protocol.ObjectType
	ExpectedOffset uint32
	Offset         uint32
	Expected       uint32
	Actual         uint32
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s object: expected offset %d crc 0x%08X, peer has offset %d crc 0x%08X",
		e.Object, e.ExpectedOffset, e.Expected, e.Offset, e.Actual)
}

// ModeProbeFailedError indicates that the peer mode could not be determined.
type ModeProbeFailedError struct {
	Variant protocol.Variant
	Reason  string
}

func (e *ModeProbeFailedError) Error() string {
	return fmt.Sprintf("cannot determine %s peer mode: %s", e.Variant, e.Reason)
}

// AddressOverflowError indicates that the last address octet cannot be
// incremented.
type AddressOverflowError struct {
	Address string
}

func (e *AddressOverflowError) Error() string {
	return fmt.Sprintf("cannot increment address %s: last octet is 0xFF", e.Address)
}

// ReconnectError indicates that the peer did not come back after a mode
// switch.
type ReconnectError struct {
	Address  string
	Attempts int
	Elapsed  time.Duration
	Err      error
}

func (e *ReconnectError) Error() string {
	return fmt.Sprintf("peer did not reappear at %s after %d attempts in %s: %v",
		e.Address, e.Attempts, e.Elapsed.Round(time.Millisecond), e.Err)
}

func (e *ReconnectError) Unwrap() error {
	return e.Err
}

// IsTimeout returns true if err is or wraps a TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// IsConnectionLost returns true if err is or wraps a ConnectionLostError.
func IsConnectionLost(err error) bool {
	var ce *ConnectionLostError
	return errors.As(err, &ce)
}

// IsChecksumMismatch returns true if err is or wraps a ChecksumMismatchError.
func IsChecksumMismatch(err error) bool {
	var ce *ChecksumMismatchError
	return errors.As(err, &ce)
}
