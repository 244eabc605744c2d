package dfu

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/vamshik113/go-ota-dfu/link"
	"github.com/vamshik113/go-ota-dfu/protocol"
)

func asError(err error, target interface{}) bool {
	return errors.As(err, target)
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}

func TestLinkError(t *testing.T) {
	err := &LinkError{Phase: PhaseImage, Op: "write packet", Err: link.ErrNotConnected}

	errMsg := err.Error()

	if !strings.Contains(errMsg, "image") {
		t.Errorf("error message should contain phase, got: %s", errMsg)
	}

	if !strings.Contains(errMsg, "write packet") {
		t.Errorf("error message should contain operation, got: %s", errMsg)
	}

	if !errors.Is(err, link.ErrNotConnected) {
		t.Error("LinkError should unwrap to the transport error")
	}
}

func TestTimeoutError(t *testing.T) {
	err := &TimeoutError{Phase: PhaseInit, Awaiting: "CALC_CHECKSUM"}

	errMsg := err.Error()

	if !strings.Contains(errMsg, "init") {
		t.Errorf("error message should contain phase, got: %s", errMsg)
	}

	if !strings.Contains(errMsg, "CALC_CHECKSUM") {
		t.Errorf("error message should contain awaited procedure, got: %s", errMsg)
	}

	wrapped := errors.Wrap(err, "data object 1/2")
	if !IsTimeout(wrapped) {
		t.Error("IsTimeout should see through wrapping")
	}
	if IsConnectionLost(wrapped) {
		t.Error("IsConnectionLost should be false for a timeout")
	}
}

func TestConnectionLostError(t *testing.T) {
	err := errors.Wrap(&ConnectionLostError{Phase: PhaseImage}, "data object 2/2")

	if !IsConnectionLost(err) {
		t.Error("IsConnectionLost should see through wrapping")
	}

	if !strings.Contains(err.Error(), "connection lost") {
		t.Errorf("error message should contain 'connection lost', got: %s", err.Error())
	}
}

func TestChecksumMismatchError(t *testing.T) {
	err := &ChecksumMismatchError{
		Object:         protocol.ObjectData,
		ExpectedOffset: 512,
		Offset:         512,
		Expected:       0xCAFEBABE,
		Actual:         0xDEADBEEF,
	}

	errMsg := err.Error()

	if !strings.Contains(errMsg, "checksum mismatch") {
		t.Errorf("error message should contain 'checksum mismatch', got: %s", errMsg)
	}

	if !strings.Contains(errMsg, "0xCAFEBABE") {
		t.Errorf("error message should contain expected CRC, got: %s", errMsg)
	}

	if !strings.Contains(errMsg, "0xDEADBEEF") {
		t.Errorf("error message should contain actual CRC, got: %s", errMsg)
	}

	if !IsChecksumMismatch(errors.Wrap(err, "image")) {
		t.Error("IsChecksumMismatch should see through wrapping")
	}
}

func TestReconnectError(t *testing.T) {
	cause := errors.New("peer unreachable")
	err := &ReconnectError{
		Address:  "AA:BB:CC:DD:EE:02",
		Attempts: 3,
		Elapsed:  1500 * time.Millisecond,
		Err:      cause,
	}

	errMsg := err.Error()

	if !strings.Contains(errMsg, "AA:BB:CC:DD:EE:02") {
		t.Errorf("error message should contain address, got: %s", errMsg)
	}

	if !strings.Contains(errMsg, "3 attempts") {
		t.Errorf("error message should contain attempts, got: %s", errMsg)
	}

	if !errors.Is(err, cause) {
		t.Error("ReconnectError should unwrap to the last connect error")
	}
}

func TestModeProbeFailedAndOverflowErrors(t *testing.T) {
	probe := &ModeProbeFailedError{Variant: protocol.Secure, Reason: "not connected"}
	if !strings.Contains(probe.Error(), "secure") || !strings.Contains(probe.Error(), "not connected") {
		t.Errorf("unexpected message: %s", probe.Error())
	}

	overflow := &AddressOverflowError{Address: "AA:BB:CC:DD:EE:FF"}
	if !strings.Contains(overflow.Error(), "0xFF") {
		t.Errorf("unexpected message: %s", overflow.Error())
	}
}

func TestCancelledErrorMatchesContext(t *testing.T) {
	err := errors.Wrapf(context.Canceled, "%s cancelled", PhaseImage)
	if !errors.Is(err, context.Canceled) {
		t.Error("wrapped cancellation should match context.Canceled")
	}
}
