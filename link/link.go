// Package link defines the GATT transport the DFU engine drives.
//
// The engine never talks to a BLE stack directly. It needs a connected peer,
// characteristic handles, acknowledged and unacknowledged writes, and a way to
// wait for the next control point notification with a bounded timeout.
// Implementations live in sub-packages:
//   - link/ble: BlueZ through tinygo.org/x/bluetooth
//   - link/linktest: a simulated DFU peripheral for tests and demos
package link

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by Discover when the peer does not expose the
// requested characteristic.
var ErrNotFound = errors.New("characteristic not found")

// ErrNotConnected is returned by operations that need an open connection.
var ErrNotConnected = errors.New("not connected")

// Handles identifies a discovered characteristic.
type Handles struct {
	// Char is the characteristic declaration handle
	Char uint16

	// Value is the characteristic value handle, used for reads and writes
	Value uint16

	// CCCD is the client characteristic configuration descriptor handle
	CCCD uint16
}

// Outcome is the result kind of a notification wait.
type Outcome int

const (
	// OutcomeData means a notification arrived; Event.Data holds it
	OutcomeData Outcome = iota

	// OutcomeTimeout means nothing arrived before the deadline
	OutcomeTimeout

	// OutcomeLinkLost means the connection dropped while waiting
	OutcomeLinkLost
)

func (o Outcome) String() string {
	switch o {
	case OutcomeData:
		return "data"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeLinkLost:
		return "link lost"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Event is exactly one outcome of a WaitNotification call.
type Event struct {
	Outcome Outcome
	Data    []byte
}

// Link is a connection to one BLE peripheral.
//
// A Link is used by a single goroutine at a time. WaitNotification must
// return within timeout; it never blocks indefinitely.
type Link interface {
	// Connect opens a connection to the peer at address (AA:BB:CC:DD:EE:FF).
	Connect(ctx context.Context, address string) error

	// Discover looks up a characteristic by UUID. Returns ErrNotFound if the
	// peer does not expose it.
	Discover(ctx context.Context, uuid string) (Handles, error)

	// EnableNotifications subscribes to notifications through a CCCD handle.
	EnableNotifications(ctx context.Context, cccd uint16) error

	// WriteRequest performs an acknowledged write.
	WriteRequest(ctx context.Context, handle uint16, data []byte) error

	// WriteCommand performs an unacknowledged write.
	WriteCommand(ctx context.Context, handle uint16, data []byte) error

	// Read reads a characteristic value.
	Read(ctx context.Context, handle uint16) ([]byte, error)

	// WaitNotification blocks for the next notification, at most timeout.
	WaitNotification(timeout time.Duration) Event

	// Disconnect closes the connection. It is safe to call more than once.
	Disconnect() error
}
