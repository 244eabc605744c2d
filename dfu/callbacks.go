package dfu

import "time"

// Progress phases.
const (
	PhaseConnecting = "connecting"
	PhaseProbing    = "probing"
	PhaseSwitching  = "switching"
	PhaseStarting   = "starting"
	PhaseInit       = "init"
	PhaseImage      = "image"
	PhaseValidating = "validating"
	PhaseActivating = "activating"
	PhaseComplete   = "complete"
)

// Progress contains information about the transfer progress.
// Passed to ProgressCallback during an update.
type Progress struct {
	// Phase describes the current operation phase:
	//   "connecting" - Connecting to the peer (Update only)
	//   "probing"    - Determining the peer mode (Update only)
	//   "switching"  - Switching the peer into its bootloader (Update only)
	//   "starting"   - Discovering characteristics, sending start/PRN commands
	//   "init"       - Sending the init packet
	//   "image"      - Streaming the firmware image
	//   "validating" - Waiting for the peer to validate the image (legacy)
	//   "activating" - Asking the peer to activate the image and reset
	//   "complete"   - Operation completed successfully
	Phase string

	// Address is the peer address, when the update was started with Update
	Address string

	// Session identifies the transfer in logs
	Session string

	// BytesSent is the number of image bytes confirmed so far.
	// For the secure variant this is the offset reported by the peer.
	BytesSent int

	// TotalBytes is the image size
	TotalBytes int

	// Percentage is the completion percentage (0.0 to 100.0)
	Percentage float64

	// Object is the 1-based data object being sent (secure only)
	Object int

	// Objects is the number of data objects in the image (secure only)
	Objects int

	// ElapsedTime is the time elapsed since the transfer started
	ElapsedTime time.Duration
}

// ProgressCallback is called during the transfer to report progress.
// Implementations should return quickly; the engine waits for it.
//
// Example:
//
//	eng := dfu.New(l,
//	    dfu.WithProgressCallback(func(p dfu.Progress) {
//	        fmt.Printf("[%s] %d/%d bytes\n", p.Phase, p.BytesSent, p.TotalBytes)
//	    }),
//	)
type ProgressCallback func(Progress)

// Logger is an optional logging interface that can be provided to the engine.
// This allows integration with any logging framework.
//
// Example with standard log package:
//
//	type StdLogger struct{}
//	func (l *StdLogger) Debug(msg string, kv ...interface{}) { log.Println(msg, kv) }
//	func (l *StdLogger) Info(msg string, kv ...interface{})  { log.Println(msg, kv) }
//	func (l *StdLogger) Error(msg string, kv ...interface{}) { log.Println(msg, kv) }
//
//	eng := dfu.New(l, dfu.WithLogger(&StdLogger{}))
type Logger interface {
	// Debug logs a debug message with optional key-value pairs
	Debug(msg string, keysAndValues ...interface{})

	// Info logs an info message with optional key-value pairs
	Info(msg string, keysAndValues ...interface{})

	// Error logs an error message with optional key-value pairs
	Error(msg string, keysAndValues ...interface{})
}
