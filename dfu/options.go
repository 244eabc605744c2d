package dfu

import (
	"time"

	"github.com/coreos/go-semver/semver"

	"github.com/vamshik113/go-ota-dfu/protocol"
)

// Config holds the engine configuration.
type Config struct {
	// ProgressCallback is called during the transfer to report progress (optional)
	ProgressCallback ProgressCallback

	// Logger is used for logging operations (optional)
	Logger Logger

	// NotificationTimeout bounds every wait for a control point notification.
	// Default is 30 seconds, the worst case flash write latency of the peer.
	NotificationTimeout time.Duration

	// MaxPayload is the size of each packet characteristic write
	// Default is 20 bytes (ATT payload without a negotiated MTU)
	MaxPayload int

	// AckWindow is the packet receipt notification interval.
	// Zero selects the variant default (legacy 10, secure 5).
	AckWindow uint16

	// SizeHeader is the width of the legacy image size header
	SizeHeader protocol.SizeHeader

	// ImageType is the legacy START_DFU image type
	ImageType byte

	// ValidateDelay is the pause between a legacy VALIDATE response and
	// ACTIVATE_AND_RESET
	ValidateDelay time.Duration

	// SwitchSettle is how long the peer is left alone after a mode switch
	// request before reconnecting
	SwitchSettle time.Duration

	// ReconnectTimeout bounds the reconnect loop after a mode switch
	ReconnectTimeout time.Duration

	// ReconnectInterval is the pause between reconnect attempts
	ReconnectInterval time.Duration

	// ProbeTimeout bounds the mode probe
	ProbeTimeout time.Duration

	// LegacyBootloaderRevision is the lowest DFU revision that identifies a
	// legacy peer running its bootloader
	LegacyBootloaderRevision semver.Version

	// Parallelism limits concurrent sessions in UpdateAll. Zero is unlimited.
	Parallelism int
}

// defaultConfig returns the default configuration.
func defaultConfig() Config {
	return Config{
		NotificationTimeout:      30 * time.Second,
		MaxPayload:               protocol.DefaultMaxPayload,
		SizeHeader:               protocol.SizeHeader4,
		ImageType:                protocol.ImageApplication,
		ValidateDelay:            1 * time.Second,
		SwitchSettle:             500 * time.Millisecond,
		ReconnectTimeout:         10 * time.Second,
		ReconnectInterval:        1 * time.Second,
		ProbeTimeout:             10 * time.Second,
		LegacyBootloaderRevision: semver.Version{Major: 0, Minor: 8},
		Parallelism:              4,
	}
}

// ackWindow returns the effective packet receipt interval for v.
func (c Config) ackWindow(v protocol.Variant) uint16 {
	if c.AckWindow > 0 {
		return c.AckWindow
	}
	return v.DefaultPRN()
}

// Option is a functional option for configuring the Engine.
type Option func(*Config)

// WithProgressCallback sets a callback function to track transfer progress.
//
// Example:
//
//	eng := dfu.New(l,
//	    dfu.WithProgressCallback(func(p dfu.Progress) {
//	        fmt.Printf("%.1f%% complete\n", p.Percentage)
//	    }),
//	)
func WithProgressCallback(callback ProgressCallback) Option {
	return func(c *Config) {
		c.ProgressCallback = callback
	}
}

// WithLogger sets a logger for the engine operations.
//
// Example:
//
//	eng := dfu.New(l, dfu.WithLogger(myLogger))
func WithLogger(logger Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithNotificationTimeout sets how long every notification wait may block.
//
// Example:
//
//	eng := dfu.New(l, dfu.WithNotificationTimeout(10*time.Second))
func WithNotificationTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		if timeout > 0 {
			c.NotificationTimeout = timeout
		}
	}
}

// WithMaxPayload sets the size of each data write.
// Only raise it when the link has negotiated a larger ATT MTU.
//
// Example:
//
//	eng := dfu.New(l, dfu.WithMaxPayload(244))
func WithMaxPayload(size int) Option {
	return func(c *Config) {
		if size > 0 && size <= 512 {
			c.MaxPayload = size
		}
	}
}

// WithAckWindow sets the packet receipt notification interval.
//
// Example:
//
//	eng := dfu.New(l, dfu.WithAckWindow(8))
func WithAckWindow(window uint16) Option {
	return func(c *Config) {
		c.AckWindow = window
	}
}

// WithSizeHeader selects the legacy image size header width.
//
// Example:
//
//	eng := dfu.New(l, dfu.WithSizeHeader(protocol.SizeHeader12))
func WithSizeHeader(header protocol.SizeHeader) Option {
	return func(c *Config) {
		if header == protocol.SizeHeader4 || header == protocol.SizeHeader12 {
			c.SizeHeader = header
		}
	}
}

// WithImageType selects the legacy image type (application by default).
func WithImageType(imageType byte) Option {
	return func(c *Config) {
		switch imageType {
		case protocol.ImageSoftDevice, protocol.ImageBootloader, protocol.ImageApplication:
			c.ImageType = imageType
		}
	}
}

// WithValidateDelay sets the pause before the legacy activate command.
func WithValidateDelay(delay time.Duration) Option {
	return func(c *Config) {
		if delay >= 0 {
			c.ValidateDelay = delay
		}
	}
}

// WithReconnect sets the settle time, the overall timeout and the retry
// interval used to reach the peer after a mode switch.
//
// Example:
//
//	eng := dfu.New(l, dfu.WithReconnect(time.Second, 20*time.Second, 2*time.Second))
func WithReconnect(settle, timeout, interval time.Duration) Option {
	return func(c *Config) {
		if settle >= 0 {
			c.SwitchSettle = settle
		}
		if timeout > 0 {
			c.ReconnectTimeout = timeout
		}
		if interval >= 0 {
			c.ReconnectInterval = interval
		}
	}
}

// WithProbeTimeout bounds the mode probe.
func WithProbeTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		if timeout > 0 {
			c.ProbeTimeout = timeout
		}
	}
}

// WithLegacyBootloaderRevision sets the lowest legacy DFU revision that is
// treated as bootloader mode.
//
// Example:
//
//	eng := dfu.New(l, dfu.WithLegacyBootloaderRevision(*semver.New("0.8.0")))
func WithLegacyBootloaderRevision(v semver.Version) Option {
	return func(c *Config) {
		c.LegacyBootloaderRevision = v
	}
}

// WithParallelism limits how many peripherals UpdateAll updates at once.
func WithParallelism(n int) Option {
	return func(c *Config) {
		if n >= 0 {
			c.Parallelism = n
		}
	}
}
