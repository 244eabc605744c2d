// Package dfu updates the firmware of Nordic nRF5 peripherals over BLE.
//
// # Overview
//
// The Engine drives one peripheral through a link.Link:
//   - Probing whether the peer runs its application or its bootloader
//   - Switching it into the bootloader and reconnecting
//   - Sending the init packet and the image with packet receipt flow control
//   - Verifying the transfer (CRC32 on the secure variant)
//   - Asking the peer to activate the new image
//
// Two protocol generations are supported, selected with protocol.Variant:
// the legacy fixed-sequence protocol and the secure object protocol, which
// resumes an interrupted transfer from the offset the peer reports.
//
// # Basic Usage
//
//	b, err := firmware.OpenBundle("app_dfu_package.zip")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	eng := dfu.New(l)
//	err = eng.Update(ctx, "DE:AD:BE:EF:01:02", b.Image, b.Descriptor, protocol.Secure)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// When the link is already connected to a peer in bootloader mode, call
// Start instead of Update.
//
// # Progress Tracking
//
//	eng := dfu.New(l,
//	    dfu.WithProgressCallback(func(p dfu.Progress) {
//	        fmt.Printf("[%s] %.1f%% - %d/%d bytes\n",
//	            p.Phase, p.Percentage, p.BytesSent, p.TotalBytes)
//	    }),
//	)
//
// # Configuration Options
//
//	eng := dfu.New(l,
//	    dfu.WithLogger(myLogger),
//	    dfu.WithNotificationTimeout(30*time.Second),
//	    dfu.WithAckWindow(10),
//	    dfu.WithSizeHeader(protocol.SizeHeader12),
//	    dfu.WithReconnect(time.Second, 20*time.Second, time.Second),
//	)
//
// # Cancellation
//
// Cancellation is cooperative and checked between data writes. A cancelled
// transfer leaves the link disconnected; the peer is not told anything.
//
//	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
//	defer cancel()
//	err := eng.Start(ctx, image, initPacket, protocol.Legacy)
//
// # Error Handling
//
// Nothing is retried inside the engine. A run ends with one of:
//   - LinkError: a transport operation failed
//   - TimeoutError: no notification within the notification timeout
//   - ConnectionLostError: the link dropped during a wait
//   - ChecksumMismatchError: the peer CRC disagrees with the data sent
//   - protocol.PeerRejectedError: the peer answered with an error result
//   - protocol.MalformedNotificationError: a notification could not be decoded
//   - ModeProbeFailedError, ReconnectError, AddressOverflowError: mode switching
//
// Errors carry the phase they happened in and can be matched with errors.As.
// After a failure on the secure variant, running Start again resumes from the
// last object the peer confirmed.
//
// # Several Peripherals
//
// UpdateAll runs independent sessions concurrently, one link per target:
//
//	results, err := dfu.UpdateAll(ctx, targets, func(addr string) (link.Link, error) {
//	    return central.NewLink(), nil
//	}, dfu.WithParallelism(3))
package dfu
