package dfu

import (
	"context"
	"time"

	"github.com/vamshik113/go-ota-dfu/protocol"
)

// Update runs a complete update of the peer at address: connect, probe the
// mode, switch to the bootloader if needed, transfer and disconnect.
//
// A secure peer that already sits in its bootloader advertises at address+1,
// so when the first connection fails for the secure variant that address is
// tried as well.
//
// Example:
//
//	eng := dfu.New(l, dfu.WithLogger(logger))
//	err := eng.Update(ctx, "DE:AD:BE:EF:01:02", b.Image, b.Descriptor, protocol.Secure)
func (e *Engine) Update(ctx context.Context, address string, image, descriptor []byte, v protocol.Variant) error {
	addr, err := NormalizeAddress(address)
	if err != nil {
		return err
	}
	e.address = addr
	started := time.Now()

	e.reportProgress(Progress{Phase: PhaseConnecting, Address: addr})
	addr, err = e.connect(ctx, addr, v)
	if err != nil {
		return err
	}
	defer func() {
		if err := e.link.Disconnect(); err != nil {
			e.logDebug("disconnect", "address", e.address, "error", err)
		}
	}()

	e.reportProgress(Progress{Phase: PhaseProbing, Address: addr, ElapsedTime: time.Since(started)})
	mode, err := e.ProbeMode(ctx, v)
	if err != nil {
		return err
	}

	if mode == ModeApplication {
		e.reportProgress(Progress{Phase: PhaseSwitching, Address: addr, ElapsedTime: time.Since(started)})
		addr, err = e.EnterBootloader(ctx, addr, v)
		if err != nil {
			return err
		}
		e.address = addr
	}

	return e.Start(ctx, image, descriptor, v)
}

func (e *Engine) connect(ctx context.Context, addr string, v protocol.Variant) (string, error) {
	err := e.link.Connect(ctx, addr)
	if err == nil {
		return addr, nil
	}
	if v != protocol.Secure || ctx.Err() != nil {
		return "", &LinkError{Phase: PhaseConnecting, Op: "connect " + addr, Err: err}
	}

	next, ierr := IncrementAddress(addr)
	if ierr != nil {
		return "", &LinkError{Phase: PhaseConnecting, Op: "connect " + addr, Err: err}
	}
	e.logInfo("peer not reachable, trying bootloader address", "address", addr, "target", next)

	if err := e.link.Connect(ctx, next); err != nil {
		return "", &LinkError{Phase: PhaseConnecting, Op: "connect " + next, Err: err}
	}
	e.address = next
	return next, nil
}
