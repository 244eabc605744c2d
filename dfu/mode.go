package dfu

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-semver/semver"
	"github.com/pkg/errors"

	"github.com/vamshik113/go-ota-dfu/link"
	"github.com/vamshik113/go-ota-dfu/protocol"
)

// Mode is the firmware a peer is running.
type Mode int

const (
	// ModeUnknown is returned alongside an error
	ModeUnknown Mode = iota

	// ModeApplication means the peer runs its application and must be
	// switched before a transfer
	ModeApplication

	// ModeBootloader means the peer is ready for Start
	ModeBootloader
)

func (m Mode) String() string {
	switch m {
	case ModeApplication:
		return "application"
	case ModeBootloader:
		return "bootloader"
	default:
		return "unknown"
	}
}

// buttonlessUUIDs are tried in order when probing a secure peer.
var buttonlessUUIDs = [...]string{
	protocol.ButtonlessExperimentalUUID,
	protocol.ButtonlessUUID,
}

// ProbeMode determines whether the connected peer runs its application or
// its bootloader.
//
// A legacy peer is probed by reading its DFU revision: revisions at or above
// Config.LegacyBootloaderRevision belong to the bootloader. A secure peer in
// application mode exposes a buttonless characteristic; a secure bootloader
// does not. Any other answer, or no answer within Config.ProbeTimeout, is a
// ModeProbeFailedError.
func (e *Engine) ProbeMode(ctx context.Context, v protocol.Variant) (Mode, error) {
	var probe func(context.Context) (Mode, error)
	switch v {
	case protocol.Legacy:
		probe = e.probeLegacy
	case protocol.Secure:
		probe = e.probeSecure
	default:
		return ModeUnknown, &ModeProbeFailedError{Variant: v, Reason: "unsupported variant"}
	}

	ctx, cancel := context.WithTimeout(ctx, e.config.ProbeTimeout)
	defer cancel()

	// The link may not honour ctx, so the deadline is enforced here. A probe
	// still blocked in the link is abandoned; its result is discarded.
	type result struct {
		mode Mode
		err  error
	}
	done := make(chan result, 1)
	go func() {
		mode, err := probe(ctx)
		done <- result{mode, err}
	}()

	var r result
	select {
	case r = <-done:
	case <-ctx.Done():
	}

	switch ctx.Err() {
	case context.DeadlineExceeded:
		return ModeUnknown, &ModeProbeFailedError{
			Variant: v,
			Reason:  fmt.Sprintf("no answer within %s", e.config.ProbeTimeout),
		}
	case context.Canceled:
		return ModeUnknown, errors.Wrap(ctx.Err(), "probe mode")
	}
	if r.err != nil {
		return ModeUnknown, r.err
	}

	e.logInfo("peer mode", "variant", v.String(), "mode", r.mode.String())
	return r.mode, nil
}

func (e *Engine) probeLegacy(ctx context.Context) (Mode, error) {
	h, err := e.link.Discover(ctx, protocol.LegacyVersionUUID)
	if err != nil {
		return ModeUnknown, &ModeProbeFailedError{
			Variant: protocol.Legacy,
			Reason:  "DFU revision characteristic: " + err.Error(),
		}
	}

	value, err := e.link.Read(ctx, h.Value)
	if err != nil {
		return ModeUnknown, &ModeProbeFailedError{
			Variant: protocol.Legacy,
			Reason:  "read DFU revision: " + err.Error(),
		}
	}
	if len(value) < 2 {
		return ModeUnknown, &ModeProbeFailedError{
			Variant: protocol.Legacy,
			Reason:  fmt.Sprintf("DFU revision too short: % X", value),
		}
	}

	// little endian uint16: minor, major
	rev, err := semver.NewVersion(fmt.Sprintf("%d.%d.0", value[1], value[0]))
	if err != nil {
		return ModeUnknown, &ModeProbeFailedError{Variant: protocol.Legacy, Reason: err.Error()}
	}

	e.logDebug("legacy DFU revision", "revision", rev.String())
	if rev.LessThan(e.config.LegacyBootloaderRevision) {
		return ModeApplication, nil
	}
	return ModeBootloader, nil
}

func (e *Engine) probeSecure(ctx context.Context) (Mode, error) {
	_, err := e.discoverButtonless(ctx)
	switch {
	case err == nil:
		return ModeApplication, nil
	case errors.Is(err, link.ErrNotFound):
		return ModeBootloader, nil
	default:
		return ModeUnknown, &ModeProbeFailedError{
			Variant: protocol.Secure,
			Reason:  "buttonless characteristic: " + err.Error(),
		}
	}
}

func (e *Engine) discoverButtonless(ctx context.Context) (link.Handles, error) {
	for _, id := range buttonlessUUIDs {
		h, err := e.link.Discover(ctx, id)
		if err == nil {
			e.logDebug("buttonless characteristic found", "uuid", id)
			return h, nil
		}
		if !errors.Is(err, link.ErrNotFound) {
			return link.Handles{}, err
		}
	}
	return link.Handles{}, link.ErrNotFound
}

// EnterBootloader switches a connected peer from its application into the
// bootloader and reconnects to it. It returns the address the bootloader
// answers on: the same address for legacy peers, the address incremented by
// one for secure peers.
//
// After the switch request the peer is given Config.SwitchSettle to reset,
// then connection is attempted every Config.ReconnectInterval until
// Config.ReconnectTimeout elapses.
func (e *Engine) EnterBootloader(ctx context.Context, address string, v protocol.Variant) (string, error) {
	var target string

	switch v {
	case protocol.Legacy:
		h, err := e.link.Discover(ctx, protocol.LegacyControlPointUUID)
		if err != nil {
			return "", &LinkError{Phase: PhaseSwitching, Op: "discover control point", Err: err}
		}
		if err := e.link.EnableNotifications(ctx, h.CCCD); err != nil {
			return "", &LinkError{Phase: PhaseSwitching, Op: "enable notifications", Err: err}
		}
		if err := e.link.WriteRequest(ctx, h.Value, protocol.BuildStartCmd(protocol.ImageApplication)); err != nil {
			return "", &LinkError{Phase: PhaseSwitching, Op: "write START_DFU", Err: err}
		}
		target = address

	case protocol.Secure:
		next, err := IncrementAddress(address)
		if err != nil {
			return "", err
		}
		h, err := e.discoverButtonless(ctx)
		if err != nil {
			return "", &LinkError{Phase: PhaseSwitching, Op: "discover buttonless characteristic", Err: err}
		}
		if err := e.link.EnableNotifications(ctx, h.CCCD); err != nil {
			return "", &LinkError{Phase: PhaseSwitching, Op: "enable indications", Err: err}
		}
		if err := e.link.WriteRequest(ctx, h.Value, []byte{0x01}); err != nil {
			return "", &LinkError{Phase: PhaseSwitching, Op: "write buttonless trigger", Err: err}
		}
		target = next

	default:
		return "", errors.Errorf("unsupported protocol variant %s", v)
	}

	e.logInfo("switching to bootloader", "variant", v.String(), "address", address, "target", target)

	if err := e.link.Disconnect(); err != nil {
		e.logDebug("disconnect after switch request", "error", err)
	}
	if err := sleep(ctx, e.config.SwitchSettle); err != nil {
		return "", errors.Wrap(err, "switch settle")
	}

	if err := e.reconnect(ctx, target); err != nil {
		return "", err
	}
	return target, nil
}

// reconnect retries Connect until it succeeds or ReconnectTimeout elapses.
func (e *Engine) reconnect(ctx context.Context, address string) error {
	start := time.Now()
	deadline := start.Add(e.config.ReconnectTimeout)

	for attempt := 1; ; attempt++ {
		err := e.link.Connect(ctx, address)
		if err == nil {
			e.logDebug("reconnected", "address", address, "attempts", attempt)
			return nil
		}
		if ctx.Err() != nil {
			return errors.Wrap(ctx.Err(), "reconnect")
		}

		e.logDebug("peer not reachable yet", "address", address, "attempt", attempt, "error", err)
		if time.Now().Add(e.config.ReconnectInterval).After(deadline) {
			return &ReconnectError{
				Address:  address,
				Attempts: attempt,
				Elapsed:  time.Since(start),
				Err:      err,
			}
		}
		if err := sleep(ctx, e.config.ReconnectInterval); err != nil {
			return errors.Wrap(err, "reconnect")
		}
	}
}

// sleep pauses for d unless ctx is done first.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
