package dfu

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/pkg/errors"

	"github.com/vamshik113/go-ota-dfu/link"
	"github.com/vamshik113/go-ota-dfu/protocol"
)

// maxSkipped bounds how many unrelated notifications a wait tolerates before
// giving up on the peer.
const maxSkipped = 8

// Engine drives the Nordic DFU protocol over a link.Link.
//
// An Engine is bound to one link and runs one transfer at a time. Concurrent
// updates of several peripherals use one Engine per link; see UpdateAll.
type Engine struct {
	link   link.Link
	config Config

	// address of the peer, when known; only used for progress reports
	address string
}

// New creates a new Engine over l with the given options.
//
// Example:
//
//	eng := dfu.New(l,
//	    dfu.WithProgressCallback(progressFunc),
//	    dfu.WithNotificationTimeout(10*time.Second),
//	)
func New(l link.Link, opts ...Option) *Engine {
	if l == nil {
		panic("link cannot be nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Engine{
		link:   l,
		config: cfg,
	}
}

// variant is the sealed capability that distinguishes the two protocol
// generations. Only legacyVariant and secureVariant implement it.
type variant interface {
	kind() protocol.Variant
	run(ctx context.Context, t *transfer) error
}

func variantFor(v protocol.Variant) (variant, error) {
	switch v {
	case protocol.Legacy:
		return legacyVariant{}, nil
	case protocol.Secure:
		return secureVariant{}, nil
	default:
		return nil, errors.Errorf("unsupported protocol variant %s", v)
	}
}

// Start transfers image and descriptor to a peer that is already connected in
// bootloader mode, and asks it to activate the new image.
//
// The link is left connected on success and on protocol failures. When ctx is
// cancelled the engine stops before the next data write, disconnects the link
// and returns the context error.
//
// Example:
//
//	b, _ := firmware.Load("app.hex", "app.dat", "")
//	err := eng.Start(ctx, b.Image, b.Descriptor, protocol.Secure)
func (e *Engine) Start(ctx context.Context, image, descriptor []byte, v protocol.Variant) error {
	proto, err := variantFor(v)
	if err != nil {
		return err
	}
	if len(image) == 0 {
		return errors.New("firmware image is empty")
	}
	if uint64(len(image)) > math.MaxUint32 {
		return errors.Errorf("firmware image too large: %d bytes", len(image))
	}
	if v == protocol.Secure && len(descriptor) == 0 {
		return errors.New("secure transfer requires an init packet")
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "start")
	}

	t := &transfer{
		engine:     e,
		link:       e.link,
		variant:    v,
		image:      image,
		descriptor: descriptor,
		session:    newSession(v, uint32(len(image)), e.config.ackWindow(v), e.config.MaxPayload),
		started:    time.Now(),
		phase:      PhaseStarting,
	}

	e.logInfo("starting transfer",
		"session", t.session.ID.String(),
		"variant", proto.kind().String(),
		"image_bytes", len(image),
		"init_bytes", len(descriptor),
		"prn", t.session.AckWindow,
	)
	t.report()

	if err := t.discover(ctx); err != nil {
		e.logError("transfer failed", "session", t.session.ID.String(), "phase", t.phase, "error", err)
		return err
	}

	if err := proto.run(ctx, t); err != nil {
		e.logError("transfer failed", "session", t.session.ID.String(), "phase", t.phase, "error", err)
		return err
	}

	t.phase = PhaseComplete
	t.session.advance(t.session.TotalSize)
	t.report()

	e.logInfo("transfer complete",
		"session", t.session.ID.String(),
		"bytes", t.session.BytesSent,
		"elapsed", time.Since(t.started).String(),
	)
	return nil
}

// transfer is the state of one Start call.
type transfer struct {
	engine     *Engine
	link       link.Link
	variant    protocol.Variant
	image      []byte
	descriptor []byte
	session    *Session
	started    time.Time
	phase      string

	control link.Handles
	packet  link.Handles

	// object counters reported with progress (secure)
	object  int
	objects int
}

func (t *transfer) discover(ctx context.Context) error {
	var err error
	t.control, err = t.link.Discover(ctx, t.variant.ControlPointUUID())
	if err != nil {
		return &LinkError{Phase: t.phase, Op: "discover control point", Err: err}
	}
	t.packet, err = t.link.Discover(ctx, t.variant.PacketUUID())
	if err != nil {
		return &LinkError{Phase: t.phase, Op: "discover packet characteristic", Err: err}
	}
	if err := t.link.EnableNotifications(ctx, t.control.CCCD); err != nil {
		return &LinkError{Phase: t.phase, Op: "enable notifications", Err: err}
	}

	t.engine.logDebug("characteristics discovered",
		"session", t.session.ID.String(),
		"control", t.control.Value,
		"packet", t.packet.Value,
	)
	return nil
}

// command writes a control point command with an acknowledged write.
func (t *transfer) command(ctx context.Context, cmd []byte) error {
	t.engine.logDebug("command",
		"session", t.session.ID.String(),
		"procedure", t.variant.ProcedureName(protocol.Procedure(cmd[0])),
		"frame", cmd,
	)
	if err := t.link.WriteRequest(ctx, t.control.Value, cmd); err != nil {
		return &LinkError{
			Phase: t.phase,
			Op:    "write " + t.variant.ProcedureName(protocol.Procedure(cmd[0])),
			Err:   err,
		}
	}
	return nil
}

// data writes to the packet characteristic with an unacknowledged write.
func (t *transfer) data(ctx context.Context, payload []byte) error {
	if err := t.link.WriteCommand(ctx, t.packet.Value, payload); err != nil {
		return &LinkError{Phase: t.phase, Op: "write packet", Err: err}
	}
	return nil
}

// await blocks for exactly one notification and decodes it. The raw frame is
// returned alongside the decoded notification.
func (t *transfer) await(awaiting string) (protocol.Notification, []byte, error) {
	ev := t.link.WaitNotification(t.engine.config.NotificationTimeout)

	switch ev.Outcome {
	case link.OutcomeTimeout:
		return protocol.Notification{}, nil, &TimeoutError{Phase: t.phase, Awaiting: awaiting}
	case link.OutcomeLinkLost:
		return protocol.Notification{}, nil, &ConnectionLostError{Phase: t.phase}
	}

	n, err := protocol.DecodeNotification(ev.Data, t.variant)
	if err != nil {
		return n, ev.Data, errors.Wrap(err, t.phase)
	}
	return n, ev.Data, nil
}

// waitFor blocks until match accepts a notification. A failed response
// always ends the wait with a PeerRejectedError; other notifications are
// skipped, up to maxSkipped of them. Past that the peer is taken to speak a
// different protocol and the last frame is reported as malformed.
func (t *transfer) waitFor(awaiting string, match func(protocol.Notification) bool) (protocol.Notification, error) {
	for skipped := 0; ; skipped++ {
		n, frame, err := t.await(awaiting)
		if err != nil {
			return n, err
		}

		if n.Kind == protocol.KindResponse && n.Result != t.variant.Success() {
			return n, errors.Wrap(&protocol.PeerRejectedError{
				Variant:   t.variant,
				Procedure: n.Procedure,
				Result:    n.Result,
			}, t.phase)
		}
		if match(n) {
			return n, nil
		}

		if skipped >= maxSkipped {
			return n, errors.Wrap(&protocol.MalformedNotificationError{
				Variant: t.variant,
				Frame:   frame,
				Reason:  fmt.Sprintf("%d unrelated notifications while awaiting %s", skipped+1, awaiting),
			}, t.phase)
		}
		t.engine.logDebug("skipping notification",
			"session", t.session.ID.String(),
			"awaiting", awaiting,
			"kind", n.Kind.String(),
			"procedure", t.variant.ProcedureName(n.Procedure),
		)
	}
}

// response waits for the successful response to proc.
func (t *transfer) response(proc protocol.Procedure) (protocol.Notification, error) {
	return t.waitFor(t.variant.ProcedureName(proc), func(n protocol.Notification) bool {
		return n.Kind == protocol.KindResponse && n.Procedure == proc
	})
}

// request writes cmd and waits for its response.
func (t *transfer) request(ctx context.Context, cmd []byte) (protocol.Notification, error) {
	if err := t.command(ctx, cmd); err != nil {
		return protocol.Notification{}, err
	}
	return t.response(protocol.Procedure(cmd[0]))
}

// stream writes every segment of c. After each ack point segment it calls
// ack, which is expected to wait for the matching notification. Cancellation
// is checked before every write.
func (t *transfer) stream(ctx context.Context, c *Chunker, ack func(Segment) error) error {
	for {
		seg, ok := c.Next()
		if !ok {
			return nil
		}
		if err := t.checkCancel(ctx); err != nil {
			return err
		}
		if err := t.data(ctx, seg.Data); err != nil {
			return err
		}
		if seg.AckPoint && ack != nil {
			if err := ack(seg); err != nil {
				return err
			}
		}
	}
}

// checkCancel leaves the link disconnected when ctx is done.
func (t *transfer) checkCancel(ctx context.Context) error {
	err := ctx.Err()
	if err == nil {
		return nil
	}

	t.engine.logInfo("transfer cancelled, disconnecting",
		"session", t.session.ID.String(),
		"phase", t.phase,
		"bytes", t.session.BytesSent,
	)
	if derr := t.link.Disconnect(); derr != nil {
		t.engine.logError("disconnect after cancel failed", "error", derr)
	}
	return errors.Wrapf(err, "%s cancelled", t.phase)
}

// sleep pauses for d. A cancelled ctx is handled like a cancel between
// chunks.
func (t *transfer) sleep(ctx context.Context, d time.Duration) error {
	if err := sleep(ctx, d); err != nil {
		return t.checkCancel(ctx)
	}
	return nil
}

func (t *transfer) report() {
	t.engine.reportProgress(Progress{
		Phase:       t.phase,
		Address:     t.engine.address,
		Session:     t.session.ID.String(),
		BytesSent:   int(t.session.BytesSent),
		TotalBytes:  int(t.session.TotalSize),
		Percentage:  t.session.percentage(),
		Object:      t.object,
		Objects:     t.objects,
		ElapsedTime: time.Since(t.started),
	})
}

// reportProgress calls the progress callback if configured.
func (e *Engine) reportProgress(progress Progress) {
	if e.config.ProgressCallback != nil {
		e.config.ProgressCallback(progress)
	}
}

// logDebug logs a debug message if a logger is configured.
func (e *Engine) logDebug(msg string, keysAndValues ...interface{}) {
	if e.config.Logger != nil {
		e.config.Logger.Debug(msg, keysAndValues...)
	}
}

// logInfo logs an info message if a logger is configured.
func (e *Engine) logInfo(msg string, keysAndValues ...interface{}) {
	if e.config.Logger != nil {
		e.config.Logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error message if a logger is configured.
func (e *Engine) logError(msg string, keysAndValues ...interface{}) {
	if e.config.Logger != nil {
		e.config.Logger.Error(msg, keysAndValues...)
	}
}
