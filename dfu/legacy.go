package dfu

import (
	"context"

	"github.com/vamshik113/go-ota-dfu/protocol"
)

// legacyVariant runs the fixed sequence of the legacy bootloader:
//
//	START_DFU, size header, INIT_DFU, init packet, INIT_DFU(complete),
//	PRN_REQUEST, RECEIVE_IMAGE, image, VALIDATE, ACTIVATE_AND_RESET
type legacyVariant struct{}

func (legacyVariant) kind() protocol.Variant { return protocol.Legacy }

func (legacyVariant) run(ctx context.Context, t *transfer) error {
	cfg := t.engine.config

	if err := legacyStart(ctx, t, cfg); err != nil {
		return err
	}
	if err := legacyInit(ctx, t, cfg); err != nil {
		return err
	}
	if err := legacyImage(ctx, t, cfg); err != nil {
		return err
	}

	t.phase = PhaseValidating
	t.report()
	if _, err := t.request(ctx, protocol.BuildValidateCmd()); err != nil {
		return err
	}
	if err := t.sleep(ctx, cfg.ValidateDelay); err != nil {
		return err
	}

	t.phase = PhaseActivating
	t.report()
	// The peer resets on activate, so the write may fail as the link drops
	if err := t.command(ctx, protocol.BuildActivateAndResetCmd()); err != nil {
		t.engine.logDebug("activate write failed, ignoring",
			"session", t.session.ID.String(),
			"error", err,
		)
	}
	return nil
}

func legacyStart(ctx context.Context, t *transfer, cfg Config) error {
	header, err := protocol.EncodeImageSize(t.session.TotalSize, cfg.SizeHeader, cfg.ImageType)
	if err != nil {
		return err
	}

	if err := t.command(ctx, protocol.BuildStartCmd(cfg.ImageType)); err != nil {
		return err
	}
	if err := t.data(ctx, header); err != nil {
		return err
	}
	_, err = t.response(protocol.LegacyStartDFU)
	return err
}

func legacyInit(ctx context.Context, t *transfer, cfg Config) error {
	t.phase = PhaseInit
	t.report()

	if err := t.command(ctx, protocol.BuildInitPacketCmd(false)); err != nil {
		return err
	}

	// the init packet is not flow controlled
	c := NewChunker(t.descriptor, 0, len(t.descriptor), cfg.MaxPayload, 1)
	if err := t.stream(ctx, c, nil); err != nil {
		return err
	}

	_, err := t.request(ctx, protocol.BuildInitPacketCmd(true))
	return err
}

func legacyImage(ctx context.Context, t *transfer, cfg Config) error {
	t.phase = PhaseImage

	if err := t.command(ctx, protocol.BuildPRNCmd(protocol.Legacy, t.session.AckWindow)); err != nil {
		return err
	}
	if err := t.command(ctx, protocol.BuildReceiveImageCmd()); err != nil {
		return err
	}
	t.report()

	c := NewChunker(t.image, 0, len(t.image), cfg.MaxPayload, int(t.session.AckWindow))
	return t.stream(ctx, c, func(seg Segment) error {
		sent := uint32(seg.Offset + len(seg.Data))

		if seg.Last {
			// the image is complete: wait for the RECEIVE_IMAGE response,
			// passing over a receipt the peer may send first
			if _, err := t.response(protocol.LegacyReceiveImage); err != nil {
				return err
			}
		} else {
			n, err := t.waitFor("packet receipt", func(n protocol.Notification) bool {
				return n.Kind == protocol.KindPacketReceipt
			})
			if err != nil {
				return err
			}
			if n.Offset != sent {
				t.engine.logDebug("receipt offset differs",
					"session", t.session.ID.String(),
					"sent", sent,
					"peer", n.Offset,
				)
			}
		}

		t.session.advance(sent)
		t.report()
		return nil
	})
}
