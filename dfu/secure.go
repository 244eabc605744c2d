package dfu

import (
	"context"

	"github.com/pkg/errors"

	"github.com/vamshik113/go-ota-dfu/protocol"
)

// secureVariant runs the object based protocol of the secure bootloader.
// Both the init packet and the image are sent as objects that are selected,
// created, streamed, checksummed and executed. The peer keeps the state of
// partially sent objects, so an interrupted transfer resumes where the peer
// says it stopped.
type secureVariant struct{}

func (secureVariant) kind() protocol.Variant { return protocol.Secure }

func (secureVariant) run(ctx context.Context, t *transfer) error {
	if _, err := t.request(ctx, protocol.BuildPRNCmd(protocol.Secure, t.session.AckWindow)); err != nil {
		return err
	}
	if err := secureInitObject(ctx, t); err != nil {
		return err
	}
	return secureDataObjects(ctx, t)
}

// selectObject issues SELECT for typ and records the peer state.
func selectObject(ctx context.Context, t *transfer, typ protocol.ObjectType) (protocol.Notification, error) {
	n, err := t.request(ctx, protocol.BuildSelectCmd(typ))
	if err != nil {
		return n, err
	}
	t.session.observe(typ, n)

	t.engine.logDebug("object selected",
		"session", t.session.ID.String(),
		"type", typ.String(),
		"max_size", n.MaxSize,
		"offset", n.Offset,
		"crc", n.CRC32,
	)
	return n, nil
}

func secureInitObject(ctx context.Context, t *transfer) error {
	t.phase = PhaseInit
	t.report()

	desc := t.descriptor
	size := uint32(len(desc))
	crc := protocol.CRC32(desc)

	n, err := selectObject(ctx, t, protocol.ObjectCommand)
	if err != nil {
		return err
	}

	if n.Offset == size && n.CRC32 == crc {
		t.engine.logInfo("init packet already on peer",
			"session", t.session.ID.String(),
		)
		_, err := t.request(ctx, protocol.BuildExecuteCmd())
		return err
	}

	start := n.Offset
	if start == 0 || start > size || n.CRC32 != protocol.CRC32(desc[:start]) {
		if _, err := t.request(ctx, protocol.BuildCreateCmd(protocol.ObjectCommand, size)); err != nil {
			return err
		}
		start = 0
	}

	c := NewChunker(desc, int(start), int(size), t.engine.config.MaxPayload, int(t.session.AckWindow))
	if err := t.stream(ctx, c, func(seg Segment) error {
		return awaitChecksumReceipt(t, protocol.ObjectCommand, seg)
	}); err != nil {
		return err
	}

	if err := verifyObject(ctx, t, protocol.ObjectCommand, size, crc); err != nil {
		return err
	}
	_, err = t.request(ctx, protocol.BuildExecuteCmd())
	return err
}

func secureDataObjects(ctx context.Context, t *transfer) error {
	t.phase = PhaseImage

	image := t.image
	total := uint32(len(image))

	n, err := selectObject(ctx, t, protocol.ObjectData)
	if err != nil {
		return err
	}
	maxSize := n.MaxSize
	if maxSize == 0 {
		return errors.Wrap(&protocol.MalformedNotificationError{
			Variant: protocol.Secure,
			Frame:   n.Payload,
			Reason:  "zero maximum object size",
		}, t.phase)
	}
	t.objects = int((total + maxSize - 1) / maxSize)

	if n.Offset == total && n.CRC32 == protocol.CRC32(image) {
		t.engine.logInfo("image already on peer, executing",
			"session", t.session.ID.String(),
		)
		t.object = t.objects
		t.session.advance(total)
		t.report()
		_, err := t.request(ctx, protocol.BuildExecuteCmd())
		return err
	}

	var start uint32
	switch {
	case n.Offset > total || n.CRC32 != protocol.CRC32(image[:n.Offset]):
		t.engine.logInfo("peer data does not match image, restarting",
			"session", t.session.ID.String(),
			"offset", n.Offset,
		)
	default:
		start = n.Offset / maxSize * maxSize
		if start > 0 && start == n.Offset {
			// the object ending at offset is complete but may not have
			// been executed yet
			if _, err := t.request(ctx, protocol.BuildExecuteCmd()); err != nil {
				return err
			}
		}
		if start > 0 {
			t.engine.logInfo("resuming image transfer",
				"session", t.session.ID.String(),
				"offset", start,
			)
		}
	}

	t.session.BytesSent = start
	t.report()

	crc := protocol.CRC32(image[:start])
	for begin := start; begin < total; begin += maxSize {
		end := begin + maxSize
		if end > total {
			end = total
		}
		crc = protocol.UpdateCRC32(crc, image[begin:end])
		t.object = int(begin/maxSize) + 1

		if err := sendDataObject(ctx, t, begin, end, crc); err != nil {
			return errors.Wrapf(err, "data object %d/%d", t.object, t.objects)
		}
	}
	return nil
}

// sendDataObject creates, streams, verifies and executes image[begin:end].
// crc is the CRC of image[:end].
func sendDataObject(ctx context.Context, t *transfer, begin, end, crc uint32) error {
	if _, err := t.request(ctx, protocol.BuildCreateCmd(protocol.ObjectData, end-begin)); err != nil {
		return err
	}

	c := NewChunker(t.image, int(begin), int(end), t.engine.config.MaxPayload, int(t.session.AckWindow))
	if err := t.stream(ctx, c, func(seg Segment) error {
		return awaitChecksumReceipt(t, protocol.ObjectData, seg)
	}); err != nil {
		return err
	}

	if err := verifyObject(ctx, t, protocol.ObjectData, end, crc); err != nil {
		return err
	}
	if _, err := t.request(ctx, protocol.BuildExecuteCmd()); err != nil {
		return err
	}

	t.engine.logDebug("data object executed",
		"session", t.session.ID.String(),
		"object", t.object,
		"offset", end,
	)
	return nil
}

// awaitChecksumReceipt handles an ack point. Window aligned segments wait for
// the packet receipt, which the secure peer sends in CALC_CHECKSUM shape. The
// unaligned final segment of an object is acknowledged by the CALC_CHECKSUM
// round trip that follows it.
func awaitChecksumReceipt(t *transfer, typ protocol.ObjectType, seg Segment) error {
	if !seg.WindowAligned {
		return nil
	}

	n, err := t.waitFor("packet receipt", func(n protocol.Notification) bool {
		return n.Kind == protocol.KindResponse && n.Procedure == protocol.SecureCalcChecksum
	})
	if err != nil {
		return err
	}
	t.session.observe(typ, n)

	if typ == protocol.ObjectData {
		t.session.advance(n.Offset)
		t.report()
	}
	return nil
}

// verifyObject asks the peer for its checksum and compares it with the
// expected offset and CRC.
func verifyObject(ctx context.Context, t *transfer, typ protocol.ObjectType, offset, crc uint32) error {
	n, err := t.request(ctx, protocol.BuildCalcChecksumCmd())
	if err != nil {
		return err
	}
	t.session.observe(typ, n)

	if n.Offset != offset || n.CRC32 != crc {
		return errors.Wrap(&ChecksumMismatchError{
			Object:         typ,
			ExpectedOffset: offset,
			Offset:         n.Offset,
			Expected:       crc,
			Actual:         n.CRC32,
		}, t.phase)
	}

	if typ == protocol.ObjectData {
		t.session.advance(n.Offset)
		t.report()
	}
	return nil
}
