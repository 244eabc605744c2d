// Package linktest provides a simulated Nordic DFU peripheral that implements
// link.Link. It answers the legacy and the secure protocol like a real
// bootloader would, records every operation, and can inject faults.
package linktest

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/vamshik113/go-ota-dfu/link"
	"github.com/vamshik113/go-ota-dfu/protocol"
)

// Value handles exposed by the simulated peer. The CCCD of each
// characteristic is its value handle + 1.
const (
	ControlHandle    uint16 = 0x0010
	PacketHandle     uint16 = 0x0013
	VersionHandle    uint16 = 0x0016
	ButtonlessHandle uint16 = 0x0019
)

// Op identifies a recorded link operation.
type Op int

const (
	OpConnect Op = iota
	OpDisconnect
	OpDiscover
	OpEnableNotifications
	OpWriteRequest
	OpWriteCommand
	OpRead
	OpWait
)

// Record is one operation performed on the peripheral.
type Record struct {
	Op      Op
	Handle  uint16
	Data    []byte
	Address string
	Outcome link.Outcome
}

type legacyState int

const (
	legacyIdle legacyState = iota
	legacyAwaitSize
	legacyInit
	legacyImage
)

// Peripheral is a simulated DFU target. Zero values are usable once Variant
// is set; configure fields before handing it to the engine.
//
// Peripheral is not safe for concurrent use; give each session its own.
type Peripheral struct {
	Variant protocol.Variant

	// Address the peer answers on. Empty accepts any address.
	Address string

	// BootloaderAddress is where the peer reappears after a mode switch.
	// Empty keeps Address.
	BootloaderAddress string

	// InApplication models a peer running its application.
	InApplication bool

	// Buttonless is the buttonless characteristic UUID exposed by a secure
	// peer in application mode. Empty means none.
	Buttonless string

	// MaxObjectSize is reported by SELECT(Data). Default 4096.
	MaxObjectSize uint32

	// MaxCommandSize is reported by SELECT(Command). Default 256.
	MaxCommandSize uint32

	// Secure object state. Preset these to model an interrupted transfer.
	InitObject   []byte
	InitExecuted bool
	Data         []byte
	ExecutedData int

	// Legacy state. ImageSize also lets a secure peer know when the last
	// data object has been executed.
	ImageType  byte
	ImageSize  uint32
	InitPacket []byte
	Image      []byte
	Validated  bool

	// Activated is set by ACTIVATE_IMAGE_AND_RESET, or by the secure EXECUTE
	// that completes ImageSize bytes.
	Activated bool

	// Switched is set once a mode switch request has been received.
	Switched bool

	// Reject makes the peer answer a procedure with the given result.
	Reject map[protocol.Procedure]protocol.Result

	// CorruptChecksum flips the CRC reported by CALC_CHECKSUM.
	CorruptChecksum bool

	// DropLinkAfterData loses the link after that many packet writes.
	DropLinkAfterData int

	// Silent suppresses every notification.
	Silent bool

	// UnreachableConnects fails that many Connect calls before accepting.
	UnreachableConnects int

	// Creates and Executes count secure procedures per object type.
	Creates  map[protocol.ObjectType]int
	Executes map[protocol.ObjectType]int

	// Log records every operation in order.
	Log []Record

	connected  bool
	lost       bool
	switching  bool
	prn        uint16
	count      int
	dataWrites int
	queue      [][]byte
	state      legacyState
	current    protocol.ObjectType
}

// NewLegacy returns a legacy peer in bootloader mode.
func NewLegacy() *Peripheral {
	return &Peripheral{Variant: protocol.Legacy}
}

// NewSecure returns a secure peer in bootloader mode with the given maximum
// data object size.
func NewSecure(maxObjectSize uint32) *Peripheral {
	return &Peripheral{Variant: protocol.Secure, MaxObjectSize: maxObjectSize}
}

var _ link.Link = (*Peripheral)(nil)

// Connect implements link.Link.
func (p *Peripheral) Connect(ctx context.Context, address string) error {
	p.record(Record{Op: OpConnect, Address: address})

	if err := ctx.Err(); err != nil {
		return err
	}
	if p.UnreachableConnects > 0 {
		p.UnreachableConnects--
		return fmt.Errorf("connect %s: peer unreachable", address)
	}
	if p.Address != "" && !strings.EqualFold(p.Address, address) {
		return fmt.Errorf("connect %s: no such device", address)
	}

	p.connected = true
	p.lost = false
	return nil
}

// Disconnect implements link.Link. A pending mode switch completes here.
func (p *Peripheral) Disconnect() error {
	p.record(Record{Op: OpDisconnect})

	p.connected = false
	p.queue = nil
	if p.switching {
		p.switching = false
		p.InApplication = false
		if p.BootloaderAddress != "" {
			p.Address = p.BootloaderAddress
		}
	}
	return nil
}

// Discover implements link.Link.
func (p *Peripheral) Discover(ctx context.Context, uuid string) (link.Handles, error) {
	p.record(Record{Op: OpDiscover, Data: []byte(uuid)})

	if !p.connected {
		return link.Handles{}, link.ErrNotConnected
	}

	uuid = strings.ToLower(uuid)
	var value uint16
	switch {
	case p.Variant == protocol.Legacy && uuid == protocol.LegacyControlPointUUID:
		value = ControlHandle
	case p.Variant == protocol.Legacy && uuid == protocol.LegacyPacketUUID:
		value = PacketHandle
	case p.Variant == protocol.Legacy && uuid == protocol.LegacyVersionUUID:
		value = VersionHandle
	case p.Variant == protocol.Secure && !p.InApplication && uuid == protocol.SecureControlPointUUID:
		value = ControlHandle
	case p.Variant == protocol.Secure && !p.InApplication && uuid == protocol.SecurePacketUUID:
		value = PacketHandle
	case p.Variant == protocol.Secure && p.InApplication && p.Buttonless != "" && uuid == strings.ToLower(p.Buttonless):
		value = ButtonlessHandle
	default:
		return link.Handles{}, link.ErrNotFound
	}

	return link.Handles{Char: value - 1, Value: value, CCCD: value + 1}, nil
}

// EnableNotifications implements link.Link.
func (p *Peripheral) EnableNotifications(ctx context.Context, cccd uint16) error {
	p.record(Record{Op: OpEnableNotifications, Handle: cccd})

	if !p.connected {
		return link.ErrNotConnected
	}
	return nil
}

// Read implements link.Link. Only the legacy DFU revision is readable.
func (p *Peripheral) Read(ctx context.Context, handle uint16) ([]byte, error) {
	p.record(Record{Op: OpRead, Handle: handle})

	if !p.connected {
		return nil, link.ErrNotConnected
	}
	if handle != VersionHandle {
		return nil, fmt.Errorf("handle 0x%04X is not readable", handle)
	}
	if p.InApplication {
		return []byte{0x01, 0x00}, nil
	}
	return []byte{0x08, 0x00}, nil
}

// WriteRequest implements link.Link.
func (p *Peripheral) WriteRequest(ctx context.Context, handle uint16, data []byte) error {
	p.record(Record{Op: OpWriteRequest, Handle: handle, Data: clone(data)})

	if !p.connected || p.lost {
		return link.ErrNotConnected
	}
	if len(data) == 0 {
		return fmt.Errorf("empty write to handle 0x%04X", handle)
	}

	switch handle {
	case ControlHandle:
		if p.Variant == protocol.Legacy {
			p.legacyControl(data)
		} else {
			p.secureControl(data)
		}
	case ButtonlessHandle:
		if data[0] == 0x01 {
			p.Switched = true
			p.switching = true
		}
	default:
		return fmt.Errorf("handle 0x%04X does not accept write requests", handle)
	}
	return nil
}

// WriteCommand implements link.Link.
func (p *Peripheral) WriteCommand(ctx context.Context, handle uint16, data []byte) error {
	p.record(Record{Op: OpWriteCommand, Handle: handle, Data: clone(data)})

	if !p.connected || p.lost {
		return link.ErrNotConnected
	}
	if handle != PacketHandle {
		return fmt.Errorf("handle 0x%04X does not accept write commands", handle)
	}

	p.dataWrites++
	if p.Variant == protocol.Legacy {
		p.legacyData(data)
	} else {
		p.secureData(data)
	}

	if p.DropLinkAfterData > 0 && p.dataWrites >= p.DropLinkAfterData {
		p.lost = true
	}
	return nil
}

// WaitNotification implements link.Link. It never sleeps: an empty queue is
// reported as a timeout immediately.
func (p *Peripheral) WaitNotification(timeout time.Duration) link.Event {
	ev := link.Event{Outcome: link.OutcomeTimeout}
	switch {
	case p.lost || (!p.connected && p.switching):
		ev = link.Event{Outcome: link.OutcomeLinkLost}
	case p.Silent || len(p.queue) == 0:
	default:
		ev = link.Event{Outcome: link.OutcomeData, Data: p.queue[0]}
		p.queue = p.queue[1:]
	}

	p.record(Record{Op: OpWait, Data: ev.Data, Outcome: ev.Outcome})
	return ev
}

// Notify queues a raw notification frame, e.g. a malformed one.
func (p *Peripheral) Notify(frame []byte) {
	p.queue = append(p.queue, clone(frame))
}

func (p *Peripheral) legacyControl(data []byte) {
	switch protocol.Procedure(data[0]) {
	case protocol.LegacyStartDFU:
		if p.InApplication {
			// the application's DFU service resets into the bootloader
			p.Switched = true
			p.switching = true
			return
		}
		if len(data) > 1 {
			p.ImageType = data[1]
		}
		p.state = legacyAwaitSize

	case protocol.LegacyInitDFU:
		if len(data) > 1 && data[1] == protocol.InitPacketComplete {
			p.state = legacyIdle
			p.respond(protocol.LegacyInitDFU)
			return
		}
		p.InitPacket = nil
		p.state = legacyInit

	case protocol.LegacyPRNRequest:
		if len(data) >= 3 {
			p.prn = binary.LittleEndian.Uint16(data[1:3])
		}

	case protocol.LegacyReceiveImage:
		p.Image = nil
		p.count = 0
		p.state = legacyImage

	case protocol.LegacyValidate:
		p.Validated = true
		p.respond(protocol.LegacyValidate)

	case protocol.LegacyActivateAndReset:
		p.Activated = true

	default:
		p.queue = append(p.queue, protocol.EncodeResponse(protocol.Legacy,
			protocol.Procedure(data[0]), protocol.LegacyNotSupported))
	}
}

func (p *Peripheral) legacyData(data []byte) {
	switch p.state {
	case legacyAwaitSize:
		switch len(data) {
		case 4:
			p.ImageSize = binary.LittleEndian.Uint32(data)
		case 12:
			p.ImageSize = binary.LittleEndian.Uint32(data[0:4]) +
				binary.LittleEndian.Uint32(data[4:8]) +
				binary.LittleEndian.Uint32(data[8:12])
		default:
			p.queue = append(p.queue, protocol.EncodeResponse(protocol.Legacy,
				protocol.LegacyStartDFU, protocol.LegacyDataSizeExceedsLimits))
			p.state = legacyIdle
			return
		}
		p.state = legacyIdle
		p.respond(protocol.LegacyStartDFU)

	case legacyInit:
		p.InitPacket = append(p.InitPacket, data...)

	case legacyImage:
		p.Image = append(p.Image, data...)
		p.count++
		if uint32(len(p.Image)) >= p.ImageSize {
			p.state = legacyIdle
			p.respond(protocol.LegacyReceiveImage)
		} else if p.prn > 0 && p.count%int(p.prn) == 0 {
			p.queue = append(p.queue, protocol.EncodePacketReceipt(uint32(len(p.Image))))
		}
	}
}

func (p *Peripheral) secureControl(data []byte) {
	proc := protocol.Procedure(data[0])
	if r, ok := p.Reject[proc]; ok {
		p.queue = append(p.queue, protocol.EncodeResponse(protocol.Secure, proc, r))
		return
	}

	switch proc {
	case protocol.SecureSetPRN:
		if len(data) >= 3 {
			p.prn = binary.LittleEndian.Uint16(data[1:3])
		}
		p.respond(proc)

	case protocol.SecureSelect:
		p.current = protocol.ObjectType(data[1])
		p.count = 0
		if p.current == protocol.ObjectCommand {
			p.queue = append(p.queue, protocol.EncodeSelectResponse(
				p.maxCommandSize(), uint32(len(p.InitObject)), protocol.CRC32(p.InitObject)))
		} else {
			p.queue = append(p.queue, protocol.EncodeSelectResponse(
				p.maxObjectSize(), uint32(len(p.Data)), protocol.CRC32(p.Data)))
		}

	case protocol.SecureCreate:
		t := protocol.ObjectType(data[1])
		size := binary.LittleEndian.Uint32(data[2:6])
		if (t == protocol.ObjectCommand && size > p.maxCommandSize()) ||
			(t == protocol.ObjectData && size > p.maxObjectSize()) {
			p.queue = append(p.queue, protocol.EncodeResponse(protocol.Secure,
				proc, protocol.SecureInsufficientResources))
			return
		}
		if p.Creates == nil {
			p.Creates = make(map[protocol.ObjectType]int)
		}
		p.Creates[t]++
		p.current = t
		p.count = 0
		if t == protocol.ObjectCommand {
			p.InitObject = nil
			p.InitExecuted = false
		} else {
			p.Data = p.Data[:p.ExecutedData]
		}
		p.respond(proc)

	case protocol.SecureCalcChecksum:
		offset, crc := p.objectState()
		if p.CorruptChecksum {
			crc = ^crc
		}
		p.queue = append(p.queue, protocol.EncodeChecksumResponse(offset, crc))

	case protocol.SecureExecute:
		if p.Executes == nil {
			p.Executes = make(map[protocol.ObjectType]int)
		}
		p.Executes[p.current]++
		if p.current == protocol.ObjectCommand {
			p.InitExecuted = true
		} else {
			p.ExecutedData = len(p.Data)
			if p.ImageSize > 0 && uint32(p.ExecutedData) >= p.ImageSize {
				p.Activated = true
			}
		}
		p.respond(proc)

	default:
		p.queue = append(p.queue, protocol.EncodeResponse(protocol.Secure,
			proc, protocol.SecureOpcodeNotSupported))
	}
}

func (p *Peripheral) secureData(data []byte) {
	if p.current == protocol.ObjectCommand {
		p.InitObject = append(p.InitObject, data...)
	} else {
		p.Data = append(p.Data, data...)
	}

	p.count++
	if p.prn > 0 && p.count%int(p.prn) == 0 {
		offset, crc := p.objectState()
		p.queue = append(p.queue, protocol.EncodeChecksumResponse(offset, crc))
	}
}

func (p *Peripheral) objectState() (uint32, uint32) {
	if p.current == protocol.ObjectCommand {
		return uint32(len(p.InitObject)), protocol.CRC32(p.InitObject)
	}
	return uint32(len(p.Data)), protocol.CRC32(p.Data)
}

func (p *Peripheral) respond(proc protocol.Procedure) {
	result := p.Variant.Success()
	if r, ok := p.Reject[proc]; ok {
		result = r
	}
	p.queue = append(p.queue, protocol.EncodeResponse(p.Variant, proc, result))
}

func (p *Peripheral) maxObjectSize() uint32 {
	if p.MaxObjectSize == 0 {
		return 4096
	}
	return p.MaxObjectSize
}

func (p *Peripheral) maxCommandSize() uint32 {
	if p.MaxCommandSize == 0 {
		return 256
	}
	return p.MaxCommandSize
}

func (p *Peripheral) record(r Record) {
	p.Log = append(p.Log, r)
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	c := make([]byte, len(b))
	copy(c, b)
	return c
}
