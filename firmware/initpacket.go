package firmware

import (
	"fmt"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// FirmwareType is the image kind named by a secure init packet.
type FirmwareType uint32

const (
	TypeApplication          FirmwareType = 0
	TypeSoftDevice           FirmwareType = 1
	TypeBootloader           FirmwareType = 2
	TypeSoftDeviceBootloader FirmwareType = 3
)

func (t FirmwareType) String() string {
	switch t {
	case TypeApplication:
		return "application"
	case TypeSoftDevice:
		return "softdevice"
	case TypeBootloader:
		return "bootloader"
	case TypeSoftDeviceBootloader:
		return "softdevice_bootloader"
	default:
		return fmt.Sprintf("type(%d)", uint32(t))
	}
}

// HashType is the digest algorithm of the image hash.
type HashType uint32

const (
	HashNone   HashType = 0
	HashCRC    HashType = 1
	HashSHA128 HashType = 2
	HashSHA256 HashType = 3
	HashSHA512 HashType = 4
)

// InitPacket is the decoded content of a secure init packet (.dat).
// Unknown fields are ignored.
type InitPacket struct {
	// Signed is true for a signed_command packet
	Signed        bool
	SignatureType uint32
	Signature     []byte

	OpCode     uint32
	FwVersion  uint32
	HwVersion  uint32
	SdReq      []uint32
	Type       FirmwareType
	SdSize     uint32
	BlSize     uint32
	AppSize    uint32
	HashType   HashType
	Hash       []byte
	IsDebug    bool
	hasInitCmd bool
}

// ImageSize is the total image size the packet announces.
func (p *InitPacket) ImageSize() uint32 {
	return p.SdSize + p.BlSize + p.AppSize
}

// Field numbers of the secure bootloader's init packet protobuf.
const (
	fieldPacketCommand       protowire.Number = 1
	fieldPacketSignedCommand protowire.Number = 2

	fieldSignedCommand       protowire.Number = 1
	fieldSignedSignatureType protowire.Number = 2
	fieldSignedSignature     protowire.Number = 3

	fieldCommandOpCode protowire.Number = 1
	fieldCommandInit   protowire.Number = 2

	fieldInitFwVersion protowire.Number = 1
	fieldInitHwVersion protowire.Number = 2
	fieldInitSdReq     protowire.Number = 3
	fieldInitType      protowire.Number = 4
	fieldInitSdSize    protowire.Number = 5
	fieldInitBlSize    protowire.Number = 6
	fieldInitAppSize   protowire.Number = 7
	fieldInitHash      protowire.Number = 8
	fieldInitIsDebug   protowire.Number = 9

	fieldHashType protowire.Number = 1
	fieldHash     protowire.Number = 2
)

// InspectInitPacket decodes a secure init packet. The engine sends init
// packets opaquely; this is for tooling that wants to show or sanity check
// what is about to be sent.
//
// Example:
//
//	ip, err := firmware.InspectInitPacket(b.Descriptor)
//	if err == nil && ip.AppSize != uint32(len(b.Image)) {
//	    log.Printf("init packet expects %d bytes", ip.AppSize)
//	}
func InspectInitPacket(b []byte) (*InitPacket, error) {
	if len(b) == 0 {
		return nil, errors.New("init packet is empty")
	}

	p := &InitPacket{}
	err := walk(b, func(num protowire.Number, v uint64, raw []byte) error {
		switch num {
		case fieldPacketCommand:
			return p.command(raw)
		case fieldPacketSignedCommand:
			p.Signed = true
			return walk(raw, func(num protowire.Number, v uint64, raw []byte) error {
				switch num {
				case fieldSignedCommand:
					return p.command(raw)
				case fieldSignedSignatureType:
					p.SignatureType = uint32(v)
				case fieldSignedSignature:
					p.Signature = append([]byte(nil), raw...)
				}
				return nil
			})
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "invalid init packet")
	}
	if !p.hasInitCmd {
		return nil, errors.New("init packet holds no init command")
	}
	return p, nil
}

func (p *InitPacket) command(b []byte) error {
	return walk(b, func(num protowire.Number, v uint64, raw []byte) error {
		switch num {
		case fieldCommandOpCode:
			p.OpCode = uint32(v)
		case fieldCommandInit:
			p.hasInitCmd = true
			return p.initCommand(raw)
		}
		return nil
	})
}

func (p *InitPacket) initCommand(b []byte) error {
	return walk(b, func(num protowire.Number, v uint64, raw []byte) error {
		switch num {
		case fieldInitFwVersion:
			p.FwVersion = uint32(v)
		case fieldInitHwVersion:
			p.HwVersion = uint32(v)
		case fieldInitSdReq:
			if raw == nil {
				p.SdReq = append(p.SdReq, uint32(v))
				return nil
			}
			// packed
			for len(raw) > 0 {
				x, n := protowire.ConsumeVarint(raw)
				if n < 0 {
					return protowire.ParseError(n)
				}
				p.SdReq = append(p.SdReq, uint32(x))
				raw = raw[n:]
			}
		case fieldInitType:
			p.Type = FirmwareType(v)
		case fieldInitSdSize:
			p.SdSize = uint32(v)
		case fieldInitBlSize:
			p.BlSize = uint32(v)
		case fieldInitAppSize:
			p.AppSize = uint32(v)
		case fieldInitHash:
			return walk(raw, func(num protowire.Number, v uint64, raw []byte) error {
				switch num {
				case fieldHashType:
					p.HashType = HashType(v)
				case fieldHash:
					p.Hash = append([]byte(nil), raw...)
				}
				return nil
			})
		case fieldInitIsDebug:
			p.IsDebug = v != 0
		}
		return nil
	})
}

// walk calls fn for every varint and length delimited field of b. Varint
// fields have a nil raw; other wire types are skipped.
func walk(b []byte, fn func(num protowire.Number, v uint64, raw []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			if err := fn(num, v, nil); err != nil {
				return err
			}

		case protowire.BytesType:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			if raw == nil {
				raw = []byte{}
			}
			if err := fn(num, 0, raw); err != nil {
				return errors.Wrapf(err, "field %d", num)
			}

		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return nil
}
