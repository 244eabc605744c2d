package dfu

import (
	"github.com/google/uuid"

	"github.com/vamshik113/go-ota-dfu/protocol"
)

// ObjectState is the peer's view of the current secure object, as reported by
// SELECT or CALC_CHECKSUM.
type ObjectState struct {
	Type    protocol.ObjectType
	MaxSize uint32
	Offset  uint32
	CRC32   uint32
}

// Session is the progress record of one transfer. It is created by Start,
// written only by the engine and discarded when Start returns.
type Session struct {
	ID         uuid.UUID
	Variant    protocol.Variant
	TotalSize  uint32
	BytesSent  uint32
	AckWindow  uint16
	MaxPayload uint16

	// Object is only used by the secure variant
	Object ObjectState
}

func newSession(v protocol.Variant, total uint32, window uint16, payload int) *Session {
	if window < 1 {
		window = 1
	}
	return &Session{
		ID:         uuid.New(),
		Variant:    v,
		TotalSize:  total,
		AckWindow:  window,
		MaxPayload: uint16(payload),
	}
}

// advance moves BytesSent forward to n. It never moves backwards and never
// passes TotalSize.
func (s *Session) advance(n uint32) {
	if n > s.TotalSize {
		n = s.TotalSize
	}
	if n > s.BytesSent {
		s.BytesSent = n
	}
}

func (s *Session) observe(t protocol.ObjectType, n protocol.Notification) {
	s.Object.Type = t
	if n.MaxSize > 0 {
		s.Object.MaxSize = n.MaxSize
	}
	s.Object.Offset = n.Offset
	s.Object.CRC32 = n.CRC32
}

func (s *Session) percentage() float64 {
	if s.TotalSize == 0 {
		return 0
	}
	return float64(s.BytesSent) / float64(s.TotalSize) * 100
}
