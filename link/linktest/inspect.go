package linktest

// Count returns how many operations of kind op were performed on handle.
// A zero handle matches every handle.
func (p *Peripheral) Count(op Op, handle uint16) int {
	n := 0
	for _, r := range p.Log {
		if r.Op == op && (handle == 0 || r.Handle == handle) {
			n++
		}
	}
	return n
}

// ControlWrites returns the frames written to the control point, in order.
func (p *Peripheral) ControlWrites() [][]byte {
	var frames [][]byte
	for _, r := range p.Log {
		if r.Op == OpWriteRequest && r.Handle == ControlHandle {
			frames = append(frames, r.Data)
		}
	}
	return frames
}

// PacketWrites returns the payloads written to the packet characteristic.
func (p *Peripheral) PacketWrites() [][]byte {
	var frames [][]byte
	for _, r := range p.Log {
		if r.Op == OpWriteCommand && r.Handle == PacketHandle {
			frames = append(frames, r.Data)
		}
	}
	return frames
}

// WaitPositions returns, for every notification wait in Log[start:end] that
// follows at least one packet write in that range, the number of packet
// writes performed since start. A negative end means len(Log).
func (p *Peripheral) WaitPositions(start, end int) []int {
	if end < 0 || end > len(p.Log) {
		end = len(p.Log)
	}

	var positions []int
	writes := 0
	for _, r := range p.Log[start:end] {
		switch {
		case r.Op == OpWriteCommand && r.Handle == PacketHandle:
			writes++
		case r.Op == OpWait && writes > 0:
			positions = append(positions, writes)
		}
	}
	return positions
}

// IndexOf returns the Log index of the first control point write whose
// first byte is opcode, or -1.
func (p *Peripheral) IndexOf(opcode byte) int {
	for i, r := range p.Log {
		if r.Op == OpWriteRequest && r.Handle == ControlHandle && len(r.Data) > 0 && r.Data[0] == opcode {
			return i
		}
	}
	return -1
}
