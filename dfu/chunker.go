package dfu

// Segment is one data write produced by a Chunker.
type Segment struct {
	// Data aliases the image; it must not be modified
	Data []byte

	// Offset is the absolute image offset of Data
	Offset int

	// Index is the 0-based segment number within the chunker range
	Index int

	// AckPoint is set when the engine must wait for a notification after
	// writing this segment
	AckPoint bool

	// WindowAligned is set on every Nth segment of the range
	WindowAligned bool

	// Last is set on the final segment of the range
	Last bool
}

// Chunker splits data[start:end] into segments of at most maxPayload bytes.
// Every window-th segment and the last one are ack points. A Chunker is lazy
// and can be restarted with Reset.
type Chunker struct {
	data    []byte
	start   int
	end     int
	payload int
	window  int

	pos   int
	index int
}

// NewChunker creates a Chunker over data[start:end]. Out of range bounds are
// clamped, and maxPayload and window are raised to at least 1.
func NewChunker(data []byte, start, end, maxPayload, window int) *Chunker {
	if end > len(data) || end < 0 {
		end = len(data)
	}
	if start < 0 {
		start = 0
	}
	if start > end {
		start = end
	}
	if maxPayload < 1 {
		maxPayload = 1
	}
	if window < 1 {
		window = 1
	}
	return &Chunker{
		data:    data,
		start:   start,
		end:     end,
		payload: maxPayload,
		window:  window,
		pos:     start,
	}
}

// Next returns the next segment, or false when the range is exhausted.
func (c *Chunker) Next() (Segment, bool) {
	if c.pos >= c.end {
		return Segment{}, false
	}

	n := c.end - c.pos
	if n > c.payload {
		n = c.payload
	}

	seg := Segment{
		Data:          c.data[c.pos : c.pos+n : c.pos+n],
		Offset:        c.pos,
		Index:         c.index,
		WindowAligned: (c.index+1)%c.window == 0,
		Last:          c.pos+n == c.end,
	}
	seg.AckPoint = seg.WindowAligned || seg.Last

	c.pos += n
	c.index++
	return seg, true
}

// Reset rewinds the chunker to the start of its range.
func (c *Chunker) Reset() {
	c.pos = c.start
	c.index = 0
}

// Count returns the number of segments in the range.
func (c *Chunker) Count() int {
	return (c.end - c.start + c.payload - 1) / c.payload
}

// AckPoints returns the number of segments flagged as ack points.
func (c *Chunker) AckPoints() int {
	n := c.Count()
	points := n / c.window
	if n%c.window != 0 {
		points++
	}
	return points
}
