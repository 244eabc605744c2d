package dfu

import (
	"bytes"
	"context"
	"testing"

	"github.com/vamshik113/go-ota-dfu/link/linktest"
	"github.com/vamshik113/go-ota-dfu/protocol"
)

func newSecurePeer(t *testing.T, maxObject uint32, image []byte) *linktest.Peripheral {
	t.Helper()
	p := linktest.NewSecure(maxObject)
	p.ImageSize = uint32(len(image))
	connect(t, p, "")
	return p
}

// controlOpcodes returns the first byte of every control point write.
func controlOpcodes(p *linktest.Peripheral) []byte {
	var ops []byte
	for _, w := range p.ControlWrites() {
		ops = append(ops, w[0])
	}
	return ops
}

func TestSecureTransferTwoObjects(t *testing.T) {
	image := testImage(600)
	desc := testImage(40)
	p := newSecurePeer(t, 512, image)

	var last Progress
	eng := New(p, opts(WithProgressCallback(func(pr Progress) { last = pr }))...)
	if err := eng.Start(context.Background(), image, desc, protocol.Secure); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if !bytes.Equal(p.Data, image) || !bytes.Equal(p.InitObject, desc) {
		t.Fatal("peer objects do not match what was sent")
	}
	if p.Creates[protocol.ObjectData] != 2 || p.Executes[protocol.ObjectData] != 2 {
		t.Errorf("data objects created %d, executed %d, want 2/2",
			p.Creates[protocol.ObjectData], p.Executes[protocol.ObjectData])
	}
	if p.Creates[protocol.ObjectCommand] != 1 || p.Executes[protocol.ObjectCommand] != 1 {
		t.Errorf("command objects created %d, executed %d, want 1/1",
			p.Creates[protocol.ObjectCommand], p.Executes[protocol.ObjectCommand])
	}
	if !p.Activated {
		t.Error("peer not activated")
	}

	// 2 init packet writes, then 26 + 5 image segments
	if n := len(p.PacketWrites()); n != 2+26+5 {
		t.Errorf("%d packet writes, want 33", n)
	}

	// CREATE(Data) sizes
	var sizes []uint32
	for _, w := range p.ControlWrites() {
		if w[0] == byte(protocol.SecureCreate) && w[1] == byte(protocol.ObjectData) {
			sizes = append(sizes, uint32(w[2])|uint32(w[3])<<8|uint32(w[4])<<16|uint32(w[5])<<24)
		}
	}
	if len(sizes) != 2 || sizes[0] != 512 || sizes[1] != 88 {
		t.Errorf("CREATE(Data) sizes = %v, want [512 88]", sizes)
	}

	if last.Phase != PhaseComplete || last.BytesSent != 600 || last.Objects != 2 {
		t.Errorf("final progress = %+v", last)
	}
}

func TestSecureCommandSequence(t *testing.T) {
	image := testImage(100)
	desc := testImage(10)
	p := newSecurePeer(t, 4096, image)

	if err := New(p, fast...).Start(context.Background(), image, desc, protocol.Secure); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	want := []byte{
		0x02,             // SET_PRN
		0x06, 0x01, 0x03, // SELECT, CREATE, CALC_CHECKSUM (command)
		0x04,             // EXECUTE
		0x06, 0x01, 0x03, // SELECT, CREATE, CALC_CHECKSUM (data)
		0x04,             // EXECUTE
	}
	if got := controlOpcodes(p); !bytes.Equal(got, want) {
		t.Errorf("control opcodes = % X, want % X", got, want)
	}

	if prn := p.ControlWrites()[0]; !bytes.Equal(prn, []byte{0x02, 0x05, 0x00}) {
		t.Errorf("SET_PRN = % X, want default window 5", prn)
	}
}

func TestSecureAckWindowPerObject(t *testing.T) {
	image := testImage(600)
	p := newSecurePeer(t, 512, image)

	if err := New(p, fast...).Start(context.Background(), image, testImage(8), protocol.Secure); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// waits between the first CREATE(Data) and the end: window aligned
	// receipts inside each object, then one CALC_CHECKSUM response per object
	start := -1
	for i, r := range p.Log {
		if r.Op == linktest.OpWriteRequest && len(r.Data) == 6 &&
			r.Data[0] == byte(protocol.SecureCreate) && r.Data[1] == byte(protocol.ObjectData) {
			start = i
			break
		}
	}
	if start < 0 {
		t.Fatal("no CREATE(Data) written")
	}

	waits := p.WaitPositions(start, -1)
	// object 1: receipts after 5..25, CALC after 26, EXECUTE after 26
	// CREATE of object 2 after 26
	// object 2: receipt after 31, CALC after 31, EXECUTE after 31
	want := []int{5, 10, 15, 20, 25, 26, 26, 26, 31, 31, 31}
	if len(waits) != len(want) {
		t.Fatalf("waits after segments %v, want %v", waits, want)
	}
	for i := range want {
		if waits[i] != want[i] {
			t.Fatalf("waits after segments %v, want %v", waits, want)
		}
	}
}

func TestSecureInitObjectAlreadyPresent(t *testing.T) {
	image := testImage(300)
	desc := testImage(64)
	p := newSecurePeer(t, 4096, image)
	p.InitObject = append([]byte(nil), desc...)

	if err := New(p, fast...).Start(context.Background(), image, desc, protocol.Secure); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if p.Creates[protocol.ObjectCommand] != 0 {
		t.Errorf("CREATE(Command) issued %d times, want 0", p.Creates[protocol.ObjectCommand])
	}
	if p.Executes[protocol.ObjectCommand] != 1 {
		t.Errorf("EXECUTE(Command) issued %d times, want 1", p.Executes[protocol.ObjectCommand])
	}

	// every packet write belongs to the image
	if n := len(p.PacketWrites()); n != 15 {
		t.Errorf("%d packet writes, want 15 image segments only", n)
	}

	ops := controlOpcodes(p)
	if !bytes.Equal(ops[:3], []byte{0x02, 0x06, 0x04}) {
		t.Errorf("control opcodes start % X, want SET_PRN SELECT EXECUTE", ops[:3])
	}
}

func TestSecureInitObjectResume(t *testing.T) {
	tests := []struct {
		name        string
		preset      func(desc []byte) []byte
		wantCreates int
		wantWrites  int
	}{
		{
			name:        "partial and matching prefix resumes",
			preset:      func(desc []byte) []byte { return append([]byte(nil), desc[:40]...) },
			wantCreates: 0,
			wantWrites:  3, // 60 remaining bytes
		},
		{
			name: "partial with corrupt prefix restarts",
			preset: func(desc []byte) []byte {
				b := append([]byte(nil), desc[:40]...)
				b[3] ^= 0xFF
				return b
			},
			wantCreates: 1,
			wantWrites:  5,
		},
		{
			name:        "longer than descriptor restarts",
			preset:      func(desc []byte) []byte { return append(append([]byte(nil), desc...), 0x00) },
			wantCreates: 1,
			wantWrites:  5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			image := testImage(20)
			desc := testImage(100)
			p := newSecurePeer(t, 4096, image)
			p.InitObject = tt.preset(desc)

			if err := New(p, fast...).Start(context.Background(), image, desc, protocol.Secure); err != nil {
				t.Fatalf("Start() error = %v", err)
			}

			if !bytes.Equal(p.InitObject, desc) {
				t.Error("peer init object does not match")
			}
			if p.Creates[protocol.ObjectCommand] != tt.wantCreates {
				t.Errorf("CREATE(Command) = %d, want %d", p.Creates[protocol.ObjectCommand], tt.wantCreates)
			}
			// one image segment follows the init packet writes
			if n := len(p.PacketWrites()) - 1; n != tt.wantWrites {
				t.Errorf("%d init packet writes, want %d", n, tt.wantWrites)
			}
		})
	}
}

func TestSecureChecksumMismatch(t *testing.T) {
	image := testImage(200)
	desc := testImage(30)
	p := newSecurePeer(t, 4096, image)
	p.CorruptChecksum = true

	err := New(p, fast...).Start(context.Background(), image, desc, protocol.Secure)

	var ce *ChecksumMismatchError
	if !asError(err, &ce) {
		t.Fatalf("error = %v, want *ChecksumMismatchError", err)
	}
	if ce.Object != protocol.ObjectCommand || ce.ExpectedOffset != 30 || ce.Expected != protocol.CRC32(desc) {
		t.Errorf("ChecksumMismatchError = %+v", ce)
	}

	if p.IndexOf(byte(protocol.SecureExecute)) != -1 {
		t.Error("EXECUTE issued after a checksum mismatch")
	}
}

func TestSecureDataChecksumMismatch(t *testing.T) {
	image := testImage(600)
	desc := testImage(30)
	p := newSecurePeer(t, 512, image)
	p.InitObject = append([]byte(nil), desc...)

	// corrupt only once the data object is streaming
	eng := New(p, opts(WithProgressCallback(func(pr Progress) {
		if pr.Phase == PhaseImage {
			p.CorruptChecksum = true
		}
	}))...)

	err := eng.Start(context.Background(), image, desc, protocol.Secure)
	if !IsChecksumMismatch(err) {
		t.Fatalf("error = %v, want checksum mismatch", err)
	}
	if p.Executes[protocol.ObjectData] != 0 {
		t.Errorf("EXECUTE(Data) issued %d times, want 0", p.Executes[protocol.ObjectData])
	}
	if p.Creates[protocol.ObjectData] != 1 {
		t.Errorf("CREATE(Data) issued %d times, want 1", p.Creates[protocol.ObjectData])
	}
}

func TestSecureDataResume(t *testing.T) {
	image := testImage(1300)
	desc := testImage(30)

	tests := []struct {
		name         string
		data         []byte
		executed     int
		wantCreates  int
		wantExecutes int
		wantWrites   int
		wantFirst    int
	}{
		{
			name:         "mid object restarts that object",
			data:         image[:530],
			executed:     512,
			wantCreates:  2, // objects 2 and 3
			wantExecutes: 2,
			wantWrites:   26 + 14,
			wantFirst:    512,
		},
		{
			name:         "object boundary executes pending object",
			data:         image[:1024],
			executed:     512,
			wantCreates:  1,
			wantExecutes: 2,
			wantWrites:   14,
			wantFirst:    1024,
		},
		{
			name:         "mismatching data restarts from zero",
			data:         testImage(700)[100:400],
			executed:     0,
			wantCreates:  3,
			wantExecutes: 3,
			wantWrites:   26 + 26 + 14,
			wantFirst:    0,
		},
		{
			name:         "complete image executes once",
			data:         image,
			executed:     1024,
			wantCreates:  0,
			wantExecutes: 1,
			wantWrites:   0,
			wantFirst:    1300,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newSecurePeer(t, 512, image)
			p.InitObject = append([]byte(nil), desc...)
			p.Data = append([]byte(nil), tt.data...)
			p.ExecutedData = tt.executed

			first := -1
			eng := New(p, opts(WithProgressCallback(func(pr Progress) {
				if pr.Phase == PhaseImage && first < 0 {
					first = pr.BytesSent
				}
			}))...)

			if err := eng.Start(context.Background(), image, desc, protocol.Secure); err != nil {
				t.Fatalf("Start() error = %v", err)
			}

			if !bytes.Equal(p.Data, image) {
				t.Error("peer data does not match image")
			}
			if !p.Activated {
				t.Error("peer not activated")
			}
			if p.Creates[protocol.ObjectData] != tt.wantCreates {
				t.Errorf("CREATE(Data) = %d, want %d", p.Creates[protocol.ObjectData], tt.wantCreates)
			}
			if p.Executes[protocol.ObjectData] != tt.wantExecutes {
				t.Errorf("EXECUTE(Data) = %d, want %d", p.Executes[protocol.ObjectData], tt.wantExecutes)
			}
			if n := len(p.PacketWrites()); n != tt.wantWrites {
				t.Errorf("%d packet writes, want %d", n, tt.wantWrites)
			}
			if first != tt.wantFirst {
				t.Errorf("first image progress at %d bytes, want %d", first, tt.wantFirst)
			}
		})
	}
}

func TestSecurePeerRejects(t *testing.T) {
	tests := []struct {
		name      string
		configure func(p *linktest.Peripheral)
		procedure protocol.Procedure
		result    protocol.Result
	}{
		{
			name:      "init packet too large",
			configure: func(p *linktest.Peripheral) { p.MaxCommandSize = 16 },
			procedure: protocol.SecureCreate,
			result:    protocol.SecureInsufficientResources,
		},
		{
			name: "execute fails",
			configure: func(p *linktest.Peripheral) {
				p.Reject = map[protocol.Procedure]protocol.Result{protocol.SecureExecute: protocol.SecureOperationNotPermitted}
			},
			procedure: protocol.SecureExecute,
			result:    protocol.SecureOperationNotPermitted,
		},
		{
			name: "prn not supported",
			configure: func(p *linktest.Peripheral) {
				p.Reject = map[protocol.Procedure]protocol.Result{protocol.SecureSetPRN: protocol.SecureOpcodeNotSupported}
			},
			procedure: protocol.SecureSetPRN,
			result:    protocol.SecureOpcodeNotSupported,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			image := testImage(100)
			p := newSecurePeer(t, 4096, image)
			tt.configure(p)

			err := New(p, fast...).Start(context.Background(), image, testImage(40), protocol.Secure)

			var pe *protocol.PeerRejectedError
			if !asError(err, &pe) {
				t.Fatalf("error = %v, want *PeerRejectedError", err)
			}
			if pe.Procedure != tt.procedure || pe.Result != tt.result {
				t.Errorf("rejected %s/%s", protocol.Secure.ProcedureName(pe.Procedure), protocol.Secure.ResultName(pe.Result))
			}
		})
	}
}

func TestSecureLinkLostDuringStream(t *testing.T) {
	image := testImage(600)
	p := newSecurePeer(t, 512, image)
	p.InitObject = testImage(8)
	// the fifth data segment is the first ack point
	p.DropLinkAfterData = 5

	err := New(p, fast...).Start(context.Background(), image, testImage(8), protocol.Secure)
	if !IsConnectionLost(err) {
		t.Fatalf("error = %v, want connection lost", err)
	}

	if n := len(p.PacketWrites()); n != 5 {
		t.Errorf("%d packet writes, want 5", n)
	}
	if p.Executes[protocol.ObjectData] != 0 {
		t.Error("EXECUTE issued after link loss")
	}

	// a second run on a fresh connection resumes from the peer state
	p.DropLinkAfterData = 0
	connect(t, p, "")
	if err := New(p, fast...).Start(context.Background(), image, testImage(8), protocol.Secure); err != nil {
		t.Fatalf("resumed Start() error = %v", err)
	}
	if !bytes.Equal(p.Data, image) || !p.Activated {
		t.Error("resumed transfer did not complete")
	}
}

func TestSecureCancelDisconnects(t *testing.T) {
	image := testImage(600)
	p := newSecurePeer(t, 512, image)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng := New(p, opts(WithProgressCallback(func(pr Progress) {
		if pr.Phase == PhaseImage && pr.BytesSent >= 100 {
			cancel()
		}
	}))...)

	err := eng.Start(ctx, image, testImage(8), protocol.Secure)
	if !isCanceled(err) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if last := p.Log[len(p.Log)-1]; last.Op != linktest.OpDisconnect {
		t.Errorf("last operation = %v, want disconnect", last.Op)
	}
	if p.Executes[protocol.ObjectData] != 0 {
		t.Error("EXECUTE issued after cancel")
	}
}
