package proxy

import (
	"encoding/binary"
	"io"
	"log/slog"
	"net/netip"
	"testing"

	"github.com/cs244-team/sidekick/internal/capture"
	"github.com/cs244-team/sidekick/internal/quack"
)

type capturedEmit struct {
	dst     netip.AddrPort
	payload []byte
}

type fakeEmitter struct {
	emits []capturedEmit
	err   error
}

func (f *fakeEmitter) Emit(dst netip.AddrPort, payload []byte) error {
	if f.err != nil {
		return f.err
	}
	f.emits = append(f.emits, capturedEmit{dst: dst, payload: append([]byte(nil), payload...)})
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// udpDatagram builds a captured UDP datagram whose payload carries the
// given packet id at the id offset.
func udpDatagram(src netip.Addr, id uint32) capture.Datagram {
	payload := make([]byte, 8+quack.IDOffset+4)
	binary.BigEndian.PutUint32(payload[8+quack.IDOffset:], id)
	return capture.Datagram{
		Header:  capture.Header{Src: src, Dst: netip.MustParseAddr("192.0.2.9"), Proto: capture.ProtoUDP},
		Payload: payload,
	}
}

func TestEmitsEveryInterval(t *testing.T) {
	emitter := &fakeEmitter{}
	agg := NewAggregator(2, 4, quack.ListenPort, emitter, discardLogger())
	src := netip.MustParseAddr("10.1.2.3")

	for _, id := range []uint32{100, 200, 300, 400, 500} {
		agg.HandleDatagram(udpDatagram(src, id))
	}

	if len(emitter.emits) != 2 {
		t.Fatalf("emissions = %d, want 2", len(emitter.emits))
	}

	wantDst := netip.AddrPortFrom(src, quack.ListenPort)
	for i, e := range emitter.emits {
		if e.dst != wantDst {
			t.Errorf("emit %d dst = %v, want %v", i, e.dst, wantDst)
		}
	}

	first, err := quack.Decode(emitter.emits[0].payload)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if first.NumReceived != 2 || first.LastReceivedID != 200 {
		t.Errorf("first quack = (%d, %d), want (2, 200)", first.NumReceived, first.LastReceivedID)
	}

	second, err := quack.Decode(emitter.emits[1].payload)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if second.NumReceived != 4 || second.LastReceivedID != 400 {
		t.Errorf("second quack = (%d, %d), want (4, 400)", second.NumReceived, second.LastReceivedID)
	}
	if second.NumReceived < first.NumReceived {
		t.Error("num_received not monotone across emissions")
	}

	want := quack.NewPowerSums(4)
	for _, id := range []uint64{100, 200, 300, 400} {
		want.Add(quack.NewModInt(id))
	}
	if !second.Sums.Equal(want) {
		t.Error("second quack sums do not match observed ids")
	}
}

func TestSourcesDoNotInterfere(t *testing.T) {
	emitter := &fakeEmitter{}
	agg := NewAggregator(2, 4, quack.ListenPort, emitter, discardLogger())
	a := netip.MustParseAddr("10.0.0.1")
	b := netip.MustParseAddr("10.0.0.2")

	agg.HandleDatagram(udpDatagram(a, 11))
	agg.HandleDatagram(udpDatagram(b, 21))
	agg.HandleDatagram(udpDatagram(b, 22))
	agg.HandleDatagram(udpDatagram(a, 12))

	if len(emitter.emits) != 2 {
		t.Fatalf("emissions = %d, want 2", len(emitter.emits))
	}
	if agg.ActiveFlows() != 2 {
		t.Errorf("active flows = %d, want 2", agg.ActiveFlows())
	}

	// First emission is b's (it reached two packets first).
	if emitter.emits[0].dst.Addr() != b {
		t.Errorf("first emission to %v, want %v", emitter.emits[0].dst.Addr(), b)
	}
	q, err := quack.Decode(emitter.emits[0].payload)
	if err != nil {
		t.Fatal(err)
	}
	if q.LastReceivedID != 22 {
		t.Errorf("b last id = %d, want 22", q.LastReceivedID)
	}
}

func TestSkipsNonUDPAndShortAndZeroID(t *testing.T) {
	emitter := &fakeEmitter{}
	agg := NewAggregator(1, 4, quack.ListenPort, emitter, discardLogger())
	src := netip.MustParseAddr("10.0.0.1")

	icmp := capture.Datagram{
		Header:  capture.Header{Src: src, Proto: 1},
		Payload: []byte{8, 0, 0, 0},
	}
	agg.HandleDatagram(icmp)

	short := capture.Datagram{
		Header:  capture.Header{Src: src, Proto: capture.ProtoUDP},
		Payload: make([]byte, 8+quack.IDOffset+3),
	}
	agg.HandleDatagram(short)

	agg.HandleDatagram(udpDatagram(src, 0))

	if len(emitter.emits) != 0 {
		t.Fatalf("emissions = %d, want 0", len(emitter.emits))
	}
	if agg.PacketsObserved() != 0 {
		t.Errorf("observed = %d, want 0", agg.PacketsObserved())
	}
	if agg.PacketsSkipped() != 3 {
		t.Errorf("skipped = %d, want 3", agg.PacketsSkipped())
	}
}

func TestEmitErrorDoesNotStopAggregation(t *testing.T) {
	emitter := &fakeEmitter{err: io.ErrClosedPipe}
	agg := NewAggregator(1, 4, quack.ListenPort, emitter, discardLogger())
	src := netip.MustParseAddr("10.0.0.1")

	agg.HandleDatagram(udpDatagram(src, 5))
	agg.HandleDatagram(udpDatagram(src, 6))

	if agg.EmitErrors() != 2 {
		t.Errorf("emit errors = %d, want 2", agg.EmitErrors())
	}
	if agg.PacketsObserved() != 2 {
		t.Errorf("observed = %d, want 2", agg.PacketsObserved())
	}
}
