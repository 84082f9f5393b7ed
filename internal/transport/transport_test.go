package transport

import (
	"net"
	"testing"
	"time"

	"github.com/gigamon-dev/SubspaceServer-sub009/internal/broker"
)

func newTestPeer(t *testing.T) *Peer {
	t.Helper()
	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1000}
	return NewPeer(addr, nil, time.Now())
}

// Scenario 1: reliable reordering.
func TestReliableReordering(t *testing.T) {
	p := newTestPeer(t)
	now := time.Now()

	var delivered []string
	var acked []uint32
	deliver := func(d []byte) { delivered = append(delivered, string(d)) }
	enqueueAck := func(seq uint32) { acked = append(acked, seq) }

	payloads := map[uint32]string{0: "alpha", 1: "beta", 2: "gamma", 3: "delta"}
	order := []uint32{2, 0, 3, 1}
	for _, seq := range order {
		p.ReceiveReliable(seq, []byte(payloads[seq]), now, deliver, enqueueAck)
	}

	want := []string{"alpha", "beta", "gamma", "delta"}
	if len(delivered) != len(want) {
		t.Fatalf("delivered = %v, want %v", delivered, want)
	}
	for i := range want {
		if delivered[i] != want[i] {
			t.Fatalf("delivered[%d] = %q, want %q", i, delivered[i], want[i])
		}
	}
	if len(acked) != 4 {
		t.Fatalf("acked %d packets, want 4", len(acked))
	}
	if p.Stats.Dups != 0 {
		t.Fatalf("Dups = %d, want 0", p.Stats.Dups)
	}
}

// Scenario 2: duplicate ack.
func TestDuplicateSeqnumAcksAndDeliversOnce(t *testing.T) {
	p := newTestPeer(t)
	now := time.Now()

	var delivered []string
	var acked []uint32
	deliver := func(d []byte) { delivered = append(delivered, string(d)) }
	enqueueAck := func(seq uint32) { acked = append(acked, seq) }

	p.ReceiveReliable(0, []byte("alpha"), now, deliver, enqueueAck)
	p.ReceiveReliable(0, []byte("alpha"), now, deliver, enqueueAck)
	p.ReceiveReliable(1, []byte("beta"), now, deliver, enqueueAck)

	wantDelivered := []string{"alpha", "beta"}
	if len(delivered) != len(wantDelivered) {
		t.Fatalf("delivered = %v, want %v", delivered, wantDelivered)
	}
	for i := range wantDelivered {
		if delivered[i] != wantDelivered[i] {
			t.Fatalf("delivered[%d] = %q, want %q", i, delivered[i], wantDelivered[i])
		}
	}
	wantAcks := []uint32{0, 0, 1}
	if len(acked) != len(wantAcks) {
		t.Fatalf("acked = %v, want %v", acked, wantAcks)
	}
	for i := range wantAcks {
		if acked[i] != wantAcks[i] {
			t.Fatalf("acked[%d] = %d, want %d", i, acked[i], wantAcks[i])
		}
	}
	if p.Stats.Dups != 1 {
		t.Fatalf("Dups = %d, want 1", p.Stats.Dups)
	}
}

// Scenario 3: grouped inbound.
func TestUnpackGroupedThreeElements(t *testing.T) {
	payload := []byte{0x03, 0x00, 0x01, 0x02, 0x02, 0x03, 0x04, 0x04, 0x05, 0x06, 0x07, 0x08}
	elems, err := UnpackGrouped(payload)
	if err != nil {
		t.Fatalf("UnpackGrouped: %v", err)
	}
	want := [][]byte{{0x00, 0x01, 0x02}, {0x03, 0x04}, {0x05, 0x06, 0x07, 0x08}}
	if len(elems) != len(want) {
		t.Fatalf("got %d elements, want %d", len(elems), len(want))
	}
	for i := range want {
		if string(elems[i]) != string(want[i]) {
			t.Fatalf("elems[%d] = %v, want %v", i, elems[i], want[i])
		}
	}
}

// TestHandleDatagramDispatchesGroupedElementsSeparately exercises the
// same 0x0E splitting as scenario 3, but with sub-packets whose type
// byte is a real application type (≥0x01) rather than the literal
// example bytes, since a sub-packet starting with 0x00 is itself a
// nested core packet per the wire format, not an application payload.
func TestHandleDatagramDispatchesGroupedElementsSeparately(t *testing.T) {
	b := broker.NewGlobal()
	s := NewServer(b, nil)
	p := newTestPeer(t)

	var got [][]byte
	record := fakeHandler(func(_ *Peer, data []byte, _ time.Time) {
		got = append(got, append([]byte(nil), data...))
	})
	RegisterHandler(b, 0x10, record)
	RegisterHandler(b, 0x11, record)
	RegisterHandler(b, 0x12, record)

	sub1 := []byte{0x10, 0x01, 0x02}
	sub2 := []byte{0x11, 0x04}
	sub3 := []byte{0x12, 0x06, 0x07, 0x08}
	elems := PackGrouped([][]byte{sub1, sub2, sub3})
	if len(elems) != 1 {
		t.Fatalf("expected one envelope for three small packets, got %d", len(elems))
	}

	s.HandleDatagram(p, elems[0], time.Now())

	if len(got) != 3 {
		t.Fatalf("got %d application dispatches, want 3", len(got))
	}
	if string(got[0]) != string(sub1) || string(got[1]) != string(sub2) || string(got[2]) != string(sub3) {
		t.Fatalf("got = %v, want [%v %v %v]", got, sub1, sub2, sub3)
	}
}

type fakeHandler func(p *Peer, data []byte, now time.Time)

func (f fakeHandler) HandlePacket(p *Peer, data []byte, now time.Time) { f(p, data, now) }

// Scenario 4: big reassembly.
func TestBigReassembly(t *testing.T) {
	p := newTestPeer(t)
	part1 := make([]byte, 300)
	part2 := make([]byte, 300)
	for i := range part1 {
		part1[i] = byte(i)
	}
	part1[0] = 0x55 // original type byte
	for i := range part2 {
		part2[i] = byte(i + 300)
	}

	var delivered []byte
	if err := p.ReceiveBigChunk(part1, false, func(d []byte) { delivered = d }); err != nil {
		t.Fatalf("ReceiveBigChunk (part1): %v", err)
	}
	if delivered != nil {
		t.Fatalf("delivered before final chunk")
	}
	if err := p.ReceiveBigChunk(part2, true, func(d []byte) { delivered = d }); err != nil {
		t.Fatalf("ReceiveBigChunk (final): %v", err)
	}
	if len(delivered) != 600 {
		t.Fatalf("delivered len = %d, want 600", len(delivered))
	}
	if delivered[0] != 0x55 {
		t.Fatalf("delivered[0] = %x, want 0x55", delivered[0])
	}
}

// Scenario 5: sized cancel.
func TestSizedSendCancel(t *testing.T) {
	p := newTestPeer(t)

	var sourceCalls [][2]int
	source := func(offset, length int) []byte {
		sourceCalls = append(sourceCalls, [2]int{offset, length})
		if length == 0 {
			return nil
		}
		return make([]byte, length)
	}
	p.RegisterSizedSend(1_048_576, source, nil)

	// Simulate ~200KiB already buffered via repeated pumps.
	sent := 0
	for sent < 200*1024 {
		wire, ok := p.PumpSizedSend(256)
		if !ok {
			break
		}
		sent += len(wire) - 6
	}

	ack, had := p.CancelSizedSend()
	if !had {
		t.Fatalf("CancelSizedSend reported no pending send")
	}
	if ack[0] != CoreMarker || ack[1] != SubCancelSizedAck {
		t.Fatalf("ack = %v, want 00 0C", ack)
	}

	var zeroCalls int
	for _, c := range sourceCalls {
		if c == [2]int{0, 0} {
			zeroCalls++
		}
	}
	if zeroCalls != 1 {
		t.Fatalf("source called with (0,0) %d times, want 1", zeroCalls)
	}
}

func TestRetrySweepKicksAfterMaxRetries(t *testing.T) {
	p := newTestPeer(t)
	p.SendReliable([]byte("payload"), nil)
	// First real transmission happens through the bandwidth-checked
	// queue, exactly as sweepPeer would drive it, before any retry
	// timeout can apply. Advance well past the peer's construction
	// time first so the limiter has accrued enough credit to drain it.
	now := time.Now().Add(time.Second)
	p.DrainOutbound(now, 0)

	var reason string
	for i := 0; i < 20; i++ {
		now = now.Add(10 * time.Second)
		if r := p.RetrySweep(now, 15, func([]byte) {}); r != "" {
			reason = r
			break
		}
	}
	if reason == "" {
		t.Fatalf("expected a kick reason after repeated retries")
	}
}

func TestAbandonFailsOutstandingReliableSends(t *testing.T) {
	p := newTestPeer(t)
	done := make(chan bool, 1)
	p.SendReliable([]byte("x"), func(success bool) { done <- success })
	p.Abandon()
	select {
	case ok := <-done:
		if ok {
			t.Fatalf("completion called with success=true, want false")
		}
	default:
		t.Fatalf("completion callback never invoked")
	}
}
