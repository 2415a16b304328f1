package transport

import "testing"

func TestSeqNewerWraps(t *testing.T) {
	if !seqNewer(1, 0) {
		t.Fatalf("expected 1 to be newer than 0")
	}
	if seqNewer(0, 1) {
		t.Fatalf("expected 0 not to be newer than 1")
	}
	if !seqNewer(2, 0xFFFFFFFE) {
		t.Fatalf("expected wrapped sequence 2 to be newer than 0xFFFFFFFE")
	}
	if seqNewer(5, 5) {
		t.Fatalf("expected equal sequences not to be newer")
	}
}

func TestOrderedReceiverReleasesInOrder(t *testing.T) {
	r := newOrderedReceiver(16)

	if got, ack := r.accept(2, []byte("c")); len(got) != 0 || !ack {
		t.Fatalf("expected seq 2 buffered and acked, got %d delivered ack=%v", len(got), ack)
	}
	if got, _ := r.accept(1, []byte("b")); len(got) != 0 {
		t.Fatalf("expected seq 1 buffered, got %d delivered", len(got))
	}
	if r.pending() != 2 {
		t.Fatalf("expected 2 buffered, got %d", r.pending())
	}
	got, ack := r.accept(0, []byte("a"))
	if !ack {
		t.Fatalf("expected seq 0 acked")
	}
	if len(got) != 3 || string(got[0]) != "a" || string(got[1]) != "b" || string(got[2]) != "c" {
		t.Fatalf("expected a,b,c delivered in order, got %q", got)
	}
	if r.pending() != 0 {
		t.Fatalf("expected buffer drained, got %d", r.pending())
	}

	// 重复包：不交付但确认
	if got, ack := r.accept(1, []byte("b")); len(got) != 0 || !ack {
		t.Fatalf("expected duplicate ignored and acked, got %d delivered ack=%v", len(got), ack)
	}
}

func TestOrderedReceiverRejectsBeyondWindow(t *testing.T) {
	r := newOrderedReceiver(4)
	if got, ack := r.accept(4, []byte("x")); len(got) != 0 || ack {
		t.Fatalf("expected out-of-window packet neither delivered nor acked, got %d ack=%v", len(got), ack)
	}
}

func TestUnorderedReceiverDeduplicates(t *testing.T) {
	r := newUnorderedReceiver(16)
	for _, seq := range []uint32{3, 0, 2} {
		if ok, ack := r.accept(seq); !ok || !ack {
			t.Fatalf("expected seq %d delivered, got ok=%v ack=%v", seq, ok, ack)
		}
	}
	if ok, ack := r.accept(2); ok || !ack {
		t.Fatalf("expected duplicate seq 2 dropped and acked, got ok=%v ack=%v", ok, ack)
	}
	if ok, _ := r.accept(1); !ok {
		t.Fatalf("expected seq 1 delivered")
	}
	if r.floor != 4 {
		t.Fatalf("expected floor 4 after 0..3, got %d", r.floor)
	}
	if ok, _ := r.accept(0); ok {
		t.Fatalf("expected seq below floor dropped")
	}
}

func TestUnreliableReceiverDropsStale(t *testing.T) {
	var r unreliableReceiver
	if !r.accept(5) {
		t.Fatalf("expected first packet accepted")
	}
	if r.accept(3) {
		t.Fatalf("expected older packet dropped")
	}
	if r.accept(5) {
		t.Fatalf("expected duplicate dropped")
	}
	if !r.accept(9) {
		t.Fatalf("expected newer packet accepted")
	}
}

func TestParseHeaderRejectsGarbage(t *testing.T) {
	if _, _, err := parseHeader([]byte{1, 2, 3}); err == nil {
		t.Fatalf("expected short datagram rejected")
	}
	b := appendHeader(nil, header{protocol: ProtocolID, kind: kindData, channel: Unreliable, seq: 9})
	b[5] = 7
	if _, _, err := parseHeader(b); err == nil {
		t.Fatalf("expected unknown channel rejected")
	}
	b = appendHeader(nil, header{protocol: ProtocolID, kind: kindAck, channel: ReliableUnordered, seq: 42})
	h, payload, err := parseHeader(append(b, 0xAA))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if h.kind != kindAck || h.channel != ReliableUnordered || h.seq != 42 || len(payload) != 1 {
		t.Fatalf("unexpected header %+v payload %d", h, len(payload))
	}
}
