package replication

import (
	"context"
	"sync"
	"testing"

	"arenasync/transport"
	"arenasync/wire"
	"arenasync/world"
)

type sentPacket struct {
	peer world.PeerID
	ch   transport.Channel
	pkt  wire.SnapshotPacket
}

type fakeSender struct {
	mu     sync.Mutex
	sent   []sentPacket
	pruned map[world.PeerID]uint32
}

func newFakeSender() *fakeSender {
	return &fakeSender{pruned: make(map[world.PeerID]uint32)}
}

func (f *fakeSender) Send(peer world.PeerID, ch transport.Channel, m wire.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentPacket{peer: peer, ch: ch, pkt: m.(wire.SnapshotPacket)})
	return nil
}

func (f *fakeSender) Prune(peer world.PeerID, upTo uint32) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pruned[peer] = upTo
	return 0
}

func (f *fakeSender) take(peer world.PeerID) []wire.SnapshotPacket {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out, rest []sentPacket
	for _, s := range f.sent {
		if s.peer == peer {
			out = append(out, s)
		} else {
			rest = append(rest, s)
		}
	}
	f.sent = rest
	pkts := make([]wire.SnapshotPacket, len(out))
	for i, s := range out {
		if s.ch != transport.Unreliable {
			panic("snapshot sent on a reliable channel")
		}
		pkts[i] = s.pkt
	}
	return pkts
}

// simWorld 带一名玩家和一个机器人的世界，每步都会产生变化
func simWorld() (*world.World, world.Rules) {
	rules := world.DefaultRules(20)
	w := world.New()
	rules.SpawnPlayer(w, 1)
	rules.SpawnBot(w, world.Position{X: 10 * world.Unit, Y: 10 * world.Unit})
	return w, rules
}

func TestFirstContactIsFull(t *testing.T) {
	s := newFakeSender()
	m := NewManager(s, 16)
	w, rules := simWorld()

	m.AddPeer(1)
	rules.Step(w, nil)
	if err := m.Replicate(context.Background(), w.Snapshot()); err != nil {
		t.Fatalf("replicate: %v", err)
	}
	// 第二个对端在对端 1 已确认后才连接
	m.OnAck(1, wire.AckPacket{AckedTick: w.Tick()})
	m.AddPeer(2)
	rules.Step(w, nil)
	if err := m.Replicate(context.Background(), w.Snapshot()); err != nil {
		t.Fatalf("replicate: %v", err)
	}

	p1 := s.take(1)
	p2 := s.take(2)
	if len(p1) != 2 || !p1[0].IsFull || p1[1].IsFull {
		t.Fatalf("expected peer 1 to get full then delta, got %d packets", len(p1))
	}
	if len(p2) != 1 || !p2[0].IsFull {
		t.Fatalf("expected peer 2 to get a full snapshot on first contact")
	}
}

func TestConcurrentPeersEachGetFull(t *testing.T) {
	s := newFakeSender()
	m := NewManager(s, 16)
	w, rules := simWorld()
	m.AddPeer(1)
	m.AddPeer(2)
	rules.Step(w, nil)
	if err := m.Replicate(context.Background(), w.Snapshot()); err != nil {
		t.Fatalf("replicate: %v", err)
	}
	for _, peer := range []world.PeerID{1, 2} {
		pkts := s.take(peer)
		if len(pkts) != 1 || !pkts[0].IsFull {
			t.Fatalf("expected exactly one full snapshot for peer %d, got %+v", peer, pkts)
		}
	}
}

func TestAckIsMonotonic(t *testing.T) {
	s := newFakeSender()
	m := NewManager(s, 64)
	w, rules := simWorld()
	m.AddPeer(1)
	for i := 0; i < 10; i++ {
		rules.Step(w, nil)
		m.Record(w.Snapshot())
	}

	acks := []world.Tick{3, 7, 5, 7, 2, 9, 8}
	want := []world.Tick{3, 7, 7, 7, 7, 9, 9}
	for i, tk := range acks {
		m.OnAck(1, wire.AckPacket{AckedTick: tk})
		rec, _ := m.Ack(1)
		if rec.LastAckedTick != want[i] {
			t.Fatalf("after ack %d expected last acked %d, got %d", tk, want[i], rec.LastAckedTick)
		}
	}
	// 未来的 Tick 是伪造的，忽略
	if m.OnAck(1, wire.AckPacket{AckedTick: 500}) {
		t.Fatalf("expected ack for an unsent tick ignored")
	}
	if m.Stats().AcksStale != 5 {
		t.Fatalf("expected 5 stale acks, got %d", m.Stats().AcksStale)
	}
}

func TestAckSequencePrunesTransport(t *testing.T) {
	s := newFakeSender()
	m := NewManager(s, 64)
	m.AddPeer(1)
	m.OnAck(1, wire.AckPacket{AckedSequence: 12})
	m.OnAck(1, wire.AckPacket{AckedSequence: 9})
	if s.pruned[1] != 12 {
		t.Fatalf("expected prune up to 12, got %d", s.pruned[1])
	}
	rec, _ := m.Ack(1)
	if rec.LastAckedSequence != 12 {
		t.Fatalf("expected sequence 12, got %d", rec.LastAckedSequence)
	}
}

func TestDeltaAppliesToBaseline(t *testing.T) {
	s := newFakeSender()
	m := NewManager(s, 64)
	w, rules := simWorld()
	m.AddPeer(1)

	var client world.WorldSnapshot
	for i := 0; i < 80; i++ {
		in := map[world.PeerID]world.Input{1: {Right: i%7 < 3, Down: i%5 == 0, Fire: i%11 == 0}}
		rules.Step(w, in)
		want := w.Snapshot()
		if err := m.Replicate(context.Background(), want); err != nil {
			t.Fatalf("replicate: %v", err)
		}
		pkts := s.take(1)
		if len(pkts) != 1 {
			t.Fatalf("expected one packet per tick, got %d", len(pkts))
		}
		// 丢掉一部分快照：客户端只确认收到的
		if i%3 == 1 {
			continue
		}
		got, err := world.Apply(client, pkts[0].Delta())
		if err != nil {
			t.Fatalf("tick %d apply: %v", want.Tick, err)
		}
		if !got.Equal(want) {
			t.Fatalf("tick %d: reconstructed snapshot differs from authoritative", want.Tick)
		}
		client = got
		m.OnAck(1, wire.AckPacket{AckedTick: got.Tick})
	}
	st := m.Stats()
	if st.FullSent != 1 {
		t.Fatalf("expected a single full snapshot, got %d", st.FullSent)
	}
	if st.DeltaSent == 0 {
		t.Fatalf("expected deltas after the first ack")
	}
}

func TestStaleBaselineForcesFull(t *testing.T) {
	s := newFakeSender()
	m := NewManager(s, 4)
	w, rules := simWorld()
	m.AddPeer(1)
	rules.Step(w, nil)
	m.Replicate(context.Background(), w.Snapshot())
	m.OnAck(1, wire.AckPacket{AckedTick: w.Tick()})
	s.take(1)

	for i := 0; i < 4; i++ {
		rules.Step(w, nil)
		m.Replicate(context.Background(), w.Snapshot())
	}
	pkts := s.take(1)
	for i, p := range pkts {
		if p.IsFull {
			t.Fatalf("expected delta within threshold at %d", i)
		}
		if p.BaseTick != 1 {
			t.Fatalf("expected base tick 1, got %d", p.BaseTick)
		}
	}
	rules.Step(w, nil)
	m.Replicate(context.Background(), w.Snapshot())
	pkts = s.take(1)
	if len(pkts) != 1 || !pkts[0].IsFull {
		t.Fatalf("expected full snapshot once baseline is older than K")
	}
}

func TestResyncSendsFullUntilAcked(t *testing.T) {
	s := newFakeSender()
	m := NewManager(s, 64)
	w, rules := simWorld()
	m.AddPeer(1)
	rules.Step(w, nil)
	m.Replicate(context.Background(), w.Snapshot())
	m.OnAck(1, wire.AckPacket{AckedTick: w.Tick()})

	m.RequestFull(1)
	m.RequestFull(1)
	for i := 0; i < 3; i++ {
		rules.Step(w, nil)
		m.Replicate(context.Background(), w.Snapshot())
	}
	resyncTick := w.Tick() - 2
	// 旧的确认不能结束重同步
	m.OnAck(1, wire.AckPacket{AckedTick: resyncTick - 1})
	rules.Step(w, nil)
	m.Replicate(context.Background(), w.Snapshot())

	pkts := s.take(1)
	for _, p := range pkts[1:] {
		if !p.IsFull {
			t.Fatalf("expected full snapshots while resync pending, got delta at %d", p.Tick)
		}
	}
	m.OnAck(1, wire.AckPacket{AckedTick: resyncTick})
	rules.Step(w, nil)
	m.Replicate(context.Background(), w.Snapshot())
	pkts = s.take(1)
	if len(pkts) != 1 || pkts[0].IsFull {
		t.Fatalf("expected delta after resync acknowledged")
	}
	if m.Stats().Resyncs != 1 {
		t.Fatalf("expected one resync counted, got %d", m.Stats().Resyncs)
	}
}

func TestRemovePeerStopsReplication(t *testing.T) {
	s := newFakeSender()
	m := NewManager(s, 64)
	w, rules := simWorld()
	m.AddPeer(1)
	m.RemovePeer(1)
	rules.Step(w, nil)
	m.Replicate(context.Background(), w.Snapshot())
	if len(s.take(1)) != 0 {
		t.Fatalf("expected nothing sent to a removed peer")
	}
	if _, ok := m.Ack(1); ok {
		t.Fatalf("expected ack record released")
	}
}
